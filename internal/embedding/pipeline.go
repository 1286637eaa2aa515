package embedding

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/raphaelgruber/movie-recommender/internal/modelconfig"
	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
)

// MaxSequenceLength caps tokenized inputs, matching BERT-style encoders.
const MaxSequenceLength = 512

// punctuation matches anything that is not a letter, digit, underscore or
// whitespace.
var punctuation = regexp.MustCompile(`[^\p{L}\p{N}_\s]`)

// Preprocessor transforms text before tokenization.
type Preprocessor func(string) string

// Identity leaves text unchanged.
func Identity(s string) string { return s }

// PreprocessCustom lowercases, trims and strips punctuation.
func PreprocessCustom(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	return punctuation.ReplaceAllString(s, "")
}

// Batch is a padded tokenized batch. IDs and Mask are rectangular.
type Batch struct {
	IDs  [][]int64
	Mask [][]int64
}

// SeqLen returns the padded sequence length.
func (b Batch) SeqLen() int {
	if len(b.IDs) == 0 {
		return 0
	}
	return len(b.IDs[0])
}

// Tokenizer converts texts into a padded batch of token ids.
type Tokenizer interface {
	Encode(texts []string) (Batch, error)
}

// UnknownToken is the vocabulary entry used for out-of-vocabulary words.
const UnknownToken = "<UNK>"

// DefaultVocab is the demonstration vocabulary of the custom tokenizer.
var DefaultVocab = map[string]int64{
	UnknownToken: 0,
	"this":       1,
	"is":         2,
	"a":          3,
	"custom":     4,
	"tokenizer":  5,
	"example":    6,
}

// CustomTokenizer splits on whitespace and looks words up in a vocabulary.
// It performs no normalization of its own; pair it with PreprocessCustom.
type CustomTokenizer struct {
	Vocab   map[string]int64
	Unknown string
}

var _ Tokenizer = (*CustomTokenizer)(nil)

// NewCustomTokenizer returns a tokenizer over vocab, or DefaultVocab when nil.
func NewCustomTokenizer(vocab map[string]int64) *CustomTokenizer {
	if vocab == nil {
		vocab = DefaultVocab
	}
	return &CustomTokenizer{Vocab: vocab, Unknown: UnknownToken}
}

// IDs converts a single text to token ids.
func (t *CustomTokenizer) IDs(text string) []int64 {
	words := strings.Fields(text)
	ids := make([]int64, len(words))
	unk := t.Vocab[t.Unknown]
	for i, w := range words {
		id, ok := t.Vocab[w]
		if !ok {
			id = unk
		}
		ids[i] = id
	}
	return ids
}

// Encode tokenizes and pads texts.
func (t *CustomTokenizer) Encode(texts []string) (Batch, error) {
	rows := make([][]int64, len(texts))
	for i, text := range texts {
		rows[i] = t.IDs(text)
	}
	return pad(rows, nil), nil
}

// HuggingFaceTokenizer wraps a tokenizer.json loaded with sugarme/tokenizer.
type HuggingFaceTokenizer struct {
	tk *tokenizer.Tokenizer
}

var _ Tokenizer = (*HuggingFaceTokenizer)(nil)

// LoadHuggingFaceTokenizer loads a tokenizer.json file, or the tokenizer.json
// inside a directory.
func LoadHuggingFaceTokenizer(path string) (Tokenizer, error) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, "tokenizer.json")
	}
	tk, err := pretrained.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer %s: %w", path, err)
	}
	return &HuggingFaceTokenizer{tk: tk}, nil
}

// Encode tokenizes with special tokens, truncates and pads.
func (h *HuggingFaceTokenizer) Encode(texts []string) (Batch, error) {
	ids := make([][]int64, len(texts))
	masks := make([][]int64, len(texts))
	for i, text := range texts {
		enc, err := h.tk.EncodeSingle(text, true)
		if err != nil {
			return Batch{}, fmt.Errorf("tokenize text %d: %w", i, err)
		}
		n := min(len(enc.Ids), MaxSequenceLength)
		ids[i] = make([]int64, n)
		masks[i] = make([]int64, n)
		for j := 0; j < n; j++ {
			ids[i][j] = int64(enc.Ids[j])
			masks[i][j] = int64(enc.AttentionMask[j])
		}
	}
	return pad(ids, masks), nil
}

// pad right-pads every row to the longest one (at least 1, at most
// MaxSequenceLength) with id 0 and mask 0. A nil masks slice means every
// real token is attended to.
func pad(ids, masks [][]int64) Batch {
	seq := 1
	for _, row := range ids {
		seq = max(seq, len(row))
	}
	seq = min(seq, MaxSequenceLength)

	out := Batch{IDs: make([][]int64, len(ids)), Mask: make([][]int64, len(ids))}
	for i, row := range ids {
		out.IDs[i] = make([]int64, seq)
		out.Mask[i] = make([]int64, seq)
		for j := 0; j < len(row) && j < seq; j++ {
			out.IDs[i][j] = row[j]
			if masks == nil {
				out.Mask[i][j] = 1
			} else {
				out.Mask[i][j] = masks[i][j]
			}
		}
	}
	return out
}

// MeanPool averages token embeddings weighted by the attention mask. The
// denominator is clamped to 1e-9 so fully masked rows yield zero vectors.
// tokens has shape [batch][seq][dim]; mask has shape [batch][seq].
func MeanPool(tokens [][][]float32, mask [][]int64) [][]float32 {
	out := make([][]float32, len(tokens))
	for b, seq := range tokens {
		if len(seq) == 0 {
			out[b] = []float32{}
			continue
		}
		dim := len(seq[0])
		sum := make([]float64, dim)
		var count float64
		for s, vec := range seq {
			w := 1.0
			if b < len(mask) && s < len(mask[b]) {
				w = float64(mask[b][s])
			}
			if w == 0 {
				continue
			}
			count += w
			for d, v := range vec {
				sum[d] += float64(v) * w
			}
		}
		count = max(count, 1e-9)
		row := make([]float32, dim)
		for d := range sum {
			row[d] = float32(sum[d] / count)
		}
		out[b] = row
	}
	return out
}

// FirstToken selects the first token embedding of every sequence.
func FirstToken(tokens [][][]float32) [][]float32 {
	out := make([][]float32, len(tokens))
	for b, seq := range tokens {
		if len(seq) == 0 {
			out[b] = []float32{}
			continue
		}
		out[b] = seq[0]
	}
	return out
}

// Pipeline bundles the configurable text processing steps.
type Pipeline struct {
	Preprocess Preprocessor
	Tokenizer  Tokenizer
	MeanPool   bool
}

// NewPipeline selects pipeline components from a model config.
func NewPipeline(cfg modelconfig.ModelConfig, deps Deps) (Pipeline, error) {
	p := Pipeline{Preprocess: Identity, MeanPool: cfg.Pooling == modelconfig.PoolingMean}
	if cfg.Preprocessing == modelconfig.PreprocessingCustom {
		p.Preprocess = PreprocessCustom
	}

	if cfg.Tokenizer == modelconfig.TokenizerCustom {
		p.Tokenizer = NewCustomTokenizer(nil)
		return p, nil
	}

	load := deps.Tokenizers
	if load == nil {
		load = LoadHuggingFaceTokenizer
	}
	tk, err := load(cfg.TokenizerModel)
	if err != nil {
		return Pipeline{}, err
	}
	p.Tokenizer = tk
	return p, nil
}

// Prepare preprocesses and tokenizes texts.
func (p Pipeline) Prepare(texts []string) (Batch, error) {
	processed := make([]string, len(texts))
	for i, t := range texts {
		processed[i] = p.Preprocess(t)
	}
	return p.Tokenizer.Encode(processed)
}

// Reduce turns token-level output into one vector per input.
func (p Pipeline) Reduce(tokens [][][]float32, batch Batch) [][]float32 {
	if p.MeanPool {
		return MeanPool(tokens, batch.Mask)
	}
	return FirstToken(tokens)
}
