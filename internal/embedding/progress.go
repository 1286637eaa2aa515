package embedding

import (
	"context"
	"log/slog"
	"strings"
)

// DefaultBatchSize is the number of texts sent to a backend per call.
const DefaultBatchSize = 32

// ProgressFunc receives the number of encoded texts so far and the total.
type ProgressFunc func(done, total int)

type progressKey struct{}

// WithProgress attaches a progress reporter to ctx. Backends call it after
// every batch when Encode is invoked with showProgress.
func WithProgress(ctx context.Context, fn ProgressFunc) context.Context {
	return context.WithValue(ctx, progressKey{}, fn)
}

func progressFrom(ctx context.Context) ProgressFunc {
	fn, _ := ctx.Value(progressKey{}).(ProgressFunc)
	return fn
}

// normalizeTexts replaces invalid UTF-8 so providers never reject a batch
// because of a single malformed catalog row.
func normalizeTexts(texts []string) []string {
	out := make([]string, len(texts))
	for i, t := range texts {
		out[i] = strings.ToValidUTF8(t, "")
	}
	return out
}

// encodeBatches splits texts into batches, runs fn on each and concatenates
// the rows. Cancellation is checked between batches.
func encodeBatches(
	ctx context.Context,
	logger *slog.Logger,
	name string,
	texts []string,
	batchSize int,
	showProgress bool,
	fn func(ctx context.Context, batch []string) ([][]float32, error),
) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	var report ProgressFunc
	if showProgress {
		report = progressFrom(ctx)
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+batchSize, len(texts))

		rows, err := fn(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)

		if showProgress {
			logger.Debug("encode progress", "model", name, "done", end, "total", len(texts))
			if report != nil {
				report(end, len(texts))
			}
		}
	}
	return out, nil
}
