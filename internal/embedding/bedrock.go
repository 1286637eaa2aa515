package embedding

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/goccy/go-json"
)

// DefaultBedrockModel is the Titan text embedding model.
const DefaultBedrockModel = "amazon.titan-embed-text-v2:0"

// BedrockAPI is the subset of the Bedrock runtime client used for embeddings.
type BedrockAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

var _ BedrockAPI = (*bedrockruntime.Client)(nil)

func newBedrockClient(cfg aws.Config) BedrockAPI {
	return bedrockruntime.NewFromConfig(cfg)
}

type titanRequest struct {
	InputText string `json:"inputText"`
}

type titanResponse struct {
	Embedding           []float32 `json:"embedding"`
	InputTextTokenCount int       `json:"inputTextTokenCount"`
}

// BedrockEmbedder embeds texts with a Titan model. Titan accepts a single
// input per call, so batches are sent one text at a time.
type BedrockEmbedder struct {
	client  BedrockAPI
	modelID string
}

var _ DocumentEmbedder = (*BedrockEmbedder)(nil)

// NewBedrockEmbedder creates an embedder for modelID, or DefaultBedrockModel.
func NewBedrockEmbedder(client BedrockAPI, modelID string) *BedrockEmbedder {
	if modelID == "" {
		modelID = DefaultBedrockModel
	}
	return &BedrockEmbedder{client: client, modelID: modelID}
}

// EmbedDocuments embeds every text in order.
func (b *BedrockEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for i, text := range texts {
		body, err := json.Marshal(titanRequest{InputText: text})
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}

		resp, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
			ModelId:     aws.String(b.modelID),
			Body:        body,
			ContentType: aws.String("application/json"),
			Accept:      aws.String("application/json"),
		})
		if err != nil {
			return nil, fmt.Errorf("invoke %s for text %d: %w", b.modelID, i, err)
		}

		var parsed titanResponse
		if err := json.Unmarshal(resp.Body, &parsed); err != nil {
			return nil, fmt.Errorf("unmarshal response: %w", err)
		}
		if len(parsed.Embedding) == 0 {
			return nil, fmt.Errorf("no embedding returned for text %d", i)
		}
		out = append(out, parsed.Embedding)
	}
	return out, nil
}
