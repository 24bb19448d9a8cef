package vector

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"retriever-agent/internal/common/errors"
)

const (
	DefaultEmbeddingModel     = "text-embedding-3-small"
	DefaultEmbeddingDimension = 1536
)

// Embedder turns query text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

type EmbedderOption func(*embedderOptions)

type embedderOptions struct {
	model     string
	dimension int
	baseURL   string
	timeout   time.Duration
}

func WithEmbeddingModel(model string) EmbedderOption {
	return func(o *embedderOptions) {
		if model != "" {
			o.model = model
		}
	}
}

func WithEmbeddingDimension(dim int) EmbedderOption {
	return func(o *embedderOptions) {
		if dim > 0 {
			o.dimension = dim
		}
	}
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) EmbedderOption {
	return func(o *embedderOptions) { o.baseURL = url }
}

func WithRequestTimeout(d time.Duration) EmbedderOption {
	return func(o *embedderOptions) { o.timeout = d }
}

// OpenAIEmbedder calls the OpenAI embeddings endpoint.
type OpenAIEmbedder struct {
	client    openai.Client
	model     string
	dimension int
}

func NewOpenAIEmbedder(apiKey string, opts ...EmbedderOption) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key is not set")
	}

	o := embedderOptions{model: DefaultEmbeddingModel, dimension: DefaultEmbeddingDimension}
	for _, opt := range opts {
		opt(&o)
	}

	clientOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(1),
	}
	if o.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(o.baseURL))
	}
	if o.timeout > 0 {
		clientOpts = append(clientOpts, option.WithRequestTimeout(o.timeout))
	}

	return &OpenAIEmbedder{
		client:    openai.NewClient(clientOpts...),
		model:     o.model,
		dimension: o.dimension,
	}, nil
}

func (e *OpenAIEmbedder) Dimension() int {
	return e.dimension
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
	}
	if e.dimension > 0 {
		params.Dimensions = openai.Int(int64(e.dimension))
	}

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, errors.NewEmbeddingFailedError(err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.NewEmbeddingFailedError(fmt.Errorf("no embedding returned for model %s", e.model))
	}

	raw := resp.Data[0].Embedding
	vec := make([]float32, len(raw))
	for i, v := range raw {
		vec[i] = float32(v)
	}
	return vec, nil
}
