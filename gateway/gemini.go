package gateway

import (
	"context"
	"errors"
	"net/http"

	"google.golang.org/genai"
)

const (
	geminiDefaultModel = "gemini-2.5-flash"
	geminiBackend      = "gemini"
)

// GeminiClient generates text replies with the Gemini API.
type GeminiClient struct {
	model  string
	client *genai.Client
	err    error
}

var _ Generator = (*GeminiClient)(nil)

type geminiConfig struct {
	model      string
	baseURL    string
	httpClient *http.Client
}

// GeminiOption configures a GeminiClient.
type GeminiOption func(*geminiConfig)

// WithGeminiBaseURL overrides the API root.
func WithGeminiBaseURL(u string) GeminiOption {
	return func(c *geminiConfig) { c.baseURL = u }
}

// WithGeminiModel selects the model.
func WithGeminiModel(model string) GeminiOption {
	return func(c *geminiConfig) { c.model = model }
}

// WithGeminiHTTPClient sets the HTTP client.
func WithGeminiHTTPClient(hc *http.Client) GeminiOption {
	return func(c *geminiConfig) { c.httpClient = hc }
}

// NewGeminiClient creates a text generator. A client that cannot be built
// rejects every request.
func NewGeminiClient(apiKey string, opts ...GeminiOption) *GeminiClient {
	cfg := geminiConfig{model: geminiDefaultModel}
	for _, opt := range opts {
		opt(&cfg)
	}

	c := &GeminiClient{model: cfg.model}
	if apiKey == "" {
		c.err = errors.New("api key not set")
		return c
	}

	cc := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.httpClient,
	}
	if cfg.baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.baseURL}
	}
	c.client, c.err = genai.NewClient(context.Background(), cc)
	return c
}

// Generate sends the prompt as a single user turn.
func (c *GeminiClient) Generate(ctx context.Context, req Request) (Result, error) {
	if c.err != nil {
		return Result{}, &Failure{Kind: FailureRejected, Backend: geminiBackend, Err: c.err}
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(req.Prompt), nil)
	if err != nil {
		return Result{}, callFailure(ctx, geminiBackend, err)
	}
	if len(resp.Candidates) == 0 {
		return Result{}, &Failure{Kind: FailureMalformed, Backend: geminiBackend, Err: errors.New("no candidates")}
	}

	text := resp.Text()
	if text == "" {
		return Result{}, &Failure{Kind: FailureMalformed, Backend: geminiBackend, Err: errors.New("empty reply")}
	}
	return Result{Content: text}, nil
}
