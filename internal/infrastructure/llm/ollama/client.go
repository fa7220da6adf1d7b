package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/mpetrenko/document-vault/internal/core/domain"
	"github.com/mpetrenko/document-vault/internal/infrastructure/resilience"
)

type Client struct {
	baseURL    string
	genModel   string
	embedModel string
	httpClient *http.Client
	limiter    *rate.Limiter
}

type ClientOptions struct {
	Timeout time.Duration
	// RPS/Burst throttle outbound provider calls; zero disables throttling.
	RPS   float64
	Burst int
}

func New(baseURL, genModel, embedModel string, opts ClientOptions) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	var limiter *rate.Limiter
	if opts.RPS > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RPS), burst)
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		genModel:   genModel,
		embedModel: embedModel,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
	}
}

// Enricher implements the provider call contract against an Ollama endpoint.
// An empty base URL means the provider is known-unavailable (no endpoint
// configured); every call then reports ErrServiceUnavailable so documents
// rest at ready instead of failing.
type Enricher struct {
	client   *Client
	executor *resilience.Executor
}

func NewEnricher(client *Client, executor *resilience.Executor) *Enricher {
	return &Enricher{client: client, executor: executor}
}

const maxPromptChars = 6000

func (e *Enricher) Summarize(ctx context.Context, text string) (string, error) {
	return e.generateText(ctx, "summarize", buildSummaryPrompt(clip(text, maxPromptChars)))
}

func (e *Enricher) RenderMarkdown(ctx context.Context, text string) (string, error) {
	return e.generateText(ctx, "markdown", buildMarkdownPrompt(clip(text, maxPromptChars)))
}

func (e *Enricher) SuggestTags(ctx context.Context, text string) ([]string, error) {
	raw, err := e.generateJSON(ctx, "tags", buildTagsPrompt(clip(text, maxPromptChars)))
	if err != nil {
		return nil, err
	}
	var payload struct {
		Tags []string `json:"tags"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &payload); err != nil {
		return nil, domain.WrapError(domain.ErrCritical, "parse tags json", err)
	}
	return payload.Tags, nil
}

func (e *Enricher) Classify(ctx context.Context, text string) (string, error) {
	raw, err := e.generateJSON(ctx, "classify", buildCategoryPrompt(clip(text, maxPromptChars)))
	if err != nil {
		return "", err
	}
	var payload struct {
		Category string `json:"category"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &payload); err != nil {
		return "", domain.WrapError(domain.ErrCritical, "parse category json", err)
	}
	return strings.TrimSpace(payload.Category), nil
}

func (e *Enricher) ExtractFields(ctx context.Context, text string) (map[string]string, error) {
	raw, err := e.generateJSON(ctx, "fields", buildFieldsPrompt(clip(text, maxPromptChars)))
	if err != nil {
		return nil, err
	}
	var fields map[string]string
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &fields); err != nil {
		return nil, domain.WrapError(domain.ErrCritical, "parse fields json", err)
	}
	return fields, nil
}

func (e *Enricher) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.client.baseURL == "" {
		return nil, domain.WrapError(domain.ErrServiceUnavailable, "embed", errNoEndpoint)
	}

	request := map[string]any{
		"model": e.client.embedModel,
		"input": []string{clip(text, maxPromptChars)},
	}
	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := e.call(ctx, "embed", "/api/embed", request, &response); err != nil {
		return nil, err
	}
	if len(response.Embeddings) == 0 {
		return nil, domain.WrapError(domain.ErrCritical, "embed", fmt.Errorf("empty embedding result"))
	}
	return response.Embeddings[0], nil
}

func (e *Enricher) generateText(ctx context.Context, operation, prompt string) (string, error) {
	return e.generate(ctx, operation, map[string]any{
		"model":  e.client.genModel,
		"prompt": prompt,
		"stream": false,
	})
}

func (e *Enricher) generateJSON(ctx context.Context, operation, prompt string) (string, error) {
	return e.generate(ctx, operation, map[string]any{
		"model":  e.client.genModel,
		"prompt": prompt,
		"stream": false,
		"format": "json",
	})
}

func (e *Enricher) generate(ctx context.Context, operation string, reqBody map[string]any) (string, error) {
	if e.client.baseURL == "" {
		return "", domain.WrapError(domain.ErrServiceUnavailable, operation, errNoEndpoint)
	}

	var response struct {
		Response string `json:"response"`
	}
	if err := e.call(ctx, operation, "/api/generate", reqBody, &response); err != nil {
		return "", err
	}
	return strings.TrimSpace(response.Response), nil
}

// call runs one provider request through the resilience executor so transient
// network errors retry in place, then folds the final error into the domain
// taxonomy.
func (e *Enricher) call(ctx context.Context, operation, path string, payload, out any) error {
	do := func(callCtx context.Context) error {
		if e.client.limiter != nil {
			if err := e.client.limiter.Wait(callCtx); err != nil {
				return err
			}
		}
		return e.client.postJSON(callCtx, path, payload, out, operation)
	}

	var err error
	if e.executor != nil {
		err = e.executor.Execute(ctx, "ollama."+operation, do, classifyProviderError)
	} else {
		err = do(ctx)
	}
	return wrapProviderError(operation, err)
}

func clip(text string, max int) string {
	if len(text) <= max {
		return text
	}
	return text[:max]
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
