// Package llm is a thin client for the model annotation provider. The
// provider is opaque: the client posts batches of transcript lines with the
// codebook and merges the per-line feature judgements it returns.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/matsen/annot/internal/codebook"
	"github.com/matsen/annot/internal/importer"
	"github.com/matsen/annot/internal/transcript"
)

const (
	// DefaultBatchSize is the number of lines sent per request.
	DefaultBatchSize = 20

	// ClaudeBatchSize is used for the "claude" provider, which handles
	// longer prompts.
	ClaudeBatchSize = 25

	// DefaultTimeout bounds one HTTP request.
	DefaultTimeout = 2 * time.Minute

	// RateLimit is requests per second.
	RateLimit = 2.0

	// DefaultProvider is sent when no provider is configured.
	DefaultProvider = "openai"

	DefaultSystemPrompt  = "You are an expert educational researcher analyzing classroom transcripts. Your task is to identify specific educational features in the dialogue."
	DefaultMachinePrompt = "Please analyze the following classroom transcript and identify which educational features are present in each line. For each line, indicate whether each feature is present (true) or absent (false)."
)

// Line is one transcript line as the provider sees it.
type Line struct {
	LineNumber int    `json:"lineNumber"`
	Speaker    string `json:"speaker"`
	Utterance  string `json:"utterance"`
}

// Request is the body of one provider call.
type Request struct {
	TranscriptID       string             `json:"transcriptId"`
	Provider           string             `json:"provider"`
	SystemPrompt       string             `json:"systemPrompt"`
	MachinePrompt      string             `json:"machinePrompt"`
	StartLineOffset    int                `json:"startLineOffset"`
	FeatureDefinitions *codebook.Codebook `json:"featureDefinitions"`
	TranscriptData     []Line             `json:"transcriptData"`
}

// Response is the provider's reply.
type Response struct {
	Success     bool                    `json:"success"`
	Annotations importer.LLMAnnotations `json:"annotations"`
	Error       string                  `json:"error,omitempty"`
}

// Client is a rate-limited, retrying HTTP client for the provider.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
	endpoint   string
	apiKey     string
	provider   string
	batchSize  int

	retryInitial time.Duration
	retryMax     time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithEndpoint sets the provider URL.
func WithEndpoint(url string) ClientOption {
	return func(c *Client) { c.endpoint = url }
}

// WithAPIKey sets the bearer token.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) { c.apiKey = key }
}

// WithProvider names the model family the provider should use.
func WithProvider(p string) ClientOption {
	return func(c *Client) { c.provider = p }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithRateLimit sets requests per second. Zero or less disables limiting.
func WithRateLimit(rps float64) ClientOption {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// WithBatchSize sets the lines sent per request.
func WithBatchSize(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithRetry sets the first retry delay and the total time spent retrying a
// batch.
func WithRetry(initial, maxElapsed time.Duration) ClientOption {
	return func(c *Client) {
		c.retryInitial = initial
		c.retryMax = maxElapsed
	}
}

// NewClient creates a client. An endpoint must be set with WithEndpoint.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient:   &http.Client{Timeout: DefaultTimeout},
		limiter:      rate.NewLimiter(rate.Limit(RateLimit), 1),
		logger:       zap.NewNop(),
		provider:     DefaultProvider,
		retryInitial: 2 * time.Second,
		retryMax:     30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.batchSize == 0 {
		c.batchSize = BatchSizeFor(c.provider)
	}
	return c
}

// BatchSizeFor returns the default lines per request for a provider.
func BatchSizeFor(provider string) int {
	if provider == "claude" {
		return ClaudeBatchSize
	}
	return DefaultBatchSize
}

// Job describes one annotation run.
type Job struct {
	TranscriptID  string
	SystemPrompt  string
	MachinePrompt string
	Codebook      *codebook.Codebook
	// Features restricts the run to these codes per category. Nil sends the
	// whole codebook.
	Features map[string][]string
	Lines    []transcript.Line
}

// BatchError records a batch that failed after retries.
type BatchError struct {
	FirstLine int    `json:"firstLine"`
	LastLine  int    `json:"lastLine"`
	Err       error  `json:"-"`
	Message   string `json:"error"`
}

// Run is the merged result of a job.
type Run struct {
	ID          string                  `json:"id"`
	Provider    string                  `json:"provider"`
	Batches     int                     `json:"batches"`
	Failed      []BatchError            `json:"failed,omitempty"`
	Annotations importer.LLMAnnotations `json:"annotations"`
}

// AnnotatorID is the id the run's annotations are imported under.
func (r *Run) AnnotatorID() string {
	return "llm-" + r.Provider + "-" + r.ID[:8]
}

// AnnotatorData converts the run into an imported annotator.
func (r *Run) AnnotatorData(existing []importer.AnnotatorData, cb *codebook.Codebook) (*importer.AnnotatorData, []importer.Warning, error) {
	data, warnings, err := importer.FromLLM(r.AnnotatorID(), r.Provider+" model", r.Annotations, existing, cb)
	if err != nil {
		return nil, nil, err
	}
	data.Description = fmt.Sprintf("run %s, %d batches", r.ID, r.Batches)
	return data, warnings, nil
}

// Annotate sends job in batches and merges the answers. A failed batch is
// recorded in Run.Failed and the run continues; Annotate returns an error
// only when every batch failed or the job cannot be sent at all.
func (c *Client) Annotate(ctx context.Context, job Job) (*Run, error) {
	if c.endpoint == "" {
		return nil, ErrNoEndpoint
	}
	if job.Codebook == nil {
		return nil, fmt.Errorf("annotation job needs a codebook")
	}
	defs := FilterCodebook(job.Codebook, job.Features)
	if len(defs.Categories) == 0 {
		return nil, fmt.Errorf("no features selected")
	}

	run := &Run{
		ID:          uuid.NewString(),
		Provider:    c.provider,
		Annotations: importer.LLMAnnotations{},
	}
	logger := c.logger.With(zap.String("run", run.ID), zap.String("transcript", job.TranscriptID))

	system := firstNonEmpty(job.SystemPrompt, DefaultSystemPrompt)
	machine := firstNonEmpty(job.MachinePrompt, DefaultMachinePrompt)

	for batch := range slices.Chunk(job.Lines, c.batchSize) {
		run.Batches++
		req := Request{
			TranscriptID:       job.TranscriptID,
			Provider:           c.provider,
			SystemPrompt:       system,
			MachinePrompt:      machine,
			StartLineOffset:    batch[0].LineNumber - 1,
			FeatureDefinitions: defs,
			TranscriptData:     make([]Line, len(batch)),
		}
		for i, l := range batch {
			req.TranscriptData[i] = Line{LineNumber: l.LineNumber, Speaker: l.Speaker, Utterance: l.Utterance}
		}

		resp, err := c.send(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			first, last := batch[0].LineNumber, batch[len(batch)-1].LineNumber
			logger.Warn("batch failed", zap.Int("first_line", first), zap.Int("last_line", last), zap.Error(err))
			run.Failed = append(run.Failed, BatchError{FirstLine: first, LastLine: last, Err: err, Message: err.Error()})
			continue
		}
		merge(run.Annotations, resp.Annotations)
		logger.Debug("batch annotated", zap.Int("first_line", batch[0].LineNumber), zap.Int("lines", len(batch)))
	}

	if run.Batches > 0 && len(run.Failed) == run.Batches {
		return run, fmt.Errorf("all %d batches failed: %w", run.Batches, run.Failed[0].Err)
	}
	return run, nil
}

// send posts one batch, retrying 429s, 5xx and transport failures with
// exponential backoff.
func (c *Client) send(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryInitial
	bo.MaxElapsedTime = c.retryMax
	bo.MaxInterval = max(c.retryInitial, c.retryMax/3)

	var resp *Response
	op := func() error {
		r, err := c.post(ctx, body, req.StartLineOffset+1)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && !apiErr.retryable() {
				return backoff.Permanent(err)
			}
			if errors.Is(err, ErrAuthError) || errors.Is(err, ErrInvalidResponse) {
				return backoff.Permanent(err)
			}
			return err
		}
		resp = r
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Debug("retrying batch", zap.Error(err), zap.Duration("wait", wait))
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(bo, ctx), notify); err != nil {
		if IsRateLimited(err) {
			return nil, fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
		return nil, err
	}
	return resp, nil
}

func (c *Client) post(ctx context.Context, body []byte, firstLine int) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling provider: %w", err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if httpResp.StatusCode == http.StatusUnauthorized || httpResp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: status %d", ErrAuthError, httpResp.StatusCode)
	}

	var resp Response
	decodeErr := json.Unmarshal(data, &resp)

	if httpResp.StatusCode >= 400 {
		msg := http.StatusText(httpResp.StatusCode)
		if decodeErr == nil && resp.Error != "" {
			msg = resp.Error
		}
		return nil, &APIError{StatusCode: httpResp.StatusCode, Message: msg, FirstLine: firstLine}
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, decodeErr)
	}
	if !resp.Success {
		return nil, &APIError{Message: firstNonEmpty(resp.Error, "provider reported failure"), FirstLine: firstLine}
	}
	return &resp, nil
}

// FilterCodebook keeps only the selected codes of each category, dropping
// categories left empty. A nil selection returns cb unchanged.
func FilterCodebook(cb *codebook.Codebook, selected map[string][]string) *codebook.Codebook {
	if selected == nil {
		return cb
	}
	out := &codebook.Codebook{Features: map[string][]codebook.FeatureDef{}}
	for _, category := range cb.Categories {
		codes := selected[category]
		var defs []codebook.FeatureDef
		for _, f := range cb.Features[category] {
			if slices.Contains(codes, f.Code) {
				defs = append(defs, f)
			}
		}
		if len(defs) > 0 {
			out.Categories = append(out.Categories, category)
			out.Features[category] = defs
		}
	}
	return out
}

// merge copies a batch's annotations into the run. Later batches win for a
// line answered twice.
func merge(dst, src importer.LLMAnnotations) {
	for category, lines := range src {
		if dst[category] == nil {
			dst[category] = map[string]map[string]any{}
		}
		maps.Copy(dst[category], lines)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
