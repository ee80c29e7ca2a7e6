package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	defaultBaseURL     = "https://openrouter.ai/api/v1"
	defaultCallTimeout = 30 * time.Second
)

// Client communicates with an OpenAI-compatible model catalog and chat
// completion API. It maps transport and HTTP outcomes onto the error
// taxonomy and enforces a per-call deadline; it never retries. Retry and
// fallback policy belong to the cascade layer.
type Client struct {
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	referer     string
	title       string
	callTimeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at a custom base URL (used by tests).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithIdentity sets the static client-identification headers sent upstream.
func WithIdentity(referer, title string) Option {
	return func(c *Client) {
		c.referer = referer
		c.title = title
	}
}

// WithCallTimeout sets the deadline applied to calls whose context carries
// none of its own.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) { c.callTimeout = d }
}

// NewClient creates a client with the given API key. An empty key is a
// configuration error; it would fail every call with an opaque 401 later.
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, &ConfigurationError{Reason: "upstream API key is required"}
	}
	c := &Client{
		apiKey:      apiKey,
		baseURL:     defaultBaseURL,
		httpClient:  &http.Client{},
		referer:     "https://github.com/casaviva/hestia",
		title:       "hestia",
		callTimeout: defaultCallTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// modelList mirrors GET /models. Data stays raw so a missing array can be
// told apart from an empty one.
type modelList struct {
	Data json.RawMessage `json:"data"`
}

type wireModel struct {
	ID            string `json:"id"`
	ContextLength int    `json:"context_length"`
	Architecture  struct {
		InputModalities []string `json:"input_modalities"`
	} `json:"architecture"`
	SupportedParameters []string `json:"supported_parameters"`
	Pricing             struct {
		Prompt     string `json:"prompt"`
		Completion string `json:"completion"`
	} `json:"pricing"`
	PrivacyPolicy string `json:"privacy_policy"`
	ExpiresAt     string `json:"expires_at"`
}

// ListModels fetches the catalog and returns validated descriptors in the
// upstream's order.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	body, err := c.do(ctx, http.MethodGet, "/models", nil)
	if err != nil {
		return nil, err
	}

	var list modelList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, &InvalidResponseError{Reason: fmt.Sprintf("decoding model list: %v", err)}
	}
	if list.Data == nil {
		return nil, &InvalidResponseError{Reason: "model list missing data array"}
	}

	var entries []wireModel
	if err := json.Unmarshal(list.Data, &entries); err != nil {
		return nil, &InvalidResponseError{Reason: fmt.Sprintf("decoding model entries: %v", err)}
	}

	models := make([]Model, 0, len(entries))
	for _, e := range entries {
		m, err := parseModel(e)
		if err != nil {
			return nil, err
		}
		models = append(models, m)
	}
	return models, nil
}

func parseModel(e wireModel) (Model, error) {
	if e.ID == "" {
		return Model{}, &InvalidResponseError{Reason: "model entry missing id"}
	}

	m := Model{
		ID:            e.ID,
		ContextWindow: e.ContextLength,
		Capabilities:  []Capability{CapText},
		PrivacyPolicy: e.PrivacyPolicy,
	}

	for _, mod := range e.Architecture.InputModalities {
		if mod == "image" || mod == "video" {
			m.Capabilities = append(m.Capabilities, CapMultimodal)
			break
		}
	}
	for _, p := range e.SupportedParameters {
		switch p {
		case "tools", "tool_choice":
			if !m.Has(CapFunctionCalling) {
				m.Capabilities = append(m.Capabilities, CapFunctionCalling)
			}
		case "structured_outputs", "response_format":
			if !m.Has(CapStructuredOutput) {
				m.Capabilities = append(m.Capabilities, CapStructuredOutput)
			}
		}
	}

	var err error
	if m.Pricing.Prompt, err = parsePrice(e.Pricing.Prompt); err != nil {
		return Model{}, &InvalidResponseError{Reason: fmt.Sprintf("model %s: bad prompt price %q", e.ID, e.Pricing.Prompt)}
	}
	if m.Pricing.Completion, err = parsePrice(e.Pricing.Completion); err != nil {
		return Model{}, &InvalidResponseError{Reason: fmt.Sprintf("model %s: bad completion price %q", e.ID, e.Pricing.Completion)}
	}

	if e.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, e.ExpiresAt)
		if err != nil {
			return Model{}, &InvalidResponseError{Reason: fmt.Sprintf("model %s: bad expires_at %q", e.ID, e.ExpiresAt)}
		}
		m.ExpiresAt = t
	}

	return m, nil
}

// parsePrice handles the upstream's stringly-typed per-token prices.
func parsePrice(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

// chatRequest is the JSON body for POST /chat/completions.
type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Chat submits a completion request to the given model and returns the
// first choice's text along with the raw payload.
func (c *Client) Chat(ctx context.Context, model string, messages []Message, opts ChatOptions) (Completion, error) {
	req := chatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return Completion{}, fmt.Errorf("marshaling chat request: %w", err)
	}

	body, err := c.do(ctx, http.MethodPost, "/chat/completions", payload)
	if err != nil {
		return Completion{}, err
	}

	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Completion{}, &InvalidResponseError{Reason: fmt.Sprintf("decoding completion: %v", err)}
	}
	if len(resp.Choices) == 0 {
		return Completion{}, &InvalidResponseError{Reason: "completion has no choices"}
	}

	respModel := resp.Model
	if respModel == "" {
		respModel = model
	}
	return Completion{
		Model:   respModel,
		Content: resp.Choices[0].Message.Content,
		Raw:     body,
	}, nil
}

// do runs one HTTP exchange under the call deadline and maps the outcome
// onto the error taxonomy.
func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	budget := c.callTimeout
	if dl, ok := ctx.Deadline(); ok {
		budget = time.Until(dl)
	} else {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}

	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, &NetworkError{Op: "creating request", Err: err}
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &TimeoutError{Op: method + " " + path, Budget: budget}
		}
		return nil, &NetworkError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, rateLimitFrom(resp)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &NetworkError{
			Op:  method + " " + path,
			Err: fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &TimeoutError{Op: method + " " + path, Budget: budget}
		}
		return nil, &NetworkError{Op: "reading response", Err: err}
	}
	return body, nil
}

func rateLimitFrom(resp *http.Response) *RateLimitError {
	e := &RateLimitError{RetryAfter: DefaultRetryAfter}
	if raw := resp.Header.Get("Retry-After"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs >= 0 {
			e.RetryAfter = time.Duration(secs) * time.Second
			e.FromUpstream = true
		}
	}
	return e
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("HTTP-Referer", c.referer)
	req.Header.Set("X-Title", c.title)
}
