package translate

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"server/internal/domain"
	"server/internal/infra"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("gemini: api key is required")

// Options configures the Gemini visual translation client.
type Options struct {
	APIKey         string
	BaseURL        string
	Model          string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// GeminiClient performs HTTP calls to the Gemini generateContent API, sending
// the source image inline together with the translation prompt and returning
// the edited image bytes.
type GeminiClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *infra.Logger
}

type geminiInlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts,omitempty"`
}

type geminiGenerateRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiGenerateResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewGeminiClient constructs a client with sane defaults and injected dependencies.
func NewGeminiClient(opts Options) *GeminiClient {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &GeminiClient{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		model:      model,
		httpClient: httpClient,
		logger:     opts.Logger,
	}
}

// Model returns the configured model identifier.
func (c *GeminiClient) Model() string {
	return c.model
}

// Translate fulfils the Translator interface.
func (c *GeminiClient) Translate(ctx context.Context, req Request) (*Result, error) {
	if c.apiKey == "" {
		return nil, &ClassifiedError{Code: domain.ErrorCodePermanent, Message: "api key missing", Err: ErrMissingAPIKey}
	}
	if len(req.Data) == 0 {
		return nil, &ClassifiedError{Code: domain.ErrorCodePermanent, Message: "source image is empty"}
	}

	payload := geminiGenerateRequest{
		Contents: []geminiContent{{
			Role: "user",
			Parts: []geminiPart{
				{Text: req.Prompt},
				{InlineData: &geminiInlineData{
					MimeType: req.MIME,
					Data:     base64.StdEncoding.EncodeToString(req.Data),
				}},
			},
		}},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &ClassifiedError{Code: domain.ErrorCodePermanent, Message: "encode request", Err: err}
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, url.PathEscape(c.model), url.QueryEscape(c.apiKey))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &ClassifiedError{Code: domain.ErrorCodePermanent, Message: "build request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ClassifiedError{Code: domain.ErrorCodeTimeout, Message: "read response", Err: err}
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, classifyStatusError(resp.StatusCode, raw)
	}

	var decoded geminiGenerateResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, &ClassifiedError{Code: domain.ErrorCodePermanent, Message: "decode response", Err: err}
	}
	for _, candidate := range decoded.Candidates {
		for _, part := range candidate.Content.Parts {
			if part.InlineData == nil || part.InlineData.Data == "" {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				return nil, &ClassifiedError{Code: domain.ErrorCodePermanent, Message: "decode inline data", Err: err}
			}
			mime := part.InlineData.MimeType
			if mime == "" {
				mime = "image/png"
			}
			if c.logger != nil {
				c.logger.Debug().Str("request_id", req.RequestID).Int("bytes", len(data)).Msg("gemini: translated image received")
			}
			return &Result{Data: data, MIME: mime}, nil
		}
	}
	return nil, &ClassifiedError{Code: domain.ErrorCodePermanent, Message: "response contains no image"}
}

func classifyTransportError(err error) *ClassifiedError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &ClassifiedError{Code: domain.ErrorCodeDeadlineExceeded, Message: "request deadline exceeded", Err: err}
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ClassifiedError{Code: domain.ErrorCodeTimeout, Message: "request timed out", Err: err}
	}
	return &ClassifiedError{Code: domain.ErrorCodePermanent, Message: "http request failed", Err: err}
}

func classifyStatusError(status int, raw []byte) *ClassifiedError {
	message := fmt.Sprintf("status %d", status)
	var detail geminiErrorResponse
	if err := json.Unmarshal(raw, &detail); err == nil && detail.Error.Message != "" {
		message = detail.Error.Message
	}
	switch {
	case status == http.StatusTooManyRequests:
		return &ClassifiedError{Code: domain.ErrorCodeRateLimited, Message: message}
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return &ClassifiedError{Code: domain.ErrorCodeDeadlineExceeded, Message: message}
	case status == http.StatusServiceUnavailable:
		return &ClassifiedError{Code: domain.ErrorCodeTimeout, Message: message}
	default:
		return &ClassifiedError{Code: domain.ErrorCodePermanent, Message: message}
	}
}

var _ Translator = (*GeminiClient)(nil)
