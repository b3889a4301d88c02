package translate

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"server/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *GeminiClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewGeminiClient(Options{
		APIKey:     "test-key",
		BaseURL:    srv.URL,
		Model:      "gemini-test",
		HTTPClient: srv.Client(),
	})
}

func TestGeminiTranslateSuccess(t *testing.T) {
	want := []byte("translated-image-bytes")
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req geminiGenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Contents) != 1 || len(req.Contents[0].Parts) != 2 {
			t.Fatalf("unexpected request shape: %+v", req)
		}
		if req.Contents[0].Parts[0].Text == "" {
			t.Fatal("expected prompt text part")
		}
		resp := geminiGenerateResponse{}
		resp.Candidates = append(resp.Candidates, struct {
			Content geminiContent `json:"content"`
		}{Content: geminiContent{Parts: []geminiPart{{
			InlineData: &geminiInlineData{
				MimeType: "image/png",
				Data:     base64.StdEncoding.EncodeToString(want),
			},
		}}}})
		_ = json.NewEncoder(w).Encode(resp)
	})

	result, err := client.Translate(context.Background(), Request{
		Data:   []byte("source"),
		MIME:   "image/png",
		Prompt: "Translate all visible text in this image into French.",
	})
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if string(result.Data) != string(want) {
		t.Errorf("data = %q, want %q", result.Data, want)
	}
	if result.MIME != "image/png" {
		t.Errorf("mime = %q, want image/png", result.MIME)
	}
}

func TestGeminiTranslateClassifiesStatusCodes(t *testing.T) {
	testCases := []struct {
		name          string
		status        int
		wantCode      domain.ErrorCode
		wantRetryable bool
	}{
		{"rate limited", http.StatusTooManyRequests, domain.ErrorCodeRateLimited, true},
		{"gateway timeout", http.StatusGatewayTimeout, domain.ErrorCodeDeadlineExceeded, true},
		{"service unavailable", http.StatusServiceUnavailable, domain.ErrorCodeTimeout, true},
		{"bad request", http.StatusBadRequest, domain.ErrorCodePermanent, false},
		{"internal error", http.StatusInternalServerError, domain.ErrorCodePermanent, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(`{"error":{"message":"boom"}}`))
			})

			_, err := client.Translate(context.Background(), Request{Data: []byte("source"), MIME: "image/png", Prompt: "p"})
			if err == nil {
				t.Fatal("expected error")
			}
			var cerr *ClassifiedError
			if !errors.As(err, &cerr) {
				t.Fatalf("error %v is not classified", err)
			}
			if cerr.Code != tc.wantCode {
				t.Errorf("code = %s, want %s", cerr.Code, tc.wantCode)
			}
			if cerr.Retryable() != tc.wantRetryable {
				t.Errorf("retryable = %v, want %v", cerr.Retryable(), tc.wantRetryable)
			}
		})
	}
}

func TestGeminiTranslateMissingAPIKey(t *testing.T) {
	client := NewGeminiClient(Options{})
	_, err := client.Translate(context.Background(), Request{Data: []byte("source"), MIME: "image/png", Prompt: "p"})
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("err = %v, want ErrMissingAPIKey", err)
	}
	if code, retryable := Classify(err); code != domain.ErrorCodePermanent || retryable {
		t.Errorf("Classify = (%s, %v), want (permanent, false)", code, retryable)
	}
}

func TestGeminiTranslateEmptyResponse(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	})
	_, err := client.Translate(context.Background(), Request{Data: []byte("source"), MIME: "image/png", Prompt: "p"})
	if err == nil {
		t.Fatal("expected error for empty candidates")
	}
	if code, _ := Classify(err); code != domain.ErrorCodePermanent {
		t.Errorf("code = %s, want permanent", code)
	}
}

func TestBuildPrompt(t *testing.T) {
	p := BuildPrompt("fr", 0)
	if want := "Translate all visible text in this image into French."; !strings.HasPrefix(p, want) {
		t.Errorf("prompt = %q, want prefix %q", p, want)
	}
	v := BuildPrompt("fr", 2)
	if v == p {
		t.Error("expected variation prompt to differ from base prompt")
	}
}

func TestLanguageName(t *testing.T) {
	testCases := []struct {
		tag  string
		want string
	}{
		{"fr", "French"},
		{"ja", "Japanese"},
		{"pt-BR", "Brazilian Portuguese"},
		{"", "English"},
		{"not-a-tag!", "not-a-tag!"},
	}
	for _, tc := range testCases {
		if got := LanguageName(tc.tag); got != tc.want {
			t.Errorf("LanguageName(%q) = %q, want %q", tc.tag, got, tc.want)
		}
	}
}
