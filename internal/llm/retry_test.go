package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

// flakyProvider scripts a sequence of failures followed by successes, the
// shape of a summarizer backend recovering mid-gather.
type flakyProvider struct {
	name        string
	failures    []error
	reply       *Response
	embedFails  []error
	embedding   [][]float32
	completions int
	embeddings  int
}

func (f *flakyProvider) Name() string { return f.name }

func (f *flakyProvider) Complete(ctx context.Context, prompt *Prompt, opts *RequestOptions) (*Response, error) {
	f.completions++
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		return nil, err
	}
	if f.reply != nil {
		return f.reply, nil
	}
	return nil, fmt.Errorf("flaky: nothing scripted")
}

func (f *flakyProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.embeddings++
	if len(f.embedFails) > 0 {
		err := f.embedFails[0]
		f.embedFails = f.embedFails[1:]
		return nil, err
	}
	if f.embedding != nil {
		return f.embedding, nil
	}
	return nil, fmt.Errorf("flaky: nothing scripted")
}

func fastRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries: 3,
		RetryDelay: 5 * time.Millisecond,
		MaxDelay:   50 * time.Millisecond,
		Timeout:    time.Second,
	}
}

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()
	if cfg.MaxRetries != 8 {
		t.Errorf("MaxRetries = %d, want 8", cfg.MaxRetries)
	}
	if cfg.RetryDelay != 2*time.Second {
		t.Errorf("RetryDelay = %v, want 2s", cfg.RetryDelay)
	}
	if cfg.MaxDelay != 30*time.Second {
		t.Errorf("MaxDelay = %v, want 30s", cfg.MaxDelay)
	}
	if cfg.Timeout != 2*time.Minute {
		t.Errorf("Timeout = %v, want 2m", cfg.Timeout)
	}
}

func TestNewRetryProvider_NilConfigUsesDefaults(t *testing.T) {
	rp := NewRetryProvider(&flakyProvider{name: "openai"}, nil)
	if rp.config == nil || rp.config.MaxRetries != 8 {
		t.Fatalf("nil config should fall back to defaults, got %+v", rp.config)
	}
	if rp.Name() != "openai" {
		t.Errorf("Name() = %q, want inner provider name", rp.Name())
	}
}

func TestRetryProvider_SummaryCallSucceedsFirstTry(t *testing.T) {
	inner := &flakyProvider{
		name:  "openai",
		reply: &Response{Content: "The study reports a 40% reduction.", InputTokens: 120, OutputTokens: 30},
	}
	rp := NewRetryProvider(inner, fastRetryConfig())

	prompt := &Prompt{Messages: []Message{{Role: RoleUser, Content: "Summarize the excerpt."}}}
	resp, err := rp.Complete(context.Background(), prompt, nil)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "The study reports a 40% reduction." {
		t.Errorf("unexpected content %q", resp.Content)
	}
	if inner.completions != 1 {
		t.Errorf("completions = %d, want 1", inner.completions)
	}
}

func TestRetryProvider_RecoversFromOutage(t *testing.T) {
	inner := &flakyProvider{
		name: "openai",
		failures: []error{
			errors.New("503 Service Unavailable"),
			errors.New("502 Bad Gateway"),
		},
		reply: &Response{Content: "recovered"},
	}
	rp := NewRetryProvider(inner, fastRetryConfig())

	resp, err := rp.Complete(context.Background(), &Prompt{}, nil)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "recovered" {
		t.Errorf("unexpected content %q", resp.Content)
	}
	if inner.completions != 3 {
		t.Errorf("completions = %d, want 3 (two outages then success)", inner.completions)
	}
}

func TestRetryProvider_BadAPIKeyFailsImmediately(t *testing.T) {
	inner := &flakyProvider{
		name:     "openai",
		failures: []error{errors.New("401 Unauthorized: invalid api key")},
	}
	rp := NewRetryProvider(inner, fastRetryConfig())

	_, err := rp.Complete(context.Background(), &Prompt{}, nil)
	if err == nil {
		t.Fatal("expected error on auth failure")
	}
	if !strings.Contains(err.Error(), "non-retryable") {
		t.Errorf("error %v should be marked non-retryable", err)
	}
	if inner.completions != 1 {
		t.Errorf("completions = %d, want 1 (auth errors never retry)", inner.completions)
	}
}

func TestRetryProvider_GivesUpAfterMaxRetries(t *testing.T) {
	inner := &flakyProvider{
		name: "openai",
		failures: []error{
			errors.New("500"), errors.New("500"), errors.New("500"),
			errors.New("500"), errors.New("500"),
		},
	}
	cfg := fastRetryConfig()
	cfg.MaxRetries = 2
	rp := NewRetryProvider(inner, cfg)

	_, err := rp.Complete(context.Background(), &Prompt{}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "max retries") {
		t.Errorf("error %v should mention max retries", err)
	}
	if inner.completions != 3 {
		t.Errorf("completions = %d, want 3 (initial attempt + 2 retries)", inner.completions)
	}
}

func TestRetryProvider_CanceledContextStopsRetrying(t *testing.T) {
	inner := &flakyProvider{
		name:     "openai",
		failures: []error{errors.New("503")},
	}
	rp := NewRetryProvider(inner, fastRetryConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := rp.Complete(ctx, &Prompt{}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestRetryProvider_EmbedRetriesDuringIngest(t *testing.T) {
	inner := &flakyProvider{
		name:       "openai",
		embedFails: []error{errors.New("429 Too Many Requests")},
		embedding:  [][]float32{{0.1, 0.2}, {0.3, 0.4}},
	}
	rp := NewRetryProvider(inner, fastRetryConfig())

	chunks := []string{"Smith2023 chunk 1", "Smith2023 chunk 2"}
	vecs, err := rp.Embed(context.Background(), chunks)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 2 {
		t.Fatalf("got %d vectors, want 2", len(vecs))
	}
	if inner.embeddings != 2 {
		t.Errorf("embeddings = %d, want 2 (rate limited once)", inner.embeddings)
	}
}

func TestRetryProvider_IsRetryable(t *testing.T) {
	rp := NewRetryProvider(&flakyProvider{}, nil)

	tests := []struct {
		err  error
		want bool
	}{
		{context.Canceled, false},
		{context.DeadlineExceeded, true},
		{errors.New("429 Too Many Requests"), true},
		{errors.New("Too Many Requests"), true},
		{errors.New("429 tokens per day exceeded"), false},
		{errors.New("429 TPD limit reached"), false},
		{errors.New("500 Internal Server Error"), true},
		{errors.New("502 Bad Gateway"), true},
		{errors.New("503 Service Unavailable"), true},
		{errors.New("504 Gateway Timeout"), true},
		{errors.New("400 Bad Request"), false},
		{errors.New("401 Unauthorized"), false},
		{errors.New("403 Forbidden"), false},
		{errors.New("404 Not Found"), false},
		{errors.New("connection reset by peer"), true},
	}
	for _, tt := range tests {
		if got := rp.isRetryable(tt.err); got != tt.want {
			t.Errorf("isRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestRetryProvider_BackoffDoublesThenCaps(t *testing.T) {
	rp := NewRetryProvider(&flakyProvider{}, &RetryConfig{
		RetryDelay: 100 * time.Millisecond,
		MaxDelay:   500 * time.Millisecond,
	})

	if d := rp.calculateBackoff(1); d != 100*time.Millisecond {
		t.Errorf("backoff(1) = %v, want 100ms", d)
	}
	if d := rp.calculateBackoff(2); d != 200*time.Millisecond {
		t.Errorf("backoff(2) = %v, want 200ms", d)
	}
	if d := rp.calculateBackoff(3); d != 400*time.Millisecond {
		t.Errorf("backoff(3) = %v, want 400ms", d)
	}
	if d := rp.calculateBackoff(10); d != 500*time.Millisecond {
		t.Errorf("backoff(10) = %v, want MaxDelay cap", d)
	}
}

func TestWrapWithRetry(t *testing.T) {
	if got := WrapWithRetry(nil, ProviderConfig{}); got != nil {
		t.Error("wrapping a nil provider should return nil")
	}

	wrapped := WrapWithRetry(&flakyProvider{name: "anthropic"}, ProviderConfig{
		Timeout:    3 * time.Minute,
		MaxRetries: 5,
		RetryDelay: 2 * time.Second,
	})
	rp, ok := wrapped.(*RetryProvider)
	if !ok {
		t.Fatalf("got %T, want *RetryProvider", wrapped)
	}
	if rp.config.Timeout != 3*time.Minute || rp.config.MaxRetries != 5 || rp.config.RetryDelay != 2*time.Second {
		t.Errorf("config not carried over: %+v", rp.config)
	}

	// Zero-valued config falls back to conservative defaults.
	defaulted := WrapWithRetry(&flakyProvider{name: "anthropic"}, ProviderConfig{}).(*RetryProvider)
	if defaulted.config.Timeout != 2*time.Minute || defaulted.config.MaxRetries != 3 {
		t.Errorf("defaults not applied: %+v", defaulted.config)
	}
}
