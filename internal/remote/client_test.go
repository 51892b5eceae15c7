package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"genfetch/internal/services"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	base := []Option{
		WithRetryBackoff(0, 0),
		WithPollInterval(time.Millisecond),
	}
	return NewClient(Config{APIKey: "test", BaseURL: server.URL + "/api/"}, append(base, opts...)...)
}

func TestClientHealthCheck(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/health" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test" {
			t.Errorf("unexpected auth header %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	})
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck returned error: %v", err)
	}
}

func TestClientHealthCheckFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	if err := client.HealthCheck(context.Background()); err == nil {
		t.Fatal("expected health check to fail")
	}
}

func TestClientQuote(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Kind != "material" || req.Variations != 2 {
			t.Errorf("unexpected request %+v", req)
		}
		_ = json.NewEncoder(w).Encode(Quote{Points: 42})
	})
	quote, err := client.Quote(context.Background(), Request{Kind: "material", Prompt: "brick", Variations: 2})
	if err != nil {
		t.Fatalf("Quote returned error: %v", err)
	}
	if quote.Points != 42 {
		t.Fatalf("unexpected points %d", quote.Points)
	}
}

func TestClientQuoteRejection(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error_code": "insufficient_points",
			"messages":   []string{"balance 3, need 10"},
		})
	})
	_, err := client.Quote(context.Background(), Request{Kind: "image", Prompt: "x", Variations: 1})
	var rejection *Rejection
	if !errors.As(err, &rejection) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if rejection.Code != CodeInsufficientPoints {
		t.Fatalf("unexpected code %q", rejection.Code)
	}
	if !errors.Is(err, services.ErrQuoteRejected) {
		t.Fatal("expected rejection to match ErrQuoteRejected")
	}
}

func TestClientQuoteRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(Quote{Points: 7})
	}, WithRetryMaxAttempts(3))
	quote, err := client.Quote(context.Background(), Request{Kind: "image", Prompt: "x", Variations: 1})
	if err != nil {
		t.Fatalf("Quote returned error: %v", err)
	}
	if quote.Points != 7 || calls.Load() != 3 {
		t.Fatalf("unexpected result points=%d calls=%d", quote.Points, calls.Load())
	}
}

func TestClientGenerateItemsAndErrors(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = io.WriteString(w, `{"items":[
			{"jobs":[{"channel":"albedo","job_id":"a1"},{"channel":"normal","job_id":"n1"}],"cost":5},
			{"error":{"code":"content_policy","message":"blocked"}}
		]}`)
	})
	result, err := client.Generate(context.Background(), Request{Kind: "material", Prompt: "x", Variations: 2})
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if result.Rejection != nil {
		t.Fatalf("unexpected rejection %v", result.Rejection)
	}
	if len(result.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(result.Items))
	}
	if len(result.Items[0].Jobs) != 2 || result.Items[0].Jobs[1].JobID != "n1" {
		t.Fatalf("unexpected first item %+v", result.Items[0])
	}
	if result.Items[1].Error == nil || result.Items[1].Error.Code != CodeContentPolicy {
		t.Fatalf("expected item error, got %+v", result.Items[1])
	}
}

func TestClientGenerateRejectionIsNotError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = io.WriteString(w, `{"error_code":"invalid_request","messages":["bad seed"]}`)
	})
	result, err := client.Generate(context.Background(), Request{Kind: "image", Prompt: "x", Variations: 1})
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if result.Rejection == nil || result.Rejection.Code != CodeInvalidRequest {
		t.Fatalf("expected invalid_request rejection, got %+v", result.Rejection)
	}
}

func TestClientGenerateDoesNotRetryGatewayErrors(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}, WithRetryMaxAttempts(4))
	if _, err := client.Generate(context.Background(), Request{Kind: "image", Prompt: "x", Variations: 1}); err == nil {
		t.Fatal("expected generate to fail")
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single call, got %d", calls.Load())
	}
}

func TestClientGenerateRetriesTooManyRequests(t *testing.T) {
	var calls atomic.Int32
	var slept []time.Duration
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = io.WriteString(w, `{"items":[{"jobs":[{"channel":"primary","job_id":"j1"}]}]}`)
	}, WithRetryMaxAttempts(3), WithRetryBackoff(time.Second, 5*time.Second), WithSleeper(func(d time.Duration) {
		slept = append(slept, d)
	}))
	result, err := client.Generate(context.Background(), Request{Kind: "image", Prompt: "x", Variations: 1})
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if len(result.Items) != 1 {
		t.Fatalf("unexpected items %+v", result.Items)
	}
	if len(slept) != 1 || slept[0] != 2*time.Second {
		t.Fatalf("expected Retry-After honoured, got %v", slept)
	}
}

func TestClientResolveDownloadURLPollsUntilReady(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/jobs/job-1/result" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if calls.Add(1) < 3 {
			_, _ = io.WriteString(w, `{"status":"pending"}`)
			return
		}
		_, _ = io.WriteString(w, `{"status":"ready","url":"https://cdn.example.com/job-1.png"}`)
	})
	got, err := client.ResolveDownloadURL(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("ResolveDownloadURL returned error: %v", err)
	}
	if got != "https://cdn.example.com/job-1.png" {
		t.Fatalf("unexpected url %q", got)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 polls, got %d", calls.Load())
	}
}

func TestClientResolveDownloadURLNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	_, err := client.ResolveDownloadURL(context.Background(), "gone")
	var jobErr *JobError
	if !errors.As(err, &jobErr) || !jobErr.NotFound {
		t.Fatalf("expected not-found job error, got %v", err)
	}
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatal("expected ErrNotFound classification")
	}
}

func TestClientResolveDownloadURLFailedJob(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status":"failed","message":"nsfw"}`)
	})
	_, err := client.ResolveDownloadURL(context.Background(), "bad")
	if !errors.Is(err, services.ErrGroupHardFailed) {
		t.Fatalf("expected hard failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "nsfw") {
		t.Fatalf("expected service message in error, got %v", err)
	}
}

func TestClientResolveDownloadURLExhaustedRetriesAreTransient(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}, WithRetryMaxAttempts(3))
	_, err := client.ResolveDownloadURL(context.Background(), "flaky")
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient classification, got %v", err)
	}
	var jobErr *JobError
	if errors.As(err, &jobErr) || errors.Is(err, services.ErrGroupHardFailed) {
		t.Fatalf("transport failure must not look like a failed job: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 polls, got %d", calls.Load())
	}
}

func TestClientResolveDownloadURLHonoursDeadline(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status":"pending"}`)
	}, WithPollInterval(5*time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	_, err := client.ResolveDownloadURL(ctx, "slow")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestClientUploadAndRelease(t *testing.T) {
	var released atomic.Bool
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/uploads":
			if r.Header.Get("X-Filename") != "ref.png" {
				t.Errorf("missing filename header")
			}
			body, _ := io.ReadAll(r.Body)
			if string(body) != "pixels" {
				t.Errorf("unexpected body %q", body)
			}
			_, _ = io.WriteString(w, `{"asset_id":"as-1"}`)
		case r.Method == http.MethodDelete && r.URL.Path == "/api/v1/uploads/as-1":
			released.Store(true)
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	upload, err := client.Upload(context.Background(), "ref.png", strings.NewReader("pixels"))
	if err != nil {
		t.Fatalf("Upload returned error: %v", err)
	}
	if upload.AssetID != "as-1" {
		t.Fatalf("unexpected asset id %q", upload.AssetID)
	}
	if err := client.ReleaseUpload(context.Background(), upload.AssetID); err != nil {
		t.Fatalf("ReleaseUpload returned error: %v", err)
	}
	if !released.Load() {
		t.Fatal("expected release request")
	}
	if err := client.ReleaseUpload(context.Background(), "missing"); err != nil {
		t.Fatalf("releasing an unknown upload should succeed, got %v", err)
	}
}

func TestClientFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = io.WriteString(w, "artifact-bytes")
	}))
	defer server.Close()
	client := NewClient(Config{BaseURL: server.URL})

	body, err := client.Fetch(context.Background(), server.URL+"/a.png")
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	data, _ := io.ReadAll(body)
	_ = body.Close()
	if string(data) != "artifact-bytes" {
		t.Fatalf("unexpected body %q", data)
	}
	if _, err := client.Fetch(context.Background(), server.URL+"/missing"); err == nil {
		t.Fatal("expected fetch of missing artifact to fail")
	}
}

func TestClientFetchOutlivesRequestTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for i := 0; i < 4; i++ {
			_, _ = io.WriteString(w, "chunk")
			flusher.Flush()
			time.Sleep(100 * time.Millisecond)
		}
	}))
	defer server.Close()
	client := NewClient(Config{BaseURL: server.URL})
	client.requestTimeout = 150 * time.Millisecond
	client.httpClient = defaultHTTPClient(150 * time.Millisecond)

	body, err := client.Fetch(context.Background(), server.URL+"/slow.wav")
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("slow body should be read in full: %v", err)
	}
	if string(data) != strings.Repeat("chunk", 4) {
		t.Fatalf("unexpected body %q", data)
	}
}

func TestClientRetriesTimedOutJSONCalls(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			time.Sleep(200 * time.Millisecond)
		}
		_ = json.NewEncoder(w).Encode(Quote{Points: 7})
	})
	client.requestTimeout = 50 * time.Millisecond
	quote, err := client.Quote(context.Background(), Request{Kind: "image", Prompt: "rock", Variations: 1})
	if err != nil {
		t.Fatalf("expected retry after request timeout, got %v", err)
	}
	if quote.Points != 7 {
		t.Fatalf("unexpected points %d", quote.Points)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", calls.Load())
	}
}

func TestRetryDelayClassifiesErrors(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://example.invalid"})
	if _, retry := client.retryDelay(context.Background(), context.Canceled, 1, 4); retry {
		t.Fatal("context.Canceled must not be retried")
	}
	if _, retry := client.retryDelay(context.Background(), context.DeadlineExceeded, 1, 4); !retry {
		t.Fatal("a per-request timeout under a live context should be retried")
	}
	expired, cancel := context.WithTimeout(context.Background(), -time.Second)
	defer cancel()
	if _, retry := client.retryDelay(expired, context.DeadlineExceeded, 1, 4); retry {
		t.Fatal("an expired caller context must not be retried")
	}
	if _, retry := client.retryDelay(context.Background(), &httpStatusError{StatusCode: 400}, 1, 4); retry {
		t.Fatal("400 must not be retried")
	}
	if _, retry := client.retryDelay(context.Background(), &httpStatusError{StatusCode: 503}, 1, 4); !retry {
		t.Fatal("503 should be retried")
	}
}

func TestBackoffDelayDoublesAndCaps(t *testing.T) {
	client := NewClient(Config{}, WithRetryBackoff(time.Second, 5*time.Second))
	cases := map[int]time.Duration{1: time.Second, 2: 2 * time.Second, 3: 4 * time.Second, 4: 5 * time.Second, 9: 5 * time.Second}
	for attempt, want := range cases {
		if got := client.backoffDelay(attempt); got != want {
			t.Fatalf("attempt %d: got %s want %s", attempt, got, want)
		}
	}
}

func TestParseRetryAfter(t *testing.T) {
	if d, ok := parseRetryAfter("3"); !ok || d != 3*time.Second {
		t.Fatalf("unexpected parse: %s %v", d, ok)
	}
	if _, ok := parseRetryAfter("-1"); ok {
		t.Fatal("negative retry-after should be rejected")
	}
	if _, ok := parseRetryAfter("soon"); ok {
		t.Fatal("garbage retry-after should be rejected")
	}
}
