package httpx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestDoerSendsJSONHeaders(t *testing.T) {
	var gotContentType, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"accepted":true}`))
	}))
	defer srv.Close()

	d := Doer{Client: srv.Client()}
	status, body, err := d.Do(context.Background(), http.MethodPost, srv.URL,
		[]byte(`{"notice_id":"n1"}`), map[string]string{"Authorization": "Bearer tok"})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if status != http.StatusAccepted {
		t.Fatalf("status = %d", status)
	}
	if string(body) != `{"accepted":true}` {
		t.Fatalf("body = %q", body)
	}
	if gotContentType != "application/json" {
		t.Fatalf("content type = %q", gotContentType)
	}
	if gotAuth != "Bearer tok" {
		t.Fatalf("auth header = %q", gotAuth)
	}
}

func TestDoerRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := Doer{Client: srv.Client(), Retries: 3, RetryDelay: time.Millisecond}
	status, _, err := d.Do(context.Background(), http.MethodPost, srv.URL, nil, nil)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if status != http.StatusOK {
		t.Fatalf("status = %d after retries", status)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestDoerReturnsFinalServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := Doer{Client: srv.Client(), Retries: 1, RetryDelay: time.Millisecond}
	status, _, err := d.Do(context.Background(), http.MethodPost, srv.URL, nil, nil)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if status != http.StatusInternalServerError {
		t.Fatalf("expected final 500 after exhausting retries, got %d", status)
	}
}

func TestDoerTransportErrorAfterRetries(t *testing.T) {
	d := Doer{
		Client:     &http.Client{Timeout: 20 * time.Millisecond},
		Retries:    1,
		RetryDelay: time.Millisecond,
	}
	_, _, err := d.Do(context.Background(), http.MethodPost, "http://127.0.0.1:1/review", nil, nil)
	if err == nil {
		t.Fatal("expected transport error")
	}
}

func TestDoerHonorsContextDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := Doer{Client: srv.Client(), Retries: 5, RetryDelay: time.Hour}
	_, _, err := d.Do(ctx, http.MethodPost, srv.URL, nil, nil)
	if err != context.Canceled {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}

func TestDoerBadMethod(t *testing.T) {
	d := Doer{}
	if _, _, err := d.Do(context.Background(), "bad method", "http://example.com", nil, nil); err == nil {
		t.Fatal("expected request construction error")
	}
}
