package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSinkPostsContent(t *testing.T) {
	t.Parallel()

	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Fatalf("unexpected content type: %s", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
	}))
	defer srv.Close()

	sink := NewSink(srv.URL)
	if err := sink.post(context.Background(), "avatar requested: user=alice"); err != nil {
		t.Fatalf("post error = %v", err)
	}
	if !strings.Contains(got["content"], "alice") {
		t.Fatalf("unexpected payload: %#v", got)
	}
}

func TestSinkPostReportsRejection(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad webhook", http.StatusForbidden)
	}))
	defer srv.Close()

	sink := NewSink(srv.URL)
	err := sink.post(context.Background(), "hello")
	if err == nil || !strings.Contains(err.Error(), "webhook rejected") {
		t.Fatalf("expected rejection error, got %v", err)
	}
}

func TestSinkDisabledWithoutEndpoint(t *testing.T) {
	t.Parallel()

	sink := NewSink("  ")
	if sink.Enabled() {
		t.Fatal("blank endpoint must disable the sink")
	}
	// Dispatch on a disabled sink is a no-op, not a panic.
	sink.Requested("alice", "a@x.com", "127.0.0.1")
	sink.Completed("alice", "a@x.com")
}
