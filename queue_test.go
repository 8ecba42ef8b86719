package hostsdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/relaydash/hostsdk/internal/wire"
)

func TestRestClient_Notify_PostsToNotifyEndpoint(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody wire.NotifyInputs

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newRESTClient(srv.URL, "test-key")
	err := c.Notify(context.Background(), wire.NotifyInputs{Message: "hello", CreatedAt: "2026-07-31T00:00:00Z"})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}

	if gotPath != "/api/notify" {
		t.Errorf("path = %q, want /api/notify", gotPath)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("Authorization = %q, want Bearer test-key", gotAuth)
	}
	if gotBody.Message != "hello" {
		t.Errorf("Message = %q, want hello", gotBody.Message)
	}
}

func TestRestClient_Notify_NonSuccessStatusReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("forbidden"))
	}))
	defer srv.Close()

	c := newRESTClient(srv.URL, "test-key")
	if err := c.Notify(context.Background(), wire.NotifyInputs{Message: "hello"}); err == nil {
		t.Fatal("expected an error for a non-2xx response")
	}
}

func TestRestClient_EnqueueAction_DecodesResult(t *testing.T) {
	var gotBody wire.EnqueueActionInputs

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(EnqueueActionResult{ID: "run-123"})
	}))
	defer srv.Close()

	c := newRESTClient(srv.URL, "test-key")
	result, err := c.EnqueueAction(context.Background(), wire.EnqueueActionInputs{Slug: "send_invoice"})
	if err != nil {
		t.Fatalf("EnqueueAction: %v", err)
	}
	if result.ID != "run-123" {
		t.Errorf("ID = %q, want run-123", result.ID)
	}
	if gotBody.Slug != "send_invoice" {
		t.Errorf("Slug = %q, want send_invoice", gotBody.Slug)
	}
}

func TestRestClient_DequeueAction_PostsID(t *testing.T) {
	var gotPath string
	var gotBody wire.DequeueActionInputs

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newRESTClient(srv.URL, "test-key")
	if err := c.DequeueAction(context.Background(), wire.DequeueActionInputs{ID: "run-123"}); err != nil {
		t.Fatalf("DequeueAction: %v", err)
	}
	if gotPath != "/api/actions/dequeue" {
		t.Errorf("path = %q, want /api/actions/dequeue", gotPath)
	}
	if gotBody.ID != "run-123" {
		t.Errorf("ID = %q, want run-123", gotBody.ID)
	}
}

func TestRestBaseURL_ConvertsWebsocketScheme(t *testing.T) {
	cases := map[string]string{
		"ws://example.com/websocket":                 "http://example.com",
		"wss://example.com/websocket?foo=bar#frag":    "https://example.com",
		"wss://example.com:8080/ws":                   "https://example.com:8080",
	}
	for in, want := range cases {
		if got := restBaseURL(in); got != want {
			t.Errorf("restBaseURL(%q) = %q, want %q", in, got, want)
		}
	}
}
