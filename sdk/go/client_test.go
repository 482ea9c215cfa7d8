package engram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRememberSendsAuthAndDecodes(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody RememberRequest

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"success":true,"data":{"id":"mem_01","stored":true,"duplicate":false}}`))
	}))
	defer ts.Close()

	client := NewClient(ClientConfig{BaseURL: ts.URL, Token: "engram_test_token"})
	res, err := client.Remember(context.Background(), &RememberRequest{
		Content: "hello",
		Type:    TypeFact,
	})
	if err != nil {
		t.Fatalf("remember: %v", err)
	}

	if gotAuth != "Bearer engram_test_token" {
		t.Errorf("expected bearer header, got %q", gotAuth)
	}
	if gotPath != "/v1/memory/remember" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if gotBody.Content != "hello" || gotBody.Type != TypeFact {
		t.Errorf("unexpected body %+v", gotBody)
	}
	if res.ID != "mem_01" || !res.Stored || res.Duplicate {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestRecallDecodesMemories(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"data":{"memories":[
			{"id":"mem_a","content":"use ulids","type":"decision","tags":["ids"],
			 "score":0.8,"decayScore":0.9,"weightedScore":0.72,
			 "createdAt":"2026-05-01T10:00:00.000Z","invalidated":true,
			 "invalidatedAt":1770000000000,"replacedBy":"mem_b"}
		]},"meta":{"count":1,"took_ms":12}}`))
	}))
	defer ts.Close()

	client := NewClient(ClientConfig{BaseURL: ts.URL, Token: "tok"})
	memories, err := client.Recall(context.Background(), &RecallRequest{Query: "ids"})
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if len(memories) != 1 {
		t.Fatalf("expected 1 memory, got %d", len(memories))
	}
	m := memories[0]
	if m.ID != "mem_a" || m.WeightedScore != 0.72 {
		t.Errorf("unexpected memory %+v", m)
	}
	if !m.Invalidated || m.ReplacedBy != "mem_b" {
		t.Errorf("expected superseded memory, got %+v", m)
	}
}

func TestErrorEnvelopeBecomesAPIError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"success":false,"error":{"code":"FORBIDDEN",
			"message":"Insufficient permissions",
			"details":{"required":["memory:write"]}}}`))
	}))
	defer ts.Close()

	client := NewClient(ClientConfig{BaseURL: ts.URL, Token: "tok"})
	_, err := client.Remember(context.Background(), &RememberRequest{Content: "x"})
	if err == nil {
		t.Fatal("expected error")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.Status != http.StatusForbidden || apiErr.Code != "FORBIDDEN" {
		t.Errorf("unexpected error %+v", apiErr)
	}
	if apiErr.Error() != "engram: Insufficient permissions (FORBIDDEN, http 403)" {
		t.Errorf("unexpected message %q", apiErr.Error())
	}
}

func TestHealthUsesGet(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/healthz" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Write([]byte(`{"success":true,"data":{"status":"healthy","components":{"graph":"ok","search":"degraded"}}}`))
	}))
	defer ts.Close()

	client := NewClient(ClientConfig{BaseURL: ts.URL})
	status, err := client.Health(context.Background())
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if status.Status != "healthy" || status.Components["search"] != "degraded" {
		t.Errorf("unexpected status %+v", status)
	}
}
