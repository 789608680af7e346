package embed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

// newEmbedServer returns a server answering /embeddings with vectors of
// the given dimension, derived from input order.
func newEmbedServer(t *testing.T, dim int, batchSizes *[]int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embeddingsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if batchSizes != nil {
			*batchSizes = append(*batchSizes, len(req.Input))
		}
		var resp embeddingsResponse
		for i := range req.Input {
			vec := make([]float32, dim)
			vec[0] = float32(i + 1)
			resp.Data = append(resp.Data, struct {
				Index     int       `json:"index"`
				Embedding []float32 `json:"embedding"`
			}{Index: i, Embedding: vec})
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func newTestClient(t *testing.T, url string, maxBatch int) *OpenAIClient {
	t.Helper()
	c, err := NewOpenAIClient(OpenAIConfig{
		BaseURL:  url,
		APIKey:   "test-key",
		Model:    "test-model",
		MaxBatch: maxBatch,
	})
	if err != nil {
		t.Fatalf("NewOpenAIClient: %v", err)
	}
	return c
}

func TestOpenAIEmbedOrderAndDimension(t *testing.T) {
	srv := newEmbedServer(t, 4, nil)
	defer srv.Close()

	c := newTestClient(t, srv.URL, 64)
	vecs, err := c.Embed(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("got %d vectors, want 3", len(vecs))
	}
	for i, v := range vecs {
		if len(v) != 4 {
			t.Errorf("vector %d has dim %d", i, len(v))
		}
		if v[0] != float32(i+1) {
			t.Errorf("vector %d out of order: first component %v", i, v[0])
		}
	}
	if c.Dimension() != 4 {
		t.Errorf("Dimension = %d, want 4", c.Dimension())
	}
}

func TestOpenAIEmbedSplitsBatches(t *testing.T) {
	var batchSizes []int
	srv := newEmbedServer(t, 2, &batchSizes)
	defer srv.Close()

	c := newTestClient(t, srv.URL, 2)
	texts := []string{"a", "b", "c", "d", "e"}
	vecs, err := c.Embed(context.Background(), texts)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("got %d vectors, want %d", len(vecs), len(texts))
	}
	want := []int{2, 2, 1}
	if fmt.Sprint(batchSizes) != fmt.Sprint(want) {
		t.Errorf("batch sizes = %v, want %v", batchSizes, want)
	}
}

func TestOpenAIEmbedRetriesTransient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(embeddingsResponse{Data: []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		}{{Index: 0, Embedding: []float32{1, 2}}}})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 64)
	vecs, err := c.Embed(context.Background(), []string{"a"})
	if err != nil {
		t.Fatalf("Embed after transient failures: %v", err)
	}
	if len(vecs) != 1 {
		t.Fatalf("got %d vectors", len(vecs))
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server saw %d calls, want 3", got)
	}
}

func TestOpenAIEmbedAuthFailsImmediately(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 64)
	_, err := c.Embed(context.Background(), []string{"a"})

	var embErr *Error
	if !errors.As(err, &embErr) {
		t.Fatalf("error type = %T, want *embed.Error", err)
	}
	if embErr.Kind != KindAuth {
		t.Errorf("Kind = %v, want auth", embErr.Kind)
	}
	if embErr.Transient() {
		t.Error("auth failure must not be transient")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server saw %d calls, want 1 (no retry)", got)
	}
}

func TestOpenAIEmbedEmptyInput(t *testing.T) {
	c := newTestClient(t, "http://unused.invalid", 64)
	vecs, err := c.Embed(context.Background(), nil)
	if err != nil || vecs != nil {
		t.Errorf("Embed(nil) = %v, %v; want nil, nil", vecs, err)
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status    int
		kind      Kind
		transient bool
	}{
		{http.StatusUnauthorized, KindAuth, false},
		{http.StatusForbidden, KindAuth, false},
		{http.StatusTooManyRequests, KindRateLimit, true},
		{http.StatusBadRequest, KindBadRequest, false},
		{http.StatusInternalServerError, KindUnavailable, true},
		{http.StatusBadGateway, KindUnavailable, true},
	}
	for _, tt := range tests {
		e := classifyStatus(tt.status, nil)
		if e.Kind != tt.kind {
			t.Errorf("status %d: Kind = %v, want %v", tt.status, e.Kind, tt.kind)
		}
		if e.Transient() != tt.transient {
			t.Errorf("status %d: Transient = %v, want %v", tt.status, e.Transient(), tt.transient)
		}
	}
}
