package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPProviderOpenAIFormatEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(openAIEmbedResponse{
			Data: []struct {
				Embedding []float32 `json:"embedding"`
			}{{Embedding: []float32{0.1, 0.2, 0.3}}},
		})
	}))
	defer srv.Close()

	p := NewHTTPProvider(KindHTTPOpenAI, HTTPConfig{BaseURL: srv.URL, APIKey: "test-key", Model: "text-embedding-3-small", Dimension: 3})
	v, err := p.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, v)
}

func TestHTTPProviderOllamaFormatParsesEmbedding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: []float32{0.4, 0.5}})
	}))
	defer srv.Close()

	p := NewHTTPProvider(KindHTTPOllama, HTTPConfig{BaseURL: srv.URL, Model: "nomic-embed-text", Dimension: 2})
	v, err := p.doOnce(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.4, 0.5}, v)
}

func TestHTTPProviderRetriesOn503(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(cloudRUEmbedResponse{Vector: []float32{1, 2}})
	}))
	defer srv.Close()

	p := NewHTTPProvider(KindHTTPCloudRU, HTTPConfig{BaseURL: srv.URL, Model: "m", Dimension: 2, MaxRetries: 2})
	v, err := p.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, v)
	assert.GreaterOrEqual(t, attempts, 2)
}

func TestHTTPProviderPermanentErrorOn400(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("bad request"))
	}))
	defer srv.Close()

	p := NewHTTPProvider(KindHTTPOpenAI, HTTPConfig{BaseURL: srv.URL, Model: "m", Dimension: 2})
	_, err := p.Embed(context.Background(), "hello")
	require.Error(t, err)
}
