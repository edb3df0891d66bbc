package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/covera/internal/core/domain"
)

func newTestService(t *testing.T, handler http.HandlerFunc) *EmbeddingService {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	svc, err := NewEmbeddingService(Config{BaseURL: server.URL})
	require.NoError(t, err)
	return svc
}

func TestNewEmbeddingService_Defaults(t *testing.T) {
	svc, err := NewEmbeddingService(Config{})

	require.NoError(t, err)
	assert.Equal(t, DefaultModel, svc.ModelName())
	assert.Equal(t, DefaultDimensions, svc.Dimensions())
	assert.NoError(t, svc.Close())
}

func TestNewEmbeddingService_BadURL(t *testing.T) {
	_, err := NewEmbeddingService(Config{BaseURL: "http://[::1"})

	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestEmbedBatch(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)
		assert.Equal(t, []string{"towing", "glass"}, req.Input)
		_, _ = w.Write([]byte(`{"model":"nomic-embed-text","embeddings":[[0.5,0.5],[0.25,0.75]]}`))
	})

	vectors, err := svc.EmbedBatch(context.Background(), []string{"towing", "glass"})

	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0.5, 0.5}, {0.25, 0.75}}, vectors)
}

func TestEmbedBatch_Empty(t *testing.T) {
	svc := newTestService(t, func(http.ResponseWriter, *http.Request) {
		t.Fatal("no request expected")
	})

	vectors, err := svc.EmbedBatch(context.Background(), nil)

	require.NoError(t, err)
	assert.Nil(t, vectors)
}

func TestEmbedBatch_CountMismatch(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"embeddings":[[1]]}`))
	})

	_, err := svc.EmbedBatch(context.Background(), []string{"a", "b"})

	assert.ErrorContains(t, err, "got 1 embeddings for 2 inputs")
}

func TestEmbed_ServerError(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"model loading"}`))
	})

	_, err := svc.Embed(context.Background(), "text")

	assert.ErrorIs(t, err, domain.ErrServiceUnavailable)
	assert.True(t, domain.IsTransient(err))
	assert.ErrorContains(t, err, "model loading")
}

func TestEmbed_UnknownModel(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model \"nomic-embed-text\" not found"}`))
	})

	_, err := svc.Embed(context.Background(), "text")

	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.False(t, domain.IsTransient(err))
}

func TestEmbed_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	svc, err := NewEmbeddingService(Config{BaseURL: url})
	require.NoError(t, err)

	_, err = svc.Embed(context.Background(), "text")
	assert.ErrorIs(t, err, domain.ErrServiceUnavailable)
	assert.ErrorIs(t, svc.Ping(context.Background()), domain.ErrServiceUnavailable)
}

func TestPing(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		_, _ = w.Write([]byte(`{"models":[]}`))
	})

	assert.NoError(t, svc.Ping(context.Background()))
}
