package openai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/recallmem-go/pkg/embedder"
	openaiEmbedder "github.com/oceanbase/recallmem-go/pkg/embedder/openai"
)

func newServer(t *testing.T, handler http.HandlerFunc) string {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv.URL + "/v1"
}

func TestClient_Embed(t *testing.T) {
	var gotModel string
	var gotAuth string
	baseURL := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotModel, _ = body["model"].(string)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","model":"m","data":[{"object":"embedding","index":0,"embedding":[0.5,0.25,0.125]}],"usage":{"prompt_tokens":1,"total_tokens":1}}`))
	})

	client, err := openaiEmbedder.NewClient(&openaiEmbedder.Config{
		APIKey:     "sk-test",
		BaseURL:    baseURL,
		Model:      "custom-embed",
		Dimensions: 3,
	})
	require.NoError(t, err)

	vec, err := client.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 0.25, 0.125}, vec)
	assert.Equal(t, "custom-embed", gotModel)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, 3, client.Dimensions())
	assert.NoError(t, client.Close())
}

func TestClient_EmptyData(t *testing.T) {
	baseURL := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","model":"m","data":[]}`))
	})

	client, err := openaiEmbedder.NewClient(&openaiEmbedder.Config{BaseURL: baseURL})
	require.NoError(t, err)

	_, err = client.Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, embedder.ErrEmptyResponse)
}

func TestClient_ServerError(t *testing.T) {
	baseURL := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	})

	client, err := openaiEmbedder.NewClient(&openaiEmbedder.Config{BaseURL: baseURL})
	require.NoError(t, err)

	_, err = client.Embed(context.Background(), "hello")
	assert.Error(t, err)
}

func TestClient_ClassifiesStatus(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		rejected bool
	}{
		{"unauthorized", http.StatusUnauthorized, true},
		{"forbidden", http.StatusForbidden, true},
		{"bad request", http.StatusBadRequest, true},
		{"rate limited", http.StatusTooManyRequests, false},
		{"unavailable", http.StatusServiceUnavailable, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			baseURL := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"invalid_request_error"}}`))
			})

			client, err := openaiEmbedder.NewClient(&openaiEmbedder.Config{BaseURL: baseURL})
			require.NoError(t, err)

			_, err = client.Embed(context.Background(), "hello")
			require.Error(t, err)
			if tt.rejected {
				assert.ErrorIs(t, err, embedder.ErrRejected)
			} else {
				assert.NotErrorIs(t, err, embedder.ErrRejected)
			}
		})
	}
}

func TestClient_DefaultModelIsSent(t *testing.T) {
	var gotModel string
	baseURL := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotModel, _ = body["model"].(string)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","model":"m","data":[{"object":"embedding","index":0,"embedding":[1]}]}`))
	})

	client, err := openaiEmbedder.NewClient(&openaiEmbedder.Config{BaseURL: baseURL, Dimensions: 1})
	require.NoError(t, err)

	_, err = client.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, openaiEmbedder.DefaultModel, gotModel)
}

func TestClient_Defaults(t *testing.T) {
	client, err := openaiEmbedder.NewClient(&openaiEmbedder.Config{})
	require.NoError(t, err)
	assert.Equal(t, 1536, client.Dimensions())
}
