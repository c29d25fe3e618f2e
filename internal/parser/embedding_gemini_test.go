package parser

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"resume-match-go/internal/config"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEmbedder(t *testing.T, handler http.HandlerFunc) (*GeminiEmbedder, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	embedder, err := NewGeminiEmbedder(config.GeminiConfig{
		APIKey:     "test-key",
		BaseURL:    server.URL,
		Model:      "gemini-embedding-001",
		Dimensions: 4,
	})
	require.NoError(t, err)
	return embedder, server
}

func TestGeminiEmbedderEmbedStrings(t *testing.T) {
	var gotReq geminiEmbedRequest
	embedder, _ := newTestEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		json.NewEncoder(w).Encode(map[string]any{
			"embeddings": []map[string]any{
				{"values": []float64{0.1, 0.2, 0.3, 0.4}},
				{"values": []float64{0.5, 0.6, 0.7, 0.8}},
			},
		})
	})

	vectors, err := embedder.EmbedStrings(context.Background(), []string{"后端工程师", "数据工程师"})
	require.NoError(t, err)

	require.Len(t, vectors, 2)
	assert.Equal(t, []float64{0.1, 0.2, 0.3, 0.4}, vectors[0])

	require.Len(t, gotReq.Requests, 2)
	assert.Equal(t, "models/gemini-embedding-001", gotReq.Requests[0].Model)
	assert.Equal(t, 4, gotReq.Requests[0].OutputDimensionality)
	assert.Equal(t, "后端工程师", gotReq.Requests[0].Content.Parts[0].Text)
}

func TestGeminiEmbedderAPIError(t *testing.T) {
	embedder, _ := newTestEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"code": 403, "message": "API key not valid", "status": "PERMISSION_DENIED"},
		})
	})

	_, err := embedder.EmbedStrings(context.Background(), []string{"text"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key not valid")
}

func TestGeminiEmbedderCountMismatch(t *testing.T) {
	embedder, _ := newTestEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"embeddings": []map[string]any{{"values": []float64{0.1}}},
		})
	})

	_, err := embedder.EmbedStrings(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "嵌入数量不匹配")
}

func TestGeminiEmbedderEmptyInput(t *testing.T) {
	embedder, _ := newTestEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("空输入不应发起HTTP请求")
	})

	vectors, err := embedder.EmbedStrings(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
}

// fakeEmbeddingCache 内存缓存，记录读写次数
type fakeEmbeddingCache struct {
	data map[string][]float64
	hits int
	sets int
}

func (f *fakeEmbeddingCache) GetEmbedding(_ context.Context, text string) ([]float64, error) {
	if v, ok := f.data[text]; ok {
		f.hits++
		return v, nil
	}
	return nil, assert.AnError
}

func (f *fakeEmbeddingCache) SetEmbedding(_ context.Context, text string, vector []float64) error {
	f.data[text] = vector
	f.sets++
	return nil
}

// countingEmbedder 记录调用次数和收到的文本
type countingEmbedder struct {
	calls    int
	received []string
}

func (c *countingEmbedder) EmbedStrings(_ context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	c.calls++
	c.received = append(c.received, texts...)
	out := make([][]float64, len(texts))
	for i := range texts {
		out[i] = []float64{float64(len(texts[i]))}
	}
	return out, nil
}

func TestCachedEmbedderReadThrough(t *testing.T) {
	cache := &fakeEmbeddingCache{data: map[string][]float64{
		"cached text": {9.9},
	}}
	inner := &countingEmbedder{}
	embedder := NewCachedEmbedder(inner, cache)

	vectors, err := embedder.EmbedStrings(context.Background(), []string{"cached text", "fresh text"})
	require.NoError(t, err)

	require.Len(t, vectors, 2)
	assert.Equal(t, []float64{9.9}, vectors[0], "命中走缓存")
	assert.NotEmpty(t, vectors[1])

	// 只有未命中的文本打到底层嵌入器
	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, []string{"fresh text"}, inner.received)
	assert.Equal(t, 1, cache.sets, "新结果应回填缓存")

	// 第二次全部命中，底层不再被调用
	_, err = embedder.EmbedStrings(context.Background(), []string{"cached text", "fresh text"})
	require.NoError(t, err)
	assert.Equal(t, 1, inner.calls)
}

func TestCachedEmbedderNilCache(t *testing.T) {
	inner := &countingEmbedder{}
	embedder := NewCachedEmbedder(inner, nil)

	vectors, err := embedder.EmbedStrings(context.Background(), []string{"text"})
	require.NoError(t, err)
	assert.Len(t, vectors, 1)
	assert.Equal(t, 1, inner.calls)
}
