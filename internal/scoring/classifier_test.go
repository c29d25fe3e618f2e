package scoring

import (
	"context"
	"errors"
	"testing"

	"resume-match-go/internal/agent"
	"resume-match-go/internal/storage/models"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbedder 按预置表返回向量，未命中的文本给默认向量
type fakeEmbedder struct {
	vectors map[string][]float64
	fallback []float64
}

func (f *fakeEmbedder) EmbedStrings(_ context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, text := range texts {
		if vec, ok := f.vectors[text]; ok {
			out[i] = vec
		} else {
			out[i] = f.fallback
		}
	}
	return out, nil
}

type failingEmbedder struct{}

func (failingEmbedder) EmbedStrings(context.Context, []string, ...embedding.Option) ([][]float64, error) {
	return nil, errors.New("embedding service unavailable")
}

// fakeCategoryStore 内存版分类存储
type fakeCategoryStore struct {
	categories map[string]*models.Category
	nextID     uint64
	err        error
}

func newFakeCategoryStore() *fakeCategoryStore {
	return &fakeCategoryStore{categories: make(map[string]*models.Category), nextID: 1}
}

func (f *fakeCategoryStore) GetOrCreateCategory(_ context.Context, name string) (*models.Category, error) {
	if f.err != nil {
		return nil, f.err
	}
	if c, ok := f.categories[name]; ok {
		return c, nil
	}
	c := &models.Category{CategoryID: f.nextID, Name: name}
	f.nextID++
	f.categories[name] = c
	return c, nil
}

func TestClassifyByIndexMatch(t *testing.T) {
	embedder := &fakeEmbedder{
		vectors: map[string][]float64{
			"Backend Engineering":                         {1, 0},
			"Backend Engineer\nWe build Go microservices.": {1, 0},
		},
		fallback: []float64{0, 1},
	}
	mock := agent.NewMockChatClient("", errors.New("不应被调用"))
	store := newFakeCategoryStore()

	c := NewClassifier(embedder, mock, store)
	require.NoError(t, c.RegisterCategory(context.Background(), "Backend Engineering"))

	classification, category, err := c.Classify(context.Background(), "Backend Engineer", "We build Go microservices.")
	require.NoError(t, err)

	assert.Equal(t, "Backend Engineering", classification.Category)
	assert.Equal(t, "index", classification.Source)
	assert.InDelta(t, 1.0, classification.Confidence, 1e-4)
	assert.Equal(t, "Backend Engineering", category.Name)
	assert.Zero(t, mock.CallCount, "高置信命中不走oracle")
}

func TestClassifyFallsBackToOracle(t *testing.T) {
	embedder := &fakeEmbedder{
		vectors: map[string][]float64{
			"Backend Engineering": {1, 0},
		},
		fallback: []float64{0, 1},
	}
	mock := agent.NewMockChatClient(`{"category": "Product Management"}`, nil)
	store := newFakeCategoryStore()

	c := NewClassifier(embedder, mock, store)
	require.NoError(t, c.RegisterCategory(context.Background(), "Backend Engineering"))

	classification, category, err := c.Classify(context.Background(), "PM", "Own the roadmap.")
	require.NoError(t, err)

	assert.Equal(t, "Product Management", classification.Category)
	assert.Equal(t, "oracle", classification.Source)
	assert.Equal(t, "Product Management", category.Name)
	assert.Equal(t, 1, mock.CallCount)

	// 新分类应被自动登记进索引
	assert.True(t, c.index.Contains("Product Management"))
	assert.Contains(t, store.categories, "Product Management")
}

func TestClassifyEmptyIndexGoesToOracle(t *testing.T) {
	embedder := &fakeEmbedder{fallback: []float64{0, 1}}
	mock := agent.NewMockChatClient("```json\n{\"category\": \"Data Engineering\"}\n```", nil)

	c := NewClassifier(embedder, mock, newFakeCategoryStore())
	classification, _, err := c.Classify(context.Background(), "Data Engineer", "Build pipelines.")
	require.NoError(t, err)

	assert.Equal(t, "Data Engineering", classification.Category)
	assert.Equal(t, "oracle", classification.Source)
}

func TestClassifyOracleFailureUsesFallback(t *testing.T) {
	embedder := &fakeEmbedder{fallback: []float64{0, 1}}
	mock := agent.NewMockChatClient("", errors.New("rate limited"))
	store := newFakeCategoryStore()

	c := NewClassifier(embedder, mock, store)
	classification, category, err := c.Classify(context.Background(), "Mystery Role", "???")
	require.NoError(t, err)

	assert.Equal(t, "Other", classification.Category)
	assert.Equal(t, "fallback", classification.Source)
	assert.Equal(t, "Other", category.Name)
}

func TestClassifyOracleUnparsableUsesFallback(t *testing.T) {
	embedder := &fakeEmbedder{fallback: []float64{0, 1}}
	mock := agent.NewMockChatClient("I think this is probably engineering related.", nil)

	c := NewClassifier(embedder, mock, newFakeCategoryStore())
	classification, _, err := c.Classify(context.Background(), "Role", "Text")
	require.NoError(t, err)

	assert.Equal(t, "Other", classification.Category)
	assert.Equal(t, "fallback", classification.Source)
}

func TestClassifyEmbeddingFailureStillClassifies(t *testing.T) {
	mock := agent.NewMockChatClient(`{"category": "Sales"}`, nil)
	store := newFakeCategoryStore()

	c := NewClassifier(failingEmbedder{}, mock, store)
	classification, _, err := c.Classify(context.Background(), "AE", "Close deals.")
	require.NoError(t, err)

	assert.Equal(t, "Sales", classification.Category)
	assert.Equal(t, "oracle", classification.Source)
}

func TestClassifyStoreError(t *testing.T) {
	embedder := &fakeEmbedder{fallback: []float64{0, 1}}
	mock := agent.NewMockChatClient(`{"category": "Sales"}`, nil)
	store := newFakeCategoryStore()
	store.err = errors.New("db down")

	c := NewClassifier(embedder, mock, store)
	_, _, err := c.Classify(context.Background(), "AE", "Close deals.")
	assert.Error(t, err)
}

func TestRegisterCategoryIdempotent(t *testing.T) {
	embedder := &fakeEmbedder{fallback: []float64{1, 0}}
	c := NewClassifier(embedder, agent.NewMockChatClient("", nil), newFakeCategoryStore())

	require.NoError(t, c.RegisterCategory(context.Background(), "Backend Engineering"))
	require.NoError(t, c.RegisterCategory(context.Background(), "Backend Engineering"))
	assert.Equal(t, 1, c.index.Len())

	assert.Error(t, c.RegisterCategory(context.Background(), ""))
}

func TestWithMatchThreshold(t *testing.T) {
	embedder := &fakeEmbedder{
		vectors: map[string][]float64{
			"Backend Engineering": {1, 0},
			"Role\nText":          {0.7, 0.714},
		},
		fallback: []float64{0, 1},
	}
	mock := agent.NewMockChatClient("", errors.New("不应被调用"))

	// 阈值放宽到0.5后，中等相似度也能直接命中索引
	c := NewClassifier(embedder, mock, newFakeCategoryStore(), WithMatchThreshold(0.5))
	require.NoError(t, c.RegisterCategory(context.Background(), "Backend Engineering"))

	classification, _, err := c.Classify(context.Background(), "Role", "Text")
	require.NoError(t, err)
	assert.Equal(t, "index", classification.Source)
	assert.Zero(t, mock.CallCount)
}
