package parser

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTikaTestServer(t *testing.T, text string, meta string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		switch r.URL.Path {
		case "/tika":
			assert.Equal(t, "application/pdf", r.Header.Get("Content-Type"))
			w.Write([]byte(text))
		case "/meta":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(meta))
		default:
			t.Fatalf("意外的请求路径: %s", r.URL.Path)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestTikaExtractTextFromBytes(t *testing.T) {
	server := newTikaTestServer(t, "Ada Lovelace\nSenior Engineer",
		`{"xmpTPg:NPages":"2","dc:title":"resume","X-Internal-Field":"drop me"}`)

	extractor := NewTikaPDFExtractor(server.URL)
	text, metadata, err := extractor.ExtractTextFromBytes(context.Background(), []byte("%PDF-1.4 fake"), "resume.pdf", nil)
	require.NoError(t, err)

	assert.Contains(t, text, "Ada Lovelace")
	// 精简元数据只保留白名单字段
	assert.Equal(t, "2", metadata["xmpTPg:NPages"])
	assert.Equal(t, "resume", metadata["dc:title"])
	assert.NotContains(t, metadata, "X-Internal-Field")
	assert.Equal(t, "resume.pdf", metadata["source_file_path"])
}

func TestTikaExtractTextFromReader(t *testing.T) {
	server := newTikaTestServer(t, "plain resume text", `{}`)

	extractor := NewTikaPDFExtractor(server.URL, WithMinimalMetadata(false))
	text, metadata, err := extractor.ExtractTextFromReader(context.Background(),
		strings.NewReader("%PDF-1.4 fake"), "r.pdf", nil)
	require.NoError(t, err)

	assert.Equal(t, "plain resume text", text)
	assert.Contains(t, metadata, "text_length")
}

func TestTikaServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	t.Cleanup(server.Close)

	extractor := NewTikaPDFExtractor(server.URL)
	_, _, err := extractor.ExtractTextFromBytes(context.Background(), []byte("broken"), "bad.pdf", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
}

func TestAsMetaMap(t *testing.T) {
	assert.Empty(t, asMetaMap(nil))

	meta := map[string]interface{}{"k": "v"}
	assert.Equal(t, meta, asMetaMap(meta))

	wrapped := asMetaMap("raw string")
	assert.Equal(t, "raw string", wrapped["original_options"])
}
