package parser

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripCodeFence(t *testing.T) {
	fenced := "```json\n{\"a\": 1}\n```"
	assert.Equal(t, `{"a": 1}`, StripCodeFence(fenced))

	// 无语言标记的围栏
	assert.Equal(t, `{"a": 1}`, StripCodeFence("```\n{\"a\": 1}\n```"))

	// 无围栏原样返回
	assert.Equal(t, `{"a": 1}`, StripCodeFence(`{"a": 1}`))
}

func TestExtractJSON(t *testing.T) {
	text := "好的，结果如下：\n{\"score\": 8, \"detail\": {\"x\": 1}}\n以上。"
	out := ExtractJSON(text)
	assert.Equal(t, `{"score": 8, "detail": {"x": 1}}`, out)

	assert.Equal(t, "", ExtractJSON("没有任何结构化内容"))
	// 括号不闭合
	assert.Equal(t, "", ExtractJSON(`{"a": 1`))
}

func TestSanitizeJSONRepairsInnerQuotes(t *testing.T) {
	// 字符串内部的未转义引号
	broken := `{"summary": "擅长撰写"创意"文案的候选人"}`
	fixed := SanitizeJSON(broken)

	var m map[string]string
	err := json.Unmarshal([]byte(fixed), &m)
	require.NoError(t, err, "修复后的JSON应可正常反序列化")
	assert.Contains(t, m["summary"], "创意")
}

func TestSanitizeJSONKeepsValidJSON(t *testing.T) {
	valid := `{"name": "Ada", "items": ["a", "b"], "nested": {"k": "v"}}`
	assert.Equal(t, valid, SanitizeJSON(valid))
}

func TestCleanLLMReply(t *testing.T) {
	raw := "\uFEFF```json\n{\"name\": \"Ada\"}\n```"
	out := CleanLLMReply(raw)
	assert.Equal(t, `{"name": "Ada"}`, out)

	var m map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &m))
	assert.Equal(t, "Ada", m["name"])
}
