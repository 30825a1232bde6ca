package logger

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetLevel(t *testing.T) {
	defer SetLevel("info")
	SetLevel("WARNING")
	assert.Equal(t, slog.LevelWarn, Level())
	SetLevel("debug")
	assert.Equal(t, slog.LevelDebug, Level())
	SetLevel("verbose")
	assert.Equal(t, slog.LevelInfo, Level())
}

func TestLLMDump(t *testing.T) {
	var buf bytes.Buffer
	SetLLMWriter(&buf)
	defer SetLLMWriter(nil)

	LogLLMRequest("groq", "t-1", []LLMMessage{{Role: "user", Content: "hi"}}, `{"model":"x"}`)
	LogLLMResponse("groq", "t-1", `{"choices":[]}`)
	out := buf.String()
	assert.Contains(t, out, "[LLM][request][groq][t-1]")
	assert.Contains(t, out, "--- USER ---\nhi")
	assert.NotContains(t, out, "PAYLOAD")
	assert.Contains(t, out, "{\n  \"choices\": []\n}")

	buf.Reset()
	EnableLLMPayloadDump(true)
	defer EnableLLMPayloadDump(false)
	LogLLMRequest("groq", "", nil, `{"model":"x"}`)
	assert.True(t, strings.Contains(buf.String(), "--- PAYLOAD ---"))
}
