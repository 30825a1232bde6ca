package logger

import (
	"io"
	"log"
	"strings"
	"sync"

	"tradeloop/internal/pkg/jsonutil"
)

var (
	llmMu          sync.Mutex
	llmLog         *log.Logger
	llmDumpPayload bool
)

// SetLLMWriter 设置 LLM 请求/响应的独立转储目标；nil 关闭转储。
func SetLLMWriter(w io.Writer) {
	llmMu.Lock()
	defer llmMu.Unlock()
	if w == nil {
		llmLog = nil
		return
	}
	llmLog = log.New(w, "", log.LstdFlags)
}

func EnableLLMPayloadDump(enabled bool) {
	llmMu.Lock()
	llmDumpPayload = enabled
	llmMu.Unlock()
}

// LLMMessage 是转储用的对话片段（与 provider.Message 解耦，避免循环依赖）。
type LLMMessage struct {
	Role    string
	Content string
}

type llmSection struct {
	Title string
	Body  string
}

func logLLM(kind, provider, traceID string, sections []llmSection) {
	llmMu.Lock()
	out := llmLog
	llmMu.Unlock()
	if out == nil {
		return
	}
	var b strings.Builder
	b.WriteString("[LLM]")
	for _, tag := range []string{kind, provider, traceID} {
		if tag == "" {
			continue
		}
		b.WriteString("[")
		b.WriteString(tag)
		b.WriteString("]")
	}
	b.WriteString("\n")
	for _, sec := range sections {
		t := strings.TrimSpace(sec.Title)
		if t == "" {
			t = "CONTENT"
		}
		b.WriteString("--- ")
		b.WriteString(t)
		b.WriteString(" ---\n")
		b.WriteString(sec.Body)
		if !strings.HasSuffix(sec.Body, "\n") {
			b.WriteString("\n")
		}
	}
	b.WriteString("=====\n")
	out.Print(b.String())
}

// LogLLMRequest 转储一次 chat 请求；payload 仅在开启 payload dump 时输出。
func LogLLMRequest(provider, traceID string, messages []LLMMessage, payload string) {
	sections := make([]llmSection, 0, len(messages)+1)
	for _, m := range messages {
		sections = append(sections, llmSection{Title: strings.ToUpper(m.Role), Body: m.Content})
	}
	llmMu.Lock()
	dump := llmDumpPayload
	llmMu.Unlock()
	if dump && strings.TrimSpace(payload) != "" {
		sections = append(sections, llmSection{Title: "PAYLOAD", Body: payload})
	}
	logLLM("request", provider, traceID, sections)
}

func LogLLMResponse(provider, traceID, raw string) {
	logLLM("response", provider, traceID, []llmSection{{Title: "RAW", Body: jsonutil.Pretty(raw)}})
}

func LogLLMFailure(provider, traceID, reason string) {
	logLLM("failure", provider, traceID, []llmSection{{Title: "ERROR", Body: reason}})
}
