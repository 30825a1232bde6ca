package provider

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type ErrorKind string

const (
	KindTransport     ErrorKind = "transport"
	KindAuthorization ErrorKind = "authorization"
	KindRateLimit     ErrorKind = "rate_limit"
	KindMalformed     ErrorKind = "malformed_response"
	KindServer        ErrorKind = "server"
	KindBudget        ErrorKind = "budget_exhausted"
	KindCircuitOpen   ErrorKind = "circuit_open"
	KindExhausted     ErrorKind = "all_providers_exhausted"
	KindPersistence   ErrorKind = "persistence"
)

// CallError 是单次 provider 调用的分类错误。
type CallError struct {
	Kind       ErrorKind
	Provider   string
	Status     int
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *CallError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Status > 0 {
		fmt.Fprintf(&b, " status=%d", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *CallError) Unwrap() error { return e.Err }

// Retryable 为 true 的错误在同一 provider 上退避重试；401/403/429 直接放弃该 provider。
func (e *CallError) Retryable() bool {
	switch e.Kind {
	case KindTransport, KindMalformed, KindServer:
		return true
	default:
		return false
	}
}

// KindOf 从错误链中提取分类，未分类错误按 transport 处理。
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	// DispatchError 会展开内部的 CallError，先判断聚合错误。
	var de *DispatchError
	if errors.As(err, &de) {
		return KindExhausted
	}
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindTransport
}

func classifyStatus(status int) ErrorKind {
	switch {
	case status == 401 || status == 403:
		return KindAuthorization
	case status == 429:
		return KindRateLimit
	default:
		return KindServer
	}
}

// Failure 记录某个 provider 最终失败的原因。
type Failure struct {
	Provider string
	Attempts int
	Err      error
}

// DispatchError 是所有候选 provider 都失败后的聚合错误。
type DispatchError struct {
	Failures []Failure
}

func (e *DispatchError) Error() string {
	if len(e.Failures) == 0 {
		return "All LLM providers failed: no eligible provider"
	}
	var b strings.Builder
	b.WriteString("All LLM providers failed:")
	for _, f := range e.Failures {
		fmt.Fprintf(&b, "\n%s: %v", f.Provider, f.Err)
	}
	return b.String()
}

func (e *DispatchError) Unwrap() []error {
	out := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		if f.Err != nil {
			out = append(out, f.Err)
		}
	}
	return out
}
