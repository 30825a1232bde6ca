package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tradeloop/internal/logger"
	"tradeloop/internal/pkg/text"

	"github.com/tidwall/gjson"
)

const maxResponseBytes = 4 << 20

// Client 对 OpenAI 兼容的 /chat/completions 端点发起单次调用。
// 重试、退避与故障转移由 dispatch.Engine 负责，这里只做一次请求并给出分类错误。
type Client struct {
	HTTP *http.Client
}

func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{HTTP: httpClient}
}

// Reply 是一次成功调用的规范化结果。
type Reply struct {
	Text    string
	Raw     string
	Status  int
	Latency time.Duration
}

// Chat 发起一次调用；超时由 ctx 控制。
func (c *Client) Chat(ctx context.Context, p Provider, req ChatRequest) (Reply, error) {
	body, err := json.Marshal(wireRequest{
		Model:       p.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return Reply{}, &CallError{Kind: KindMalformed, Provider: p.ID, Message: "encode request", Err: err}
	}
	url := p.Endpoint()
	logger.Debugf("[LLM] POST %s provider=%s headers=%v bytes=%d", url, p.ID, maskedHeaders(p), len(body))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Reply{}, &CallError{Kind: KindTransport, Provider: p.ID, Message: "build request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if key := strings.TrimSpace(p.APIKey); key != "" {
		httpReq.Header.Set("Authorization", "Bearer "+key)
	}
	for k, v := range p.ExtraHeaders {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		msg := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			msg = "request timed out"
		}
		return Reply{}, &CallError{Kind: KindTransport, Provider: p.ID, Message: msg, Err: err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	latency := time.Since(start)
	if err != nil {
		return Reply{}, &CallError{Kind: KindTransport, Provider: p.ID, Status: resp.StatusCode, Message: "read body", Err: err}
	}

	if resp.StatusCode/100 != 2 {
		return Reply{}, &CallError{
			Kind:       classifyStatus(resp.StatusCode),
			Provider:   p.ID,
			Status:     resp.StatusCode,
			Message:    errorMessage(raw, resp.Status),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	out, err := Normalize(p.Shape, raw)
	if err != nil {
		return Reply{}, &CallError{Kind: KindMalformed, Provider: p.ID, Status: resp.StatusCode, Message: err.Error()}
	}
	return Reply{Text: out, Raw: string(raw), Status: resp.StatusCode, Latency: latency}, nil
}

// Normalize 按配置的响应形状取出生成文本。
func Normalize(shape ResponseShape, raw []byte) (string, error) {
	switch shape {
	case ShapeRaw:
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return "", fmt.Errorf("empty body")
		}
		return body, nil
	case ShapeResponse:
		if !gjson.ValidBytes(raw) {
			return "", fmt.Errorf("response is not valid JSON")
		}
		res := gjson.GetBytes(raw, "response")
		if res.Type != gjson.String || strings.TrimSpace(res.String()) == "" {
			return "", fmt.Errorf("missing response field")
		}
		return res.String(), nil
	case ShapeChoices, "":
		if !gjson.ValidBytes(raw) {
			return "", fmt.Errorf("response is not valid JSON")
		}
		choices := gjson.GetBytes(raw, "choices")
		if !choices.IsArray() || len(choices.Array()) == 0 {
			return "", fmt.Errorf("empty choices")
		}
		content := choices.Get("0.message.content")
		if content.Type != gjson.String || strings.TrimSpace(content.String()) == "" {
			return "", fmt.Errorf("choices[0].message.content missing")
		}
		return content.String(), nil
	default:
		return "", fmt.Errorf("unsupported response shape %q", shape)
	}
}

// 上游错误正文可能是整页 HTML，只保留前一段。
const maxErrorMessage = 240

func errorMessage(raw []byte, fallback string) string {
	if gjson.ValidBytes(raw) {
		for _, path := range []string{"error.message", "message", "error", "detail"} {
			if res := gjson.GetBytes(raw, path); res.Type == gjson.String && strings.TrimSpace(res.String()) != "" {
				return text.Truncate(strings.TrimSpace(res.String()), maxErrorMessage)
			}
		}
	}
	if body := strings.TrimSpace(string(raw)); body != "" {
		return fallback + ": " + text.Truncate(body, maxErrorMessage)
	}
	return fallback
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// maskedHeaders 返回用于日志的请求头，密钥只保留后 4 位。
func maskedHeaders(p Provider) map[string]string {
	out := map[string]string{"Content-Type": "application/json"}
	if p.APIKey != "" {
		out["Authorization"] = "Bearer " + maskTail(p.APIKey)
	}
	for k, v := range p.ExtraHeaders {
		lk := strings.ToLower(k)
		if strings.Contains(lk, "key") || strings.Contains(lk, "token") || strings.Contains(lk, "auth") {
			v = maskTail(v)
		}
		out[k] = v
	}
	return out
}

func maskTail(v string) string {
	if len(v) > 4 {
		return "****" + v[len(v)-4:]
	}
	return "****"
}
