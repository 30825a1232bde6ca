package provider

import (
	"fmt"
	"strings"
)

// ResponseShape 标记 provider 的响应信封格式，配置时确定，调用时不再猜测。
type ResponseShape string

const (
	// ShapeChoices: {"choices":[{"message":{"content":"..."}}]}（OpenAI 兼容）
	ShapeChoices ResponseShape = "choices"
	// ShapeResponse: {"response":"..."}
	ShapeResponse ResponseShape = "response"
	// ShapeRaw: 响应体本身即文本
	ShapeRaw ResponseShape = "raw"
)

func ParseResponseShape(s string) (ResponseShape, error) {
	switch ResponseShape(strings.ToLower(strings.TrimSpace(s))) {
	case ShapeChoices, "":
		return ShapeChoices, nil
	case ShapeResponse:
		return ShapeResponse, nil
	case ShapeRaw:
		return ShapeRaw, nil
	default:
		return "", fmt.Errorf("unknown response shape: %q", s)
	}
}

// Provider 是一个远端推理端点 + 模型；配置加载后不可变。
type Provider struct {
	ID           string
	Name         string
	BaseURL      string
	Model        string
	APIKey       string
	RequiresAuth bool
	Primary      bool
	Shape        ResponseShape
	ExtraHeaders map[string]string
}

// HasCredentials 为 false 时该 provider 不参与调度。
func (p Provider) HasCredentials() bool {
	return !p.RequiresAuth || strings.TrimSpace(p.APIKey) != ""
}

// Endpoint 规范化 BaseURL，避免配置里已带 /chat/completions 导致重复路径。
func (p Provider) Endpoint() string {
	url := strings.TrimRight(strings.TrimSpace(p.BaseURL), "/")
	if url == "" {
		url = "https://api.openai.com/v1"
	}
	url = strings.TrimSuffix(url, "/chat/completions")
	return url + "/chat/completions"
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest 描述一次调度请求；MaxRetriesPerProvider/Timeout 为 0 时使用引擎默认值。
type ChatRequest struct {
	Messages              []Message
	Temperature           float64
	MaxTokens             int
	MaxRetriesPerProvider int
	TimeoutSeconds        int
}

// wireRequest 是发往 provider 的 JSON 体。
type wireRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}
