package jsonutil

import (
	"strings"

	"github.com/tidwall/gjson"
)

const codeFence = "```"

// ExtractJSON 从模型输出中取出第一段合法 JSON（优先 ``` 代码块，其次首个平衡的 {} 或 []）。
func ExtractJSON(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if block, ok := fencedBlock(raw); ok {
		if out, ok := firstBalanced(block); ok {
			return out, true
		}
	}
	return firstBalanced(raw)
}

func fencedBlock(raw string) (string, bool) {
	start := strings.Index(raw, codeFence)
	if start == -1 {
		return "", false
	}
	rest := raw[start+len(codeFence):]
	end := strings.Index(rest, codeFence)
	if end == -1 {
		return "", false
	}
	block := strings.TrimLeft(rest[:end], "\r\n")
	// 去掉语言标记行，例如 ```json
	if idx := strings.Index(block, "\n"); idx != -1 {
		first := strings.TrimSpace(block[:idx])
		if first != "" && !strings.ContainsAny(first, "[{") {
			block = block[idx+1:]
		}
	}
	block = strings.TrimSpace(block)
	return block, block != ""
}

// firstBalanced 从第一个 { 或 [ 开始扫描，跳过字符串内的括号，找到配对的结尾。
func firstBalanced(raw string) (string, bool) {
	for offset := 0; offset < len(raw); {
		idx := strings.IndexAny(raw[offset:], "{[")
		if idx == -1 {
			return "", false
		}
		start := offset + idx
		if end, ok := matchClose(raw, start); ok {
			candidate := strings.TrimSpace(raw[start : end+1])
			if gjson.Valid(candidate) {
				return candidate, true
			}
		}
		offset = start + 1
	}
	return "", false
}

func matchClose(raw string, start int) (int, bool) {
	var stack []byte
	inString := false
	escape := false
	for i := start; i < len(raw); i++ {
		ch := raw[i]
		if inString {
			switch {
			case escape:
				escape = false
			case ch == '\\':
				escape = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != ch {
				return 0, false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i, true
			}
		}
	}
	return 0, false
}
