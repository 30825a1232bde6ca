package app

import (
	"fmt"
	"strings"
)

type StartupSummary struct {
	Providers string
	Order     []string
	Learning  LearningSummary
	Monitor   MonitorSummary
	Journal   string
	HTTP      string
}

type LearningSummary struct {
	StateFile      string
	HistoryCap     int
	MinTrades      int
	RerankInterval int
}

// MonitorSummary 为空表示校验器未启用。
type MonitorSummary struct {
	PollInterval  string
	KlineInterval string
	Ceiling       string
}

func (s *StartupSummary) Print() {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("%*s\n", 40+len("启动配置摘要 (STARTUP SUMMARY)")/2, "启动配置摘要 (STARTUP SUMMARY)")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Println("[LLM 调度 (DISPATCH)]")
	fmt.Printf("  %s\n", strings.ReplaceAll(s.Providers, "\n", "\n  "))
	fmt.Printf("  调度顺序: %s\n", formatList(s.Order))
	fmt.Println()

	fmt.Println("[参数学习 (LEARNING)]")
	fmt.Printf("  状态文件: %s\n", s.Learning.StateFile)
	fmt.Printf("  历史容量: %d\n", s.Learning.HistoryCap)
	fmt.Printf("  最少样本: %d\n", s.Learning.MinTrades)
	fmt.Printf("  重排间隔: %d\n", s.Learning.RerankInterval)
	fmt.Println()

	fmt.Println("[结果校验 (VERIFIER)]")
	if s.Monitor.PollInterval == "" {
		fmt.Println("  (未启用)")
	} else {
		fmt.Printf("  轮询周期: %s\n", s.Monitor.PollInterval)
		fmt.Printf("  K线周期: %s\n", s.Monitor.KlineInterval)
		fmt.Printf("  最长观察: %s\n", s.Monitor.Ceiling)
	}
	fmt.Println()

	fmt.Printf("[交易日志] %s\n", s.Journal)
	fmt.Printf("[管理接口] %s\n", s.HTTP)
	fmt.Println(strings.Repeat("=", 80))
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
