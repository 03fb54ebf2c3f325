package provider

import (
	"context"
	"errors"
)

// ErrEmptyCompletion 表示模型返回了空内容。
var ErrEmptyCompletion = errors.New("模型返回空内容")

// ChatPayload 一次对话补全请求。
type ChatPayload struct {
	System    string
	User      string
	MaxTokens int
}

// ModelProvider 抽象一个可对话的模型端点。
// 每位议会参与者绑定一个 provider；调用失败或超时由议事编排按缺席处理。
type ModelProvider interface {
	ID() string
	Enabled() bool

	Call(ctx context.Context, payload ChatPayload) (string, error)

	// Probe 发送一条极短请求验证端点可用性，用于启动时的点名。
	Probe(ctx context.Context) error
}
