package notifier

// TextNotifier 最小文本通知接口。
// 保持足够小，让各组件无需依赖具体实现（如 Telegram）。
type TextNotifier interface {
	SendText(text string) error
}

// Noop 在通知未启用时充当占位实现。
type Noop struct{}

func (Noop) SendText(string) error { return nil }
