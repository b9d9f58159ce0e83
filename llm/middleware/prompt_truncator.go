package middleware

import (
	"context"
	"strings"
	"unicode/utf8"

	llmpkg "github.com/scribeflow/scribeflow/llm"
)

// PromptTruncator 转写文本长度守卫
// 长录音的转写块可能超过模型上下文；与其让上游以 400 拒绝整个请求，
// 不如在发送前按字符预算截断最长的消息，保留开头与结尾（摘要最依赖
// 首尾内容），中间以省略标记代替。
type PromptTruncator struct {
	maxChars int
}

// 默认预算按 ~4 字符/词元估算，留给 200K 上下文模型足够余量，同时
// 覆盖所有受支持的后端
const defaultPromptBudget = 400_000

// NewPromptTruncator 创建长度守卫；maxChars <= 0 使用默认预算
func NewPromptTruncator(maxChars int) *PromptTruncator {
	if maxChars <= 0 {
		maxChars = defaultPromptBudget
	}
	return &PromptTruncator{maxChars: maxChars}
}

func (t *PromptTruncator) Name() string { return "prompt_truncator" }

// Rewrite 在消息总长超出预算时截断最长的一条消息
func (t *PromptTruncator) Rewrite(ctx context.Context, req *llmpkg.ChatRequest) (*llmpkg.ChatRequest, error) {
	total := 0
	longest := -1
	for i, m := range req.Messages {
		n := utf8.RuneCountInString(m.Content)
		total += n
		if longest < 0 || n > utf8.RuneCountInString(req.Messages[longest].Content) {
			longest = i
		}
	}
	if total <= t.maxChars || longest < 0 {
		return req, nil
	}

	excess := total - t.maxChars
	out := *req
	out.Messages = append([]llmpkg.Message(nil), req.Messages...)
	out.Messages[longest].Content = truncateMiddle(out.Messages[longest].Content, excess)
	return &out, nil
}

// truncateMiddle removes ~excess runes from the middle of s, keeping the
// head and tail and marking the cut.
func truncateMiddle(s string, excess int) string {
	runes := []rune(s)
	keep := len(runes) - excess
	if keep <= 0 {
		return ""
	}
	head := keep / 2
	tail := keep - head
	var b strings.Builder
	b.WriteString(string(runes[:head]))
	b.WriteString("\n...[truncated]...\n")
	b.WriteString(string(runes[len(runes)-tail:]))
	return b.String()
}
