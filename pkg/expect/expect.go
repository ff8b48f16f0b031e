// Package expect 实现基于模式匹配的会话驱动引擎：
// 每个等待周期（wait-cycle）在若干候选模式中等待首个命中，
// 由对应处理器决定下一步动作（继续等待、切换规则表或终止）。
package expect

import (
	"fmt"
	"regexp"
	"time"

	"github.com/switchsuitepro/switchsuitepro/pkg/logger"
)

// Timeout WaitFor 超时哨兵索引：本轮等待内无任何模式命中
const Timeout = -1

// Transport 控制台传输能力抽象。
// Send 写入一行文本（含行结束符）；WaitFor 阻塞直到缓冲输出命中
// 任一模式或超时，返回命中模式的列表索引与命中点之前的全部文本，
// 命中文本（含匹配段）从待处理缓冲中消费；超时返回 Timeout 与当前缓冲。
// Close 幂等，可重复调用。
type Transport interface {
	Send(text string) error
	WaitFor(patterns []*regexp.Regexp, timeout time.Duration) (int, string, error)
	Close() error
}

// Handler 模式命中后的处理器。
// before 为命中点之前捕获的文本。返回下一个规则表则继续循环；
// 返回 (nil, nil) 表示工作流正常到达终态；返回错误则终止并上抛。
type Handler func(before string) (*Table, error)

// Rule 单条等待规则：模式与命中处理器。表内顺序即优先级，
// 多个模式同时可满足时列表中靠前者胜出。
type Rule struct {
	Pattern *regexp.Regexp
	Handle  Handler
}

// Table 一个等待周期的规则表。
// Timeout 为本周期显式超时；OnTimeout 为 nil 时超时转换为 *TimeoutError，
// 否则交由 OnTimeout 决定（用于"仍在进行中"类循环的收尾）。
type Table struct {
	Name      string
	Rules     []Rule
	Timeout   time.Duration
	OnTimeout Handler
}

// TimeoutError 等待周期超时，携带所处阶段与超时前捕获的缓冲文本
type TimeoutError struct {
	Stage    string
	Buffered string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout waiting at stage %q", e.Stage)
}

// DeviceOutput 超时前捕获的设备输出
func (e *TimeoutError) DeviceOutput() string { return e.Buffered }

// UnexpectedPromptError 设备输出落回提示符但未出现任何预期消息，
// 与 TimeoutError 区分：设备有响应，只是响应不在预期之内
type UnexpectedPromptError struct {
	Stage  string
	Output string
}

func (e *UnexpectedPromptError) Error() string {
	return fmt.Sprintf("unexpected prompt at stage %q", e.Stage)
}

// DeviceOutput 命中提示符前捕获的设备输出
func (e *UnexpectedPromptError) DeviceOutput() string { return e.Output }

// Pat 编译大小写不敏感模式。设备提示文案的大小写在不同固件版本间
// 并不稳定，所有规则统一忽略大小写。
func Pat(expr string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)` + expr)
}

// Run 从 start 表开始驱动等待循环，直到某个处理器返回 nil 表
// （终态）或返回错误。每个周期都有显式超时，循环不会悬挂。
func Run(t Transport, start *Table) error {
	table := start
	for {
		patterns := make([]*regexp.Regexp, len(table.Rules))
		for i, r := range table.Rules {
			patterns[i] = r.Pattern
		}

		idx, before, err := t.WaitFor(patterns, table.Timeout)
		if err != nil {
			return fmt.Errorf("wait at stage %q: %w", table.Name, err)
		}

		var next *Table
		if idx == Timeout {
			if table.OnTimeout == nil {
				return &TimeoutError{Stage: table.Name, Buffered: before}
			}
			logger.Debugf("expect: stage %s timed out, handing to OnTimeout", table.Name)
			next, err = table.OnTimeout(before)
		} else {
			logger.Debugf("expect: stage %s matched rule %d (%s)", table.Name, idx, table.Rules[idx].Pattern)
			next, err = table.Rules[idx].Handle(before)
		}
		if err != nil {
			return err
		}
		if next == nil {
			return nil
		}
		table = next
	}
}
