package workflow

import "fmt"

// Outcome 一次工作流调用的唯一终态：
// 未变更（目标态已满足）、已变更（动作成功执行）或失败（附原因）。
// 三者互斥，每次调用恰好产生一个。
type Outcome struct {
	Changed bool   `json:"changed"`
	Failed  bool   `json:"failed,omitempty"`
	Msg     string `json:"msg,omitempty"`
}

// Unchanged 目标状态已满足，未执行任何变更动作
func Unchanged(format string, args ...interface{}) Outcome {
	return Outcome{Changed: false, Msg: fmt.Sprintf(format, args...)}
}

// Changed 变更动作已成功执行
func Changed(format string, args ...interface{}) Outcome {
	return Outcome{Changed: true, Msg: fmt.Sprintf(format, args...)}
}

// Failure 由错误构造失败终态，诊断缓冲文本附在消息尾部
func Failure(err error) Outcome {
	msg := err.Error()
	if out := trimOutput(diagnostic(err)); out != "" {
		msg = fmt.Sprintf("%s; last device output: %s", msg, out)
	}
	return Outcome{Failed: true, Msg: msg}
}

// String 人类可读摘要，供 CLI 与日志使用
func (o Outcome) String() string {
	switch {
	case o.Failed:
		return "failed: " + o.Msg
	case o.Changed:
		return "changed: " + o.Msg
	default:
		return "unchanged: " + o.Msg
	}
}
