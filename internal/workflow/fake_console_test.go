package workflow

import (
	"regexp"
	"time"

	"github.com/switchsuitepro/switchsuitepro/pkg/console"
	"github.com/switchsuitepro/switchsuitepro/pkg/expect"
)

// fakeConsole 脚本化会话：每条发送命令按队列弹出预置的设备输出，
// WaitFor 与真实会话一致地按列表顺序匹配并消费缓冲，但不做真实等待。
type fakeConsole struct {
	buf          string
	sent         []string
	raw          []string
	feeds        []string
	responses    map[string][]string
	rawResponses map[string][]string
	prompt       *regexp.Regexp
	mode         console.Mode
	disconnected bool
	closed       bool
}

func newFakeConsole() *fakeConsole {
	return &fakeConsole{
		responses:    make(map[string][]string),
		rawResponses: make(map[string][]string),
		prompt:       regexp.MustCompile(console.DefaultPrompt),
		mode:         console.ModeUnknown,
	}
}

// respond 追加某条命令的输出脚本；同一命令多次发送按序弹出
func (f *fakeConsole) respond(cmd string, outputs ...string) {
	f.responses[cmd] = append(f.responses[cmd], outputs...)
}

func (f *fakeConsole) respondRaw(input string, outputs ...string) {
	f.rawResponses[input] = append(f.rawResponses[input], outputs...)
}

// feed 追加不与任何命令绑定的延迟输出：WaitFor 在当前缓冲无命中时
// 逐段补入，模拟等待窗口内陆续到达的进度输出
func (f *fakeConsole) feed(outputs ...string) {
	f.feeds = append(f.feeds, outputs...)
}

func (f *fakeConsole) Send(text string) error {
	f.sent = append(f.sent, text)
	if q := f.responses[text]; len(q) > 0 {
		f.buf += q[0]
		f.responses[text] = q[1:]
	}
	return nil
}

func (f *fakeConsole) SendRaw(text string) error {
	f.raw = append(f.raw, text)
	if q := f.rawResponses[text]; len(q) > 0 {
		f.buf += q[0]
		f.rawResponses[text] = q[1:]
	}
	return nil
}

func (f *fakeConsole) WaitFor(patterns []*regexp.Regexp, timeout time.Duration) (int, string, error) {
	for {
		for i, p := range patterns {
			if p == nil {
				continue
			}
			if loc := p.FindStringIndex(f.buf); loc != nil {
				before := f.buf[:loc[0]]
				f.buf = f.buf[loc[1]:]
				return i, before, nil
			}
		}
		if len(f.feeds) == 0 {
			return expect.Timeout, f.buf, nil
		}
		f.buf += f.feeds[0]
		f.feeds = f.feeds[1:]
	}
}

func (f *fakeConsole) Close() error {
	f.closed = true
	return nil
}

func (f *fakeConsole) Disconnect() error {
	f.disconnected = true
	return f.Close()
}

func (f *fakeConsole) Prompt() *regexp.Regexp { return f.prompt }
func (f *fakeConsole) Mode() console.Mode     { return f.mode }
func (f *fakeConsole) SetMode(m console.Mode) { f.mode = m }

func (f *fakeConsole) countSent(cmd string) int {
	n := 0
	for _, s := range f.sent {
		if s == cmd {
			n++
		}
	}
	return n
}
