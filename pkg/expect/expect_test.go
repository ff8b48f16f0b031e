package expect

import (
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// scriptedTransport 以内存缓冲演绎设备输出，无真实等待
type scriptedTransport struct {
	buf  string
	sent []string
}

func (t *scriptedTransport) Send(text string) error {
	t.sent = append(t.sent, text)
	return nil
}

func (t *scriptedTransport) WaitFor(patterns []*regexp.Regexp, timeout time.Duration) (int, string, error) {
	for i, p := range patterns {
		if loc := p.FindStringIndex(t.buf); loc != nil {
			before := t.buf[:loc[0]]
			t.buf = t.buf[loc[1]:]
			return i, before, nil
		}
	}
	return Timeout, t.buf, nil
}

func (t *scriptedTransport) Close() error { return nil }

func TestRunFirstMatchPriority(t *testing.T) {
	tr := &scriptedTransport{buf: "scp: cannot overwrite existing file\r\n"}

	var fired []string
	record := func(name string) Handler {
		return func(before string) (*Table, error) {
			fired = append(fired, name)
			return nil, nil
		}
	}

	// 两条规则都能命中同一段输出，列表靠前者必须胜出
	table := &Table{
		Name:    "priority",
		Timeout: time.Second,
		Rules: []Rule{
			{Pattern: Pat(`cannot overwrite`), Handle: record("specific")},
			{Pattern: Pat(`overwrite`), Handle: record("generic")},
		},
	}

	err := Run(tr, table)
	assert.NoError(t, err)
	assert.Equal(t, []string{"specific"}, fired)
}

func TestRunTimeoutWithoutHandler(t *testing.T) {
	tr := &scriptedTransport{buf: "still booting..."}
	table := &Table{
		Name:    "loader-wait",
		Timeout: time.Second,
		Rules: []Rule{
			{Pattern: Pat(`loader\s*>`), Handle: func(string) (*Table, error) { return nil, nil }},
		},
	}

	err := Run(tr, table)
	var te *TimeoutError
	assert.ErrorAs(t, err, &te)
	assert.Equal(t, "loader-wait", te.Stage)
	assert.Equal(t, "still booting...", te.Buffered)
}

func TestRunOnTimeoutLoop(t *testing.T) {
	tr := &scriptedTransport{}
	rounds := 0
	var table *Table
	table = &Table{
		Name:    "progress",
		Timeout: time.Second,
		Rules: []Rule{
			{Pattern: Pat(`complete`), Handle: func(string) (*Table, error) { return nil, nil }},
		},
		OnTimeout: func(before string) (*Table, error) {
			rounds++
			if rounds < 3 {
				return table, nil
			}
			tr.buf = "Copy complete.\r\n"
			return table, nil
		},
	}

	err := Run(tr, table)
	assert.NoError(t, err)
	assert.Equal(t, 3, rounds)
}

func TestRunTableSwitch(t *testing.T) {
	tr := &scriptedTransport{buf: "Password: Copy complete.\r\n"}

	done := &Table{
		Name:    "wait",
		Timeout: time.Second,
		Rules: []Rule{
			{Pattern: Pat(`copy complete`), Handle: func(string) (*Table, error) { return nil, nil }},
		},
	}
	start := &Table{
		Name:    "negotiate",
		Timeout: time.Second,
		Rules: []Rule{
			{Pattern: Pat(`password:`), Handle: func(string) (*Table, error) {
				if err := tr.Send("secret"); err != nil {
					return nil, err
				}
				return done, nil
			}},
		},
	}

	err := Run(tr, start)
	assert.NoError(t, err)
	assert.Equal(t, []string{"secret"}, tr.sent)
}

func TestRunHandlerErrorPropagates(t *testing.T) {
	tr := &scriptedTransport{buf: "login failed\r\n"}
	wantErr := fmt.Errorf("remote rejected credentials")
	table := &Table{
		Name:    "auth",
		Timeout: time.Second,
		Rules: []Rule{
			{Pattern: Pat(`login failed`), Handle: func(string) (*Table, error) { return nil, wantErr }},
		},
	}

	err := Run(tr, table)
	assert.ErrorIs(t, err, wantErr)
}

func TestPatCaseInsensitive(t *testing.T) {
	assert.True(t, Pat(`copy complete`).MatchString("Copy Complete."))
	assert.True(t, Pat(`loader\s*>`).MatchString("loader >"))
}
