package console

import (
	"bufio"
	"io"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/switchsuitepro/switchsuitepro/pkg/expect"
)

// newTestSession 用内存管道替代 SSH 通道：
// devIn 模拟设备输出，inRead 可读取会话写入设备的内容
func newTestSession(t *testing.T) (*Session, *io.PipeReader, *io.PipeWriter) {
	t.Helper()
	devOut, devIn := io.Pipe()
	inRead, inWrite := io.Pipe()

	opts := Options{Host: "testdev", LoginTimeout: 2 * time.Second}
	opts.fill()
	s := &Session{
		opts:   opts,
		stdin:  inWrite,
		prompt: regexp.MustCompile(opts.PromptPattern),
		mode:   ModeUnknown,
	}
	s.attach(devOut)
	t.Cleanup(func() {
		_ = s.Close()
		_ = devIn.Close()
	})
	return s, inRead, devIn
}

func drain(r io.Reader) {
	buf := make([]byte, 1024)
	for {
		if _, err := r.Read(buf); err != nil {
			return
		}
	}
}

func TestWaitForPriorityAndConsume(t *testing.T) {
	s, inRead, devIn := newTestSession(t)
	go drain(inRead)

	go devIn.Write([]byte("cannot overwrite existing file\r\nswitch# "))

	overwrite := expect.Pat(`cannot overwrite`)
	idx, before, err := s.WaitFor([]*regexp.Regexp{overwrite, s.Prompt()}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
	assert.Empty(t, before)

	// 命中段已消费，剩余缓冲应落在提示符上
	idx, _, err = s.WaitFor([]*regexp.Regexp{s.Prompt()}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
}

func TestWaitForTimeoutReturnsSentinel(t *testing.T) {
	s, inRead, devIn := newTestSession(t)
	go drain(inRead)

	go devIn.Write([]byte("loading ")) // 无任何模式可命中

	time.Sleep(50 * time.Millisecond)
	idx, buffered, err := s.WaitFor([]*regexp.Regexp{s.Prompt()}, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, expect.Timeout, idx)
	assert.Equal(t, "loading ", buffered)
}

func TestSendAppendsCRLF(t *testing.T) {
	s, inRead, _ := newTestSession(t)

	go func() {
		assert.NoError(t, s.Send("dir bootflash:"))
	}()

	line, err := bufio.NewReader(inRead).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "dir bootflash:\r\n", line)
}

func TestSendRawNoTerminator(t *testing.T) {
	s, inRead, _ := newTestSession(t)

	go func() {
		assert.NoError(t, s.SendRaw("\x03"))
	}()

	buf := make([]byte, 4)
	n, err := inRead.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "\x03", string(buf[:n]))
}

func TestNegotiateLoginDialog(t *testing.T) {
	s, inRead, devIn := newTestSession(t)

	go func() {
		r := bufio.NewReader(inRead)
		devIn.Write([]byte("switch login: "))
		r.ReadString('\n') // username
		devIn.Write([]byte("Password: "))
		r.ReadString('\n') // password
		devIn.Write([]byte("switch# "))
		r.ReadString('\n') // terminal length 0
		devIn.Write([]byte("switch# "))
		r.ReadString('\n') // terminal width 511
		devIn.Write([]byte("switch# "))
		drain(r)
	}()

	require.NoError(t, s.negotiateLogin())
	assert.True(t, s.LoggedIn())
}

func TestCloseIdempotent(t *testing.T) {
	s, inRead, _ := newTestSession(t)
	go drain(inRead)

	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}

func TestModeTracking(t *testing.T) {
	s, _, _ := newTestSession(t)
	assert.Equal(t, ModeUnknown, s.Mode())
	s.SetMode(ModeACI)
	assert.Equal(t, ModeACI, s.Mode())
	assert.Equal(t, "aci", s.Mode().String())
}
