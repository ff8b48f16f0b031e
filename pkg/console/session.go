// Package console 管理到交换机控制台（直连 SSH 或终端服务器）的单个会话。
// 一次调用独占一个会话：登录建立、提示符跟踪、模式跟踪与断开清理
// 都以会话为单位，不跨调用复用连接。
package console

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"regexp"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/switchsuitepro/switchsuitepro/pkg/expect"
	"github.com/switchsuitepro/switchsuitepro/pkg/logger"
)

// Mode 会话当前所处的设备模式
type Mode int

const (
	ModeUnknown Mode = iota
	ModeNXOS
	ModeACI
	ModeLoader
)

func (m Mode) String() string {
	switch m {
	case ModeNXOS:
		return "nxos"
	case ModeACI:
		return "aci"
	case ModeLoader:
		return "loader"
	default:
		return "unknown"
	}
}

// DefaultPrompt 默认提示符：主机名加 > 或 #，可带 (config...) 片段
const DefaultPrompt = `[\w.\-]+(\(config[^)]*\))?\s*[#>]\s*$`

var (
	reUsernamePrompt = regexp.MustCompile(`(?i)(login|username)\s*:\s*$`)
	rePasswordPrompt = regexp.MustCompile(`(?i)password\s*:\s*$`)
)

// Options 会话连接参数
type Options struct {
	Host     string
	Port     int
	Username string
	Password string
	// PromptPattern 覆盖默认提示符正则；留空使用 DefaultPrompt
	PromptPattern string
	// ConnectTimeout 拨号与握手超时
	ConnectTimeout time.Duration
	// LoginTimeout 登录协商中单个等待周期的超时
	LoginTimeout time.Duration
	// LoginAttempts 登录重试上限，含首次；0 取默认 5
	LoginAttempts int
}

func (o *Options) fill() {
	if o.Port <= 0 {
		o.Port = 22
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 15 * time.Second
	}
	if o.LoginTimeout <= 0 {
		o.LoginTimeout = 20 * time.Second
	}
	if o.LoginAttempts <= 0 {
		o.LoginAttempts = 5
	}
	if o.PromptPattern == "" {
		o.PromptPattern = DefaultPrompt
	}
}

// ConnectionError 无法到达设备或控制台服务器
type ConnectionError struct {
	Host string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Host, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// LoginError 凭据协商在重试预算耗尽后仍未成功
type LoginError struct {
	Host     string
	Attempts int
	Err      error
}

func (e *LoginError) Error() string {
	return fmt.Sprintf("login %s failed after %d attempts: %v", e.Host, e.Attempts, e.Err)
}

func (e *LoginError) Unwrap() error { return e.Err }

// Session 单个已认证的控制台会话。
// Prompt 在登录成功后设定，之后所有空闲等待都使用它，除非控制器
// 为子对话显式收窄模式集合（setup 对话、loader 提示符等）。
type Session struct {
	opts Options

	conn  *ssh.Client
	sess  *ssh.Session
	stdin io.WriteCloser

	mu         sync.Mutex
	pending    []byte
	transcript bytes.Buffer
	readErr    error

	closeOnce sync.Once
	closeErr  error

	prompt   *regexp.Regexp
	mode     Mode
	loggedIn bool
}

// pollInterval 等待循环检查缓冲的节拍
const pollInterval = 25 * time.Millisecond

// Dial 建立控制台会话并完成登录协商。
// 连接或登录失败按 LoginAttempts 上限重试，耗尽后返回 *LoginError；
// 纯粹的拨号失败（从未到达凭据协商）返回 *ConnectionError。
func Dial(opts Options) (*Session, error) {
	opts.fill()

	var lastErr error
	dialFailures := 0
	for attempt := 1; attempt <= opts.LoginAttempts; attempt++ {
		s, err := connect(opts)
		if err != nil {
			logger.Warnf("console: connect %s attempt %d/%d failed: %v", opts.Host, attempt, opts.LoginAttempts, err)
			lastErr = err
			dialFailures++
			time.Sleep(time.Duration(attempt) * 200 * time.Millisecond)
			continue
		}
		if err := s.negotiateLogin(); err != nil {
			logger.Warnf("console: login %s attempt %d/%d failed: %v", opts.Host, attempt, opts.LoginAttempts, err)
			lastErr = err
			_ = s.Close()
			continue
		}
		logger.Infof("console: session established host=%s", opts.Host)
		return s, nil
	}

	if dialFailures == opts.LoginAttempts {
		return nil, &ConnectionError{Host: opts.Host, Err: lastErr}
	}
	return nil, &LoginError{Host: opts.Host, Attempts: opts.LoginAttempts, Err: lastErr}
}

// connect 拨号、申请 PTY 并启动 shell，随后挂起读取协程
func connect(opts Options) (*Session, error) {
	cfg := &ssh.ClientConfig{
		User: opts.Username,
		// 不做主机密钥校验：目标是运维网内的交换机与终端服务器
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         opts.ConnectTimeout,
		Config: ssh.Config{
			// 兼容旧固件的密钥交换算法
			KeyExchanges: []string{
				"diffie-hellman-group14-sha256",
				"diffie-hellman-group14-sha1",
				"diffie-hellman-group1-sha1",
				"diffie-hellman-group-exchange-sha256",
				"ecdh-sha2-nistp256",
				"ecdh-sha2-nistp384",
				"ecdh-sha2-nistp521",
			},
			// 兼容旧固件的加密算法
			Ciphers: []string{
				"aes128-ctr", "aes192-ctr", "aes256-ctr",
				"aes128-gcm@openssh.com", "aes256-gcm@openssh.com",
				"aes128-cbc", "aes256-cbc", "3des-cbc",
			},
			MACs: []string{
				"hmac-sha2-256-etm@openssh.com",
				"hmac-sha2-256",
				"hmac-sha1",
			},
		},
		HostKeyAlgorithms: []string{
			"ssh-rsa", "rsa-sha2-256", "rsa-sha2-512",
			"ecdsa-sha2-nistp256", "ecdsa-sha2-nistp384", "ecdsa-sha2-nistp521",
		},
	}
	if opts.Password != "" {
		cfg.Auth = []ssh.AuthMethod{
			ssh.Password(opts.Password),
			// 部分设备走 keyboard-interactive，对所有问题统一回答密码
			ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range questions {
					answers[i] = opts.Password
				}
				return answers, nil
			}),
		}
	}

	addr := net.JoinHostPort(opts.Host, fmt.Sprintf("%d", opts.Port))
	conn, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	sess, err := conn.NewSession()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	// 终端类型回退：优先 vt100
	var ptyErr error
	for _, term := range []string{"vt100", "xterm", "ansi", "dumb"} {
		if ptyErr = sess.RequestPty(term, 80, 512, modes); ptyErr == nil {
			break
		}
	}
	if ptyErr != nil {
		_ = sess.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("request pty: %w", ptyErr)
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		_ = sess.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		_ = sess.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := sess.StderrPipe()
	if err != nil {
		_ = sess.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := sess.Shell(); err != nil {
		_ = sess.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("start shell: %w", err)
	}

	s := &Session{
		opts:   opts,
		conn:   conn,
		sess:   sess,
		stdin:  stdin,
		prompt: regexp.MustCompile(opts.PromptPattern),
		mode:   ModeUnknown,
	}
	s.attach(stdout, stderr)
	return s, nil
}

// attach 启动读取协程，把通道输出追加到待处理缓冲与完整转录
func (s *Session) attach(readers ...io.Reader) {
	for _, r := range readers {
		if r == nil {
			continue
		}
		go func(r io.Reader) {
			buf := make([]byte, 4096)
			for {
				n, err := r.Read(buf)
				if n > 0 {
					s.mu.Lock()
					s.pending = append(s.pending, buf[:n]...)
					s.transcript.Write(buf[:n])
					s.mu.Unlock()
				}
				if err != nil {
					s.mu.Lock()
					if s.readErr == nil {
						s.readErr = err
					}
					s.mu.Unlock()
					return
				}
			}
		}(r)
	}
}

// negotiateLogin 在 shell 建立后完成凭据协商并归一化终端环境。
// SSH 认证成功时通常直接落在提示符上；经终端服务器接入时仍会出现
// login/password 对话，两种情况都在这里处理。
func (s *Session) negotiateLogin() error {
	patterns := []*regexp.Regexp{reUsernamePrompt, rePasswordPrompt, s.prompt}
	inducer := 0
	for round := 0; round < 10; round++ {
		idx, _, err := s.WaitFor(patterns, s.opts.LoginTimeout)
		if err != nil {
			return err
		}
		switch idx {
		case 0:
			if err := s.Send(s.opts.Username); err != nil {
				return err
			}
		case 1:
			if err := s.Send(s.opts.Password); err != nil {
				return err
			}
		case 2:
			s.loggedIn = true
			return s.normalizeTerminal()
		case expect.Timeout:
			// 发送回车诱发提示符；部分设备建立 PTY 后需要一次回车
			if inducer >= 2 {
				return fmt.Errorf("no prompt from %s within login timeout", s.opts.Host)
			}
			inducer++
			if err := s.Send(""); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("login dialog with %s did not converge", s.opts.Host)
}

// normalizeTerminal 关闭换行折行与分页，避免长输出破坏后续匹配
func (s *Session) normalizeTerminal() error {
	for _, cmd := range []string{"terminal length 0", "terminal width 511"} {
		if err := s.Send(cmd); err != nil {
			return err
		}
		if idx, _, err := s.WaitFor([]*regexp.Regexp{s.prompt}, s.opts.LoginTimeout); err != nil {
			return err
		} else if idx == expect.Timeout {
			return fmt.Errorf("prompt lost after %q", cmd)
		}
	}
	return nil
}

// Send 写入一行文本。网络设备通常期望 CRLF 行结束符。
func (s *Session) Send(text string) error {
	s.mu.Lock()
	err := s.readErr
	s.mu.Unlock()
	if s.stdin == nil {
		return fmt.Errorf("console channel not open")
	}
	if err != nil && err != io.EOF {
		return fmt.Errorf("console channel broken: %w", err)
	}
	logger.Debugf("console: send %q", text)
	if _, werr := s.stdin.Write([]byte(text + "\r\n")); werr != nil {
		return fmt.Errorf("console write: %w", werr)
	}
	return nil
}

// SendRaw 原样写入（不追加行结束符），用于中断键等单字符输入
func (s *Session) SendRaw(text string) error {
	if s.stdin == nil {
		return fmt.Errorf("console channel not open")
	}
	if _, err := s.stdin.Write([]byte(text)); err != nil {
		return fmt.Errorf("console write: %w", err)
	}
	return nil
}

// WaitFor 阻塞直到缓冲输出命中任一模式或超时。
// 命中时按列表顺序取第一个可满足的模式（优先级属性），返回其索引与
// 命中点之前的文本，并把包含匹配段在内的前缀从缓冲中消费掉；
// 超时返回 expect.Timeout 与当前未消费缓冲（不消费）。
func (s *Session) WaitFor(patterns []*regexp.Regexp, timeout time.Duration) (int, string, error) {
	deadline := time.Now().Add(timeout)
	for {
		s.mu.Lock()
		for i, p := range patterns {
			if p == nil {
				continue
			}
			if loc := p.FindIndex(s.pending); loc != nil {
				before := string(s.pending[:loc[0]])
				rest := make([]byte, len(s.pending)-loc[1])
				copy(rest, s.pending[loc[1]:])
				s.pending = rest
				s.mu.Unlock()
				return i, before, nil
			}
		}
		readErr := s.readErr
		buffered := string(s.pending)
		s.mu.Unlock()

		if readErr != nil {
			return 0, buffered, fmt.Errorf("console channel closed: %w", readErr)
		}
		if !time.Now().Before(deadline) {
			return expect.Timeout, buffered, nil
		}
		time.Sleep(pollInterval)
	}
}

// Prompt 当前提示符正则
func (s *Session) Prompt() *regexp.Regexp { return s.prompt }

// SetPrompt 登录或模式切换后更新提示符
func (s *Session) SetPrompt(re *regexp.Regexp) { s.prompt = re }

// Mode 当前设备模式
func (s *Session) Mode() Mode { return s.mode }

// SetMode 由控制器在探测或引导完成后更新
func (s *Session) SetMode(m Mode) { s.mode = m }

// LoggedIn 凭据协商是否已完成
func (s *Session) LoggedIn() bool { return s.loggedIn }

// Transcript 返回会话至今收到的全部原始输出副本
func (s *Session) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript.String()
}

// Disconnect 发送 exit 后关闭传输。所有退出路径都必须走到这里，
// 重复调用安全。
func (s *Session) Disconnect() error {
	if s.stdin != nil {
		_ = s.Send("exit")
	}
	return s.Close()
}

// Close 幂等关闭底层通道
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if s.stdin != nil {
			_ = s.stdin.Close()
		}
		if s.sess != nil {
			_ = s.sess.Close()
		}
		if s.conn != nil {
			s.closeErr = s.conn.Close()
		}
		logger.Debugf("console: session closed host=%s", s.opts.Host)
	})
	return s.closeErr
}
