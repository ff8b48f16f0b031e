// Package simulate 提供脚本化的交换机 SSH 模拟服务，
// 供联调与演示使用：按用户名映射模拟设备，对 dir/copy/show version
// 等命令给出可配置的响应。
package simulate

import (
	"bufio"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/crypto/ssh"

	"github.com/switchsuitepro/switchsuitepro/pkg/logger"
)

// Config simulate.yaml 配置结构
type Config struct {
	Port        int                     `mapstructure:"port"`
	Password    string                  `mapstructure:"password"`
	IdleSeconds int                     `mapstructure:"idle_seconds"`
	MaxConn     int                     `mapstructure:"max_conn"`
	Devices     map[string]DeviceConfig `mapstructure:"devices"`
}

// DeviceConfig 单台模拟设备：用户名即设备名
type DeviceConfig struct {
	Hostname string `mapstructure:"hostname"`
	// Mode 运行模式：nxos | aci，决定 show version 输出
	Mode string `mapstructure:"mode"`
	// Files bootflash: 上已存在的文件
	Files []string `mapstructure:"files"`
	// CopyBehavior 复制命令行为：complete | cannot_stat | login_failed
	CopyBehavior string `mapstructure:"copy_behavior"`
}

// LoadConfig 读取 simulate/simulate.yaml
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(path)
	v.SetDefault("port", 2222)
	v.SetDefault("password", "switch")
	v.SetDefault("idle_seconds", 300)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read simulate config: %w", err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal simulate config: %w", err)
	}
	return &cfg, nil
}

// Server 模拟交换机 SSH 服务
type Server struct {
	cfg      *Config
	listener net.Listener
	hostKey  ssh.Signer
	active   int
	mu       sync.Mutex
	wg       sync.WaitGroup
}

// Start 启动模拟服务
func Start(cfg *Config) (*Server, error) {
	signer, err := loadOrCreateHostKey()
	if err != nil {
		return nil, fmt.Errorf("failed to init host key: %w", err)
	}
	s := &Server{cfg: cfg, hostKey: signer}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, err
	}
	s.listener = ln
	logger.Infof("simulate: switch simulator listening on :%d", cfg.Port)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			s.mu.Lock()
			if s.cfg.MaxConn > 0 && s.active >= s.cfg.MaxConn {
				s.mu.Unlock()
				_ = conn.Close()
				logger.Warnf("simulate: reject connection, max_conn exceeded")
				continue
			}
			s.active++
			s.mu.Unlock()

			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.handleConn(c)
				s.mu.Lock()
				s.active--
				s.mu.Unlock()
			}(conn)
		}
	}()
	return s, nil
}

// Stop 停止模拟服务
func (s *Server) Stop() {
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
}

// loadOrCreateHostKey 加载或生成持久化的 host key（RSA 2048），
// 避免客户端指纹频繁变化
func loadOrCreateHostKey() (ssh.Signer, error) {
	keyDir := "simulate"
	if err := os.MkdirAll(keyDir, 0o755); err != nil {
		return nil, err
	}
	keyPath := filepath.Join(keyDir, "_hostkey_rsa.pem")

	if bs, err := os.ReadFile(keyPath); err == nil {
		if signer, perr := ssh.ParsePrivateKey(bs); perr == nil {
			return signer, nil
		}
		logger.Warnf("simulate: host key parse failed, regenerating")
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := os.WriteFile(keyPath, pemBytes, 0o600); err != nil {
		return nil, err
	}
	return ssh.ParsePrivateKey(pemBytes)
}

func (s *Server) handleConn(nc net.Conn) {
	srvCfg := &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if strings.TrimSpace(string(password)) == s.cfg.Password {
				return nil, nil
			}
			return nil, fmt.Errorf("access denied")
		},
		KeyboardInteractiveCallback: func(meta ssh.ConnMetadata, challenge ssh.KeyboardInteractiveChallenge) (*ssh.Permissions, error) {
			answers, err := challenge(meta.User(), "Authentication", []string{"Password:"}, []bool{false})
			if err != nil {
				return nil, err
			}
			if len(answers) > 0 && strings.TrimSpace(answers[0]) == s.cfg.Password {
				return nil, nil
			}
			return nil, fmt.Errorf("access denied")
		},
	}
	srvCfg.AddHostKey(s.hostKey)

	conn, chans, reqs, err := ssh.NewServerConn(nc, srvCfg)
	if err != nil {
		_ = nc.Close()
		return
	}
	defer conn.Close()
	go ssh.DiscardRequests(reqs)

	for ch := range chans {
		if ch.ChannelType() != "session" {
			ch.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		channel, requests, err := ch.Accept()
		if err != nil {
			continue
		}
		dev := s.resolveDevice(conn.User())
		go s.handleSession(channel, requests, dev)
	}
}

func (s *Server) resolveDevice(user string) *deviceState {
	cfg, ok := s.cfg.Devices[user]
	if !ok {
		cfg = DeviceConfig{Hostname: user, Mode: "nxos"}
	}
	if cfg.Hostname == "" {
		cfg.Hostname = user
	}
	files := make(map[string]bool, len(cfg.Files))
	for _, f := range cfg.Files {
		files[f] = true
	}
	return &deviceState{cfg: cfg, files: files}
}

// deviceState 单个会话的模拟设备状态
type deviceState struct {
	cfg   DeviceConfig
	files map[string]bool
}

func (s *Server) handleSession(channel ssh.Channel, requests <-chan *ssh.Request, dev *deviceState) {
	defer channel.Close()
	for req := range requests {
		switch req.Type {
		case "pty-req":
			req.Reply(true, nil)
		case "shell":
			req.Reply(true, nil)
			s.runShell(channel, dev)
			return
		default:
			req.Reply(false, nil)
		}
	}
}

func (s *Server) runShell(channel ssh.Channel, dev *deviceState) {
	prompt := func() {
		fmt.Fprintf(channel, "%s# ", dev.cfg.Hostname)
	}
	prompt()

	reader := bufio.NewReader(channel)

	// 空闲超时：到期直接关闭通道，ReadString 随之返回错误
	idle := time.Duration(s.cfg.IdleSeconds) * time.Second
	var idleTimer *time.Timer
	if idle > 0 {
		idleTimer = time.AfterFunc(idle, func() { _ = channel.Close() })
		defer idleTimer.Stop()
	}

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				logger.Debugf("simulate: session read error: %v", err)
			}
			return
		}
		if idleTimer != nil {
			idleTimer.Reset(idle)
		}
		cmd := strings.TrimSpace(strings.ReplaceAll(line, "\r", ""))
		if cmd == "" {
			fmt.Fprint(channel, "\r\n")
			prompt()
			continue
		}
		if strings.EqualFold(cmd, "exit") || strings.EqualFold(cmd, "quit") {
			fmt.Fprint(channel, "\r\n")
			return
		}
		s.dispatch(channel, reader, dev, cmd)
		prompt()
	}
}

func (s *Server) dispatch(channel ssh.Channel, reader *bufio.Reader, dev *deviceState, cmd string) {
	switch {
	case strings.HasPrefix(cmd, "terminal "):
		// 分页与宽度设置直接吞掉
	case strings.HasPrefix(cmd, "show version"):
		s.showVersion(channel, dev)
	case strings.HasPrefix(cmd, "dir"):
		s.dir(channel, dev)
	case strings.HasPrefix(cmd, "delete "):
		s.delete(channel, dev, cmd)
	case strings.HasPrefix(cmd, "copy "):
		s.copy(channel, reader, dev, cmd)
	case strings.HasPrefix(cmd, "reload"):
		fmt.Fprint(channel, "This command will reboot the system. (y/n)?  [n] ")
		answer, _ := reader.ReadString('\n')
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(answer)), "y") {
			fmt.Fprint(channel, "\r\nSystem is going down for reboot NOW!\r\n")
		}
	default:
		fmt.Fprintf(channel, "%% invalid command detected at '^' marker\r\n")
	}
}

func (s *Server) showVersion(channel ssh.Channel, dev *deviceState) {
	if strings.EqualFold(dev.cfg.Mode, "aci") {
		fmt.Fprint(channel, "Cisco Nexus Operating System Software\r\nkickstart: version 15.2 [ACI build]\r\n  system mode: aci\r\n")
		return
	}
	fmt.Fprint(channel, "Cisco Nexus Operating System (NX-OS) Software\r\nNXOS: version 10.2(5)\r\n")
}

func (s *Server) dir(channel ssh.Channel, dev *deviceState) {
	var total int64
	for f := range dev.files {
		size := int64(1024 * (len(f) + 1))
		total += size
		fmt.Fprintf(channel, "%12d    Aug 30 10:00:00 2026  %s\r\n", size, f)
	}
	fmt.Fprintf(channel, "\r\nUsage for bootflash://sup-local\r\n%12d bytes used\r\n%12d bytes free\r\n%12d bytes total\r\n",
		total, int64(50_000_000_000)-total, int64(50_000_000_000))
}

func (s *Server) delete(channel ssh.Channel, dev *deviceState, cmd string) {
	target := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(cmd, "delete "), "no-prompt"))
	name := strings.TrimPrefix(target, "bootflash:")
	if !dev.files[name] {
		fmt.Fprintf(channel, "No such file or directory\r\n")
		return
	}
	delete(dev.files, name)
}

// copy 按设备配置的 copy_behavior 演绎一次复制交互
func (s *Server) copy(channel ssh.Channel, reader *bufio.Reader, dev *deviceState, cmd string) {
	fields := strings.Fields(cmd)
	if len(fields) < 3 {
		fmt.Fprint(channel, "% incomplete command\r\n")
		return
	}
	source, target := fields[1], fields[2]
	name := strings.TrimPrefix(target, "bootflash:")

	switch dev.cfg.CopyBehavior {
	case "cannot_stat":
		fmt.Fprintf(channel, "scp: %s: cannot stat file or directory\r\n", source)
		return
	case "login_failed":
		fmt.Fprint(channel, "Password: ")
		_, _ = reader.ReadString('\n')
		fmt.Fprint(channel, "\r\nlogin failed\r\n")
		return
	}
	if dev.files[name] {
		fmt.Fprint(channel, "cannot overwrite existing file\r\n")
		return
	}

	fmt.Fprint(channel, "The authenticity of host can't be established. Are you sure you want to continue connecting (yes/no)? ")
	_, _ = reader.ReadString('\n')
	fmt.Fprint(channel, "Password: ")
	_, _ = reader.ReadString('\n')
	for pct := 25; pct <= 100; pct += 25 {
		fmt.Fprintf(channel, "\r %3d%%", pct)
		time.Sleep(50 * time.Millisecond)
	}
	dev.files[name] = true
	fmt.Fprint(channel, "\r\nCopy complete, now saving to disk (please wait)...\r\nCopy complete.\r\n")
}
