package workflow

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/switchsuitepro/switchsuitepro/pkg/console"
	"github.com/switchsuitepro/switchsuitepro/pkg/expect"
	"github.com/switchsuitepro/switchsuitepro/pkg/logger"
)

// BootJob 固件模式切换作业参数
type BootJob struct {
	// Mode 目标运行模式：nxos 或 aci
	Mode string `json:"mode"`
	// Image 引导镜像文件名（位于 bootflash:）
	Image string `json:"image"`
	// Username / Password 引导完成后的设备登录凭据
	Username string `json:"username"`
	Password string `json:"password"`
	// RestoreConfig 可选：引导后恢复的已保存配置（bootflash: 路径）
	RestoreConfig string `json:"restore_config"`
	// ProbeCommand 模式探测命令，默认 show version
	ProbeCommand string `json:"probe_command"`
	// ACIIdentifiers / NXOSIdentifiers 探测输出中判定平台的标识子串
	// （大小写不敏感）；留空使用内置正则
	ACIIdentifiers  []string `json:"aci_identifiers"`
	NXOSIdentifiers []string `json:"nxos_identifiers"`
	// CheckMode 只推演结论，不执行引导
	CheckMode bool `json:"check_mode"`
	// ProbeTimeout 模式探测等待超时，默认 30s
	ProbeTimeout time.Duration `json:"probe_timeout"`
	// ConfirmTimeout reload 确认与普通命令回显超时，默认 60s
	ConfirmTimeout time.Duration `json:"confirm_timeout"`
	// LoaderTimeout 重启后等待 loader 提示符的超时，默认 600s
	LoaderTimeout time.Duration `json:"loader_timeout"`
	// BootTimeout 镜像引导后等待登录提示的超时，默认 1200s
	BootTimeout time.Duration `json:"boot_timeout"`
	// DialogTimeout 首次引导 setup 对话单步超时，默认 300s
	DialogTimeout time.Duration `json:"dialog_timeout"`
	// Attempts 有界重试次数（reload 确认、引导后登录），默认 5
	Attempts int `json:"attempts"`
}

func (j *BootJob) fill() {
	if j.ProbeTimeout <= 0 {
		j.ProbeTimeout = 30 * time.Second
	}
	if j.ConfirmTimeout <= 0 {
		j.ConfirmTimeout = 60 * time.Second
	}
	if j.LoaderTimeout <= 0 {
		j.LoaderTimeout = 600 * time.Second
	}
	if j.BootTimeout <= 0 {
		j.BootTimeout = 1200 * time.Second
	}
	if j.DialogTimeout <= 0 {
		j.DialogTimeout = 300 * time.Second
	}
	if j.Attempts <= 0 {
		j.Attempts = 5
	}
}

func (j *BootJob) targetMode() (console.Mode, error) {
	switch strings.ToLower(j.Mode) {
	case "nxos", "nx-os":
		return console.ModeNXOS, nil
	case "aci":
		return console.ModeACI, nil
	}
	return console.ModeUnknown, fmt.Errorf("unknown target mode %q (want nxos or aci)", j.Mode)
}

var (
	// 模式探测：show version 输出中的平台标识，大小写不敏感
	reACIVersion  = expect.Pat(`\baci\b|apic`)
	reNXOSVersion = expect.Pat(`nx-?os`)

	reReloadYN      = expect.Pat(`\(y(es)?/n(o)?\)`)
	reReloadConfirm = expect.Pat(`\[confirm\]`)
	reLoaderPrompt  = expect.Pat(`loader\s*>`)
	reLoginPrompt   = expect.Pat(`login\s*:\s*$`)
	rePassword      = expect.Pat(`password\s*:\s*$`)

	// setup 对话中任何已知问句；在固定顺序步骤里兜底捕获乱序提示
	reAnyDialog = expect.Pat(`\(yes?[^)]*/no?[^)]*\)|\[confirm\]|login\s*:\s*$|password[^:]*:\s*$`)
)

// bootRun 单次引导调用的运行期状态
type bootRun struct {
	con Console
	job BootJob
}

// RunBoot 执行模式切换工作流并返回唯一终态。
// 无论哪条路径退出，会话都会被断开。
func RunBoot(con Console, job BootJob) Outcome {
	job.fill()
	r := &bootRun{con: con, job: job}

	defer func() {
		if err := con.Disconnect(); err != nil {
			logger.Warnf("boot: disconnect: %v", err)
		}
	}()

	target, err := job.targetMode()
	if err != nil {
		return Failure(err)
	}
	out, err := r.run(target)
	if err != nil {
		logger.Errorf("boot to %s: %v", target, err)
		return Failure(err)
	}
	return out
}

func (r *bootRun) run(target console.Mode) (Outcome, error) {
	current, err := r.probeMode()
	if err != nil {
		return Outcome{}, err
	}
	r.con.SetMode(current)

	if current == target {
		// 目标态已满足；仍有配置待恢复时只做恢复，不重启
		if r.job.RestoreConfig != "" && !r.job.CheckMode {
			if err := r.restoreConfig(); err != nil {
				return Outcome{}, err
			}
			return Changed("restored config %s (already in %s mode)", r.job.RestoreConfig, target), nil
		}
		return Unchanged("device already in %s mode", target), nil
	}
	if r.job.CheckMode {
		return Changed("would boot from %s to %s mode", current, target), nil
	}

	switch target {
	case console.ModeACI:
		err = r.bootACI()
	case console.ModeNXOS:
		err = r.bootNXOS()
	}
	if err != nil {
		return Outcome{}, err
	}
	r.con.SetMode(target)

	if r.job.RestoreConfig != "" {
		if err := r.restoreConfig(); err != nil {
			return Outcome{}, err
		}
		return Changed("booted into %s mode and restored %s", target, r.job.RestoreConfig), nil
	}
	return Changed("booted into %s mode", target), nil
}

// probeMode 通过探测命令的输出判定当前运行模式
func (r *bootRun) probeMode() (console.Mode, error) {
	cmd := r.job.ProbeCommand
	if cmd == "" {
		cmd = "show version"
	}
	before, err := r.sendAwaitPrompt(cmd, r.job.ProbeTimeout)
	if err != nil {
		return console.ModeUnknown, err
	}
	switch {
	case matchPlatform(before, r.job.ACIIdentifiers, reACIVersion):
		return console.ModeACI, nil
	case matchPlatform(before, r.job.NXOSIdentifiers, reNXOSVersion):
		return console.ModeNXOS, nil
	}
	return console.ModeUnknown, &expect.UnexpectedPromptError{Stage: "mode-probe", Output: before}
}

// matchPlatform 配置的标识子串优先；未配置时退回内置正则
func matchPlatform(out string, identifiers []string, fallback *regexp.Regexp) bool {
	if len(identifiers) == 0 {
		return fallback.MatchString(out)
	}
	low := strings.ToLower(out)
	for _, id := range identifiers {
		if id != "" && strings.Contains(low, strings.ToLower(id)) {
			return true
		}
	}
	return false
}

// sendAwaitPrompt 发送一条命令并等待提示符，返回提示符前的输出
func (r *bootRun) sendAwaitPrompt(cmd string, timeout time.Duration) (string, error) {
	if err := r.con.Send(cmd); err != nil {
		return "", err
	}
	idx, before, err := r.con.WaitFor([]*regexp.Regexp{r.con.Prompt()}, timeout)
	if err != nil {
		return "", err
	}
	if idx == expect.Timeout {
		return "", &expect.TimeoutError{Stage: cmd, Buffered: before}
	}
	return before, nil
}

// confirmReload 发出 reload 并确认重启询问。
// 两种确认提示（(y/n) 与 [confirm]）绑定同一个处理器；
// 未见确认提示时重发 reload，最多尝试 Attempts 次。
func (r *bootRun) confirmReload() error {
	confirm := func(before string) (*expect.Table, error) {
		return nil, r.con.Send("y")
	}
	table := &expect.Table{
		Name:    "reload-confirm",
		Timeout: r.job.ConfirmTimeout,
		Rules: []expect.Rule{
			{Pattern: reReloadYN, Handle: confirm},
			{Pattern: reReloadConfirm, Handle: confirm},
		},
	}

	var last error
	for attempt := 1; attempt <= r.job.Attempts; attempt++ {
		if err := r.con.Send("reload"); err != nil {
			return err
		}
		err := expect.Run(r.con, table)
		if err == nil {
			return nil
		}
		var te *expect.TimeoutError
		if !errors.As(err, &te) {
			return err
		}
		logger.Warnf("boot: reload confirmation not seen, attempt %d/%d", attempt, r.job.Attempts)
		last = err
	}
	return last
}

// bootACI 从 NXOS 切换到 ACI：清除 nxos 引导变量、保存配置、
// 重启至 loader、引导 ACI 镜像并完成登录
func (r *bootRun) bootACI() error {
	steps := []struct {
		cmd     string
		timeout time.Duration
	}{
		{"terminal length 0", r.job.ConfirmTimeout},
		{"configure terminal", r.job.ConfirmTimeout},
		{"no boot nxos", r.job.ConfirmTimeout},
		{"end", r.job.ConfirmTimeout},
		{"copy running-config startup-config", r.job.ConfirmTimeout},
	}
	for _, st := range steps {
		if _, err := r.sendAwaitPrompt(st.cmd, st.timeout); err != nil {
			return &ACIBootError{Err: err}
		}
	}

	if err := r.confirmReload(); err != nil {
		return &ACIBootError{Err: err}
	}
	if err := r.awaitLoader(); err != nil {
		return &ACIBootError{Err: err}
	}
	if err := r.con.Send("boot " + r.job.Image); err != nil {
		return &ACIBootError{Err: err}
	}
	idx, before, err := r.con.WaitFor([]*regexp.Regexp{reLoginPrompt}, r.job.BootTimeout)
	if err != nil {
		return &ACIBootError{Err: err}
	}
	if idx == expect.Timeout {
		return &ACIBootError{Err: &expect.TimeoutError{Stage: "post-boot-login", Buffered: before}}
	}
	if err := r.con.Send(r.job.Username); err != nil {
		return &ACIBootError{Err: err}
	}
	if err := r.login(); err != nil {
		return &ACIBootError{Err: err}
	}
	return nil
}

// awaitLoader 等待重启后落入 loader 提示符
func (r *bootRun) awaitLoader() error {
	idx, before, err := r.con.WaitFor([]*regexp.Regexp{reLoaderPrompt}, r.job.LoaderTimeout)
	if err != nil {
		return err
	}
	if idx == expect.Timeout {
		return &expect.TimeoutError{Stage: "loader-wait", Buffered: before}
	}
	r.con.SetMode(console.ModeLoader)
	return nil
}

// bootNXOS 从 ACI 切换回 NXOS：重启并在 BIOS 阶段发送中断键
// 落入 loader，引导 NXOS 镜像后走首次引导 setup 对话。
// setup 对话是严格固定顺序，任何偏离都是失败而不是重试目标。
func (r *bootRun) bootNXOS() error {
	if err := r.confirmReload(); err != nil {
		return &NXOSBootError{Err: err}
	}
	if err := r.interruptToLoader(); err != nil {
		return &NXOSBootError{Err: err}
	}
	if err := r.con.Send("boot " + r.job.Image); err != nil {
		return &NXOSBootError{Err: err}
	}
	if err := r.setupDialog(); err != nil {
		if errors.As(err, new(*BootSequenceError)) {
			return err
		}
		return &NXOSBootError{Err: err}
	}
	return nil
}

// interruptToLoader 等待 BIOS 的中断提示并发送 Ctrl-C（不带行结束符）；
// 部分固件不提示而直接落入 loader，两条规则都接受
func (r *bootRun) interruptToLoader() error {
	loaderRule := expect.Rule{Pattern: reLoaderPrompt, Handle: func(before string) (*expect.Table, error) {
		r.con.SetMode(console.ModeLoader)
		return nil, nil
	}}
	table := &expect.Table{
		Name:    "bios-interrupt",
		Timeout: r.job.LoaderTimeout,
	}
	table.Rules = []expect.Rule{
		{Pattern: expect.Pat(`ctrl[-+ ]?c|press any key to stop|\^c`), Handle: func(before string) (*expect.Table, error) {
			if err := r.con.SendRaw("\x03"); err != nil {
				return nil, err
			}
			return &expect.Table{Name: "loader-wait", Timeout: r.job.LoaderTimeout, Rules: []expect.Rule{loaderRule}}, nil
		}},
		loaderRule,
	}
	return expect.Run(r.con, table)
}

// dialogStep 首次引导 setup 对话的一步：预期问句与应答
type dialogStep struct {
	stage   string
	pattern *regexp.Regexp
	reply   string
}

// setupDialog 首次引导 setup 对话，严格固定顺序。
// 每步只接受自己的问句；出现其它已知问句即判定顺序偏离。
func (r *bootRun) setupDialog() error {
	steps := []dialogStep{
		{"image-check", expect.Pat(`image.{0,40}valid|valid.{0,40}image`), "y"},
		{"abort-provisioning", expect.Pat(`abort (power.?on )?auto.?provisioning`), "yes"},
		{"secure-password", expect.Pat(`secure password standard`), "y"},
		{"admin-password", expect.Pat(`enter the password for .{0,10}admin`), r.job.Password},
		{"confirm-password", expect.Pat(`confirm the password for .{0,10}admin`), r.job.Password},
		{"basic-config", expect.Pat(`basic configuration dialog`), "no"},
		{"first-login", reLoginPrompt, r.job.Username},
		{"first-password", rePassword, r.job.Password},
	}

	table := r.dialogTable(steps, 0)
	if err := expect.Run(r.con, table); err != nil {
		return err
	}

	// 对话收尾后等待正常提示符
	if _, err := r.awaitPrompt("post-setup-prompt", r.job.DialogTimeout); err != nil {
		return err
	}
	return nil
}

// dialogTable 构造第 i 步的规则表，应答后链到下一步
func (r *bootRun) dialogTable(steps []dialogStep, i int) *expect.Table {
	st := steps[i]
	return &expect.Table{
		Name:    st.stage,
		Timeout: r.job.DialogTimeout,
		Rules: []expect.Rule{
			{Pattern: st.pattern, Handle: func(before string) (*expect.Table, error) {
				if err := r.con.Send(st.reply); err != nil {
					return nil, err
				}
				if i+1 < len(steps) {
					return r.dialogTable(steps, i+1), nil
				}
				return nil, nil
			}},
			{Pattern: reAnyDialog, Handle: func(before string) (*expect.Table, error) {
				return nil, &BootSequenceError{Stage: st.stage, Output: before}
			}},
		},
	}
}

// awaitPrompt 等待会话提示符出现
func (r *bootRun) awaitPrompt(stage string, timeout time.Duration) (string, error) {
	idx, before, err := r.con.WaitFor([]*regexp.Regexp{r.con.Prompt()}, timeout)
	if err != nil {
		return "", err
	}
	if idx == expect.Timeout {
		return "", &expect.TimeoutError{Stage: stage, Buffered: before}
	}
	return before, nil
}

// login 引导完成后的登录协商，有界重试
func (r *bootRun) login() error {
	patterns := []*regexp.Regexp{reLoginPrompt, rePassword, r.con.Prompt()}
	var last error
	for attempt := 1; attempt <= r.job.Attempts; attempt++ {
		idx, before, err := r.con.WaitFor(patterns, r.job.ConfirmTimeout)
		if err != nil {
			return err
		}
		switch idx {
		case 0:
			err = r.con.Send(r.job.Username)
		case 1:
			err = r.con.Send(r.job.Password)
		case 2:
			return nil
		case expect.Timeout:
			// 诱导设备重绘提示
			err = r.con.Send("")
			last = &expect.TimeoutError{Stage: "post-boot-login", Buffered: before}
		}
		if err != nil {
			return err
		}
	}
	if last == nil {
		last = fmt.Errorf("login did not reach a prompt after %d attempts", r.job.Attempts)
	}
	return last
}

// restoreConfig 引导后恢复已保存配置并写入启动配置
func (r *bootRun) restoreConfig() error {
	logger.Infof("boot: restoring config %s", r.job.RestoreConfig)
	out, err := r.sendAwaitPrompt("copy "+r.job.RestoreConfig+" running-config", r.job.DialogTimeout)
	if err != nil {
		return &ConfigRestoreError{Err: err}
	}
	if expect.Pat(`no such file|cannot stat|invalid`).MatchString(out) {
		return &ConfigRestoreError{Err: fmt.Errorf("device rejected %s", r.job.RestoreConfig), Output: out}
	}
	if _, err := r.sendAwaitPrompt("copy running-config startup-config", r.job.DialogTimeout); err != nil {
		return &ConfigRestoreError{Err: err}
	}
	return nil
}
