package workflow

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/switchsuitepro/switchsuitepro/pkg/console"
	"github.com/switchsuitepro/switchsuitepro/pkg/expect"
	"github.com/switchsuitepro/switchsuitepro/pkg/logger"
)

// Console 工作流对控制台会话的依赖面。
// *console.Session 是生产实现，测试使用脚本化假实现。
type Console interface {
	expect.Transport
	SendRaw(text string) error
	Prompt() *regexp.Regexp
	Mode() console.Mode
	SetMode(m console.Mode)
	Disconnect() error
}

// TransferJob 文件传输作业参数
type TransferJob struct {
	// Scheme 传输协议，scp 或 ftp，默认 scp
	Scheme string `json:"scheme"`
	// RemoteHost 文件服务器地址
	RemoteHost string `json:"remote_host"`
	// RemoteUser / RemotePassword 文件服务器凭据
	RemoteUser     string `json:"remote_user"`
	RemotePassword string `json:"remote_password"`
	// RemoteDir 远端目录，Filename 为文件名
	RemoteDir string `json:"remote_dir"`
	Filename  string `json:"filename"`
	// Destination 设备目标文件系统，默认 bootflash:
	Destination string `json:"destination"`
	// VRF 管理 VRF 名称，默认 management
	VRF string `json:"vrf"`
	// Force 目标已存在时删除后重传；否则视为未变更
	Force bool `json:"force"`
	// CheckMode 只推演结论，不执行复制
	CheckMode bool `json:"check_mode"`
	// NegotiateTimeout 交互协商阶段单周期超时，默认 30s
	NegotiateTimeout time.Duration `json:"negotiate_timeout"`
	// TransferTimeout 等待传输完成的超时，默认 600s
	TransferTimeout time.Duration `json:"transfer_timeout"`
}

func (j *TransferJob) fill() {
	if j.Scheme == "" {
		j.Scheme = "scp"
	}
	if j.Destination == "" {
		j.Destination = "bootflash:"
	}
	if j.VRF == "" {
		j.VRF = "management"
	}
	if j.NegotiateTimeout <= 0 {
		j.NegotiateTimeout = 30 * time.Second
	}
	if j.TransferTimeout <= 0 {
		j.TransferTimeout = 600 * time.Second
	}
}

// source 远端文件 URL，如 scp://admin@10.1.1.1/images/nxos.bin
func (j *TransferJob) source() string {
	return fmt.Sprintf("%s://%s@%s%s", j.Scheme, j.RemoteUser, j.RemoteHost,
		path.Join("/", j.RemoteDir, j.Filename))
}

// target 设备侧目标文件，如 bootflash:nxos.bin
func (j *TransferJob) target() string {
	return j.Destination + j.Filename
}

func (j *TransferJob) copyCommand() string {
	return fmt.Sprintf("copy %s %s vrf %s", j.source(), j.target(), j.VRF)
}

func (j *TransferJob) validate() error {
	if j.Filename == "" || strings.ContainsAny(j.Filename, " \t") {
		return &PathError{Source: j.source(), Output: "invalid filename"}
	}
	if j.RemoteHost == "" {
		return &PathError{Source: j.source(), Output: "remote host not set"}
	}
	return nil
}

// reUsageMarker 设备文件系统 dir 输出的容量统计行，用于平台合理性校验
var reUsageMarker = expect.Pat(`\d+\s+bytes\s+(used|free|total)|usage for`)

// transferRun 单次传输调用的运行期状态
type transferRun struct {
	con     Console
	job     TransferJob
	deleted bool
	outcome Outcome
	settled bool
}

// RunTransfer 执行文件传输工作流并返回唯一终态。
// 无论哪条路径退出，会话都会被断开。
func RunTransfer(con Console, job TransferJob) Outcome {
	job.fill()
	r := &transferRun{con: con, job: job}

	defer func() {
		if err := con.Disconnect(); err != nil {
			logger.Warnf("transfer: disconnect: %v", err)
		}
	}()

	if err := job.validate(); err != nil {
		return Failure(err)
	}
	out, err := r.run()
	if err != nil {
		logger.Errorf("transfer %s -> %s: %v", job.source(), job.target(), err)
		return Failure(err)
	}
	return out
}

func (r *transferRun) run() (Outcome, error) {
	listing, err := r.listDestination()
	if err != nil {
		return Outcome{}, err
	}
	if !reUsageMarker.MatchString(listing) {
		return Outcome{}, &expect.UnexpectedPromptError{Stage: "dir-destination", Output: listing}
	}

	present := containsFile(listing, r.job.Filename)
	if present && !r.job.Force {
		return Unchanged("%s already present on %s", r.job.Filename, r.job.Destination), nil
	}
	if r.job.CheckMode {
		if present {
			return Changed("would delete %s and copy %s", r.job.target(), r.job.source()), nil
		}
		return Changed("would copy %s to %s", r.job.source(), r.job.target()), nil
	}

	logger.Infof("transfer: copying %s to %s", r.job.source(), r.job.target())
	if err := r.con.Send(r.job.copyCommand()); err != nil {
		return Outcome{}, err
	}
	if err := expect.Run(r.con, r.negotiateTable()); err != nil {
		return Outcome{}, err
	}
	if !r.settled {
		return Outcome{}, fmt.Errorf("transfer finished without a terminal state")
	}
	return r.outcome, nil
}

// listDestination 列出目标文件系统，返回提示符前的完整输出
func (r *transferRun) listDestination() (string, error) {
	if err := r.con.Send("dir " + r.job.Destination); err != nil {
		return "", err
	}
	idx, before, err := r.con.WaitFor([]*regexp.Regexp{r.con.Prompt()}, r.job.NegotiateTimeout)
	if err != nil {
		return "", err
	}
	if idx == expect.Timeout {
		return "", &expect.TimeoutError{Stage: "dir-destination", Buffered: before}
	}
	return before, nil
}

// containsFile 目录输出按行尾匹配文件名
func containsFile(listing, name string) bool {
	re := regexp.MustCompile(`(?mi)\s` + regexp.QuoteMeta(name) + `\s*$`)
	return re.MatchString(listing)
}

// finish 设置终态并结束等待循环
func (r *transferRun) finish(o Outcome) (*expect.Table, error) {
	r.outcome = o
	r.settled = true
	return nil, nil
}

// negotiateTable 复制命令发出后的交互协商表。
// 规则顺序即优先级：致命的路径错误最先，覆盖冲突次之，
// 然后才是指纹确认与口令输入这类推进性提示。
func (r *transferRun) negotiateTable() *expect.Table {
	t := &expect.Table{Name: "copy-negotiate", Timeout: r.job.NegotiateTimeout}
	t.Rules = []expect.Rule{
		{Pattern: expect.Pat(`cannot stat`), Handle: func(before string) (*expect.Table, error) {
			return nil, &PathError{Source: r.job.source(), Output: before}
		}},
		{Pattern: expect.Pat(`cannot overwrite existing file`), Handle: r.handleOverwriteConflict},
		{Pattern: expect.Pat(`do you want to overwrite`), Handle: func(before string) (*expect.Table, error) {
			// 设备给出在线覆盖询问：force 时就地确认，不重发复制命令
			if r.job.Force {
				if err := r.con.Send("y"); err != nil {
					return nil, err
				}
				return r.waitTable(), nil
			}
			if err := r.con.Send("n"); err != nil {
				return nil, err
			}
			return r.finish(Unchanged("%s already present on %s", r.job.Filename, r.job.Destination))
		}},
		// 行尾锚定：指纹询问必须完整到达，否则残留的 (yes/no) 会被重复命中
		{Pattern: expect.Pat(`\(yes/no[^)]*\)\?\s*$`), Handle: func(before string) (*expect.Table, error) {
			if err := r.con.Send("yes"); err != nil {
				return nil, err
			}
			return t, nil
		}},
		{Pattern: expect.Pat(`password:`), Handle: func(before string) (*expect.Table, error) {
			if err := r.con.Send(r.job.RemotePassword); err != nil {
				return nil, err
			}
			return r.waitTable(), nil
		}},
		{Pattern: expect.Pat(`copy complete`), Handle: func(before string) (*expect.Table, error) {
			return r.finish(Changed("copied %s to %s", r.job.Filename, r.job.target()))
		}},
		{Pattern: expect.Pat(`login failed|authentication failed|permission denied`), Handle: func(before string) (*expect.Table, error) {
			return nil, &RemoteAuthError{Host: r.job.RemoteHost, Output: before}
		}},
		{Pattern: r.con.Prompt(), Handle: func(before string) (*expect.Table, error) {
			return nil, &expect.UnexpectedPromptError{Stage: t.Name, Output: before}
		}},
		// 无任何交互询问、直接开始出进度的复制（ftp 带 URI 凭据、
		// 已缓存的远端指纹）：切到受 ftpTimeout 约束的完成等待。
		// 排在提示符之后，带 % 的设备报错仍按意外提示处理。
		{Pattern: expect.Pat(`%`), Handle: func(before string) (*expect.Table, error) {
			return r.waitTable(), nil
		}},
	}
	return t
}

// handleOverwriteConflict 目标已存在且设备直接拒绝：
// force 时删除后重发复制命令，整个调用最多重试一次
func (r *transferRun) handleOverwriteConflict(before string) (*expect.Table, error) {
	if !r.job.Force {
		return r.finish(Unchanged("%s already present on %s", r.job.Filename, r.job.Destination))
	}
	if r.deleted {
		return nil, fmt.Errorf("overwrite conflict for %s persisted after delete", r.job.target())
	}
	r.deleted = true
	logger.Infof("transfer: deleting %s before re-copy", r.job.target())
	if err := r.con.Send("delete " + r.job.target() + " no-prompt"); err != nil {
		return nil, err
	}
	return r.afterDeleteTable(), nil
}

// afterDeleteTable 删除命令发出后等待提示符，随后重发复制命令
func (r *transferRun) afterDeleteTable() *expect.Table {
	return &expect.Table{
		Name:    "post-delete",
		Timeout: r.job.NegotiateTimeout,
		Rules: []expect.Rule{
			{Pattern: expect.Pat(`no such file`), Handle: func(before string) (*expect.Table, error) {
				return nil, &PathError{Source: r.job.target(), Output: before}
			}},
			{Pattern: r.con.Prompt(), Handle: func(before string) (*expect.Table, error) {
				if err := r.con.Send(r.job.copyCommand()); err != nil {
					return nil, err
				}
				return r.negotiateTable(), nil
			}},
		},
	}
}

// waitTable 传输进行期间的完成等待表。
// 进度输出中的 % 标记触发继续等待；终结消息优先于进度标记。
func (r *transferRun) waitTable() *expect.Table {
	t := &expect.Table{Name: "copy-wait", Timeout: r.job.TransferTimeout}
	t.Rules = []expect.Rule{
		{Pattern: expect.Pat(`copy complete`), Handle: func(before string) (*expect.Table, error) {
			return r.finish(Changed("copied %s to %s", r.job.Filename, r.job.target()))
		}},
		{Pattern: expect.Pat(`login failed|authentication failed|permission denied`), Handle: func(before string) (*expect.Table, error) {
			return nil, &RemoteAuthError{Host: r.job.RemoteHost, Output: before}
		}},
		{Pattern: expect.Pat(`cannot stat|no such file`), Handle: func(before string) (*expect.Table, error) {
			return nil, &PathError{Source: r.job.source(), Output: before}
		}},
		{Pattern: expect.Pat(`%`), Handle: func(before string) (*expect.Table, error) {
			return t, nil
		}},
	}
	return t
}
