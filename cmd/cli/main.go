// 命令行一次性执行器：对单台设备跑一次传输或模式切换工作流，
// 将终态以 JSON 输出到标准输出，失败时以非零码退出。
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/switchsuitepro/switchsuitepro/internal/workflow"
	"github.com/switchsuitepro/switchsuitepro/pkg/console"
	"github.com/switchsuitepro/switchsuitepro/pkg/logger"
)

func main() {
	var (
		action   = flag.String("action", "transfer", "工作流类型: transfer | boot")
		host     = flag.String("host", "", "设备地址")
		port     = flag.Int("port", 22, "设备 SSH 端口")
		user     = flag.String("user", "", "设备用户名")
		password = flag.String("password", "", "设备密码")
		logLevel = flag.String("log-level", "warn", "日志级别")
		check    = flag.Bool("check", false, "只推演结论，不执行变更")

		// transfer 参数
		scheme     = flag.String("scheme", "scp", "传输协议: scp | ftp")
		remoteHost = flag.String("remote-host", "", "文件服务器地址")
		remoteUser = flag.String("remote-user", "", "文件服务器用户名")
		remotePass = flag.String("remote-password", "", "文件服务器密码")
		remoteDir  = flag.String("remote-dir", "", "远端目录")
		filename   = flag.String("file", "", "文件名")
		dest       = flag.String("destination", "bootflash:", "目标文件系统")
		vrf        = flag.String("vrf", "management", "管理 VRF")
		force      = flag.Bool("force", false, "已存在时删除后重传")
		ftpTimeout = flag.Duration("ftp-timeout", 600*time.Second, "传输完成等待超时")

		// boot 参数
		mode    = flag.String("mode", "", "目标模式: nxos | aci")
		image   = flag.String("image", "", "引导镜像文件名")
		restore = flag.String("restore-config", "", "引导后恢复的配置文件")
	)
	flag.Parse()

	_ = logger.Init(logger.Config{Level: *logLevel, Output: "console"})

	if *host == "" || *user == "" {
		fmt.Fprintln(os.Stderr, "host and user are required")
		os.Exit(2)
	}

	sess, err := console.Dial(console.Options{
		Host:     *host,
		Port:     *port,
		Username: *user,
		Password: *password,
	})

	var out workflow.Outcome
	if err != nil {
		out = workflow.Failure(err)
	} else {
		switch *action {
		case "transfer":
			out = workflow.RunTransfer(sess, workflow.TransferJob{
				Scheme:          *scheme,
				RemoteHost:      *remoteHost,
				RemoteUser:      *remoteUser,
				RemotePassword:  *remotePass,
				RemoteDir:       *remoteDir,
				Filename:        *filename,
				Destination:     *dest,
				VRF:             *vrf,
				Force:           *force,
				CheckMode:       *check,
				TransferTimeout: *ftpTimeout,
			})
		case "boot":
			out = workflow.RunBoot(sess, workflow.BootJob{
				Mode:          *mode,
				Image:         *image,
				Username:      *user,
				Password:      *password,
				RestoreConfig: *restore,
				CheckMode:     *check,
			})
		default:
			fmt.Fprintf(os.Stderr, "unknown action %q\n", *action)
			os.Exit(2)
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(out)

	if out.Failed {
		os.Exit(1)
	}
}
