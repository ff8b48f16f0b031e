package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const (
	listingWithoutImage = "       4096    Aug 01 10:00:00 2026  scripts/\r\n" +
		"\r\nUsage for bootflash://sup-local\r\n" +
		"  1000000 bytes used\r\n 49000000 bytes free\r\n 50000000 bytes total\r\nswitch# "

	listingWithImage = "       4096    Aug 01 10:00:00 2026  scripts/\r\n" +
		"  123456789    Aug 02 09:30:00 2026  nxos.10.2.5.bin\r\n" +
		"\r\nUsage for bootflash://sup-local\r\n" +
		"124456789 bytes used\r\n 48000000 bytes free\r\n 50000000 bytes total\r\nswitch# "
)

func testTransferJob() TransferJob {
	return TransferJob{
		Scheme:         "scp",
		RemoteHost:     "10.0.0.9",
		RemoteUser:     "files",
		RemotePassword: "filepw",
		RemoteDir:      "images",
		Filename:       "nxos.10.2.5.bin",
	}
}

// copyCmd 与控制器生成的复制命令保持一致
func copyCmd(job TransferJob) string {
	job.fill()
	return job.copyCommand()
}

func TestTransferFreshCopy(t *testing.T) {
	job := testTransferJob()
	con := newFakeConsole()
	con.respond("dir bootflash:", listingWithoutImage)
	con.respond(copyCmd(job),
		"The authenticity of host '10.0.0.9' can't be established.\r\nAre you sure you want to continue connecting (yes/no)? ")
	con.respond("yes", "Password: ")
	con.respond("filepw", " 100%\r\nCopy complete, now saving to disk (please wait)...\r\nCopy complete.\r\nswitch# ")

	out := RunTransfer(con, job)

	assert.True(t, out.Changed)
	assert.False(t, out.Failed)
	assert.True(t, con.disconnected)
	assert.Equal(t, 1, con.countSent(copyCmd(job)))
}

func TestTransferIdempotentWhenPresent(t *testing.T) {
	job := testTransferJob()
	con := newFakeConsole()
	con.respond("dir bootflash:", listingWithImage)

	out := RunTransfer(con, job)

	assert.False(t, out.Changed)
	assert.False(t, out.Failed)
	// 已存在且未加 force：除目录列举外不得发送任何命令
	assert.Equal(t, []string{"dir bootflash:"}, con.sent)
	assert.True(t, con.disconnected)
}

func TestTransferForceDeletesOnceAndRecopies(t *testing.T) {
	job := testTransferJob()
	job.Force = true
	con := newFakeConsole()
	con.respond("dir bootflash:", listingWithImage)
	con.respond(copyCmd(job),
		"cannot overwrite existing file\r\nswitch# ",
		"Password: ")
	con.respond("delete bootflash:nxos.10.2.5.bin no-prompt", "switch# ")
	con.respond("filepw", "Copy complete.\r\nswitch# ")

	out := RunTransfer(con, job)

	assert.True(t, out.Changed)
	assert.False(t, out.Failed)
	assert.Equal(t, 1, con.countSent("delete bootflash:nxos.10.2.5.bin no-prompt"))
	assert.Equal(t, 2, con.countSent(copyCmd(job)))
}

func TestTransferLiveOverwritePromptConfirmedInPlace(t *testing.T) {
	job := testTransferJob()
	job.Force = true
	con := newFakeConsole()
	con.respond("dir bootflash:", listingWithImage)
	con.respond(copyCmd(job),
		"Warning: There is already a file existing with this name. Do you want to overwrite (y/n)?[n] ")
	con.respond("y", "Copy complete.\r\nswitch# ")

	out := RunTransfer(con, job)

	assert.True(t, out.Changed)
	assert.False(t, out.Failed)
	// 就地确认：复制命令只发送一次，也没有删除动作
	assert.Equal(t, 1, con.countSent(copyCmd(job)))
	assert.Equal(t, 0, con.countSent("delete bootflash:nxos.10.2.5.bin no-prompt"))
}

func TestTransferLiveOverwriteDeclinedWithoutForce(t *testing.T) {
	job := testTransferJob()
	con := newFakeConsole()
	// 目录列举未见文件（竞态场景），设备在复制时给出在线覆盖询问
	con.respond("dir bootflash:", listingWithoutImage)
	con.respond(copyCmd(job),
		"Warning: There is already a file existing with this name. Do you want to overwrite (y/n)?[n] ")
	con.respond("n", "switch# ")

	out := RunTransfer(con, job)

	assert.False(t, out.Changed)
	assert.False(t, out.Failed)
}

func TestTransferCannotStatFails(t *testing.T) {
	job := testTransferJob()
	con := newFakeConsole()
	con.respond("dir bootflash:", listingWithoutImage)
	con.respond(copyCmd(job), "scp: /images/nxos.10.2.5.bin: cannot stat file or directory\r\nswitch# ")

	out := RunTransfer(con, job)

	assert.True(t, out.Failed)
	assert.Contains(t, out.Msg, "cannot stat")
	assert.True(t, con.disconnected)
}

func TestTransferRemoteAuthFailure(t *testing.T) {
	job := testTransferJob()
	con := newFakeConsole()
	con.respond("dir bootflash:", listingWithoutImage)
	con.respond(copyCmd(job), "Password: ")
	con.respond("filepw", "login failed\r\nswitch# ")

	out := RunTransfer(con, job)

	assert.True(t, out.Failed)
	assert.Contains(t, out.Msg, "rejected credentials")
}

func TestTransferTimeoutCarriesDeviceOutput(t *testing.T) {
	job := testTransferJob()
	con := newFakeConsole()
	con.respond("dir bootflash:", listingWithoutImage)
	// 复制卡死：有输出但不命中任何协商模式
	con.respond(copyCmd(job), "Initializing transfer engine\r\nTRACE-7731 waiting for stream")

	out := RunTransfer(con, job)

	assert.True(t, out.Failed)
	assert.Contains(t, out.Msg, "timeout")
	assert.Contains(t, out.Msg, "TRACE-7731")
}

func TestTransferProgressWithoutPrompts(t *testing.T) {
	job := testTransferJob()
	con := newFakeConsole()
	con.respond("dir bootflash:", listingWithoutImage)
	// 无指纹询问也无口令询问，复制直接开始出进度
	con.respond(copyCmd(job), " 25%")
	con.feed(" 50%", " 75%", "\r\nCopy complete.\r\nswitch# ")

	out := RunTransfer(con, job)

	assert.True(t, out.Changed)
	assert.False(t, out.Failed)
	assert.Equal(t, []string{"dir bootflash:", copyCmd(job)}, con.sent)
}

func TestTransferNegotiateTimeoutFails(t *testing.T) {
	job := testTransferJob()
	con := newFakeConsole()
	con.respond("dir bootflash:", listingWithoutImage)
	// 复制命令无任何响应

	out := RunTransfer(con, job)

	assert.True(t, out.Failed)
	assert.Contains(t, out.Msg, "timeout")
	assert.True(t, con.disconnected)
}

func TestTransferCheckModeDoesNotCopy(t *testing.T) {
	job := testTransferJob()
	job.CheckMode = true
	con := newFakeConsole()
	con.respond("dir bootflash:", listingWithoutImage)

	out := RunTransfer(con, job)

	assert.True(t, out.Changed)
	assert.False(t, out.Failed)
	assert.Contains(t, out.Msg, "would copy")
	assert.Equal(t, []string{"dir bootflash:"}, con.sent)
}

func TestTransferCheckModePresentWithoutForce(t *testing.T) {
	job := testTransferJob()
	job.CheckMode = true
	con := newFakeConsole()
	con.respond("dir bootflash:", listingWithImage)

	out := RunTransfer(con, job)

	assert.False(t, out.Changed)
	assert.False(t, out.Failed)
}

func TestTransferRejectsUnexpectedListing(t *testing.T) {
	job := testTransferJob()
	con := newFakeConsole()
	// 列举输出不像交换机文件系统
	con.respond("dir bootflash:", "bash: dir: command not found\r\nhost# ")

	out := RunTransfer(con, job)

	assert.True(t, out.Failed)
	assert.Equal(t, []string{"dir bootflash:"}, con.sent)
}

func TestTransferValidation(t *testing.T) {
	con := newFakeConsole()
	out := RunTransfer(con, TransferJob{RemoteHost: "10.0.0.9"})
	assert.True(t, out.Failed)
	assert.True(t, con.disconnected)

	con = newFakeConsole()
	out = RunTransfer(con, TransferJob{Filename: "nxos.bin"})
	assert.True(t, out.Failed)
}
