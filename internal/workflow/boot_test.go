package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/switchsuitepro/switchsuitepro/pkg/console"
)

const (
	versionNXOS = "Cisco Nexus Operating System (NX-OS) Software\r\n" +
		"NXOS: version 10.2(5)\r\nswitch# "
	versionACI = "Cisco Nexus Operating System Software\r\n" +
		"kickstart: version 15.2 [ACI build]\r\n  system mode: aci\r\napic1# "
)

func testBootJob(mode string) BootJob {
	return BootJob{
		Mode:     mode,
		Image:    "nxos.10.2.5.bin",
		Username: "admin",
		Password: "adminpw",
	}
}

func TestBootAlreadyInTargetMode(t *testing.T) {
	con := newFakeConsole()
	con.respond("show version", versionNXOS)

	out := RunBoot(con, testBootJob("nxos"))

	assert.False(t, out.Changed)
	assert.False(t, out.Failed)
	assert.Equal(t, 0, con.countSent("reload"))
	assert.Equal(t, console.ModeNXOS, con.mode)
	assert.True(t, con.disconnected)
}

func TestBootCheckMode(t *testing.T) {
	con := newFakeConsole()
	con.respond("show version", versionACI)

	job := testBootJob("nxos")
	job.CheckMode = true
	out := RunBoot(con, job)

	assert.True(t, out.Changed)
	assert.False(t, out.Failed)
	assert.Contains(t, out.Msg, "would boot")
	assert.Equal(t, 0, con.countSent("reload"))
}

func TestBootUnknownTargetMode(t *testing.T) {
	con := newFakeConsole()
	out := RunBoot(con, BootJob{Mode: "ios"})
	assert.True(t, out.Failed)
	assert.True(t, con.disconnected)
}

func TestBootProbeUnrecognizedOutputFails(t *testing.T) {
	con := newFakeConsole()
	con.respond("show version", "???\r\nswitch# ")

	out := RunBoot(con, testBootJob("nxos"))

	assert.True(t, out.Failed)
	assert.Contains(t, out.Msg, "unexpected prompt")
}

func TestBootToACIHappyPath(t *testing.T) {
	job := testBootJob("aci")
	job.Image = "aci-n9000-dk9.16.0.2.bin"

	con := newFakeConsole()
	con.respond("show version", versionNXOS)
	con.respond("terminal length 0", "switch# ")
	con.respond("configure terminal", "switch(config)# ")
	con.respond("no boot nxos", "switch(config)# ")
	con.respond("end", "switch# ")
	con.respond("copy running-config startup-config", "[########################] 100%\r\nCopy complete.\r\nswitch# ")
	con.respond("reload", "This command will reboot the system. (y/n)?  [n] ")
	con.respond("y", "\r\nSystem is going down for reboot NOW!\r\n...\r\nloader > ")
	con.respond("boot aci-n9000-dk9.16.0.2.bin", "\r\nBooting...\r\nUser Access Verification\r\nswitch login: ")
	con.respond("admin", "Password: ")
	con.respond("adminpw", "\r\napic1# ")

	out := RunBoot(con, job)

	assert.True(t, out.Changed)
	assert.False(t, out.Failed)
	assert.Equal(t, console.ModeACI, con.mode)
	assert.Equal(t, 1, con.countSent("no boot nxos"))
	assert.True(t, con.disconnected)
}

func TestBootToNXOSSetupDialog(t *testing.T) {
	job := testBootJob("nxos")

	con := newFakeConsole()
	con.respond("show version", versionACI)
	con.respond("reload", "This command will reboot the system. (y/n)?  [n] ")
	con.respond("y",
		"\r\nRebooting...\r\nHit ^C to abort autoboot\r\n", // reload 确认后出现 BIOS 中断提示
		"Abort Power On Auto Provisioning [yes - continue with normal setup] (yes/skip/no)[no]: ", // image-check 的 y
		"Enter the password for \"admin\": ") // secure-password 的 y
	con.respondRaw("\x03", "\r\nloader > ")
	con.respond("boot nxos.10.2.5.bin", "\r\nBooting...\r\nChecking image integrity... image is valid. Continue? (y/n) ")
	con.respond("yes", "Do you want to enforce secure password standard (yes/no) [y]: ")
	con.respond("adminpw",
		"Confirm the password for \"admin\": ",
		"Would you like to enter the basic configuration dialog (yes/no): ",
		"\r\nswitch# ") // 首次登录密码之后回到提示符
	con.respond("no", "\r\nUser Access Verification\r\nswitch login: ")
	con.respond("admin", "Password: ")

	out := RunBoot(con, job)

	assert.True(t, out.Changed)
	assert.False(t, out.Failed)
	assert.Equal(t, console.ModeNXOS, con.mode)
	assert.Equal(t, []string{"\x03"}, con.raw)
}

func TestBootSetupDialogDeviationFails(t *testing.T) {
	job := testBootJob("nxos")

	con := newFakeConsole()
	con.respond("show version", versionACI)
	con.respond("reload", "This command will reboot the system. (y/n)?  [n] ")
	con.respond("y", "\r\nHit ^C to abort autoboot\r\n")
	con.respondRaw("\x03", "\r\nloader > ")
	// 设备跳过了镜像校验，直接进入 auto-provisioning 询问：固定顺序被打破
	con.respond("boot nxos.10.2.5.bin",
		"Abort Power On Auto Provisioning [yes - continue with normal setup] (yes/skip/no)[no]: ")

	out := RunBoot(con, job)

	assert.True(t, out.Failed)
	assert.Contains(t, out.Msg, "deviated at stage")
	assert.True(t, con.disconnected)
}

func TestBootReloadConfirmRetryBound(t *testing.T) {
	job := testBootJob("nxos")
	job.Attempts = 3

	con := newFakeConsole()
	con.respond("show version", versionACI)
	// reload 始终无确认询问

	out := RunBoot(con, job)

	assert.True(t, out.Failed)
	assert.Contains(t, out.Msg, "timeout")
	assert.Equal(t, 3, con.countSent("reload"))
}

func TestBootTimeoutCarriesDeviceOutput(t *testing.T) {
	job := testBootJob("nxos")
	job.Attempts = 2

	con := newFakeConsole()
	con.respond("show version", versionACI)
	// reload 有输出但始终没有确认询问
	con.respond("reload", "reload scheduling blocked: NOTICE-4412\r\n")

	out := RunBoot(con, job)

	assert.True(t, out.Failed)
	assert.Contains(t, out.Msg, "timeout")
	assert.Contains(t, out.Msg, "NOTICE-4412")
}

func TestBootProbeUsesConfiguredCommand(t *testing.T) {
	job := testBootJob("aci")
	job.ProbeCommand = "show system mode"
	job.ACIIdentifiers = []string{"application centric"}

	con := newFakeConsole()
	con.respond("show system mode", "System is running in Application Centric mode\r\napic1# ")

	out := RunBoot(con, job)

	assert.False(t, out.Changed)
	assert.False(t, out.Failed)
	assert.Equal(t, console.ModeACI, con.mode)
	assert.Equal(t, 0, con.countSent("show version"))
}

func TestBootRestoreConfigWithoutReboot(t *testing.T) {
	job := testBootJob("nxos")
	job.RestoreConfig = "bootflash:backup.cfg"

	con := newFakeConsole()
	con.respond("show version", versionNXOS)
	con.respond("copy bootflash:backup.cfg running-config", "Copy complete.\r\nswitch# ")
	con.respond("copy running-config startup-config", "[####] 100%\r\nCopy complete.\r\nswitch# ")

	out := RunBoot(con, job)

	assert.True(t, out.Changed)
	assert.False(t, out.Failed)
	assert.Contains(t, out.Msg, "restored")
	assert.Equal(t, 0, con.countSent("reload"))
}

func TestBootRestoreConfigRejectedPath(t *testing.T) {
	job := testBootJob("nxos")
	job.RestoreConfig = "bootflash:missing.cfg"

	con := newFakeConsole()
	con.respond("show version", versionNXOS)
	con.respond("copy bootflash:missing.cfg running-config", "No such file or directory\r\nswitch# ")

	out := RunBoot(con, job)

	assert.True(t, out.Failed)
	assert.Contains(t, out.Msg, "config restore failed")
}
