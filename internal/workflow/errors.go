// 工作流错误分类：除本文件的类型外，会话层的 *console.ConnectionError、
// *console.LoginError 与引擎层的 *expect.TimeoutError、
// *expect.UnexpectedPromptError 一并构成对外的失败分类。
// 可恢复条件（已在目标态、已存在文件且未加 force）不会出现在这里，
// 它们在控制器内部就地解析为 Unchanged。
package workflow

import (
	"errors"
	"fmt"
	"strings"
)

// PathError 远端路径或文件名无效（设备报 cannot stat），不可恢复
type PathError struct {
	Source string
	Output string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("remote path invalid (cannot stat): %s", e.Source)
}

// RemoteAuthError 远端文件服务器拒绝凭据（设备报 login failed）
type RemoteAuthError struct {
	Host   string
	Output string
}

func (e *RemoteAuthError) Error() string {
	return fmt.Sprintf("remote file server %s rejected credentials", e.Host)
}

// BootSequenceError 首次引导 setup 对话偏离了固定顺序
type BootSequenceError struct {
	Stage  string
	Output string
}

func (e *BootSequenceError) Error() string {
	return fmt.Sprintf("boot setup dialog deviated at stage %q", e.Stage)
}

// ACIBootError ACI 模式引导失败
type ACIBootError struct {
	Err    error
	Output string
}

func (e *ACIBootError) Error() string { return fmt.Sprintf("aci boot failed: %v", e.Err) }
func (e *ACIBootError) Unwrap() error { return e.Err }

// NXOSBootError NXOS 模式引导/回滚失败
type NXOSBootError struct {
	Err    error
	Output string
}

func (e *NXOSBootError) Error() string { return fmt.Sprintf("nxos boot failed: %v", e.Err) }
func (e *NXOSBootError) Unwrap() error { return e.Err }

// ConfigRestoreError 配置恢复失败
type ConfigRestoreError struct {
	Err    error
	Output string
}

func (e *ConfigRestoreError) Error() string { return fmt.Sprintf("config restore failed: %v", e.Err) }
func (e *ConfigRestoreError) Unwrap() error { return e.Err }

// diagnostic 提取错误携带的设备缓冲文本，供失败消息附带。
// 沿 Unwrap 链取第一段非空缓冲：包装错误自身往往没有缓冲，
// 真正的文本挂在被包装的超时/提示错误上。
func diagnostic(err error) string {
	type hasOutput interface{ DeviceOutput() string }
	for e := err; e != nil; e = errors.Unwrap(e) {
		if ho, ok := e.(hasOutput); ok {
			if out := ho.DeviceOutput(); out != "" {
				return out
			}
		}
	}
	return ""
}

// DeviceOutput 实现统一的诊断文本提取
func (e *PathError) DeviceOutput() string          { return e.Output }
func (e *RemoteAuthError) DeviceOutput() string    { return e.Output }
func (e *BootSequenceError) DeviceOutput() string  { return e.Output }
func (e *ACIBootError) DeviceOutput() string       { return e.Output }
func (e *NXOSBootError) DeviceOutput() string      { return e.Output }
func (e *ConfigRestoreError) DeviceOutput() string { return e.Output }

// trimOutput 压缩诊断文本：去掉首尾空白并限制长度
func trimOutput(s string) string {
	s = strings.TrimSpace(s)
	const max = 2000
	if len(s) > max {
		s = "..." + s[len(s)-max:]
	}
	return s
}
