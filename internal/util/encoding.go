package util

import (
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
)

// bannerDecoders 设备横幅里见过的非 UTF-8 编码，按出现频率排序。
// GB18030 向下兼容 GBK；Windows1252 覆盖西文单字节输出。
var bannerDecoders = []encoding.Encoding{
	simplifiedchinese.GB18030,
	traditionalchinese.Big5,
	charmap.Windows1252,
}

// EnsureUTF8Bytes 将可能非 UTF-8 的设备输出解码为 UTF-8 字符串。
// 已是合法 UTF-8 时原样返回；全部解码失败时逐字节保留。
func EnsureUTF8Bytes(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	if utf8.Valid(b) {
		return string(b)
	}
	for _, enc := range bannerDecoders {
		if decoded, err := enc.NewDecoder().Bytes(b); err == nil && utf8.Valid(decoded) {
			return string(decoded)
		}
	}
	return string(b)
}

// EnsureUTF8 字符串版本的 EnsureUTF8Bytes
func EnsureUTF8(s string) string {
	return EnsureUTF8Bytes([]byte(s))
}
