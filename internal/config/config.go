package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/switchsuitepro/switchsuitepro/pkg/logger"
)

// Config 应用配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	SSH      SSHConfig      `mapstructure:"ssh"`
	Transfer TransferConfig `mapstructure:"transfer"`
	Boot     BootConfig     `mapstructure:"boot"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Log      logger.Config  `mapstructure:"log"`
	// DeviceDefaults 按平台加载的提示符与探测参数
	DeviceDefaults map[string]PlatformDefaultsConfig `mapstructure:"device_defaults"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	Mode           string        `mapstructure:"mode"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	SimulateEnable bool          `mapstructure:"simulate_enable"`
	// Concurrent 批量接口的并发上限
	Concurrent int64 `mapstructure:"concurrent"`
}

// SSHConfig 设备会话配置
type SSHConfig struct {
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	LoginTimeout   time.Duration `mapstructure:"login_timeout"`
	LoginAttempts  int           `mapstructure:"login_attempts"`
}

// TransferConfig 文件传输默认参数
type TransferConfig struct {
	Scheme           string        `mapstructure:"scheme"`
	Destination      string        `mapstructure:"destination"`
	VRF              string        `mapstructure:"vrf"`
	NegotiateTimeout time.Duration `mapstructure:"negotiate_timeout"`
	// FTPTimeout 等待传输完成的超时
	FTPTimeout time.Duration `mapstructure:"ftp_timeout"`
}

// BootConfig 模式切换默认参数
type BootConfig struct {
	ProbeTimeout   time.Duration `mapstructure:"probe_timeout"`
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout"`
	LoaderTimeout  time.Duration `mapstructure:"loader_timeout"`
	BootTimeout    time.Duration `mapstructure:"boot_timeout"`
	DialogTimeout  time.Duration `mapstructure:"dialog_timeout"`
	Attempts       int           `mapstructure:"attempts"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	SQLite SQLiteConfig `mapstructure:"sqlite"`
}

// SQLiteConfig SQLite配置
type SQLiteConfig struct {
	Path            string        `mapstructure:"path"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// StorageConfig 会话记录存储配置
type StorageConfig struct {
	// Backend 默认存储后端：local | minio
	Backend string            `mapstructure:"backend"`
	Local   LocalStorageConfig `mapstructure:"local"`
	Minio   MinioConfig        `mapstructure:"minio"`
}

// LocalStorageConfig 本地存储配置
type LocalStorageConfig struct {
	BaseDir        string `mapstructure:"base_dir"`
	MkdirIfMissing bool   `mapstructure:"mkdir_if_missing"`
}

// MinioConfig 对象存储配置（会话记录归档）
type MinioConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Secure    bool   `mapstructure:"secure"`
}

// PlatformDefaultsConfig 平台默认参数：提示符与模式探测
type PlatformDefaultsConfig struct {
	// PromptPattern 覆盖默认提示符正则
	PromptPattern string `mapstructure:"prompt_pattern"`
	// ProbeCommand 模式探测命令，默认 show version
	ProbeCommand string `mapstructure:"probe_command"`
	// Identifiers 探测输出中判定该平台的标识子串（大小写不敏感）
	Identifiers []string `mapstructure:"identifiers"`
}

var globalConfig *Config

// Load 加载配置文件
func Load(configPath string) (*Config, error) {
	viper.SetConfigType("yaml")

	setDefaults()

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath("./configs")
		viper.AddConfigPath("../configs")
		viper.AddConfigPath("../../configs")
	}

	viper.SetEnvPrefix("SWITCH_SUITE")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config = replaceEnvVars(config)

	globalConfig = &config
	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.mode", "release")
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)
	viper.SetDefault("server.simulate_enable", false)
	viper.SetDefault("server.concurrent", 8)

	viper.SetDefault("ssh.connect_timeout", 15*time.Second)
	viper.SetDefault("ssh.login_timeout", 20*time.Second)
	viper.SetDefault("ssh.login_attempts", 5)

	viper.SetDefault("transfer.scheme", "scp")
	viper.SetDefault("transfer.destination", "bootflash:")
	viper.SetDefault("transfer.vrf", "management")
	viper.SetDefault("transfer.negotiate_timeout", 30*time.Second)
	viper.SetDefault("transfer.ftp_timeout", 600*time.Second)

	viper.SetDefault("boot.probe_timeout", 30*time.Second)
	viper.SetDefault("boot.confirm_timeout", 60*time.Second)
	viper.SetDefault("boot.loader_timeout", 600*time.Second)
	viper.SetDefault("boot.boot_timeout", 1200*time.Second)
	viper.SetDefault("boot.dialog_timeout", 300*time.Second)
	viper.SetDefault("boot.attempts", 5)

	viper.SetDefault("database.sqlite.path", "./data/switchsuite.db")
	viper.SetDefault("database.sqlite.max_idle_conns", 2)
	viper.SetDefault("database.sqlite.max_open_conns", 1)
	viper.SetDefault("database.sqlite.conn_max_lifetime", time.Hour)

	viper.SetDefault("storage.backend", "local")
	viper.SetDefault("storage.local.base_dir", "./data/transcripts")
	viper.SetDefault("storage.local.mkdir_if_missing", true)

	viper.SetDefault("log.level", "info")

	// 平台默认探测参数；配置文件可整体覆盖
	viper.SetDefault("device_defaults.nxos.probe_command", "show version")
	viper.SetDefault("device_defaults.nxos.identifiers", []string{"nx-os", "nxos"})
	viper.SetDefault("device_defaults.aci.probe_command", "show version")
	viper.SetDefault("device_defaults.aci.identifiers", []string{"aci", "apic"})
}

// Get 获取全局配置
func Get() *Config {
	return globalConfig
}

// GetServerAddr 获取服务器地址
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// replaceEnvVars 替换配置中 ${VAR} 形式的凭据字段
func replaceEnvVars(config Config) Config {
	config.Storage.Minio.AccessKey = expandEnv(config.Storage.Minio.AccessKey)
	config.Storage.Minio.SecretKey = expandEnv(config.Storage.Minio.SecretKey)
	return config
}

func expandEnv(v string) string {
	if strings.HasPrefix(v, "${") && strings.HasSuffix(v, "}") {
		envVar := strings.TrimSuffix(strings.TrimPrefix(v, "${"), "}")
		if value := os.Getenv(envVar); value != "" {
			return value
		}
	}
	return v
}
