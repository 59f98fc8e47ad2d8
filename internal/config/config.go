package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config 全局配置结构体
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Serial   SerialConfig   `mapstructure:"serial"`
	Head     HeadConfig     `mapstructure:"head"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig HTTP服务配置
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// SerialConfig 串口配置
// 线路参数固定为 8N1 无流控，读超时用于轮询粒度，写超时防止永久阻塞
type SerialConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MockMode     bool          `mapstructure:"mock_mode"` // 调试模式（使用内存模拟端点）
	Port         string        `mapstructure:"port"`
	BaudRate     int           `mapstructure:"baud_rate"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// HeadConfig 光谱仪头部单元配置
type HeadConfig struct {
	Identity              string        `mapstructure:"identity"`                // 设备身份字符串
	IdentityCommand       string        `mapstructure:"identity_command"`        // 身份查询指令
	Wheels                []string      `mapstructure:"wheels"`                  // 已安装的滤光轮 (FW1/FW2)
	Shadowband            bool          `mapstructure:"shadowband"`              // 是否安装遮光带
	LowLevelTimeout       time.Duration `mapstructure:"low_level_timeout"`       // 单次事务等待应答超时
	HighLevelTimeout      time.Duration `mapstructure:"high_level_timeout"`      // 操作默认超时预算
	OperationTimeout      time.Duration `mapstructure:"operation_timeout"`       // 整个操作的硬性截止
	RecoveryAttemptCap    int           `mapstructure:"recovery_attempt_cap"`    // 每个恢复梯级的尝试上限
	UnexpectedAnswerLimit int           `mapstructure:"unexpected_answer_limit"` // 非期望应答预算
	Filters               FilterConfig  `mapstructure:"filters"`
}

// FilterConfig 滤光片名称表（仅用于显示，协议引擎不读取）
type FilterConfig struct {
	FW1 map[int]string `mapstructure:"fw1"`
	FW2 map[int]string `mapstructure:"fw2"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level   string            `mapstructure:"level"`
	Format  string            `mapstructure:"format"`
	Output  string            `mapstructure:"output"`
	File    LogFileConfig     `mapstructure:"file"`
	Modules map[string]string `mapstructure:"modules"`
}

// LogFileConfig 日志文件配置
type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

var (
	cfg  *Config
	once sync.Once
	mu   sync.RWMutex
	v    *viper.Viper
)

// Init 初始化配置
func Init(configPath string) error {
	var err error
	once.Do(func() {
		v = viper.New()

		// 设置配置文件路径
		if configPath != "" {
			v.SetConfigFile(configPath)
		} else {
			v.SetConfigName("config")
			v.SetConfigType("yaml")
			v.AddConfigPath("./config")
			v.AddConfigPath(".")
		}

		// 设置环境变量前缀
		v.SetEnvPrefix("SPECTRO_HEAD")
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()

		// 设置默认值
		setDefaults(v)

		// 读取配置文件
		if err = v.ReadInConfig(); err != nil {
			// 如果配置文件不存在，使用默认配置
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return
			}
			err = nil
		}

		// 解析配置到结构体
		cfg = &Config{}
		if err = v.Unmarshal(cfg); err != nil {
			return
		}

		err = validate(cfg)
	})

	return err
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	// 服务器默认配置
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "development")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// 数据库默认配置
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./data/spectro-head.db")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.log_level", "info")
	v.SetDefault("database.auto_migrate", true)

	// 串口默认配置（典型波特率4800, 8N1, 读超时即轮询粒度）
	v.SetDefault("serial.enabled", true)
	v.SetDefault("serial.mock_mode", false)
	v.SetDefault("serial.port", "/dev/ttyS0")
	v.SetDefault("serial.baud_rate", 4800)
	v.SetDefault("serial.read_timeout", "10ms")
	v.SetDefault("serial.write_timeout", "20s")

	// 头部单元默认配置
	v.SetDefault("head.identity", "MFR-7 SPECTRO HEAD")
	v.SetDefault("head.identity_command", "?i")
	v.SetDefault("head.wheels", []string{"FW1"})
	v.SetDefault("head.shadowband", false)
	v.SetDefault("head.low_level_timeout", "3s")
	v.SetDefault("head.high_level_timeout", "5s")
	v.SetDefault("head.operation_timeout", "120s")
	v.SetDefault("head.recovery_attempt_cap", 5)
	v.SetDefault("head.unexpected_answer_limit", 5)

	// 日志默认配置
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "both")
	v.SetDefault("log.file.path", "./logs")
	v.SetDefault("log.file.filename", "spectro-head.log")
	v.SetDefault("log.file.max_size", 100)
	v.SetDefault("log.file.max_age", 30)
	v.SetDefault("log.file.max_backups", 7)
	v.SetDefault("log.file.compress", true)
}

// validate 校验配置的基本一致性
func validate(c *Config) error {
	for _, w := range c.Head.Wheels {
		if w != "FW1" && w != "FW2" {
			return fmt.Errorf("未知的滤光轮: %s", w)
		}
	}
	if c.Head.RecoveryAttemptCap <= 0 {
		return fmt.Errorf("recovery_attempt_cap 必须为正数: %d", c.Head.RecoveryAttemptCap)
	}
	if c.Head.UnexpectedAnswerLimit < 0 {
		return fmt.Errorf("unexpected_answer_limit 不能为负数: %d", c.Head.UnexpectedAnswerLimit)
	}
	return nil
}

// Get 获取配置实例
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return cfg
}

// Watch 监听配置文件变化
func Watch(callback func(*Config)) {
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		mu.Lock()
		defer mu.Unlock()

		newCfg := &Config{}
		if err := v.Unmarshal(newCfg); err != nil {
			fmt.Printf("配置重载失败: %v\n", err)
			return
		}
		if err := validate(newCfg); err != nil {
			fmt.Printf("配置重载校验失败: %v\n", err)
			return
		}

		cfg = newCfg

		if callback != nil {
			callback(cfg)
		}

		fmt.Println("配置已重新加载")
	})
}

// GetString 获取字符串配置
func GetString(key string) string {
	return v.GetString(key)
}

// GetInt 获取整数配置
func GetInt(key string) int {
	return v.GetInt(key)
}

// GetBool 获取布尔配置
func GetBool(key string) bool {
	return v.GetBool(key)
}

// GetDuration 获取时间间隔配置
func GetDuration(key string) time.Duration {
	return v.GetDuration(key)
}

// IsSet 检查配置项是否存在
func IsSet(key string) bool {
	return v.IsSet(key)
}

// Set 动态设置配置值
func Set(key string, value interface{}) {
	v.Set(key, value)
}
