package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Running struct {
		Port int `mapstructure:"Port"`
		// 设为 true 时挂全局 CORS（本地联调用）
		EnableCORS bool `mapstructure:"enableCors"`
	} `mapstructure:"Running"`
	Mysql struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"Mysql"`
	Redis struct {
		Addrs    []string `mapstructure:"addrs"`
		Password string   `mapstructure:"password"`
	} `mapstructure:"Redis"`
	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"Kafka"`
	Auth struct {
		// 远程校验地址；JWTSecret 非空时本地校验，不走远程
		Path      string `mapstructure:"path"`
		JWTSecret string `mapstructure:"jwtSecret"`
	} `mapstructure:"Auth"`
	Reconcile struct {
		WindowMs          int64   `mapstructure:"windowMs"`
		ThresholdRatio    float64 `mapstructure:"thresholdRatio"`
		KeepBothSeparator string  `mapstructure:"keepBothSeparator"`
	} `mapstructure:"Reconcile"`
	Collab struct {
		RingCapacity int `mapstructure:"ringCapacity"`
		// 同时处理的提交数上限
		SubmitConcurrency int `mapstructure:"submitConcurrency"`
	} `mapstructure:"Collab"`
	Dispatcher struct {
		QueueSize     int `mapstructure:"queueSize"`
		Workers       int `mapstructure:"workers"`
		MaxRetry      int `mapstructure:"maxRetry"`
		BaseBackoffMs int `mapstructure:"baseBackoffMs"`
		MaxBackoffMs  int `mapstructure:"maxBackoffMs"`
		// 同时在飞的 kafka 发送数
		InFlight int `mapstructure:"inFlight"`
	} `mapstructure:"Dispatcher"`
}

const configName = "reconcileConfig"

func setDefaults(v *viper.Viper) {
	v.SetDefault("Running.Port", 8082)
	v.SetDefault("Running.enableCors", false)
	v.SetDefault("Mysql.dsn", "")
	v.SetDefault("Redis.addrs", []string{"127.0.0.1:6379"})
	v.SetDefault("Redis.password", "")
	v.SetDefault("Kafka.brokers", []string{"127.0.0.1:9092"})
	v.SetDefault("Kafka.topic", "doc-reconcile")
	v.SetDefault("Auth.path", "http://127.0.0.1:8081")
	v.SetDefault("Auth.jwtSecret", "")
	v.SetDefault("Reconcile.windowMs", 30_000)
	v.SetDefault("Reconcile.thresholdRatio", 0.5)
	v.SetDefault("Reconcile.keepBothSeparator", "\n\n---\n\n")
	v.SetDefault("Collab.ringCapacity", 1024)
	v.SetDefault("Collab.submitConcurrency", 100)
	v.SetDefault("Dispatcher.queueSize", 10_000)
	v.SetDefault("Dispatcher.workers", 4)
	v.SetDefault("Dispatcher.maxRetry", 3)
	v.SetDefault("Dispatcher.baseBackoffMs", 50)
	v.SetDefault("Dispatcher.maxBackoffMs", 1000)
	v.SetDefault("Dispatcher.inFlight", 100)
}

// Load 读取配置：path 非空时只读该文件，否则按目录查找 reconcileConfig.yaml；
// 找不到文件时使用默认值。环境变量 RECONCILE_<SECTION>_<KEY> 覆盖文件
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RECONCILE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// 兼容旧的开关名
	_ = v.BindEnv("Running.enableCors", "RECONCILE_RUNNING_ENABLECORS", "RECONCILE_ENABLE_CORS")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
		// 兼容从项目根目录或 backend 目录启动
		v.AddConfigPath("./backend/config")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}
