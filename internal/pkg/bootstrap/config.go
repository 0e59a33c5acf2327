package bootstrap

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"stockhub/internal/pkg/logger"
	"stockhub/internal/pkg/nacos"
)

const defaultConfigPath = "configs/inventory-service.yaml"

// Config 是服务的完整配置
type Config struct {
	App   AppConfig   `yaml:"app"`
	Infra InfraConfig `yaml:"infra"`
}

type AppConfig struct {
	Name      string `yaml:"name"`
	Port      int    `yaml:"port"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	Storage StorageConfig `yaml:"storage"`
	Lock    LockConfig    `yaml:"lock"`
	TCC     TCCConfig     `yaml:"tcc"`

	// Rules 以商品类型为 key 的 CEL 购买规则，可通过 Nacos 热更新
	Rules map[string]string `yaml:"rules"`
	Seed  []SeedGoods       `yaml:"seed"`
}

type StorageConfig struct {
	Driver string `yaml:"driver"` // mysql | memory
}

type LockConfig struct {
	Provider string `yaml:"provider"` // redis | zookeeper | memory
}

type TCCConfig struct {
	Scene              string        `yaml:"scene"`
	LockTTL            time.Duration `yaml:"lock_ttl"`
	CASMaxRetries      int           `yaml:"cas_max_retries"`
	AlertDedupeTTL     time.Duration `yaml:"alert_dedupe_ttl"`
	CommandDedupeTTL   time.Duration `yaml:"command_dedupe_ttl"`
	ConsumerMaxRetries int           `yaml:"consumer_max_retries"`
}

type SeedGoods struct {
	GoodsType string `yaml:"goods_type"`
	GoodsID   string `yaml:"goods_id"`
	Available int64  `yaml:"available"`
}

type InfraConfig struct {
	Jaeger    JaegerConfig    `yaml:"jaeger"`
	MySQL     MySQLConfig     `yaml:"mysql"`
	Redis     RedisConfig     `yaml:"redis"`
	Zookeeper ZookeeperConfig `yaml:"zookeeper"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Nacos     NacosConfig     `yaml:"nacos"`
}

type JaegerConfig struct {
	Endpoint string `yaml:"endpoint"`
}

type MySQLConfig struct {
	Addr            string        `yaml:"addr"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// DSN 生成 go-sql-driver 的连接串，统一使用 UTC 和 utf8mb4
func (m MySQLConfig) DSN() string {
	cfg := mysql.NewConfig()
	cfg.User = m.User
	cfg.Passwd = m.Password
	cfg.Net = "tcp"
	cfg.Addr = m.Addr
	cfg.DBName = m.Database
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN()
}

type RedisConfig struct {
	Addrs    string `yaml:"addrs"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type ZookeeperConfig struct {
	Servers        []string      `yaml:"servers"`
	SessionTimeout time.Duration `yaml:"session_timeout"`
}

type KafkaConfig struct {
	Brokers      []string `yaml:"brokers"`
	GroupID      string   `yaml:"group_id"`
	CommandTopic string   `yaml:"command_topic"`
	ReplyTopic   string   `yaml:"reply_topic"`
	AlertTopic   string   `yaml:"alert_topic"`
	DLTTopic     string   `yaml:"dlt_topic"`
}

// Enabled 未配置 broker 时 Kafka 相关组件全部关闭
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

type NacosConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServerAddrs string `yaml:"server_addrs"`
	Namespace   string `yaml:"namespace"`
	Group       string `yaml:"group"`
	DataID      string `yaml:"data_id"`
}

var (
	currentConfig atomic.Pointer[Config]

	listenersMu sync.Mutex
	listeners   []func(*Config)
)

// Init 加载本地配置文件并应用环境变量覆盖，失败时直接退出进程
func Init() {
	path := getEnv("CONFIG_PATH", defaultConfigPath)
	cfg, err := Load(path)
	if err != nil {
		logger.L().Fatal().Err(err).Str("path", path).Msg("failed to load config")
	}
	currentConfig.Store(cfg)
}

// Load 读取 YAML 配置，填充默认值并应用环境变量覆盖
func Load(path string) (*Config, error) {
	cfg := &Config{}
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config %s", path)
		}
	case os.IsNotExist(err):
		logger.L().Warn().Str("path", path).Msg("config file not found, using defaults")
	default:
		return nil, errors.Wrapf(err, "read config %s", path)
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

// GetCurrentConfig 返回当前生效的配置快照，调用方不应修改返回值
func GetCurrentConfig() *Config {
	cfg := currentConfig.Load()
	if cfg == nil {
		cfg = &Config{}
		applyDefaults(cfg)
	}
	return cfg
}

// OnConfigChange 注册远程配置变更回调
func OnConfigChange(fn func(*Config)) {
	listenersMu.Lock()
	defer listenersMu.Unlock()
	listeners = append(listeners, fn)
}

// applyRemoteConfig 将 Nacos 上的 YAML 叠加在当前配置之上，并通知监听者
func applyRemoteConfig(content string) error {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	next := *GetCurrentConfig()
	next.App.Rules = nil
	if err := yaml.Unmarshal([]byte(content), &next); err != nil {
		return errors.Wrap(err, "parse remote config")
	}
	if next.App.Rules == nil {
		next.App.Rules = GetCurrentConfig().App.Rules
	}
	applyDefaults(&next)
	currentConfig.Store(&next)

	listenersMu.Lock()
	fns := append([]func(*Config){}, listeners...)
	listenersMu.Unlock()
	for _, fn := range fns {
		fn(&next)
	}
	return nil
}

// watchRemoteConfig 拉取一次远程配置并订阅后续变更
func watchRemoteConfig(client *nacos.Client, dataID string) error {
	content, err := client.GetConfig(dataID)
	if err != nil {
		return err
	}
	if err := applyRemoteConfig(content); err != nil {
		return err
	}
	return client.ListenConfig(dataID, func(content string) {
		if err := applyRemoteConfig(content); err != nil {
			logger.L().Error().Err(err).Str("data_id", dataID).Msg("ignoring invalid remote config")
			return
		}
		logger.L().Info().Str("data_id", dataID).Msg("remote config reloaded")
	})
}

func applyEnvOverrides(cfg *Config) {
	cfg.App.Storage.Driver = getEnv("STORAGE_DRIVER", cfg.App.Storage.Driver)
	cfg.App.Lock.Provider = getEnv("LOCK_PROVIDER", cfg.App.Lock.Provider)
	cfg.App.LogLevel = getEnv("LOG_LEVEL", cfg.App.LogLevel)
	if port, err := strconv.Atoi(getEnv("PORT", "")); err == nil {
		cfg.App.Port = port
	}

	cfg.Infra.Jaeger.Endpoint = getEnv("JAEGER_ENDPOINT", cfg.Infra.Jaeger.Endpoint)
	cfg.Infra.MySQL.Addr = getEnv("MYSQL_ADDR", cfg.Infra.MySQL.Addr)
	cfg.Infra.MySQL.User = getEnv("MYSQL_USER", cfg.Infra.MySQL.User)
	cfg.Infra.MySQL.Password = getEnv("MYSQL_PASSWORD", cfg.Infra.MySQL.Password)
	cfg.Infra.MySQL.Database = getEnv("MYSQL_DATABASE", cfg.Infra.MySQL.Database)
	cfg.Infra.Redis.Addrs = getEnv("REDIS_ADDRS", cfg.Infra.Redis.Addrs)
	cfg.Infra.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Infra.Redis.Password)
	if servers := getEnv("ZK_SERVERS", ""); servers != "" {
		cfg.Infra.Zookeeper.Servers = strings.Split(servers, ",")
	}
	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		cfg.Infra.Kafka.Brokers = strings.Split(brokers, ",")
	}
	if addrs := getEnv("NACOS_SERVER_ADDRS", ""); addrs != "" {
		cfg.Infra.Nacos.Enabled = true
		cfg.Infra.Nacos.ServerAddrs = addrs
	}
	cfg.Infra.Nacos.Namespace = getEnv("NACOS_NAMESPACE", cfg.Infra.Nacos.Namespace)
	cfg.Infra.Nacos.Group = getEnv("NACOS_GROUP", cfg.Infra.Nacos.Group)
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "inventory-service"
	}
	if cfg.App.Port == 0 {
		cfg.App.Port = 8082
	}
	if cfg.App.Storage.Driver == "" {
		cfg.App.Storage.Driver = "mysql"
	}
	if cfg.App.Lock.Provider == "" {
		cfg.App.Lock.Provider = "redis"
	}
	tcc := &cfg.App.TCC
	if tcc.Scene == "" {
		tcc.Scene = "NORMAL_BUY_GOODS"
	}
	if tcc.LockTTL <= 0 {
		tcc.LockTTL = 10 * time.Second
	}
	if tcc.CASMaxRetries <= 0 {
		tcc.CASMaxRetries = 3
	}
	if tcc.AlertDedupeTTL <= 0 {
		tcc.AlertDedupeTTL = 24 * time.Hour
	}
	if tcc.CommandDedupeTTL <= 0 {
		tcc.CommandDedupeTTL = 24 * time.Hour
	}
	if tcc.ConsumerMaxRetries <= 0 {
		tcc.ConsumerMaxRetries = 3
	}

	kafka := &cfg.Infra.Kafka
	if kafka.GroupID == "" {
		kafka.GroupID = "inventory-service"
	}
	if kafka.CommandTopic == "" {
		kafka.CommandTopic = "inventory-tcc-commands"
	}
	if kafka.ReplyTopic == "" {
		kafka.ReplyTopic = "inventory-tcc-replies"
	}
	if kafka.AlertTopic == "" {
		kafka.AlertTopic = "inventory-inconsistency"
	}
	if kafka.DLTTopic == "" {
		kafka.DLTTopic = kafka.CommandTopic + "-dlt"
	}
	if cfg.Infra.Zookeeper.SessionTimeout <= 0 {
		cfg.Infra.Zookeeper.SessionTimeout = 10 * time.Second
	}
	if cfg.Infra.Nacos.Group == "" {
		cfg.Infra.Nacos.Group = "DEFAULT_GROUP"
	}
	if cfg.Infra.Nacos.DataID == "" {
		cfg.Infra.Nacos.DataID = cfg.App.Name + ".yaml"
	}
}

// getEnv 从环境变量中读取配置
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
