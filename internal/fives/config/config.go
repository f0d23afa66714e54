// Package config loads service settings from a YAML file and FIVES_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gartstein/fives/internal/fives/models"
	"github.com/gartstein/fives/internal/fives/queue"
	"github.com/gartstein/fives/internal/fives/remote"
	"github.com/gartstein/fives/internal/fives/syncer"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	EnvPrefix  = "FIVES"
	configName = "fives"
	configType = "yaml"
)

type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Remote RemoteConfig `mapstructure:"remote"`
	Cache  CacheConfig  `mapstructure:"cache"`
	Queue  QueueConfig  `mapstructure:"queue"`
	Sync   SyncConfig   `mapstructure:"sync"`
	Kafka  KafkaConfig  `mapstructure:"kafka"`
	Auth   AuthConfig   `mapstructure:"auth"`
	Notify NotifyConfig `mapstructure:"notify"`
	Log    LogConfig    `mapstructure:"log"`

	// Scale is the score range, "ten" or "percent".
	Scale models.ScoreScale `mapstructure:"scale"`
}

type ServerConfig struct {
	GRPCAddr string `mapstructure:"grpc_addr"`
	HTTPAddr string `mapstructure:"http_addr"`
}

type RemoteConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`

	// ConnectTimeout bounds how long seeding waits for the database.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type CacheConfig struct {
	// Path of the sqlite file holding the cache and the queue.
	Path string `mapstructure:"path"`
}

type QueueConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
}

type SyncConfig struct {
	Interval       time.Duration `mapstructure:"interval"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	ReplayRate     float64       `mapstructure:"replay_rate"`
	ReplayBurst    int           `mapstructure:"replay_burst"`
	Origin         string        `mapstructure:"origin"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

// Enabled reports whether change events are published and consumed.
func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`

	// Token optionally signs the service in at startup.
	Token string `mapstructure:"token"`
}

type NotifyConfig struct {
	WebhookURL string        `mapstructure:"webhook_url"`
	Token      string        `mapstructure:"token"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Defaults returns the value of every key when neither the file nor the
// environment sets it.
func Defaults() map[string]any {
	policy := queue.DefaultPolicy()
	sync := syncer.DefaultConfig()
	return map[string]any{
		"server.grpc_addr":       ":50051",
		"server.http_addr":       ":8080",
		"remote.host":            "localhost",
		"remote.port":            5432,
		"remote.user":            "fives",
		"remote.password":        "",
		"remote.dbname":          "fives",
		"remote.sslmode":         "disable",
		"remote.connect_timeout": 30 * time.Second,
		"cache.path":             "fives-cache.db",
		"queue.max_attempts":     policy.MaxAttempts,
		"queue.initial_interval": policy.InitialInterval,
		"queue.max_interval":     policy.MaxInterval,
		"queue.multiplier":       policy.Multiplier,
		"sync.interval":          sync.Interval,
		"sync.request_timeout":   sync.RequestTimeout,
		"sync.replay_rate":       sync.ReplayRate,
		"sync.replay_burst":      sync.ReplayBurst,
		"sync.origin":            sync.Origin,
		"kafka.brokers":          []string{},
		"kafka.topic":            "fives-changes",
		"kafka.group_id":         "fives",
		"auth.jwt_secret":        "",
		"auth.token":             "",
		"notify.webhook_url":     "",
		"notify.token":           "",
		"notify.timeout":         10 * time.Second,
		"log.level":              "info",
		"log.format":             "structured",
		"scale":                  string(models.ScaleTen),
	}
}

// Load reads path when given, else fives.yaml from the working directory
// or /etc/fives, then applies FIVES_* overrides such as FIVES_SYNC_INTERVAL.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName(configName)
	v.SetConfigType(configType)
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/fives")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, value := range Defaults() {
		v.SetDefault(key, value)
	}
	if path != "" {
		v.SetConfigFile(path)
	}

	if err := v.MergeInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read configuration: %w", err)
		}
	}

	var cfg Config
	err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	if c.Scale != models.ScaleTen && c.Scale != models.ScalePercent {
		errs = append(errs, fmt.Errorf("scale must be %q or %q", models.ScaleTen, models.ScalePercent))
	}
	if c.Queue.MaxAttempts < 1 {
		errs = append(errs, errors.New("queue.max_attempts must be at least 1"))
	}
	if c.Queue.Multiplier < 1 {
		errs = append(errs, errors.New("queue.multiplier must be at least 1"))
	}
	if c.Sync.Interval <= 0 || c.Sync.RequestTimeout <= 0 {
		errs = append(errs, errors.New("sync.interval and sync.request_timeout must be positive"))
	}
	if c.Cache.Path == "" {
		errs = append(errs, errors.New("cache.path is required"))
	}
	return errors.Join(errs...)
}

func (c *Config) RemoteConfig() *remote.Config {
	return &remote.Config{
		Host:     c.Remote.Host,
		Port:     c.Remote.Port,
		User:     c.Remote.User,
		Password: c.Remote.Password,
		DBName:   c.Remote.DBName,
		SSLMode:  c.Remote.SSLMode,
	}
}

func (c *Config) QueuePolicy() queue.Policy {
	return queue.Policy{
		MaxAttempts:     c.Queue.MaxAttempts,
		InitialInterval: c.Queue.InitialInterval,
		MaxInterval:     c.Queue.MaxInterval,
		Multiplier:      c.Queue.Multiplier,
	}
}

func (c *Config) SyncConfig() syncer.Config {
	return syncer.Config{
		Interval:       c.Sync.Interval,
		RequestTimeout: c.Sync.RequestTimeout,
		ReplayRate:     c.Sync.ReplayRate,
		ReplayBurst:    c.Sync.ReplayBurst,
		Origin:         c.Sync.Origin,
	}
}
