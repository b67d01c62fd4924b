package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Stream     StreamConfig     `mapstructure:"stream"`
	Store      StoreConfig      `mapstructure:"store"`
	Recordings RecordingsConfig `mapstructure:"recordings"`
	Device     DeviceConfig     `mapstructure:"device"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

type ServerConfig struct {
	ListenAddr       string        `mapstructure:"listen_addr"`
	Port             int           `mapstructure:"port"`
	AllowedHostsFile string        `mapstructure:"allowed_hosts_file"`
	ServerName       string        `mapstructure:"server_name"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	WriteRetries     int           `mapstructure:"write_retries"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	NotifyInterval   time.Duration `mapstructure:"notify_interval"`
	IdleShutdown     time.Duration `mapstructure:"idle_shutdown"` // 0 disables
	StopTimeout      time.Duration `mapstructure:"stop_timeout"`
	MaxSessions      int           `mapstructure:"max_sessions"`
	// 0 leaves sessions per client host unlimited
	MaxSessionsPerHost int `mapstructure:"max_sessions_per_host"`
}

// StreamConfig tunes the live pipeline of one Streamer.
type StreamConfig struct {
	RingSize          int           `mapstructure:"ring_size"`   // bytes of payload capacity
	RingMargin        int           `mapstructure:"ring_margin"` // contiguous bytes guaranteed by Get
	PutTimeout        time.Duration `mapstructure:"put_timeout"`
	GetTimeout        time.Duration `mapstructure:"get_timeout"`
	InactivityTimeout time.Duration `mapstructure:"inactivity_timeout"`
	TelemetryInterval time.Duration `mapstructure:"telemetry_interval"`
	PMTTimeout        time.Duration `mapstructure:"pmt_timeout"`
}

type StoreConfig struct {
	Driver   string `mapstructure:"driver"` // only sqlite
	DSN      string `mapstructure:"dsn"`
	SeedFile string `mapstructure:"seed_file"`
}

type RecordingsConfig struct {
	Dir            string        `mapstructure:"dir"`
	MinFreeBytes   uint64        `mapstructure:"min_free_bytes"`
	ActiveGrace    time.Duration `mapstructure:"active_grace"` // file still growing if modified within this window
	ThrottlePause  time.Duration `mapstructure:"throttle_pause"`
	MaxBlockLength int           `mapstructure:"max_block_length"`
}

type DeviceConfig struct {
	MaxInputs      int           `mapstructure:"max_inputs"`
	ReadBufferSize int           `mapstructure:"read_buffer_size"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
	LockTimeout    time.Duration `mapstructure:"lock_timeout"` // no data for this long marks the input unlocked
}

type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addresses    []string      `mapstructure:"addresses"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	MaxRetries   int           `mapstructure:"max_retries"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	TTL          time.Duration `mapstructure:"ttl"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`   // json or text
	Output     string `mapstructure:"output"`   // stdout, stderr, or file path
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Port    int    `mapstructure:"port"`

	// HTTP3Port > 0 also serves the admin API over HTTP/3 (QUIC), which
	// needs a certificate.
	HTTP3Port   int    `mapstructure:"http3_port"`
	TLSCertFile string `mapstructure:"tls_cert_file"`
	TLSKeyFile  string `mapstructure:"tls_key_file"`
}

// Load reads configPath (YAML) and applies VNSID_ environment overrides.
// An empty path loads defaults and environment only.
func Load(configPath string) (*Config, error) {
	v, err := newViper(configPath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Settings returns the effective configuration as nested maps keyed like
// the YAML file, for printing.
func Settings(configPath string) (map[string]interface{}, error) {
	v, err := newViper(configPath)
	if err != nil {
		return nil, err
	}
	return v.AllSettings(), nil
}

func newViper(configPath string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	// Environment variable override
	v.SetEnvPrefix("VNSID")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	return v, nil
}

// Default returns the built-in configuration without reading files or env.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// defaults are static and always decode
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.listen_addr", "0.0.0.0")
	v.SetDefault("server.port", 34890)
	v.SetDefault("server.allowed_hosts_file", "/etc/vnsid/allowed_hosts.conf")
	v.SetDefault("server.server_name", "")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.write_retries", 3)
	v.SetDefault("server.poll_interval", "1s")
	v.SetDefault("server.notify_interval", "5s")
	v.SetDefault("server.idle_shutdown", "0s")
	v.SetDefault("server.stop_timeout", "5s")
	v.SetDefault("server.max_sessions", 32)
	v.SetDefault("server.max_sessions_per_host", 0)

	// Stream defaults
	v.SetDefault("stream.ring_size", 8*1024*1024)
	v.SetDefault("stream.ring_margin", 188*2)
	v.SetDefault("stream.put_timeout", "100ms")
	v.SetDefault("stream.get_timeout", "100ms")
	v.SetDefault("stream.inactivity_timeout", "10s")
	v.SetDefault("stream.telemetry_interval", "1s")
	v.SetDefault("stream.pmt_timeout", "5s")

	// Store defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "/var/lib/vnsid/vnsid.db")
	v.SetDefault("store.seed_file", "")

	// Recordings defaults
	v.SetDefault("recordings.dir", "/var/lib/vnsid/recordings")
	v.SetDefault("recordings.min_free_bytes", 512*1024*1024)
	v.SetDefault("recordings.active_grace", "10s")
	v.SetDefault("recordings.throttle_pause", "10ms")
	v.SetDefault("recordings.max_block_length", 512*1024)

	// Device defaults
	v.SetDefault("device.max_inputs", 4)
	v.SetDefault("device.read_buffer_size", 188*7*32)
	v.SetDefault("device.dial_timeout", "5s")
	v.SetDefault("device.lock_timeout", "2s")

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addresses", []string{"localhost:6379"})
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.ttl", "30s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age", 30)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("metrics.http3_port", 0)
	v.SetDefault("metrics.tls_cert_file", "")
	v.SetDefault("metrics.tls_key_file", "")
}
