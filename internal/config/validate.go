package config

import (
	"fmt"
)

// minRingMargin is one TS packet plus the look-ahead needed to confirm sync.
const minRingMargin = 188 * 2

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Stream.Validate(); err != nil {
		return fmt.Errorf("stream config: %w", err)
	}

	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store config: %w", err)
	}

	if err := c.Recordings.Validate(); err != nil {
		return fmt.Errorf("recordings config: %w", err)
	}

	if err := c.Device.Validate(); err != nil {
		return fmt.Errorf("device config: %w", err)
	}

	if err := c.Redis.Validate(); err != nil {
		return fmt.Errorf("redis config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics config: %w", err)
	}

	if c.Metrics.Enabled && c.Metrics.Port == c.Server.Port {
		return fmt.Errorf("metrics port %d collides with server port", c.Metrics.Port)
	}

	return nil
}

func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", s.Port)
	}

	if s.ReadTimeout <= 0 {
		return fmt.Errorf("read_timeout must be positive")
	}

	if s.WriteTimeout <= 0 {
		return fmt.Errorf("write_timeout must be positive")
	}

	if s.WriteRetries < 0 {
		return fmt.Errorf("write_retries cannot be negative")
	}

	if s.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}

	if s.NotifyInterval < s.PollInterval {
		return fmt.Errorf("notify_interval (%s) must not be shorter than poll_interval (%s)",
			s.NotifyInterval, s.PollInterval)
	}

	if s.IdleShutdown < 0 {
		return fmt.Errorf("idle_shutdown cannot be negative")
	}

	if s.StopTimeout <= 0 {
		return fmt.Errorf("stop_timeout must be positive")
	}

	if s.MaxSessions <= 0 {
		return fmt.Errorf("max_sessions must be positive")
	}

	if s.MaxSessionsPerHost < 0 {
		return fmt.Errorf("max_sessions_per_host cannot be negative")
	}

	return nil
}

func (s *StreamConfig) Validate() error {
	if s.RingMargin < minRingMargin {
		return fmt.Errorf("ring_margin must be at least %d bytes", minRingMargin)
	}

	if s.RingSize < s.RingMargin*4 {
		return fmt.Errorf("ring_size (%d) must be at least four times ring_margin (%d)", s.RingSize, s.RingMargin)
	}

	if s.PutTimeout < 0 || s.GetTimeout < 0 {
		return fmt.Errorf("ring buffer timeouts cannot be negative")
	}

	if s.InactivityTimeout <= 0 {
		return fmt.Errorf("inactivity_timeout must be positive")
	}

	if s.TelemetryInterval <= 0 {
		return fmt.Errorf("telemetry_interval must be positive")
	}

	return nil
}

func (s *StoreConfig) Validate() error {
	if s.Driver != "sqlite" {
		return fmt.Errorf("unsupported store driver: %s", s.Driver)
	}

	if s.DSN == "" {
		return fmt.Errorf("store dsn cannot be empty")
	}

	return nil
}

func (r *RecordingsConfig) Validate() error {
	if r.Dir == "" {
		return fmt.Errorf("recordings dir cannot be empty")
	}

	if r.MaxBlockLength <= 0 {
		return fmt.Errorf("max_block_length must be positive")
	}

	return nil
}

func (d *DeviceConfig) Validate() error {
	if d.MaxInputs <= 0 {
		return fmt.Errorf("max_inputs must be positive")
	}

	if d.ReadBufferSize < 188 {
		return fmt.Errorf("read_buffer_size must hold at least one TS packet")
	}

	return nil
}

func (r *RedisConfig) Validate() error {
	if !r.Enabled {
		return nil
	}

	if len(r.Addresses) == 0 {
		return fmt.Errorf("at least one Redis address is required")
	}

	if r.DB < 0 {
		return fmt.Errorf("invalid Redis database number: %d", r.DB)
	}

	if r.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}

	if r.PoolSize <= 0 {
		return fmt.Errorf("pool_size must be positive")
	}

	if r.MinIdleConns < 0 {
		return fmt.Errorf("min_idle_conns cannot be negative")
	}

	if r.MinIdleConns > r.PoolSize {
		return fmt.Errorf("min_idle_conns cannot be greater than pool_size")
	}

	return nil
}

func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"panic": true,
		"fatal": true,
		"error": true,
		"warn":  true,
		"info":  true,
		"debug": true,
		"trace": true,
	}

	if !validLevels[l.Level] {
		return fmt.Errorf("invalid log level: %s", l.Level)
	}

	if l.Format != "json" && l.Format != "text" {
		return fmt.Errorf("log format must be 'json' or 'text'")
	}

	if l.Output != "stdout" && l.Output != "stderr" {
		if l.MaxSize <= 0 {
			return fmt.Errorf("max_size must be positive for file output")
		}
		if l.MaxBackups < 0 {
			return fmt.Errorf("max_backups cannot be negative")
		}
		if l.MaxAge < 0 {
			return fmt.Errorf("max_age cannot be negative")
		}
	}

	return nil
}

func (m *MetricsConfig) Validate() error {
	if m.Enabled {
		if m.Port < 1 || m.Port > 65535 {
			return fmt.Errorf("invalid metrics port: %d", m.Port)
		}

		if m.Path == "" {
			return fmt.Errorf("metrics path cannot be empty")
		}

		if m.HTTP3Port != 0 {
			if m.HTTP3Port < 1 || m.HTTP3Port > 65535 {
				return fmt.Errorf("invalid http3 port: %d", m.HTTP3Port)
			}
			if m.TLSCertFile == "" || m.TLSKeyFile == "" {
				return fmt.Errorf("http3 requires tls_cert_file and tls_key_file")
			}
		}
	}

	return nil
}
