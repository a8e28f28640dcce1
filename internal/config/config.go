package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/twmb/franz-go/pkg/sasl"
	"github.com/twmb/franz-go/pkg/sasl/plain"
)

type Config struct {
	Service  ServiceConfig           `koanf:"service"`
	Redis    RedisConfig             `koanf:"redis"`
	Postgres PostgresConfig          `koanf:"postgres"`
	Queue    QueueConfig             `koanf:"queue"`
	Export   map[string]ExportTarget `koanf:"export"`
	Jobs     JobsConfig              `koanf:"jobs"`
	S3       S3Config                `koanf:"s3"`
	Kafka    KafkaConfig             `koanf:"kafka"`
}

type ServiceConfig struct {
	InstanceID             string `koanf:"instance_id"`
	HTTPListen             string `koanf:"http_listen"`
	LogLevel               string `koanf:"log_level"`
	ShutdownTimeoutSeconds int    `koanf:"shutdown_timeout_seconds"`
}

type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	PoolSize int    `koanf:"pool_size"`
}

type PostgresConfig struct {
	DSN      string `koanf:"dsn"`
	MaxConns int32  `koanf:"max_conns"`
	MinConns int32  `koanf:"min_conns"`
}

type QueueConfig struct {
	TTLSeconds       int  `koanf:"ttl_seconds"`
	MaxAgeSeconds    int  `koanf:"max_age_seconds"`
	IncomingBatch    int  `koanf:"incoming_batch"`
	IncomingCompress bool `koanf:"incoming_compress"`
}

// ExportTarget configures one export queue. The URL scheme selects the
// sink kind; an empty or unknown scheme falls back to the no-op sink.
type ExportTarget struct {
	URL      string `koanf:"url"`
	Batch    int    `koanf:"batch"`
	SkipKeys string `koanf:"skip_keys"`
	Compress bool   `koanf:"compress"`
}

// SkipKeySet splits the whitespace-delimited skip list into a set.
func (t ExportTarget) SkipKeySet() map[string]struct{} {
	keys := make(map[string]struct{})
	for _, k := range strings.Fields(t.SkipKeys) {
		keys[k] = struct{}{}
	}
	return keys
}

type JobsConfig struct {
	Workers            int `koanf:"workers"`
	Buffer             int `koanf:"buffer"`
	DispatchIntervalMs int `koanf:"dispatch_interval_ms"`
	ScheduleIntervalMs int `koanf:"schedule_interval_ms"`
	MonitorIntervalMs  int `koanf:"monitor_interval_ms"`
}

type S3Config struct {
	Endpoint  string `koanf:"endpoint"`
	Region    string `koanf:"region"`
	AccessKey string `koanf:"access_key"`
	SecretKey string `koanf:"secret_key"`
	Secure    bool   `koanf:"secure"`
}

type KafkaConfig struct {
	ClientID string     `koanf:"client_id"`
	TLS      TLSConfig  `koanf:"tls"`
	SASL     SASLConfig `koanf:"sasl"`
}

type TLSConfig struct {
	Enabled  bool   `koanf:"enabled"`
	CAFile   string `koanf:"ca_file"`
	CertFile string `koanf:"cert_file"`
	KeyFile  string `koanf:"key_file"`
}

type SASLConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Mechanism string `koanf:"mechanism"`
	Username  string `koanf:"username"`
	Password  string `koanf:"password"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Load YAML file first.
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	// Overlay environment variables: REPORT_EXPORTER_REDIS__ADDR → redis.addr
	if err := k.Load(env.Provider("REPORT_EXPORTER_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "REPORT_EXPORTER_")
		s = strings.ToLower(s)
		s = strings.ReplaceAll(s, "__", ".")
		return s
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env config: %w", err)
	}

	cfg := &Config{
		Service: ServiceConfig{
			InstanceID:             "report-exporter-1",
			HTTPListen:             ":8080",
			LogLevel:               "info",
			ShutdownTimeoutSeconds: 30,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Postgres: PostgresConfig{
			MaxConns: 20,
			MinConns: 2,
		},
		Queue: QueueConfig{
			TTLSeconds:    86400,
			MaxAgeSeconds: 3600,
			IncomingBatch: 100,
		},
		Jobs: JobsConfig{
			Workers:            8,
			Buffer:             64,
			DispatchIntervalMs: 1000,
			ScheduleIntervalMs: 1000,
			MonitorIntervalMs:  60000,
		},
		S3: S3Config{
			Region: "us-east-1",
		},
		Kafka: KafkaConfig{
			ClientID: "report-exporter",
		},
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Redis.Addr == "" {
		return fmt.Errorf("config: redis.addr is required")
	}
	if c.Postgres.DSN == "" {
		return fmt.Errorf("config: postgres.dsn is required")
	}
	if c.Postgres.MaxConns <= 0 {
		return fmt.Errorf("config: postgres.max_conns must be > 0 (got %d)", c.Postgres.MaxConns)
	}
	if c.Postgres.MinConns < 0 {
		return fmt.Errorf("config: postgres.min_conns must be >= 0 (got %d)", c.Postgres.MinConns)
	}
	if c.Queue.TTLSeconds <= 0 {
		return fmt.Errorf("config: queue.ttl_seconds must be > 0 (got %d)", c.Queue.TTLSeconds)
	}
	if c.Queue.MaxAgeSeconds <= 0 || c.Queue.MaxAgeSeconds >= c.Queue.TTLSeconds {
		return fmt.Errorf("config: queue.max_age_seconds must be > 0 and below queue.ttl_seconds (got %d)", c.Queue.MaxAgeSeconds)
	}
	if c.Queue.IncomingBatch <= 0 {
		return fmt.Errorf("config: queue.incoming_batch must be > 0 (got %d)", c.Queue.IncomingBatch)
	}
	if c.Jobs.Workers <= 0 {
		return fmt.Errorf("config: jobs.workers must be > 0 (got %d)", c.Jobs.Workers)
	}
	if c.Jobs.Buffer <= 0 {
		return fmt.Errorf("config: jobs.buffer must be > 0 (got %d)", c.Jobs.Buffer)
	}
	if c.Jobs.DispatchIntervalMs <= 0 {
		return fmt.Errorf("config: jobs.dispatch_interval_ms must be > 0 (got %d)", c.Jobs.DispatchIntervalMs)
	}
	if c.Jobs.ScheduleIntervalMs <= 0 {
		return fmt.Errorf("config: jobs.schedule_interval_ms must be > 0 (got %d)", c.Jobs.ScheduleIntervalMs)
	}
	if c.Jobs.MonitorIntervalMs <= 0 {
		return fmt.Errorf("config: jobs.monitor_interval_ms must be > 0 (got %d)", c.Jobs.MonitorIntervalMs)
	}
	for tag, target := range c.Export {
		if tag == "" {
			return fmt.Errorf("config: export target with empty name")
		}
		if target.Batch < 0 {
			return fmt.Errorf("config: export.%s.batch must be >= 0 (got %d)", tag, target.Batch)
		}
		if target.URL != "" {
			if _, err := url.Parse(target.URL); err != nil {
				return fmt.Errorf("config: export.%s.url is invalid: %w", tag, err)
			}
		}
		if strings.HasPrefix(target.URL, "s3://") && c.S3.Endpoint == "" {
			return fmt.Errorf("config: export.%s uses an s3 url but s3.endpoint is unset", tag)
		}
	}
	return nil
}

// BuildTLSConfig creates a *tls.Config from the Kafka TLS settings. Returns nil if TLS is disabled.
func (k *KafkaConfig) BuildTLSConfig() (*tls.Config, error) {
	if !k.TLS.Enabled {
		return nil, nil
	}
	tlsCfg := &tls.Config{}
	if k.TLS.CAFile != "" {
		caPEM, err := os.ReadFile(k.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("reading CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		tlsCfg.RootCAs = pool
	}
	if k.TLS.CertFile != "" && k.TLS.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(k.TLS.CertFile, k.TLS.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}

// BuildSASLMechanism creates a SASL mechanism from the Kafka SASL settings. Returns nil if SASL is disabled.
func (k *KafkaConfig) BuildSASLMechanism() sasl.Mechanism {
	if !k.SASL.Enabled {
		return nil
	}
	switch strings.ToUpper(k.SASL.Mechanism) {
	case "PLAIN":
		return plain.Auth{User: k.SASL.Username, Pass: k.SASL.Password}.AsMechanism()
	default:
		return nil
	}
}
