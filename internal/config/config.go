package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// CaptureConfig holds the live capture settings.
type CaptureConfig struct {
	Interface   string `yaml:"interface"`
	SnapshotLen int32  `yaml:"snapshot_len"`
	Promiscuous bool   `yaml:"promiscuous"`
	BPFFilter   string `yaml:"bpf_filter"`
	BufferSize  int    `yaml:"buffer_size"`
}

// FlowConfig holds the flow table lifecycle policy.
type FlowConfig struct {
	ReadyThreshold int      `yaml:"ready_threshold"`
	IdleTimeout    Duration `yaml:"idle_timeout"`
	ActiveTimeout  Duration `yaml:"active_timeout"`
	SweepInterval  Duration `yaml:"sweep_interval"`
	MaxFlows       int      `yaml:"max_flows"`
	NumShards      uint32   `yaml:"num_shards"`
}

// PipelineConfig sizes the classification worker pool.
type PipelineConfig struct {
	NumWorkers   int      `yaml:"num_workers"`
	QueueSize    int      `yaml:"queue_size"`
	DrainTimeout Duration `yaml:"drain_timeout"`
	// WriterBuffer bounds the verdicts held per writer between flushes.
	WriterBuffer int `yaml:"writer_buffer"`
}

// ClassifierConfig points at the pretrained model artifact.
type ClassifierConfig struct {
	ModelPath string `yaml:"model_path"`
}

// AlerterConfig holds the alert policy and notification dispatch settings.
type AlerterConfig struct {
	Threshold      float64  `yaml:"threshold"`
	QueueSize      int      `yaml:"queue_size"`
	NumDispatchers int      `yaml:"num_dispatchers"`
	MaxRetries     int      `yaml:"max_retries"`
	RetryBackoff   Duration `yaml:"retry_backoff"`
	SendTimeout    Duration `yaml:"send_timeout"`
}

// HistoryConfig bounds the verdict history and its stats cache.
type HistoryConfig struct {
	MaxHistory    int      `yaml:"max_history"`
	StatsCacheTTL Duration `yaml:"stats_cache_ttl"`
}

// APIConfig holds the status interface listeners.
type APIConfig struct {
	ListenAddr     string `yaml:"listen_addr"`
	GrpcListenAddr string `yaml:"grpc_listen_addr"`
}

// NATSConfig configures the NATS alert publisher.
type NATSConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// SMTPConfig holds the configuration for the email notifier.
type SMTPConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
}

// WebhookConfig configures the HTTP webhook notifier.
type WebhookConfig struct {
	Enabled bool     `yaml:"enabled"`
	URL     string   `yaml:"url"`
	Timeout Duration `yaml:"timeout"`
}

// NotifiersConfig lists the outbound alert sinks.
type NotifiersConfig struct {
	NATS    NATSConfig    `yaml:"nats"`
	SMTP    SMTPConfig    `yaml:"smtp"`
	Webhook WebhookConfig `yaml:"webhook"`
}

// ClickHouseConfig holds the connection details for ClickHouse.
type ClickHouseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// WriterDef defines a single verdict writer.
type WriterDef struct {
	Type          string           `yaml:"type"`
	Enabled       bool             `yaml:"enabled"`
	FlushInterval Duration         `yaml:"flush_interval"`
	RootPath      string           `yaml:"root_path"`
	ClickHouse    ClickHouseConfig `yaml:"clickhouse"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Capture    CaptureConfig    `yaml:"capture"`
	Flow       FlowConfig       `yaml:"flow"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Alerter    AlerterConfig    `yaml:"alerter"`
	History    HistoryConfig    `yaml:"history"`
	API        APIConfig        `yaml:"api"`
	Notifiers  NotifiersConfig  `yaml:"notifiers"`
	Writers    []WriterDef      `yaml:"writers"`
}

// Default returns a Config populated with the documented defaults.
func Default() *Config {
	return &Config{
		Capture: CaptureConfig{
			SnapshotLen: 1600,
			Promiscuous: true,
			BufferSize:  4096,
		},
		Flow: FlowConfig{
			ReadyThreshold: 5,
			IdleTimeout:    Duration(30 * time.Second),
			ActiveTimeout:  Duration(2 * time.Minute),
			SweepInterval:  Duration(5 * time.Second),
			MaxFlows:       100000,
			NumShards:      256,
		},
		Pipeline: PipelineConfig{
			NumWorkers:   4,
			QueueSize:    10000,
			DrainTimeout: Duration(5 * time.Second),
			WriterBuffer: 50000,
		},
		Classifier: ClassifierConfig{
			ModelPath: "data/ids_model.json",
		},
		Alerter: AlerterConfig{
			Threshold:      0.7,
			QueueSize:      256,
			NumDispatchers: 2,
			MaxRetries:     3,
			RetryBackoff:   Duration(500 * time.Millisecond),
			SendTimeout:    Duration(5 * time.Second),
		},
		History: HistoryConfig{
			MaxHistory:    1000,
			StatsCacheTTL: Duration(5 * time.Second),
		},
		API: APIConfig{
			ListenAddr: ":5000",
		},
		Notifiers: NotifiersConfig{
			NATS: NATSConfig{
				URL:     "nats://127.0.0.1:4222",
				Subject: "ids.alerts",
			},
			Webhook: WebhookConfig{
				Timeout: Duration(5 * time.Second),
			},
		},
	}
}

// LoadConfig reads the configuration from a YAML file over the defaults and
// applies environment overrides. An empty path skips the file.
func LoadConfig(filePath string) (*Config, error) {
	cfg := Default()

	if filePath != "" {
		data, err := os.ReadFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides configuration values from IDS_* environment variables.
func applyEnv(cfg *Config) error {
	if env := os.Getenv("IDS_INTERFACE"); env != "" {
		cfg.Capture.Interface = env
	}
	if env := os.Getenv("IDS_MODEL_PATH"); env != "" {
		cfg.Classifier.ModelPath = env
	}
	if env := os.Getenv("IDS_LISTEN_ADDR"); env != "" {
		cfg.API.ListenAddr = env
	}
	if env := os.Getenv("IDS_READY_THRESHOLD"); env != "" {
		v, err := strconv.Atoi(env)
		if err != nil {
			return fmt.Errorf("invalid IDS_READY_THRESHOLD %q: %w", env, err)
		}
		cfg.Flow.ReadyThreshold = v
	}
	if env := os.Getenv("IDS_ALERT_THRESHOLD"); env != "" {
		v, err := strconv.ParseFloat(env, 64)
		if err != nil {
			return fmt.Errorf("invalid IDS_ALERT_THRESHOLD %q: %w", env, err)
		}
		cfg.Alerter.Threshold = v
	}
	if env := os.Getenv("IDS_MAX_HISTORY"); env != "" {
		v, err := strconv.Atoi(env)
		if err != nil {
			return fmt.Errorf("invalid IDS_MAX_HISTORY %q: %w", env, err)
		}
		cfg.History.MaxHistory = v
	}
	if env := os.Getenv("IDS_STATS_CACHE_TTL"); env != "" {
		// Plain integers are seconds, as documented for the dashboard layer.
		if secs, err := strconv.Atoi(env); err == nil {
			cfg.History.StatsCacheTTL = Duration(time.Duration(secs) * time.Second)
		} else {
			d, err := time.ParseDuration(env)
			if err != nil {
				return fmt.Errorf("invalid IDS_STATS_CACHE_TTL %q: %w", env, err)
			}
			cfg.History.StatsCacheTTL = Duration(d)
		}
	}
	return nil
}

// Validate checks the engine settings. Capture settings are validated
// separately by ValidateCapture because offline replay does not need them.
func (c *Config) Validate() error {
	var errs []error
	if c.Flow.ReadyThreshold < 1 {
		errs = append(errs, fmt.Errorf("flow.ready_threshold must be >= 1, got %d", c.Flow.ReadyThreshold))
	}
	if c.Flow.IdleTimeout <= 0 {
		errs = append(errs, fmt.Errorf("flow.idle_timeout must be positive, got %s", c.Flow.IdleTimeout))
	}
	if c.Flow.ActiveTimeout <= 0 {
		errs = append(errs, fmt.Errorf("flow.active_timeout must be positive, got %s", c.Flow.ActiveTimeout))
	}
	if c.Flow.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("flow.sweep_interval must be positive, got %s", c.Flow.SweepInterval))
	}
	if c.Flow.MaxFlows < 1 {
		errs = append(errs, fmt.Errorf("flow.max_flows must be >= 1, got %d", c.Flow.MaxFlows))
	}
	if c.Pipeline.NumWorkers < 1 {
		errs = append(errs, fmt.Errorf("pipeline.num_workers must be >= 1, got %d", c.Pipeline.NumWorkers))
	}
	if c.Pipeline.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("pipeline.queue_size must be >= 1, got %d", c.Pipeline.QueueSize))
	}
	if c.Pipeline.WriterBuffer < 2 {
		errs = append(errs, fmt.Errorf("pipeline.writer_buffer must be >= 2, got %d", c.Pipeline.WriterBuffer))
	}
	if c.Alerter.Threshold < 0 || c.Alerter.Threshold > 1 {
		errs = append(errs, fmt.Errorf("alerter.threshold must be within [0,1], got %v", c.Alerter.Threshold))
	}
	if c.Alerter.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("alerter.queue_size must be >= 1, got %d", c.Alerter.QueueSize))
	}
	if c.Alerter.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("alerter.max_retries must be >= 0, got %d", c.Alerter.MaxRetries))
	}
	if c.History.MaxHistory < 1 {
		errs = append(errs, fmt.Errorf("history.max_history must be >= 1, got %d", c.History.MaxHistory))
	}
	if c.History.StatsCacheTTL <= 0 {
		errs = append(errs, fmt.Errorf("history.stats_cache_ttl must be positive, got %s", c.History.StatsCacheTTL))
	}
	if c.Classifier.ModelPath == "" {
		errs = append(errs, errors.New("classifier.model_path is required"))
	}
	for i, w := range c.Writers {
		if w.Enabled && w.FlushInterval <= 0 {
			errs = append(errs, fmt.Errorf("writers[%d].flush_interval must be positive", i))
		}
	}
	return errors.Join(errs...)
}

// ValidateCapture checks the live capture settings.
func (c *Config) ValidateCapture() error {
	if c.Capture.Interface == "" {
		return errors.New("capture.interface is required")
	}
	if c.Capture.SnapshotLen <= 0 {
		return fmt.Errorf("capture.snapshot_len must be positive, got %d", c.Capture.SnapshotLen)
	}
	return nil
}
