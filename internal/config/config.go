package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envPrefix = "EPIREPORT_"

type Config struct {
	LogLevel   string           `json:"log_level" yaml:"log_level"`
	Log        LogConfig        `json:"log" yaml:"log"`
	Ingest     IngestConfig     `json:"ingest" yaml:"ingest"`
	Validation ValidationConfig `json:"validation" yaml:"validation"`
	Alerting   AlertingConfig   `json:"alerting" yaml:"alerting"`
	Storage    StorageConfig    `json:"storage" yaml:"storage"`
	Notify     NotifyConfig     `json:"notify" yaml:"notify"`
	API        APIConfig        `json:"api" yaml:"api"`
	Scheduler  SchedulerConfig  `json:"scheduler" yaml:"scheduler"`
}

type LogConfig struct {
	File       string `json:"file" yaml:"file"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days"`
}

type IngestConfig struct {
	REST        RESTConfig      `json:"rest" yaml:"rest"`
	APIKeys     []string        `json:"api_keys" yaml:"api_keys"`
	APIKeysFile string          `json:"api_keys_file" yaml:"api_keys_file"`
	RateLimit   RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`
	Queue       QueueConfig     `json:"queue" yaml:"queue"`
}

type RESTConfig struct {
	Enabled      bool   `json:"enabled" yaml:"enabled"`
	Addr         string `json:"addr" yaml:"addr"`
	Path         string `json:"path" yaml:"path"`
	MaxBodyBytes int64  `json:"max_body_bytes" yaml:"max_body_bytes"`
}

type RateLimitConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Rate      string `json:"rate" yaml:"rate"`
	Store     string `json:"store" yaml:"store"`
	RedisAddr string `json:"redis_addr" yaml:"redis_addr"`
	RedisDB   int    `json:"redis_db" yaml:"redis_db"`
}

// QueueConfig enables the queued mode: the REST endpoint only enqueues raw
// payloads on Kafka and a consumer runs the pipeline.
type QueueConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type ValidationConfig struct {
	GatewayType   string        `json:"gateway_type" yaml:"gateway_type"`
	MaxFutureSkew time.Duration `json:"max_future_skew" yaml:"max_future_skew"`
	Parser        ParserConfig  `json:"parser" yaml:"parser"`
}

type ParserConfig struct {
	Separator    string `json:"separator" yaml:"separator"`
	ActivityCode int    `json:"activity_code" yaml:"activity_code"`
}

type AlertingConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

type StorageConfig struct {
	Driver     string `json:"driver" yaml:"driver"`
	DSN        string `json:"dsn" yaml:"dsn"`
	MaxRetries int    `json:"max_retries" yaml:"max_retries"`
}

type NotifyConfig struct {
	DefaultLanguage string        `json:"default_language" yaml:"default_language"`
	LocalesDir      string        `json:"locales_dir" yaml:"locales_dir"`
	RecentLimit     int           `json:"recent_limit" yaml:"recent_limit"`
	Timeout         time.Duration `json:"timeout" yaml:"timeout"`
	Kafka           KafkaConfig   `json:"kafka" yaml:"kafka"`
}

type KafkaConfig struct {
	Enabled         bool     `json:"enabled" yaml:"enabled"`
	Brokers         []string `json:"brokers" yaml:"brokers"`
	FeedbackTopic   string   `json:"feedback_topic" yaml:"feedback_topic"`
	EscalationTopic string   `json:"escalation_topic" yaml:"escalation_topic"`
	DismissalTopic  string   `json:"dismissal_topic" yaml:"dismissal_topic"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type SchedulerConfig struct {
	APIKeysReload string `json:"api_keys_reload" yaml:"api_keys_reload"`
	ConfigReload  string `json:"config_reload" yaml:"config_reload"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Log:      LogConfig{MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 30},
		Ingest: IngestConfig{
			REST:      RESTConfig{Enabled: true, Addr: ":8080", Path: "/reports/sms-eagle", MaxBodyBytes: 500},
			RateLimit: RateLimitConfig{Enabled: false, Rate: "600-M", Store: "memory"},
			Queue:     QueueConfig{Enabled: false, Topic: "epireport.raw-reports", GroupID: "epireport-pipeline"},
		},
		Validation: ValidationConfig{
			GatewayType:   "SmsEagle",
			MaxFutureSkew: 3 * time.Minute,
			Parser:        ParserConfig{Separator: "#", ActivityCode: 99},
		},
		Alerting: AlertingConfig{Enabled: true},
		Storage:  StorageConfig{Driver: "sqlite", DSN: "file:epireport.db?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate", MaxRetries: 5},
		Notify: NotifyConfig{
			DefaultLanguage: "en",
			RecentLimit:     500,
			Timeout:         10 * time.Second,
			Kafka: KafkaConfig{
				FeedbackTopic:   "epireport.feedback-sms",
				EscalationTopic: "epireport.alert-escalations",
				DismissalTopic:  "epireport.report-dismissals",
			},
		},
		API:       APIConfig{Enabled: true, Addr: ":8081"},
		Scheduler: SchedulerConfig{APIKeysReload: "@every 1m", ConfigReload: "@every 5s"},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	ApplyEnv(cfg)
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads path when it is set, otherwise starts from defaults.
// Environment overrides (and a .env file, if present) apply in both cases.
func LoadOrDefault(path string) (*Config, error) {
	_ = godotenv.Load()
	if path != "" {
		return Load(path)
	}
	cfg := DefaultConfig()
	ApplyEnv(cfg)
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ApplyEnv overrides deployment specific settings from EPIREPORT_* variables.
func ApplyEnv(cfg *Config) {
	if v := getEnv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := getEnv("STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := getEnv("STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := getEnv("KAFKA_BROKERS"); v != "" {
		brokers := splitList(v)
		cfg.Notify.Kafka.Brokers = brokers
		cfg.Ingest.Queue.Brokers = brokers
	}
	if v := getEnv("REDIS_ADDR"); v != "" {
		cfg.Ingest.RateLimit.RedisAddr = v
	}
	if v := getEnv("API_KEYS"); v != "" {
		cfg.Ingest.APIKeys = splitList(v)
	}
	if v := getEnv("INGEST_ADDR"); v != "" {
		cfg.Ingest.REST.Addr = v
	}
	if v := getEnv("MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Storage.MaxRetries = n
		}
	}
}

func getEnv(key string) string {
	return strings.TrimSpace(os.Getenv(envPrefix + key))
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if cfg.Ingest.REST.MaxBodyBytes <= 0 {
		cfg.Ingest.REST.MaxBodyBytes = 500
	}
	if cfg.Ingest.REST.Path == "" {
		cfg.Ingest.REST.Path = "/reports/sms-eagle"
	}
	if cfg.Ingest.RateLimit.Rate == "" {
		cfg.Ingest.RateLimit.Rate = "600-M"
	}
	if cfg.Ingest.RateLimit.Store == "" {
		cfg.Ingest.RateLimit.Store = "memory"
	}
	if cfg.Validation.GatewayType == "" {
		cfg.Validation.GatewayType = "SmsEagle"
	}
	if cfg.Validation.MaxFutureSkew <= 0 {
		cfg.Validation.MaxFutureSkew = 3 * time.Minute
	}
	if cfg.Validation.Parser.Separator == "" {
		cfg.Validation.Parser.Separator = "#"
	}
	if cfg.Validation.Parser.ActivityCode <= 0 {
		cfg.Validation.Parser.ActivityCode = 99
	}
	if cfg.Storage.MaxRetries <= 0 {
		cfg.Storage.MaxRetries = 5
	}
	if cfg.Notify.DefaultLanguage == "" {
		cfg.Notify.DefaultLanguage = "en"
	}
	if cfg.Notify.RecentLimit <= 0 {
		cfg.Notify.RecentLimit = 500
	}
	if cfg.Notify.Timeout <= 0 {
		cfg.Notify.Timeout = 10 * time.Second
	}
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.REST.Enabled && cfg.Ingest.REST.Addr == "" {
		return errors.New("ingest.rest.addr required when ingest.rest.enabled is true")
	}
	if cfg.Ingest.Queue.Enabled {
		if len(cfg.Ingest.Queue.Brokers) == 0 || cfg.Ingest.Queue.Topic == "" || cfg.Ingest.Queue.GroupID == "" {
			return errors.New("ingest.queue requires brokers, topic, group_id")
		}
	}
	if cfg.Ingest.RateLimit.Enabled && strings.EqualFold(cfg.Ingest.RateLimit.Store, "redis") && cfg.Ingest.RateLimit.RedisAddr == "" {
		return errors.New("ingest.rate_limit.redis_addr required for the redis store")
	}
	if cfg.Notify.Kafka.Enabled {
		if len(cfg.Notify.Kafka.Brokers) == 0 {
			return errors.New("notify.kafka.brokers required when notify.kafka.enabled is true")
		}
		if cfg.Notify.Kafka.FeedbackTopic == "" || cfg.Notify.Kafka.EscalationTopic == "" || cfg.Notify.Kafka.DismissalTopic == "" {
			return errors.New("notify.kafka requires feedback_topic, escalation_topic, dismissal_topic")
		}
	}
	switch strings.ToLower(cfg.Storage.Driver) {
	case "sqlite", "postgres", "postgresql":
	default:
		return fmt.Errorf("unsupported storage driver: %q", cfg.Storage.Driver)
	}
	if cfg.Validation.MaxFutureSkew < 0 {
		return fmt.Errorf("validation.max_future_skew must be >= 0: %s", cfg.Validation.MaxFutureSkew)
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := LoadOrDefault(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	if path != "" {
		if info, err := os.Stat(path); err == nil {
			m.modTime = info.ModTime()
		}
	}
	return m, nil
}

// NewStaticManager wraps an already built config; Reload is a no-op.
func NewStaticManager(cfg *Config) *Manager {
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return m.Get(), nil
	}
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

// ReloadIfChanged reloads the file when its modification time moved forward.
func (m *Manager) ReloadIfChanged(onReload func(*Config), onError func(error)) {
	needs, err := m.NeedsReload()
	if err != nil {
		if onError != nil {
			onError(err)
		}
		return
	}
	if !needs {
		return
	}
	cfg, err := m.Reload()
	if err != nil {
		if onError != nil {
			onError(err)
		}
		return
	}
	if onReload != nil {
		onReload(cfg)
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
