package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"marinealarm/internal/rules"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultHTTPListen      = ":8080"
	defaultHealthPath      = "/healthz"
	defaultReadyPath       = "/readyz"
	defaultReadingsPath    = "/ingest/readings"
	defaultStatusPath      = "/ingest/status"
	defaultMaxBodyBytes    = 1 << 20
	defaultNATSURL         = "nats://127.0.0.1:4222"
	defaultReadingsSubject = "marinealarm.readings"
	defaultStatusSubject   = "marinealarm.status"
	defaultIngestStream    = "MARINEALARM_READINGS"
	defaultIngestConsumer  = "marinealarm-ingest"
	defaultIngestGroup     = "marinealarm-workers"
	defaultAckWaitSec      = 30
	defaultNackDelayMS     = 1000
	defaultMaxDeliver      = -1
	defaultMaxAckPending   = 2048
	defaultAlarmBucket     = "alarms"
	defaultGroupBucket     = "alarm_groups"
	defaultHistoryBucket   = "alarm_history"
	defaultPublishSubject  = "marinealarm.events"
	defaultPublishStream   = "MARINEALARM_EVENTS"
	defaultSweepSeconds    = 30
	defaultCompactSeconds  = 300
	defaultIdleTTLSeconds  = 3600
	defaultWebhookTimeout  = 10
	defaultWebhookRetries  = 3
	defaultWebhookDelayMS  = 500

	// ServiceModeSingle keeps in-memory state without NATS dependencies.
	ServiceModeSingle = "single"
	// ServiceModeNATS keeps NATS-backed state/ingest/publish settings.
	ServiceModeNATS = "nats"
)

// Config holds service runtime settings and alarm rules.
// Params: TOML sections from file or merged directory snapshot.
// Returns: validated runtime configuration.
type Config struct {
	Service ServiceConfig `toml:"service"`
	Log     LogConfig     `toml:"log"`
	Ingest  IngestConfig  `toml:"ingest"`
	State   StateConfig   `toml:"state"`
	Publish PublishConfig `toml:"publish"`
	Notify  NotifyConfig  `toml:"notify"`
	Rules   []rules.Rule  `toml:"rules"`
}

// ServiceConfig stores engine-level timers and limits.
// Params: mode selector, escalation sweep interval, and state compaction
// settings.
// Returns: service section of config.
type ServiceConfig struct {
	Mode                   string `toml:"mode"`
	EscalationSweepSeconds int    `toml:"escalation_sweep_interval_sec"`
	StateCompactSeconds    int    `toml:"state_compact_interval_sec"`
	StateIdleTTLSeconds    int    `toml:"state_idle_ttl_sec"`
	StateMaxEntries        int    `toml:"state_max_entries"`
}

// LogConfig stores log sink settings.
// Params: console and file sink sections.
// Returns: logging section of config.
type LogConfig struct {
	Console LogSinkConfig `toml:"console"`
	File    LogSinkConfig `toml:"file"`
}

// LogSinkConfig stores one log sink definition.
// Params: enabled flag, level, format, and file path for file sinks.
// Returns: sink settings for logger construction.
type LogSinkConfig struct {
	Enabled bool   `toml:"enabled"`
	Level   string `toml:"level"`
	Format  string `toml:"format"`
	Path    string `toml:"path"`
}

// IngestConfig stores reading ingestion settings.
// Params: HTTP and NATS ingest sections.
// Returns: ingest section of config.
type IngestConfig struct {
	HTTP HTTPIngestConfig `toml:"http"`
	NATS NATSIngestConfig `toml:"nats"`
}

// HTTPIngestConfig stores HTTP listener settings for reading ingestion.
// Params: listen address, endpoint paths, and body size limit.
// Returns: HTTP ingest settings.
type HTTPIngestConfig struct {
	Enabled      bool   `toml:"enabled"`
	Listen       string `toml:"listen"`
	ReadingsPath string `toml:"readings_path"`
	StatusPath   string `toml:"status_path"`
	HealthPath   string `toml:"health_path"`
	ReadyPath    string `toml:"ready_path"`
	MaxBodyBytes int64  `toml:"max_body_bytes"`
}

// NATSIngestConfig stores JetStream consumer settings for reading ingestion.
// Params: connection URLs, subjects, and consumer tuning.
// Returns: NATS ingest settings.
type NATSIngestConfig struct {
	Enabled         bool     `toml:"enabled"`
	URL             []string `toml:"url"`
	ReadingsSubject string   `toml:"readings_subject"`
	StatusSubject   string   `toml:"status_subject"`
	Stream          string   `toml:"stream"`
	ConsumerName    string   `toml:"consumer_name"`
	DeliverGroup    string   `toml:"deliver_group"`
	AckWaitSec      int      `toml:"ack_wait_sec"`
	NackDelayMS     int      `toml:"nack_delay_ms"`
	MaxDeliver      int      `toml:"max_deliver"`
	MaxAckPending   int      `toml:"max_ack_pending"`
}

// StateConfig stores persistence backend settings.
// Params: NATS KV section used in nats mode.
// Returns: state section of config.
type StateConfig struct {
	NATS NATSStateConfig `toml:"nats"`
}

// NATSStateConfig stores JetStream KV settings for the alarm store.
// Params: connection URLs, bucket names, and create policy.
// Returns: NATS state settings.
type NATSStateConfig struct {
	URL                []string `toml:"url"`
	AlarmBucket        string   `toml:"alarm_bucket"`
	GroupBucket        string   `toml:"group_bucket"`
	HistoryBucket      string   `toml:"history_bucket"`
	AllowCreateBuckets bool     `toml:"allow_create_buckets"`
}

// PublishConfig stores outbound event publication settings.
// Params: enable flag and NATS stream section.
// Returns: publish section of config.
type PublishConfig struct {
	Enabled bool              `toml:"enabled"`
	NATS    NATSPublishConfig `toml:"nats"`
}

// NATSPublishConfig stores JetStream settings for alarm event publication.
// Params: connection URLs, subject/stream names, and create policy.
// Returns: NATS publish settings.
type NATSPublishConfig struct {
	URL               []string `toml:"url"`
	Subject           string   `toml:"subject"`
	Stream            string   `toml:"stream"`
	AllowCreateStream bool     `toml:"allow_create_stream"`
}

// NotifyConfig stores outbound notification settings.
// Params: webhook channel section.
// Returns: notify section of config.
type NotifyConfig struct {
	Webhook WebhookConfig `toml:"webhook"`
}

// WebhookConfig stores webhook notifier settings.
// Params: target URL, timeout, and retry policy.
// Returns: webhook channel settings.
type WebhookConfig struct {
	Enabled        bool              `toml:"enabled"`
	URL            string            `toml:"url"`
	TimeoutSec     int               `toml:"timeout_sec"`
	RetryAttempts  int               `toml:"retry_attempts"`
	RetryDelayMS   int               `toml:"retry_delay_ms"`
	Headers        map[string]string `toml:"headers"`
	MinSeverity    string            `toml:"min_severity"`
	IncludeGrouped bool              `toml:"include_grouped"`
}

// ConfigSource identifies where config snapshots are loaded from.
// Params: one of file path or directory path.
// Returns: source descriptor for LoadSnapshot.
type ConfigSource struct {
	FilePath string
	DirPath  string
}

// FromCLI validates CLI flags into one config source.
// Params: --config-file and --config-dir flag values.
// Returns: config source or usage error.
func FromCLI(filePath, dirPath string) (ConfigSource, error) {
	filePath = strings.TrimSpace(filePath)
	dirPath = strings.TrimSpace(dirPath)
	switch {
	case filePath == "" && dirPath == "":
		return ConfigSource{}, errors.New("one of --config-file or --config-dir is required")
	case filePath != "" && dirPath != "":
		return ConfigSource{}, errors.New("--config-file and --config-dir are mutually exclusive")
	}
	return ConfigSource{FilePath: filePath, DirPath: dirPath}, nil
}

// LoadSnapshot loads and validates one config snapshot from source.
// Params: config source from FromCLI.
// Returns: validated config or load error.
func LoadSnapshot(src ConfigSource) (Config, error) {
	var (
		cfg Config
		err error
	)
	if src.FilePath != "" {
		cfg, err = loadFile(src.FilePath)
	} else {
		cfg, err = loadDir(src.DirPath)
	}
	if err != nil {
		return Config{}, err
	}

	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadFile decodes one TOML config file.
// Params: file path.
// Returns: decoded config or read/decode error.
func loadFile(path string) (Config, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %q: %w", path, err)
	}
	var cfg Config
	decoder := toml.NewDecoder(strings.NewReader(string(body)))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config %q: %w", path, err)
	}
	return cfg, nil
}

// loadDir merges sorted TOML fragments from one directory.
// Later fragments override scalar sections; rule lists are concatenated so
// fleets can split rules across per-vessel files.
// Params: directory path.
// Returns: merged config or read/decode error.
func loadDir(dir string) (Config, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Config{}, fmt.Errorf("read config dir %q: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".toml") {
			continue
		}
		names = append(names, entry.Name())
	}
	if len(names) == 0 {
		return Config{}, fmt.Errorf("config dir %q has no .toml fragments", dir)
	}
	sort.Strings(names)

	var merged Config
	for index, name := range names {
		fragment, err := loadFile(filepath.Join(dir, name))
		if err != nil {
			return Config{}, err
		}
		if index == 0 {
			merged = fragment
			continue
		}
		mergeConfig(&merged, fragment)
	}
	return merged, nil
}

// mergeConfig overlays one fragment onto the merged snapshot.
// Params: destination snapshot and source fragment.
// Returns: destination mutated in place.
func mergeConfig(dst *Config, src Config) {
	if src.Service != (ServiceConfig{}) {
		dst.Service = src.Service
	}
	if src.Log != (LogConfig{}) {
		dst.Log = src.Log
	}
	if src.Ingest.HTTP != (HTTPIngestConfig{}) {
		dst.Ingest.HTTP = src.Ingest.HTTP
	}
	if hasNATSIngest(src.Ingest.NATS) {
		dst.Ingest.NATS = src.Ingest.NATS
	}
	if hasNATSState(src.State.NATS) {
		dst.State.NATS = src.State.NATS
	}
	if hasNATSPublish(src.Publish) {
		dst.Publish = src.Publish
	}
	if src.Notify.Webhook.Enabled || src.Notify.Webhook.URL != "" {
		dst.Notify.Webhook = src.Notify.Webhook
	}
	dst.Rules = append(dst.Rules, src.Rules...)
}

// hasNATSIngest reports whether the ingest NATS section was set.
func hasNATSIngest(cfg NATSIngestConfig) bool {
	return cfg.Enabled || len(cfg.URL) > 0 || cfg.Stream != ""
}

// hasNATSState reports whether the state NATS section was set.
func hasNATSState(cfg NATSStateConfig) bool {
	return len(cfg.URL) > 0 || cfg.AlarmBucket != "" || cfg.AllowCreateBuckets
}

// hasNATSPublish reports whether the publish section was set.
func hasNATSPublish(cfg PublishConfig) bool {
	return cfg.Enabled || len(cfg.NATS.URL) > 0 || cfg.NATS.Stream != ""
}

// applyDefaults fills unset fields with package defaults.
// Params: decoded config snapshot.
// Returns: snapshot mutated in place.
func applyDefaults(cfg *Config) {
	if cfg.Service.Mode == "" {
		cfg.Service.Mode = ServiceModeSingle
	}
	if cfg.Service.EscalationSweepSeconds == 0 {
		cfg.Service.EscalationSweepSeconds = defaultSweepSeconds
	}
	if cfg.Service.StateCompactSeconds == 0 {
		cfg.Service.StateCompactSeconds = defaultCompactSeconds
	}
	if cfg.Service.StateIdleTTLSeconds == 0 {
		cfg.Service.StateIdleTTLSeconds = defaultIdleTTLSeconds
	}

	if !cfg.Log.Console.Enabled && !cfg.Log.File.Enabled {
		cfg.Log.Console.Enabled = true
	}
	if cfg.Log.Console.Level == "" {
		cfg.Log.Console.Level = "info"
	}
	if cfg.Log.Console.Format == "" {
		cfg.Log.Console.Format = "text"
	}
	if cfg.Log.File.Level == "" {
		cfg.Log.File.Level = "info"
	}
	if cfg.Log.File.Format == "" {
		cfg.Log.File.Format = "json"
	}

	httpCfg := &cfg.Ingest.HTTP
	if httpCfg.Listen == "" {
		httpCfg.Listen = defaultHTTPListen
	}
	if httpCfg.ReadingsPath == "" {
		httpCfg.ReadingsPath = defaultReadingsPath
	}
	if httpCfg.StatusPath == "" {
		httpCfg.StatusPath = defaultStatusPath
	}
	if httpCfg.HealthPath == "" {
		httpCfg.HealthPath = defaultHealthPath
	}
	if httpCfg.ReadyPath == "" {
		httpCfg.ReadyPath = defaultReadyPath
	}
	if httpCfg.MaxBodyBytes == 0 {
		httpCfg.MaxBodyBytes = defaultMaxBodyBytes
	}

	natsCfg := &cfg.Ingest.NATS
	if len(natsCfg.URL) == 0 {
		natsCfg.URL = []string{defaultNATSURL}
	}
	if natsCfg.ReadingsSubject == "" {
		natsCfg.ReadingsSubject = defaultReadingsSubject
	}
	if natsCfg.StatusSubject == "" {
		natsCfg.StatusSubject = defaultStatusSubject
	}
	if natsCfg.Stream == "" {
		natsCfg.Stream = defaultIngestStream
	}
	if natsCfg.ConsumerName == "" {
		natsCfg.ConsumerName = defaultIngestConsumer
	}
	if natsCfg.DeliverGroup == "" {
		natsCfg.DeliverGroup = defaultIngestGroup
	}
	if natsCfg.AckWaitSec == 0 {
		natsCfg.AckWaitSec = defaultAckWaitSec
	}
	if natsCfg.NackDelayMS == 0 {
		natsCfg.NackDelayMS = defaultNackDelayMS
	}
	if natsCfg.MaxDeliver == 0 {
		natsCfg.MaxDeliver = defaultMaxDeliver
	}
	if natsCfg.MaxAckPending == 0 {
		natsCfg.MaxAckPending = defaultMaxAckPending
	}

	stateCfg := &cfg.State.NATS
	if len(stateCfg.URL) == 0 {
		stateCfg.URL = []string{defaultNATSURL}
	}
	if stateCfg.AlarmBucket == "" {
		stateCfg.AlarmBucket = defaultAlarmBucket
	}
	if stateCfg.GroupBucket == "" {
		stateCfg.GroupBucket = defaultGroupBucket
	}
	if stateCfg.HistoryBucket == "" {
		stateCfg.HistoryBucket = defaultHistoryBucket
	}

	publishCfg := &cfg.Publish.NATS
	if len(publishCfg.URL) == 0 {
		publishCfg.URL = []string{defaultNATSURL}
	}
	if publishCfg.Subject == "" {
		publishCfg.Subject = defaultPublishSubject
	}
	if publishCfg.Stream == "" {
		publishCfg.Stream = defaultPublishStream
	}

	webhook := &cfg.Notify.Webhook
	if webhook.TimeoutSec == 0 {
		webhook.TimeoutSec = defaultWebhookTimeout
	}
	if webhook.RetryAttempts == 0 {
		webhook.RetryAttempts = defaultWebhookRetries
	}
	if webhook.RetryDelayMS == 0 {
		webhook.RetryDelayMS = defaultWebhookDelayMS
	}
}

// validate checks snapshot invariants and compiles rules.
// Params: config snapshot after defaults.
// Returns: first validation error.
func validate(cfg *Config) error {
	switch cfg.Service.Mode {
	case ServiceModeSingle, ServiceModeNATS:
	default:
		return fmt.Errorf("service.mode must be %q or %q", ServiceModeSingle, ServiceModeNATS)
	}
	if cfg.Service.EscalationSweepSeconds <= 0 {
		return errors.New("service.escalation_sweep_interval_sec must be >0")
	}
	if cfg.Service.StateCompactSeconds < 0 {
		return errors.New("service.state_compact_interval_sec must be >=0")
	}
	if cfg.Service.StateMaxEntries < 0 {
		return errors.New("service.state_max_entries must be >=0")
	}
	if cfg.Log.File.Enabled && strings.TrimSpace(cfg.Log.File.Path) == "" {
		return errors.New("log.file.path is required when file sink is enabled")
	}
	if cfg.Notify.Webhook.Enabled && strings.TrimSpace(cfg.Notify.Webhook.URL) == "" {
		return errors.New("notify.webhook.url is required when webhook is enabled")
	}

	seen := make(map[string]struct{}, len(cfg.Rules))
	for i := range cfg.Rules {
		rule := &cfg.Rules[i]
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("rules[%d]: %w", i, err)
		}
		if _, duplicate := seen[rule.ID]; duplicate {
			return fmt.Errorf("rules[%d]: duplicate rule id %q", i, rule.ID)
		}
		seen[rule.ID] = struct{}{}
	}
	return nil
}
