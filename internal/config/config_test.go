package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"marinealarm/internal/rules"
)

func writeConfig(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config fragment failed: %+v", err)
	}
	return path
}

const baseConfig = `
[service]
mode = "single"

[log.console]
enabled = true
level = "info"
format = "text"

[ingest.http]
enabled = true
listen = ":9090"

[[rules]]
id = "r-temp"
name = "engine temp high"
enabled = true
type = "threshold"
source_type = "sensor"
source_pattern = "temp-*"
threshold = 100.0
operator = ">"
duration_threshold_sec = 30
cooldown_sec = 60
severity = "warning"
title_template = "temp {value} over {threshold} on {source}"

[rules.escalation]
enabled = true
escalation_time_sec = 300
escalate_to = "critical"

[rules.grouping]
enabled = true
strategy = "by_vessel"
time_window_sec = 60
`

func TestFromCLIRequiresExactlyOneSource(t *testing.T) {
	t.Parallel()

	if _, err := FromCLI("", ""); err == nil {
		t.Fatalf("expected error without sources")
	}
	if _, err := FromCLI("a.toml", "dir"); err == nil {
		t.Fatalf("expected error with both sources")
	}
	source, err := FromCLI("a.toml", "")
	if err != nil || source.FilePath != "a.toml" {
		t.Fatalf("unexpected source %+v err=%+v", source, err)
	}
}

func TestLoadSnapshotFileWithRules(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, t.TempDir(), "config.toml", baseConfig)
	cfg, err := LoadSnapshot(ConfigSource{FilePath: path})
	if err != nil {
		t.Fatalf("load failed: %+v", err)
	}

	if cfg.Service.Mode != ServiceModeSingle {
		t.Fatalf("unexpected mode %q", cfg.Service.Mode)
	}
	if cfg.Ingest.HTTP.Listen != ":9090" {
		t.Fatalf("unexpected listen %q", cfg.Ingest.HTTP.Listen)
	}
	if len(cfg.Rules) != 1 {
		t.Fatalf("expected one rule, got %d", len(cfg.Rules))
	}

	rule := cfg.Rules[0]
	if rule.ID != "r-temp" || rule.Type != rules.TypeThreshold {
		t.Fatalf("unexpected rule %+v", rule)
	}
	if rule.SourceRE == nil {
		t.Fatalf("expected compiled source matcher after validation")
	}
	if !rule.Escalation.Enabled || rule.Escalation.EscalationTimeSec != 300 {
		t.Fatalf("unexpected escalation %+v", rule.Escalation)
	}
	if !rule.Grouping.Enabled || rule.Grouping.TimeWindowSec != 60 {
		t.Fatalf("unexpected grouping %+v", rule.Grouping)
	}
}

func TestLoadSnapshotAppliesDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, t.TempDir(), "config.toml", "[service]\nmode = \"single\"\n")
	cfg, err := LoadSnapshot(ConfigSource{FilePath: path})
	if err != nil {
		t.Fatalf("load failed: %+v", err)
	}

	if cfg.Service.EscalationSweepSeconds != defaultSweepSeconds {
		t.Fatalf("expected default sweep interval, got %d", cfg.Service.EscalationSweepSeconds)
	}
	if !cfg.Log.Console.Enabled {
		t.Fatalf("expected console sink enabled by default")
	}
	if cfg.Ingest.HTTP.Listen != defaultHTTPListen {
		t.Fatalf("expected default listen, got %q", cfg.Ingest.HTTP.Listen)
	}
	if cfg.Ingest.HTTP.ReadingsPath != defaultReadingsPath || cfg.Ingest.HTTP.StatusPath != defaultStatusPath {
		t.Fatalf("expected default ingest paths, got %+v", cfg.Ingest.HTTP)
	}
	if cfg.State.NATS.AlarmBucket != defaultAlarmBucket {
		t.Fatalf("expected default alarm bucket, got %q", cfg.State.NATS.AlarmBucket)
	}
	if cfg.Publish.NATS.Subject != defaultPublishSubject {
		t.Fatalf("expected default publish subject, got %q", cfg.Publish.NATS.Subject)
	}
	if cfg.Notify.Webhook.RetryAttempts != defaultWebhookRetries {
		t.Fatalf("expected default webhook retries, got %d", cfg.Notify.Webhook.RetryAttempts)
	}
}

func TestLoadSnapshotDirMergesFragmentsAndConcatenatesRules(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeConfig(t, dir, "00-service.toml", "[service]\nmode = \"single\"\nescalation_sweep_interval_sec = 15\n")
	writeConfig(t, dir, "10-rules-a.toml", `
[[rules]]
id = "r-a"
name = "rule a"
enabled = true
type = "threshold"
source_type = "sensor"
source_pattern = "temp-*"
threshold = 10.0
operator = ">"
severity = "info"
`)
	writeConfig(t, dir, "20-rules-b.toml", `
[[rules]]
id = "r-b"
name = "rule b"
enabled = true
type = "pattern"
source_type = "engine"
source_pattern = "main-*"
pattern = "fail*"
severity = "critical"
`)

	cfg, err := LoadSnapshot(ConfigSource{DirPath: dir})
	if err != nil {
		t.Fatalf("load failed: %+v", err)
	}
	if cfg.Service.EscalationSweepSeconds != 15 {
		t.Fatalf("expected merged service section, got %+v", cfg.Service)
	}
	if len(cfg.Rules) != 2 || cfg.Rules[0].ID != "r-a" || cfg.Rules[1].ID != "r-b" {
		t.Fatalf("expected concatenated rules in fragment order, got %+v", cfg.Rules)
	}
}

func TestLoadSnapshotRejectsInvalidRule(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, t.TempDir(), "config.toml", `
[service]
mode = "single"

[[rules]]
id = "r-bad"
name = "broken"
enabled = true
type = "threshold"
source_type = "sensor"
source_pattern = "temp-*"
threshold = 10.0
operator = "~"
severity = "warning"
`)
	if _, err := LoadSnapshot(ConfigSource{FilePath: path}); !errors.Is(err, rules.ErrInvalidRule) {
		t.Fatalf("expected ErrInvalidRule, got %+v", err)
	}
}

func TestLoadSnapshotRejectsDuplicateRuleIDs(t *testing.T) {
	t.Parallel()

	ruleBlock := `
[[rules]]
id = "r-dup"
name = "rule"
enabled = true
type = "threshold"
source_type = "sensor"
source_pattern = "temp-*"
threshold = 10.0
operator = ">"
severity = "info"
`
	path := writeConfig(t, t.TempDir(), "config.toml", "[service]\nmode = \"single\"\n"+ruleBlock+ruleBlock)
	if _, err := LoadSnapshot(ConfigSource{FilePath: path}); err == nil {
		t.Fatalf("expected duplicate id rejection")
	}
}

func TestLoadSnapshotRejectsUnknownFieldsAndBadMode(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	unknown := writeConfig(t, dir, "unknown.toml", "[service]\nmode = \"single\"\nbogus_field = 1\n")
	if _, err := LoadSnapshot(ConfigSource{FilePath: unknown}); err == nil {
		t.Fatalf("expected unknown field rejection")
	}

	badMode := writeConfig(t, dir, "mode.toml", "[service]\nmode = \"cluster\"\n")
	if _, err := LoadSnapshot(ConfigSource{FilePath: badMode}); err == nil {
		t.Fatalf("expected mode rejection")
	}

	fileSink := writeConfig(t, dir, "sink.toml", "[service]\nmode = \"single\"\n\n[log.file]\nenabled = true\n")
	if _, err := LoadSnapshot(ConfigSource{FilePath: fileSink}); err == nil {
		t.Fatalf("expected file sink path rejection")
	}

	webhook := writeConfig(t, dir, "webhook.toml", "[service]\nmode = \"single\"\n\n[notify.webhook]\nenabled = true\n")
	if _, err := LoadSnapshot(ConfigSource{FilePath: webhook}); err == nil {
		t.Fatalf("expected webhook url rejection")
	}
}
