package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsAndValidation(t *testing.T) {
	// Password is required, so bare defaults must not validate.
	if _, err := Load(); err == nil {
		t.Fatal("expected validation failure without rcon password")
	}

	t.Setenv("SQUADSTREAM_RCON_PASSWORD", "secret")
	t.Setenv("SQUADSTREAM_LOGSOURCE_PATH", "/srv/squad/SquadGame.log")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Rcon.Host != "127.0.0.1" || cfg.Rcon.Port != 21114 {
		t.Errorf("rcon defaults = %s:%d", cfg.Rcon.Host, cfg.Rcon.Port)
	}
	if cfg.Pipeline.QueueCapacity != 10000 || cfg.Pipeline.Interval != 10*time.Millisecond {
		t.Errorf("pipeline defaults = %+v", cfg.Pipeline)
	}
	if cfg.LogSource.Type != SourceTail || !cfg.LogSource.StartFromEnd {
		t.Errorf("log source defaults = %+v", cfg.LogSource)
	}
	if cfg.Pipeline.LayerHistory != 20 {
		t.Errorf("layer history = %d", cfg.Pipeline.LayerHistory)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	src := `
rcon:
  host: squad.example.net
  port: 27020
  password: hunter2
logsource:
  type: sftp
  path: /logs/SquadGame.log
  host: squad.example.net
  port: 22
  user: squad
loglevel: debug
`
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Rcon.Host != "squad.example.net" || cfg.Rcon.Port != 27020 {
		t.Errorf("rcon = %s:%d", cfg.Rcon.Host, cfg.Rcon.Port)
	}
	if cfg.LogSource.Type != SourceSFTP || cfg.LogSource.User != "squad" {
		t.Errorf("log source = %+v", cfg.LogSource)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log level = %q", cfg.LogLevel)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() Config {
		return Config{
			LogLevel: "info",
			Rcon:     RconConfig{Host: "h", Port: 21114, Password: "pw"},
			LogSource: LogSourceConfig{
				Type: SourceTail,
				Path: "/srv/squad/SquadGame.log",
			},
		}
	}

	cfg := base()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("base config invalid: %v", err)
	}

	cfg = base()
	cfg.Rcon.Port = 0
	if err := cfg.Validate(); err == nil {
		t.Error("zero rcon port accepted")
	}

	cfg = base()
	cfg.LogSource.Type = "nfs"
	if err := cfg.Validate(); err == nil {
		t.Error("unknown source type accepted")
	}

	cfg = base()
	cfg.LogSource.Type = SourceFTP
	if err := cfg.Validate(); err == nil {
		t.Error("ftp source without host accepted")
	}

	cfg = base()
	cfg.LogLevel = "loud"
	if err := cfg.Validate(); err == nil {
		t.Error("unknown log level accepted")
	}
}
