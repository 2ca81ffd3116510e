package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rollout.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func validConfig() Config {
	c := Config{}
	c.Process.Command = "python3 app.py"
	c.Source.Owner = "loykin"
	c.Source.Repo = "demo-app"
	c.Health.DBPath = "status.db"
	c.ApplyDefaults()
	return c
}

func TestLoadParsesFullConfig(t *testing.T) {
	path := writeConfig(t, `
poll_interval = "30s"
app_dir = "/srv/app"
versions_dir = "/srv/versions"
max_versions = 3
default_version = "1.0.0"
log_level = "debug"

[process]
name = "demo"
command = "python3 app.py"
env = ["PORT=8080"]
grace_period = "10s"

[process.log]
dir = "/var/log/rollout"

[health]
timeout = "45s"
db_path = "/srv/app/status.db"

[source]
owner = "loykin"
repo = "demo-app"
branch = "release"
token = "tkn"

[history]
dsn = "sqlite:///var/lib/rollout/history.db"

[server]
listen = ":9310"
base_path = "/rollout"
`)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.PollInterval != 30*time.Second {
		t.Fatalf("poll_interval = %s, want 30s", c.PollInterval)
	}
	if c.MaxVersions != 3 || c.AppDir != "/srv/app" {
		t.Fatalf("top-level fields wrong: %+v", c)
	}
	if c.Process.Name != "demo" || c.Process.GracePeriod != 10*time.Second {
		t.Fatalf("process fields wrong: %+v", c.Process)
	}
	if len(c.Process.Env) != 1 || c.Process.Env[0] != "PORT=8080" {
		t.Fatalf("env = %v", c.Process.Env)
	}
	if c.Process.Log.Dir != "/var/log/rollout" {
		t.Fatalf("log dir = %q", c.Process.Log.Dir)
	}
	if c.Health.Timeout != 45*time.Second {
		t.Fatalf("health timeout = %s", c.Health.Timeout)
	}
	if c.Source.Branch != "release" || c.Source.Token != "tkn" {
		t.Fatalf("source = %+v", c.Source)
	}
	if c.History.DSN == "" || c.Server.Listen != ":9310" {
		t.Fatalf("history/server = %+v %+v", c.History, c.Server)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
[process]
command = "python3 app.py"

[health]
db_path = "status.db"

[source]
owner = "loykin"
repo = "demo-app"
`)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.PollInterval != DefaultPollInterval {
		t.Fatalf("poll_interval default = %s", c.PollInterval)
	}
	if c.MaxVersions != DefaultMaxVersions {
		t.Fatalf("max_versions default = %d", c.MaxVersions)
	}
	if c.Process.GracePeriod != DefaultGracePeriod {
		t.Fatalf("grace_period default = %s", c.Process.GracePeriod)
	}
	if c.Health.Timeout != DefaultHealthWindow ||
		c.Health.SettleDelay != DefaultSettleDelay ||
		c.Health.Interval != DefaultPollCadence ||
		c.Health.Staleness != DefaultStaleness {
		t.Fatalf("health defaults wrong: %+v", c.Health)
	}
	if c.Source.Branch != "main" {
		t.Fatalf("branch default = %q", c.Source.Branch)
	}
	if c.LogLevel != "info" || c.Process.Name != "app" {
		t.Fatalf("defaults wrong: level=%q name=%q", c.LogLevel, c.Process.Name)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing command", func(c *Config) { c.Process.Command = " " }, "process.command"},
		{"bad process name", func(c *Config) { c.Process.Name = "my app" }, "process.name"},
		{"max versions too small", func(c *Config) { c.MaxVersions = 1 }, "max_versions"},
		{"missing source", func(c *Config) { c.Source.Owner = "" }, "source.owner"},
		{"no health signal", func(c *Config) {
			c.Health.DBPath = ""
			c.Health.LogMarkers = nil
		}, "health"},
		{"markers without log capture", func(c *Config) {
			c.Health.DBPath = ""
			c.Health.LogMarkers = []string{"ready"}
			c.Process.Log.Dir = ""
			c.Process.Log.StdoutPath = ""
		}, "log_markers"},
		{"bad env entry", func(c *Config) { c.Process.Env = []string{"NOEQUALS"} }, "process.env"},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }, "log_level"},
	}
	for _, tc := range cases {
		c := validConfig()
		tc.mutate(&c)
		err := c.Validate()
		if err == nil {
			t.Fatalf("%s: Validate passed, want error", tc.name)
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: error %q does not mention %q", tc.name, err, tc.want)
		}
	}
}

func TestValidateAcceptsMarkersWithLogDir(t *testing.T) {
	c := validConfig()
	c.Health.DBPath = ""
	c.Health.LogMarkers = []string{"connected"}
	c.Process.Log.Dir = "/var/log/rollout"
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}
