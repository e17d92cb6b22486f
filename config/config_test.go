package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
[server]
host = "0.0.0.0"
port = 8000

[executor]
workers = 4
wait_timeout = "5s"

[registry]
ttl = "10m"

[queue]
url = "nats://localhost:4222"

[archive]
path = "results.db"

[log]
verbosity = 2
`)

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Addr() != "0.0.0.0:8000" {
		t.Errorf("Addr = %q", c.Addr())
	}
	if c.Executor.Workers != 4 || c.Executor.WaitTimeout.Duration != 5*time.Second {
		t.Errorf("Executor = %+v", c.Executor)
	}
	if c.Registry.TTL.Duration != 10*time.Minute {
		t.Errorf("TTL = %v", c.Registry.TTL)
	}
	if c.Registry.SweepInterval.Duration != 5*time.Minute {
		t.Errorf("SweepInterval = %v, want half the TTL", c.Registry.SweepInterval)
	}
	if c.Queue.Subject != DefaultSubject || c.Queue.Group != DefaultGroup {
		t.Errorf("Queue = %+v", c.Queue)
	}
	if c.Archive.Path != "results.db" || c.Log.Verbosity != 2 {
		t.Errorf("Archive = %+v, Log = %+v", c.Archive, c.Log)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"bad toml", "[server\n", "parse error"},
		{"bad duration", "[executor]\nwait_timeout = \"soon\"\n", "parse error"},
		{"bad port", "[server]\nport = 70000\n", "out of range"},
		{"negative workers", "[executor]\nworkers = -1\n", "workers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), tt.content)
			_, err := Load(path)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Load error = %v, want it to mention %q", err, tt.want)
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("Load of a missing file succeeded")
	}
}

func TestFindAndLoad(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "[server]\nport = 9000\n")
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	c, err := FindAndLoad(nested)
	if err != nil {
		t.Fatalf("FindAndLoad: %v", err)
	}
	if c.Server.Port != 9000 || c.Path == "" {
		t.Fatalf("found %+v", c)
	}
}

func TestDefault(t *testing.T) {
	c := Default()
	if c.Addr() != ":9465" {
		t.Errorf("Addr = %q", c.Addr())
	}
	if c.Executor.Workers != 1 || c.Executor.WaitTimeout.Duration != 30*time.Second {
		t.Errorf("Executor = %+v", c.Executor)
	}
	if c.Registry.SweepInterval.Duration != 0 {
		t.Errorf("sweeper enabled without a TTL")
	}
}

func TestParseServerAddress(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", "127.0.0.1:9465"},
		{"example.com", "example.com:9465"},
		{"example.com:80", "example.com:80"},
		{":8000", "127.0.0.1:8000"},
		{"http://10.0.0.1:9000/", "10.0.0.1:9000"},
	}
	for _, tt := range tests {
		if got := ParseServerAddress(tt.in); got != tt.want {
			t.Errorf("ParseServerAddress(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestServerAddress(t *testing.T) {
	t.Setenv(EnvServer, "remote")
	if got := ServerAddress(); got != "remote:9465" {
		t.Fatalf("ServerAddress = %q", got)
	}
}
