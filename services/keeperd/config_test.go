package keeperd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"kusdcore/crypto"
)

func testCaller(t *testing.T) string {
	t.Helper()
	raw := make([]byte, 20)
	raw[0] = 0x5e
	raw[19] = 0x01
	addr, err := crypto.AddressFromBytes(raw)
	if err != nil {
		t.Fatalf("build caller: %v", err)
	}
	return addr.String()
}

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "caller: "+testCaller(t)+"\n"+
		"node:\n"+
		"  endpoint: http://127.0.0.1:8080\n"+
		"  token: node-secret\n")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ListenAddress != ":7171" {
		t.Fatalf("listen = %q", cfg.ListenAddress)
	}
	if cfg.PollInterval.Duration != 15*time.Second {
		t.Fatalf("poll interval = %s", cfg.PollInterval.Duration)
	}
	if cfg.MaxPerSweep != 16 {
		t.Fatalf("max per sweep = %d", cfg.MaxPerSweep)
	}
	if cfg.HistoryPath != "keeperd-history.db" {
		t.Fatalf("history path = %q", cfg.HistoryPath)
	}
	if cfg.Node.RequestTimeout.Duration != 10*time.Second {
		t.Fatalf("request timeout = %s", cfg.Node.RequestTimeout.Duration)
	}
	if cfg.Export.OutputDir != "keeper-reports" || cfg.Export.Limit != 1000 {
		t.Fatalf("export defaults = %+v", cfg.Export)
	}
}

func TestLoadConfigParsesDurations(t *testing.T) {
	path := writeConfig(t, "caller: "+testCaller(t)+"\n"+
		"poll_interval: 30s\n"+
		"node:\n"+
		"  endpoint: http://127.0.0.1:8080\n"+
		"  token: node-secret\n"+
		"  request_timeout: 2s\n")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.PollInterval.Duration != 30*time.Second {
		t.Fatalf("poll interval = %s", cfg.PollInterval.Duration)
	}
	if cfg.Node.RequestTimeout.Duration != 2*time.Second {
		t.Fatalf("request timeout = %s", cfg.Node.RequestTimeout.Duration)
	}
}

func TestLoadConfigResolvesTokenFromEnv(t *testing.T) {
	t.Setenv("KEEPERD_TEST_TOKEN", "env-secret")
	path := writeConfig(t, "caller: "+testCaller(t)+"\n"+
		"node:\n"+
		"  endpoint: http://127.0.0.1:8080\n"+
		"  token_env: KEEPERD_TEST_TOKEN\n")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Node.Token != "env-secret" {
		t.Fatalf("token = %q", cfg.Node.Token)
	}
}

func TestLoadConfigResolvesTokenFromFile(t *testing.T) {
	tokenPath := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(tokenPath, []byte("  file-secret \n"), 0o600); err != nil {
		t.Fatalf("write token file: %v", err)
	}
	path := writeConfig(t, "caller: "+testCaller(t)+"\n"+
		"node:\n"+
		"  endpoint: http://127.0.0.1:8080\n"+
		"  token_file: "+tokenPath+"\n")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Node.Token != "file-secret" {
		t.Fatalf("token = %q", cfg.Node.Token)
	}
}

func TestLoadConfigRejectsBadInput(t *testing.T) {
	caller := testCaller(t)
	cases := []struct {
		name     string
		contents string
		want     string
	}{
		{
			name:     "missing endpoint",
			contents: "caller: " + caller + "\nnode:\n  token: node-secret\n",
			want:     "endpoint",
		},
		{
			name:     "missing token",
			contents: "caller: " + caller + "\nnode:\n  endpoint: http://127.0.0.1:8080\n",
			want:     "token",
		},
		{
			name:     "missing caller",
			contents: "node:\n  endpoint: http://127.0.0.1:8080\n  token: node-secret\n",
			want:     "caller",
		},
		{
			name:     "invalid caller",
			contents: "caller: not-an-address\nnode:\n  endpoint: http://127.0.0.1:8080\n  token: node-secret\n",
			want:     "caller",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.contents)
			_, err := LoadConfig(path)
			if err == nil {
				t.Fatal("expected config error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error = %v, want mention of %q", err, tc.want)
			}
		})
	}
}
