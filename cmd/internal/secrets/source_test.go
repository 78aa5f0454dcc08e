package secrets

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGetPrefersEnvironmentVariable(t *testing.T) {
	t.Setenv("KUSD_TEST_ADMIN_SECRET", "from-env")

	path := filepath.Join(t.TempDir(), "secret")
	if err := os.WriteFile(path, []byte("from-file\n"), 0o600); err != nil {
		t.Fatalf("write secret file: %v", err)
	}

	src := NewSource("KUSD_TEST_ADMIN_SECRET", path)
	secret, err := src.Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if secret != "from-env" {
		t.Fatalf("secret = %q, want from-env", secret)
	}
}

func TestGetRejectsEmptyEnvironmentValue(t *testing.T) {
	t.Setenv("KUSD_TEST_ADMIN_SECRET", "   ")

	src := NewSource("KUSD_TEST_ADMIN_SECRET", "")
	if _, err := src.Get(); err == nil {
		t.Fatal("expected error for whitespace-only env value")
	}
}

func TestGetReadsFileWhenEnvUnset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret")
	if err := os.WriteFile(path, []byte("  file-secret  \n"), 0o600); err != nil {
		t.Fatalf("write secret file: %v", err)
	}

	src := NewSource("KUSD_TEST_UNSET_SECRET", path)
	secret, err := src.Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if secret != "file-secret" {
		t.Fatalf("secret = %q, want file-secret", secret)
	}
}

func TestGetRejectsEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret")
	if err := os.WriteFile(path, []byte("\n\t\n"), 0o600); err != nil {
		t.Fatalf("write secret file: %v", err)
	}

	src := NewSource("", path)
	_, err := src.Get()
	if err == nil {
		t.Fatal("expected error for empty secret file")
	}
	if !strings.Contains(err.Error(), "empty") {
		t.Fatalf("error = %v, want mention of empty file", err)
	}
}

func TestGetCachesFirstResolution(t *testing.T) {
	t.Setenv("KUSD_TEST_ADMIN_SECRET", "initial")

	src := NewSource("KUSD_TEST_ADMIN_SECRET", "")
	first, err := src.Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	t.Setenv("KUSD_TEST_ADMIN_SECRET", "changed")
	second, err := src.Get()
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if first != second {
		t.Fatalf("cached secret changed: %q then %q", first, second)
	}
}
