package sysutil

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestSetLogLevel_AllVariants(t *testing.T) {
	orig := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(orig) })

	cases := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"  DeBuG  ", zerolog.DebugLevel}, // case + trim
		{"info", zerolog.InfoLevel},
		{"", zerolog.InfoLevel}, // empty -> info
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel}, // alias
		{"error", zerolog.ErrorLevel},
		{"fatal", zerolog.FatalLevel},
		{"panic", zerolog.PanicLevel},
		{"unknown", zerolog.InfoLevel}, // default
	}

	for _, tc := range cases {
		SetLogLevel(tc.in)
		if got := zerolog.GlobalLevel(); got != tc.want {
			t.Fatalf("SetLogLevel(%q) -> %v; want %v", tc.in, got, tc.want)
		}
	}
}

func TestNewLogger_JSONAndPretty(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, false, "movemeter-api", "v1.0.0")
	l.Info().Msg("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("json output expected: %v (%s)", err, buf.String())
	}
	if line["service"] != "movemeter-api" || line["version"] != "v1.0.0" || line["message"] != "hello" {
		t.Fatalf("unexpected fields: %v", line)
	}

	buf.Reset()
	p := NewLogger(&buf, true, "svc", "dev")
	p.Info().Msg("pretty")
	if json.Valid(buf.Bytes()) || !strings.Contains(buf.String(), "pretty") {
		t.Fatalf("console output expected, got %q", buf.String())
	}
}

func TestLoadEnvFiles(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("SYSUTIL_TEST_A=from-file\nSYSUTIL_TEST_B=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SYSUTIL_TEST_B", "from-env")
	t.Cleanup(func() { _ = os.Unsetenv("SYSUTIL_TEST_A") })

	loaded, err := LoadEnvFiles(filepath.Join(dir, "missing.env"), envFile)
	if err != nil {
		t.Fatalf("LoadEnvFiles: %v", err)
	}
	if len(loaded) != 1 || loaded[0] != envFile {
		t.Fatalf("loaded = %v", loaded)
	}
	if got := os.Getenv("SYSUTIL_TEST_A"); got != "from-file" {
		t.Fatalf("A = %q", got)
	}
	if got := os.Getenv("SYSUTIL_TEST_B"); got != "from-env" {
		t.Fatalf("existing variables must win, B = %q", got)
	}
}

func TestHostname(t *testing.T) {
	if Hostname() == "" {
		t.Fatalf("Hostname must never be empty")
	}
}
