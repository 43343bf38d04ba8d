package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestResolveLogFilePathDefaultDir(t *testing.T) {
	tmpDir := t.TempDir()
	oldWD, err := os.Getwd()
	if err != nil {
		t.Fatalf("get wd failed: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Chdir(oldWD)
	})
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}

	got, err := resolveLogFilePath(Options{})
	if err != nil {
		t.Fatalf("resolve default log path failed: %v", err)
	}

	realTmpDir, err := filepath.EvalSymlinks(tmpDir)
	if err != nil {
		t.Fatalf("resolve tmp dir symlink failed: %v", err)
	}
	realGot, err := filepath.EvalSymlinks(filepath.Dir(got))
	if err != nil {
		t.Fatalf("resolve got dir symlink failed: %v", err)
	}
	expectedDir := filepath.Join(realTmpDir, defaultLogDirName)
	if realGot != expectedDir {
		t.Fatalf("unexpected log dir: got=%s expected=%s", realGot, expectedDir)
	}
	if filepath.Base(got) != defaultLogFilename {
		t.Fatalf("unexpected log filename: %s", filepath.Base(got))
	}
	if _, err := os.Stat(filepath.Dir(got)); err != nil {
		t.Fatalf("expected log dir to be created: %v", err)
	}
}

func TestNewReleaseWritesJSONToConfiguredFile(t *testing.T) {
	tmpDir := t.TempDir()
	log := New("release", Options{
		Dir:      tmpDir,
		Filename: "release.log",
	})
	log.Sugar().Infow("coupon_reconcile_round", "inserted", 3)
	_ = log.Sync()

	content, err := os.ReadFile(filepath.Join(tmpDir, "release.log"))
	if err != nil {
		t.Fatalf("read release log failed: %v", err)
	}
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(content))), &entry); err != nil {
		t.Fatalf("release log should be json lines, got=%s err=%v", string(content), err)
	}
	if entry["message"] != "coupon_reconcile_round" || entry["level"] != "info" {
		t.Fatalf("unexpected log entry: %v", entry)
	}
	if inserted, ok := entry["inserted"].(float64); !ok || inserted != 3 {
		t.Fatalf("structured field missing: %v", entry)
	}
}

func TestSWAttachesFieldsToGlobalLogger(t *testing.T) {
	tmpDir := t.TempDir()
	previous := L
	t.Cleanup(func() {
		L = previous
	})
	L = New("release", Options{Dir: tmpDir, Filename: "scoped.log"})

	SW("request_id", "req-42").Warnw("partner_auth_resolve_failed")
	Sync()

	content, err := os.ReadFile(filepath.Join(tmpDir, "scoped.log"))
	if err != nil {
		t.Fatalf("read scoped log failed: %v", err)
	}
	if !strings.Contains(string(content), `"request_id":"req-42"`) {
		t.Fatalf("scoped field missing, got=%s", string(content))
	}
}

func TestNewDebugDoesNotWriteFile(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := Options{
		Dir:      tmpDir,
		Filename: "debug.log",
	}
	log := New("debug", cfg)
	log.Info("debug-log-test")
	_ = log.Sync()

	if _, err := os.Stat(filepath.Join(tmpDir, "debug.log")); !os.IsNotExist(err) {
		t.Fatalf("debug mode should not create log file")
	}
}

func TestResolveLevel(t *testing.T) {
	cases := []struct {
		name  string
		debug bool
		raw   string
		want  string
	}{
		{name: "release_default", want: "info"},
		{name: "debug_default", debug: true, want: "debug"},
		{name: "explicit", raw: "warn", want: "warn"},
		{name: "explicit_overrides_debug", debug: true, raw: "error", want: "error"},
		{name: "invalid_falls_back", raw: "loud", want: "info"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := resolveLevel(tc.debug, tc.raw).String(); got != tc.want {
				t.Fatalf("level want %s got %s", tc.want, got)
			}
		})
	}
}
