package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	valid := map[string]Level{
		"debug":   LevelDebug,
		"DEBUG":   LevelDebug,
		"":        LevelInfo,
		"Info":    LevelInfo,
		"warning": LevelWarn,
		"warn":    LevelWarn,
		"ERROR":   LevelError,
	}
	for in, want := range valid {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
		if in != "" && in != "warning" && !strings.EqualFold(LevelString(got), in) {
			t.Errorf("LevelString(%v) = %q, not a round trip of %q", got, LevelString(got), in)
		}
	}

	if _, err := ParseLevel("verbose"); err == nil {
		t.Error("ParseLevel(verbose) succeeded")
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat("JSON"); err != nil || f != FormatJSON {
		t.Errorf("ParseFormat(JSON) = %v, %v", f, err)
	}
	if f, err := ParseFormat(""); err != nil || f != FormatText {
		t.Errorf("ParseFormat(\"\") = %v, %v", f, err)
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("ParseFormat(xml) succeeded")
	}
}

func TestDefaults(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Level != LevelInfo || cfg.Format != FormatText || cfg.Output != "stderr" {
		t.Errorf("default = %s/%v/%s", LevelString(cfg.Level), cfg.Format, cfg.Output)
	}
	if cfg.Component != "rhythmd" {
		t.Errorf("component = %s", cfg.Component)
	}
	if filepath.Base(cfg.FilePath) != "rhythmd.log" {
		t.Errorf("log path = %s", cfg.FilePath)
	}
	if !strings.Contains(DefaultCrashDir(), "crashes") {
		t.Errorf("crash dir = %s", DefaultCrashDir())
	}
}

func TestRedactedKeys(t *testing.T) {
	for _, key := range []string{"char", "Character", "window_title", "text", "api_token", "Password"} {
		if !shouldRedact(key) {
			t.Errorf("%s is written in clear", key)
		}
	}
	for _, key := range []string{"key_code", "session_id", "app_id", "flight_time", "count"} {
		if shouldRedact(key) {
			t.Errorf("%s is redacted", key)
		}
	}
}

func TestJSONRecordOmitsTypedCharacters(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&Config{
		Level:     LevelDebug,
		Format:    FormatJSON,
		Writer:    &buf,
		Component: "keystroke",
	})
	if err != nil {
		t.Fatal(err)
	}
	defer logger.Close()

	logger.Debug("key down", "key_code", 30, "char", "a", "window_title", "bank.example - Login")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("not JSON: %v (%s)", err, buf.String())
	}
	if rec["char"] != "[REDACTED]" || rec["window_title"] != "[REDACTED]" {
		t.Errorf("content leaked: %v", rec)
	}
	if rec["key_code"] != float64(30) {
		t.Errorf("key_code = %v", rec["key_code"])
	}
	if rec["component"] != "keystroke" {
		t.Errorf("component = %v", rec["component"])
	}
	if strings.Contains(buf.String(), "bank.example") {
		t.Error("window title appears in output")
	}
}

func TestLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&Config{Level: LevelWarn, Writer: &buf})
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("flushed", "events", 10)
	if buf.Len() != 0 {
		t.Errorf("info written at warn level: %q", buf.String())
	}
	logger.WithComponent("batch").Warn("write failed")
	if !strings.Contains(buf.String(), "component=batch") {
		t.Errorf("component missing from %q", buf.String())
	}
}

func TestSetDefault(t *testing.T) {
	prev := Default()
	t.Cleanup(func() { SetDefault(prev) })

	var buf bytes.Buffer
	logger, err := New(&Config{Level: LevelInfo, Writer: &buf})
	if err != nil {
		t.Fatal(err)
	}
	SetDefault(logger)
	if Default() != logger {
		t.Fatal("Default did not return the installed logger")
	}

	Component("store").Info("opened")
	if !strings.Contains(buf.String(), "component=store") {
		t.Errorf("got %q", buf.String())
	}

	Discard().Error("dropped")
}

func newRotator(t *testing.T, cfg Config) *FileRotator {
	t.Helper()
	r, err := NewFileRotator(&cfg)
	if err != nil {
		t.Fatalf("NewFileRotator: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestFileRotatorCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "logs", "rhythmd.log")
	r := newRotator(t, Config{FilePath: path, MaxSize: 1})

	line := []byte("level=INFO msg=started\n")
	if n, err := r.Write(line); err != nil || n != len(line) {
		t.Fatalf("Write = %d, %v", n, err)
	}
	if err := r.Sync(); err != nil {
		t.Fatal(err)
	}
	if got, _ := os.ReadFile(path); !bytes.Equal(got, line) {
		t.Errorf("file = %q", got)
	}
}

func TestFileRotatorRotatesOnSizeAndCompresses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rhythmd.log")
	r := newRotator(t, Config{FilePath: path, MaxSize: 1, MaxBackups: 2, Compress: true})

	if _, err := r.Write(bytes.Repeat([]byte("x"), megabyte-4)); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Write([]byte("overflow\n")); err != nil {
		t.Fatal(err)
	}
	r.bg.Wait()

	files, err := r.Files()
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 || !strings.HasSuffix(files[1], ".log.gz") {
		t.Fatalf("files = %v", files)
	}
	if got, _ := os.ReadFile(path); string(got) != "overflow\n" {
		t.Errorf("active file = %q", got)
	}
}

func TestFileRotatorRotatesOnDayChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rhythmd.log")
	r := newRotator(t, Config{FilePath: path, MaxSize: 1, MaxAge: 7, MaxBackups: 3})

	if _, err := r.Write([]byte("day one\n")); err != nil {
		t.Fatal(err)
	}

	tomorrow := time.Now().AddDate(0, 0, 1)
	r.mu.Lock()
	r.now = func() time.Time { return tomorrow }
	r.mu.Unlock()

	if _, err := r.Write([]byte("day two\n")); err != nil {
		t.Fatal(err)
	}
	r.bg.Wait()

	files, err := r.Files()
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Fatalf("files = %v", files)
	}
	if got, _ := os.ReadFile(path); string(got) != "day two\n" {
		t.Errorf("active file = %q", got)
	}
}

func TestCrashHandlerRecoverWritesReport(t *testing.T) {
	h := NewCrashHandler(t.TempDir(), "rhythmd", Discard())

	var seen CrashReport
	h.OnCrash(func(r CrashReport) { seen = r })

	func() {
		defer h.Recover("batch writer")
		panic("boom")
	}()

	if seen.PanicValue != "boom" || seen.Where != "batch writer" {
		t.Errorf("report = %+v", seen)
	}
	if !strings.Contains(seen.StackTrace, "TestCrashHandlerRecoverWritesReport") {
		t.Error("stack does not name the panicking test")
	}

	reports, err := h.Reports()
	if err != nil {
		t.Fatal(err)
	}
	if len(reports) != 1 || reports[0].Component != "rhythmd" {
		t.Errorf("reports = %+v", reports)
	}
}

func TestCrashHandlerGoWithoutDirectory(t *testing.T) {
	h := NewCrashHandler("", "rhythmd", Discard())

	done := make(chan CrashReport, 1)
	h.OnCrash(func(r CrashReport) { done <- r })
	h.Go("focus poll", func() { panic("tick") })

	select {
	case r := <-done:
		if r.Where != "focus poll" {
			t.Errorf("where = %q", r.Where)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("panic not recovered")
	}

	if reports, err := h.Reports(); err != nil || reports != nil {
		t.Errorf("Reports() = %v, %v", reports, err)
	}
}
