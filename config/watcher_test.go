package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
}

func TestNewWatcher(t *testing.T) {
	t.Run("valid config path", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "memoria.yaml")
		writeConfig(t, path, "app:\n  name: test\n")

		w, err := NewWatcher(path, NewLoader(), WithDebounce(100*time.Millisecond))
		if err != nil {
			t.Fatalf("NewWatcher failed: %v", err)
		}
		defer w.Stop()

		if w.ConfigPath() != path {
			t.Errorf("expected config path %s, got %s", path, w.ConfigPath())
		}
		if w.debounce != 100*time.Millisecond {
			t.Errorf("expected debounce 100ms, got %v", w.debounce)
		}
	})

	t.Run("empty config path", func(t *testing.T) {
		if _, err := NewWatcher("", NewLoader()); err == nil {
			t.Fatal("expected error for empty config path")
		}
	})
}

func TestWatcher_OnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memoria.yaml")
	writeConfig(t, path, "memory:\n  recall:\n    cooldown: 1m\n")

	w, err := NewWatcher(path, NewLoader(), WithDebounce(50*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Stop()

	var mu sync.Mutex
	var got *Config
	changed := make(chan struct{}, 1)
	w.OnChange(func(cfg *Config) {
		mu.Lock()
		got = cfg
		mu.Unlock()
		select {
		case changed <- struct{}{}:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Watch(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for !w.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)

	writeConfig(t, path, "memory:\n  recall:\n    cooldown: 5m\n")

	select {
	case <-changed:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload callback")
	}

	mu.Lock()
	defer mu.Unlock()
	if got.Memory.Recall.Cooldown != 5*time.Minute {
		t.Errorf("expected reloaded cooldown 5m, got %v", got.Memory.Recall.Cooldown)
	}
}

func TestWatcher_InvalidReloadKeepsCallbacksQuiet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memoria.yaml")
	writeConfig(t, path, "app:\n  name: ok\n")

	w, err := NewWatcher(path, NewLoader(), WithDebounce(20*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	called := make(chan struct{}, 1)
	w.OnChange(func(*Config) { called <- struct{}{} })

	writeConfig(t, path, "server:\n  port: 99999\n")
	w.reloadConfig(context.Background())

	select {
	case <-called:
		t.Fatal("callback must not run for an invalid configuration")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWatcher_StopAndDoubleWatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memoria.yaml")
	writeConfig(t, path, "app:\n  name: test\n")

	w, err := NewWatcher(path, nil)
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- w.Watch(context.Background()) }()

	deadline := time.Now().Add(2 * time.Second)
	for !w.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if err := w.Watch(context.Background()); err == nil {
		t.Error("expected error for second Watch call")
	}

	if err := w.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("second Stop should be a no-op, got %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch returned %v after Stop", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after Stop")
	}
}

func TestWatcher_NonExistentFile(t *testing.T) {
	w, err := NewWatcher("/nonexistent/memoria.yaml", NewLoader())
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := w.Watch(context.Background()); err == nil {
		t.Error("expected error watching a missing file")
	}
}

func TestHotReloadableConfig(t *testing.T) {
	base := ExtractHotReloadable(DefaultConfig())
	if base.LogLevel != "info" || base.AccessThreshold != 3 {
		t.Errorf("unexpected extraction: %+v", base)
	}

	same := ExtractHotReloadable(DefaultConfig())
	if base.Changed(same) || base.TuningChanged(same) {
		t.Error("identical configs should not report changes")
	}

	cfg := DefaultConfig()
	cfg.Log.Level = "debug"
	levelOnly := ExtractHotReloadable(cfg)
	if !base.Changed(levelOnly) {
		t.Error("log level change not detected")
	}
	if base.TuningChanged(levelOnly) {
		t.Error("log level change is not a tuning change")
	}

	cfg = DefaultConfig()
	cfg.Memory.Recall.Cooldown = time.Hour
	if !base.TuningChanged(ExtractHotReloadable(cfg)) {
		t.Error("cooldown change not detected")
	}
}
