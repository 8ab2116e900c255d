package config

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

// ===== Watcher Tests =====

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "turnstile.yaml")
	if err := os.WriteFile(path, []byte("limits:\n  flood:\n    threshold: 10\n"), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	w, err := NewWatcher(path, 20*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}

	reloaded := make(chan *Config, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- w.Watch(ctx, func(cfg *Config) error {
			reloaded <- cfg
			return nil
		})
	}()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)

	// Unrelated files in the same directory are ignored.
	if err := os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1\n"), 0o644); err != nil {
		t.Fatalf("failed to write other file: %v", err)
	}
	if err := os.WriteFile(path, []byte("limits:\n  flood:\n    threshold: 99\n"), 0o644); err != nil {
		t.Fatalf("failed to rewrite config: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Limits.Flood.Threshold != 99 {
			t.Errorf("Expected reloaded threshold 99, got %d", cfg.Limits.Flood.Threshold)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Expected a reload within 5s")
	}

	if err := w.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if err := <-done; err != nil {
		t.Errorf("Watch() error = %v", err)
	}
}

func TestWatcher_InvalidReloadKeepsPrevious(t *testing.T) {
	path := filepath.Join(t.TempDir(), "turnstile.yaml")
	if err := os.WriteFile(path, []byte(""), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	w, err := NewWatcher(path, 0, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(path, []byte("telemetry:\n  logging:\n    level: loud\n"), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	var calls atomic.Int32
	w.reload(func(*Config) error {
		calls.Add(1)
		return nil
	})
	if calls.Load() != 0 {
		t.Errorf("Expected invalid config not to be applied, got %d calls", calls.Load())
	}
}

func TestWatcher_DoubleWatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "turnstile.yaml")
	if err := os.WriteFile(path, []byte(""), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	w, err := NewWatcher(path, 0, nil)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx, func(*Config) error { return nil }) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		w.mu.Lock()
		running := w.running
		w.mu.Unlock()
		if running || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := w.Watch(ctx, func(*Config) error { return nil }); err == nil {
		t.Error("Expected error from second Watch")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Watch() error = %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

// ===== Debouncer Tests =====

func TestDebouncer_Coalesces(t *testing.T) {
	d := NewDebouncer(30 * time.Millisecond)
	defer d.Stop()

	var calls atomic.Int32
	for i := 0; i < 5; i++ {
		d.Trigger(func() { calls.Add(1) })
	}

	time.Sleep(200 * time.Millisecond)
	if calls.Load() != 1 {
		t.Errorf("Expected 1 call, got %d", calls.Load())
	}
}

func TestDebouncer_StopCancelsPending(t *testing.T) {
	d := NewDebouncer(50 * time.Millisecond)

	var calls atomic.Int32
	d.Trigger(func() { calls.Add(1) })
	d.Stop()
	d.Trigger(func() { calls.Add(1) })

	time.Sleep(150 * time.Millisecond)
	if calls.Load() != 0 {
		t.Errorf("Expected no calls after Stop, got %d", calls.Load())
	}
}
