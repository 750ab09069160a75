// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// =============================================================================
// Level Tests
// =============================================================================

func TestLevel_String(t *testing.T) {
	cases := map[Level]string{
		LevelDebug: "DEBUG",
		LevelInfo:  "INFO",
		LevelWarn:  "WARN",
		LevelError: "ERROR",
		Level(99):  "UNKNOWN",
	}
	for level, want := range cases {
		if got := level.String(); got != want {
			t.Errorf("Level(%d).String() = %q, want %q", level, got, want)
		}
	}
}

func TestLevel_toSlogLevel(t *testing.T) {
	cases := map[Level]slog.Level{
		LevelDebug: slog.LevelDebug,
		LevelInfo:  slog.LevelInfo,
		LevelWarn:  slog.LevelWarn,
		LevelError: slog.LevelError,
	}
	for level, want := range cases {
		if got := level.toSlogLevel(); got != want {
			t.Errorf("Level(%d).toSlogLevel() = %v, want %v", level, got, want)
		}
	}
}

// =============================================================================
// Logger Tests
// =============================================================================

func TestNew_DefaultConfig(t *testing.T) {
	logger := New(Config{})
	defer logger.Close()

	if logger.slog == nil {
		t.Fatal("expected underlying slog.Logger to be set")
	}
}

func TestNew_WithLogDir(t *testing.T) {
	dir := t.TempDir()

	logger := New(Config{LogDir: dir, Service: "walletctl", Quiet: true})
	logger.Info("session created", "principal", "0xALICE")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}

	name := "walletctl_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("expected log file: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(bytes.Split(data, []byte("\n"))[0], &entry); err != nil {
		t.Fatalf("log file is not JSON lines: %v", err)
	}
	if entry["msg"] != "session created" {
		t.Errorf("msg = %v, want %q", entry["msg"], "session created")
	}
	if entry["service"] != "walletctl" {
		t.Errorf("service = %v, want %q", entry["service"], "walletctl")
	}
	if entry["principal"] != "0xALICE" {
		t.Errorf("principal = %v, want %q", entry["principal"], "0xALICE")
	}
}

func TestNew_WithLogDir_NoService(t *testing.T) {
	dir := t.TempDir()

	logger := New(Config{LogDir: dir, Quiet: true})
	logger.Info("hello")
	logger.Close()

	name := "wallet_" + time.Now().Format("2006-01-02") + ".log"
	if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
		t.Fatalf("expected default-named log file: %v", err)
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	exporter := NewBufferedExporter()
	logger := New(Config{Level: LevelWarn, Quiet: true, Exporter: exporter})
	defer logger.Close()

	logger.Debug("dropped")
	logger.Info("dropped too")
	logger.Warn("kept")
	logger.Error("also kept")

	entries := exporter.Entries()
	if len(entries) != 2 {
		t.Fatalf("exported %d entries, want 2", len(entries))
	}
	if entries[0].Level != LevelWarn || entries[1].Level != LevelError {
		t.Errorf("unexpected levels: %v, %v", entries[0].Level, entries[1].Level)
	}
}

func TestLogger_ExporterReceivesAttrs(t *testing.T) {
	exporter := NewBufferedExporter()
	logger := New(Config{Quiet: true, Service: "wallet", Exporter: exporter})
	defer logger.Close()

	logger.Info("pointer advanced", "index_id", "0xOWNER", "version", 2)

	entries := exporter.Entries()
	if len(entries) != 1 {
		t.Fatalf("exported %d entries, want 1", len(entries))
	}
	entry := entries[0]
	if entry.Message != "pointer advanced" || entry.Service != "wallet" {
		t.Errorf("unexpected entry: %+v", entry)
	}
	if entry.Attrs["index_id"] != "0xOWNER" {
		t.Errorf("index_id = %v", entry.Attrs["index_id"])
	}
	if entry.Attrs["version"] != 2 {
		t.Errorf("version = %v", entry.Attrs["version"])
	}
}

func TestLogger_With(t *testing.T) {
	exporter := NewBufferedExporter()
	logger := New(Config{Quiet: true, Exporter: exporter})
	defer logger.Close()

	child := logger.With("request_id", "r-1")
	child.Info("processing")

	if len(exporter.Entries()) != 1 {
		t.Fatal("child logger should share the parent exporter")
	}
}

func TestLogger_Close_FlushesExporter(t *testing.T) {
	exporter := NewBufferedExporter()
	logger := New(Config{Quiet: true, Exporter: exporter})

	if err := logger.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if !exporter.Flushed() {
		t.Error("expected Flush on Close")
	}
	if !exporter.Closed() {
		t.Error("expected exporter Close on Close")
	}

	// Second close is a no-op.
	if err := logger.Close(); err != nil {
		t.Fatalf("second Close() = %v", err)
	}
}

func TestLogger_ConcurrentUse(t *testing.T) {
	exporter := NewBufferedExporter()
	logger := New(Config{Quiet: true, Exporter: exporter})
	defer logger.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				logger.Info("tick", "worker", n, "iteration", j)
			}
		}(i)
	}
	wg.Wait()

	if got := len(exporter.Entries()); got != 200 {
		t.Errorf("exported %d entries, want 200", got)
	}
}

// =============================================================================
// Handler and Helper Tests
// =============================================================================

func TestMultiHandler_FansOut(t *testing.T) {
	var a, b bytes.Buffer
	h := &multiHandler{handlers: []slog.Handler{
		slog.NewJSONHandler(&a, nil),
		slog.NewJSONHandler(&b, nil),
	}}

	logger := slog.New(h)
	logger.Info("shared")

	if a.Len() == 0 || b.Len() == 0 {
		t.Error("expected record in both destinations")
	}
}

func TestMultiHandler_Enabled(t *testing.T) {
	h := &multiHandler{handlers: []slog.Handler{
		slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}),
	}}

	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("info should be disabled when the only handler wants error+")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Error("error should be enabled")
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	if got := expandPath("~/logs"); got != filepath.Join(home, "logs") {
		t.Errorf("expandPath(~/logs) = %q", got)
	}
	if got := expandPath("/var/log"); got != "/var/log" {
		t.Errorf("expandPath(/var/log) = %q", got)
	}
	if got := expandPath(""); got != "" {
		t.Errorf("expandPath(\"\") = %q", got)
	}
}

func TestArgsToMap(t *testing.T) {
	attrs := argsToMap([]any{"key", "value", "count", 3, "dangling"})

	if attrs["key"] != "value" || attrs["count"] != 3 {
		t.Errorf("unexpected attrs: %v", attrs)
	}
	if v, ok := attrs["dangling"]; !ok || v != nil {
		t.Errorf("dangling key should map to nil, got %v (present=%v)", v, ok)
	}
}
