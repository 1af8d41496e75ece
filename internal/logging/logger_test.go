// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"INFO", zerolog.InfoLevel},
		{"warning", zerolog.WarnLevel},
		{" error ", zerolog.ErrorLevel},
		{"off", zerolog.Disabled},
		{"nonsense", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := parseLevel(tt.in); got != tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestValidLevel(t *testing.T) {
	if !ValidLevel("Debug") {
		t.Error("Debug should be valid")
	}
	if ValidLevel("verbose") {
		t.Error("verbose should be invalid")
	}
}

func captureGlobal(t *testing.T) *bytes.Buffer {
	t.Helper()
	prev := Logger()
	prevLevel := GetLevel()
	var buf bytes.Buffer
	Init(Config{Level: "debug", Output: &buf})
	t.Cleanup(func() {
		SetLogger(prev)
		zerolog.SetGlobalLevel(prevLevel)
	})
	return &buf
}

func decodeLine(t *testing.T, line string) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(line), &m); err != nil {
		t.Fatalf("invalid json log line %q: %v", line, err)
	}
	return m
}

func TestInit_JSONOutput(t *testing.T) {
	buf := captureGlobal(t)

	Info().Str("user_id", "alice").Msg("session registered")

	m := decodeLine(t, strings.TrimSpace(buf.String()))
	if m["message"] != "session registered" {
		t.Errorf("message = %v", m["message"])
	}
	if m["user_id"] != "alice" {
		t.Errorf("user_id = %v", m["user_id"])
	}
	if m["level"] != "info" {
		t.Errorf("level = %v", m["level"])
	}
}

func TestSetLevel_FiltersEvents(t *testing.T) {
	buf := captureGlobal(t)

	SetLevel("warn")
	Debug().Msg("hidden")
	Info().Msg("hidden too")
	Warn().Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug/info should be filtered: %s", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("warn missing: %s", out)
	}
}

func TestWithComponent(t *testing.T) {
	buf := captureGlobal(t)

	l := WithComponent("gateway")
	l.Info().Msg("hello")

	m := decodeLine(t, strings.TrimSpace(buf.String()))
	if m["component"] != "gateway" {
		t.Errorf("component = %v", m["component"])
	}
}

func TestCtx_AttachesIDs(t *testing.T) {
	buf := captureGlobal(t)

	ctx := context.Background()
	ctx = ContextWithRequestID(ctx, "req-1")
	ctx = ContextWithUserID(ctx, "bob")
	ctx = ContextWithConnID(ctx, "conn-9")

	Ctx(ctx).Info().Msg("ctx")

	m := decodeLine(t, strings.TrimSpace(buf.String()))
	for k, want := range map[string]string{"request_id": "req-1", "user_id": "bob", "conn_id": "conn-9"} {
		if m[k] != want {
			t.Errorf("%s = %v, want %s", k, m[k], want)
		}
	}
	if _, ok := m["correlation_id"]; ok {
		t.Error("correlation_id should be absent")
	}
}

func TestContextAccessors_Empty(t *testing.T) {
	ctx := context.Background()
	if RequestIDFromContext(ctx) != "" || UserIDFromContext(ctx) != "" || ConnIDFromContext(ctx) != "" {
		t.Error("expected empty values")
	}
	if CorrelationIDFromContext(nil) != "" { //nolint:staticcheck // nil context is tolerated
		t.Error("nil context should yield empty id")
	}
	if len(GenerateCorrelationID()) != 8 {
		t.Error("correlation id should be 8 chars")
	}
	if GenerateRequestID() == GenerateRequestID() {
		t.Error("request ids should differ")
	}
}

func TestSlogHandler(t *testing.T) {
	var buf bytes.Buffer
	prevLevel := GetLevel()
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	t.Cleanup(func() { zerolog.SetGlobalLevel(prevLevel) })

	logger := slog.New(NewSlogHandlerWithLogger(NewTestLogger(&buf)))
	logger.With("service", "http").WithGroup("req").Error("failed",
		"status", 503,
		"err", errors.New("boom"),
	)

	m := decodeLine(t, strings.TrimSpace(buf.String()))
	if m["level"] != "error" {
		t.Errorf("level = %v", m["level"])
	}
	if m["service"] != "http" {
		t.Errorf("service = %v", m["service"])
	}
	if m["req.status"] != float64(503) {
		t.Errorf("req.status = %v", m["req.status"])
	}
	if m["req.err"] != "boom" {
		t.Errorf("req.err = %v", m["req.err"])
	}
}

func TestSlogHandler_Enabled(t *testing.T) {
	prevLevel := GetLevel()
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	t.Cleanup(func() { zerolog.SetGlobalLevel(prevLevel) })

	h := NewSlogHandler()
	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("info should be disabled at warn")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Error("error should be enabled at warn")
	}
}
