package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"info", slog.LevelInfo, false},
		{"DEBUG", slog.LevelDebug, false},
		{"warning", slog.LevelWarn, false},
		{" error ", slog.LevelError, false},
		{"trace", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestValidFormat(t *testing.T) {
	for _, f := range []string{"", "text", "json"} {
		if !ValidFormat(f) {
			t.Errorf("expected %q to be valid", f)
		}
	}
	if ValidFormat("xml") {
		t.Error("xml should be rejected")
	}
}

func TestNew_Levels(t *testing.T) {
	ctx := context.Background()
	if !New("debug", "text").Enabled(ctx, slog.LevelDebug) {
		t.Error("Expected debug level to be enabled")
	}
	if New("error", "text").Enabled(ctx, slog.LevelInfo) {
		t.Error("Expected info level to be disabled at error level")
	}
	if !New("bogus", "json").Enabled(ctx, slog.LevelInfo) {
		t.Error("Unknown levels should log at info")
	}
}

func TestNewWriter_JSONToWriter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriter(&buf, "warn", "json")

	logger.Info("dropped")
	logger.Warn("kept", "subject", "0xabc")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Errorf("info line should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, `"msg":"kept"`) || !strings.Contains(out, `"subject":"0xabc"`) {
		t.Errorf("expected JSON warn line, got %s", out)
	}
}

func TestContextValues(t *testing.T) {
	ctx := context.Background()
	if RequestID(ctx) != "" || Subject(ctx) != "" {
		t.Fatal("empty context should carry no values")
	}
	if FromContext(ctx) != slog.Default() {
		t.Error("Expected default logger when none is stored")
	}

	custom := New("debug", "json")
	ctx = WithLogger(ctx, custom)
	ctx = WithRequestID(ctx, "first")
	ctx = WithRequestID(ctx, "second")
	ctx = WithSubject(ctx, "0xabc")

	if FromContext(ctx) != custom {
		t.Error("Expected custom logger from context")
	}
	if id := RequestID(ctx); id != "second" {
		t.Errorf("Expected 'second', got %q", id)
	}
	if s := Subject(ctx); s != "0xabc" {
		t.Errorf("Expected 0xabc, got %q", s)
	}
}

func TestL_Annotations(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))

	ctx := WithLogger(context.Background(), base)
	if L(ctx) != base {
		t.Error("L without annotations should return the stored logger")
	}

	ctx = WithRequestID(ctx, "req-789")
	ctx = WithSubject(ctx, "0xdef")
	L(ctx).Info("scored")

	out := buf.String()
	if !strings.Contains(out, "request_id=req-789") {
		t.Errorf("Expected request_id in output, got %q", out)
	}
	if !strings.Contains(out, "subject=0xdef") {
		t.Errorf("Expected subject in output, got %q", out)
	}
}
