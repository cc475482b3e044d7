package log

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newBufferLogger(buf *bytes.Buffer, level slog.Level) *Logger {
	return New(Config{Level: level, Component: ComponentApp, Output: buf})
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLoggerAddsComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := newBufferLogger(&buf, slog.LevelInfo).WithComponent(ComponentSplit)
	logger.Info("hello", "k", "v")

	out := buf.String()
	if !strings.Contains(out, "component=split") {
		t.Fatalf("missing component in %q", out)
	}
	if !strings.Contains(out, "k=v") {
		t.Fatalf("missing attribute in %q", out)
	}
	if strings.Count(out, "component=") != 1 {
		t.Fatalf("component logged more than once: %q", out)
	}
}

func TestStructuredLogger_SplitLevels(t *testing.T) {
	var buf bytes.Buffer
	sl := NewStructuredLogger(newBufferLogger(&buf, slog.LevelInfo))

	sl.LogSplitCalculated(context.Background(), OpPreview,
		NewFields().WithSplit("Equal Split", 100, 2).WithOutcome("Equal Split", false, false))
	if buf.Len() != 0 {
		t.Fatalf("plain split should log at debug level, got %q", buf.String())
	}

	sl.LogSplitCalculated(context.Background(), OpPreview,
		NewFields().WithComponent(ComponentSplit).WithSplit("Percentage", 100, 2).WithOutcome("Equal Split", true, false))
	out := buf.String()
	if !strings.Contains(out, "level=WARN") || !strings.Contains(out, "fell_back=true") {
		t.Fatalf("fallback should log a warning, got %q", out)
	}
	if !strings.Contains(out, "component=split") {
		t.Fatalf("component from fields not applied: %q", out)
	}
}

func TestStructuredLogger_LogError(t *testing.T) {
	var buf bytes.Buffer
	sl := NewStructuredLogger(newBufferLogger(&buf, slog.LevelInfo))
	sl.LogError(context.Background(), "boom", errors.New("bad"), OpPublish, nil)

	out := buf.String()
	for _, want := range []string{"level=ERROR", "error=bad", "operation=publish"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in %q", want, out)
		}
	}
}

func TestMiddlewareAndRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := newBufferLogger(&buf, slog.LevelInfo)

	type key struct{}
	extract := func(ctx context.Context) string {
		id, _ := ctx.Value(key{}).(string)
		return id
	}

	handler := Middleware(logger)(RequestIDMiddleware(extract)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		FromContext(r.Context()).InfoContext(r.Context(), "inside")
	})))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(context.WithValue(req.Context(), key{}, "req_1"))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !strings.Contains(buf.String(), "request_id=req_1") {
		t.Fatalf("request id not attached: %q", buf.String())
	}
}

func TestFromContextDefault(t *testing.T) {
	if l := FromContext(context.Background()); l == nil || l.Component() != "unknown" {
		t.Fatalf("unexpected default logger: %+v", l)
	}
}
