package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func resetLoggingState() {
	mu.Lock()
	defer mu.Unlock()

	baseLogger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	log.Logger = baseLogger
	zerolog.TimeFieldFormat = defaultTimeFmt
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func readJSONLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()

	line := strings.TrimSpace(buf.String())
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	if line == "" {
		t.Fatalf("expected log output, got empty string")
	}

	var event map[string]interface{}
	if err := json.Unmarshal([]byte(line), &event); err != nil {
		t.Fatalf("failed to unmarshal log line: %v", err)
	}
	return event
}

func TestInitJSONFormatSetsLevelAndComponent(t *testing.T) {
	t.Cleanup(resetLoggingState)

	var buf bytes.Buffer
	Init(Config{
		Format:    "json",
		Level:     "debug",
		Component: "billing",
		Output:    &buf,
	})

	if zerolog.GlobalLevel() != zerolog.DebugLevel {
		t.Fatalf("expected global level debug, got %s", zerolog.GlobalLevel())
	}

	log.Debug().Str("org_id", "org_1").Msg("hello")
	event := readJSONLine(t, &buf)
	if event["component"] != "billing" {
		t.Fatalf("component = %v, want billing", event["component"])
	}
	if event["org_id"] != "org_1" {
		t.Fatalf("org_id = %v, want org_1", event["org_id"])
	}
}

func TestInitInvalidLevelFallsBackToInfo(t *testing.T) {
	t.Cleanup(resetLoggingState)

	Init(Config{Format: "json", Level: "loud", Output: &bytes.Buffer{}})
	if zerolog.GlobalLevel() != zerolog.InfoLevel {
		t.Fatalf("expected info level, got %s", zerolog.GlobalLevel())
	}
}

func TestSelectWriterConsole(t *testing.T) {
	var buf bytes.Buffer
	if _, ok := selectWriter("console", &buf).(zerolog.ConsoleWriter); !ok {
		t.Fatal("expected console writer")
	}
	if w := selectWriter("auto", &buf); w != &buf {
		t.Fatal("auto format on a non-terminal should write JSON to the output")
	}
}

func TestWithRequestIDGeneratesWhenEmpty(t *testing.T) {
	ctx, id := WithRequestID(context.Background(), "  ")
	if id == "" {
		t.Fatal("expected generated request id")
	}
	if got := RequestIDFromContext(ctx); got != id {
		t.Fatalf("RequestIDFromContext = %q, want %q", got, id)
	}

	_, kept := WithRequestID(context.Background(), "req-123")
	if kept != "req-123" {
		t.Fatalf("expected caller id to be kept, got %q", kept)
	}
}

func TestFromContextAddsRequestID(t *testing.T) {
	t.Cleanup(resetLoggingState)

	var buf bytes.Buffer
	Init(Config{Format: "json", Output: &buf})

	ctx, _ := WithRequestID(context.Background(), "req-abc")
	FromContext(ctx).Info().Msg("scoped")

	event := readJSONLine(t, &buf)
	if event["request_id"] != "req-abc" {
		t.Fatalf("request_id = %v, want req-abc", event["request_id"])
	}
}

func TestMiddlewareEchoesRequestID(t *testing.T) {
	var seen string
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "req-from-edge")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if seen != "req-from-edge" {
		t.Fatalf("handler saw %q", seen)
	}
	if got := rec.Header().Get(RequestIDHeader); got != "req-from-edge" {
		t.Fatalf("response header = %q", got)
	}
}
