package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &m); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	return m
}

func TestSlog_WritesContextFieldsThroughZerolog(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "debug", Service: "bridge"}, &buf)
	log := NewSlog(&zl)

	ctx := WithLayer(WithMap(WithRequestID(context.Background(), "r1"), "m1"), "poles")
	log.InfoContext(ctx, "recompute", "features", 3, "err", errors.New("boom"))

	m := decode(t, &buf)
	want := map[string]any{
		"msg":        "recompute",
		"level":      "info",
		"service":    "bridge",
		"request_id": "r1",
		"map":        "m1",
		"layer":      "poles",
		"features":   float64(3),
		"err":        "boom",
	}
	for k, v := range want {
		if m[k] != v {
			t.Fatalf("%s=%v want %v (line %s)", k, m[k], v, buf.String())
		}
	}
	if _, ok := m["timestamp"]; !ok {
		t.Fatalf("missing timestamp: %s", buf.String())
	}
}

func TestSlog_RespectsGlobalLevel(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "warn"}, &buf)
	t.Cleanup(func() { Build(Config{Level: "info"}, &bytes.Buffer{}) })
	log := NewSlog(&zl)

	log.Info("quiet")
	if buf.Len() != 0 {
		t.Fatalf("info logged at warn level: %s", buf.String())
	}
	log.Warn("loud")
	if decode(t, &buf)["level"] != "warn" {
		t.Fatalf("unexpected line %s", buf.String())
	}
}

func TestSlog_GroupsPrefixKeys(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "info"}, &buf)
	log := NewSlog(&zl).WithGroup("viewer")

	log.Info("moved", "id", "v1")
	if decode(t, &buf)["viewer.id"] != "v1" {
		t.Fatalf("unexpected line %s", buf.String())
	}
}

func TestWithRequestID_GeneratesWhenEmpty(t *testing.T) {
	ctx := WithRequestID(context.Background(), "")
	if len(RequestID(ctx)) != 16 {
		t.Fatalf("request id=%q want 16 hex chars", RequestID(ctx))
	}
}
