package main

import (
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/mohammed-shakir/panoview-bridge/internal/core/config"
)

const poles = `{"type":"FeatureCollection","features":[
 {"type":"Feature","geometry":{"type":"Point","coordinates":[4.9,52.37]},"properties":{"kind":"wood"}},
 {"type":"Feature","geometry":{"type":"Point","coordinates":[4.91,52.38]},"properties":{"kind":"steel"}}
]}`

func TestBuildHost_SeedsLayersFromFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "poles.geojson")
	if err := os.WriteFile(path, []byte(poles), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	app, err := buildHost(config.Config{MapID: "city", SeedWKID: 4326, SeedFiles: map[string]string{"poles": path}})
	if err != nil {
		t.Fatalf("buildHost: %v", err)
	}
	m := app.ActiveMemMap()
	if m == nil || m.ID() != "city" {
		t.Fatalf("active map=%v want city", m)
	}
	l, ok := m.MemLayer("poles")
	if !ok {
		t.Fatalf("poles layer missing")
	}
	if n := l.Rows().Len(); n != 2 {
		t.Fatalf("rows=%d want 2", n)
	}
}

func TestBuildHost_Errors(t *testing.T) {
	if _, err := buildHost(config.Config{MapID: "m", SeedWKID: 1}); err == nil {
		t.Fatalf("expected unsupported reference error")
	}
	_, err := buildHost(config.Config{MapID: "m", SeedWKID: 4326, SeedFiles: map[string]string{"x": "/does/not/exist.geojson"}})
	if err == nil {
		t.Fatalf("expected missing seed file error")
	}
}

func TestSplitBrokers(t *testing.T) {
	got := splitBrokers(" a:9092, ,b:9092,")
	if !slices.Equal(got, []string{"a:9092", "b:9092"}) {
		t.Fatalf("brokers=%v", got)
	}
}
