package config

import (
	"testing"
	"time"
)

func TestFromEnv_Defaults(t *testing.T) {
	for _, k := range []string{"ADDR", "REDIS_ADDR", "OVERLAY_DRAW_DISTANCE", "VIEWER_WKID", "ELEVATION_H3_RES", "ELEVATION_CACHE_SIZE", "TASK_QUEUE_SIZE", "SNAPSHOT_TTL", "SEED_GEOJSON"} {
		t.Setenv(k, "")
	}
	cfg := FromEnv()

	if cfg.Addr != ":8090" {
		t.Fatalf("Addr=%q", cfg.Addr)
	}
	if cfg.RedisAddr != "" {
		t.Fatalf("RedisAddr=%q want empty (disabled)", cfg.RedisAddr)
	}
	if cfg.Project.DrawDistance != 30 || cfg.Project.ViewerWKID != 0 {
		t.Fatalf("Project=%+v", cfg.Project)
	}
	if cfg.ElevationH3Res != 12 || cfg.ElevationCacheSize != 4096 || cfg.TaskQueueSize != 64 {
		t.Fatalf("cfg=%+v", cfg)
	}
	if cfg.SnapshotTTL != 10*time.Minute {
		t.Fatalf("SnapshotTTL=%v", cfg.SnapshotTTL)
	}
	if len(cfg.SeedFiles) != 0 {
		t.Fatalf("SeedFiles=%v", cfg.SeedFiles)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("VIEWER_WKID", "3857")
	t.Setenv("OVERLAY_DRAW_DISTANCE", "-4")
	t.Setenv("ELEVATION_H3_RES", "20")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("EVENTS_ENABLED", "yes")
	t.Setenv("SEED_GEOJSON", " poles = a.geojson ,bad, =x,cables=b.geojson")

	cfg := FromEnv()
	if cfg.Project.ViewerWKID != 3857 {
		t.Fatalf("ViewerWKID=%d", cfg.Project.ViewerWKID)
	}
	if cfg.Project.DrawDistance != 30 {
		t.Fatalf("non-positive draw distance should fall back, got %v", cfg.Project.DrawDistance)
	}
	if cfg.ElevationH3Res != 15 {
		t.Fatalf("ElevationH3Res=%d want clamp to 15", cfg.ElevationH3Res)
	}
	if !cfg.Events.Enabled || cfg.Events.Brokers != "k1:9092,k2:9092" || cfg.ViewerCommands.Brokers != cfg.Events.Brokers {
		t.Fatalf("kafka cfg events=%+v commands=%+v", cfg.Events, cfg.ViewerCommands)
	}
	if len(cfg.SeedFiles) != 2 || cfg.SeedFiles["poles"] != "a.geojson" || cfg.SeedFiles["cables"] != "b.geojson" {
		t.Fatalf("SeedFiles=%v", cfg.SeedFiles)
	}
}
