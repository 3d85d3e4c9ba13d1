package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Project holds the per-project settings the viewer overlay depends on.
type Project struct {
	// ViewerWKID overrides the viewer reference; 0 uses the map's own.
	ViewerWKID int
	// DrawDistance is the half-size of each viewer's search window, in meters.
	DrawDistance float64
}

type EventsCfg struct {
	Enabled bool
	Topic   string
	Brokers string
	GroupID string
}

type ViewerCommandsCfg struct {
	Enabled bool
	Topic   string
	Brokers string
}

type Config struct {
	Addr           string
	LogLevel       string
	LogConsole     bool
	LogSampleN     int
	MetricsEnabled bool

	RedisAddr      string
	SnapshotTTL    time.Duration
	StoreOpTimeout time.Duration

	KafkaBrokers   string
	Events         EventsCfg
	ViewerCommands ViewerCommandsCfg

	Project Project

	ElevationH3Res     int
	ElevationCacheSize int
	TaskQueueSize      int

	MapID     string
	SeedWKID  int
	SeedFiles map[string]string
}

func FromEnv() Config {
	brokers := getenv("KAFKA_BROKERS", "localhost:9092")

	res := getint("ELEVATION_H3_RES", 12)
	if res < 0 {
		res = 0
	}
	if res > 15 {
		res = 15
	}

	dist := getfloat("OVERLAY_DRAW_DISTANCE", 30)
	if dist <= 0 {
		dist = 30
	}

	return Config{
		Addr:           getenv("ADDR", ":8090"),
		LogLevel:       getenv("LOG_LEVEL", "info"),
		LogConsole:     getbool("LOG_CONSOLE", false),
		LogSampleN:     getint("LOG_SAMPLE_N", 0),
		MetricsEnabled: getbool("METRICS_ENABLED", true),

		RedisAddr:      getenv("REDIS_ADDR", ""),
		SnapshotTTL:    getduration("SNAPSHOT_TTL", 10*time.Minute),
		StoreOpTimeout: getduration("STORE_OP_TIMEOUT", 250*time.Millisecond),

		KafkaBrokers: brokers,
		Events: EventsCfg{
			Enabled: getbool("EVENTS_ENABLED", false),
			Topic:   getenv("EVENTS_TOPIC", "map-events"),
			Brokers: brokers,
			GroupID: getenv("EVENTS_GROUP_ID", "panoview-bridge"),
		},
		ViewerCommands: ViewerCommandsCfg{
			Enabled: getbool("VIEWER_COMMANDS_ENABLED", false),
			Topic:   getenv("VIEWER_COMMANDS_TOPIC", "viewer-commands"),
			Brokers: brokers,
		},

		Project: Project{
			ViewerWKID:   getint("VIEWER_WKID", 0),
			DrawDistance: dist,
		},

		ElevationH3Res:     res,
		ElevationCacheSize: max(getint("ELEVATION_CACHE_SIZE", 4096), 1),
		TaskQueueSize:      max(getint("TASK_QUEUE_SIZE", 64), 1),

		MapID:     getenv("MAP_ID", "map"),
		SeedWKID:  getint("SEED_WKID", 4326),
		SeedFiles: parseStringMap(getenv("SEED_GEOJSON", "")),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// parse "poles=data/poles.geojson,cables=data/cables.geojson" into map
func parseStringMap(s string) map[string]string {
	out := map[string]string{}
	s = strings.TrimSpace(s)
	if s == "" {
		return out
	}
	for p := range strings.SplitSeq(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		k := strings.TrimSpace(kv[0])
		v := strings.TrimSpace(kv[1])
		if k == "" || v == "" {
			continue
		}
		out[k] = v
	}
	return out
}
