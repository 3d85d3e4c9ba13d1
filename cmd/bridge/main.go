package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/mohammed-shakir/panoview-bridge/internal/bridge"
	"github.com/mohammed-shakir/panoview-bridge/internal/core/config"
	"github.com/mohammed-shakir/panoview-bridge/internal/core/health"
	"github.com/mohammed-shakir/panoview-bridge/internal/core/observability"
	"github.com/mohammed-shakir/panoview-bridge/internal/core/router"
	"github.com/mohammed-shakir/panoview-bridge/internal/core/server"
	"github.com/mohammed-shakir/panoview-bridge/internal/elevation"
	"github.com/mohammed-shakir/panoview-bridge/internal/events/kafkaconsumer"
	"github.com/mohammed-shakir/panoview-bridge/internal/host/memhost"
	"github.com/mohammed-shakir/panoview-bridge/internal/logger"
	"github.com/mohammed-shakir/panoview-bridge/internal/metrics"
	"github.com/mohammed-shakir/panoview-bridge/internal/overlay"
	"github.com/mohammed-shakir/panoview-bridge/internal/publish/kafkapub"
	"github.com/mohammed-shakir/panoview-bridge/internal/publish/redisstore"
	"github.com/mohammed-shakir/panoview-bridge/internal/publish/snapshotstore"
	"github.com/mohammed-shakir/panoview-bridge/internal/reproject"
	"github.com/mohammed-shakir/panoview-bridge/internal/style"
	"github.com/mohammed-shakir/panoview-bridge/internal/viewer"
)

var (
	Version  = "dev"
	Revision = ""
)

func main() {
	os.Exit(run())
}

func run() int {
	addrFlag := flag.String("addr", "", "listen address (overrides ADDR)")
	flag.Parse()

	cfg := config.FromEnv()
	if *addrFlag != "" {
		cfg.Addr = strings.TrimSpace(*addrFlag)
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Service:   "panoview-bridge",
		Component: "bridge",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	p := metrics.Init(metrics.Config{Build: metrics.BuildInfo{Version: Version, Revision: Revision}})
	observability.Init(p.Registerer(), cfg.MetricsEnabled)

	appLog.Info("starting bridge",
		"addr", cfg.Addr,
		"version", Version,
		"map", cfg.MapID,
		"draw_distance", cfg.Project.DrawDistance)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := buildHost(cfg)
	if err != nil {
		appLog.Error("host setup failed", "err", err)
		return 1
	}

	var sessionOpts []viewer.SessionOption
	if cfg.ViewerCommands.Enabled {
		pub, err := kafkapub.NewPublisher(splitBrokers(cfg.ViewerCommands.Brokers), cfg.ViewerCommands.Topic, 1024, appLog)
		if err != nil {
			appLog.Error("viewer command publisher setup failed", "err", err)
			return 1
		}
		defer func() {
			if err := pub.Close(); err != nil {
				appLog.Warn("viewer command publisher close", "err", err)
			}
		}()
		sessionOpts = append(sessionOpts, viewer.WithNotifier(pub))
	}
	session := viewer.NewSession(sessionOpts...)

	checks := health.Checks{
		"viewer": func(ctx context.Context) error {
			ok, err := session.Ready(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return errors.New("viewer not ready")
			}
			return nil
		},
	}

	var store snapshotstore.Store
	if cfg.RedisAddr != "" {
		cli, err := redisstore.New(ctx, cfg.RedisAddr)
		if err != nil {
			appLog.Error("redis setup failed", "addr", cfg.RedisAddr, "err", err)
			return 1
		}
		defer func() { _ = cli.Close() }()
		store = snapshotstore.NewRedisStore(cli, cfg.SnapshotTTL, cfg.StoreOpTimeout)
		checks["redis"] = cli.Ping
	}

	proj := reproject.New(app.Engine(), appLog)
	tracker := elevation.New(app.Elevation(), proj, elevation.Config{
		Geographic: memhost.WGS84,
		Resolution: cfg.ElevationH3Res,
		CacheSize:  cfg.ElevationCacheSize,
	}, appLog)
	reg := bridge.NewRegistry(bridge.Deps{
		App:       app,
		Viewer:    session,
		Builder:   overlay.NewBuilder(proj, cfg.Project.DrawDistance, appLog),
		Styles:    style.NewDeriver(256),
		Proj:      proj,
		Elevation: tracker,
		Store:     store,
		Project:   cfg.Project,
		Log:       appLog,
		QueueSize: cfg.TaskQueueSize,
	})
	defer func() {
		closeCtx := context.WithoutCancel(ctx)
		if err := reg.Close(closeCtx); err != nil {
			appLog.Warn("registry close", "err", err)
		}
	}()
	if err := reg.AttachAll(ctx, cfg.MapID); err != nil {
		appLog.Error("attaching layers failed", "map", cfg.MapID, "err", err)
		return 1
	}

	if cfg.Events.Enabled {
		cons := kafkaconsumer.New(
			kafkaconsumer.NewConfig(cfg.Events.Brokers, cfg.Events.Topic, cfg.Events.GroupID),
			appLog, &zl, reg)
		go func() {
			if err := cons.Start(ctx); err != nil {
				appLog.Error("map event consumer stopped", "err", err)
			}
		}()
	}

	opts := server.Options{
		API:   router.API{MapID: cfg.MapID, Registry: reg, Viewers: session, Logger: appLog},
		Ready: checks,
	}
	if cfg.MetricsEnabled {
		opts.Metrics = p.Handler()
	}
	if err := server.Run(ctx, cfg, appLog, opts); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}

// buildHost creates the in-process map and seeds its layers from GeoJSON.
func buildHost(cfg config.Config) (*memhost.App, error) {
	sr, ok := memhost.Reference(cfg.SeedWKID)
	if !ok {
		return nil, errors.New("unsupported SEED_WKID")
	}
	app := memhost.New()
	m := app.AddMap(cfg.MapID, sr)

	layers := make([]string, 0, len(cfg.SeedFiles))
	for name := range cfg.SeedFiles {
		layers = append(layers, name)
	}
	sort.Strings(layers)
	for _, name := range layers {
		if _, err := memhost.SeedFile(m, name, cfg.SeedFiles[name], sr); err != nil {
			return nil, err
		}
	}
	return app, nil
}

func splitBrokers(s string) []string {
	var out []string
	for b := range strings.SplitSeq(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
