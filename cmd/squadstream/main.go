package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/CalmProton/SquadScript-sub001/internal/config"
	"github.com/CalmProton/SquadScript-sub001/internal/event_manager"
	"github.com/CalmProton/SquadScript-sub001/internal/logparser"
	"github.com/CalmProton/SquadScript-sub001/internal/logsource"
	"github.com/CalmProton/SquadScript-sub001/internal/persistence"
	"github.com/CalmProton/SquadScript-sub001/internal/plugin_manager"
	"github.com/CalmProton/SquadScript-sub001/internal/plugins/luahost"
	"github.com/CalmProton/SquadScript-sub001/internal/rcon"
	"github.com/CalmProton/SquadScript-sub001/internal/server"
)

func main() {
	_ = godotenv.Load()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	var files []string
	if path := os.Getenv("SQUADSTREAM_CONFIG"); path != "" {
		files = append(files, path)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		log.Fatal().Err(err).Msg("Configuration invalid")
	}
	applyLogLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	comps := server.BuildComponents(server.BuildConfig{
		Rcon: rcon.EngineConfig{
			Connection: rcon.ConnectionConfig{
				Host:           cfg.Rcon.Host,
				Port:           cfg.Rcon.Port,
				ConnectTimeout: cfg.Rcon.ConnectTimeout,
				Reconnect:      rcon.ReconnectConfig{Enabled: true},
			},
			Password:  cfg.Rcon.Password,
			Heartbeat: rcon.HeartbeatConfig{Enabled: cfg.Rcon.Heartbeat},
		},
		QueueCapacity: cfg.Pipeline.QueueCapacity,
		Parser: logparser.Config{
			Interval:  cfg.Pipeline.Interval,
			BatchSize: cfg.Pipeline.BatchSize,
		},
		LayerHistory: cfg.Pipeline.LayerHistory,
		AdminEOSIDs:  cfg.AdminIDs,
	}, buildSource(cfg.LogSource))

	attachSinks(ctx, cfg, comps)
	attachSnapshots(cfg, comps)
	loadLuaPlugins(cfg.Plugins, comps.Plugins)

	var httpServer *http.Server
	if cfg.Push.Enabled {
		gin.SetMode(gin.ReleaseMode)
		router := gin.New()
		router.Use(gin.Recovery())
		comps.Hub.Attach(router)
		httpServer = &http.Server{Addr: cfg.Push.Addr, Handler: router}
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("Push listener failed")
			}
		}()
		log.Info().Str("addr", cfg.Push.Addr).Msg("Push bridge listening")
	}

	ctl := server.NewController(comps)
	if err := ctl.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Controller failed to start")
	}

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Push listener shutdown failed")
		}
	}
	if err := ctl.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Controller stop failed")
	}
}

func applyLogLevel(level string) {
	switch level {
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func buildSource(cfg config.LogSourceConfig) logsource.Source {
	switch cfg.Type {
	case config.SourceFTP:
		return logsource.NewFTPSource(
			logsource.PollConfig{Path: cfg.Path, Interval: cfg.PollInterval, StartFromEnd: cfg.StartFromEnd},
			logsource.Credentials{Host: cfg.Host, Port: cfg.Port, User: cfg.User, Password: cfg.Password},
			10*time.Second,
		)
	case config.SourceSFTP:
		return logsource.NewSFTPSource(
			logsource.PollConfig{Path: cfg.Path, Interval: cfg.PollInterval, StartFromEnd: cfg.StartFromEnd},
			logsource.Credentials{Host: cfg.Host, Port: cfg.Port, User: cfg.User, Password: cfg.Password},
			10*time.Second,
		)
	default:
		return logsource.NewTailSource(logsource.TailConfig{
			Path:         cfg.Path,
			StartFromEnd: cfg.StartFromEnd,
			PollInterval: cfg.PollInterval,
		})
	}
}

func attachSinks(ctx context.Context, cfg config.Config, comps *server.Components) {
	var sinks []persistence.EventSink

	if cfg.Postgres.Enabled {
		sink, err := persistence.OpenPostgresSink(cfg.Postgres.DSN)
		if err != nil {
			log.Fatal().Err(err).Msg("Postgres sink failed to open")
		}
		sinks = append(sinks, sink)
	}
	if cfg.ClickHouse.Enabled {
		sink, err := persistence.OpenClickHouseSink(ctx, persistence.ClickHouseConfig{
			Addr:     cfg.ClickHouse.Addr,
			Database: cfg.ClickHouse.Database,
			Username: cfg.ClickHouse.Username,
			Password: cfg.ClickHouse.Password,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("ClickHouse sink failed to open")
		}
		sinks = append(sinks, sink)
	}

	if len(sinks) > 0 {
		comps.Drain = persistence.NewDrain(comps.Events, event_manager.EventFilter{}, 256, sinks...)
	}
}

func attachSnapshots(cfg config.Config, comps *server.Components) {
	if !cfg.Valkey.Enabled {
		return
	}
	store, err := server.NewValkeyStore(cfg.Valkey.Addr, cfg.Valkey.Password)
	if err != nil {
		log.Fatal().Err(err).Msg("Valkey connection failed")
	}
	comps.Snapshots = server.NewSnapshotPublisher(store, comps.Players, comps.Squads, comps.Layers, cfg.Valkey.Interval)
}

func loadLuaPlugins(cfg config.PluginsConfig, manager *plugin_manager.Manager) {
	if cfg.Dir == "" {
		return
	}
	defs, err := luahost.LoadDirectory(cfg.Dir)
	if err != nil {
		log.Fatal().Err(err).Msg("Lua plugin directory failed to load")
	}
	level := plugin_manager.ParseLogLevel(cfg.LogLevel)
	for _, def := range defs {
		if _, err := manager.Add(def, nil, level); err != nil {
			log.Error().Err(err).Str("plugin", def.ID).Msg("Lua plugin failed to initialize")
		}
	}
}
