// Command simhost is the composition root: it loads configuration,
// wires every module the tick scheduler drives, restores the latest
// snapshot if one exists, and runs the fixed-rate simulation loop
// until a shutdown signal arrives.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mudforge/engine/internal/command"
	"github.com/mudforge/engine/internal/component"
	"github.com/mudforge/engine/internal/config"
	"github.com/mudforge/engine/internal/content"
	"github.com/mudforge/engine/internal/entity"
	"github.com/mudforge/engine/internal/event"
	"github.com/mudforge/engine/internal/plugin"
	"github.com/mudforge/engine/internal/script"
	"github.com/mudforge/engine/internal/session"
	"github.com/mudforge/engine/internal/snapshot"
	"github.com/mudforge/engine/internal/spatial"
	"github.com/mudforge/engine/internal/tick"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

func printBanner(serverName string, serverID int) {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m              simcore  v0.1.0               \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  │\033[0m     deterministic simulation core           \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	fmt.Printf("  \033[1mserver:\033[0m %s \033[90m(id: %d)\033[0m\n\n", serverName, serverID)
}

func printSection(title string) {
	lineLen := 46 - len(title) - 1
	if lineLen < 3 {
		lineLen = 3
	}
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, count int) {
	numStr := fmt.Sprintf("%d", count)
	dotsLen := 42 - len(label) - len(numStr)
	if dotsLen < 3 {
		dotsLen = 3
	}
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), numStr)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build()
}

// ── Main server logic ─────────────────────────────────────────────

func run() error {
	cfgPath := "config/simcore.toml"
	if p := os.Getenv(config.ConfigEnvVar); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	printBanner(cfg.Server.Name, cfg.Server.ID)

	typeRegs := entity.NewTypeRegistry()
	regs := entity.NewRegistries()
	world := entity.NewWorld(typeRegs)
	stream := command.NewStream()
	bus := event.NewBus()
	stream.RegisterProducer("session-input", 0)

	components := component.NewSet()
	components.RegisterAll(regs, typeRegs)

	printSection("spatial model")
	mode := tick.ModeRoomGraph
	scriptMode := script.ModeRoomGraph
	var rooms *spatial.RoomGraph
	var grid *spatial.Grid
	if strings.EqualFold(cfg.Spatial.Mode, "grid") {
		mode = tick.ModeGrid
		scriptMode = script.ModeGrid
		grid = spatial.NewGrid(cfg.Spatial.GridOrigin[0], cfg.Spatial.GridOrigin[1], cfg.Spatial.GridWidth, cfg.Spatial.GridHeight)
		printOK(fmt.Sprintf("grid backend %dx%d, aoi radius %d", cfg.Spatial.GridWidth, cfg.Spatial.GridHeight, cfg.Spatial.AOIRadius))
	} else {
		rooms = spatial.NewRoomGraph()
		printOK("room-graph backend")
	}
	fmt.Println()

	printSection("content")
	contentReg, err := content.Load("data/content")
	if err != nil {
		return fmt.Errorf("load content: %w", err)
	}
	for _, name := range contentReg.Collections() {
		printStat(name, contentReg.Count(name))
	}
	fmt.Println()

	bridge := session.NewBridge(cfg.Network.InQueueSize, cfg.Network.OutQueueSize, cfg.Network.LingerGrace, log)

	printSection("snapshot subsystem")
	var snapshotSink tick.SnapshotWriter
	var latest *snapshot.Snapshot
	var lingerAudit *snapshot.LingerAudit
	var pgPool *pgxpool.Pool
	if cfg.Snapshot.PostgresDSN != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		pgPool, err = pgxpool.New(ctx, cfg.Snapshot.PostgresDSN)
		cancel()
		if err != nil {
			return fmt.Errorf("snapshot: connect postgres: %w", err)
		}
		defer pgPool.Close()
		if cfg.Snapshot.MigrateOnStart {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			err = snapshot.RunMigrations(ctx, pgPool)
			cancel()
			if err != nil {
				return fmt.Errorf("snapshot: migrations: %w", err)
			}
		}
		pgStore := snapshot.NewPostgresStore(pgPool)
		snapshotSink = postgresSinkAdapter{store: pgStore}
		wal := snapshot.NewTransferWAL(pgPool)
		stream.SetWAL(wal)
		lingerAudit = snapshot.NewLingerAudit(pgPool)
		ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
		pending, err := wal.ReplayUnprocessed(ctx)
		cancel()
		if err != nil {
			return fmt.Errorf("snapshot: read transfer wal: %w", err)
		}
		for _, tr := range pending {
			log.Warn("transfer wal: unprocessed entry from a previous run",
				zap.String("kind", tr.Kind),
				zap.Uint64("from", uint64(tr.From)),
				zap.Uint64("to", uint64(tr.To)),
				zap.String("detail", tr.Detail))
		}
		ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
		snap, found, err := pgStore.Latest(ctx)
		cancel()
		if err != nil {
			return fmt.Errorf("snapshot: load latest: %w", err)
		}
		if found {
			latest = &snap
		}
		printOK("postgres-backed snapshot store")
	} else {
		fileStore, err := snapshot.NewFileStore(cfg.Snapshot.Dir, cfg.Snapshot.Keep)
		if err != nil {
			return fmt.Errorf("snapshot: open file store: %w", err)
		}
		snapshotSink = fileStore
		snap, found, err := fileStore.Latest()
		if err != nil {
			return fmt.Errorf("snapshot: load latest: %w", err)
		}
		if found {
			latest = &snap
		}
		printOK(fmt.Sprintf("file-backed snapshot store at %s (keep %d)", cfg.Snapshot.Dir, cfg.Snapshot.Keep))
	}
	// Snapshot writes are handed off to a helper goroutine so a slow
	// disk or database never stalls the tick loop.
	asyncSink := snapshot.NewAsyncWriter(snapshotSink, log)
	defer asyncSink.Close()

	startTick := uint64(0)
	if latest != nil {
		if err := snapshot.Restore(world, regs, spatialRestorer(rooms, grid), *latest); err != nil {
			return fmt.Errorf("snapshot: restore: %w", err)
		}
		startTick = latest.Tick
		printOK(fmt.Sprintf("restored snapshot at tick %d (%d entities)", latest.Tick, len(latest.Entities)))
	}
	fmt.Println()

	var sched *tick.Scheduler

	printSection("plugins")
	// The seed handed to plugins is a pure function of the configured
	// server id and the current tick, so replays of the same input
	// schedule observe the same entropy.
	seedBase := uint64(cfg.Server.ID) * 0x9e3779b97f4a7c15
	pluginRuntime, err := plugin.NewRuntime(plugin.HostContext{
		World:  world,
		Regs:   regs,
		Stream: stream,
		Bus:    bus,
		Log:    log,
		CurrentTick: func() uint64 {
			if sched == nil {
				return startTick
			}
			return sched.Tick()
		},
		RandomSeed: func() uint64 {
			t := startTick
			if sched != nil {
				t = sched.Tick()
			}
			return seedBase ^ (t * 0xbf58476d1ce4e5b9)
		},
	})
	if err != nil {
		return fmt.Errorf("plugin runtime: %w", err)
	}
	pluginCount, err := loadPlugins(pluginRuntime, cfg.Plugin)
	if err != nil {
		return fmt.Errorf("load plugins: %w", err)
	}
	printStat("plugins loaded", pluginCount)
	fmt.Println()

	printSection("scripts")
	scriptEngine, err := script.NewEngine(script.Config{
		ScriptsDir: cfg.Script.Dir,
		Log:        log,
		World:      world,
		Regs:       regs,
		Stream:     stream,
		Bus:        bus,
		Mode:       scriptMode,
		Rooms:      rooms,
		Grid:       grid,
		AOIRadius:  cfg.Spatial.AOIRadius,
		Output:     bridge,
		Sessions:   bridge,
		Content:    contentReg,
		Producer:   "script",
		Priority:   10,
	})
	if err != nil {
		return fmt.Errorf("script engine: %w", err)
	}
	defer scriptEngine.Close()
	scriptEngine.RunInit()
	printOK("scripts loaded")
	fmt.Println()

	sched = tick.NewScheduler(tick.Config{
		Log:              log,
		World:            world,
		Stream:           stream,
		Bus:              bus,
		Bridge:           bridge,
		Mode:             mode,
		Rooms:            rooms,
		Grid:             grid,
		AOIRadius:        cfg.Spatial.AOIRadius,
		Plugins:          pluginRuntime,
		Scripts:          scriptEngine,
		Snapshot:         func(t uint64) snapshot.Snapshot { return snapshot.Capture(world, regs, spatialCapturer(rooms, grid), t) },
		SnapshotSink:     asyncSink,
		SnapshotEvery:    cfg.Snapshot.EveryTicks,
		LingerSweepEvery: 10,
		StartTick:        startTick,
		TickRate:         cfg.Network.TickRate,
	}, func(exp session.Expiry) {
		log.Info("session: lingering entity expired, despawning",
			zap.Uint64("session", exp.SessionID),
			zap.Uint64("entity", uint64(exp.Entity)))
		world.MarkForDestruction(exp.Entity)
		if lingerAudit != nil {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := lingerAudit.RecordExpiry(ctx, exp.SessionID, exp.Entity, exp.DisconnectedAt, exp.Deadline); err != nil {
					log.Error("session: linger audit write failed", zap.Error(err))
				}
			}()
		}
	})

	// Apply any world-construction commands queued by on_init before
	// the first connection can observe the world.
	sched.Step()

	transport, err := session.NewTransport(cfg.Network.BindAddress, bridge, log)
	if err != nil {
		return fmt.Errorf("bind transport: %w", err)
	}
	go transport.AcceptLoop()
	go transport.WriteLoop()

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)
	stop := make(chan struct{})

	printSection("ready")
	printReady(fmt.Sprintf("listening on %s", cfg.Network.BindAddress))
	printReady(fmt.Sprintf("tick rate %s, input pump %s", cfg.Network.TickRate, cfg.Network.InputRate))
	fmt.Println()

	go func() {
		sched.RunInputPump(cfg.Network.InputRate, stop)
	}()

	sig := <-shutdownCh
	log.Info("shutdown signal received", zap.String("signal", sig.String()))
	close(stop)
	transport.Shutdown()
	log.Info("simhost stopped")
	return nil
}

func loadPlugins(rt *plugin.Runtime, cfg config.PluginConfig) (int, error) {
	entries, err := os.ReadDir(cfg.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read plugin dir %s: %w", cfg.Dir, err)
	}
	count := 0
	for i, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".wasm") {
			continue
		}
		path := filepath.Join(cfg.Dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return count, fmt.Errorf("read plugin %s: %w", path, err)
		}
		id := strings.TrimSuffix(e.Name(), ".wasm")
		if err := rt.Load(plugin.Config{ID: id, Priority: i, FuelBudget: cfg.FuelBudget, Wasm: data}); err != nil {
			return count, fmt.Errorf("load plugin %s: %w", id, err)
		}
		count++
	}
	return count, nil
}

func spatialCapturer(rooms *spatial.RoomGraph, grid *spatial.Grid) snapshot.SpatialCapturer {
	if rooms != nil {
		return rooms
	}
	return grid
}

func spatialRestorer(rooms *spatial.RoomGraph, grid *spatial.Grid) snapshot.SpatialRestorer {
	if rooms != nil {
		return rooms
	}
	return grid
}

type postgresSinkAdapter struct {
	store *snapshot.PostgresStore
}

func (a postgresSinkAdapter) Write(snap snapshot.Snapshot) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return a.store.Write(ctx, snap)
}
