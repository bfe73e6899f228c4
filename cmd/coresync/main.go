package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/l1jgo/coresync/internal/config"
	"github.com/l1jgo/coresync/internal/core/event"
	"github.com/l1jgo/coresync/internal/core/handle"
	coresys "github.com/l1jgo/coresync/internal/core/system"
	"github.com/l1jgo/coresync/internal/coreobject"
	"github.com/l1jgo/coresync/internal/coreq"
	"github.com/l1jgo/coresync/internal/data"
	"github.com/l1jgo/coresync/internal/frame"
	"github.com/l1jgo/coresync/internal/monitor"
	"github.com/l1jgo/coresync/internal/persist"
	"github.com/l1jgo/coresync/internal/scene"
	"github.com/l1jgo/coresync/internal/scripting"
	"github.com/l1jgo/coresync/internal/system"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

var printer = message.NewPrinter(language.English)

func printBanner(name string, rate time.Duration) {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m              coresync  v0.1.0             \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  │\033[0m      dual-thread object sync engine       \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	fmt.Printf("  \033[1mengine:\033[0m %s \033[90m(frame: %s)\033[0m\n\n", name, rate)
}

func printSection(title string) {
	lineLen := 46 - len(title) - 1
	if lineLen < 3 {
		lineLen = 3
	}
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, count int) {
	numStr := printer.Sprintf("%d", count)
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

// ── Engine ─────────────────────────────────────────────────────────

func run() error {
	// 1. Load config
	cfgPath := "config/coresync.toml"
	if p := os.Getenv("CORESYNC_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	printBanner(cfg.Engine.Name, cfg.Engine.FrameRate)

	// 3. Optional sync journal in PostgreSQL
	var journal system.JournalWriter = logJournal{log: log.Named("journal")}
	if cfg.Database.Enabled {
		printSection("Database")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		db, err := persist.NewDB(ctx, cfg.Database, log)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer db.Close()
		printOK("PostgreSQL connected")

		version, err := persist.RunMigrations(ctx, db.Pool, log)
		if err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		printOK(fmt.Sprintf("migrations applied (schema v%d)", version))

		repo := persist.NewSyncJournalRepo(db)
		last, err := repo.LastFrame(ctx)
		if err != nil {
			return fmt.Errorf("journal: %w", err)
		}
		printStat("last journaled frame", int(last))
		journal = repo
		fmt.Println()
	}

	// 4. Core thread
	var qopts []coreq.Option
	if cfg.CoreThread.LockOSThread {
		qopts = append(qopts, coreq.WithLockedOSThread())
	}
	queue := coreq.New(log.Named("core"), qopts...)
	queue.Start()

	// 5. Sync pipeline
	bus := event.NewBus()
	ring := frame.NewRing(cfg.Frame.Arenas, cfg.Frame.ArenaSize, cfg.Frame.Grow)
	reg := coreobject.NewRegistry(bus, log.Named("registry"))
	sched := coreobject.NewScheduler(reg, handle.NewTable[coreobject.Counterpart](), ring, log.Named("sync"))

	event.Subscribe(bus, func(ev coreobject.ObjectUnregistered) {
		log.Debug("object unregistered", zap.Uint64("id", uint64(ev.Object)))
	})

	// 6. Scene and scripts
	printSection("Scene")
	manifest, err := data.LoadSceneManifest(cfg.Scene.Manifest)
	if err != nil {
		queue.Stop()
		return fmt.Errorf("load scene: %w", err)
	}
	sc := scene.New(sched, queue, log.Named("scene"))
	if err := sc.Load(manifest); err != nil {
		queue.Stop()
		return fmt.Errorf("build scene: %w", err)
	}
	printStat("textures", len(manifest.Textures))
	printStat("shaders", len(manifest.Shaders))
	printStat("materials", len(manifest.Materials))
	printStat("cameras", len(manifest.Cameras))
	printStat("registered objects", reg.Len())

	lua, err := scripting.NewEngine(cfg.Scripts.Dir, sc, log.Named("lua"))
	if err != nil {
		queue.Stop()
		return fmt.Errorf("lua engine: %w", err)
	}
	defer lua.Close()
	if lua.HasFrameHook() {
		printOK("Lua on_frame hook loaded")
	}
	fmt.Println()

	// 7. Monitor
	var out system.Broadcaster = nopBroadcaster{}
	var hub *monitor.Hub
	if cfg.Monitor.Enabled {
		srv, err := monitor.NewServer(cfg.Monitor.BindAddress, monitor.ServerOptions{
			EngineName: cfg.Engine.Name,
			OutQueue:   cfg.Monitor.OutQueueSize,
			MaxClients: cfg.Monitor.MaxClients,
		}, log.Named("monitor"))
		if err != nil {
			queue.Stop()
			return fmt.Errorf("monitor server: %w", err)
		}
		go srv.AcceptLoop()
		hub = monitor.NewHub(srv, system.SceneSnapshot(sc.Each, reg), log.Named("monitor"))
		out = hub
	}

	// 8. Systems
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	syncSys := system.NewSyncSystem(ctx, sched, queue, log.Named("sync"))
	journalSys := system.NewJournalSystem(sched, journal, cfg.Journal.IntervalFrames, cfg.Journal.CapturePayloads, log.Named("journal")).
		WithRetention(cfg.Journal.RetainFrames)
	cleanupSys := system.NewCleanupSystem(sc)

	runner := coresys.NewRunner()
	runner.Register(system.NewEventDispatchSystem(bus))
	runner.Register(system.NewScriptSystem(lua))
	runner.Register(syncSys)
	runner.Register(system.NewMonitorSystem(out, syncSys, sched, queue, ring))
	runner.Register(journalSys)
	runner.Register(cleanupSys)

	// 9. Frame loop
	ticker := time.NewTicker(cfg.Engine.FrameRate)
	defer ticker.Stop()

	printSection("Ready")
	if hub != nil {
		printReady(fmt.Sprintf("monitor listening on %s", cfg.Monitor.BindAddress))
	}
	printReady(fmt.Sprintf("frame loop started (frame: %s)", cfg.Engine.FrameRate))
	fmt.Println()

loop:
	for {
		select {
		case <-ticker.C:
			runner.Tick(cfg.Engine.FrameRate)
			if cfg.Engine.MaxFrames > 0 && runner.Frames() >= cfg.Engine.MaxFrames {
				log.Info("frame limit reached", zap.Uint64("frames", runner.Frames()))
				break loop
			}
		case <-ctx.Done():
			log.Info("shutdown signal received")
			break loop
		}
	}

	shutdown(log, sched, sc, queue, journalSys)
	if hub != nil {
		hub.Close()
	}
	log.Info("engine stopped",
		zap.Uint64("frames", runner.Frames()),
		zap.Uint64("commands", queue.Executed()),
		zap.Int("destroyed", cleanupSys.Destroyed()),
		zap.Uint64("journaled", journalSys.Written()),
	)
	return nil
}

// shutdown tears the engine down in order: a last sync so the core thread
// sees every pending change, the journal flush, then destruction of every
// object while both threads are still running, then the core thread itself.
func shutdown(log *zap.Logger, sched *coreobject.Scheduler, sc *scene.Scene, queue *coreq.Queue, journal *system.JournalSystem) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if stats, err := sched.SyncToCore(ctx, queue); err != nil {
		log.Warn("final sync incomplete", zap.Error(err))
	} else {
		log.Info("final sync", zap.Int("entries", stats.Entries()))
	}
	journal.Flush()

	sched.ClearDirty()
	n := sc.DestroyAll()
	queue.Stop()
	log.Info("scene destroyed", zap.Int("objects", n), zap.Int("remaining", sched.Registry().Len()))
}

// logJournal stands in for the database journal when it is disabled.
type logJournal struct {
	log *zap.Logger
}

func (j logJournal) Append(_ context.Context, batches []persist.JournalBatch) error {
	for _, b := range batches {
		j.log.Debug("sync batch",
			zap.Uint64("frame", b.Frame),
			zap.Int("entries", len(b.Entries)),
			zap.Int("bytes", b.Bytes),
		)
	}
	return nil
}

type nopBroadcaster struct{}

func (nopBroadcaster) Poll()            {}
func (nopBroadcaster) Broadcast([]byte) {}

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
