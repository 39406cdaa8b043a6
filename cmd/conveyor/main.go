package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"

	"github.com/rendis/conveyor/internal/engine"
	"github.com/rendis/conveyor/internal/events"
	"github.com/rendis/conveyor/internal/expressions"
	"github.com/rendis/conveyor/internal/logging"
	"github.com/rendis/conveyor/internal/scheduler"
	"github.com/rendis/conveyor/internal/store"
	"github.com/rendis/conveyor/internal/tools"
	"github.com/rendis/conveyor/internal/validation"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "conveyor:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}

	definitions, err := loadDefinitions(cfg.DefinitionsDir)
	if err != nil {
		return err
	}

	celEngine, err := expressions.NewCELEngine()
	if err != nil {
		return fmt.Errorf("init guard engine: %w", err)
	}
	materializer := expressions.NewMaterializer(expressions.NewExprEngine())
	validator := validation.NewSchemaValidator()

	sched := scheduler.NewScheduler(st, logger)
	dispatcher := events.NewDispatcher(st, sched, logger)

	registry := tools.NewRegistry()
	if err := tools.RegisterBuiltins(registry, tools.BuiltinDeps{
		Store:     st,
		Tasks:     sched,
		Events:    dispatcher,
		Validator: validator,
		Logger:    logger,
	}); err != nil {
		return fmt.Errorf("register tools: %w", err)
	}
	invoker := tools.NewInvoker(registry, materializer, validator, logger)

	validators := engine.NewValidatorRegistry()
	if err := engine.RegisterBuiltinValidators(validators); err != nil {
		return fmt.Errorf("register validators: %w", err)
	}

	processor := engine.NewProcessor(st, validators, invoker, celEngine, logger)
	runner := engine.NewRunner(st, processor, definitions, dispatcher, logger)

	pool := engine.NewWorkerPool(cfg.PoolSize, logger)
	locks := engine.NewWorkspaceLock()
	taskProcessor := scheduler.NewTaskProcessor(st, pool, locks, runner, sched, logger)

	taskGroups, err := loadTaskManifest(cfg.DefinitionsDir)
	if err != nil {
		return err
	}
	for _, group := range taskGroups {
		if err := sched.InitializeTasks(ctx, group.WorkspaceID, group.PipelineID, group.Tasks); err != nil {
			return fmt.Errorf("initialize tasks for pipeline %s: %w", group.PipelineID, err)
		}
	}

	if err := sched.Start(ctx); err != nil {
		return err
	}
	if err := taskProcessor.Start(ctx); err != nil {
		return err
	}

	logger.Info("conveyor started",
		slog.String("db_path", cfg.DBPath),
		slog.Int("pool_size", cfg.PoolSize),
		slog.Int("machines", len(definitions.machines)),
	)

	<-ctx.Done()
	logger.Info("shutting down")

	if err := sched.Stop(); err != nil {
		logger.Error("scheduler shutdown failed", slog.String("error", err.Error()))
	}
	if err := taskProcessor.Stop(); err != nil {
		logger.Error("task processor shutdown failed", slog.String("error", err.Error()))
	}
	pool.Shutdown()

	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := tint.NewHandler(os.Stdout, &tint.Options{
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
		TimeFormat: time.Kitchen,
		Level:      lvl,
	})
	return slog.New(logging.NewCorrelationHandler(handler))
}
