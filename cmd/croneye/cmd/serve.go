package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/croneye/croneye/internal/config"
	"github.com/croneye/croneye/internal/jobrun"
	"github.com/croneye/croneye/internal/jobstore"
	"github.com/croneye/croneye/internal/listener"
	"github.com/croneye/croneye/internal/realtime"
	"github.com/croneye/croneye/internal/runner"
	"github.com/croneye/croneye/internal/scheduler"
	"github.com/croneye/croneye/internal/store"
	"github.com/croneye/croneye/internal/web"
	"github.com/croneye/croneye/internal/web/api"
)

// maxResultLen caps the stored result string per run.
const maxResultLen = 4096

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the croneye daemon",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	runs, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	events := realtime.NewBroker()
	sched := scheduler.New(cfg.InstanceName, logger.With().Str("component", "scheduler").Logger())
	sched.AddListener(listener.NewRunRecorder(
		runs, events, cfg.Listener.SaveTimeout,
		logger.With().Str("component", "listener").Logger(),
	))

	disabled := &disabledJobs{keys: make(map[jobrun.JobKey]struct{})}
	sched.AddVetoer(disabled)

	shell := runner.New(logger.With().Str("component", "runner").Logger())
	if err := scheduleJobs(cfg.JobsDir, sched, shell, disabled, logger); err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	facade := jobstore.New(sched, runs, events, logger.With().Str("component", "jobstore").Logger())

	retentionDone := startRetention(facade, sched, cfg, logger)
	defer retentionDone()

	srv := web.NewServer(cfg.Listen, &api.Handler{
		Jobs:         facade,
		Events:       events,
		InstanceName: cfg.InstanceName,
		Logger:       logger.With().Str("component", "api").Logger(),
	}, logger.With().Str("component", "web").Logger())

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown failed")
	}
	return nil
}

// openStore builds the run store selected by the configuration.
func openStore(cfg *config.Config, logger zerolog.Logger) (store.RunStore, func(), error) {
	storeLogger := logger.With().Str("component", "store").Logger()
	switch cfg.Store.Driver {
	case "sqlite":
		s, err := store.NewSQLiteStore(cfg.Store.Path, storeLogger)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	case "postgres":
		if cfg.Store.DSN == "" {
			return nil, nil, fmt.Errorf("store.dsn is required for the postgres driver")
		}
		s, err := store.NewPostgresStore(cfg.Store.DSN, storeLogger)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	case "none":
		return store.NewNullStore(storeLogger), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// scheduleJobs loads the job definition files and registers them. Disabled
// jobs stay visible but have their firings vetoed.
func scheduleJobs(dir string, sched *scheduler.Scheduler, shell *runner.Runner, disabled *disabledJobs, logger zerolog.Logger) error {
	defs, err := config.LoadJobs(dir)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn().Str("dir", dir).Msg("jobs directory does not exist, starting with no jobs")
			return nil
		}
		return err
	}

	for _, def := range defs {
		timeout, err := def.ParseTimeout()
		if err != nil {
			return err
		}
		key := jobrun.JobKey{Name: def.Name, Group: def.Group}
		data, err := jobrun.FromAny(def.Data)
		if err != nil {
			return fmt.Errorf("job %s: %w", key, err)
		}
		detail := scheduler.JobDetail{
			Key:         key,
			Description: def.Description,
			Type:        "shell",
			Category:    def.Category,
			Data:        data,
			MaxRetries:  def.MaxRetries,
		}

		triggers := make([]scheduler.Trigger, len(def.Triggers))
		for i, t := range def.Triggers {
			triggers[i] = scheduler.Trigger{
				Key:            jobrun.TriggerKey{Name: t.Name, Group: t.Group},
				Description:    t.Description,
				CronExpression: t.Cron,
				Priority:       t.Priority,
			}
		}

		if err := sched.ScheduleJob(detail, shellHandler(shell, def, timeout), triggers...); err != nil {
			return fmt.Errorf("schedule %s: %w", key, err)
		}
		if !def.IsEnabled() {
			disabled.keys[key] = struct{}{}
		}
		logger.Info().Str("job", key.String()).Int("triggers", len(triggers)).Bool("enabled", def.IsEnabled()).Msg("job scheduled")
	}
	return nil
}

// shellHandler adapts one job definition to a scheduler handler.
func shellHandler(shell *runner.Runner, def *config.Job, timeout time.Duration) scheduler.Handler {
	return func(fc *scheduler.FireContext) (string, error) {
		res, err := shell.Run(context.Background(), runner.Command{
			Script:     def.Command,
			WorkingDir: def.WorkingDir,
			Timeout:    timeout,
			Env:        def.Env,
			Meta: runner.Meta{
				JobName:  fc.JobKey.Name,
				JobGroup: fc.JobKey.Group,
				Trigger:  fc.TriggerKey.String(),
				RunID:    fc.FireInstanceID,
			},
		})
		result := strings.TrimSpace(res.Stdout)
		if len(result) > maxResultLen {
			result = result[len(result)-maxResultLen:]
		}
		return result, err
	}
}

// disabledJobs vetoes firings of jobs that are defined but not enabled.
type disabledJobs struct {
	keys map[jobrun.JobKey]struct{}
}

func (d *disabledJobs) VetoJobExecution(fc *scheduler.FireContext) bool {
	_, ok := d.keys[fc.JobKey]
	return ok
}

// startRetention launches the periodic history purge and returns its stop
// func.
func startRetention(facade *jobstore.Store, sched *scheduler.Scheduler, cfg *config.Config, logger zerolog.Logger) func() {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(cfg.History.PurgeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().UTC().AddDate(0, 0, -cfg.History.RetentionDays)
				for _, key := range sched.JobKeys() {
					if _, err := facade.PurgeJobRuns(ctx, key, cutoff); err != nil && ctx.Err() == nil {
						logger.Error().Err(err).Str("job", key.String()).Msg("retention purge failed")
					}
				}
			}
		}
	}()
	return cancel
}

// newLogger builds the process logger writing human-readable output.
func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}
