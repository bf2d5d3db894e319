package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/agentworkforce/drivewatch/internal/config"
	"github.com/agentworkforce/drivewatch/internal/drivesync"
	"github.com/agentworkforce/drivewatch/internal/logging"
)

func main() {
	configPath := flag.String("config", strings.TrimSpace(os.Getenv("DRIVEWATCH_CONFIG")), "YAML config file")
	token := flag.String("token", strings.TrimSpace(os.Getenv("DRIVEWATCH_TOKEN")), "static Drive bearer token")
	workspaceDSN := flag.String("workspace-dsn", strings.TrimSpace(os.Getenv("DRIVEWATCH_WORKSPACE_DSN")), "workspace state DSN")
	interval := flag.Duration("interval", durationEnv("DRIVEWATCH_INTERVAL", 0), "run interval (overrides schedule.interval)")
	intervalJitter := flag.Float64("interval-jitter", floatEnv("DRIVEWATCH_INTERVAL_JITTER", -1), "run interval jitter ratio (0.0-1.0)")
	timeout := flag.Duration("timeout", durationEnv("DRIVEWATCH_TIMEOUT", 30*time.Minute), "per-run timeout")
	logLevel := flag.String("log-level", "", "log level (overrides log.level)")
	listenAddr := flag.String("listen", strings.TrimSpace(os.Getenv("DRIVEWATCH_ADDR")), "status API listen address (overrides server.addr)")
	once := flag.Bool("once", false, "run one pass and exit")
	flag.Parse()

	overrides := cliOverrides{
		token:          strings.TrimSpace(*token),
		workspaceDSN:   strings.TrimSpace(*workspaceDSN),
		interval:       *interval,
		intervalJitter: *intervalJitter,
		logLevel:       strings.TrimSpace(*logLevel),
		listenAddr:     strings.TrimSpace(*listenAddr),
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	cfg = overrides.apply(cfg)
	if err := initLogging(cfg.Log); err != nil {
		log.Fatalf("%v", err)
	}
	logger := logging.Component("drivewatch")
	if *timeout <= 0 {
		*timeout = 30 * time.Minute
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(rootCtx, cfg)
	if err != nil {
		log.Fatalf("initialize drivewatch: %v", err)
	}
	defer a.Close()

	run := func() {
		summary, err := a.runOnce(rootCtx, *timeout)
		if errors.Is(err, drivesync.ErrRunInProgress) {
			logger.Info("skipping scheduled run, previous run still active")
			return
		}
		if err != nil {
			logger.Error("run failed", "error", err)
			return
		}
		logger.Info("run completed", "rows", len(summary.Rows), "duration", summary.Finished.Sub(summary.Started))
	}

	if !*once && cfg.Server.Addr != "" {
		_, stopAPI, err := a.startAPI(cfg.Server, *timeout)
		if err != nil {
			log.Fatalf("start status api: %v", err)
		}
		defer stopAPI()
	}

	run()
	if *once {
		return
	}

	sched := newSchedule(cfg.Schedule)
	if *configPath != "" {
		reload := &reloader{
			overrides: overrides,
			sched:     sched,
			seed:      a.seed,
			logger:    logger,
			current:   cfg,
		}
		go func() {
			if err := config.Watch(rootCtx, *configPath, logging.Component("config"), func(next config.Config) {
				reload.apply(next)
			}); err != nil {
				logger.Error("config watch stopped", "error", err)
			}
		}()
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	timer := time.NewTimer(sched.next(rng.Float64()))
	defer timer.Stop()
	for {
		select {
		case <-rootCtx.Done():
			logger.Info("drivewatch stopping", "reason", rootCtx.Err())
			return
		case <-timer.C:
			run()
			timer.Reset(sched.next(rng.Float64()))
		}
	}
}

// cliOverrides are flag and environment values that win over the file.
type cliOverrides struct {
	token          string
	workspaceDSN   string
	interval       time.Duration
	intervalJitter float64
	logLevel       string
	listenAddr     string
}

func (o cliOverrides) apply(cfg config.Config) config.Config {
	if o.token != "" {
		cfg.Drive.Token = o.token
		cfg.Drive.TokenFile = ""
	}
	if o.workspaceDSN != "" {
		cfg.Workspace.DSN = o.workspaceDSN
	}
	if o.interval > 0 {
		cfg.Schedule.Interval = o.interval
	}
	if o.intervalJitter >= 0 {
		cfg.Schedule.Jitter = o.intervalJitter
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.listenAddr != "" {
		cfg.Server.Addr = o.listenAddr
	}
	cfg.Schedule.Jitter = clampJitterRatio(cfg.Schedule.Jitter)
	return cfg
}

func initLogging(cfg config.LogConfig) error {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return err
	}
	logging.Init(level, cfg.JSON)
	return nil
}

// reloader applies a freshly loaded config to the running process.
type reloader struct {
	overrides cliOverrides
	sched     *schedule
	seed      func([]config.FolderConfig) error
	logger    *slog.Logger
	current   config.Config
}

// apply updates log level, schedule and folder seeding in place. It reports
// whether next also changes settings that only take effect after a restart,
// compared with the previous reload.
func (r *reloader) apply(next config.Config) bool {
	next = r.overrides.apply(next)
	if level, err := logging.ParseLevel(next.Log.Level); err != nil {
		r.logger.Warn("keeping previous log level", "error", err)
	} else {
		logging.SetLevel(level)
	}
	r.sched.update(next.Schedule)
	if r.seed != nil {
		if err := r.seed(next.Folders); err != nil {
			r.logger.Error("reseed after config change failed", "error", err)
		}
	}
	prev := r.current
	r.current = next
	restart := next.Workspace != prev.Workspace ||
		next.Drive != prev.Drive ||
		next.Notify != prev.Notify ||
		next.Server != prev.Server ||
		next.Log.JSON != prev.Log.JSON
	if restart {
		r.logger.Warn("workspace, drive, notify, server and log format changes take effect after restart")
	}
	return restart
}

// schedule holds the interval settings the config watcher may change
// between runs.
type schedule struct {
	mu       sync.Mutex
	interval time.Duration
	jitter   float64
}

func newSchedule(cfg config.ScheduleConfig) *schedule {
	s := &schedule{}
	s.update(cfg)
	return s
}

func (s *schedule) update(cfg config.ScheduleConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval = cfg.Interval
	if s.interval <= 0 {
		s.interval = 15 * time.Minute
	}
	s.jitter = clampJitterRatio(cfg.Jitter)
}

func (s *schedule) next(sample float64) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return jitteredIntervalWithSample(s.interval, s.jitter, sample)
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		slog.Warn("invalid duration in environment, using fallback", "name", name, "value", raw, "fallback", fallback.String())
		return fallback
	}
	return value
}

func floatEnv(name string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		slog.Warn("invalid number in environment, using fallback", "name", name, "value", raw, "fallback", fallback)
		return fallback
	}
	return value
}

func clampJitterRatio(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

func jitteredIntervalWithSample(base time.Duration, jitterRatio, sample float64) time.Duration {
	if base <= 0 {
		return 0
	}
	jitterRatio = clampJitterRatio(jitterRatio)
	if jitterRatio == 0 {
		return base
	}
	if sample < 0 {
		sample = 0
	} else if sample > 1 {
		sample = 1
	}
	factor := 1 + ((sample*2)-1)*jitterRatio
	if factor < 0 {
		factor = 0
	}
	delay := time.Duration(float64(base) * factor)
	if delay < time.Millisecond {
		return time.Millisecond
	}
	return delay
}
