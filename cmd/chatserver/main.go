package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/cyberinferno/go-chatroom/cacher"
	"github.com/cyberinferno/go-chatroom/chat"
	"github.com/cyberinferno/go-chatroom/config"
	"github.com/cyberinferno/go-chatroom/insult"
	"github.com/cyberinferno/go-chatroom/logger"
	"github.com/cyberinferno/go-chatroom/metrics"
	"github.com/cyberinferno/go-chatroom/status"
)

const serviceName = "chatserver"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "chatserver: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, printConfig, err := parseConfig(args)
	if err != nil {
		return err
	}

	if printConfig {
		data, err := cfg.Marshal()
		if err != nil {
			return err
		}
		fmt.Print(string(data))
		return nil
	}

	l, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer func() {
		_ = l.Close()
	}()

	pool, err := loadInsults(cfg.Insults)
	if err != nil {
		l.Error("failed to load insults", logger.Err(err))
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	srv := chat.NewServer(chat.Options{
		Host:        cfg.Server.Host,
		Port:        cfg.Server.Port,
		MaxSessions: cfg.Server.MaxSessions,
		OutboxSize:  cfg.Server.OutboxSize,
		Insults:     pool,
		Metrics:     m,
	}, l)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(ctx)
	})

	if cfg.Status.Addr != "" {
		statusCfg := status.Config{
			Addr:     cfg.Status.Addr,
			CacheTTL: cfg.Status.CacheTTL,
			Gatherer: reg,
		}

		if cfg.Status.RedisAddr != "" {
			client := redis.NewClient(&redis.Options{Addr: cfg.Status.RedisAddr})
			defer func() {
				_ = client.Close()
			}()
			statusCfg.Cache = cacher.NewRedisCacher[[]string](client, "chatroom:")
		}

		statusSrv := status.New(statusCfg, srv, l)
		g.Go(func() error {
			return statusSrv.Run(ctx)
		})
	}

	if err := g.Wait(); err != nil {
		l.Error("server exited with error", logger.Err(err))
		return err
	}

	l.Info("shutdown complete")
	return nil
}

// parseConfig loads the optional config file, then applies only the flags
// given explicitly on the command line.
func parseConfig(args []string) (config.Config, bool, error) {
	fs := flag.NewFlagSet(serviceName, flag.ContinueOnError)

	defaults := config.Default()
	configPath := fs.String("config", "", "YAML config file (flags override its values)")
	host := fs.String("host", defaults.Server.Host, "TCP bind host (empty for all interfaces)")
	port := fs.Int("port", defaults.Server.Port, "TCP listen port (1-65535)")
	maxSessions := fs.Int("max-sessions", defaults.Server.MaxSessions, "Maximum concurrent connections")
	insults := fs.String("insults", "", "File with one insult phrase per line (built-in list if empty)")
	logLevel := fs.String("log-level", defaults.Log.Level, "Log level: debug, info, warn or error")
	logDir := fs.String("log-dir", "", "Directory for daily log files (stdout only if empty)")
	statusAddr := fs.String("status", "", "HTTP bind address for /healthz, /metrics and /users (empty to disable)")
	redisAddr := fs.String("redis", "", "Redis address for the shared roster cache (in-memory if empty)")
	printConfig := fs.Bool("print-config", false, "Print the effective configuration as YAML and exit")

	if err := fs.Parse(args); err != nil {
		return config.Config{}, false, err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return config.Config{}, false, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			cfg.Server.Host = *host
		case "port":
			cfg.Server.Port = *port
		case "max-sessions":
			cfg.Server.MaxSessions = *maxSessions
		case "insults":
			cfg.Insults.File = *insults
		case "log-level":
			cfg.Log.Level = *logLevel
		case "log-dir":
			cfg.Log.Dir = *logDir
		case "status":
			cfg.Status.Addr = *statusAddr
		case "redis":
			cfg.Status.RedisAddr = *redisAddr
		}
	})

	if err := cfg.Validate(); err != nil {
		return config.Config{}, false, err
	}

	return cfg, *printConfig, nil
}

func newLogger(cfg config.LogConfig) (logger.Logger, error) {
	level, err := logger.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	if cfg.Dir == "" {
		return logger.NewConsoleLogger(serviceName, level), nil
	}

	return logger.NewZerologFileLogger(serviceName, cfg.Dir, level)
}

func loadInsults(cfg config.InsultsConfig) (*insult.Pool, error) {
	if cfg.File == "" {
		return insult.Default(), nil
	}

	return insult.LoadFile(cfg.File)
}
