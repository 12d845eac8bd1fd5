package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quickfixgo/quickfix"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/Aidin1998/dropcopy/internal/config"
	"github.com/Aidin1998/dropcopy/internal/handler"
	"github.com/Aidin1998/dropcopy/internal/server"
	"github.com/Aidin1998/dropcopy/internal/session"
	"github.com/Aidin1998/dropcopy/internal/store"
	"github.com/Aidin1998/dropcopy/internal/transcript"
	"github.com/Aidin1998/dropcopy/pkg/logger"
	"github.com/Aidin1998/dropcopy/pkg/telemetry"
)

const name = "dropcopy"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	flags := pflag.NewFlagSet(name, pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "", "path to the YAML configuration file")
	showVersion := flags.Bool("version", false, "print the version and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return 2
	}
	if *showVersion {
		fmt.Println(name, version)
		return 0
	}
	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "missing required flag --config")
		flags.PrintDefaults()
		return 2
	}

	// Load environment variables
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	cfgManager := config.NewManager(nil)
	defer cfgManager.Close()
	cfg, err := cfgManager.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}

	zapLogger, atom, err := logger.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		return 1
	}
	defer zapLogger.Sync()

	zapLogger.Info("Starting drop copy", zap.String("name", name), zap.String("version", version))

	cfgManager.SetLogger(zapLogger)
	cfgManager.OnReload(func(_, updated *config.Config, restartNeeded bool) {
		atom.SetLevel(logger.ParseLevel(updated.Logging.Level))
		if restartNeeded {
			zapLogger.Warn("Configuration changed beyond logging.level; restart to apply")
		}
	})
	if err := cfgManager.Watch(); err != nil {
		zapLogger.Warn("Configuration hot reload disabled", zap.Error(err))
	}

	shutdownTelemetry, err := telemetry.Setup(context.Background(), cfg.Telemetry)
	if err != nil {
		zapLogger.Error("Failed to set up telemetry", zap.Error(err))
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			zapLogger.Warn("Telemetry shutdown failed", zap.Error(err))
		}
	}()

	var logFactory quickfix.LogFactory = quickfix.NewNullLogFactory()
	if cfg.Transcript.Enabled {
		tf, err := transcript.NewFactory(cfg.Transcript, zapLogger)
		if err != nil {
			zapLogger.Error("Failed to open transcript", zap.Error(err))
			return 1
		}
		defer tf.Close()
		logFactory = tf
	}

	var factories []handler.Factory
	if cfg.Handler.LogMessages {
		factories = append(factories, handler.LogFactory(zapLogger))
	}
	if cfg.Kafka.Enabled {
		publisher, err := handler.NewKafkaPublisher(cfg.Kafka, zapLogger)
		if err != nil {
			zapLogger.Error("Failed to create Kafka publisher", zap.Error(err))
			return 1
		}
		defer publisher.Close()
		factories = append(factories, publisher.Factory())
	}
	if cfg.Archive.Enabled {
		archive, err := handler.OpenArchive(cfg.Archive, zapLogger)
		if err != nil {
			zapLogger.Error("Failed to open message archive", zap.Error(err))
			return 1
		}
		defer archive.Close()
		factories = append(factories, archive.Factory())
	}

	supervisor, err := session.NewSupervisor(cfg.Settings, session.Options{
		OpenStore:  store.NewOpener(cfg.Store, zapLogger),
		Handlers:   handler.Chain(factories...),
		GapFill:    cfg.Resend.GapFill,
		LogFactory: logFactory,
		Logger:     zapLogger,
	})
	if err != nil {
		zapLogger.Error("Failed to create session supervisor", zap.Error(err))
		return 1
	}

	var admin *server.Server
	if cfg.Admin.Enabled {
		admin = server.NewServer(zapLogger, supervisor)
		if err := admin.Start(cfg.Admin.Addr); err != nil {
			zapLogger.Error("Failed to start control surface", zap.Error(err))
			return 1
		}
	}

	// Wait for interrupt to shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := supervisor.Run(ctx); err != nil {
		zapLogger.Error("Session supervisor failed", zap.Error(err))
	}

	if admin != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := admin.Shutdown(shutdownCtx); err != nil {
			zapLogger.Warn("Control surface shutdown failed", zap.Error(err))
		}
	}

	zapLogger.Info("Drop copy exited properly")
	return 0
}
