package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pquill/arena/internal/config"
	"github.com/pquill/arena/internal/persist"
	"github.com/pquill/arena/internal/script"
	"github.com/pquill/arena/internal/server"
	"github.com/pquill/arena/internal/transport"
	"github.com/pquill/arena/pkg/utils/logging"
)

var flags struct {
	port       uint16
	maxClients int
	dbConn     string
	configPath string
	scripts    string
	verbose    bool
}

func main() {
	root := &cobra.Command{
		Use:          "arenad",
		Short:        "Authoritative realtime game server over UDP",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cmd)
		},
	}

	root.Flags().Uint16Var(&flags.port, "port", 0, "UDP port to listen on")
	root.Flags().IntVar(&flags.maxClients, "max-clients", 0, "maximum simultaneous peers")
	root.Flags().StringVar(&flags.dbConn, "db-conn", "", "database DSN (sqlite path)")
	root.Flags().StringVar(&flags.configPath, "config", "", "path to a JSON config file")
	root.Flags().StringVar(&flags.scripts, "scripts", "", "path to the JavaScript rules file")
	root.Flags().BoolVarP(&flags.verbose, "verbose", "v", false, "debug logging")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cobra.Command) error {
	setupLogger()
	log := slog.Default()

	cfg, err := buildConfig(cmd)
	if err != nil {
		log.Error("configuration invalid", "error", err.Error())
		return err
	}

	host, err := transport.NewHost(transport.Opts{
		Port:              int(cfg.Port),
		MaxClients:        cfg.MaxClients,
		PeerTimeout:       cfg.PeerTimeout,
		RetransmitTimeout: cfg.RetransmitTimeout,
		MaxRetransmits:    cfg.MaxRetransmits,
		Logger:            log,
	})
	if err != nil {
		log.Error("transport initialization failed", "error", err.Error())
		return err
	}
	log.Info("listening", "addr", host.Addr().String())

	store, err := persist.Open(ctx, cfg.DBConnection, log)
	if err != nil {
		log.Error("database initialization failed", "error", err.Error())
		host.Close()
		return err
	}
	port := persist.NewPort(store, cfg.PersistQueueSize, log)

	srv := server.New(server.Opts{
		Config:    cfg,
		Transport: host,
		Persist:   port,
		Logger:    log,
	})

	if cfg.ScriptsPath != "" {
		engine, err := script.NewEngine(cfg.ScriptsPath, srv, log)
		if err != nil {
			log.Error("script initialization failed", "error", err.Error())
			host.Close()
			return err
		}
		srv.SetHooks(engine)
	}

	return srv.Run(ctx)
}

// buildConfig layers defaults, config file, environment, then flags.
func buildConfig(cmd *cobra.Command) (*config.Config, error) {
	config.Init()
	cfg := *config.Load()

	if flags.configPath != "" {
		if err := cfg.LoadFile(flags.configPath); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	if cmd.Flags().Changed("port") {
		cfg.Port = flags.port
	}
	if cmd.Flags().Changed("max-clients") {
		cfg.MaxClients = flags.maxClients
	}
	if cmd.Flags().Changed("db-conn") {
		cfg.DBConnection = flags.dbConn
	}
	if cmd.Flags().Changed("scripts") {
		cfg.ScriptsPath = flags.scripts
	}

	return config.Swap(cfg), nil
}

func setupLogger() {
	opts := logging.DefaultOptions()
	if flags.verbose {
		opts.SlogOpts.Level = slog.LevelDebug
	}

	h := logging.NewPrettyHandler(os.Stdout, &opts)
	slog.SetDefault(slog.New(h))
}
