package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/vnsid/vnsid/internal/config"
	"github.com/vnsid/vnsid/internal/device"
	"github.com/vnsid/vnsid/internal/health"
	"github.com/vnsid/vnsid/internal/logger"
	"github.com/vnsid/vnsid/internal/registry"
	"github.com/vnsid/vnsid/internal/server"
	"github.com/vnsid/vnsid/internal/session"
	"github.com/vnsid/vnsid/internal/store"
	"github.com/vnsid/vnsid/pkg/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the VNSI server",
	Long: `Start accepting VNSI clients.

The server provides:
- the VNSI protocol on the configured TCP port
- an admin HTTP API with /metrics, /health and /api/v1/sessions`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	addServeFlags(serveCmd.Flags())
}

func addServeFlags(flags *pflag.FlagSet) {
	flags.String("listen", "", "address to bind the VNSI listener to")
	flags.Int("port", 0, "VNSI port")
	flags.String("seed", "", "YAML lineup to load into the store at start")
	flags.String("allowed-hosts", "", "allowed hosts file")
}

// applyServeFlags overrides cfg with the serve flags the user set.
func applyServeFlags(flags *pflag.FlagSet, cfg *config.Config) error {
	if flags.Changed("listen") {
		cfg.Server.ListenAddr, _ = flags.GetString("listen")
	}
	if flags.Changed("port") {
		cfg.Server.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("seed") {
		cfg.Store.SeedFile, _ = flags.GetString("seed")
	}
	if flags.Changed("allowed-hosts") {
		cfg.Server.AllowedHostsFile, _ = flags.GetString("allowed-hosts")
	}
	return cfg.Validate()
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return err
	}
	if err := applyServeFlags(cmd.Flags(), cfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	base, err := logger.New(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return err
	}
	log := logger.Service(base)
	log.WithField("version", version.GetInfo().Short()).Info("Starting vnsid")
	log.WithField("config_path", cfgFile).Debug("Configuration loaded")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.Store, cfg.Recordings, log)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.WithError(err).Error("Failed to close store")
		}
	}()
	if cfg.Store.SeedFile != "" {
		if err := st.SeedFile(cfg.Store.SeedFile); err != nil {
			return fmt.Errorf("seeding store: %w", err)
		}
		log.WithField("file", cfg.Store.SeedFile).Info("Lineup loaded")
	}

	reg, err := registry.New(ctx, cfg.Redis, log)
	if err != nil {
		return fmt.Errorf("creating stream registry: %w", err)
	}
	defer func() {
		if err := reg.Close(); err != nil {
			log.WithError(err).Error("Failed to close stream registry")
		}
	}()

	dev := device.NewManager(cfg.Device, log)

	healthMgr := health.NewManager(log)
	registerHealthCheckers(healthMgr, cfg, st, reg, dev)

	srv := server.New(server.Options{
		Server:     cfg.Server,
		Stream:     cfg.Stream,
		Recordings: cfg.Recordings,
		Metrics:    cfg.Metrics,
	}, session.Deps{
		Channels:   st.Channels(),
		Timers:     st.Timers(),
		Recordings: st.Recordings(),
		Schedule:   st.Schedule(),
		Setup:      st.Setup(),
		Device:     dev,
		Registry:   reg,
	}, server.NewAllowedHosts(cfg.Server.AllowedHostsFile, log), healthMgr, log)

	err = srv.Start(ctx)
	switch {
	case errors.Is(err, server.ErrIdleShutdown):
		log.Info("Idle shutdown")
	case err != nil:
		log.WithError(err).Error("Server error")
		return err
	}

	log.Info("Server shutdown complete")
	return nil
}

func registerHealthCheckers(m *health.Manager, cfg *config.Config, st *store.Store, reg registry.Registry, dev *device.Manager) {
	m.Register(health.NewPingChecker("store", st))
	if rr, ok := reg.(*registry.RedisRegistry); ok {
		m.Register(health.NewRedisChecker(rr.Client()))
	}
	m.Register(health.NewDiskChecker(cfg.Recordings.Dir, cfg.Recordings.MinFreeBytes))
	m.Register(health.NewMemoryChecker(0.9))
	m.Register(health.NewCapacityChecker("inputs", func() int { return len(dev.Inputs()) }, cfg.Device.MaxInputs))
}
