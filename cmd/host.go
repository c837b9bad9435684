package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/shmcast/shmcast/internal/api"
	"github.com/shmcast/shmcast/internal/config"
	"github.com/shmcast/shmcast/internal/host"
	"github.com/shmcast/shmcast/internal/input"
	"github.com/shmcast/shmcast/internal/logger"
	"github.com/shmcast/shmcast/internal/protocol"
	"github.com/shmcast/shmcast/internal/shmem"
)

var (
	hostListenAddr string
	hostRegionPath string
	hostAttach     bool
)

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Run the host-side capture daemon",
	Long: `Run the host-side daemon. It creates (or attaches to) the shared region
backing file handed to the VM, serves the control API, and injects input
events into the guest session through uinput.`,
	RunE: runHost,
}

func init() {
	hostCmd.Flags().StringVarP(&hostListenAddr, "listen", "l", "", "Control API listen address")
	hostCmd.Flags().StringVar(&hostRegionPath, "region", "", "Region backing file path")
	hostCmd.Flags().BoolVar(&hostAttach, "attach", false, "Attach to an already initialized region")

	viper.BindPFlag("host.listen_address", hostCmd.Flags().Lookup("listen"))
	viper.BindPFlag("region.path", hostCmd.Flags().Lookup("region"))

	rootCmd.AddCommand(hostCmd)
}

func runHost(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	format, err := cfg.Region.PixelFormat()
	if err != nil {
		return err
	}
	regionCfg := protocol.Config{
		Width:         cfg.Region.Width,
		Height:        cfg.Region.Height,
		Format:        format,
		BufferCount:   cfg.Region.BufferCount,
		AudioCapacity: cfg.Region.AudioCapacity,
	}

	opts := host.Options{
		PollInterval:    time.Duration(cfg.Host.PollIntervalMS) * time.Millisecond,
		LivenessTimeout: time.Duration(cfg.Host.LivenessTimeout) * time.Second,
	}

	var manager *host.Manager
	if hostAttach {
		region, err := shmem.Open(cfg.Region.Path)
		if err != nil {
			return err
		}
		defer region.Close()
		manager, err = host.Attach(region.Bytes(), opts)
		if err != nil {
			return err
		}
		logger.Info("attached to region", "path", region.Name(), "size", region.Size())
		return serveHost(cmd.Context(), cfg, manager)
	}

	lay, err := protocol.NewLayout(regionCfg)
	if err != nil {
		return err
	}
	region, err := shmem.Create(cfg.Region.Path, lay.TotalSize)
	if err != nil {
		return err
	}
	defer region.Close()

	manager, err = host.Init(region.Bytes(), regionCfg, opts)
	if err != nil {
		return err
	}
	logger.Info("region initialized",
		"path", region.Name(), "size", region.Size(),
		"geometry", fmt.Sprintf("%dx%d", regionCfg.Width, regionCfg.Height),
		"buffers", regionCfg.BufferCount)

	return serveHost(cmd.Context(), cfg, manager)
}

func serveHost(parent context.Context, cfg *config.Config, manager *host.Manager) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var injector *input.Manager
	if cfg.Host.InputBackend != "none" {
		backend, err := input.NewBackend(cfg.Host.InputBackend)
		if err != nil {
			logger.Warn("input injection unavailable", "error", err)
		} else {
			injector = input.NewManager(backend)
			defer injector.Close()
			go injector.Run(ctx)
		}
	}

	go manager.Run(ctx)

	addr := hostListenAddr
	if addr == "" {
		addr = cfg.Host.ListenAddress
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewServer(manager, injector),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("control API listening", "addr", addr, "session", manager.Session())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
