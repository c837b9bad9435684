package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/shmcast/shmcast/internal/agent"
	"github.com/shmcast/shmcast/internal/config"
	"github.com/shmcast/shmcast/internal/logger"
	"github.com/shmcast/shmcast/internal/shmem"
)

var (
	agentUseFile      bool
	agentFrameBackend string
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the guest-side capture agent",
	Long: `Run the capture agent inside the VM. It maps the IVSHMEM PCI device
(or the region backing file in development mode), waits for host commands,
and publishes frames, cursor updates and audio into the shared region.`,
	RunE: runAgent,
}

func init() {
	agentCmd.Flags().BoolVar(&agentUseFile, "file", false, "Map region.path instead of an IVSHMEM device")
	agentCmd.Flags().StringVar(&agentFrameBackend, "backend", "", "Frame backend (x11, testpattern)")

	viper.BindPFlag("agent.use_file", agentCmd.Flags().Lookup("file"))
	viper.BindPFlag("agent.frame_backend", agentCmd.Flags().Lookup("backend"))

	rootCmd.AddCommand(agentCmd)
}

func runAgent(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	var (
		region *shmem.Region
		err    error
	)
	if cfg.Agent.UseFile {
		region, err = shmem.Open(cfg.Region.Path)
	} else {
		region, err = shmem.OpenIVSHMEM(cfg.Agent.IVSHMEMIndex)
	}
	if err != nil {
		return err
	}
	defer region.Close()
	logger.Info("region mapped", "name", region.Name(), "size", region.Size())

	opts := agent.DefaultOptions()
	if cfg.Agent.FrameBackend != "" {
		opts.FrameBackend = cfg.Agent.FrameBackend
		opts.CursorBackend = cfg.Agent.FrameBackend
	}
	if cfg.Agent.TargetFPS > 0 {
		opts.FPS = cfg.Agent.TargetFPS
	}
	if !cfg.Agent.EnableAudio {
		opts.AudioBackend = "silence"
	} else if cfg.Agent.AudioBackend != "" {
		opts.AudioBackend = cfg.Agent.AudioBackend
	}
	if cfg.Agent.SampleRate > 0 {
		opts.SampleRate = cfg.Agent.SampleRate
	}
	if cfg.Agent.AudioChannels > 0 {
		opts.Channels = uint16(cfg.Agent.AudioChannels)
	}

	a, err := agent.New(region.Bytes(), opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("agent running", "fps", opts.FPS, "frame_backend", opts.FrameBackend,
		"audio_backend", opts.AudioBackend)
	start := time.Now()
	err = a.Run(ctx)
	logger.Info("agent stopped", "uptime", time.Since(start).Round(time.Second))
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
