package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shmcast/shmcast/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()
		fmt.Printf("config file: %s\n\n", config.GetConfigPath())
		fmt.Printf("[region]\n")
		fmt.Printf("  path           = %s\n", cfg.Region.Path)
		fmt.Printf("  geometry       = %dx%d %s\n", cfg.Region.Width, cfg.Region.Height, cfg.Region.Format)
		fmt.Printf("  buffer_count   = %d\n", cfg.Region.BufferCount)
		fmt.Printf("  audio_capacity = %d\n", cfg.Region.AudioCapacity)
		fmt.Printf("[host]\n")
		fmt.Printf("  listen_address = %s\n", cfg.Host.ListenAddress)
		fmt.Printf("  input_backend  = %s\n", cfg.Host.InputBackend)
		fmt.Printf("[agent]\n")
		fmt.Printf("  frame_backend  = %s\n", cfg.Agent.FrameBackend)
		fmt.Printf("  audio_backend  = %s\n", cfg.Agent.AudioBackend)
		fmt.Printf("  target_fps     = %d\n", cfg.Agent.TargetFPS)
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Save(); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", config.GetConfigPath())
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}
