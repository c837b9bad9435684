package cmd

import (
	"github.com/spf13/cobra"

	"github.com/shmcast/shmcast/internal/config"
	"github.com/shmcast/shmcast/internal/logger"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "shmcast",
	Short: "shmcast - shared-memory guest display capture",
	Long: `shmcast streams the guest's display, cursor and audio to the host through
a shared IVSHMEM region, and injects host input back into the guest session.
Run "shmcast host" on the hypervisor side and "shmcast agent" inside the VM.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configPath != "" {
			config.SetConfigPath(configPath)
		}
		if err := config.Init(); err != nil {
			return err
		}
		if lvl := config.Get().Logging.LogLevel; lvl != "" {
			logger.SetLevel(lvl)
		}
		return nil
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path")
}
