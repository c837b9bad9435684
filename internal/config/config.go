// Package config handles configuration management using Viper
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/shmcast/shmcast/internal/protocol"
)

// Config represents the application configuration
type Config struct {
	// Region configuration (shared by host and agent)
	Region RegionConfig `mapstructure:"region"`

	// Host daemon configuration
	Host HostConfig `mapstructure:"host"`

	// Guest agent configuration
	Agent AgentConfig `mapstructure:"agent"`

	// Logging configuration
	Logging LoggingConfig `mapstructure:"logging"`
}

// RegionConfig describes the shared memory region geometry. These values
// size the region at VM setup and are baked into its header.
type RegionConfig struct {
	Path          string `mapstructure:"path"`           // backing file (host) or mapped file (agent dev mode)
	Width         uint32 `mapstructure:"width"`          // frame width in pixels
	Height        uint32 `mapstructure:"height"`         // frame height in pixels
	Format        string `mapstructure:"format"`         // bgra32, rgba32 or nv12
	BufferCount   uint32 `mapstructure:"buffer_count"`   // 2-4, 3 for the wait-free guarantee
	AudioCapacity uint32 `mapstructure:"audio_capacity"` // audio ring bytes
}

// HostConfig contains host-daemon settings
type HostConfig struct {
	ListenAddress   string `mapstructure:"listen_address"`   // HTTP control API
	PollIntervalMS  int    `mapstructure:"poll_interval_ms"` // guest state poll period
	LivenessTimeout int    `mapstructure:"liveness_timeout"` // seconds without progress before stalled
	InputBackend    string `mapstructure:"input_backend"`    // uinput or none
}

// AgentConfig contains guest-agent settings
type AgentConfig struct {
	IVSHMEMIndex  int    `mapstructure:"ivshmem_index"`  // which ivshmem PCI device to attach
	UseFile       bool   `mapstructure:"use_file"`       // map region.path instead of a PCI device
	TargetFPS     int    `mapstructure:"target_fps"`     // frame capture rate
	FrameBackend  string `mapstructure:"frame_backend"`  // x11 or testpattern
	EnableAudio   bool   `mapstructure:"enable_audio"`   // publish audio to the ring
	AudioBackend  string `mapstructure:"audio_backend"`  // pulse or silence
	SampleRate    uint32 `mapstructure:"sample_rate"`    // Hz
	AudioChannels uint32 `mapstructure:"audio_channels"` // 1 or 2
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	LogLevel string `mapstructure:"log_level"` // Override LOG_LEVEL env var
}

var (
	// DefaultConfig provides sensible defaults
	DefaultConfig = Config{
		Region: RegionConfig{
			Path:          "/dev/shm/shmcast",
			Width:         1920,
			Height:        1080,
			Format:        "bgra32",
			BufferCount:   3,
			AudioCapacity: 1024 * 1024,
		},
		Host: HostConfig{
			ListenAddress:   "127.0.0.1:8970",
			PollIntervalMS:  50,
			LivenessTimeout: 5,
			InputBackend:    "uinput",
		},
		Agent: AgentConfig{
			IVSHMEMIndex:  0,
			UseFile:       false,
			TargetFPS:     60,
			FrameBackend:  "x11",
			EnableAudio:   false,
			AudioBackend:  "pulse",
			SampleRate:    48000,
			AudioChannels: 2,
		},
		Logging: LoggingConfig{
			LogLevel: "",
		},
	}

	// Global config instance
	cfg *Config

	// Override config path if set
	configPathOverride string
)

// SetConfigPath allows overriding the config path
func SetConfigPath(path string) {
	configPathOverride = path
}

// Init initializes the configuration system
func Init() error {
	viper.SetConfigName("shmcast")
	viper.SetConfigType("toml")

	if configPathOverride != "" {
		viper.SetConfigFile(configPathOverride)
	} else {
		viper.AddConfigPath("/etc/shmcast")
		if home := os.Getenv("HOME"); home != "" {
			viper.AddConfigPath(filepath.Join(home, ".config", "shmcast"))
		}
		viper.AddConfigPath(".")
	}

	// Set defaults - individual fields so file values merge per key
	viper.SetDefault("region.path", DefaultConfig.Region.Path)
	viper.SetDefault("region.width", DefaultConfig.Region.Width)
	viper.SetDefault("region.height", DefaultConfig.Region.Height)
	viper.SetDefault("region.format", DefaultConfig.Region.Format)
	viper.SetDefault("region.buffer_count", DefaultConfig.Region.BufferCount)
	viper.SetDefault("region.audio_capacity", DefaultConfig.Region.AudioCapacity)

	viper.SetDefault("host.listen_address", DefaultConfig.Host.ListenAddress)
	viper.SetDefault("host.poll_interval_ms", DefaultConfig.Host.PollIntervalMS)
	viper.SetDefault("host.liveness_timeout", DefaultConfig.Host.LivenessTimeout)
	viper.SetDefault("host.input_backend", DefaultConfig.Host.InputBackend)

	viper.SetDefault("agent.ivshmem_index", DefaultConfig.Agent.IVSHMEMIndex)
	viper.SetDefault("agent.use_file", DefaultConfig.Agent.UseFile)
	viper.SetDefault("agent.target_fps", DefaultConfig.Agent.TargetFPS)
	viper.SetDefault("agent.frame_backend", DefaultConfig.Agent.FrameBackend)
	viper.SetDefault("agent.enable_audio", DefaultConfig.Agent.EnableAudio)
	viper.SetDefault("agent.audio_backend", DefaultConfig.Agent.AudioBackend)
	viper.SetDefault("agent.sample_rate", DefaultConfig.Agent.SampleRate)
	viper.SetDefault("agent.audio_channels", DefaultConfig.Agent.AudioChannels)

	viper.SetDefault("logging.log_level", DefaultConfig.Logging.LogLevel)

	// Read config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found, use defaults
	}

	cfg = &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("unable to unmarshal config: %w", err)
	}

	return nil
}

// Get returns the current configuration
func Get() *Config {
	if cfg == nil {
		// Return defaults if not initialized
		return &DefaultConfig
	}
	return cfg
}

// Set sets the current configuration (for testing)
func Set(c *Config) {
	cfg = c
}

// Save saves the current configuration to file
func Save() error {
	configPath := GetConfigPath()

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := viper.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// GetConfigPath returns the path to the config file
func GetConfigPath() string {
	if configPathOverride != "" {
		return configPathOverride
	}

	if viper.ConfigFileUsed() != "" {
		return viper.ConfigFileUsed()
	}

	if os.Getuid() == 0 {
		return "/etc/shmcast/shmcast.toml"
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "/etc/shmcast/shmcast.toml"
	}

	return filepath.Join(home, ".config", "shmcast", "shmcast.toml")
}

// PixelFormat resolves the configured format name. Kept here so both the
// host and agent commands share one parse point.
func (r RegionConfig) PixelFormat() (protocol.PixelFormat, error) {
	if r.Format == "" {
		return protocol.FormatBGRA32, nil
	}
	return protocol.PixelFormatByName(r.Format)
}
