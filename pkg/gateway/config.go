package gateway

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config collects gateway settings.
type Config struct {
	// Port is the HTTP listen port.
	Port int
	// DeviceURL locates the serving device.
	DeviceURL string
	// StageDir receives uploaded model files.
	StageDir string
	// FlashCmd deploys a staged model, empty to stage only.
	FlashCmd string
	// ProbeWait bounds a device metadata query.
	ProbeWait time.Duration
	// InferWait bounds one single-sample inference.
	InferWait time.Duration
	// SettleWait is the reboot grace period after flashing.
	SettleWait time.Duration
	// FlashWait bounds the flash command.
	FlashWait time.Duration
}

var defaultConfig = Config{
	Port:       8080,
	DeviceURL:  "serial:///dev/ttyACM0?baud=115200",
	StageDir:   "spiffs_image",
	ProbeWait:  6 * time.Second,
	InferWait:  10 * time.Second,
	SettleWait: 1500 * time.Millisecond,
	FlashWait:  10 * time.Minute,
}

func init() {
	if v := os.Getenv("EDGEFLOW_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			defaultConfig.Port = p
		}
	}
	if v := os.Getenv("EDGEFLOW_DEVICE"); v != "" {
		defaultConfig.DeviceURL = v
	}
	if v := os.Getenv("EDGEFLOW_STAGE_DIR"); v != "" {
		defaultConfig.StageDir = v
	}
	if v := os.Getenv("EDGEFLOW_FLASH_CMD"); v != "" {
		defaultConfig.FlashCmd = v
	}
}

// SetupFlags registers gateway flags using defaults from the
// environment.
func SetupFlags() {
	flag.IntVar(&defaultConfig.Port, "port", defaultConfig.Port,
		"HTTP listen port")
	flag.StringVar(&defaultConfig.DeviceURL, "device", defaultConfig.DeviceURL,
		"device link URL")
	flag.StringVar(&defaultConfig.StageDir, "stage-dir", defaultConfig.StageDir,
		"directory for staged model files")
	flag.StringVar(&defaultConfig.FlashCmd, "flash-cmd", defaultConfig.FlashCmd,
		"shell command deploying a staged model")
	flag.DurationVar(&defaultConfig.SettleWait, "settle-wait", defaultConfig.SettleWait,
		"reboot grace period after flashing")
}

// Default gets the default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a Config with default configurations.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}

// Addr formats the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// NewManager builds a device manager from the configuration.
func (c *Config) NewManager() *Manager {
	return &Manager{
		LinkURL:    c.DeviceURL,
		ProbeWait:  c.ProbeWait,
		InferWait:  c.InferWait,
		StageDir:   c.StageDir,
		FlashCmd:   c.FlashCmd,
		FlashWait:  c.FlashWait,
		SettleWait: c.SettleWait,
	}
}
