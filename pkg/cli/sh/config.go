package sh

import (
	"flag"
	"os"
	"time"
)

// Config provides shell connection settings.
type Config struct {
	// DeviceURL is the link connected on start, empty for none.
	DeviceURL string
	// ReplyWait bounds each device reply.
	ReplyWait time.Duration
}

var defaultConfig = Config{
	ReplyWait: 2 * time.Second,
}

func init() {
	if val := os.Getenv("EDGEFLOW_DEVICE"); val != "" {
		defaultConfig.DeviceURL = val
	}
}

// SetupFlags sets up command line flags.
func SetupFlags() {
	flag.StringVar(&defaultConfig.DeviceURL, "device", defaultConfig.DeviceURL,
		"Device link URL to connect on start.")
	flag.DurationVar(&defaultConfig.ReplyWait, "reply-wait", defaultConfig.ReplyWait,
		"Wait for each device reply.")
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
