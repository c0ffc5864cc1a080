package telemetry

import (
	"flag"
	"os"

	"github.com/denisbrodbeck/machineid"
)

// Config provides common options to announce an endpoint.
type Config struct {
	// BrokerURL specifies the MQTT broker, empty disables telemetry.
	// e.g. mqtt://host:port/topic-prefix
	BrokerURL string

	// ID identifies this endpoint on the broker. Empty picks the
	// machine ID.
	ID string
}

var defaultConfig = Config{
	BrokerURL: "mqtt://localhost:1883/edgeflow/",
}

func init() {
	if val := os.Getenv("EDGEFLOW_MQTT_URL"); val != "" {
		defaultConfig.BrokerURL = val
	}
	if val := os.Getenv("EDGEFLOW_ID"); val != "" {
		defaultConfig.ID = val
	}
}

// SetupFlags sets up command line flags.
func SetupFlags() {
	flag.StringVar(&defaultConfig.BrokerURL, "telemetry", defaultConfig.BrokerURL,
		"MQTT broker URL for telemetry, empty to disable.")
	flag.StringVar(&defaultConfig.ID, "id", defaultConfig.ID,
		"Endpoint ID on the broker, default is the machine ID.")
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

// Enabled indicates whether telemetry is configured.
func (c *Config) Enabled() bool {
	return c.BrokerURL != ""
}

// EndpointID resolves the endpoint ID, falling back to the machine ID.
func (c *Config) EndpointID() string {
	if c.ID != "" {
		return c.ID
	}
	return MachineID()
}

// NewPresence creates a Presence for this endpoint.
func (c *Config) NewPresence(meta Meta) (*Presence, error) {
	return NewPresence(c.BrokerURL, c.EndpointID(), meta)
}

// MachineID retrieves the unique ID identifying the machine.
func MachineID() string {
	id, err := machineid.ID()
	if err != nil {
		panic(err)
	}
	return id
}
