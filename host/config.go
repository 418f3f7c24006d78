package host

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-buslock/buslock"
)

// Config describes one bus and the devices attached to it.
//
// Thread Safety: Safe to read concurrently. Not safe to modify after New.
type Config struct {
	// DedicatedSlots is the number of device ids backed by a physical select line.
	DedicatedSlots int `yaml:"dedicated_slots"`

	// QueueSize bounds each device's queued plus uncollected transactions.
	QueueSize int `yaml:"queue_size"`

	// WeakBackground keeps the background trigger enabled while the bus is idle.
	WeakBackground bool `yaml:"weak_background"`

	// Devices are attached in order when the host starts.
	Devices []DeviceConfig `yaml:"devices"`
}

// DeviceConfig describes one device on the bus.
type DeviceConfig struct {
	Name      string `yaml:"name"`
	Dedicated bool   `yaml:"dedicated"`
	// QueueSize overrides Config.QueueSize when positive.
	QueueSize int `yaml:"queue_size"`
}

// DefaultQueueSize is used when the config leaves queue_size unset.
const DefaultQueueSize = 8

// DefaultConfig returns a bus with three select lines and no devices.
func DefaultConfig() Config {
	return Config{DedicatedSlots: 3, QueueSize: DefaultQueueSize}
}

// LoadConfig reads a YAML config file, fills defaults and validates it.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig decodes YAML on top of DefaultConfig and validates the result.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the config against the lock's fixed capacity.
func (c Config) Validate() error {
	if c.DedicatedSlots < 0 || c.DedicatedSlots > buslock.MaxDevices {
		return fmt.Errorf("dedicated_slots %d out of range [0, %d]", c.DedicatedSlots, buslock.MaxDevices)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("queue_size must be positive, got %d", c.QueueSize)
	}
	if len(c.Devices) > buslock.MaxDevices {
		return fmt.Errorf("%d devices exceed the %d device slots", len(c.Devices), buslock.MaxDevices)
	}

	seen := make(map[string]bool, len(c.Devices))
	dedicated := 0
	for i, d := range c.Devices {
		if d.Name == "" {
			return fmt.Errorf("devices[%d]: name is required", i)
		}
		if seen[d.Name] {
			return fmt.Errorf("devices[%d]: duplicate name %q", i, d.Name)
		}
		seen[d.Name] = true
		if d.QueueSize < 0 {
			return fmt.Errorf("devices[%d]: queue_size must not be negative", i)
		}
		if d.Dedicated {
			dedicated++
		}
	}
	if dedicated > c.DedicatedSlots {
		return fmt.Errorf("%d dedicated devices exceed %d dedicated slots", dedicated, c.DedicatedSlots)
	}
	return nil
}

func (c Config) queueSize(d DeviceConfig) int {
	if d.QueueSize > 0 {
		return d.QueueSize
	}
	return c.QueueSize
}
