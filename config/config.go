package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// Config holds the tunables of an RDT endpoint. Window sizes are in bytes,
// timeouts in milliseconds.
type Config struct {
	SendWindow      int  `yaml:"sendWindow"`      // maximum unacknowledged bytes outstanding
	RecvWindow      int  `yaml:"recvWindow"`      // maximum buffered received bytes
	RtTimeout       int  `yaml:"rtTimeout"`       // retransmission timeout in ms
	TimerInterval   int  `yaml:"timerInterval"`   // tick period in ms
	PayloadPoolSize int  `yaml:"payloadPoolSize"` // number of payload chunks in the ring pool
	PoolDebug       bool `yaml:"poolDebug"`       // ring pool footprint debugging
}

// AppConfig is the process-wide configuration, set by the harness mains.
var AppConfig *Config

func DefaultConfig() *Config {
	return &Config{
		SendWindow:      5760, // four full segments
		RecvWindow:      5760,
		RtTimeout:       1000,
		TimerInterval:   200,
		PayloadPoolSize: 2000,
		PoolDebug:       false,
	}
}

// ReadConfig loads a YAML configuration file. Keys absent from the file keep
// their default values.
func ReadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config file %s", path)
	}
	if err := yaml.Unmarshal(content, cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing config file %s", path)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.SendWindow <= 0 || c.RecvWindow <= 0 {
		return errors.New("sendWindow and recvWindow must be positive")
	}
	if c.RtTimeout <= 0 || c.TimerInterval <= 0 {
		return errors.New("rtTimeout and timerInterval must be positive")
	}
	if c.RtTimeout < c.TimerInterval {
		return errors.Errorf("rtTimeout (%dms) must not be shorter than timerInterval (%dms)", c.RtTimeout, c.TimerInterval)
	}
	if c.PayloadPoolSize <= 0 {
		return errors.New("payloadPoolSize must be positive")
	}
	return nil
}
