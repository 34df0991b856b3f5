// Package config loads the probe tool's TOML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

type Probe struct {
	Host           string   `toml:"host"`
	Port           int      `toml:"port"`
	ConnectTimeout duration `toml:"connect_timeout"`
	FrameMax       int      `toml:"frame_max"`
	TLS            TLS      `toml:"tls"`
}

type TLS struct {
	Enabled  bool   `toml:"enabled"`
	CertFile string `toml:"cert_file"`
	KeyFile  string `toml:"key_file"`
	CAFile   string `toml:"ca_file"`
	Insecure bool   `toml:"insecure"`
}

type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func Load(path string) (Probe, error) {
	var cfg Probe
	data, err := os.ReadFile(path)
	if err != nil {
		return Probe{}, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Probe{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	applyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return Probe{}, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() Probe {
	var cfg Probe
	applyDefaults(&cfg)
	return cfg
}

func applyDefaults(cfg *Probe) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 5672
	}
	if cfg.ConnectTimeout.Duration == 0 {
		cfg.ConnectTimeout.Duration = 10 * time.Second
	}
}

func Validate(cfg Probe) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("port %d out of range", cfg.Port)
	}
	if cfg.FrameMax < 0 {
		return fmt.Errorf("frame_max must not be negative")
	}
	if (cfg.TLS.CertFile == "") != (cfg.TLS.KeyFile == "") {
		return fmt.Errorf("tls cert_file and key_file must be set together")
	}
	return nil
}
