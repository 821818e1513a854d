package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Feed   FeedConfig   `yaml:"feed" toml:"feed"`
	Log    LogConfig    `yaml:"log" toml:"log"`
	Web    WebConfig    `yaml:"web" toml:"web"`
	UDP    UDPConfig    `yaml:"udp" toml:"udp"`
	NATS   NATSConfig   `yaml:"nats" toml:"nats"`
	Record RecordConfig `yaml:"record" toml:"record"`
}

type FeedConfig struct {
	Name string `yaml:"name" toml:"name"`

	// Source is one of serial, tcp, gpsd, file, replay.
	Source string `yaml:"source" toml:"source"`

	Device    string `yaml:"device" toml:"device"`
	Baud      int    `yaml:"baud" toml:"baud"`
	Exclusive bool   `yaml:"exclusive" toml:"exclusive"`

	Addr           string        `yaml:"addr" toml:"addr"`
	DialTimeout    time.Duration `yaml:"dial_timeout" toml:"dial_timeout"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay" toml:"reconnect_delay"`
	MaxBackoff     time.Duration `yaml:"max_backoff" toml:"max_backoff"`

	// Path is a raw NMEA dump (file) or a capture log (replay).
	Path string `yaml:"path" toml:"path"`
	// Speed scales replay pacing; 0 replays unpaced. Defaults to 1 when unset.
	Speed *float64 `yaml:"speed" toml:"speed"`
	Loop  bool     `yaml:"loop" toml:"loop"`

	// ReadChunk is the transport read size in bytes; 0 picks the feed default.
	ReadChunk int `yaml:"read_chunk" toml:"read_chunk"`

	// SuppressFirstError defaults to true for live sources (serial, tcp,
	// gpsd), which are usually joined mid-sentence, and false otherwise.
	SuppressFirstError *bool `yaml:"suppress_first_error" toml:"suppress_first_error"`
}

type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
	// Sentences logs every decoded sentence at debug level.
	Sentences bool `yaml:"sentences" toml:"sentences"`
}

type WebConfig struct {
	Enable   bool   `yaml:"enable" toml:"enable"`
	Listen   string `yaml:"listen" toml:"listen"`
	LogLines int    `yaml:"log_lines" toml:"log_lines"`
}

type UDPConfig struct {
	Enable bool   `yaml:"enable" toml:"enable"`
	Dest   string `yaml:"dest" toml:"dest"`
	// ForwardInvalid also forwards sentences whose checksum did not match.
	ForwardInvalid bool `yaml:"forward_invalid" toml:"forward_invalid"`
}

type NATSConfig struct {
	Enable bool   `yaml:"enable" toml:"enable"`
	URL    string `yaml:"url" toml:"url"`
	Prefix string `yaml:"prefix" toml:"prefix"`
}

type RecordConfig struct {
	Enable bool   `yaml:"enable" toml:"enable"`
	Path   string `yaml:"path" toml:"path"`
}

// Load reads a YAML config, or TOML when path ends in .toml, and applies
// defaults.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = decodeTOML(b, &cfg)
	} else {
		err = decodeYAML(b, &cfg)
	}
	if err != nil {
		return Config{}, err
	}

	if err := applyDefaults(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Defaults returns the configuration used when no file is given: a serial
// feed on an auto-detected device.
func Defaults() Config {
	var cfg Config
	// The zero config always validates.
	_ = applyDefaults(&cfg)
	return cfg
}

// OverrideDevice switches the feed to the given serial device, keeping the
// rest of the configuration.
func OverrideDevice(cfg *Config, device string) error {
	device = strings.TrimSpace(device)
	if device == "" {
		return nil
	}
	if cfg.Feed.Name == cfg.Feed.Source {
		cfg.Feed.Name = ""
	}
	cfg.Feed.Source = "serial"
	cfg.Feed.Device = device
	cfg.Feed.SuppressFirstError = nil
	return applyDefaults(cfg)
}

func decodeYAML(b []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		var te *yaml.TypeError
		if errors.As(err, &te) {
			return fmt.Errorf("config contains unknown fields: %s", strings.Join(te.Errors, "; "))
		}
		return fmt.Errorf("config parse failed: %w", err)
	}
	return nil
}

func decodeTOML(b []byte, cfg *Config) error {
	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return fmt.Errorf("config parse failed: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return fmt.Errorf("config contains unknown fields: %s", strings.Join(keys, ", "))
	}
	return nil
}

func applyDefaults(cfg *Config) error {
	f := &cfg.Feed
	f.Source = strings.ToLower(strings.TrimSpace(f.Source))
	if f.Source == "" {
		f.Source = "serial"
	}
	if f.Name == "" {
		f.Name = f.Source
	}

	live := false
	switch f.Source {
	case "serial":
		live = true
		if f.Baud == 0 {
			f.Baud = 4800
		}
	case "tcp":
		live = true
		if strings.TrimSpace(f.Addr) == "" {
			return fmt.Errorf("feed.addr is required when feed.source is 'tcp'")
		}
		if f.ReconnectDelay <= 0 {
			f.ReconnectDelay = 1 * time.Second
		}
	case "gpsd":
		live = true
		if strings.TrimSpace(f.Addr) == "" {
			f.Addr = "127.0.0.1:2947"
		}
		if f.ReconnectDelay <= 0 {
			f.ReconnectDelay = 1 * time.Second
		}
	case "file", "replay":
		if strings.TrimSpace(f.Path) == "" {
			return fmt.Errorf("feed.path is required when feed.source is '%s'", f.Source)
		}
		if f.Speed != nil && *f.Speed < 0 {
			return fmt.Errorf("feed.speed must be >= 0")
		}
		if f.Source == "replay" && f.Speed == nil {
			one := 1.0
			f.Speed = &one
		}
	default:
		return fmt.Errorf("feed.source must be one of serial, tcp, gpsd, file, replay")
	}
	if f.SuppressFirstError == nil {
		f.SuppressFirstError = &live
	}
	if f.DialTimeout < 0 || f.MaxBackoff < 0 {
		return fmt.Errorf("feed.dial_timeout and feed.max_backoff must be >= 0")
	}
	if f.ReadChunk < 0 {
		return fmt.Errorf("feed.read_chunk must be >= 0")
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	cfg.Log.Format = strings.ToLower(cfg.Log.Format)
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Format != "console" && cfg.Log.Format != "json" {
		return fmt.Errorf("log.format must be 'console' or 'json'")
	}

	if cfg.Web.Listen == "" {
		cfg.Web.Listen = ":8080"
	}
	if cfg.Web.LogLines <= 0 {
		cfg.Web.LogLines = 2000
	}

	if cfg.UDP.Enable && strings.TrimSpace(cfg.UDP.Dest) == "" {
		return fmt.Errorf("udp.dest is required when udp.enable is true")
	}

	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://127.0.0.1:4222"
	}
	if cfg.NATS.Prefix == "" {
		cfg.NATS.Prefix = "nmea"
	}

	if cfg.Record.Enable {
		if cfg.Record.Path == "" {
			return fmt.Errorf("record.path is required when record.enable is true")
		}
		if f.Source == "replay" {
			return fmt.Errorf("record cannot be used with feed.source=replay")
		}
	}
	return nil
}
