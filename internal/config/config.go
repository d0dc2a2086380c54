// Package config assembles server settings from defaults, an optional TOML
// file, the environment (with .env support) and command-line overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Duration reads "10s"-style strings from TOML and the environment.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type Config struct {
	ChatAddr string `toml:"chat_addr" validate:"required"`
	FileAddr string `toml:"file_addr" validate:"required"`
	// HTTPAddr serves the admin API and the WebSocket gateway; empty disables both.
	HTTPAddr string `toml:"http_addr"`
	Version  string `toml:"version" validate:"required"`

	// WSOrigins lists host patterns allowed to open cross-origin WebSocket sessions.
	WSOrigins []string `toml:"ws_origins"`

	PingInterval     Duration `toml:"ping_interval" validate:"gt=0,gtfield=PongTimeout"`
	PongTimeout      Duration `toml:"pong_timeout" validate:"gt=0"`
	MoveTimeout      Duration `toml:"move_timeout" validate:"gt=0"`
	RendezvousWait   Duration `toml:"rendezvous_wait" validate:"gte=0"`
	HandshakeTimeout Duration `toml:"handshake_timeout" validate:"gt=0"`
	WriteTimeout     Duration `toml:"write_timeout" validate:"gt=0"`

	DatabaseURL string `toml:"database_url"`

	LogLevel  string `toml:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `toml:"log_format" validate:"oneof=json console"`
}

func Default() Config {
	return Config{
		ChatAddr:         ":1337",
		FileAddr:         ":1338",
		HTTPAddr:         ":8080",
		Version:          "1.6.0",
		PingInterval:     Duration{10 * time.Second},
		PongTimeout:      Duration{3 * time.Second},
		MoveTimeout:      Duration{60 * time.Second},
		RendezvousWait:   Duration{5 * time.Minute},
		HandshakeTimeout: Duration{30 * time.Second},
		WriteTimeout:     Duration{10 * time.Second},
		LogLevel:         "info",
		LogFormat:        "json",
	}
}

// LoadFile overlays a TOML file. Unknown keys are an error.
func (c *Config) LoadFile(path string) error {
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("config file %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	return nil
}

// LoadEnv reads the given .env files (missing ones are skipped) into the
// process environment without overriding it, then applies the variables.
func (c *Config) LoadEnv(envFiles ...string) error {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("env file %s: %w", f, err)
		}
	}

	strs := map[string]*string{
		"CHAT_ADDR":      &c.ChatAddr,
		"FILE_ADDR":      &c.FileAddr,
		"HTTP_ADDR":      &c.HTTPAddr,
		"SERVER_VERSION": &c.Version,
		"DATABASE_URL":   &c.DatabaseURL,
		"LOG_LEVEL":      &c.LogLevel,
		"LOG_FORMAT":     &c.LogFormat,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	if v, ok := os.LookupEnv("WS_ORIGINS"); ok {
		c.WSOrigins = splitList(v)
	}

	durations := map[string]*Duration{
		"PING_INTERVAL":     &c.PingInterval,
		"PONG_TIMEOUT":      &c.PongTimeout,
		"MOVE_TIMEOUT":      &c.MoveTimeout,
		"RENDEZVOUS_WAIT":   &c.RendezvousWait,
		"HANDSHAKE_TIMEOUT": &c.HandshakeTimeout,
		"WRITE_TIMEOUT":     &c.WriteTimeout,
	}
	for key, dst := range durations {
		v, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		if err := dst.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterCustomTypeFunc(func(f reflect.Value) any {
		return f.Interface().(Duration).Duration
	}, Duration{})
	return v
}

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
