// Package config loads tickvm.yaml: the file is parsed as YAML, validated
// against an embedded JSON Schema, then decoded over the defaults.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/aretw0/tickvm/pkg/sandbox"
)

// DefaultPath is read by the CLI when no --config flag is given.
const DefaultPath = "tickvm.yaml"

//go:embed schema.json
var schemaJSON string

// Config is the full tickvm configuration.
type Config struct {
	LogLevel      string        `mapstructure:"log_level"`
	FuelPerTick   int64         `mapstructure:"fuel_per_tick"`
	SnapshotEvery uint64        `mapstructure:"snapshot_every"`
	TickRate      time.Duration `mapstructure:"tick_rate"`
	Store         StoreConfig   `mapstructure:"store"`
	HTTP          HTTPConfig    `mapstructure:"http"`
}

// StoreConfig selects and configures the snapshot store.
type StoreConfig struct {
	Kind          string        `mapstructure:"kind"`
	Path          string        `mapstructure:"path"`
	EncryptionKey string        `mapstructure:"encryption_key"`
	LockTTL       time.Duration `mapstructure:"lock_ttl"`
	Redis         RedisConfig   `mapstructure:"redis"`
}

// RedisConfig configures the redis store and locker.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Addr         string `mapstructure:"addr"`
	MaxBodyBytes int64  `mapstructure:"max_body_bytes"`
}

// Default returns the configuration used for absent keys.
func Default() Config {
	return Config{
		LogLevel:      "info",
		FuelPerTick:   sandbox.DefaultFuelPerTick,
		SnapshotEvery: 8,
		TickRate:      time.Second / 60,
		Store: StoreConfig{
			Kind:    "memory",
			LockTTL: 30 * time.Second,
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "tickvm:session:",
			},
		},
		HTTP: HTTPConfig{
			Addr:         ":8080",
			MaxBodyBytes: 4 << 20,
		},
	}
}

var schema = func() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("tickvm.schema.json", strings.NewReader(schemaJSON)); err != nil {
		panic(err)
	}
	return c.MustCompile("tickvm.schema.json")
}()

// Load reads and parses the file at path. A missing file at DefaultPath
// yields the defaults; any other missing file is an error.
func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && path == DefaultPath {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse validates and decodes YAML (or JSON) configuration data.
func Parse(data []byte) (Config, error) {
	cfg := Default()

	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return cfg, fmt.Errorf("invalid yaml: %w", err)
	}
	if raw == nil {
		return cfg, nil
	}

	// Normalize to JSON values so the schema sees json.Number, not int.
	doc, err := toJSON(raw)
	if err != nil {
		return cfg, err
	}
	if err := schema.Validate(doc); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           &cfg,
	})
	if err != nil {
		return cfg, err
	}
	if err := dec.Decode(doc); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func toJSON(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("config is not representable as JSON: %w", err)
	}
	d := json.NewDecoder(bytes.NewReader(b))
	d.UseNumber()
	var out any
	if err := d.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
