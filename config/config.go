// Package config reads the proxy configuration file.
package config

import (
	"fmt"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"

	responsetransformer "github.com/always-cache/cache-filter/pkg/response-transformer"
)

type Config struct {
	// Listen is the address to serve on.
	Listen string `yaml:"listen"`
	// Admin is the address serving /metrics and /healthz. Empty disables it.
	Admin string `yaml:"admin"`
	// Origin is the URL of the origin server. Origins with paths are not supported.
	Origin string `yaml:"origin"`
	// Host is the hostname to use for origin requests and TLS negotiation.
	Host string `yaml:"host"`
	// Cluster names the origin in cache keys.
	Cluster string                    `yaml:"cluster"`
	Cache   CacheConfig               `yaml:"cache"`
	Rules   responsetransformer.Rules `yaml:"rules"`
	Log     LogConfig                 `yaml:"log"`
}

type CacheConfig struct {
	Backend string `yaml:"backend"`
	// Options are decoded by the backend.
	Options yaml.Node `yaml:"options"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

func Default() Config {
	return Config{
		Listen:  ":8080",
		Admin:   ":9090",
		Cluster: "default",
		Cache: CacheConfig{
			Backend: "simple",
		},
		Log: LogConfig{
			Level: "debug",
		},
	}
}

// Load reads filename on top of the defaults.
func Load(filename string) (Config, error) {
	config := Default()
	configBytes, err := os.ReadFile(filename)
	if err != nil {
		return config, err
	}
	if err := yaml.Unmarshal(configBytes, &config); err != nil {
		return config, fmt.Errorf("parse %s: %w", filename, err)
	}
	return config, nil
}

// Validate checks the fields that have no usable default.
func (c Config) Validate() error {
	if c.Origin == "" {
		return fmt.Errorf("no origin configured")
	}
	u, err := url.Parse(c.Origin)
	if err != nil {
		return fmt.Errorf("origin: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin %q: scheme must be http or https", c.Origin)
	}
	if u.Path != "" && u.Path != "/" {
		return fmt.Errorf("origin %q: origins with paths are not supported", c.Origin)
	}
	if c.Cache.Backend == "" {
		return fmt.Errorf("no cache backend configured")
	}
	return nil
}

// OriginURL returns the parsed origin. Call Validate first.
func (c Config) OriginURL() url.URL {
	u, _ := url.Parse(c.Origin)
	u.Path = ""
	return *u
}

// CacheOptions returns the backend options node, nil if none were given.
func (c Config) CacheOptions() *yaml.Node {
	if c.Cache.Options.Kind == 0 {
		return nil
	}
	return &c.Cache.Options
}
