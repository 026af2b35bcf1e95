package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/TobiSchelling/hiercluster/internal/cluster"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Clustering Clustering `yaml:"clustering"`
	Output     Output     `yaml:"output"`
	Server     Server     `yaml:"server"`
	Logging    Logging    `yaml:"logging"`
}

type Clustering struct {
	NumClusters    int      `yaml:"num_clusters"`
	Linkage        string   `yaml:"linkage"`
	Distance       string   `yaml:"distance"`
	CacheDistances bool     `yaml:"cache_distances"`
	Columns        []string `yaml:"columns"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// ConfigDir returns the XDG config directory for hiercluster.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "hiercluster")
}

// DataDir returns the XDG data directory for hiercluster.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "hiercluster")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/hiercluster/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'hiercluster init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// Default returns the built-in configuration, used when no file exists.
func Default() *Config {
	cfg, err := parse(DefaultConfigYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded default config: %v", err))
	}
	return cfg
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Clustering: Clustering{
			NumClusters: 3,
			Linkage:     cluster.Single.String(),
			Distance:    cluster.Euclidean{}.String(),
		},
		Server:  Server{Port: 8000},
		Logging: Logging{Level: "INFO"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// ClusterOptions converts the clustering section into engine options.
func (c *Config) ClusterOptions() cluster.Options {
	return cluster.Options{
		NumClusters:    c.Clustering.NumClusters,
		Linkage:        c.Clustering.Linkage,
		Distance:       c.Clustering.Distance,
		CacheDistances: c.Clustering.CacheDistances,
		Columns:        append([]string(nil), c.Clustering.Columns...),
	}
}

// LogLevel parses logging.level. Python-style WARNING and CRITICAL are
// accepted as aliases.
func (c *Config) LogLevel() (logrus.Level, error) {
	name := strings.ToLower(strings.TrimSpace(c.Logging.Level))
	switch name {
	case "":
		return logrus.InfoLevel, nil
	case "warning":
		name = "warn"
	case "critical":
		name = "fatal"
	}
	lvl, err := logrus.ParseLevel(name)
	if err != nil {
		return logrus.InfoLevel, fmt.Errorf("logging.level: %w", err)
	}
	return lvl, nil
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
