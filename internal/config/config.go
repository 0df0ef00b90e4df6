package config

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	appdefaults "github.com/saker-ai/lsf-avatar/config"

	"github.com/saker-ai/lsf-avatar/internal/logger"
	"github.com/spf13/viper"
)

const envPrefix = "lsf"

// SystemConfig holds the listen host and port used when http_addr is empty.
type SystemConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// BroadcastConfig tunes viewer fan-out.
type BroadcastConfig struct {
	QueueSize        int           `mapstructure:"queue_size"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	ConnectedMessage string        `mapstructure:"connected_message"`
}

// RedisConfig enables the cross-instance relay when URL is set.
type RedisConfig struct {
	URL     string `mapstructure:"url"`
	Channel string `mapstructure:"channel"`
}

// Trigger maps a play clip id to the transient asset that renders it.
type Trigger struct {
	Clip  string `mapstructure:"clip"`
	Asset string `mapstructure:"asset"`
}

// ViewerConfig configures the headless viewer client.
type ViewerConfig struct {
	ServerURL    string        `mapstructure:"server_url"`
	BaseAsset    string        `mapstructure:"base_asset"`
	Triggers     []Trigger     `mapstructure:"triggers"`
	ManifestPath string        `mapstructure:"manifest_path"`
	FrameRate    int           `mapstructure:"frame_rate"`
	ReconnectMin time.Duration `mapstructure:"reconnect_min"`
	ReconnectMax time.Duration `mapstructure:"reconnect_max"`
}

// Config is the process-wide configuration.
type Config struct {
	RootDir      string          `mapstructure:"-"`
	HTTPAddr     string          `mapstructure:"http_addr"`
	IntentsPath  string          `mapstructure:"intents_path"`
	FrontendDir  string          `mapstructure:"frontend_dir"`
	TLSCertPath  string          `mapstructure:"tls_cert_path"`
	TLSKeyPath   string          `mapstructure:"tls_key_path"`
	SystemConfig SystemConfig    `mapstructure:"system_config"`
	Broadcast    BroadcastConfig `mapstructure:"broadcast"`
	Redis        RedisConfig     `mapstructure:"redis"`
	Viewer       ViewerConfig    `mapstructure:"viewer"`
	Log          logger.Config   `mapstructure:"log"`
}

// Load reads the embedded defaults, then conf.yaml from the discovered root dir.
func Load() (Config, error) {
	rootDir, err := resolveRootDir()
	if err != nil {
		return Config{}, err
	}

	v, err := newViper()
	if err != nil {
		return Config{}, err
	}
	v.SetConfigName("conf")
	v.SetConfigType("yaml")
	v.AddConfigPath(rootDir)

	if err := v.MergeInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, err
		}
	}
	return decode(v, rootDir)
}

// LoadConfig reads configPath over the embedded defaults. An empty path falls back to Load.
func LoadConfig(configPath string) (Config, error) {
	path := strings.TrimSpace(configPath)
	if path == "" {
		return Load()
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, err
	}

	rootDir := strings.TrimSpace(os.Getenv("LSF_ROOT_DIR"))
	if rootDir == "" {
		rootDir = filepath.Dir(absPath)
		if filepath.Base(rootDir) == "config" {
			rootDir = filepath.Dir(rootDir)
		}
	}

	v, err := newViper()
	if err != nil {
		return Config{}, err
	}
	v.SetConfigFile(absPath)
	if err := v.MergeInConfig(); err != nil {
		return Config{}, fmt.Errorf("read %s: %w", absPath, err)
	}
	return decode(v, rootDir)
}

func newViper() (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(appdefaults.Default)); err != nil {
		return nil, fmt.Errorf("load embedded config: %w", err)
	}

	v.SetDefault("http_addr", "")
	v.SetDefault("tls_cert_path", "")
	v.SetDefault("tls_key_path", "")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v, nil
}

func decode(v *viper.Viper, rootDir string) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.RootDir = rootDir
	deriveHTTPAddr(&cfg)
	derivePaths(&cfg)
	applyDefaults(&cfg)
	return cfg, nil
}

func deriveHTTPAddr(cfg *Config) {
	if cfg.HTTPAddr != "" {
		return
	}
	host := cfg.SystemConfig.Host
	port := cfg.SystemConfig.Port
	if port == 0 {
		port = 3000
	}
	if host == "" {
		cfg.HTTPAddr = fmt.Sprintf(":%d", port)
		return
	}
	cfg.HTTPAddr = net.JoinHostPort(host, strconv.Itoa(port))
}

func resolveRootDir() (string, error) {
	if root := strings.TrimSpace(os.Getenv("LSF_ROOT_DIR")); root != "" {
		return filepath.Abs(root)
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	dir := wd
	for i := 0; i < 6; i++ {
		if fileExists(filepath.Join(dir, "conf.yaml")) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return wd, nil
}

func derivePaths(cfg *Config) {
	cfg.IntentsPath = resolvePath(cfg.RootDir, cfg.IntentsPath, "intents_lsf.json")
	cfg.FrontendDir = resolvePath(cfg.RootDir, cfg.FrontendDir, "public")
	cfg.Viewer.ManifestPath = resolvePath(cfg.RootDir, cfg.Viewer.ManifestPath, "assets.yaml")
	if cfg.TLSCertPath != "" {
		cfg.TLSCertPath = resolvePath(cfg.RootDir, cfg.TLSCertPath, "")
	}
	if cfg.TLSKeyPath != "" {
		cfg.TLSKeyPath = resolvePath(cfg.RootDir, cfg.TLSKeyPath, "")
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Broadcast.QueueSize <= 0 {
		cfg.Broadcast.QueueSize = 64
	}
	if cfg.Broadcast.WriteTimeout <= 0 {
		cfg.Broadcast.WriteTimeout = 5 * time.Second
	}
	if cfg.Redis.Channel == "" {
		cfg.Redis.Channel = "lsf-avatar:commands"
	}
	if cfg.Viewer.FrameRate <= 0 {
		cfg.Viewer.FrameRate = 30
	}
	if cfg.Viewer.ReconnectMin <= 0 {
		cfg.Viewer.ReconnectMin = time.Second
	}
	if cfg.Viewer.ReconnectMax < cfg.Viewer.ReconnectMin {
		cfg.Viewer.ReconnectMax = 30 * time.Second
	}
}

// TLSEnabled reports whether both certificate files are configured and present.
func (c Config) TLSEnabled() bool {
	return c.TLSCertPath != "" && c.TLSKeyPath != "" && fileExists(c.TLSCertPath) && fileExists(c.TLSKeyPath)
}

func resolvePath(rootDir string, configured string, fallback string) string {
	path := strings.TrimSpace(configured)
	if path == "" {
		path = fallback
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(rootDir, path)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
