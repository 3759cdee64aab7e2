package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"tickbridge.ai/internal/bridge"
	"tickbridge.ai/internal/logging"
)

// EnvPrefix prefixes environment overrides: bridge.tick_timeout is read from
// TICKBRIDGE_BRIDGE_TICK_TIMEOUT.
const EnvPrefix = "TICKBRIDGE"

type Config struct {
	Log    logging.Config `mapstructure:"log"`
	Bridge BridgeConfig   `mapstructure:"bridge"`
	MCP    MCPConfig      `mapstructure:"mcp"`
	Record RecordConfig   `mapstructure:"record"`
	Arena  ArenaConfig    `mapstructure:"arena"`
}

type BridgeConfig struct {
	ConnectTimeout     time.Duration `mapstructure:"connect_timeout"`
	TickTimeout        time.Duration `mapstructure:"tick_timeout"`
	MaxSessions        int           `mapstructure:"max_sessions"`
	MaxParallelConnect int           `mapstructure:"max_parallel_connect"`
	TrackingRadius     float64       `mapstructure:"tracking_radius"`
	AuthToken          string        `mapstructure:"auth_token"`
	WSPath             string        `mapstructure:"ws_path"`
}

type MCPConfig struct {
	Listen          string `mapstructure:"listen"`
	HMACSecret      string `mapstructure:"hmac_secret"`
	RequireHMAC     bool   `mapstructure:"require_hmac"`
	AllowLegacyHMAC bool   `mapstructure:"allow_legacy_hmac"`
	// EmbedArena makes cmd/mcp also run the arena server described by Arena.
	EmbedArena bool `mapstructure:"embed_arena"`
}

type RecordConfig struct {
	Dir     string `mapstructure:"dir"`      // empty disables trajectory logs
	IndexDB string `mapstructure:"index_db"` // empty disables the sqlite index
}

type ArenaConfig struct {
	Listen    string `mapstructure:"listen"`
	Tuning    string `mapstructure:"tuning"`
	AuthToken string `mapstructure:"auth_token"`
	Lockstep  bool   `mapstructure:"lockstep"`
	LogDir    string `mapstructure:"log_dir"`
	IndexDB   string `mapstructure:"index_db"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("bridge.connect_timeout", "10s")
	v.SetDefault("bridge.tick_timeout", "2s")
	v.SetDefault("bridge.max_sessions", 256)
	v.SetDefault("bridge.max_parallel_connect", 8)
	v.SetDefault("bridge.tracking_radius", 0.0)
	v.SetDefault("bridge.auth_token", "")
	v.SetDefault("bridge.ws_path", "/v1/ws")

	v.SetDefault("mcp.listen", "127.0.0.1:8090")
	v.SetDefault("mcp.hmac_secret", "")
	v.SetDefault("mcp.require_hmac", false)
	v.SetDefault("mcp.allow_legacy_hmac", false)
	v.SetDefault("mcp.embed_arena", false)

	v.SetDefault("record.dir", "")
	v.SetDefault("record.index_db", "")

	v.SetDefault("arena.listen", "127.0.0.1:25565")
	v.SetDefault("arena.tuning", "./configs/tuning.yaml")
	v.SetDefault("arena.auth_token", "")
	v.SetDefault("arena.lockstep", true)
	v.SetDefault("arena.log_dir", "./data/arena")
	v.SetDefault("arena.index_db", "")
}

// Load reads defaults, then the YAML file at path (if non-empty), then
// TICKBRIDGE_* environment variables.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	b := c.Bridge
	if b.ConnectTimeout <= 0 {
		errs = append(errs, fmt.Errorf("bridge.connect_timeout must be positive"))
	}
	if b.TickTimeout <= 0 {
		errs = append(errs, fmt.Errorf("bridge.tick_timeout must be positive"))
	}
	if b.MaxSessions <= 0 {
		errs = append(errs, fmt.Errorf("bridge.max_sessions must be positive"))
	}
	if b.MaxParallelConnect <= 0 {
		errs = append(errs, fmt.Errorf("bridge.max_parallel_connect must be positive"))
	}
	if b.TrackingRadius < 0 {
		errs = append(errs, fmt.Errorf("bridge.tracking_radius must not be negative"))
	}
	if !strings.HasPrefix(b.WSPath, "/") {
		errs = append(errs, fmt.Errorf("bridge.ws_path must start with /"))
	}
	if c.MCP.RequireHMAC && c.MCP.HMACSecret == "" {
		errs = append(errs, fmt.Errorf("mcp.require_hmac needs mcp.hmac_secret"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be console or json"))
	}
	return errors.Join(errs...)
}

// BridgeManager returns the bridge manager settings.
func (c Config) BridgeManager() bridge.Config {
	return bridge.Config{
		ConnectTimeout:     c.Bridge.ConnectTimeout,
		TickTimeout:        c.Bridge.TickTimeout,
		MaxSessions:        c.Bridge.MaxSessions,
		MaxParallelConnect: c.Bridge.MaxParallelConnect,
		TrackingRadius:     c.Bridge.TrackingRadius,
		AuthToken:          c.Bridge.AuthToken,
	}
}

// LoadDotEnv exports KEY=VALUE pairs from path into the process environment
// before Load reads TICKBRIDGE_* overrides. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}
