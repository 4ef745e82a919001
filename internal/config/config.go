package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Module    ModuleConfig    `mapstructure:"module"`
	Auth      AuthConfig      `mapstructure:"auth"`
	SaveState SaveStateConfig `mapstructure:"savestate"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig controls the introspection servers. A zero port disables the
// corresponding server.
type ServerConfig struct {
	GRPCPort        int           `mapstructure:"grpc_port"`
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type GatewayConfig struct {
	Transport      string        `mapstructure:"transport"` // memory | nats
	URL            string        `mapstructure:"url"`
	SubjectPrefix  string        `mapstructure:"subject_prefix"`
	ClientName     string        `mapstructure:"client_name"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	SettleDelay    time.Duration `mapstructure:"settle_delay"`
	HandlerGrace   time.Duration `mapstructure:"handler_grace"`
	DrainGrace     time.Duration `mapstructure:"drain_grace"`
}

// ModuleConfig holds the static facts a module announces about itself.
type ModuleConfig struct {
	Name                    string   `mapstructure:"name"`
	Description             string   `mapstructure:"description"`
	Manufacturer            string   `mapstructure:"manufacturer"`
	SerialNumber            string   `mapstructure:"serial_number"`
	Version                 string   `mapstructure:"version"`
	StatusName              string   `mapstructure:"status_name"`
	Capabilities            []string `mapstructure:"capabilities"`
	CapabilitySchema        string   `mapstructure:"capability_schema"`
	CapabilityConfiguration string   `mapstructure:"capability_configuration"`
	SearchPaths             []string `mapstructure:"search_paths"`
	TickSubscription        bool     `mapstructure:"tick_subscription"`
	StatusRepublish         string   `mapstructure:"status_republish"` // cron spec, empty disables
}

// Auth Configuration
type AuthConfig struct {
	JWTSecretEnv         string        `mapstructure:"jwt_secret_env"`
	AccessTokenTTL       time.Duration `mapstructure:"access_token_ttl"`
	OperatorUser         string        `mapstructure:"operator_user"`
	OperatorPasswordHash string        `mapstructure:"operator_password_hash"`
	MachineTokenHashes   []string      `mapstructure:"machine_token_hashes"`
}

type SaveStateConfig struct {
	Driver         string        `mapstructure:"driver"` // postgres | sqlite
	DSN            string        `mapstructure:"dsn"`
	Path           string        `mapstructure:"path"`
	MaxConnections int           `mapstructure:"max_connections"`
	SaveWindow     time.Duration `mapstructure:"save_window"`
	SaveLead       time.Duration `mapstructure:"save_lead"` // configurations held before a SAVE
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Load reads the YAML file at path (optional when empty) and overlays OSM_*
// environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Environment Variables automatisch binden
	v.SetEnvPrefix("OSM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	// Defaults setzen
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("gateway.transport", "memory")
	v.SetDefault("gateway.url", "nats://127.0.0.1:4222")
	v.SetDefault("gateway.subject_prefix", "amm")
	v.SetDefault("gateway.client_name", "")
	v.SetDefault("gateway.connect_timeout", "5s")
	v.SetDefault("gateway.reconnect_wait", "2s")
	v.SetDefault("gateway.max_reconnects", -1)
	v.SetDefault("gateway.settle_delay", "250ms")
	v.SetDefault("gateway.handler_grace", "2s")
	v.SetDefault("gateway.drain_grace", "100ms")

	v.SetDefault("module.name", "Example Module")
	v.SetDefault("module.description", "An example module for demo purposes.")
	v.SetDefault("module.manufacturer", "VCOM3D")
	v.SetDefault("module.serial_number", "0000")
	v.SetDefault("module.version", "1.0.0")
	v.SetDefault("module.status_name", "")
	v.SetDefault("module.capabilities", []string{"Foo"})
	v.SetDefault("module.capability_schema", "CapabilitiesSchema.xml")
	v.SetDefault("module.capability_configuration", "CapabilitiesConfiguration.xml")
	v.SetDefault("module.search_paths", []string{"configs"})
	v.SetDefault("module.tick_subscription", true)
	v.SetDefault("module.status_republish", "")

	// Auth Defaults
	v.SetDefault("auth.jwt_secret_env", "JWT_SECRET")
	v.SetDefault("auth.access_token_ttl", "60m")
	v.SetDefault("auth.operator_user", "operator")
	v.SetDefault("auth.operator_password_hash", "")
	v.SetDefault("auth.machine_token_hashes", []string{})

	v.SetDefault("savestate.driver", "sqlite")
	v.SetDefault("savestate.dsn", "")
	v.SetDefault("savestate.path", "savestates.db")
	v.SetDefault("savestate.max_connections", 4)
	v.SetDefault("savestate.save_window", "2s")
	v.SetDefault("savestate.save_lead", "500ms")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// Validate checks settings that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	switch c.Gateway.Transport {
	case "memory":
	case "nats":
		if c.Gateway.URL == "" {
			return fmt.Errorf("gateway.url is required for the nats transport")
		}
	default:
		return fmt.Errorf("unknown gateway.transport %q: must be memory or nats", c.Gateway.Transport)
	}

	if c.Module.Name == "" {
		return fmt.Errorf("module.name must not be empty")
	}
	if len(c.Module.Capabilities) == 0 {
		return fmt.Errorf("module.capabilities must list at least one capability")
	}
	seen := make(map[string]bool, len(c.Module.Capabilities))
	for _, capability := range c.Module.Capabilities {
		if capability == "" {
			return fmt.Errorf("module.capabilities contains an empty name")
		}
		if seen[capability] {
			return fmt.Errorf("duplicate capability %q", capability)
		}
		seen[capability] = true
	}

	switch c.SaveState.Driver {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown savestate.driver %q: must be postgres or sqlite", c.SaveState.Driver)
	}

	return nil
}

// JWT Secret aus Environment Variable laden
func (a *AuthConfig) GetJWTSecret() string {
	envVar := a.JWTSecretEnv
	if envVar == "" {
		envVar = "JWT_SECRET" // Fallback
	}

	secret := os.Getenv(envVar)
	if secret == "" {
		// Development Fallback (MIT WARNING!)
		return "dev-secret-change-in-production-min-32-chars"
	}
	return secret
}

// Helper um zu prüfen ob Production-Ready
func (a *AuthConfig) IsProductionReady() bool {
	secret := a.GetJWTSecret()
	return secret != "dev-secret-change-in-production-min-32-chars" && len(secret) >= 32
}

// ModuleStatusName is the module name used on Status samples.
func (m *ModuleConfig) ModuleStatusName() string {
	if m.StatusName != "" {
		return m.StatusName
	}
	return m.Name
}
