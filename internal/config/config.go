package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const (
	DefaultPort = 19841
	DefaultHost = "localhost"

	DefaultFileWriteDelay = 150 * time.Millisecond // small delay to ensure the file write is complete
)

var (
	lastReload  time.Time
	reloadMutex sync.Mutex

	lastSettingsReload  time.Time
	settingsReloadMutex sync.Mutex
)

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            DefaultHost,
			Port:            DefaultPort,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RequestLimits: ServerRequestLimits{
				MaxBodySize:   32 << 20, // 32 MiB body cap
				MaxHeaderSize: 32 << 10, // 32 KiB header bytes cap
			},
			RateLimits: ServerRateLimits{
				GlobalRequestsPerMinute: 6000,
				PerIPRequestsPerMinute:  300,
				BurstSize:               50,
				HealthRequestsPerMinute: 1000,
				CleanupInterval:         5 * time.Minute,
			},
			EnableProfiler: false,
		},
		Failover: FailoverConfig{
			MaxProviderSwitches:   5,
			MaxRetriesPerProvider: 2,
			BreakerFailThreshold:  5,
			BreakerOpenTimeout:    30 * time.Second,
			SessionBindingTTL:     300 * time.Second,
			SessionBindingMaxSize: 5000,
			UnavailableGateTTL:    3 * time.Second,
		},
		Streaming: StreamingConfig{
			ReadTimeout:        60 * time.Second,
			DrainGrace:         10 * time.Second,
			BufferSize:         32 << 10,
			DisconnectCap:      64 << 10,
			NonStreamBufferCap: 3 << 20,
		},
		Storage: StorageConfig{
			DSN: "file:olla-gateway.db",
		},
		OAuth: OAuthConfig{
			RefreshInterval:   60 * time.Second,
			ConcurrentWorkers: 4,
			BatchLimit:        100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Load loads configuration from file and environment variables, wiring
// onConfigChange to viper's fsnotify watch so a yaml edit hot-reloads
// without a restart.
func Load(onConfigChange func()) (*Config, error) {
	cfg := DefaultConfig()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("OLLA_GATEWAY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if configFile := os.Getenv("OLLA_GATEWAY_CONFIG_FILE"); configFile != "" {
			viper.SetConfigFile(configFile)
			if err := viper.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	viper.WatchConfig()

	if onConfigChange != nil {
		viper.OnConfigChange(func(e fsnotify.Event) {
			reloadMutex.Lock()
			defer reloadMutex.Unlock()

			now := time.Now()
			if now.Sub(lastReload) < 500*time.Millisecond {
				return // ignore rapid-fire duplicate events
			}
			lastReload = now

			time.Sleep(DefaultFileWriteDelay)
			onConfigChange()
		})
	}
	return cfg, nil
}

// LoadRuntimeSettings loads the sibling settings.json (spec §4.7's
// rectifier/response-fixer toggles) through a second, independent viper
// instance so its hot-reload doesn't collide with the yaml config watch.
func LoadRuntimeSettings(onSettingsChange func(RuntimeSettings)) (RuntimeSettings, error) {
	settings := DefaultRuntimeSettings()

	v := viper.New()
	v.SetConfigName("settings")
	v.SetConfigType("json")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return settings, fmt.Errorf("error reading settings file: %w", err)
		}
		return settings, nil // settings.json is optional; defaults stand
	}
	if err := v.Unmarshal(&settings); err != nil {
		return settings, fmt.Errorf("unable to decode settings: %w", err)
	}

	v.WatchConfig()
	if onSettingsChange != nil {
		v.OnConfigChange(func(e fsnotify.Event) {
			settingsReloadMutex.Lock()
			defer settingsReloadMutex.Unlock()

			now := time.Now()
			if now.Sub(lastSettingsReload) < 500*time.Millisecond {
				return
			}
			lastSettingsReload = now

			time.Sleep(DefaultFileWriteDelay)
			var reloaded RuntimeSettings
			if err := v.Unmarshal(&reloaded); err == nil {
				onSettingsChange(reloaded)
			}
		})
	}
	return settings, nil
}
