// Package conf loads and validates the application configuration from
// defaults, an optional config.yaml and environment variable overrides.
package conf

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Settings is the root configuration structure.
type Settings struct {
	Main struct {
		Name string // descriptive node name, used in logs
		Log  LogConfig
	}

	WebServer struct {
		Enabled bool
		Host    string
		Port    string
		Debug   bool
	}

	Security struct {
		JWTSecret string // HMAC secret for stream tokens
	}

	Database struct {
		Postgres struct {
			Enabled bool
			DSN     string
		}
		SQLite struct {
			Enabled bool
			Path    string
		}
	}

	Listener struct {
		Enabled     bool
		DSN         string        // dedicated read-only connection, separate from the store pool
		Channel     string        // LISTEN/NOTIFY channel name
		PollTimeout time.Duration // bound on a single blocking wait
		MinBackoff  time.Duration
		MaxBackoff  time.Duration
	}

	Cache struct {
		MaxRecent   int           // per-user recency sequence cap
		SequenceTTL time.Duration // expiry of a whole recency sequence
		BlobTTL     time.Duration // thumbnails and originals
	}

	Sampling struct {
		MaxHashDistance     int     // Hamming distance gate for cache candidates
		FingerprintMinSim   float64 // fingerprint similarity gate (stage two)
		StructuralThreshold float64 // SSIM gate (stage three)
		ThumbnailWidth      int
	}

	SSE struct {
		HeartbeatInterval time.Duration
		ClientBuffer      int // per-client event channel capacity
	}
}

// LogConfig defines a file log output.
type LogConfig struct {
	Enabled bool
	Path    string
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables into a new
// Settings instance.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// Setting returns the most recently loaded settings instance, or nil if
// Load has not been called.
func Setting() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.config/mindtrack-go")

	viper.SetEnvPrefix("mindtrack")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaultConfig()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			// No config file is fine, defaults plus env cover everything.
			return nil
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}
	return nil
}

// ValidateSettings checks cross-field constraints that viper cannot express.
func ValidateSettings(s *Settings) error {
	if s.Database.Postgres.Enabled && s.Database.SQLite.Enabled {
		return fmt.Errorf("only one database backend may be enabled")
	}
	if s.Database.Postgres.Enabled && s.Database.Postgres.DSN == "" {
		return fmt.Errorf("database.postgres.dsn is required when postgres is enabled")
	}
	if s.Listener.Enabled && s.Listener.DSN == "" {
		return fmt.Errorf("listener.dsn is required when the listener is enabled")
	}
	if s.Cache.MaxRecent <= 0 {
		return fmt.Errorf("cache.maxrecent must be positive, got %d", s.Cache.MaxRecent)
	}
	if s.Sampling.FingerprintMinSim <= 0 || s.Sampling.FingerprintMinSim > 1 {
		return fmt.Errorf("sampling.fingerprintminsim must be in (0,1], got %v", s.Sampling.FingerprintMinSim)
	}
	if s.Sampling.StructuralThreshold <= 0 || s.Sampling.StructuralThreshold > 1 {
		return fmt.Errorf("sampling.structuralthreshold must be in (0,1], got %v", s.Sampling.StructuralThreshold)
	}
	if s.Listener.MinBackoff > s.Listener.MaxBackoff {
		return fmt.Errorf("listener.minbackoff exceeds listener.maxbackoff")
	}
	if s.SSE.HeartbeatInterval <= 0 {
		return fmt.Errorf("sse.heartbeatinterval must be positive, got %v", s.SSE.HeartbeatInterval)
	}
	return nil
}

// ListenerBackoff returns the configured backoff bounds with safe fallbacks.
func (s *Settings) ListenerBackoff() (minimum, maximum time.Duration) {
	minimum, maximum = s.Listener.MinBackoff, s.Listener.MaxBackoff
	if minimum <= 0 {
		minimum = time.Second
	}
	if maximum <= 0 {
		maximum = 30 * time.Second
	}
	return minimum, maximum
}
