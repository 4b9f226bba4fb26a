package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/docmesh/docmesh/internal/api/websocket"
	"github.com/docmesh/docmesh/pkg/models"
	"github.com/docmesh/docmesh/pkg/repository"
	"github.com/docmesh/docmesh/pkg/services"
)

// ServerConfig covers the HTTP listener
type ServerConfig struct {
	ListenAddress   string        `mapstructure:"listen_address"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StorageConfig selects the document store backend
type StorageConfig struct {
	// Backend is "memory" or "redis"
	Backend string `mapstructure:"backend"`

	Redis repository.RedisConfig `mapstructure:"redis"`

	// Resilience settings applied when the backend is remote
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
	RetryBudget      time.Duration `mapstructure:"retry_budget"`
}

// LifecycleConfig tunes background session maintenance
type LifecycleConfig struct {
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// LoggingConfig controls log output
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Prefix string `mapstructure:"prefix"`
}

// Config is the full service configuration
type Config struct {
	Server    ServerConfig            `mapstructure:"server"`
	Session   models.SessionSettings  `mapstructure:"session"`
	Presence  services.PresenceConfig `mapstructure:"presence"`
	Storage   StorageConfig           `mapstructure:"storage"`
	WebSocket websocket.Config        `mapstructure:"websocket"`
	Lifecycle LifecycleConfig         `mapstructure:"lifecycle"`
	Logging   LoggingConfig           `mapstructure:"logging"`
}

// Load reads configuration from an optional yaml file plus DOCMESH_*
// environment variables. Missing files are fine; every setting has a
// default.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("DOCMESH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", path)
		}
	} else {
		v.SetConfigName("docmesh")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/docmesh")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, errors.Wrap(err, "failed to read config file")
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal configuration")
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_address", ":8085")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	session := models.DefaultSessionSettings()
	v.SetDefault("session.max_concurrent_operations", session.MaxConcurrentOperations)
	v.SetDefault("session.operation_timeout", session.OperationTimeout)
	v.SetDefault("session.sync_interval", session.SyncInterval)
	v.SetDefault("session.auto_save_interval", session.AutoSaveInterval)
	v.SetDefault("session.max_history_size", session.MaxHistorySize)
	v.SetDefault("session.conflict_resolution_strategy", string(session.ConflictResolutionStrategy))
	v.SetDefault("session.max_participants", session.MaxParticipants)
	v.SetDefault("session.compression_enabled", session.CompressionEnabled)
	v.SetDefault("session.enable_real_time_cursors", session.EnableRealTimeCursors)
	v.SetDefault("session.enable_operation_history", session.EnableOperationHistory)
	v.SetDefault("session.max_session_duration", session.MaxSessionDuration)

	presence := services.DefaultPresenceConfig()
	v.SetDefault("presence.cursor_throttle", presence.CursorThrottle)
	v.SetDefault("presence.typing_timeout", presence.TypingTimeout)
	v.SetDefault("presence.presence_timeout", presence.PresenceTimeout)
	v.SetDefault("presence.max_cursors_displayed", presence.MaxCursorsDisplayed)

	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.failure_threshold", 5)
	v.SetDefault("storage.retry_budget", 15*time.Second)
	v.SetDefault("storage.redis.address", "localhost:6379")
	v.SetDefault("storage.redis.database", 0)
	v.SetDefault("storage.redis.dial_timeout", 5*time.Second)
	v.SetDefault("storage.redis.read_timeout", 3*time.Second)
	v.SetDefault("storage.redis.write_timeout", 3*time.Second)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.history_cap", 10000)

	ws := websocket.DefaultConfig()
	v.SetDefault("websocket.max_connections", ws.MaxConnections)
	v.SetDefault("websocket.send_buffer", ws.SendBuffer)
	v.SetDefault("websocket.ping_interval", ws.PingInterval)
	v.SetDefault("websocket.write_timeout", ws.WriteTimeout)
	v.SetDefault("websocket.max_message_size", ws.MaxMessageSize)
	v.SetDefault("websocket.message_rate_per_second", ws.MessageRatePerSecond)
	v.SetDefault("websocket.message_rate_burst", ws.MessageRateBurst)

	v.SetDefault("lifecycle.sweep_interval", time.Minute)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.prefix", "docmesh")
}
