// Package config loads the explicit configuration struct handed to every
// component at construction. Values come from built-in defaults, an
// optional TOML file, and LIENZO_-prefixed environment variables, in that
// order.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Engine   EngineConfig   `koanf:"engine"`
	Stream   StreamConfig   `koanf:"stream"`
	Storage  StorageConfig  `koanf:"storage"`
	Queue    QueueConfig    `koanf:"queue"`
	Database DatabaseConfig `koanf:"database"`
	Worker   WorkerConfig   `koanf:"worker"`
	API      APIConfig      `koanf:"api"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// EngineConfig locates the rendering engine's HTTP surface and bounds the
// readiness probe loop.
type EngineConfig struct {
	Host             string `koanf:"host"`
	ProbeMaxAttempts int    `koanf:"probe_max_attempts"`
	ProbeIntervalMS  int    `koanf:"probe_interval_ms"`
}

func (c EngineConfig) ProbeInterval() time.Duration {
	return time.Duration(c.ProbeIntervalMS) * time.Millisecond
}

// StreamConfig tunes the lifecycle-event stream: the client identifier the
// connection is scoped to, the blocking-receive timeout, how many
// consecutive timeouts trigger an out-of-band liveness probe, and the
// reconnection budget.
type StreamConfig struct {
	ClientID          string `koanf:"client_id"`
	ReceiveTimeoutS   int    `koanf:"receive_timeout_s"`
	StallProbeAfter   int    `koanf:"stall_probe_after"`
	ReconnectAttempts int    `koanf:"reconnect_attempts"`
	ReconnectDelayS   int    `koanf:"reconnect_delay_s"`
}

func (c StreamConfig) ReceiveTimeout() time.Duration {
	return time.Duration(c.ReceiveTimeoutS) * time.Second
}

func (c StreamConfig) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelayS) * time.Second
}

// StorageConfig selects where collected artifacts go. An empty Provider
// means no external storage is configured and artifacts are returned
// inline as base64.
type StorageConfig struct {
	Provider  string       `koanf:"provider"`
	LocalRoot string       `koanf:"local_root"`
	S3        S3Config     `koanf:"s3"`
	GDrive    GDriveConfig `koanf:"gdrive"`
}

type S3Config struct {
	EndpointURL     string `koanf:"endpoint_url"`
	AccessKeyID     string `koanf:"access_key_id"`
	SecretAccessKey string `koanf:"secret_access_key"`
	Bucket          string `koanf:"bucket"`
	Region          string `koanf:"region"`
	UseSSL          bool   `koanf:"use_ssl"`
}

type GDriveConfig struct {
	ClientID     string `koanf:"client_id"`
	ClientSecret string `koanf:"client_secret"`
	RefreshToken string `koanf:"refresh_token"`
	FolderID     string `koanf:"folder_id"`
}

type QueueConfig struct {
	RedisAddr string `koanf:"redis_addr"`
	Name      string `koanf:"name"`
}

type DatabaseConfig struct {
	URL string `koanf:"url"`
}

// WorkerConfig: RefreshAfterJob makes the worker loop exit cleanly after
// finishing one job so the process supervisor restarts it with a clean
// engine state.
type WorkerConfig struct {
	RefreshAfterJob bool `koanf:"refresh_after_job"`
}

// APIConfig: CORSAllowedOrigins is a comma separated list so it can be set
// from a single environment variable.
type APIConfig struct {
	Port               string `koanf:"port"`
	CORSAllowedOrigins string `koanf:"cors_allowed_origins"`
}

type LoggingConfig struct {
	Level     string `koanf:"level"`
	Format    string `koanf:"format"`
	AddSource bool   `koanf:"add_source"`
}

// Load reads config from a TOML file (if provided) then overlays
// environment variables: LIENZO_STREAM_RECONNECT_ATTEMPTS maps to
// stream.reconnect_attempts.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := loadDefaults(k); err != nil {
		return nil, err
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, err
		}
	}

	// Only set env vars that carry a value so they never clobber file
	// config with empty strings.
	if err := k.Load(env.ProviderWithValue("LIENZO_", ".", func(key, value string) (string, interface{}) {
		if value == "" {
			return "", nil
		}
		mapped := strings.Replace(
			strings.ToLower(strings.TrimPrefix(key, "LIENZO_")),
			"_", ".", -1,
		)
		return mapped, value
	}), nil); err != nil {
		return nil, err
	}

	// Section keys with underscores collapse wrongly under the generic
	// mapping (LIENZO_STREAM_CLIENT_ID -> stream.client.id), so pin the
	// multi-word leaves explicitly.
	for envKey, confKey := range map[string]string{
		"LIENZO_ENGINE_PROBE_MAX_ATTEMPTS":  "engine.probe_max_attempts",
		"LIENZO_ENGINE_PROBE_INTERVAL_MS":   "engine.probe_interval_ms",
		"LIENZO_STREAM_CLIENT_ID":           "stream.client_id",
		"LIENZO_STREAM_RECEIVE_TIMEOUT_S":   "stream.receive_timeout_s",
		"LIENZO_STREAM_STALL_PROBE_AFTER":   "stream.stall_probe_after",
		"LIENZO_STREAM_RECONNECT_ATTEMPTS":  "stream.reconnect_attempts",
		"LIENZO_STREAM_RECONNECT_DELAY_S":   "stream.reconnect_delay_s",
		"LIENZO_STORAGE_LOCAL_ROOT":         "storage.local_root",
		"LIENZO_STORAGE_S3_ENDPOINT_URL":    "storage.s3.endpoint_url",
		"LIENZO_STORAGE_S3_ACCESS_KEY_ID":   "storage.s3.access_key_id",
		"LIENZO_STORAGE_S3_SECRET_ACCESS_KEY": "storage.s3.secret_access_key",
		"LIENZO_STORAGE_S3_USE_SSL":         "storage.s3.use_ssl",
		"LIENZO_STORAGE_GDRIVE_CLIENT_ID":   "storage.gdrive.client_id",
		"LIENZO_STORAGE_GDRIVE_CLIENT_SECRET": "storage.gdrive.client_secret",
		"LIENZO_STORAGE_GDRIVE_REFRESH_TOKEN": "storage.gdrive.refresh_token",
		"LIENZO_STORAGE_GDRIVE_FOLDER_ID":   "storage.gdrive.folder_id",
		"LIENZO_QUEUE_REDIS_ADDR":           "queue.redis_addr",
		"LIENZO_WORKER_REFRESH_AFTER_JOB":   "worker.refresh_after_job",
		"LIENZO_API_CORS_ALLOWED_ORIGINS":   "api.cors_allowed_origins",
		"LIENZO_LOGGING_ADD_SOURCE":         "logging.add_source",
	} {
		if v := os.Getenv(envKey); v != "" {
			k.Set(confKey, v)
		}
	}

	// Bare convenience names kept from the platform's other services.
	if v := os.Getenv("DATABASE_URL"); v != "" {
		k.Set("database.url", v)
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		k.Set("queue.redis_addr", v)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	// A bucket endpoint on its own implies the s3 provider, matching the
	// original single-variable switch.
	if cfg.Storage.Provider == "" && cfg.Storage.S3.EndpointURL != "" {
		cfg.Storage.Provider = "s3"
	}

	return &cfg, nil
}
