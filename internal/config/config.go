// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Control plane settings.
	ControlPlaneURL         string // management API of the local connector
	ControlPlaneProviderURL string // management API used for provider-side asset registration
	ControlPlaneAuthHeader  string // header name presented to the management API
	ControlPlaneAuthValue   string // header value presented to the management API
	ParticipantID           string // our business partner / participant id

	// Negotiation settings.
	NegotiationTimeout      time.Duration
	NegotiationPollInterval time.Duration
	DefaultContract         string // contract id used when publishing skills/graphs

	// Catalog synchronization settings.
	SyncInterval   time.Duration
	SyncConnectors map[string]string // participant id -> remote connector URL

	// Federation allow/deny patterns. Service patterns guard delegation
	// targets, asset patterns guard SERVICE calls issued from queries.
	ServiceAllow *regexp.Regexp
	ServiceDeny  *regexp.Regexp
	AssetAllow   *regexp.Regexp
	AssetDeny    *regexp.Regexp

	// Query engine settings.
	WorkerPoolSize      int
	FederationBatchSize int
	DefaultGraph        string

	// Storage settings. Empty DatabaseURL selects the in-memory store.
	DatabaseURL string

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel            string
	MaxRequestBodyBytes int64
}

// Default allow/deny patterns: every http/edc URL is allowed, nothing
// is denied.
const (
	defaultAllowPattern = "(http|edc)s?://.*"
	defaultDenyPattern  = "^$"
)

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		Port:                    envInt("TSUNAGU_PORT", 8080),
		ReadTimeout:             envDuration("TSUNAGU_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:            envDuration("TSUNAGU_WRITE_TIMEOUT", 18*time.Minute),
		ControlPlaneURL:         envStr("TSUNAGU_CONTROL_PLANE_URL", "http://localhost:8081/management"),
		ControlPlaneProviderURL: envStr("TSUNAGU_CONTROL_PLANE_PROVIDER_URL", ""),
		ControlPlaneAuthHeader:  envStr("TSUNAGU_CONTROL_PLANE_AUTH_HEADER", "X-Api-Key"),
		ControlPlaneAuthValue:   envStr("TSUNAGU_CONTROL_PLANE_AUTH_VALUE", ""),
		ParticipantID:           envStr("TSUNAGU_PARTICIPANT_ID", "anonymous"),
		NegotiationTimeout:      envDuration("TSUNAGU_NEGOTIATION_TIMEOUT", 30*time.Second),
		NegotiationPollInterval: envDuration("TSUNAGU_NEGOTIATION_POLL_INTERVAL", time.Second),
		DefaultContract:         envStr("TSUNAGU_DEFAULT_CONTRACT", ""),
		SyncInterval:            envDuration("TSUNAGU_SYNC_INTERVAL", 0),
		WorkerPoolSize:          envInt("TSUNAGU_WORKER_POOL_SIZE", 4),
		FederationBatchSize:     envInt("TSUNAGU_FEDERATION_BATCH_SIZE", 0),
		DefaultGraph:            envStr("TSUNAGU_DEFAULT_GRAPH", "urn:x-arq:DefaultGraph"),
		DatabaseURL:             envStr("DATABASE_URL", ""),
		OTELEndpoint:            envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:            envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:             envStr("OTEL_SERVICE_NAME", "tsunagu"),
		LogLevel:                envStr("TSUNAGU_LOG_LEVEL", "info"),
		MaxRequestBodyBytes:     int64(envInt("TSUNAGU_MAX_REQUEST_BODY_BYTES", 8*1024*1024)),
	}

	if cfg.ControlPlaneProviderURL == "" {
		cfg.ControlPlaneProviderURL = cfg.ControlPlaneURL
	}

	var err error
	if cfg.SyncConnectors, err = parseConnectors(envStr("TSUNAGU_SYNC_CONNECTORS", "")); err != nil {
		return Config{}, err
	}
	if cfg.ServiceAllow, err = compilePattern("TSUNAGU_SERVICE_ALLOW", defaultAllowPattern); err != nil {
		return Config{}, err
	}
	if cfg.ServiceDeny, err = compilePattern("TSUNAGU_SERVICE_DENY", defaultDenyPattern); err != nil {
		return Config{}, err
	}
	if cfg.AssetAllow, err = compilePattern("TSUNAGU_ASSET_ALLOW", defaultAllowPattern); err != nil {
		return Config{}, err
	}
	if cfg.AssetDeny, err = compilePattern("TSUNAGU_ASSET_DENY", defaultDenyPattern); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present.
func (c Config) Validate() error {
	if c.Port <= 0 {
		return fmt.Errorf("config: TSUNAGU_PORT must be positive")
	}
	if c.ControlPlaneURL == "" {
		return fmt.Errorf("config: TSUNAGU_CONTROL_PLANE_URL is required")
	}
	if c.NegotiationPollInterval <= 0 {
		return fmt.Errorf("config: TSUNAGU_NEGOTIATION_POLL_INTERVAL must be positive")
	}
	if c.WorkerPoolSize <= 0 {
		return fmt.Errorf("config: TSUNAGU_WORKER_POOL_SIZE must be positive")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: TSUNAGU_MAX_REQUEST_BODY_BYTES must be positive")
	}
	return nil
}

// parseConnectors reads the "participant=url" comma list of remote
// connectors to synchronize against.
func parseConnectors(raw string) (map[string]string, error) {
	connectors := make(map[string]string)
	if raw == "" {
		return connectors, nil
	}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		participant, url, ok := strings.Cut(entry, "=")
		if !ok || participant == "" || url == "" {
			return nil, fmt.Errorf("config: TSUNAGU_SYNC_CONNECTORS entry %q is not participant=url", entry)
		}
		connectors[strings.TrimSpace(participant)] = strings.TrimSpace(url)
	}
	return connectors, nil
}

func compilePattern(key, defaultVal string) (*regexp.Regexp, error) {
	raw := envStr(key, defaultVal)
	re, err := regexp.Compile(raw)
	if err != nil {
		return nil, fmt.Errorf("config: %s=%q is not a valid regular expression: %w", key, raw, err)
	}
	return re, nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
