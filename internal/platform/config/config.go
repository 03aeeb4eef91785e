package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Default mount point for service user credentials, one file per field.
const credentialsDir = "/var/run/secrets/service-user"

// Config captures everything the resolver needs from its environment.
type Config struct {
	Addr string

	KafkaBrokers []string
	NeedTopic    string
	GroupID      string
	Workers      int

	RegistryBaseURL string
	STSBaseURL      string
	Username        string
	Password        string

	// RedisURL enables the shared answered-need store when set.
	RedisURL string

	LookupTimeout   time.Duration
	ShutdownGrace   time.Duration
	DedupeRetention time.Duration
}

// FromEnv builds a Config from environment variables so main stays lean.
// Required settings fail loudly; optional ones carry defaults.
func FromEnv() (Config, error) {
	cfg := Config{
		Addr:            envOr("RESOLVER_ADDR", ":8080"),
		NeedTopic:       envOr("NEED_TOPIC", "helse-rapid-v1"),
		GroupID:         envOr("KAFKA_GROUP_ID", "inntekt-resolver"),
		STSBaseURL:      envOr("STS_BASE_URL", "http://security-token-service"),
		RedisURL:        os.Getenv("REDIS_URL"),
		Workers:         envIntOr("RESOLVER_WORKERS", 4),
		LookupTimeout:   envDurationOr("LOOKUP_TIMEOUT", 15*time.Second),
		ShutdownGrace:   envDurationOr("SHUTDOWN_GRACE", 10*time.Second),
		DedupeRetention: envDurationOr("DEDUPE_RETENTION", time.Hour),
	}

	brokers := os.Getenv("KAFKA_BOOTSTRAP_SERVERS")
	if brokers == "" {
		return Config{}, fmt.Errorf("missing env var KAFKA_BOOTSTRAP_SERVERS")
	}
	cfg.KafkaBrokers = strings.Split(brokers, ",")

	cfg.RegistryBaseURL = os.Getenv("INCOME_REGISTRY_BASE_URL")
	if cfg.RegistryBaseURL == "" {
		return Config{}, fmt.Errorf("missing env var INCOME_REGISTRY_BASE_URL")
	}

	username, password, err := readServiceUser()
	if err != nil {
		return Config{}, err
	}
	cfg.Username = username
	cfg.Password = password

	return cfg, nil
}

// readServiceUser loads credentials from the mounted secret files, falling
// back to env vars for local runs.
func readServiceUser() (string, string, error) {
	username, uErr := os.ReadFile(filepath.Join(credentialsDir, "username"))
	password, pErr := os.ReadFile(filepath.Join(credentialsDir, "password"))
	if uErr == nil && pErr == nil {
		return strings.TrimSpace(string(username)), strings.TrimSpace(string(password)), nil
	}

	envUser := os.Getenv("SERVICE_USER_NAME")
	envPass := os.Getenv("SERVICE_USER_PASSWORD")
	if envUser == "" || envPass == "" {
		return "", "", fmt.Errorf("service user credentials not found in %s or env", credentialsDir)
	}
	return envUser, envPass, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
