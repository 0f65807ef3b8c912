package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	pkgstrings "canon/pkg/platform/strings"
)

const devSigningKey = "dev-operator-key-change-in-production"

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Server captures process level configuration.
type Server struct {
	Addr        string
	Environment string
	Store       StoreConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	Auth        AuthConfig
	Risk        RiskConfig
	Policy      PolicyConfig
	Outbox      OutboxConfig
}

type StoreConfig struct {
	Backend     string
	DatabaseURL string
}

// RedisConfig configures the shared client. An empty URL disables Redis and
// the process falls back to in-process locks and uncached policy lookups.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	LockTTL      time.Duration
}

type KafkaConfig struct {
	Brokers    []string
	AuditTopic string
}

type AuthConfig struct {
	SigningKey string
	Issuer     string
	TokenTTL   time.Duration
}

type RiskConfig struct {
	PolicyFile string
}

type PolicyConfig struct {
	File     string
	CacheTTL time.Duration
}

type OutboxConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

// IsProduction reports whether the process runs with production defaults.
func (s Server) IsProduction() bool {
	return s.Environment == "production"
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	return Server{
		Addr:        getEnv("CANON_ADDR", ":8080"),
		Environment: getEnv("CANON_ENV", "development"),
		Store: StoreConfig{
			Backend:     strings.ToLower(getEnv("CANON_STORE", StoreMemory)),
			DatabaseURL: os.Getenv("DATABASE_URL"),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
			LockTTL:      getEnvDuration("EVIDENCE_LOCK_TTL", 10*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:    pkgstrings.SplitList(os.Getenv("KAFKA_BROKERS")),
			AuditTopic: getEnv("AUDIT_TOPIC", "canon.identity.audit"),
		},
		Auth: AuthConfig{
			SigningKey: getEnv("OPERATOR_JWT_SIGNING_KEY", devSigningKey),
			Issuer:     getEnv("OPERATOR_JWT_ISSUER", "canon"),
			TokenTTL:   getEnvDuration("OPERATOR_TOKEN_TTL", time.Hour),
		},
		Risk: RiskConfig{
			PolicyFile: os.Getenv("RISK_POLICY_FILE"),
		},
		Policy: PolicyConfig{
			File:     os.Getenv("POLICY_FILE"),
			CacheTTL: getEnvDuration("POLICY_CACHE_TTL", time.Minute),
		},
		Outbox: OutboxConfig{
			PollInterval: getEnvDuration("OUTBOX_POLL_INTERVAL", 2*time.Second),
			BatchSize:    getEnvInt("OUTBOX_BATCH_SIZE", 100),
		},
	}
}

// Validate rejects combinations the process cannot start with.
func (s Server) Validate() error {
	var errs []error
	switch s.Store.Backend {
	case StoreMemory:
	case StorePostgres:
		if s.Store.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required when CANON_STORE=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown CANON_STORE %q", s.Store.Backend))
	}
	if s.IsProduction() && s.Auth.SigningKey == devSigningKey {
		errs = append(errs, errors.New("OPERATOR_JWT_SIGNING_KEY must be set in production"))
	}
	if len(s.Kafka.Brokers) > 0 && s.Store.Backend != StorePostgres {
		errs = append(errs, errors.New("KAFKA_BROKERS requires CANON_STORE=postgres (audit outbox)"))
	}
	if s.Outbox.BatchSize <= 0 {
		errs = append(errs, errors.New("OUTBOX_BATCH_SIZE must be positive"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		// Bare integers are seconds.
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}
