package config

import (
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // CAMPUSGATE_TIMEZONE must resolve in minimal containers

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr string
	GRPCAddr string // empty disables the gRPC health endpoint

	Env string // "dev" | "prod"

	// Storage
	StoreDriver   string // "sqlite" | "postgres" | "memory"
	DBPath        string // e.g. "./data/campusgate.db"
	PostgresURL   string
	SeedDocuments []string // dev only: trainees pre-created on startup

	// Locking. With RedisURL set, identity locks are shared across instances.
	RedisURL string
	LockWait time.Duration

	// Gate policy
	AllowedStates []string
	AutoProvision bool
	TimeZone      string

	// Visitor expiry
	SweepInterval time.Duration // 0 = rely on an external scheduler
	WarningLead   time.Duration // 0 = no expiry warnings

	LogLevel  string
	LogFormat string // "text" | "json"
}

// Load reads an optional .env file into the environment and then calls
// FromEnv. Variables already set in the environment win.
func Load() Config {
	_ = godotenv.Load()
	return FromEnv()
}

func FromEnv() Config {
	env := strings.ToLower(getenvDefault("CAMPUSGATE_ENV", "dev"))
	if env != "dev" && env != "prod" {
		// fail-soft: treat unknown as dev
		env = "dev"
	}

	driver := strings.ToLower(getenvDefault("CAMPUSGATE_STORE", "sqlite"))
	switch driver {
	case "sqlite", "postgres", "memory":
	default:
		driver = "sqlite"
	}

	logFormat := "text"
	if env == "prod" {
		logFormat = "json"
	}

	return Config{
		HTTPAddr: getenvDefault("CAMPUSGATE_HTTP_ADDR", ":8080"),
		GRPCAddr: strings.TrimSpace(os.Getenv("CAMPUSGATE_GRPC_ADDR")),
		Env:      env,

		StoreDriver:   driver,
		DBPath:        getenvDefault("CAMPUSGATE_DB_PATH", "./data/campusgate.db"),
		PostgresURL:   strings.TrimSpace(os.Getenv("CAMPUSGATE_POSTGRES_URL")),
		SeedDocuments: splitCSV(os.Getenv("CAMPUSGATE_SEED_DOCUMENTS")),

		RedisURL: strings.TrimSpace(os.Getenv("CAMPUSGATE_REDIS_URL")),
		LockWait: getenvDuration("CAMPUSGATE_LOCK_WAIT", 2*time.Second),

		AllowedStates: splitCSV(os.Getenv("CAMPUSGATE_ALLOWED_STATES")),
		AutoProvision: getenvBool("CAMPUSGATE_AUTO_PROVISION", true),
		TimeZone:      getenvDefault("CAMPUSGATE_TIMEZONE", "UTC"),

		SweepInterval: getenvDuration("CAMPUSGATE_SWEEP_INTERVAL", time.Minute),
		WarningLead:   getenvDuration("CAMPUSGATE_WARNING_LEAD", 10*time.Minute),

		LogLevel:  strings.ToLower(getenvDefault("CAMPUSGATE_LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getenvDefault("CAMPUSGATE_LOG_FORMAT", logFormat)),
	}
}

// Location resolves TimeZone, falling back to UTC when it is unknown.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func getenvBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// getenvDuration accepts Go durations ("90s", "5m") or a bare number of
// seconds.
func getenvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if n, err := strconv.Atoi(v); err == nil && n >= 0 {
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return def
	}
	return d
}

func splitCSV(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
