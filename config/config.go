// Package config loads service settings from the environment, an optional
// .env file and command-line flags, in increasing order of precedence.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"bloodlink-push/push"
)

type Config struct {
	Addr     string
	CertFile string
	KeyFile  string
	HTTPMode bool
	Debug    bool

	DBDriver    string
	DatabaseURL string

	FCMCreds string

	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubject    string
	PushTTL         int

	JWTSecret string

	QueueInterval    time.Duration
	QueueMaxAttempts int

	// Firebase web config handed to pages for the service worker relay.
	Firebase push.FirebaseConfig

	InitialAdminPassword *string
}

// Load reads .env (if present) and the environment, then lets flags in args
// override them. A missing .env file is not an error.
func Load(args []string) (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Addr:             getEnv("ADDR", ":8443"),
		CertFile:         getEnv("TLS_CERT", "certs/cert.pem"),
		KeyFile:          getEnv("TLS_KEY", "certs/key.pem"),
		HTTPMode:         getEnvBool("HTTP_MODE", false),
		Debug:            getEnvBool("DEBUG", false),
		DBDriver:         getEnv("DB_DRIVER", "sqlite3"),
		DatabaseURL:      getEnv("DATABASE_URL", "bloodlink-push.db"),
		FCMCreds:         os.Getenv("FCM_CREDENTIALS"),
		VAPIDPublicKey:   getEnv("VAPID_PUBLIC_KEY", os.Getenv("NEXT_PUBLIC_VAPID_PUBLIC_KEY")),
		VAPIDPrivateKey:  os.Getenv("VAPID_PRIVATE_KEY"),
		VAPIDSubject:     getEnv("VAPID_SUBJECT", "mailto:admin@example.com"),
		PushTTL:          getEnvInt("PUSH_TTL", 86400),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		QueueInterval:    getEnvDuration("QUEUE_INTERVAL", 10*time.Second),
		QueueMaxAttempts: getEnvInt("QUEUE_MAX_ATTEMPTS", 5),
		Firebase:         FirebaseFromEnv(),
	}
	if pw, ok := os.LookupEnv("INITIAL_ADMIN_PASSWORD"); ok {
		cfg.InitialAdminPassword = &pw
	}

	fs := flag.NewFlagSet("bloodlink-push", flag.ContinueOnError)
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "Address to listen on")
	fs.StringVar(&cfg.CertFile, "cert", cfg.CertFile, "Path to TLS certificate file")
	fs.StringVar(&cfg.KeyFile, "key", cfg.KeyFile, "Path to TLS key file")
	fs.BoolVar(&cfg.HTTPMode, "http", cfg.HTTPMode, "Run in HTTP mode (disable TLS)")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Enable debug logging")
	fs.StringVar(&cfg.DBDriver, "db-driver", cfg.DBDriver, "Database driver: sqlite3 or postgres")
	fs.StringVar(&cfg.DatabaseURL, "db", cfg.DatabaseURL, "SQLite path or PostgreSQL DSN")
	fs.StringVar(&cfg.FCMCreds, "fcm-creds", cfg.FCMCreds, "Path to Firebase credentials file (optional)")
	fs.DurationVar(&cfg.QueueInterval, "queue-interval", cfg.QueueInterval, "Retry queue polling interval")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("config: listen address is required")
	}
	if c.QueueInterval <= 0 {
		return fmt.Errorf("config: queue interval must be positive, got %v", c.QueueInterval)
	}
	if c.QueueMaxAttempts < 1 {
		return fmt.Errorf("config: queue max attempts must be at least 1, got %d", c.QueueMaxAttempts)
	}
	if c.PushTTL < 0 {
		return fmt.Errorf("config: push TTL must not be negative, got %d", c.PushTTL)
	}
	return nil
}

// FirebaseFromEnv reads the six NEXT_PUBLIC_FIREBASE_* variables.
func FirebaseFromEnv() push.FirebaseConfig {
	return push.FirebaseConfig{
		APIKey:            os.Getenv("NEXT_PUBLIC_FIREBASE_API_KEY"),
		AuthDomain:        os.Getenv("NEXT_PUBLIC_FIREBASE_AUTH_DOMAIN"),
		ProjectID:         os.Getenv("NEXT_PUBLIC_FIREBASE_PROJECT_ID"),
		StorageBucket:     os.Getenv("NEXT_PUBLIC_FIREBASE_STORAGE_BUCKET"),
		MessagingSenderID: os.Getenv("NEXT_PUBLIC_FIREBASE_MESSAGING_SENDER_ID"),
		AppID:             os.Getenv("NEXT_PUBLIC_FIREBASE_APP_ID"),
	}
}

// BackendURL is where page-side clients reach the backend API.
func BackendURL() string {
	return getEnv("NEXT_PUBLIC_BACKEND_URL", "http://localhost:8443")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}
