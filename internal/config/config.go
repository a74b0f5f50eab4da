// Package config assembles the application configuration from defaults,
// command-line flags, a .env file, and environment variables (in that
// order of increasing precedence), and validates the result.
package config

import (
	"flag"
	"log"
	"os"
	"time"

	env "github.com/caarlos0/env/v6"
	validator "github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds every tunable of the service.
type Config struct {
	RunAddr              string        `env:"SERVER_ADDRESS" validate:"hostname_port"`
	LogLevel             string        `env:"LOG_LEVEL" validate:"loglevel"`
	DataDir              string        `env:"DATA_DIR"`
	ImagesDir            string        `env:"IMAGES_DIR"`
	ProductsSeedFile     string        `env:"PRODUCTS_SEED_FILE" validate:"omitempty,filepath"`
	DatabaseDSN          string        `env:"DATABASE_DSN"`
	MigrationsDir        string        `env:"MIGRATIONS_DIR"`
	DBConnectionTimeout  time.Duration `env:"DB_CONNECTION_TIMEOUT"`
	CollectionLockWait   time.Duration `env:"COLLECTION_LOCK_WAIT"`
	SessionTTL           time.Duration `env:"SESSION_TTL"`
	SessionSweepInterval time.Duration `env:"SESSION_SWEEP_INTERVAL"`
	AuthCookieName       string        `env:"AUTH_COOKIE_NAME" validate:"required"`
	// AuthCookieSigningSecretKey is base64 (URL alphabet) encoded.
	AuthCookieSigningSecretKey string `env:"AUTH_COOKIE_SIGNING_SECRET_KEY" validate:"required"`
}

// defaultAuthCookieSigningSecretKey is a development fallback. It is
// public knowledge, so any deployment still signing cookies with it is
// effectively unauthenticated.
const defaultAuthCookieSigningSecretKey = "c2hvcGxpdGUtZGV2LXNlY3JldA=="

// UsesDefaultSigningKey reports whether the cookie signing secret was
// never overridden; callers should warn loudly when it returns true.
func (c *Config) UsesDefaultSigningKey() bool {
	return c.AuthCookieSigningSecretKey == defaultAuthCookieSigningSecretKey
}

func validateFilePath(fieldLevel validator.FieldLevel) bool {
	path := fieldLevel.Field().String()
	_, err := os.Stat(path)

	return err == nil || os.IsNotExist(err)
}

func validateLogLevel(fieldLevel validator.FieldLevel) bool {
	value := fieldLevel.Field().String()

	allowedLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
		"fatal": true,
	}

	return allowedLogLevels[value]
}

func (c *Config) validate() error {
	validate := validator.New()

	err := validate.RegisterValidation("loglevel", validateLogLevel)
	if err != nil {
		return err
	}

	err = validate.RegisterValidation("filepath", validateFilePath)
	if err != nil {
		return err
	}

	return validate.Struct(c)
}

// InitOption tweaks configuration loading, mostly for tests.
type InitOption func(*initOptions)

type initOptions struct {
	disableFlagsParsing bool
}

// WithDisableFlagsParsing prevents New from touching the process flag set.
// Tests use it because the testing package owns flag.CommandLine.
func WithDisableFlagsParsing(disableFlagsParsing bool) InitOption {
	return func(options *initOptions) {
		options.disableFlagsParsing = disableFlagsParsing
	}
}

// New builds a validated Config.
func New(optionsProto ...InitOption) (*Config, error) {
	options := &initOptions{
		disableFlagsParsing: false,
	}
	for _, protoOption := range optionsProto {
		protoOption(options)
	}

	err := godotenv.Load()
	if err != nil {
		log.Printf("Unable to load .env file: %v", err)
	}

	cfg := &Config{
		RunAddr:              ":8080",
		LogLevel:             "info",
		DataDir:              "./data",
		ImagesDir:            "./data/images",
		ProductsSeedFile:     "",
		DatabaseDSN:          "",
		MigrationsDir:        "./migrations",
		DBConnectionTimeout:  10 * time.Second,
		CollectionLockWait:   5 * time.Second,
		SessionTTL:           24 * time.Hour,
		SessionSweepInterval: time.Minute,
		AuthCookieName:             "shoplite_session",
		AuthCookieSigningSecretKey: defaultAuthCookieSigningSecretKey,
	}
	if !options.disableFlagsParsing {
		flag.StringVar(&cfg.RunAddr, "a", cfg.RunAddr, "address and port to run server")
		flag.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "logger level")
		flag.StringVar(&cfg.DataDir, "f", cfg.DataDir, "directory with the JSON collection files")
		flag.StringVar(&cfg.ImagesDir, "i", cfg.ImagesDir, "directory with product images")
		flag.StringVar(&cfg.ProductsSeedFile, "s", cfg.ProductsSeedFile, "JSON file to seed an empty products collection from")
		flag.StringVar(&cfg.DatabaseDSN, "d", cfg.DatabaseDSN, "A string with the database connection details")
		flag.Parse()
	}

	var valuesFromEnv Config
	err = env.Parse(&valuesFromEnv)
	if err != nil {
		return nil, err
	}

	if valuesFromEnv.RunAddr != "" {
		cfg.RunAddr = valuesFromEnv.RunAddr
	}

	if valuesFromEnv.LogLevel != "" {
		cfg.LogLevel = valuesFromEnv.LogLevel
	}

	if valuesFromEnv.DataDir != "" {
		cfg.DataDir = valuesFromEnv.DataDir
	}

	if valuesFromEnv.ImagesDir != "" {
		cfg.ImagesDir = valuesFromEnv.ImagesDir
	}

	if valuesFromEnv.ProductsSeedFile != "" {
		cfg.ProductsSeedFile = valuesFromEnv.ProductsSeedFile
	}

	if valuesFromEnv.DatabaseDSN != "" {
		cfg.DatabaseDSN = valuesFromEnv.DatabaseDSN
	}

	if valuesFromEnv.MigrationsDir != "" {
		cfg.MigrationsDir = valuesFromEnv.MigrationsDir
	}

	if valuesFromEnv.DBConnectionTimeout != 0 {
		cfg.DBConnectionTimeout = valuesFromEnv.DBConnectionTimeout
	}

	if valuesFromEnv.CollectionLockWait != 0 {
		cfg.CollectionLockWait = valuesFromEnv.CollectionLockWait
	}

	if valuesFromEnv.SessionTTL != 0 {
		cfg.SessionTTL = valuesFromEnv.SessionTTL
	}

	if valuesFromEnv.SessionSweepInterval != 0 {
		cfg.SessionSweepInterval = valuesFromEnv.SessionSweepInterval
	}

	if valuesFromEnv.AuthCookieName != "" {
		cfg.AuthCookieName = valuesFromEnv.AuthCookieName
	}

	if valuesFromEnv.AuthCookieSigningSecretKey != "" {
		cfg.AuthCookieSigningSecretKey = valuesFromEnv.AuthCookieSigningSecretKey
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}
