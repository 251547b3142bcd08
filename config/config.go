// Package config loads server settings from flags with environment fallbacks.
//
// Precedence: command-line flag > environment variable > default.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	DriverMemory = "memory"

	defaultPort          = 8080
	defaultDriver        = "sqlite3"
	defaultDSN           = "cards.db"
	defaultExchange      = "card-ledger"
	defaultRetryAttempts = 5
	defaultExponent      = 2
	maxExponent          = 8
	maxRetryAttempts     = 20
)

var supportedDrivers = []string{"sqlite3", "postgres", "pgx", DriverMemory}

type Config struct {
	Port int

	DBDriver string
	DBDSN    string

	LogLevel  string
	LogFormat string

	// AMQPURL empty disables broker publishing.
	AMQPURL      string
	AMQPExchange string

	CORSOrigins []string

	RetryAttempts int

	// CurrencyExponent is the number of minor-unit digits used when
	// rendering balances, e.g. 2 renders 12345 as "123.45".
	CurrencyExponent int32
}

// Load parses args (without the program name) over the environment.
func Load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("card-ledger", flag.ContinueOnError)

	port := fs.Int("port", getEnvInt("PORT", defaultPort), "HTTP server port")
	driver := fs.String("db-driver", getEnv("DB_DRIVER", defaultDriver), "Database driver: sqlite3, postgres, pgx or memory")
	dsn := fs.String("db", getEnv("DB_DSN", defaultDSN), "Database DSN (SQLite path, \":memory:\" or Postgres URL)")
	level := fs.String("log-level", getEnv("LOG_LEVEL", "info"), "Log level")
	format := fs.String("log-format", getEnv("LOG_FORMAT", "json"), "Log format: json or text")
	amqpURL := fs.String("amqp-url", getEnv("AMQP_URL", ""), "RabbitMQ URL; empty disables publishing")
	exchange := fs.String("amqp-exchange", getEnv("AMQP_EXCHANGE", defaultExchange), "RabbitMQ topic exchange")
	origins := fs.String("cors-origins", getEnv("CORS_ORIGINS", "*"), "Comma-separated allowed CORS origins")
	retries := fs.Int("retry-attempts", getEnvInt("RETRY_ATTEMPTS", defaultRetryAttempts), "Attempts per store unit on conflict")
	exponent := fs.Int("currency-exponent", getEnvInt("CURRENCY_EXPONENT", defaultExponent), "Minor-unit digits for balance rendering")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:             *port,
		DBDriver:         strings.ToLower(strings.TrimSpace(*driver)),
		DBDSN:            *dsn,
		LogLevel:         *level,
		LogFormat:        strings.ToLower(*format),
		AMQPURL:          *amqpURL,
		AMQPExchange:     *exchange,
		CORSOrigins:      splitList(*origins),
		RetryAttempts:    *retries,
		CurrencyExponent: int32(*exponent),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if !contains(supportedDrivers, c.DBDriver) {
		errs = append(errs, fmt.Errorf("unsupported db driver %q", c.DBDriver))
	}
	if c.DBDriver != DriverMemory && c.DBDSN == "" {
		errs = append(errs, errors.New("db dsn is required"))
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		errs = append(errs, fmt.Errorf("unsupported log format %q", c.LogFormat))
	}
	if c.AMQPURL != "" && c.AMQPExchange == "" {
		errs = append(errs, errors.New("amqp exchange is required when amqp url is set"))
	}
	if c.RetryAttempts <= 0 {
		errs = append(errs, fmt.Errorf("retry attempts must be positive, got %d", c.RetryAttempts))
	} else if c.RetryAttempts > maxRetryAttempts {
		errs = append(errs, fmt.Errorf("retry attempts %d above limit %d", c.RetryAttempts, maxRetryAttempts))
	}
	if c.CurrencyExponent < 0 || c.CurrencyExponent > maxExponent {
		errs = append(errs, fmt.Errorf("currency exponent %d out of range 0..%d", c.CurrencyExponent, maxExponent))
	}

	return errors.Join(errs...)
}

// Addr is the listen address for net/http.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
