package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"time"

	"github.com/dnldd/backtester/fetch"
	"github.com/joho/godotenv"
)

const (
	// defaultExchange is the exchange market data is ingested from by default.
	defaultExchange = "binance"
	// scheduleLayout is the layout of the daily sync time.
	scheduleLayout = "15:04"
)

// Config is the configuration struct for the service.
type Config struct {
	// DataPath is the directory market data files are stored in.
	DataPath string
	// Exchange is the exchange market data is ingested from.
	Exchange string
	// BinanceDataURL is the base url of the market data archives.
	BinanceDataURL string
	// SettingsPath is the filepath to the JSON run settings.
	SettingsPath string
	// Ingest is the market data ingestion flag.
	Ingest bool
	// Schedule is the daily UTC sync time (hh:mm).
	Schedule string
	// DBEndpoint is the rqlite endpoint results are persisted to.
	DBEndpoint string
	// DBUser is the database user.
	DBUser string
	// DBPass is the database user pass.
	DBPass string
	// BinanceKey is the exchange API key.
	BinanceKey string
	// BinanceSecret is the exchange API secret.
	BinanceSecret string

	registeredFlags map[string]bool
}

// Validate asserts the config sane inputs.
func (cfg *Config) Validate() error {
	var errs error

	if cfg.DataPath == "" {
		errs = errors.Join(errs, fmt.Errorf("data path cannot be an empty string"))
	}
	if cfg.SettingsPath == "" {
		errs = errors.Join(errs, fmt.Errorf("settings path cannot be an empty string"))
	}
	if cfg.Schedule != "" {
		_, err := time.Parse(scheduleLayout, cfg.Schedule)
		if err != nil {
			errs = errors.Join(errs, fmt.Errorf("schedule %q is not a valid hh:mm time", cfg.Schedule))
		}
	}
	if (cfg.Ingest || cfg.Schedule != "") && cfg.Exchange != defaultExchange {
		errs = errors.Join(errs, fmt.Errorf("market data cannot be ingested from %s", cfg.Exchange))
	}
	if cfg.DBUser != "" && cfg.DBEndpoint == "" {
		errs = errors.Join(errs, fmt.Errorf("database user provided without an endpoint"))
	}

	return errs
}

// registerFlag registers command line arguments of any type and tracks them to avoid reregistration.
func (cfg *Config) registerFlag(name string, value interface{}, usage string) error {
	if cfg.registeredFlags == nil {
		cfg.registeredFlags = make(map[string]bool)
	}

	if cfg.registeredFlags[name] {
		return nil
	}

	cfg.registeredFlags[name] = true

	defValue := os.Getenv(name)
	val := reflect.ValueOf(value)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		return fmt.Errorf("%s: value must be a non-nil pointer", name)
	}

	switch val.Elem().Kind() {
	case reflect.String:
		flag.StringVar(value.(*string), name, defValue, usage)
	case reflect.Bool:
		var def bool
		if defValue != "" {
			def, _ = strconv.ParseBool(defValue)
		}
		flag.BoolVar(value.(*bool), name, def, usage)
	default:
		return fmt.Errorf("%s: unsupported type", name)
	}

	return nil
}

// loadConfig loads the configuration from environment variables and command line flags.
func loadConfig(cfg *Config, path string) error {
	if path == "" {
		path = ".env"
	}

	// Check if the expected .env file exists before loading it.
	_, err := os.Stat(path)
	if err == nil {
		err := godotenv.Load(path)
		if err != nil {
			return fmt.Errorf("loading .env file: %w", err)
		}
	}

	// Register command line arguments using loaded environment variables as defaults.
	flags := []struct {
		name  string
		value any
		usage string
	}{
		{"datapath", &cfg.DataPath, "the market data directory"},
		{"exchange", &cfg.Exchange, "the exchange market data is ingested from"},
		{"binancedataurl", &cfg.BinanceDataURL, "the market data archives url"},
		{"settingspath", &cfg.SettingsPath, "the run settings filepath"},
		{"ingest", &cfg.Ingest, "the market data ingestion flag"},
		{"schedule", &cfg.Schedule, "the daily UTC market data sync time (hh:mm)"},
		{"dbendpoint", &cfg.DBEndpoint, "the rqlite endpoint"},
		{"dbuser", &cfg.DBUser, "the database user"},
		{"dbpass", &cfg.DBPass, "the database user pass"},
		{"binancekey", &cfg.BinanceKey, "the binance api key"},
		{"binancesecret", &cfg.BinanceSecret, "the binance api secret"},
	}
	for _, f := range flags {
		err := cfg.registerFlag(f.name, f.value, f.usage)
		if err != nil {
			return err
		}
	}

	// Parse command-line flags.
	flag.Parse()

	if cfg.Exchange == "" {
		cfg.Exchange = defaultExchange
	}
	if cfg.BinanceDataURL == "" {
		cfg.BinanceDataURL = fetch.DataURL
	}

	return cfg.Validate()
}
