package utils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type ServerConfig struct {
	Port           int
	Mode           string
	TrustedProxies []string
	AllowedOrigin  string
}

type RazorpaySettings struct {
	KeyID     string
	KeySecret string
	APIURL    string
	Timeout   time.Duration
}

type StoreSettings struct {
	Driver   string // mongodb, mysql
	URI      string
	Database string
	Migrate  bool
}

type AdminSettings struct {
	Email        string
	PasswordHash string
	JWTSecret    string
	TokenTTL     time.Duration
}

type DonationSettings struct {
	BundlePrice  float64
	DefaultLimit int
	MaxLimit     int
	CacheTTL     time.Duration
}

type AppConfig struct {
	Env       string
	LogLevel  string
	Server    ServerConfig
	Razorpay  RazorpaySettings
	Store     StoreSettings
	Admin     AdminSettings
	Donation  DonationSettings
	DonateURL string
}

// envBindings maps config keys to the environment variables that override them.
var envBindings = map[string]string{
	"app.env":               "APP_ENV",
	"log.level":             "LOG_LEVEL",
	"server.port":           "PORT",
	"server.mode":           "GIN_MODE",
	"server.allowed_origin": "ALLOWED_ORIGIN",
	"razorpay.key_id":       "RAZORPAY_KEY_ID",
	"razorpay.key_secret":   "RAZORPAY_KEY_SECRET",
	"razorpay.api_url":      "RAZORPAY_API_URL",
	"razorpay.timeout":      "RAZORPAY_TIMEOUT",
	"store.driver":          "STORE_DRIVER",
	"store.uri":             "MONGODB_URI",
	"store.database":        "MONGODB_DB",
	"store.migrate":         "STORE_MIGRATE",
	"admin.email":           "ADMIN_EMAIL",
	"admin.password_hash":   "ADMIN_PASSWORD_HASH",
	"admin.jwt_secret":      "ADMIN_JWT_SECRET",
	"admin.token_ttl":       "ADMIN_TOKEN_TTL",
	"site.donate_url":       "SITE_DONATE_URL",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "production")
	v.SetDefault("log.level", "info")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.trusted_proxies", []string{"127.0.0.1"})
	v.SetDefault("server.allowed_origin", "*")
	v.SetDefault("razorpay.api_url", "https://api.razorpay.com/v1")
	v.SetDefault("razorpay.timeout", "15s")
	v.SetDefault("store.driver", "mongodb")
	v.SetDefault("store.migrate", true)
	v.SetDefault("admin.token_ttl", "12h")
	v.SetDefault("donation.bundle_price", 1001)
	v.SetDefault("donation.default_limit", 50)
	v.SetDefault("donation.max_limit", 1000)
	v.SetDefault("cache.ttl", "30s")
}

// LoadConfig reads .env, then config.yaml from the working directory or the
// executable's directory (both optional), then the environment.
func LoadConfig() (*AppConfig, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	v.SetConfigFile("config.yaml")
	if err := v.ReadInConfig(); err != nil {
		execDir, dirErr := filepath.Abs(filepath.Dir(os.Args[0]))
		if dirErr == nil {
			v.SetConfigFile(filepath.Join(execDir, "config.yaml"))
			err = v.ReadInConfig()
		}
		var notFound viper.ConfigFileNotFoundError
		if err != nil && !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	return configFrom(v), nil
}

func configFrom(v *viper.Viper) *AppConfig {
	return &AppConfig{
		Env:      v.GetString("app.env"),
		LogLevel: v.GetString("log.level"),
		Server: ServerConfig{
			Port:           v.GetInt("server.port"),
			Mode:           v.GetString("server.mode"),
			TrustedProxies: v.GetStringSlice("server.trusted_proxies"),
			AllowedOrigin:  v.GetString("server.allowed_origin"),
		},
		Razorpay: RazorpaySettings{
			KeyID:     v.GetString("razorpay.key_id"),
			KeySecret: v.GetString("razorpay.key_secret"),
			APIURL:    v.GetString("razorpay.api_url"),
			Timeout:   v.GetDuration("razorpay.timeout"),
		},
		Store: StoreSettings{
			Driver:   strings.ToLower(v.GetString("store.driver")),
			URI:      v.GetString("store.uri"),
			Database: v.GetString("store.database"),
			Migrate:  v.GetBool("store.migrate"),
		},
		Admin: AdminSettings{
			Email:        v.GetString("admin.email"),
			PasswordHash: v.GetString("admin.password_hash"),
			JWTSecret:    v.GetString("admin.jwt_secret"),
			TokenTTL:     v.GetDuration("admin.token_ttl"),
		},
		Donation: DonationSettings{
			BundlePrice:  v.GetFloat64("donation.bundle_price"),
			DefaultLimit: v.GetInt("donation.default_limit"),
			MaxLimit:     v.GetInt("donation.max_limit"),
			CacheTTL:     v.GetDuration("cache.ttl"),
		},
		DonateURL: v.GetString("site.donate_url"),
	}
}

// Validate reports every required setting that is missing.
func (c *AppConfig) Validate() error {
	var missing []string
	if c.Razorpay.KeyID == "" {
		missing = append(missing, "razorpay.key_id (RAZORPAY_KEY_ID)")
	}
	if c.Razorpay.KeySecret == "" {
		missing = append(missing, "razorpay.key_secret (RAZORPAY_KEY_SECRET)")
	}
	if c.Store.URI == "" {
		missing = append(missing, "store.uri (MONGODB_URI)")
	}
	if c.Store.Database == "" {
		missing = append(missing, "store.database (MONGODB_DB)")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	switch c.Store.Driver {
	case "mongodb", "mysql":
	default:
		return fmt.Errorf("unsupported store.driver %q", c.Store.Driver)
	}
	return nil
}
