package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

type Config struct {
	Mode     Mode   `yaml:"mode"`
	HTTPAddr string `yaml:"http_addr"`

	DBDriver string `yaml:"db_driver"`
	DBDSN    string `yaml:"db_dsn"`

	AuthHMACSecret  string `yaml:"auth_hmac_secret"`
	EnableLocalAuth bool   `yaml:"enable_local_auth"`

	AdminUser     string `yaml:"admin_user"`
	AdminPassHash string `yaml:"admin_pass_hash"` // bcrypt

	CORSOrigins []string `yaml:"cors_origins"`

	FreeQuestionLimit int           `yaml:"free_question_limit"`
	AutoUnlockWindow  time.Duration `yaml:"auto_unlock_window"`
	AutoUnlockSweep   time.Duration `yaml:"auto_unlock_sweep"` // 0 disables the sweeper
	RequestTimeout    time.Duration `yaml:"request_timeout"`
}

func Defaults() Config {
	return Config{
		Mode:              ModeOffline,
		HTTPAddr:          ":8080",
		DBDriver:          "sqlite",
		AuthHMACSecret:    "dev-secret-change-me",
		EnableLocalAuth:   true,
		AdminUser:         "admin",
		AdminPassHash:     "$2y$12$pyZAiWaTfVtM7UElIRStvOC3gNbnp70nmQU4eYopLGBfCJr1DOvji",
		CORSOrigins:       []string{"http://localhost:3000"},
		FreeQuestionLimit: 10,
		AutoUnlockWindow:  48 * time.Hour,
		RequestTimeout:    30 * time.Second,
	}
}

// Load starts from Defaults, overlays the YAML file at path when it exists
// and finally applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		buf, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(buf, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}
	cfg = overlayEnv(cfg)
	return cfg, cfg.Validate()
}

// FromEnv is Load without a file.
func FromEnv() Config {
	return overlayEnv(Defaults())
}

func overlayEnv(c Config) Config {
	c.Mode = Mode(envOr("MODE", string(c.Mode)))
	c.HTTPAddr = envOr("HTTP_ADDR", c.HTTPAddr)
	c.DBDriver = envOr("DB_DRIVER", c.DBDriver)
	c.DBDSN = envOr("DB_DSN", c.DBDSN)
	c.AuthHMACSecret = envOr("AUTH_HMAC_SECRET", c.AuthHMACSecret)
	c.EnableLocalAuth = envBool("ENABLE_LOCAL_AUTH", c.EnableLocalAuth)
	c.AdminUser = envOr("ADMIN_USER", c.AdminUser)
	c.AdminPassHash = envOr("ADMIN_PASS_HASH", c.AdminPassHash)
	c.CORSOrigins = csvOr("CORS_ORIGINS", c.CORSOrigins)
	c.FreeQuestionLimit = envInt("FREE_QUESTION_LIMIT", c.FreeQuestionLimit)
	c.AutoUnlockWindow = envDuration("AUTO_UNLOCK_WINDOW", c.AutoUnlockWindow)
	c.AutoUnlockSweep = envDuration("AUTO_UNLOCK_SWEEP", c.AutoUnlockSweep)
	c.RequestTimeout = envDuration("REQUEST_TIMEOUT", c.RequestTimeout)
	return c
}

func (c Config) Validate() error {
	if c.Mode != ModeOffline && c.Mode != ModeOnline {
		return fmt.Errorf("config: unknown mode %q", c.Mode)
	}
	if c.Mode == ModeOnline && c.AuthHMACSecret == Defaults().AuthHMACSecret {
		return errors.New("config: AUTH_HMAC_SECRET must be set in online mode")
	}
	if c.FreeQuestionLimit < 0 {
		return errors.New("config: FREE_QUESTION_LIMIT must not be negative")
	}
	if c.AutoUnlockWindow <= 0 {
		return errors.New("config: AUTO_UNLOCK_WINDOW must be positive")
	}
	return nil
}

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func envBool(k string, def bool) bool {
	switch os.Getenv(k) {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return def
	}
}

func envInt(k string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(k)))
	if err != nil {
		return def
	}
	return n
}

func envDuration(k string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	// bare numbers are hours
	if h, err := strconv.Atoi(v); err == nil {
		return time.Duration(h) * time.Hour
	}
	return def
}

func csvOr(k string, def []string) []string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
