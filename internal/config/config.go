package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port           string   `mapstructure:"PORT"`
	Env            string   `mapstructure:"ENV"`
	DatabaseURL    string   `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32    `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `mapstructure:"RATE_LIMIT_BURST"`

	AuthMode     string `mapstructure:"AUTH_MODE"`
	AuthIssuer   string `mapstructure:"AUTH_ISSUER"`
	AuthAudience string `mapstructure:"AUTH_AUDIENCE"`
	JWTSecret    string `mapstructure:"JWT_SECRET"`

	// DefaultEntityID is an explicit fallback hospital/entity id injected
	// into booking requests that omit one. Empty means entity_id is
	// required on every booking.
	DefaultEntityID string `mapstructure:"DEFAULT_ENTITY_ID"`

	// Working-hours grid, minutes from midnight.
	SlotMorningStart   int `mapstructure:"SLOT_MORNING_START"`
	SlotMorningEnd     int `mapstructure:"SLOT_MORNING_END"`
	SlotAfternoonStart int `mapstructure:"SLOT_AFTERNOON_START"`
	SlotAfternoonEnd   int `mapstructure:"SLOT_AFTERNOON_END"`

	OTPTTL         time.Duration `mapstructure:"OTP_TTL"`
	OTPMaxAttempts int           `mapstructure:"OTP_MAX_ATTEMPTS"`
	OTPLength      int           `mapstructure:"OTP_LENGTH"`

	// ConsentScope is "pet-day" (one verification covers all of a pet's
	// appointments on that day) or "appointment" (strict per-appointment).
	ConsentScope string `mapstructure:"CONSENT_SCOPE"`

	NoShowGrace         time.Duration `mapstructure:"NOSHOW_GRACE"`
	NoShowSweepInterval time.Duration `mapstructure:"NOSHOW_SWEEP_INTERVAL"`
}

// Consent scope values.
const (
	ScopePetDay      = "pet-day"
	ScopeAppointment = "appointment"
)

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("AUTH_MODE", "") // auto-detect: "" -> inferred from ENV
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("SLOT_MORNING_START", 9*60)
	v.SetDefault("SLOT_MORNING_END", 13*60)
	v.SetDefault("SLOT_AFTERNOON_START", 14*60)
	v.SetDefault("SLOT_AFTERNOON_END", 18*60)
	v.SetDefault("OTP_TTL", "5m")
	v.SetDefault("OTP_MAX_ATTEMPTS", 5)
	v.SetDefault("OTP_LENGTH", 6)
	v.SetDefault("CONSENT_SCOPE", ScopePetDay)
	v.SetDefault("NOSHOW_GRACE", "30m")
	v.SetDefault("NOSHOW_SWEEP_INTERVAL", "0s") // disabled unless set

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
		"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
		"AUTH_MODE", "AUTH_ISSUER", "AUTH_AUDIENCE", "JWT_SECRET",
		"DEFAULT_ENTITY_ID",
		"SLOT_MORNING_START", "SLOT_MORNING_END",
		"SLOT_AFTERNOON_START", "SLOT_AFTERNOON_END",
		"OTP_TTL", "OTP_MAX_ATTEMPTS", "OTP_LENGTH", "CONSENT_SCOPE",
		"NOSHOW_GRACE", "NOSHOW_SWEEP_INTERVAL",
	} {
		v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active — all requests get admin access.")
		log.Println("WARNING: Set ENV=production and configure JWT_SECRET for production.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns the effective auth mode. If AUTH_MODE is explicitly
// set, it is returned. Otherwise the mode is inferred: development ENV runs
// without auth, anything else requires a JWT secret.
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return "development"
	}
	return "jwt"
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	mode := c.ResolvedAuthMode()
	if mode != "development" && mode != "jwt" {
		return fmt.Errorf("AUTH_MODE must be \"development\" or \"jwt\", got %q", mode)
	}
	if mode == "jwt" && c.JWTSecret == "" {
		return fmt.Errorf(
			"JWT_SECRET must be set when AUTH_MODE is \"jwt\" (current ENV=%q). "+
				"Refusing to start without authentication configuration", c.Env)
	}

	if c.ConsentScope != ScopePetDay && c.ConsentScope != ScopeAppointment {
		return fmt.Errorf("CONSENT_SCOPE must be %q or %q, got %q", ScopePetDay, ScopeAppointment, c.ConsentScope)
	}

	if c.OTPLength < 4 || c.OTPLength > 10 {
		return fmt.Errorf("OTP_LENGTH must be between 4 and 10, got %d", c.OTPLength)
	}
	if c.OTPMaxAttempts < 1 {
		return fmt.Errorf("OTP_MAX_ATTEMPTS must be at least 1, got %d", c.OTPMaxAttempts)
	}
	if c.OTPTTL <= 0 {
		return fmt.Errorf("OTP_TTL must be positive, got %s", c.OTPTTL)
	}

	// The slot grid must describe two well-ordered, non-overlapping blocks.
	if c.SlotMorningStart >= c.SlotMorningEnd {
		return fmt.Errorf("SLOT_MORNING_START must be before SLOT_MORNING_END")
	}
	if c.SlotAfternoonStart >= c.SlotAfternoonEnd {
		return fmt.Errorf("SLOT_AFTERNOON_START must be before SLOT_AFTERNOON_END")
	}
	if c.SlotMorningEnd > c.SlotAfternoonStart {
		return fmt.Errorf("morning block must end before afternoon block starts")
	}
	if c.SlotMorningStart < 0 || c.SlotAfternoonEnd > 24*60 {
		return fmt.Errorf("slot grid must fit within a single day")
	}

	return nil
}
