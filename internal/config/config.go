// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SMS provider names accepted by SMS_PROVIDER.
const (
	SMSProviderLog      = "log"
	SMSProviderSMSLocal = "smslocal"
	SMSProviderSNS      = "sns"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the login step HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCHealthAddr is the address of the gRPC health service (e.g. :9090).
	GRPCHealthAddr string `mapstructure:"GRPC_HEALTH_ADDR"`
	// HealthCheckInterval is how often DB/Redis are pinged to update the serving status (e.g. "10s").
	HealthCheckInterval string `mapstructure:"HEALTH_CHECK_INTERVAL"`
	// DatabaseURL is the Postgres DSN. Empty selects in-memory credential and audit stores.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisAddr is host:port of Redis. Empty selects the in-memory send limiter and flow note store.
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	// TrustWindowSeconds is the remembered-device window. 0 disables device trust.
	TrustWindowSeconds int `mapstructure:"OTP_TRUST_WINDOW_SECONDS"`
	// CookieSecure sets the Secure flag on trust cookies.
	CookieSecure bool `mapstructure:"OTP_COOKIE_SECURE"`
	// RealmBasePath prefixes /<realm> in routes and cookie paths.
	RealmBasePath string `mapstructure:"REALM_BASE_PATH"`
	// CodeLength is the number of OTP digits (4-10).
	CodeLength int `mapstructure:"OTP_CODE_LENGTH"`
	// CodeTTLRaw is the OTP lifetime (e.g. "5m"); see CodeTTL.
	CodeTTLRaw string `mapstructure:"OTP_CODE_TTL"`
	// CodePepper keys the HMAC of outstanding codes. Required.
	CodePepper string `mapstructure:"OTP_CODE_PEPPER"`
	// MaxFailedAttempts locks the outstanding challenge after this many wrong codes.
	MaxFailedAttempts int `mapstructure:"OTP_MAX_FAILED_ATTEMPTS"`
	// SendLimitPerPhone and SendLimitPerIP cap sends per SendWindow. 0 disables the limit.
	SendLimitPerPhone int    `mapstructure:"OTP_SEND_LIMIT_PER_PHONE"`
	SendLimitPerIP    int    `mapstructure:"OTP_SEND_LIMIT_PER_IP"`
	SendWindowRaw     string `mapstructure:"OTP_SEND_WINDOW"`

	// SMSProvider is one of log, smslocal, sns.
	SMSProvider string `mapstructure:"SMS_PROVIDER"`
	// SMSLocalAPIKey is the API key for SMS Local. Required when SMS_PROVIDER=smslocal.
	SMSLocalAPIKey string `mapstructure:"SMS_LOCAL_API_KEY"`
	// SMSLocalSender is the optional sender ID for SMS Local.
	SMSLocalSender string `mapstructure:"SMS_LOCAL_SENDER"`
	// SMSLocalBaseURL is the SMS Local API base URL.
	SMSLocalBaseURL string `mapstructure:"SMS_LOCAL_BASE_URL"`
	// AWSRegion is the SNS region. Required when SMS_PROVIDER=sns.
	AWSRegion string `mapstructure:"AWS_REGION"`
	// SNSSenderID is the optional AWS.SNS.SMS.SenderID attribute.
	SNSSenderID string `mapstructure:"SNS_SENDER_ID"`

	// FlowTokenSecret verifies the orchestrator's HS256 flow tokens. Required.
	FlowTokenSecret string `mapstructure:"FLOW_TOKEN_SECRET"`
	// FlowTokenIssuer is the required iss claim of flow tokens.
	FlowTokenIssuer string `mapstructure:"FLOW_TOKEN_ISSUER"`
	// FlowContinueURL receives the browser when the step ends. Required.
	FlowContinueURL string `mapstructure:"FLOW_CONTINUE_URL"`
	// FlowSessionTTLRaw is the lifetime of flow notes (e.g. "30m"); see FlowSessionTTL.
	FlowSessionTTLRaw string `mapstructure:"FLOW_SESSION_TTL"`

	// TrustedProxiesRaw lists the proxy addresses or CIDRs (comma separated) whose X-Forwarded-For and
	// X-Real-IP headers are honoured; see TrustedProxies. Empty trusts none.
	TrustedProxiesRaw string `mapstructure:"TRUSTED_PROXIES"`

	// BcryptCost is the bcrypt cost factor (4–31) for trust secrets; default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// OTELEndpoint is the OTLP gRPC collector. Empty disables export.
	OTELEndpoint    string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTELServiceName string `mapstructure:"OTEL_SERVICE_NAME"`
	LogLevel        string `mapstructure:"LOG_LEVEL"`
	LogFormat       string `mapstructure:"LOG_FORMAT"`

	// OTPReturnToClient when true enables dev OTP mode: sent codes are kept for GET /dev/sms-otp/code. Must not be true when Env is production.
	OTPReturnToClient bool `mapstructure:"OTP_RETURN_TO_CLIENT"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := newViper()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("GRPC_HEALTH_ADDR", ":9090")
	v.SetDefault("HEALTH_CHECK_INTERVAL", "10s")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("OTP_TRUST_WINDOW_SECONDS", 0)
	v.SetDefault("OTP_COOKIE_SECURE", true)
	v.SetDefault("REALM_BASE_PATH", "/realms")
	v.SetDefault("OTP_CODE_LENGTH", 6)
	v.SetDefault("OTP_CODE_TTL", "5m")
	v.SetDefault("OTP_CODE_PEPPER", "")
	v.SetDefault("OTP_MAX_FAILED_ATTEMPTS", 5)
	v.SetDefault("OTP_SEND_LIMIT_PER_PHONE", 5)
	v.SetDefault("OTP_SEND_LIMIT_PER_IP", 20)
	v.SetDefault("OTP_SEND_WINDOW", "10m")
	v.SetDefault("SMS_PROVIDER", SMSProviderLog)
	v.SetDefault("SMS_LOCAL_API_KEY", "")
	v.SetDefault("SMS_LOCAL_SENDER", "")
	v.SetDefault("SMS_LOCAL_BASE_URL", "https://app.smslocal.in/api/smsapi")
	v.SetDefault("AWS_REGION", "")
	v.SetDefault("SNS_SENDER_ID", "")
	v.SetDefault("FLOW_TOKEN_SECRET", "")
	v.SetDefault("FLOW_TOKEN_ISSUER", "login")
	v.SetDefault("FLOW_CONTINUE_URL", "")
	v.SetDefault("FLOW_SESSION_TTL", "30m")
	v.SetDefault("TRUSTED_PROXIES", "")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_SERVICE_NAME", "phone-otp-mfa")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("OTP_RETURN_TO_CLIENT", false)
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DatabaseURL reads only DATABASE_URL from .env and the environment, without validating the rest.
// Used by cmd/migrate, which needs no OTP or flow secrets.
func DatabaseURL() string {
	return newViper().GetString("DATABASE_URL")
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound
	v.AutomaticEnv()
	return v
}

func (c *Config) validate() error {
	if c.HTTPAddr == "" {
		return errors.New("config: HTTP_ADDR must be set")
	}
	if c.GRPCHealthAddr == "" {
		return errors.New("config: GRPC_HEALTH_ADDR must be set")
	}
	if c.OTPReturnToClient && c.Env == "production" {
		return errors.New("config: OTP_RETURN_TO_CLIENT must not be true when APP_ENV=production")
	}
	if c.CodePepper == "" {
		return errors.New("config: OTP_CODE_PEPPER must be set")
	}
	if c.FlowTokenSecret == "" {
		return errors.New("config: FLOW_TOKEN_SECRET must be set")
	}
	if c.FlowContinueURL == "" {
		return errors.New("config: FLOW_CONTINUE_URL must be set")
	}
	if _, err := url.Parse(c.FlowContinueURL); err != nil {
		return fmt.Errorf("config: FLOW_CONTINUE_URL: %w", err)
	}
	if c.TrustWindowSeconds < 0 {
		return errors.New("config: OTP_TRUST_WINDOW_SECONDS must not be negative")
	}
	if c.CodeLength < 4 || c.CodeLength > 10 {
		return errors.New("config: OTP_CODE_LENGTH must be between 4 and 10")
	}
	if c.MaxFailedAttempts < 1 {
		return errors.New("config: OTP_MAX_FAILED_ATTEMPTS must be at least 1")
	}
	if c.SendLimitPerPhone < 0 || c.SendLimitPerIP < 0 {
		return errors.New("config: OTP_SEND_LIMIT_PER_PHONE and OTP_SEND_LIMIT_PER_IP must not be negative")
	}
	switch c.SMSProvider {
	case SMSProviderLog:
	case SMSProviderSMSLocal:
		if c.SMSLocalAPIKey == "" {
			return errors.New("config: SMS_LOCAL_API_KEY must be set when SMS_PROVIDER=smslocal")
		}
	case SMSProviderSNS:
		if c.AWSRegion == "" {
			return errors.New("config: AWS_REGION must be set when SMS_PROVIDER=sns")
		}
	default:
		return fmt.Errorf("config: unknown SMS_PROVIDER %q", c.SMSProvider)
	}
	if _, err := parseProxies(c.TrustedProxiesRaw); err != nil {
		return fmt.Errorf("config: TRUSTED_PROXIES: %w", err)
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = 12
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	return nil
}

// CodeTTL parses CodeTTLRaw. Returns 5m if unset or invalid.
func (c *Config) CodeTTL() time.Duration {
	return parseDuration(c.CodeTTLRaw, 5*time.Minute)
}

// SendWindow parses SendWindowRaw. Returns 10m if unset or invalid.
func (c *Config) SendWindow() time.Duration {
	return parseDuration(c.SendWindowRaw, 10*time.Minute)
}

// FlowSessionTTL parses FlowSessionTTLRaw. Returns 30m if unset or invalid.
func (c *Config) FlowSessionTTL() time.Duration {
	return parseDuration(c.FlowSessionTTLRaw, 30*time.Minute)
}

// HealthInterval parses HealthCheckInterval. Returns 10s if unset or invalid.
func (c *Config) HealthInterval() time.Duration {
	return parseDuration(c.HealthCheckInterval, 10*time.Second)
}

// TrustedProxies parses TrustedProxiesRaw. Bare addresses become single-address prefixes.
// Load rejects invalid entries, so this only fails on a Config built by hand.
func (c *Config) TrustedProxies() ([]netip.Prefix, error) {
	return parseProxies(c.TrustedProxiesRaw)
}

func parseProxies(raw string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, err
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, err
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// DevOTPEnabled reports whether sent codes are kept for the dev endpoint.
func (c *Config) DevOTPEnabled() bool {
	return c.OTPReturnToClient && c.Env != "production"
}

func parseDuration(raw string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
