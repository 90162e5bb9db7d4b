package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the enforcement gateway.
type Config struct {
	Port        int
	Version     string
	RequireAuth bool
	CORSOrigins []string

	Telemetry TelemetryConfig
	Auth      AuthConfig
	Metering  MeteringConfig
	PDP       PDPConfig
	Budget    BudgetConfig
	RateLimit RateLimitConfig
	DataDir   string
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// AuthConfig configures the bundled auth providers: JWT bearer tokens
// issued by the customer portal, and HMAC-signed peer envelopes for
// service-to-service calls between the gateway and the agent runtime.
type AuthConfig struct {
	JWTSigningSecret string
	JWTIssuer        string
	PeerSharedSecret string
	PlatformAPIKeys  []string
}

// MeteringConfig configures verification of the signed cost/token
// attestation carried on X-Metering-* headers.
type MeteringConfig struct {
	SharedSecret string
	MaxClockSkew time.Duration
}

// PDPConfig configures the external policy decision point. When URL is
// empty, the gateway falls back to its bundled policy set — which
// still denies by default on any stage it cannot evaluate.
type PDPConfig struct {
	URL     string
	Timeout time.Duration
}

// BudgetConfig carries the default budget caps. The server applies
// DefaultAgentDailyCapUSD as the per-agent daily cap and, when set,
// CriticalAgentIDs as the 95% monthly-throttle allowlist;
// DefaultTrialDailyCapUSD and DefaultMonthlyCapUSD are loaded but not
// read by any component.
type BudgetConfig struct {
	DefaultTrialDailyCapUSD    float64
	DefaultAgentDailyCapUSD    float64
	DefaultMonthlyCapUSD       float64
	CriticalAgentIDs           []string
}

// RateLimitConfig carries the initial per-tier hourly request
// allotments; AdminSetRateLimit can override them at runtime.
type RateLimitConfig struct {
	TrialPerHour    int
	PaidPerHour     int
	GovernorPerHour int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:        envInt("AGENTMOLD_PORT", 8080),
		Version:     envStr("AGENTMOLD_VERSION", "0.1.0"),
		RequireAuth: envBool("AGENTMOLD_REQUIRE_AUTH", true),
		CORSOrigins: envList("AGENTMOLD_CORS_ORIGINS", nil),
		DataDir:     envStr("AGENTMOLD_DATA_DIR", "./data"),

		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", true),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "agentmold-gateway"),
		},

		Auth: AuthConfig{
			JWTSigningSecret: envStr("AGENTMOLD_JWT_SECRET", ""),
			JWTIssuer:        envStr("AGENTMOLD_JWT_ISSUER", "agentmold-portal"),
			PeerSharedSecret: envStr("AGENTMOLD_PEER_SECRET", ""),
			PlatformAPIKeys:  envList("AGENTMOLD_PLATFORM_API_KEYS", nil),
		},

		Metering: MeteringConfig{
			SharedSecret: envStr("AGENTMOLD_METERING_SECRET", ""),
			MaxClockSkew: envDuration("AGENTMOLD_METERING_MAX_SKEW", 5*time.Minute),
		},

		PDP: PDPConfig{
			URL:     envStr("AGENTMOLD_PDP_URL", ""),
			Timeout: envDuration("AGENTMOLD_PDP_TIMEOUT", 2*time.Second),
		},

		Budget: BudgetConfig{
			DefaultTrialDailyCapUSD: envFloat("AGENTMOLD_TRIAL_DAILY_CAP_USD", 2.00),
			DefaultAgentDailyCapUSD: envFloat("AGENTMOLD_AGENT_DAILY_CAP_USD", 1.00),
			DefaultMonthlyCapUSD:    envFloat("AGENTMOLD_MONTHLY_CAP_USD", 500.00),
			CriticalAgentIDs:        envList("AGENTMOLD_CRITICAL_AGENT_IDS", nil),
		},

		RateLimit: RateLimitConfig{
			TrialPerHour:    envInt("AGENTMOLD_RATE_LIMIT_TRIAL", 100),
			PaidPerHour:     envInt("AGENTMOLD_RATE_LIMIT_PAID", 1000),
			GovernorPerHour: envInt("AGENTMOLD_RATE_LIMIT_GOVERNOR", 10000),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
