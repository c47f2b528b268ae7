package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"time"

	"github.com/linnemanlabs/sightline/internal/partner"
	"github.com/linnemanlabs/sightline/internal/partner/claude"
	"github.com/linnemanlabs/sightline/internal/triage"
)

// Partner backends.
const (
	BackendHTTP   = "http"
	BackendClaude = "claude"
)

const maxRetries = 10

// Config holds the application settings that are not owned by a go-core
// subsystem. It follows the cfg.Registerable and cfg.Validatable interfaces.
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int

	PartnerBackend        string
	PartnerURL            string
	PartnerTimeout        time.Duration
	PartnerRetries        int
	PartnerBackoffInitial time.Duration
	PartnerBackoffMax     time.Duration
	ClaudeAPIKey          string
	ClaudeModel           string

	SessionTTL         time.Duration
	TombstoneRetention time.Duration
	SweepInterval      time.Duration
	RedisAddr          string
	RedisPassword      string
	RedisDB            int

	AcuteOnsetHours float64
	SameDayHours    float64
	MultiDayHours   float64

	CatalogFile     string
	DatabaseURL     string
	SlackWebhookURL string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	th := triage.DefaultThresholds()
	rp := partner.DefaultRetryPolicy()

	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")

	fs.StringVar(&c.PartnerBackend, "partner-backend", BackendHTTP, "symptom classifier backend (http|claude)")
	fs.StringVar(&c.PartnerURL, "partner-url", partner.DefaultURL, "partner model endpoint for the http backend")
	fs.DurationVar(&c.PartnerTimeout, "partner-timeout", 30*time.Second, "timeout for a single partner attempt")
	fs.IntVar(&c.PartnerRetries, "partner-retries", int(rp.MaxAttempts)-1, "retries after the first partner attempt (0..10)")
	fs.DurationVar(&c.PartnerBackoffInitial, "partner-backoff-initial", rp.InitialBackoff, "initial delay between partner retries")
	fs.DurationVar(&c.PartnerBackoffMax, "partner-backoff-max", rp.MaxBackoff, "maximum delay between partner retries")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for the claude backend")
	fs.StringVar(&c.ClaudeModel, "claude-model", claude.DefaultModel, "model used by the claude backend")

	fs.DurationVar(&c.SessionTTL, "session-ttl", 60*time.Second, "lifetime of a classification result")
	fs.DurationVar(&c.TombstoneRetention, "tombstone-retention", 10*time.Minute, "how long expired ids keep reporting expired instead of not found")
	fs.DurationVar(&c.SweepInterval, "sweep-interval", 30*time.Second, "interval between session cache sweeps (>= 1s)")
	fs.StringVar(&c.RedisAddr, "redis-addr", "", "Redis address for the session cache (empty = in-memory)")
	fs.StringVar(&c.RedisPassword, "redis-password", "", "Redis password")
	fs.IntVar(&c.RedisDB, "redis-db", 0, "Redis database number")

	fs.Float64Var(&c.AcuteOnsetHours, "triage-acute-hours", th.AcuteOnsetHours, "acute onset window in hours")
	fs.Float64Var(&c.SameDayHours, "triage-same-day-hours", th.SameDayHours, "same-day window in hours")
	fs.Float64Var(&c.MultiDayHours, "triage-multi-day-hours", th.MultiDayHours, "multi-day window in hours")

	fs.StringVar(&c.CatalogFile, "catalog-file", "", "YAML catalog file (empty = built-in ophthalmology catalog)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL to load the catalog from")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for immediate-care notifications")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	switch c.PartnerBackend {
	case BackendHTTP:
		if err := validateURL(c.PartnerURL); err != nil {
			errs = append(errs, fmt.Errorf("invalid PARTNER_URL: %w", err))
		}
	case BackendClaude:
		if c.ClaudeAPIKey == "" {
			errs = append(errs, errors.New("CLAUDE_API_KEY is required for the claude backend"))
		}
		if c.ClaudeModel == "" {
			errs = append(errs, errors.New("CLAUDE_MODEL is required for the claude backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid PARTNER_BACKEND %q (must be %s or %s)", c.PartnerBackend, BackendHTTP, BackendClaude))
	}
	if c.PartnerTimeout <= 0 {
		errs = append(errs, fmt.Errorf("invalid PARTNER_TIMEOUT %s (must be positive)", c.PartnerTimeout))
	}
	if c.PartnerRetries < 0 || c.PartnerRetries > maxRetries {
		errs = append(errs, fmt.Errorf("invalid PARTNER_RETRIES %d (must be 0..%d)", c.PartnerRetries, maxRetries))
	} else if err := c.RetryPolicy().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("invalid partner backoff: %w", err))
	}

	if c.SessionTTL <= 0 {
		errs = append(errs, fmt.Errorf("invalid SESSION_TTL %s (must be positive)", c.SessionTTL))
	}
	if c.TombstoneRetention < 0 {
		errs = append(errs, fmt.Errorf("invalid TOMBSTONE_RETENTION %s (must not be negative)", c.TombstoneRetention))
	}
	if c.SweepInterval < time.Second {
		errs = append(errs, fmt.Errorf("invalid SWEEP_INTERVAL %s (must be at least 1s)", c.SweepInterval))
	}
	if c.RedisDB < 0 {
		errs = append(errs, fmt.Errorf("invalid REDIS_DB %d (must not be negative)", c.RedisDB))
	}

	if err := c.Thresholds().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("invalid triage windows: %w", err))
	}

	if c.CatalogFile != "" && c.DatabaseURL != "" {
		errs = append(errs, errors.New("CATALOG_FILE and DATABASE_URL are mutually exclusive"))
	}
	if c.SlackWebhookURL != "" {
		if err := validateURL(c.SlackWebhookURL); err != nil {
			errs = append(errs, fmt.Errorf("invalid SLACK_WEBHOOK_URL: %w", err))
		}
	}

	return errors.Join(errs...)
}

// RetryPolicy builds the partner retry policy from the retry settings.
func (c *Config) RetryPolicy() partner.RetryPolicy {
	attempts := c.PartnerRetries + 1
	if attempts < 1 {
		attempts = 1
	}
	return partner.RetryPolicy{
		MaxAttempts:    uint(attempts),
		InitialBackoff: c.PartnerBackoffInitial,
		MaxBackoff:     c.PartnerBackoffMax,
	}
}

// Thresholds returns the configured triage windows.
func (c *Config) Thresholds() triage.Thresholds {
	return triage.Thresholds{
		AcuteOnsetHours: c.AcuteOnsetHours,
		SameDayHours:    c.SameDayHours,
		MultiDayHours:   c.MultiDayHours,
	}
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}
