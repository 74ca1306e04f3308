package cfg

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"
)

// Config holds the application-level settings for the control tower.
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	DatabaseURL           string
	SLARulesFile          string
	ReorderWindow         time.Duration
	KPIWindowSize         int
	KafkaBrokers          string
	KafkaTopic            string
	KafkaGroupID          string
	ClaudeAPIKey          string
	ClaudeModel           string
	SlackWebhookURL       string
	OperatorToken         string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory stores)")
	fs.StringVar(&c.SLARulesFile, "sla-rules-file", "", "YAML file with SLA rules to load at startup (empty = none)")
	fs.DurationVar(&c.ReorderWindow, "reorder-window", 5*time.Minute, "how long an early transaction waits for its predecessor")
	fs.IntVar(&c.KPIWindowSize, "kpi-window-size", 100, "per-partner KPI sliding window capacity")
	fs.StringVar(&c.KafkaBrokers, "kafka-brokers", "", "comma-separated Kafka brokers for transaction ingestion (empty = HTTP only)")
	fs.StringVar(&c.KafkaTopic, "kafka-topic", "edi-transactions", "Kafka topic to consume transactions from")
	fs.StringVar(&c.KafkaGroupID, "kafka-group-id", "edi-control-tower", "Kafka consumer group ID")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for Claude incident severity scoring (empty = static severities)")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for incident notifications")
	fs.StringVar(&c.OperatorToken, "operator-token", "", "bearer token guarding operator endpoints (empty = no auth)")
}

// BrokerList splits KafkaBrokers into addresses.
func (c *Config) BrokerList() []string {
	if c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
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

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.ReorderWindow <= 0 {
		errs = append(errs, fmt.Errorf("invalid REORDER_WINDOW %s (must be positive)", c.ReorderWindow))
	}
	if c.KPIWindowSize <= 0 {
		errs = append(errs, fmt.Errorf("invalid KPI_WINDOW_SIZE %d (must be positive)", c.KPIWindowSize))
	}

	// Kafka topic and group only matter when brokers are set
	if c.KafkaBrokers != "" {
		if c.KafkaTopic == "" {
			errs = append(errs, errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set"))
		}
		if c.KafkaGroupID == "" {
			errs = append(errs, errors.New("KAFKA_GROUP_ID is required when KAFKA_BROKERS is set"))
		}
	}

	// Model is only required when scoring is enabled
	if c.ClaudeAPIKey != "" && c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required when CLAUDE_API_KEY is set"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
