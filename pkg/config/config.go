package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

//go:generate go run ../../cmd/schema/main.go schema.json

// Config holds the application configuration
type Config struct {
	Server struct {
		Listen  string        `yaml:"listen" json:"listen" jsonschema:"default=:8080,description=HTTP server listen address"`
		Timeout time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=30s,description=HTTP server timeout"`
	} `yaml:"server" json:"server" jsonschema:"description=Server configuration"`

	Imports struct {
		Dir          string        `yaml:"dir" json:"dir" jsonschema:"default=feedbacks,description=Directory with per-account spreadsheet exports"`
		ScanInterval time.Duration `yaml:"scan_interval" json:"scan_interval" jsonschema:"description=Periodic rescan interval, disabled when zero"`
		MaxWorkers   int           `yaml:"max_workers" json:"max_workers" jsonschema:"default=4,description=Maximum concurrent account extractions"`
	} `yaml:"imports" json:"imports" jsonschema:"description=Spreadsheet import configuration"`

	Ledger struct {
		Path       string `yaml:"path" json:"path" jsonschema:"default=logs/approved_feedbacks.xlsx,description=Decision ledger snapshot file"`
		HistoryDSN string `yaml:"history_dsn" json:"history_dsn" jsonschema:"description=SQLite DSN for the decision history mirror, disabled when empty"`
	} `yaml:"ledger" json:"ledger" jsonschema:"description=Deduplication ledger configuration"`

	Email EmailConfig `yaml:"email" json:"email" jsonschema:"description=Recognition email drafting configuration"`

	Accounts map[string]AccountConfig `yaml:"accounts" json:"accounts" jsonschema:"description=Per-account extraction rules keyed by account name"`

	Recipients Recipients `yaml:"recipients" json:"recipients" jsonschema:"description=Recipient resolution table keyed by account name"`
}

// EmailConfig holds email drafting settings
type EmailConfig struct {
	DraftsDir    string `yaml:"drafts_dir" json:"drafts_dir" jsonschema:"default=drafts,description=Directory for generated draft files"`
	TemplatesDir string `yaml:"templates_dir" json:"templates_dir" jsonschema:"description=Directory with template overrides, embedded templates used when empty"`
	Language     string `yaml:"language" json:"language" jsonschema:"default=portuguese,description=Template language: portuguese, english or spanish"`
	Sender       string `yaml:"sender" json:"sender" jsonschema:"description=Sender address put on generated drafts"`
}

// AccountConfig describes how to extract feedback rows from one account's
// spreadsheet. Column fields are letter-form designators (A, B, ... AA).
type AccountConfig struct {
	SheetName   string `yaml:"sheet_name" json:"sheet_name" jsonschema:"default=Sheet1,description=Sheet to read"`
	HeaderRow   int    `yaml:"header_row" json:"header_row" jsonschema:"default=1,description=1-based header row, data rows start below it"`
	TicketID    string `yaml:"ticket_id" json:"ticket_id" jsonschema:"required,description=Ticket identifier column"`
	Message     string `yaml:"message" json:"message" jsonschema:"required,description=Feedback message column"`
	AnalystName string `yaml:"analyst_name" json:"analyst_name" jsonschema:"required,description=Analyst name column"`

	UserName      string   `yaml:"user_name,omitempty" json:"user_name,omitempty" jsonschema:"description=Customer name column"`
	UserNameParts []string `yaml:"user_name_parts,omitempty" json:"user_name_parts,omitempty" jsonschema:"description=Ordered columns joined with a space to form the customer name"`

	// at most one rating rule may be set; a bare rating column implies the
	// numeric threshold rule
	Rating         string              `yaml:"rating,omitempty" json:"rating,omitempty" jsonschema:"description=Numeric rating column for the threshold rule"`
	RatingText     *RatingTextRule     `yaml:"rating_text,omitempty" json:"rating_text,omitempty" jsonschema:"description=Exact-match textual rating rule"`
	RatingInverted *RatingInvertedRule `yaml:"rating_inverted,omitempty" json:"rating_inverted,omitempty" jsonschema:"description=Set-membership rating rule"`

	AssignmentGroup *AssignmentGroupRule `yaml:"assignment_group,omitempty" json:"assignment_group,omitempty" jsonschema:"description=Keep rows from these assignment groups only"`
}

// RatingTextRule accepts a row when the cell equals the positive value exactly
type RatingTextRule struct {
	Column        string `yaml:"column" json:"column" jsonschema:"required"`
	PositiveValue string `yaml:"positive_value" json:"positive_value" jsonschema:"required"`
}

// RatingInvertedRule accepts a row when the cell is one of the valid values
type RatingInvertedRule struct {
	Column      string   `yaml:"column" json:"column" jsonschema:"required"`
	ValidValues []string `yaml:"valid_values" json:"valid_values" jsonschema:"required"`
}

// AssignmentGroupRule keeps a row only when the cell matches the required
// value, either a single scalar or any member of a list
type AssignmentGroupRule struct {
	Column        string     `yaml:"column" json:"column" jsonschema:"required"`
	RequiredValue StringList `yaml:"required_value" json:"required_value" jsonschema:"required,description=Scalar or list of accepted group names"`
}

// StringList unmarshals from either a single YAML scalar or a sequence
type StringList []string

// UnmarshalYAML implements yaml.Unmarshaler accepting scalar or list form
func (s *StringList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		var single string
		if err := value.Decode(&single); err != nil {
			return err
		}
		*s = StringList{single}
		return nil
	}
	var many []string
	if err := value.Decode(&many); err != nil {
		return err
	}
	*s = StringList(many)
	return nil
}

// Recipients maps account name to its recipient-resolution groups
type Recipients map[string]AccountRecipients

// AccountRecipients holds the analyst groups for one account
type AccountRecipients struct {
	Groups map[string]RecipientGroup `yaml:"groups" json:"groups" jsonschema:"description=Named groups with analyst addresses"`
}

// RecipientGroup maps analyst display names to addresses plus a shared CC list
type RecipientGroup struct {
	Analysts map[string]string `yaml:"analysts" json:"analysts" jsonschema:"description=Analyst name to email address"`
	CCEmails []string          `yaml:"cc_emails" json:"cc_emails" jsonschema:"description=Addresses copied on every draft for the group"`
}

// supported template languages
var templateLanguages = map[string]bool{"portuguese": true, "english": true, "spanish": true}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // file path comes from CLI flag
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	// validate configuration
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	// verify against embedded schema
	if err := VerifyAgainstEmbeddedSchema(&cfg); err != nil {
		// log warning but don't fail - schema validation is supplementary
		fmt.Printf("warning: schema validation failed: %v\n", err)
	}

	return &cfg, nil
}

// setDefaults fills zero values with sane defaults
func (c *Config) setDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}
	if c.Server.Timeout == 0 {
		c.Server.Timeout = 30 * time.Second
	}

	if c.Imports.Dir == "" {
		c.Imports.Dir = "feedbacks"
	}
	if c.Imports.MaxWorkers == 0 {
		c.Imports.MaxWorkers = 4
	}

	if c.Ledger.Path == "" {
		c.Ledger.Path = "logs/approved_feedbacks.xlsx"
	}

	if c.Email.DraftsDir == "" {
		c.Email.DraftsDir = "drafts"
	}
	if c.Email.Language == "" {
		c.Email.Language = "portuguese"
	}

	for name, acc := range c.Accounts {
		if acc.SheetName == "" {
			acc.SheetName = "Sheet1"
		}
		if acc.HeaderRow == 0 {
			acc.HeaderRow = 1
		}
		c.Accounts[name] = acc
	}
}

// validate checks configuration for correctness
func validate(cfg *Config) error {
	// validate server config
	if cfg.Server.Timeout < time.Second {
		return fmt.Errorf("server timeout must be at least 1 second")
	}

	if cfg.Imports.MaxWorkers < 1 {
		return fmt.Errorf("imports.max_workers must be at least 1")
	}

	if !templateLanguages[cfg.Email.Language] {
		return fmt.Errorf("email.language %q is not supported", cfg.Email.Language)
	}

	for name, acc := range cfg.Accounts {
		if err := validateAccount(acc); err != nil {
			return fmt.Errorf("account %q: %w", name, err)
		}
	}

	return nil
}

// validateAccount checks one account's extraction rules
func validateAccount(acc AccountConfig) error {
	if acc.TicketID == "" {
		return fmt.Errorf("ticket_id column is required")
	}
	if acc.Message == "" {
		return fmt.Errorf("message column is required")
	}
	if acc.AnalystName == "" {
		return fmt.Errorf("analyst_name column is required")
	}
	if acc.HeaderRow < 1 {
		return fmt.Errorf("header_row must be at least 1")
	}

	// at most one rating rule variant
	variants := 0
	if acc.Rating != "" {
		variants++
	}
	if acc.RatingText != nil {
		variants++
	}
	if acc.RatingInverted != nil {
		variants++
	}
	if variants == 0 {
		return fmt.Errorf("a rating rule is required: rating, rating_text or rating_inverted")
	}
	if variants > 1 {
		return fmt.Errorf("only one rating rule may be declared")
	}

	if acc.RatingInverted != nil && len(acc.RatingInverted.ValidValues) == 0 {
		return fmt.Errorf("rating_inverted.valid_values must not be empty")
	}
	if acc.AssignmentGroup != nil && len(acc.AssignmentGroup.RequiredValue) == 0 {
		return fmt.Errorf("assignment_group.required_value must not be empty")
	}

	if acc.UserName != "" && len(acc.UserNameParts) > 0 {
		return fmt.Errorf("user_name and user_name_parts are mutually exclusive")
	}

	return nil
}

// GetServerConfig returns server configuration
func (c *Config) GetServerConfig() (listen string, timeout time.Duration) {
	return c.Server.Listen, c.Server.Timeout
}

// GetEmailConfig returns email drafting configuration
func (c *Config) GetEmailConfig() EmailConfig {
	return c.Email
}
