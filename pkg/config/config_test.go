package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  listen: ":9090"
  timeout: 45s

imports:
  dir: /data/feedbacks
  scan_interval: 10m
  max_workers: 2

ledger:
  path: /data/logs/decisions.xlsx
  history_dsn: /data/history.db

email:
  drafts_dir: /data/drafts
  language: english
  sender: quality@example.com

accounts:
  AccountX:
    sheet_name: Feedback
    header_row: 3
    ticket_id: A
    message: B
    analyst_name: C
    user_name_parts: [D, E]
    rating: F
    assignment_group:
      column: G
      required_value: [Support, Billing]

recipients:
  AccountX:
    groups:
      support:
        analysts:
          Alice: alice@example.com
        cc_emails: [lead@example.com]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Listen)
	assert.Equal(t, 45*time.Second, cfg.Server.Timeout)
	assert.Equal(t, "/data/feedbacks", cfg.Imports.Dir)
	assert.Equal(t, 10*time.Minute, cfg.Imports.ScanInterval)
	assert.Equal(t, 2, cfg.Imports.MaxWorkers)
	assert.Equal(t, "/data/logs/decisions.xlsx", cfg.Ledger.Path)
	assert.Equal(t, "/data/history.db", cfg.Ledger.HistoryDSN)
	assert.Equal(t, "english", cfg.Email.Language)

	acc, ok := cfg.Accounts["AccountX"]
	require.True(t, ok)
	assert.Equal(t, "Feedback", acc.SheetName)
	assert.Equal(t, 3, acc.HeaderRow)
	assert.Equal(t, []string{"D", "E"}, acc.UserNameParts)
	assert.Equal(t, StringList{"Support", "Billing"}, acc.AssignmentGroup.RequiredValue)

	assert.Equal(t, "alice@example.com", cfg.Recipients["AccountX"].Groups["support"].Analysts["Alice"])
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
accounts:
  AccountX:
    ticket_id: A
    message: B
    analyst_name: C
    rating: D
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Listen)
	assert.Equal(t, 30*time.Second, cfg.Server.Timeout)
	assert.Equal(t, "feedbacks", cfg.Imports.Dir)
	assert.Equal(t, 4, cfg.Imports.MaxWorkers)
	assert.Equal(t, "logs/approved_feedbacks.xlsx", cfg.Ledger.Path)
	assert.Equal(t, "drafts", cfg.Email.DraftsDir)
	assert.Equal(t, "portuguese", cfg.Email.Language)

	acc := cfg.Accounts["AccountX"]
	assert.Equal(t, "Sheet1", acc.SheetName)
	assert.Equal(t, 1, acc.HeaderRow)
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("KUDOS_SENDER", "quality@example.com")

	path := writeConfig(t, `
email:
  sender: ${KUDOS_SENDER}
accounts:
  AccountX:
    ticket_id: A
    message: B
    analyst_name: C
    rating: D
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "quality@example.com", cfg.Email.Sender)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}

func TestLoad_BadYaml(t *testing.T) {
	path := writeConfig(t, "accounts: [not a map")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		yml     string
		errText string
	}{
		{
			name: "missing ticket_id",
			yml: `
accounts:
  AccountX:
    message: B
    analyst_name: C
    rating: D
`,
			errText: "ticket_id column is required",
		},
		{
			name: "no rating rule",
			yml: `
accounts:
  AccountX:
    ticket_id: A
    message: B
    analyst_name: C
`,
			errText: "a rating rule is required",
		},
		{
			name: "two rating rules",
			yml: `
accounts:
  AccountX:
    ticket_id: A
    message: B
    analyst_name: C
    rating: D
    rating_text:
      column: E
      positive_value: Good
`,
			errText: "only one rating rule may be declared",
		},
		{
			name: "user_name conflict",
			yml: `
accounts:
  AccountX:
    ticket_id: A
    message: B
    analyst_name: C
    rating: D
    user_name: E
    user_name_parts: [F, G]
`,
			errText: "mutually exclusive",
		},
		{
			name: "empty inverted values",
			yml: `
accounts:
  AccountX:
    ticket_id: A
    message: B
    analyst_name: C
    rating_inverted:
      column: D
      valid_values: []
`,
			errText: "rating_inverted.valid_values must not be empty",
		},
		{
			name: "unsupported language",
			yml: `
email:
  language: klingon
accounts:
  AccountX:
    ticket_id: A
    message: B
    analyst_name: C
    rating: D
`,
			errText: "is not supported",
		},
		{
			name: "workers below one",
			yml: `
imports:
  max_workers: -1
accounts:
  AccountX:
    ticket_id: A
    message: B
    analyst_name: C
    rating: D
`,
			errText: "max_workers must be at least 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errText)
		})
	}
}

func TestStringList_UnmarshalYAML(t *testing.T) {
	var scalar struct {
		Value StringList `yaml:"value"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(`value: Support`), &scalar))
	assert.Equal(t, StringList{"Support"}, scalar.Value)

	var list struct {
		Value StringList `yaml:"value"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(`value: [Support, Billing]`), &list))
	assert.Equal(t, StringList{"Support", "Billing"}, list.Value)
}
