package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const configFixture = `
[accounts]
path = "/tmp/accounts.toml"

[api]
base_url = "https://api.example"
renew_url = "https://auth.example/api/v1/sessions"
identity_header = "privy-ca-id"

[api.headers]
origin = "https://wallet.example"

[api.endpoints]
profile = "/api/profile"
balances = "/api/balances"
send = "/api/send"

[api.tx]
blockchain_id = 137
amount = "0.00001"
recipients = ["0xaaa", "0xbbb"]

[schedule]
daily_at = "06:15"
heartbeat = "2h"

[workflow]
batch_size = 3
ignore_low_balance = true

[retry]
proxied_patterns = ["ssl alert"]
proxy_statuses = [407, 598]
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadReadsFileAndDefaults(t *testing.T) {
	cfg, err := Load(viper.New(), writeConfig(t, configFixture))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/accounts.toml", cfg.Accounts.Path)
	assert.Equal(t, "https://api.example", cfg.API.BaseURL)
	assert.Equal(t, map[string]string{"origin": "https://wallet.example"}, cfg.API.Headers)
	assert.Equal(t, []string{"0xaaa", "0xbbb"}, cfg.API.Tx.Recipients)
	assert.Equal(t, int64(137), cfg.API.Tx.BlockchainID)
	assert.Equal(t, []string{"MATIC", "POL"}, cfg.API.BalanceSymbols)
	assert.Equal(t, 30*time.Second, cfg.API.Timeout)

	assert.Equal(t, "06:15", cfg.Schedule.DailyAt)
	assert.Equal(t, "+07:00", cfg.Schedule.UTCOffset)
	assert.Equal(t, 2*time.Hour, cfg.Schedule.Heartbeat)

	assert.Equal(t, 3, cfg.Workflow.BatchSize)
	assert.True(t, cfg.Workflow.IgnoreLowBalance)
	assert.Equal(t, 10*time.Second, cfg.Workflow.SettleDelay)
	assert.InDelta(t, 0.0001, cfg.Workflow.MinBalance, 1e-9)

	assert.Equal(t, 2*time.Second, cfg.Retry.NetworkBase)
	assert.Equal(t, 3, cfg.Retry.ProxyPenaltyAfter)
	assert.Equal(t, 10, cfg.Retry.MaxCrashes)
	assert.Equal(t, []string{"ssl alert"}, cfg.Retry.ProxiedPatterns)
	assert.Equal(t, []int{407, 598}, cfg.Retry.ProxyStatuses)

	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsNonErrorProxyStatus(t *testing.T) {
	cfg, err := Load(viper.New(), writeConfig(t, configFixture))
	require.NoError(t, err)

	cfg.Retry.ProxyStatuses = []int{502, 200}
	require.ErrorContains(t, cfg.Validate(), "retry.proxy_statuses: 200")
}

func TestLoadAppliesEnvironmentOverrides(t *testing.T) {
	t.Setenv("SR_WORKFLOW_BATCH_SIZE", "5")
	t.Setenv("SR_SCHEDULE_UTC_OFFSET", "-03:30")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(viper.New(), writeConfig(t, configFixture))
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Workflow.BatchSize)
	assert.Equal(t, "-03:30", cfg.Schedule.UTCOffset)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "missing.toml"))
	require.ErrorContains(t, err, "read config file")
}

func TestLoadWithoutDefaultFileUsesDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, "07:30", cfg.Schedule.DailyAt)
	assert.Equal(t, 4*time.Hour, cfg.Schedule.Heartbeat)

	err = cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "api.base_url is required")
	assert.ErrorContains(t, err, "api.renew_url is required")
}

func TestParseUTCOffset(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  time.Duration
		err   bool
	}{
		{input: "+07:00", want: 7 * time.Hour},
		{input: "-0530", want: -(5*time.Hour + 30*time.Minute)},
		{input: "7", want: 7 * time.Hour},
		{input: "UTC", want: 0},
		{input: "", want: 0},
		{input: "+25:00", err: true},
		{input: "+07:75", err: true},
		{input: "abc", err: true},
	}

	for _, tc := range tests {
		got, err := ParseUTCOffset(tc.input)
		if tc.err {
			assert.Error(t, err, tc.input)
			continue
		}
		require.NoError(t, err, tc.input)
		assert.Equal(t, tc.want, got, tc.input)
	}
}
