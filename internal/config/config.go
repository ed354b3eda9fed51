package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvPrefix  = "SR"
	configDir  = ".session-runner"
	configName = "config"
	configType = "toml"
)

type Config struct {
	Accounts AccountsConfig `mapstructure:"accounts"`
	History  HistoryConfig  `mapstructure:"history"`
	API      APIConfig      `mapstructure:"api"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Session  SessionConfig  `mapstructure:"session"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type AccountsConfig struct {
	Path string `mapstructure:"path"`
}

type HistoryConfig struct {
	Path string `mapstructure:"path"`
	Keep int    `mapstructure:"keep"`
}

type APIConfig struct {
	BaseURL        string            `mapstructure:"base_url"`
	RenewURL       string            `mapstructure:"renew_url"`
	Timeout        time.Duration     `mapstructure:"timeout"`
	Headers        map[string]string `mapstructure:"headers"`
	IdentityHeader string            `mapstructure:"identity_header"`
	BalanceSymbols []string          `mapstructure:"balance_symbols"`
	Endpoints      EndpointsConfig   `mapstructure:"endpoints"`
	Tx             TxConfig          `mapstructure:"tx"`
}

type EndpointsConfig struct {
	Profile  string `mapstructure:"profile"`
	Balances string `mapstructure:"balances"`
	Sync     string `mapstructure:"sync"`
	Send     string `mapstructure:"send"`
}

type TxConfig struct {
	BlockchainID int64    `mapstructure:"blockchain_id"`
	IsNative     bool     `mapstructure:"is_native"`
	TokenAddress string   `mapstructure:"token_address"`
	Amount       string   `mapstructure:"amount"`
	Recipients   []string `mapstructure:"recipients"`
}

type ScheduleConfig struct {
	DailyAt   string        `mapstructure:"daily_at"`
	UTCOffset string        `mapstructure:"utc_offset"`
	Cron      string        `mapstructure:"cron"`
	Heartbeat time.Duration `mapstructure:"heartbeat"`
}

type SessionConfig struct {
	ExpiryThreshold  time.Duration `mapstructure:"expiry_threshold"`
	MaxRenewAttempts int           `mapstructure:"max_renew_attempts"`
}

type RetryConfig struct {
	NetworkBase       time.Duration `mapstructure:"network_base"`
	ProxyBase         time.Duration `mapstructure:"proxy_base"`
	Cap               time.Duration `mapstructure:"cap"`
	JitterMin         float64       `mapstructure:"jitter_min"`
	JitterMax         float64       `mapstructure:"jitter_max"`
	ProxyPenalty      time.Duration `mapstructure:"proxy_penalty"`
	ProxyPenaltyAfter int           `mapstructure:"proxy_penalty_after"`
	DefaultRetryAfter time.Duration `mapstructure:"default_retry_after"`
	CrashPause        time.Duration `mapstructure:"crash_pause"`
	MaxCrashes        int           `mapstructure:"max_crashes"`
	// Extra patterns and statuses are appended to the built-in classifier
	// lists. Proxied patterns only count for calls routed through a proxy.
	ProxyPatterns            []string `mapstructure:"proxy_patterns"`
	ProxiedPatterns          []string `mapstructure:"proxied_patterns"`
	ProxyStatuses            []int    `mapstructure:"proxy_statuses"`
	NetworkPatterns          []string `mapstructure:"network_patterns"`
	InvalidCredentialMarkers []string `mapstructure:"invalid_credential_markers"`
}

type WorkflowConfig struct {
	MinBalance       float64       `mapstructure:"min_balance"`
	IgnoreLowBalance bool          `mapstructure:"ignore_low_balance"`
	BatchSize        int           `mapstructure:"batch_size"`
	TxDelay          time.Duration `mapstructure:"tx_delay"`
	SettleDelay      time.Duration `mapstructure:"settle_delay"`
	RecheckDelay     time.Duration `mapstructure:"recheck_delay"`
	MaxTransactions  int           `mapstructure:"max_transactions"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MetricsConfig struct {
	// Listen is the address of the /metrics endpoint. Empty disables it.
	Listen string `mapstructure:"listen"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("accounts.path", "")
	v.SetDefault("history.path", "")
	v.SetDefault("history.keep", 30)

	v.SetDefault("api.base_url", "")
	v.SetDefault("api.renew_url", "")
	v.SetDefault("api.timeout", 30*time.Second)
	v.SetDefault("api.identity_header", "")
	v.SetDefault("api.balance_symbols", []string{"MATIC", "POL"})
	v.SetDefault("api.endpoints.profile", "")
	v.SetDefault("api.endpoints.balances", "")
	v.SetDefault("api.endpoints.sync", "")
	v.SetDefault("api.endpoints.send", "")
	v.SetDefault("api.tx.blockchain_id", 0)
	v.SetDefault("api.tx.is_native", true)
	v.SetDefault("api.tx.token_address", "")
	v.SetDefault("api.tx.amount", "")
	v.SetDefault("api.tx.recipients", []string{})

	v.SetDefault("schedule.daily_at", "07:30")
	v.SetDefault("schedule.utc_offset", "+07:00")
	v.SetDefault("schedule.cron", "")
	v.SetDefault("schedule.heartbeat", 4*time.Hour)

	v.SetDefault("session.expiry_threshold", 30*time.Minute)
	v.SetDefault("session.max_renew_attempts", 5)

	v.SetDefault("retry.network_base", 2*time.Second)
	v.SetDefault("retry.proxy_base", 4*time.Second)
	v.SetDefault("retry.cap", 120*time.Second)
	v.SetDefault("retry.jitter_min", 0.10)
	v.SetDefault("retry.jitter_max", 0.30)
	v.SetDefault("retry.proxy_penalty", 30*time.Second)
	v.SetDefault("retry.proxy_penalty_after", 3)
	v.SetDefault("retry.default_retry_after", 60*time.Second)
	v.SetDefault("retry.crash_pause", 5*time.Second)
	v.SetDefault("retry.max_crashes", 10)
	v.SetDefault("retry.proxy_patterns", []string{})
	v.SetDefault("retry.proxied_patterns", []string{})
	v.SetDefault("retry.proxy_statuses", []int{})
	v.SetDefault("retry.network_patterns", []string{})
	v.SetDefault("retry.invalid_credential_markers", []string{})

	v.SetDefault("workflow.min_balance", 0.0001)
	v.SetDefault("workflow.ignore_low_balance", false)
	v.SetDefault("workflow.batch_size", 2)
	v.SetDefault("workflow.tx_delay", 2*time.Second)
	v.SetDefault("workflow.settle_delay", 10*time.Second)
	v.SetDefault("workflow.recheck_delay", 30*time.Second)
	v.SetDefault("workflow.max_transactions", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("metrics.listen", "")
}

// Load reads .env, the TOML config file and SR_* environment overrides into
// v and decodes the result. An explicit file must exist; the default one is
// optional.
func Load(v *viper.Viper, file string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("log.level", EnvPrefix+"_LOG_LEVEL", "LOG_LEVEL")
	_ = v.BindEnv("log.format", EnvPrefix+"_LOG_FORMAT", "LOG_FORMAT")

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return Config{}, fmt.Errorf("resolve home directory: %w", err)
		}
		v.SetConfigName(configName)
		v.SetConfigType(configType)
		v.AddConfigPath(filepath.Join(homeDir, configDir))

		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	return cfg, nil
}

// Validate checks what a cycle needs. Commands that only read local state do
// not call it.
func (c Config) Validate() error {
	var errs []error
	if c.API.BaseURL == "" {
		errs = append(errs, errors.New("api.base_url is required"))
	}
	if c.API.Endpoints.Profile == "" || c.API.Endpoints.Balances == "" || c.API.Endpoints.Send == "" {
		errs = append(errs, errors.New("api.endpoints.profile, balances and send are required"))
	}
	if c.API.RenewURL == "" {
		errs = append(errs, errors.New("api.renew_url is required"))
	}
	if _, err := ParseUTCOffset(c.Schedule.UTCOffset); err != nil {
		errs = append(errs, err)
	}
	if c.Retry.JitterMin < 0 || c.Retry.JitterMax < c.Retry.JitterMin {
		errs = append(errs, fmt.Errorf("retry jitter range [%v, %v] is invalid", c.Retry.JitterMin, c.Retry.JitterMax))
	}
	for _, status := range c.Retry.ProxyStatuses {
		if status < 400 || status > 599 {
			errs = append(errs, fmt.Errorf("retry.proxy_statuses: %d is not an HTTP error status", status))
		}
	}

	return errors.Join(errs...)
}

// ParseUTCOffset accepts "+07:00", "-0530", "7" or "UTC".
func ParseUTCOffset(raw string) (time.Duration, error) {
	value := strings.TrimSpace(raw)
	if value == "" || strings.EqualFold(value, "UTC") || value == "Z" {
		return 0, nil
	}

	sign := time.Duration(1)
	switch value[0] {
	case '+':
		value = value[1:]
	case '-':
		sign = -1
		value = value[1:]
	}

	hourPart, minutePart, hasColon := strings.Cut(value, ":")
	if !hasColon && len(value) == 4 {
		hourPart, minutePart = value[:2], value[2:]
	}
	if minutePart == "" {
		minutePart = "0"
	}

	hours, err := strconv.Atoi(hourPart)
	if err != nil || hours < 0 || hours > 14 {
		return 0, fmt.Errorf("invalid utc offset %q", raw)
	}
	minutes, err := strconv.Atoi(minutePart)
	if err != nil || minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("invalid utc offset %q", raw)
	}

	return sign * (time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute), nil
}
