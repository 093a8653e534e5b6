package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "SPPROBE"

// MaintenanceWindow is one UTC suspension window during which the planner
// gates all new publishes.
type MaintenanceWindow struct {
	StartUTC string // "HH:MM"
	Minutes  int
}

// Config is the fully resolved daemon configuration, covering every
// option spec.md §6 names plus the database/server settings needed to run
// the process at all.
type Config struct {
	// Database
	DatabaseURL string
	PoolMax     int32

	// Cadences (seconds)
	DealIntervalSeconds      int
	RetrievalIntervalSeconds int
	RetentionIntervalSeconds int

	// Inter-family stagger (seconds)
	DealStartOffsetSeconds      int
	RetrievalStartOffsetSeconds int
	MetricsBaseOffsetSeconds    int

	// Maintenance
	MaintenanceWindowsUTC   []MaintenanceWindow
	MaintenanceWindowMinutes int

	// Provider filter
	UseOnlyApprovedProviders bool
	EnableIPNITesting        bool

	// Transport
	HTTP2RequestTimeoutMs int
	HTTPRequestTimeoutMs  int
	ConnectTimeoutMs      int

	// Retrieval
	IPFSBlockFetchConcurrency int

	// Server
	HTTPListenAddr string
	LogLevel       string
	LogFormat      string
	ServiceName    string

	// Chain
	ChainRPCEndpoint string
	WalletAddress    string

	// Allowance upkeep (decimal integers, base units of the chain's
	// payment token)
	PerProviderRateUnits   string
	PerProviderLockupUnits string

	// Retention index
	RetentionIndexEndpoint string
}

// Load builds a Config from (in increasing priority) defaults, an
// optional config file, and SPPROBE_-prefixed environment variables, the
// same viper composition the teacher's CLI root command uses.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configFile, err)
		}
	}

	cfg := &Config{
		DatabaseURL:                 v.GetString("database_url"),
		PoolMax:                     int32(v.GetInt("pool_max")),
		DealIntervalSeconds:         v.GetInt("deal_interval_seconds"),
		RetrievalIntervalSeconds:    v.GetInt("retrieval_interval_seconds"),
		RetentionIntervalSeconds:    v.GetInt("retention_interval_seconds"),
		DealStartOffsetSeconds:      v.GetInt("deal_start_offset_seconds"),
		RetrievalStartOffsetSeconds: v.GetInt("retrieval_start_offset_seconds"),
		MetricsBaseOffsetSeconds:    v.GetInt("metrics_base_offset_seconds"),
		MaintenanceWindowMinutes:    v.GetInt("maintenance_window_minutes"),
		UseOnlyApprovedProviders:    v.GetBool("use_only_approved_providers"),
		EnableIPNITesting:           v.GetBool("enable_ipni_testing"),
		HTTP2RequestTimeoutMs:       v.GetInt("http2_request_timeout_ms"),
		HTTPRequestTimeoutMs:        v.GetInt("http_request_timeout_ms"),
		ConnectTimeoutMs:            v.GetInt("connect_timeout_ms"),
		IPFSBlockFetchConcurrency:   v.GetInt("ipfs_block_fetch_concurrency"),
		HTTPListenAddr:              v.GetString("http_listen_addr"),
		LogLevel:                    v.GetString("log_level"),
		LogFormat:                   v.GetString("log_format"),
		ServiceName:                 v.GetString("service_name"),
		ChainRPCEndpoint:            v.GetString("chain_rpc_endpoint"),
		WalletAddress:               v.GetString("wallet_address"),
		PerProviderRateUnits:        v.GetString("per_provider_rate_units"),
		PerProviderLockupUnits:      v.GetString("per_provider_lockup_units"),
		RetentionIndexEndpoint:      v.GetString("retention_index_endpoint"),
	}

	windows, err := parseMaintenanceWindows(v.GetStringSlice("maintenance_windows_utc"))
	if err != nil {
		return nil, fmt.Errorf("config: maintenance_windows_utc: %w", err)
	}
	cfg.MaintenanceWindowsUTC = windows

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("pool_max", 10)
	v.SetDefault("deal_interval_seconds", 3600)
	v.SetDefault("retrieval_interval_seconds", 3600)
	v.SetDefault("retention_interval_seconds", 1800)
	v.SetDefault("deal_start_offset_seconds", 0)
	v.SetDefault("retrieval_start_offset_seconds", 600)
	v.SetDefault("metrics_base_offset_seconds", 900)
	v.SetDefault("maintenance_window_minutes", 30)
	v.SetDefault("use_only_approved_providers", true)
	v.SetDefault("enable_ipni_testing", true)
	v.SetDefault("http2_request_timeout_ms", 30000)
	v.SetDefault("http_request_timeout_ms", 15000)
	v.SetDefault("connect_timeout_ms", 5000)
	v.SetDefault("ipfs_block_fetch_concurrency", 6)
	v.SetDefault("http_listen_addr", ":8090")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("service_name", "spprobe")
	v.SetDefault("per_provider_rate_units", "1")
	v.SetDefault("per_provider_lockup_units", "1")
}

// parseMaintenanceWindows parses "HH:MM/minutes" entries, one window per
// entry with its fields split on '/', e.g. "02:00/30" and "14:00/15".
func parseMaintenanceWindows(raw []string) ([]MaintenanceWindow, error) {
	windows := make([]MaintenanceWindow, 0, len(raw))
	for _, entry := range raw {
		parts := strings.SplitN(entry, "/", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed window %q, want HH:MM/minutes", entry)
		}
		minutes, err := time.ParseDuration(parts[1] + "m")
		if err != nil {
			return nil, fmt.Errorf("malformed window minutes %q: %w", parts[1], err)
		}
		windows = append(windows, MaintenanceWindow{
			StartUTC: parts[0],
			Minutes:  int(minutes.Minutes()),
		})
	}
	return windows, nil
}

func validate(cfg *Config) error {
	v := NewValidator()
	v.RequireString("database_url", cfg.DatabaseURL)
	v.RequirePositiveInt("deal_interval_seconds", cfg.DealIntervalSeconds)
	v.RequirePositiveInt("retrieval_interval_seconds", cfg.RetrievalIntervalSeconds)
	v.RequirePositiveInt("retention_interval_seconds", cfg.RetentionIntervalSeconds)
	v.RequireOneOf("log_level", cfg.LogLevel, []string{"debug", "info", "warn", "error"})
	v.RequireOneOf("log_format", cfg.LogFormat, []string{"json", "text"})
	return v.Validate()
}
