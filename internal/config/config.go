package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"sentinel/internal/faults"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pelletier/go-toml/v2"
)

const (
	defaultHTTPListen          = ":8080"
	defaultHealthPath          = "/healthz"
	defaultReadyPath           = "/readyz"
	defaultActivityPath        = "/activity"
	defaultIncidentPath        = "/incident"
	defaultResolvePath         = "/incident/resolve"
	defaultSchedulePath        = "/schedule"
	defaultMaxBodyBytes        = 1 << 20
	defaultNATSURL             = "nats://127.0.0.1:4222"
	defaultNATSSubject         = "sentinel.activity"
	defaultNATSStream          = "SENTINEL_ACTIVITY"
	defaultNATSConsumer        = "sentinel-ingest"
	defaultNATSGroup           = "sentinel-workers"
	defaultNATSAckWaitSec      = 30
	defaultNATSNackDelayMS     = 1000
	defaultNATSMaxDeliver      = -1
	defaultNATSMaxAckPending   = 2048
	defaultMonitorIntervalSec  = 30
	defaultGasIntervalSec      = 30
	defaultLivenessIntervalSec = 60
	defaultCallTimeoutSec      = 15
	defaultConfirmations       = 2
	defaultMaxAutoActions      = 5
	defaultReportDir           = "reports"
	defaultReportIntervalSec   = 3600
	defaultStoreDir            = "data"

	defaultGasWarningGwei  = 50.0
	defaultGasCriticalGwei = 100.0
	defaultLowBalanceEth   = 0.1
	defaultErrorRatePct    = 10.0

	defaultGasWarningCooldownMS  = int64(300_000)
	defaultGasCriticalCooldownMS = int64(600_000)
	defaultLowBalanceCooldownMS  = int64(3_600_000)
	defaultErrorRateCooldownMS   = int64(600_000)
	defaultOfflineCooldownMS     = int64(600_000)

	// StoreModeMemory keeps incidents/schedules in process memory only.
	StoreModeMemory = "memory"
	// StoreModeBadger keeps incidents/schedules in a local badger database.
	StoreModeBadger = "badger"

	// CapabilityPause marks contracts exposing a pause switch.
	CapabilityPause = "pause"
	// CapabilityWithdraw marks contracts exposing emergency withdrawal.
	CapabilityWithdraw = "withdraw"
	// CapabilityTransferOwnership marks contracts exposing ownership transfer.
	CapabilityTransferOwnership = "transfer_ownership"
)

// Config holds service runtime settings for the sentinel process.
// Params: TOML sections from file or merged directory snapshot.
// Returns: validated runtime configuration.
type Config struct {
	Service   ServiceConfig             `toml:"service"`
	Log       LogConfig                 `toml:"log"`
	Chain     ChainConfig               `toml:"chain"`
	Contracts map[string]ContractConfig `toml:"contract"`
	Rules     RulesConfig               `toml:"rules"`
	Response  ResponseConfig            `toml:"response"`
	Notify    NotifyConfig              `toml:"notify"`
	Ingest    IngestConfig              `toml:"ingest"`
	Store     StoreConfig               `toml:"store"`
	Report    ReportConfig              `toml:"report"`
}

// ServiceConfig contains process-level settings.
// Params: name, network label, and timer intervals.
// Returns: service behavior defaults.
type ServiceConfig struct {
	Name                string `toml:"name"`
	Network             string `toml:"network"`
	MonitorIntervalSec  int    `toml:"monitor_interval_sec"`
	GasIntervalSec      int    `toml:"gas_interval_sec"`
	LivenessIntervalSec int    `toml:"liveness_interval_sec"`
}

// LogConfig selects log sinks.
// Params: console and file sink settings.
// Returns: logging setup options.
type LogConfig struct {
	Console LogSinkConfig `toml:"console"`
	File    LogSinkConfig `toml:"file"`
}

// LogSinkConfig configures one log sink.
// Params: enable flag, level, format, and file path for file sink.
// Returns: sink behavior.
type LogSinkConfig struct {
	Enabled bool   `toml:"enabled"`
	Level   string `toml:"level"`
	Format  string `toml:"format"`
	Path    string `toml:"path"`
}

// ChainConfig configures RPC endpoints and write/confirmation policy.
// Params: primary/backup URLs, chain id, signer key, and deadlines.
// Returns: chain connector options.
type ChainConfig struct {
	PrimaryURL     string   `toml:"primary_url"`
	BackupURLs     []string `toml:"backup_urls"`
	ChainID        int64    `toml:"chain_id"`
	PrivateKey     string   `toml:"private_key"`
	Confirmations  uint64   `toml:"confirmations"`
	CallTimeoutSec int      `toml:"call_timeout_sec"`
	SafeAddress    string   `toml:"safe_address"`
	RecoveryOwner  string   `toml:"recovery_owner"`
}

// ContractConfig describes one registered contract target.
// Params: address, static capability list, and planner classification flags.
// Returns: immutable registration input for the contract registry.
type ContractConfig struct {
	Address        string   `toml:"address"`
	Capabilities   []string `toml:"capabilities"`
	Critical       bool     `toml:"critical"`
	PriceDependent bool     `toml:"price_dependent"`
	Governance     bool     `toml:"governance"`
}

// RulesConfig holds alert rule thresholds and cooldowns.
// Params: gas/balance/error thresholds plus per-rule cooldown windows.
// Returns: static rule set inputs for the alert engine.
type RulesConfig struct {
	GasWarningGwei        float64 `toml:"gas_warning_gwei"`
	GasCriticalGwei       float64 `toml:"gas_critical_gwei"`
	LowBalanceEth         float64 `toml:"low_balance_eth"`
	ErrorRatePct          float64 `toml:"error_rate_pct"`
	GasWarningCooldownMS  int64   `toml:"gas_warning_cooldown_ms"`
	GasCriticalCooldownMS int64   `toml:"gas_critical_cooldown_ms"`
	LowBalanceCooldownMS  int64   `toml:"low_balance_cooldown_ms"`
	ErrorRateCooldownMS   int64   `toml:"error_rate_cooldown_ms"`
	OfflineCooldownMS     int64   `toml:"offline_cooldown_ms"`
	Disabled              []string `toml:"disabled"`
}

// ResponseConfig gates automated incident response.
// Params: per-class automation switches and the global action budget.
// Returns: incident manager automation policy.
type ResponseConfig struct {
	PauseOnExploit            bool `toml:"pause_on_exploit"`
	WithdrawOnCritical        bool `toml:"withdraw_on_critical"`
	TransferOwnershipOnBreach bool `toml:"transfer_ownership_on_breach"`
	MaxAutomatedActions       int  `toml:"max_automated_actions"`
}

// NotifyConfig configures outbound notification channels.
// Params: chat webhook, generic webhook, email, and telegram settings.
// Returns: dispatcher channel set.
type NotifyConfig struct {
	Chat     ChatNotifier     `toml:"chat"`
	Webhook  WebhookNotifier  `toml:"webhook"`
	Email    EmailNotifier    `toml:"email"`
	Telegram TelegramNotifier `toml:"telegram"`
}

// ChatNotifier configures the chat-style webhook channel.
// Params: webhook URL, destination channel label, and timeout.
// Returns: chat channel options.
type ChatNotifier struct {
	Enabled    bool   `toml:"enabled"`
	WebhookURL string `toml:"webhook_url"`
	Channel    string `toml:"channel"`
	TimeoutSec int    `toml:"timeout_sec"`
}

// WebhookNotifier configures the generic webhook channel.
// Params: URL, method, caller-supplied headers, and timeout.
// Returns: webhook channel options.
type WebhookNotifier struct {
	Enabled    bool              `toml:"enabled"`
	URL        string            `toml:"url"`
	Method     string            `toml:"method"`
	Headers    map[string]string `toml:"headers"`
	TimeoutSec int               `toml:"timeout_sec"`
}

// EmailNotifier configures the email channel abstraction.
// Params: sender/recipient addresses and SMTP endpoint.
// Returns: email channel options.
type EmailNotifier struct {
	Enabled  bool     `toml:"enabled"`
	From     string   `toml:"from"`
	To       []string `toml:"to"`
	SMTPAddr string   `toml:"smtp_addr"`
}

// TelegramNotifier configures the Telegram channel.
// Params: bot token, chat id, and optional API base.
// Returns: telegram channel options.
type TelegramNotifier struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
	APIBase  string `toml:"api_base"`
}

// IngestConfig defines inbound event interfaces.
// Params: embedded HTTP and NATS subscription controls.
// Returns: ingestion runtime options.
type IngestConfig struct {
	HTTP HTTPIngestConfig `toml:"http"`
	NATS NATSIngestConfig `toml:"nats"`
}

// HTTPIngestConfig configures the HTTP control/ingest endpoint.
// Params: enable flag, listen address, endpoint paths, and body size limit.
// Returns: HTTP ingest behavior.
type HTTPIngestConfig struct {
	Enabled      bool   `toml:"enabled"`
	Listen       string `toml:"listen"`
	HealthPath   string `toml:"health_path"`
	ReadyPath    string `toml:"ready_path"`
	ActivityPath string `toml:"activity_path"`
	IncidentPath string `toml:"incident_path"`
	ResolvePath  string `toml:"resolve_path"`
	SchedulePath string `toml:"schedule_path"`
	MaxBodyBytes int64  `toml:"max_body_bytes"`
}

// NATSIngestConfig configures JetStream queue-consumer ingestion.
// Params: connection plus ack/redelivery policy.
// Returns: NATS ingest behavior.
type NATSIngestConfig struct {
	Enabled       bool     `toml:"enabled"`
	URL           []string `toml:"url"`
	Subject       string   `toml:"subject"`
	Stream        string   `toml:"stream"`
	ConsumerName  string   `toml:"consumer_name"`
	DeliverGroup  string   `toml:"deliver_group"`
	AckWaitSec    int      `toml:"ack_wait_sec"`
	NackDelayMS   int      `toml:"nack_delay_ms"`
	MaxDeliver    int      `toml:"max_deliver"`
	MaxAckPending int      `toml:"max_ack_pending"`
}

// StoreConfig selects incident/schedule persistence backend.
// Params: mode and badger directory.
// Returns: state backend options.
type StoreConfig struct {
	Mode string `toml:"mode"`
	Dir  string `toml:"dir"`
}

// ReportConfig configures persisted report artifacts.
// Params: output directory and monitoring report period.
// Returns: report writer options.
type ReportConfig struct {
	Dir                   string `toml:"dir"`
	MonitoringIntervalSec int    `toml:"monitoring_interval_sec"`
}

// ConfigSource abstracts one config origin (file or directory).
// Params: none.
// Returns: raw TOML documents in merge order.
type ConfigSource interface {
	Load() ([][]byte, error)
}

// fileSource reads one TOML file.
type fileSource struct {
	path string
}

// Load reads the single config file.
// Params: none.
// Returns: one raw TOML document.
func (s fileSource) Load() ([][]byte, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read config file %q: %w", s.path, err)
	}
	return [][]byte{raw}, nil
}

// dirSource reads all *.toml fragments in lexical order.
type dirSource struct {
	path string
}

// Load reads directory fragments in deterministic order.
// Params: none.
// Returns: raw TOML documents sorted by file name.
func (s dirSource) Load() ([][]byte, error) {
	entries, err := os.ReadDir(s.path)
	if err != nil {
		return nil, fmt.Errorf("read config dir %q: %w", s.path, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".toml") {
			continue
		}
		names = append(names, entry.Name())
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("config dir %q contains no *.toml fragments", s.path)
	}
	sort.Strings(names)
	docs := make([][]byte, 0, len(names))
	for _, name := range names {
		raw, readErr := os.ReadFile(filepath.Join(s.path, name))
		if readErr != nil {
			return nil, fmt.Errorf("read config fragment %q: %w", name, readErr)
		}
		docs = append(docs, raw)
	}
	return docs, nil
}

// FromCLI selects config source from CLI flags.
// Params: optional file path and optional directory path (exactly one).
// Returns: config source or usage error.
func FromCLI(configFile, configDir string) (ConfigSource, error) {
	file := strings.TrimSpace(configFile)
	dir := strings.TrimSpace(configDir)
	switch {
	case file != "" && dir != "":
		return nil, errors.New("use either --config-file or --config-dir, not both")
	case file != "":
		return fileSource{path: file}, nil
	case dir != "":
		return dirSource{path: dir}, nil
	default:
		return nil, errors.New("one of --config-file or --config-dir is required")
	}
}

// LoadSnapshot loads, merges, normalizes, and validates configuration.
// Params: config source with one or more TOML documents.
// Returns: validated config snapshot or ConfigError.
func LoadSnapshot(source ConfigSource) (Config, error) {
	docs, err := source.Load()
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	for _, doc := range docs {
		if err := toml.Unmarshal(doc, &cfg); err != nil {
			return Config{}, faults.ConfigError{Key: "toml", Reason: err.Error()}
		}
	}

	applyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyDefaults fills unset fields with runtime defaults.
// Params: mutable config pointer after TOML decode.
// Returns: config normalized in place.
func applyDefaults(cfg *Config) {
	if cfg.Service.Name == "" {
		cfg.Service.Name = "sentinel"
	}
	if cfg.Service.Network == "" {
		cfg.Service.Network = "mainnet"
	}
	if cfg.Service.MonitorIntervalSec <= 0 {
		cfg.Service.MonitorIntervalSec = defaultMonitorIntervalSec
	}
	if cfg.Service.GasIntervalSec <= 0 {
		cfg.Service.GasIntervalSec = defaultGasIntervalSec
	}
	if cfg.Service.LivenessIntervalSec <= 0 {
		cfg.Service.LivenessIntervalSec = defaultLivenessIntervalSec
	}

	if !cfg.Log.Console.Enabled && !cfg.Log.File.Enabled {
		cfg.Log.Console = LogSinkConfig{Enabled: true, Level: "info", Format: "line"}
	}
	if cfg.Log.Console.Enabled {
		if cfg.Log.Console.Level == "" {
			cfg.Log.Console.Level = "info"
		}
		if cfg.Log.Console.Format == "" {
			cfg.Log.Console.Format = "line"
		}
	}
	if cfg.Log.File.Enabled {
		if cfg.Log.File.Level == "" {
			cfg.Log.File.Level = "info"
		}
		if cfg.Log.File.Format == "" {
			cfg.Log.File.Format = "json"
		}
	}

	if cfg.Chain.Confirmations == 0 {
		cfg.Chain.Confirmations = defaultConfirmations
	}
	if cfg.Chain.CallTimeoutSec <= 0 {
		cfg.Chain.CallTimeoutSec = defaultCallTimeoutSec
	}

	if cfg.Rules.GasWarningGwei <= 0 {
		cfg.Rules.GasWarningGwei = defaultGasWarningGwei
	}
	if cfg.Rules.GasCriticalGwei <= 0 {
		cfg.Rules.GasCriticalGwei = defaultGasCriticalGwei
	}
	if cfg.Rules.LowBalanceEth <= 0 {
		cfg.Rules.LowBalanceEth = defaultLowBalanceEth
	}
	if cfg.Rules.ErrorRatePct <= 0 {
		cfg.Rules.ErrorRatePct = defaultErrorRatePct
	}
	if cfg.Rules.GasWarningCooldownMS <= 0 {
		cfg.Rules.GasWarningCooldownMS = defaultGasWarningCooldownMS
	}
	if cfg.Rules.GasCriticalCooldownMS <= 0 {
		cfg.Rules.GasCriticalCooldownMS = defaultGasCriticalCooldownMS
	}
	if cfg.Rules.LowBalanceCooldownMS <= 0 {
		cfg.Rules.LowBalanceCooldownMS = defaultLowBalanceCooldownMS
	}
	if cfg.Rules.ErrorRateCooldownMS <= 0 {
		cfg.Rules.ErrorRateCooldownMS = defaultErrorRateCooldownMS
	}
	if cfg.Rules.OfflineCooldownMS <= 0 {
		cfg.Rules.OfflineCooldownMS = defaultOfflineCooldownMS
	}

	if cfg.Response.MaxAutomatedActions <= 0 {
		cfg.Response.MaxAutomatedActions = defaultMaxAutoActions
	}

	if cfg.Ingest.HTTP.Listen == "" {
		cfg.Ingest.HTTP.Listen = defaultHTTPListen
	}
	if cfg.Ingest.HTTP.HealthPath == "" {
		cfg.Ingest.HTTP.HealthPath = defaultHealthPath
	}
	if cfg.Ingest.HTTP.ReadyPath == "" {
		cfg.Ingest.HTTP.ReadyPath = defaultReadyPath
	}
	if cfg.Ingest.HTTP.ActivityPath == "" {
		cfg.Ingest.HTTP.ActivityPath = defaultActivityPath
	}
	if cfg.Ingest.HTTP.IncidentPath == "" {
		cfg.Ingest.HTTP.IncidentPath = defaultIncidentPath
	}
	if cfg.Ingest.HTTP.ResolvePath == "" {
		cfg.Ingest.HTTP.ResolvePath = defaultResolvePath
	}
	if cfg.Ingest.HTTP.SchedulePath == "" {
		cfg.Ingest.HTTP.SchedulePath = defaultSchedulePath
	}
	if cfg.Ingest.HTTP.MaxBodyBytes <= 0 {
		cfg.Ingest.HTTP.MaxBodyBytes = defaultMaxBodyBytes
	}

	if len(cfg.Ingest.NATS.URL) == 0 {
		cfg.Ingest.NATS.URL = []string{defaultNATSURL}
	}
	if cfg.Ingest.NATS.Subject == "" {
		cfg.Ingest.NATS.Subject = defaultNATSSubject
	}
	if cfg.Ingest.NATS.Stream == "" {
		cfg.Ingest.NATS.Stream = defaultNATSStream
	}
	if cfg.Ingest.NATS.ConsumerName == "" {
		cfg.Ingest.NATS.ConsumerName = defaultNATSConsumer
	}
	if cfg.Ingest.NATS.DeliverGroup == "" {
		cfg.Ingest.NATS.DeliverGroup = defaultNATSGroup
	}
	if cfg.Ingest.NATS.AckWaitSec <= 0 {
		cfg.Ingest.NATS.AckWaitSec = defaultNATSAckWaitSec
	}
	if cfg.Ingest.NATS.NackDelayMS <= 0 {
		cfg.Ingest.NATS.NackDelayMS = defaultNATSNackDelayMS
	}
	if cfg.Ingest.NATS.MaxDeliver == 0 {
		cfg.Ingest.NATS.MaxDeliver = defaultNATSMaxDeliver
	}
	if cfg.Ingest.NATS.MaxAckPending <= 0 {
		cfg.Ingest.NATS.MaxAckPending = defaultNATSMaxAckPending
	}

	if cfg.Store.Mode == "" {
		cfg.Store.Mode = StoreModeMemory
	}
	if cfg.Store.Dir == "" {
		cfg.Store.Dir = defaultStoreDir
	}
	if cfg.Report.Dir == "" {
		cfg.Report.Dir = defaultReportDir
	}
	if cfg.Report.MonitoringIntervalSec <= 0 {
		cfg.Report.MonitoringIntervalSec = defaultReportIntervalSec
	}
}

// Validate checks required settings and cross-field consistency.
// Params: normalized config snapshot.
// Returns: ConfigError for the first violated constraint.
func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Chain.PrimaryURL) == "" {
		return faults.ConfigError{Key: "chain.primary_url", Reason: "is required"}
	}
	if cfg.Chain.ChainID <= 0 {
		return faults.ConfigError{Key: "chain.chain_id", Reason: "must be >0"}
	}
	if len(cfg.Contracts) == 0 {
		return faults.ConfigError{Key: "contract", Reason: "at least one contract target is required"}
	}
	for name, contract := range cfg.Contracts {
		if !common.IsHexAddress(contract.Address) {
			return faults.ConfigError{Key: "contract." + name + ".address", Reason: fmt.Sprintf("%q is not a hex address", contract.Address)}
		}
		for _, capability := range contract.Capabilities {
			switch capability {
			case CapabilityPause, CapabilityWithdraw, CapabilityTransferOwnership:
			default:
				return faults.ConfigError{Key: "contract." + name + ".capabilities", Reason: fmt.Sprintf("unsupported capability %q", capability)}
			}
		}
	}
	if cfg.Rules.GasCriticalGwei <= cfg.Rules.GasWarningGwei {
		return faults.ConfigError{Key: "rules.gas_critical_gwei", Reason: "must be above rules.gas_warning_gwei"}
	}
	for _, ruleID := range cfg.Rules.Disabled {
		if strings.TrimSpace(ruleID) == "" {
			return faults.ConfigError{Key: "rules.disabled", Reason: "rule id must not be empty"}
		}
	}

	if cfg.Notify.Chat.Enabled && strings.TrimSpace(cfg.Notify.Chat.WebhookURL) == "" {
		return faults.ConfigError{Key: "notify.chat.webhook_url", Reason: "is required when chat channel is enabled"}
	}
	if cfg.Notify.Webhook.Enabled && strings.TrimSpace(cfg.Notify.Webhook.URL) == "" {
		return faults.ConfigError{Key: "notify.webhook.url", Reason: "is required when webhook channel is enabled"}
	}
	if cfg.Notify.Email.Enabled {
		if strings.TrimSpace(cfg.Notify.Email.From) == "" {
			return faults.ConfigError{Key: "notify.email.from", Reason: "is required when email channel is enabled"}
		}
		if len(cfg.Notify.Email.To) == 0 {
			return faults.ConfigError{Key: "notify.email.to", Reason: "is required when email channel is enabled"}
		}
	}
	if cfg.Notify.Telegram.Enabled {
		if strings.TrimSpace(cfg.Notify.Telegram.BotToken) == "" {
			return faults.ConfigError{Key: "notify.telegram.bot_token", Reason: "is required when telegram channel is enabled"}
		}
		if strings.TrimSpace(cfg.Notify.Telegram.ChatID) == "" {
			return faults.ConfigError{Key: "notify.telegram.chat_id", Reason: "is required when telegram channel is enabled"}
		}
	}

	switch cfg.Store.Mode {
	case StoreModeMemory, StoreModeBadger:
	default:
		return faults.ConfigError{Key: "store.mode", Reason: fmt.Sprintf("unsupported mode %q", cfg.Store.Mode)}
	}

	if cfg.Chain.SafeAddress != "" && !common.IsHexAddress(cfg.Chain.SafeAddress) {
		return faults.ConfigError{Key: "chain.safe_address", Reason: "is not a hex address"}
	}
	if cfg.Chain.RecoveryOwner != "" && !common.IsHexAddress(cfg.Chain.RecoveryOwner) {
		return faults.ConfigError{Key: "chain.recovery_owner", Reason: "is not a hex address"}
	}
	return nil
}

// LowBalanceWei converts the configured ether threshold into wei.
// Params: normalized rules config.
// Returns: threshold as big integer wei value.
func (r RulesConfig) LowBalanceWei() *big.Int {
	wei := new(big.Float).Mul(big.NewFloat(r.LowBalanceEth), big.NewFloat(1e18))
	out, _ := wei.Int(nil)
	return out
}

// RuleDisabled reports whether one rule id is switched off.
// Params: rule id.
// Returns: true when the id appears in rules.disabled.
func (r RulesConfig) RuleDisabled(ruleID string) bool {
	for _, disabled := range r.Disabled {
		if strings.EqualFold(strings.TrimSpace(disabled), ruleID) {
			return true
		}
	}
	return false
}
