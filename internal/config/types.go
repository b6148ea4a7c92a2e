package config

import "time"

// Config holds all configuration for the gateway.
type Config struct {
	Logging   LoggingConfig   `yaml:"logging"`
	Server    ServerConfig    `yaml:"server"`
	Failover  FailoverConfig  `yaml:"failover"`
	Streaming StreamingConfig `yaml:"streaming"`
	Storage   StorageConfig   `yaml:"storage"`
	OAuth     OAuthConfig     `yaml:"oauth"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string              `yaml:"host"`
	Port            int                 `yaml:"port"`
	ReadTimeout     time.Duration       `yaml:"read_timeout"`
	WriteTimeout    time.Duration       `yaml:"write_timeout"`
	ShutdownTimeout time.Duration       `yaml:"shutdown_timeout"`
	RequestLimits   ServerRequestLimits `yaml:"request_limits"`
	RateLimits      ServerRateLimits    `yaml:"rate_limits"`
	EnableProfiler  bool                `yaml:"enable_profiler"`
}

// ServerRequestLimits defines request size and validation limits (spec §7).
type ServerRequestLimits struct {
	MaxBodySize   int64 `yaml:"max_body_size"`
	MaxHeaderSize int64 `yaml:"max_header_size"`
}

// ServerRateLimits defines rate limiting configuration.
type ServerRateLimits struct {
	GlobalRequestsPerMinute int           `yaml:"global_requests_per_minute"`
	PerIPRequestsPerMinute  int           `yaml:"per_ip_requests_per_minute"`
	BurstSize               int           `yaml:"burst_size"`
	HealthRequestsPerMinute int           `yaml:"health_requests_per_minute"`
	CleanupInterval         time.Duration `yaml:"cleanup_interval"`
	IPExtractionTrustProxy  bool          `yaml:"ip_extraction_trust_proxy"`
}

// FailoverConfig tunes the Failover Loop's retry/switch ceilings (spec §3).
type FailoverConfig struct {
	MaxProviderSwitches   int           `yaml:"max_provider_switches"`
	MaxRetriesPerProvider int           `yaml:"max_retries_per_provider"`
	BreakerFailThreshold  int           `yaml:"breaker_fail_threshold"`
	BreakerOpenTimeout    time.Duration `yaml:"breaker_open_timeout"`
	SessionBindingTTL     time.Duration `yaml:"session_binding_ttl"`
	SessionBindingMaxSize int           `yaml:"session_binding_max_size"`
	UnavailableGateTTL    time.Duration `yaml:"unavailable_gate_ttl"`
}

// StreamingConfig tunes the Streaming Tee's timeouts and drain behaviour
// (spec §4.8).
type StreamingConfig struct {
	ReadTimeout        time.Duration `yaml:"read_timeout"`
	DrainGrace         time.Duration `yaml:"drain_grace"`
	BufferSize         int           `yaml:"buffer_size"`
	DisconnectCap      int64         `yaml:"disconnect_byte_cap"`
	NonStreamBufferCap int           `yaml:"non_stream_buffer_cap"`
}

// StorageConfig points at the SQLite persistence file (spec §6.2/§9).
type StorageConfig struct {
	DSN string `yaml:"dsn"`
}

// OAuthConfig tunes the background refresher (spec §4.10).
type OAuthConfig struct {
	RefreshInterval   time.Duration `yaml:"refresh_interval"`
	ConcurrentWorkers int           `yaml:"concurrent_workers"`
	BatchLimit        int           `yaml:"batch_limit"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// RuntimeSettings are the hot-toggleable knobs read from a sibling
// settings.json, kept separate from the yaml Config so an operator can
// flip a rectifier or a response-fixer without restarting the gateway
// (spec §4.7's rectifier toggles).
type RuntimeSettings struct {
	ThinkingSignatureRectifierEnabled bool `json:"thinking_signature_rectifier_enabled" mapstructure:"thinking_signature_rectifier_enabled"`
	ThinkingBudgetRectifierEnabled    bool `json:"thinking_budget_rectifier_enabled" mapstructure:"thinking_budget_rectifier_enabled"`
	ResponseFixerEnabled              bool `json:"response_fixer_enabled" mapstructure:"response_fixer_enabled"`
}

// DefaultRuntimeSettings returns every toggle enabled, matching spec §4.7's
// default-on rectifier behaviour.
func DefaultRuntimeSettings() RuntimeSettings {
	return RuntimeSettings{
		ThinkingSignatureRectifierEnabled: true,
		ThinkingBudgetRectifierEnabled:    true,
		ResponseFixerEnabled:              true,
	}
}
