package types

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetEffectiveServerConfig() ServerConfig
	GetUpstreamConfig() UpstreamConfig
	GetTranslationConfig() TranslationConfig
	GetCORSConfig() CORSConfig
	GetPerformanceConfig() PerformanceConfig
	GetLogConfig() LogConfig
	Validate() error
	DisplayServerConfig()
	ReloadConfig() error
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Port                    int    `json:"port"`
	Host                    string `json:"host"`
	ReadTimeout             int    `json:"read_timeout"`
	WriteTimeout            int    `json:"write_timeout"`
	IdleTimeout             int    `json:"idle_timeout"`
	GracefulShutdownTimeout int    `json:"graceful_shutdown_timeout"`
}

// UpstreamConfig represents the target backend configuration
type UpstreamConfig struct {
	BaseURL               string `json:"base_url"`
	APIKey                string `json:"-"`
	ConnectTimeout        int    `json:"connect_timeout"`
	RequestTimeout        int    `json:"request_timeout"`
	IdleConnTimeout       int    `json:"idle_conn_timeout"`
	ResponseHeaderTimeout int    `json:"response_header_timeout"`
	MaxIdleConns          int    `json:"max_idle_conns"`
	MaxIdleConnsPerHost   int    `json:"max_idle_conns_per_host"`
	ProxyURL              string `json:"proxy_url"`
}

// TranslationConfig controls the XML <-> tool-call translation engine
type TranslationConfig struct {
	// StrictSchema rejects tool calls whose arguments fail schema
	// validation and downgrades them to plain text.
	StrictSchema bool `json:"strict_schema"`
	// ForceToolChoice sets tool_choice=required on upstream requests
	// whenever the extracted catalog is non-empty.
	ForceToolChoice bool `json:"force_tool_choice"`
	// RulesFile points to the replacement-rule YAML (or legacy JSON) file.
	// Empty means no rules.
	RulesFile string `json:"rules_file"`
	// DumpDir enables dumping of outgoing messages/tools for inspection.
	// Empty disables dumping.
	DumpDir string `json:"dump_dir"`
}

// CORSConfig represents CORS configuration
type CORSConfig struct {
	Enabled          bool     `json:"enabled"`
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
}

// PerformanceConfig represents performance configuration
type PerformanceConfig struct {
	MaxConcurrentRequests int `json:"max_concurrent_requests"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level      string `json:"level"`
	Format     string `json:"format"`
	EnableFile bool   `json:"enable_file"`
	FilePath   string `json:"file_path"`
}
