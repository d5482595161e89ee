package config

import "time"

// ProxyConfig holds runtime configuration for the measuring proxy.
type ProxyConfig struct {
	Environment     string
	Addr            string
	UpstreamURL     string
	CollectorURL    string
	ServiceName     string
	SourcePort      int
	PreserveHost    bool
	UpstreamTimeout time.Duration
	ReportTimeout   time.Duration
}

// LoadProxyConfig constructs a ProxyConfig from environment variables.
func LoadProxyConfig() ProxyConfig {
	return ProxyConfig{
		Environment:     GetString("APP_ENV", "development"),
		Addr:            GetString("PROXY_ADDR", ":4001"),
		UpstreamURL:     GetString("PROXY_UPSTREAM_URL", "http://localhost:8081"),
		CollectorURL:    GetString("PROXY_COLLECTOR_URL", "http://localhost:3002"),
		ServiceName:     GetString("PROXY_SERVICE_NAME", ""),
		SourcePort:      GetInt("PROXY_SOURCE_PORT", 8081),
		PreserveHost:    GetBool("PROXY_PRESERVE_HOST", false),
		UpstreamTimeout: time.Duration(GetInt("PROXY_UPSTREAM_TIMEOUT_SECONDS", 30)) * time.Second,
		ReportTimeout:   time.Duration(GetInt("PROXY_REPORT_TIMEOUT_SECONDS", 2)) * time.Second,
	}
}
