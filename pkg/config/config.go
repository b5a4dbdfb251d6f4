package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultConfigFileName = "vertexgate.toml"

	DefaultRegion      = "global"
	DefaultEndpointID  = "openapi"
	DefaultAPIHost     = "aiplatform.googleapis.com"
	DefaultAPIVersion  = "v1beta1"
	DefaultCatalogURL  = "https://us-central1-aiplatform.googleapis.com/v1beta1/publishers/google/models"
	DefaultPort        = "8087"
	DefaultMetricsPath = "/metrics"

	EnvRegion    = "GCP_LOCATION"
	EnvProjectID = "GCP_PROJECT_ID"
	EnvPort      = "PORT"
)

var ErrMissingProjectID = errors.New("backend project id is required (set " + EnvProjectID + ")")

// GatewayConfig identifies the single backend every request is forwarded to.
type GatewayConfig struct {
	ProjectID  string `toml:"project_id,omitempty" json:"project_id"`
	Region     string `toml:"region,omitempty" json:"region"`
	EndpointID string `toml:"endpoint_id,omitempty" json:"endpoint_id"`
	APIHost    string `toml:"api_host,omitempty" json:"api_host"`
	APIVersion string `toml:"api_version,omitempty" json:"api_version"`
	CatalogURL string `toml:"catalog_url,omitempty" json:"catalog_url"`
}

type HTTPConfig struct {
	ConnectTimeoutSeconds  int `toml:"connect_timeout_seconds,omitempty"`
	TimeoutSeconds         int `toml:"timeout_seconds,omitempty"`
	MaxIdleConnsPerHost    int `toml:"max_idle_conns_per_host,omitempty"`
	IdleConnTimeoutSeconds int `toml:"idle_conn_timeout_seconds,omitempty"`
	KeepAliveSeconds       int `toml:"keep_alive_seconds,omitempty"`
}

type ModelsConfig struct {
	CacheTTLSeconds int  `toml:"cache_ttl_seconds,omitempty"`
	CacheCapacity   int  `toml:"cache_capacity,omitempty"`
	CoalesceFetches bool `toml:"coalesce_fetches,omitempty"`
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path,omitempty"`
}

type LogConfig struct {
	Level string `toml:"level,omitempty"`
	File  string `toml:"file,omitempty"`
}

type ServerSettings struct {
	MaxRequestBodyBytes int64 `toml:"max_request_body_bytes,omitempty"`
	ShutdownGraceSecs   int   `toml:"shutdown_grace_seconds,omitempty"`
}

type ServerConfig struct {
	ListenAddr string         `toml:"listen_addr"`
	Server     ServerSettings `toml:"server"`
	Backend    GatewayConfig  `toml:"backend"`
	HTTP       HTTPConfig     `toml:"http"`
	Models     ModelsConfig   `toml:"models"`
	Metrics    MetricsConfig  `toml:"metrics"`
	Log        LogConfig      `toml:"log"`
}

func DefaultServerConfigPath() string {
	return defaultConfigFileName
}

func NewDefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ListenAddr: net.JoinHostPort("0.0.0.0", DefaultPort),
		Server: ServerSettings{
			MaxRequestBodyBytes: 32 << 20,
			ShutdownGraceSecs:   10,
		},
		Backend: GatewayConfig{
			Region:     DefaultRegion,
			EndpointID: DefaultEndpointID,
			APIHost:    DefaultAPIHost,
			APIVersion: DefaultAPIVersion,
			CatalogURL: DefaultCatalogURL,
		},
		HTTP: HTTPConfig{
			ConnectTimeoutSeconds:  10,
			TimeoutSeconds:         60,
			MaxIdleConnsPerHost:    10,
			IdleConnTimeoutSeconds: 90,
			KeepAliveSeconds:       60,
		},
		Models: ModelsConfig{
			CacheTTLSeconds: 3600,
			CacheCapacity:   100,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    DefaultMetricsPath,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the server config from defaults, the optional TOML file at path
// and the process environment, in that order of precedence.
func Load(path string) (*ServerConfig, error) {
	cfg := NewDefaultServerConfig()
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := toml.Unmarshal(b, cfg); err != nil {
				return nil, fmt.Errorf("parse toml: %w", err)
			}
		}
	}
	cfg.ApplyEnv(os.LookupEnv)
	cfg.Normalize()
	return cfg, nil
}

// ApplyEnv overrides file values with the GCP_* and PORT variables.
func (c *ServerConfig) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvRegion); ok && strings.TrimSpace(v) != "" {
		c.Backend.Region = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvProjectID); ok && strings.TrimSpace(v) != "" {
		c.Backend.ProjectID = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvPort); ok && strings.TrimSpace(v) != "" {
		c.ListenAddr = net.JoinHostPort("0.0.0.0", strings.TrimSpace(v))
	}
}

func (c *ServerConfig) Normalize() {
	def := NewDefaultServerConfig()
	c.ListenAddr = strings.TrimSpace(c.ListenAddr)
	if c.ListenAddr == "" {
		c.ListenAddr = def.ListenAddr
	}
	if c.Server.MaxRequestBodyBytes <= 0 {
		c.Server.MaxRequestBodyBytes = def.Server.MaxRequestBodyBytes
	}
	if c.Server.ShutdownGraceSecs <= 0 {
		c.Server.ShutdownGraceSecs = def.Server.ShutdownGraceSecs
	}

	b := &c.Backend
	b.ProjectID = strings.TrimSpace(b.ProjectID)
	b.Region = strings.TrimSpace(b.Region)
	if b.Region == "" {
		b.Region = def.Backend.Region
	}
	b.EndpointID = strings.TrimSpace(b.EndpointID)
	if b.EndpointID == "" {
		b.EndpointID = def.Backend.EndpointID
	}
	b.APIHost = strings.Trim(strings.TrimSpace(b.APIHost), "/")
	if b.APIHost == "" {
		b.APIHost = def.Backend.APIHost
	}
	b.APIVersion = strings.Trim(strings.TrimSpace(b.APIVersion), "/")
	if b.APIVersion == "" {
		b.APIVersion = def.Backend.APIVersion
	}
	b.CatalogURL = strings.TrimSpace(b.CatalogURL)
	if b.CatalogURL == "" {
		b.CatalogURL = def.Backend.CatalogURL
	}

	h := &c.HTTP
	if h.ConnectTimeoutSeconds <= 0 {
		h.ConnectTimeoutSeconds = def.HTTP.ConnectTimeoutSeconds
	}
	if h.TimeoutSeconds <= 0 {
		h.TimeoutSeconds = def.HTTP.TimeoutSeconds
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = def.HTTP.MaxIdleConnsPerHost
	}
	if h.IdleConnTimeoutSeconds <= 0 {
		h.IdleConnTimeoutSeconds = def.HTTP.IdleConnTimeoutSeconds
	}
	if h.KeepAliveSeconds <= 0 {
		h.KeepAliveSeconds = def.HTTP.KeepAliveSeconds
	}

	if c.Models.CacheTTLSeconds <= 0 {
		c.Models.CacheTTLSeconds = def.Models.CacheTTLSeconds
	}
	if c.Models.CacheCapacity <= 0 {
		c.Models.CacheCapacity = def.Models.CacheCapacity
	}

	c.Metrics.Path = strings.TrimSpace(c.Metrics.Path)
	if c.Metrics.Path == "" {
		c.Metrics.Path = def.Metrics.Path
	}
	if !strings.HasPrefix(c.Metrics.Path, "/") {
		c.Metrics.Path = "/" + c.Metrics.Path
	}

	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	c.Log.File = strings.TrimSpace(c.Log.File)
}

func (c *ServerConfig) Validate() error {
	if c.Backend.ProjectID == "" {
		return ErrMissingProjectID
	}
	if _, port, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return fmt.Errorf("invalid listen_addr %q: %w", c.ListenAddr, err)
	} else if _, err := strconv.Atoi(port); err != nil {
		return fmt.Errorf("invalid listen_addr port %q", port)
	}
	return nil
}

func (h HTTPConfig) ConnectTimeout() time.Duration {
	return time.Duration(h.ConnectTimeoutSeconds) * time.Second
}

func (h HTTPConfig) Timeout() time.Duration {
	return time.Duration(h.TimeoutSeconds) * time.Second
}

func (h HTTPConfig) IdleConnTimeout() time.Duration {
	return time.Duration(h.IdleConnTimeoutSeconds) * time.Second
}

func (h HTTPConfig) KeepAlive() time.Duration {
	return time.Duration(h.KeepAliveSeconds) * time.Second
}

func (m ModelsConfig) CacheTTL() time.Duration {
	return time.Duration(m.CacheTTLSeconds) * time.Second
}

func (s ServerSettings) ShutdownGrace() time.Duration {
	return time.Duration(s.ShutdownGraceSecs) * time.Second
}
