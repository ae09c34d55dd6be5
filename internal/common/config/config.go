// Package config provides configuration management for the control plane.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the control plane.
type Config struct {
	Server              ServerConfig              `mapstructure:"server"`
	Database            DatabaseConfig            `mapstructure:"database"`
	NATS                NATSConfig                `mapstructure:"nats"`
	Events              EventsConfig              `mapstructure:"events"`
	Docker              DockerConfig              `mapstructure:"docker"`
	Agent               AgentConfig               `mapstructure:"agent"`
	Auth                AuthConfig                `mapstructure:"auth"`
	Logging             LoggingConfig             `mapstructure:"logging"`
	RepositoryDiscovery RepositoryDiscoveryConfig `mapstructure:"repositoryDiscovery"`
	Worktree            WorktreeConfig            `mapstructure:"worktree"`
	RepoClone           RepoCloneConfig           `mapstructure:"repoClone"`
	MergeQueue          MergeQueueConfig          `mapstructure:"mergeQueue"`
	Cascade             CascadeConfig             `mapstructure:"cascade"`
	Sync                SyncConfig                `mapstructure:"sync"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbName"`
	SSLMode  string `mapstructure:"sslMode"`
	MaxConns int    `mapstructure:"maxConns"`
	MinConns int    `mapstructure:"minConns"`
}

// NATSConfig holds NATS messaging configuration.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClusterID     string `mapstructure:"clusterId"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// EventsConfig holds event bus namespace configuration.
type EventsConfig struct {
	// Namespace isolates queue-group subscribers across deployments/instances.
	// Empty value means derive from runtime data identity.
	Namespace string `mapstructure:"namespace"`
}

// DockerConfig holds Docker client settings. They are loaded and defaulted
// but not read by any component: agents always run as host processes in
// their worktree, and there is no Docker-backed executor.
type DockerConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Host           string `mapstructure:"host"`
	APIVersion     string `mapstructure:"apiVersion"`
	TLSVerify      bool   `mapstructure:"tlsVerify"`
	DefaultNetwork string `mapstructure:"defaultNetwork"`
	VolumeBasePath string `mapstructure:"volumeBasePath"`
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	JWTSecret     string `mapstructure:"jwtSecret"`
	TokenDuration int    `mapstructure:"tokenDuration"` // in seconds
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// RepositoryDiscoveryConfig holds configuration for local repository scanning.
type RepositoryDiscoveryConfig struct {
	Roots    []string `mapstructure:"roots"`
	MaxDepth int      `mapstructure:"maxDepth"`
}

// WorktreeConfig holds Git worktree configuration for concurrent stream execution.
type WorktreeConfig struct {
	Enabled         bool   `mapstructure:"enabled"`         // Enable worktree mode
	BasePath        string `mapstructure:"basePath"`        // Base directory for worktrees (default: ~/.controlplane/worktrees)
	DefaultBranch   string `mapstructure:"defaultBranch"`   // Default base branch (default: main)
	CleanupOnRemove bool   `mapstructure:"cleanupOnRemove"` // Remove worktree directory when a stream is abandoned
}

// RepoCloneConfig holds configuration for automatic repository cloning.
type RepoCloneConfig struct {
	BasePath string `mapstructure:"basePath"` // Base directory for cloned repos (default: ~/.controlplane/repos)
}

// SyncConfig holds configuration for the sync engine's landing strategies.
type SyncConfig struct {
	// StructuredDir is the project-relative directory holding the
	// line-delimited record files (specs, issues, relationships,
	// feedback). Conflicts under this path are auto-resolved by the
	// structured-file merger instead of requiring a strategy choice.
	StructuredDir string `mapstructure:"structuredDir"`
	// DefaultStrategy names the landing strategy the sync engine uses when
	// it lands a merge-queue entry ("squash" when empty).
	DefaultStrategy string `mapstructure:"defaultStrategy"`
}

// MergeQueueConfig holds merge queue scheduling configuration.
type MergeQueueConfig struct {
	// Enabled gates whether createCheckpoint's autoEnqueue actually enqueues
	// against the merge queue; when false, checkpoints are created but never
	// auto-enqueued regardless of the caller's request.
	Enabled bool `mapstructure:"enabled"`
	// PollInterval is how often the queue processor wakes to check whether
	// a target's head is idle and the next queued entry can start merging.
	PollInterval int `mapstructure:"pollInterval"` // in seconds
}

// CascadeConfig holds configuration for the rebase cascade triggered after a
// stream lands on its target branch.
type CascadeConfig struct {
	// Enabled gates whether landing a stream triggers a cascade rebase of
	// its dependent streams.
	Enabled bool `mapstructure:"enabled"`
	// MaxConcurrency bounds how many dependent streams are rebased at once.
	MaxConcurrency int `mapstructure:"maxConcurrency"`
}

// AgentConfig holds agent runtime configuration.
type AgentConfig struct {
	// StandaloneHost is the host where the standalone agent supervisor is running (default: localhost)
	StandaloneHost string `mapstructure:"standaloneHost"`

	// StandalonePort is the control port for the standalone agent supervisor (default: 9999)
	StandalonePort int `mapstructure:"standalonePort"`

	// McpServerEnabled enables the standalone MCP server (default: false)
	// MCP is normally embedded in the supervisor and tunnels to the backend
	// over WebSocket; this is only for running a separate standalone MCP
	// server process.
	McpServerEnabled bool `mapstructure:"mcpServerEnabled"`

	// McpServerPort is the port for the standalone MCP server (default: 9090)
	McpServerPort int `mapstructure:"mcpServerPort"`

	// McpServerURL is loaded from config but not read by any component; the
	// injected "sudocode-mcp" tool server is always launched as a command.
	McpServerURL string `mapstructure:"mcpServerUrl"`

	// CopilotCLIURL is the base URL of the running copilot CLI server the
	// copilot-sdk client connects to for the "copilot" agent kind.
	CopilotCLIURL string `mapstructure:"copilotCliUrl"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// TokenDurationTime returns the token duration as a time.Duration.
func (a *AuthConfig) TokenDurationTime() time.Duration {
	return time.Duration(a.TokenDuration) * time.Second
}

// PollIntervalDuration returns the merge queue poll interval as a time.Duration.
func (m *MergeQueueConfig) PollIntervalDuration() time.Duration {
	return time.Duration(m.PollInterval) * time.Second
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
// Returns "json" if running in Kubernetes or other production environments.
// Returns "text" for terminal/development use (human-readable console format).
func detectDefaultLogFormat() string {
	// Check if running in Kubernetes
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}

	// Check for explicit production environment
	if env := os.Getenv("CONTROLPLANE_ENV"); env == "production" || env == "prod" {
		return "json"
	}

	// Default to text format for terminal use (more readable than JSON)
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./controlplane.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "controlplane")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbName", "controlplane")
	v.SetDefault("database.sslMode", "disable")
	v.SetDefault("database.maxConns", 25)
	v.SetDefault("database.minConns", 5)

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clusterId", "controlplane-cluster")
	v.SetDefault("nats.clientId", "controlplane-client")
	v.SetDefault("nats.maxReconnects", 10)

	// Events defaults
	v.SetDefault("events.namespace", "")

	// Docker defaults — platform-aware host and volume path
	v.SetDefault("docker.enabled", false)
	v.SetDefault("docker.host", DefaultDockerHost())
	v.SetDefault("docker.apiVersion", "1.41")
	v.SetDefault("docker.tlsVerify", false)
	v.SetDefault("docker.defaultNetwork", "controlplane-network")
	v.SetDefault("docker.volumeBasePath", defaultDockerVolumePath())

	// Agent defaults (runtime selection is per-execution based on executor type)
	v.SetDefault("agent.standaloneHost", "localhost")
	v.SetDefault("agent.standalonePort", 9999)
	v.SetDefault("agent.mcpServerEnabled", false)
	v.SetDefault("agent.mcpServerPort", 9090)
	v.SetDefault("agent.mcpServerUrl", "")
	v.SetDefault("agent.copilotCliUrl", "http://localhost:4000")

	// Auth defaults
	v.SetDefault("auth.jwtSecret", "")
	v.SetDefault("auth.tokenDuration", 3600) // 1 hour

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")

	// Repository discovery defaults
	v.SetDefault("repositoryDiscovery.roots", []string{})
	v.SetDefault("repositoryDiscovery.maxDepth", 5)

	// Worktree defaults
	v.SetDefault("worktree.enabled", true)
	v.SetDefault("worktree.basePath", "~/.controlplane/worktrees")
	v.SetDefault("worktree.defaultBranch", "main")
	v.SetDefault("worktree.cleanupOnRemove", true)

	// RepoClone defaults
	v.SetDefault("repoClone.basePath", "~/.controlplane/repos")

	// MergeQueue defaults
	v.SetDefault("mergeQueue.enabled", true)
	v.SetDefault("mergeQueue.pollInterval", 2)

	// Cascade defaults
	v.SetDefault("cascade.enabled", true)
	v.SetDefault("cascade.maxConcurrency", 4)

	// Sync defaults
	v.SetDefault("sync.structuredDir", ".controlplane")
	v.SetDefault("sync.defaultStrategy", "squash")
}

// DefaultDockerHost returns the platform-appropriate Docker socket path.
// Respects DOCKER_HOST env var as override (standard Docker convention).
func DefaultDockerHost() string {
	if host := os.Getenv("DOCKER_HOST"); host != "" {
		return host
	}
	if runtime.GOOS == "windows" {
		return "npipe:////./pipe/docker_engine"
	}
	return "unix:///var/run/docker.sock"
}

// defaultDockerVolumePath returns the platform-appropriate volume base path.
func defaultDockerVolumePath() string {
	if runtime.GOOS == "windows" {
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData == "" {
			localAppData = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Local")
		}
		return filepath.Join(localAppData, "controlplane", "volumes")
	}
	return "/var/lib/controlplane/volumes"
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix CONTROLPLANE_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory or /etc/controlplane/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults first
	setDefaults(v)

	// Configure environment variables
	v.SetEnvPrefix("CONTROLPLANE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for snake_case env vars (camelCase config keys)
	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion,
	// so we explicitly bind keys where env var naming differs from config key naming.
	_ = v.BindEnv("agent.standalonePort", "AGENTCTL_PORT", "CONTROLPLANE_AGENT_STANDALONE_PORT")
	_ = v.BindEnv("agent.standaloneHost", "CONTROLPLANE_AGENT_STANDALONE_HOST")
	_ = v.BindEnv("agent.mcpServerPort", "CONTROLPLANE_AGENT_MCP_SERVER_PORT")
	_ = v.BindEnv("agent.mcpServerUrl", "CONTROLPLANE_AGENT_MCP_SERVER_URL")
	_ = v.BindEnv("logging.level", "CONTROLPLANE_LOG_LEVEL")
	_ = v.BindEnv("events.namespace", "CONTROLPLANE_EVENTS_NAMESPACE")
	_ = v.BindEnv("cascade.enabled", "CONTROLPLANE_CASCADE_ENABLED")

	// Configure config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/controlplane/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
// In development mode (default), most fields are optional.
func validate(cfg *Config) error {
	var errs []string

	// Server validation - always required
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	// Database validation
	if cfg.Database.Driver == "postgres" {
		if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
			errs = append(errs, "database.port must be between 1 and 65535")
		}
		if cfg.Database.User == "" {
			errs = append(errs, "database.user is required for postgres driver")
		}
		if cfg.Database.DBName == "" {
			errs = append(errs, "database.dbName is required for postgres driver")
		}
	}

	// NATS validation - optional (uses in-memory event bus if not set)
	// No validation needed - empty URL means use in-memory

	// Docker settings are not read by any component, so they are not validated

	// Auth validation - generate random secret if not set (dev mode)
	if cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = generateDevSecret()
	}
	if cfg.Auth.TokenDuration <= 0 {
		errs = append(errs, "auth.tokenDuration must be positive")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if cfg.RepositoryDiscovery.MaxDepth <= 0 {
		errs = append(errs, "repositoryDiscovery.maxDepth must be positive")
	}

	if cfg.MergeQueue.PollInterval <= 0 {
		errs = append(errs, "mergeQueue.pollInterval must be positive")
	}

	if cfg.Cascade.MaxConcurrency <= 0 {
		errs = append(errs, "cascade.maxConcurrency must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// generateDevSecret generates a random secret for development mode.
func generateDevSecret() string {
	// Use a fixed dev secret with a warning prefix
	// In production, users should set CONTROLPLANE_AUTH_JWTSECRET
	return "dev-secret-change-in-production-" + fmt.Sprintf("%d", time.Now().UnixNano())
}
