package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bedrockmgr/bedrock-server-manager/internal/apperr"
)

// Config represents the application configuration
type Config struct {
	HTTP       HTTPConfig       `yaml:"http" json:"http"`
	Database   DatabaseConfig   `yaml:"database" json:"database"`
	Auth       AuthConfig       `yaml:"auth" json:"auth"`
	Storage    StorageConfig    `yaml:"storage" json:"storage"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics" json:"metrics"`
	Supervisor SupervisorConfig `yaml:"supervisor" json:"supervisor"`
	Backup     BackupConfig     `yaml:"backup" json:"backup"`
	Update     UpdateConfig     `yaml:"update" json:"update"`
	Commands   CommandsConfig   `yaml:"commands" json:"commands"`
}

// HTTPConfig contains HTTP API settings
type HTTPConfig struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path           string `yaml:"path" json:"path"`
	MaxConnections int    `yaml:"max_connections" json:"max_connections"`
}

// AuthConfig contains authentication settings for the HTTP API
type AuthConfig struct {
	JWTSecret           string `yaml:"jwt_secret" json:"jwt_secret"`
	Username            string `yaml:"username" json:"username"`
	PasswordHash        string `yaml:"password_hash" json:"password_hash"`
	AccessTokenDuration string `yaml:"access_token_duration" json:"access_token_duration"`
}

// StorageConfig contains the base directories the manager works in
type StorageConfig struct {
	// ServersDir holds one installation directory per instance.
	ServersDir string `yaml:"servers_dir" json:"servers_dir"`
	// BackupDir holds one artifact directory per instance.
	BackupDir string `yaml:"backup_dir" json:"backup_dir"`
	// DataDir holds the database and other manager state.
	DataDir string `yaml:"data_dir" json:"data_dir"`
	// DownloadDir caches downloaded server archives.
	DownloadDir string `yaml:"download_dir" json:"download_dir"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level"`
	Format     string `yaml:"format" json:"format"`
	File       string `yaml:"file" json:"file"`
	MaxSize    int    `yaml:"max_size" json:"max_size"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAge     int    `yaml:"max_age" json:"max_age"`
}

// MetricsConfig contains metrics collection settings
type MetricsConfig struct {
	Enabled  bool `yaml:"enabled" json:"enabled"`
	Interval int  `yaml:"interval" json:"interval"` // seconds
}

// SupervisorConfig contains process supervision timeouts
type SupervisorConfig struct {
	StartTimeout int `yaml:"start_timeout" json:"start_timeout"` // seconds
	StopTimeout  int `yaml:"stop_timeout" json:"stop_timeout"`   // seconds
	PollInterval int `yaml:"poll_interval" json:"poll_interval"` // seconds
	RestartGrace int `yaml:"restart_grace" json:"restart_grace"` // seconds
}

// BackupConfig contains backup retention and replication settings
type BackupConfig struct {
	KeepPerKind int               `yaml:"keep_per_kind" json:"keep_per_kind"`
	Destination DestinationConfig `yaml:"destination" json:"destination"`
}

// DestinationConfig describes an optional off-site replication target
type DestinationConfig struct {
	Type string `yaml:"type" json:"type"` // "", "local", "sftp", "s3"
	Path string `yaml:"path" json:"path"`

	SFTPHost     string `yaml:"sftp_host" json:"sftp_host"`
	SFTPPort     int    `yaml:"sftp_port" json:"sftp_port"`
	SFTPUsername string `yaml:"sftp_username" json:"sftp_username"`
	SFTPPassword string `yaml:"sftp_password" json:"sftp_password"`
	SFTPKeyPath  string `yaml:"sftp_key_path" json:"sftp_key_path"`
	// SFTPKnownHosts verifies the remote host key; empty disables
	// verification.
	SFTPKnownHosts string `yaml:"sftp_known_hosts" json:"sftp_known_hosts"`

	S3Bucket    string `yaml:"s3_bucket" json:"s3_bucket"`
	S3Region    string `yaml:"s3_region" json:"s3_region"`
	S3AccessKey string `yaml:"s3_access_key" json:"s3_access_key"`
	S3SecretKey string `yaml:"s3_secret_key" json:"s3_secret_key"`
	S3Endpoint  string `yaml:"s3_endpoint" json:"s3_endpoint"`
}

// UpdateConfig contains server download settings
type UpdateConfig struct {
	// ManifestURL returns the current LATEST/PREVIEW versions and
	// their download URLs as JSON.
	ManifestURL string `yaml:"manifest_url" json:"manifest_url"`
	// DownloadTimeout bounds a single archive download. Seconds.
	DownloadTimeout int `yaml:"download_timeout" json:"download_timeout"`
}

// CommandsConfig contains console command policy
type CommandsConfig struct {
	// Denylist holds commands that must never reach a server console
	// through send-command.
	Denylist []string `yaml:"denylist" json:"denylist"`
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	cfg := &Config{
		HTTP: HTTPConfig{
			Host: "127.0.0.1",
			Port: 11325,
		},
		Database: DatabaseConfig{
			Path:           "./data/bedrockmgr.db",
			MaxConnections: 25,
		},
		Auth: AuthConfig{
			JWTSecret:           os.Getenv("BSM_JWT_SECRET"),
			Username:            "admin",
			AccessTokenDuration: "15m",
		},
		Storage: StorageConfig{
			ServersDir:  "./servers",
			BackupDir:   "./data/backups",
			DataDir:     "./data",
			DownloadDir: "./data/downloads",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			File:       "",
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Interval: 15,
		},
		Supervisor: SupervisorConfig{
			StartTimeout: 60,
			StopTimeout:  60,
			PollInterval: 2,
			RestartGrace: 10,
		},
		Backup: BackupConfig{
			KeepPerKind: 3,
		},
		Update: UpdateConfig{
			DownloadTimeout: 600,
		},
		Commands: CommandsConfig{
			Denylist: []string{"stop"},
		},
	}

	configPath := os.Getenv("BSM_CONFIG")
	if configPath == "" {
		configPath = resolveConfigPath()
	}

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, apperr.Wrap(apperr.ErrConfigParse, "failed to parse config file %s: %v", configPath, err)
		}
	}

	// Override with environment variables
	if secret := os.Getenv("BSM_JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}

	if dbPath := os.Getenv("BSM_DATABASE_PATH"); dbPath != "" {
		cfg.Database.Path = dbPath
	}

	if serversDir := os.Getenv("BSM_SERVERS_DIR"); serversDir != "" {
		cfg.Storage.ServersDir = serversDir
	}

	if dataDir := os.Getenv("BSM_DATA_DIR"); dataDir != "" {
		cfg.Storage.DataDir = dataDir
	}

	if backupDir := os.Getenv("BSM_BACKUP_DIR"); backupDir != "" {
		cfg.Storage.BackupDir = backupDir
	}

	if logLevel := os.Getenv("BSM_LOG_LEVEL"); logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	cfg.normalizeStoragePaths(configPath)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Storage.ServersDir) == "" {
		return apperr.Wrap(apperr.ErrConfiguration, "servers_dir is not set")
	}
	if strings.TrimSpace(c.Storage.BackupDir) == "" {
		return apperr.Wrap(apperr.ErrConfiguration, "backup_dir is not set")
	}
	if strings.TrimSpace(c.Storage.DataDir) == "" {
		return apperr.Wrap(apperr.ErrConfiguration, "data_dir is not set")
	}
	if c.Supervisor.StartTimeout <= 0 || c.Supervisor.StopTimeout <= 0 {
		return apperr.Wrap(apperr.ErrConfiguration, "supervisor timeouts must be positive")
	}
	if c.Supervisor.PollInterval <= 0 {
		return apperr.Wrap(apperr.ErrConfiguration, "supervisor poll_interval must be positive")
	}
	if c.Backup.KeepPerKind < 0 {
		return apperr.Wrap(apperr.ErrConfiguration, "backup keep_per_kind must not be negative")
	}

	switch c.Backup.Destination.Type {
	case "", "local", "sftp", "s3":
	default:
		return apperr.Wrap(apperr.ErrConfiguration, "unknown backup destination type %q", c.Backup.Destination.Type)
	}

	return nil
}

// ServerDir returns the installation directory for a named instance.
func (c *Config) ServerDir(name string) string {
	return filepath.Join(c.Storage.ServersDir, name)
}

// InstanceBackupDir returns the artifact directory for a named instance.
func (c *Config) InstanceBackupDir(name string) string {
	return filepath.Join(c.Storage.BackupDir, name)
}

// StartTimeout returns the supervisor start timeout as a duration.
func (c *Config) StartTimeout() time.Duration {
	return time.Duration(c.Supervisor.StartTimeout) * time.Second
}

// StopTimeout returns the supervisor stop timeout as a duration.
func (c *Config) StopTimeout() time.Duration {
	return time.Duration(c.Supervisor.StopTimeout) * time.Second
}

// PollInterval returns the supervisor probe interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Supervisor.PollInterval) * time.Second
}

// RestartGrace returns the warning grace period before a restart.
func (c *Config) RestartGrace() time.Duration {
	return time.Duration(c.Supervisor.RestartGrace) * time.Second
}

func resolveConfigPath() string {
	candidates := []string{"./configs/config.yaml", "../configs/config.yaml"}
	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}

	return "./configs/config.yaml"
}

// GetConfigPath returns the resolved config path
func GetConfigPath() string {
	configPath := os.Getenv("BSM_CONFIG")
	if configPath == "" {
		configPath = resolveConfigPath()
	}
	return configPath
}

// Save writes the configuration back to disk
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) normalizeStoragePaths(configPath string) {
	baseDir := filepath.Dir(configPath)
	if !filepath.IsAbs(baseDir) {
		if absBase, err := filepath.Abs(baseDir); err == nil {
			baseDir = absBase
		}
	}

	rootDir := baseDir
	if filepath.Base(baseDir) == "configs" {
		rootDir = filepath.Dir(baseDir)
	}

	resolvePath := func(value string) string {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			return ""
		}
		if filepath.IsAbs(trimmed) {
			return filepath.Clean(trimmed)
		}
		return filepath.Clean(filepath.Join(rootDir, trimmed))
	}

	if strings.TrimSpace(c.Storage.DataDir) == "" {
		c.Storage.DataDir = filepath.Join(rootDir, "data")
	}
	c.Storage.DataDir = resolvePath(c.Storage.DataDir)

	if strings.TrimSpace(c.Storage.ServersDir) == "" {
		c.Storage.ServersDir = filepath.Join(rootDir, "servers")
	}
	c.Storage.ServersDir = resolvePath(c.Storage.ServersDir)

	if strings.TrimSpace(c.Storage.BackupDir) == "" {
		c.Storage.BackupDir = filepath.Join(c.Storage.DataDir, "backups")
	}
	c.Storage.BackupDir = resolvePath(c.Storage.BackupDir)

	if strings.TrimSpace(c.Storage.DownloadDir) == "" {
		c.Storage.DownloadDir = filepath.Join(c.Storage.DataDir, "downloads")
	}
	c.Storage.DownloadDir = resolvePath(c.Storage.DownloadDir)

	c.Database.Path = resolvePath(c.Database.Path)
}
