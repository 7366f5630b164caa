package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Broker    BrokerConfig    `yaml:"broker"`
	Mail      MailConfig      `yaml:"mail"`
	Outgoing  OutgoingConfig  `yaml:"outgoing"`
	Incoming  IncomingConfig  `yaml:"incoming"`
	SpamCheck SpamCheckConfig `yaml:"spam_check"`
	Storage   StorageConfig   `yaml:"storage"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	// In a container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds Redis connection settings (caches, locks, realtime)
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// BrokerConfig holds RabbitMQ connection settings
type BrokerConfig struct {
	Host                  string `yaml:"host"`
	Port                  int    `yaml:"port"`
	Username              string `yaml:"username"`
	Password              string `yaml:"password"`
	VHost                 string `yaml:"vhost"`
	PoolSize              int    `yaml:"pool_size"`
	ConnectTimeoutSeconds int    `yaml:"connect_timeout_seconds"`
}

// URL builds the AMQP connection URL.
func (c BrokerConfig) URL() string {
	vhost := c.VHost
	if vhost == "/" {
		vhost = ""
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%d/%s", c.Username, c.Password, c.Host, c.Port, vhost)
}

// ConnectTimeout returns the configured dial timeout as a duration
func (c BrokerConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSeconds) * time.Second
}

// MailConfig holds tenant-wide mail settings
type MailConfig struct {
	RootDomainName     string   `yaml:"root_domain_name"`
	SPFHost            string   `yaml:"spf_host"`
	DefaultDKIMKeySize int      `yaml:"default_dkim_key_size"`
	DefaultTTL         int      `yaml:"default_ttl"`
	Postmaster         string   `yaml:"postmaster"`
	SystemManagers     []string `yaml:"system_managers"`
}

// IsSystemManager reports whether user may act on any tenant's mail.
func (c MailConfig) IsSystemManager(user string) bool {
	if user == c.Postmaster {
		return true
	}
	for _, m := range c.SystemManagers {
		if m == user {
			return true
		}
	}
	return false
}

// OutgoingConfig holds composer limits and transfer settings
type OutgoingConfig struct {
	MaxRecipients          int    `yaml:"max_recipients"`
	MaxHeaders             int    `yaml:"max_headers"`
	MaxMessageSizeMB       int    `yaml:"max_message_size_mb"`
	MaxAttachments         int    `yaml:"max_attachments"`
	MaxAttachmentSizeMB    int    `yaml:"max_attachment_size_mb"`
	TotalAttachmentsSizeMB int    `yaml:"total_attachments_size_mb"`
	MaxBatchSize           int    `yaml:"max_batch_size"`
	TrackingBaseURL        string `yaml:"tracking_base_url"`
}

// MaxMessageSize returns the cap in bytes.
func (c OutgoingConfig) MaxMessageSize() int { return c.MaxMessageSizeMB * 1024 * 1024 }

// MaxAttachmentSize returns the per-file cap in bytes.
func (c OutgoingConfig) MaxAttachmentSize() int { return c.MaxAttachmentSizeMB * 1024 * 1024 }

// TotalAttachmentsSize returns the per-mail sum cap in bytes.
func (c OutgoingConfig) TotalAttachmentsSize() int { return c.TotalAttachmentsSizeMB * 1024 * 1024 }

// IncomingConfig holds intake and pull API settings
type IncomingConfig struct {
	MaxSyncViaAPI             int  `yaml:"max_sync_via_api"`
	RejectedMailRetentionDays int  `yaml:"rejected_mail_retention_days"`
	SendNotificationOnReject  bool `yaml:"send_notification_on_reject"`
}

// SpamCheckConfig holds spamd gate settings
type SpamCheckConfig struct {
	Enabled          bool    `yaml:"enabled"`
	Host             string  `yaml:"host"`
	Port             int     `yaml:"port"`
	ScanningMode     string  `yaml:"scanning_mode"` // "exclude_attachments", "include_attachments", "hybrid"
	HybridThreshold  float64 `yaml:"hybrid_threshold"`
	ScanOutgoing     bool    `yaml:"scan_outgoing"`
	BlockOutgoing    bool    `yaml:"block_outgoing"`
	ScanIncoming     bool    `yaml:"scan_incoming"`
	MaxSpamScore     float64 `yaml:"max_spam_score"`
	LogRetentionDays int     `yaml:"log_retention_days"`
	TimeoutSeconds   int     `yaml:"timeout_seconds"`
}

// Timeout returns the scan timeout as a duration
func (c SpamCheckConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// StorageConfig holds attachment storage configuration
type StorageConfig struct {
	LocalPath string `yaml:"local_path"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Broker.Host == "" {
		cfg.Broker.Host = "localhost"
	}
	if cfg.Broker.Port == 0 {
		cfg.Broker.Port = 5672
	}
	if cfg.Broker.Username == "" {
		cfg.Broker.Username = "guest"
	}
	if cfg.Broker.Password == "" {
		cfg.Broker.Password = "guest"
	}
	if cfg.Broker.VHost == "" {
		cfg.Broker.VHost = "/"
	}
	if cfg.Broker.PoolSize == 0 {
		cfg.Broker.PoolSize = 5
	}
	if cfg.Broker.ConnectTimeoutSeconds == 0 {
		cfg.Broker.ConnectTimeoutSeconds = 5
	}
	if cfg.Mail.SPFHost == "" {
		cfg.Mail.SPFHost = "spf"
	}
	if cfg.Mail.DefaultDKIMKeySize == 0 {
		cfg.Mail.DefaultDKIMKeySize = 2048
	}
	if cfg.Mail.DefaultTTL == 0 {
		cfg.Mail.DefaultTTL = 300
	}
	if cfg.Mail.Postmaster == "" {
		cfg.Mail.Postmaster = "postmaster"
	}
	if cfg.Outgoing.MaxRecipients == 0 {
		cfg.Outgoing.MaxRecipients = 100
	}
	if cfg.Outgoing.MaxHeaders == 0 {
		cfg.Outgoing.MaxHeaders = 10
	}
	if cfg.Outgoing.MaxMessageSizeMB == 0 {
		cfg.Outgoing.MaxMessageSizeMB = 25
	}
	if cfg.Outgoing.MaxAttachments == 0 {
		cfg.Outgoing.MaxAttachments = 10
	}
	if cfg.Outgoing.MaxAttachmentSizeMB == 0 {
		cfg.Outgoing.MaxAttachmentSizeMB = 10
	}
	if cfg.Outgoing.TotalAttachmentsSizeMB == 0 {
		cfg.Outgoing.TotalAttachmentsSizeMB = 25
	}
	if cfg.Outgoing.MaxBatchSize == 0 {
		cfg.Outgoing.MaxBatchSize = 1000
	}
	if cfg.Incoming.MaxSyncViaAPI == 0 {
		cfg.Incoming.MaxSyncViaAPI = 100
	}
	if cfg.Incoming.RejectedMailRetentionDays == 0 {
		cfg.Incoming.RejectedMailRetentionDays = 7
	}
	if cfg.SpamCheck.Host == "" {
		cfg.SpamCheck.Host = "localhost"
	}
	if cfg.SpamCheck.Port == 0 {
		cfg.SpamCheck.Port = 783
	}
	if cfg.SpamCheck.ScanningMode == "" {
		cfg.SpamCheck.ScanningMode = "hybrid"
	}
	if cfg.SpamCheck.HybridThreshold == 0 {
		cfg.SpamCheck.HybridThreshold = 3.0
	}
	if cfg.SpamCheck.MaxSpamScore == 0 {
		cfg.SpamCheck.MaxSpamScore = 5.0
	}
	if cfg.SpamCheck.LogRetentionDays == 0 {
		cfg.SpamCheck.LogRetentionDays = 14
	}
	if cfg.SpamCheck.TimeoutSeconds == 0 {
		cfg.SpamCheck.TimeoutSeconds = 30
	}
	if cfg.Storage.LocalPath == "" {
		cfg.Storage.LocalPath = "./data/attachments"
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars in production.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("RABBITMQ_HOST"); v != "" {
		cfg.Broker.Host = v
	}
	if v := os.Getenv("RABBITMQ_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Broker.Port = p
		}
	}
	if v := os.Getenv("RABBITMQ_USERNAME"); v != "" {
		cfg.Broker.Username = v
	}
	if v := os.Getenv("RABBITMQ_PASSWORD"); v != "" {
		cfg.Broker.Password = v
	}
	if v := os.Getenv("RABBITMQ_VHOST"); v != "" {
		cfg.Broker.VHost = v
	}
	if v := os.Getenv("SPAMD_HOST"); v != "" {
		cfg.SpamCheck.Host = v
	}
	if v := os.Getenv("SPAMD_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.SpamCheck.Port = p
		}
	}
	if v := os.Getenv("ROOT_DOMAIN_NAME"); v != "" {
		cfg.Mail.RootDomainName = v
	}
	if v := os.Getenv("TRACKING_BASE_URL"); v != "" {
		cfg.Outgoing.TrackingBaseURL = v
	}

	return cfg, nil
}
