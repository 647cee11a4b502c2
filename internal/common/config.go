package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment string           `toml:"environment"` // "development" or "production"
	Server      ServerConfig     `toml:"server"`
	Database    DatabaseConfig   `toml:"database"`
	Solr        SolrConfig       `toml:"solr"`
	Crawler     CrawlerConfig    `toml:"crawler"`
	Embeddings  EmbeddingsConfig `toml:"embeddings"`
	Scheduler   SchedulerConfig  `toml:"scheduler"`
	SMTP        SMTPConfig       `toml:"smtp"`
	Logging     LoggingConfig    `toml:"logging"`
}

type ServerConfig struct {
	Port int    `toml:"port" validate:"gte=0,lte=65535"`
	Host string `toml:"host"`
}

// DatabaseConfig holds the registry database connection settings
type DatabaseConfig struct {
	Host     string `toml:"host" validate:"required"`
	Port     int    `toml:"port" validate:"gte=1,lte=65535"`
	Name     string `toml:"name" validate:"required"`
	User     string `toml:"user" validate:"required"`
	Password string `toml:"password"`
	MaxConns int32  `toml:"max_conns" validate:"gte=1"`
}

// ConnString builds a pgx connection string from the configured fields
func (d DatabaseConfig) ConnString() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s pool_max_conns=%d",
		d.Host, d.Port, d.Name, d.User, d.Password, d.MaxConns)
}

// SolrConfig holds the search index connection settings
type SolrConfig struct {
	URL        string        `toml:"url" validate:"required,url"` // Base URL including core, e.g. http://search:8983/solr/content
	Timeout    time.Duration `toml:"timeout"`
	MaxRetries int           `toml:"max_retries" validate:"gte=0"`
}

// CrawlerConfig contains per-site fetch politeness and resource limits
type CrawlerConfig struct {
	UserAgent       string        `toml:"user_agent"`        // Stable user agent identifying the bot
	MaxConcurrency  int           `toml:"max_concurrency"`   // Maximum concurrent requests per domain
	RequestDelay    time.Duration `toml:"request_delay"`     // Minimum delay between requests to the same domain
	RandomDelay     time.Duration `toml:"random_delay"`      // Random delay jitter to add
	RequestTimeout  time.Duration `toml:"request_timeout"`   // HTTP request timeout
	MaxBodySize     int           `toml:"max_body_size"`     // Maximum response body size in bytes
	WarnBodySize    int           `toml:"warn_body_size"`    // Bodies over this size are logged at warn level
	MaxCrawlTime    time.Duration `toml:"max_crawl_time"`    // Wall-clock cap for one site crawl
	FollowRobotsTxt bool          `toml:"follow_robots_txt"` // Respect robots.txt rules
	BatchLimit      int           `toml:"batch_limit"`       // Maximum sites selected per scheduling pass
	SiteParallelism int           `toml:"site_parallelism"`  // Concurrent site crawls per pass
	MaxRetries      int           `toml:"max_retries"`       // Retry budget for transient fetch failures
}

// EmbeddingsConfig selects and tunes the content embedding provider
type EmbeddingsConfig struct {
	Provider     string        `toml:"provider" validate:"oneof=ollama google disabled"` // "ollama", "google" or "disabled"
	URL          string        `toml:"url"`           // Encoder endpoint for the ollama provider
	Model        string        `toml:"model"`         // Embedding model name
	APIKey       string        `toml:"api_key"`       // API key for the google provider
	Dimension    int           `toml:"dimension"`     // Expected vector dimension
	Timeout      time.Duration `toml:"timeout"`       // Per-call timeout
	RateLimit    time.Duration `toml:"rate_limit"`    // Minimum spacing between embed calls
	ChunkSize    int           `toml:"chunk_size"`    // Target characters per content chunk
	ChunkOverlap int           `toml:"chunk_overlap"` // Characters shared between adjacent chunks
}

// SchedulerConfig controls the recurring indexing pass
type SchedulerConfig struct {
	Enabled  bool   `toml:"enabled"`
	Schedule string `toml:"schedule"` // Cron schedule format, e.g. "@every 1m"
}

// SMTPConfig holds admin notification mail settings
type SMTPConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	From     string `toml:"from"`
	FromName string `toml:"from_name"`
	To       string `toml:"to"` // Admin recipient, always CC'd on outbound mail
	UseTLS   bool   `toml:"use_tls"`
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Format     string   `toml:"format"`      // "json" or "text"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05")
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability.
// Only user-facing settings should be exposed in indago.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8086,
			Host: "localhost",
		},
		Database: DatabaseConfig{
			Host:     "db",
			Port:     5432,
			Name:     "indagodb",
			User:     "postgres",
			MaxConns: 8,
		},
		Solr: SolrConfig{
			URL:        "http://search:8983/solr/content",
			Timeout:    30 * time.Second,
			MaxRetries: 3,
		},
		Crawler: CrawlerConfig{
			UserAgent:       "Mozilla/5.0 (compatible; indago/1.0; +https://indago.net)",
			MaxConcurrency:  4,
			RequestDelay:    2 * time.Second,
			RandomDelay:     0,
			RequestTimeout:  30 * time.Second,
			MaxBodySize:     1048576, // 1 MiB; oversized bodies were crashing production crawls
			WarnBodySize:    524288,
			MaxCrawlTime:    30 * time.Minute,
			FollowRobotsTxt: true,
			BatchLimit:      8,
			SiteParallelism: 4,
			MaxRetries:      3,
		},
		Embeddings: EmbeddingsConfig{
			Provider:     "ollama",
			URL:          "http://models:11434",
			Model:        "nomic-embed-text",
			Dimension:    768,
			Timeout:      30 * time.Second,
			RateLimit:    200 * time.Millisecond,
			ChunkSize:    500,
			ChunkOverlap: 50,
		},
		Scheduler: SchedulerConfig{
			Enabled:  true,
			Schedule: "@every 1m",
		},
		SMTP: SMTPConfig{
			Port:     587,
			FromName: "Indago",
			UseTLS:   true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05",
		},
	}
}

// LoadFromFiles loads configuration with priority: defaults -> file1 -> file2 -> ... -> env.
// Later files override earlier files; environment variables override all files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Validate checks the configuration using struct validation tags plus
// rules the tags cannot express (cron schedule syntax).
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Scheduler.Schedule != "" {
		if err := ValidateSchedule(c.Scheduler.Schedule); err != nil {
			return fmt.Errorf("scheduler.schedule: %w", err)
		}
	}
	if c.Embeddings.ChunkOverlap >= c.Embeddings.ChunkSize {
		return fmt.Errorf("embeddings.chunk_overlap (%d) must be smaller than chunk_size (%d)",
			c.Embeddings.ChunkOverlap, c.Embeddings.ChunkSize)
	}
	return nil
}

// ValidateSchedule checks a cron schedule expression for syntax errors
func ValidateSchedule(schedule string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", schedule, err)
	}
	return nil
}

// IsProduction returns true when running in production mode
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// ApplyFlagOverrides applies command-line flag overrides (highest priority)
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port != 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// applyEnvOverrides applies INDAGO_* environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("INDAGO_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server
	if port := os.Getenv("INDAGO_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("INDAGO_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Database
	if host := os.Getenv("INDAGO_DB_HOST"); host != "" {
		config.Database.Host = host
	}
	if port := os.Getenv("INDAGO_DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Database.Port = p
		}
	}
	if name := os.Getenv("INDAGO_DB_NAME"); name != "" {
		config.Database.Name = name
	}
	if user := os.Getenv("INDAGO_DB_USER"); user != "" {
		config.Database.User = user
	}
	if password := os.Getenv("POSTGRES_PASSWORD"); password != "" {
		config.Database.Password = password
	}
	if password := os.Getenv("INDAGO_DB_PASSWORD"); password != "" {
		config.Database.Password = password
	}

	// Solr
	if url := os.Getenv("INDAGO_SOLR_URL"); url != "" {
		config.Solr.URL = url
	}
	if timeout := os.Getenv("INDAGO_SOLR_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Solr.Timeout = d
		}
	}

	// Crawler
	if userAgent := os.Getenv("INDAGO_CRAWLER_USER_AGENT"); userAgent != "" {
		config.Crawler.UserAgent = userAgent
	}
	if maxConcurrency := os.Getenv("INDAGO_CRAWLER_MAX_CONCURRENCY"); maxConcurrency != "" {
		if mc, err := strconv.Atoi(maxConcurrency); err == nil {
			config.Crawler.MaxConcurrency = mc
		}
	}
	if requestDelay := os.Getenv("INDAGO_CRAWLER_REQUEST_DELAY"); requestDelay != "" {
		if d, err := time.ParseDuration(requestDelay); err == nil {
			config.Crawler.RequestDelay = d
		}
	}
	if requestTimeout := os.Getenv("INDAGO_CRAWLER_REQUEST_TIMEOUT"); requestTimeout != "" {
		if d, err := time.ParseDuration(requestTimeout); err == nil {
			config.Crawler.RequestTimeout = d
		}
	}
	if maxBodySize := os.Getenv("INDAGO_CRAWLER_MAX_BODY_SIZE"); maxBodySize != "" {
		if mbs, err := strconv.Atoi(maxBodySize); err == nil {
			config.Crawler.MaxBodySize = mbs
		}
	}
	if maxCrawlTime := os.Getenv("INDAGO_CRAWLER_MAX_CRAWL_TIME"); maxCrawlTime != "" {
		if d, err := time.ParseDuration(maxCrawlTime); err == nil {
			config.Crawler.MaxCrawlTime = d
		}
	}
	if followRobotsTxt := os.Getenv("INDAGO_CRAWLER_FOLLOW_ROBOTS_TXT"); followRobotsTxt != "" {
		if frt, err := strconv.ParseBool(followRobotsTxt); err == nil {
			config.Crawler.FollowRobotsTxt = frt
		}
	}
	if batchLimit := os.Getenv("INDAGO_CRAWLER_BATCH_LIMIT"); batchLimit != "" {
		if bl, err := strconv.Atoi(batchLimit); err == nil {
			config.Crawler.BatchLimit = bl
		}
	}
	if siteParallelism := os.Getenv("INDAGO_CRAWLER_SITE_PARALLELISM"); siteParallelism != "" {
		if sp, err := strconv.Atoi(siteParallelism); err == nil {
			config.Crawler.SiteParallelism = sp
		}
	}

	// Embeddings
	if provider := os.Getenv("INDAGO_EMBEDDINGS_PROVIDER"); provider != "" {
		config.Embeddings.Provider = provider
	}
	if url := os.Getenv("INDAGO_EMBEDDINGS_URL"); url != "" {
		config.Embeddings.URL = url
	}
	if model := os.Getenv("INDAGO_EMBEDDINGS_MODEL"); model != "" {
		config.Embeddings.Model = model
	}
	if apiKey := os.Getenv("INDAGO_EMBEDDINGS_API_KEY"); apiKey != "" {
		config.Embeddings.APIKey = apiKey
	}
	if dimension := os.Getenv("INDAGO_EMBEDDINGS_DIMENSION"); dimension != "" {
		if d, err := strconv.Atoi(dimension); err == nil {
			config.Embeddings.Dimension = d
		}
	}

	// Scheduler
	if enabled := os.Getenv("INDAGO_SCHEDULER_ENABLED"); enabled != "" {
		if e, err := strconv.ParseBool(enabled); err == nil {
			config.Scheduler.Enabled = e
		}
	}
	if schedule := os.Getenv("INDAGO_SCHEDULER_SCHEDULE"); schedule != "" {
		config.Scheduler.Schedule = schedule
	}

	// SMTP
	if host := os.Getenv("INDAGO_SMTP_HOST"); host != "" {
		config.SMTP.Host = host
	}
	if port := os.Getenv("INDAGO_SMTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.SMTP.Port = p
		}
	}
	if username := os.Getenv("INDAGO_SMTP_USERNAME"); username != "" {
		config.SMTP.Username = username
	}
	if password := os.Getenv("INDAGO_SMTP_PASSWORD"); password != "" {
		config.SMTP.Password = password
	}
	if from := os.Getenv("INDAGO_SMTP_FROM"); from != "" {
		config.SMTP.From = from
	}
	if to := os.Getenv("INDAGO_SMTP_TO"); to != "" {
		config.SMTP.To = to
	}

	// Logging
	if level := os.Getenv("INDAGO_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("INDAGO_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if output := os.Getenv("INDAGO_LOG_OUTPUT"); output != "" {
		outputs := strings.Split(output, ",")
		for i := range outputs {
			outputs[i] = strings.TrimSpace(outputs[i])
		}
		config.Logging.Output = outputs
	}
}
