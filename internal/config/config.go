// Package config loads runtime configuration from the environment, optionally overlaid on a
// YAML file named by PAGES_CONFIG.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"
)

// Config is the full runtime configuration.
type Config struct {
	App     AppConfig     `yaml:"app"`
	GitHub  GitHubConfig  `yaml:"github"`
	Store   StoreConfig   `yaml:"store"`
	Kafka   KafkaConfig   `yaml:"kafka"`
	Mailer  MailerConfig  `yaml:"mailer"`
	UAA     UAAConfig     `yaml:"uaa"`
	S3      S3Config      `yaml:"s3"`
	Sandbox SandboxConfig `yaml:"sandbox"`
}

// AppConfig holds the settings of the web application itself.
type AppConfig struct {
	Hostname       string   `yaml:"hostname"`
	AppEnv         string   `yaml:"app_env"`
	Product        string   `yaml:"product"`
	Port           string   `yaml:"port"`
	AdminUsernames []string `yaml:"admin_usernames"`
	SessionSecret  string   `yaml:"session_secret"`
	AllowOrigins   string   `yaml:"allow_origins"`
}

// GitHubConfig holds OAuth and webhook settings.
type GitHubConfig struct {
	ClientID      string `yaml:"client_id"`
	ClientSecret  string `yaml:"client_secret"`
	CallbackURL   string `yaml:"callback_url"`
	APIURL        string `yaml:"api_url"`
	WebhookSecret string `yaml:"webhook_secret"`
	WebhookURL    string `yaml:"webhook_url"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Driver         string `yaml:"driver"`
	ArangoURL      string `yaml:"arango_url"`
	ArangoUser     string `yaml:"arango_user"`
	ArangoPass     string `yaml:"arango_pass"`
	ArangoDatabase string `yaml:"arango_database"`
	SQLitePath     string `yaml:"sqlite_path"`
}

// KafkaConfig configures the build and mail queues. No brokers means queues run in-process.
type KafkaConfig struct {
	Brokers          []string `yaml:"brokers"`
	APIKey           string   `yaml:"api_key"`
	APISecret        string   `yaml:"api_secret"`
	GroupID          string   `yaml:"group_id"`
	BuildTopic       string   `yaml:"build_topic"`
	BuildStatusTopic string   `yaml:"build_status_topic"`
	MailTopic        string   `yaml:"mail_topic"`
}

// MailerConfig configures mail delivery.
type MailerConfig struct {
	Transport       string   `yaml:"transport"`
	Host            string   `yaml:"host"`
	Username        string   `yaml:"username"`
	Password        string   `yaml:"password"`
	SMTPHost        string   `yaml:"smtp_host"`
	SMTPPort        string   `yaml:"smtp_port"`
	FromEmail       string   `yaml:"from_email"`
	FromName        string   `yaml:"from_name"`
	AlertRecipients []string `yaml:"alert_recipients"`
}

// UAAConfig configures the identity provider used for organization invites.
type UAAConfig struct {
	Host              string `yaml:"host"`
	ClientID          string `yaml:"client_id"`
	ClientSecret      string `yaml:"client_secret"`
	InviteRedirectURL string `yaml:"invite_redirect_url"`
}

// S3Config names the bucket sites are published to.
type S3Config struct {
	Bucket string `yaml:"bucket"`
	Region string `yaml:"region"`
}

// SandboxConfig drives the sandbox cleaning job.
type SandboxConfig struct {
	CleaningIntervalDays int `yaml:"cleaning_interval_days"`
	ReminderDays         int `yaml:"reminder_days"`
	// ScheduleInServe runs the job on a ticker inside `serve`. Enable it on one replica only.
	ScheduleInServe bool `yaml:"schedule_in_serve"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		App: AppConfig{
			Hostname:     "http://localhost:1337",
			AppEnv:       "development",
			Product:      "pages",
			Port:         "1337",
			AllowOrigins: "*",
		},
		GitHub: GitHubConfig{
			APIURL: "https://api.github.com",
		},
		Store: StoreConfig{
			Driver:         "sqlite",
			ArangoURL:      "http://localhost:8529",
			ArangoUser:     "root",
			ArangoDatabase: "pages",
			SQLitePath:     "pages.db",
		},
		Kafka: KafkaConfig{
			GroupID:          "pages-core",
			BuildTopic:       "site-builds",
			BuildStatusTopic: "build-status",
			MailTopic:        "mail-jobs",
		},
		Mailer: MailerConfig{
			Transport: "http",
			SMTPPort:  "587",
			FromEmail: "pages-support@cloud.gov",
			FromName:  "Pages",
		},
		S3: S3Config{
			Bucket: "pages-sites",
			Region: "us-gov-west-1",
		},
		Sandbox: SandboxConfig{
			CleaningIntervalDays: 90,
			ReminderDays:         14,
		},
	}
}

// Load builds the configuration: defaults, then the YAML file named by PAGES_CONFIG, then
// environment variables.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("PAGES_CONFIG"); path != "" {
		data, err := os.ReadFile(path) // #nosec G304
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.App.Hostname, "APP_HOSTNAME")
	setString(&c.App.AppEnv, "APP_ENV")
	setString(&c.App.Product, "PRODUCT")
	setString(&c.App.Port, "PORT")
	setList(&c.App.AdminUsernames, "ADMIN_GITHUB_USERNAMES")
	setString(&c.App.SessionSecret, "SESSION_SECRET")
	setString(&c.App.AllowOrigins, "ALLOW_ORIGINS")

	setString(&c.GitHub.ClientID, "GITHUB_CLIENT_ID")
	setString(&c.GitHub.ClientSecret, "GITHUB_CLIENT_SECRET")
	setString(&c.GitHub.CallbackURL, "GITHUB_CLIENT_CALLBACK_URL")
	setString(&c.GitHub.APIURL, "GITHUB_API_URL")
	setString(&c.GitHub.WebhookSecret, "GITHUB_WEBHOOK_SECRET")
	setString(&c.GitHub.WebhookURL, "GITHUB_WEBHOOK_URL")

	setString(&c.Store.Driver, "STORE_DRIVER")
	setString(&c.Store.ArangoURL, "ARANGO_URL")
	setString(&c.Store.ArangoUser, "ARANGO_USER")
	setString(&c.Store.ArangoPass, "ARANGO_PASS")
	setString(&c.Store.ArangoDatabase, "ARANGO_DATABASE")
	setString(&c.Store.SQLitePath, "SQLITE_PATH")

	setList(&c.Kafka.Brokers, "KAFKA_BROKERS")
	setString(&c.Kafka.APIKey, "KAFKA_API_KEY")
	setString(&c.Kafka.APISecret, "KAFKA_API_SECRET")
	setString(&c.Kafka.GroupID, "KAFKA_GROUP_ID")
	setString(&c.Kafka.BuildTopic, "KAFKA_BUILD_TOPIC")
	setString(&c.Kafka.BuildStatusTopic, "KAFKA_BUILD_STATUS_TOPIC")
	setString(&c.Kafka.MailTopic, "KAFKA_MAIL_TOPIC")

	setString(&c.Mailer.Transport, "MAILER_TRANSPORT")
	setString(&c.Mailer.Host, "MAILER_HOST")
	setString(&c.Mailer.Username, "MAILER_USERNAME")
	setString(&c.Mailer.Password, "MAILER_PASSWORD")
	setString(&c.Mailer.SMTPHost, "SMTP_HOST")
	setString(&c.Mailer.SMTPPort, "SMTP_PORT")
	setString(&c.Mailer.FromEmail, "SMTP_FROM_EMAIL")
	setString(&c.Mailer.FromName, "SMTP_FROM_NAME")
	setList(&c.Mailer.AlertRecipients, "MAILER_ALERT_RECIPIENTS")

	setString(&c.UAA.Host, "UAA_HOST")
	setString(&c.UAA.ClientID, "UAA_CLIENT_ID")
	setString(&c.UAA.ClientSecret, "UAA_CLIENT_SECRET")
	setString(&c.UAA.InviteRedirectURL, "UAA_INVITE_REDIRECT_URL")

	setString(&c.S3.Bucket, "S3_BUCKET")
	setString(&c.S3.Region, "S3_REGION")

	setInt(&c.Sandbox.CleaningIntervalDays, "SANDBOX_CLEANING_INTERVAL_DAYS")
	setInt(&c.Sandbox.ReminderDays, "SANDBOX_REMINDER_DAYS")
	setBool(&c.Sandbox.ScheduleInServe, "SANDBOX_SCHEDULE_IN_SERVE")
}

// Validate reports settings that make the process unusable.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "arango", "sqlite":
	default:
		return fmt.Errorf("unsupported store driver %q", c.Store.Driver)
	}
	switch c.Mailer.Transport {
	case "http", "smtp":
	default:
		return fmt.Errorf("unsupported mailer transport %q", c.Mailer.Transport)
	}
	if c.Sandbox.CleaningIntervalDays <= 0 {
		return fmt.Errorf("sandbox cleaning interval must be positive")
	}
	return nil
}

// IsProduction reports whether the app runs in the production environment.
func (a AppConfig) IsProduction() bool {
	return a.AppEnv == "production"
}

// StatusContext is the commit status context reported to GitHub.
func (a AppConfig) StatusContext() string {
	if a.IsProduction() {
		return "pages/build"
	}
	return fmt.Sprintf("pages-%s/build", a.AppEnv)
}

// IsAdmin reports whether the GitHub username is configured as an administrator.
func (a AppConfig) IsAdmin(username string) bool {
	for _, admin := range a.AdminUsernames {
		if strings.EqualFold(admin, username) {
			return true
		}
	}
	return false
}

// KafkaEnabled reports whether queues are backed by Kafka.
func (c *Config) KafkaEnabled() bool {
	return len(c.Kafka.Brokers) > 0
}

// GetEnvDefault is a convenience function for handling env vars
func GetEnvDefault(key, defVal string) string {
	val, ex := os.LookupEnv(key)
	if !ex {
		return defVal
	}
	return val
}

func setString(dst *string, key string) {
	*dst = GetEnvDefault(key, *dst)
}

func setList(dst *[]string, key string) {
	val, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func setInt(dst *int, key string) {
	val, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	if n, err := strconv.Atoi(val); err == nil {
		*dst = n
	}
}

func setBool(dst *bool, key string) {
	val, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	if b, err := strconv.ParseBool(val); err == nil {
		*dst = b
	}
}
