package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// this is a pointer so that if someone attempts to use it before loading it will
// panic and force them to load it first.
// it is also private so that it cannot be modified after loading.
var _loaded *Config

// Config is the main configuration structure
type Config struct {
	Common Common `yaml:"common"`
}

// Load loads the configuration following proper precedence: defaults → config file → environment variables.
// A missing config file is not an error; an unreadable or invalid one is.
func Load() error {
	cfg := defaultConfig
	_loaded = &cfg

	configFile := os.Getenv("INTERVIEWD_CONFIG_FILE")
	if configFile == "" {
		configFile = "interviewd.yaml"
	}

	log.Printf("Attempting to load config file: %s", configFile)

	if err := LoadFromFile(configFile); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		log.Printf("Config file %s not found, using defaults", configFile)
	} else {
		log.Printf("Successfully loaded config from file: %s", configFile)
	}

	// Apply environment variable overrides (highest priority)
	ApplyEnvOverrides()

	if err := _loaded.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log.Printf("Final config - environment: %s, pipeline backend: %s, audit enabled: %t",
		_loaded.Common.Environment,
		_loaded.Common.Pipeline.Backend,
		_loaded.Common.Audit.Enabled)
	return nil
}

func LoadDefault() {
	config := defaultConfig
	_loaded = &config
}

// Set installs an explicit configuration. Used by tests and embedders.
func Set(cfg Config) {
	_loaded = &cfg
}

// Default returns a copy of the built-in defaults.
func Default() Config {
	return defaultConfig
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return err
	}

	_loaded = &cfg
	return nil
}

// Parse merges YAML values over the defaults.
func Parse(data []byte) (Config, error) {
	cfg := defaultConfig
	cfg.Common.Audio.AllowedFormats = nil
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}
	if len(cfg.Common.Audio.AllowedFormats) == 0 {
		cfg.Common.Audio.AllowedFormats = defaultConfig.Common.Audio.AllowedFormats
	}
	return cfg, nil
}

// set sane defaults for all of the config options. when loading the config from
// the file, any options that are not set will be set to these defaults.
var defaultConfig = Config{
	Common: Common{
		Environment: "development",
		Log: logConfig{
			Level:  "info",
			Format: "json",
		},
		Http: httpConfig{
			Host:           "0.0.0.0",
			Port:           8000,
			MaxRequestSize: 32 << 20,
			AllowedOrigins: []string{"*"},
		},
		Websocket: websocketConfig{
			HeartbeatTimeout: 30 * time.Second,
			PingInterval:     25 * time.Second,
			WriteTimeout:     10 * time.Second,
			CloseGrace:       5 * time.Second,
			MaxMessageSize:   36 << 20,
			SendBuffer:       64,
			MaxConnections:   1000,
		},
		Audio: audioConfig{
			MaxBytes:       25000000,
			AllowedFormats: []string{"wav", "mp3", "m4a", "webm"},
		},
		Pipeline: pipelineConfig{
			Backend: "scripted",
			Timeout: 30 * time.Second,
			Remote: remoteConfig{
				BaseURL: "http://localhost:9000",
			},
			Gemini: geminiConfig{
				Model:      "gemini-2.0-flash",
				Language:   "en",
				MaxRetries: 1,
			},
		},
		Interview: interviewConfig{
			MaxQuestions:   0,
			MinAnswerWords: 12,
		},
		Audit: auditConfig{
			Enabled: false,
			Driver:  "postgres",
			SQLite: sqliteConfig{
				Path: "data/audit.db",
			},
			Postgres: postgresConfig{
				User:               "postgres",
				Password:           "postgres",
				Host:               "localhost",
				Port:               5432,
				Database:           "interviewd",
				MaxOpenConnections: 10,
			},
		},
	},
}

type Common struct {
	Environment string          `yaml:"environment"`
	Log         logConfig       `yaml:"log"`
	Http        httpConfig      `yaml:"http"`
	Websocket   websocketConfig `yaml:"websocket"`
	Audio       audioConfig     `yaml:"audio"`
	Pipeline    pipelineConfig  `yaml:"pipeline"`
	Interview   interviewConfig `yaml:"interview"`
	Auth        authConfig      `yaml:"auth"`
	Audit       auditConfig     `yaml:"audit"`
}

type logConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type httpConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	MaxRequestSize int64    `yaml:"max_request_size"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type websocketConfig struct {
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"` // close after this long without a client ping
	PingInterval     time.Duration `yaml:"ping_interval"`     // transport-level ping frames
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	CloseGrace       time.Duration `yaml:"close_grace"` // CLOSING drain limit
	MaxMessageSize   int64         `yaml:"max_message_size"`
	SendBuffer       int           `yaml:"send_buffer"`
	MaxConnections   int           `yaml:"max_connections"`
}

type audioConfig struct {
	MaxBytes       int      `yaml:"max_bytes"`
	AllowedFormats []string `yaml:"allowed_formats"`
}

type pipelineConfig struct {
	Backend     string        `yaml:"backend"`     // "scripted", "remote" or "gemini"
	Transcriber string        `yaml:"transcriber"` // optional speech-to-text: "", "remote" or "gemini"
	Timeout     time.Duration `yaml:"timeout"`
	Remote      remoteConfig  `yaml:"remote"`
	Gemini      geminiConfig  `yaml:"gemini"`
}

type remoteConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

type geminiConfig struct {
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	Language   string `yaml:"language"`
	MaxRetries int    `yaml:"max_retries"`
}

type interviewConfig struct {
	MaxQuestions   int `yaml:"max_questions"` // 0 disables the count guard
	MinAnswerWords int `yaml:"min_answer_words"`
}

type authConfig struct {
	AdminAPIKey string `yaml:"admin_api_key"` // empty leaves admin routes open
}

type auditConfig struct {
	Enabled   bool           `yaml:"enabled"`
	Driver    string         `yaml:"driver"`    // "postgres" or "sqlite"
	Retention time.Duration  `yaml:"retention"` // 0 keeps interaction logs forever
	Postgres  postgresConfig `yaml:"postgres"`
	SQLite    sqliteConfig   `yaml:"sqlite"`
}

type sqliteConfig struct {
	Path string `yaml:"path"`
}

type postgresConfig struct {
	User               string `yaml:"user"`
	Password           string `yaml:"password"`
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	Database           string `yaml:"database"`
	MaxOpenConnections int    `yaml:"max_open_connections"`
}

func (c postgresConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		url.QueryEscape(c.Database),
	)
}

// Production reports whether internal error details must be hidden from clients.
func (c Common) Production() bool {
	return strings.EqualFold(c.Environment, "production")
}

// Validate checks value ranges after all sources have been merged.
func (c *Config) Validate() error {
	cm := c.Common
	if cm.Http.Port <= 0 || cm.Http.Port > 65535 {
		return fmt.Errorf("http.port out of range: %d", cm.Http.Port)
	}
	if cm.Websocket.HeartbeatTimeout <= 0 {
		return fmt.Errorf("websocket.heartbeat_timeout must be positive")
	}
	if cm.Websocket.SendBuffer <= 0 {
		return fmt.Errorf("websocket.send_buffer must be positive")
	}
	if cm.Audio.MaxBytes <= 0 {
		return fmt.Errorf("audio.max_bytes must be positive")
	}
	if cm.Pipeline.Timeout <= 0 {
		return fmt.Errorf("pipeline.timeout must be positive")
	}
	switch cm.Pipeline.Backend {
	case "scripted", "remote", "gemini":
	default:
		return fmt.Errorf("unknown pipeline.backend %q", cm.Pipeline.Backend)
	}
	switch cm.Pipeline.Transcriber {
	case "", "remote", "gemini":
	default:
		return fmt.Errorf("unknown pipeline.transcriber %q", cm.Pipeline.Transcriber)
	}
	if cm.Interview.MaxQuestions < 0 {
		return fmt.Errorf("interview.max_questions must not be negative")
	}
	switch cm.Audit.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unknown audit.driver %q", cm.Audit.Driver)
	}
	if cm.Audit.Retention < 0 {
		return fmt.Errorf("audit.retention must not be negative")
	}
	return nil
}

// there should be a getter for each top level field in the config struct.
// these getters will panic if the config has not been loaded.

func Logger() logConfig {
	if _loaded == nil {
		panic("config not loaded - call Load() first")
	}
	return _loaded.Common.Log
}

func Http() httpConfig {
	if _loaded == nil {
		panic("config not loaded - call Load() first")
	}
	return _loaded.Common.Http
}

func Websocket() websocketConfig {
	if _loaded == nil {
		panic("config not loaded - call Load() first")
	}
	return _loaded.Common.Websocket
}

func Audio() audioConfig {
	if _loaded == nil {
		panic("config not loaded - call Load() first")
	}
	return _loaded.Common.Audio
}

func Pipeline() pipelineConfig {
	if _loaded == nil {
		panic("config not loaded - call Load() first")
	}
	return _loaded.Common.Pipeline
}

func Interview() interviewConfig {
	if _loaded == nil {
		panic("config not loaded - call Load() first")
	}
	return _loaded.Common.Interview
}

func Auth() authConfig {
	if _loaded == nil {
		panic("config not loaded - call Load() first")
	}
	return _loaded.Common.Auth
}

func Audit() auditConfig {
	if _loaded == nil {
		panic("config not loaded - call Load() first")
	}
	return _loaded.Common.Audit
}

func Production() bool {
	if _loaded == nil {
		panic("config not loaded - call Load() first")
	}
	return _loaded.Common.Production()
}

func Get() *Config {
	if _loaded == nil {
		panic("config not loaded - call Load() first")
	}
	return _loaded
}

func ApplyEnvOverrides() {
	if _loaded == nil {
		return
	}
	c := &_loaded.Common

	if env := os.Getenv("INTERVIEWD_ENVIRONMENT"); env != "" {
		c.Environment = env
	}
	if level := os.Getenv("INTERVIEWD_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if format := os.Getenv("INTERVIEWD_LOG_FORMAT"); format != "" {
		c.Log.Format = format
	}

	if httpHost := os.Getenv("INTERVIEWD_HTTP_HOST"); httpHost != "" {
		c.Http.Host = httpHost
	}
	if httpPort := os.Getenv("INTERVIEWD_HTTP_PORT"); httpPort != "" {
		if port, err := strconv.Atoi(httpPort); err == nil {
			c.Http.Port = port
		}
	}
	if origins := os.Getenv("INTERVIEWD_ALLOWED_ORIGINS"); origins != "" {
		c.Http.AllowedOrigins = splitList(origins)
	}

	if timeout := os.Getenv("INTERVIEWD_HEARTBEAT_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			c.Websocket.HeartbeatTimeout = d
		}
	}
	if maxConns := os.Getenv("INTERVIEWD_MAX_CONNECTIONS"); maxConns != "" {
		if n, err := strconv.Atoi(maxConns); err == nil {
			c.Websocket.MaxConnections = n
		}
	}

	if maxBytes := os.Getenv("INTERVIEWD_MAX_AUDIO_BYTES"); maxBytes != "" {
		if n, err := strconv.Atoi(maxBytes); err == nil {
			c.Audio.MaxBytes = n
		}
	}
	if formats := os.Getenv("INTERVIEWD_AUDIO_FORMATS"); formats != "" {
		c.Audio.AllowedFormats = splitList(formats)
	}

	if backend := os.Getenv("INTERVIEWD_PIPELINE_BACKEND"); backend != "" {
		c.Pipeline.Backend = backend
	}
	if stt := os.Getenv("INTERVIEWD_PIPELINE_TRANSCRIBER"); stt != "" {
		c.Pipeline.Transcriber = stt
	}
	if timeout := os.Getenv("INTERVIEWD_PIPELINE_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			c.Pipeline.Timeout = d
		}
	}
	if baseURL := os.Getenv("INTERVIEWD_REMOTE_BASE_URL"); baseURL != "" {
		c.Pipeline.Remote.BaseURL = baseURL
	}
	if apiKey := os.Getenv("INTERVIEWD_REMOTE_API_KEY"); apiKey != "" {
		c.Pipeline.Remote.APIKey = apiKey
	}
	if apiKey := os.Getenv("INTERVIEWD_GEMINI_API_KEY"); apiKey != "" {
		c.Pipeline.Gemini.APIKey = apiKey
	}
	if model := os.Getenv("INTERVIEWD_GEMINI_MODEL"); model != "" {
		c.Pipeline.Gemini.Model = model
	}

	if maxQuestions := os.Getenv("INTERVIEWD_MAX_QUESTIONS"); maxQuestions != "" {
		if n, err := strconv.Atoi(maxQuestions); err == nil {
			c.Interview.MaxQuestions = n
		}
	}

	if adminKey := os.Getenv("INTERVIEWD_ADMIN_API_KEY"); adminKey != "" {
		c.Auth.AdminAPIKey = adminKey
	}

	if auditEnabled := os.Getenv("INTERVIEWD_AUDIT_ENABLED"); auditEnabled != "" {
		if enabled, err := strconv.ParseBool(auditEnabled); err == nil {
			c.Audit.Enabled = enabled
		}
	}
	if driver := os.Getenv("INTERVIEWD_AUDIT_DRIVER"); driver != "" {
		c.Audit.Driver = driver
	}
	if path := os.Getenv("INTERVIEWD_AUDIT_SQLITE_PATH"); path != "" {
		c.Audit.SQLite.Path = path
	}
	if retention := os.Getenv("INTERVIEWD_AUDIT_RETENTION"); retention != "" {
		if d, err := time.ParseDuration(retention); err == nil {
			c.Audit.Retention = d
		}
	}
	if dbHost := os.Getenv("INTERVIEWD_DB_HOST"); dbHost != "" {
		c.Audit.Postgres.Host = dbHost
	}
	if dbPort := os.Getenv("INTERVIEWD_DB_PORT"); dbPort != "" {
		if port, err := strconv.Atoi(dbPort); err == nil {
			c.Audit.Postgres.Port = port
		}
	}
	if dbUser := os.Getenv("INTERVIEWD_DB_USER"); dbUser != "" {
		c.Audit.Postgres.User = dbUser
	}
	if dbPassword := os.Getenv("INTERVIEWD_DB_PASSWORD"); dbPassword != "" {
		c.Audit.Postgres.Password = dbPassword
	}
	if dbName := os.Getenv("INTERVIEWD_DB_NAME"); dbName != "" {
		c.Audit.Postgres.Database = dbName
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
