// Package config provides configuration management for clipforge.
// Values come from built-in defaults, an optional TOML file, a .env file and
// environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

const (
	// Default values
	DefaultHost          = "0.0.0.0"
	DefaultPort          = 8080
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "auto"
	DefaultDataDir       = ".clipforge"
	DefaultPublicBaseURL = "http://localhost:8080"
	DefaultCORSOrigins   = "http://localhost:3000"

	DefaultDBDriver       = "sqlite"
	DefaultStorageBackend = "local"
	DefaultS3Bucket       = "clipforge"
	DefaultPresignExpiry  = time.Hour

	DefaultQueueName         = "clipforge.jobs"
	DefaultWorkers           = 2
	DefaultRenderConcurrency = 3
	DefaultSweepInterval     = 30 * time.Second
	DefaultStaleTaskTimeout  = 2 * time.Hour

	DefaultRateLimit  = 10
	DefaultRateWindow = time.Minute

	DefaultChatModel      = "gpt-4o-mini"
	DefaultEmbeddingModel = "text-embedding-3-small"

	DefaultTranscribeModule  = "clipforge_transcribe"
	DefaultTranscribeTimeout = 30 * time.Minute
	DefaultFacesTimeout      = 15 * time.Minute
	DefaultDoctorTimeout     = 30 * time.Second

	DefaultFFmpegPath    = "ffmpeg"
	DefaultFFprobePath   = "ffprobe"
	DefaultRenderTimeout = 10 * time.Minute

	DefaultMaxCandidates  = 5
	DefaultMinDuration    = 5 * time.Second
	DefaultMaxOverlap     = 0.5
	DefaultOverlapRule    = "fraction"
	DefaultLayout         = "center_crop"
	DefaultMaxUploadBytes = 2 << 30 // 2GB

	// Environment variable names
	EnvConfigFile    = "CLIPFORGE_CONFIG"
	EnvHost          = "CLIPFORGE_HOST"
	EnvPort          = "CLIPFORGE_PORT"
	EnvLogLevel      = "CLIPFORGE_LOG_LEVEL"
	EnvLogFormat     = "CLIPFORGE_LOG_FORMAT"
	EnvDataDir       = "CLIPFORGE_DATA_DIR"
	EnvPublicBaseURL = "CLIPFORGE_PUBLIC_BASE_URL"
	EnvCORSOrigins   = "CLIPFORGE_CORS_ORIGINS"

	EnvDBDriver    = "CLIPFORGE_DB_DRIVER"
	EnvDatabaseURL = "CLIPFORGE_DATABASE_URL"

	EnvStorageBackend = "CLIPFORGE_STORAGE_BACKEND"
	EnvS3Endpoint     = "CLIPFORGE_S3_ENDPOINT"
	EnvS3AccessKey    = "CLIPFORGE_S3_ACCESS_KEY"
	EnvS3SecretKey    = "CLIPFORGE_S3_SECRET_KEY"
	EnvS3Bucket       = "CLIPFORGE_S3_BUCKET"
	EnvS3Region       = "CLIPFORGE_S3_REGION"
	EnvS3UseSSL       = "CLIPFORGE_S3_USE_SSL"
	EnvPresignExpiry  = "CLIPFORGE_PRESIGN_EXPIRY"

	EnvBrokerURL         = "CLIPFORGE_BROKER_URL"
	EnvQueueName         = "CLIPFORGE_QUEUE_NAME"
	EnvWorkers           = "CLIPFORGE_WORKERS"
	EnvRenderConcurrency = "CLIPFORGE_RENDER_CONCURRENCY"
	EnvSweepInterval     = "CLIPFORGE_SWEEP_INTERVAL"
	EnvStaleTaskTimeout  = "CLIPFORGE_STALE_TASK_TIMEOUT"

	EnvRedisAddr  = "CLIPFORGE_REDIS_ADDR"
	EnvRedisDB    = "CLIPFORGE_REDIS_DB"
	EnvRateLimit  = "CLIPFORGE_RATE_LIMIT"
	EnvRateWindow = "CLIPFORGE_RATE_WINDOW"

	EnvJWTSecret = "CLIPFORGE_JWT_SECRET"

	EnvOpenAIKey      = "OPENAI_API_KEY"
	EnvOpenAIBaseURL  = "CLIPFORGE_OPENAI_BASE_URL"
	EnvChatModel      = "CLIPFORGE_CHAT_MODEL"
	EnvEmbeddingModel = "CLIPFORGE_EMBEDDING_MODEL"
	EnvEmbedder       = "CLIPFORGE_EMBEDDER"
	EnvRanker         = "CLIPFORGE_RANKER"

	EnvTranscribePython  = "CLIPFORGE_TRANSCRIBE_PYTHON"
	EnvTranscribeModule  = "CLIPFORGE_TRANSCRIBE_MODULE"
	EnvTranscribeTimeout = "CLIPFORGE_TRANSCRIBE_TIMEOUT"
	EnvFacesTimeout      = "CLIPFORGE_FACES_TIMEOUT"

	EnvFFmpegPath    = "CLIPFORGE_FFMPEG"
	EnvFFprobePath   = "CLIPFORGE_FFPROBE"
	EnvRenderTimeout = "CLIPFORGE_RENDER_TIMEOUT"

	EnvMaxCandidates  = "CLIPFORGE_MAX_CANDIDATES"
	EnvMinDuration    = "CLIPFORGE_MIN_DURATION"
	EnvMaxOverlap     = "CLIPFORGE_MAX_OVERLAP"
	EnvOverlapRule    = "CLIPFORGE_OVERLAP_RULE"
	EnvDefaultLayout  = "CLIPFORGE_DEFAULT_LAYOUT"
	EnvMaxUploadBytes = "CLIPFORGE_MAX_UPLOAD_BYTES"

	// Database filename
	DBFilename = "clipforge.db"
)

// EnvConfig holds the resolved configuration. Fields are private; read them
// through the accessor methods.
type EnvConfig struct {
	host          string
	port          int
	logLevel      string
	logFormat     string
	dataDir       string
	publicBaseURL string
	corsOrigins   []string

	dbDriver    string
	databaseURL string

	storageBackend string
	s3Endpoint     string
	s3AccessKey    string
	s3SecretKey    string
	s3Bucket       string
	s3Region       string
	s3UseSSL       bool
	presignExpiry  time.Duration

	brokerURL         string
	queueName         string
	workers           int
	renderConcurrency int
	sweepInterval     time.Duration
	staleTaskTimeout  time.Duration

	redisAddr  string
	redisDB    int
	rateLimit  int
	rateWindow time.Duration

	jwtSecret string

	openAIKey      string
	openAIBaseURL  string
	chatModel      string
	embeddingModel string
	embedder       string
	ranker         string

	transcribePython  string
	transcribeModule  string
	transcribeTimeout time.Duration
	facesTimeout      time.Duration

	ffmpegPath    string
	ffprobePath   string
	renderTimeout time.Duration

	maxCandidates  int
	minDuration    time.Duration
	maxOverlap     float64
	overlapRule    string
	defaultLayout  string
	maxUploadBytes int64

	file string
}

// New loads configuration using the file named by CLIPFORGE_CONFIG, if any.
func New() (*EnvConfig, error) {
	return Load(os.Getenv(EnvConfigFile))
}

// Load creates an EnvConfig with defaults, then applies the TOML file at path
// (when non-empty), a .env file in the working directory and finally
// environment variable overrides.
func Load(path string) (*EnvConfig, error) {
	cfg := defaults()

	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
		cfg.file = path
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *EnvConfig {
	return &EnvConfig{
		host:              DefaultHost,
		port:              DefaultPort,
		logLevel:          DefaultLogLevel,
		logFormat:         DefaultLogFormat,
		dataDir:           defaultDataDir(),
		publicBaseURL:     DefaultPublicBaseURL,
		corsOrigins:       splitList(DefaultCORSOrigins),
		dbDriver:          DefaultDBDriver,
		storageBackend:    DefaultStorageBackend,
		s3Bucket:          DefaultS3Bucket,
		presignExpiry:     DefaultPresignExpiry,
		queueName:         DefaultQueueName,
		workers:           DefaultWorkers,
		renderConcurrency: DefaultRenderConcurrency,
		sweepInterval:     DefaultSweepInterval,
		staleTaskTimeout:  DefaultStaleTaskTimeout,
		rateLimit:         DefaultRateLimit,
		rateWindow:        DefaultRateWindow,
		chatModel:         DefaultChatModel,
		embeddingModel:    DefaultEmbeddingModel,
		embedder:          "auto",
		ranker:            "auto",
		transcribeModule:  DefaultTranscribeModule,
		transcribeTimeout: DefaultTranscribeTimeout,
		facesTimeout:      DefaultFacesTimeout,
		ffmpegPath:        DefaultFFmpegPath,
		ffprobePath:       DefaultFFprobePath,
		renderTimeout:     DefaultRenderTimeout,
		maxCandidates:     DefaultMaxCandidates,
		minDuration:       DefaultMinDuration,
		maxOverlap:        DefaultMaxOverlap,
		overlapRule:       DefaultOverlapRule,
		defaultLayout:     DefaultLayout,
		maxUploadBytes:    DefaultMaxUploadBytes,
	}
}

func (c *EnvConfig) applyEnv() error {
	setString(&c.host, EnvHost)
	if err := setInt(&c.port, EnvPort); err != nil {
		return err
	}
	setString(&c.logLevel, EnvLogLevel)
	setString(&c.logFormat, EnvLogFormat)
	setString(&c.dataDir, EnvDataDir)
	setString(&c.publicBaseURL, EnvPublicBaseURL)
	if v, ok := os.LookupEnv(EnvCORSOrigins); ok {
		c.corsOrigins = splitList(v)
	}

	setString(&c.dbDriver, EnvDBDriver)
	setString(&c.databaseURL, EnvDatabaseURL)

	setString(&c.storageBackend, EnvStorageBackend)
	setString(&c.s3Endpoint, EnvS3Endpoint)
	setString(&c.s3AccessKey, EnvS3AccessKey)
	setString(&c.s3SecretKey, EnvS3SecretKey)
	setString(&c.s3Bucket, EnvS3Bucket)
	setString(&c.s3Region, EnvS3Region)
	if err := setBool(&c.s3UseSSL, EnvS3UseSSL); err != nil {
		return err
	}
	if err := setDuration(&c.presignExpiry, EnvPresignExpiry); err != nil {
		return err
	}

	setString(&c.brokerURL, EnvBrokerURL)
	setString(&c.queueName, EnvQueueName)
	if err := setInt(&c.workers, EnvWorkers); err != nil {
		return err
	}
	if err := setInt(&c.renderConcurrency, EnvRenderConcurrency); err != nil {
		return err
	}
	if err := setDuration(&c.sweepInterval, EnvSweepInterval); err != nil {
		return err
	}
	if err := setDuration(&c.staleTaskTimeout, EnvStaleTaskTimeout); err != nil {
		return err
	}

	setString(&c.redisAddr, EnvRedisAddr)
	if err := setInt(&c.redisDB, EnvRedisDB); err != nil {
		return err
	}
	if err := setInt(&c.rateLimit, EnvRateLimit); err != nil {
		return err
	}
	if err := setDuration(&c.rateWindow, EnvRateWindow); err != nil {
		return err
	}

	setString(&c.jwtSecret, EnvJWTSecret)

	setString(&c.openAIKey, EnvOpenAIKey)
	setString(&c.openAIBaseURL, EnvOpenAIBaseURL)
	setString(&c.chatModel, EnvChatModel)
	setString(&c.embeddingModel, EnvEmbeddingModel)
	setString(&c.embedder, EnvEmbedder)
	setString(&c.ranker, EnvRanker)

	setString(&c.transcribePython, EnvTranscribePython)
	setString(&c.transcribeModule, EnvTranscribeModule)
	if err := setDuration(&c.transcribeTimeout, EnvTranscribeTimeout); err != nil {
		return err
	}
	if err := setDuration(&c.facesTimeout, EnvFacesTimeout); err != nil {
		return err
	}

	setString(&c.ffmpegPath, EnvFFmpegPath)
	setString(&c.ffprobePath, EnvFFprobePath)
	if err := setDuration(&c.renderTimeout, EnvRenderTimeout); err != nil {
		return err
	}

	if err := setInt(&c.maxCandidates, EnvMaxCandidates); err != nil {
		return err
	}
	if err := setDuration(&c.minDuration, EnvMinDuration); err != nil {
		return err
	}
	if v := os.Getenv(EnvMaxOverlap); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvMaxOverlap, err)
		}
		c.maxOverlap = f
	}
	setString(&c.overlapRule, EnvOverlapRule)
	setString(&c.defaultLayout, EnvDefaultLayout)
	if v := os.Getenv(EnvMaxUploadBytes); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvMaxUploadBytes, err)
		}
		c.maxUploadBytes = n
	}
	return nil
}

func (c *EnvConfig) validate() error {
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
	}
	switch c.dbDriver {
	case "sqlite":
	case "postgres":
		if c.databaseURL == "" {
			return fmt.Errorf("invalid %s: postgres driver requires %s", EnvDBDriver, EnvDatabaseURL)
		}
	default:
		return fmt.Errorf("invalid %s: unknown driver %q", EnvDBDriver, c.dbDriver)
	}
	switch c.storageBackend {
	case "local":
	case "s3", "minio":
		if c.s3Endpoint == "" {
			return fmt.Errorf("invalid %s: %s backend requires %s", EnvStorageBackend, c.storageBackend, EnvS3Endpoint)
		}
	default:
		return fmt.Errorf("invalid %s: unknown backend %q", EnvStorageBackend, c.storageBackend)
	}
	if c.presignExpiry <= 0 {
		return fmt.Errorf("invalid %s: must be positive", EnvPresignExpiry)
	}
	if c.workers < 1 {
		return fmt.Errorf("invalid %s: must be at least 1", EnvWorkers)
	}
	if c.renderConcurrency < 1 {
		return fmt.Errorf("invalid %s: must be at least 1", EnvRenderConcurrency)
	}
	if c.sweepInterval <= 0 || c.staleTaskTimeout <= 0 {
		return fmt.Errorf("invalid %s/%s: must be positive", EnvSweepInterval, EnvStaleTaskTimeout)
	}
	if c.rateLimit < 0 {
		return fmt.Errorf("invalid %s: must not be negative", EnvRateLimit)
	}
	if c.maxCandidates < 1 {
		return fmt.Errorf("invalid %s: must be at least 1", EnvMaxCandidates)
	}
	if c.minDuration < 0 {
		return fmt.Errorf("invalid %s: must not be negative", EnvMinDuration)
	}
	if c.maxOverlap <= 0 || c.maxOverlap > 1 {
		return fmt.Errorf("invalid %s: must be in (0, 1]", EnvMaxOverlap)
	}
	if c.overlapRule != "fraction" && c.overlapRule != "iou" {
		return fmt.Errorf("invalid %s: unknown rule %q", EnvOverlapRule, c.overlapRule)
	}
	switch c.defaultLayout {
	case "center_crop", "blurred", "smart":
	default:
		return fmt.Errorf("invalid %s: unknown layout %q", EnvDefaultLayout, c.defaultLayout)
	}
	switch c.embedder {
	case "auto", "openai", "hash":
	default:
		return fmt.Errorf("invalid %s: unknown embedder %q", EnvEmbedder, c.embedder)
	}
	switch c.ranker {
	case "auto", "openai", "heuristic":
	default:
		return fmt.Errorf("invalid %s: unknown ranker %q", EnvRanker, c.ranker)
	}
	if (c.embedder == "openai" || c.ranker == "openai") && c.openAIKey == "" {
		return fmt.Errorf("invalid %s: openai embedder/ranker requires an API key", EnvOpenAIKey)
	}
	if c.maxUploadBytes <= 0 {
		return fmt.Errorf("invalid %s: must be positive", EnvMaxUploadBytes)
	}
	return nil
}

func (c *EnvConfig) Host() string { return c.host }

// Port returns the HTTP server port
func (c *EnvConfig) Port() int { return c.port }

// Addr returns host:port for the HTTP listener
func (c *EnvConfig) Addr() string { return fmt.Sprintf("%s:%d", c.host, c.port) }

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string { return c.logLevel }

// LogFormat returns json, text or auto
func (c *EnvConfig) LogFormat() string { return c.logFormat }

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string { return c.dataDir }

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string { return filepath.Join(c.dataDir, DBFilename) }

// ObjectsDir is the root of the local object store.
func (c *EnvConfig) ObjectsDir() string { return filepath.Join(c.dataDir, "objects") }

// WorkDir holds per-task scratch directories.
func (c *EnvConfig) WorkDir() string { return filepath.Join(c.dataDir, "work") }

func (c *EnvConfig) LockPath() string { return filepath.Join(c.dataDir, "clipforge.lock") }

func (c *EnvConfig) PublicBaseURL() string { return strings.TrimRight(c.publicBaseURL, "/") }

// CORSOrigins lists browser origins allowed to call the API.
func (c *EnvConfig) CORSOrigins() []string { return c.corsOrigins }

func (c *EnvConfig) DBDriver() string    { return c.dbDriver }
func (c *EnvConfig) DatabaseURL() string { return c.databaseURL }

// DSN returns the data source name for the configured driver.
func (c *EnvConfig) DSN() string {
	if c.dbDriver == "postgres" {
		return c.databaseURL
	}
	return c.DBPath()
}

func (c *EnvConfig) StorageBackend() string       { return c.storageBackend }
func (c *EnvConfig) S3Endpoint() string           { return c.s3Endpoint }
func (c *EnvConfig) S3AccessKey() string          { return c.s3AccessKey }
func (c *EnvConfig) S3SecretKey() string          { return c.s3SecretKey }
func (c *EnvConfig) S3Bucket() string             { return c.s3Bucket }
func (c *EnvConfig) S3Region() string             { return c.s3Region }
func (c *EnvConfig) S3UseSSL() bool               { return c.s3UseSSL }
func (c *EnvConfig) PresignExpiry() time.Duration { return c.presignExpiry }

// BrokerURL is the AMQP url. Empty means jobs run on the in-process pool.
func (c *EnvConfig) BrokerURL() string               { return c.brokerURL }
func (c *EnvConfig) QueueName() string               { return c.queueName }
func (c *EnvConfig) Workers() int                    { return c.workers }
func (c *EnvConfig) RenderConcurrency() int          { return c.renderConcurrency }
func (c *EnvConfig) SweepInterval() time.Duration    { return c.sweepInterval }
func (c *EnvConfig) StaleTaskTimeout() time.Duration { return c.staleTaskTimeout }

func (c *EnvConfig) RedisAddr() string         { return c.redisAddr }
func (c *EnvConfig) RedisDB() int              { return c.redisDB }
func (c *EnvConfig) RateLimit() int            { return c.rateLimit }
func (c *EnvConfig) RateWindow() time.Duration { return c.rateWindow }

func (c *EnvConfig) JWTSecret() string { return c.jwtSecret }

func (c *EnvConfig) OpenAIKey() string      { return c.openAIKey }
func (c *EnvConfig) OpenAIBaseURL() string  { return c.openAIBaseURL }
func (c *EnvConfig) ChatModel() string      { return c.chatModel }
func (c *EnvConfig) EmbeddingModel() string { return c.embeddingModel }

// Embedder resolves "auto" to openai when an API key is present.
func (c *EnvConfig) Embedder() string {
	if c.embedder == "auto" {
		if c.openAIKey != "" {
			return "openai"
		}
		return "hash"
	}
	return c.embedder
}

// Ranker resolves "auto" to openai when an API key is present.
func (c *EnvConfig) Ranker() string {
	if c.ranker == "auto" {
		if c.openAIKey != "" {
			return "openai"
		}
		return "heuristic"
	}
	return c.ranker
}

func (c *EnvConfig) TranscribePython() string         { return c.transcribePython }
func (c *EnvConfig) TranscribeModule() string         { return c.transcribeModule }
func (c *EnvConfig) TranscribeTimeout() time.Duration { return c.transcribeTimeout }
func (c *EnvConfig) FacesTimeout() time.Duration      { return c.facesTimeout }
func (c *EnvConfig) DoctorTimeout() time.Duration     { return DefaultDoctorTimeout }
func (c *EnvConfig) FFmpegPath() string               { return c.ffmpegPath }
func (c *EnvConfig) FFprobePath() string              { return c.ffprobePath }
func (c *EnvConfig) RenderTimeout() time.Duration     { return c.renderTimeout }
func (c *EnvConfig) MaxCandidates() int               { return c.maxCandidates }
func (c *EnvConfig) MinDuration() time.Duration       { return c.minDuration }
func (c *EnvConfig) MaxOverlap() float64              { return c.maxOverlap }
func (c *EnvConfig) OverlapRule() string              { return c.overlapRule }
func (c *EnvConfig) DefaultLayout() string            { return c.defaultLayout }
func (c *EnvConfig) MaxUploadBytes() int64            { return c.maxUploadBytes }
func (c *EnvConfig) File() string                     { return c.file }

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = b
	return nil
}

// setDuration accepts Go duration strings ("90s") or a bare number of seconds.
func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := parseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = d
	return nil
}

func parseDuration(v string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(v)
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// fileConfig mirrors the TOML layout. Zero values leave defaults untouched.
type fileConfig struct {
	Server struct {
		Host          string   `toml:"host"`
		Port          int      `toml:"port"`
		LogLevel      string   `toml:"log_level"`
		LogFormat     string   `toml:"log_format"`
		DataDir       string   `toml:"data_dir"`
		PublicBaseURL string   `toml:"public_base_url"`
		JWTSecret     string   `toml:"jwt_secret"`
		CORSOrigins   []string `toml:"cors_origins"`
	} `toml:"server"`
	Database struct {
		Driver string `toml:"driver"`
		URL    string `toml:"url"`
	} `toml:"database"`
	Storage struct {
		Backend       string `toml:"backend"`
		Endpoint      string `toml:"endpoint"`
		AccessKey     string `toml:"access_key"`
		SecretKey     string `toml:"secret_key"`
		Bucket        string `toml:"bucket"`
		Region        string `toml:"region"`
		UseSSL        bool   `toml:"use_ssl"`
		PresignExpiry string `toml:"presign_expiry"`
	} `toml:"storage"`
	Queue struct {
		BrokerURL         string `toml:"broker_url"`
		Name              string `toml:"name"`
		Workers           int    `toml:"workers"`
		RenderConcurrency int    `toml:"render_concurrency"`
		SweepInterval     string `toml:"sweep_interval"`
		StaleTaskTimeout  string `toml:"stale_task_timeout"`
	} `toml:"queue"`
	Redis struct {
		Addr       string `toml:"addr"`
		DB         int    `toml:"db"`
		RateLimit  int    `toml:"rate_limit"`
		RateWindow string `toml:"rate_window"`
	} `toml:"redis"`
	OpenAI struct {
		APIKey         string `toml:"api_key"`
		BaseURL        string `toml:"base_url"`
		ChatModel      string `toml:"chat_model"`
		EmbeddingModel string `toml:"embedding_model"`
		Embedder       string `toml:"embedder"`
		Ranker         string `toml:"ranker"`
	} `toml:"openai"`
	Transcribe struct {
		Python       string `toml:"python"`
		Module       string `toml:"module"`
		Timeout      string `toml:"timeout"`
		FacesTimeout string `toml:"faces_timeout"`
	} `toml:"transcribe"`
	Render struct {
		FFmpeg        string `toml:"ffmpeg"`
		FFprobe       string `toml:"ffprobe"`
		Timeout       string `toml:"timeout"`
		DefaultLayout string `toml:"default_layout"`
	} `toml:"render"`
	Selection struct {
		MaxCandidates  int     `toml:"max_candidates"`
		MinDuration    string  `toml:"min_duration"`
		MaxOverlap     float64 `toml:"max_overlap"`
		OverlapRule    string  `toml:"overlap_rule"`
		MaxUploadBytes int64   `toml:"max_upload_bytes"`
	} `toml:"selection"`
}

func (c *EnvConfig) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	pick(&c.host, fc.Server.Host)
	if fc.Server.Port != 0 {
		c.port = fc.Server.Port
	}
	pick(&c.logLevel, fc.Server.LogLevel)
	pick(&c.logFormat, fc.Server.LogFormat)
	pick(&c.dataDir, fc.Server.DataDir)
	pick(&c.publicBaseURL, fc.Server.PublicBaseURL)
	pick(&c.jwtSecret, fc.Server.JWTSecret)
	if len(fc.Server.CORSOrigins) > 0 {
		c.corsOrigins = fc.Server.CORSOrigins
	}

	pick(&c.dbDriver, fc.Database.Driver)
	pick(&c.databaseURL, fc.Database.URL)

	pick(&c.storageBackend, fc.Storage.Backend)
	pick(&c.s3Endpoint, fc.Storage.Endpoint)
	pick(&c.s3AccessKey, fc.Storage.AccessKey)
	pick(&c.s3SecretKey, fc.Storage.SecretKey)
	pick(&c.s3Bucket, fc.Storage.Bucket)
	pick(&c.s3Region, fc.Storage.Region)
	c.s3UseSSL = c.s3UseSSL || fc.Storage.UseSSL

	pick(&c.brokerURL, fc.Queue.BrokerURL)
	pick(&c.queueName, fc.Queue.Name)
	if fc.Queue.Workers != 0 {
		c.workers = fc.Queue.Workers
	}
	if fc.Queue.RenderConcurrency != 0 {
		c.renderConcurrency = fc.Queue.RenderConcurrency
	}

	pick(&c.redisAddr, fc.Redis.Addr)
	if fc.Redis.DB != 0 {
		c.redisDB = fc.Redis.DB
	}
	if fc.Redis.RateLimit != 0 {
		c.rateLimit = fc.Redis.RateLimit
	}

	pick(&c.openAIKey, fc.OpenAI.APIKey)
	pick(&c.openAIBaseURL, fc.OpenAI.BaseURL)
	pick(&c.chatModel, fc.OpenAI.ChatModel)
	pick(&c.embeddingModel, fc.OpenAI.EmbeddingModel)
	pick(&c.embedder, fc.OpenAI.Embedder)
	pick(&c.ranker, fc.OpenAI.Ranker)

	pick(&c.transcribePython, fc.Transcribe.Python)
	pick(&c.transcribeModule, fc.Transcribe.Module)

	pick(&c.ffmpegPath, fc.Render.FFmpeg)
	pick(&c.ffprobePath, fc.Render.FFprobe)
	pick(&c.defaultLayout, fc.Render.DefaultLayout)

	if fc.Selection.MaxCandidates != 0 {
		c.maxCandidates = fc.Selection.MaxCandidates
	}
	if fc.Selection.MaxOverlap != 0 {
		c.maxOverlap = fc.Selection.MaxOverlap
	}
	pick(&c.overlapRule, fc.Selection.OverlapRule)
	if fc.Selection.MaxUploadBytes != 0 {
		c.maxUploadBytes = fc.Selection.MaxUploadBytes
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"storage.presign_expiry", fc.Storage.PresignExpiry, &c.presignExpiry},
		{"queue.sweep_interval", fc.Queue.SweepInterval, &c.sweepInterval},
		{"queue.stale_task_timeout", fc.Queue.StaleTaskTimeout, &c.staleTaskTimeout},
		{"redis.rate_window", fc.Redis.RateWindow, &c.rateWindow},
		{"transcribe.timeout", fc.Transcribe.Timeout, &c.transcribeTimeout},
		{"transcribe.faces_timeout", fc.Transcribe.FacesTimeout, &c.facesTimeout},
		{"render.timeout", fc.Render.Timeout, &c.renderTimeout},
		{"selection.min_duration", fc.Selection.MinDuration, &c.minDuration},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := parseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", d.name, err)
		}
		*d.dst = v
	}
	return nil
}

func pick(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
