package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"runtime"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds all service settings, populated from environment variables.
// The env tag names the variable in validation errors.
type Config struct {
	HTTPAddr        string        `env:"HTTP_ADDR" validate:"required"`
	LogLevel        string        `env:"LOG_LEVEL" validate:"oneof=debug info warn warning error"`
	LogFormat       string        `env:"LOG_FORMAT" validate:"oneof=json text"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT"`

	// Imagery source.
	ImagerySource      string        `env:"IMAGERY_SOURCE" validate:"oneof=http file"`
	ImageryBaseURL     string        `env:"IMAGERY_BASE_URL" validate:"required_if=ImagerySource http,omitempty,url"`
	ImageryToken       string        `env:"IMAGERY_TOKEN"`
	ImageryFile        string        `env:"IMAGERY_FILE" validate:"required_if=ImagerySource file"`
	ImageryTimeout     time.Duration `env:"IMAGERY_TIMEOUT" validate:"gt=0"`
	ImageryMaxAttempts int           `env:"IMAGERY_MAX_ATTEMPTS" validate:"min=1,max=10"`
	ImageryBackoff     time.Duration `env:"IMAGERY_BACKOFF" validate:"gt=0"`

	// Processing.
	WorkerCount           int     `env:"WORKER_COUNT" validate:"min=1,max=256"`
	QualityThreshold      float64 `env:"QUALITY_THRESHOLD" validate:"min=0,max=100"`
	SampleScaleMetres     float64 `env:"SAMPLE_SCALE_M" validate:"gt=0"`
	MaxSamplePixels       int     `env:"MAX_SAMPLE_PIXELS" validate:"min=1"`
	AlertThreshold        float64 `env:"ALERT_THRESHOLD" validate:"min=-1,max=1"`
	ForecastHorizonMonths int     `env:"FORECAST_HORIZON_MONTHS" validate:"min=1,max=60"`
	ForecastMinHistory    int     `env:"FORECAST_MIN_HISTORY" validate:"min=3"`
	CacheSize             int     `env:"CACHE_SIZE" validate:"min=1,max=1024"`

	// Result publishing.
	KafkaEnabled     bool     `env:"KAFKA_ENABLED"`
	KafkaBrokers     []string `env:"KAFKA_BROKERS" validate:"required_if=KafkaEnabled true"`
	KafkaResultTopic string   `env:"KAFKA_RESULT_TOPIC" validate:"required_if=KafkaEnabled true"`

	// Result archive.
	MongoURI      string `env:"MONGO_URI"`
	MongoDatabase string `env:"MONGO_DB" validate:"required_with=MongoURI"`

	// Scheduled refresh of watched regions.
	WatchFile           string        `env:"WATCH_FILE"`
	ScheduleInterval    time.Duration `env:"SCHEDULE_INTERVAL" validate:"min=1m"`
	WatchLookbackMonths int           `env:"WATCH_LOOKBACK_MONTHS" validate:"min=1,max=240"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("env"); name != "" {
			return name
		}
		return f.Name
	})
	return v
}

// Load reads configuration from environment variables, applying defaults where unset.
// A .env file in the working directory is loaded first when present; it never
// overrides variables already set.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	p := &parser{}
	brokers := sharedcfg.ParseBrokers(os.Getenv("KAFKA_BROKERS"))
	kafkaEnabled := len(brokers) > 0
	if v := os.Getenv("KAFKA_ENABLED"); v != "" {
		kafkaEnabled = p.boolVar("KAFKA_ENABLED", v)
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        strings.ToLower(sharedcfg.EnvOrDefault("LOG_LEVEL", "info")),
		LogFormat:       strings.ToLower(sharedcfg.EnvOrDefault("LOG_FORMAT", "json")),
		ShutdownTimeout: shutdownTimeout,

		ImagerySource:      strings.ToLower(sharedcfg.EnvOrDefault("IMAGERY_SOURCE", "http")),
		ImageryBaseURL:     strings.TrimRight(sharedcfg.EnvOrDefault("IMAGERY_BASE_URL", "http://localhost:8090"), "/"),
		ImageryToken:       os.Getenv("IMAGERY_TOKEN"),
		ImageryFile:        os.Getenv("IMAGERY_FILE"),
		ImageryTimeout:     p.durationVar("IMAGERY_TIMEOUT", "30s"),
		ImageryMaxAttempts: p.intVar("IMAGERY_MAX_ATTEMPTS", 3),
		ImageryBackoff:     p.durationVar("IMAGERY_BACKOFF", "500ms"),

		WorkerCount:           p.intVar("WORKER_COUNT", min(runtime.NumCPU(), 8)),
		QualityThreshold:      p.floatVar("QUALITY_THRESHOLD", 20),
		SampleScaleMetres:     p.floatVar("SAMPLE_SCALE_M", 30),
		MaxSamplePixels:       p.intVar("MAX_SAMPLE_PIXELS", 1_000_000),
		AlertThreshold:        p.floatVar("ALERT_THRESHOLD", 0.2),
		ForecastHorizonMonths: p.intVar("FORECAST_HORIZON_MONTHS", 12),
		ForecastMinHistory:    p.intVar("FORECAST_MIN_HISTORY", 12),
		CacheSize:             p.intVar("CACHE_SIZE", 8),

		KafkaEnabled:     kafkaEnabled,
		KafkaBrokers:     brokers,
		KafkaResultTopic: sharedcfg.EnvOrDefault("KAFKA_RESULT_TOPIC", "ndvi-results"),

		MongoURI:      os.Getenv("MONGO_URI"),
		MongoDatabase: sharedcfg.EnvOrDefault("MONGO_DB", "ndvi"),

		WatchFile:           os.Getenv("WATCH_FILE"),
		ScheduleInterval:    p.durationVar("SCHEDULE_INTERVAL", "24h"),
		WatchLookbackMonths: p.intVar("WATCH_LOOKBACK_MONTHS", 24),
	}
	if p.err != nil {
		return nil, p.err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every field against its constraints and reports the
// offending environment variables.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fmt.Sprintf("%s fails %q", fe.Field(), fe.Tag())
		if fe.Param() != "" {
			msg = fmt.Sprintf("%s fails %q (%s)", fe.Field(), fe.Tag(), fe.Param())
		}
		msgs = append(msgs, msg)
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

// parser reads typed variables, keeping the first error.
type parser struct {
	err error
}

func (p *parser) fail(key, value string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
}

func (p *parser) durationVar(key, def string) time.Duration {
	s := sharedcfg.EnvOrDefault(key, def)
	d, err := time.ParseDuration(s)
	if err != nil {
		p.fail(key, s, err)
	}
	return d
}

func (p *parser) intVar(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		p.fail(key, s, err)
	}
	return n
}

func (p *parser) floatVar(key string, def float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		p.fail(key, s, err)
	}
	return f
}

func (p *parser) boolVar(key, s string) bool {
	b, err := strconv.ParseBool(s)
	if err != nil {
		p.fail(key, s, err)
	}
	return b
}
