// Package config reads service settings from the environment.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/spewite/score-to-midi/internal/scoreerr"
	"github.com/spewite/score-to-midi/internal/workspace"
)

// Config holds every setting the binaries read.
type Config struct {
	HTTPAddr string
	Roots    workspace.Roots

	AudiverisPath string
	OMRTimeout    time.Duration

	ConverterMode   string
	ConverterPath   string
	ConverterScript string
	ConvertTimeout  time.Duration

	DatabaseURL        string
	QueueName          string
	Concurrency        int
	ApplicationVersion string

	KafkaBroker string
	KafkaTopic  string

	SMTPHost    string
	SMTPPort    int
	EmailUser   string
	EmailPass   string
	NotifyEmail string

	CORSOrigins       []string
	ContentStorageDir string

	MaxUploadBytes int64
	MaxPixels      int
}

// GetEnv is a helper to read an environment variable or return a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// Load reads .env if present and then the environment.
func Load() (*Config, error) {
	// Missing .env is normal outside development.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Failed to read .env: %v", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment.
func FromEnv() (*Config, error) {
	cfg := &Config{
		HTTPAddr: GetEnv("HTTP_ADDR", ":5000"),
		Roots: workspace.Roots{
			Uploads:   GetEnv("UPLOAD_FOLDER", "data/uploads"),
			MXL:       GetEnv("MXL_FOLDER", "data/mxl"),
			MIDI:      GetEnv("MIDI_FOLDER", "data/midi"),
			OMROutput: GetEnv("AUDIVERIS_OUTPUT", "data/audiveris"),
		},
		AudiverisPath:      GetEnv("AUDIVERIS_PATH", "/opt/audiveris/bin/Audiveris"),
		ConverterMode:      GetEnv("MIDI_CONVERTER", "musescore"),
		ConverterPath:      GetEnv("MIDI_CONVERTER_PATH", "mscore"),
		ConverterScript:    GetEnv("MIDI_CONVERTER_SCRIPT", "scripts/mxl_to_midi.py"),
		DatabaseURL:        os.Getenv("DBOS_SYSTEM_DATABASE_URL"),
		QueueName:          GetEnv("DBOS_QUEUE_NAME", "score-conversions"),
		ApplicationVersion: os.Getenv("DBOS_APPLICATION_VERSION"),
		KafkaBroker:        os.Getenv("KAFKA_BROKER_ADDRESS"),
		KafkaTopic:         GetEnv("KAFKA_TOPIC", "score-conversions"),
		SMTPHost:           GetEnv("SMTP_HOST", "smtp.gmail.com"),
		EmailUser:          os.Getenv("EMAIL_USER"),
		EmailPass:          os.Getenv("EMAIL_PASS"),
		NotifyEmail:        os.Getenv("NOTIFY_EMAIL"),
		CORSOrigins:        splitList(GetEnv("CORS_ORIGINS", "https://score-to-midi.com,https://staging.score-to-midi.com")),
		ContentStorageDir:  os.Getenv("CONTENT_STORAGE_DIR"),
	}

	var err error
	if cfg.OMRTimeout, err = duration("OMR_TIMEOUT", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.ConvertTimeout, err = duration("CONVERT_TIMEOUT", 2*time.Minute); err != nil {
		return nil, err
	}
	if cfg.Concurrency, err = integer("DBOS_CONCURRENCY", 2); err != nil {
		return nil, err
	}
	if cfg.SMTPPort, err = integer("SMTP_PORT", 465); err != nil {
		return nil, err
	}
	if cfg.MaxPixels, err = integer("MAX_PIXELS", 7000); err != nil {
		return nil, err
	}
	maxBytes, err := integer("MAX_UPLOAD_BYTES", 10*1024*1024)
	if err != nil {
		return nil, err
	}
	cfg.MaxUploadBytes = int64(maxBytes)

	return cfg, nil
}

// EmailEnabled reports whether SMTP credentials and a recipient are set.
func (c *Config) EmailEnabled() bool {
	return c.EmailUser != "" && c.EmailPass != "" && c.NotifyEmail != ""
}

// KafkaEnabled reports whether a broker is configured.
func (c *Config) KafkaEnabled() bool {
	return c.KafkaBroker != ""
}

func duration(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		// Bare numbers are seconds.
		secs, convErr := strconv.Atoi(raw)
		if convErr != nil {
			return 0, fmt.Errorf("%w: invalid %s %q: %v", scoreerr.ErrConfiguration, key, raw, err)
		}
		d = time.Duration(secs) * time.Second
	}
	if d <= 0 {
		return 0, fmt.Errorf("%w: %s must be positive", scoreerr.ErrConfiguration, key)
	}
	return d, nil
}

func integer(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s %q: %v", scoreerr.ErrConfiguration, key, raw, err)
	}
	return n, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
