// Package config reads process configuration from the environment.
package config

import (
	"crypto/tls"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/voicelink/adapters/llm"
	"github.com/satriahrh/arunika/voicelink/adapters/stt"
	"github.com/satriahrh/arunika/voicelink/adapters/tts"
	"github.com/satriahrh/arunika/voicelink/domain/repositories"
	"github.com/satriahrh/arunika/voicelink/internal/wsconn"
)

const (
	defaultPort               = "8080"
	defaultSessionIdleTimeout = 2 * time.Minute

	STTProviderCartesia = "cartesia"
	STTProviderGoogle   = "google"
)

// Config is everything the binaries need, already shaped for the adapters
type Config struct {
	Port               string
	LogLevel           string
	STTProvider        string
	ExtraCACertPath    string
	JWTSecret          string
	SessionIdleTimeout time.Duration // voice sessions silent this long are ended

	TTS    tts.CartesiaConfig
	STT    stt.CartesiaConfig
	Google stt.GoogleConfig
	Gemini llm.GeminiConfig
}

// Load reads a .env file when present, then the environment.
// Invalid numbers are ignored so the adapter defaults apply.
func Load() Config {
	_ = godotenv.Load()

	apiKey := os.Getenv("CARTESIA_API_KEY")
	version := os.Getenv("CARTESIA_VERSION")
	language := os.Getenv("CARTESIA_LANGUAGE")
	connectTimeout := millis("CONNECT_TIMEOUT_MS")

	cfg := Config{
		Port:               os.Getenv("PORT"),
		LogLevel:           strings.ToLower(os.Getenv("LOG_LEVEL")),
		STTProvider:        strings.ToLower(os.Getenv("STT_PROVIDER")),
		ExtraCACertPath:    os.Getenv("EXTRA_CA_CERT_PATH"),
		JWTSecret:          os.Getenv("AUTH_JWT_SECRET"),
		SessionIdleTimeout: millis("SESSION_IDLE_TIMEOUT_MS"),
		TTS: tts.CartesiaConfig{
			APIKey:           apiKey,
			APIBaseURL:       os.Getenv("CARTESIA_TTS_URL"),
			VoiceID:          os.Getenv("CARTESIA_VOICE_ID"),
			ModelID:          os.Getenv("CARTESIA_TTS_MODEL"),
			SampleRate:       positiveInt("CARTESIA_TTS_SAMPLE_RATE"),
			Encoding:         os.Getenv("CARTESIA_TTS_ENCODING"),
			Language:         language,
			Version:          version,
			CloseGracePeriod: millis("TTS_CLOSE_GRACE_MS"),
			ConnectTimeout:   connectTimeout,
		},
		STT: stt.CartesiaConfig{
			APIKey:         apiKey,
			APIBaseURL:     os.Getenv("CARTESIA_STT_URL"),
			ModelID:        os.Getenv("CARTESIA_STT_MODEL"),
			Language:       language,
			Encoding:       os.Getenv("CARTESIA_STT_ENCODING"),
			SampleRate:     positiveInt("CARTESIA_STT_SAMPLE_RATE"),
			Version:        version,
			ConnectTimeout: connectTimeout,
		},
		Gemini: llm.GeminiConfig{
			APIKey:          os.Getenv("GEMINI_API_KEY"),
			Model:           os.Getenv("GEMINI_MODEL"),
			MaxOutputTokens: positiveInt("GEMINI_MAX_TOKENS"),
		},
	}

	if cfg.Port == "" {
		cfg.Port = defaultPort
	}
	if cfg.SessionIdleTimeout == 0 {
		cfg.SessionIdleTimeout = defaultSessionIdleTimeout
	}
	if cfg.STTProvider == "" {
		cfg.STTProvider = STTProviderCartesia
	}
	if cfg.ExtraCACertPath == "" {
		cfg.ExtraCACertPath = wsconn.DefaultExtraCAPath
	}

	if temperatureStr := os.Getenv("GEMINI_TEMPERATURE"); temperatureStr != "" {
		if temperature, err := strconv.ParseFloat(temperatureStr, 32); err == nil && temperature >= 0 && temperature <= 1 {
			cfg.Gemini.Temperature = float32(temperature)
		}
	}

	// Google takes BCP-47 tags; Cartesia takes bare codes. Only pass through
	// a full tag.
	googleLanguage := ""
	if strings.Contains(language, "-") {
		googleLanguage = language
	}
	cfg.Google = stt.GoogleConfig{
		Audio: repositories.AudioConfig{
			SampleRate: cfg.STT.SampleRate,
			Encoding:   cfg.STT.Encoding,
			Language:   googleLanguage,
		},
	}

	return cfg
}

// SetTLSConfig hands extra trust roots to both Cartesia clients
func (c *Config) SetTLSConfig(tlsConfig *tls.Config) {
	c.TTS.TLSConfig = tlsConfig
	c.STT.TLSConfig = tlsConfig
}

// NewLogger builds the process logger. "debug" selects the development
// logger; anything else the production one.
func NewLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func positiveInt(key string) int {
	value := os.Getenv(key)
	if value == "" {
		return 0
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return 0
	}
	return n
}

func millis(key string) time.Duration {
	return time.Duration(positiveInt(key)) * time.Millisecond
}
