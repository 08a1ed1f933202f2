package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/voicelink/adapters/llm"
	"github.com/satriahrh/arunika/voicelink/adapters/stt"
	"github.com/satriahrh/arunika/voicelink/adapters/tts"
	"github.com/satriahrh/arunika/voicelink/domain/repositories"
	"github.com/satriahrh/arunika/voicelink/internal/api"
	"github.com/satriahrh/arunika/voicelink/internal/auth"
	"github.com/satriahrh/arunika/voicelink/internal/config"
	"github.com/satriahrh/arunika/voicelink/internal/websocket"
	"github.com/satriahrh/arunika/voicelink/internal/wsconn"
	"github.com/satriahrh/arunika/voicelink/usecase"
)

func main() {
	cfg := config.Load()

	// Initialize logger
	logger, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()

	cfg.SetTLSConfig(wsconn.LoadTLSConfig(cfg.ExtraCACertPath, logger))

	// Initialize adapters
	newRecognizer, err := recognizerFactory(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to configure speech recognition", zap.Error(err))
	}
	if err := tts.ValidateCartesiaConfig(cfg.TTS); err != nil {
		logger.Fatal("Failed to configure speech synthesis", zap.Error(err))
	}
	newSynthesizer := func() (repositories.StreamingTextToSpeech, error) {
		return tts.NewCartesiaTTS(cfg.TTS, logger)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var model repositories.LargeLanguageModel
	if cfg.Gemini.APIKey == "" {
		logger.Warn("GEMINI_API_KEY not set, using the echo agent")
		model = llm.NewMockGeminiClient()
	} else {
		model, err = llm.NewGeminiLLM(ctx, cfg.Gemini, logger)
		if err != nil {
			logger.Fatal("Failed to create Gemini client", zap.Error(err))
		}
	}

	// Initialize usecase services
	chatService := usecase.NewChatService(model, logger)
	pipeline := usecase.NewVoicePipeline(newRecognizer, newSynthesizer, chatService, logger)

	// Initialize WebSocket hub with the voice pipeline
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	hub := websocket.NewHub(pipeline, logger)
	hubDone := make(chan struct{})
	go func() {
		hub.Run(hubCtx)
		close(hubDone)
	}()

	cleanup := websocket.NewSessionCleanupService(hub, cfg.SessionIdleTimeout, cfg.SessionIdleTimeout/4, logger)
	cleanup.Start()
	defer cleanup.Stop()

	var issuer *auth.TokenIssuer
	if cfg.JWTSecret != "" {
		issuer, err = auth.NewTokenIssuer(cfg.JWTSecret, 0)
		if err != nil {
			logger.Fatal("Failed to configure auth", zap.Error(err))
		}
	} else {
		logger.Warn("AUTH_JWT_SECRET not set, /ws accepts unauthenticated connections")
	}

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Initialize API routes
	api.InitRoutes(e, hub, issuer, logger)

	// Graceful shutdown
	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Voice server started",
		zap.String("port", cfg.Port),
		zap.String("sttProvider", cfg.STTProvider))

	// Wait for interrupt signal to gracefully shutdown the server
	<-ctx.Done()

	logger.Info("Server is shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	// Upgraded sockets outlive the HTTP server; end their sessions too.
	stopHub()
	<-hubDone

	logger.Info("Server exited")
}

// recognizerFactory picks the speech recognition provider
func recognizerFactory(cfg config.Config, logger *zap.Logger) (usecase.RecognizerFactory, error) {
	switch cfg.STTProvider {
	case config.STTProviderGoogle:
		return func() (repositories.StreamingSpeechToText, error) {
			return stt.NewGoogleSpeechToText(cfg.Google, logger)
		}, nil
	default:
		if err := stt.ValidateCartesiaConfig(cfg.STT); err != nil {
			return nil, err
		}
		return func() (repositories.StreamingSpeechToText, error) {
			return stt.NewCartesiaSTT(cfg.STT, logger)
		}, nil
	}
}
