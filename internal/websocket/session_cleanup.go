package websocket

import (
	"time"

	"go.uber.org/zap"
)

// SessionCleanupService ends voice sessions that stopped sending audio
type SessionCleanupService struct {
	hub         *Hub
	idleTimeout time.Duration
	interval    time.Duration
	logger      *zap.Logger
	stopChan    chan struct{}
}

// NewSessionCleanupService creates a cleanup service that checks every
// interval for sessions idle longer than idleTimeout
func NewSessionCleanupService(hub *Hub, idleTimeout, interval time.Duration, logger *zap.Logger) *SessionCleanupService {
	return &SessionCleanupService{
		hub:         hub,
		idleTimeout: idleTimeout,
		interval:    interval,
		logger:      logger,
		stopChan:    make(chan struct{}),
	}
}

// Start begins the background cleanup process
func (s *SessionCleanupService) Start() {
	go s.cleanupLoop()
	s.logger.Info("Session cleanup service started",
		zap.Duration("idleTimeout", s.idleTimeout),
		zap.Duration("interval", s.interval))
}

// Stop gracefully stops the cleanup service
func (s *SessionCleanupService) Stop() {
	close(s.stopChan)
	s.logger.Info("Session cleanup service stopped")
}

func (s *SessionCleanupService) cleanupLoop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.runCleanup()
		}
	}
}

// runCleanup cancels idle sessions and reports how many it ended
func (s *SessionCleanupService) runCleanup() int {
	idle := s.hub.idleClients(time.Now().Add(-s.idleTimeout))
	for _, client := range idle {
		client.logger.Info("Ending idle voice session",
			zap.Time("lastActivity", client.lastActivity()))
		client.cancel()
	}
	if len(idle) > 0 {
		s.logger.Info("Session cleanup completed", zap.Int("expired", len(idle)))
	}
	return len(idle)
}
