package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/luojidr/easypush/internal/domain"
	"github.com/luojidr/easypush/pkg/logger"
)

// pendingProcessor is a minimal internal interface for the scheduler.
// It matches the ProcessPending method of DeliveryService and lets us
// unit test the scheduler with a small fake implementation.
type pendingProcessor interface {
	ProcessPending(ctx context.Context) ([]domain.DeliveryOutcome, error)
}

// Scheduler drives the pending-record sweep: push records the delivery queue
// never resolved are retried on a fixed interval.
type Scheduler struct {
	delivery        pendingProcessor
	interval        time.Duration
	alertWebhook    string
	alertThreshold  int // Consecutive all-fail sweeps before alert
	lastAlertSentAt time.Time

	// Internal state
	running  bool
	stopChan chan struct{}
	doneChan chan struct{}
	mu       sync.RWMutex

	// Statistics
	lastRunAt      time.Time
	recordsSent    int64
	recordsMissed  int64
	runsCount      int64
	consecAllFails int
}

func NewScheduler(delivery pendingProcessor, interval time.Duration) *Scheduler {
	return &Scheduler{
		delivery: delivery,
		interval: interval,
		running:  false,
	}
}

func (s *Scheduler) StartWithParams(
	ctx context.Context,
	intervalSeconds int,
	alertWebhook string,
	alertThreshold int,
) error {
	if intervalSeconds <= 0 {
		intervalSeconds = 10
	}

	s.mu.Lock()
	s.interval = time.Duration(intervalSeconds) * time.Second
	s.alertWebhook = alertWebhook
	s.alertThreshold = alertThreshold
	s.consecAllFails = 0
	s.mu.Unlock()

	return s.Start(ctx)
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()

	if s.running {
		s.mu.Unlock()
		logger.Warnf("Scheduler is already running")
		return nil
	}

	s.running = true
	s.stopChan = make(chan struct{})
	s.doneChan = make(chan struct{})
	s.mu.Unlock()

	logger.Infof("Starting delivery sweep with interval: %v", s.interval)

	go s.run(ctx)

	return nil
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneChan)

	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)

		case <-s.stopChan:
			logger.Warnf("Delivery sweep received stop signal")
			return

		case <-ctx.Done():
			logger.Warnf("Delivery sweep context cancelled")
			return
		}
	}
}

func (s *Scheduler) sweep(ctx context.Context) {
	s.mu.Lock()
	s.lastRunAt = time.Now()
	s.runsCount++
	runNumber := s.runsCount
	alertWebhook := s.alertWebhook
	alertThreshold := s.alertThreshold
	s.mu.Unlock()

	outcomes, err := s.delivery.ProcessPending(ctx)
	if err != nil {
		logger.Errorf("[Sweep #%d] Error processing pending records: %v", runNumber, err)
		return
	}

	if len(outcomes) == 0 {
		logger.Debugf("[Sweep #%d] Nothing pending", runNumber)
		return
	}

	sent, missed := 0, 0
	allFailed := true
	for _, o := range outcomes {
		if o.Success {
			sent += o.Recipients
			allFailed = false
		} else {
			missed += o.Recipients
		}
	}

	s.mu.Lock()
	s.recordsSent += int64(sent)
	s.recordsMissed += int64(missed)

	if allFailed {
		s.consecAllFails++
		logger.Warnf("[Sweep #%d] All %d delivery groups failed (consecutive count: %d/%d)",
			runNumber, len(outcomes), s.consecAllFails, alertThreshold)

		if s.consecAllFails >= alertThreshold && alertThreshold > 0 && alertWebhook != "" {
			go s.sendAlert(alertWebhook, runNumber, s.consecAllFails, len(outcomes))
		}
	} else {
		s.consecAllFails = 0
	}
	s.mu.Unlock()

	logger.Infof("[Sweep #%d] Processed %d delivery groups, %d records sent, %d records failed",
		runNumber, len(outcomes), sent, missed)
}

func (s *Scheduler) Stop() error {
	s.mu.Lock()

	if !s.running {
		s.mu.Unlock()
		logger.Warnf("Scheduler is not running")
		return nil
	}

	s.running = false
	stopChan := s.stopChan
	doneChan := s.doneChan
	s.mu.Unlock()

	close(stopChan)
	<-doneChan

	logger.Infof("Delivery sweep stopped")
	return nil
}

func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Scheduler) GetStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := Status{
		Running:         s.running,
		LastRunAt:       s.lastRunAt,
		RecordsSent:     s.recordsSent,
		RecordsMissed:   s.recordsMissed,
		RunsCount:       s.runsCount,
		Interval:        s.interval,
		ConsecAllFails:  s.consecAllFails,
		LastAlertSentAt: s.lastAlertSentAt,
	}

	if s.running && !s.lastRunAt.IsZero() {
		status.NextRunAt = s.lastRunAt.Add(s.interval)
	}

	return status
}

func (s *Scheduler) sendAlert(webhookURL string, runNumber int64, consecutiveFailures, groupsInSweep int) {
	alertPayload := map[string]any{
		"alert":               "consecutive_all_fail",
		"runNumber":           runNumber,
		"consecutiveFailures": consecutiveFailures,
		"groupsInSweep":       groupsInSweep,
		"timestamp":           time.Now().Format(time.RFC3339),
		"message": fmt.Sprintf(
			"All %d delivery groups failed for %d consecutive sweeps",
			groupsInSweep,
			consecutiveFailures,
		),
	}

	jsonData, err := json.Marshal(alertPayload)
	if err != nil {
		logger.Errorf("Failed to marshal alert payload: %v", err)
		return
	}

	resp, err := http.Post(webhookURL, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		logger.Errorf("Failed to send alert to webhook: %v", err)
		return
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Warnf("Failed to close alert webhook response body: %v", err)
		}
	}()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent {
		s.mu.Lock()
		s.lastAlertSentAt = time.Now()
		s.mu.Unlock()
		logger.Infof("Alert sent to %s (consecutive failures: %d)", webhookURL, consecutiveFailures)
	} else {
		logger.Warnf("Alert webhook returned status %d", resp.StatusCode)
	}
}

type Status struct {
	Running         bool          `json:"running"`
	LastRunAt       time.Time     `json:"lastRunAt,omitempty"`
	NextRunAt       time.Time     `json:"nextRunAt,omitempty"`
	RecordsSent     int64         `json:"recordsSent"`
	RecordsMissed   int64         `json:"recordsMissed"`
	RunsCount       int64         `json:"runsCount"`
	Interval        time.Duration `json:"interval"`
	ConsecAllFails  int           `json:"consecAllFails"`
	LastAlertSentAt time.Time     `json:"lastAlertSentAt,omitempty"`
}
