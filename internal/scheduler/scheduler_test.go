package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/luojidr/easypush/internal/domain"
)

// fakeProcessor is a simple test double for pendingProcessor.
type fakeProcessor struct {
	outcomesToReturn []domain.DeliveryOutcome
	errToReturn      error

	calls int
}

func (f *fakeProcessor) ProcessPending(ctx context.Context) ([]domain.DeliveryOutcome, error) {
	f.calls++
	return f.outcomesToReturn, f.errToReturn
}

func TestScheduler_Sweep_MixedResults(t *testing.T) {
	ctx := context.Background()

	processor := &fakeProcessor{
		outcomesToReturn: []domain.DeliveryOutcome{
			{MsgID: 1, Recipients: 3, Success: true},
			{MsgID: 2, Recipients: 2, Success: false, Err: errors.New("vendor down")},
			{MsgID: 3, Recipients: 1, Success: true},
		},
	}
	s := &Scheduler{
		delivery: processor,
		interval: time.Minute,
	}

	// Set some alert config but keep alertWebhook empty so no HTTP calls
	s.alertThreshold = 3
	s.alertWebhook = ""

	s.sweep(ctx)

	status := s.GetStatus()
	if status.RecordsSent != 4 {
		t.Errorf("expected RecordsSent=4, got %d", status.RecordsSent)
	}
	if status.RecordsMissed != 2 {
		t.Errorf("expected RecordsMissed=2, got %d", status.RecordsMissed)
	}
	if status.RunsCount != 1 {
		t.Errorf("expected RunsCount=1, got %d", status.RunsCount)
	}
	if status.ConsecAllFails != 0 {
		t.Errorf("expected ConsecAllFails=0, got %d", status.ConsecAllFails)
	}
	if processor.calls != 1 {
		t.Fatalf("expected 1 call to ProcessPending, got %d", processor.calls)
	}
}

func TestScheduler_Sweep_AllFailIncrementsCounter(t *testing.T) {
	ctx := context.Background()

	processor := &fakeProcessor{
		outcomesToReturn: []domain.DeliveryOutcome{
			{MsgID: 1, Recipients: 2, Success: false, Err: errors.New("boom")},
			{MsgID: 2, Recipients: 1, Success: false, Err: errors.New("boom")},
		},
	}
	s := &Scheduler{
		delivery:       processor,
		interval:       time.Minute,
		alertThreshold: 5,  // high enough so sendAlert is not triggered
		alertWebhook:   "", // also prevents HTTP calls
	}

	s.sweep(ctx)
	s.sweep(ctx)

	status := s.GetStatus()
	if status.RecordsSent != 0 {
		t.Errorf("expected RecordsSent=0, got %d", status.RecordsSent)
	}
	if status.RecordsMissed != 6 {
		t.Errorf("expected RecordsMissed=6, got %d", status.RecordsMissed)
	}
	if status.ConsecAllFails != 2 {
		t.Errorf("expected ConsecAllFails=2, got %d", status.ConsecAllFails)
	}
}

func TestScheduler_Sweep_SuccessResetsFailCounter(t *testing.T) {
	ctx := context.Background()

	processor := &fakeProcessor{
		outcomesToReturn: []domain.DeliveryOutcome{
			{MsgID: 1, Recipients: 1, Success: false, Err: errors.New("boom")},
		},
	}
	s := &Scheduler{
		delivery:       processor,
		interval:       time.Minute,
		alertThreshold: 10,
	}

	s.sweep(ctx)

	processor.outcomesToReturn = []domain.DeliveryOutcome{
		{MsgID: 2, Recipients: 1, Success: true},
	}
	s.sweep(ctx)

	status := s.GetStatus()
	if status.ConsecAllFails != 0 {
		t.Errorf("expected ConsecAllFails=0 after a success, got %d", status.ConsecAllFails)
	}
}

func TestScheduler_Sweep_ProcessorErrorCountsRunOnly(t *testing.T) {
	ctx := context.Background()

	processor := &fakeProcessor{errToReturn: errors.New("db unreachable")}
	s := &Scheduler{
		delivery: processor,
		interval: time.Minute,
	}

	s.sweep(ctx)

	status := s.GetStatus()
	if status.RunsCount != 1 {
		t.Errorf("expected RunsCount=1, got %d", status.RunsCount)
	}
	if status.RecordsSent != 0 || status.RecordsMissed != 0 {
		t.Errorf("expected no record counters on processor error, got sent=%d missed=%d",
			status.RecordsSent, status.RecordsMissed)
	}
}

func TestScheduler_StartAndStopToggleRunning(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	processor := &fakeProcessor{}
	s := &Scheduler{
		delivery: processor,
		interval: 10 * time.Millisecond,
	}

	if s.IsRunning() {
		t.Fatalf("expected scheduler to be not running initially")
	}

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	if !s.IsRunning() {
		t.Fatalf("expected scheduler to be running after Start")
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}

	if s.IsRunning() {
		t.Fatalf("expected scheduler to be not running after Stop")
	}
}

func TestScheduler_StartWithParamsAppliesConfig(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	processor := &fakeProcessor{}
	s := NewScheduler(processor, time.Minute)

	if err := s.StartWithParams(ctx, 30, "", 4); err != nil {
		t.Fatalf("StartWithParams returned error: %v", err)
	}
	defer func() {
		if err := s.Stop(); err != nil {
			t.Errorf("Stop returned error: %v", err)
		}
	}()

	status := s.GetStatus()
	if status.Interval != 30*time.Second {
		t.Errorf("expected interval 30s, got %v", status.Interval)
	}
}
