package service

import (
	"context"
	"fmt"
	"time"

	"github.com/luojidr/easypush/environments"
	"github.com/luojidr/easypush/internal/backends"
	"github.com/luojidr/easypush/internal/dedup"
	"github.com/luojidr/easypush/internal/domain"
	"github.com/luojidr/easypush/internal/queue"
	"github.com/luojidr/easypush/pkg/logger"
)

type deliveryRepository interface {
	GetPushByUIDs(ctx context.Context, msgUIDs []string) ([]domain.PushRecord, error)
	ListPending(ctx context.Context, limit int) ([]domain.PushRecord, error)
	GetMessagesByIDs(ctx context.Context, ids []int64) (map[int64]*domain.MessageRecord, error)
	UpdateDeliveryResult(ctx context.Context, msgUIDs []string, success bool,
		taskID, requestID, errText string, receiveTime *time.Time) error
}

// DeliveryService executes queued and swept delivery work: it groups push
// records that share a message body, sends each group through one vendor
// call, and records the outcome. Records that are already resolved or
// recalled are skipped, which is what makes redelivery and the sweep loop
// safe to overlap.
type DeliveryService struct {
	repo     deliveryRepository
	registry backendResolver
	backends map[string]environments.BackendConfig
	config   environments.PushConfig
}

func NewDeliveryService(
	repo deliveryRepository,
	registry backendResolver,
	backendConfigs map[string]environments.BackendConfig,
	config environments.PushConfig,
) *DeliveryService {
	return &DeliveryService{
		repo:     repo,
		registry: registry,
		backends: backendConfigs,
		config:   config,
	}
}

// HandleTask is the queue consumer entry point. Vendor failures are recorded
// into the affected records and do not fail the task; only infrastructure
// errors (which left records untouched) bubble up for redelivery.
func (s *DeliveryService) HandleTask(ctx context.Context, task queue.DeliveryTask) error {
	records, err := s.repo.GetPushByUIDs(ctx, task.MsgUIDs)
	if err != nil {
		return fmt.Errorf("failed to load delivery task records: %w", err)
	}

	s.deliverRecords(ctx, task.Alias, records)

	return nil
}

// DeliverUIDs sends the given records synchronously and reports per-group
// outcomes. Used for synchronous submissions.
func (s *DeliveryService) DeliverUIDs(ctx context.Context, alias string, msgUIDs []string) []domain.DeliveryOutcome {
	records, err := s.repo.GetPushByUIDs(ctx, msgUIDs)
	if err != nil {
		return []domain.DeliveryOutcome{{MsgUIDs: msgUIDs, Err: err}}
	}

	return s.deliverRecords(ctx, alias, records)
}

// ProcessPending is the sweep pass behind the scheduler: it picks up records
// the queue never resolved (process crashes, dropped tasks) and retries them
// through whichever configured alias serves their platform.
func (s *DeliveryService) ProcessPending(ctx context.Context) ([]domain.DeliveryOutcome, error) {
	records, err := s.repo.ListPending(ctx, s.config.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending push records: %w", err)
	}

	if len(records) == 0 {
		logger.Debugf("No pending push records to process")
		return nil, nil
	}

	logger.Infof("Processing %d pending push records", len(records))

	byPlatform := make(map[domain.Platform][]domain.PushRecord)
	for _, rec := range records {
		byPlatform[rec.PlatformType] = append(byPlatform[rec.PlatformType], rec)
	}

	var outcomes []domain.DeliveryOutcome
	for platform, group := range byPlatform {
		alias, ok := s.aliasFor(platform)
		if !ok {
			logger.Warnf("No backend alias configured for platform %s, skipping %d records",
				platform, len(group))
			continue
		}
		outcomes = append(outcomes, s.deliverRecords(ctx, alias, group)...)
	}

	return outcomes, nil
}

func (s *DeliveryService) aliasFor(platform domain.Platform) (string, bool) {
	for alias, cfg := range s.backends {
		if domain.Platform(cfg.Platform) == platform {
			return alias, true
		}
	}
	return "", false
}

// deliverRecords groups unresolved records by message body and sends each
// group in one vendor call. A group failure is written into its own records
// and never stops the remaining groups.
func (s *DeliveryService) deliverRecords(
	ctx context.Context,
	alias string,
	records []domain.PushRecord,
) []domain.DeliveryOutcome {
	byMsg := make(map[int64][]domain.PushRecord)
	msgIDs := make([]int64, 0)
	for _, rec := range records {
		if rec.Resolved() || rec.IsRecall {
			continue
		}
		if _, ok := byMsg[rec.MsgID]; !ok {
			msgIDs = append(msgIDs, rec.MsgID)
		}
		byMsg[rec.MsgID] = append(byMsg[rec.MsgID], rec)
	}

	if len(byMsg) == 0 {
		return nil
	}

	cfg, ok := s.backends[alias]
	if !ok {
		return s.failAll(ctx, byMsg, fmt.Errorf("unknown backend alias %q", alias))
	}

	adapter, err := s.registry.Resolve(alias, cfg)
	if err != nil {
		return s.failAll(ctx, byMsg, err)
	}

	messages, err := s.repo.GetMessagesByIDs(ctx, msgIDs)
	if err != nil {
		return s.failAll(ctx, byMsg, err)
	}

	outcomes := make([]domain.DeliveryOutcome, 0, len(byMsg))
	for _, msgID := range msgIDs {
		group := byMsg[msgID]
		msg, ok := messages[msgID]
		if !ok {
			outcomes = append(outcomes, s.resolveGroup(ctx, msgID, group, nil,
				fmt.Errorf("message record %d not found", msgID)))
			continue
		}

		outcomes = append(outcomes, s.deliverGroup(ctx, adapter, msg, group))
	}

	return outcomes
}

func (s *DeliveryService) deliverGroup(
	ctx context.Context,
	adapter backends.Adapter,
	msg *domain.MessageRecord,
	group []domain.PushRecord,
) domain.DeliveryOutcome {
	body, err := dedup.DecodeBody(msg.MsgBodyJSON)
	if err != nil {
		return s.resolveGroup(ctx, msg.ID, group, nil, err)
	}

	var recipients backends.Recipients
	for _, rec := range group {
		if rec.ReceiverUserID != "" {
			recipients.UserIDs = append(recipients.UserIDs, rec.ReceiverUserID)
		} else if rec.ReceiverMobile != "" {
			recipients.Mobiles = append(recipients.Mobiles, rec.ReceiverMobile)
		}
	}

	result, err := adapter.Send(ctx, msg.MsgType, body, recipients)
	if err != nil {
		return s.resolveGroup(ctx, msg.ID, group, nil, err)
	}
	if !result.OK() {
		return s.resolveGroup(ctx, msg.ID, group, result,
			fmt.Errorf("vendor rejected send: %d %s", result.ErrCode, result.ErrMsg))
	}

	return s.resolveGroup(ctx, msg.ID, group, result, nil)
}

// resolveGroup writes one vendor outcome into every record of a group.
func (s *DeliveryService) resolveGroup(
	ctx context.Context,
	msgID int64,
	group []domain.PushRecord,
	result *domain.PushResult,
	sendErr error,
) domain.DeliveryOutcome {
	msgUIDs := make([]string, 0, len(group))
	for _, rec := range group {
		msgUIDs = append(msgUIDs, rec.MsgUID)
	}

	outcome := domain.DeliveryOutcome{
		MsgID:      msgID,
		MsgUIDs:    msgUIDs,
		Recipients: len(group),
	}

	if sendErr != nil {
		outcome.Err = sendErr

		taskID, requestID := "", ""
		if result != nil {
			taskID, requestID = result.TaskID, result.RequestID
		}

		logger.Errorf("Failed to deliver message %d to %d recipients: %v", msgID, len(group), sendErr)

		if err := s.repo.UpdateDeliveryResult(ctx, msgUIDs, false,
			taskID, requestID, sendErr.Error(), nil); err != nil {
			logger.Errorf("Failed to record delivery failure for message %d: %v", msgID, err)
		}

		return outcome
	}

	now := time.Now()
	if err := s.repo.UpdateDeliveryResult(ctx, msgUIDs, true,
		result.TaskID, result.RequestID, "", &now); err != nil {
		logger.Errorf("Failed to record delivery success for message %d: %v", msgID, err)
		outcome.Err = err
		return outcome
	}

	logger.Infof("Delivered message %d to %d recipients (task %s)", msgID, len(group), result.TaskID)

	outcome.Success = true

	return outcome
}

func (s *DeliveryService) failAll(
	ctx context.Context,
	byMsg map[int64][]domain.PushRecord,
	err error,
) []domain.DeliveryOutcome {
	outcomes := make([]domain.DeliveryOutcome, 0, len(byMsg))
	for msgID, group := range byMsg {
		outcomes = append(outcomes, s.resolveGroup(ctx, msgID, group, nil, err))
	}
	return outcomes
}
