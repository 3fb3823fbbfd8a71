package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/luojidr/easypush/environments"
	"github.com/luojidr/easypush/internal/backends"
	"github.com/luojidr/easypush/internal/dedup"
	"github.com/luojidr/easypush/internal/domain"
	"github.com/luojidr/easypush/internal/queue"
	"github.com/luojidr/easypush/pkg/crypto"
	"github.com/luojidr/easypush/pkg/logger"
)

// Small internal interfaces so we can test without touching real DB/Valkey/vendors.
type appRepository interface {
	GetByAgentID(ctx context.Context, agentID int64) (*domain.AppCredential, error)
}

type pushRepository interface {
	CreateMessage(ctx context.Context, msg *domain.MessageRecord) (int64, error)
	CreatePushRecords(ctx context.Context, records []*domain.PushRecord) error
	GetPushByUID(ctx context.Context, msgUID string) (*domain.PushRecord, error)
	MarkRecalled(ctx context.Context, msgUID string, recallTime time.Time) error

	ListPush(ctx context.Context, state string, page, pageSize int) ([]domain.PushRecord, int64, error)
	GetStats(ctx context.Context) (pending, sent, failed int64, err error)
	ReplayFailed(ctx context.Context, msgUID string) (int64, error)
}

type fingerprintCache interface {
	Lookup(ctx context.Context, key string) (int64, bool, error)
	BulkPut(ctx context.Context, mapping map[string]int64) error
}

type backendResolver interface {
	Resolve(alias string, cfg environments.BackendConfig) (backends.Adapter, error)
}

type taskQueue interface {
	Publish(ctx context.Context, task queue.DeliveryTask) error
}

type uidGenerator interface {
	NextString() (string, error)
}

// SubmitRequest is one push submission after web-layer binding.
type SubmitRequest struct {
	AppToken string
	Alias    string
	MsgType  string
	Body     map[string]any
	UserIDs  []string
	Mobiles  []string
	Remark   string
	Async    *bool
}

// DispatchService owns the submission path: token resolution, validation,
// dedup, persistence and hand-off to the delivery queue.
type DispatchService struct {
	apps     appRepository
	pushes   pushRepository
	cache    fingerprintCache
	registry backendResolver
	queue    taskQueue
	delivery *DeliveryService
	cipher   *crypto.Cipher
	uids     uidGenerator
	backends map[string]environments.BackendConfig
	config   environments.PushConfig
}

func NewDispatchService(
	apps appRepository,
	pushes pushRepository,
	cache fingerprintCache,
	registry backendResolver,
	taskQueue taskQueue,
	delivery *DeliveryService,
	cipher *crypto.Cipher,
	uids uidGenerator,
	backendConfigs map[string]environments.BackendConfig,
	config environments.PushConfig,
) *DispatchService {
	return &DispatchService{
		apps:     apps,
		pushes:   pushes,
		cache:    cache,
		registry: registry,
		queue:    taskQueue,
		delivery: delivery,
		cipher:   cipher,
		uids:     uids,
		backends: backendConfigs,
		config:   config,
	}
}

// Submit runs one submission end to end. Validation failures abort before any
// write; after the message and push records are persisted the fingerprints
// are published and the delivery task is queued (or, for synchronous
// submissions, sent inline).
func (s *DispatchService) Submit(ctx context.Context, req *SubmitRequest) (*domain.SubmitResult, error) {
	cred, err := s.resolveCredential(ctx, req.AppToken)
	if err != nil {
		return nil, err
	}

	alias := req.Alias
	if alias == "" {
		alias = "default"
	}

	cfg, ok := s.backends[alias]
	if !ok {
		return nil, fmt.Errorf("%w: unknown backend alias %q", domain.ErrValidation, alias)
	}
	if domain.Platform(cfg.Platform) != cred.PlatformType {
		return nil, fmt.Errorf("%w: alias %q is %s, credential is %s",
			domain.ErrBackendMismatch, alias, cfg.Platform, cred.PlatformType)
	}

	if err := s.validate(req); err != nil {
		return nil, err
	}

	canonical, err := dedup.Canonicalize(req.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	fingerprint := dedup.BodyFingerprint(canonical)

	msgID, err := s.resolveMessage(ctx, cred, req, canonical, fingerprint)
	if err != nil {
		return nil, err
	}

	records, duplicates, err := s.buildPushRecords(ctx, cred, req, msgID, fingerprint)
	if err != nil {
		return nil, err
	}

	result := &domain.SubmitResult{MessageID: msgID, Duplicates: duplicates}

	if len(records) == 0 {
		logger.Infof("Submission for app %d was fully deduplicated (%d recipients)", cred.ID, duplicates)
		// The body mapping must still be published: msgID may be a fresh row
		// whose fingerprint the cache has never seen, and without it every
		// resubmit of this body creates another redundant message row.
		mapping := map[string]int64{dedup.MessageKey(cred.ID, fingerprint): msgID}
		if err := s.cache.BulkPut(ctx, mapping); err != nil {
			logger.Errorf("Failed to publish fingerprint for message %d: %v", msgID, err)
		}
		return result, nil
	}

	if err := s.pushes.CreatePushRecords(ctx, records); err != nil {
		return nil, err
	}

	mapping := make(map[string]int64, len(records)+1)
	mapping[dedup.MessageKey(cred.ID, fingerprint)] = msgID
	for _, rec := range records {
		mapping[dedup.RecipientKey(cred.ID, fingerprint, rec.ReceiverUserID, rec.ReceiverMobile)] = rec.ID
		result.PushRecordIDs = append(result.PushRecordIDs, rec.ID)
		result.MsgUIDs = append(result.MsgUIDs, rec.MsgUID)
	}

	if err := s.cache.BulkPut(ctx, mapping); err != nil {
		// Records are already persisted; a missing cache entry only risks a
		// redundant row on resubmit, so the submission still succeeds.
		logger.Errorf("Failed to publish fingerprints for message %d: %v", msgID, err)
	}

	async := s.config.AsyncDefault
	if req.Async != nil {
		async = *req.Async
	}

	task := queue.DeliveryTask{Alias: alias, MsgUIDs: result.MsgUIDs}
	if async {
		if err := s.queue.Publish(ctx, task); err != nil {
			logger.Errorf("Failed to queue delivery for message %d, falling back to sweep: %v", msgID, err)
		}
		return result, nil
	}

	outcomes := s.delivery.DeliverUIDs(ctx, alias, result.MsgUIDs)
	for _, outcome := range outcomes {
		if !outcome.Success {
			return result, fmt.Errorf("%w: %v", domain.ErrBackend, outcome.Err)
		}
	}

	return result, nil
}

// resolveCredential decrypts an app token and checks it against the stored
// credential. Every failure mode collapses to ErrInvalidToken so the caller
// learns nothing about which part was wrong.
func (s *DispatchService) resolveCredential(ctx context.Context, appToken string) (*domain.AppCredential, error) {
	if appToken == "" {
		return nil, domain.ErrInvalidToken
	}

	plain, err := s.cipher.Decrypt(appToken)
	if err != nil {
		return nil, domain.ErrInvalidToken
	}

	parts := strings.Split(plain, ":")
	if len(parts) != 5 {
		return nil, domain.ErrInvalidToken
	}

	agentID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil, domain.ErrInvalidToken
	}

	cred, err := s.apps.GetByAgentID(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, domain.ErrInvalidToken
	}

	if cred.CorpID != parts[1] || cred.AppKey != parts[2] ||
		cred.AppSecret != parts[3] || string(cred.PlatformType) != parts[4] {
		return nil, domain.ErrInvalidToken
	}

	if cred.ExpireTime > 0 && cred.ExpireTime < time.Now().Unix() {
		return nil, domain.ErrInvalidToken
	}

	return cred, nil
}

func (s *DispatchService) validate(req *SubmitRequest) error {
	if req.MsgType == "" {
		return fmt.Errorf("%w: msg_type is required", domain.ErrValidation)
	}
	if len(req.Body) == 0 {
		return fmt.Errorf("%w: msg_body is required", domain.ErrValidation)
	}

	total := len(req.UserIDs) + len(req.Mobiles)
	if total == 0 {
		return fmt.Errorf("%w: at least one recipient is required", domain.ErrValidation)
	}
	if total > s.config.MaxRecipients {
		return fmt.Errorf("%w: %d recipients exceeds the limit of %d",
			domain.ErrValidation, total, s.config.MaxRecipients)
	}

	for _, userID := range req.UserIDs {
		if strings.TrimSpace(userID) == "" {
			return fmt.Errorf("%w: empty userid in recipient list", domain.ErrValidation)
		}
	}
	for _, mobile := range req.Mobiles {
		if strings.TrimSpace(mobile) == "" {
			return fmt.Errorf("%w: empty mobile in recipient list", domain.ErrValidation)
		}
	}

	return nil
}

// resolveMessage returns the existing message id for a body the cache has
// seen, or persists a new message record. A concurrent identical submission
// can slip past the cache and create a second row; that costs storage, never
// a duplicate send, and availability wins that trade.
func (s *DispatchService) resolveMessage(
	ctx context.Context,
	cred *domain.AppCredential,
	req *SubmitRequest,
	canonical, fingerprint string,
) (int64, error) {
	key := dedup.MessageKey(cred.ID, fingerprint)

	if msgID, found, err := s.cache.Lookup(ctx, key); err != nil {
		logger.Warnf("Fingerprint lookup failed for %q, treating as miss: %v", key, err)
	} else if found {
		logger.Debugf("Message body for app %d already known as %d", cred.ID, msgID)
		return msgID, nil
	}

	msgID, err := s.pushes.CreateMessage(ctx, &domain.MessageRecord{
		AppID:        cred.ID,
		MsgType:      req.MsgType,
		MsgBodyJSON:  canonical,
		PlatformType: cred.PlatformType,
		Remark:       req.Remark,
	})
	if err != nil {
		return 0, err
	}

	return msgID, nil
}

// buildPushRecords creates one unsaved record per recipient that the cache
// has not seen for this body, skipping known duplicates.
func (s *DispatchService) buildPushRecords(
	ctx context.Context,
	cred *domain.AppCredential,
	req *SubmitRequest,
	msgID int64,
	fingerprint string,
) ([]*domain.PushRecord, int, error) {
	type recipient struct {
		userID string
		mobile string
	}

	recipients := make([]recipient, 0, len(req.UserIDs)+len(req.Mobiles))
	seen := make(map[string]bool)

	for _, userID := range req.UserIDs {
		if !seen["u:"+userID] {
			seen["u:"+userID] = true
			recipients = append(recipients, recipient{userID: userID})
		}
	}
	for _, mobile := range req.Mobiles {
		if !seen["m:"+mobile] {
			seen["m:"+mobile] = true
			recipients = append(recipients, recipient{mobile: mobile})
		}
	}

	now := time.Now()
	records := make([]*domain.PushRecord, 0, len(recipients))
	duplicates := 0

	for _, rcpt := range recipients {
		key := dedup.RecipientKey(cred.ID, fingerprint, rcpt.userID, rcpt.mobile)

		if _, found, err := s.cache.Lookup(ctx, key); err != nil {
			logger.Warnf("Fingerprint lookup failed for %q, treating as miss: %v", key, err)
		} else if found {
			duplicates++
			continue
		}

		msgUID, err := s.uids.NextString()
		if err != nil {
			return nil, 0, fmt.Errorf("failed to generate msg_uid: %w", err)
		}

		records = append(records, &domain.PushRecord{
			MsgID:          msgID,
			Sender:         s.config.Sender,
			SendTime:       now,
			ReceiverUserID: rcpt.userID,
			ReceiverMobile: rcpt.mobile,
			MsgUID:         msgUID,
			MsgType:        req.MsgType,
			PlatformType:   cred.PlatformType,
		})
	}

	return records, duplicates, nil
}

// Recall asks the vendor to withdraw one delivered push and tombstones the
// record on success.
func (s *DispatchService) Recall(ctx context.Context, alias, msgUID string) (*domain.PushResult, error) {
	rec, err := s.pushes.GetPushByUID(ctx, msgUID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: no push record with msg_uid %s", domain.ErrValidation, msgUID)
	}
	if !rec.IsSuccess {
		return nil, fmt.Errorf("%w: push %s was never delivered", domain.ErrValidation, msgUID)
	}
	if rec.IsRecall {
		return nil, fmt.Errorf("%w: push %s is already recalled", domain.ErrValidation, msgUID)
	}
	if rec.TaskID == "" {
		return nil, fmt.Errorf("%w: push %s has no vendor task id", domain.ErrValidation, msgUID)
	}

	if alias == "" {
		alias = "default"
	}
	cfg, ok := s.backends[alias]
	if !ok {
		return nil, fmt.Errorf("%w: unknown backend alias %q", domain.ErrValidation, alias)
	}
	if domain.Platform(cfg.Platform) != rec.PlatformType {
		return nil, fmt.Errorf("%w: alias %q is %s, push record is %s",
			domain.ErrBackendMismatch, alias, cfg.Platform, rec.PlatformType)
	}

	adapter, err := s.registry.Resolve(alias, cfg)
	if err != nil {
		return nil, err
	}

	result, err := adapter.Recall(ctx, rec.TaskID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrBackend, err)
	}
	if !result.OK() {
		return result, nil
	}

	if err := s.pushes.MarkRecalled(ctx, msgUID, time.Now()); err != nil {
		return result, err
	}

	logger.Infof("Recalled push %s (task %s)", msgUID, rec.TaskID)

	return result, nil
}

func (s *DispatchService) ListPush(ctx context.Context, state string, page, pageSize int) ([]domain.PushRecord, int64, error) {
	return s.pushes.ListPush(ctx, state, page, pageSize)
}

func (s *DispatchService) GetStats(ctx context.Context) (pending, sent, failed int64, err error) {
	return s.pushes.GetStats(ctx)
}

func (s *DispatchService) ReplayFailed(ctx context.Context, msgUID string) (int64, error) {
	return s.pushes.ReplayFailed(ctx, msgUID)
}
