package service

import (
	"context"
	"fmt"

	"github.com/luojidr/easypush/internal/domain"
	"github.com/luojidr/easypush/pkg/crypto"
	"github.com/luojidr/easypush/pkg/logger"
)

type credentialRepository interface {
	Upsert(ctx context.Context, cred *domain.AppCredential) (*domain.AppCredential, error)
	GetByID(ctx context.Context, id int64) (*domain.AppCredential, error)
	List(ctx context.Context, page, pageSize int) ([]domain.AppCredential, int64, error)
	SoftDelete(ctx context.Context, id int64) error
}

// AppService manages application credentials and mints their app tokens.
type AppService struct {
	repo   credentialRepository
	cipher *crypto.Cipher
}

func NewAppService(repo credentialRepository, cipher *crypto.Cipher) *AppService {
	return &AppService{repo: repo, cipher: cipher}
}

// UpsertCredential stores a credential and derives its app token. The token
// is deterministic over the credential tuple, so re-registering the same
// credential yields the same token.
func (s *AppService) UpsertCredential(ctx context.Context, cred *domain.AppCredential) (*domain.AppCredential, error) {
	if !cred.PlatformType.Valid() {
		return nil, fmt.Errorf("%w: unknown platform %q", domain.ErrValidation, cred.PlatformType)
	}
	if cred.AgentID <= 0 {
		return nil, fmt.Errorf("%w: agent_id is required", domain.ErrValidation)
	}
	if cred.AppKey == "" || cred.AppSecret == "" {
		return nil, fmt.Errorf("%w: app_key and app_secret are required", domain.ErrValidation)
	}

	token, err := s.MintToken(cred)
	if err != nil {
		return nil, err
	}
	cred.AppToken = token

	saved, err := s.repo.Upsert(ctx, cred)
	if err != nil {
		return nil, err
	}

	logger.Infof("Upserted credential %d (agent %d, platform %s)", saved.ID, saved.AgentID, saved.PlatformType)

	return saved, nil
}

// MintToken encrypts the credential tuple into the external handle.
func (s *AppService) MintToken(cred *domain.AppCredential) (string, error) {
	plain := fmt.Sprintf("%d:%s:%s:%s:%s",
		cred.AgentID, cred.CorpID, cred.AppKey, cred.AppSecret, cred.PlatformType)

	token, err := s.cipher.Encrypt(plain)
	if err != nil {
		return "", fmt.Errorf("failed to mint app token: %w", err)
	}

	return token, nil
}

func (s *AppService) GetCredential(ctx context.Context, id int64) (*domain.AppCredential, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *AppService) ListCredentials(ctx context.Context, page, pageSize int) ([]domain.AppCredential, int64, error) {
	return s.repo.List(ctx, page, pageSize)
}

func (s *AppService) DeleteCredential(ctx context.Context, id int64) error {
	return s.repo.SoftDelete(ctx, id)
}
