package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/luojidr/easypush/internal/domain"
	"github.com/luojidr/easypush/pkg/crypto"
)

// Test fakes – only for this file.

type fakeCredentialRepo struct {
	creds   map[int64]*domain.AppCredential
	nextID  int64
	deleted []int64
}

func newFakeCredentialRepo() *fakeCredentialRepo {
	return &fakeCredentialRepo{creds: make(map[int64]*domain.AppCredential), nextID: 1}
}

func (r *fakeCredentialRepo) Upsert(ctx context.Context, cred *domain.AppCredential) (*domain.AppCredential, error) {
	for _, existing := range r.creds {
		if existing.AgentID == cred.AgentID && existing.PlatformType == cred.PlatformType {
			cred.ID = existing.ID
			r.creds[existing.ID] = cred
			return cred, nil
		}
	}
	cred.ID = r.nextID
	r.nextID++
	r.creds[cred.ID] = cred
	return cred, nil
}

func (r *fakeCredentialRepo) GetByID(ctx context.Context, id int64) (*domain.AppCredential, error) {
	return r.creds[id], nil
}

func (r *fakeCredentialRepo) List(ctx context.Context, page, pageSize int) ([]domain.AppCredential, int64, error) {
	out := make([]domain.AppCredential, 0, len(r.creds))
	for _, c := range r.creds {
		out = append(out, *c)
	}
	return out, int64(len(out)), nil
}

func (r *fakeCredentialRepo) SoftDelete(ctx context.Context, id int64) error {
	r.deleted = append(r.deleted, id)
	delete(r.creds, id)
	return nil
}

func newAppFixture(t *testing.T) (*AppService, *fakeCredentialRepo, *crypto.Cipher) {
	t.Helper()

	cipher, err := crypto.NewCipher("apps-test-secret")
	if err != nil {
		t.Fatalf("NewCipher returned error: %v", err)
	}

	repo := newFakeCredentialRepo()
	return NewAppService(repo, cipher), repo, cipher
}

func TestUpsertCredential_MintsDecryptableToken(t *testing.T) {
	ctx := context.Background()
	svc, _, cipher := newAppFixture(t)

	saved, err := svc.UpsertCredential(ctx, &domain.AppCredential{
		CorpID:       "corp-1",
		AppName:      "ops bot",
		AgentID:      1000123,
		AppKey:       "key-1",
		AppSecret:    "secret-1",
		PlatformType: domain.PlatformDingTalk,
	})
	if err != nil {
		t.Fatalf("UpsertCredential returned error: %v", err)
	}

	if saved.AppToken == "" {
		t.Fatalf("expected a minted app token")
	}

	plain, err := cipher.Decrypt(saved.AppToken)
	if err != nil {
		t.Fatalf("minted token did not decrypt: %v", err)
	}

	parts := strings.Split(plain, ":")
	if len(parts) != 5 {
		t.Fatalf("expected 5 token parts, got %d (%q)", len(parts), plain)
	}
	if parts[0] != "1000123" || parts[1] != "corp-1" || parts[4] != string(domain.PlatformDingTalk) {
		t.Errorf("token parts do not match credential: %v", parts)
	}
}

func TestUpsertCredential_TokenIsStableAcrossReRegistration(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newAppFixture(t)

	cred := domain.AppCredential{
		CorpID:       "corp-1",
		AgentID:      42,
		AppKey:       "key",
		AppSecret:    "secret",
		PlatformType: domain.PlatformWeCom,
	}

	first, err := svc.UpsertCredential(ctx, &cred)
	if err != nil {
		t.Fatalf("first upsert returned error: %v", err)
	}

	again := cred
	second, err := svc.UpsertCredential(ctx, &again)
	if err != nil {
		t.Fatalf("second upsert returned error: %v", err)
	}

	if first.AppToken != second.AppToken {
		t.Errorf("expected identical tokens for the same credential tuple")
	}
	if first.ID != second.ID {
		t.Errorf("expected upsert to reuse id %d, got %d", first.ID, second.ID)
	}
}

func TestUpsertCredential_RejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newAppFixture(t)

	tests := []struct {
		name string
		cred domain.AppCredential
	}{
		{"unknown platform", domain.AppCredential{AgentID: 1, AppKey: "k", AppSecret: "s", PlatformType: "pager"}},
		{"missing agent id", domain.AppCredential{AppKey: "k", AppSecret: "s", PlatformType: domain.PlatformDingTalk}},
		{"missing app key", domain.AppCredential{AgentID: 1, AppSecret: "s", PlatformType: domain.PlatformDingTalk}},
		{"missing app secret", domain.AppCredential{AgentID: 1, AppKey: "k", PlatformType: domain.PlatformDingTalk}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.UpsertCredential(ctx, &tt.cred); !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}

	if len(repo.creds) != 0 {
		t.Errorf("expected no credentials stored, got %d", len(repo.creds))
	}
}

func TestDeleteCredential_DelegatesToRepo(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newAppFixture(t)

	saved, err := svc.UpsertCredential(ctx, &domain.AppCredential{
		AgentID:      7,
		AppKey:       "k",
		AppSecret:    "s",
		PlatformType: domain.PlatformFeishu,
	})
	if err != nil {
		t.Fatalf("UpsertCredential returned error: %v", err)
	}

	if err := svc.DeleteCredential(ctx, saved.ID); err != nil {
		t.Fatalf("DeleteCredential returned error: %v", err)
	}
	if len(repo.deleted) != 1 || repo.deleted[0] != saved.ID {
		t.Errorf("expected soft delete of id %d, got %v", saved.ID, repo.deleted)
	}
}
