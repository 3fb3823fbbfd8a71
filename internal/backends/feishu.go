package backends

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/luojidr/easypush/environments"
	"github.com/luojidr/easypush/internal/domain"
)

const feishuBaseURL = "https://open.feishu.cn/open-apis"

var feishuMediaLimits = map[string]int64{
	"image": 10 << 20,
	"file":  30 << 20,
}

// feishuAdapter targets the Feishu open platform batch message API using
// internal tenant access tokens.
type feishuAdapter struct {
	cfg    environments.BackendConfig
	http   *resty.Client
	tokens *tokenSource
	base   string
}

func NewFeishuAdapter(cfg environments.BackendConfig, deps Deps) (Adapter, error) {
	base := cfg.BaseURL
	if base == "" {
		base = feishuBaseURL
	}

	a := &feishuAdapter{
		cfg:  cfg,
		http: newHTTPClient(cfg),
		base: base,
	}
	a.tokens = newTokenSource(cfg.CorpID, cfg.AgentID, cfg.AppKey, cfg.AppSecret, deps, a.fetchToken)

	return a, nil
}

func (a *feishuAdapter) Platform() domain.Platform { return domain.PlatformFeishu }

func (a *feishuAdapter) MediaMaxSize(mediaType string) int64 {
	return feishuMediaLimits[mediaType]
}

func (a *feishuAdapter) GetAccessToken(ctx context.Context) (string, error) {
	return a.tokens.Token(ctx)
}

func (a *feishuAdapter) fetchToken(ctx context.Context) (string, time.Duration, error) {
	payload := map[string]any{"app_id": a.cfg.AppKey, "app_secret": a.cfg.AppSecret}

	raw, err := doJSON(ctx, a.http, http.MethodPost,
		a.base+"/auth/v3/tenant_access_token/internal", nil, nil, payload)
	if err != nil {
		return "", 0, err
	}

	if code := intField(raw, "code"); code != 0 {
		return "", 0, fmt.Errorf("feishu token fetch failed: %d %s", code, strField(raw, "msg"))
	}

	token := strField(raw, "tenant_access_token")
	if token == "" {
		return "", 0, fmt.Errorf("feishu token fetch returned empty tenant_access_token")
	}

	expiresIn := time.Duration(intField(raw, "expire")) * time.Second

	return token, expiresIn, nil
}

func (a *feishuAdapter) authHeader(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func (a *feishuAdapter) Send(
	ctx context.Context,
	msgType string,
	body map[string]any,
	recipients Recipients,
) (*domain.PushResult, error) {
	token, err := a.GetAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"msg_type": msgType,
		"user_ids": recipients.UserIDs,
		"content":  body,
	}

	raw, err := doJSON(ctx, a.http, http.MethodPost, a.base+"/message/v4/batch_send/",
		nil, a.authHeader(token), payload)
	if err != nil {
		return nil, err
	}

	return normalizeFeishu(raw), nil
}

func (a *feishuAdapter) Recall(ctx context.Context, taskID string) (*domain.PushResult, error) {
	token, err := a.GetAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	raw, err := doJSON(ctx, a.http, http.MethodDelete, a.base+"/im/v1/messages/"+taskID,
		nil, a.authHeader(token), nil)
	if err != nil {
		return nil, err
	}

	return normalizeFeishu(raw), nil
}

func (a *feishuAdapter) UploadMedia(ctx context.Context, mediaType, filename string, data []byte) (string, error) {
	limit := a.MediaMaxSize(mediaType)
	if limit == 0 {
		return "", fmt.Errorf("feishu does not support media type %q", mediaType)
	}
	if int64(len(data)) > limit {
		return "", fmt.Errorf("media %q exceeds %d byte limit for type %q", filename, limit, mediaType)
	}

	token, err := a.GetAccessToken(ctx)
	if err != nil {
		return "", err
	}

	raw, err := uploadFile(ctx, a.http, a.base+"/im/v1/images",
		map[string]string{"image_type": "message"}, a.authHeader(token),
		"image", filename, data)
	if err != nil {
		return "", err
	}

	if code := intField(raw, "code"); code != 0 {
		return "", fmt.Errorf("feishu media upload failed: %d %s", code, strField(raw, "msg"))
	}

	if data, ok := raw["data"].(map[string]any); ok {
		return strField(data, "image_key"), nil
	}

	return "", fmt.Errorf("feishu media upload returned no image key")
}
