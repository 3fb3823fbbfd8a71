package backends

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"

	"github.com/luojidr/easypush/environments"
	"github.com/luojidr/easypush/internal/domain"
)

// gatewayAdapter covers the SMS and email platforms, which in this
// deployment sit behind an internal HTTP gateway speaking the standard
// envelope natively. The gateway authenticates with the credential's app
// key/secret pair; there is no short-lived token to cache.
type gatewayAdapter struct {
	platform domain.Platform
	cfg      environments.BackendConfig
	http     *resty.Client
}

// NewGatewayAdapter returns a factory bound to one platform so the registry
// can register it for both sms and email.
func NewGatewayAdapter(platform domain.Platform) Factory {
	return func(cfg environments.BackendConfig, _ Deps) (Adapter, error) {
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("%s backend requires a gateway base url", platform)
		}

		return &gatewayAdapter{
			platform: platform,
			cfg:      cfg,
			http:     newHTTPClient(cfg).SetHeader("x-push-auth-key", cfg.AppSecret),
		}, nil
	}
}

func (a *gatewayAdapter) Platform() domain.Platform { return a.platform }

func (a *gatewayAdapter) MediaMaxSize(string) int64 { return 0 }

func (a *gatewayAdapter) GetAccessToken(context.Context) (string, error) {
	return a.cfg.AppKey, nil
}

func (a *gatewayAdapter) Send(
	ctx context.Context,
	msgType string,
	body map[string]any,
	recipients Recipients,
) (*domain.PushResult, error) {
	payload := map[string]any{
		"platform": a.platform,
		"msg_type": msgType,
		"body":     body,
		"mobiles":  recipients.Mobiles,
		"userids":  recipients.UserIDs,
	}

	raw, err := doJSON(ctx, a.http, http.MethodPost, a.cfg.BaseURL+"/send", nil, nil, payload)
	if err != nil {
		return nil, err
	}

	return normalizeGateway(raw), nil
}

func (a *gatewayAdapter) Recall(ctx context.Context, taskID string) (*domain.PushResult, error) {
	payload := map[string]any{"task_id": taskID}

	raw, err := doJSON(ctx, a.http, http.MethodPost, a.cfg.BaseURL+"/recall", nil, nil, payload)
	if err != nil {
		return nil, err
	}

	return normalizeGateway(raw), nil
}

func (a *gatewayAdapter) UploadMedia(context.Context, string, string, []byte) (string, error) {
	return "", fmt.Errorf("%s backend does not support media upload", a.platform)
}
