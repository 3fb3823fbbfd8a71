package backends

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/luojidr/easypush/environments"
	"github.com/luojidr/easypush/internal/domain"
)

const weComBaseURL = "https://qyapi.weixin.qq.com/cgi-bin"

var weComMediaLimits = map[string]int64{
	"image": 2 << 20,
	"voice": 2 << 20,
	"video": 10 << 20,
	"file":  20 << 20,
}

// weComAdapter targets the WeCom (enterprise WeChat) application message
// API. Recipient user ids are joined with "|" per the vendor convention.
type weComAdapter struct {
	cfg    environments.BackendConfig
	http   *resty.Client
	tokens *tokenSource
	base   string
}

func NewWeComAdapter(cfg environments.BackendConfig, deps Deps) (Adapter, error) {
	base := cfg.BaseURL
	if base == "" {
		base = weComBaseURL
	}

	a := &weComAdapter{
		cfg:  cfg,
		http: newHTTPClient(cfg),
		base: base,
	}
	a.tokens = newTokenSource(cfg.CorpID, cfg.AgentID, cfg.AppKey, cfg.AppSecret, deps, a.fetchToken)

	return a, nil
}

func (a *weComAdapter) Platform() domain.Platform { return domain.PlatformWeCom }

func (a *weComAdapter) MediaMaxSize(mediaType string) int64 {
	return weComMediaLimits[mediaType]
}

func (a *weComAdapter) GetAccessToken(ctx context.Context) (string, error) {
	return a.tokens.Token(ctx)
}

func (a *weComAdapter) fetchToken(ctx context.Context) (string, time.Duration, error) {
	raw, err := doJSON(ctx, a.http, http.MethodGet, a.base+"/gettoken",
		map[string]string{"corpid": a.cfg.CorpID, "corpsecret": a.cfg.AppSecret}, nil, nil)
	if err != nil {
		return "", 0, err
	}

	if code := intField(raw, "errcode"); code != 0 {
		return "", 0, fmt.Errorf("wecom token fetch failed: %d %s", code, strField(raw, "errmsg"))
	}

	token := strField(raw, "access_token")
	if token == "" {
		return "", 0, fmt.Errorf("wecom token fetch returned empty access_token")
	}

	expiresIn := time.Duration(intField(raw, "expires_in")) * time.Second

	return token, expiresIn, nil
}

func (a *weComAdapter) Send(
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
		"touser":  strings.Join(recipients.UserIDs, "|"),
		"agentid": a.cfg.AgentID,
		"msgtype": msgType,
		msgType:   body,
	}

	raw, err := doJSON(ctx, a.http, http.MethodPost, a.base+"/message/send",
		map[string]string{"access_token": token}, nil, payload)
	if err != nil {
		return nil, err
	}

	return normalizeWeCom(raw), nil
}

func (a *weComAdapter) Recall(ctx context.Context, taskID string) (*domain.PushResult, error) {
	token, err := a.GetAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	raw, err := doJSON(ctx, a.http, http.MethodPost, a.base+"/message/recall",
		map[string]string{"access_token": token}, nil, map[string]any{"msgid": taskID})
	if err != nil {
		return nil, err
	}

	return normalizeWeCom(raw), nil
}

func (a *weComAdapter) UploadMedia(ctx context.Context, mediaType, filename string, data []byte) (string, error) {
	limit := a.MediaMaxSize(mediaType)
	if limit == 0 {
		return "", fmt.Errorf("wecom does not support media type %q", mediaType)
	}
	if int64(len(data)) > limit {
		return "", fmt.Errorf("media %q exceeds %d byte limit for type %q", filename, limit, mediaType)
	}

	token, err := a.GetAccessToken(ctx)
	if err != nil {
		return "", err
	}

	raw, err := uploadFile(ctx, a.http, a.base+"/media/upload",
		map[string]string{"access_token": token, "type": mediaType}, nil,
		"media", filename, data)
	if err != nil {
		return "", err
	}

	if code := intField(raw, "errcode"); code != 0 {
		return "", fmt.Errorf("wecom media upload failed: %d %s", code, strField(raw, "errmsg"))
	}

	return strField(raw, "media_id"), nil
}
