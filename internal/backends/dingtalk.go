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

const dingTalkBaseURL = "https://oapi.dingtalk.com"

var dingTalkMediaLimits = map[string]int64{
	"image": 10 << 20,
	"voice": 2 << 20,
	"video": 20 << 20,
	"file":  20 << 20,
}

// dingTalkAdapter is the corporate-IM client for the DingTalk work
// notification API. Bodies pass through untouched under the vendor's msgtype
// envelope.
type dingTalkAdapter struct {
	cfg    environments.BackendConfig
	http   *resty.Client
	tokens *tokenSource
	base   string
}

func NewDingTalkAdapter(cfg environments.BackendConfig, deps Deps) (Adapter, error) {
	base := cfg.BaseURL
	if base == "" {
		base = dingTalkBaseURL
	}

	a := &dingTalkAdapter{
		cfg:  cfg,
		http: newHTTPClient(cfg),
		base: base,
	}
	a.tokens = newTokenSource(cfg.CorpID, cfg.AgentID, cfg.AppKey, cfg.AppSecret, deps, a.fetchToken)

	return a, nil
}

func (a *dingTalkAdapter) Platform() domain.Platform { return domain.PlatformDingTalk }

func (a *dingTalkAdapter) MediaMaxSize(mediaType string) int64 {
	return dingTalkMediaLimits[mediaType]
}

func (a *dingTalkAdapter) GetAccessToken(ctx context.Context) (string, error) {
	return a.tokens.Token(ctx)
}

func (a *dingTalkAdapter) fetchToken(ctx context.Context) (string, time.Duration, error) {
	raw, err := doJSON(ctx, a.http, http.MethodGet, a.base+"/gettoken",
		map[string]string{"appkey": a.cfg.AppKey, "appsecret": a.cfg.AppSecret}, nil, nil)
	if err != nil {
		return "", 0, err
	}

	if code := intField(raw, "errcode"); code != 0 {
		return "", 0, fmt.Errorf("dingtalk token fetch failed: %d %s", code, strField(raw, "errmsg"))
	}

	token := strField(raw, "access_token")
	if token == "" {
		return "", 0, fmt.Errorf("dingtalk token fetch returned empty access_token")
	}

	expiresIn := time.Duration(intField(raw, "expires_in")) * time.Second

	return token, expiresIn, nil
}

func (a *dingTalkAdapter) Send(
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
		"agent_id":    a.cfg.AgentID,
		"userid_list": strings.Join(recipients.UserIDs, ","),
		"msg": map[string]any{
			"msgtype": msgType,
			msgType:   body,
		},
	}

	raw, err := doJSON(ctx, a.http, http.MethodPost,
		a.base+"/topapi/message/corpconversation/asyncsend_v2",
		map[string]string{"access_token": token}, nil, payload)
	if err != nil {
		return nil, err
	}

	return normalizeDingTalk(raw), nil
}

func (a *dingTalkAdapter) Recall(ctx context.Context, taskID string) (*domain.PushResult, error) {
	token, err := a.GetAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"agent_id":    a.cfg.AgentID,
		"msg_task_id": taskID,
	}

	raw, err := doJSON(ctx, a.http, http.MethodPost,
		a.base+"/topapi/message/corpconversation/recall",
		map[string]string{"access_token": token}, nil, payload)
	if err != nil {
		return nil, err
	}

	return normalizeDingTalk(raw), nil
}

func (a *dingTalkAdapter) UploadMedia(ctx context.Context, mediaType, filename string, data []byte) (string, error) {
	limit := a.MediaMaxSize(mediaType)
	if limit == 0 {
		return "", fmt.Errorf("dingtalk does not support media type %q", mediaType)
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
		return "", fmt.Errorf("dingtalk media upload failed: %d %s", code, strField(raw, "errmsg"))
	}

	return strField(raw, "media_id"), nil
}
