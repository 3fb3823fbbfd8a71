package backends

import (
	"fmt"

	"github.com/luojidr/easypush/internal/domain"
)

// Vendor responses disagree on field names for the same concepts; each
// platform gets one normalization function mapping its native JSON into the
// standard {errcode, errmsg, task_id, request_id, data} envelope.

func normalizeDingTalk(raw map[string]any) *domain.PushResult {
	return &domain.PushResult{
		ErrCode:   intField(raw, "errcode"),
		ErrMsg:    strField(raw, "errmsg"),
		TaskID:    strField(raw, "task_id"),
		RequestID: strField(raw, "request_id"),
	}
}

func normalizeWeCom(raw map[string]any) *domain.PushResult {
	return &domain.PushResult{
		ErrCode:   intField(raw, "errcode"),
		ErrMsg:    strField(raw, "errmsg"),
		TaskID:    strField(raw, "msgid"),
		RequestID: strField(raw, "response_code"),
		Data: map[string]any{
			"invaliduser":  raw["invaliduser"],
			"invalidparty": raw["invalidparty"],
			"invalidtag":   raw["invalidtag"],
		},
	}
}

func normalizeFeishu(raw map[string]any) *domain.PushResult {
	result := &domain.PushResult{
		ErrCode: intField(raw, "code"),
		ErrMsg:  strField(raw, "msg"),
	}

	if data, ok := raw["data"].(map[string]any); ok {
		result.TaskID = strField(data, "message_id")
		result.Data = data
	}

	return result
}

func normalizeGateway(raw map[string]any) *domain.PushResult {
	return &domain.PushResult{
		ErrCode:   intField(raw, "errcode"),
		ErrMsg:    strField(raw, "errmsg"),
		TaskID:    strField(raw, "task_id"),
		RequestID: strField(raw, "request_id"),
	}
}

// intField tolerates the number types JSON decoding can produce.
func intField(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return 0
}

// strField stringifies scalar id fields; vendors flip between numeric and
// string task ids across API versions.
func strField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}
