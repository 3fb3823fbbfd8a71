package domain

import "time"

type Platform string

const (
	PlatformDingTalk Platform = "dingtalk"
	PlatformWeCom    Platform = "wecom"
	PlatformFeishu   Platform = "feishu"
	PlatformSMS      Platform = "sms"
	PlatformEmail    Platform = "email"
)

func (p Platform) Valid() bool {
	switch p {
	case PlatformDingTalk, PlatformWeCom, PlatformFeishu, PlatformSMS, PlatformEmail:
		return true
	}
	return false
}

// AppCredential is one vendor-side application registration. AppToken is a
// reversible encryption of "agent_id:corp_id:app_key:app_secret:platform_type"
// and serves as the external capability handle.
type AppCredential struct {
	ID           int64     `db:"id" json:"id"`
	CorpID       string    `db:"corp_id" json:"corpId"`
	AppName      string    `db:"app_name" json:"appName"`
	AgentID      int64     `db:"agent_id" json:"agentId"`
	AppKey       string    `db:"app_key" json:"appKey"`
	AppSecret    string    `db:"app_secret" json:"-"`
	AppToken     string    `db:"app_token" json:"appToken"`
	ExpireTime   int64     `db:"expire_time" json:"expireTime"`
	PlatformType Platform  `db:"platform_type" json:"platformType"`
	IsDeleted    bool      `db:"is_deleted" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time `db:"updated_at" json:"updatedAt"`
}

// MessageRecord is one logically distinct message payload. MsgBodyJSON is
// canonical JSON (keys sorted) so that equal bodies always hash equally.
// Records are immutable once created; duplicates are prevented by the
// fingerprint cache, not by a database constraint.
type MessageRecord struct {
	ID           int64     `db:"id" json:"id"`
	AppID        int64     `db:"app_id" json:"appId"`
	MsgType      string    `db:"msg_type" json:"msgType"`
	MsgBodyJSON  string    `db:"msg_body_json" json:"msgBodyJson"`
	PlatformType Platform  `db:"platform_type" json:"platformType"`
	Remark       string    `db:"remark" json:"remark"`
	IsDeleted    bool      `db:"is_deleted" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time `db:"updated_at" json:"updatedAt"`
}

// PushRecord is one persisted delivery intent for one recipient. MsgUID is
// generated exactly once at creation and never regenerated.
type PushRecord struct {
	ID             int64      `db:"id" json:"id"`
	MsgID          int64      `db:"msg_id" json:"msgId"`
	Sender         string     `db:"sender" json:"sender"`
	SendTime       time.Time  `db:"send_time" json:"sendTime"`
	ReceiverMobile string     `db:"receiver_mobile" json:"receiverMobile,omitempty"`
	ReceiverUserID string     `db:"receiver_userid" json:"receiverUserid,omitempty"`
	ReceiveTime    *time.Time `db:"receive_time" json:"receiveTime,omitempty"`
	IsRead         bool       `db:"is_read" json:"isRead"`
	ReadTime       *time.Time `db:"read_time" json:"readTime,omitempty"`
	IsSuccess      bool       `db:"is_success" json:"isSuccess"`
	Traceback      string     `db:"traceback" json:"traceback,omitempty"`
	TaskID         string     `db:"task_id" json:"taskId,omitempty"`
	RequestID      string     `db:"request_id" json:"requestId,omitempty"`
	MsgUID         string     `db:"msg_uid" json:"msgUid"`
	IsRecall       bool       `db:"is_recall" json:"isRecall"`
	RecallTime     *time.Time `db:"recall_time" json:"recallTime,omitempty"`
	MsgType        string     `db:"msg_type" json:"msgType"`
	PlatformType   Platform   `db:"platform_type" json:"platformType"`
	IsDeleted      bool       `db:"is_deleted" json:"-"`
	CreatedAt      time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updatedAt"`
}

// Resolved marks a push record whose vendor call has completed, one way or
// the other.
func (r *PushRecord) Resolved() bool {
	return r.IsSuccess || r.Traceback != ""
}

// PushResult is the standard envelope every vendor response is normalized
// into before it reaches a caller or a push record.
type PushResult struct {
	ErrCode   int            `json:"errcode"`
	ErrMsg    string         `json:"errmsg"`
	TaskID    string         `json:"task_id"`
	RequestID string         `json:"request_id"`
	Data      map[string]any `json:"data"`
}

func (r *PushResult) OK() bool { return r.ErrCode == 0 }

// SubmitResult is what the dispatch orchestrator returns to the web layer.
type SubmitResult struct {
	MessageID     int64    `json:"messageId"`
	PushRecordIDs []int64  `json:"pushRecordIds"`
	MsgUIDs       []string `json:"msgUids"`
	Duplicates    int      `json:"duplicates"`
}

// DeliveryOutcome reports one background delivery group back to the worker.
type DeliveryOutcome struct {
	MsgID      int64
	MsgUIDs    []string
	Recipients int
	Success    bool
	Err        error
}
