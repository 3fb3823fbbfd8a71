package dedup

import (
	"encoding/json"
	"fmt"

	"github.com/luojidr/easypush/pkg/crypto"
)

// Key formats for the fingerprint cache. Deliberately structured strings so
// entries stay stable across process restarts and are greppable in the store.
const (
	messageKeyFmt = "app_id:%d:msg_fingerprint:%s"
	useridKeyFmt  = messageKeyFmt + ":userid:%s"
	mobileKeyFmt  = messageKeyFmt + ":mobile:%s"
)

// Canonicalize serializes a message body with sorted keys at every nesting
// level, so field order never affects the fingerprint.
func Canonicalize(body map[string]any) (string, error) {
	if body == nil {
		return "", fmt.Errorf("message body must not be nil")
	}

	// encoding/json sorts map keys during marshal, which is exactly the
	// canonical form required here.
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize message body: %w", err)
	}

	return string(data), nil
}

// BodyFingerprint hashes the canonical JSON form of a message body. MD5 is
// fine here: this is a dedup key, not a credential.
func BodyFingerprint(canonicalJSON string) string {
	return crypto.MD5Hex(canonicalJSON)
}

// MessageKey is the body-level cache key.
func MessageKey(appID int64, fingerprint string) string {
	return fmt.Sprintf(messageKeyFmt, appID, fingerprint)
}

// RecipientKey is the per-recipient cache key. The userid form wins when a
// userid is present; mobile-only submissions fall back to the mobile form.
func RecipientKey(appID int64, fingerprint, userID, mobile string) string {
	if userID != "" {
		return fmt.Sprintf(useridKeyFmt, appID, fingerprint, userID)
	}
	return fmt.Sprintf(mobileKeyFmt, appID, fingerprint, mobile)
}
