package dedup

import "testing"

func TestCanonicalize_KeyOrderDoesNotMatter(t *testing.T) {
	a := map[string]any{
		"title":   "Deploy done",
		"content": "build 42 is live",
		"extra": map[string]any{
			"env":    "prod",
			"commit": "abc123",
		},
	}
	b := map[string]any{
		"extra": map[string]any{
			"commit": "abc123",
			"env":    "prod",
		},
		"content": "build 42 is live",
		"title":   "Deploy done",
	}

	ca, err := Canonicalize(a)
	if err != nil {
		t.Fatalf("Canonicalize returned error: %v", err)
	}
	cb, err := Canonicalize(b)
	if err != nil {
		t.Fatalf("Canonicalize returned error: %v", err)
	}

	if ca != cb {
		t.Errorf("canonical forms differ:\n%s\n%s", ca, cb)
	}
	if BodyFingerprint(ca) != BodyFingerprint(cb) {
		t.Errorf("fingerprints differ for equal bodies")
	}
}

func TestCanonicalize_DifferentBodiesDiffer(t *testing.T) {
	a, err := Canonicalize(map[string]any{"content": "hello"})
	if err != nil {
		t.Fatalf("Canonicalize returned error: %v", err)
	}
	b, err := Canonicalize(map[string]any{"content": "hello!"})
	if err != nil {
		t.Fatalf("Canonicalize returned error: %v", err)
	}

	if BodyFingerprint(a) == BodyFingerprint(b) {
		t.Errorf("fingerprints collide for different bodies")
	}
}

func TestCanonicalize_NilBody(t *testing.T) {
	if _, err := Canonicalize(nil); err == nil {
		t.Fatalf("expected error for nil body")
	}
}

func TestDecodeBody_InvertsCanonicalize(t *testing.T) {
	body := map[string]any{"content": "hi", "level": "info"}

	canonical, err := Canonicalize(body)
	if err != nil {
		t.Fatalf("Canonicalize returned error: %v", err)
	}

	decoded, err := DecodeBody(canonical)
	if err != nil {
		t.Fatalf("DecodeBody returned error: %v", err)
	}
	if decoded["content"] != "hi" || decoded["level"] != "info" {
		t.Errorf("decoded body does not match original: %v", decoded)
	}
}

func TestMessageKey(t *testing.T) {
	got := MessageKey(7, "deadbeef")
	want := "app_id:7:msg_fingerprint:deadbeef"

	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestRecipientKey_UserIDWins(t *testing.T) {
	withBoth := RecipientKey(7, "deadbeef", "u1", "13800000000")
	if withBoth != "app_id:7:msg_fingerprint:deadbeef:userid:u1" {
		t.Errorf("expected userid form, got %q", withBoth)
	}

	mobileOnly := RecipientKey(7, "deadbeef", "", "13800000000")
	if mobileOnly != "app_id:7:msg_fingerprint:deadbeef:mobile:13800000000" {
		t.Errorf("expected mobile form, got %q", mobileOnly)
	}
}
