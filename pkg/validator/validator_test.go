package validator

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

type sampleRequest struct {
	AppToken string `json:"appToken" validate:"required"`
	MsgType  string `json:"msgType" validate:"required"`
	Remark   string `json:"remark,omitempty" validate:"omitempty,max=8"`
}

func TestCustomValidator_ValidateReturnsValidationError(t *testing.T) {
	cv := New()

	req := sampleRequest{
		// AppToken and MsgType left empty to trigger validation errors
	}

	err := cv.Validate(req)
	if err == nil {
		t.Fatalf("expected validation error, got nil")
	}

	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T", err)
	}

	if len(ve.Errors) == 0 {
		t.Fatalf("expected at least one validation error, got none")
	}

	if _, exists := ve.Errors["appToken"]; !exists {
		t.Errorf("expected 'appToken' to be in validation errors")
	}
	if _, exists := ve.Errors["msgType"]; !exists {
		t.Errorf("expected 'msgType' to be in validation errors")
	}
}

func TestCustomValidator_UsesJSONFieldNames(t *testing.T) {
	cv := New()

	err := cv.Validate(sampleRequest{AppToken: "t", MsgType: "text", Remark: "far too long remark"})
	if err == nil {
		t.Fatalf("expected validation error, got nil")
	}

	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T", err)
	}

	if _, exists := ve.Errors["remark"]; !exists {
		t.Errorf("expected the json tag name 'remark', got keys %v", ve.Errors)
	}
	if _, exists := ve.Errors["Remark"]; exists {
		t.Errorf("expected no struct field name key, got keys %v", ve.Errors)
	}
}

func TestCustomValidator_PlatformTag(t *testing.T) {
	cv := New()

	type credRequest struct {
		PlatformType string `json:"platformType" validate:"required,platform"`
	}

	if err := cv.Validate(credRequest{PlatformType: "dingtalk"}); err != nil {
		t.Fatalf("expected dingtalk to pass, got %v", err)
	}

	err := cv.Validate(credRequest{PlatformType: "pager"})
	if err == nil {
		t.Fatalf("expected validation error for unsupported platform")
	}

	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if msg := ve.Errors["platformType"]; !strings.Contains(msg, "supported platform") {
		t.Errorf("unexpected platform error message %q", msg)
	}
}

func TestHandleValidationError_Returns422WithDetails(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/test", nil)
	c := e.NewContext(req, rec)

	cv := New()
	err := cv.Validate(sampleRequest{})

	if err == nil {
		t.Fatalf("expected validation error, got nil")
	}

	if err := HandleValidationError(c, err); err != nil {
		t.Fatalf("HandleValidationError returned error: %v", err)
	}

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rec.Code)
	}

	var body ValidationErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	if body.Success {
		t.Errorf("expected Success=false, got true")
	}
	if body.Error != "Validation failed" {
		t.Errorf("expected error='Validation failed', got %q", body.Error)
	}
	if len(body.Details) == 0 {
		t.Fatalf("expected details in validation response, got none")
	}
}
