package backends

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/luojidr/easypush/environments"
	"github.com/luojidr/easypush/pkg/logger"
)

func newHTTPClient(cfg environments.BackendConfig) *resty.Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return resty.New().
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Accept", "application/json")
}

// doJSON performs one vendor round trip and decodes the body into a generic
// map for the platform normalizers.
func doJSON(
	ctx context.Context,
	client *resty.Client,
	method, url string,
	query map[string]string,
	headers map[string]string,
	body any,
) (map[string]any, error) {
	req := client.R().SetContext(ctx)
	if len(query) > 0 {
		req.SetQueryParams(query)
	}
	for name, value := range headers {
		req.SetHeader(name, value)
	}
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}

	startTime := time.Now()

	resp, err := req.Execute(method, url)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s %s: %w", method, url, err)
	}

	logger.Debugf("Vendor request %s %s completed in %v (status: %d)",
		method, url, time.Since(startTime), resp.StatusCode())

	if resp.StatusCode() < http.StatusOK || resp.StatusCode() >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("unexpected status code %d from %s, body: %s",
			resp.StatusCode(), url, resp.String())
	}

	var raw map[string]any
	if err := json.Unmarshal(resp.Body(), &raw); err != nil {
		return nil, fmt.Errorf("failed to decode response from %s: %w", url, err)
	}

	return raw, nil
}

// uploadFile performs a multipart media upload and decodes the vendor reply.
func uploadFile(
	ctx context.Context,
	client *resty.Client,
	url string,
	query map[string]string,
	headers map[string]string,
	fieldName, filename string,
	data []byte,
) (map[string]any, error) {
	req := client.R().
		SetContext(ctx).
		SetFileReader(fieldName, filename, bytes.NewReader(data))
	if len(query) > 0 {
		req.SetQueryParams(query)
	}
	for name, value := range headers {
		req.SetHeader(name, value)
	}

	resp, err := req.Post(url)
	if err != nil {
		return nil, fmt.Errorf("failed to upload %q to %s: %w", filename, url, err)
	}

	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d from %s, body: %s",
			resp.StatusCode(), url, resp.String())
	}

	var raw map[string]any
	if err := json.Unmarshal(resp.Body(), &raw); err != nil {
		return nil, fmt.Errorf("failed to decode upload response from %s: %w", url, err)
	}

	return raw, nil
}
