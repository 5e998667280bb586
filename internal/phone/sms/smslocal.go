package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultSMSLocalBaseURL is the SMS Local bulk API endpoint.
const DefaultSMSLocalBaseURL = "https://www.smslocal.com/dev/bulkV2"

const (
	smsLocalTimeout  = 15 * time.Second
	maxErrorBodySize = 4 << 10
)

// ErrMissingAPIKey is returned by SMSLocalClient.SendOTP when no API key is configured.
var ErrMissingAPIKey = errors.New("sms: smslocal api key not configured")

// smsLocalRequest is the OTP route payload; the code is substituted into the DLT template server side.
type smsLocalRequest struct {
	Route     string `json:"route"`
	Numbers   string `json:"numbers"`
	Variables string `json:"variables"`
	SenderID  string `json:"sender_id,omitempty"`
}

// SMSLocalClient sends OTP SMS through the SMS Local HTTP API (route=otp).
type SMSLocalClient struct {
	APIKey     string
	BaseURL    string
	Sender     string
	HTTPClient *http.Client
}

var _ Sender = (*SMSLocalClient)(nil)

// NewSMSLocalClient returns a client for apiKey. baseURL and sender are optional.
func NewSMSLocalClient(apiKey, baseURL, sender string) *SMSLocalClient {
	if baseURL == "" {
		baseURL = DefaultSMSLocalBaseURL
	}
	return &SMSLocalClient{
		APIKey:     apiKey,
		BaseURL:    baseURL,
		Sender:     sender,
		HTTPClient: &http.Client{Timeout: smsLocalTimeout},
	}
}

// SendOTP posts the code for phone. The number goes out as digits only. HTTP 429 maps to ErrRateLimited.
func (c *SMSLocalClient) SendOTP(ctx context.Context, phone, otp string) error {
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	payload, err := json.Marshal(smsLocalRequest{
		Route:     "otp",
		Numbers:   strings.TrimPrefix(strings.TrimSpace(phone), "+"),
		Variables: otp,
		SenderID:  c.Sender,
	})
	if err != nil {
		return fmt.Errorf("sms: encode smslocal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("sms: build smslocal request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("sms: smslocal request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return fmt.Errorf("sms: smslocal status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
