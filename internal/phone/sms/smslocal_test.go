package sms

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewSMSLocalClient_Defaults(t *testing.T) {
	c := NewSMSLocalClient("api-key", "", "")
	if c.BaseURL != DefaultSMSLocalBaseURL {
		t.Errorf("BaseURL = %q, want default", c.BaseURL)
	}
	if c.HTTPClient == nil || c.HTTPClient.Timeout != smsLocalTimeout {
		t.Errorf("HTTPClient = %+v, want timeout %v", c.HTTPClient, smsLocalTimeout)
	}
}

func TestSMSLocalClient_SendOTP(t *testing.T) {
	tests := []struct {
		name      string
		sender    string
		status    int
		body      string
		wantErr   error
		wantInErr string
	}{
		{name: "accepted", status: http.StatusOK, body: `{"status":"success"}`},
		{name: "accepted with sender", sender: "OTPSVC", status: http.StatusAccepted},
		{name: "throttled", status: http.StatusTooManyRequests, wantErr: ErrRateLimited},
		{name: "rejected", status: http.StatusBadRequest, body: `{"error":"invalid number"}`, wantInErr: "status 400: {\"error\":\"invalid number\"}"},
		{name: "gateway error", status: http.StatusBadGateway, wantInErr: "status 502"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got smsLocalRequest
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
					t.Errorf("request = %s %s", r.Method, r.Header.Get("Content-Type"))
				}
				if r.Header.Get("Authorization") != "key-1" {
					t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
				}
				if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
					t.Errorf("decode: %v", err)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			err := NewSMSLocalClient("key-1", srv.URL, tt.sender).SendOTP(context.Background(), " +15551234 ", "123456")
			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
			case tt.wantInErr != "":
				if err == nil || !strings.Contains(err.Error(), tt.wantInErr) {
					t.Fatalf("err = %v, want it to contain %q", err, tt.wantInErr)
				}
			default:
				if err != nil {
					t.Fatalf("SendOTP: %v", err)
				}
			}
			want := smsLocalRequest{Route: "otp", Numbers: "15551234", Variables: "123456", SenderID: tt.sender}
			if got != want {
				t.Errorf("payload = %+v, want %+v", got, want)
			}
		})
	}
}

func TestSMSLocalClient_MissingAPIKey(t *testing.T) {
	err := NewSMSLocalClient("", "", "").SendOTP(context.Background(), "+15551234", "123456")
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("err = %v, want ErrMissingAPIKey", err)
	}
}

func TestSMSLocalClient_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	err := NewSMSLocalClient("key", url, "").SendOTP(context.Background(), "+15551234", "123456")
	if err == nil || errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want a transport error", err)
	}
}

func TestSMSLocalClient_SenderOmittedWhenBlank(t *testing.T) {
	raw, err := json.Marshal(smsLocalRequest{Route: "otp", Numbers: "1", Variables: "2"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if strings.Contains(string(raw), "sender_id") {
		t.Errorf("payload = %s, want no sender_id", raw)
	}
}
