package sms

import (
	"context"
	"log/slog"
)

var _ Sender = (*LogSender)(nil)

// LogSender logs OTP delivery instead of sending SMS. For local development only.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender returns a LogSender writing to logger.
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

// SendOTP logs the delivery with a masked phone number. It never sends a real SMS; the code is
// only retrievable through the dev code store.
func (s *LogSender) SendOTP(ctx context.Context, phone, otp string) error {
	s.logger.InfoContext(ctx, "otp delivery (log-only)",
		slog.String("to", MaskPhone(phone)),
		slog.Int("code_length", len(otp)),
	)
	return nil
}

// MaskPhone keeps only the last 4 digits of phone. Numbers of 4 characters or fewer are fully masked.
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return "***" + phone[len(phone)-4:]
}
