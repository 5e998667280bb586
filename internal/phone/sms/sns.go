package sms

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/aws/smithy-go"
)

// snsPublisher is the subset of the SNS client used by SNSSender. *sns.Client satisfies it.
type snsPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

var _ Sender = (*SNSSender)(nil)

// SNSSender delivers OTP codes as transactional SMS via Amazon SNS.
type SNSSender struct {
	client   snsPublisher
	senderID string
}

// NewSNSSender returns an SNSSender backed by client. senderID is optional.
func NewSNSSender(client snsPublisher, senderID string) *SNSSender {
	return &SNSSender{client: client, senderID: senderID}
}

// SendOTP publishes the OTP message to phone. SNS throttling is reported as ErrRateLimited.
func (s *SNSSender) SendOTP(ctx context.Context, phone, otp string) error {
	message := Message(otp)
	attrs := map[string]types.MessageAttributeValue{
		"AWS.SNS.SMS.SMSType": {DataType: aws.String("String"), StringValue: aws.String("Transactional")},
	}
	if s.senderID != "" {
		attrs["AWS.SNS.SMS.SenderID"] = types.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(s.senderID)}
	}
	_, err := s.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber:       aws.String(phone),
		Message:           aws.String(message),
		MessageAttributes: attrs,
	})
	if err != nil {
		var throttled *types.ThrottledException
		if errors.As(err, &throttled) {
			return ErrRateLimited
		}
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "Throttling" {
			return ErrRateLimited
		}
		return fmt.Errorf("sns sms: send otp: %w", err)
	}
	return nil
}

