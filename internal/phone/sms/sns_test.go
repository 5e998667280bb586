package sms

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	input *sns.PublishInput
	err   error
}

func (f *fakePublisher) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &sns.PublishOutput{}, nil
}

func TestSNSSender_SendOTP(t *testing.T) {
	pub := &fakePublisher{}
	s := NewSNSSender(pub, "OTPSVC")

	err := s.SendOTP(context.Background(), "+15551234", "123456")

	require.NoError(t, err)
	require.NotNil(t, pub.input)
	assert.Equal(t, "+15551234", *pub.input.PhoneNumber)
	assert.Equal(t, "Your verification code is: 123456", *pub.input.Message)
	assert.Equal(t, "Transactional", *pub.input.MessageAttributes["AWS.SNS.SMS.SMSType"].StringValue)
	assert.Equal(t, "OTPSVC", *pub.input.MessageAttributes["AWS.SNS.SMS.SenderID"].StringValue)
}

func TestSNSSender_Throttled(t *testing.T) {
	pub := &fakePublisher{err: &types.ThrottledException{}}
	s := NewSNSSender(pub, "")

	err := s.SendOTP(context.Background(), "+15551234", "123456")

	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestSNSSender_OtherError(t *testing.T) {
	pub := &fakePublisher{err: errors.New("boom")}
	s := NewSNSSender(pub, "")

	err := s.SendOTP(context.Background(), "+15551234", "123456")

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRateLimited)
	assert.Contains(t, err.Error(), "boom")
}

func TestMaskPhone_SNS(t *testing.T) {
	assert.Equal(t, "***1234", MaskPhone("+15551234"))
	assert.Equal(t, "****", MaskPhone("1234"))
}
