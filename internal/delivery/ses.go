package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/ignite/outreach-engine/internal/pkg/logger"
)

// sesAPI is the slice of the SES v2 client the sender uses.
type sesAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESConfig selects the SES account. Empty keys fall back to the default
// AWS credential chain.
type SESConfig struct {
	Region           string
	AccessKey        string
	SecretKey        string
	ConfigurationSet string
}

// SESSender sends sequence steps via AWS SES using the SDK v2.
type SESSender struct {
	client    sesAPI
	configSet string
	log       *logger.Logger
	now       func() time.Time
}

// NewSESSender loads AWS configuration and builds the SES client.
func NewSESSender(ctx context.Context, cfg SESConfig, log *logger.Logger) (*SESSender, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return newSESSender(sesv2.NewFromConfig(awsCfg), cfg.ConfigurationSet, log), nil
}

func newSESSender(client sesAPI, configSet string, log *logger.Logger) *SESSender {
	return &SESSender{client: client, configSet: configSet, log: log.Named("ses"), now: time.Now}
}

// Send delivers one message. Rejections SES will never accept (bad
// address, unverified sender, suspended account) come back as a refused
// Result; throttling and transport errors are returned for a later retry.
func (s *SESSender) Send(ctx context.Context, msg *Message) (*Result, error) {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.From()),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.HTMLBody), Charset: aws.String("UTF-8")},
				},
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("campaign_id"), Value: aws.String(msg.CampaignID)},
			{Name: aws.String("enrollment_profile_id"), Value: aws.String(msg.ProfileID)},
		},
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}
	if s.configSet != "" {
		input.ConfigurationSetName = aws.String(s.configSet)
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		if reason, permanent := permanentSESError(err); permanent {
			s.log.Warn("ses rejected message", "email", msg.To, "profile_id", msg.ProfileID, "reason", reason)
			return &Result{Accepted: false, Provider: "ses", Reason: reason, At: s.now()}, nil
		}
		return nil, fmt.Errorf("ses send: %w", err)
	}

	res := &Result{Accepted: true, Provider: "ses", At: s.now()}
	if out.MessageId != nil {
		res.MessageID = *out.MessageId
	}
	s.log.Debug("ses sent", "email", msg.To, "message_id", res.MessageID)
	return res, nil
}

func permanentSESError(err error) (string, bool) {
	var (
		rejected   *types.MessageRejected
		unverified *types.MailFromDomainNotVerifiedException
		badRequest *types.BadRequestException
		suspended  *types.AccountSuspendedException
	)
	switch {
	case errors.As(err, &rejected):
		return "message rejected", true
	case errors.As(err, &unverified):
		return "mail-from domain not verified", true
	case errors.As(err, &badRequest):
		return "bad request", true
	case errors.As(err, &suspended):
		return "account suspended", true
	}
	return "", false
}
