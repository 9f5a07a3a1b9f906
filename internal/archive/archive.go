// Package archive keeps an audit copy of every enrollment snapshot: the
// frozen profiles go to S3 as gzipped JSON and an index item goes to
// DynamoDB. Nothing in the engine reads the archive back.
package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/pkg/logger"
)

type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type dynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// Config locates the archive.
type Config struct {
	Region    string
	Bucket    string
	Prefix    string // e.g. "outreach/snapshots/"
	Table     string
	AccessKey string
	SecretKey string
	// RetentionDays sets the DynamoDB TTL on index items; 0 keeps them.
	RetentionDays int
}

// IndexItem is the DynamoDB record pointing at one archived snapshot.
type IndexItem struct {
	PK           string `dynamodbav:"PK"` // TENANT#<tenant>
	SK           string `dynamodbav:"SK"` // ENROLLMENT#<id>
	EnrollmentID string `dynamodbav:"EnrollmentID"`
	CampaignID   string `dynamodbav:"CampaignID"`
	TargetListID string `dynamodbav:"TargetListID"`
	OwnerID      string `dynamodbav:"OwnerID"`
	ProfileCount int    `dynamodbav:"ProfileCount"`
	S3Key        string `dynamodbav:"S3Key"`
	EnrolledAt   string `dynamodbav:"EnrolledAt"`
	TTL          int64  `dynamodbav:"TTL,omitempty"`
}

// document is the S3 payload.
type document struct {
	Enrollment *domain.CampaignEnrollment `json:"enrollment"`
	Profiles   []domain.EnrollmentProfile `json:"profiles"`
	ArchivedAt time.Time                  `json:"archived_at"`
}

// Archiver implements enrollment.Archiver.
type Archiver struct {
	s3     s3API
	dynamo dynamoAPI
	cfg    Config
	log    *logger.Logger
	now    func() time.Time
}

// New loads AWS configuration and builds the S3 and DynamoDB clients.
func New(ctx context.Context, cfg Config, log *logger.Logger) (*Archiver, error) {
	if cfg.Bucket == "" || cfg.Table == "" {
		return nil, fmt.Errorf("archive: bucket and table are required")
	}
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
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return newArchiver(s3.NewFromConfig(awsCfg), dynamodb.NewFromConfig(awsCfg), cfg, log), nil
}

func newArchiver(s3c s3API, ddb dynamoAPI, cfg Config, log *logger.Logger) *Archiver {
	return &Archiver{s3: s3c, dynamo: ddb, cfg: cfg, log: log.Named("archive"), now: time.Now}
}

// Key is the S3 object key of an enrollment's snapshot.
func (a *Archiver) Key(e *domain.CampaignEnrollment) string {
	prefix := a.cfg.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return fmt.Sprintf("%s%s/%s/%s.json.gz", prefix, e.TenantID, e.CampaignID, e.ID)
}

// ArchiveEnrollment uploads the snapshot, then writes the index item.
func (a *Archiver) ArchiveEnrollment(ctx context.Context, e *domain.CampaignEnrollment, profiles []domain.EnrollmentProfile) error {
	now := a.now().UTC()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if err := json.NewEncoder(gz).Encode(document{Enrollment: e, Profiles: profiles, ArchivedAt: now}); err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("compressing snapshot: %w", err)
	}

	key := a.Key(e)
	if _, err := a.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(a.cfg.Bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(buf.Bytes()),
		ContentType:     aws.String("application/json"),
		ContentEncoding: aws.String("gzip"),
	}); err != nil {
		return fmt.Errorf("putting snapshot to S3: %w", err)
	}

	item := IndexItem{
		PK:           "TENANT#" + e.TenantID,
		SK:           "ENROLLMENT#" + e.ID,
		EnrollmentID: e.ID,
		CampaignID:   e.CampaignID,
		TargetListID: e.TargetListID,
		OwnerID:      e.OwnerID,
		ProfileCount: len(profiles),
		S3Key:        key,
		EnrolledAt:   e.EnrolledAt.UTC().Format(time.RFC3339),
	}
	if a.cfg.RetentionDays > 0 {
		item.TTL = now.Add(time.Duration(a.cfg.RetentionDays) * 24 * time.Hour).Unix()
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshaling index item: %w", err)
	}
	if _, err := a.dynamo.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(a.cfg.Table),
		Item:      av,
	}); err != nil {
		return fmt.Errorf("putting index item to DynamoDB: %w", err)
	}

	a.log.Debug("snapshot archived", "enrollment_id", e.ID, "key", key, "bytes", buf.Len())
	return nil
}
