package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"

	"github.com/CodeKage25/smart-audit-assistant/internal/model"
)

type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type stsAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// S3Cache is a ReportCache backed by an S3 bucket. Write-once semantics rely
// on conditional PutObject (If-None-Match: *).
type S3Cache struct {
	client s3API
	bucket string
	prefix string
}

// NewS3Cache builds a cache from the default AWS credential chain and checks
// the credentials with an STS caller-identity call. It returns the caller ARN
// for logging.
func NewS3Cache(ctx context.Context, bucket, prefix, region string) (*S3Cache, string, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, "", errors.New("s3 bucket is required")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(awsRegion(region)))
	if err != nil {
		return nil, "", fmt.Errorf("load aws config: %w", err)
	}
	arn, err := preflight(ctx, sts.NewFromConfig(cfg))
	if err != nil {
		return nil, "", err
	}
	return newS3Cache(s3.NewFromConfig(cfg), bucket, prefix), arn, nil
}

func newS3Cache(client s3API, bucket, prefix string) *S3Cache {
	return &S3Cache{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func awsRegion(configured string) string {
	if strings.TrimSpace(configured) != "" {
		return configured
	}
	if v := os.Getenv("AWS_REGION"); strings.TrimSpace(v) != "" {
		return v
	}
	if v := os.Getenv("AWS_DEFAULT_REGION"); strings.TrimSpace(v) != "" {
		return v
	}
	return "us-east-1"
}

func preflight(ctx context.Context, client stsAPI) (string, error) {
	out, err := client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		if isAWSAuthFailure(err) {
			return "", fmt.Errorf("aws credentials rejected: %w", err)
		}
		return "", fmt.Errorf("aws preflight: %w", err)
	}
	return aws.ToString(out.Arn), nil
}

func isAWSAuthFailure(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "InvalidClientTokenId", "SignatureDoesNotMatch", "AuthFailure", "UnrecognizedClientException", "ExpiredToken", "InvalidSignatureException", "AccessDenied":
		return true
	default:
		return false
	}
}

func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "PreconditionFailed", "ConditionalRequestConflict":
		return true
	default:
		return false
	}
}

func isNoSuchKey(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NoSuchKey" || apiErr.ErrorCode() == "NotFound")
}

func (c *S3Cache) key(name string) string {
	if c.prefix == "" {
		return name
	}
	return path.Join(c.prefix, name)
}

func (c *S3Cache) reportKey(id string) string {
	return c.key("reports/" + id + ".json")
}

func (c *S3Cache) Put(ctx context.Context, report model.ScanReport) error {
	if !ValidID(report.ID) {
		return fmt.Errorf("%w: invalid scan id %q", ErrPersistenceWrite, report.ID)
	}
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("%w: encode report: %v", ErrPersistenceWrite, err)
	}
	_, err = c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(c.reportKey(report.ID)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		IfNoneMatch: aws.String("*"),
	})
	if err != nil {
		if isPreconditionFailed(err) {
			return fmt.Errorf("report %s: %w", report.ID, ErrAlreadyExists)
		}
		return fmt.Errorf("%w: report %s: %v", ErrPersistenceWrite, report.ID, err)
	}
	return nil
}

func (c *S3Cache) Get(ctx context.Context, id string) (model.ScanReport, error) {
	if !ValidID(id) {
		return model.ScanReport{}, fmt.Errorf("report %s: %w", id, ErrNotFound)
	}
	var report model.ScanReport
	if err := c.getJSON(ctx, c.reportKey(id), &report); err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.ScanReport{}, fmt.Errorf("report %s: %w", id, ErrNotFound)
		}
		return model.ScanReport{}, err
	}
	return report, nil
}

func (c *S3Cache) Delete(ctx context.Context, id string) error {
	if !ValidID(id) {
		return nil
	}
	_, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.reportKey(id)),
	})
	if err != nil && !isNoSuchKey(err) {
		return err
	}
	return nil
}

func (c *S3Cache) MarkLatest(ctx context.Context, id string) error {
	body, err := json.Marshal(latestPointer{ID: id})
	if err != nil {
		return err
	}
	_, err = c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(c.key("latest.json")),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("%w: latest pointer: %v", ErrPersistenceWrite, err)
	}
	return nil
}

func (c *S3Cache) Latest(ctx context.Context) (*model.ScanReport, error) {
	var ptr latestPointer
	if err := c.getJSON(ctx, c.key("latest.json"), &ptr); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	report, err := c.Get(ctx, ptr.ID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &report, nil
}

func (c *S3Cache) getJSON(ctx context.Context, key string, v any) error {
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return ErrNotFound
		}
		return fmt.Errorf("get s3://%s/%s: %w", c.bucket, key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return fmt.Errorf("read s3://%s/%s: %w", c.bucket, key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode s3://%s/%s: %w", c.bucket, key, err)
	}
	return nil
}
