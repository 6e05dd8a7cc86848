package store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	keys    []string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := aws.ToString(in.Key)
	if aws.ToString(in.IfNoneMatch) == "*" {
		if _, ok := f.objects[key]; ok {
			return nil, &smithy.GenericAPIError{Code: "PreconditionFailed", Message: "At least one of the pre-conditions you specified did not hold"}
		}
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[key] = data
	f.keys = append(f.keys, key)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{Message: aws.String("The specified key does not exist.")}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3CacheRoundTrip(t *testing.T) {
	fake := newFakeS3()
	cache := newS3Cache(fake, "audit-reports", "/team-a/")
	ctx := context.Background()
	report := sampleReport("scan-s3")

	if err := cache.Put(ctx, report); err != nil {
		t.Fatalf("Put error: %v", err)
	}
	if fake.keys[0] != "team-a/reports/scan-s3.json" {
		t.Fatalf("unexpected object key: %s", fake.keys[0])
	}
	got, err := cache.Get(ctx, report.ID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if !reflect.DeepEqual(got, report) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, report)
	}
	if err := cache.Put(ctx, report); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if _, err := cache.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestS3CacheLatest(t *testing.T) {
	cache := newS3Cache(newFakeS3(), "audit-reports", "")
	ctx := context.Background()

	latest, err := cache.Latest(ctx)
	if err != nil || latest != nil {
		t.Fatalf("expected nil latest, got %+v err=%v", latest, err)
	}
	if err := cache.Put(ctx, sampleReport("one")); err != nil {
		t.Fatalf("Put error: %v", err)
	}
	if err := cache.MarkLatest(ctx, "one"); err != nil {
		t.Fatalf("MarkLatest error: %v", err)
	}
	latest, err = cache.Latest(ctx)
	if err != nil || latest == nil || latest.ID != "one" {
		t.Fatalf("expected latest one, got %+v err=%v", latest, err)
	}
	if err := cache.Delete(ctx, "one"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	latest, err = cache.Latest(ctx)
	if err != nil || latest != nil {
		t.Fatalf("expected nil latest after delete, got %+v err=%v", latest, err)
	}
}

type fakeSTS struct {
	err error
}

func (f fakeSTS) GetCallerIdentity(context.Context, *sts.GetCallerIdentityInput, ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &sts.GetCallerIdentityOutput{Arn: aws.String("arn:aws:iam::123456789012:user/auditor")}, nil
}

func TestPreflight(t *testing.T) {
	arn, err := preflight(context.Background(), fakeSTS{})
	if err != nil || arn != "arn:aws:iam::123456789012:user/auditor" {
		t.Fatalf("unexpected preflight result: %q err=%v", arn, err)
	}

	_, err = preflight(context.Background(), fakeSTS{err: &smithy.GenericAPIError{Code: "ExpiredToken"}})
	if err == nil || !strings.Contains(err.Error(), "credentials rejected") {
		t.Fatalf("expected credentials rejected error, got %v", err)
	}
}

func TestAWSRegion(t *testing.T) {
	t.Setenv("AWS_REGION", "")
	t.Setenv("AWS_DEFAULT_REGION", "eu-west-1")
	if got := awsRegion(""); got != "eu-west-1" {
		t.Fatalf("expected eu-west-1, got %s", got)
	}
	if got := awsRegion("ap-south-1"); got != "ap-south-1" {
		t.Fatalf("expected configured region, got %s", got)
	}
}
