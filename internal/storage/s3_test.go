package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"media-uploader/internal/credentials"
	"media-uploader/internal/domain"
)

type mockS3API struct {
	CreateMultipartUploadFunc   func(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	CompleteMultipartUploadFunc func(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUploadFunc    func(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

func (m *mockS3API) CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return m.CreateMultipartUploadFunc(ctx, params, optFns...)
}

func (m *mockS3API) CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	return m.CompleteMultipartUploadFunc(ctx, params, optFns...)
}

func (m *mockS3API) AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	return m.AbortMultipartUploadFunc(ctx, params, optFns...)
}

type mockPresignAPI struct {
	PresignPutObjectFunc  func(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
	PresignUploadPartFunc func(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

func (m *mockPresignAPI) PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	return m.PresignPutObjectFunc(ctx, params, optFns...)
}

func (m *mockPresignAPI) PresignUploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	return m.PresignUploadPartFunc(ctx, params, optFns...)
}

func liveProvider() *credentials.Provider {
	return credentials.NewProvider(credentials.Temporary{
		AccessKeyID:     "AKIA-test",
		SecretAccessKey: "secret",
		SessionToken:    "token",
		ExpiresAt:       time.Now().Add(time.Hour),
	})
}

func expiredProvider() *credentials.Provider {
	return credentials.NewProvider(credentials.Temporary{
		AccessKeyID: "AKIA-test",
		ExpiresAt:   time.Now().Add(-time.Hour),
	})
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testOptions() Options {
	return Options{Bucket: "media-bucket", PresignExpiry: time.Hour, CallTimeout: time.Second}
}

func TestCreateMultipartSession(t *testing.T) {
	api := &mockS3API{
		CreateMultipartUploadFunc: func(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
			assert.Equal(t, "media-bucket", aws.ToString(params.Bucket))
			assert.Equal(t, "incoming/a.mp4", aws.ToString(params.Key))
			assert.Equal(t, "video/mp4", aws.ToString(params.ContentType))
			return &s3.CreateMultipartUploadOutput{UploadId: aws.String("upload-1")}, nil
		},
	}
	backend := newS3Backend(api, liveProvider(), testOptions(), quietLogger())

	id, err := backend.CreateMultipartSession(context.Background(), "incoming/a.mp4", "video/mp4")
	require.NoError(t, err)
	assert.Equal(t, "upload-1", id)
}

func TestCreateMultipartSessionExpiredCredentialSkipsBackend(t *testing.T) {
	called := false
	api := &mockS3API{
		CreateMultipartUploadFunc: func(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
			called = true
			return nil, nil
		},
	}
	backend := newS3Backend(api, expiredProvider(), testOptions(), quietLogger())

	_, err := backend.CreateMultipartSession(context.Background(), "incoming/a.mp4", "video/mp4")
	assert.ErrorIs(t, err, domain.ErrCredentialExpired)
	assert.False(t, called)
}

func TestCreateMultipartSessionTimeoutMapsToBackendUnavailable(t *testing.T) {
	api := &mockS3API{
		CreateMultipartUploadFunc: func(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
			return nil, fmt.Errorf("request send failed: %w", context.DeadlineExceeded)
		},
	}
	backend := newS3Backend(api, liveProvider(), testOptions(), quietLogger())

	_, err := backend.CreateMultipartSession(context.Background(), "incoming/a.mp4", "video/mp4")
	assert.ErrorIs(t, err, domain.ErrBackendUnavailable)
}

func TestCompleteMultipartSessionSubmitsPartsInGivenOrder(t *testing.T) {
	var gotNumbers []int32
	api := &mockS3API{
		CompleteMultipartUploadFunc: func(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
			assert.Equal(t, "upload-1", aws.ToString(params.UploadId))
			for _, p := range params.MultipartUpload.Parts {
				gotNumbers = append(gotNumbers, aws.ToInt32(p.PartNumber))
			}
			return &s3.CompleteMultipartUploadOutput{ETag: aws.String("final-etag")}, nil
		},
	}
	backend := newS3Backend(api, liveProvider(), testOptions(), quietLogger())

	err := backend.CompleteMultipartSession(context.Background(), "incoming/a.mp4", "upload-1", []domain.PartETag{
		{PartNumber: 1, ETag: "e1"},
		{PartNumber: 2, ETag: "e2"},
		{PartNumber: 3, ETag: "e3"},
	})
	require.NoError(t, err)
	assert.Equal(t, []int32{1, 2, 3}, gotNumbers)
}

func TestCompleteMultipartSessionRejection(t *testing.T) {
	api := &mockS3API{
		CompleteMultipartUploadFunc: func(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
			return nil, &smithy.GenericAPIError{Code: "InvalidPart", Message: "One or more of the specified parts could not be found"}
		},
	}
	backend := newS3Backend(api, liveProvider(), testOptions(), quietLogger())

	err := backend.CompleteMultipartSession(context.Background(), "incoming/a.mp4", "upload-1", []domain.PartETag{
		{PartNumber: 1, ETag: "bogus"},
	})
	assert.ErrorIs(t, err, domain.ErrCompletionRejected)
	assert.Contains(t, err.Error(), "InvalidPart")
}

func TestAbortMultipartSession(t *testing.T) {
	api := &mockS3API{
		AbortMultipartUploadFunc: func(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
			assert.Equal(t, "upload-1", aws.ToString(params.UploadId))
			return &s3.AbortMultipartUploadOutput{}, nil
		},
	}
	backend := newS3Backend(api, liveProvider(), testOptions(), quietLogger())

	require.NoError(t, backend.AbortMultipartSession(context.Background(), "incoming/a.mp4", "upload-1"))
}

func TestIssueForSingle(t *testing.T) {
	presign := &mockPresignAPI{
		PresignPutObjectFunc: func(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
			assert.Equal(t, "media-bucket", aws.ToString(params.Bucket))
			assert.Equal(t, "incoming/b.jpg", aws.ToString(params.Key))
			assert.Equal(t, "image/jpeg", aws.ToString(params.ContentType))
			return &v4.PresignedHTTPRequest{URL: "https://example/put", Method: "PUT"}, nil
		},
	}
	signer := newS3Signer(presign, liveProvider(), testOptions())

	auth, err := signer.IssueForSingle(context.Background(), "incoming/b.jpg", "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "https://example/put", auth.URL)
	assert.Equal(t, "PUT", auth.Method)
	assert.WithinDuration(t, time.Now().Add(time.Hour), auth.ExpiresAt, time.Minute)
}

func TestIssueForPart(t *testing.T) {
	presign := &mockPresignAPI{
		PresignUploadPartFunc: func(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
			assert.Equal(t, "upload-1", aws.ToString(params.UploadId))
			assert.Equal(t, int32(4), aws.ToInt32(params.PartNumber))
			return &v4.PresignedHTTPRequest{URL: "https://example/part/4", Method: "PUT"}, nil
		},
	}
	signer := newS3Signer(presign, liveProvider(), testOptions())

	auth, err := signer.IssueForPart(context.Background(), "upload-1", "incoming/a.mp4", 4)
	require.NoError(t, err)
	assert.Equal(t, "https://example/part/4", auth.URL)
}

func TestIssueForPartExpiredCredentialSkipsSigning(t *testing.T) {
	called := false
	presign := &mockPresignAPI{
		PresignUploadPartFunc: func(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
			called = true
			return nil, nil
		},
	}
	signer := newS3Signer(presign, expiredProvider(), testOptions())

	_, err := signer.IssueForPart(context.Background(), "upload-1", "incoming/a.mp4", 1)
	assert.ErrorIs(t, err, domain.ErrCredentialExpired)
	assert.False(t, called)
}

func TestSignerRetriesOnceOnTransientFailure(t *testing.T) {
	attempts := 0
	presign := &mockPresignAPI{
		PresignPutObjectFunc: func(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
			attempts++
			if attempts == 1 {
				return nil, errors.New("transient signing failure")
			}
			return &v4.PresignedHTTPRequest{URL: "https://example/put", Method: "PUT"}, nil
		},
	}
	signer := newS3Signer(presign, liveProvider(), testOptions())
	signer.retryDelay = time.Millisecond

	auth, err := signer.IssueForSingle(context.Background(), "incoming/b.jpg", "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, "https://example/put", auth.URL)
}
