package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/sirupsen/logrus"

	"media-uploader/internal/credentials"
	"media-uploader/internal/domain"
)

// s3API is the slice of the SDK client the backend needs; narrowed for mocking.
type s3API interface {
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// presignAPI is the slice of the SDK presign client the signer needs.
type presignAPI interface {
	PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
	PresignUploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Options configures the S3 backend and signer.
type Options struct {
	Bucket        string
	PresignExpiry time.Duration
	CallTimeout   time.Duration
}

// NewClient builds an S3 client whose every request is signed with the current
// temporary credential from the provider.
func NewClient(region, endpoint string, creds *credentials.Provider) *s3.Client {
	cfg := aws.Config{
		Region:      region,
		Credentials: creds.AWS(),
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
}

// S3Backend drives the multipart lifecycle against Amazon S3 (or compatible APIs).
type S3Backend struct {
	api         s3API
	creds       *credentials.Provider
	bucket      string
	callTimeout time.Duration
	logger      *logrus.Logger
}

func NewS3Backend(client *s3.Client, creds *credentials.Provider, opts Options, logger *logrus.Logger) *S3Backend {
	return newS3Backend(client, creds, opts, logger)
}

func newS3Backend(api s3API, creds *credentials.Provider, opts Options, logger *logrus.Logger) *S3Backend {
	timeout := opts.CallTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &S3Backend{
		api:         api,
		creds:       creds,
		bucket:      opts.Bucket,
		callTimeout: timeout,
		logger:      logger,
	}
}

func (b *S3Backend) CreateMultipartSession(ctx context.Context, key, contentType string) (string, error) {
	if _, err := b.creds.Current(); err != nil {
		return "", err
	}

	callCtx, cancel := context.WithTimeout(ctx, b.callTimeout)
	defer cancel()

	out, err := b.api.CreateMultipartUpload(callCtx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", mapBackendError("create multipart session", key, err)
	}

	uploadID := aws.ToString(out.UploadId)
	b.logger.Infof("initiated multipart session %s for %s", uploadID, key)
	return uploadID, nil
}

func (b *S3Backend) CompleteMultipartSession(ctx context.Context, key, backendUploadID string, parts []domain.PartETag) error {
	if _, err := b.creds.Current(); err != nil {
		return err
	}

	completed := make([]types.CompletedPart, len(parts))
	for i, p := range parts {
		completed[i] = types.CompletedPart{
			PartNumber: aws.Int32(p.PartNumber),
			ETag:       aws.String(p.ETag),
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, b.callTimeout)
	defer cancel()

	_, err := b.api.CompleteMultipartUpload(callCtx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(b.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(backendUploadID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: completed,
		},
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			// The backend saw the request and said no; the session stays open
			// for a corrected retry.
			return fmt.Errorf("complete multipart session %s for %s: %s: %w",
				backendUploadID, key, apiErr.ErrorCode(), domain.ErrCompletionRejected)
		}
		return mapBackendError("complete multipart session", key, err)
	}

	b.logger.Infof("completed multipart session %s for %s (%d parts)", backendUploadID, key, len(parts))
	return nil
}

func (b *S3Backend) AbortMultipartSession(ctx context.Context, key, backendUploadID string) error {
	if _, err := b.creds.Current(); err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, b.callTimeout)
	defer cancel()

	_, err := b.api.AbortMultipartUpload(callCtx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(b.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(backendUploadID),
	})
	if err != nil {
		return mapBackendError("abort multipart session", key, err)
	}

	b.logger.Infof("aborted multipart session %s for %s", backendUploadID, key)
	return nil
}

func mapBackendError(op, key string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s for %s: %v: %w", op, key, err, domain.ErrBackendUnavailable)
	}
	return fmt.Errorf("%s for %s: %w", op, key, err)
}

var _ Backend = (*S3Backend)(nil)

// S3Signer computes presigned PUT and UploadPart requests. It checks the
// credential up front so an expired credential fails fast without any
// storage traffic.
type S3Signer struct {
	presign    presignAPI
	creds      *credentials.Provider
	bucket     string
	expiry     time.Duration
	retryDelay time.Duration
}

func NewS3Signer(client *s3.Client, creds *credentials.Provider, opts Options) *S3Signer {
	return newS3Signer(s3.NewPresignClient(client), creds, opts)
}

func newS3Signer(presign presignAPI, creds *credentials.Provider, opts Options) *S3Signer {
	expiry := opts.PresignExpiry
	if expiry <= 0 {
		expiry = time.Hour
	}
	return &S3Signer{
		presign:    presign,
		creds:      creds,
		bucket:     opts.Bucket,
		expiry:     expiry,
		retryDelay: 100 * time.Millisecond,
	}
}

func (s *S3Signer) IssueForSingle(ctx context.Context, key, contentType string) (*Authorization, error) {
	if _, err := s.creds.Current(); err != nil {
		return nil, err
	}

	req, err := s.presignOnceWithRetry(ctx, func(ctx context.Context) (*v4.PresignedHTTPRequest, error) {
		return s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(key),
			ContentType: aws.String(contentType),
		}, s3.WithPresignExpires(s.expiry))
	})
	if err != nil {
		return nil, fmt.Errorf("presign put for %s: %w", key, err)
	}

	return s.authorization(req), nil
}

func (s *S3Signer) IssueForPart(ctx context.Context, backendUploadID, key string, partNumber int32) (*Authorization, error) {
	if _, err := s.creds.Current(); err != nil {
		return nil, err
	}

	req, err := s.presignOnceWithRetry(ctx, func(ctx context.Context) (*v4.PresignedHTTPRequest, error) {
		return s.presign.PresignUploadPart(ctx, &s3.UploadPartInput{
			Bucket:     aws.String(s.bucket),
			Key:        aws.String(key),
			UploadId:   aws.String(backendUploadID),
			PartNumber: aws.Int32(partNumber),
		}, s3.WithPresignExpires(s.expiry))
	})
	if err != nil {
		return nil, fmt.Errorf("presign part %d for %s: %w", partNumber, key, err)
	}

	return s.authorization(req), nil
}

// presignOnceWithRetry retries a failed signing attempt once after a short
// delay. Signing is local, so a failure here is almost always transient.
func (s *S3Signer) presignOnceWithRetry(ctx context.Context, sign func(context.Context) (*v4.PresignedHTTPRequest, error)) (*v4.PresignedHTTPRequest, error) {
	req, err := sign(ctx)
	if err == nil {
		return req, nil
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(s.retryDelay):
	}
	return sign(ctx)
}

func (s *S3Signer) authorization(req *v4.PresignedHTTPRequest) *Authorization {
	return &Authorization{
		URL:          req.URL,
		Method:       req.Method,
		SignedHeader: req.SignedHeader,
		ExpiresAt:    time.Now().Add(s.expiry),
	}
}

var _ Signer = (*S3Signer)(nil)
