// Command verify is an operator tool for checking that the configured
// temporary credential is usable and that completed uploads are durably
// stored. With no flags it probes the bucket by opening and immediately
// aborting a throwaway multipart session; with -key it downloads the object
// and reports its size.
package main

import (
	"context"
	"flag"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"

	"media-uploader/internal/config"
)

const probeKey = "healthcheck/multipart-probe"

func main() {
	key := flag.String("key", "", "object key to download and verify; empty runs the credential probe")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if cfg.Storage.Bucket == "" {
		logger.Fatalf("storage bucket is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	client, err := buildClient(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("build s3 client: %v", err)
	}

	if *key == "" {
		probeCredentials(ctx, client, cfg.Storage.Bucket, logger)
		return
	}
	verifyObject(ctx, client, cfg.Storage.Bucket, *key, logger)
}

// buildClient prefers the deposited session credentials and falls back to the
// default AWS credential chain so the tool also works from an operator shell.
func buildClient(ctx context.Context, cfg config.Config, logger *logrus.Logger) (*s3.Client, error) {
	if cfg.AWS.AccessKeyID != "" && cfg.AWS.SecretAccessKey != "" {
		expiry, err := cfg.CredentialExpiry()
		if err != nil {
			return nil, err
		}
		logger.Infof("using configured session credentials (expire %s)", expiry.Format(time.RFC3339))
		awsCfg := aws.Config{
			Region:      cfg.Storage.Region,
			Credentials: awscreds.NewStaticCredentialsProvider(cfg.AWS.AccessKeyID, cfg.AWS.SecretAccessKey, cfg.AWS.SessionToken),
		}
		return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if cfg.Storage.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
				o.UsePathStyle = true
			}
		}), nil
	}

	logger.Info("no session credentials configured, using default credential chain")
	awsCfg, err := awscfg.LoadDefaultConfig(ctx, awscfg.WithRegion(cfg.Storage.Region))
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

func probeCredentials(ctx context.Context, client *s3.Client, bucket string, logger *logrus.Logger) {
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
		logger.Fatalf("head bucket %s: %v", bucket, err)
	}
	logger.Infof("head bucket %s ok", bucket)

	out, err := client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(probeKey),
	})
	if err != nil {
		logger.Fatalf("create multipart probe: %v", err)
	}
	uploadID := aws.ToString(out.UploadId)
	logger.Infof("multipart init ok (upload id %s)", uploadID)

	if _, err := client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(bucket),
		Key:      aws.String(probeKey),
		UploadId: aws.String(uploadID),
	}); err != nil {
		logger.Fatalf("abort multipart probe: %v", err)
	}
	logger.Info("multipart abort ok, credentials are usable")
}

func verifyObject(ctx context.Context, client *s3.Client, bucket, key string, logger *logrus.Logger) {
	head, err := client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		logger.Fatalf("head object %s: %v", key, err)
	}
	expected := aws.ToInt64(head.ContentLength)
	logger.Infof("object %s exists (%d bytes, etag %s)", key, expected, aws.ToString(head.ETag))

	buf := manager.NewWriteAtBuffer(nil)
	downloader := manager.NewDownloader(client)
	n, err := downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		logger.Fatalf("download object %s: %v", key, err)
	}
	if n != expected {
		logger.Fatalf("object %s: downloaded %d bytes, head reported %d", key, n, expected)
	}
	logger.Infof("object %s verified: %d bytes downloaded", key, n)
}
