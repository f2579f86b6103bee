package publishing

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	gonanoid "github.com/matoous/go-nanoid/v2"

	config "github.com/maheshrc27/seriesflow/configs"
	"github.com/maheshrc27/seriesflow/internal/media"
)

// Stager makes media reachable by a public URL for APIs that fetch media
// themselves instead of accepting an upload.
type Stager interface {
	Stage(ctx context.Context, data []byte, mimeType string) (publicURL, key string, err error)
	Remove(ctx context.Context, key string) error
}

// ObjectAPI is the subset of the S3 client the stager uses.
type ObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// R2Stager stages media in a Cloudflare R2 bucket with a public base URL.
type R2Stager struct {
	client     ObjectAPI
	bucket     string
	publicBase string
}

func NewR2Stager(client ObjectAPI, bucket, publicBaseURL string) *R2Stager {
	return &R2Stager{
		client:     client,
		bucket:     bucket,
		publicBase: strings.TrimRight(publicBaseURL, "/"),
	}
}

// NewR2Client builds an S3 client pointed at the account's R2 endpoint.
func NewR2Client(ctx context.Context, cfg config.R2) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
		awsconfig.WithRegion("auto"),
	)
	if err != nil {
		slog.Info(err.Error())
		return nil, fmt.Errorf("failed to load r2 config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID))
	}), nil
}

func (r *R2Stager) Stage(ctx context.Context, data []byte, mimeType string) (string, string, error) {
	id, err := gonanoid.New()
	if err != nil {
		return "", "", err
	}
	key := "series/" + id + media.ExtensionFor(mimeType)

	_, err = r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(mimeType),
	})
	if err != nil {
		slog.Info(err.Error())
		return "", "", fmt.Errorf("failed to stage media: %w", err)
	}

	return r.publicBase + "/" + key, key, nil
}

func (r *R2Stager) Remove(ctx context.Context, key string) error {
	_, err := r.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	return err
}
