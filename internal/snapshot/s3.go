package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/prn-tf/vidsnag/internal/config"
	"github.com/prn-tf/vidsnag/internal/pkg/crypto"
)

// ObjectPutter is the subset of *s3.Client used for uploads.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Uploader stores snapshots in an S3 (or S3-compatible) bucket.
type S3Uploader struct {
	client ObjectPutter
	bucket string
	prefix string
	logger zerolog.Logger
}

// NewS3Client builds an S3 client from cfg. Static credentials are used when
// both keys are set; otherwise the default AWS credential chain applies.
func NewS3Client(ctx context.Context, cfg config.S3ExportConfig) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// NewS3Uploader creates an uploader writing below prefix in bucket.
func NewS3Uploader(client ObjectPutter, bucket, prefix string, logger zerolog.Logger) *S3Uploader {
	return &S3Uploader{
		client: client,
		bucket: bucket,
		prefix: prefix,
		logger: logger.With().Str("component", "s3-export").Logger(),
	}
}

// ObjectKey returns the key a snapshot generated at t is stored under.
func (u *S3Uploader) ObjectKey(t time.Time) string {
	prefix := u.prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix + "vidsnag-" + t.UTC().Format("20060102T150405Z") + ".json"
}

// Upload writes s to the bucket with a SHA-256 checksum and returns its key.
func (u *S3Uploader) Upload(ctx context.Context, s *Snapshot) (string, error) {
	var buf bytes.Buffer
	if err := s.Write(&buf); err != nil {
		return "", err
	}

	body := buf.Bytes()
	hr := crypto.NewHashReader(bytes.NewReader(body))
	if _, err := io.Copy(io.Discard, hr); err != nil {
		return "", err
	}

	key := u.ObjectKey(s.GeneratedAt)
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:         aws.String(u.bucket),
		Key:            aws.String(key),
		Body:           bytes.NewReader(body),
		ContentType:    aws.String("application/json"),
		ContentLength:  aws.Int64(hr.Size()),
		ChecksumSHA256: aws.String(hr.SHA256Base64()),
		Metadata: map[string]string{
			"sha256": hr.SHA256(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload snapshot: %w", err)
	}

	u.logger.Info().
		Str("bucket", u.bucket).
		Str("key", key).
		Int64("bytes", hr.Size()).
		Int("users", len(s.Users)).
		Int("downloads", len(s.Downloads)).
		Msg("snapshot uploaded")

	return key, nil
}
