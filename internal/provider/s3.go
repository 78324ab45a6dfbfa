package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"gamevault/internal/config"
	"gamevault/internal/storage"
)

// S3Mirror stores the latest backup snapshot as a single object in an S3
// bucket. It is the remote counterpart behind the cloudSync capability:
// Sync pushes a full snapshot; Pull fetches it back for cloud restore.
type S3Mirror struct {
	client     *s3.Client
	uploader   *manager.Uploader
	downloader *manager.Downloader
	bucket     string
	key        string
}

// NewS3Mirror builds a mirror from sync config. Static credentials are used
// when the config carries them; otherwise the default AWS credential chain
// applies.
func NewS3Mirror(ctx context.Context, cfg config.SyncConfig) (*S3Mirror, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 sync requires s3_bucket to be set")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.S3Region),
	}
	if cfg.S3AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg)
	return &S3Mirror{
		client:     client,
		uploader:   manager.NewUploader(client),
		downloader: manager.NewDownloader(client),
		bucket:     cfg.S3Bucket,
		key:        path.Join(cfg.S3Prefix, "snapshot.json"),
	}, nil
}

var _ Mirror = (*S3Mirror)(nil)

// Push uploads a snapshot, replacing the previous one.
func (m *S3Mirror) Push(ctx context.Context, b *storage.Backup) error {
	payload, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("serializing snapshot: %w", err)
	}

	_, err = m.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(m.bucket),
		Key:         aws.String(m.key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("uploading snapshot: %w", err)
	}
	return nil
}

// Pull downloads the most recent snapshot and validates its checksum.
func (m *S3Mirror) Pull(ctx context.Context) (*storage.Backup, error) {
	buf := manager.NewWriteAtBuffer([]byte{})
	_, err := m.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(m.key),
	})
	if err != nil {
		return nil, fmt.Errorf("downloading snapshot: %w", err)
	}

	var b storage.Backup
	if err := json.Unmarshal(buf.Bytes(), &b); err != nil {
		return nil, fmt.Errorf("parsing snapshot: %w", err)
	}
	if err := storage.VerifyBackup(&b); err != nil {
		return nil, err
	}
	return &b, nil
}
