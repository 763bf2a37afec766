// Package archive copies pruned jobs to S3-compatible object storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"recruiting-ai-queue/internal/config"
	"recruiting-ai-queue/internal/models"
)

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver writes each job as JSON to s3://<bucket>/<prefix>/<queue>/<yyyy/mm/dd>/<id>.json,
// dated by the job's finish time.
type S3Archiver struct {
	client objectPutter
	bucket string
	prefix string
	log    zerolog.Logger
}

// NewS3 builds an archiver from config using the default AWS credential chain.
func NewS3(ctx context.Context, cfg config.ArchiveConfig, logger zerolog.Logger) (*S3Archiver, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		o.UsePathStyle = cfg.S3PathStyle
	})
	return newS3Archiver(client, cfg.S3Bucket, cfg.S3Prefix, logger), nil
}

func newS3Archiver(client objectPutter, bucket, prefix string, logger zerolog.Logger) *S3Archiver {
	return &S3Archiver{client: client, bucket: bucket, prefix: prefix, log: logger}
}

// Archive uploads every job. It stops at the first failure so the caller keeps the batch.
func (a *S3Archiver) Archive(ctx context.Context, queue string, jobs []models.Job) error {
	for _, job := range jobs {
		body, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("marshal job %s: %w", job.ID, err)
		}
		key := a.objectKey(queue, job)
		_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(a.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(body),
			ContentType: aws.String("application/json"),
		})
		if err != nil {
			return fmt.Errorf("put object %s: %w", key, err)
		}
	}
	if len(jobs) > 0 {
		a.log.Info().Str("queue", queue).Int("count", len(jobs)).Str("bucket", a.bucket).Msg("archived jobs")
	}
	return nil
}

func (a *S3Archiver) objectKey(queue string, job models.Job) string {
	ts := job.UpdatedAt
	if job.FinishedAt != nil {
		ts = *job.FinishedAt
	}
	if ts.IsZero() {
		ts = time.Now()
	}
	return path.Join(a.prefix, queue, ts.UTC().Format("2006/01/02"), job.ID+".json")
}
