package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"

	"grit-server/pkg/config"
	"grit-server/pkg/session"
)

// S3Archiver writes final session summaries to object storage. Keys are
// derived from the session id, so a summary is written at most once;
// nothing in this process ever reads or rewrites an archived object.
type S3Archiver struct {
	client    *s3.Client
	bucket    string
	keyPrefix string
	logger    *logrus.Logger
}

// NewS3Archiver builds the archiver from the default AWS credential
// chain.
func NewS3Archiver(ctx context.Context, cfg config.ArchiveConfig, logger *logrus.Logger) (*S3Archiver, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	archiver := &S3Archiver{
		client:    s3.NewFromConfig(awsCfg),
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
		logger:    logger,
	}

	logger.WithFields(logrus.Fields{
		"bucket": cfg.Bucket,
		"region": cfg.Region,
	}).Info("S3 archive initialized")

	return archiver, nil
}

// ArchiveSummary uploads one session summary as a JSON object.
func (a *S3Archiver) ArchiveSummary(ctx context.Context, summary *session.EndSummary) error {
	body, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal session summary: %w", err)
	}

	key := a.objectKey(summary.SessionID)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to archive session summary: %w", err)
	}

	a.logger.WithFields(logrus.Fields{
		"session_id": summary.SessionID,
		"key":        key,
	}).Info("Session summary archived")

	return nil
}

func (a *S3Archiver) objectKey(sessionID string) string {
	prefix := a.keyPrefix
	if prefix == "" {
		prefix = "sessions/"
	}
	return prefix + sessionID + ".json"
}
