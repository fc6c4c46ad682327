package export

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "lincsquery/config"
	"lincsquery/logger"
)

// Archiver uploads export artifacts to S3 so query results survive beyond
// the local export directory. A nil Archiver means archiving is disabled.
type Archiver struct {
	cfg     appconfig.S3Config
	version string
	client  *s3.Client
	log     *logger.Log
}

// NewArchiver builds the S3 archiver, or returns nil when the storage
// section disables it.
func NewArchiver(ctx context.Context, cfg *appconfig.Config) (*Archiver, error) {
	if !cfg.Storage.S3.Enabled {
		return nil, nil
	}

	log := logger.GetLogger()

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Storage.S3.Region),
	}
	if cfg.Storage.S3.AccessKeyID != "" && cfg.Storage.S3.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.Storage.S3.AccessKeyID,
				cfg.Storage.S3.SecretAccessKey,
				"",
			),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		log.WithComponent("s3_archiver").WithError(err).Warn("failed to load AWS configuration")
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	creds, err := awsConfig.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("aws credentials not found")
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Storage.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.S3.Endpoint)
		}
		o.UsePathStyle = cfg.Storage.S3.PathStyle
	})

	log.WithComponent("s3_archiver").WithFields(logger.Fields{
		"bucket":     cfg.Storage.S3.Bucket,
		"region":     cfg.Storage.S3.Region,
		"endpoint":   cfg.Storage.S3.Endpoint,
		"path_style": cfg.Storage.S3.PathStyle,
		"prefix":     cfg.Storage.S3.Prefix,
	}).Info("s3 archiver initialized")

	return &Archiver{
		cfg:     cfg.Storage.S3,
		version: cfg.Lincsquery.Version,
		client:  client,
		log:     log,
	}, nil
}

// Archive uploads one artifact and returns its object key. Keys follow
// {prefix}/{GENE}/{filename} so a bucket listing groups artifacts by gene.
func (a *Archiver) Archive(ctx context.Context, gene, filename string, data []byte, contentType string) (string, error) {
	key := a.objectKey(gene, filename)

	log := a.log.WithComponent("s3_archiver").WithFields(logger.Fields{
		"bucket":    a.cfg.Bucket,
		"key":       key,
		"data_size": len(data),
	})
	log.Info("archiving artifact")

	input := &s3.PutObjectInput{
		Bucket:      aws.String(a.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			"gene":               strings.ToUpper(gene),
			"lincsquery-version": a.version,
		},
	}
	if _, err := a.client.PutObject(ctx, input); err != nil {
		log.WithError(err).Error("failed to archive artifact")
		return "", fmt.Errorf("upload to S3 bucket %s: %w", a.cfg.Bucket, err)
	}

	log.Info("artifact archived")
	return key, nil
}

func (a *Archiver) objectKey(gene, filename string) string {
	parts := make([]string, 0, 3)
	if p := strings.Trim(a.cfg.Prefix, "/"); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts, strings.ToUpper(gene), filename)
	return path.Join(parts...)
}
