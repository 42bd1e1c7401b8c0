package writer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "optionflow/config"
	"optionflow/logger"
)

// Uploader pushes finished artifacts (heatmap PNG, optional parquet
// export) to S3. Construction fails when credentials cannot be resolved;
// upload failures are reported to the caller, who decides whether they
// abort the run.
type Uploader struct {
	config   *appconfig.Config
	s3Client *s3.Client
	log      *logger.Log
}

func NewUploader(cfg *appconfig.Config) (*Uploader, error) {
	log := logger.GetLogger()
	ctx := context.Background()

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Storage.S3.Region)}
	if cfg.Storage.S3.AccessKeyID != "" && cfg.Storage.S3.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.Storage.S3.AccessKeyID,
				cfg.Storage.S3.SecretAccessKey,
				"",
			),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		log.WithComponent("s3_uploader").WithError(err).Warn("failed to load AWS configuration")
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("aws credentials not found")
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.S3.Endpoint)
		}
		o.UsePathStyle = cfg.Storage.S3.PathStyle
	})

	log.WithComponent("s3_uploader").WithFields(logger.Fields{
		"bucket": cfg.Storage.S3.Bucket,
		"region": cfg.Storage.S3.Region,
	}).Info("s3 uploader initialized")

	return &Uploader{config: cfg, s3Client: s3Client, log: log}, nil
}

// Key builds the object key for an artifact: asset and date partitions
// under the configured prefix.
func (u *Uploader) Key(asset string, ts time.Time, filename string) string {
	parts := []string{}
	if prefix := u.config.Storage.S3.Prefix; prefix != "" {
		parts = append(parts, prefix)
	}
	parts = append(parts,
		fmt.Sprintf("asset=%s", asset),
		fmt.Sprintf("date=%s", ts.UTC().Format("2006-01-02")),
		filename,
	)
	return path.Join(parts...)
}

// UploadFile reads the local artifact and puts it at key.
func (u *Uploader) UploadFile(ctx context.Context, localPath, key, contentType string) error {
	log := u.log.WithComponent("s3_uploader").WithFields(logger.Fields{
		"bucket": u.config.Storage.S3.Bucket,
		"s3_key": key,
		"path":   localPath,
	})

	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("failed to read artifact: %w", err)
	}

	_, err = u.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.config.Storage.S3.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		log.WithError(err).Error("failed to upload artifact")
		return fmt.Errorf("failed to upload to s3: %w", err)
	}

	log.WithFields(logger.Fields{"file_size": len(data)}).Info("artifact uploaded")
	return nil
}
