package evidence

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-slot-scheduling/pkg/logging"
)

// S3API is the subset of the S3 client used by Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Store uploads payment evidence to S3 and hands back a stable reference.
type Store struct {
	bucket   string
	client   S3API
	maxBytes int64
	logger   *logging.Logger
	now      func() time.Time
}

func NewStore(client S3API, bucket string, maxBytes int64, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Store{bucket: bucket, client: client, maxBytes: maxBytes, logger: logger, now: time.Now}
}

// NewS3Client builds an S3 client from the default AWS credential chain.
// endpoint overrides the service URL (LocalStack, MinIO).
func NewS3Client(ctx context.Context, region, endpoint string) (*s3.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("evidence: load aws config: %w", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// Enabled reports whether uploads are configured.
func (s *Store) Enabled() bool {
	return s != nil && s.bucket != "" && s.client != nil
}

// Put validates and uploads one file. Nothing is written for a rejected file.
func (s *Store) Put(ctx context.Context, contentType string, r io.Reader) (*Evidence, error) {
	if !s.Enabled() {
		return nil, fmt.Errorf("evidence: storage is not configured")
	}
	contentType = NormalizeContentType(contentType)
	if _, ok := allowedTypes[contentType]; !ok {
		return nil, fmt.Errorf("%w: got %q", ErrUnsupportedType, contentType)
	}

	// Read one byte past the limit so oversized uploads are caught without buffering them whole.
	data, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("evidence: read upload: %w", err)
	}
	if err := CheckFile(contentType, int64(len(data)), s.maxBytes); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	key := fmt.Sprintf("payment-evidence/%d/%02d/%s%s", now.Year(), now.Month(), uuid.NewString(), extensionFor(contentType))

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return nil, fmt.Errorf("evidence: s3 put %s: %w", key, err)
	}

	s.logger.Info("stored payment evidence", "key", key, "content_type", contentType, "size_bytes", len(data))

	return &Evidence{
		Ref:         fmt.Sprintf("s3://%s/%s", s.bucket, key),
		ContentType: contentType,
		SizeBytes:   int64(len(data)),
	}, nil
}
