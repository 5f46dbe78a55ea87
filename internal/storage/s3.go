package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/vodpipe/internal/apperror"
	"github.com/abdul-hamid-achik/vodpipe/internal/logger"
	"github.com/abdul-hamid-achik/vodpipe/internal/tracing"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// s3API is the subset of *s3.Client used by S3Backend.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	PutObjectAcl(ctx context.Context, in *s3.PutObjectAclInput, optFns ...func(*s3.Options)) (*s3.PutObjectAclOutput, error)
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, in *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
	ListParts(ctx context.Context, in *s3.ListPartsInput, optFns ...func(*s3.Options)) (*s3.ListPartsOutput, error)
}

var _ Backend = (*S3Backend)(nil)

type S3Backend struct {
	client  s3API
	presign *s3.PresignClient
	bucket  string
	config  *Config
}

func NewS3Backend(ctx context.Context, cfg *Config) (*S3Backend, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Backend{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
		config:  cfg,
	}, nil
}

func newS3BackendWithClient(client s3API, cfg *Config) *S3Backend {
	return &S3Backend{client: client, bucket: cfg.Bucket, config: cfg}
}

func (s *S3Backend) span(ctx context.Context, op, key string) (context.Context, trace.Span) {
	return tracing.StartSpan(ctx, "storage.s3."+op, trace.WithAttributes(
		attribute.String("bucket", s.bucket),
		attribute.String("key", key),
	))
}

func (s *S3Backend) Upload(ctx context.Context, key string, reader io.Reader, contentType string, size int64) error {
	ctx, span := s.span(ctx, "upload", key)
	defer span.End()
	start := time.Now()

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          reader,
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("upload to %s: %w", key, classifyS3Error(err))
	}

	logger.FromContext(ctx).Debug("storage upload completed", "bucket", s.bucket, "key", key, "size", size, "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (s *S3Backend) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	ctx, span := s.span(ctx, "download", key)
	defer span.End()

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if s3ErrorIs404(err) {
			return nil, ErrNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("download %s: %w", key, classifyS3Error(err))
	}
	return out.Body, nil
}

func (s *S3Backend) Delete(ctx context.Context, key string) error {
	ctx, span := s.span(ctx, "delete", key)
	defer span.End()

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("delete %s: %w", key, classifyS3Error(err))
	}
	return nil
}

func (s *S3Backend) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if s3ErrorIs404(err) {
			return false, nil
		}
		return false, fmt.Errorf("check exists %s: %w", key, classifyS3Error(err))
	}
	return true, nil
}

func (s *S3Backend) PublicURL(key string) string {
	if s.config.PublicBaseURL != "" {
		return strings.TrimRight(s.config.PublicBaseURL, "/") + "/" + key
	}
	if s.config.Endpoint != "" {
		return strings.TrimRight(s.config.Endpoint, "/") + "/" + s.bucket + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.config.Region, key)
}

func (s *S3Backend) SignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if s.presign == nil {
		return "", fmt.Errorf("presign %s: no presign client", key)
	}
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return req.URL, nil
}

func (s *S3Backend) MakePublic(ctx context.Context, key string) error {
	_, err := s.client.PutObjectAcl(ctx, &s3.PutObjectAclInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		ACL:    types.ObjectCannedACLPublicRead,
	})
	if err != nil {
		if s3ErrorIs404(err) {
			return ErrNotFound
		}
		return fmt.Errorf("make public %s: %w", key, classifyS3Error(err))
	}
	return nil
}

func (s *S3Backend) HealthCheck(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		return fmt.Errorf("head bucket %s: %w", s.bucket, err)
	}
	return nil
}

func (s *S3Backend) StartSession(ctx context.Context, key, contentType string) (string, error) {
	out, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("create multipart upload %s: %w", key, classifyS3Error(err))
	}
	return aws.ToString(out.UploadId), nil
}

func (s *S3Backend) UploadPart(ctx context.Context, key, sessionID string, part Part, data io.Reader) (CompletedPart, error) {
	out, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		UploadId:      aws.String(sessionID),
		PartNumber:    aws.Int32(part.Number),
		Body:          data,
		ContentLength: aws.Int64(part.Size),
		ContentMD5:    aws.String(part.MD5),
	})
	if err != nil {
		return CompletedPart{}, fmt.Errorf("upload part %d of %s: %w", part.Number, key, classifyS3Error(err))
	}
	return CompletedPart{Number: part.Number, ETag: aws.ToString(out.ETag)}, nil
}

func (s *S3Backend) FinishSession(ctx context.Context, key, sessionID string, parts []CompletedPart) error {
	completed := make([]types.CompletedPart, 0, len(parts))
	for _, p := range parts {
		completed = append(completed, types.CompletedPart{
			ETag:       aws.String(p.ETag),
			PartNumber: aws.Int32(p.Number),
		})
	}

	_, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(sessionID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		return fmt.Errorf("complete multipart upload %s: %w", key, classifyS3Error(err))
	}
	return nil
}

func (s *S3Backend) AbortSession(ctx context.Context, key, sessionID string) error {
	_, err := s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(sessionID),
	})
	if err != nil {
		return fmt.Errorf("abort multipart upload %s: %w", key, classifyS3Error(err))
	}
	return nil
}

func (s *S3Backend) IsSessionFinished(ctx context.Context, key, sessionID string) (bool, error) {
	_, err := s.client.ListParts(ctx, &s3.ListPartsInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(sessionID),
		MaxParts: aws.Int32(1),
	})
	if err == nil {
		return false, nil
	}

	var noUpload *types.NoSuchUpload
	if !errors.As(err, &noUpload) && s3ErrorCode(err) != "NoSuchUpload" {
		return false, fmt.Errorf("list parts %s: %w", key, classifyS3Error(err))
	}

	exists, err := s.Exists(ctx, key)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, ErrSessionNotFound
	}
	return true, nil
}

func s3ErrorIs404(err error) bool {
	var noKeyErr *types.NoSuchKey
	if errors.As(err, &noKeyErr) {
		return true
	}
	var notFound *types.NotFound
	return errors.As(err, &notFound)
}

func s3ErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

// classifyS3Error attaches an apperror code derived from the HTTP status so
// callers can tell throttling and outages from permanent failures.
func classifyS3Error(err error) error {
	var respErr interface{ HTTPStatusCode() int }
	if errors.As(err, &respErr) {
		return apperror.FromStatus(respErr.HTTPStatusCode(), err)
	}
	return err
}
