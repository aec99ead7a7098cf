package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/maneesh/epubshelf/internal/logger"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("epubshelf-storage")

// MinioClient wraps MinIO operations with tracing
type MinioClient struct {
	client     *minio.Client
	bucketName string
	presignTTL time.Duration
}

// NewMinioClient initializes a new MinIO client and makes sure the bucket exists
func NewMinioClient(ctx context.Context, log *logger.Logger, endpoint, accessKey, secretKey, bucketName string, useSSL bool, presignTTL time.Duration) (*MinioClient, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	mc := &MinioClient{
		client:     client,
		bucketName: bucketName,
		presignTTL: presignTTL,
	}

	exists, err := client.BucketExists(ctx, bucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		log.Info("creating bucket", "bucket", bucketName)
		err = client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{})
		if err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
		log.Info("bucket created", "bucket", bucketName)
	}

	return mc, nil
}

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == 404
}

// PutObject uploads data under objectKey without overwriting. If the key is
// already taken, ErrObjectExists is returned and nothing is written.
func (mc *MinioClient) PutObject(ctx context.Context, objectKey string, data []byte, contentType string) error {
	ctx, span := tracer.Start(ctx, "minio.put_object",
		trace.WithAttributes(
			attribute.String("object_key", objectKey),
			attribute.Int("size_bytes", len(data)),
		),
	)
	defer span.End()

	_, err := mc.client.StatObject(ctx, mc.bucketName, objectKey, minio.StatObjectOptions{})
	if err == nil {
		span.SetAttributes(attribute.Bool("object_exists", true))
		return ErrObjectExists
	} else if !isNoSuchKey(err) {
		span.RecordError(err)
		return fmt.Errorf("failed to stat object: %w", err)
	}

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err = mc.client.PutObject(ctx, mc.bucketName, objectKey, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to upload object: %w", err)
	}

	span.SetAttributes(attribute.Bool("upload_success", true))
	return nil
}

// GetObject opens objectKey for reading and reports its size. The caller closes the reader.
func (mc *MinioClient) GetObject(ctx context.Context, objectKey string) (io.ReadCloser, int64, error) {
	ctx, span := tracer.Start(ctx, "minio.get_object",
		trace.WithAttributes(
			attribute.String("object_key", objectKey),
		),
	)
	defer span.End()

	object, err := mc.client.GetObject(ctx, mc.bucketName, objectKey, minio.GetObjectOptions{})
	if err != nil {
		span.RecordError(err)
		return nil, 0, fmt.Errorf("failed to get object: %w", err)
	}

	info, err := object.Stat()
	if err != nil {
		object.Close()
		if isNoSuchKey(err) {
			return nil, 0, ErrNotFound
		}
		span.RecordError(err)
		return nil, 0, fmt.Errorf("failed to stat object: %w", err)
	}

	span.SetAttributes(attribute.Int64("size_bytes", info.Size))
	return object, info.Size, nil
}

// DeleteObject removes objectKey. Removing a missing object is a no-op.
func (mc *MinioClient) DeleteObject(ctx context.Context, objectKey string) error {
	ctx, span := tracer.Start(ctx, "minio.delete_object",
		trace.WithAttributes(
			attribute.String("object_key", objectKey),
		),
	)
	defer span.End()

	err := mc.client.RemoveObject(ctx, mc.bucketName, objectKey, minio.RemoveObjectOptions{})
	if err != nil && !isNoSuchKey(err) {
		span.RecordError(err)
		return fmt.Errorf("failed to delete object: %w", err)
	}

	return nil
}

// PresignGet returns a time-limited download URL for objectKey
func (mc *MinioClient) PresignGet(ctx context.Context, objectKey string) (string, error) {
	ctx, span := tracer.Start(ctx, "minio.presign_get",
		trace.WithAttributes(
			attribute.String("object_key", objectKey),
		),
	)
	defer span.End()

	u, err := mc.client.PresignedGetObject(ctx, mc.bucketName, objectKey, mc.presignTTL, url.Values{})
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to presign object: %w", err)
	}
	return u.String(), nil
}
