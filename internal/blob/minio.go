package blob

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Options configures the MinIO accessor.
type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
}

// MinioAccessor implements Accessor over MinIO/S3. Object paths are
// "bucket/key" strings so the engine can reference the files and backup
// buckets through one opaque handle.
type MinioAccessor struct {
	client *minio.Client
	region string
}

// NewMinio creates a MinIO-backed accessor.
func NewMinio(opts Options) (*MinioAccessor, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &MinioAccessor{client: client, region: opts.Region}, nil
}

// EnsureBuckets makes sure the given buckets exist before use.
func (a *MinioAccessor) EnsureBuckets(ctx context.Context, buckets ...string) error {
	for _, bucket := range buckets {
		exists, err := a.client.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("check bucket %s: %w", bucket, err)
		}
		if !exists {
			if err := a.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: a.region}); err != nil {
				return fmt.Errorf("make bucket %s: %w", bucket, err)
			}
		}
	}
	return nil
}

func splitPath(path string) (bucket, key string, err error) {
	bucket, key, ok := strings.Cut(path, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("malformed object path %q", path)
	}
	return bucket, key, nil
}

// Exists reports whether an object is present at path.
func (a *MinioAccessor) Exists(ctx context.Context, path string) (bool, error) {
	bucket, key, err := splitPath(path)
	if err != nil {
		return false, err
	}
	_, err = a.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("stat object %s: %w", path, err)
	}
	return true, nil
}

// Copy server-side copies src to dst.
func (a *MinioAccessor) Copy(ctx context.Context, src, dst string) error {
	srcBucket, srcKey, err := splitPath(src)
	if err != nil {
		return err
	}
	dstBucket, dstKey, err := splitPath(dst)
	if err != nil {
		return err
	}
	_, err = a.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: dstBucket, Object: dstKey},
		minio.CopySrcOptions{Bucket: srcBucket, Object: srcKey})
	if err != nil {
		return fmt.Errorf("copy object %s -> %s: %w", src, dst, err)
	}
	return nil
}

// Delete removes the object at path. Removing a missing object is not an
// error on S3; Delete mirrors that.
func (a *MinioAccessor) Delete(ctx context.Context, path string) error {
	bucket, key, err := splitPath(path)
	if err != nil {
		return err
	}
	if err := a.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %s: %w", path, err)
	}
	return nil
}

// Stat returns size and modification time of the object at path.
func (a *MinioAccessor) Stat(ctx context.Context, path string) (Stat, error) {
	bucket, key, err := splitPath(path)
	if err != nil {
		return Stat{}, err
	}
	info, err := a.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return Stat{}, ErrObjectMissing
		}
		return Stat{}, fmt.Errorf("stat object %s: %w", path, err)
	}
	return Stat{Size: info.Size, ModTime: info.LastModified}, nil
}

// Upload streams an object to path. Used by the upload receiver, not the
// engine.
func (a *MinioAccessor) Upload(ctx context.Context, path string, r io.Reader, size int64, contentType string) error {
	bucket, key, err := splitPath(path)
	if err != nil {
		return err
	}
	_, err = a.client.PutObject(ctx, bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("upload object %s: %w", path, err)
	}
	return nil
}

// PresignGet returns a signed GET URL forcing an attachment filename.
func (a *MinioAccessor) PresignGet(ctx context.Context, path, filename string, ttl time.Duration) (string, error) {
	bucket, key, err := splitPath(path)
	if err != nil {
		return "", err
	}
	params := url.Values{}
	params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", filename))
	u, err := a.client.PresignedGetObject(ctx, bucket, key, ttl, params)
	if err != nil {
		return "", fmt.Errorf("presign object %s: %w", path, err)
	}
	return u.String(), nil
}
