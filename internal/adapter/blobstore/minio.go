// Package blobstore 基于 S3 兼容对象存储保存源码包。
package blobstore

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/TencentBlueKing/blueking-paas-sub003/internal/port"
)

// UploadFailedError 表示源码包上传失败，部署应就地中止。
type UploadFailedError struct {
	Path string
	Err  error
}

func (e *UploadFailedError) Error() string {
	return fmt.Sprintf("upload %s failed: %v", e.Path, e.Err)
}

func (e *UploadFailedError) Unwrap() error { return e.Err }

// Config 是对象存储的连接配置。
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinioStore 通过 minio 客户端读写源码包。
type MinioStore struct {
	client *minio.Client
	bucket string
}

var _ port.BlobStore = (*MinioStore)(nil)

func NewMinioStore(cfg Config) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init blob store client: %w", err)
	}
	return &MinioStore{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket 创建 bucket，已存在视为成功。
func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
}

func (s *MinioStore) Upload(ctx context.Context, localPath, destPath string) error {
	info, err := s.client.FPutObject(ctx, s.bucket, destPath, localPath, minio.PutObjectOptions{
		ContentType: "application/gzip",
	})
	if err != nil {
		return &UploadFailedError{Path: destPath, Err: err}
	}
	slog.Info("source package uploaded", "path", destPath, "size", info.Size)
	return nil
}

func (s *MinioStore) SignDownload(ctx context.Context, destPath string, ttl time.Duration) (string, error) {
	signed, err := s.client.PresignedGetObject(ctx, s.bucket, destPath, ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", destPath, err)
	}
	return signed.String(), nil
}

// SourcePath 生成源码包的存储路径：<region>/home/<wlapp-name>:<branch>:<revision>/tar。
func SourcePath(region, wlappName, branch, revision string) string {
	return fmt.Sprintf("%s/home/%s:%s:%s/tar", region, wlappName, branch, revision)
}
