// Package storage 提供了与对象存储服务（MinIO）交互的功能，用于归档项目文件。
package storage

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"sitebot-go/internal/config"
	"sitebot-go/pkg/log"
)

// ObjectStore 归档项目文件。
type ObjectStore interface {
	UploadFile(ctx context.Context, objectName, filePath string) error
	RemovePrefix(ctx context.Context, prefix string) error
	PresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error)
}

type minioStore struct {
	client *minio.Client
	bucket string
}

// NewMinIO 初始化 MinIO 客户端并确保指定的存储桶存在。
func NewMinIO(ctx context.Context, cfg config.MinIOConfig) (ObjectStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 MinIO 客户端失败: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("检查 MinIO 存储桶失败: %w", err)
	}
	if !exists {
		log.Infof("[MinIO] 存储桶 '%s' 不存在，正在创建...", cfg.BucketName)
		if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("创建 MinIO 存储桶失败: %w", err)
		}
	}
	log.Infof("[MinIO] 客户端初始化成功, bucket=%s", cfg.BucketName)
	return &minioStore{client: client, bucket: cfg.BucketName}, nil
}

// UploadFile 上传本地文件，Content-Type 按扩展名推断。
func (s *minioStore) UploadFile(ctx context.Context, objectName, filePath string) error {
	contentType := mime.TypeByExtension(filepath.Ext(filePath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.client.FPutObject(ctx, s.bucket, objectName, filePath, minio.PutObjectOptions{ContentType: contentType})
	return err
}

// RemovePrefix 删除前缀下的全部对象。
func (s *minioStore) RemovePrefix(ctx context.Context, prefix string) error {
	objects := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true})
	var errs []error
	for rerr := range s.client.RemoveObjects(ctx, s.bucket, objects, minio.RemoveObjectsOptions{}) {
		errs = append(errs, fmt.Errorf("remove %s: %w", rerr.ObjectName, rerr.Err))
	}
	return errors.Join(errs...)
}

// PresignedURL generates a presigned URL for a given object.
func (s *minioStore) PresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, objectName, expiry, nil)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// ProjectPrefix 是项目在桶里的前缀。
func ProjectPrefix(projectID string) string {
	return path.Join("projects", projectID) + "/"
}

// DocumentObject 返回下载文档的归档对象名。
func DocumentObject(projectID, filename string) string {
	return path.Join("projects", projectID, "documents", filepath.Base(filename))
}

// IndexObject 返回索引快照文件的对象名。
func IndexObject(projectID, filename string) string {
	return path.Join("projects", projectID, "index", filepath.Base(filename))
}

// UploadDir 上传目录下的普通文件（不递归），对象名由 name 生成。
func UploadDir(ctx context.Context, store ObjectStore, dir string, name func(filename string) string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if err := store.UploadFile(ctx, name(e.Name()), filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}
