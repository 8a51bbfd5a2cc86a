package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"
	"path"
	"strings"
	"time"

	"Choirbook/config"
	"Choirbook/logger"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrObjectNotFound 对象不存在
var ErrObjectNotFound = errors.New("object not found")

// MediaPrefix is the route under which proxied objects are served.
const MediaPrefix = "/media/"

// 存储键前缀
const (
	SheetMusicPrefix = "sheet_music"
	RecordingsPrefix = "recordings"
)

// Object is an opened stored file.
type Object struct {
	Body        io.ReadCloser
	Size        int64
	ContentType string
	ModTime     time.Time
}

// FileStorage resolves and serves uploaded sheet music and recordings.
type FileStorage interface {
	URL(ctx context.Context, key string) (string, error)
	Open(ctx context.Context, key string) (*Object, error)
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
}

// MinioStorage 基于 MinIO 的文件存储
type MinioStorage struct {
	client        *minio.Client
	bucket        string
	region        string
	presign       bool
	presignExpiry time.Duration
}

// NewMinioStorage 创建 MinIO 客户端（不发起网络请求）
func NewMinioStorage(cfg *config.Config) (*MinioStorage, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("创建 MinIO 客户端失败: %w", err)
	}
	return &MinioStorage{
		client:        client,
		bucket:        cfg.MinioBucket,
		region:        cfg.MinioRegion,
		presign:       cfg.MinioPresign,
		presignExpiry: cfg.MinioPresignExpiry,
	}, nil
}

// Client exposes the underlying MinIO client for administrative commands.
func (s *MinioStorage) Client() *minio.Client {
	return s.client
}

// Bucket returns the configured bucket name.
func (s *MinioStorage) Bucket() string {
	return s.bucket
}

// EnsureBucket 检查存储桶是否存在，不存在则创建
func (s *MinioStorage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("检查存储桶失败: %w", err)
	}
	if exists {
		logger.Info("存储桶已存在", logger.String("bucket", s.bucket))
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("创建存储桶失败: %w", err)
	}
	logger.Info("成功创建存储桶", logger.String("bucket", s.bucket))
	return nil
}

// URL returns a presigned GET URL, or the /media/ proxy path when presigning is off.
func (s *MinioStorage) URL(ctx context.Context, key string) (string, error) {
	if !s.presign {
		return MediaURL(key), nil
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.presignExpiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("failed to presign %q: %w", key, err)
	}
	return u.String(), nil
}

// Open 读取对象
func (s *MinioStorage) Open(ctx context.Context, key string) (*Object, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapMinioError(key, err)
	}
	// GetObject is lazy; Stat forces the request so a missing key surfaces here.
	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		return nil, mapMinioError(key, err)
	}
	return &Object{Body: obj, Size: info.Size, ContentType: info.ContentType, ModTime: info.LastModified}, nil
}

// Put 上传对象
func (s *MinioStorage) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("上传文件失败 %q: %w", key, err)
	}
	return nil
}

// Remove 删除对象，对象不存在时不报错
func (s *MinioStorage) Remove(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("删除文件失败 %q: %w", key, err)
	}
	return nil
}

func mapMinioError(key string, err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return fmt.Errorf("%q: %w", key, ErrObjectNotFound)
	}
	return fmt.Errorf("failed to read %q: %w", key, err)
}

// MediaURL builds the proxied path for a key, escaping each path segment.
func MediaURL(key string) string {
	segments := strings.Split(strings.TrimPrefix(key, "/"), "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return MediaPrefix + strings.Join(segments, "/")
}

// ObjectKey builds a collision-free key under prefix that keeps the original extension.
func ObjectKey(prefix, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	return path.Join(prefix, uuid.NewString()+ext)
}

// 常见乐谱和录音格式，系统 mime 表不一定包含
var mediaTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".wav":  "audio/wav",
	".ogg":  "audio/ogg",
	".flac": "audio/flac",
	".pdf":  "application/pdf",
}

// ContentType guesses a MIME type from the key's extension.
func ContentType(key string) string {
	ext := strings.ToLower(path.Ext(key))
	if ct, ok := mediaTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
