package persist

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Store keeps the key-source table in an S3-compatible object store,
// for fleets that distribute one table to many capture hosts. Versions
// are the backend ETags.
type S3Store struct {
	client *minio.Client
	bucket string
	prefix string
}

// S3Config holds the settings needed to reach the object store.
type S3Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// NewS3Store initializes an S3-backed store and verifies the bucket is
// reachable before returning.
func NewS3Store(cfg S3Config) (*S3Store, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("s3 storage requires an endpoint")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 storage requires a bucket")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 client: %w", err)
	}

	store := &S3Store{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}

	if err = store.Ping(); err != nil {
		return nil, err
	}
	return store, nil
}

// NewS3StoreFromConfig creates an S3Store from StoreConfig.
func NewS3StoreFromConfig(config StoreConfig) (*S3Store, error) {
	str := func(key string) string {
		v, _ := config.Config[key].(string)
		return v
	}
	useSSL := true
	if v, ok := config.Config["use_ssl"].(bool); ok {
		useSSL = v
	}

	return NewS3Store(S3Config{
		Endpoint:  str("endpoint"),
		Region:    str("region"),
		Bucket:    str("bucket"),
		Prefix:    str("prefix"),
		AccessKey: str("access_key"),
		SecretKey: str("secret_key"),
		UseSSL:    useSSL,
	})
}

func (s *S3Store) objectName() string {
	if s.prefix == "" {
		return sourcesFileName
	}
	return path.Join(s.prefix, sourcesFileName)
}

// SaveSources uploads the table after checking the expected version
// against the stored object's ETag.
func (s *S3Store) SaveSources(data []byte, expectedVersion string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	current, err := s.currentVersion(ctx)
	if err != nil {
		return "", err
	}
	if expectedVersion != current {
		return "", ConcurrencyError{
			ExpectedVersion: expectedVersion,
			ActualVersion:   current,
			Operation:       "SaveSources",
		}
	}

	info, err := s.client.PutObject(ctx, s.bucket, s.objectName(),
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/yaml"})
	if err != nil {
		return "", fmt.Errorf("failed to upload key-source table: %w", err)
	}

	return strings.Trim(info.ETag, `"`), nil
}

// LoadSources downloads the table and its ETag version.
func (s *S3Store) LoadSources() (*VersionedData, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	obj, err := s.client.GetObject(ctx, s.bucket, s.objectName(), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch key-source table: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to read key-source table: %w", err)
	}

	stat, err := obj.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat key-source table: %w", err)
	}

	return &VersionedData{
		Data:      data,
		Version:   strings.Trim(stat.ETag, `"`),
		Timestamp: stat.LastModified,
	}, nil
}

// SourcesExist reports whether the table object is present.
func (s *S3Store) SourcesExist() (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	_, err := s.client.StatObject(ctx, s.bucket, s.objectName(), minio.StatObjectOptions{})
	if err != nil {
		if resp := minio.ToErrorResponse(err); resp.Code == "NoSuchKey" {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Ping verifies the bucket exists and is reachable.
func (s *S3Store) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to connect to s3: %w", err)
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist", s.bucket)
	}
	return nil
}

// Close is a no-op; the underlying client holds no persistent state.
func (s *S3Store) Close() error {
	return nil
}

// GetType identifies the backend.
func (s *S3Store) GetType() string {
	return string(StoreTypeS3)
}

func (s *S3Store) currentVersion(ctx context.Context) (string, error) {
	stat, err := s.client.StatObject(ctx, s.bucket, s.objectName(), minio.StatObjectOptions{})
	if err != nil {
		if resp := minio.ToErrorResponse(err); resp.Code == "NoSuchKey" {
			return "", nil
		}
		return "", fmt.Errorf("failed to stat key-source table: %w", err)
	}
	return strings.Trim(stat.ETag, `"`), nil
}
