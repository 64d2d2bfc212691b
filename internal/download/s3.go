package download

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/groundwork-sh/groundwork/internal/retry"
)

// S3Config carries the object store connection settings for s3:// dump
// sources.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// S3ConfigFromEnv reads GROUNDWORK_S3_* settings.
func S3ConfigFromEnv() (S3Config, error) {
	cfg := S3Config{
		Endpoint:  os.Getenv("GROUNDWORK_S3_ENDPOINT"),
		AccessKey: os.Getenv("GROUNDWORK_S3_ACCESS_KEY"),
		SecretKey: os.Getenv("GROUNDWORK_S3_SECRET_KEY"),
		Region:    envDefault("GROUNDWORK_S3_REGION", "us-east-1"),
		UseSSL:    os.Getenv("GROUNDWORK_S3_USE_SSL") == "true",
	}
	if err := cfg.Validate(); err != nil {
		return S3Config{}, err
	}
	return cfg, nil
}

func (c S3Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return fmt.Errorf("GROUNDWORK_S3_ENDPOINT is required for s3:// sources")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return fmt.Errorf("GROUNDWORK_S3_ACCESS_KEY is required for s3:// sources")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return fmt.Errorf("GROUNDWORK_S3_SECRET_KEY is required for s3:// sources")
	}
	return nil
}

func newS3Client(cfg S3Config) (*minio.Client, error) {
	return minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
}

func fetchS3(ctx context.Context, u *url.URL, dest string) (int64, error) {
	cfg, err := S3ConfigFromEnv()
	if err != nil {
		return 0, retry.Fatal(err)
	}
	client, err := newS3Client(cfg)
	if err != nil {
		return 0, retry.Fatal(fmt.Errorf("creating s3 client: %w", err))
	}

	bucket := u.Host
	key := strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return 0, retry.Fatal(fmt.Errorf("s3 url must be s3://bucket/key, got %q", u.String()))
	}

	obj, err := client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return 0, fmt.Errorf("fetching s3://%s/%s: %w", bucket, key, err)
	}
	defer obj.Close()

	written, err := writeAtomic(dest, obj)
	if err != nil {
		return 0, err
	}
	return written, nil
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
