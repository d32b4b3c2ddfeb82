package s3

import (
    "context"
    "fmt"
    "net/url"
    "strings"
    "time"

    "lienzo/internal/ports"

    "github.com/minio/minio-go/v7"
    "github.com/minio/minio-go/v7/pkg/credentials"
)

// Uploaded objects stay reachable for a week, matching the retention the
// platform promises for job artifacts.
const presignExpiry = 7 * 24 * time.Hour

type Config struct {
    EndpointURL     string
    AccessKeyID     string
    SecretAccessKey string
    Bucket          string
    Region          string
    UseSSL          bool
}

// Client implements ports.StorageProvider against any S3-compatible
// bucket endpoint (AWS, MinIO, R2, ...).
type Client struct {
    mc     *minio.Client
    bucket string
}

func New(cfg Config) (*Client, error) {
    if cfg.EndpointURL == "" {
        return nil, fmt.Errorf("s3: endpoint_url is required")
    }
    if cfg.Bucket == "" {
        return nil, fmt.Errorf("s3: bucket is required")
    }

    endpoint := cfg.EndpointURL
    secure := cfg.UseSSL
    if strings.Contains(endpoint, "://") {
        u, err := url.Parse(endpoint)
        if err != nil {
            return nil, fmt.Errorf("s3: invalid endpoint_url: %w", err)
        }
        endpoint = u.Host
        secure = u.Scheme == "https"
    }

    mc, err := minio.New(endpoint, &minio.Options{
        Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
        Secure: secure,
        Region: cfg.Region,
    })
    if err != nil {
        return nil, fmt.Errorf("s3: client init failed: %w", err)
    }

    return &Client{mc: mc, bucket: cfg.Bucket}, nil
}

func (c *Client) Provider() string { return "s3" }

func (c *Client) PutObject(ctx context.Context, in ports.PutObjectInput) (ports.PutObjectOutput, error) {
    if in.ObjectKey == "" {
        return ports.PutObjectOutput{}, fmt.Errorf("object_key is required")
    }

    opts := minio.PutObjectOptions{}
    if in.ContentType != "" {
        opts.ContentType = in.ContentType
    }

    info, err := c.mc.PutObject(ctx, c.bucket, in.ObjectKey, in.Reader, in.Size, opts)
    if err != nil {
        return ports.PutObjectOutput{}, fmt.Errorf("s3 upload failed: %w", err)
    }

    // The persisted Location must be fetchable without bucket credentials.
    signed, err := c.mc.PresignedGetObject(ctx, c.bucket, in.ObjectKey, presignExpiry, url.Values{})
    if err != nil {
        return ports.PutObjectOutput{}, fmt.Errorf("s3 presign failed: %w", err)
    }

    return ports.PutObjectOutput{
        ObjectKey: in.ObjectKey,
        Size:      info.Size,
        Location:  signed.String(),
    }, nil
}
