package storage

import (
	"context"
	"fmt"

	"lienzo/internal/adapters/storage/gdrive"
	"lienzo/internal/adapters/storage/localfs"
	"lienzo/internal/adapters/storage/s3"
	"lienzo/internal/config"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// NewProvider builds the storage provider selected by config.
// An empty provider name returns (nil, nil): with no external storage
// configured, job artifacts are returned inline as base64.
func NewProvider(cfg config.StorageConfig) (Provider, error) {
	switch cfg.Provider {
	case "":
		return nil, nil

	case "s3":
		return s3.New(s3.Config{
			EndpointURL:     cfg.S3.EndpointURL,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			UseSSL:          cfg.S3.UseSSL,
		})

	case "localfs":
		if cfg.LocalRoot == "" {
			return nil, fmt.Errorf("storage: local_root is required for localfs")
		}
		return localfs.New(cfg.LocalRoot), nil

	case "gdrive":
		return newGDriveProvider(cfg.GDrive)

	default:
		return nil, fmt.Errorf("unknown storage provider: %s", cfg.Provider)
	}
}

func newGDriveProvider(cfg config.GDriveConfig) (Provider, error) {
	ctx := context.Background()

	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RefreshToken == "" {
		return nil, fmt.Errorf("storage: gdrive requires client_id, client_secret and refresh_token")
	}

	conf := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{drive.DriveFileScope},
	}

	tok := &oauth2.Token{RefreshToken: cfg.RefreshToken}
	httpClient := conf.Client(ctx, tok)

	srv, err := drive.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, err
	}

	return gdrive.NewClient(srv, cfg.FolderID), nil
}
