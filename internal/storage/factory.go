package storage

import (
	"context"
	"fmt"

	"loopcard/internal/adapters/storage/gdrive"
	"loopcard/internal/adapters/storage/localfs"
	"loopcard/internal/config"
	"loopcard/internal/ports"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// Provider aliases the storage port for callers constructing adapters.
type Provider = ports.StorageProvider

func NewProvider(cfg *config.Config) (Provider, error) {
	switch cfg.StorageProvider {
	case "", "localfs":
		if cfg.StorageLocalRoot == "" {
			return nil, fmt.Errorf("STORAGE_LOCAL_ROOT is required for localfs")
		}
		return localfs.New(cfg.StorageLocalRoot), nil

	case "gdrive":
		return newGDriveProvider(cfg)

	default:
		return nil, fmt.Errorf("unknown storage provider: %s", cfg.StorageProvider)
	}
}

func newGDriveProvider(cfg *config.Config) (Provider, error) {
	ctx := context.Background()

	if cfg.GDriveClientID == "" || cfg.GDriveClientSecret == "" || cfg.GDriveRefreshToken == "" {
		return nil, fmt.Errorf("gdrive provider requires GDRIVE_CLIENT_ID, GDRIVE_CLIENT_SECRET and GDRIVE_REFRESH_TOKEN")
	}

	conf := &oauth2.Config{
		ClientID:     cfg.GDriveClientID,
		ClientSecret: cfg.GDriveClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{drive.DriveFileScope},
	}

	tok := &oauth2.Token{RefreshToken: cfg.GDriveRefreshToken}
	httpClient := conf.Client(ctx, tok)

	srv, err := drive.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, err
	}

	return gdrive.NewClient(srv, cfg.GDriveFolder), nil
}
