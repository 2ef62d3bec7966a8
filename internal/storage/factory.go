package storage

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"framepipe/internal/adapters/storage/gdrive"
	"framepipe/internal/adapters/storage/localfs"
	"framepipe/internal/config"
)

// NewFrameStore returns the local store frames are written to and read
// back from by the encoder.
func NewFrameStore(outputRoot string) FrameStore {
	return localfs.New(outputRoot)
}

// NewDeliveryProvider returns the provider finished videos are copied to,
// or nil when delivery is disabled.
func NewDeliveryProvider(ctx context.Context, cfg config.DeliveryConfig) (Provider, error) {
	switch cfg.Provider {
	case "":
		return nil, nil
	case "localfs":
		if cfg.LocalRoot == "" {
			return nil, fmt.Errorf("localfs delivery requires a root directory")
		}
		return localfs.New(cfg.LocalRoot), nil
	case "gdrive":
		return newGDriveProvider(ctx, cfg.GDrive)
	default:
		return nil, fmt.Errorf("unknown delivery provider: %s", cfg.Provider)
	}
}

func newGDriveProvider(ctx context.Context, cfg config.GDriveConfig) (Provider, error) {
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
		return nil, fmt.Errorf("create drive service: %w", err)
	}

	return gdrive.NewClient(srv, cfg.FolderID), nil
}
