package storage

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"hallod/internal/config"
)

// New builds the configured store. Provider "none" (or empty) returns a nil
// Store: outputs above the inline limit then fail to package.
func New(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Provider {
	case "", "none":
		return nil, nil
	case "localfs":
		if cfg.LocalRoot == "" {
			return nil, fmt.Errorf("storage.local_root is required for localfs")
		}
		return NewLocalFS(cfg.LocalRoot, cfg.BaseURL), nil
	case "gdrive":
		return newGDrive(ctx, cfg.GDrive)
	default:
		return nil, fmt.Errorf("unknown storage provider: %s", cfg.Provider)
	}
}

func newGDrive(ctx context.Context, g config.GDriveConfig) (Store, error) {
	for k, v := range map[string]string{
		"client_id": g.ClientID, "client_secret": g.ClientSecret, "refresh_token": g.RefreshToken,
	} {
		if v == "" {
			return nil, fmt.Errorf("storage.gdrive.%s is required", k)
		}
	}
	conf := &oauth2.Config{
		ClientID:     g.ClientID,
		ClientSecret: g.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{drive.DriveFileScope},
	}
	httpClient := conf.Client(ctx, &oauth2.Token{RefreshToken: g.RefreshToken})
	srv, err := drive.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("drive service: %w", err)
	}
	return NewGDrive(srv, g.FolderID), nil
}
