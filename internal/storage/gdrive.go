package storage

import (
	"context"
	"fmt"
	"path"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
)

// GDrive stores objects as Google Drive files. The returned Key is the Drive
// file id.
type GDrive struct {
	srv      *drive.Service
	folderID string
}

func NewGDrive(srv *drive.Service, folderID string) *GDrive {
	return &GDrive{srv: srv, folderID: folderID}
}

func (g *GDrive) Provider() string { return "gdrive" }

func (g *GDrive) Put(ctx context.Context, in PutInput) (Object, error) {
	key, err := sanitizeKey(in.Key)
	if err != nil {
		return Object{}, err
	}
	file := &drive.File{Name: path.Base(key), Description: key}
	if g.folderID != "" {
		file.Parents = []string{g.folderID}
	}
	call := g.srv.Files.Create(file).Fields("id", "webContentLink")
	if in.ContentType != "" {
		call = call.Media(in.Reader, googleapi.ContentType(in.ContentType))
	} else {
		call = call.Media(in.Reader)
	}
	created, err := call.Context(ctx).Do()
	if err != nil {
		return Object{}, fmt.Errorf("gdrive upload failed: %w", err)
	}
	url := created.WebContentLink
	if url == "" {
		url = "https://drive.google.com/uc?export=download&id=" + created.Id
	}
	return Object{Provider: g.Provider(), Key: created.Id, URL: url, Size: in.Size}, nil
}

func (g *GDrive) Delete(ctx context.Context, key string) error {
	return g.srv.Files.Delete(key).SupportsAllDrives(true).Context(ctx).Do()
}
