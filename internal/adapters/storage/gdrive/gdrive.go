package gdrive

import (
	"context"
	"fmt"
	"path"
	"strings"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"

	"framepipe/internal/ports"
)

// Client implements ports.StorageProvider backed by Google Drive. Objects
// are stored flat in the configured folder, named by the last element of
// their key. A re-delivered video replaces the earlier file of the same
// name instead of creating a duplicate.
type Client struct {
	srv      *drive.Service
	folderID string
}

func NewClient(srv *drive.Service, folderID string) *Client {
	return &Client{srv: srv, folderID: folderID}
}

func (c *Client) Provider() string { return "gdrive" }

// nameQuery builds the Drive search for a live file called name in the folder.
func (c *Client) nameQuery(name string) string {
	q := fmt.Sprintf("name = '%s' and trashed = false", escapeQuery(name))
	if c.folderID != "" {
		q += fmt.Sprintf(" and '%s' in parents", escapeQuery(c.folderID))
	}
	return q
}

func (c *Client) findByName(ctx context.Context, name string) (string, error) {
	list, err := c.srv.Files.List().
		Q(c.nameQuery(name)).
		Fields("files(id)").
		PageSize(1).
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("gdrive lookup failed: %w", err)
	}
	if len(list.Files) == 0 {
		return "", nil
	}
	return list.Files[0].Id, nil
}

func (c *Client) PutObject(ctx context.Context, in ports.PutObjectInput) (ports.PutObjectOutput, error) {
	if in.ObjectKey == "" {
		return ports.PutObjectOutput{}, fmt.Errorf("object_key is required")
	}
	name := path.Base(in.ObjectKey)

	var opts []googleapi.MediaOption
	if in.ContentType != "" {
		opts = append(opts, googleapi.ContentType(in.ContentType))
	}

	existing, err := c.findByName(ctx, name)
	if err != nil {
		return ports.PutObjectOutput{}, err
	}

	var saved *drive.File
	if existing != "" {
		saved, err = c.srv.Files.Update(existing, &drive.File{}).
			Media(in.Reader, opts...).
			SupportsAllDrives(true).
			Context(ctx).
			Do()
	} else {
		file := &drive.File{Name: name}
		if c.folderID != "" {
			file.Parents = []string{c.folderID}
		}
		saved, err = c.srv.Files.Create(file).
			Media(in.Reader, opts...).
			SupportsAllDrives(true).
			Context(ctx).
			Do()
	}
	if err != nil {
		return ports.PutObjectOutput{}, fmt.Errorf("gdrive upload failed: %w", err)
	}

	return ports.PutObjectOutput{ObjectKey: saved.Id, Size: in.Size}, nil
}

// DeleteObject deletes by Drive file id, as returned from PutObject.
func (c *Client) DeleteObject(ctx context.Context, objectKey string) error {
	return c.srv.Files.Delete(objectKey).
		SupportsAllDrives(true).
		Context(ctx).
		Do()
}

func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}
