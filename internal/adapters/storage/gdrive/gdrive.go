package gdrive

import (
    "context"
    "fmt"
    "io"
    "sync"

    "loopcard/internal/ports"

    "google.golang.org/api/drive/v3"
    "google.golang.org/api/googleapi"
)

// Client implements ports.StorageProvider backed by Google Drive.
// ObjectKey is stored as the Drive fileId for retrieval/deletion.
// For uploads we use the provided ObjectKey as the Drive file Name.
type Client struct {
    srv        *drive.Service
    folderName string

    mu       sync.Mutex
    folderID string
}

func NewClient(srv *drive.Service, folderName string) *Client {
    return &Client{srv: srv, folderName: folderName}
}

func (c *Client) Provider() string { return "gdrive" }

// EnsureBucket resolves the configured folder, creating it when absent.
// The resolved id is cached and reused as the parent for uploads.
func (c *Client) EnsureBucket(ctx context.Context) error {
    if c.folderName == "" {
        return nil
    }

    c.mu.Lock()
    defer c.mu.Unlock()
    if c.folderID != "" {
        return nil
    }

    query := fmt.Sprintf("name = '%s' and mimeType = 'application/vnd.google-apps.folder' and trashed = false", c.folderName)
    list, err := c.srv.Files.List().Q(query).Fields("files(id)").PageSize(1).Context(ctx).Do()
    if err != nil {
        return fmt.Errorf("gdrive folder lookup failed: %w", err)
    }
    if len(list.Files) > 0 {
        c.folderID = list.Files[0].Id
        return nil
    }

    created, err := c.srv.Files.Create(&drive.File{
        Name:     c.folderName,
        MimeType: "application/vnd.google-apps.folder",
    }).Fields("id").Context(ctx).Do()
    if err != nil {
        return fmt.Errorf("gdrive folder create failed: %w", err)
    }
    c.folderID = created.Id
    return nil
}

func (c *Client) PutObject(ctx context.Context, in ports.PutObjectInput) (ports.PutObjectOutput, error) {
    if in.ObjectKey == "" {
        return ports.PutObjectOutput{}, fmt.Errorf("object_key is required")
    }

    file := &drive.File{Name: in.ObjectKey}

    c.mu.Lock()
    if c.folderID != "" {
        file.Parents = []string{c.folderID}
    }
    c.mu.Unlock()

    call := c.srv.Files.Create(file)
    if in.ContentType != "" {
        call = call.Media(in.Reader, googleapi.ContentType(in.ContentType))
    } else {
        call = call.Media(in.Reader)
    }

    created, err := call.Context(ctx).Do()
    if err != nil {
        return ports.PutObjectOutput{}, fmt.Errorf("gdrive upload failed: %w", err)
    }

    // We return the Drive fileId as ObjectKey, so later Get/Delete use it.
    return ports.PutObjectOutput{ObjectKey: created.Id, Size: in.Size}, nil
}

func (c *Client) GetObject(ctx context.Context, objectKey string) (rc io.ReadCloser, contentType string, size int64, err error) {
    resp, err := c.srv.Files.Get(objectKey).
        SupportsAllDrives(true).
        Download()
    if err != nil {
        return nil, "", 0, err
    }

    contentType = resp.Header.Get("Content-Type")
    size = resp.ContentLength
    return resp.Body, contentType, size, nil
}

func (c *Client) DeleteObject(ctx context.Context, objectKey string) error {
    return c.srv.Files.Delete(objectKey).
        SupportsAllDrives(true).
        Context(ctx).
        Do()
}
