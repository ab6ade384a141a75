package storage

import (
	"context"
	"errors"
	"io"
	"mime"
	"path"
	"strings"

	"github.com/google/uuid"
)

// UploadFolder is the object prefix for images uploaded by admins.
const UploadFolder = "ai-prompts/user-uploads"

// GeneratedFolder is the object prefix for images produced by the generator.
const GeneratedFolder = "ai-prompts/generated"

var ErrObjectNotFound = errors.New("object not found")

// Upload describes one image to send to the host.
type Upload struct {
	Folder      string
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// HostedImage is what the host hands back: a public URL and the id needed to delete it.
type HostedImage struct {
	URL       string
	StorageID string
}

// ImageHost stores image bytes outside the database.
type ImageHost interface {
	Upload(ctx context.Context, u Upload) (HostedImage, error)
	Delete(ctx context.Context, storageID string) error
}

// objectKey builds "<folder>/<uuid><ext>", taking the extension from the
// filename or, failing that, the content type.
func objectKey(folder, filename, contentType string) string {
	folder = strings.Trim(strings.TrimSpace(folder), "/")
	if folder == "" {
		folder = UploadFolder
	}
	ext := strings.ToLower(path.Ext(strings.TrimSpace(filename)))
	if ext == "" || len(ext) > 6 {
		ext = ""
		if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
			ext = exts[0]
		}
	}
	return folder + "/" + uuid.NewString() + ext
}
