package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"promptapi/internal/util"
	"promptapi/pkg/domain"
	"promptapi/pkg/storage"
)

// sniffLen is how much of a file http.DetectContentType looks at.
const sniffLen = 512

// ImageFile is one uploaded file as received from the client.
type ImageFile struct {
	Filename string
	Size     int64
	Body     io.Reader
}

// UploadImage sends one image to the image host and records it.
func (a *App) UploadImage(ctx context.Context, f ImageFile) (domain.Image, error) {
	if f.Body == nil {
		return domain.Image{}, ErrNoImageFile
	}
	if f.Size > a.maxUploadBytes {
		return domain.Image{}, ErrFileTooLarge
	}
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f.Body, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return domain.Image{}, fmt.Errorf("read upload: %w", err)
	}
	head = head[:n]
	if n == 0 {
		return domain.Image{}, ErrNoImageFile
	}
	contentType := http.DetectContentType(head)
	if !strings.HasPrefix(contentType, "image/") {
		return domain.Image{}, ErrUnsupportedImageType
	}

	hosted, err := a.images.Upload(ctx, storage.Upload{
		Folder:      storage.UploadFolder,
		Filename:    f.Filename,
		ContentType: contentType,
		Size:        f.Size,
		Body:        io.MultiReader(bytes.NewReader(head), f.Body),
	})
	if err != nil {
		return domain.Image{}, fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}
	img := domain.Image{
		ID:        util.NewID(),
		URL:       hosted.URL,
		StorageID: hosted.StorageID,
		CreatedAt: a.now().UTC(),
	}
	if err := a.store.CreateImage(ctx, img); err != nil {
		if delErr := a.images.Delete(context.WithoutCancel(ctx), hosted.StorageID); delErr != nil {
			util.LoggerFromContext(ctx).Warn("remove orphaned upload failed", "storage_id", hosted.StorageID, "err", delErr)
		}
		return domain.Image{}, fmt.Errorf("create image: %w", err)
	}
	return img, nil
}

// UploadImages uploads files one after another. A failing file is logged and
// skipped; the call fails only when no file could be stored.
func (a *App) UploadImages(ctx context.Context, files []ImageFile) ([]domain.Image, error) {
	if len(files) == 0 {
		return nil, ErrNoImageFiles
	}
	if len(files) > a.maxUploadFiles {
		return nil, ErrTooManyFiles
	}
	logger := util.LoggerFromContext(ctx)
	uploaded := make([]domain.Image, 0, len(files))
	var errs []error
	for i, f := range files {
		img, err := a.UploadImage(ctx, f)
		if err != nil {
			logger.Warn("image upload skipped", "index", i, "filename", f.Filename, "err", err)
			errs = append(errs, err)
			continue
		}
		uploaded = append(uploaded, img)
	}
	if len(uploaded) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrAllUploadsFailed, errors.Join(errs...))
	}
	return uploaded, nil
}

// GetImage returns one image record.
func (a *App) GetImage(ctx context.Context, id string) (domain.Image, error) {
	img, ok, err := a.store.GetImage(ctx, id)
	if err != nil {
		return domain.Image{}, fmt.Errorf("get image: %w", err)
	}
	if !ok {
		return domain.Image{}, ErrImageNotFound
	}
	return img, nil
}

// DeleteImage removes the hosted object and the record. A host failure is
// logged and the record is deleted anyway. Prompts keep the dangling id.
func (a *App) DeleteImage(ctx context.Context, id string) error {
	img, err := a.GetImage(ctx, id)
	if err != nil {
		return err
	}
	if err := a.images.Delete(ctx, img.StorageID); err != nil {
		util.LoggerFromContext(ctx).Warn("image host delete failed, removing record anyway",
			"image_id", img.ID, "storage_id", img.StorageID, "err", err)
	}
	ok, err := a.store.DeleteImage(ctx, id)
	if err != nil {
		return fmt.Errorf("delete image: %w", err)
	}
	if !ok {
		return ErrImageNotFound
	}
	return nil
}
