package server

import (
	"errors"
	"mime/multipart"
	"net/http"

	"promptapi/pkg/domain"
	"promptapi/pkg/store"
	"promptapi/services/api/internal/app"
)

const multipartMemory = 32 << 20

func (s *Server) handleUploadImage(w http.ResponseWriter, r *http.Request, admin domain.Admin, _ store.TokenClaims) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.parseUpload(w, r, 1) {
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		writeAppError(w, r, app.ErrNoImageFile)
		return
	}
	defer file.Close()
	img, err := s.app.UploadImage(r.Context(), app.ImageFile{
		Filename: header.Filename,
		Size:     header.Size,
		Body:     file,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "api.image.upload", "success", "admin_id", admin.ID, "image_id", img.ID)
	writeJSON(w, http.StatusCreated, envelope{Success: true, Message: "Image uploaded successfully", Data: img})
}

func (s *Server) handleUploadImages(w http.ResponseWriter, r *http.Request, admin domain.Admin, _ store.TokenClaims) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.parseUpload(w, r, s.app.MaxUploadFiles()) {
		return
	}
	var headers []*multipart.FileHeader
	if r.MultipartForm != nil {
		headers = r.MultipartForm.File["images"]
	}
	if len(headers) == 0 {
		writeAppError(w, r, app.ErrNoImageFiles)
		return
	}
	if len(headers) > s.app.MaxUploadFiles() {
		writeAppError(w, r, app.ErrTooManyFiles)
		return
	}
	files := make([]app.ImageFile, 0, len(headers))
	for _, header := range headers {
		f, err := header.Open()
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid form data")
			return
		}
		defer f.Close()
		files = append(files, app.ImageFile{Filename: header.Filename, Size: header.Size, Body: f})
	}
	images, err := s.app.UploadImages(r.Context(), files)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "api.image.upload_multiple", "success", "admin_id", admin.ID, "count", len(images))
	writeJSON(w, http.StatusCreated, envelope{Success: true, Message: "Images uploaded successfully", Data: images})
}

// parseUpload bounds the request body to files uploads plus form overhead
// and parses the multipart form.
func (s *Server) parseUpload(w http.ResponseWriter, r *http.Request, files int) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.app.MaxUploadBytes()*int64(files)+maxJSONBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeAppError(w, r, app.ErrFileTooLarge)
			return false
		}
		writeError(w, http.StatusBadRequest, "Invalid form data")
		return false
	}
	return true
}

// /api/images/{id}: reads are public, deletes need an admin.
func (s *Server) handleImageByID(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "/api/images/")
	if !ok {
		writeError(w, http.StatusNotFound, "Route not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		img, err := s.app.GetImage(r.Context(), id)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, envelope{Success: true, Data: img})
	case http.MethodDelete:
		s.adminOnly(func(w http.ResponseWriter, r *http.Request, admin domain.Admin, _ store.TokenClaims) {
			if err := s.app.DeleteImage(r.Context(), id); err != nil {
				writeAppError(w, r, err)
				return
			}
			s.audit(r, "api.image.delete", "success", "admin_id", admin.ID, "image_id", id)
			w.WriteHeader(http.StatusNoContent)
		}).ServeHTTP(w, r)
	default:
		methodNotAllowed(w)
	}
}
