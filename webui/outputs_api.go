package webui

import (
	"errors"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"sdqueue/outputs"
)

// OutputsResponse is the body of GET /outputs.
type OutputsResponse struct {
	Outputs []outputs.Entry `json:"outputs"`
	Count   int             `json:"count"`
}

func (s *Server) outputDir(w http.ResponseWriter) (string, bool) {
	dir, err := s.settings.OutputDir()
	if err != nil {
		s.logger.Error("output directory unusable", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "InternalError", "output directory unavailable")
		return "", false
	}
	return dir, true
}

func (s *Server) handleListOutputs(w http.ResponseWriter, r *http.Request) {
	dir, ok := s.outputDir(w)
	if !ok {
		return
	}
	entries, err := s.outputs.List(dir)
	if err != nil {
		s.logger.Error("failed to list outputs", zap.String("dir", dir), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "InternalError", "could not list outputs")
		return
	}
	writeJSON(w, http.StatusOK, OutputsResponse{Outputs: entries, Count: len(entries)})
}

// handleGetOutput serves one artifact, or a thumbnail of it with ?thumb=N.
// Traversal attempts get exactly the not-found response.
func (s *Server) handleGetOutput(w http.ResponseWriter, r *http.Request) {
	dir, ok := s.outputDir(w)
	if !ok {
		return
	}
	raw := chi.URLParam(r, "name")
	path, err := s.outputs.Resolve(dir, raw)
	if err != nil {
		if errors.Is(err, outputs.ErrPathTraversal) {
			s.logger.Warn("rejected output path", zap.String("name", raw), zap.String("remote_addr", clientIP(r)))
		}
		writeNotFound(w)
		return
	}

	w.Header().Set("X-Content-Type-Options", "nosniff")

	if r.URL.Query().Has("thumb") {
		side, ok := queryInt(r, "thumb", 0)
		if !ok {
			writeRejection(w, "thumb", "must be an integer")
			return
		}
		data, err := outputs.Thumbnail(path, side)
		switch {
		case errors.Is(err, outputs.ErrInvalidThumbnailSize):
			writeRejection(w, "thumb", err.Error())
			return
		case errors.Is(err, outputs.ErrNotFound):
			writeNotFound(w)
			return
		case err != nil:
			s.logger.Error("thumbnail failed", zap.String("path", path), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "InternalError", "could not render thumbnail")
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		writeNotFound(w)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		writeNotFound(w)
		return
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

func (s *Server) handleDeleteOutput(w http.ResponseWriter, r *http.Request) {
	dir, ok := s.outputDir(w)
	if !ok {
		return
	}
	if !s.outputs.Remove(dir, chi.URLParam(r, "name")) {
		writeNotFound(w)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
