package webui

import (
	"errors"
	"io"
	"net/http"

	"sdqueue/settings"
)

// ConfigUpdateResponse is the 200 body of a successful configuration write.
type ConfigUpdateResponse struct {
	Success bool              `json:"success"`
	Config  settings.Settings `json:"config"`
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.settings.Current())
}

func (s *Server) handleReplaceConfig(w http.ResponseWriter, r *http.Request) {
	s.updateConfig(w, r, s.settings.Replace)
}

func (s *Server) handleUpdateGeneration(w http.ResponseWriter, r *http.Request) {
	s.updateConfig(w, r, s.settings.UpdateGeneration)
}

// updateConfig reads the body and hands it to apply. A rejected update
// leaves the live settings untouched.
func (s *Server) updateConfig(w http.ResponseWriter, r *http.Request, apply func([]byte) (settings.Settings, error)) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "ValidationError", "request body too large")
		return
	}

	next, err := apply(raw)
	if err != nil {
		var rej *settings.Rejection
		if errors.As(err, &rej) {
			writeRejection(w, rej.Field, rej.Reason)
			return
		}
		writeError(w, http.StatusBadRequest, "ValidationError", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ConfigUpdateResponse{Success: true, Config: next})
}
