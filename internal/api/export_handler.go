package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/freevideocut/cutagent/internal/export"
)

// exportEDLHandler returns the track layout as an edit decision list and,
// when output_dir is given, writes it there too.
func exportEDLHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req export.Request
		if !decodeBody(w, r, &req) {
			return
		}
		if req.FrameRate < 0 {
			WriteError(w, http.StatusBadRequest, "frame_rate must be positive", "BAD_REQUEST")
			return
		}

		res, err := cfg.Service.ExportEDL(r.Context(), chi.URLParam(r, "ws"), req)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, res)
	}
}
