package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keshon/sable/internal/affect"
	"github.com/keshon/sable/internal/persona"
	"github.com/keshon/sable/internal/storage"
	st "github.com/keshon/sable/internal/storagetypes"
)

const maxScoreBody = 64 << 10

type handler struct {
	Deps
}

type healthResponse struct {
	Status  string       `json:"status"`
	Storage storage.Mode `json:"storage"`
	Since   *time.Time   `json:"since,omitempty"`
	Error   string       `json:"error,omitempty"`
}

type affectResponse struct {
	affect.State
	TopMoods    []string `json:"top_moods"`
	Temperature float64  `json:"temperature"`
}

type scoreRequest struct {
	Text string `json:"text"`
}

type scoreResponse struct {
	VAD  affect.VAD `json:"vad"`
	Mood string     `json:"mood"`
}

// Healthz handles GET /healthz. The agent keeps answering while storage is
// degraded, so the status code stays 200 and the body carries the mode.
func (h *handler) Healthz(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Storage: storage.ModeHealthy}
	if h.Health != nil {
		mode, since, err := h.Health.Status()
		resp.Storage = mode
		if mode == storage.ModeDegraded {
			resp.Status = "degraded"
			resp.Since = &since
			if err != nil {
				resp.Error = err.Error()
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Affect handles GET /affect.
func (h *handler) Affect(w http.ResponseWriter, r *http.Request) {
	s := h.Session.Snapshot()
	top := h.Session.TopMoods(s.VAD, 3)
	names := make([]string, len(top))
	for i, m := range top {
		names[i] = m.String()
	}
	writeJSON(w, http.StatusOK, affectResponse{
		State:       s,
		TopMoods:    names,
		Temperature: h.Session.Range().Temperature(s.VAD, h.Temperature),
	})
}

// Score handles POST /score.
func (h *handler) Score(w http.ResponseWriter, r *http.Request) {
	var req scoreRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxScoreBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	v := h.Scorer.Score(req.Text)
	writeJSON(w, http.StatusOK, scoreResponse{
		VAD:  v,
		Mood: h.Session.Codebook().Classify(v).String(),
	})
}

// Persona handles GET /persona/{subject}.
func (h *handler) Persona(w http.ResponseWriter, r *http.Request) {
	subject := chi.URLParam(r, "subject")
	ts, err := h.Store.Transients(r.Context(), subject)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	cats := st.Group(ts, h.FactMinConfidence)
	out := make(map[string][]string, len(persona.All))
	for _, c := range persona.All {
		if items := cats[c]; len(items) > 0 {
			out[c.String()] = items
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
