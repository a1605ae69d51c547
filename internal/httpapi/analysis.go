package httpapi

import (
	"net/http"

	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/analysis"
	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/session"
)

func (h *handler) radar(w http.ResponseWriter, r *http.Request) {
	if err := session.RequireEnterprise(claimsFrom(r.Context())); err != nil {
		writeServiceError(w, r, err)
		return
	}
	var req struct {
		Context map[string]any `json:"context"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	h.analyze(w, r, analysis.Request{Engine: analysis.EngineRadar, Context: req.Context})
}

func (h *handler) predictive(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query   string `json:"query"`
		Tier    string `json:"tier"`
		Horizon string `json:"horizon"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	engine := analysis.EnginePredictive
	if req.Tier == "prime" {
		if err := session.RequirePrime(claimsFrom(r.Context())); err != nil {
			writeServiceError(w, r, err)
			return
		}
		engine = analysis.EnginePrime
	}
	h.analyze(w, r, analysis.Request{Engine: engine, Query: req.Query, Horizon: req.Horizon})
}

func (h *handler) analyze(w http.ResponseWriter, r *http.Request, req analysis.Request) {
	if h.Analysis == nil {
		writeServiceError(w, r, analysis.ErrNotConfigured)
		return
	}
	res, err := h.Analysis.Analyze(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
