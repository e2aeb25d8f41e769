package handlers

import (
	"net/http"
)

// HealthHandler handles the unauthenticated health endpoint.
type HealthHandler struct {
	Ledger PointLedger
}

// NewHealthHandler creates a new instance of HealthHandler
func NewHealthHandler(l PointLedger) *HealthHandler {
	return &HealthHandler{Ledger: l}
}

type healthResponse struct {
	Status    string   `json:"status"`
	Divergent []string `json:"divergent"`
}

// ServeHTTP はサーバーの状態と、ローカルにしか保存されていないキーの一覧を返します。
// GET /api/health
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	keys := h.Ledger.Divergent()
	resp := healthResponse{Status: "ok", Divergent: make([]string, 0, len(keys))}
	for _, k := range keys {
		resp.Divergent = append(resp.Divergent, k.String())
	}
	if len(keys) > 0 {
		resp.Status = "degraded"
	}
	WriteJSONResponse(w, http.StatusOK, resp)
}
