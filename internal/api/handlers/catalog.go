package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agedcare/go-nqip/internal/catalog"
)

// CatalogHandler serves the read-only questionnaire catalog.
type CatalogHandler struct {
	cat *catalog.Catalog
}

// NewCatalogHandler creates a new catalog handler
func NewCatalogHandler(cat *catalog.Catalog) *CatalogHandler {
	return &CatalogHandler{cat: cat}
}

// Routes returns the handler routes
func (h *CatalogHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.Get)
	r.Get("/indicators/{code}", h.Indicator)
	return r
}

// Get handles GET /catalog
func (h *CatalogHandler) Get(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.cat.Questionnaire())
}

// Indicator handles GET /catalog/indicators/{code}
func (h *CatalogHandler) Indicator(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	refs, ok := h.cat.Indicator(code)
	if !ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "unknown indicator"})
		return
	}

	questions := make([]catalog.Question, 0, len(refs))
	for _, ref := range refs {
		questions = append(questions, *ref.Question)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"indicator_code": code,
		"questions":      questions,
	})
}
