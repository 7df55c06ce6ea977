// Package api provides the shared HTTP handlers of the assistant API.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/ashureev/souq-assistant/internal/domain"
	"github.com/ashureev/souq-assistant/internal/kb"
	"github.com/go-chi/chi/v5"
)

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// ConfigHandler serves the client-facing assistant configuration.
type ConfigHandler struct {
	catalog    *kb.Catalog
	llmEnabled bool
}

// NewConfigHandler creates a config handler.
func NewConfigHandler(catalog *kb.Catalog, llmEnabled bool) *ConfigHandler {
	if catalog == nil {
		catalog = kb.Default()
	}
	return &ConfigHandler{catalog: catalog, llmEnabled: llmEnabled}
}

type categoryView struct {
	Slug string `json:"slug"`
	Name string `json:"name"`
}

// GetConfig returns the steps, categories and cities the assistant knows.
func (h *ConfigHandler) GetConfig(w http.ResponseWriter, _ *http.Request) {
	var required []domain.Step
	for _, s := range domain.StepOrder {
		if !s.IsOptional() {
			required = append(required, s)
		}
	}
	categories := make([]categoryView, 0, len(h.catalog.Categories))
	for _, c := range h.catalog.Categories {
		categories = append(categories, categoryView{Slug: c.Slug, Name: c.Name})
	}
	cities := make([]string, 0, len(h.catalog.Cities))
	for _, c := range h.catalog.Cities {
		cities = append(cities, c.Name)
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"llm_enabled":    h.llmEnabled,
		"steps":          domain.StepOrder,
		"required_steps": required,
		"currencies":     []domain.Currency{domain.CurrencyYER, domain.CurrencyUSD, domain.CurrencySAR},
		"categories":     categories,
		"cities":         cities,
		"max_images":     domain.MaxImages,
	})
}

// RegisterRoutes registers the config route.
func (h *ConfigHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/config", h.GetConfig)
}
