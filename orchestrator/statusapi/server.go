// Package statusapi exposes the orchestrator's polled-snapshot progress
// dashboard as a small, read-only HTTP surface: a JSON status endpoint, a
// per-chain lookup, and a Prometheus scrape target. Nothing here can
// mutate orchestrator state — it only ever reads Dashboard.Snapshot().
package statusapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	gojson "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tradingstrategy-ai/vaultscan/chain"
	"github.com/tradingstrategy-ai/vaultscan/orchestrator"
)

// NewHandler builds the full status API for dashboard: gzip-compressed,
// CORS-open for read-only GETs from a browser-based dashboard.
func NewHandler(dashboard *orchestrator.Dashboard) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedMethods: []string{http.MethodGet},
		AllowedOrigins: []string{"*"},
	}))

	r.Get("/status", statusHandler(dashboard))
	r.Get("/chains/{id}", chainHandler(dashboard))

	reg := prometheus.NewRegistry()
	reg.MustRegister(newCollector(dashboard))
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	return gzhttp.GzipHandler(r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = gojson.NewEncoder(w).Encode(v)
}

func statusHandler(dashboard *orchestrator.Dashboard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, dashboard.Snapshot())
	}
}

func chainHandler(dashboard *orchestrator.Dashboard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := chi.URLParam(r, "id")
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid chain id"})
			return
		}
		progress, ok := dashboard.Snapshot()[chain.ID(id)]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown chain"})
			return
		}
		writeJSON(w, http.StatusOK, progress)
	}
}
