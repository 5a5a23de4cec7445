package main

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/kwv/canopymesh/canopy"
)

// newHTTPServer creates an HTTP server with all endpoints
func newHTTPServer(app *App, fc *canopy.FileConfig) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[HTTP] /health request from %s", r.RemoteAddr)
		_, hasResult := app.StateTracker.Latest()
		status := struct {
			Status    string    `json:"status"`
			Timestamp time.Time `json:"timestamp"`
			HasResult bool      `json:"hasResult"`
			Running   bool      `json:"running"`
		}{
			Status:    "ok",
			Timestamp: time.Now(),
			HasResult: hasResult,
			Running:   app.StateTracker.Status().Running,
		}
		writeJSON(w, http.StatusOK, status)
	})

	// Run the configured pipeline; ?confidence= overrides the threshold
	mux.HandleFunc("/runs", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var confidence *float64
		if v := r.URL.Query().Get("confidence"); v != "" {
			c, err := strconv.ParseFloat(v, 64)
			if err != nil {
				http.Error(w, "invalid confidence: "+err.Error(), http.StatusBadRequest)
				return
			}
			confidence = &c
		}

		log.Printf("[HTTP] /runs request from %s", r.RemoteAddr)
		res, err := app.runTracked(r.Context(), fc, confidence)
		if err != nil {
			log.Printf("[HTTP] run failed: %v", err)
			http.Error(w, err.Error(), runErrorStatus(err))
			return
		}

		writeJSON(w, http.StatusOK, struct {
			RunID   string         `json:"runId"`
			Summary canopy.Summary `json:"summary"`
		}{res.RunID, res.Summary})
	})

	mux.HandleFunc("/runs/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, app.StateTracker.Status())
	})

	// Crown layer of the latest run; ?confidence= filters it further
	mux.HandleFunc("/crowns.geojson", func(w http.ResponseWriter, r *http.Request) {
		res, ok := latestOrUnavailable(w, app)
		if !ok {
			return
		}
		crowns := res.Crowns
		if v := r.URL.Query().Get("confidence"); v != "" {
			c, err := strconv.ParseFloat(v, 64)
			if err != nil || c < 0 || c > 1 {
				http.Error(w, "confidence must be a number in [0, 1]", http.StatusBadRequest)
				return
			}
			crowns = canopy.FilterConfidence(crowns, c)
		}

		w.Header().Set("Content-Type", "application/geo+json")
		w.Header().Set("Cache-Control", "no-cache")
		if err := canopy.EncodeGeoJSON(w, crowns, res.EPSG); err != nil {
			log.Printf("Error encoding crowns: %v", err)
		}
	})

	mux.HandleFunc("/preview.png", func(w http.ResponseWriter, r *http.Request) {
		res, ok := latestOrUnavailable(w, app)
		if !ok {
			return
		}
		renderer := canopy.NewPreviewRenderer(res, app.Background())
		if v := r.URL.Query().Get("size"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				renderer.MaxSize = n
			}
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		if err := renderer.RenderToPNG(w); err != nil {
			log.Printf("Error rendering preview PNG: %v", err)
		}
	})

	mux.HandleFunc("/preview.svg", func(w http.ResponseWriter, r *http.Request) {
		res, ok := latestOrUnavailable(w, app)
		if !ok {
			return
		}
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "no-cache")
		if err := canopy.NewPreviewRenderer(res, nil).RenderToSVG(w); err != nil {
			log.Printf("Error rendering preview SVG: %v", err)
		}
	})

	mux.HandleFunc("/histogram.png", func(w http.ResponseWriter, r *http.Request) {
		res, ok := latestOrUnavailable(w, app)
		if !ok {
			return
		}
		if len(res.Crowns) == 0 {
			http.Error(w, "No crowns in latest run", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		if err := canopy.WriteConfidenceHistogram(w, res.Crowns); err != nil {
			log.Printf("Error rendering histogram: %v", err)
		}
	})

	mux.HandleFunc("/summary", func(w http.ResponseWriter, r *http.Request) {
		res, ok := latestOrUnavailable(w, app)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, struct {
			RunID   string         `json:"runId"`
			Raster  string         `json:"raster"`
			EPSG    int            `json:"epsg,omitempty"`
			Summary canopy.Summary `json:"summary"`
		}{res.RunID, res.Raster, res.EPSG, res.Summary})
	})

	return mux
}

// latestOrUnavailable returns the latest result or answers 503.
func latestOrUnavailable(w http.ResponseWriter, app *App) (*canopy.Result, bool) {
	res, ok := app.StateTracker.Latest()
	if !ok {
		http.Error(w, "No completed run available", http.StatusServiceUnavailable)
		return nil, false
	}
	return res, true
}

// runErrorStatus maps a run error to an HTTP status.
func runErrorStatus(err error) int {
	switch {
	case errors.Is(err, errRunInProgress):
		return http.StatusConflict
	case errors.Is(err, canopy.ErrConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, canopy.ErrSourceRead), errors.Is(err, canopy.ErrDetection):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}
