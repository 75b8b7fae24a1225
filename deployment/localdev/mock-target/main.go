package main

import (
	"encoding/json"
	"log"
	"math"
	"net/http"
	"sync"
	"time"
)

// mock-target is a standalone fake workload for local development. Register it
// with the remediation engine, activate it, and every monitor/scale/rollback
// call is delegated here instead of the built-in simulation.

const (
	apiKey           = "localdev-secret"
	capacityPerUnit  = 200.0
	baselineReplicas = 3
)

type workload struct {
	mu       sync.Mutex
	replicas int
	demand   float64
}

func (w *workload) report() map[string]any {
	w.mu.Lock()
	defer w.mu.Unlock()

	capacity := float64(w.replicas) * capacityPerUnit
	cpu := 100.0
	if capacity > 0 {
		cpu = math.Min(100, math.Round(w.demand/capacity*100))
	}
	memory := math.Min(100, math.Max(0, cpu*0.8+20))
	status := "healthy"
	if cpu > 90 {
		status = "critical"
	}
	return map[string]any{
		"status":   status,
		"replicas": w.replicas,
		"cpu":      cpu,
		"memory":   memory,
	}
}

func main() {
	state := &workload{replicas: baselineReplicas, demand: 100}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/monitor", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !authorized(w, r) {
			return
		}
		writeJSON(w, state.report())
	})

	mux.HandleFunc("/scale", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) || !authorized(w, r) {
			return
		}
		var req struct {
			Replicas *int `json:"replicas"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Replicas == nil || *req.Replicas < 1 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		state.mu.Lock()
		state.replicas = *req.Replicas
		state.mu.Unlock()

		report := state.report()
		writeJSON(w, map[string]any{
			"status":   report["status"],
			"replicas": report["replicas"],
			"message":  "scaled",
		})
	})

	mux.HandleFunc("/rollback", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) || !authorized(w, r) {
			return
		}
		state.mu.Lock()
		state.replicas = baselineReplicas
		state.mu.Unlock()
		writeJSON(w, map[string]any{"message": "rolled back to baseline"})
	})

	// /load is a test hook: push demand up or down to provoke state changes.
	mux.HandleFunc("/load", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		var req struct {
			Demand *float64 `json:"demand"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Demand == nil || *req.Demand < 0 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		state.mu.Lock()
		state.demand = *req.Demand
		state.mu.Unlock()
		writeJSON(w, state.report())
	})

	logger := log.New(log.Writer(), "mock-target ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    ":9090",
		Handler: logRequests(logger, mux),
	}

	logger.Println("listening on :9090")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func authorized(w http.ResponseWriter, r *http.Request) bool {
	if r.Header.Get("Authorization") != "Bearer "+apiKey {
		w.WriteHeader(http.StatusUnauthorized)
		return false
	}
	return true
}

func enforcePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
