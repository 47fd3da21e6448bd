package health

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/jonwraymond/llmops/backend"
)

// LivenessHandler answers 200 while the process can serve HTTP at all.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	}
}

// ReadinessHandler runs the aggregator and answers 503 only when the report
// is unhealthy. The body names the status and any failing checks.
func ReadinessHandler(agg *Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep := agg.Run(r.Context())

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(httpStatus(rep.Status))
		body := rep.Status.String()
		if failing := rep.Failing(); len(failing) > 0 {
			body += ": " + strings.Join(failing, ", ")
		}
		_, _ = w.Write([]byte(body + "\n"))
	}
}

// ReportHandler serves the full Report as JSON.
func ReportHandler(agg *Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep := agg.Run(r.Context())
		writeJSON(w, httpStatus(rep.Status), rep)
	}
}

// CheckHandler serves one check, named by the {name} path wildcard.
func CheckHandler(agg *Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := agg.Check(r.Context(), r.PathValue("name"))
		if err != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, httpStatus(res.Status), res)
	}
}

// BackendsHandler serves the registry snapshot: health flags, rolling
// metrics and remaining rate budget per backend.
func BackendsHandler(reg *backend.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, reg.Snapshot())
	}
}

// RegisterHandlers mounts the probe endpoints on mux:
//
//	GET /healthz        liveness
//	GET /readyz         readiness from the aggregator
//	GET /health         Report as JSON
//	GET /health/{name}  one check as JSON
//	GET /backends       registry snapshot, when reg is non-nil
func RegisterHandlers(mux *http.ServeMux, agg *Aggregator, reg *backend.Registry) {
	mux.HandleFunc("GET /healthz", LivenessHandler())
	mux.HandleFunc("GET /readyz", ReadinessHandler(agg))
	mux.HandleFunc("GET /health", ReportHandler(agg))
	mux.HandleFunc("GET /health/{name}", CheckHandler(agg))
	if reg != nil {
		mux.HandleFunc("GET /backends", BackendsHandler(reg))
	}
}

func httpStatus(s Status) int {
	if s >= StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
