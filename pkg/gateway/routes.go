package gateway

import (
	"fmt"
	"net/http"
	"strings"

	"mercator-hq/charon/pkg/dialect"
	"mercator-hq/charon/pkg/models"
	"mercator-hq/charon/pkg/telemetry/metrics"
)

// registerRoutes mounts one router per service plus the gateway endpoints.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", s.handleInfo)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler(s.registry))

	for _, svc := range models.AllServices {
		svc := svc
		prefix := "/" + string(svc)

		mux.HandleFunc("GET "+prefix+"/v1/models", s.handleModels(svc))
		mux.HandleFunc("POST "+prefix+"/v1/chat/completions", s.handleChat(svc, dialect.OpenAI))

		switch svc {
		case models.ServiceAnthropic, models.ServiceAWS, models.ServiceGCP:
			mux.HandleFunc("POST "+prefix+"/v1/messages", s.handleChat(svc, dialect.Anthropic))
		case models.ServiceMistralAI:
			// Mistral's native surface is wire-compatible with the chat
			// completions route; mount it under its own tag as well.
			mux.HandleFunc("POST "+prefix+"/v1/completions", s.handleChat(svc, dialect.Mistral))
		case models.ServiceGoogleAI:
			mux.HandleFunc("POST "+prefix+"/v1beta/models/{rest...}", s.handleGoogle(svc))
			mux.HandleFunc("POST "+prefix+"/v1alpha/models/{rest...}", s.handleGoogle(svc))
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","uptime_seconds":%d}`, int(s.uptime().Seconds()))
}

// handleGoogle parses the Google AI path form models/<id>:<verb> where the
// verb selects blocking or streaming generation.
func (s *Server) handleGoogle(svc models.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rest := r.PathValue("rest")
		model, verb, ok := strings.Cut(rest, ":")
		if !ok {
			http.Error(w, `{"error":{"code":404,"message":"expected models/<model>:<verb>","status":"NOT_FOUND"}}`, http.StatusNotFound)
			return
		}
		var stream bool
		switch verb {
		case "generateContent":
			stream = false
		case "streamGenerateContent":
			stream = true
		default:
			http.Error(w, `{"error":{"code":404,"message":"unsupported method","status":"NOT_FOUND"}}`, http.StatusNotFound)
			return
		}

		body, err := readBody(w, r)
		if err != nil {
			return
		}
		s.pipe.Execute(w, r, pipelineInbound(dialect.Google, svc, body, model, &stream))
	}
}
