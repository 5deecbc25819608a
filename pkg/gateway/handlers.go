package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"mercator-hq/charon/pkg/dialect"
	"mercator-hq/charon/pkg/models"
	"mercator-hq/charon/pkg/pipeline"
)

// maxBodyBytes bounds inbound request bodies (multimodal prompts included).
const maxBodyBytes = 20 << 20

// readBody reads and bounds the request body, writing the 4xx itself on
// failure.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		http.Error(w, `{"error":{"message":"unreadable request body","type":"bad_request"}}`, http.StatusBadRequest)
		return nil, err
	}
	if len(body) > maxBodyBytes {
		http.Error(w, `{"error":{"message":"request body too large","type":"bad_request"}}`, http.StatusRequestEntityTooLarge)
		return nil, io.ErrShortBuffer
	}
	return body, nil
}

func pipelineInbound(d dialect.Dialect, svc models.Service, body []byte, modelOverride string, stream *bool) pipeline.Inbound {
	return pipeline.Inbound{
		Dialect:        d,
		Service:        svc,
		Body:           body,
		ModelOverride:  modelOverride,
		StreamOverride: stream,
	}
}

// handleChat serves a completion endpoint in the given inbound dialect.
func (s *Server) handleChat(svc models.Service, d dialect.Dialect) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := readBody(w, r)
		if err != nil {
			return
		}
		s.pipe.Execute(w, r, pipelineInbound(d, svc, body, "", nil))
	}
}

// handleModels lists the service's advertised models in OpenAI dialect.
func (s *Server) handleModels(svc models.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list := dialect.OpenAIModelList{Object: "list"}
		for _, id := range models.KnownModelIDs(svc, s.cfg.Limits.AllowedModelFamilies) {
			list.Data = append(list.Data, dialect.OpenAIModel{
				ID:      id,
				Object:  "model",
				Created: s.startedAt.Unix(),
				OwnedBy: string(svc),
			})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(list)
	}
}

// uptime reports time since the listener came up.
func (s *Server) uptime() time.Duration {
	if s.startedAt.IsZero() {
		return 0
	}
	return time.Since(s.startedAt)
}
