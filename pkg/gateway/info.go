package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"mercator-hq/charon/pkg/keypool"
	"mercator-hq/charon/pkg/models"
)

// infoCacheTTL is how long one rendered info document is reused.
const infoCacheTTL = 2 * time.Second

// familyInfo is the per-family block of the info document.
type familyInfo struct {
	keypool.FamilyStats
	ProomptersInQueue  int    `json:"proomptersInQueue"`
	EstimatedQueueTime string `json:"estimatedQueueTime"`
}

// infoDocument is the root info payload.
type infoDocument struct {
	Uptime   int64                         `json:"uptime"`
	Build    string                        `json:"build"`
	Proompts int64                         `json:"proompts"`
	Tookens  int64                         `json:"tookens"`
	Families map[models.Family]*familyInfo `json:"families"`
}

// handleInfo serves the cached gateway status document.
func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	s.infoMu.Lock()
	if time.Since(s.infoStamp) < infoCacheTTL && s.infoBody != nil {
		body := s.infoBody
		s.infoMu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
		return
	}
	s.infoMu.Unlock()

	doc := s.buildInfo()
	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		http.Error(w, `{"error":{"message":"info rendering failed","type":"internal_error"}}`, http.StatusInternalServerError)
		return
	}

	s.infoMu.Lock()
	s.infoBody = body
	s.infoStamp = time.Now()
	s.infoMu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

func (s *Server) buildInfo() *infoDocument {
	doc := &infoDocument{
		Uptime:   int64(s.uptime().Seconds()),
		Build:    s.build,
		Families: make(map[models.Family]*familyInfo),
	}

	stats := s.pool.Stats()
	for _, svc := range models.AllServices {
		for _, fam := range models.FilterFamilies(models.FamiliesForService(svc), s.cfg.Limits.AllowedModelFamilies) {
			fi := doc.Families[fam]
			if fi == nil {
				fi = &familyInfo{FamilyStats: stats[fam]}
				doc.Families[fam] = fi
			}
			fi.ProomptersInQueue += s.queue.Depth(svc, fam)
			if wait := s.queue.EstimatedWait(svc, fam); wait > 0 {
				fi.EstimatedQueueTime = wait.Round(time.Millisecond).String()
			}
			if fi.EstimatedQueueTime == "" {
				fi.EstimatedQueueTime = "0s"
			}
		}
	}

	for _, fi := range doc.Families {
		doc.Tookens += fi.InputTokens + fi.OutputTokens
	}
	for _, svc := range models.AllServices {
		for _, k := range s.pool.List(svc) {
			doc.Proompts += k.PromptCount
		}
	}
	return doc
}
