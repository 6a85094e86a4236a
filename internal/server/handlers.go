package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/signalcore/evidence-engine/internal/model"
	"github.com/signalcore/evidence-engine/internal/store"
)

type startResponse struct {
	SessionID string `json:"sessionId"`
}

type sessionSummary struct {
	StartedAt     time.Time  `json:"startedAt"`
	CompletedAt   *time.Time `json:"completedAt"`
	TotalSources  int        `json:"totalSources"`
	TotalEvidence int        `json:"totalEvidence"`
}

type resultsResponse struct {
	Evidence []model.Evidence `json:"evidence"`
	Session  sessionSummary   `json:"session"`
}

type rescoreRequest struct {
	Weights map[string]float64 `json:"weights" validate:"required,dive,gte=0"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleResearchStart(w http.ResponseWriter, r *http.Request) {
	id := s.deps.Researcher.Start(r.Context())
	zap.L().Info("server: research started", zap.String("session_id", id))
	writeJSON(w, http.StatusOK, startResponse{SessionID: id})
}

func (s *Server) handleResearchStatus(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("sessionId")
	if id == "" {
		writeError(w, http.StatusBadRequest, "sessionId is required")
		return
	}
	s.streamer.Stream(w, r, id)
}

func (s *Server) handleResearchResults(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("sessionId")
	if id == "" {
		writeError(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	sess, ok := s.deps.Registry.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	if sess.Status != model.SessionComplete {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":  "Session not complete",
			"status": string(sess.Status),
		})
		return
	}

	evidence := sess.Evidence()
	if evidence == nil {
		evidence = []model.Evidence{}
	}
	writeJSON(w, http.StatusOK, resultsResponse{
		Evidence: evidence,
		Session: sessionSummary{
			StartedAt:     sess.StartedAt,
			CompletedAt:   sess.CompletedAt,
			TotalSources:  sess.TotalSources(),
			TotalEvidence: len(evidence),
		},
	})
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	scores, ok := s.corpusScores(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, scores)
}

func (s *Server) handleRescore(w http.ResponseWriter, r *http.Request) {
	var req rescoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	scores, ok := s.corpusScores(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Scoring.Recalculate(scores, req.Weights))
}

// corpusScores ranks vendors from the stored corpus by priority weights. It
// writes the error response itself and reports false on failure.
func (s *Server) corpusScores(w http.ResponseWriter, r *http.Request) ([]model.VendorScore, bool) {
	evidence, err := s.deps.Store.ListEvidence(r.Context(), store.EvidenceFilter{})
	if err != nil {
		zap.L().Error("server: load corpus", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load evidence")
		return nil, false
	}
	cat := s.deps.Catalog
	return s.deps.Scoring.VendorScores(cat.Vendors, cat.Requirements, evidence, nil), true
}

func (s *Server) handleEvidence(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	evidence, err := s.deps.Store.ListEvidence(r.Context(), store.EvidenceFilter{
		VendorID:      q.Get("vendorId"),
		RequirementID: q.Get("requirementId"),
	})
	if err != nil {
		zap.L().Error("server: list evidence", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load evidence")
		return
	}
	writeJSON(w, http.StatusOK, evidence)
}

func (s *Server) handleVendors(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Catalog.Vendors)
}

func (s *Server) handleRequirements(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Catalog.Requirements)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	snap, err := s.deps.Stats.Collect(r.Context())
	if err != nil {
		zap.L().Error("server: collect stats", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to collect stats")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, "weights is required")
		case "gte":
			msgs = append(msgs, fe.Field()+" must be >= 0")
		default:
			msgs = append(msgs, fe.Field()+" is invalid")
		}
	}
	return strings.Join(msgs, "; ")
}
