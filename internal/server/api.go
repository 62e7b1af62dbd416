package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/TobiSchelling/interviewstats/internal/analytics"
	"github.com/TobiSchelling/interviewstats/internal/database"
	"github.com/TobiSchelling/interviewstats/internal/ingest"
)

const maxBodyBytes = 8 << 20

// staleHeader is set on write responses whose snapshots did not catch up.
const staleHeader = "X-Analytics-Stale"

type globalResponse struct {
	Period     string                     `json:"period,omitempty"`
	Filtered   bool                       `json:"filtered"`
	Global     *analytics.GlobalAnalytics `json:"global"`
	Stale      bool                       `json:"stale"`
	AgeSeconds float64                    `json:"ageSeconds"`
}

type interviewResponse struct {
	Analytics  *analytics.InterviewAnalytics `json:"analytics"`
	State      analytics.State               `json:"state"`
	Stale      bool                          `json:"stale"`
	AgeSeconds float64                       `json:"ageSeconds"`
}

type listResponse struct {
	Period     string                         `json:"period,omitempty"`
	Interviews []analytics.InterviewAnalytics `json:"interviews"`
	Stale      bool                           `json:"stale"`
	AgeSeconds float64                        `json:"ageSeconds"`
}

type errorResponse struct {
	Error       string     `json:"error"`
	LastUpdated *time.Time `json:"lastUpdated,omitempty"`
	// InterviewIDs lists the calls of a batch committed before the failure.
	InterviewIDs []int64 `json:"interviewIds,omitempty"`
}

func (s *Server) handleGlobal(w http.ResponseWriter, r *http.Request) {
	period := r.URL.Query().Get("period")
	f, err := filterFromQuery(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	st, err := s.sched.Status(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := globalResponse{Period: period, Filtered: !f.IsZero(), Stale: st.Stale, AgeSeconds: st.AgeSeconds}
	if f.IsZero() {
		g, err := s.sched.Global(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		resp.Global = g
	} else {
		g, err := s.sched.FilteredGlobal(r.Context(), f)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		resp.Global = &g
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListInterviews(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	st, err := s.sched.Status(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	items, err := s.sched.Interviews(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if items == nil {
		items = []analytics.InterviewAnalytics{}
	}
	writeJSON(w, http.StatusOK, listResponse{
		Period:     r.URL.Query().Get("period"),
		Interviews: items,
		Stale:      st.Stale,
		AgeSeconds: st.AgeSeconds,
	})
}

func (s *Server) handleInterviewAnalytics(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	iv, err := s.db.GetInterview(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	a, err := s.sched.Interview(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, interviewResponse{
		Analytics:  a,
		State:      iv.State,
		Stale:      iv.State != analytics.StateClean,
		AgeSeconds: time.Since(a.UpdatedAt).Seconds(),
	})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	subs, err := ingest.ParseJSON(body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	// Calls of a batch commit one by one; a failure keeps the earlier ones.
	ids := make([]int64, 0, len(subs))
	for i, sub := range subs {
		id, err := s.sched.Ingest(r.Context(), sub)
		if err != nil {
			err = fmt.Errorf("call %d of %d: %w", i+1, len(subs), err)
			s.writeErrorResponse(w, r, err, errorResponse{Error: err.Error(), InterviewIDs: ids})
			return
		}
		ids = append(ids, id)
	}
	s.writeCommitted(w, r, http.StatusCreated, map[string]any{"interviewIds": ids})
}

func (s *Server) handleReplaceAnswers(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var qas []analytics.QuestionAnswer
	if err := decodeBody(w, r, &qas); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.sched.ReplaceAnswers(r.Context(), id, qas); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeCommitted(w, r, http.StatusOK, map[string]any{"interviewId": id, "answers": len(qas)})
}

func (s *Server) handleAddAnswer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var qa analytics.QuestionAnswer
	if err := decodeBody(w, r, &qa); err != nil {
		s.writeError(w, r, err)
		return
	}
	answerID, err := s.sched.AddAnswer(r.Context(), qa.WithInterview(id))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeCommitted(w, r, http.StatusCreated, map[string]any{"interviewId": id, "answerId": answerID})
}

func (s *Server) handleEditAnswer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var qa analytics.QuestionAnswer
	if err := decodeBody(w, r, &qa); err != nil {
		s.writeError(w, r, err)
		return
	}
	qa.ID = id
	if qa.InterviewID == 0 {
		// Let the store resolve the owner.
		existing, err := s.db.GetQuestionAnswer(r.Context(), id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		qa.InterviewID = existing.InterviewID
	}
	owner, err := s.sched.EditAnswer(r.Context(), qa)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeCommitted(w, r, http.StatusOK, map[string]any{"interviewId": owner, "answerId": id})
}

func (s *Server) handleDeleteInterview(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.sched.DeleteInterview(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeCommitted(w, r, http.StatusNoContent, nil)
}

func (s *Server) handleRecompute(w http.ResponseWriter, r *http.Request) {
	g, err := s.sched.RecomputeAll(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, globalResponse{Global: g})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.sched.Status(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, analytics.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, analytics.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, analytics.ErrStale), errors.Is(err, analytics.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeCommitted answers a write that is stored. The snapshots may still lag
// behind it when the recompute that follows a write failed; the response then
// carries stale=true and the staleHeader.
func (s *Server) writeCommitted(w http.ResponseWriter, r *http.Request, code int, body map[string]any) {
	stale := true
	if st, err := s.sched.Status(r.Context()); err == nil {
		stale = st.Stale
	}
	if stale {
		w.Header().Set(staleHeader, "true")
	}
	if body == nil {
		w.WriteHeader(code)
		return
	}
	body["stale"] = stale
	writeJSON(w, code, body)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	s.writeErrorResponse(w, r, err, errorResponse{Error: err.Error()})
}

// writeErrorResponse maps err onto a status code. Unavailable responses carry
// the timestamp of the last published global snapshot when one can be read.
func (s *Server) writeErrorResponse(w http.ResponseWriter, r *http.Request, err error, resp errorResponse) {
	code := statusFor(err)
	if code == http.StatusServiceUnavailable {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), time.Second)
		if g, gerr := s.db.GlobalAnalytics(ctx); gerr == nil {
			resp.LastUpdated = &g.LastUpdated
		}
		cancel()
	}

	entry := s.log.WithError(err).WithField("status", code)
	if code >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Debug("Request rejected")
	}
	writeJSON(w, code, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", analytics.ErrInvalidInput, err)
	}
	return body, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: decoding body: %v", analytics.ErrInvalidInput, err)
	}
	return nil
}

func pathID(r *http.Request) (int64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: id %q", analytics.ErrInvalidInput, raw)
	}
	return id, nil
}

// filterFromQuery reads period, min and max.
func filterFromQuery(r *http.Request) (analytics.Filter, error) {
	q := r.URL.Query()
	lo, err := optionalFloat(q.Get("min"), "min")
	if err != nil {
		return analytics.Filter{}, err
	}
	hi, err := optionalFloat(q.Get("max"), "max")
	if err != nil {
		return analytics.Filter{}, err
	}
	return database.PeriodFilter(q.Get("period"), lo, hi)
}

func optionalFloat(raw, name string) (*float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %q is not a number", analytics.ErrInvalidInput, name, raw)
	}
	return &v, nil
}
