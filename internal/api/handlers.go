package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/MrWong99/intervox/internal/app"
	"github.com/MrWong99/intervox/internal/interview"
	"github.com/MrWong99/intervox/internal/observe"
	"github.com/MrWong99/intervox/internal/proctor"
	"github.com/MrWong99/intervox/internal/store"
	"github.com/MrWong99/intervox/pkg/audio/wsmedia"
)

// errBadRequest marks malformed request bodies.
var errBadRequest = errors.New("bad request")

// InterviewResponse describes an interview to the candidate's client.
type InterviewResponse struct {
	Session   interview.Session `json:"session"`
	Questions int               `json:"questions"`
	Current   *CurrentQuestion  `json:"current,omitempty"`
	Attached  bool              `json:"media_attached"`
}

// CurrentQuestion is the active question and its remaining time.
type CurrentQuestion struct {
	Question  interview.Question `json:"question"`
	Remaining int                `json:"remaining"`
}

// ViolationResponse reports the proctoring state after a violation.
type ViolationResponse struct {
	Count     int  `json:"count"`
	Remaining int  `json:"remaining"`
	Forced    bool `json:"forced"`
}

type textRequest struct {
	Text string `json:"text"`
}

type endRequest struct {
	Reason string `json:"reason"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	iv, err := s.interviews.Create()
	if err != nil {
		writeError(w, r, http.StatusServiceUnavailable, err)
		return
	}
	w.Header().Set("Location", "/api/v1/interviews/"+iv.ID())
	writeJSON(w, http.StatusCreated, describe(iv))
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	iv, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, describe(iv))
}

func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	iv, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if iv.Attached() {
		writeError(w, r, http.StatusConflict, app.ErrMediaAttached)
		return
	}
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		// Accept has already written the response.
		observe.Logger(r.Context()).Warn("media upgrade failed", "interview_id", iv.ID(), "err", err)
		return
	}
	conn := wsmedia.New(ws)
	if err := iv.Serve(r.Context(), conn); err != nil {
		observe.Logger(r.Context()).Info("media socket closed", "interview_id", iv.ID(), "err", err)
	}
}

func (s *Server) handlePhoto(w http.ResponseWriter, r *http.Request) {
	iv, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err != nil || !strings.HasPrefix(mt, "image/") {
		writeError(w, r, http.StatusUnsupportedMediaType, errors.New("photo must be an image"))
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPhotoBytes))
	if err != nil {
		writeError(w, r, http.StatusRequestEntityTooLarge, err)
		return
	}
	if err := iv.RecordPhoto(data); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	iv, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if err := iv.Start(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, describe(iv))
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	iv, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req textRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := iv.SubmitAnswer(r.Context(), req.Text); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, describe(iv))
}

func (s *Server) handleDraft(w http.ResponseWriter, r *http.Request) {
	iv, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req textRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := iv.SetDraft(req.Text); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleViolation(w http.ResponseWriter, r *http.Request) {
	iv, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var v proctor.Violation
	if err := decode(r, &v); err != nil {
		s.fail(w, r, err)
		return
	}
	if v.Kind == "" {
		s.fail(w, r, fmt.Errorf("%w: kind is required", errBadRequest))
		return
	}
	count, remaining, forced := iv.ReportViolation(v)
	writeJSON(w, http.StatusOK, ViolationResponse{Count: count, Remaining: remaining, Forced: forced})
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	iv, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req endRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "ended by candidate"
	}
	if err := iv.End(r.Context(), req.Reason); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, describe(iv))
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	res, err := s.results.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*app.Interview, bool) {
	iv, err := s.interviews.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return nil, false
	}
	return iv, true
}

func describe(iv *app.Interview) InterviewResponse {
	snap := iv.Snapshot()
	resp := InterviewResponse{
		Session:   snap,
		Questions: len(iv.Questions()),
		Attached:  iv.Attached(),
	}
	if q, left, ok := iv.Current(); ok {
		resp.Current = &CurrentQuestion{Question: q, Remaining: int(left.Seconds())}
	}
	return resp
}

// fail writes err with the status it maps to.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, statusFor(err), err)
}

func statusFor(err error) int {
	var pre *interview.PreconditionError
	var pe *interview.PersistenceError
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.As(err, &pre), errors.Is(err, app.ErrMediaNotAttached):
		return http.StatusPreconditionFailed
	case errors.Is(err, app.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, interview.ErrSubmissionInFlight),
		errors.Is(err, interview.ErrAlreadyStarted),
		errors.Is(err, interview.ErrNotStarted),
		errors.Is(err, interview.ErrNoActiveQuestion),
		errors.Is(err, app.ErrMediaAttached):
		return http.StatusConflict
	case errors.Is(err, interview.ErrAnswerTooShort),
		errors.Is(err, interview.ErrNoQuestions),
		errors.Is(err, app.ErrInvalidPhoto):
		return http.StatusUnprocessableEntity
	case errors.As(err, &pe):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status >= http.StatusInternalServerError {
		observe.Logger(r.Context()).Error("request failed", "path", r.URL.Path, "status", status, "err", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
