package adapthttp

import (
	"encoding/json"
	"errors"
	"net/http"

	"bodymonitor/internal/app"
	"bodymonitor/internal/domain"
)

// syncResponse carries the view after an intent together with any notices
// raised since the last response.
type syncResponse struct {
	View    app.View     `json:"view"`
	Notices []app.Notice `json:"notices"`
	Error   string       `json:"error,omitempty"`
}

func (s *Server) session(r *http.Request) *app.Sync {
	user, token := requestUser(r)
	return s.registry.Get(r.Context(), token, user)
}

func (s *Server) respond(w http.ResponseWriter, sync *app.Sync, unit domain.Unit, err error) {
	resp := syncResponse{View: sync.Controller.View(unit), Notices: sync.Notices.Drain()}
	if resp.Notices == nil {
		resp.Notices = []app.Notice{}
	}
	status := http.StatusOK
	if err != nil {
		status = statusFor(err)
		resp.Error = err.Error()
	}
	writeJSON(w, status, resp)
}

func statusFor(err error) int {
	var inv *domain.InvalidInputError
	var remote *app.RemoteError
	switch {
	case errors.Is(err, app.ErrBusy), errors.Is(err, app.ErrWrongState):
		return http.StatusConflict
	case errors.As(err, &inv):
		return http.StatusBadRequest
	case errors.As(err, &remote):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func unitQuery(r *http.Request) (domain.Unit, error) {
	return domain.ParseUnit(r.URL.Query().Get("unit"))
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	unit, err := unitQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.respond(w, s.session(r), unit, nil)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	unit, err := unitQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var body struct {
		Age    json.Number `json:"age"`
		Height json.Number `json:"height"`
		Weight json.Number `json:"weight"`
	}
	if err := parseJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	sync := s.session(r)
	err = sync.Controller.RegisterForm(r.Context(), body.Age.String(), body.Height.String(), body.Weight.String())
	s.respond(w, sync, unit, err)
}

func (s *Server) handleWeight(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	unit, err := unitQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var body struct {
		Weight json.Number `json:"weight"`
		Unit   string      `json:"unit"`
	}
	if err := parseJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	entered, err := domain.ParseUnit(body.Unit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	sync := s.session(r)
	err = sync.Controller.AppendWeightForm(r.Context(), body.Weight.String(), entered)
	s.respond(w, sync, unit, err)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	unit, err := unitQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sync := s.session(r)
	s.respond(w, sync, unit, sync.Controller.Retry(r.Context()))
}
