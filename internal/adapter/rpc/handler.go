package rpc

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"bodymonitor/internal/domain"
)

// CallerFunc returns the authenticated account making a request, or "".
type CallerFunc func(r *http.Request) string

// Handler serves a domain.RecordStore. Writes are only accepted for the
// caller's own account.
type Handler struct {
	store  domain.RecordStore
	caller CallerFunc
}

// NewHandler creates a Handler backed by store.
func NewHandler(store domain.RecordStore, caller CallerFunc) *Handler {
	return &Handler{store: store, caller: caller}
}

// ServeHTTP dispatches POST /<method>.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req request
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: fmt.Sprintf("invalid json: %v", err), Code: codeInvalidInput})
		return
	}
	if req.AccountID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "account_id is required", Code: codeInvalidInput, Field: "account_id"})
		return
	}

	ctx := r.Context()
	var result any
	var err error
	switch strings.Trim(r.URL.Path, "/") {
	case MethodCheckUser:
		result, err = h.store.RecordExists(ctx, req.AccountID)
	case MethodGetUser:
		result, err = h.store.FetchRecord(ctx, req.AccountID)
	case MethodRegisterUser:
		if err = h.authorize(r, req.AccountID); err == nil {
			err = h.store.RegisterRecord(ctx, req.AccountID, req.Age, req.Height, req.Weight)
		}
	case MethodAddWeightToUser:
		if err = h.authorize(r, req.AccountID); err == nil {
			err = h.store.AppendWeight(ctx, req.AccountID, req.Weight)
		}
	default:
		http.NotFound(w, r)
		return
	}

	if err != nil {
		status, body := classify(err)
		writeJSON(w, status, body)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

func (h *Handler) authorize(r *http.Request, account string) error {
	if h.caller == nil || h.caller(r) != account {
		return domain.ErrAccessDenied
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
