// Package rpc carries the record store over HTTP/JSON. Method names follow
// the contract: check_user, get_user, register_user, add_weight_to_user.
package rpc

import (
	"errors"
	"net/http"

	"bodymonitor/internal/domain"
)

// Method names.
const (
	MethodCheckUser       = "check_user"
	MethodGetUser         = "get_user"
	MethodRegisterUser    = "register_user"
	MethodAddWeightToUser = "add_weight_to_user"
)

// Error codes carried in failed responses.
const (
	codeNotFound          = "not_found"
	codeAlreadyRegistered = "already_registered"
	codeAccessDenied      = "access_denied"
	codeInvalidInput      = "invalid_input"
	codeInternal          = "internal"
)

type request struct {
	AccountID string  `json:"account_id"`
	Age       int     `json:"age,omitempty"`
	Height    int     `json:"height,omitempty"`
	Weight    float64 `json:"weight,omitempty"`
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Field  string `json:"field,omitempty"`
	Value  string `json:"value,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func classify(err error) (int, errorBody) {
	body := errorBody{Error: err.Error(), Code: codeInternal}
	var inv *domain.InvalidInputError
	switch {
	case errors.Is(err, domain.ErrRecordNotFound):
		body.Code = codeNotFound
		return http.StatusNotFound, body
	case errors.Is(err, domain.ErrAlreadyRegistered):
		body.Code = codeAlreadyRegistered
		return http.StatusConflict, body
	case errors.Is(err, domain.ErrAccessDenied):
		body.Code = codeAccessDenied
		return http.StatusForbidden, body
	case errors.As(err, &inv):
		body.Code = codeInvalidInput
		body.Field, body.Value, body.Reason = inv.Field, inv.Value, inv.Reason
		return http.StatusBadRequest, body
	}
	return http.StatusInternalServerError, body
}

func (b errorBody) err() error {
	switch b.Code {
	case codeNotFound:
		return domain.ErrRecordNotFound
	case codeAlreadyRegistered:
		return domain.ErrAlreadyRegistered
	case codeAccessDenied:
		return domain.ErrAccessDenied
	case codeInvalidInput:
		if b.Reason == "" {
			// Decoder-level rejections carry only a message.
			return &domain.InvalidInputError{Field: b.Field, Reason: b.Error}
		}
		return &domain.InvalidInputError{Field: b.Field, Value: b.Value, Reason: b.Reason}
	}
	return errors.New(b.Error)
}
