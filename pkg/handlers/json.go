// This file holds the JSON request and response helpers shared by the API
// handlers.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"

	"Smart-Music-Tags/pkg/apperr"
	"Smart-Music-Tags/pkg/music"
)

// decodeJSON attempts to decode the request body into the provided
// destination and validates it. The body is limited to 1MB and unknown fields
// are rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil {
		return apperr.Validation("empty body")
	}
	defer r.Body.Close()
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validation("empty body")
		}
		return apperr.Validation("invalid request body: " + err.Error())
	}
	if dec.More() {
		return apperr.Validation("extra data in request body")
	}
	return validate.Validate(v)
}

// writeJSON encodes v with the given status.
func (app *Application) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		app.logger().WithError(err).Warn("encode response")
	}
}

type errorBody struct {
	Code    apperr.Code `json:"code"`
	Message string      `json:"message"`
	Details any         `json:"details,omitempty"`
}

// writeError maps err to a status code and a JSON error body. Errors
// outside the apperr taxonomy are reported as internal errors without
// exposing their text.
func (app *Application) writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := errorBody{Code: apperr.CodeInternal, Message: "internal server error"}
	status := http.StatusInternalServerError

	var e *apperr.Error
	switch {
	case errors.As(err, &e):
		body = errorBody{Code: e.Code, Message: e.Message, Details: e.Details}
		status = e.HTTPStatus()
	case errors.Is(err, context.Canceled):
		// The client went away; nothing useful can be written.
		return
	case errors.Is(err, context.DeadlineExceeded):
		body.Message = "request timed out"
		status = http.StatusGatewayTimeout
	}

	log := app.logger().WithField("request_id", middleware.GetReqID(r.Context())).WithError(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed")
	} else {
		log.Debug("request rejected")
	}
	app.writeJSON(w, status, body)
}

// pageFromQuery reads limit and offset query parameters.
func pageFromQuery(r *http.Request) (music.Page, error) {
	var p music.Page
	details := map[string]string{}
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > music.MaxPageLimit {
			details["limit"] = "must be between 1 and " + strconv.Itoa(music.MaxPageLimit)
		}
		p.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			details["offset"] = "must be a non-negative integer"
		}
		p.Offset = n
	}
	if len(details) > 0 {
		return p, apperr.ValidationWithDetails("invalid paging", details)
	}
	return p.Normalize(), nil
}

// pageView is the JSON shape of a paged list.
type pageView struct {
	Items  any `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}
