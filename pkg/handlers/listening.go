// This file contains the listening list endpoints.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// ListeningListJSON returns the album ids on the user's listening list.
func (app *Application) ListeningListJSON(w http.ResponseWriter, r *http.Request) {
	ids, err := app.Library.List(r.Context(), currentUser(r.Context()))
	if err != nil {
		app.writeError(w, r, err)
		return
	}
	app.writeJSON(w, http.StatusOK, map[string][]string{"album_ids": ids})
}

// AddToListeningList appends an album to the user's listening list.
func (app *Application) AddToListeningList(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AlbumID string `json:"album_id" validate:"spotify_id"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		app.writeError(w, r, err)
		return
	}
	if err := app.Library.Add(r.Context(), currentUser(r.Context()), req.AlbumID); err != nil {
		app.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// RemoveFromListeningList removes an album from the user's listening list.
func (app *Application) RemoveFromListeningList(w http.ResponseWriter, r *http.Request) {
	if err := app.Library.Remove(r.Context(), currentUser(r.Context()), chi.URLParam(r, "id")); err != nil {
		app.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
