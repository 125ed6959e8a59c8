// This file contains the tagging endpoints.
package handlers

import (
	"net/http"

	"Smart-Music-Tags/pkg/tags"
)

// albumTagRequest is the body of POST and DELETE /api/me/album-tags.
type albumTagRequest struct {
	Tag struct {
		Name string `json:"name" validate:"required,max=64"`
	} `json:"tag"`
	Album struct {
		SpotifyID string `json:"spotify_id" validate:"spotify_id"`
	} `json:"album"`
}

// AttachTag applies a tag to an album for the current user and responds with
// the user's tags grouped by album.
func (app *Application) AttachTag(w http.ResponseWriter, r *http.Request) {
	var req albumTagRequest
	if err := decodeJSON(w, r, &req); err != nil {
		app.writeError(w, r, err)
		return
	}
	own, err := app.Tags.Attach(r.Context(), currentUser(r.Context()), req.Tag.Name, req.Album.SpotifyID)
	if err != nil {
		app.writeError(w, r, err)
		return
	}
	app.writeJSON(w, http.StatusCreated, own)
}

// DetachTag removes a tag from an album for the current user.
func (app *Application) DetachTag(w http.ResponseWriter, r *http.Request) {
	var req albumTagRequest
	if err := decodeJSON(w, r, &req); err != nil {
		app.writeError(w, r, err)
		return
	}
	if err := app.Tags.Detach(r.Context(), currentUser(r.Context()), req.Tag.Name, req.Album.SpotifyID); err != nil {
		app.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UserTagsJSON lists the user's distinct tags with usage counts.
func (app *Application) UserTagsJSON(w http.ResponseWriter, r *http.Request) {
	counts, err := app.Tags.TagsForUser(r.Context(), currentUser(r.Context()))
	if err != nil {
		app.writeError(w, r, err)
		return
	}
	app.writeJSON(w, http.StatusOK, map[string][]tags.TagCount{"tags": counts})
}

// TagsByAlbumJSON lists the user's tags keyed by album id.
func (app *Application) TagsByAlbumJSON(w http.ResponseWriter, r *http.Request) {
	own, err := app.Tags.TagsGroupedByAlbum(r.Context(), currentUser(r.Context()))
	if err != nil {
		app.writeError(w, r, err)
		return
	}
	app.writeJSON(w, http.StatusOK, own)
}
