// This file contains the album and search endpoints. They proxy the Spotify
// catalog and decorate albums with the tags the current user applied.
package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"Smart-Music-Tags/pkg/apperr"
	"Smart-Music-Tags/pkg/db"
	"Smart-Music-Tags/pkg/music"
)

// maxAlbumIDs bounds the ids accepted by GET /api/albums.
const maxAlbumIDs = 50

// albumView is a catalog album with the user's tags.
type albumView struct {
	*music.Album
	Tags  []db.Tag `json:"tags"`
	Saved *bool    `json:"saved,omitempty"`
}

type savedAlbumView struct {
	AddedAt string `json:"added_at"`
	albumView
}

func tagsOf(own map[string][]db.Tag, id string) []db.Tag {
	if t, ok := own[id]; ok {
		return t
	}
	return []db.Tag{}
}

// ownedTags returns the user's tags keyed by album id.
func (app *Application) ownedTags(r *http.Request, user *db.User) (map[string][]db.Tag, error) {
	grouped, err := app.Tags.TagsGroupedByAlbum(r.Context(), user)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]db.Tag, len(grouped))
	for id, g := range grouped {
		out[id] = g.Tags
	}
	return out, nil
}

// SavedAlbumsJSON lists one page of the user's saved albums with their tags.
func (app *Application) SavedAlbumsJSON(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())
	page, err := pageFromQuery(r)
	if err != nil {
		app.writeError(w, r, err)
		return
	}
	saved, err := app.Catalog.SavedAlbums(r.Context(), user, page)
	if err != nil {
		app.writeError(w, r, err)
		return
	}
	own, err := app.ownedTags(r, user)
	if err != nil {
		app.writeError(w, r, err)
		return
	}
	items := make([]savedAlbumView, 0, len(saved.Albums))
	for i := range saved.Albums {
		a := &saved.Albums[i]
		items = append(items, savedAlbumView{
			AddedAt:   a.AddedAt,
			albumView: albumView{Album: &a.FullAlbum, Tags: tagsOf(own, string(a.ID))},
		})
	}
	app.writeJSON(w, http.StatusOK, pageView{Items: items, Total: int(saved.Total), Limit: page.Limit, Offset: page.Offset})
}

// AlbumsJSON looks up albums by the comma separated ids query parameter. With
// check_saved=true each album also reports whether all of its tracks are in
// the user's library.
func (app *Application) AlbumsJSON(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())
	var ids []string
	for _, id := range strings.Split(r.URL.Query().Get("ids"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		app.writeError(w, r, apperr.ValidationWithDetails("validation failed", map[string]string{"ids": "is required"}))
		return
	}
	if len(ids) > maxAlbumIDs {
		app.writeError(w, r, apperr.ValidationWithDetails("validation failed", map[string]string{"ids": "must not list more than 50 albums"}))
		return
	}
	for _, id := range ids {
		if err := validate.Var("ids", id, "spotify_id"); err != nil {
			app.writeError(w, r, err)
			return
		}
	}
	checkSaved := r.URL.Query().Get("check_saved") == "true"

	albums, err := app.Catalog.Albums(r.Context(), user, ids)
	if err != nil {
		app.writeError(w, r, err)
		return
	}
	own, err := app.ownedTags(r, user)
	if err != nil {
		app.writeError(w, r, err)
		return
	}
	items := make([]albumView, 0, len(albums))
	for _, a := range albums {
		if a == nil {
			// Unknown ids come back as null entries.
			continue
		}
		v := albumView{Album: a, Tags: tagsOf(own, string(a.ID))}
		if checkSaved {
			// Sequential: a token refresh inside one check updates user for the next.
			ok, err := app.Catalog.IsAlbumSaved(r.Context(), user, a)
			if err != nil {
				app.writeError(w, r, err)
				return
			}
			v.Saved = &ok
		}
		items = append(items, v)
	}
	app.writeJSON(w, http.StatusOK, map[string]any{"albums": items})
}

// AlbumTagsJSON lists the tags the user applied to one album.
func (app *Application) AlbumTagsJSON(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := validate.Var("id", id, "spotify_id"); err != nil {
		app.writeError(w, r, err)
		return
	}
	list, err := app.Tags.TagsForAlbum(r.Context(), currentUser(r.Context()), id)
	if err != nil {
		app.writeError(w, r, err)
		return
	}
	app.writeJSON(w, http.StatusOK, map[string]any{"tags": list})
}

// SaveAlbum adds the album to the user's Spotify library.
func (app *Application) SaveAlbum(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := validate.Var("id", id, "spotify_id"); err != nil {
		app.writeError(w, r, err)
		return
	}
	if err := app.Catalog.SaveAlbum(r.Context(), currentUser(r.Context()), id); err != nil {
		app.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveAlbum removes the album from the user's Spotify library.
func (app *Application) RemoveAlbum(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := validate.Var("id", id, "spotify_id"); err != nil {
		app.writeError(w, r, err)
		return
	}
	if err := app.Catalog.RemoveAlbum(r.Context(), currentUser(r.Context()), id); err != nil {
		app.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func searchQuery(r *http.Request) (string, music.Page, error) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		return "", music.Page{}, apperr.ValidationWithDetails("validation failed", map[string]string{"q": "is required"})
	}
	page, err := pageFromQuery(r)
	return q, page, err
}

// SearchAlbumsJSON searches the catalog for albums.
func (app *Application) SearchAlbumsJSON(w http.ResponseWriter, r *http.Request) {
	q, page, err := searchQuery(r)
	if err != nil {
		app.writeError(w, r, err)
		return
	}
	res, err := app.Catalog.SearchAlbums(r.Context(), currentUser(r.Context()), q, page)
	if err != nil {
		app.writeError(w, r, err)
		return
	}
	items := res.Albums
	if items == nil {
		items = []music.SimpleAlbum{}
	}
	app.writeJSON(w, http.StatusOK, pageView{Items: items, Total: int(res.Total), Limit: page.Limit, Offset: page.Offset})
}

// SearchArtistsJSON searches the catalog for artists.
func (app *Application) SearchArtistsJSON(w http.ResponseWriter, r *http.Request) {
	q, page, err := searchQuery(r)
	if err != nil {
		app.writeError(w, r, err)
		return
	}
	res, err := app.Catalog.SearchArtists(r.Context(), currentUser(r.Context()), q, page)
	if err != nil {
		app.writeError(w, r, err)
		return
	}
	items := res.Artists
	if items == nil {
		items = []music.Artist{}
	}
	app.writeJSON(w, http.StatusOK, pageView{Items: items, Total: int(res.Total), Limit: page.Limit, Offset: page.Offset})
}
