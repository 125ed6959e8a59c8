// This file wires the router, the middleware stack and the dependencies the
// HTTP handlers share.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"Smart-Music-Tags/pkg/db"
	"Smart-Music-Tags/pkg/library"
	"Smart-Music-Tags/pkg/metrics"
	"Smart-Music-Tags/pkg/music"
	"Smart-Music-Tags/pkg/tags"
	"Smart-Music-Tags/pkg/validation"
)

var validate = validation.New()

// OAuth is the authorization code flow. spotifyauth.Authenticator implements
// it.
type OAuth interface {
	AuthURL(state string, opts ...oauth2.AuthCodeOption) string
	Token(ctx context.Context, state string, r *http.Request, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error)
}

// Users loads and stores user accounts. *db.DB implements it.
type Users interface {
	UpsertUser(ctx context.Context, spotifyID, displayName, accessToken, refreshToken string) (*db.User, error)
	UserBySpotifyID(ctx context.Context, spotifyID string) (*db.User, error)
}

// Application bundles the dependencies used by the HTTP handlers.
type Application struct {
	Catalog music.Catalog
	Tags    *tags.Maintainer
	Library *library.Service
	Users   Users
	Auth    OAuth
	// SignKey signs the session and OAuth state cookies.
	SignKey []byte
	Metrics *metrics.Metrics
	Logger  logrus.FieldLogger
	// CORSOrigins lists the origins allowed to call the API from a browser.
	CORSOrigins []string
	// Ping reports store health for /healthz.
	Ping func(ctx context.Context) error
}

func (app *Application) logger() logrus.FieldLogger {
	if app.Logger == nil {
		return logrus.StandardLogger()
	}
	return app.Logger
}

// Routes builds the router serving every endpoint.
func (app *Application) Routes() http.Handler {
	if app.Metrics == nil {
		app.Metrics = metrics.NewNop()
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(app.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(SecurityHeaders)
	if len(app.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   app.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Content-Type", csrfHeader},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", app.Healthz)
	r.Method(http.MethodGet, "/metrics", app.Metrics.Handler())
	r.Get("/login", app.Login)
	r.Get("/callback", app.OAuthCallback)
	r.Post("/logout", app.Logout)

	r.Route("/api", func(r chi.Router) {
		r.Use(app.requireUser)

		r.Get("/albums", app.AlbumsJSON)
		r.Get("/albums/{id}/tags", app.AlbumTagsJSON)
		r.Get("/search/albums", app.SearchAlbumsJSON)
		r.Get("/search/artists", app.SearchArtistsJSON)

		r.Route("/me", func(r chi.Router) {
			r.Get("/albums", app.SavedAlbumsJSON)
			r.Put("/albums/{id}", app.SaveAlbum)
			r.Delete("/albums/{id}", app.RemoveAlbum)

			r.Get("/tags", app.UserTagsJSON)
			r.Get("/tags/albums", app.TagsByAlbumJSON)
			r.Post("/album-tags", app.AttachTag)
			r.Delete("/album-tags", app.DetachTag)

			r.Get("/listening-list", app.ListeningListJSON)
			r.Post("/listening-list", app.AddToListeningList)
			r.Delete("/listening-list/{id}", app.RemoveFromListeningList)
		})
	})
	return r
}

// logRequests records one log line and the HTTP metrics for each request.
// The route label is the matched pattern so ids do not explode cardinality.
func (app *Application) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		elapsed := time.Since(start)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		app.Metrics.ObserveHTTP(route, r.Method, status, elapsed)
		app.logger().WithFields(logrus.Fields{
			"request_id":  middleware.GetReqID(r.Context()),
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      status,
			"duration_ms": elapsed.Milliseconds(),
		}).Info("request")
	})
}

// Healthz reports whether the store is reachable.
func (app *Application) Healthz(w http.ResponseWriter, r *http.Request) {
	if app.Ping != nil {
		if err := app.Ping(r.Context()); err != nil {
			app.logger().WithError(err).Error("health check failed")
			app.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	app.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
