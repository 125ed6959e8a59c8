// Package library manages each user's listening list: an ordered set of
// Spotify album ids the user intends to listen to.
package library

import (
	"context"

	"github.com/sirupsen/logrus"

	"Smart-Music-Tags/pkg/apperr"
	"Smart-Music-Tags/pkg/db"
	"Smart-Music-Tags/pkg/validation"
)

// Store persists listening lists. *db.DB implements it.
type Store interface {
	AddToListeningList(ctx context.Context, userID int64, albumID string) error
	RemoveFromListeningList(ctx context.Context, userID int64, albumID string) error
	ListeningList(ctx context.Context, userID int64) ([]string, error)
}

var _ Store = (*db.DB)(nil)

// Service validates listening list changes before storing them.
type Service struct {
	store    Store
	validate *validation.Validator
	log      logrus.FieldLogger
}

// New returns a Service backed by store.
func New(store Store, logger logrus.FieldLogger) *Service {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{store: store, validate: validation.New(), log: logger.WithField("component", "library")}
}

func (s *Service) check(user *db.User, albumID string) error {
	if user == nil {
		return apperr.Unauthorized("not logged in")
	}
	return s.validate.Var("album_id", albumID, "spotify_id")
}

// Add appends the album to the user's listening list. Adding an album that
// is already listed fails with an already exists error.
func (s *Service) Add(ctx context.Context, user *db.User, albumID string) error {
	if err := s.check(user, albumID); err != nil {
		return err
	}
	if err := s.store.AddToListeningList(ctx, user.ID, albumID); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"user": user.SpotifyID, "album": albumID}).Debug("added to listening list")
	return nil
}

// Remove drops the album from the user's listening list.
func (s *Service) Remove(ctx context.Context, user *db.User, albumID string) error {
	if err := s.check(user, albumID); err != nil {
		return err
	}
	return s.store.RemoveFromListeningList(ctx, user.ID, albumID)
}

// List returns the user's listening list in the order albums were added.
func (s *Service) List(ctx context.Context, user *db.User) ([]string, error) {
	if user == nil {
		return nil, apperr.Unauthorized("not logged in")
	}
	return s.store.ListeningList(ctx, user.ID)
}
