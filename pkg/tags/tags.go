// Package tags maintains the tag graph: users own album tags, album tags
// join one album and one tag, and rows nobody references are removed when
// the last owner detaches.
//
// Attach and Detach are sequences of single-statement store calls. There is
// no transaction spanning them; each orphan check is evaluated by the store
// at delete time.
package tags

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"Smart-Music-Tags/pkg/apperr"
	"Smart-Music-Tags/pkg/db"
	"Smart-Music-Tags/pkg/metrics"
	"Smart-Music-Tags/pkg/slug"
)

// MaxNameLength is the longest accepted tag name in characters.
const MaxNameLength = 64

// Store is the persistence used by the Maintainer. *db.DB implements it.
type Store interface {
	FindOrCreateTag(ctx context.Context, name string) (*db.Tag, bool, error)
	FindTagByUniqueID(ctx context.Context, uniqueID string) (*db.Tag, error)
	FindOrCreateAlbum(ctx context.Context, spotifyID string) (*db.Album, bool, error)
	FindAlbumBySpotifyID(ctx context.Context, spotifyID string) (*db.Album, error)
	FindOrCreateAlbumTag(ctx context.Context, albumID, tagID int64) (*db.AlbumTag, bool, error)
	FindAlbumTag(ctx context.Context, albumID, tagID int64) (*db.AlbumTag, error)
	AddAlbumTagToUser(ctx context.Context, userID, albumTagID int64) (bool, error)
	RemoveAlbumTagFromUser(ctx context.Context, userID, albumTagID int64) (bool, error)
	RemoveAlbumTagIfOrphan(ctx context.Context, albumTagID int64) (bool, error)
	RemoveAlbumIfOrphan(ctx context.Context, albumID int64) (bool, error)
	RemoveTagIfOrphan(ctx context.Context, tagID int64) (bool, error)
	SweepOrphans(ctx context.Context) (db.OrphanCounts, error)
	OwnedAlbumTags(ctx context.Context, userID int64) ([]db.AlbumTag, error)
	ResolveAlbumTags(ctx context.Context, refs []db.AlbumTag) ([]db.ResolvedAlbumTag, error)
}

var _ Store = (*db.DB)(nil)

// Maintainer applies tagging actions to the graph.
type Maintainer struct {
	store   Store
	metrics *metrics.Metrics
	log     logrus.FieldLogger
}

// New returns a Maintainer. A nil m records into a throwaway registry.
func New(store Store, m *metrics.Metrics, logger logrus.FieldLogger) *Maintainer {
	if m == nil {
		m = metrics.NewNop()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Maintainer{store: store, metrics: m, log: logger.WithField("component", "tags")}
}

// NormalizeName trims name and checks its length.
func NormalizeName(name string) (string, error) {
	name = slug.DisplayName(name)
	if name == "" {
		return "", apperr.Validation("tag name is required")
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return "", apperr.Validation("tag name is too long")
	}
	return name, nil
}

func requireUser(user *db.User) error {
	if user == nil {
		return apperr.Unauthorized("not logged in")
	}
	return nil
}

// Attach tags the album for user and returns the user's ownership grouped
// by album. Rows created before a failing step are left in place. When the
// album tag disappears between lookup and ownership insert, the attach is
// run once more.
func (m *Maintainer) Attach(ctx context.Context, user *db.User, tagName, albumID string) (Ownership, error) {
	if err := requireUser(user); err != nil {
		return nil, err
	}
	name, err := NormalizeName(tagName)
	if err != nil {
		return nil, err
	}
	if albumID == "" {
		return nil, apperr.Validation("album id is required")
	}
	log := m.log.WithFields(logrus.Fields{"user": user.SpotifyID, "tag": name, "album": albumID})

	err = m.attach(ctx, user.ID, name, albumID)
	if apperr.Is(err, apperr.ErrConflict) {
		log.WithError(err).Debug("album tag removed concurrently, retrying attach")
		err = m.attach(ctx, user.ID, name, albumID)
	}
	m.observe("attach", err)
	if err != nil {
		return nil, err
	}
	log.Info("tag attached")
	return m.TagsGroupedByAlbum(ctx, user)
}

func (m *Maintainer) attach(ctx context.Context, userID int64, name, albumID string) error {
	tag, _, err := m.store.FindOrCreateTag(ctx, name)
	if err != nil {
		return err
	}
	album, _, err := m.store.FindOrCreateAlbum(ctx, albumID)
	if err != nil {
		return err
	}
	at, _, err := m.store.FindOrCreateAlbumTag(ctx, album.ID, tag.ID)
	if err != nil {
		return err
	}
	added, err := m.store.AddAlbumTagToUser(ctx, userID, at.ID)
	if err != nil {
		return err
	}
	if !added {
		return apperr.AlreadyTagged("album is already tagged with " + tag.Name)
	}
	return nil
}

// Detach removes the tag from the album for user. The album tag is deleted
// when no other user owns it, and then the album and the tag are each
// deleted when nothing else references them. A cleanup failure is returned
// after the ownership has been removed.
func (m *Maintainer) Detach(ctx context.Context, user *db.User, tagName, albumID string) error {
	if err := requireUser(user); err != nil {
		return err
	}
	name, err := NormalizeName(tagName)
	if err != nil {
		return err
	}
	if albumID == "" {
		return apperr.Validation("album id is required")
	}
	at, err := m.detach(ctx, user.ID, name, albumID)
	m.observe("detach", err)
	if err != nil {
		return err
	}
	log := m.log.WithFields(logrus.Fields{"user": user.SpotifyID, "tag": name, "album": albumID})
	log.Info("tag detached")
	if err := m.cascade(ctx, at); err != nil {
		// The ownership is already gone. Sweep reclaims whatever the
		// cascade could not delete.
		log.WithError(err).Warn("orphan cleanup failed")
		return err
	}
	return nil
}

func (m *Maintainer) detach(ctx context.Context, userID int64, name, albumID string) (*db.AlbumTag, error) {
	tag, err := m.store.FindTagByUniqueID(ctx, slug.TagID(name))
	if err != nil {
		return nil, err
	}
	if tag == nil {
		return nil, apperr.NotFound("tag not found")
	}
	album, err := m.store.FindAlbumBySpotifyID(ctx, albumID)
	if err != nil {
		return nil, err
	}
	if album == nil {
		return nil, apperr.NotFound("album not found")
	}
	at, err := m.store.FindAlbumTag(ctx, album.ID, tag.ID)
	if err != nil {
		return nil, err
	}
	if at == nil {
		return nil, apperr.NotFound("album is not tagged with " + tag.Name)
	}
	removed, err := m.store.RemoveAlbumTagFromUser(ctx, userID, at.ID)
	if err != nil {
		return nil, err
	}
	if !removed {
		return nil, apperr.NotTagged("you have not tagged this album with " + tag.Name)
	}
	return at, nil
}

// cascade removes at if it is orphaned and then checks its album and tag
// independently of each other.
func (m *Maintainer) cascade(ctx context.Context, at *db.AlbumTag) error {
	gone, err := m.store.RemoveAlbumTagIfOrphan(ctx, at.ID)
	if err != nil || !gone {
		return err
	}
	m.metrics.OrphansRemoved.WithLabelValues("album_tag").Inc()

	albumGone, albumErr := m.store.RemoveAlbumIfOrphan(ctx, at.AlbumID)
	if albumGone {
		m.metrics.OrphansRemoved.WithLabelValues("album").Inc()
	}
	tagGone, tagErr := m.store.RemoveTagIfOrphan(ctx, at.TagID)
	if tagGone {
		m.metrics.OrphansRemoved.WithLabelValues("tag").Inc()
	}
	return apperr.Join(albumErr, tagErr)
}

// Sweep removes every orphaned album tag, album and tag.
func (m *Maintainer) Sweep(ctx context.Context) (db.OrphanCounts, error) {
	c, err := m.store.SweepOrphans(ctx)
	m.metrics.OrphansRemoved.WithLabelValues("album_tag").Add(float64(c.AlbumTags))
	m.metrics.OrphansRemoved.WithLabelValues("album").Add(float64(c.Albums))
	m.metrics.OrphansRemoved.WithLabelValues("tag").Add(float64(c.Tags))
	if err != nil {
		return c, err
	}
	m.log.WithFields(logrus.Fields{
		"album_tags": c.AlbumTags,
		"albums":     c.Albums,
		"tags":       c.Tags,
	}).Info("orphans swept")
	return c, nil
}

func (m *Maintainer) observe(action string, err error) {
	result := "ok"
	if err != nil {
		result = strings.ToLower(string(apperr.CodeOf(err)))
	}
	m.metrics.TagMutations.WithLabelValues(action, result).Inc()
}

func (m *Maintainer) resolved(ctx context.Context, user *db.User) ([]db.ResolvedAlbumTag, error) {
	if err := requireUser(user); err != nil {
		return nil, err
	}
	refs, err := m.store.OwnedAlbumTags(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return m.store.ResolveAlbumTags(ctx, refs)
}

// TagsGroupedByAlbum returns the user's tags keyed by album Spotify id.
func (m *Maintainer) TagsGroupedByAlbum(ctx context.Context, user *db.User) (Ownership, error) {
	items, err := m.resolved(ctx, user)
	if err != nil {
		return nil, err
	}
	return GroupByAlbum(items), nil
}

// TagsForUser returns each distinct tag the user applied with the number of
// albums it is applied to.
func (m *Maintainer) TagsForUser(ctx context.Context, user *db.User) ([]TagCount, error) {
	items, err := m.resolved(ctx, user)
	if err != nil {
		return nil, err
	}
	return CountTags(items), nil
}

// TagsForAlbum returns the tags the user applied to one album.
func (m *Maintainer) TagsForAlbum(ctx context.Context, user *db.User, albumID string) ([]db.Tag, error) {
	items, err := m.resolved(ctx, user)
	if err != nil {
		return nil, err
	}
	return FilterByAlbum(items, albumID), nil
}
