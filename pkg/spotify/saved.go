package spotify

import (
	"context"
	"fmt"

	"github.com/sourcegraph/conc/pool"
	"github.com/zmb3/spotify/v2"

	"Smart-Music-Tags/pkg/music"
)

// albumTrackIDs returns the ids of every track on album. A full album embeds
// only the first page of its tracks; the rest are fetched 50 at a time.
func albumTrackIDs(ctx context.Context, api API, album *music.Album) ([]spotify.ID, error) {
	tracks := album.Tracks.Tracks
	total := int(album.Tracks.Total)
	for len(tracks) < total {
		page, err := api.GetAlbumTracks(ctx, album.ID, spotify.Limit(trackBatchSize), spotify.Offset(len(tracks)))
		if err != nil {
			return nil, err
		}
		if len(page.Tracks) == 0 {
			return nil, fmt.Errorf("album %s lists %d tracks but returned %d", album.ID, total, len(tracks))
		}
		tracks = append(tracks, page.Tracks...)
	}
	ids := make([]spotify.ID, 0, len(tracks))
	for _, t := range tracks {
		if t.ID != "" {
			ids = append(ids, t.ID)
		}
	}
	return ids, nil
}

// allTracksSaved checks the tracks in batches of 50, in parallel. The first
// failing batch cancels the requests still in flight and fails the whole
// check.
func allTracksSaved(ctx context.Context, api API, ids []spotify.ID) (bool, error) {
	p := pool.NewWithResults[bool]().WithContext(ctx).WithCancelOnError().WithFirstError()
	for _, batch := range partition(ids, trackBatchSize) {
		p.Go(func(ctx context.Context) (bool, error) {
			saved, err := api.UserHasTracks(ctx, batch...)
			if err != nil {
				return false, err
			}
			if len(saved) != len(batch) {
				return false, fmt.Errorf("saved-track check returned %d results for %d tracks", len(saved), len(batch))
			}
			for _, ok := range saved {
				if !ok {
					return false, nil
				}
			}
			return true, nil
		})
	}
	results, err := p.Wait()
	if err != nil {
		return false, err
	}
	for _, ok := range results {
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
