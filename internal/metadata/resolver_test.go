package metadata

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nomadcxx/cinelink/internal/metadata/tmdb"
	"github.com/Nomadcxx/cinelink/internal/scanner"
)

type fakeSearcher struct {
	movies  map[string][]tmdb.Result
	shows   map[string][]tmdb.Result
	genres  map[int64][]tmdb.Genre
	seasons map[int64]map[int][]tmdb.Episode
	err     error
	delay   time.Duration

	searches    atomic.Int32
	seasonCalls atomic.Int32
}

func (f *fakeSearcher) wait(ctx context.Context) error {
	if f.delay == 0 {
		return nil
	}
	select {
	case <-time.After(f.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeSearcher) SearchMovie(ctx context.Context, query string, _ tmdb.SearchOptions) (*tmdb.Response, error) {
	f.searches.Add(1)
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	return &tmdb.Response{Results: f.movies[query]}, nil
}

func (f *fakeSearcher) SearchTV(ctx context.Context, query string, _ tmdb.SearchOptions) (*tmdb.Response, error) {
	f.searches.Add(1)
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	return &tmdb.Response{Results: f.shows[query]}, nil
}

func (f *fakeSearcher) GetMovieDetails(_ context.Context, id int64) (*tmdb.MovieDetails, error) {
	if f.err != nil {
		return nil, f.err
	}
	g, ok := f.genres[id]
	if !ok {
		return nil, tmdb.ErrNotFound
	}
	return &tmdb.MovieDetails{ID: id, Genres: g}, nil
}

func (f *fakeSearcher) GetTVDetails(_ context.Context, id int64) (*tmdb.TVDetails, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &tmdb.TVDetails{ID: id, Name: "The Show", FirstAirDate: "2005-03-24"}, nil
}

func (f *fakeSearcher) GetSeasonDetails(_ context.Context, id int64, season int) (*tmdb.SeasonDetails, error) {
	f.seasonCalls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	eps, ok := f.seasons[id][season]
	if !ok {
		return nil, tmdb.ErrNotFound
	}
	return &tmdb.SeasonDetails{SeasonNumber: season, Episodes: eps}, nil
}

func TestResolveBestCandidate(t *testing.T) {
	fake := &fakeSearcher{movies: map[string][]tmdb.Result{
		"Some Movie": {
			{ID: 1, Title: "Some Other Movie Entirely"},
			{ID: 12345, Title: "Some Movie", ReleaseDate: "2021-05-01"},
			{ID: 3, Title: "Some Movies"},
		},
	}}
	r := New(fake)

	m := r.Resolve(context.Background(), "Some Movie", scanner.KindMovie)
	require.True(t, m.Found())
	assert.Equal(t, int64(12345), m.ID)
	assert.Equal(t, 2021, m.Year)
}

func TestResolveTieKeepsFirst(t *testing.T) {
	fake := &fakeSearcher{shows: map[string][]tmdb.Result{
		"Show": {
			{ID: 10, Name: "Show"},
			{ID: 20, Name: "Show"},
		},
	}}
	r := New(fake)

	m := r.Resolve(context.Background(), "Show", scanner.KindEpisode)
	assert.Equal(t, int64(10), m.ID)
}

func TestResolveNotFoundIsCached(t *testing.T) {
	fake := &fakeSearcher{}
	r := New(fake)
	ctx := context.Background()

	assert.False(t, r.Resolve(ctx, "Nothing Here", scanner.KindMovie).Found())
	assert.False(t, r.Resolve(ctx, "nothing here", scanner.KindMovie).Found())
	assert.Equal(t, int32(1), fake.searches.Load())
}

func TestResolveErrorDegradesAndIsNotCached(t *testing.T) {
	fake := &fakeSearcher{err: errors.New("boom")}
	r := New(fake)
	ctx := context.Background()

	assert.Equal(t, NotFound, r.Resolve(ctx, "Some Movie", scanner.KindMovie))

	_, err := r.Lookup(ctx, "Some Movie", scanner.KindMovie)
	assert.Error(t, err)
	assert.Equal(t, int32(2), fake.searches.Load())
	assert.Zero(t, r.CacheLen())
}

func TestResolveTimeoutDegrades(t *testing.T) {
	fake := &fakeSearcher{delay: time.Second}
	r := New(fake, WithTimeout(20*time.Millisecond))

	start := time.Now()
	m := r.Resolve(context.Background(), "Slow Movie", scanner.KindMovie)
	assert.False(t, m.Found())
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestResolveConcurrentSingleLookup(t *testing.T) {
	fake := &fakeSearcher{
		delay:  50 * time.Millisecond,
		movies: map[string][]tmdb.Result{"Some Movie": {{ID: 12345, Title: "Some Movie"}}},
	}
	r := New(fake)

	const callers = 32
	var wg sync.WaitGroup
	ids := make([]int64, callers)
	for i := range callers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i] = r.Resolve(context.Background(), "Some Movie", scanner.KindMovie).ID
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), fake.searches.Load())
	for _, id := range ids {
		assert.Equal(t, int64(12345), id)
	}
}

func TestResolveKindsCachedSeparately(t *testing.T) {
	fake := &fakeSearcher{
		movies: map[string][]tmdb.Result{"Fargo": {{ID: 275, Title: "Fargo"}}},
		shows:  map[string][]tmdb.Result{"Fargo": {{ID: 60622, Name: "Fargo"}}},
	}
	r := New(fake)
	ctx := context.Background()

	assert.Equal(t, int64(275), r.Resolve(ctx, "Fargo", scanner.KindMovie).ID)
	assert.Equal(t, int64(60622), r.Resolve(ctx, "Fargo", scanner.KindEpisode).ID)
}

func TestResolveNilClient(t *testing.T) {
	r := New(nil)
	ctx := context.Background()

	assert.False(t, r.Enabled())
	assert.Equal(t, NotFound, r.Resolve(ctx, "Anything", scanner.KindMovie))
	assert.Nil(t, r.Genres(ctx, 1))
	assert.Empty(t, r.EpisodeTitle(ctx, 1, 1, 1))

	_, err := r.Lookup(ctx, "Anything", scanner.KindMovie)
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestGenres(t *testing.T) {
	fake := &fakeSearcher{genres: map[int64][]tmdb.Genre{12345: {{Name: "Action"}, {Name: "Thriller"}}}}
	r := New(fake)

	assert.Equal(t, []string{"Action", "Thriller"}, r.Genres(context.Background(), 12345))
	assert.Empty(t, r.Genres(context.Background(), 999))
}

func TestEpisodeTitleFetchesSeasonOnce(t *testing.T) {
	fake := &fakeSearcher{seasons: map[int64]map[int][]tmdb.Episode{
		7: {1: {{EpisodeNumber: 1, Name: "Pilot"}, {EpisodeNumber: 2, Name: "Second"}}},
	}}
	r := New(fake)
	ctx := context.Background()

	assert.Equal(t, "Pilot", r.EpisodeTitle(ctx, 7, 1, 1))
	assert.Equal(t, "Second", r.EpisodeTitle(ctx, 7, 1, 2))
	assert.Empty(t, r.EpisodeTitle(ctx, 7, 1, 3))
	assert.Equal(t, int32(1), fake.seasonCalls.Load())
}

func TestSeries(t *testing.T) {
	r := New(&fakeSearcher{})

	m := r.Series(context.Background(), 7)
	assert.Equal(t, "The Show", m.Title)
	assert.Equal(t, 2005, m.Year)
}

func TestSearchQuery(t *testing.T) {
	tests := []struct {
		title string
		kind  scanner.Kind
		want  string
	}{
		{"Some Movie (2021)", scanner.KindMovie, "Some Movie"},
		{"Some Movie", scanner.KindMovie, "Some Movie"},
		{"24: Live Another Day", scanner.KindEpisode, "Live Another Day"},
		{"The Show", scanner.KindEpisode, "The Show"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, searchQuery(tt.title, tt.kind), tt.title)
	}
}
