// Package metadata resolves parsed titles to TMDB identities and caches the
// answers for the lifetime of the process.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/Nomadcxx/cinelink/internal/metadata/tmdb"
	"github.com/Nomadcxx/cinelink/internal/scanner"
)

// ErrDisabled is returned by Lookup when no TMDB client is configured
var ErrDisabled = errors.New("metadata lookups disabled")

// Match is a resolved TMDB identity. The zero Match is NotFound.
type Match struct {
	ID    int64
	Title string
	Year  int
}

// NotFound is the result of a failed or empty lookup
var NotFound = Match{}

func (m Match) Found() bool { return m.ID != 0 }

// Resolver looks titles up against TMDB. Every answer, including NotFound for
// a search with no results, is cached per (kind, normalized title); lookups
// that fail with an error are not cached so a later call can retry.
type Resolver struct {
	client  tmdb.Searcher
	timeout time.Duration
	logger  zerolog.Logger

	mu    sync.RWMutex
	cache map[string]any
	group singleflight.Group
}

type Option func(*Resolver)

// WithTimeout bounds every network call
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// New creates a resolver. A nil client disables lookups: every call answers
// NotFound.
func New(client tmdb.Searcher, opts ...Option) *Resolver {
	r := &Resolver{
		client:  client,
		timeout: 10 * time.Second,
		logger:  zerolog.Nop(),
		cache:   make(map[string]any),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Enabled reports whether a client is configured
func (r *Resolver) Enabled() bool {
	return r.client != nil
}

// Resolve returns the best TMDB match for title, or NotFound. Errors are
// logged and degrade to NotFound.
func (r *Resolver) Resolve(ctx context.Context, title string, kind scanner.Kind) Match {
	m, err := r.Lookup(ctx, title, kind)
	if err != nil {
		if !errors.Is(err, ErrDisabled) {
			r.logger.Warn().Err(err).Str("title", title).Stringer("kind", kind).Msg("lookup failed, continuing without id")
		}
		return NotFound
	}
	return m
}

// Lookup is Resolve with the error surfaced
func (r *Resolver) Lookup(ctx context.Context, title string, kind scanner.Kind) (Match, error) {
	key := NormalizeQuery(title, kind)
	if key == "" {
		return NotFound, nil
	}
	if r.client == nil {
		return NotFound, ErrDisabled
	}

	return cached(ctx, r, "search|"+kind.String()+"|"+key, func(ctx context.Context) (Match, error) {
		query := searchQuery(title, kind)
		var (
			resp *tmdb.Response
			err  error
		)
		if kind == scanner.KindEpisode {
			resp, err = r.client.SearchTV(ctx, query, tmdb.SearchOptions{})
		} else {
			resp, err = r.client.SearchMovie(ctx, query, tmdb.SearchOptions{})
		}
		if err != nil {
			return NotFound, err
		}

		best, ok := bestCandidate(title, resp.Results)
		if !ok {
			r.logger.Debug().Str("title", title).Stringer("kind", kind).Msg("no tmdb results")
			return NotFound, nil
		}
		return Match{ID: best.ID, Title: best.DisplayName(), Year: best.Year()}, nil
	})
}

// Genres returns the genre names of a movie, empty on failure
func (r *Resolver) Genres(ctx context.Context, movieID int64) []string {
	if r.client == nil || movieID == 0 {
		return nil
	}

	genres, err := cached(ctx, r, fmt.Sprintf("genres|%d", movieID), func(ctx context.Context) ([]string, error) {
		details, err := r.client.GetMovieDetails(ctx, movieID)
		if err != nil {
			if errors.Is(err, tmdb.ErrNotFound) {
				return nil, nil
			}
			return nil, err
		}
		names := make([]string, 0, len(details.Genres))
		for _, g := range details.Genres {
			if g.Name != "" {
				names = append(names, g.Name)
			}
		}
		return names, nil
	})
	if err != nil {
		r.logger.Warn().Err(err).Int64("tmdb_id", movieID).Msg("genre lookup failed")
		return nil
	}
	return genres
}

// Series returns the canonical title and first-air year of a series
func (r *Resolver) Series(ctx context.Context, seriesID int64) Match {
	if r.client == nil || seriesID == 0 {
		return NotFound
	}

	m, err := cached(ctx, r, fmt.Sprintf("series|%d", seriesID), func(ctx context.Context) (Match, error) {
		details, err := r.client.GetTVDetails(ctx, seriesID)
		if err != nil {
			if errors.Is(err, tmdb.ErrNotFound) {
				return NotFound, nil
			}
			return NotFound, err
		}
		res := tmdb.Result{ID: details.ID, Name: details.Name, FirstAirDate: details.FirstAirDate}
		return Match{ID: seriesID, Title: details.Name, Year: res.Year()}, nil
	})
	if err != nil {
		r.logger.Warn().Err(err).Int64("tmdb_id", seriesID).Msg("series lookup failed")
		return NotFound
	}
	return m
}

// EpisodeTitle returns the name of one episode, empty when unknown. The whole
// season is fetched once and cached.
func (r *Resolver) EpisodeTitle(ctx context.Context, seriesID int64, season, episode int) string {
	if r.client == nil || seriesID == 0 {
		return ""
	}

	titles, err := cached(ctx, r, fmt.Sprintf("season|%d|%d", seriesID, season), func(ctx context.Context) (map[int]string, error) {
		details, err := r.client.GetSeasonDetails(ctx, seriesID, season)
		if err != nil {
			if errors.Is(err, tmdb.ErrNotFound) {
				return map[int]string{}, nil
			}
			return nil, err
		}
		out := make(map[int]string, len(details.Episodes))
		for _, ep := range details.Episodes {
			out[ep.EpisodeNumber] = strings.TrimSpace(ep.Name)
		}
		return out, nil
	})
	if err != nil {
		r.logger.Warn().Err(err).Int64("tmdb_id", seriesID).Int("season", season).Msg("season lookup failed")
		return ""
	}
	return titles[episode]
}

// CacheLen reports how many answers are cached
func (r *Resolver) CacheLen() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}

// cached returns the cached value for key or runs fetch once across all
// concurrent callers. Only successful fetches are stored.
func cached[T any](ctx context.Context, r *Resolver, key string, fetch func(context.Context) (T, error)) (T, error) {
	r.mu.RLock()
	v, ok := r.cache[key]
	r.mu.RUnlock()
	if ok {
		return v.(T), nil
	}

	res, err, _ := r.group.Do(key, func() (any, error) {
		r.mu.RLock()
		v, ok := r.cache[key]
		r.mu.RUnlock()
		if ok {
			return v, nil
		}

		// shared by every waiter, detached from the first caller's cancel
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()

		val, err := fetch(callCtx)
		if err != nil {
			return val, err
		}

		r.mu.Lock()
		r.cache[key] = val
		r.mu.Unlock()
		return val, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return res.(T), nil
}

// NormalizeQuery is the cache key for a title
func NormalizeQuery(title string, kind scanner.Kind) string {
	return scanner.NormalizeKey(searchQuery(title, kind))
}

// searchQuery drops a trailing "(...)" from movie titles and a leading
// "N: " prefix from series titles.
func searchQuery(title string, kind scanner.Kind) string {
	title = strings.TrimSpace(title)
	if kind == scanner.KindEpisode {
		if title != "" && title[0] >= '0' && title[0] <= '9' {
			if _, rest, ok := strings.Cut(title, ":"); ok && strings.TrimSpace(rest) != "" {
				return strings.TrimSpace(rest)
			}
		}
		return title
	}
	if head, _, ok := strings.Cut(title, "("); ok && strings.TrimSpace(head) != "" {
		return strings.TrimSpace(head)
	}
	return title
}

// bestCandidate picks the result whose name is most similar to title. The
// first result wins ties.
func bestCandidate(title string, results []tmdb.Result) (tmdb.Result, bool) {
	if len(results) == 0 {
		return tmdb.Result{}, false
	}

	want := scanner.NormalizeKey(title)
	best := results[0]
	bestScore := scanner.SimilarityRatio(want, scanner.NormalizeKey(best.DisplayName()))
	for _, cand := range results[1:] {
		score := scanner.SimilarityRatio(want, scanner.NormalizeKey(cand.DisplayName()))
		if score > bestScore {
			best, bestScore = cand, score
		}
	}
	return best, true
}
