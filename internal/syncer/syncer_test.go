package syncer

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nomadcxx/cinelink/internal/ledger"
	"github.com/Nomadcxx/cinelink/internal/library"
	"github.com/Nomadcxx/cinelink/internal/metadata"
	"github.com/Nomadcxx/cinelink/internal/scanner"
)

type fakeResolver struct {
	matches  map[string]metadata.Match
	genres   map[int64][]string
	series   map[int64]metadata.Match
	episodes map[int64]string
	err      error
}

func (f *fakeResolver) Resolve(ctx context.Context, title string, kind scanner.Kind) metadata.Match {
	m, _ := f.Lookup(ctx, title, kind)
	return m
}

func (f *fakeResolver) Lookup(_ context.Context, title string, _ scanner.Kind) (metadata.Match, error) {
	if f.err != nil {
		return metadata.NotFound, f.err
	}
	return f.matches[title], nil
}

func (f *fakeResolver) Series(_ context.Context, id int64) metadata.Match {
	return f.series[id]
}

func (f *fakeResolver) Genres(_ context.Context, id int64) []string {
	return f.genres[id]
}

func (f *fakeResolver) EpisodeTitle(_ context.Context, id int64, _, _ int) string {
	return f.episodes[id]
}

type fixture struct {
	root     string
	movies   Library
	series   Library
	store    *ledger.Store
	resolver *fakeResolver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{
		root:     root,
		movies:   Library{WatchDir: filepath.Join(root, "pool", "movies"), TargetDir: filepath.Join(root, "library", "movies")},
		series:   Library{WatchDir: filepath.Join(root, "pool", "tv"), TargetDir: filepath.Join(root, "library", "tv")},
		resolver: &fakeResolver{},
	}
	for _, dir := range []string{f.movies.WatchDir, f.movies.TargetDir, f.series.WatchDir, f.series.TargetDir} {
		require.NoError(t, os.MkdirAll(dir, 0755))
	}

	store, err := ledger.Open(context.Background(), filepath.Join(root, "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	f.store = store
	return f
}

func (f *fixture) syncer(opts Options) *Syncer {
	opts.Movies, opts.Series = f.movies, f.series
	if opts.Workers == 0 {
		opts.Workers = 4
	}
	policy := library.New(library.Config{
		MoviesRoot: f.movies.TargetDir,
		SeriesRoot: f.series.TargetDir,
		Now:        func() time.Time { return time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC) },
	})
	return New(opts, f.resolver, policy, f.store, zerolog.Nop())
}

func touch(t *testing.T, path string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("video"), 0644))
	return path
}

func assertLink(t *testing.T, link, source string) {
	t.Helper()
	dest, err := os.Readlink(link)
	require.NoError(t, err, "expected symlink at %s", link)
	assert.Equal(t, source, dest)
}

func countDirs(t *testing.T, root string) int {
	t.Helper()
	n := 0
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			n++
		}
		return nil
	})
	require.NoError(t, err)
	return n
}

func TestProcessMovie(t *testing.T) {
	f := newFixture(t)
	f.resolver.matches = map[string]metadata.Match{"Some Movie": {ID: 12345, Title: "Some Movie", Year: 2021}}
	f.resolver.genres = map[int64][]string{12345: {"Action", "Thriller"}}
	s := f.syncer(Options{})

	source := touch(t, filepath.Join(f.movies.WatchDir, "Some.Movie.2021.1080p.BluRay.x264-GROUP.mkv"))

	outcome, err := s.Process(context.Background(), scanner.SourceFile{Path: source, Kind: scanner.KindMovie})
	require.NoError(t, err)
	assert.Equal(t, OutcomeLinked, outcome)

	link := filepath.Join(f.movies.TargetDir, "Action", "Some Movie (2021) {tmdb-12345}", "Some Movie.mkv")
	assertLink(t, link, source)

	rec, err := f.store.Get(context.Background(), scanner.KindMovie, source)
	require.NoError(t, err)
	assert.Equal(t, link, rec.Link)
}

func TestProcessEpisodeWithoutMetadata(t *testing.T) {
	f := newFixture(t)
	s := f.syncer(Options{})

	source := touch(t, filepath.Join(f.series.WatchDir, "show.s01e02.mkv"))

	outcome, err := s.Process(context.Background(), scanner.SourceFile{Path: source, Kind: scanner.KindEpisode})
	require.NoError(t, err)
	assert.Equal(t, OutcomeLinked, outcome)

	assertLink(t, filepath.Join(f.series.TargetDir, "Show", "Season 01", "Show - s01e02 - Unknown Title.mkv"), source)
}

func TestProcessEpisodeTitleFromParentDir(t *testing.T) {
	f := newFixture(t)
	f.resolver.matches = map[string]metadata.Match{"The Show": {ID: 7, Title: "The Show", Year: 2005}}
	f.resolver.episodes = map[int64]string{7: "Pilot"}
	s := f.syncer(Options{})

	source := touch(t, filepath.Join(f.series.WatchDir, "The Show", "S01E01.mkv"))

	outcome, err := s.Process(context.Background(), scanner.SourceFile{Path: source, Kind: scanner.KindEpisode})
	require.NoError(t, err)
	assert.Equal(t, OutcomeLinked, outcome)

	assertLink(t, filepath.Join(f.series.TargetDir, "The Show (2005) {tmdb-7}", "Season 01", "The Show - s01e01 - Pilot.mkv"), source)
}

func TestProcessSkips(t *testing.T) {
	f := newFixture(t)
	s := f.syncer(Options{})
	ctx := context.Background()

	tests := []struct {
		name string
		src  scanner.SourceFile
		want Outcome
	}{
		{"not media", scanner.SourceFile{Path: touch(t, filepath.Join(f.movies.WatchDir, "notes.nfo")), Kind: scanner.KindMovie}, OutcomeNotMedia},
		{"extra", scanner.SourceFile{Path: touch(t, filepath.Join(f.movies.WatchDir, "Movie.2020.Sample.mkv")), Kind: scanner.KindMovie}, OutcomeExtra},
		{"extras dir", scanner.SourceFile{Path: touch(t, filepath.Join(f.movies.WatchDir, "Extras", "Movie.2020.mkv")), Kind: scanner.KindMovie}, OutcomeExtra},
		{"outside roots", scanner.SourceFile{Path: touch(t, filepath.Join(f.root, "elsewhere", "Movie.2020.mkv"))}, OutcomeNotMedia},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome, err := s.Process(ctx, tt.src)
			require.NoError(t, err)
			assert.Equal(t, tt.want, outcome)
		})
	}
}

func TestProcessMissingYear(t *testing.T) {
	f := newFixture(t)
	s := f.syncer(Options{})

	source := touch(t, filepath.Join(f.movies.WatchDir, "Some Movie.mkv"))

	outcome, err := s.Process(context.Background(), scanner.SourceFile{Path: source, Kind: scanner.KindMovie})
	assert.Equal(t, OutcomeFailed, outcome)

	se, ok := AsSyncError(err)
	require.True(t, ok, "expected SyncError, got %v", err)
	assert.Equal(t, CodeMissingFields, se.Code)
	assert.Equal(t, StageParse, se.Stage)
	assert.True(t, errors.Is(err, &SyncError{Code: CodeMissingFields}))
	assert.False(t, errors.Is(err, &SyncError{Code: CodeLinkFailure}))
}

func TestProcessStrictLookup(t *testing.T) {
	f := newFixture(t)
	f.resolver.err = errors.New("tmdb down")
	source := touch(t, filepath.Join(f.movies.WatchDir, "Some.Movie.2021.mkv"))
	ctx := context.Background()

	outcome, err := f.syncer(Options{StrictLookup: true}).Process(ctx, scanner.SourceFile{Path: source, Kind: scanner.KindMovie})
	assert.Equal(t, OutcomeFailed, outcome)
	assert.ErrorIs(t, err, &SyncError{Code: CodeLookupFailure})

	// without strict lookups the file is still linked, just without an id
	outcome, err = f.syncer(Options{}).Process(ctx, scanner.SourceFile{Path: source, Kind: scanner.KindMovie})
	require.NoError(t, err)
	assert.Equal(t, OutcomeLinked, outcome)
	assertLink(t, filepath.Join(f.movies.TargetDir, "Uncategorized", "Some Movie (2021)", "Some Movie.mkv"), source)
}

func TestProcessLinkFailureRemovesCreatedDirs(t *testing.T) {
	f := newFixture(t)
	f.resolver.matches = map[string]metadata.Match{"Show": {ID: 9}}
	f.resolver.episodes = map[int64]string{9: strings.Repeat("x", 300)}
	s := f.syncer(Options{})

	source := touch(t, filepath.Join(f.series.WatchDir, "Show.S01E01.mkv"))

	outcome, err := s.Process(context.Background(), scanner.SourceFile{Path: source, Kind: scanner.KindEpisode})
	assert.Equal(t, OutcomeFailed, outcome)
	assert.ErrorIs(t, err, &SyncError{Code: CodeLinkFailure})

	entries, err := os.ReadDir(f.series.TargetDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "directories from the failed attempt should be removed")

	n, err := f.store.Count(context.Background(), scanner.KindEpisode)
	require.NoError(t, err)
	assert.Zero(t, n)

	// the failed attempt does not keep its series directory name reserved
	f.resolver.matches["Show"] = metadata.Match{ID: 10}
	f.resolver.episodes[10] = "Pilot"
	other := touch(t, filepath.Join(f.series.WatchDir, "Other", "Show.S01E01.mkv"))

	outcome, err = s.Process(context.Background(), scanner.SourceFile{Path: other, Kind: scanner.KindEpisode})
	require.NoError(t, err)
	assert.Equal(t, OutcomeLinked, outcome)
	assertLink(t, filepath.Join(f.series.TargetDir, "Show {tmdb-10}", "Season 01", "Show - s01e01 - Pilot.mkv"), other)
}

func TestProcessRestoresLostRecord(t *testing.T) {
	f := newFixture(t)
	f.resolver.matches = map[string]metadata.Match{"Some Movie": {ID: 12345, Year: 2021}}
	s := f.syncer(Options{})
	ctx := context.Background()

	tests := []struct {
		name string
		src  scanner.SourceFile
		link string
	}{
		{
			"episode",
			scanner.SourceFile{Path: touch(t, filepath.Join(f.series.WatchDir, "show.s01e02.mkv")), Kind: scanner.KindEpisode},
			filepath.Join(f.series.TargetDir, "Show", "Season 01", "Show - s01e02 - Unknown Title.mkv"),
		},
		{
			"movie",
			scanner.SourceFile{Path: touch(t, filepath.Join(f.movies.WatchDir, "Some.Movie.2021.mkv")), Kind: scanner.KindMovie},
			filepath.Join(f.movies.TargetDir, "Uncategorized", "Some Movie (2021) {tmdb-12345}", "Some Movie.mkv"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome, err := s.Process(ctx, tt.src)
			require.NoError(t, err)
			require.Equal(t, OutcomeLinked, outcome)
			require.NoError(t, f.store.Delete(ctx, tt.src.Kind, tt.src.Path))

			outcome, err = s.Process(ctx, tt.src)
			require.NoError(t, err)
			assert.Equal(t, OutcomeAlreadySynced, outcome)
			assertLink(t, tt.link, tt.src.Path)

			rec, err := f.store.Get(ctx, tt.src.Kind, tt.src.Path)
			require.NoError(t, err)
			assert.Equal(t, tt.link, rec.Link)
		})
	}
}

func TestProcessForeignLinkIsNotRecorded(t *testing.T) {
	f := newFixture(t)
	s := f.syncer(Options{})
	ctx := context.Background()

	season := filepath.Join(f.series.TargetDir, "Show", "Season 01")
	require.NoError(t, os.MkdirAll(season, 0755))
	require.NoError(t, os.Symlink("/elsewhere/show.mkv", filepath.Join(season, "Show - s01e02 - Unknown Title.mkv")))

	source := touch(t, filepath.Join(f.series.WatchDir, "show.s01e02.mkv"))
	outcome, err := s.Process(ctx, scanner.SourceFile{Path: source, Kind: scanner.KindEpisode})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadySynced, outcome)

	n, err := f.store.Count(ctx, scanner.KindEpisode)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestProcessUsesCanonicalNames(t *testing.T) {
	f := newFixture(t)
	f.resolver.matches = map[string]metadata.Match{
		"The Show":  {ID: 7, Title: "The Show", Year: 2005},
		"Some Film": {ID: 42, Title: "Some Film: Part One", Year: 2019},
	}
	f.resolver.series = map[int64]metadata.Match{7: {ID: 7, Title: "The Show: Reborn", Year: 2006}}
	f.resolver.episodes = map[int64]string{7: "Pilot"}
	s := f.syncer(Options{})
	ctx := context.Background()

	episode := touch(t, filepath.Join(f.series.WatchDir, "The.Show.S01E01.mkv"))
	outcome, err := s.Process(ctx, scanner.SourceFile{Path: episode, Kind: scanner.KindEpisode})
	require.NoError(t, err)
	assert.Equal(t, OutcomeLinked, outcome)
	assertLink(t, filepath.Join(f.series.TargetDir, "The Show - Reborn (2006) {tmdb-7}", "Season 01", "The Show - Reborn - s01e01 - Pilot.mkv"), episode)

	movie := touch(t, filepath.Join(f.movies.WatchDir, "Some.Film.2019.1080p.mkv"))
	outcome, err = s.Process(ctx, scanner.SourceFile{Path: movie, Kind: scanner.KindMovie})
	require.NoError(t, err)
	assert.Equal(t, OutcomeLinked, outcome)
	assertLink(t, filepath.Join(f.movies.TargetDir, "Uncategorized", "Some Film - Part One (2019) {tmdb-42}", "Some Film - Part One.mkv"), movie)
}

func TestProcessConfiguredReleaseTags(t *testing.T) {
	f := newFixture(t)
	source := touch(t, filepath.Join(f.movies.WatchDir, "Some.Movie.FraMeSToR.2021.mkv"))
	src := scanner.SourceFile{Path: source, Kind: scanner.KindMovie}

	outcome, err := f.syncer(Options{Normalizer: scanner.NewNormalizer("FraMeSToR")}).Process(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, OutcomeLinked, outcome)
	assertLink(t, filepath.Join(f.movies.TargetDir, "Uncategorized", "Some Movie (2021)", "Some Movie.mkv"), source)
}

func TestScanIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.resolver.matches = map[string]metadata.Match{"Some Movie": {ID: 12345, Year: 2021}}
	f.resolver.genres = map[int64][]string{12345: {"Action"}}
	s := f.syncer(Options{})
	ctx := context.Background()

	movie := touch(t, filepath.Join(f.movies.WatchDir, "Some.Movie.2021.1080p.BluRay.x264-GROUP.mkv"))
	episode := touch(t, filepath.Join(f.series.WatchDir, "show.s01e02.mkv"))
	touch(t, filepath.Join(f.movies.WatchDir, "readme.txt"))

	first, err := s.Scan(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Counts[OutcomeLinked])
	assert.Len(t, first.Linked, 2)
	assert.NotEmpty(t, first.RunID)

	assertLink(t, filepath.Join(f.movies.TargetDir, "Action", "Some Movie (2021) {tmdb-12345}", "Some Movie.mkv"), movie)
	assertLink(t, filepath.Join(f.series.TargetDir, "Show", "Season 01", "Show - s01e02 - Unknown Title.mkv"), episode)

	dirsBefore := countDirs(t, filepath.Join(f.root, "library"))
	recsBefore, err := f.store.List(ctx, scanner.KindMovie)
	require.NoError(t, err)

	second, err := s.Scan(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, second.Counts[OutcomeLinked])
	assert.Equal(t, 2, second.Counts[OutcomeAlreadySynced])

	assert.Equal(t, dirsBefore, countDirs(t, filepath.Join(f.root, "library")))
	recsAfter, err := f.store.List(ctx, scanner.KindMovie)
	require.NoError(t, err)
	assert.Equal(t, recsBefore, recsAfter)
}

func TestScanErrorPolicies(t *testing.T) {
	ctx := context.Background()

	t.Run("continue", func(t *testing.T) {
		f := newFixture(t)
		touch(t, filepath.Join(f.movies.WatchDir, "No Year Here.mkv"))
		good := touch(t, filepath.Join(f.movies.WatchDir, "Good.Film.1999.mkv"))

		summary, err := f.syncer(Options{ErrorPolicy: ContinueAndLog}).Scan(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Counts[OutcomeLinked])
		require.Len(t, summary.Failures, 1)
		assert.Equal(t, CodeMissingFields, summary.Failures[0].Code)

		assertLink(t, filepath.Join(f.movies.TargetDir, "Uncategorized", "Good Film (1999)", "Good Film.mkv"), good)
	})

	t.Run("fail fast", func(t *testing.T) {
		f := newFixture(t)
		touch(t, filepath.Join(f.movies.WatchDir, "No Year Here.mkv"))

		_, err := f.syncer(Options{ErrorPolicy: FailFast, Workers: 1}).Scan(ctx, nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, &SyncError{Code: CodeMissingFields})
	})
}

func TestScanReportsProgress(t *testing.T) {
	f := newFixture(t)
	touch(t, filepath.Join(f.movies.WatchDir, "Good.Film.1999.mkv"))
	touch(t, filepath.Join(f.series.WatchDir, "show.s01e02.mkv"))

	progress := make(chan scanner.ScanProgress, 16)
	done := make(chan scanner.ScanProgress, 1)
	go func() {
		for p := range progress {
			if p.Stage == "complete" {
				done <- p
			}
		}
	}()

	_, err := f.syncer(Options{}).Scan(context.Background(), progress)
	require.NoError(t, err)
	close(progress)

	final := <-done
	assert.Equal(t, 2, final.Total)
	assert.Equal(t, 2, final.Linked)
}

func TestWatch(t *testing.T) {
	f := newFixture(t)
	s := f.syncer(Options{})

	source := touch(t, filepath.Join(f.series.WatchDir, "Show.S02E03.mkv"))

	events := make(chan Event, 4)
	events <- Event{Path: f.series.WatchDir, IsDir: true}
	events <- Event{Path: filepath.Join(f.root, "elsewhere.mkv")}
	events <- Event{Path: source}
	close(events)

	require.NoError(t, s.Watch(context.Background(), events))
	assertLink(t, filepath.Join(f.series.TargetDir, "Show", "Season 02", "Show - s02e03 - Unknown Title.mkv"), source)
}

func TestWatchStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	s := f.syncer(Options{})

	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan Event)

	done := make(chan error, 1)
	go func() { done <- s.Watch(ctx, events) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestWatchFailFast(t *testing.T) {
	f := newFixture(t)
	s := f.syncer(Options{ErrorPolicy: FailFast})

	bad := touch(t, filepath.Join(f.movies.WatchDir, "No Year Here.mkv"))
	events := make(chan Event, 1)
	events <- Event{Path: bad}

	err := s.Watch(context.Background(), events)
	assert.ErrorIs(t, err, &SyncError{Code: CodeMissingFields})
}

func TestKindFor(t *testing.T) {
	f := newFixture(t)
	s := f.syncer(Options{})

	assert.Equal(t, scanner.KindMovie, s.KindFor(filepath.Join(f.movies.WatchDir, "a.mkv")))
	assert.Equal(t, scanner.KindEpisode, s.KindFor(filepath.Join(f.series.WatchDir, "x", "b.mkv")))
	assert.Equal(t, scanner.KindUnknown, s.KindFor("/somewhere/else.mkv"))
}

func TestParseErrorPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    ErrorPolicy
		wantErr bool
	}{
		{"", ContinueAndLog, false},
		{"continue", ContinueAndLog, false},
		{"fail-fast", FailFast, false},
		{"FailFast", FailFast, false},
		{"explode", ContinueAndLog, true},
	}

	for _, tt := range tests {
		got, err := ParseErrorPolicy(tt.in)
		assert.Equal(t, tt.wantErr, err != nil, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
