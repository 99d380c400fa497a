// Package syncer drives files from the watched pools through parsing,
// metadata lookup and placement into linked library entries.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Nomadcxx/cinelink/internal/cleaner"
	"github.com/Nomadcxx/cinelink/internal/ledger"
	"github.com/Nomadcxx/cinelink/internal/library"
	"github.com/Nomadcxx/cinelink/internal/metadata"
	"github.com/Nomadcxx/cinelink/internal/scanner"
)

// Outcome is what happened to one source file
type Outcome int

const (
	OutcomeLinked Outcome = iota
	OutcomeNotMedia
	OutcomeExtra
	OutcomeAlreadySynced
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeLinked:
		return "linked"
	case OutcomeNotMedia:
		return "not_media"
	case OutcomeExtra:
		return "extra"
	case OutcomeAlreadySynced:
		return "already_synced"
	default:
		return "failed"
	}
}

// Resolver is the metadata surface the pipeline uses
type Resolver interface {
	Resolve(ctx context.Context, title string, kind scanner.Kind) metadata.Match
	Lookup(ctx context.Context, title string, kind scanner.Kind) (metadata.Match, error)
	Series(ctx context.Context, seriesID int64) metadata.Match
	Genres(ctx context.Context, movieID int64) []string
	EpisodeTitle(ctx context.Context, seriesID int64, season, episode int) string
}

// Library pairs a watched pool with the tree its links go into
type Library struct {
	WatchDir  string
	TargetDir string
}

// Options configures a Syncer
type Options struct {
	Movies        Library
	Series        Library
	Workers       int
	ErrorPolicy   ErrorPolicy
	ExtrasMarkers []string
	// Normalizer cleans and parses names. Nil means the built-in release tags.
	Normalizer *scanner.Normalizer
	// StrictLookup turns lookup errors into LOOKUP_FAILURE instead of
	// continuing without an id.
	StrictLookup bool
	// OnResult is called from the workers after each file. It must be safe
	// for concurrent use.
	OnResult func(Result)
}

// Result is what a run reports for one file
type Result struct {
	Source  scanner.SourceFile
	Outcome Outcome
	Link    string
	Err     *SyncError
}

// Syncer runs the per-file pipeline for one-shot scans and watch mode
type Syncer struct {
	opts     Options
	resolver Resolver
	policy   *library.Policy
	store    *ledger.Store
	logger   zerolog.Logger
}

// New creates a Syncer
func New(opts Options, resolver Resolver, policy *library.Policy, store *ledger.Store, logger zerolog.Logger) *Syncer {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.Normalizer == nil {
		opts.Normalizer = scanner.NewNormalizer()
	}
	return &Syncer{
		opts:     opts,
		resolver: resolver,
		policy:   policy,
		store:    store,
		logger:   logger,
	}
}

// KindFor returns the kind implied by the watched root containing path
func (s *Syncer) KindFor(path string) scanner.Kind {
	movie := s.opts.Movies.WatchDir != "" && scanner.WithinRoot(path, s.opts.Movies.WatchDir)
	series := s.opts.Series.WatchDir != "" && scanner.WithinRoot(path, s.opts.Series.WatchDir)

	switch {
	case movie && series:
		// nested roots: the deeper one wins
		if len(s.opts.Series.WatchDir) > len(s.opts.Movies.WatchDir) {
			return scanner.KindEpisode
		}
		return scanner.KindMovie
	case movie:
		return scanner.KindMovie
	case series:
		return scanner.KindEpisode
	default:
		return scanner.KindUnknown
	}
}

func (s *Syncer) inTarget(path string) bool {
	for _, dir := range []string{s.opts.Movies.TargetDir, s.opts.Series.TargetDir} {
		if dir != "" && scanner.WithinRoot(path, dir) {
			return true
		}
	}
	return false
}

// Process runs one source file through the pipeline
func (s *Syncer) Process(ctx context.Context, src scanner.SourceFile) (Outcome, error) {
	if src.Kind == scanner.KindUnknown {
		src.Kind = s.KindFor(src.Path)
	}
	log := s.logger.With().Str("source", src.Path).Stringer("kind", src.Kind).Logger()

	if !scanner.IsVideoFile(src.Path) || s.inTarget(src.Path) || src.Kind == scanner.KindUnknown {
		return OutcomeNotMedia, nil
	}
	if scanner.IsExtra(src.Path, s.opts.ExtrasMarkers) {
		log.Debug().Msg("skipping extra")
		return OutcomeExtra, nil
	}

	live, err := s.store.IsLive(ctx, src.Kind, src.Path)
	if err != nil {
		return OutcomeFailed, newSyncError(CodeLinkFailure, StageLedger, src.Path, err)
	}
	if live {
		return OutcomeAlreadySynced, nil
	}

	d, err := s.parse(src)
	if err != nil {
		code := CodeParseFailure
		if errors.Is(err, scanner.ErrMissingFields) {
			code = CodeMissingFields
		}
		return OutcomeFailed, newSyncError(code, StageParse, src.Path, err)
	}

	m, err := s.lookup(ctx, d)
	if err != nil {
		return OutcomeFailed, newSyncError(CodeLookupFailure, StageLookup, src.Path, err)
	}

	link, dirs, err := s.place(ctx, src, d, m)
	defer s.policy.Release(dirs...)
	if errors.Is(err, library.ErrAlreadySynced) {
		log.Info().Err(err).Msg("target already populated")
		if err := s.restore(ctx, src, dirs); err != nil {
			return OutcomeFailed, err
		}
		return OutcomeAlreadySynced, nil
	}
	if err != nil {
		code := CodeLinkFailure
		if errors.Is(err, scanner.ErrMissingFields) || errors.Is(err, scanner.ErrMissingTitle) {
			code = CodeMissingFields
		}
		return OutcomeFailed, newSyncError(code, StagePlace, src.Path, err)
	}

	outcome, err := s.link(ctx, src, link, dirs)
	if err != nil {
		return OutcomeFailed, err
	}
	if outcome == OutcomeLinked {
		log.Info().Str("link", link).Int64("tmdb_id", m.ID).Msg("linked")
	}
	return outcome, nil
}

// parse reads the descriptor from the file name, falling back to the parent
// directory name for whatever the file name lacks.
func (s *Syncer) parse(src scanner.SourceFile) (scanner.Descriptor, error) {
	d, err := s.opts.Normalizer.Parse(filepath.Base(src.Path), src.Kind)
	if err == nil {
		if err = d.Validate(); err == nil {
			return d, nil
		}
	}

	dir := filepath.Dir(src.Path)
	if root := s.watchRoot(src.Kind); root != "" && dir == filepath.Clean(root) {
		return d, err
	}
	parent := filepath.Base(dir)
	if parent == "." || parent == string(filepath.Separator) {
		return d, err
	}

	alt, altErr := s.opts.Normalizer.Parse(parent, src.Kind)
	if altErr != nil {
		return d, err
	}
	if src.Kind == scanner.KindEpisode {
		// numbering only ever comes from the file itself
		alt.Season, alt.Episode = d.Season, d.Episode
		if !alt.Season.IsSet() {
			if season, episode, ok := scanner.ExtractEpisodeNumbers(s.opts.Normalizer.Normalize(filepath.Base(src.Path))); ok {
				alt.Season, alt.Episode = season, episode
			}
		}
	} else if alt.Year == 0 {
		alt.Year = d.Year
	}
	if alt.Validate() != nil {
		return d, err
	}
	return alt, nil
}

func (s *Syncer) watchRoot(kind scanner.Kind) string {
	if kind == scanner.KindEpisode {
		return s.opts.Series.WatchDir
	}
	return s.opts.Movies.WatchDir
}

func (s *Syncer) lookup(ctx context.Context, d scanner.Descriptor) (metadata.Match, error) {
	if !s.opts.StrictLookup {
		return s.resolver.Resolve(ctx, d.Title, d.Kind), nil
	}
	m, err := s.resolver.Lookup(ctx, d.Title, d.Kind)
	if errors.Is(err, metadata.ErrDisabled) {
		return metadata.NotFound, nil
	}
	return m, err
}

func (s *Syncer) place(ctx context.Context, src scanner.SourceFile, d scanner.Descriptor, m metadata.Match) (string, []string, error) {
	if d.Kind == scanner.KindEpisode {
		var title string
		if m.Found() {
			if canon := s.resolver.Series(ctx, m.ID); canon.Found() {
				m = canon
			}
			d = canonical(d, m)
			title = s.resolver.EpisodeTitle(ctx, m.ID, d.Season.First(), d.Episode.First())
		}
		p, err := s.policy.PlaceEpisode(src.Path, d, m, title)
		return p.Link, p.Dirs(), err
	}

	var genres []string
	if m.Found() {
		d = canonical(d, m)
		genres = s.resolver.Genres(ctx, m.ID)
	}
	p, err := s.policy.PlaceMovie(src.Path, d, m, genres)
	return p.Link, p.Dirs(), err
}

// canonical names the item after its match
func canonical(d scanner.Descriptor, m metadata.Match) scanner.Descriptor {
	if t := strings.TrimSpace(m.Title); t != "" {
		d.Title = t
	}
	if m.Year != 0 {
		d.Year = m.Year
	}
	return d
}

// restore records a link already pointing at src when its ledger entry is
// missing.
func (s *Syncer) restore(ctx context.Context, src scanner.SourceFile, dirs []string) error {
	if len(dirs) == 0 {
		return nil
	}
	entries, err := os.ReadDir(dirs[0])
	if err != nil {
		return nil
	}
	for _, e := range entries {
		if e.Type()&fs.ModeSymlink == 0 {
			continue
		}
		link := filepath.Join(dirs[0], e.Name())
		if dest, err := os.Readlink(link); err != nil || dest != src.Path {
			continue
		}
		err := s.store.WithLock(src.Kind, func() error {
			return s.record(ctx, src, link, nil)
		})
		if err != nil {
			return err
		}
		s.logger.Info().Str("source", src.Path).Str("link", link).Msg("restored missing ledger record")
		return nil
	}
	return nil
}

// link creates the directories and the symlink and records it. Directories
// created for an attempt that fails are removed again so the file stays
// retryable.
func (s *Syncer) link(ctx context.Context, src scanner.SourceFile, link string, dirs []string) (Outcome, error) {
	outcome := OutcomeLinked

	err := s.store.WithLock(src.Kind, func() error {
		live, err := s.store.IsLive(ctx, src.Kind, src.Path)
		if err != nil {
			return newSyncError(CodeLinkFailure, StageLedger, src.Path, err)
		}
		if live {
			outcome = OutcomeAlreadySynced
			return nil
		}

		created, err := library.Ensure(dirs...)
		if err != nil {
			cleaner.PruneCreated(created)
			return newSyncError(CodeLinkFailure, StageLink, src.Path, err)
		}

		if err := os.Symlink(src.Path, link); err != nil {
			if errors.Is(err, fs.ErrExist) {
				if dest, rerr := os.Readlink(link); rerr == nil && dest == src.Path {
					// link survived but the record did not
					return s.record(ctx, src, link, nil)
				}
				outcome = OutcomeAlreadySynced
				return nil
			}
			cleaner.PruneCreated(created)
			return newSyncError(CodeLinkFailure, StageLink, src.Path, err)
		}

		if err := s.record(ctx, src, link, created); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		if _, ok := AsSyncError(err); !ok {
			err = newSyncError(CodeLinkFailure, StageLedger, src.Path, err)
		}
		return OutcomeFailed, err
	}
	return outcome, nil
}

// record writes the ledger entry, undoing the link when it cannot
func (s *Syncer) record(ctx context.Context, src scanner.SourceFile, link string, created []string) error {
	err := s.store.Put(ctx, ledger.Record{Source: src.Path, Link: link, Kind: src.Kind})
	if err == nil {
		return nil
	}
	if created != nil {
		_ = os.Remove(link)
		cleaner.PruneCreated(created)
	}
	return newSyncError(CodeLinkFailure, StageLedger, src.Path, err)
}

// Root is one watched pool and the kind of everything in it
type Root struct {
	Path string
	Kind scanner.Kind
}

// Roots lists the configured watched pools
func (s *Syncer) Roots() []Root {
	var roots []Root
	if s.opts.Movies.WatchDir != "" {
		roots = append(roots, Root{Path: s.opts.Movies.WatchDir, Kind: scanner.KindMovie})
	}
	if s.opts.Series.WatchDir != "" {
		roots = append(roots, Root{Path: s.opts.Series.WatchDir, Kind: scanner.KindEpisode})
	}
	return roots
}

// Summary collects the outcome of a run
type Summary struct {
	RunID      string
	Mode       string
	StartedAt  time.Time
	FinishedAt time.Time
	Counts     map[Outcome]int
	Linked     []ledger.Record
	Failures   []*SyncError
}

// Total is the number of files the run handled
func (sm *Summary) Total() int {
	n := 0
	for _, c := range sm.Counts {
		n += c
	}
	return n
}

// run is the state shared by the workers of one Scan or Watch
type run struct {
	s        *Syncer
	logger   zerolog.Logger
	progress *scanner.ProgressReporter
	cancel   context.CancelFunc

	mu       sync.Mutex
	summary  *Summary
	firstErr error
}

func (s *Syncer) newRun(mode string, progress chan<- scanner.ScanProgress, cancel context.CancelFunc) *run {
	id := uuid.NewString()
	return &run{
		s:        s,
		logger:   s.logger.With().Str("run_id", id).Str("mode", mode).Logger(),
		progress: scanner.NewProgressReporter(progress, mode),
		cancel:   cancel,
		summary: &Summary{
			RunID:     id,
			Mode:      mode,
			StartedAt: time.Now(),
			Counts:    make(map[Outcome]int),
		},
	}
}

func (r *run) handle(ctx context.Context, src scanner.SourceFile) {
	outcome, err := r.s.Process(ctx, src)
	res := Result{Source: src, Outcome: outcome}

	if err != nil {
		se, ok := AsSyncError(err)
		if !ok {
			se = newSyncError(CodeLinkFailure, StageLink, src.Path, err)
		}
		res.Err = se
	}

	r.mu.Lock()
	r.summary.Counts[outcome]++
	if outcome == OutcomeLinked {
		if rec, gerr := r.s.store.Get(ctx, src.Kind, src.Path); gerr == nil {
			r.summary.Linked = append(r.summary.Linked, rec)
			res.Link = rec.Link
		}
	}
	r.mu.Unlock()

	switch {
	case res.Err != nil:
		r.progress.Failed(src.Path)
	case outcome == OutcomeLinked:
		r.progress.Linked(src.Path)
	default:
		r.progress.Skipped(src.Path)
	}
	if r.s.opts.OnResult != nil {
		r.s.opts.OnResult(res)
	}

	if res.Err == nil {
		return
	}

	se := res.Err
	r.logger.Error().
		Str("source", se.Source).
		Str("stage", string(se.Stage)).
		Str("code", string(se.Code)).
		Err(se.Err).
		Msg("sync failed")

	r.mu.Lock()
	r.summary.Failures = append(r.summary.Failures, se)
	stop := r.s.opts.ErrorPolicy == FailFast && r.firstErr == nil
	if stop {
		r.firstErr = se
	}
	r.mu.Unlock()

	if stop {
		r.cancel()
	}
}

// startWorkers runs the bounded pool. Work already taken by a worker always
// finishes; queued work is dropped once runCtx is done.
func (r *run) startWorkers(runCtx context.Context, jobs <-chan scanner.SourceFile) *sync.WaitGroup {
	var wg sync.WaitGroup
	for i := 0; i < r.s.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for src := range jobs {
				if runCtx.Err() != nil {
					continue
				}
				r.handle(context.WithoutCancel(runCtx), src)
			}
		}()
	}
	return &wg
}

func (r *run) finish() *Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary.FinishedAt = time.Now()
	return r.summary
}

// Scan walks every watched root once and processes each video file. Progress
// updates go to progress when it is non-nil.
func (s *Syncer) Scan(ctx context.Context, progress chan<- scanner.ScanProgress) (*Summary, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r := s.newRun("scan", progress, cancel)
	roots := s.existingRoots()

	var paths []string
	for _, root := range roots {
		paths = append(paths, root.Path)
	}
	total, err := scanner.CountVideoFiles(runCtx, paths)
	if err != nil {
		return r.finish(), err
	}
	r.progress.Start(total, fmt.Sprintf("found %d video files", total))
	r.logger.Info().Int("files", total).Int("workers", s.opts.Workers).Msg("scan started")

	jobs := make(chan scanner.SourceFile, s.opts.Workers)
	wg := r.startWorkers(runCtx, jobs)

	g, gctx := errgroup.WithContext(runCtx)
	for _, root := range roots {
		g.Go(func() error {
			return scanner.WalkVideoFiles(gctx, root.Path, func(path string) error {
				select {
				case jobs <- scanner.SourceFile{Path: path, Kind: root.Kind}:
					return nil
				case <-gctx.Done():
					return gctx.Err()
				}
			})
		})
	}
	walkErr := g.Wait()
	close(jobs)
	wg.Wait()

	summary := r.finish()
	r.progress.Complete(fmt.Sprintf("linked %d, failed %d", summary.Counts[OutcomeLinked], len(summary.Failures)))
	r.logger.Info().
		Int("linked", summary.Counts[OutcomeLinked]).
		Int("already_synced", summary.Counts[OutcomeAlreadySynced]).
		Int("failed", len(summary.Failures)).
		Dur("elapsed", summary.FinishedAt.Sub(summary.StartedAt)).
		Msg("scan finished")

	r.mu.Lock()
	firstErr := r.firstErr
	r.mu.Unlock()

	switch {
	case firstErr != nil:
		return summary, firstErr
	case ctx.Err() != nil:
		return summary, ctx.Err()
	case walkErr != nil:
		return summary, walkErr
	}
	return summary, nil
}

// existingRoots drops roots that are not there, logging each
func (s *Syncer) existingRoots() []Root {
	var roots []Root
	for _, root := range s.Roots() {
		if _, err := os.Stat(root.Path); err != nil {
			s.logger.Warn().Err(err).Str("root", root.Path).Msg("skipping inaccessible watch root")
			continue
		}
		roots = append(roots, root)
	}
	return roots
}

// Watch processes creation events until ctx is cancelled or events closes.
// Directory events and paths outside the watched roots are ignored. On
// shutdown no new events are taken and in-flight files finish. Under
// FailFast the first failure ends the watch and is returned.
func (s *Syncer) Watch(ctx context.Context, events <-chan Event) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r := s.newRun("watch", nil, cancel)
	jobs := make(chan scanner.SourceFile, s.opts.Workers)
	wg := r.startWorkers(runCtx, jobs)
	r.logger.Info().Int("workers", s.opts.Workers).Msg("watch started")

loop:
	for {
		select {
		case <-runCtx.Done():
			break loop
		case ev, ok := <-events:
			if !ok {
				break loop
			}
			if ev.IsDir {
				continue
			}
			kind := s.KindFor(ev.Path)
			if kind == scanner.KindUnknown {
				r.logger.Debug().Str("path", ev.Path).Msg("event outside watched roots")
				continue
			}
			select {
			case jobs <- scanner.SourceFile{Path: ev.Path, Kind: kind}:
			case <-runCtx.Done():
				break loop
			}
		}
	}

	close(jobs)
	wg.Wait()

	summary := r.finish()
	r.logger.Info().
		Int("linked", summary.Counts[OutcomeLinked]).
		Int("failed", len(summary.Failures)).
		Msg("watch stopped")

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.firstErr
}
