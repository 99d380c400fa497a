package daemon

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/Nomadcxx/cinelink/internal/config"
	"github.com/Nomadcxx/cinelink/internal/ledger"
	"github.com/Nomadcxx/cinelink/internal/library"
	"github.com/Nomadcxx/cinelink/internal/metadata"
	"github.com/Nomadcxx/cinelink/internal/metadata/tmdb"
	"github.com/Nomadcxx/cinelink/internal/scanner"
	"github.com/Nomadcxx/cinelink/internal/syncer"
)

// Pipeline is everything a scan or watch needs, built from one config
type Pipeline struct {
	Config   *config.Config
	Store    *ledger.Store
	Resolver *metadata.Resolver
	Policy   *library.Policy
	Syncer   *syncer.Syncer
}

// AssembleOptions tweaks Assemble
type AssembleOptions struct {
	// Exclusive locks the ledger against other writers
	Exclusive  bool
	Logger     zerolog.Logger
	OnResult   func(syncer.Result)
	HTTPClient *http.Client
}

// Assemble checks the library roots, opens the ledger and wires the resolver, policy and syncer for cfg.
// An exclusive pipeline drops ledger records whose links are gone before it is returned.
// Callers must Close the pipeline.
func Assemble(ctx context.Context, cfg *config.Config, opts AssembleOptions) (*Pipeline, error) {
	policyMode, err := syncer.ParseErrorPolicy(cfg.Sync.ErrorPolicy)
	if err != nil {
		return nil, err
	}
	timeout, err := cfg.LookupTimeout()
	if err != nil {
		return nil, err
	}

	roots := scanner.ValidateRoots(cfg.WatchDirs(), cfg.TargetDirs())
	for _, w := range roots.Warnings {
		opts.Logger.Warn().Msg(w)
	}
	if !roots.OK() {
		return nil, fmt.Errorf("library roots: %w", roots.Err())
	}

	ledgerPath, err := cfg.LedgerFile()
	if err != nil {
		return nil, err
	}
	var storeOpts []ledger.Option
	if opts.Exclusive {
		storeOpts = append(storeOpts, ledger.Exclusive())
	}
	store, err := ledger.Open(ctx, ledgerPath, storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	if opts.Exclusive {
		removed, err := store.Validate(ctx)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("validate ledger: %w", err)
		}
		for kind, n := range removed {
			if n > 0 {
				opts.Logger.Info().Stringer("kind", kind).Int("removed", n).Msg("dropped stale ledger records")
			}
		}
	}

	var searcher tmdb.Searcher
	if key := cfg.APIKey(); key != "" {
		var clientOpts []tmdb.Option
		if opts.HTTPClient != nil {
			clientOpts = append(clientOpts, tmdb.WithHTTPClient(opts.HTTPClient))
		}
		client, err := tmdb.New(key, cfg.TMDB.BaseURL, cfg.TMDB.Language, clientOpts...)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("create tmdb client: %w", err)
		}
		searcher = client
	}

	resolver := metadata.New(searcher,
		metadata.WithTimeout(timeout),
		metadata.WithLogger(opts.Logger.With().Str("component", "resolver").Logger()),
	)
	if !resolver.Enabled() {
		opts.Logger.Warn().Msg("no TMDB api key configured, linking without metadata")
	}

	policy := library.New(library.Config{
		MoviesRoot:   cfg.Libraries.Movies.TargetDir,
		SeriesRoot:   cfg.Libraries.TV.TargetDir,
		RecentBucket: cfg.Sync.RecentBucket,
		Logger:       opts.Logger.With().Str("component", "policy").Logger(),
	})

	s := syncer.New(syncer.Options{
		Movies:        syncer.Library{WatchDir: cfg.Libraries.Movies.WatchDir, TargetDir: cfg.Libraries.Movies.TargetDir},
		Series:        syncer.Library{WatchDir: cfg.Libraries.TV.WatchDir, TargetDir: cfg.Libraries.TV.TargetDir},
		Workers:       cfg.Sync.Workers,
		ErrorPolicy:   policyMode,
		ExtrasMarkers: cfg.Sync.ExtrasMarkers,
		Normalizer:    scanner.NewNormalizer(cfg.Sync.ReleaseTags...),
		StrictLookup:  cfg.Sync.StrictLookup,
		OnResult:      opts.OnResult,
	}, resolver, policy, store, opts.Logger.With().Str("component", "syncer").Logger())

	return &Pipeline{
		Config:   cfg,
		Store:    store,
		Resolver: resolver,
		Policy:   policy,
		Syncer:   s,
	}, nil
}

// Close releases the ledger
func (p *Pipeline) Close() error {
	return p.Store.Close()
}
