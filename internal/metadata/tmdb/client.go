// Package tmdb is a small client for the TMDB v3 search and details endpoints.
package tmdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultBaseURL is the public TMDB v3 API root
const DefaultBaseURL = "https://api.themoviedb.org/3"

// ErrNotFound is returned for a 404 from a details endpoint
var ErrNotFound = errors.New("tmdb resource not found")

// Result is one search hit. Movies fill Title/ReleaseDate, series fill
// Name/FirstAirDate.
type Result struct {
	ID           int64   `json:"id"`
	Title        string  `json:"title"`
	Name         string  `json:"name"`
	ReleaseDate  string  `json:"release_date"`
	FirstAirDate string  `json:"first_air_date"`
	Popularity   float64 `json:"popularity"`
}

// DisplayName returns Title for movies and Name for series
func (r Result) DisplayName() string {
	if r.Title != "" {
		return r.Title
	}
	return r.Name
}

// Year parses the leading year of the release or first-air date
func (r Result) Year() int {
	date := r.ReleaseDate
	if date == "" {
		date = r.FirstAirDate
	}
	if len(date) < 4 {
		return 0
	}
	y, err := strconv.Atoi(date[:4])
	if err != nil {
		return 0
	}
	return y
}

// Response is the paginated search envelope
type Response struct {
	Page         int      `json:"page"`
	Results      []Result `json:"results"`
	TotalPages   int      `json:"total_pages"`
	TotalResults int      `json:"total_results"`
}

type Genre struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// MovieDetails is the subset of /movie/{id} we read
type MovieDetails struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	ReleaseDate string  `json:"release_date"`
	Genres      []Genre `json:"genres"`
}

// TVDetails is the subset of /tv/{id} we read
type TVDetails struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	FirstAirDate string  `json:"first_air_date"`
	Genres       []Genre `json:"genres"`
}

type Episode struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	SeasonNumber  int    `json:"season_number"`
	EpisodeNumber int    `json:"episode_number"`
	AirDate       string `json:"air_date"`
}

// SeasonDetails is the /tv/{id}/season/{n} payload, episodes included
type SeasonDetails struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	SeasonNumber int       `json:"season_number"`
	Episodes     []Episode `json:"episodes"`
}

// SearchOptions narrows a search
type SearchOptions struct {
	Year int
}

// Searcher is the set of TMDB calls the resolver depends on
type Searcher interface {
	SearchMovie(ctx context.Context, query string, opts SearchOptions) (*Response, error)
	SearchTV(ctx context.Context, query string, opts SearchOptions) (*Response, error)
	GetMovieDetails(ctx context.Context, movieID int64) (*MovieDetails, error)
	GetTVDetails(ctx context.Context, showID int64) (*TVDetails, error)
	GetSeasonDetails(ctx context.Context, showID int64, season int) (*SeasonDetails, error)
}

// Client talks to the TMDB HTTP API
type Client struct {
	apiKey     string
	baseURL    string
	language   string
	httpClient *http.Client
}

var _ Searcher = (*Client)(nil)

type Option func(*Client)

// WithHTTPClient overrides the default HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// New creates a client. An empty baseURL means DefaultBaseURL.
func New(apiKey, baseURL, language string, opts ...Option) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("tmdb api key required")
	}
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	client := &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		language:   strings.TrimSpace(language),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// SearchMovie queries /search/movie
func (c *Client) SearchMovie(ctx context.Context, query string, opts SearchOptions) (*Response, error) {
	return c.search(ctx, "/search/movie", "year", query, opts)
}

// SearchTV queries /search/tv
func (c *Client) SearchTV(ctx context.Context, query string, opts SearchOptions) (*Response, error) {
	return c.search(ctx, "/search/tv", "first_air_date_year", query, opts)
}

func (c *Client) search(ctx context.Context, path, yearParam, query string, opts SearchOptions) (*Response, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("query must not be empty")
	}

	params := url.Values{}
	params.Set("query", query)
	if opts.Year > 0 {
		params.Set(yearParam, strconv.Itoa(opts.Year))
	}

	var resp Response
	if err := c.get(ctx, path, params, &resp); err != nil {
		return nil, fmt.Errorf("tmdb search %q: %w", query, err)
	}
	return &resp, nil
}

// GetMovieDetails fetches /movie/{id}
func (c *Client) GetMovieDetails(ctx context.Context, movieID int64) (*MovieDetails, error) {
	var details MovieDetails
	if err := c.get(ctx, fmt.Sprintf("/movie/%d", movieID), nil, &details); err != nil {
		return nil, fmt.Errorf("tmdb movie %d: %w", movieID, err)
	}
	return &details, nil
}

// GetTVDetails fetches /tv/{id}
func (c *Client) GetTVDetails(ctx context.Context, showID int64) (*TVDetails, error) {
	var details TVDetails
	if err := c.get(ctx, fmt.Sprintf("/tv/%d", showID), nil, &details); err != nil {
		return nil, fmt.Errorf("tmdb tv %d: %w", showID, err)
	}
	return &details, nil
}

// GetSeasonDetails fetches /tv/{id}/season/{n}
func (c *Client) GetSeasonDetails(ctx context.Context, showID int64, season int) (*SeasonDetails, error) {
	var details SeasonDetails
	if err := c.get(ctx, fmt.Sprintf("/tv/%d/season/%d", showID, season), nil, &details); err != nil {
		return nil, fmt.Errorf("tmdb tv %d season %d: %w", showID, season, err)
	}
	return &details, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	endpoint, err := url.Parse(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("parse tmdb url: %w", err)
	}
	if params == nil {
		params = url.Values{}
	}
	params.Set("api_key", c.apiKey)
	if c.language != "" {
		params.Set("language", c.language)
	}
	endpoint.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	latency := time.Since(start)
	if err != nil {
		return fmt.Errorf("execute request (latency=%v): %w", latency, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("tmdb returned %d (latency=%v)", resp.StatusCode, latency)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
