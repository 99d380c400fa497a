package scanner

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/moistari/rls"
)

var (
	// ErrMissingTitle means neither parser could extract a title
	ErrMissingTitle = errors.New("no title could be extracted")
	// ErrMissingFields means a descriptor lacks what its kind requires
	ErrMissingFields = errors.New("required fields missing")
)

// Number is a season or episode number as it appeared in the filename.
// Multi-part names (S01E01E02) carry every value; the zero Number is absent.
type Number struct {
	values []int
}

// Single wraps one number
func Single(n int) Number {
	return Number{values: []int{n}}
}

// Ambiguous wraps a multi-part number. With one value it is a Single.
func Ambiguous(ns ...int) Number {
	return Number{values: append([]int(nil), ns...)}
}

func (n Number) IsSet() bool       { return len(n.values) > 0 }
func (n Number) IsAmbiguous() bool { return len(n.values) > 1 }

// Values returns a copy of every parsed value
func (n Number) Values() []int {
	return append([]int(nil), n.values...)
}

// First returns the first value, or 0 when absent
func (n Number) First() int {
	if len(n.values) == 0 {
		return 0
	}
	return n.values[0]
}

func (n Number) String() string {
	parts := make([]string, len(n.values))
	for i, v := range n.values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

// Descriptor holds what a filename says about its content
type Descriptor struct {
	Title   string
	Year    int
	Season  Number
	Episode Number
	Kind    Kind
}

// Validate checks the fields each kind needs downstream
func (d Descriptor) Validate() error {
	switch d.Kind {
	case KindEpisode:
		if !d.Season.IsSet() || !d.Episode.IsSet() {
			return fmt.Errorf("%w: episode %q has no season/episode number", ErrMissingFields, d.Title)
		}
	case KindMovie:
		if d.Year == 0 {
			return fmt.Errorf("%w: movie %q has no year", ErrMissingFields, d.Title)
		}
	default:
		return fmt.Errorf("%w: %q has no media kind", ErrMissingFields, d.Title)
	}
	return nil
}

// Parse runs the default Normalizer's Parse
func Parse(raw string, hint Kind) (Descriptor, error) {
	return defaultNormalizer.Parse(raw, hint)
}

// Parse builds a Descriptor from a raw filename. hint is the kind implied by
// the watched root; KindUnknown lets the name decide.
func (n *Normalizer) Parse(raw string, hint Kind) (Descriptor, error) {
	name := n.Normalize(raw)

	d := parseRelease(name)
	if h := parseHeuristic(name); h.Title != "" && lostWords(d.Title, h.Title) {
		// rls reads leading words like Cam or Uncut as tags
		d.Title = h.Title
		if d.Year == 0 {
			d.Year = h.Year
		}
	}
	if d.Title == "" {
		return d, fmt.Errorf("%w: %s", ErrMissingTitle, raw)
	}

	// Season/episode numbers always come from the marker so multi-part
	// names keep every value.
	if season, episode, ok := ExtractEpisodeNumbers(name); ok {
		d.Season, d.Episode = season, episode
	}

	switch {
	case hint != KindUnknown:
		d.Kind = hint
	case d.Episode.IsSet():
		d.Kind = KindEpisode
	default:
		d.Kind = KindMovie
	}

	return d, nil
}

// parseRelease is the structured path: rls understands scene naming.
func parseRelease(name string) Descriptor {
	r := rls.ParseString(name)

	title := r.Title
	if r.Year != 0 {
		title = removeSpecificYear(title, r.Year)
	}
	title = CleanTitle(strings.Trim(title, " -"))

	d := Descriptor{Title: title, Year: r.Year}
	if d.Year == 0 {
		d.Year = ExtractYear(name)
	}
	if r.Series > 0 {
		d.Season = Single(r.Series)
	}
	if r.Episode > 0 {
		d.Episode = Single(r.Episode)
	}
	return d
}

// parseHeuristic is the fallback: title is whatever precedes the episode
// marker and the last plausible year before it.
func parseHeuristic(name string) Descriptor {
	var d Descriptor

	head := name
	if start, _, ok := episodeMarkerSpan(name); ok {
		head = name[:start]
	}

	d.Year = ExtractYear(head)
	if idx := strings.LastIndex(head, strconv.Itoa(d.Year)); d.Year != 0 && idx > 0 {
		head = head[:idx]
	} else {
		head = removeSpecificYear(head, d.Year)
	}
	d.Title = CleanTitle(strings.Trim(strings.TrimSpace(head), "-"))

	if season, episode, ok := ExtractEpisodeNumbers(name); ok {
		d.Season, d.Episode = season, episode
	}
	return d
}

// lostWords reports whether got is empty, has no letters while want does,
// or is a strict part of want.
func lostWords(got, want string) bool {
	g, w := NormalizeKey(got), NormalizeKey(want)
	if g == w {
		return false
	}
	if g == "" || (!strings.ContainsFunc(g, unicode.IsLetter) && strings.ContainsFunc(w, unicode.IsLetter)) {
		return true
	}
	return strings.Contains(" "+w+" ", " "+g+" ")
}

// ExtractEpisodeNumbers finds the season/episode marker in name.
// S01E02E03 and S01E02-03 yield an Ambiguous episode.
func ExtractEpisodeNumbers(name string) (season, episode Number, found bool) {
	m := episodeMarkerRegex.FindStringSubmatch(name)
	if m == nil {
		return Number{}, Number{}, false
	}

	if m[1] != "" {
		s, err := strconv.Atoi(m[1])
		if err != nil {
			return Number{}, Number{}, false
		}
		var eps []int
		for _, tok := range episodeNumberRegex.FindAllString(m[2], -1) {
			if e, err := strconv.Atoi(tok); err == nil {
				eps = append(eps, e)
			}
		}
		if len(eps) == 0 {
			return Number{}, Number{}, false
		}
		return Single(s), Ambiguous(eps...), true
	}

	s, err1 := strconv.Atoi(m[3])
	e, err2 := strconv.Atoi(m[4])
	if err1 != nil || err2 != nil {
		return Number{}, Number{}, false
	}
	return Single(s), Single(e), true
}
