package scanner

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Pre-compiled regexes for performance optimization
var (
	preHyphenRegexes    []*regexp.Regexp
	collapseSpacesRegex *regexp.Regexp
	removePunctRegex    *regexp.Regexp
	bracketRegex        *regexp.Regexp
	parenRegex          *regexp.Regexp
	yearTokenRegex      *regexp.Regexp
	looseHyphenRegex    *regexp.Regexp
	episodeMarkerRegex  *regexp.Regexp
	episodeNumberRegex  *regexp.Regexp
	abbrevRegex         *regexp.Regexp
	upperTokenRegex     *regexp.Regexp
	ordinalRegex        *regexp.Regexp
	hyphenGroupRegex    *regexp.Regexp
)

// releaseTags never occur in a title. The first one found marks where the
// title ends.
var releaseTags = []string{
	// Resolution markers
	`\b\d{3,4}[pi]\b`,
	`\b(4K|UHD)\b`,

	// HDR formats
	`\b(HDR10\+?|HDR10Plus|Dolby\s?Vision|DoVi|HDR|HLG|SDR)\b`,

	// Audio formats (most specific first)
	`\b(DTS-HD\s?MA|DTS-HD\s?HRA|DTS-HD|DTS-X|DTS-ES)\b`,
	`\b(DD\+?|DDP|E?AC3|AAC|AC3)\d\s\d\b`,
	`\b(DD\+?|DDP|E?AC3|AAC|AC3)\b`,
	`\b(TrueHD|FLAC|PCM|MP3|DTS)\b`,
	`\b(CBR|CRF)\b`,

	// Source types
	`\b(BluRay|Blu-ray|BDRip|BRRip|REMUX|WEB-DL|WEBDL|WEBRip)\b`,
	`\b(HDTV|PDTV|SDTV|DVDRip|DVD|DVDSCR|HDTS)\b`,

	// Streaming platforms
	`\b(AMZN|DSNP|HMAX|ATVP|PCOK|PMTP)\b`,

	// Subtitle markers
	`\b(SUBBED|DUBBED|MSubs)\b`,

	// Video codecs
	`\bH\s?26[456]\b`,
	`\b(x264|x265|x266|HEVC|AVC|AV1|H264|H265|H266)\b`,
	`\b(XviD|DivX|MPEG2|VC-1|VP9)\b`,

	// Release tags
	`\bREPACK\b`,

	// Bit depth
	`\b(8bit|10bit|12bit)\b`,

	// Known release groups
	`\b(PSYCHD|CHAMELE0N|MIRCREW|WILL1869|ASPiDe|CiNEMiX|RARBG|YTS|YIFY)\b`,
}

// wordTags are release tags that are also ordinary words (Uncut Gems,
// Charlotte's Web, Cam). They are only stripped after the title.
var wordTags = []string{
	`\bDV\b`,
	`\b\d\.\d\b`,
	`\b\d\s\d\b`,
	`\b(Atmos|Opus|Stereo|Mono|DUAL)\b`,
	`\bWEB\b`,
	`\b(CAM|TC|SCR|R5)\b`,
	`\b(NF|HULU)\b`,
	`\b(ITA|FRE|FRA|ENG|ESP|SPA|SUBS|MULTI)\b`,
	`\b(IMAX\s?Enhanced|IMAX|Remastered)\b`,
	`\b(Directors\s?Cut|Theatrical|UNCUT|Criterion)\b`,
	`\b(PROPER|iNTERNAL|LiMiTED|UNRATED|EXTENDED)\b`,
	`\bv\d+\b`,

	// Tokens that were attached via hyphen (x264-GROUP) and survive as
	// standalone words once separators are collapsed.
	`\b(GROUP|MAG|SNAKE|EVO|FGT|SPARKS|ROVERS|NTB)\b`,
}

func init() {
	// Only strip trailing hyphen groups that carry digits (-x264, -psychd-ml2)
	// so hyphenated title words like Monte-Cristo survive.
	preHyphenPatterns := []string{
		`-[A-Za-z]*\d+[A-Za-z0-9]*(?:-[A-Za-z0-9]+)*$`,
		`~\s?[A-Za-z0-9]+(?:\s[A-Za-z0-9]+)*$`,
	}
	preHyphenRegexes = make([]*regexp.Regexp, 0, len(preHyphenPatterns))
	for _, p := range preHyphenPatterns {
		preHyphenRegexes = append(preHyphenRegexes, regexp.MustCompile(`(?i)`+p))
	}

	collapseSpacesRegex = regexp.MustCompile(`\s+`)
	removePunctRegex = regexp.MustCompile(`[^\p{L}\p{N}\s]`)
	bracketRegex = regexp.MustCompile(`\[[^\]]*\]|\{[^}]*\}`)
	parenRegex = regexp.MustCompile(`\(([^)]*)\)`)
	yearTokenRegex = regexp.MustCompile(`\b(19\d{2}|20\d{2})\b`)
	looseHyphenRegex = regexp.MustCompile(`(^|\s)-+|-+(\s|$)`)
	hyphenGroupRegex = regexp.MustCompile(`^[A-Z][A-Za-z]*\d+$`)

	// S01E02, S01E02E03, S01E02-E03, S01E02-03, s01.e02 and 1x02
	episodeMarkerRegex = regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}])(?:s(\d{1,2})[ ._]?(e\d{1,3}(?:[ ._-]?e\d{1,3})*(?:-\d{1,3})?)|(\d{1,2})x(\d{2,3}))(?:$|[^\p{L}\p{N}])`)
	episodeNumberRegex = regexp.MustCompile(`\d{1,3}`)

	// Abbreviations with 3+ letters ending in a dot (R.I.P.D.) or U.S.
	abbrevRegex = regexp.MustCompile(`\b(?:[A-Za-z]\.[A-Za-z]\.(?:[A-Za-z]\.)+|U\.S\.)`)
	upperTokenRegex = regexp.MustCompile(`\b\d*[A-Z]{2,}\b`)
	ordinalRegex = regexp.MustCompile(`(?i)\b(\d+)(st|nd|rd|th)\b`)
}

// Normalizer strips release noise from file names. The zero value is not
// usable; use NewNormalizer.
type Normalizer struct {
	tags  []*regexp.Regexp
	words []*regexp.Regexp
}

// NewNormalizer compiles the built-in release tags plus extra, which are
// matched as whole words regardless of case.
func NewNormalizer(extra ...string) *Normalizer {
	n := &Normalizer{}
	for _, p := range releaseTags {
		n.tags = append(n.tags, regexp.MustCompile(`(?i)`+p))
	}
	for _, tag := range extra {
		if tag = strings.TrimSpace(tag); tag != "" {
			n.tags = append(n.tags, regexp.MustCompile(`(?i)(?:^|\b)`+regexp.QuoteMeta(tag)+`(?:\b|$)`))
		}
	}
	for _, p := range wordTags {
		n.words = append(n.words, regexp.MustCompile(`(?i)`+p))
	}
	return n
}

var defaultNormalizer = NewNormalizer()

// Normalize runs the default Normalizer
func Normalize(name string) string {
	return defaultNormalizer.Normalize(name)
}

// StripReleaseGroup runs the default Normalizer's tag stripping
func StripReleaseGroup(name string) string {
	return defaultNormalizer.StripReleaseGroup(name)
}

// Normalize turns a raw filename into a clean token string for parsing.
// Release tags, brackets and separator runs are removed and anything after
// a season/episode marker is dropped. The result is deterministic and never
// empty unless the input is.
func (n *Normalizer) Normalize(name string) string {
	name = trimVideoExt(strings.TrimSpace(name))
	original := name

	marker := ""
	if start, end, ok := episodeMarkerSpan(name); ok {
		marker = markerReplacer.Replace(name[start:end])
		name = name[:start]
	}

	name = bracketRegex.ReplaceAllString(name, " ")
	name = parenRegex.ReplaceAllStringFunc(name, func(m string) string {
		inner := strings.TrimSpace(m[1 : len(m)-1])
		if yearTokenRegex.MatchString(inner) && len(inner) == 4 {
			return " " + inner + " "
		}
		return " "
	})

	name = n.StripReleaseGroup(name)
	name = looseHyphenRegex.ReplaceAllString(name, " ")
	name = strings.TrimSpace(collapseSpacesRegex.ReplaceAllString(name, " "))
	if marker != "" {
		name = strings.TrimSpace(name + " " + marker)
	}

	if name == "" {
		return strings.TrimSpace(original)
	}
	return name
}

// StripReleaseGroup removes release group markers from name. Words before
// the title boundary (a year after the first word, or the first release
// tag) are only touched by tags that cannot be title words.
func (n *Normalizer) StripReleaseGroup(name string) string {
	for _, re := range preHyphenRegexes {
		name = re.ReplaceAllString(name, " ")
	}

	// Keep abbreviation dots intact while dots become spaces.
	abbrMap := map[string]string{}
	for i, abbr := range abbrevRegex.FindAllString(name, -1) {
		placeholder := fmt.Sprintf("§ABBR%d§", i)
		abbrMap[placeholder] = strings.TrimSuffix(abbr, ".")
		name = strings.Replace(name, abbr, placeholder, 1)
	}

	name = strings.ReplaceAll(name, ".", " ")
	name = strings.ReplaceAll(name, "_", " ")

	words := strings.Fields(name)
	cut := n.titleEnd(words)

	tail := make([]string, 0, len(words)-cut)
	for _, w := range words[cut:] {
		if strings.Contains(w, "-") {
			parts := strings.Split(w, "-")
			if len(parts) >= 2 && isHyphenReleaseLike(parts[len(parts)-1]) {
				parts = parts[:len(parts)-1]
			}
			w = strings.Join(parts, "-")
		}
		if w != "" {
			tail = append(tail, w)
		}
	}

	head := strings.Join(words[:cut], " ")
	rest := strings.Join(tail, " ")
	for _, re := range n.tags {
		head = re.ReplaceAllString(head, " ")
		rest = re.ReplaceAllString(rest, " ")
	}
	for _, re := range n.words {
		rest = re.ReplaceAllString(rest, " ")
	}
	name = head + " " + rest

	for placeholder, orig := range abbrMap {
		name = strings.ReplaceAll(name, placeholder, orig+".")
	}

	name = collapseSpacesRegex.ReplaceAllString(name, " ")
	name = strings.TrimSpace(name)
	return strings.TrimSpace(strings.Trim(name, "-"))
}

// titleEnd returns the index of the first word that cannot belong to the
// title, or len(words).
func (n *Normalizer) titleEnd(words []string) int {
	for i, w := range words {
		if i > 0 && len(w) == 4 && yearTokenRegex.MatchString(w) {
			return i
		}
		for _, re := range n.tags {
			if re.MatchString(w) {
				return i
			}
		}
	}
	return len(words)
}

func isHyphenReleaseLike(seg string) bool {
	switch strings.ToLower(seg) {
	case "group", "mag", "psychd", "mteam", "mircrew", "obfuscated", "sparks", "rovers",
		"yts", "rarbg", "yify", "evo", "fgt",
		"unrated", "extended", "uncut", "remastered", "directors", "theatrical", "criterion", "imax":
		return true
	}

	// Short all-caps segments (DL, ML) are groups, title words are not.
	if len(seg) <= 4 && strings.ToUpper(seg) == seg && strings.ToLower(seg) != seg {
		return true
	}
	return hyphenGroupRegex.MatchString(seg)
}

// ExtractYear returns the last plausible release year in name, or 0.
// Resolution widths that look like years are ignored.
func ExtractYear(name string) int {
	resolutions := map[string]bool{"2160": true, "1920": true, "1440": true, "1280": true}

	year := 0
	for _, m := range yearTokenRegex.FindAllString(name, -1) {
		if resolutions[m] {
			continue
		}
		if y, err := strconv.Atoi(m); err == nil {
			year = y
		}
	}
	return year
}

// removeSpecificYear drops one occurrence pattern of year from name, keeping
// years that belong to the title ("Blade Runner 2049").
func removeSpecificYear(name string, year int) string {
	if year == 0 {
		return name
	}
	y := strconv.Itoa(year)
	idx := strings.LastIndex(name, y)
	if idx == -1 {
		return name
	}
	return strings.TrimSpace(name[:idx] + name[idx+len(y):])
}

// NormalizeKey folds a display name into a comparison key: accents removed,
// lowercase, punctuation stripped, whitespace collapsed.
func NormalizeKey(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if folded, _, err := transform.String(t, name); err == nil {
		name = folded
	}
	name = strings.ToLower(name)
	name = apostropheReplacer.Replace(name)
	name = removePunctRegex.ReplaceAllString(name, " ")
	return strings.TrimSpace(collapseSpacesRegex.ReplaceAllString(name, " "))
}

// SimilarityRatio calculates similarity between two strings (0.0 to 1.0)
// as 1 - levenshtein/len(longer).
func SimilarityRatio(s1, s2 string) float64 {
	if s1 == s2 {
		return 1.0
	}
	if len(s1) == 0 || len(s2) == 0 {
		return 0.0
	}

	longer, shorter := []rune(s1), []rune(s2)
	if len(longer) < len(shorter) {
		longer, shorter = shorter, longer
	}

	distance := levenshteinDistance(longer, shorter)
	return (float64(len(longer)) - float64(distance)) / float64(len(longer))
}

// levenshteinDistance calculates edit distance between two rune slices
func levenshteinDistance(s1, s2 []rune) int {
	prev := make([]int, len(s2)+1)
	curr := make([]int, len(s2)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(s1); i++ {
		curr[0] = i
		for j := 1; j <= len(s2); j++ {
			cost := 1
			if s1[i-1] == s2[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}

	return prev[len(s2)]
}

// CleanTitle applies title case while preserving:
// - Ordinal numbers (1st, 2nd, 25th)
// - Abbreviations (U.S., R.I.P.D.)
// - Uppercase acronyms (8MM, USA)
func CleanTitle(s string) string {
	s = strings.TrimSpace(collapseSpacesRegex.ReplaceAllString(s, " "))
	if s == "" {
		return s
	}

	preserved := map[string]string{}
	n := 0
	protect := func(re *regexp.Regexp, keep func(string) string) {
		s = re.ReplaceAllStringFunc(s, func(m string) string {
			if strings.Contains(m, "§") {
				return m
			}
			placeholder := fmt.Sprintf("§%d§", n)
			n++
			preserved[placeholder] = keep(m)
			return placeholder
		})
	}

	protect(ordinalRegex, strings.ToLower)
	protect(abbrevRegex, strings.ToUpper)
	// A fully uppercase title is shouting, not a string of acronyms.
	if strings.ToUpper(s) != s {
		protect(upperTokenRegex, func(m string) string { return m })
	}

	s = cases.Title(language.English).String(s)

	for placeholder, orig := range preserved {
		s = strings.ReplaceAll(s, placeholder, orig)
	}
	return s
}

// episodeMarkerSpan locates the season/episode marker in name
func episodeMarkerSpan(name string) (start, end int, ok bool) {
	m := episodeMarkerRegex.FindStringSubmatchIndex(name)
	if m == nil {
		return 0, 0, false
	}
	if m[2] >= 0 {
		// include the leading "s"
		return m[2] - 1, m[5], true
	}
	return m[6], m[9], true
}

var markerReplacer = strings.NewReplacer(".", "", "_", "", " ", "")

var apostropheReplacer = strings.NewReplacer("'", "", "’", "", "&", " and ")

func trimVideoExt(name string) string {
	ext := filepath.Ext(name)
	if ext != "" && IsVideoExt(ext) {
		return strings.TrimSuffix(name, ext)
	}
	return name
}
