package normalize

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"magnetcatalog/pkg/types"
)

var (
	// Office (2025) S01 EP (37-40)
	episodicRe = regexp.MustCompile(`(?i)^(.+?)\s*\((\d{4})\)\s*S(\d{1,2})\s*EP\s*\(?\s*(\d{1,4})(?:\s*-\s*(?:EP)?\s*(\d{1,4}))?\s*\)?`)
	// Office (S01E37-40), the shape episodicStage itself produces.
	canonicalEpisodicRe = regexp.MustCompile(`^(.+?) \(S(\d{2})E(\d{2,4})(?:-(\d{2,4}))?\)$`)
	// Show.Name.2024.S01E02 or Show (2024) S01E02
	altEpisodicRe = regexp.MustCompile(`(?i)^(.+?)(?:\s*\((\d{4})\))?[\s._-]+\(?S(\d{1,2})\s*E(\d{1,3})\b`)
	movieYearRe   = regexp.MustCompile(`^(.+?)\s*\((\d{4})\)`)
	parenYearRe   = regexp.MustCompile(`\((\d{4})\)`)

	stripPatterns = []*regexp.Regexp{
		// [1080p & 720p - AVC - 2.1GB]
		regexp.MustCompile(`(?i)\[\s*(?:\d{3,4}p|4K|UHD)[^\]]*\]`),
		// (BluRay - 1080p), (WEB-DL ...), (720p ...)
		regexp.MustCompile(`(?i)\(\s*(?:Blu-?Ray|WEB-?DL|WEB-?Rip|HDRip|\d{3,4}p)[^)]*\)`),
		// trailing - [TAM + TEL]
		regexp.MustCompile(`\s*-?\s*\[[^\]]*\]\s*$`),
		// trailing - 2.7GB ...
		regexp.MustCompile(`(?i)\s+[-–]\s+\d+(?:\.\d+)?\s*[GM]B\b.*$`),
		// codec or release format to end of string
		regexp.MustCompile(`(?i)\s*[-–]?\s*\b(?:TRUE\s+)?(?:WEB-?DL|WEB-?Rip|Blu-?Ray|BRRip|BDRip|HDRip|DVDRip|DVDScr|HDTV|HDCAM|PreDVD|x26[45]|h\.?26[45]|HEVC|AVC)\b.*$`),
	}

	leadingIDRe = regexp.MustCompile(`^\d+[-_]?`)
)

func episodicStage(in input) (titleResult, bool) {
	if m := episodicRe.FindStringSubmatch(in.raw); m != nil {
		show := trimShow(m[1])
		if show == "" {
			return titleResult{}, false
		}
		return episodic(show, m[3], episodeRange(m[4], m[5]), m[2]), true
	}
	if m := canonicalEpisodicRe.FindStringSubmatch(in.raw); m != nil {
		return episodic(trimShow(m[1]), m[2], episodeRange(m[3], m[4]), ""), true
	}
	return titleResult{}, false
}

func episodic(show, season, episodes, year string) titleResult {
	s := pad2(season)
	return titleResult{
		clean:     fmt.Sprintf("%s (S%sE%s)", show, s, episodes),
		mediaType: types.MediaEpisodic,
		show:      show,
		season:    "S" + s,
		episode:   "EP" + episodes,
		year:      year,
	}
}

func altEpisodicStage(in input) (titleResult, bool) {
	m := altEpisodicRe.FindStringSubmatch(in.raw)
	if m == nil {
		return titleResult{}, false
	}
	show := trimShow(strings.NewReplacer(".", " ", "_", " ").Replace(m[1]))
	if show == "" {
		return titleResult{}, false
	}
	season := pad2(m[3])
	ep := pad2(m[4])
	return titleResult{
		clean:     fmt.Sprintf("%s (S%sE%s)", show, season, ep),
		mediaType: types.MediaEpisodic,
		show:      show,
		season:    "S" + season,
		episode:   "E" + ep,
		year:      m[2],
	}, true
}

func movieYearStage(in input) (titleResult, bool) {
	m := movieYearRe.FindStringSubmatch(in.raw)
	if m == nil {
		return titleResult{}, false
	}
	name := trimShow(m[1])
	if runeLen(name) <= minMovieName {
		return titleResult{}, false
	}
	return titleResult{
		clean:     name + " (" + m[2] + ")",
		mediaType: types.MediaMovie,
		year:      m[2],
	}, true
}

// stripStage always accepts; it is the last resort of the chain.
func stripStage(in input) (titleResult, bool) {
	title := in.raw
	for _, re := range stripPatterns {
		title = strings.TrimSpace(re.ReplaceAllString(title, ""))
	}
	title = strings.TrimRight(title, " -–|:,")
	if title == "" || runeLen(title) < minStrippedLength {
		title = in.raw
	}
	return titleResult{clean: title, mediaType: types.MediaMovie}, true
}

func slugProbe(ctx Context) string {
	return SlugTitle(ctx.URL)
}

// SlugTitle derives a readable title from a topic URL such as
// /index.php?/forums/topic/12345-leo-2023-tamil/.
func SlugTitle(u *url.URL) string {
	if u == nil {
		return ""
	}
	p := u.Path
	if strings.HasSuffix(strings.ToLower(p), ".php") && strings.HasPrefix(u.RawQuery, "/") {
		p = u.RawQuery
		if i := strings.IndexAny(p, "&="); i >= 0 {
			p = p[:i]
		}
	}
	var slug string
	for _, seg := range strings.Split(strings.Trim(p, "/"), "/") {
		if seg != "" {
			slug = seg
		}
	}
	if unescaped, err := url.PathUnescape(slug); err == nil {
		slug = unescaped
	}
	slug = leadingIDRe.ReplaceAllString(slug, "")
	slug = strings.NewReplacer("-", " ", "_", " ", "+", " ", ".", " ").Replace(slug)
	slug = collapseSpace(slug)
	if slug == "" {
		return ""
	}
	// Casers hold state, so one per call.
	return cases.Title(language.English).String(slug)
}

func episodeRange(from, to string) string {
	if to == "" {
		return pad2(from)
	}
	return pad2(from) + "-" + pad2(to)
}

func pad2(digits string) string {
	n, err := strconv.Atoi(digits)
	if err != nil {
		return digits
	}
	return fmt.Sprintf("%02d", n)
}

func trimShow(s string) string {
	return strings.Trim(collapseSpace(s), " -–._:|")
}
