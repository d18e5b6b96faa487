// Package instrument rewrites rendered email and landing-page HTML so that
// viewing it triggers the tracking endpoints. Rewrites are syntactic
// attribute replacement, not full HTML parsing: campaign templates are
// frequently malformed, and a corrupted email is worse than an unmeasured
// one, so anything ambiguous is left exactly as it was.
package instrument

import (
	"fmt"
	"html"
	"net/url"
	"strings"
)

// Instrumentor embeds tracking tokens into HTML for a given public
// tracking base URL (scheme://host[:port], no trailing slash).
type Instrumentor struct {
	base string
	host string
}

// New creates an Instrumentor for the given public base URL.
func New(baseURL string) *Instrumentor {
	base := strings.TrimRight(baseURL, "/")
	host := ""
	if u, err := url.Parse(base); err == nil {
		host = u.Host
	}
	return &Instrumentor{base: base, host: host}
}

// OpenPixelURL returns the open-tracking pixel URL for a token.
func (in *Instrumentor) OpenPixelURL(tok string) string {
	return fmt.Sprintf("%s/t/o/%s.gif", in.base, tok)
}

// ClickURL returns the click-through URL wrapping target for a token.
func (in *Instrumentor) ClickURL(tok, target string) string {
	return fmt.Sprintf("%s/t/c/%s?u=%s", in.base, tok, url.QueryEscape(target))
}

// BeaconScriptURL returns the URL of the landing-page beacon script.
func (in *Instrumentor) BeaconScriptURL() string {
	return in.base + "/t/beacon.js"
}

// InstrumentEmail prepares rendered email HTML: every absolute link routes
// through the click endpoint and an open pixel is appended. This is the
// embedding contract consumed by campaign dispatch.
func (in *Instrumentor) InstrumentEmail(htmlSrc, tok string) string {
	out := in.RewriteLinks(htmlSrc, tok)
	return in.InjectOpenPixel(out, tok)
}

// InstrumentLanding prepares landing-page HTML: same-site links carry the
// token forward, every form gets a hidden token field, and the beacon
// script tag is injected with the token and page slug.
func (in *Instrumentor) InstrumentLanding(htmlSrc, tok, pageSlug string) string {
	out := in.tagSameSiteLinks(htmlSrc, tok)
	out = in.injectFormTokens(out, tok)
	script := fmt.Sprintf(`<script src="%s" data-token=%q data-page=%q></script>`,
		in.BeaconScriptURL(), tok, pageSlug)
	return insertBeforeBodyClose(out, script)
}

// InjectOpenPixel appends a 1x1 image reference pointing at the open
// endpoint, before the closing body tag when one exists. It is called once
// per render and does not try to detect prior injection.
func (in *Instrumentor) InjectOpenPixel(htmlSrc, tok string) string {
	pixel := fmt.Sprintf(`<img src="%s" width="1" height="1" style="display:none" alt="" />`,
		in.OpenPixelURL(tok))
	return insertBeforeBodyClose(htmlSrc, pixel)
}

// RewriteLinks routes every absolute http(s) href through the click
// endpoint with the original URL carried in the u parameter. Fragment,
// mailto:, javascript: and tel: links pass through unchanged, as does
// anything already pointing at the tracker and anything the scanner cannot
// safely delimit.
func (in *Instrumentor) RewriteLinks(htmlSrc, tok string) string {
	return in.scanHrefs(htmlSrc, func(target string) (string, bool) {
		if !isRewritableAbsolute(target) {
			return "", false
		}
		if strings.Contains(target, "/t/c/") || strings.Contains(target, "/t/o/") {
			return "", false
		}
		return in.ClickURL(tok, html.UnescapeString(target)), true
	})
}

// tagSameSiteLinks appends t=<token> to relative links and to absolute
// links on the tracker's own host, so navigation inside the landing site
// keeps attribution without every nested page being instrumented.
func (in *Instrumentor) tagSameSiteLinks(htmlSrc, tok string) string {
	return in.scanHrefs(htmlSrc, func(target string) (string, bool) {
		if isExcludedScheme(target) {
			return "", false
		}
		u, err := url.Parse(html.UnescapeString(target))
		if err != nil {
			return "", false
		}
		if u.IsAbs() && !strings.EqualFold(u.Host, in.host) {
			return "", false
		}
		q := u.Query()
		if q.Has("t") {
			return "", false
		}
		q.Set("t", tok)
		u.RawQuery = q.Encode()
		return html.EscapeString(u.String()), true
	})
}

// injectFormTokens adds a hidden token input to every form that does not
// already carry one.
func (in *Instrumentor) injectFormTokens(htmlSrc, tok string) string {
	hidden := fmt.Sprintf(`<input type="hidden" name="t" value=%q>`, tok)

	var b strings.Builder
	pos := 0
	for {
		i := indexFold(htmlSrc, pos, "<form")
		if i < 0 {
			b.WriteString(htmlSrc[pos:])
			break
		}
		tagEnd := strings.IndexByte(htmlSrc[i:], '>')
		if tagEnd < 0 {
			b.WriteString(htmlSrc[pos:])
			break
		}
		tagEnd += i + 1

		// Scope the duplicate check to this form's body.
		bodyEnd := indexFold(htmlSrc, tagEnd, "</form>")
		if bodyEnd < 0 {
			bodyEnd = len(htmlSrc)
		}
		body := htmlSrc[tagEnd:bodyEnd]
		b.WriteString(htmlSrc[pos:tagEnd])
		if indexFold(body, 0, `name="t"`) < 0 && indexFold(body, 0, `name='t'`) < 0 {
			b.WriteString(hidden)
		}
		pos = tagEnd
	}
	return b.String()
}

// scanHrefs walks href attributes (either quote style) and replaces the
// value when rewrite returns true. Unquoted and unterminated attributes
// are left alone.
func (in *Instrumentor) scanHrefs(htmlSrc string, rewrite func(string) (string, bool)) string {
	var b strings.Builder
	pos := 0
	for {
		i := indexFold(htmlSrc, pos, "href=")
		if i < 0 {
			b.WriteString(htmlSrc[pos:])
			break
		}
		valPos := i + len("href=")
		if valPos >= len(htmlSrc) {
			b.WriteString(htmlSrc[pos:])
			break
		}
		quote := htmlSrc[valPos]
		if quote != '"' && quote != '\'' {
			b.WriteString(htmlSrc[pos:valPos])
			pos = valPos
			continue
		}
		end := strings.IndexByte(htmlSrc[valPos+1:], quote)
		if end < 0 {
			b.WriteString(htmlSrc[pos:])
			break
		}
		valStart := valPos + 1
		valEnd := valStart + end

		b.WriteString(htmlSrc[pos:valStart])
		original := htmlSrc[valStart:valEnd]
		if replaced, ok := rewrite(strings.TrimSpace(original)); ok {
			b.WriteString(replaced)
		} else {
			b.WriteString(original)
		}
		pos = valEnd
	}
	return b.String()
}

func insertBeforeBodyClose(htmlSrc, fragment string) string {
	if i := lastIndexFold(htmlSrc, "</body>"); i >= 0 {
		return htmlSrc[:i] + fragment + htmlSrc[i:]
	}
	return htmlSrc + fragment
}

// indexFold finds needle in s at or after from, matching ASCII letters
// case-insensitively. All needles here are plain ASCII, so scanning the
// original string keeps byte offsets valid even when s contains runes
// whose case pair has a different UTF-8 length.
func indexFold(s string, from int, needle string) int {
	if from < 0 {
		from = 0
	}
	for i := from; i+len(needle) <= len(s); i++ {
		if equalFoldASCII(s[i:i+len(needle)], needle) {
			return i
		}
	}
	return -1
}

func lastIndexFold(s, needle string) int {
	for i := len(s) - len(needle); i >= 0; i-- {
		if equalFoldASCII(s[i:i+len(needle)], needle) {
			return i
		}
	}
	return -1
}

func equalFoldASCII(s, t string) bool {
	if len(s) != len(t) {
		return false
	}
	for i := 0; i < len(s); i++ {
		a, b := s[i], t[i]
		if 'A' <= a && a <= 'Z' {
			a += 'a' - 'A'
		}
		if 'A' <= b && b <= 'Z' {
			b += 'a' - 'A'
		}
		if a != b {
			return false
		}
	}
	return true
}

var excludedPrefixes = []string{"#", "mailto:", "javascript:", "tel:"}

func isExcludedScheme(target string) bool {
	t := strings.ToLower(target)
	for _, p := range excludedPrefixes {
		if strings.HasPrefix(t, p) {
			return true
		}
	}
	return false
}

func isRewritableAbsolute(target string) bool {
	t := strings.ToLower(target)
	return strings.HasPrefix(t, "http://") || strings.HasPrefix(t, "https://")
}
