package instrument

import (
	"net/url"
	"strings"
	"testing"
)

const testBase = "https://landing.example.net"

func TestInjectOpenPixel(t *testing.T) {
	in := New(testBase)

	t.Run("before body close", func(t *testing.T) {
		got := in.InjectOpenPixel("<html><body><p>hi</p></body></html>", "abc123")
		want := `<img src="https://landing.example.net/t/o/abc123.gif"`
		if !strings.Contains(got, want) {
			t.Fatalf("pixel missing: %s", got)
		}
		if !strings.HasSuffix(got, "</body></html>") {
			t.Errorf("pixel not inserted before </body>: %s", got)
		}
	})

	t.Run("uppercase body tag", func(t *testing.T) {
		got := in.InjectOpenPixel("<HTML><BODY>hi</BODY></HTML>", "abc123")
		if !strings.HasSuffix(got, "</BODY></HTML>") {
			t.Errorf("case-insensitive body close not honored: %s", got)
		}
		if !strings.Contains(got, "/t/o/abc123.gif") {
			t.Errorf("pixel missing: %s", got)
		}
	})

	t.Run("no body tag appends", func(t *testing.T) {
		got := in.InjectOpenPixel("<p>fragment</p>", "abc123")
		if !strings.HasPrefix(got, "<p>fragment</p><img ") {
			t.Errorf("pixel not appended: %s", got)
		}
	})
}

func TestRewriteLinks(t *testing.T) {
	in := New(testBase)

	t.Run("rewrites absolute urls", func(t *testing.T) {
		got := in.RewriteLinks(`<a href="https://example.com/x">go</a>`, "abc123")
		if !strings.Contains(got, "/t/c/abc123?u=") {
			t.Fatalf("click endpoint missing: %s", got)
		}
		if !strings.Contains(got, url.QueryEscape("https://example.com/x")) {
			t.Errorf("original url not encoded into u param: %s", got)
		}
	})

	t.Run("decoded u param round-trips", func(t *testing.T) {
		orig := "https://example.com/path?a=1&b=two words"
		got := in.RewriteLinks(`<a href="`+orig+`">go</a>`, "abc123")

		start := strings.Index(got, `href="`) + len(`href="`)
		end := strings.Index(got[start:], `"`) + start
		u, err := url.Parse(got[start:end])
		if err != nil {
			t.Fatalf("rewritten href unparsable: %v", err)
		}
		if dec := u.Query().Get("u"); dec != orig {
			t.Errorf("u param = %q, want %q", dec, orig)
		}
	})

	t.Run("exclusions pass through", func(t *testing.T) {
		cases := []string{
			`<a href="#section">jump</a>`,
			`<a href="mailto:a@b.com">mail</a>`,
			`<a href="javascript:void(0)">js</a>`,
			`<a href="tel:+15551234567">call</a>`,
			`<a href="/relative/path">rel</a>`,
		}
		for _, html := range cases {
			if got := in.RewriteLinks(html, "abc123"); got != html {
				t.Errorf("rewrote excluded link:\n in: %s\nout: %s", html, got)
			}
		}
	})

	t.Run("already tracked links untouched", func(t *testing.T) {
		html := `<a href="https://landing.example.net/t/c/zzz?u=x">tracked</a>`
		if got := in.RewriteLinks(html, "abc123"); got != html {
			t.Errorf("double-wrapped tracked link: %s", got)
		}
	})

	t.Run("single quotes", func(t *testing.T) {
		got := in.RewriteLinks(`<a href='https://example.com/x'>go</a>`, "abc123")
		if !strings.Contains(got, "/t/c/abc123?u=") {
			t.Errorf("single-quoted href not rewritten: %s", got)
		}
	})

	t.Run("malformed html survives", func(t *testing.T) {
		cases := []string{
			`<a href=`,
			`<a href="https://example.com/unterminated`,
			`<a href=unquoted>x</a>`,
			`href=""`,
			`<<<>>>`,
			"",
		}
		for _, html := range cases {
			got := in.RewriteLinks(html, "abc123")
			if strings.Contains(html, "unquoted") && got != html {
				t.Errorf("unquoted attr modified: %s", got)
			}
			// The contract is simply: never panic, never drop content wholesale.
			if len(got) < len(html)-1 {
				t.Errorf("content lost for %q: %q", html, got)
			}
		}
	})
}

func TestInstrumentEmail(t *testing.T) {
	in := New(testBase)
	html := `<html><body><a href="https://example.com/offer">offer</a></body></html>`
	got := in.InstrumentEmail(html, "abc123")

	if !strings.Contains(got, "/t/c/abc123?u=") {
		t.Errorf("links not rewritten: %s", got)
	}
	if !strings.Contains(got, "/t/o/abc123.gif") {
		t.Errorf("pixel not injected: %s", got)
	}
}

func TestInstrumentLanding(t *testing.T) {
	in := New(testBase)

	t.Run("same-site links tagged", func(t *testing.T) {
		got := in.InstrumentLanding(`<body><a href="/step2">next</a></body>`, "abc123", "step1")
		if !strings.Contains(got, "/step2?t=abc123") {
			t.Errorf("relative link not tagged: %s", got)
		}
	})

	t.Run("off-site links untouched", func(t *testing.T) {
		got := in.InstrumentLanding(`<body><a href="https://intranet.corp/help">help</a></body>`, "abc123", "step1")
		if strings.Contains(got, "help?t=") {
			t.Errorf("off-site link tagged: %s", got)
		}
	})

	t.Run("existing t param preserved", func(t *testing.T) {
		got := in.InstrumentLanding(`<body><a href="/step2?t=other">next</a></body>`, "abc123", "step1")
		if strings.Contains(got, "abc123") && strings.Contains(got, "/step2?t=other&") {
			t.Errorf("existing t overwritten: %s", got)
		}
		if !strings.Contains(got, "t=other") {
			t.Errorf("existing t lost: %s", got)
		}
	})

	t.Run("forms get hidden token", func(t *testing.T) {
		got := in.InstrumentLanding(`<body><form method="post" action="/login"><input name="username"></form></body>`, "abc123", "step1")
		if !strings.Contains(got, `<input type="hidden" name="t" value="abc123">`) {
			t.Errorf("hidden token input missing: %s", got)
		}
	})

	t.Run("forms with token untouched", func(t *testing.T) {
		html := `<body><form><input type="hidden" name="t" value="abc123"></form></body>`
		got := in.InstrumentLanding(html, "abc123", "step1")
		if strings.Count(got, `name="t"`) != 1 {
			t.Errorf("duplicate token input: %s", got)
		}
	})

	t.Run("beacon script injected", func(t *testing.T) {
		got := in.InstrumentLanding(`<body>hi</body>`, "abc123", "step1")
		if !strings.Contains(got, `src="https://landing.example.net/t/beacon.js"`) {
			t.Errorf("beacon script missing: %s", got)
		}
		if !strings.Contains(got, `data-token="abc123"`) || !strings.Contains(got, `data-page="step1"`) {
			t.Errorf("beacon attributes missing: %s", got)
		}
	})
}

func TestCaseChangingRunesKeepOffsetsAligned(t *testing.T) {
	in := New(testBase)
	// U+023A is 2 bytes in UTF-8 but its lowercase pair U+2C65 is 3, so any
	// scanner that indexes a lowercased copy drifts off the original bytes.
	pad := strings.Repeat("Ⱥ", 10)

	t.Run("pixel injection", func(t *testing.T) {
		got := in.InjectOpenPixel(pad+"</body>", "abc123")
		if !strings.HasSuffix(got, "</body>") {
			t.Errorf("pixel not inserted before body close: %s", got)
		}
		if !strings.Contains(got, "/t/o/abc123.gif") {
			t.Errorf("pixel missing: %s", got)
		}
		if !strings.Contains(got, pad) {
			t.Errorf("surrounding text damaged: %s", got)
		}
	})

	t.Run("link rewrite", func(t *testing.T) {
		html := pad + `<a href="https://example.com/x">` + pad + `</a>`
		got := in.RewriteLinks(html, "abc123")
		if !strings.Contains(got, "/t/c/abc123?u=") {
			t.Errorf("link not rewritten: %s", got)
		}
		if strings.Count(got, pad) != 2 {
			t.Errorf("surrounding text damaged: %s", got)
		}
	})

	t.Run("landing instrumentation", func(t *testing.T) {
		html := "<body>" + pad + `<form action="/login"></form>` + pad + "</BODY>"
		got := in.InstrumentLanding(html, "abc123", "step1")
		if !strings.Contains(got, `<input type="hidden" name="t" value="abc123">`) {
			t.Errorf("hidden token input missing: %s", got)
		}
		if !strings.HasSuffix(got, "</BODY>") {
			t.Errorf("beacon script not inserted before body close: %s", got)
		}
	})

	t.Run("uppercase tags still matched", func(t *testing.T) {
		got := in.InjectOpenPixel(pad+"</BODY>", "abc123")
		if !strings.HasSuffix(got, "</BODY>") {
			t.Errorf("uppercase body close not matched: %s", got)
		}
	})
}
