package dispatch

import (
	"strings"

	"golang.org/x/net/html"
)

var blockTags = map[string]bool{
	"p": true, "div": true, "tr": true, "table": true, "li": true, "ul": true, "ol": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"header": true, "footer": true, "section": true,
}

var hiddenTags = map[string]bool{"head": true, "script": true, "style": true, "title": true}

// PlainText derives the text/plain alternative of an HTML email. Links keep their target
// in parentheses so the recovery and unsubscribe URLs survive.
func PlainText(src string) string {
	z := html.NewTokenizer(strings.NewReader(src))
	var (
		b      strings.Builder
		hidden int
		href   string
	)
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return tidy(b.String())
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			tag := string(name)
			switch {
			case hiddenTags[tag] && tt == html.StartTagToken:
				hidden++
			case tag == "br":
				b.WriteString("\n")
			case tag == "td" || tag == "th":
				b.WriteString("  ")
			case tag == "a":
				href = ""
				for hasAttr {
					var key, val []byte
					key, val, hasAttr = z.TagAttr()
					if string(key) == "href" {
						href = string(val)
					}
				}
			}
			if blockTags[tag] {
				b.WriteString("\n")
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if hiddenTags[tag] && hidden > 0 {
				hidden--
			}
			if tag == "a" {
				if href != "" && !strings.HasPrefix(href, "#") && hidden == 0 {
					b.WriteString(" (" + href + ")")
				}
				href = ""
			}
			if blockTags[tag] {
				b.WriteString("\n")
			}
		case html.TextToken:
			if hidden == 0 {
				b.Write(z.Text())
			}
		}
	}
}

// tidy collapses runs of whitespace inside lines and keeps at most one blank line.
func tidy(s string) string {
	var out []string
	blank := false
	for _, line := range strings.Split(s, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		out = append(out, line)
		blank = false
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
