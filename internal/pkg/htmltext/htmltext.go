// Package htmltext converts HTML bodies to a plain-text alternative.
package htmltext

import (
	"strings"

	"golang.org/x/net/html"
)

// skip holds elements whose text content never belongs in the plain part.
var skip = map[string]bool{
	"script": true,
	"style":  true,
	"head":   true,
	"title":  true,
}

// block holds elements that imply a line break around their content.
var block = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"blockquote": true, "table": true, "ul": true, "ol": true,
}

// Convert renders the text content of an HTML document, one line per block
// element, with scripts and styles dropped. Invalid markup is tolerated;
// the tokenizer consumes whatever it can.
func Convert(htmlBody string) string {
	z := html.NewTokenizer(strings.NewReader(htmlBody))

	var b strings.Builder
	depthSkipped := 0

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return collapse(b.String())
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skip[tag] && tt == html.StartTagToken {
				depthSkipped++
			}
			if block[tag] {
				b.WriteByte('\n')
			}
			if tag == "a" && tt == html.StartTagToken {
				// keep link targets visible in the text part
				for {
					k, v, more := z.TagAttr()
					if string(k) == "href" {
						href := string(v)
						if href != "" && !strings.HasPrefix(href, "#") {
							b.WriteString(" <" + href + "> ")
						}
					}
					if !more {
						break
					}
				}
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skip[tag] && depthSkipped > 0 {
				depthSkipped--
			}
			if block[tag] {
				b.WriteByte('\n')
			}
		case html.TextToken:
			if depthSkipped == 0 {
				b.Write(z.Text())
			}
		}
	}
}

// collapse trims each line and squeezes runs of blank lines to one.
func collapse(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := true
	for _, ln := range lines {
		ln = strings.TrimSpace(ln)
		if ln == "" {
			if !blank {
				out = append(out, "")
			}
			blank = true
			continue
		}
		out = append(out, ln)
		blank = false
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return strings.Join(out, "\n")
}
