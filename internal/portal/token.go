package portal

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
)

// TokenField is the name of the hidden form field carrying the CSRF token.
const TokenField = "_token"

// ExtractToken returns the CSRF token embedded in a login page.
// The hidden <input name="_token"> wins; a <meta name="csrf-token"> tag is
// accepted when the form field is absent.
func ExtractToken(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", fmt.Errorf("parse login page: %w", err)
	}

	var fromInput, fromMeta string
	walk(doc, func(n *html.Node) bool {
		switch n.Data {
		case "input":
			if attr(n, "name") == TokenField {
				if v := strings.TrimSpace(attr(n, "value")); v != "" {
					fromInput = v
					return false
				}
			}
		case "meta":
			if fromMeta == "" && attr(n, "name") == "csrf-token" {
				fromMeta = strings.TrimSpace(attr(n, "content"))
			}
		}
		return true
	})

	switch {
	case fromInput != "":
		return fromInput, nil
	case fromMeta != "":
		return fromMeta, nil
	default:
		return "", ErrTokenNotFound
	}
}

// walk visits element nodes depth-first until visit returns false.
func walk(n *html.Node, visit func(*html.Node) bool) bool {
	if n.Type == html.ElementNode && !visit(n) {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walk(c, visit) {
			return false
		}
	}
	return true
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}
