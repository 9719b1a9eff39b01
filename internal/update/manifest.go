package update

import (
	"html"
	"net/url"
	"regexp"
	"strings"

	appErrors "extwatch/internal/errors"
)

var (
	updateCheckElement = regexp.MustCompile(`<updatecheck\b[^>]*?/>`)
	codebaseAttr       = regexp.MustCompile(`codebase=['"]([^'"]+)`)
	versionAttr        = regexp.MustCompile(`version=['"]([^'"]+)`)
)

// Manifest is what an update manifest advertises. Empty fields were absent or invalid.
type Manifest struct {
	Codebase string
	Version  string
}

// HasUpdate reports whether both a usable codebase and a version are present.
func (m Manifest) HasUpdate() bool {
	return m.Codebase != "" && m.Version != ""
}

// ParseManifest extracts the first <updatecheck/> element from body.
func ParseManifest(body string) (Manifest, error) {
	element := updateCheckElement.FindString(body)
	if element == "" {
		return Manifest{}, appErrors.New(appErrors.CodeInvalidManifest, "Failed to find updatecheck.", nil)
	}

	var m Manifest
	if match := codebaseAttr.FindStringSubmatch(element); match != nil {
		m.Codebase = strings.TrimSpace(html.UnescapeString(match[1]))
	}
	if match := versionAttr.FindStringSubmatch(element); match != nil {
		m.Version = strings.TrimSpace(match[1])
	}
	if !isAbsoluteURL(m.Codebase) {
		m.Codebase = ""
	}
	return m, nil
}

func isAbsoluteURL(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	return err == nil && u.Scheme != "" && u.Host != ""
}
