package update

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	appErrors "extwatch/internal/errors"
)

// Store gallery hosts mapped to their package endpoints.
var storeBaseURLs = map[string]string{
	"chromewebstore.google.com":   "https://clients2.google.com/service/update2/crx",
	"microsoftedge.microsoft.com": "https://edge.microsoft.com/extensionwebstorebase/v1/crx",
}

// Update manifest hosts that belong to a store. Codebase links they hand out
// expire, so updates are rebuilt as install URLs for the matching gallery.
var storeUpdateHosts = map[string]string{
	"clients2.google.com": "chromewebstore.google.com",
	"edge.microsoft.com":  "microsoftedge.microsoft.com",
}

var storeDetailPath = regexp.MustCompile(`^(?:/addons)?/detail/([^/]+)/([^/]+)`)

// StoreListing identifies an extension from its store page URL.
type StoreListing struct {
	Hostname string
	ID       string
	Name     string
}

// ParseStoreURL extracts the gallery host, id and slug from a store detail page URL.
func ParseStoreURL(raw string) (StoreListing, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return StoreListing{}, appErrors.New(appErrors.CodeInvalidArgument, fmt.Sprintf("invalid store url %q", raw), err)
	}
	m := storeDetailPath.FindStringSubmatch(u.EscapedPath())
	if m == nil {
		return StoreListing{}, appErrors.New(appErrors.CodeInvalidArgument, "Failed to find infos from URL.", nil)
	}
	id, err := url.PathUnescape(m[2])
	if err != nil {
		return StoreListing{}, appErrors.New(appErrors.CodeInvalidArgument, fmt.Sprintf("invalid id in %q", raw), err)
	}
	name, err := url.PathUnescape(m[1])
	if err != nil {
		name = m[1]
	}
	return StoreListing{Hostname: u.Hostname(), ID: id, Name: name}, nil
}

// InstallURL builds the direct package URL for id on a store gallery host.
func InstallURL(hostname, id, prodVersion string) (string, error) {
	if hostname == "" || id == "" {
		return "", appErrors.New(appErrors.CodeInvalidArgument, `"hostname" and "id" required for install`, nil)
	}
	base, ok := storeBaseURLs[hostname]
	if !ok {
		return "", appErrors.New(appErrors.CodeUnsupportedHost, fmt.Sprintf("hostname %q not supported", hostname), nil)
	}
	return fmt.Sprintf("%s?response=redirect&acceptformat=crx2,crx3&prodversion=%s&x=id%%3D%s%%26installsource%%3Dondemand%%26uc",
		base, prodVersion, url.QueryEscape(id)), nil
}

// UpdateCheckURL builds the manifest query for one installed extension.
func UpdateCheckURL(updateURL, id, version, prodVersion string) (string, error) {
	if updateURL == "" || id == "" || version == "" {
		return "", appErrors.New(appErrors.CodeInvalidArgument, `"updateUrl", "id" and "version" required for update check`, nil)
	}
	sep := "?"
	if strings.Contains(updateURL, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%sresponse=updatecheck&acceptformat=crx2,crx3&prodversion=%s&x=id%%3D%s%%26v%%3D%s%%26uc",
		updateURL, sep, prodVersion, url.QueryEscape(id), url.QueryEscape(version)), nil
}

// StoreGalleryFor returns the gallery host that owns an update manifest URL.
func StoreGalleryFor(updateURL string) (string, bool) {
	u, err := url.Parse(updateURL)
	if err != nil {
		return "", false
	}
	gallery, ok := storeUpdateHosts[strings.ToLower(u.Hostname())]
	return gallery, ok
}
