package projectview

import (
	"net/url"
	"path"
	"strings"
)

const (
	// internalAssetPrefix is the in-cluster storage host the engine writes
	// into asset records. It is not routable from a browser.
	internalAssetPrefix = "http://ai-scene-backend:8090/public/"
	// publicAssetPath is where the reverse proxy serves those same files.
	publicAssetPath = "/assets/ai-video/public/"
)

// AssetURLRewriter maps backend-internal and file-scheme asset URLs onto
// the externally reachable public path. Any other URL passes through
// unchanged, which also makes the rewrite idempotent: already-public
// paths match neither trigger prefix.
type AssetURLRewriter struct {
	origin string
}

// NewAssetURLRewriter derives the public origin (scheme://host[:port])
// from the configured API base URL. An unparsable base disables
// rewriting entirely.
func NewAssetURLRewriter(baseURL string) *AssetURLRewriter {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return &AssetURLRewriter{}
	}
	return &AssetURLRewriter{origin: u.Scheme + "://" + u.Host}
}

// Rewrite returns the browser-reachable form of raw.
func (r *AssetURLRewriter) Rewrite(raw string) string {
	if r.origin == "" || raw == "" {
		return raw
	}
	switch {
	case strings.HasPrefix(raw, "file://"):
		return r.publicURL(raw, strings.TrimPrefix(raw, "file://"))
	case strings.HasPrefix(raw, internalAssetPrefix):
		return r.publicURL(raw, strings.TrimPrefix(raw, internalAssetPrefix))
	}
	return raw
}

func (r *AssetURLRewriter) publicURL(raw, rest string) string {
	name := path.Base(rest)
	if name == "." || name == "/" {
		return raw
	}
	return r.origin + publicAssetPath + name
}
