package mirror

import (
	"strings"
)

// DefaultCanonical is the canonical release host that mirrors front.
const DefaultCanonical = "https://github.com"

// defaultAlternates are the GitHub release proxies probed when no mirror set
// is configured. Each entry replaces DefaultCanonical in the artifact URL.
var defaultAlternates = []string{
	"https://dgithub.xyz",
	"https://hub.gitmirror.com/https://github.com",
	"https://gh.idayer.com/https://github.com",
	"https://ghproxy.cxkpro.top/https://github.com",
	"https://github.limoruirui.com/https://github.com",
	"https://gh.xxooo.cf/https://github.com",
}

// MirrorSet is the fixed, ordered set of hosts an artifact can be fetched from.
// Canonical is the real host prefix; Alternates are substituted for it in order.
type MirrorSet struct {
	Canonical  string   `yaml:"canonical" json:"canonical"`
	Alternates []string `yaml:"alternates" json:"alternates"`
}

// DefaultMirrorSet returns a fresh copy of the built-in GitHub mirror set.
func DefaultMirrorSet() MirrorSet {
	alternates := make([]string, len(defaultAlternates))
	copy(alternates, defaultAlternates)
	return MirrorSet{
		Canonical:  DefaultCanonical,
		Alternates: alternates,
	}
}

// Generator expands a canonical artifact URL into its candidate endpoints.
// It holds no state beyond the mirror set it was built with.
type Generator struct {
	canonical  string
	alternates []string
}

// NewGenerator creates a Generator for the given mirror set. Trailing slashes
// on prefixes are ignored.
func NewGenerator(set MirrorSet) *Generator {
	alternates := make([]string, 0, len(set.Alternates))
	for _, alt := range set.Alternates {
		alternates = append(alternates, strings.TrimRight(alt, "/"))
	}
	return &Generator{
		canonical:  strings.TrimRight(set.Canonical, "/"),
		alternates: alternates,
	}
}

// Generate returns the ordered candidate URLs for canonicalURL: the URL itself
// first, followed by one prefix-substituted URL per alternate. URLs outside
// the canonical host are returned alone and unchanged. The result is never empty.
func (g *Generator) Generate(canonicalURL string) []string {
	if g.canonical == "" || !strings.HasPrefix(canonicalURL, g.canonical+"/") {
		return []string{canonicalURL}
	}

	rest := strings.TrimPrefix(canonicalURL, g.canonical)
	urls := make([]string, 0, 1+len(g.alternates))
	urls = append(urls, canonicalURL)
	for _, alt := range g.alternates {
		urls = append(urls, alt+rest)
	}
	return urls
}

// Canonical returns the canonical host prefix the generator matches against.
func (g *Generator) Canonical() string {
	return g.canonical
}
