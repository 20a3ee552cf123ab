package dedup

import (
	"net"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// DomainKey normalizes a URL or bare host to its registrable domain, so
// "https://www.Shop.Example.co.uk/about" and "example.co.uk" collapse to
// the same key.
func DomainKey(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", eris.New("dedup: empty domain")
	}
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", eris.Wrapf(err, "dedup: parse %q", raw)
	}
	host := u.Hostname()
	if host == "" {
		return "", eris.Errorf("dedup: no host in %q", raw)
	}
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if net.ParseIP(host) != nil {
		return "", eris.Errorf("dedup: %q is an IP address", raw)
	}
	host = strings.TrimPrefix(host, "www.")

	etld1, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return "", eris.Wrapf(err, "dedup: registrable domain of %q", raw)
	}
	return etld1, nil
}

// SocialKey builds the natural key for a social profile.
func SocialKey(platform, username string) string {
	u := strings.TrimSpace(username)
	u = strings.TrimPrefix(u, "@")
	u = cases.Fold().String(norm.NFKC.String(u))
	return strings.ToLower(strings.TrimSpace(platform)) + ":" + u
}
