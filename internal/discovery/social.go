package discovery

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/sells-group/outreach-cli/internal/dedup"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/provider"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]{2,64}$`)

// profileFunc extracts the username from a profile URL path.
type profileFunc func(segments []string) (string, bool)

// SocialAdapter discovers profiles on a single social platform by running
// site-restricted searches and parsing profile URLs.
type SocialAdapter struct {
	platform string
	hosts    []string
	profile  profileFunc
}

// SocialAdapters returns one adapter per supported social platform.
func SocialAdapters() []*SocialAdapter {
	return []*SocialAdapter{
		{platform: "linkedin", hosts: []string{"linkedin.com"}, profile: linkedinProfile},
		{platform: "instagram", hosts: []string{"instagram.com"}, profile: rootProfile(
			"p", "reel", "reels", "explore", "stories", "accounts", "tv", "about", "legal")},
		{platform: "twitter", hosts: []string{"twitter.com", "x.com"}, profile: rootProfile(
			"i", "home", "search", "hashtag", "intent", "share", "explore", "settings", "tos", "privacy")},
		{platform: "youtube", hosts: []string{"youtube.com"}, profile: youtubeProfile},
		{platform: "tiktok", hosts: []string{"tiktok.com"}, profile: handleProfile},
	}
}

// Platform implements Adapter.
func (a *SocialAdapter) Platform() string { return a.platform }

// Discover implements Adapter.
func (a *SocialAdapter) Discover(ctx context.Context, search provider.SearchProvider, q Query) ([]model.Prospect, error) {
	text := fmt.Sprintf("site:%s %s", a.hosts[0], q.Keyword)
	results, err := search.Query(ctx, text, q.Location)
	if err != nil {
		return nil, err
	}

	out := make([]model.Prospect, 0, len(results))
	for _, r := range results {
		username, ok := a.Username(r.URL)
		if !ok {
			continue
		}
		key := dedup.SocialKey(a.platform, username)

		p := model.NewProspect(model.SourceSocial, key)
		p.Platform = a.platform
		p.Username = strings.TrimPrefix(key, a.platform+":")
		p.Website = r.URL
		p.Name = socialName(r.Title)
		p.Location = firstNonEmpty(r.Location, q.Location)
		p.Description = r.Snippet
		p.Keywords = []string{q.Keyword}
		out = append(out, p)
	}
	return out, nil
}

// Username returns the profile handle if raw is a profile URL on this
// platform.
func (a *SocialAdapter) Username(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	host = strings.TrimPrefix(host, "m.")
	if !a.ownsHost(host) {
		return "", false
	}

	var segments []string
	for _, s := range strings.Split(u.Path, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	if len(segments) == 0 {
		return "", false
	}
	name, ok := a.profile(segments)
	if !ok || !usernamePattern.MatchString(name) {
		return "", false
	}
	return name, true
}

func (a *SocialAdapter) ownsHost(host string) bool {
	for _, h := range a.hosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// linkedin.com/in/<user> and linkedin.com/company/<slug>.
func linkedinProfile(seg []string) (string, bool) {
	if len(seg) >= 2 && (seg[0] == "in" || seg[0] == "company") {
		return seg[1], true
	}
	return "", false
}

// rootProfile matches <host>/<user>, rejecting reserved first segments.
func rootProfile(reserved ...string) profileFunc {
	skip := make(map[string]bool, len(reserved))
	for _, r := range reserved {
		skip[r] = true
	}
	return func(seg []string) (string, bool) {
		name := strings.TrimPrefix(seg[0], "@")
		if skip[strings.ToLower(name)] {
			return "", false
		}
		return name, true
	}
}

// handleProfile matches <host>/@<user>.
func handleProfile(seg []string) (string, bool) {
	if !strings.HasPrefix(seg[0], "@") {
		return "", false
	}
	return strings.TrimPrefix(seg[0], "@"), true
}

// youtube.com/@handle, /c/<name>, /user/<name> and /channel/<id>.
func youtubeProfile(seg []string) (string, bool) {
	if strings.HasPrefix(seg[0], "@") {
		return strings.TrimPrefix(seg[0], "@"), true
	}
	if len(seg) >= 2 {
		switch seg[0] {
		case "c", "user", "channel":
			return seg[1], true
		}
	}
	return "", false
}

// socialName strips platform suffixes like "(@acme) • Instagram photos".
func socialName(title string) string {
	t := title
	for _, cut := range []string{" (@", " | ", " - ", " • ", " on TikTok"} {
		if i := strings.Index(t, cut); i > 0 {
			t = t[:i]
		}
	}
	return strings.TrimSpace(t)
}
