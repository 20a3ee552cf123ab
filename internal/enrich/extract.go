package enrich

import (
	"encoding/hex"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/sells-group/outreach-cli/internal/dedup"
	"github.com/sells-group/outreach-cli/internal/provider"
)

var emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,24}`)

var assetSuffixes = []string{".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp", ".css", ".js"}

var placeholderDomains = map[string]bool{
	"example.com": true, "domain.com": true, "email.com": true, "yourdomain.com": true,
	"sentry.io": true, "wixpress.com": true, "godaddy.com": true, "mysite.com": true,
}

var contactWords = []string{"contact", "about", "team", "connect", "reach"}

// Confidence assigned to scraped addresses. Addresses on the prospect's own
// domain rank above third-party mailboxes.
const (
	confMailtoOwn  = 95
	confTextOwn    = 85
	confMailtoElse = 70
	confTextElse   = 60
)

// ExtractEmails returns the addresses found in html, best first. domain is
// the prospect's registrable domain and may be empty.
func ExtractEmails(html, domain string) []provider.CandidateEmail {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ExtractText(html, domain)
	}

	best := make(map[string]float64)
	add := func(addr string, own, other float64) {
		addr = normalizeEmail(addr)
		if addr == "" {
			return
		}
		conf := other
		if domain != "" && emailDomain(addr) == domain {
			conf = own
		}
		if conf > best[addr] {
			best[addr] = conf
		}
	}

	doc.Find(`a[href^="mailto:"], a[href^="MAILTO:"]`).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		addr := href[len("mailto:"):]
		if i := strings.IndexByte(addr, '?'); i >= 0 {
			addr = addr[:i]
		}
		if un, err := url.PathUnescape(addr); err == nil {
			addr = un
		}
		for _, a := range strings.Split(addr, ",") {
			add(a, confMailtoOwn, confMailtoElse)
		}
	})

	doc.Find("[data-cfemail]").Each(func(_ int, s *goquery.Selection) {
		enc, _ := s.Attr("data-cfemail")
		add(decodeCFEmail(enc), confMailtoOwn, confMailtoElse)
	})

	doc.Find("script, style, noscript").Remove()
	for _, m := range emailPattern.FindAllString(doc.Text(), -1) {
		add(m, confTextOwn, confTextElse)
	}

	return ranked(best)
}

// ExtractText finds addresses in plain text such as a profile bio.
func ExtractText(text, domain string) []provider.CandidateEmail {
	best := make(map[string]float64)
	for _, m := range emailPattern.FindAllString(text, -1) {
		addr := normalizeEmail(m)
		if addr == "" {
			continue
		}
		conf := float64(confTextElse)
		if domain != "" && emailDomain(addr) == domain {
			conf = confTextOwn
		}
		if conf > best[addr] {
			best[addr] = conf
		}
	}
	return ranked(best)
}

// ContactLinks returns same-site links that look like contact or about
// pages, in document order.
func ContactLinks(html, baseURL string) []string {
	base, err := url.Parse(baseURL)
	if err != nil || base.Host == "" {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	seen := map[string]bool{}
	var out []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return
		}
		if strings.TrimPrefix(abs.Hostname(), "www.") != strings.TrimPrefix(base.Hostname(), "www.") {
			return
		}
		label := strings.ToLower(abs.Path + " " + s.Text())
		if !containsAny(label, contactWords) {
			return
		}
		abs.Fragment = ""
		u := strings.TrimSuffix(abs.String(), "/")
		if u == strings.TrimSuffix(base.String(), "/") || seen[u] {
			return
		}
		seen[u] = true
		out = append(out, u)
	})
	return out
}

func ranked(best map[string]float64) []provider.CandidateEmail {
	out := make([]provider.CandidateEmail, 0, len(best))
	for addr, conf := range best {
		out = append(out, provider.CandidateEmail{Address: addr, Confidence: conf, Source: "scrape"})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Address < out[j].Address
	})
	return out
}

func normalizeEmail(s string) string {
	s = strings.ToLower(strings.Trim(strings.TrimSpace(s), ".;:,<>()[]\"'"))
	if !emailPattern.MatchString(s) || emailPattern.FindString(s) != s {
		return ""
	}
	for _, suf := range assetSuffixes {
		if strings.HasSuffix(s, suf) {
			return ""
		}
	}
	if placeholderDomains[emailDomain(s)] {
		return ""
	}
	return s
}

// emailDomain returns the registrable domain of an address.
func emailDomain(addr string) string {
	i := strings.LastIndexByte(addr, '@')
	if i < 0 {
		return ""
	}
	d, err := dedup.DomainKey(addr[i+1:])
	if err != nil {
		return addr[i+1:]
	}
	return d
}

// decodeCFEmail reverses Cloudflare's email obfuscation: the first byte is
// an XOR key for the rest.
func decodeCFEmail(enc string) string {
	b, err := hex.DecodeString(enc)
	if err != nil || len(b) < 2 {
		return ""
	}
	key := b[0]
	out := make([]byte, len(b)-1)
	for i, c := range b[1:] {
		out[i] = c ^ key
	}
	return string(out)
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
