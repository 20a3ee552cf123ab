package enrich

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const homepage = `<html><head><title>Acme</title>
<script>var x = "tracking@sentry.io";</script></head>
<body>
<nav><a href="/about-us">About</a> <a href="/contact">Get in touch</a> <a href="https://other.com/contact">x</a></nav>
<p>Write to hello@acme.com or sales@acme.com.</p>
<a href="mailto:Owner@Acme.com?subject=Hi">Email the owner</a>
<a href="mailto:acme.bakery@gmail.com">Gmail</a>
<img src="logo@2x.png">
<p>Template contact: you@example.com</p>
<a href="/cdn-cgi/l/email-protection" data-cfemail="4a23242c250a2b29272f64292527">[email protected]</a>
</body></html>`

func TestExtractEmails(t *testing.T) {
	got := ExtractEmails(homepage, "acme.com")

	addrs := make([]string, len(got))
	for i, c := range got {
		addrs[i] = c.Address
	}
	assert.Equal(t, []string{
		"info@acme.com",
		"owner@acme.com",
		"hello@acme.com",
		"sales@acme.com",
		"acme.bakery@gmail.com",
	}, addrs)
	assert.Equal(t, 95.0, got[0].Confidence)
	assert.Equal(t, 85.0, got[2].Confidence)
	assert.Equal(t, 70.0, got[4].Confidence)
	assert.Equal(t, "scrape", got[0].Source)
}

func TestExtractEmails_None(t *testing.T) {
	assert.Empty(t, ExtractEmails(`<p>No contact here</p>`, "acme.com"))
}

func TestExtractText(t *testing.T) {
	got := ExtractText("Bookings: Studio.Bookings@Gmail.com | DM for collabs", "")
	require.Len(t, got, 1)
	assert.Equal(t, "studio.bookings@gmail.com", got[0].Address)
	assert.Equal(t, 60.0, got[0].Confidence)
}

func TestContactLinks(t *testing.T) {
	links := ContactLinks(homepage, "https://www.acme.com/")
	assert.Equal(t, []string{"https://www.acme.com/about-us", "https://www.acme.com/contact"}, links)

	assert.Nil(t, ContactLinks(homepage, "::bad"))
}

func TestDecodeCFEmail(t *testing.T) {
	assert.Equal(t, "info@acme.com", decodeCFEmail("4a23242c250a2b29272f64292527"))
	assert.Equal(t, "", decodeCFEmail("zz"))
}
