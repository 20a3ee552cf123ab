package dedup

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdmit_ConcurrentExactlyOneFirstSeen(t *testing.T) {
	d := New()
	const callers = 64

	var first atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if d.Admit("acme.com") == FirstSeen {
				first.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), first.Load())
	assert.Equal(t, 1, d.Len())
}

func TestAdmit_DistinctKeys(t *testing.T) {
	d := New()
	assert.Equal(t, FirstSeen, d.Admit("a.com"))
	assert.Equal(t, FirstSeen, d.Admit("b.com"))
	assert.Equal(t, Duplicate, d.Admit("a.com"))
	assert.Equal(t, "duplicate", Duplicate.String())
	assert.Equal(t, 2, d.Len())
}

func TestForget(t *testing.T) {
	d := New()
	require.Equal(t, FirstSeen, d.Admit("a.com"))
	d.Forget("a.com")
	d.Forget("never-seen.com")
	assert.Equal(t, 0, d.Len())
	assert.Equal(t, FirstSeen, d.Admit("a.com"))
	assert.Equal(t, Duplicate, d.Admit("a.com"))
}

func TestDomainKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"acme.com", "acme.com"},
		{"https://www.Acme.com/about?x=1", "acme.com"},
		{"http://shop.acme.com:8080", "acme.com"},
		{"WWW.ACME.COM.", "acme.com"},
		{"https://blog.example.co.uk/post", "example.co.uk"},
		{"bakery.github.io", "bakery.github.io"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := DomainKey(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDomainKey_Invalid(t *testing.T) {
	for _, in := range []string{"", "   ", "http://", "192.168.1.1", "com"} {
		_, err := DomainKey(in)
		assert.Error(t, err, in)
	}
}

func TestSocialKey(t *testing.T) {
	assert.Equal(t, "instagram:bakery", SocialKey("Instagram", "@Bakery"))
	assert.Equal(t, "twitter:bakery", SocialKey("twitter", " bakery "))
	assert.Equal(t, SocialKey("tiktok", "ＢＡＫＥＲＹ"), SocialKey("tiktok", "bakery"), "width-normalized")
}
