/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: request_test.go
Description: Tests for the request package. Covers structural identity, set deduplication and
ordering, scope filtering and HTML extraction of links and forms.
*/

package request_test

import (
	"net/http"
	"net/url"
	"sync"
	"testing"

	"github.com/kleascm/akaylee-scanner/pkg/request"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRequestKey tests structural identity of fuzzable requests
func TestRequestKey(t *testing.T) {
	a := request.MustNew("GET", "http://a.test/p?id=1")
	b := request.MustNew("GET", "http://a.test/p?id=2")
	c := request.MustNew("GET", "http://a.test/p?name=2")
	d := request.MustNew("POST", "http://a.test/p?id=1")
	e := request.MustNew("get", "http://A.test/p?id=3#frag")

	assert.Equal(t, a.Key(), b.Key(), "parameter values are not part of the identity")
	assert.NotEqual(t, a.Key(), c.Key(), "parameter names are part of the identity")
	assert.NotEqual(t, a.Key(), d.Key(), "method is part of the identity")
	assert.True(t, a.Equal(e))
	assert.False(t, a.Equal(nil))
	assert.NotEqual(t, a.ID, b.ID)
}

// TestRequestNewRejectsRelative tests URL validation
func TestRequestNewRejectsRelative(t *testing.T) {
	_, err := request.New("GET", "/relative", nil)
	assert.Error(t, err)

	_, err = request.New("GET", "http://[::1", nil)
	assert.Error(t, err)
}

// TestRequestCloneAndFragment tests copies never alias the original
func TestRequestCloneAndFragment(t *testing.T) {
	orig := request.MustNew("GET", "http://a.test/x?q=1#top")
	orig.Depth = 3
	orig.DiscoveredBy = "web_spider"

	clean := orig.WithoutFragment()
	require.NotSame(t, orig, clean)
	assert.Empty(t, clean.URL.Fragment)
	assert.Equal(t, "top", orig.URL.Fragment)
	assert.Equal(t, 3, clean.Depth)
	assert.Equal(t, "web_spider", clean.DiscoveredBy)

	clean.Params.Set("q", "changed")
	assert.Equal(t, "1", orig.Params.Get("q"))

	noFrag := request.MustNew("GET", "http://a.test/")
	assert.Same(t, noFrag, noFrag.WithoutFragment())

	assert.Equal(t, "http://a.test/", orig.BaseURL())
	assert.Equal(t, "http://a.test/x?q=1", orig.URI())
	assert.Equal(t, "Method: GET | http://a.test/x | Parameters: (q)", orig.String())
}

// TestSetDeduplication tests insert-if-absent semantics and ordering
func TestSetDeduplication(t *testing.T) {
	set := request.NewSet()
	first := request.MustNew("GET", "http://a.test/1")
	assert.True(t, set.Add(first))
	assert.False(t, set.Add(request.MustNew("GET", "http://a.test/1")))
	assert.False(t, set.Add(nil))

	added := set.AddAll([]*request.FuzzableRequest{
		request.MustNew("GET", "http://a.test/2"),
		request.MustNew("GET", "http://a.test/1#x"),
		request.MustNew("GET", "http://a.test/3"),
	})
	assert.Equal(t, 2, added)
	assert.Equal(t, 3, set.Len())

	list := set.List()
	require.Len(t, list, 3)
	assert.Same(t, first, list[0])
	assert.Equal(t, "http://a.test/3", list[2].URLString())
	assert.True(t, set.Contains(request.MustNew("GET", "http://a.test/2")))
	assert.False(t, set.Contains(request.MustNew("GET", "http://a.test/4")))
}

// TestSetUnion tests set union never mutates its operands
func TestSetUnion(t *testing.T) {
	left := request.NewSet(request.MustNew("GET", "http://a.test/1"), request.MustNew("GET", "http://a.test/2"))
	right := request.NewSet(request.MustNew("GET", "http://a.test/2"), request.MustNew("GET", "http://a.test/3"))

	union := left.Union(right)
	assert.Equal(t, 3, union.Len())
	assert.Equal(t, 2, left.Len())
	assert.Equal(t, 2, right.Len())

	assert.Equal(t, 1, left.Merge(right))
	assert.Equal(t, 3, left.Len())
	assert.Equal(t, 0, left.Merge(nil))

	urls := request.NewSet(
		request.MustNew("GET", "http://a.test/p?a=1"),
		request.MustNew("GET", "http://a.test/p?b=1"),
	).URLs()
	assert.Equal(t, []string{"http://a.test/p"}, urls)
}

// TestSetConcurrentAdd tests concurrent inserts keep exactly one copy
func TestSetConcurrentAdd(t *testing.T) {
	set := request.NewSet()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			set.Add(request.MustNew("GET", "http://a.test/same"))
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, set.Len())
}

// TestScope tests base URL scope membership
func TestScope(t *testing.T) {
	scope, err := request.NewScope([]string{"http://a.test/app/", "https://b.test:8443/x", "http://a.test/other"})
	require.NoError(t, err)
	assert.Equal(t, []string{"http://a.test/", "https://b.test:8443/"}, scope.BaseURLs())

	in, _ := url.Parse("http://a.test/deep/page?x=1")
	out, _ := url.Parse("http://evil.test/")
	wrongPort, _ := url.Parse("https://b.test/")
	assert.True(t, scope.Contains(in))
	assert.False(t, scope.Contains(out))
	assert.False(t, scope.Contains(wrongPort))
	assert.False(t, scope.ContainsRequest(nil))

	_, err = request.NewScope([]string{"ftp://a.test/"})
	assert.Error(t, err)
	_, err = request.NewScope([]string{"http://"})
	assert.Error(t, err)
}

// TestFromHTML tests extraction of links and forms
func TestFromHTML(t *testing.T) {
	page := `<html><body>
		<a href="/page2">two</a>
		<a href="page3?id=7#frag">three</a>
		<a href="mailto:x@a.test">mail</a>
		<a href="#top">top</a>
		<iframe src="http://a.test/frame"></iframe>
		<form action="/login" method="post">
			<input type="text" name="user" value="">
			<input type="password" name="pass">
			<input type="submit" name="go" value="Go">
		</form>
		<form action="/search">
			<input name="q" value="x">
		</form>
	</body></html>`

	base, _ := url.Parse("http://a.test/dir/index.html")
	found, err := request.FromHTML(base, []byte(page))
	require.NoError(t, err)

	byURL := make(map[string]*request.FuzzableRequest)
	for _, fr := range found {
		byURL[fr.Method+" "+fr.URLString()] = fr
	}

	assert.Equal(t, "http://a.test/dir/index.html", found[0].URLString())
	assert.Contains(t, byURL, "GET http://a.test/page2")
	assert.Contains(t, byURL, "GET http://a.test/dir/page3")
	assert.Contains(t, byURL, "GET http://a.test/frame")
	assert.Equal(t, "7", byURL["GET http://a.test/dir/page3"].Params.Get("id"))
	assert.Empty(t, byURL["GET http://a.test/dir/page3"].URL.Fragment)

	login := byURL["POST http://a.test/login"]
	require.NotNil(t, login)
	assert.Contains(t, login.Params, "user")
	assert.Contains(t, login.Params, "pass")
	assert.NotContains(t, login.Params, "go")

	search := byURL[http.MethodGet+" http://a.test/search"]
	require.NotNil(t, search)
	assert.Equal(t, "x", search.Params.Get("q"))
	assert.Len(t, found, 6)
}
