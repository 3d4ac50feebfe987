/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: headless_spider_test.go
Description: Tests for the headless spider helpers that do not need a browser.
*/

package plugins

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/kleascm/akaylee-scanner/pkg/request"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRequestsFromURLs tests only absolute http(s) URLs become requests
func TestRequestsFromURLs(t *testing.T) {
	found := requestsFromURLs([]string{
		"http://a.test/app.js",
		" https://a.test/api/items?page=2 ",
		"data:image/png;base64,AAAA",
		"blob:http://a.test/1234",
		"/relative",
		"::bad",
	})
	require.Len(t, found, 2)
	assert.Equal(t, "http://a.test/app.js", found[0].URLString())
	assert.Equal(t, http.MethodGet, found[1].Method)
	assert.Equal(t, "2", found[1].Params.Get("page"))
}

// TestHeadlessSpiderLifecycle tests End without a browser and non GET requests
func TestHeadlessSpiderLifecycle(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	spider := NewHeadlessSpider(0, logger)
	assert.Equal(t, "headless_spider", spider.Name())

	post := request.MustNew(http.MethodPost, "http://a.test/form")
	found, err := spider.Discover(context.Background(), post)
	assert.NoError(t, err)
	assert.Empty(t, found)

	assert.NoError(t, spider.End())
	assert.NoError(t, spider.End())
}
