package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

func TestRateLimitCaps(t *testing.T) {
	r := testRouter()
	r.GET("/limited", RateLimit("3-S"), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	codes := make([]int, 0, 5)
	for i := 0; i < 5; i++ {
		res, err := http.Get(srv.URL + "/limited")
		require.NoError(t, err)
		res.Body.Close()
		codes = append(codes, res.StatusCode)
	}
	assert.Equal(t, []int{
		http.StatusOK,
		http.StatusOK,
		http.StatusOK,
		http.StatusTooManyRequests,
		http.StatusTooManyRequests,
	}, codes)
}

func TestRateLimitBadRatePanics(t *testing.T) {
	assert.Panics(t, func() { RateLimit("not-a-rate") })
}

func TestCORSHeaders(t *testing.T) {
	r := testRouter()
	r.Use(CORS())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })
	srv := httptest.NewServer(r)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/x", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://reach.local")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "X-Sync-Path")

	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	assert.Equal(t, "*", res.Header.Get("Access-Control-Allow-Origin"))
	allowed := strings.ToLower(res.Header.Get("Access-Control-Allow-Headers"))
	assert.Contains(t, allowed, "x-sync-path")
}

func TestGzipSkipsExcludedPaths(t *testing.T) {
	body := strings.Repeat("compressible ", 1024)

	r := testRouter()
	r.Use(Gzip())
	r.GET("/api/plain", func(c *gin.Context) { c.String(http.StatusOK, body) })
	r.GET("/api/upload/some-id", func(c *gin.Context) { c.String(http.StatusOK, body) })
	srv := httptest.NewServer(r)
	defer srv.Close()

	fetch := func(path string) string {
		req, err := http.NewRequest(http.MethodGet, srv.URL+path, nil)
		require.NoError(t, err)
		// set manually so the transport does not transparently decode
		req.Header.Set("Accept-Encoding", "gzip")

		res, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer res.Body.Close()
		return res.Header.Get("Content-Encoding")
	}

	assert.Equal(t, "gzip", fetch("/api/plain"))
	assert.Empty(t, fetch("/api/upload/some-id"))
}
