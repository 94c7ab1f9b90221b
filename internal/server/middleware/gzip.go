package middleware

import (
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
)

// Streaming routes carry raw file bytes or a websocket, compressing them
// wastes cycles or breaks the upgrade outright.
var excludedPaths = []string{
	"/api/upload",
	"/api/sync/upload",
	"/api/events",
}

func Gzip() gin.HandlerFunc {
	return gzip.Gzip(
		gzip.BestSpeed,
		gzip.WithExcludedPaths(excludedPaths),
	)
}
