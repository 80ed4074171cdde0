package routes

import (
	gzip "github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// NewRouter builds the gin engine with the standard middleware chain and
// mounts the API on it.
func NewRouter(ar *APIRoutes, trustedProxies []string, allowedOrigin string, log zerolog.Logger) (*gin.Engine, error) {
	router := gin.New()

	if err := router.SetTrustedProxies(trustedProxies); err != nil {
		return nil, err
	}

	router.Use(gin.Recovery())
	router.Use(RequestID())
	router.Use(RequestLogger(log))
	// websocket upgrades must not be wrapped by the gzip writer
	router.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/ws", "/qrcode"})))
	router.Use(SecurityHeaders(allowedOrigin))

	ar.SetupRoutes(router)
	return router, nil
}
