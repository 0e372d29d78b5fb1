package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Routes reachable without a bearer token.
var publicPaths = map[string]bool{
	"/health":              true,
	"/health/db":           true,
	"/auth/login":          true,
	"/auth/register-admin": true,
}

// AuthSkipper lets public routes and CORS preflight requests through without
// a token. It matches the registered route, not the raw URL.
func AuthSkipper(c echo.Context) bool {
	if c.Request().Method == http.MethodOptions {
		return true
	}
	return publicPaths[c.Path()]
}

func IsPublicPath(path string) bool {
	return publicPaths[path]
}
