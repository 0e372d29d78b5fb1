package middleware

import (
	"github.com/labstack/echo/v4"
)

// SecurityHeadersConfig toggles headers that only make sense behind TLS.
type SecurityHeadersConfig struct {
	HSTS bool
}

// SecurityHeaders hardens JSON and spreadsheet responses. Every response is
// marked no-store: they carry patient identifiers.
func SecurityHeaders(cfg SecurityHeadersConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set(echo.HeaderXContentTypeOptions, "nosniff")
			h.Set(echo.HeaderXFrameOptions, "DENY")
			h.Set(echo.HeaderContentSecurityPolicy, "default-src 'none'; frame-ancestors 'none'")
			h.Set(echo.HeaderReferrerPolicy, "no-referrer")
			h.Set("Cache-Control", "no-store")
			if cfg.HSTS {
				h.Set(echo.HeaderStrictTransportSecurity, "max-age=31536000; includeSubDomains")
			}
			return next(c)
		}
	}
}
