package middleware

import (
	"fmt"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

// BodyLimit caps inbound request bodies at maxBytes. A non-positive
// maxBytes disables the cap so bodies of any size stream upstream.
func BodyLimit(maxBytes int64) echo.MiddlewareFunc {
	if maxBytes <= 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return echomw.BodyLimit(fmt.Sprintf("%dB", maxBytes))
}
