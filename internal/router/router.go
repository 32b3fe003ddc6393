// Package router defines how HTTP routes are registered for the API.
package router

import (
	"github.com/labstack/echo/v4"

	"library-lending/internal/handler"
	"library-lending/internal/middleware"
	"library-lending/internal/model"
)

// RegisterRoutes registers routes that do not require authentication.
// Currently it exposes only a health check, used by load balancers and
// monitoring to verify the service is up.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterAuth registers the authentication routes. Unauthenticated
// operations (register, login, refresh, logout) live under /v1/auth;
// /v1/me requires a valid access token.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string) {
	g := e.Group("/v1/auth")
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	// Refresh rotates the refresh token: the presented one is revoked and
	// a new pair is issued.
	g.POST("/refresh", a.Refresh)
	// Logout takes the refresh token in the body, so it does not require
	// a JWT; an expired access token must not block sign-out.
	g.POST("/logout", a.Logout)

	auth := e.Group("/v1")
	auth.Use(middleware.JWTAuth(jwtSecret))
	auth.GET("/me", a.Me)
}

// RegisterCatalog registers the book catalog routes. Browsing is public
// and runs behind the response cache; create, update and delete are
// restricted to admins. cache may be a pass-through when caching is
// disabled.
func RegisterCatalog(e *echo.Echo, b *handler.BookHandler, jwtSecret string, cache echo.MiddlewareFunc) {
	e.GET("/v1/books", b.List, cache)
	e.GET("/v1/books/:id", b.Get, cache)

	admin := e.Group("/v1/books")
	admin.Use(middleware.JWTAuth(jwtSecret))
	admin.Use(middleware.RequireRole(model.RoleAdmin))
	admin.POST("", b.Create)
	admin.PUT("/:id", b.Update)
	admin.DELETE("/:id", b.Delete)
}

// RegisterLending registers the borrowing routes. Every endpoint requires
// an authenticated user; admins can borrow too.
func RegisterLending(e *echo.Echo, l *handler.LoanHandler, jwtSecret string) {
	g := e.Group("/v1/loans")
	g.Use(middleware.JWTAuth(jwtSecret))
	g.Use(middleware.RequireRole(model.RoleUser, model.RoleAdmin))
	g.GET("", l.List)
	g.POST("", l.Borrow)
	g.PUT("/:id/return", l.Return)
}

// RegisterFeed registers the WebSocket event feed. The feed only carries
// inventory deltas that are visible in the public catalog anyway, so it
// is unauthenticated.
func RegisterFeed(e *echo.Echo, f *handler.FeedHandler) {
	e.GET("/v1/events/ws", f.Serve)
}
