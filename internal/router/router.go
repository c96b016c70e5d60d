package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/raffle-reservation/internal/config"
	"github.com/iliyamo/raffle-reservation/internal/handler"
	"github.com/iliyamo/raffle-reservation/internal/middleware"
	"github.com/iliyamo/raffle-reservation/internal/model"
)

// Deps carries everything route registration needs.  Redis may be nil, in
// which case response caching and rate limiting are disabled.
type Deps struct {
	Health    *handler.HealthHandler
	Raffles   *handler.RaffleHandler
	Carts     *handler.CartHandler
	Admin     *handler.AdminHandler
	JWTSecret string
	Redis     *redis.Client
	Cache     config.CacheConfig
	RateLimit config.RateLimitConfig
	Log       *logrus.Logger
}

// Register wires every route onto e.
//
//	GET    /healthz                         public
//	GET    /v1/raffles                      public, response cache
//	GET    /v1/raffles/:id                  public, response cache
//	GET    /v1/raffles/:id/tickets          public
//	GET    /v1/raffles/:id/tickets/random   COLLABORATOR
//	POST   /v1/raffles                      ADMIN
//	GET    /v1/cart                         COLLABORATOR
//	POST   /v1/cart/tickets                 COLLABORATOR, cart bucket
//	DELETE /v1/cart/tickets                 COLLABORATOR, cart bucket
//	POST   /v1/carts/:id/checkout           COLLABORATOR, checkout bucket
//	GET    /v1/carts                        ADMIN
//	GET    /v1/carts/:id                    ADMIN
//	GET    /v1/orders/:id                   ADMIN
//	POST   /v1/admin/sweep                  ADMIN
func Register(e *echo.Echo, d Deps) {
	e.GET("/healthz", d.Health.Health)

	auth := middleware.JWTAuth(d.JWTSecret)
	seller := middleware.RequireRole(model.RoleCollaborator)
	admin := middleware.RequireRole(model.RoleAdmin)
	cached := middleware.NewRedisCache(d.Cache, d.Redis, d.Log)
	cartLimit := middleware.NewTokenBucket(d.RateLimit, d.RateLimit.Cart, d.Redis, d.Log)
	checkoutLimit := middleware.NewTokenBucket(d.RateLimit, d.RateLimit.Checkout, d.Redis, d.Log)

	// Public raffle reads.  Ticket search is not cached: availability
	// changes with every reservation.
	pub := e.Group("/v1/raffles")
	pub.GET("", d.Raffles.List, cached)
	pub.GET("/:id", d.Raffles.Get, cached)
	pub.GET("/:id/tickets", d.Raffles.Tickets)
	pub.GET("/:id/tickets/random", d.Raffles.Random, auth, seller)
	pub.POST("", d.Raffles.Create, auth, admin)

	cart := e.Group("/v1", auth, seller)
	cart.GET("/cart", d.Carts.Get)
	cart.POST("/cart/tickets", d.Carts.Reserve, cartLimit)
	cart.DELETE("/cart/tickets", d.Carts.Release, cartLimit)
	cart.POST("/carts/:id/checkout", d.Carts.Checkout, checkoutLimit)

	ops := e.Group("/v1", auth, admin)
	ops.GET("/carts", d.Admin.ListCarts)
	ops.GET("/carts/:id", d.Admin.GetCart)
	ops.GET("/orders/:id", d.Admin.GetOrder)
	ops.POST("/admin/sweep", d.Admin.Sweep)
}
