package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RouterConfig struct {
	RateLimitRPS   float64
	RateLimitBurst int
}

func NewRouter(srv *BookingsServer, log *slog.Logger, cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(log), MetricsMiddleware())
	if cfg.RateLimitRPS > 0 {
		router.Use(RateLimitMiddleware(cfg.RateLimitRPS, cfg.RateLimitBurst))
	}

	router.POST("/users", srv.IdentifyUser)

	user := router.Group("/users/:userID")
	{
		user.POST("/bookings", srv.CreateBooking)
		user.GET("/bookings", srv.ListBookings)
		user.POST("/bookings/:bookingID/reschedule", srv.RescheduleBooking)
		user.POST("/bookings/:bookingID/confirm", srv.ConfirmBooking)
		user.POST("/bookings/:bookingID/cancel", srv.CancelBooking)
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}
