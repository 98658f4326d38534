package api

import (
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter builds the gin engine with all routes registered.
// gatherer may be nil to disable the metrics endpoint.
func SetupRouter(h *Handler, logLevel string, gatherer prometheus.Gatherer) *gin.Engine {
	if logLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	router.POST("/api/auth/login", h.Login)

	authed := router.Group("/api")
	authed.Use(Auth(h.jwt))
	{
		authed.GET("/servers", h.ListServers)
		authed.POST("/servers", h.CreateServer)
		authed.GET("/servers/:name", h.GetServer)
		authed.DELETE("/servers/:name", h.DeleteServer)

		authed.POST("/servers/:name/start", h.StartServer)
		authed.POST("/servers/:name/stop", h.StopServer)
		authed.POST("/servers/:name/restart", h.RestartServer)
		authed.POST("/servers/:name/command", h.SendCommand)
		authed.POST("/servers/:name/update", h.UpdateServer)

		authed.POST("/servers/:name/backup", h.BackupAll)
		authed.POST("/servers/:name/restore", h.RestoreAll)
		authed.POST("/servers/:name/prune", h.PruneBackups)
		authed.GET("/servers/:name/backups", h.ListBackups)

		authed.POST("/servers/:name/scan-players", h.ScanPlayers)
		authed.GET("/players", h.ListPlayers)

		authed.GET("/servers/:name/properties", h.GetProperty)
		authed.PUT("/servers/:name/properties", h.SetProperty)

		authed.GET("/servers/:name/activity", h.Activity)
		authed.GET("/servers/:name/console", h.Console)
	}

	return router
}

// parseDuration parses a duration string, falling back to 15 minutes.
func parseDuration(duration string) time.Duration {
	d, err := time.ParseDuration(duration)
	if err != nil {
		log.Printf("Invalid duration %q, using 15m", duration)
		return 15 * time.Minute
	}
	return d
}
