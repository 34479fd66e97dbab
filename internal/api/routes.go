package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// registerRoutes sets up every API route on the gin router.
func registerRoutes(router *gin.Engine, s *server) {
	router.GET("/healthz", s.handleHealth)
	router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	api := router.Group("/api")

	api.GET("/tracks", s.handleTrackList)
	api.GET("/tracks/:id/occupants", s.handleOccupants)
	api.GET("/tracks/:id/occupancy", s.handleOccupancy)
	api.GET("/tracks/:id/capacity", s.handleCapacity)

	api.GET("/wagons", s.handleWagonList)
	api.GET("/wagons/:id/history", s.handleWagonHistory)

	api.GET("/restrictions", s.handleRestrictionList)
	api.GET("/restrictions/active", s.handleRestrictionsActive)
	api.POST("/restrictions", s.handleRestrictionCreate)
	api.DELETE("/restrictions/:id", s.handleRestrictionDelete)

	api.GET("/movements", s.handleMovementList)
	api.POST("/movements/validate", s.handleMovementValidate)
	api.POST("/movements", s.handleMovementCreate)
	api.DELETE("/movements/:id", s.handleMovementDelete)

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such route"})
	})
}

func (s *server) handleHealth(c *gin.Context) {
	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
