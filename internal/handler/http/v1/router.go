package v1

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes регистрирует все маршруты API v1
func (h *Handler) RegisterRoutes(api *gin.RouterGroup) {
	// Маршруты жизненного цикла инцидентов
	incidents := api.Group("/incidents")
	incidents.Use(APIKeyAuthMiddleware(h.cfg, h.logger))
	{
		incidents.POST("", h.createIncident)
		incidents.GET("", h.listIncidents)
		incidents.GET("/stats", h.getStats)
		incidents.GET("/:id", h.getIncident)
		incidents.POST("/:id/advance", h.advanceIncident)
		incidents.POST("/:id/cancel", h.cancelIncident)
		incidents.POST("/:id/resolve", h.resolveIncident)
		incidents.GET("/:id/assignments", h.listAssignments)
	}

	// Маршруты управления бригадами
	responders := api.Group("/responders")
	responders.Use(APIKeyAuthMiddleware(h.cfg, h.logger))
	{
		responders.PATCH("/:id/status", h.updateResponderStatus)
		responders.PATCH("/:id/location", h.updateResponderLocation)
	}

	// Маршрут Health-check
	api.GET("/system/health", h.healthCheck)
}
