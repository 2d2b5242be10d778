package tracking

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cargoflow/cargoflow/core"
)

// API HTTP интерфейс сервиса отслеживания
type API struct {
	service *Service
}

// NewAPI создает HTTP интерфейс сервиса отслеживания
func NewAPI(service *Service) *API {
	return &API{service: service}
}

// RegisterRoutes регистрирует маршруты отслеживания
func (a *API) RegisterRoutes(rg *gin.RouterGroup) {
	shipments := rg.Group("/shipments")
	{
		shipments.GET("", a.listShipments)
		shipments.GET("/statistics", a.getStatistics)
		shipments.GET("/order/:number", a.getByOrderNumber)
		shipments.GET("/:tracking_number", a.getShipment)
		shipments.PATCH("/:tracking_number/status", a.updateStatus)
		shipments.POST("/:tracking_number/events", a.addEvent)
		shipments.GET("/:tracking_number/events", a.listEvents)
	}
}

func (a *API) listShipments(c *gin.Context) {
	var query struct {
		Page     int    `form:"page,default=1"`
		PageSize int    `form:"page_size,default=10"`
		Status   string `form:"status"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	shipments, total, err := a.service.List(c.Request.Context(), ShipmentStatus(query.Status), query.Page, query.PageSize)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"shipments": shipments,
		"total":     total,
		"page":      query.Page,
		"page_size": query.PageSize,
	})
}

func (a *API) getShipment(c *gin.Context) {
	sh, err := a.service.GetByTrackingNumber(c.Request.Context(), c.Param("tracking_number"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sh)
}

func (a *API) getByOrderNumber(c *gin.Context) {
	sh, err := a.service.GetByOrderNumber(c.Request.Context(), c.Param("number"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sh)
}

func (a *API) updateStatus(c *gin.Context) {
	var req struct {
		Status   string `json:"status" binding:"required"`
		Location string `json:"location"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sh, err := a.service.UpdateStatus(c.Request.Context(), c.Param("tracking_number"), ShipmentStatus(req.Status), req.Location)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sh)
}

func (a *API) addEvent(c *gin.Context) {
	var req AddEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	event, err := a.service.AddEvent(c.Request.Context(), c.Param("tracking_number"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, event)
}

func (a *API) getStatistics(c *gin.Context) {
	stats, err := a.service.GetStatistics(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (a *API) listEvents(c *gin.Context) {
	evs, err := a.service.GetEvents(c.Request.Context(), c.Param("tracking_number"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": evs, "total": len(evs)})
}

// respondError переводит коды ошибок платформы в HTTP статусы
func respondError(c *gin.Context, err error) {
	switch {
	case core.HasCode(err, core.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case core.HasCode(err, core.ErrAlreadyExists):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case core.HasCode(err, core.ErrInvalidTransition), core.HasCode(err, core.ErrInvalidConfig):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
