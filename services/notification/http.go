package notification

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cargoflow/cargoflow/core"
)

// API HTTP интерфейс сервиса уведомлений
type API struct {
	service *Service
}

// NewAPI создает HTTP интерфейс сервиса уведомлений
func NewAPI(service *Service) *API {
	return &API{service: service}
}

// RegisterRoutes регистрирует маршруты уведомлений
func (a *API) RegisterRoutes(rg *gin.RouterGroup) {
	notifications := rg.Group("/notifications")
	{
		notifications.POST("", a.sendNotification)
		notifications.GET("", a.listNotifications)
		notifications.GET("/statistics", a.getStatistics)
		notifications.GET("/:id", a.getNotification)
	}
	rg.GET("/templates", a.listTemplates)
}

func (a *API) sendNotification(c *gin.Context) {
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	n, err := a.service.Send(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, n)
}

func (a *API) listNotifications(c *gin.Context) {
	var query struct {
		Page     int    `form:"page,default=1"`
		PageSize int    `form:"page_size,default=10"`
		Status   string `form:"status"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	notifications, total, err := a.service.List(c.Request.Context(), Status(query.Status), query.Page, query.PageSize)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"notifications": notifications,
		"total":         total,
		"page":          query.Page,
		"page_size":     query.PageSize,
	})
}

func (a *API) getNotification(c *gin.Context) {
	n, err := a.service.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, n)
}

func (a *API) getStatistics(c *gin.Context) {
	stats, err := a.service.GetStatistics(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (a *API) listTemplates(c *gin.Context) {
	templates := a.service.Templates().List()
	c.JSON(http.StatusOK, gin.H{"templates": templates, "total": len(templates)})
}

// respondError переводит коды ошибок платформы в HTTP статусы
func respondError(c *gin.Context, err error) {
	switch {
	case core.HasCode(err, core.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case core.HasCode(err, core.ErrAlreadyExists):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case core.HasCode(err, core.ErrInvalidConfig):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
