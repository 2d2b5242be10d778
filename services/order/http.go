package order

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cargoflow/cargoflow/core"
)

// API HTTP интерфейс сервиса заказов
type API struct {
	service *Service
}

// NewAPI создает HTTP интерфейс сервиса заказов
func NewAPI(service *Service) *API {
	return &API{service: service}
}

// RegisterRoutes регистрирует маршруты заказов
func (a *API) RegisterRoutes(rg *gin.RouterGroup) {
	orders := rg.Group("/orders")
	{
		orders.POST("", a.createOrder)
		orders.GET("", a.listOrders)
		orders.GET("/statistics", a.getStatistics)
		orders.GET("/:id", a.getOrder)
		orders.GET("/number/:number", a.getOrderByNumber)
		orders.PATCH("/:id/status", a.updateStatus)
		orders.DELETE("/:id", a.cancelOrder)
	}
}

func (a *API) createOrder(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	o, err := a.service.Create(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, o)
}

func (a *API) listOrders(c *gin.Context) {
	var query struct {
		Page     int    `form:"page,default=1"`
		PageSize int    `form:"page_size,default=10"`
		Status   string `form:"status"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	orders, total, err := a.service.List(c.Request.Context(), Status(query.Status), query.Page, query.PageSize)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"orders":    orders,
		"total":     total,
		"page":      query.Page,
		"page_size": query.PageSize,
	})
}

func (a *API) getOrder(c *gin.Context) {
	o, err := a.service.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (a *API) getOrderByNumber(c *gin.Context) {
	o, err := a.service.GetByNumber(c.Request.Context(), c.Param("number"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (a *API) updateStatus(c *gin.Context) {
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	o, err := a.service.UpdateStatus(c.Request.Context(), c.Param("id"), Status(req.Status))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (a *API) cancelOrder(c *gin.Context) {
	o, err := a.service.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (a *API) getStatistics(c *gin.Context) {
	stats, err := a.service.GetStatistics(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
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
