package inventory

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cargoflow/cargoflow/core"
	"github.com/cargoflow/cargoflow/events"
)

// API HTTP интерфейс складского сервиса
type API struct {
	service *Service
}

// NewAPI создает HTTP интерфейс складского сервиса
func NewAPI(service *Service) *API {
	return &API{service: service}
}

// RegisterRoutes регистрирует маршруты складского сервиса
func (a *API) RegisterRoutes(rg *gin.RouterGroup) {
	inv := rg.Group("/inventory")
	{
		inv.POST("/warehouses", a.createWarehouse)
		inv.GET("/warehouses", a.listWarehouses)
		inv.POST("/items", a.createItem)
		inv.GET("/items", a.listItems)
		inv.GET("/items/:sku", a.getBySKU)
		inv.POST("/check", a.checkAvailability)
		inv.POST("/adjust", a.adjust)
		inv.GET("/low-stock", a.lowStock)
	}
}

func (a *API) createWarehouse(c *gin.Context) {
	var req CreateWarehouseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	w, err := a.service.CreateWarehouse(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, w)
}

func (a *API) listWarehouses(c *gin.Context) {
	warehouses, err := a.service.ListWarehouses(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"warehouses": warehouses})
}

func (a *API) createItem(c *gin.Context) {
	var req CreateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	item, err := a.service.CreateItem(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

func (a *API) listItems(c *gin.Context) {
	items, err := a.service.ListItems(c.Request.Context(), c.Query("warehouse_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (a *API) getBySKU(c *gin.Context) {
	items, err := a.service.GetBySKU(c.Request.Context(), c.Param("sku"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (a *API) checkAvailability(c *gin.Context) {
	var req struct {
		Items []events.OrderItemPayload `json:"items" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	available, details, err := a.service.CheckAvailability(c.Request.Context(), req.Items)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"available": available,
		"details":   details,
	})
}

func (a *API) adjust(c *gin.Context) {
	var req AdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	item, err := a.service.Adjust(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (a *API) lowStock(c *gin.Context) {
	items, err := a.service.LowStockItems(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
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
