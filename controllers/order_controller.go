package controllers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"shop-service/apperrors"
	"shop-service/middlewares"
	"shop-service/models"
	"shop-service/rabbitmq"
	"shop-service/services"
)

// highValueThreshold bumps queue priority for large orders.
var highValueThreshold = decimal.NewFromInt(1000)

type OrderController struct {
	orders   *services.OrderService
	rabbitMQ *rabbitmq.RabbitMQ
}

func NewOrderController(orders *services.OrderService, rmq *rabbitmq.RabbitMQ) *OrderController {
	return &OrderController{orders: orders, rabbitMQ: rmq}
}

func (ctl *OrderController) PlaceOrder(c *gin.Context) {
	defer func() {
		middlewares.RecordOrderOperation("create", c.Writer.Status() < 300 && len(c.Errors) == 0)
	}()

	identity, ok := middlewares.CurrentIdentity(c)
	if !ok {
		_ = c.Error(apperrors.NewUnauthorized("User not authenticated"))
		return
	}

	var req models.PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.FromBinding(err))
		return
	}

	order, err := ctl.orders.PlaceOrder(c.Request.Context(), identity.UserID, req.Items)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, order)

	// Events are best effort once the transaction has committed.
	if ctl.rabbitMQ != nil {
		priority := uint8(5)
		if order.Total.GreaterThan(highValueThreshold) {
			priority = 9
		}
		event := models.OrderEvent{
			OrderID:  order.ID,
			UserID:   order.UserID,
			Type:     "created",
			Status:   order.Status,
			Total:    order.Total,
			Occurred: time.Now(),
		}
		if err := ctl.rabbitMQ.PublishOrderEvent(event, priority); err != nil {
			log.Error().Err(err).Int("order_id", order.ID).Msg("publish order created event")
		}
		event.Type = "payment_check"
		if err := ctl.rabbitMQ.PublishDelayedEvent(event, 15*time.Minute); err != nil {
			log.Error().Err(err).Int("order_id", order.ID).Msg("publish delayed payment check")
		}
	}
}

func (ctl *OrderController) ListOrders(c *gin.Context) {
	defer func() {
		middlewares.RecordOrderOperation("list", c.Writer.Status() < 300 && len(c.Errors) == 0)
	}()

	identity, ok := middlewares.CurrentIdentity(c)
	if !ok {
		_ = c.Error(apperrors.NewUnauthorized("User not authenticated"))
		return
	}

	orders, err := ctl.orders.ListOrders(c.Request.Context(), identity.UserID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

func (ctl *OrderController) GetOrder(c *gin.Context) {
	defer func() {
		middlewares.RecordOrderOperation("details", c.Writer.Status() < 300 && len(c.Errors) == 0)
	}()

	identity, ok := middlewares.CurrentIdentity(c)
	if !ok {
		_ = c.Error(apperrors.NewUnauthorized("User not authenticated"))
		return
	}

	orderID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		_ = c.Error(apperrors.NewBadRequest("Invalid order id", "id", "positive integer"))
		return
	}

	order, err := ctl.orders.GetOrder(c.Request.Context(), orderID, identity)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (ctl *OrderController) CancelOrder(c *gin.Context) {
	defer func() {
		middlewares.RecordOrderOperation("cancel", c.Writer.Status() < 300 && len(c.Errors) == 0)
	}()

	identity, ok := middlewares.CurrentIdentity(c)
	if !ok {
		_ = c.Error(apperrors.NewUnauthorized("User not authenticated"))
		return
	}

	orderID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		_ = c.Error(apperrors.NewBadRequest("Invalid order id", "id", "positive integer"))
		return
	}

	if err := ctl.orders.CancelOrder(c.Request.Context(), orderID, identity); err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Order cancelled", "order_id": orderID})

	if ctl.rabbitMQ != nil {
		event := models.OrderEvent{
			OrderID:  orderID,
			UserID:   identity.UserID,
			Type:     "cancelled",
			Status:   models.OrderCancelled,
			Occurred: time.Now(),
		}
		if err := ctl.rabbitMQ.PublishOrderEvent(event, 8); err != nil {
			log.Error().Err(err).Int("order_id", orderID).Msg("publish order cancelled event")
		}
	}
}

func (ctl *OrderController) UpdateOrderStatus(c *gin.Context) {
	defer func() {
		middlewares.RecordOrderOperation("update_status", c.Writer.Status() < 300 && len(c.Errors) == 0)
	}()

	orderID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		_ = c.Error(apperrors.NewBadRequest("Invalid order id", "id", "positive integer"))
		return
	}

	var req models.UpdateOrderStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.FromBinding(err))
		return
	}

	if err := ctl.orders.UpdateOrderStatus(c.Request.Context(), orderID, req.Status); err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Order status updated", "order_id": orderID})

	if ctl.rabbitMQ != nil {
		identity, _ := middlewares.CurrentIdentity(c)
		event := models.OrderEvent{
			OrderID:  orderID,
			UserID:   identity.UserID,
			Type:     "status_updated",
			Status:   req.Status,
			Occurred: time.Now(),
		}
		if err := ctl.rabbitMQ.PublishOrderEvent(event, 5); err != nil {
			log.Error().Err(err).Int("order_id", orderID).Msg("publish status updated event")
		}
	}
}
