package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"shop-service/apperrors"
	"shop-service/middlewares"
	"shop-service/models"
	"shop-service/services"
)

type ProductController struct {
	products *services.ProductService
}

func NewProductController(products *services.ProductService) *ProductController {
	return &ProductController{products: products}
}

func (ctl *ProductController) CreateProduct(c *gin.Context) {
	defer func() {
		middlewares.RecordProductOperation("create", c.Writer.Status() < 300 && len(c.Errors) == 0)
	}()

	identity, ok := middlewares.CurrentIdentity(c)
	if !ok {
		_ = c.Error(apperrors.NewUnauthorized("User not authenticated"))
		return
	}

	var req models.CreateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.FromBinding(err))
		return
	}

	product, err := ctl.products.CreateProduct(c.Request.Context(), identity.UserID, req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, product)
}

func (ctl *ProductController) ListProducts(c *gin.Context) {
	defer func() {
		middlewares.RecordProductOperation("list", c.Writer.Status() < 300 && len(c.Errors) == 0)
	}()

	identity, ok := middlewares.CurrentIdentity(c)
	if !ok {
		_ = c.Error(apperrors.NewUnauthorized("User not authenticated"))
		return
	}

	products, err := ctl.products.ListProducts(c.Request.Context(), identity, c.Query("status"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, products)
}

func (ctl *ProductController) GetProduct(c *gin.Context) {
	defer func() {
		middlewares.RecordProductOperation("details", c.Writer.Status() < 300 && len(c.Errors) == 0)
	}()

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		_ = c.Error(apperrors.NewBadRequest("Invalid product id", "id", "positive integer"))
		return
	}

	product, err := ctl.products.GetProduct(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (ctl *ProductController) UpdateProduct(c *gin.Context) {
	defer func() {
		middlewares.RecordProductOperation("update", c.Writer.Status() < 300 && len(c.Errors) == 0)
	}()

	identity, ok := middlewares.CurrentIdentity(c)
	if !ok {
		_ = c.Error(apperrors.NewUnauthorized("User not authenticated"))
		return
	}

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		_ = c.Error(apperrors.NewBadRequest("Invalid product id", "id", "positive integer"))
		return
	}

	var req models.UpdateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.FromBinding(err))
		return
	}

	product, err := ctl.products.UpdateProduct(c.Request.Context(), id, identity, req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (ctl *ProductController) SetApproval(c *gin.Context) {
	defer func() {
		middlewares.RecordProductOperation("approval", c.Writer.Status() < 300 && len(c.Errors) == 0)
	}()

	identity, ok := middlewares.CurrentIdentity(c)
	if !ok {
		_ = c.Error(apperrors.NewUnauthorized("User not authenticated"))
		return
	}

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		_ = c.Error(apperrors.NewBadRequest("Invalid product id", "id", "positive integer"))
		return
	}

	var req models.ApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.FromBinding(err))
		return
	}

	product, err := ctl.products.SetApproval(c.Request.Context(), id, identity.UserID, *req.Approve)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (ctl *ProductController) DeleteProduct(c *gin.Context) {
	defer func() {
		middlewares.RecordProductOperation("delete", c.Writer.Status() < 300 && len(c.Errors) == 0)
	}()

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		_ = c.Error(apperrors.NewBadRequest("Invalid product id", "id", "positive integer"))
		return
	}

	if err := ctl.products.DeleteProduct(c.Request.Context(), id); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Product deleted", "product_id": id})
}
