package main

import (
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"shop-service/config"
	"shop-service/consumers"
	"shop-service/controllers"
	"shop-service/database"
	"shop-service/middlewares"
	"shop-service/rabbitmq"
	"shop-service/services"
)

func main() {
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg := config.LoadConfig()
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := database.InitDB(cfg); err != nil {
		log.Fatal().Err(err).Msg("database initialization failed")
	}
	defer database.CloseDB()

	if err := database.InitSchema(); err != nil {
		log.Fatal().Err(err).Msg("schema initialization failed")
	}

	rmq, err := rabbitmq.NewRabbitMQ(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("rabbitmq initialization failed")
	}
	defer rmq.Close()

	if err := rmq.SetupQueues(); err != nil {
		log.Fatal().Err(err).Msg("rabbitmq queue setup failed")
	}

	orderService := services.NewOrderService(database.DB)
	productService := services.NewProductService(database.DB)

	if err := consumers.StartOrderConsumer(rmq.Channel, cfg, orderService); err != nil {
		log.Fatal().Err(err).Msg("order consumer failed to start")
	}

	orderController := controllers.NewOrderController(orderService, rmq)
	productController := controllers.NewProductController(productService)

	r := gin.New()
	r.Use(middlewares.TraceID())
	r.Use(middlewares.RequestLogger())
	r.Use(middlewares.ErrorHandler(cfg))
	r.Use(middlewares.PrometheusMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	api.Use(middlewares.AuthMiddleware(cfg.JWTSecret))
	{
		api.POST("/products", productController.CreateProduct)
		api.GET("/products", productController.ListProducts)
		api.GET("/products/:id", productController.GetProduct)
		api.PUT("/products/:id", productController.UpdateProduct)

		api.POST("/orders", orderController.PlaceOrder)
		api.GET("/orders", orderController.ListOrders)
		api.GET("/orders/:id", orderController.GetOrder)
		api.DELETE("/orders/:id", orderController.CancelOrder)

		admin := api.Group("")
		admin.Use(middlewares.RequirePrivileged("Admin Panel"))
		{
			admin.PUT("/products/:id/approval", productController.SetApproval)
			admin.DELETE("/products/:id", productController.DeleteProduct)
			admin.PUT("/orders/:id/status", orderController.UpdateOrderStatus)
		}
	}

	log.Info().Str("port", cfg.HTTPPort).Msg("shop service starting")
	if err := r.Run(":" + cfg.HTTPPort); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}
