package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"bitbucket.org/fixpoint/repairs_backend/config"
	"bitbucket.org/fixpoint/repairs_backend/middlewares"
	"bitbucket.org/fixpoint/repairs_backend/models"
	"bitbucket.org/fixpoint/repairs_backend/utils"
	"bitbucket.org/fixpoint/repairs_backend/workflow"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

const defaultPort = "8080"

var tracer = otel.Tracer("repairs-backend")

// ready flips once DB and redis are connected; /healthz reports 503 until then.
var ready atomic.Bool

func main() {
	logger := config.GetLogger()

	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(corsConfig()))
	router.Use(middlewares.RequestContextMiddleware())

	router.GET("/healthz", healthHandler)
	router.GET("/tickets/:id", getTicketHandler)
	router.GET("/tickets/:id/parts", resolvePartsHandler)
	router.GET("/tickets/:id/validate", validateHandler)
	router.POST("/tickets/:id/consume", consumeHandler)
	router.GET("/products", listProductsHandler)
	router.GET("/products/:id", getProductHandler)
	router.GET("/products/:id/movements", productMovementsHandler)
	router.POST("/products/:id/movements", manualMovementHandler)

	server := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	// Listen first; connect dependencies after, so the container reports
	// unready instead of failing to start while the DB is slow.
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithField("error", err.Error()).Fatal("http server stopped")
		}
	}()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()
	if err := models.EnsureLedgerSchema(); err != nil {
		logger.WithField("error", err.Error()).Fatal("ledger schema enforcement failed")
	}
	ready.Store(true)
	logger.WithFields(logrus.Fields{"port": port}).Info("repairs backend ready")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithField("error", err.Error()).Error("server shutdown")
	}
}

func corsConfig() cors.Config {
	corsCfg := cors.DefaultConfig()
	corsCfg.AllowAllOrigins = true
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders,
		"X-Correlation-Id", "X-Acting-User-Id", "X-Acting-User-Name")
	return corsCfg
}

func healthHandler(c *gin.Context) {
	if !ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func ticketIdParam(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func resolvePartsHandler(c *gin.Context) {
	ticketId, ok := ticketIdParam(c)
	if !ok {
		return
	}
	ctx, span := tracer.Start(c.Request.Context(), "ResolveTicketParts")
	defer span.End()

	resolution, err := workflow.ResolveTicketParts(ctx, ticketId)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, resolution)
}

func validateHandler(c *gin.Context) {
	ticketId, ok := ticketIdParam(c)
	if !ok {
		return
	}
	ctx, span := tracer.Start(c.Request.Context(), "ValidateTicket")
	defer span.End()

	report, err := workflow.ValidateTicket(ctx, ticketId)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func consumeHandler(c *gin.Context) {
	ticketId, ok := ticketIdParam(c)
	if !ok {
		return
	}
	ctx, span := tracer.Start(c.Request.Context(), "ConsumeTicket")
	defer span.End()

	actingUserId, _ := utils.GetUserIdFromContext(ctx)
	result, err := workflow.ConsumeTicket(ctx, ticketId, actingUserId)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func getTicketHandler(c *gin.Context) {
	ticketId, ok := ticketIdParam(c)
	if !ok {
		return
	}
	ticket, err := models.GetTicket(c.Request.Context(), ticketId)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, ticket)
}

func listProductsHandler(c *gin.Context) {
	products, err := utils.FetchAllModels[models.Product](c.Request.Context())
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, products)
}

func getProductHandler(c *gin.Context) {
	productId, ok := ticketIdParam(c)
	if !ok {
		return
	}
	product, err := models.GetProduct(c.Request.Context(), productId)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func productMovementsHandler(c *gin.Context) {
	productId, ok := ticketIdParam(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	movements, err := models.MovementsForProduct(c.Request.Context(), productId, limit)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, movements)
}

func manualMovementHandler(c *gin.Context) {
	productId, ok := ticketIdParam(c)
	if !ok {
		return
	}
	var input models.NewManualMovement
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	movement, err := models.PostManualMovement(c.Request.Context(), productId, &input)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusCreated, movement)
}

func writeEngineError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, utils.ErrorRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, models.ErrInsufficientStock):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, workflow.ErrTicketLockHeld):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "retryable": true})
	case errors.Is(err, models.ErrDBNotInitialized):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service not ready"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
