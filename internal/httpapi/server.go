package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nikolayk812/gomarketplace-cart/internal/cart"
	"github.com/nikolayk812/gomarketplace-cart/internal/domain"
)

const requestIDHeader = "X-Request-ID"

type addItemRequest struct {
	ID       string          `json:"id" binding:"required"`
	Title    string          `json:"title"`
	ImageURL string          `json:"image_url"`
	Price    decimal.Decimal `json:"price"`
}

type cartItemResponse struct {
	ID       string      `json:"id"`
	Title    string      `json:"title"`
	ImageURL string      `json:"image_url"`
	Price    json.Number `json:"price"`
	Quantity int         `json:"quantity"`
}

type cartResponse struct {
	Items    []cartItemResponse `json:"items"`
	Total    json.Number        `json:"total"`
	Currency string             `json:"currency"`
	Count    int                `json:"count"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewRouter exposes store over HTTP. Handlers find the store in the request context.
func NewRouter(store *cart.Store, logger *slog.Logger) *gin.Engine {
	if logger == nil {
		logger = slog.Default()
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestID(), requestLogger(logger), provideStore(store))

	r.GET("/cart", getCart)
	r.POST("/cart/items", addItem)
	r.POST("/cart/items/:id/increment", increment)
	r.POST("/cart/items/:id/decrement", decrement)

	return r
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}

		c.Set(requestIDHeader, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info("http request",
			"request_id", c.GetString(requestIDHeader),
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		)
	}
}

func provideStore(store *cart.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		if store != nil {
			c.Request = c.Request.WithContext(cart.NewContext(c.Request.Context(), store))
		}
		c.Next()
	}
}

func getCart(c *gin.Context) {
	store, ok := storeFrom(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, toCartResponse(store))
}

func addItem(c *gin.Context) {
	store, ok := storeFrom(c)
	if !ok {
		return
	}

	var req addItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	err := store.AddToCart(domain.Product{
		ID:       req.ID,
		Title:    req.Title,
		ImageURL: req.ImageURL,
		Price:    req.Price,
	})
	if !handleError(c, err) {
		return
	}

	c.JSON(http.StatusCreated, toCartResponse(store))
}

func increment(c *gin.Context) {
	store, ok := storeFrom(c)
	if !ok {
		return
	}

	if !handleError(c, store.Increment(c.Param("id"))) {
		return
	}

	c.JSON(http.StatusOK, toCartResponse(store))
}

func decrement(c *gin.Context) {
	store, ok := storeFrom(c)
	if !ok {
		return
	}

	if !handleError(c, store.Decrement(c.Param("id"))) {
		return
	}

	c.JSON(http.StatusOK, toCartResponse(store))
}

func storeFrom(c *gin.Context) (*cart.Store, bool) {
	store, err := cart.FromContext(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return nil, false
	}
	return store, true
}

// handleError writes the error response and reports whether the handler may continue.
func handleError(c *gin.Context, err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, cart.ErrStoreClosed):
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
	return false
}

func toCartResponse(store *cart.Store) cartResponse {
	snapshot := store.Cart()
	total := snapshot.Total(store.Currency())

	items := make([]cartItemResponse, 0, len(snapshot.Items))
	for _, item := range snapshot.Items {
		items = append(items, cartItemResponse{
			ID:       item.ID,
			Title:    item.Title,
			ImageURL: item.ImageURL,
			Price:    json.Number(item.Price.String()),
			Quantity: item.Quantity,
		})
	}

	return cartResponse{
		Items:    items,
		Total:    json.Number(total.Amount.String()),
		Currency: total.Currency.String(),
		Count:    snapshot.ItemCount(),
	}
}
