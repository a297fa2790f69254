package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/rl1809/flashsale-orders/internal/core/domain"
)

// Admitter decides purchase attempts; implemented by service.AdmissionGate.
type Admitter interface {
	Admit(ctx context.Context, userID, username, productID string) (string, error)
}

type HTTPHandler struct {
	gate Admitter
}

type CreateOrderHTTPRequest struct {
	ProductID string `json:"productId"`
}

type CreateOrderHTTPResponse struct {
	Message string        `json:"message"`
	Reason  domain.Reason `json:"reason,omitempty"`
	JobID   string        `json:"jobId,omitempty"`
}

func NewHTTPHandler(gate Admitter) *HTTPHandler {
	return &HTTPHandler{gate: gate}
}

type RouterConfig struct {
	JWTSecret      []byte
	RateLimitRPS   float64
	RateLimitBurst int
	Metrics        http.Handler
}

// NewRouter mounts the order routes behind JWT auth and a per-user rate
// limiter. Health and metrics stay public.
func NewRouter(h *HTTPHandler, cfg RouterConfig) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:     true,
		LogStatus:  true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request")
			return nil
		},
	}))

	e.GET("/health", h.HealthCheck)
	if cfg.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(cfg.Metrics))
	}

	orders := e.Group("/orders")
	orders.Use(echojwt.WithConfig(echojwt.Config{
		SigningKey:    cfg.JWTSecret,
		SigningMethod: jwt.SigningMethodHS256.Alg(),
		NewClaimsFunc: func(c echo.Context) jwt.Claims { return new(Claims) },
		ErrorHandler: func(c echo.Context, err error) error {
			return c.JSON(http.StatusUnauthorized, CreateOrderHTTPResponse{Message: "unauthorized"})
		},
	}))
	orders.Use(middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Skipper: middleware.DefaultSkipper,
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(cfg.RateLimitRPS),
				Burst:     cfg.RateLimitBurst,
				ExpiresIn: 3 * time.Minute,
			}),
		IdentifierExtractor: func(c echo.Context) (string, error) {
			if claims, ok := claimsFrom(c); ok {
				return claims.Subject, nil
			}
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return c.JSON(http.StatusTooManyRequests, CreateOrderHTTPResponse{Message: "rate limit exceeded"})
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return c.JSON(http.StatusTooManyRequests, CreateOrderHTTPResponse{Message: "rate limit exceeded"})
		},
	}))
	orders.POST("/create", h.CreateOrder)

	return e
}

func claimsFrom(c echo.Context) (*Claims, bool) {
	token, ok := c.Get("user").(*jwt.Token)
	if !ok {
		return nil, false
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || claims.Subject == "" {
		return nil, false
	}
	return claims, true
}

func (h *HTTPHandler) CreateOrder(c echo.Context) error {
	claims, ok := claimsFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, CreateOrderHTTPResponse{Message: "unauthorized"})
	}

	var req CreateOrderHTTPRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, CreateOrderHTTPResponse{
			Message: "invalid request body",
			Reason:  domain.ReasonValidation,
		})
	}
	req.ProductID = strings.TrimSpace(req.ProductID)
	if req.ProductID == "" {
		return c.JSON(http.StatusBadRequest, CreateOrderHTTPResponse{
			Message: "productId is required",
			Reason:  domain.ReasonValidation,
		})
	}

	jobID, err := h.gate.Admit(c.Request().Context(), claims.Subject, claims.Username, req.ProductID)
	if err != nil {
		reason := domain.ReasonOf(err)
		if reason == domain.ReasonInternal || reason == domain.ReasonEnqueueFailed {
			log.Error().Err(err).Str("user_id", claims.Subject).Str("product_id", req.ProductID).Msg("admission failed")
		}
		return c.JSON(httpStatus(reason), CreateOrderHTTPResponse{
			Message: message(reason),
			Reason:  reason,
		})
	}

	return c.JSON(http.StatusAccepted, CreateOrderHTTPResponse{
		Message: "order is being processed",
		JobID:   jobID,
	})
}

func (h *HTTPHandler) HealthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
