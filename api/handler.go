// Package api exposes the authz core's public wire surface: accepting an
// invitation token, plus an internal role-check endpoint and a health
// probe. Request authentication has already happened upstream; the bearer
// token only carries the authenticated principal id.
package api

import (
	"net/http"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/collabstack/authz"
	"github.com/collabstack/authz/errs"
	"github.com/collabstack/authz/ident"
	"github.com/collabstack/authz/role"
	"github.com/collabstack/authz/telemetry"
)

const principalContextKey = "authz.principal_id"

type Handler struct {
	core      *authz.Core
	tel       *telemetry.Provider
	jwtSecret []byte
	log       *zap.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithTelemetry wires metric recording into the handlers.
func WithTelemetry(tel *telemetry.Provider) Option {
	return func(h *Handler) {
		h.tel = tel
	}
}

// WithLogger sets the handler's logger.
func WithLogger(log *zap.Logger) Option {
	return func(h *Handler) {
		h.log = log
	}
}

// NewHandler creates the API handler. The secret verifies the HMAC bearer
// tokens whose subject claim carries the authenticated principal id.
func NewHandler(core *authz.Core, jwtSecret []byte, opts ...Option) *Handler {
	h := &Handler{core: core, jwtSecret: jwtSecret, log: zap.NewNop()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/health", h.HandleHealth)

	protected := g.Group("")
	protected.Use(h.AuthMiddleware)
	protected.POST("/invitations/accept", h.HandleAcceptInvitation)
	protected.GET("/check", h.HandleCheck)
}

// AuthMiddleware extracts the authenticated principal id from the bearer
// token's subject claim.
func (h *Handler) AuthMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		auth := c.Request().Header.Get(echo.HeaderAuthorization)
		const prefix = "Bearer "
		if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix {
			return h.Error(c, http.StatusUnauthorized, "missing bearer token", nil)
		}

		token, err := jwt.Parse(auth[len(prefix):], func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errs.Unauthorizedf("unexpected signing method %v", t.Header["alg"])
			}
			return h.jwtSecret, nil
		})
		if err != nil || !token.Valid {
			return h.Error(c, http.StatusUnauthorized, "invalid bearer token", err)
		}

		sub, err := token.Claims.GetSubject()
		if err != nil || !ident.IsPrincipal(sub) {
			return h.Error(c, http.StatusUnauthorized, "token subject is not a principal", err)
		}

		c.Set(principalContextKey, sub)
		return next(c)
	}
}

// HandleAcceptInvitation redeems an invitation token for the authenticated
// user and returns the email plus the resources the acceptance granted.
func (h *Handler) HandleAcceptInvitation(c echo.Context) error {
	var body struct {
		Token string `json:"token"`
	}
	if err := c.Bind(&body); err != nil {
		return h.Error(c, http.StatusBadRequest, "invalid request body", err)
	}
	if body.Token == "" {
		return h.Error(c, http.StatusBadRequest, "missing token", nil)
	}

	principalID := c.Get(principalContextKey).(string)
	acceptance, err := h.core.Invitations.Accept(c.Request().Context(), body.Token, principalID)
	if err != nil {
		return h.errorFromTaxonomy(c, err)
	}

	if h.tel != nil {
		h.tel.RecordAcceptance(c.Request().Context(), len(acceptance.ResourceIDs))
	}
	return c.JSON(http.StatusOK, map[string]any{
		"email":     acceptance.Email,
		"resources": acceptance.ResourceIDs,
	})
}

// HandleCheck answers whether the authenticated principal holds at least
// the given role on a resource.
func (h *Handler) HandleCheck(c echo.Context) error {
	resourceID := c.QueryParam("resource")
	minRole := role.Role(c.QueryParam("role"))
	principalID := c.Get(principalContextKey).(string)

	allowed, err := h.core.Service.HasRole(c.Request().Context(), principalID, resourceID, minRole)
	if err != nil {
		return h.errorFromTaxonomy(c, err)
	}

	if h.tel != nil {
		resourceType := ""
		if parsed, perr := ident.Parse(resourceID); perr == nil {
			resourceType = parsed.Type
		}
		h.tel.RecordCheck(c.Request().Context(), allowed, resourceType)
	}
	return c.JSON(http.StatusOK, map[string]any{"allowed": allowed})
}

func (h *Handler) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// errorFromTaxonomy maps the errs taxonomy onto HTTP statuses.
func (h *Handler) errorFromTaxonomy(c echo.Context, err error) error {
	switch {
	case errs.IsInvalidArgument(err):
		return h.Error(c, http.StatusBadRequest, err.Error(), err)
	case errs.IsNotFound(err):
		return h.Error(c, http.StatusNotFound, err.Error(), err)
	case errs.IsUnauthorized(err):
		return h.Error(c, http.StatusForbidden, err.Error(), err)
	default:
		return h.Error(c, http.StatusInternalServerError, "internal server error", err)
	}
}

func (h *Handler) Error(c echo.Context, status int, message string, err error) error {
	if err != nil && status >= http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Error(err))
	}
	return c.JSON(status, map[string]string{"error": message})
}
