package auth

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"permission-explorer/internal/engine"
)

// AuthHandler handles authentication endpoints.
type AuthHandler struct {
	passwordHash string
	jwtSecret    string
	throttle     *loginThrottle
	logger       *zap.Logger
}

// HandlerOption configures an AuthHandler.
type HandlerOption func(*AuthHandler)

// WithLoginLimit allows each client perMinute login attempts with the given
// burst.
func WithLoginLimit(perMinute float64, burst int) HandlerOption {
	return func(h *AuthHandler) { h.throttle = newLoginThrottle(perMinute, burst) }
}

// NewAuthHandler creates an AuthHandler for the single admin account.
// An empty passwordHash disables login.
func NewAuthHandler(passwordHash, jwtSecret string, logger *zap.Logger, opts ...HandlerOption) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &AuthHandler{
		passwordHash: passwordHash,
		jwtSecret:    jwtSecret,
		throttle:     newLoginThrottle(defaultLoginsPerMinute, defaultLoginBurst),
		logger:       logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Login handles POST /api/_auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var body struct {
		Password string `json:"password"`
	}
	if err := c.BodyParser(&body); err != nil {
		return engine.NewAppError("INVALID_PAYLOAD", 400, "Invalid request body")
	}
	if h.passwordHash == "" {
		return engine.UnauthorizedError("Admin login is disabled")
	}
	if !h.throttle.Allow(c.IP()) {
		h.logger.Warn("admin login throttled", zap.String("ip", c.IP()))
		return engine.NewAppError("TOO_MANY_REQUESTS", fiber.StatusTooManyRequests, "Too many login attempts")
	}
	if body.Password == "" {
		return engine.UnauthorizedError("Password is required")
	}
	if !CheckPassword(body.Password, h.passwordHash) {
		h.logger.Warn("admin login failed", zap.String("ip", c.IP()))
		return engine.UnauthorizedError("Invalid password")
	}

	accessToken, err := GenerateAccessToken(AdminRole, []string{AdminRole}, h.jwtSecret)
	if err != nil {
		return engine.NewAppError("INTERNAL_ERROR", 500, "Failed to generate access token")
	}

	return c.JSON(fiber.Map{"data": Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int(AccessTokenTTL.Seconds()),
	}})
}

// RegisterAuthRoutes registers auth routes on the given Fiber app.
func RegisterAuthRoutes(app *fiber.App, h *AuthHandler) {
	auth := app.Group("/api/_auth")
	auth.Post("/login", h.Login)
}
