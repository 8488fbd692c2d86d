// Package handlers contains the HTTP handlers for the study planner API.
package handlers

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/argon2"

	"studyplan/config"
	"studyplan/crypto"
	"studyplan/database"
	"studyplan/metrics"
	"studyplan/utils"
)

// AuthHandler handles registration, login, and session management.
type AuthHandler struct {
	db     database.Database
	redis  *redis.Client
	crypto *crypto.CryptoService
	config *config.Config
}

// NewAuthHandler creates a new AuthHandler instance
func NewAuthHandler(db database.Database, redis *redis.Client, cryptoService *crypto.CryptoService, config *config.Config) *AuthHandler {
	return &AuthHandler{
		db:     db,
		redis:  redis,
		crypto: cryptoService,
		config: config,
	}
}

// RegisterRequest represents the registration request payload
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=12"`
	Name     string `json:"name"`
	Level    string `json:"level"`
}

// LoginRequest represents the login request payload
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// SessionData is the decrypted payload stored in Redis for each session.
type SessionData struct {
	UserID    uuid.UUID `json:"user_id"`
	IPAddress string    `json:"ip_address"`
	UserAgent string    `json:"user_agent"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// storeSessionInRedis persists an encrypted session blob keyed by the hashed
// session token, expiring together with the JWT.
func (h *AuthHandler) storeSessionInRedis(ctx context.Context, tokenHash []byte, userID uuid.UUID, ipAddress, userAgent string, expiresAt time.Time) error {
	sessionData := SessionData{
		UserID:    userID,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		CreatedAt: time.Now(),
		ExpiresAt: expiresAt,
	}

	jsonData, err := json.Marshal(sessionData)
	if err != nil {
		return fmt.Errorf("failed to marshal session data: %w", err)
	}

	encryptedData, err := h.crypto.Encrypt(jsonData)
	if err != nil {
		return fmt.Errorf("failed to encrypt session data: %w", err)
	}

	sessionKey := fmt.Sprintf("session:%x", tokenHash)
	return h.redis.Set(ctx, sessionKey, encryptedData, time.Until(expiresAt)).Err()
}

// deleteSessionFromRedis removes a session, revoking every JWT that carries it.
func (h *AuthHandler) deleteSessionFromRedis(ctx context.Context, sessionID string) error {
	return h.redis.Del(ctx, "session:"+sessionID).Err()
}

// createSession generates a session token, stores the encrypted session in
// Redis, and returns the caller-facing token plus the session ID embedded in
// JWT claims. The session ID is the hex-encoded Argon2 hash of the token, so
// the middleware can check liveness without re-deriving anything expensive.
func (h *AuthHandler) createSession(ctx context.Context, c *fiber.Ctx, userID uuid.UUID) (string, string, error) {
	sessionToken := make([]byte, 32)
	if _, err := rand.Read(sessionToken); err != nil {
		return "", "", fmt.Errorf("failed to generate session token: %w", err)
	}

	tokenHash := argon2.IDKey(sessionToken, []byte("session"), 1, 64*1024, 4, 32)
	expiresAt := time.Now().Add(h.config.SessionDuration)

	if err := h.storeSessionInRedis(ctx, tokenHash, userID, utils.ClientIP(c), c.Get("User-Agent"), expiresAt); err != nil {
		return "", "", err
	}

	return hex.EncodeToString(sessionToken), hex.EncodeToString(tokenHash), nil
}

// Register creates a new user account and opens its first session.
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	if config.RegEnabled.Load() != 1 {
		return c.Status(403).JSON(fiber.Map{"error": "Registration is currently disabled"})
	}

	var req RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
	}

	if !utils.IsValidEmail(req.Email) {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid email address"})
	}

	if len(req.Password) < 12 {
		return c.Status(400).JSON(fiber.Map{"error": "Password must be at least 12 characters long"})
	}

	ctx := context.Background()

	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to generate salt"})
	}
	passwordHash := crypto.HashPassword(req.Password, salt)

	tx, err := h.db.Begin(ctx)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Database error"})
	}
	defer tx.Rollback(ctx)

	var name, level *string
	if req.Name != "" {
		name = &req.Name
	}
	if req.Level != "" {
		level = &req.Level
	}

	var userID uuid.UUID
	err = tx.QueryRow(ctx,
		`INSERT INTO users (email, password_hash, salt, name, level)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		req.Email, passwordHash, salt, name, level).Scan(&userID)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate") {
			return c.Status(409).JSON(fiber.Map{"error": "Email already registered"})
		}
		log.Printf("Registration insert failed: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "Registration failed"})
	}

	if err := tx.Commit(ctx); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Registration failed"})
	}

	h.logAudit(ctx, userID, "user.registered", "user", userID, c)

	sessionToken, sessionID, err := h.createSession(ctx, c, userID)
	if err != nil {
		log.Printf("Session creation failed: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "Session creation failed"})
	}

	token, err := h.generateToken(userID, sessionID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Token generation failed"})
	}

	return c.Status(201).JSON(fiber.Map{
		"message": "Registration successful",
		"token":   token,
		"session": sessionToken,
		"user_id": userID,
	})
}

// Login authenticates a user and opens a session. Repeated failures lock the
// account for escalating durations.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
	}

	ctx := context.Background()

	var userID uuid.UUID
	var passwordHash string
	var failedAttempts int
	var lockedUntil sql.NullTime

	err := h.db.QueryRow(ctx,
		`SELECT id, password_hash, failed_attempts, locked_until
		 FROM users WHERE lower(email) = lower($1)`,
		req.Email).Scan(&userID, &passwordHash, &failedAttempts, &lockedUntil)
	if err != nil {
		return c.Status(401).JSON(fiber.Map{"error": "Invalid credentials"})
	}

	if lockedUntil.Valid && lockedUntil.Time.After(time.Now()) {
		remaining := time.Until(lockedUntil.Time)
		return c.Status(423).JSON(fiber.Map{
			"error":               fmt.Sprintf("Account locked due to too many failed login attempts. Please try again in %s.", lockoutMessage(remaining)),
			"locked_until":        lockedUntil.Time.Format(time.RFC3339),
			"retry_after_seconds": int(remaining.Seconds()),
		})
	}

	if !crypto.VerifyPassword(req.Password, passwordHash) {
		failedAttempts++

		var lockDuration time.Duration
		switch {
		case failedAttempts >= 7:
			lockDuration = 15 * time.Minute
		case failedAttempts >= 6:
			lockDuration = 5 * time.Minute
		case failedAttempts >= h.config.MaxLoginAttempts:
			lockDuration = 1 * time.Minute
		}

		if lockDuration > 0 {
			lockedTime := time.Now().Add(lockDuration)
			h.db.Exec(ctx,
				"UPDATE users SET failed_attempts = $1, locked_until = $2 WHERE id = $3",
				failedAttempts, lockedTime, userID)
			h.logAudit(ctx, userID, "login.locked", "user", userID, c)
			return c.Status(423).JSON(fiber.Map{
				"error":               fmt.Sprintf("Account locked due to too many failed login attempts. Please try again in %s.", lockoutMessage(lockDuration)),
				"locked_until":        lockedTime.Format(time.RFC3339),
				"retry_after_seconds": int(lockDuration.Seconds()),
			})
		}

		h.db.Exec(ctx, "UPDATE users SET failed_attempts = $1 WHERE id = $2", failedAttempts, userID)
		h.logAudit(ctx, userID, "login.failed", "user", userID, c)
		return c.Status(401).JSON(fiber.Map{"error": "Invalid credentials"})
	}

	// Successful login resets the lockout counters
	h.db.Exec(ctx,
		"UPDATE users SET failed_attempts = 0, locked_until = NULL, last_login = NOW() WHERE id = $1",
		userID)

	sessionToken, sessionID, err := h.createSession(ctx, c, userID)
	if err != nil {
		log.Printf("Session creation failed: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "Session creation failed"})
	}

	token, err := h.generateToken(userID, sessionID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Token generation failed"})
	}

	h.logAudit(ctx, userID, "login.success", "user", userID, c)

	return c.JSON(fiber.Map{
		"token":   token,
		"session": sessionToken,
		"user_id": userID,
	})
}

// Logout revokes the current session so its JWT stops validating.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(uuid.UUID)
	if !ok {
		return c.Status(401).JSON(fiber.Map{"error": "Invalid session"})
	}

	ctx := context.Background()

	if sessionID, ok := c.Locals("session_id").(string); ok && sessionID != "" && h.redis != nil {
		if err := h.deleteSessionFromRedis(ctx, sessionID); err != nil {
			log.Printf("Session deletion failed: %v", err)
		}
	}

	h.logAudit(ctx, userID, "user.logout", "user", userID, c)

	return c.JSON(fiber.Map{"message": "Logged out successfully"})
}

// Me returns the authenticated user's profile.
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(uuid.UUID)
	if !ok {
		return c.Status(401).JSON(fiber.Map{"error": "Invalid session"})
	}

	ctx := context.Background()

	var email string
	var name, level *string
	var createdAt time.Time
	var lastLogin sql.NullTime

	err := h.db.QueryRow(ctx,
		`SELECT email, name, level, created_at, last_login FROM users WHERE id = $1`,
		userID).Scan(&email, &name, &level, &createdAt, &lastLogin)
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "User not found"})
	}

	return c.JSON(fiber.Map{
		"user_id":    userID,
		"email":      email,
		"name":       name,
		"level":      level,
		"created_at": createdAt,
		"last_login": utils.NilIfInvalid(lastLogin),
	})
}

// generateToken creates a signed JWT. An empty sessionID omits the sid claim,
// which makes the middleware skip the revocation check.
func (h *AuthHandler) generateToken(userID uuid.UUID, sessionID string) (string, error) {
	claims := jwt.MapClaims{
		"user_id": userID.String(),
		"exp":     time.Now().Add(h.config.SessionDuration).Unix(),
		"iat":     time.Now().Unix(),
	}
	if sessionID != "" {
		claims["sid"] = sessionID
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)
	return token.SignedString(h.config.JWTSecret)
}

// lockoutMessage renders a lockout duration for the login error message.
func lockoutMessage(d time.Duration) string {
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	if minutes > 0 {
		return fmt.Sprintf("%d minutes and %d seconds", minutes, seconds)
	}
	return fmt.Sprintf("%d seconds", seconds)
}

// logAudit records a security-relevant event. IP and user agent are encrypted
// at rest. Failures are logged but never fail the request.
func (h *AuthHandler) logAudit(ctx context.Context, userID uuid.UUID, action, resourceType string, resourceID uuid.UUID, c *fiber.Ctx) {
	encryptedIP, err := h.crypto.Encrypt([]byte(utils.ClientIP(c)))
	if err != nil {
		log.Printf("Failed to encrypt IP for audit log: %v", err)
		metrics.IncrementError("audit_log", "auth")
		return
	}

	encryptedUA, err := h.crypto.Encrypt([]byte(c.Get("User-Agent")))
	if err != nil {
		log.Printf("Failed to encrypt user agent for audit log: %v", err)
		metrics.IncrementError("audit_log", "auth")
		return
	}

	_, err = h.db.Exec(ctx,
		`INSERT INTO audit_log (user_id, action, resource_type, resource_id, ip_address_encrypted, user_agent_encrypted)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		userID, action, resourceType, resourceID, encryptedIP, encryptedUA)
	if err != nil {
		log.Printf("Failed to create audit log entry: %v", err)
		metrics.IncrementError("audit_log", "auth")
	}
}
