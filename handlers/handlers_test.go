package handlers

import (
	"bytes"
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"studyplan/config"
	"studyplan/crypto"
	"studyplan/models"
	"studyplan/utils"
)

func TestMain(m *testing.M) {
	utils.InitLogging()
	os.Exit(m.Run())
}

// =====================
// Mock Implementations
// =====================

// MockDB represents a mock database connection for unit tests
type MockDB struct {
	mock.Mock
}

func (m *MockDB) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	callArgs := append([]interface{}{ctx, sql}, args...)
	mockArgs := m.Called(callArgs...)
	return mockArgs.Get(0).(pgx.Row)
}

func (m *MockDB) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	callArgs := append([]interface{}{ctx, sql}, args...)
	mockArgs := m.Called(callArgs...)
	rowsAffected := mockArgs.Get(0).(int64)
	tag := pgconn.NewCommandTag("UPDATE " + fmt.Sprintf("%d", rowsAffected))
	return tag, mockArgs.Error(1)
}

func (m *MockDB) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	callArgs := append([]interface{}{ctx, sql}, args...)
	mockArgs := m.Called(callArgs...)
	return mockArgs.Get(0).(pgx.Rows), mockArgs.Error(1)
}

func (m *MockDB) Begin(ctx context.Context) (pgx.Tx, error) {
	mockArgs := m.Called(ctx)
	return mockArgs.Get(0).(pgx.Tx), mockArgs.Error(1)
}

type MockRow struct {
	mock.Mock
}

func (m *MockRow) Scan(dest ...interface{}) error {
	mockArgs := m.Called(dest...)
	return mockArgs.Error(0)
}

type MockRows struct {
	mock.Mock
	closed bool
}

func (m *MockRows) Next() bool {
	mockArgs := m.Called()
	return mockArgs.Bool(0)
}

func (m *MockRows) Scan(dest ...interface{}) error {
	mockArgs := m.Called(dest...)
	return mockArgs.Error(0)
}

func (m *MockRows) Close() {
	m.closed = true
}

func (m *MockRows) Err() error {
	return nil
}

func (m *MockRows) CommandTag() pgconn.CommandTag {
	return pgconn.NewCommandTag("")
}

func (m *MockRows) FieldDescriptions() []pgconn.FieldDescription {
	return nil
}

func (m *MockRows) Values() ([]interface{}, error) {
	return nil, nil
}

func (m *MockRows) RawValues() [][]byte {
	return nil
}

func (m *MockRows) Conn() *pgx.Conn {
	return nil
}

type MockTx struct {
	mock.Mock
}

func (m *MockTx) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	callArgs := append([]interface{}{ctx, sql}, args...)
	mockArgs := m.Called(callArgs...)
	return mockArgs.Get(0).(pgx.Row)
}

func (m *MockTx) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	callArgs := append([]interface{}{ctx, sql}, args...)
	mockArgs := m.Called(callArgs...)
	return mockArgs.Get(0).(pgx.Rows), mockArgs.Error(1)
}

func (m *MockTx) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	callArgs := append([]interface{}{ctx, sql}, args...)
	mockArgs := m.Called(callArgs...)
	rowsAffected := mockArgs.Get(0).(int64)
	tag := pgconn.NewCommandTag("UPDATE " + fmt.Sprintf("%d", rowsAffected))
	return tag, mockArgs.Error(1)
}

func (m *MockTx) Rollback(ctx context.Context) error {
	mockArgs := m.Called(ctx)
	return mockArgs.Error(0)
}

func (m *MockTx) Commit(ctx context.Context) error {
	mockArgs := m.Called(ctx)
	return mockArgs.Error(0)
}

func (m *MockTx) Begin(ctx context.Context) (pgx.Tx, error) {
	mockArgs := m.Called(ctx)
	return mockArgs.Get(0).(pgx.Tx), mockArgs.Error(1)
}

func (m *MockTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}

func (m *MockTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	return nil
}

func (m *MockTx) LargeObjects() pgx.LargeObjects {
	return pgx.LargeObjects{}
}

func (m *MockTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}

func (m *MockTx) Deallocate(ctx context.Context, name string) error {
	return nil
}

func (m *MockTx) Conn() *pgx.Conn {
	return nil
}

// =====================
// AuthHandler Tests
// =====================

type AuthHandlerTestSuite struct {
	suite.Suite
	handler   *AuthHandler
	mockDB    *MockDB
	mr        *miniredis.Miniredis
	rdb       *redis.Client
	cryptoSvc *crypto.CryptoService
	cfg       *config.Config
	userID    uuid.UUID
}

func (suite *AuthHandlerTestSuite) SetupTest() {
	suite.mockDB = &MockDB{}

	mr, err := miniredis.Run()
	suite.Require().NoError(err)
	suite.mr = mr
	suite.rdb = redis.NewClient(&redis.Options{Addr: mr.Addr()})

	// Generate test encryption key
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		suite.T().Fatalf("Failed to generate random data: %v", err)
	}
	suite.cryptoSvc = crypto.NewCryptoService(key)

	jwtSecret := make([]byte, 64)
	if _, err := rand.Read(jwtSecret); err != nil {
		suite.T().Fatalf("Failed to generate random data: %v", err)
	}

	suite.cfg = &config.Config{
		JWTSecret:        jwtSecret,
		EncryptionKey:    key,
		MaxLoginAttempts: 5,
		SessionDuration:  24 * time.Hour,
	}

	suite.handler = NewAuthHandler(suite.mockDB, suite.rdb, suite.cryptoSvc, suite.cfg)
	suite.userID = uuid.New()
}

func (suite *AuthHandlerTestSuite) TearDownTest() {
	_ = suite.rdb.Close()
	suite.mr.Close()
}

func (suite *AuthHandlerTestSuite) expectAuditLog() {
	suite.mockDB.On("Exec", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return contains(sql, "INSERT INTO audit_log")
	}), mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(int64(1), nil)
}

func (suite *AuthHandlerTestSuite) sessionKeys() []string {
	keys := []string{}
	for _, k := range suite.mr.Keys() {
		if strings.HasPrefix(k, "session:") {
			keys = append(keys, k)
		}
	}
	return keys
}

func (suite *AuthHandlerTestSuite) TestNewAuthHandler() {
	handler := NewAuthHandler(suite.mockDB, suite.rdb, suite.cryptoSvc, suite.cfg)
	suite.NotNil(handler)
	suite.Equal(suite.mockDB, handler.db)
	suite.Equal(suite.cryptoSvc, handler.crypto)
	suite.Equal(suite.cfg, handler.config)
}

func (suite *AuthHandlerTestSuite) TestRegisterSuccess() {
	// Enable registration for this test
	config.RegEnabled.Store(1)
	defer config.RegEnabled.Store(0)

	app := fiber.New()
	app.Post("/register", suite.handler.Register)

	mockTx := &MockTx{}
	mockRow := &MockRow{}

	suite.mockDB.On("Begin", mock.Anything).Return(mockTx, nil)

	mockTx.On("QueryRow", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return contains(sql, "INSERT INTO users")
	}), mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(mockRow)

	mockRow.On("Scan", mock.Anything).Run(func(args mock.Arguments) {
		if uid, ok := args[0].(*uuid.UUID); ok {
			*uid = suite.userID
		}
	}).Return(nil)

	mockTx.On("Commit", mock.Anything).Return(nil)
	mockTx.On("Rollback", mock.Anything).Return(nil)

	suite.expectAuditLog()

	body := `{"email":"student@example.com","password":"averylongpassword123","name":"Test Student","level":"undergraduate"}`
	req := httptest.NewRequest("POST", "/register", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	suite.Require().NoError(err)
	suite.Equal(201, resp.StatusCode)

	var result map[string]interface{}
	suite.Require().NoError(json.NewDecoder(resp.Body).Decode(&result))
	suite.Equal("Registration successful", result["message"])
	suite.NotEmpty(result["token"])
	suite.NotEmpty(result["session"])
	suite.Equal(suite.userID.String(), result["user_id"])

	// Registration opens a session immediately
	suite.Len(suite.sessionKeys(), 1)

	suite.mockDB.AssertExpectations(suite.T())
	mockTx.AssertExpectations(suite.T())
}

func (suite *AuthHandlerTestSuite) TestRegisterDisabled() {
	config.RegEnabled.Store(0)

	app := fiber.New()
	app.Post("/register", suite.handler.Register)

	body := `{"email":"student@example.com","password":"averylongpassword123"}`
	req := httptest.NewRequest("POST", "/register", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	suite.Require().NoError(err)
	suite.Equal(403, resp.StatusCode)

	var result map[string]interface{}
	suite.Require().NoError(json.NewDecoder(resp.Body).Decode(&result))
	suite.Equal("Registration is currently disabled", result["error"])
}

func (suite *AuthHandlerTestSuite) TestRegisterPasswordTooShort() {
	config.RegEnabled.Store(1)
	defer config.RegEnabled.Store(0)

	app := fiber.New()
	app.Post("/register", suite.handler.Register)

	body := `{"email":"student@example.com","password":"short"}`
	req := httptest.NewRequest("POST", "/register", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	suite.Require().NoError(err)
	suite.Equal(400, resp.StatusCode)

	var result map[string]interface{}
	suite.Require().NoError(json.NewDecoder(resp.Body).Decode(&result))
	suite.Equal("Password must be at least 12 characters long", result["error"])
}

func (suite *AuthHandlerTestSuite) TestRegisterInvalidEmail() {
	config.RegEnabled.Store(1)
	defer config.RegEnabled.Store(0)

	app := fiber.New()
	app.Post("/register", suite.handler.Register)

	body := `{"email":"not-an-email","password":"averylongpassword123"}`
	req := httptest.NewRequest("POST", "/register", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	suite.Require().NoError(err)
	suite.Equal(400, resp.StatusCode)

	var result map[string]interface{}
	suite.Require().NoError(json.NewDecoder(resp.Body).Decode(&result))
	suite.Equal("Invalid email address", result["error"])
}

func (suite *AuthHandlerTestSuite) TestRegisterDuplicateEmail() {
	config.RegEnabled.Store(1)
	defer config.RegEnabled.Store(0)

	app := fiber.New()
	app.Post("/register", suite.handler.Register)

	mockTx := &MockTx{}
	mockRow := &MockRow{}

	suite.mockDB.On("Begin", mock.Anything).Return(mockTx, nil)

	mockTx.On("QueryRow", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return contains(sql, "INSERT INTO users")
	}), mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(mockRow)

	mockRow.On("Scan", mock.Anything).Return(errors.New(`ERROR: duplicate key value violates unique constraint "idx_users_email_lower" (SQLSTATE 23505)`))

	mockTx.On("Rollback", mock.Anything).Return(nil)

	body := `{"email":"student@example.com","password":"averylongpassword123"}`
	req := httptest.NewRequest("POST", "/register", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	suite.Require().NoError(err)
	suite.Equal(409, resp.StatusCode)

	var result map[string]interface{}
	suite.Require().NoError(json.NewDecoder(resp.Body).Decode(&result))
	suite.Equal("Email already registered", result["error"])
}

func (suite *AuthHandlerTestSuite) TestLoginSuccess() {
	app := fiber.New()
	app.Post("/login", suite.handler.Login)

	salt := make([]byte, 32)
	_, err := rand.Read(salt)
	suite.Require().NoError(err)
	passwordHash := crypto.HashPassword("correcthorsebattery1", salt)

	mockRow := &MockRow{}
	suite.mockDB.On("QueryRow", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return contains(sql, "FROM users WHERE lower(email)")
	}), mock.Anything).Return(mockRow)

	mockRow.On("Scan", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		if uid, ok := args[0].(*uuid.UUID); ok {
			*uid = suite.userID
		}
		if hash, ok := args[1].(*string); ok {
			*hash = passwordHash
		}
	}).Return(nil)

	suite.mockDB.On("Exec", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return contains(sql, "failed_attempts = 0")
	}), mock.Anything).Return(int64(1), nil)

	suite.expectAuditLog()

	body := `{"email":"student@example.com","password":"correcthorsebattery1"}`
	req := httptest.NewRequest("POST", "/login", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	suite.Require().NoError(err)
	suite.Equal(200, resp.StatusCode)

	var result map[string]interface{}
	suite.Require().NoError(json.NewDecoder(resp.Body).Decode(&result))
	suite.NotEmpty(result["token"])
	suite.NotEmpty(result["session"])
	suite.Equal(suite.userID.String(), result["user_id"])

	suite.Len(suite.sessionKeys(), 1)

	suite.mockDB.AssertExpectations(suite.T())
}

func (suite *AuthHandlerTestSuite) TestLoginWrongPassword() {
	app := fiber.New()
	app.Post("/login", suite.handler.Login)

	salt := make([]byte, 32)
	_, err := rand.Read(salt)
	suite.Require().NoError(err)
	passwordHash := crypto.HashPassword("correcthorsebattery1", salt)

	mockRow := &MockRow{}
	suite.mockDB.On("QueryRow", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return contains(sql, "FROM users WHERE lower(email)")
	}), mock.Anything).Return(mockRow)

	mockRow.On("Scan", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		if uid, ok := args[0].(*uuid.UUID); ok {
			*uid = suite.userID
		}
		if hash, ok := args[1].(*string); ok {
			*hash = passwordHash
		}
	}).Return(nil)

	// First failure just bumps the counter
	suite.mockDB.On("Exec", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return contains(sql, "SET failed_attempts = $1 WHERE")
	}), mock.Anything, mock.Anything).Return(int64(1), nil)

	suite.expectAuditLog()

	body := `{"email":"student@example.com","password":"definitelywrongpass1"}`
	req := httptest.NewRequest("POST", "/login", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	suite.Require().NoError(err)
	suite.Equal(401, resp.StatusCode)

	var result map[string]interface{}
	suite.Require().NoError(json.NewDecoder(resp.Body).Decode(&result))
	suite.Equal("Invalid credentials", result["error"])

	// No session is opened on failure
	suite.Empty(suite.sessionKeys())
}

func (suite *AuthHandlerTestSuite) TestLoginLockoutAfterMaxAttempts() {
	app := fiber.New()
	app.Post("/login", suite.handler.Login)

	salt := make([]byte, 32)
	_, err := rand.Read(salt)
	suite.Require().NoError(err)
	passwordHash := crypto.HashPassword("correcthorsebattery1", salt)

	mockRow := &MockRow{}
	suite.mockDB.On("QueryRow", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return contains(sql, "FROM users WHERE lower(email)")
	}), mock.Anything).Return(mockRow)

	// Four previous failures recorded; this one crosses the limit
	mockRow.On("Scan", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		if uid, ok := args[0].(*uuid.UUID); ok {
			*uid = suite.userID
		}
		if hash, ok := args[1].(*string); ok {
			*hash = passwordHash
		}
		if attempts, ok := args[2].(*int); ok {
			*attempts = 4
		}
	}).Return(nil)

	suite.mockDB.On("Exec", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return contains(sql, "locked_until = $2")
	}), mock.Anything, mock.Anything, mock.Anything).Return(int64(1), nil)

	suite.expectAuditLog()

	body := `{"email":"student@example.com","password":"definitelywrongpass1"}`
	req := httptest.NewRequest("POST", "/login", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	suite.Require().NoError(err)
	suite.Equal(423, resp.StatusCode)

	var result map[string]interface{}
	suite.Require().NoError(json.NewDecoder(resp.Body).Decode(&result))
	suite.Contains(result["error"], "Account locked due to too many failed login attempts")
	suite.Equal(float64(60), result["retry_after_seconds"])
	suite.NotEmpty(result["locked_until"])
}

func (suite *AuthHandlerTestSuite) TestLoginAlreadyLocked() {
	app := fiber.New()
	app.Post("/login", suite.handler.Login)

	mockRow := &MockRow{}
	suite.mockDB.On("QueryRow", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return contains(sql, "FROM users WHERE lower(email)")
	}), mock.Anything).Return(mockRow)

	mockRow.On("Scan", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		if uid, ok := args[0].(*uuid.UUID); ok {
			*uid = suite.userID
		}
		if locked, ok := args[3].(*sql.NullTime); ok {
			*locked = sql.NullTime{Time: time.Now().Add(10 * time.Minute), Valid: true}
		}
	}).Return(nil)

	body := `{"email":"student@example.com","password":"correcthorsebattery1"}`
	req := httptest.NewRequest("POST", "/login", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	suite.Require().NoError(err)
	suite.Equal(423, resp.StatusCode)

	var result map[string]interface{}
	suite.Require().NoError(json.NewDecoder(resp.Body).Decode(&result))
	suite.Contains(result["error"], "Please try again in")
	retry, ok := result["retry_after_seconds"].(float64)
	suite.True(ok)
	suite.Greater(retry, float64(0))
}

func (suite *AuthHandlerTestSuite) TestLoginUnknownEmail() {
	app := fiber.New()
	app.Post("/login", suite.handler.Login)

	mockRow := &MockRow{}
	suite.mockDB.On("QueryRow", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return contains(sql, "FROM users WHERE lower(email)")
	}), mock.Anything).Return(mockRow)

	mockRow.On("Scan", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(pgx.ErrNoRows)

	body := `{"email":"nobody@example.com","password":"correcthorsebattery1"}`
	req := httptest.NewRequest("POST", "/login", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	suite.Require().NoError(err)
	suite.Equal(401, resp.StatusCode)

	var result map[string]interface{}
	suite.Require().NoError(json.NewDecoder(resp.Body).Decode(&result))
	suite.Equal("Invalid credentials", result["error"])
}

func (suite *AuthHandlerTestSuite) TestLogoutRevokesSession() {
	sessionID := "feedfacefeedfacefeedfacefeedface"
	suite.Require().NoError(suite.mr.Set("session:"+sessionID, "encrypted-session-blob"))

	app := fiber.New()
	app.Post("/logout", func(c *fiber.Ctx) error {
		c.Locals("user_id", suite.userID)
		c.Locals("session_id", sessionID)
		return suite.handler.Logout(c)
	})

	suite.expectAuditLog()

	req := httptest.NewRequest("POST", "/logout", nil)

	resp, err := app.Test(req, -1)
	suite.Require().NoError(err)
	suite.Equal(200, resp.StatusCode)

	var result map[string]interface{}
	suite.Require().NoError(json.NewDecoder(resp.Body).Decode(&result))
	suite.Equal("Logged out successfully", result["message"])

	suite.False(suite.mr.Exists("session:" + sessionID))
}

func (suite *AuthHandlerTestSuite) TestMe() {
	app := fiber.New()
	app.Get("/me", func(c *fiber.Ctx) error {
		c.Locals("user_id", suite.userID)
		return suite.handler.Me(c)
	})

	mockRow := &MockRow{}
	suite.mockDB.On("QueryRow", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return contains(sql, "SELECT email, name, level, created_at, last_login")
	}), mock.Anything).Return(mockRow)

	mockRow.On("Scan", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		if email, ok := args[0].(*string); ok {
			*email = "student@example.com"
		}
		if name, ok := args[1].(**string); ok {
			n := "Test Student"
			*name = &n
		}
		if createdAt, ok := args[3].(*time.Time); ok {
			*createdAt = time.Now()
		}
	}).Return(nil)

	req := httptest.NewRequest("GET", "/me", nil)

	resp, err := app.Test(req, -1)
	suite.Require().NoError(err)
	suite.Equal(200, resp.StatusCode)

	var result map[string]interface{}
	suite.Require().NoError(json.NewDecoder(resp.Body).Decode(&result))
	suite.Equal("student@example.com", result["email"])
	suite.Equal("Test Student", result["name"])
	suite.Equal(suite.userID.String(), result["user_id"])
	suite.Nil(result["level"])
}

func (suite *AuthHandlerTestSuite) TestGenerateToken() {
	token, err := suite.handler.generateToken(suite.userID, "abc123")
	suite.Require().NoError(err)

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		return suite.cfg.JWTSecret, nil
	})
	suite.Require().NoError(err)
	suite.True(parsed.Valid)

	claims, ok := parsed.Claims.(jwt.MapClaims)
	suite.Require().True(ok)
	suite.Equal(suite.userID.String(), claims["user_id"])
	suite.Equal("abc123", claims["sid"])
}

func (suite *AuthHandlerTestSuite) TestGenerateTokenWithoutSession() {
	token, err := suite.handler.generateToken(suite.userID, "")
	suite.Require().NoError(err)

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		return suite.cfg.JWTSecret, nil
	})
	suite.Require().NoError(err)

	claims, ok := parsed.Claims.(jwt.MapClaims)
	suite.Require().True(ok)
	_, hasSid := claims["sid"]
	suite.False(hasSid)
}

func TestAuthHandlerSuite(t *testing.T) {
	suite.Run(t, new(AuthHandlerTestSuite))
}

// =====================
// UsersHandler Tests
// =====================

type UsersHandlerTestSuite struct {
	suite.Suite
	handler *UsersHandler
	mockDB  *MockDB
	userID  uuid.UUID
}

func (suite *UsersHandlerTestSuite) SetupTest() {
	suite.mockDB = &MockDB{}
	suite.handler = NewUsersHandler(suite.mockDB)
	suite.userID = uuid.New()
}

func (suite *UsersHandlerTestSuite) TestListUsers() {
	app := fiber.New()
	app.Get("/users", suite.handler.ListUsers)

	mockRows := &MockRows{}
	suite.mockDB.On("Query", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return contains(sql, "FROM users")
	})).Return(mockRows, nil)

	mockRows.On("Next").Return(true).Once()
	mockRows.On("Next").Return(false).Once()

	mockRows.On("Scan", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		if uid, ok := args[0].(*uuid.UUID); ok {
			*uid = suite.userID
		}
		if email, ok := args[1].(*string); ok {
			*email = "student@example.com"
		}
		if level, ok := args[3].(**string); ok {
			l := "undergraduate"
			*level = &l
		}
		if createdAt, ok := args[4].(*time.Time); ok {
			*createdAt = time.Now()
		}
	}).Return(nil)

	req := httptest.NewRequest("GET", "/users", nil)

	resp, err := app.Test(req)
	suite.Require().NoError(err)
	suite.Equal(200, resp.StatusCode)

	var result map[string]interface{}
	suite.Require().NoError(json.NewDecoder(resp.Body).Decode(&result))
	users, ok := result["users"].([]interface{})
	suite.Require().True(ok)
	suite.Require().Len(users, 1)

	first, ok := users[0].(map[string]interface{})
	suite.Require().True(ok)
	suite.Equal("student@example.com", first["email"])
	suite.Equal("undergraduate", first["level"])
	suite.Nil(first["name"])
}

func (suite *UsersHandlerTestSuite) TestListUsersQueryError() {
	app := fiber.New()
	app.Get("/users", suite.handler.ListUsers)

	suite.mockDB.On("Query", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return contains(sql, "FROM users")
	})).Return(&MockRows{}, errors.New("connection refused"))

	req := httptest.NewRequest("GET", "/users", nil)

	resp, err := app.Test(req)
	suite.Require().NoError(err)
	suite.Equal(500, resp.StatusCode)

	var result map[string]interface{}
	suite.Require().NoError(json.NewDecoder(resp.Body).Decode(&result))
	suite.Equal("Failed to fetch users", result["error"])
}

func (suite *UsersHandlerTestSuite) TestGetUser() {
	app := fiber.New()
	app.Get("/users/:id", suite.handler.GetUser)

	mockRow := &MockRow{}
	suite.mockDB.On("QueryRow", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return contains(sql, "FROM users WHERE id")
	}), mock.Anything).Return(mockRow)

	mockRow.On("Scan", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		if email, ok := args[0].(*string); ok {
			*email = "student@example.com"
		}
		if name, ok := args[1].(**string); ok {
			n := "Test Student"
			*name = &n
		}
		if createdAt, ok := args[3].(*time.Time); ok {
			*createdAt = time.Now()
		}
	}).Return(nil)

	req := httptest.NewRequest("GET", "/users/"+suite.userID.String(), nil)

	resp, err := app.Test(req)
	suite.Require().NoError(err)
	suite.Equal(200, resp.StatusCode)

	var result map[string]interface{}
	suite.Require().NoError(json.NewDecoder(resp.Body).Decode(&result))
	suite.Equal("student@example.com", result["email"])
	suite.Equal("Test Student", result["name"])
	suite.Equal(suite.userID.String(), result["user_id"])
}

func (suite *UsersHandlerTestSuite) TestGetUserInvalidID() {
	app := fiber.New()
	app.Get("/users/:id", suite.handler.GetUser)

	req := httptest.NewRequest("GET", "/users/not-a-uuid", nil)

	resp, err := app.Test(req)
	suite.Require().NoError(err)
	suite.Equal(400, resp.StatusCode)

	var result map[string]interface{}
	suite.Require().NoError(json.NewDecoder(resp.Body).Decode(&result))
	suite.Equal("Invalid user ID", result["error"])
}

func (suite *UsersHandlerTestSuite) TestGetUserNotFound() {
	app := fiber.New()
	app.Get("/users/:id", suite.handler.GetUser)

	mockRow := &MockRow{}
	suite.mockDB.On("QueryRow", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return contains(sql, "FROM users WHERE id")
	}), mock.Anything).Return(mockRow)

	mockRow.On("Scan", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(pgx.ErrNoRows)

	req := httptest.NewRequest("GET", "/users/"+uuid.NewString(), nil)

	resp, err := app.Test(req)
	suite.Require().NoError(err)
	suite.Equal(404, resp.StatusCode)

	var result map[string]interface{}
	suite.Require().NoError(json.NewDecoder(resp.Body).Decode(&result))
	suite.Equal("User not found", result["error"])
}

func TestUsersHandlerSuite(t *testing.T) {
	suite.Run(t, new(UsersHandlerTestSuite))
}

// =====================
// PlansHandler Tests
// =====================

type PlansHandlerTestSuite struct {
	suite.Suite
	handler *PlansHandler
	mockDB  *MockDB
	userID  uuid.UUID
	planID  uuid.UUID
}

func (suite *PlansHandlerTestSuite) SetupTest() {
	suite.mockDB = &MockDB{}
	suite.handler = NewPlansHandler(suite.mockDB)
	suite.userID = uuid.New()
	suite.planID = uuid.New()
}

// newPlansApp wires the handler behind a route that injects the
// authenticated user, standing in for the JWT middleware.
func (suite *PlansHandlerTestSuite) newPlansApp() *fiber.App {
	app := fiber.New()
	app.Post("/plans", func(c *fiber.Ctx) error {
		c.Locals("user_id", suite.userID)
		return suite.handler.SavePlan(c)
	})
	app.Get("/plans", func(c *fiber.Ctx) error {
		c.Locals("user_id", suite.userID)
		return suite.handler.ListPlans(c)
	})
	app.Get("/plans/:id", func(c *fiber.Ctx) error {
		c.Locals("user_id", suite.userID)
		return suite.handler.GetPlan(c)
	})
	app.Delete("/plans/:id", func(c *fiber.Ctx) error {
		c.Locals("user_id", suite.userID)
		return suite.handler.DeletePlan(c)
	})
	return app
}

const savePlanBody = `{
	"name": "Exam prep",
	"request": {
		"subjects": [{"name": "Maths", "topics": [{"name": "Algebra", "estimated_hours": 4}]}],
		"start_date": "2025-03-10",
		"end_date": "2025-03-14",
		"preferences": {}
	},
	"response": {
		"days": [],
		"total_study_hours": 4,
		"subjects_distribution": {"Maths": 4},
		"insufficient_time": false,
		"total_hours_needed": 4,
		"available_hours": 15,
		"unallocated_topics": []
	}
}`

func (suite *PlansHandlerTestSuite) TestSavePlan() {
	app := suite.newPlansApp()

	mockRow := &MockRow{}
	suite.mockDB.On("QueryRow", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return contains(sql, "INSERT INTO study_plans")
	}), mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(mockRow)

	mockRow.On("Scan", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		if pid, ok := args[0].(*uuid.UUID); ok {
			*pid = suite.planID
		}
		if createdAt, ok := args[1].(*time.Time); ok {
			*createdAt = time.Now()
		}
	}).Return(nil)

	req := httptest.NewRequest("POST", "/plans", bytes.NewReader([]byte(savePlanBody)))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	suite.Require().NoError(err)
	suite.Equal(201, resp.StatusCode)

	var result map[string]interface{}
	suite.Require().NoError(json.NewDecoder(resp.Body).Decode(&result))
	suite.Equal(suite.planID.String(), result["id"])
	suite.Equal("Exam prep", result["name"])

	suite.mockDB.AssertExpectations(suite.T())
}

func (suite *PlansHandlerTestSuite) TestSavePlanDefaultsName() {
	app := suite.newPlansApp()

	mockRow := &MockRow{}
	suite.mockDB.On("QueryRow", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return contains(sql, "INSERT INTO study_plans")
	}), mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(mockRow)

	mockRow.On("Scan", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		if pid, ok := args[0].(*uuid.UUID); ok {
			*pid = suite.planID
		}
	}).Return(nil)

	var payload map[string]json.RawMessage
	suite.Require().NoError(json.Unmarshal([]byte(savePlanBody), &payload))
	delete(payload, "name")
	body, err := json.Marshal(payload)
	suite.Require().NoError(err)

	req := httptest.NewRequest("POST", "/plans", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	suite.Require().NoError(err)
	suite.Equal(201, resp.StatusCode)

	var result map[string]interface{}
	suite.Require().NoError(json.NewDecoder(resp.Body).Decode(&result))
	suite.Equal("Untitled plan", result["name"])
}

func (suite *PlansHandlerTestSuite) TestSavePlanMissingDocuments() {
	app := suite.newPlansApp()

	req := httptest.NewRequest("POST", "/plans", bytes.NewReader([]byte(`{"name":"Exam prep"}`)))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	suite.Require().NoError(err)
	suite.Equal(400, resp.StatusCode)

	var result map[string]interface{}
	suite.Require().NoError(json.NewDecoder(resp.Body).Decode(&result))
	suite.Equal("Plan request and response are required", result["error"])
}

func (suite *PlansHandlerTestSuite) TestListPlans() {
	app := suite.newPlansApp()

	mockRows := &MockRows{}
	suite.mockDB.On("Query", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return contains(sql, "FROM study_plans")
	}), mock.Anything).Return(mockRows, nil)

	mockRows.On("Next").Return(true).Once()
	mockRows.On("Next").Return(false).Once()

	mockRows.On("Scan", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		if pid, ok := args[0].(*uuid.UUID); ok {
			*pid = suite.planID
		}
		if name, ok := args[1].(*string); ok {
			*name = "Exam prep"
		}
		if start, ok := args[2].(*time.Time); ok {
			*start = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
		}
		if end, ok := args[3].(*time.Time); ok {
			*end = time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
		}
		if hours, ok := args[4].(*float64); ok {
			*hours = 4
		}
		if createdAt, ok := args[6].(*time.Time); ok {
			*createdAt = time.Now()
		}
	}).Return(nil)

	req := httptest.NewRequest("GET", "/plans", nil)

	resp, err := app.Test(req)
	suite.Require().NoError(err)
	suite.Equal(200, resp.StatusCode)

	var result map[string]interface{}
	suite.Require().NoError(json.NewDecoder(resp.Body).Decode(&result))
	plans, ok := result["plans"].([]interface{})
	suite.Require().True(ok)
	suite.Require().Len(plans, 1)

	first, ok := plans[0].(map[string]interface{})
	suite.Require().True(ok)
	suite.Equal("Exam prep", first["name"])
	suite.Equal("2025-03-10", first["start_date"])
	suite.Equal("2025-03-14", first["end_date"])
	suite.Equal(float64(4), first["total_study_hours"])
}

func (suite *PlansHandlerTestSuite) TestGetPlan() {
	app := suite.newPlansApp()

	mockRow := &MockRow{}
	suite.mockDB.On("QueryRow", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return contains(sql, "FROM study_plans")
	}), mock.Anything, mock.Anything).Return(mockRow)

	mockRow.On("Scan", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		if name, ok := args[0].(*string); ok {
			*name = "Exam prep"
		}
		if request, ok := args[1].(*[]byte); ok {
			*request = []byte(`{"subjects":[]}`)
		}
		if response, ok := args[2].(*[]byte); ok {
			*response = []byte(`{"days":[]}`)
		}
		if start, ok := args[3].(*time.Time); ok {
			*start = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
		}
		if end, ok := args[4].(*time.Time); ok {
			*end = time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
		}
	}).Return(nil)

	req := httptest.NewRequest("GET", "/plans/"+suite.planID.String(), nil)

	resp, err := app.Test(req)
	suite.Require().NoError(err)
	suite.Equal(200, resp.StatusCode)

	var result map[string]interface{}
	suite.Require().NoError(json.NewDecoder(resp.Body).Decode(&result))
	suite.Equal("Exam prep", result["name"])
	suite.Equal("2025-03-10", result["start_date"])

	// Stored documents come back as embedded JSON, not strings
	request, ok := result["request"].(map[string]interface{})
	suite.Require().True(ok)
	suite.Contains(request, "subjects")
}

func (suite *PlansHandlerTestSuite) TestGetPlanInvalidID() {
	app := suite.newPlansApp()

	req := httptest.NewRequest("GET", "/plans/not-a-uuid", nil)

	resp, err := app.Test(req)
	suite.Require().NoError(err)
	suite.Equal(400, resp.StatusCode)

	var result map[string]interface{}
	suite.Require().NoError(json.NewDecoder(resp.Body).Decode(&result))
	suite.Equal("Invalid plan ID", result["error"])
}

func (suite *PlansHandlerTestSuite) TestGetPlanNotFound() {
	app := suite.newPlansApp()

	mockRow := &MockRow{}
	suite.mockDB.On("QueryRow", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return contains(sql, "FROM study_plans")
	}), mock.Anything, mock.Anything).Return(mockRow)

	mockRow.On("Scan", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(pgx.ErrNoRows)

	req := httptest.NewRequest("GET", "/plans/"+suite.planID.String(), nil)

	resp, err := app.Test(req)
	suite.Require().NoError(err)
	suite.Equal(404, resp.StatusCode)

	var result map[string]interface{}
	suite.Require().NoError(json.NewDecoder(resp.Body).Decode(&result))
	suite.Equal("Plan not found", result["error"])
}

func (suite *PlansHandlerTestSuite) TestDeletePlan() {
	app := suite.newPlansApp()

	suite.mockDB.On("Exec", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return contains(sql, "SET deleted_at = NOW()")
	}), mock.Anything, mock.Anything).Return(int64(1), nil)

	req := httptest.NewRequest("DELETE", "/plans/"+suite.planID.String(), nil)

	resp, err := app.Test(req)
	suite.Require().NoError(err)
	suite.Equal(200, resp.StatusCode)

	var result map[string]interface{}
	suite.Require().NoError(json.NewDecoder(resp.Body).Decode(&result))
	suite.Equal("Plan deleted", result["message"])
}

func (suite *PlansHandlerTestSuite) TestDeletePlanNotFound() {
	app := suite.newPlansApp()

	suite.mockDB.On("Exec", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return contains(sql, "SET deleted_at = NOW()")
	}), mock.Anything, mock.Anything).Return(int64(0), nil)

	req := httptest.NewRequest("DELETE", "/plans/"+suite.planID.String(), nil)

	resp, err := app.Test(req)
	suite.Require().NoError(err)
	suite.Equal(404, resp.StatusCode)

	var result map[string]interface{}
	suite.Require().NoError(json.NewDecoder(resp.Body).Decode(&result))
	suite.Equal("Plan not found", result["error"])
}

func TestPlansHandlerSuite(t *testing.T) {
	suite.Run(t, new(PlansHandlerTestSuite))
}

// =====================
// StudyPlanHandler Tests
// =====================

type StudyPlanHandlerTestSuite struct {
	suite.Suite
	handler *StudyPlanHandler
	mr      *miniredis.Miniredis
	rdb     *redis.Client
	cfg     *config.Config
}

func (suite *StudyPlanHandlerTestSuite) SetupTest() {
	mr, err := miniredis.Run()
	suite.Require().NoError(err)
	suite.mr = mr
	suite.rdb = redis.NewClient(&redis.Options{Addr: mr.Addr()})

	suite.cfg = &config.Config{PlanCacheTTL: time.Hour}
	suite.handler = NewStudyPlanHandler(suite.rdb, suite.cfg)
}

func (suite *StudyPlanHandlerTestSuite) TearDownTest() {
	_ = suite.rdb.Close()
	suite.mr.Close()
}

func (suite *StudyPlanHandlerTestSuite) newApp() *fiber.App {
	app := fiber.New()
	app.Post("/study-plan", suite.handler.GeneratePlan)
	return app
}

const generateBody = `{
	"subjects": [{"name": "Maths", "topics": [{"name": "Algebra", "estimated_hours": 4}]}],
	"start_date": "2025-03-10",
	"end_date": "2025-03-14",
	"preferences": {}
}`

func (suite *StudyPlanHandlerTestSuite) cacheKeys() []string {
	keys := []string{}
	for _, k := range suite.mr.Keys() {
		if strings.HasPrefix(k, "plancache:") {
			keys = append(keys, k)
		}
	}
	return keys
}

func (suite *StudyPlanHandlerTestSuite) TestGeneratePlan() {
	app := suite.newApp()

	req := httptest.NewRequest("POST", "/study-plan", bytes.NewReader([]byte(generateBody)))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	suite.Require().NoError(err)
	suite.Equal(200, resp.StatusCode)

	var plan models.StudyPlanResponse
	suite.Require().NoError(json.NewDecoder(resp.Body).Decode(&plan))
	suite.False(plan.InsufficientTime)
	suite.Equal(4.0, plan.TotalStudyHours)
	suite.NotEmpty(plan.Days)
	suite.Equal(4.0, plan.SubjectsDistribution["Maths"])

	// Response is cached for subsequent identical requests
	suite.Len(suite.cacheKeys(), 1)
}

func (suite *StudyPlanHandlerTestSuite) TestGeneratePlanInvalidBody() {
	app := suite.newApp()

	req := httptest.NewRequest("POST", "/study-plan", bytes.NewReader([]byte("not json")))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	suite.Require().NoError(err)
	suite.Equal(400, resp.StatusCode)

	var result map[string]interface{}
	suite.Require().NoError(json.NewDecoder(resp.Body).Decode(&result))
	suite.Equal("Invalid request", result["error"])
}

func (suite *StudyPlanHandlerTestSuite) TestGeneratePlanValidationError() {
	app := suite.newApp()

	body := `{
		"subjects": [{"name": "Maths", "topics": [{"name": "Algebra", "estimated_hours": 4}]}],
		"start_date": "2025-03-10",
		"end_date": "2025-03-14"
	}`
	req := httptest.NewRequest("POST", "/study-plan", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	suite.Require().NoError(err)
	suite.Equal(400, resp.StatusCode)

	var result map[string]interface{}
	suite.Require().NoError(json.NewDecoder(resp.Body).Decode(&result))
	suite.Equal("preferences is required", result["error"])
}

func (suite *StudyPlanHandlerTestSuite) TestGeneratePlanInsufficientTime() {
	app := suite.newApp()

	body := `{
		"subjects": [{"name": "Maths", "topics": [{"name": "Everything", "estimated_hours": 100}]}],
		"start_date": "2025-03-10",
		"end_date": "2025-03-10",
		"preferences": {}
	}`
	req := httptest.NewRequest("POST", "/study-plan", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	suite.Require().NoError(err)
	suite.Equal(200, resp.StatusCode)

	var plan models.StudyPlanResponse
	suite.Require().NoError(json.NewDecoder(resp.Body).Decode(&plan))
	suite.True(plan.InsufficientTime)
	suite.Equal(100.0, plan.TotalHoursNeeded)
	suite.Equal(3.0, plan.AvailableHours)
}

func (suite *StudyPlanHandlerTestSuite) TestGeneratePlanCacheHit() {
	app := suite.newApp()

	// Seed the cache under the key the handler derives for this request
	var req models.StudyPlanRequest
	suite.Require().NoError(json.Unmarshal([]byte(generateBody), &req))
	key := cacheKey(&req)
	suite.Require().NotEmpty(key)
	suite.Require().NoError(suite.mr.Set(key, `{"days":[],"total_study_hours":99,"subjects_distribution":{},"insufficient_time":false}`))

	httpReq := httptest.NewRequest("POST", "/study-plan", bytes.NewReader([]byte(generateBody)))
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(httpReq)
	suite.Require().NoError(err)
	suite.Equal(200, resp.StatusCode)

	var plan models.StudyPlanResponse
	suite.Require().NoError(json.NewDecoder(resp.Body).Decode(&plan))
	suite.Equal(99.0, plan.TotalStudyHours)
}

func (suite *StudyPlanHandlerTestSuite) TestGeneratePlanWithoutRedis() {
	handler := NewStudyPlanHandler(nil, suite.cfg)
	app := fiber.New()
	app.Post("/study-plan", handler.GeneratePlan)

	req := httptest.NewRequest("POST", "/study-plan", bytes.NewReader([]byte(generateBody)))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	suite.Require().NoError(err)
	suite.Equal(200, resp.StatusCode)

	var plan models.StudyPlanResponse
	suite.Require().NoError(json.NewDecoder(resp.Body).Decode(&plan))
	suite.Equal(4.0, plan.TotalStudyHours)
}

func TestStudyPlanHandlerSuite(t *testing.T) {
	suite.Run(t, new(StudyPlanHandlerTestSuite))
}

// Helper function to check if string contains substring
func contains(s, substr string) bool {
	return len(s) >= len(substr) && (s == substr || len(substr) == 0 ||
		findSubstring(s, substr))
}

func findSubstring(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
