package server

import (
	"sync/atomic"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"studyplan/config"
)

// CryptoService interface defines cryptographic operations needed by the server
type CryptoService interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// ReadyState tracks initialization state for health checks
type ReadyState struct {
	db          *pgxpool.Pool
	crypto      CryptoService
	config      *config.Config
	rdb         *redis.Client
	configReady atomic.Bool
	dbReady     atomic.Bool
	redisReady  atomic.Bool
	cryptoReady atomic.Bool
}

// NewReadyState creates a new ReadyState instance
func NewReadyState(db *pgxpool.Pool, crypto CryptoService, cfg *config.Config, rdb *redis.Client) *ReadyState {
	return &ReadyState{
		db:     db,
		crypto: crypto,
		config: cfg,
		rdb:    rdb,
	}
}

// MarkConfigReady marks configuration loading as complete
func (r *ReadyState) MarkConfigReady() {
	r.configReady.Store(true)
}

// MarkDatabaseReady marks the database initialization as complete
func (r *ReadyState) MarkDatabaseReady() {
	r.dbReady.Store(true)
}

// MarkRedisReady marks the Redis initialization as complete
func (r *ReadyState) MarkRedisReady() {
	r.redisReady.Store(true)
}

// MarkCryptoReady marks the crypto service initialization as complete
func (r *ReadyState) MarkCryptoReady() {
	r.cryptoReady.Store(true)
}

// IsFullyReady returns true if all initialization steps are complete
func (r *ReadyState) IsFullyReady() bool {
	return r.configReady.Load() &&
		r.dbReady.Load() &&
		r.redisReady.Load() &&
		r.cryptoReady.Load()
}

// GetDB returns the database connection pool
func (r *ReadyState) GetDB() *pgxpool.Pool {
	return r.db
}

// GetRedis returns the Redis client
func (r *ReadyState) GetRedis() *redis.Client {
	return r.rdb
}

// GetConfig returns the application configuration
func (r *ReadyState) GetConfig() *config.Config {
	return r.config
}

// GetCrypto returns the crypto service
func (r *ReadyState) GetCrypto() CryptoService {
	return r.crypto
}

// IsConfigReady returns true if configuration loading is complete
func (r *ReadyState) IsConfigReady() bool {
	return r.configReady.Load()
}

// IsDatabaseReady returns true if database initialization is complete
func (r *ReadyState) IsDatabaseReady() bool {
	return r.dbReady.Load()
}

// IsRedisReady returns true if Redis initialization is complete
func (r *ReadyState) IsRedisReady() bool {
	return r.redisReady.Load()
}

// IsCryptoReady returns true if the crypto service initialization is complete
func (r *ReadyState) IsCryptoReady() bool {
	return r.cryptoReady.Load()
}
