package database

// DatabaseSchema contains the complete PostgreSQL schema for the study planner
// This includes all tables, indexes, triggers, and functions required for the application
const DatabaseSchema = `
-- Enable required extensions
CREATE EXTENSION IF NOT EXISTS "uuid-ossp";
CREATE EXTENSION IF NOT EXISTS "pgcrypto";

-- Users table
CREATE TABLE IF NOT EXISTS users (
    id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
    email TEXT NOT NULL,
    password_hash TEXT NOT NULL, -- Argon2id hash
    salt BYTEA NOT NULL,
    name TEXT, -- Display name from the study profile
    created_at TIMESTAMPTZ DEFAULT NOW(),
    updated_at TIMESTAMPTZ DEFAULT NOW(),
    last_login TIMESTAMPTZ,
    failed_attempts INT DEFAULT 0,
    locked_until TIMESTAMPTZ
);

-- Case-insensitive email uniqueness
CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email_lower ON users (lower(email));

-- Add study level column for user profiles
ALTER TABLE users ADD COLUMN IF NOT EXISTS level TEXT;

-- Saved study plans: the request and generated plan are stored verbatim as JSON
CREATE TABLE IF NOT EXISTS study_plans (
    id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
    user_id UUID REFERENCES users(id) ON DELETE CASCADE NOT NULL,
    name TEXT NOT NULL DEFAULT 'Untitled plan',
    request JSONB NOT NULL, -- StudyPlanRequest as submitted
    response JSONB NOT NULL, -- Generated StudyPlanResponse
    start_date DATE NOT NULL,
    end_date DATE NOT NULL,
    total_study_hours DOUBLE PRECISION NOT NULL DEFAULT 0,
    insufficient_time BOOLEAN NOT NULL DEFAULT false,
    created_at TIMESTAMPTZ DEFAULT NOW(),
    updated_at TIMESTAMPTZ DEFAULT NOW(),
    deleted_at TIMESTAMPTZ -- Soft delete; purged by the cleanup service
);

-- Audit log for security
CREATE TABLE IF NOT EXISTS audit_log (
    id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
    user_id UUID REFERENCES users(id) ON DELETE SET NULL,
    action TEXT NOT NULL,
    resource_type TEXT,
    resource_id UUID,
    ip_address_encrypted BYTEA, -- Encrypted IP address
    user_agent_encrypted BYTEA, -- Encrypted user agent
    created_at TIMESTAMPTZ DEFAULT NOW()
);

-- Functions for automatic updated_at
CREATE OR REPLACE FUNCTION update_updated_at_column()
RETURNS TRIGGER AS $$
BEGIN
    NEW.updated_at = NOW();
    RETURN NEW;
END;
$$ language 'plpgsql';

-- Apply updated_at triggers
DO $$
BEGIN
    IF NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'update_users_updated_at') THEN
        CREATE TRIGGER update_users_updated_at BEFORE UPDATE ON users
            FOR EACH ROW EXECUTE FUNCTION update_updated_at_column();
    END IF;

    IF NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'update_study_plans_updated_at') THEN
        CREATE TRIGGER update_study_plans_updated_at BEFORE UPDATE ON study_plans
            FOR EACH ROW EXECUTE FUNCTION update_updated_at_column();
    END IF;
END $$;

-- Purge soft-deleted study plans after 30 days
CREATE OR REPLACE FUNCTION cleanup_old_deleted_plans()
RETURNS void AS $$
BEGIN
    DELETE FROM study_plans WHERE deleted_at IS NOT NULL AND deleted_at < NOW() - INTERVAL '30 days';
END;
$$ LANGUAGE plpgsql;

-- Prune audit entries older than 90 days
CREATE OR REPLACE FUNCTION cleanup_old_audit_entries()
RETURNS void AS $$
BEGIN
    DELETE FROM audit_log WHERE created_at < NOW() - INTERVAL '90 days';
END;
$$ LANGUAGE plpgsql;

-- Create indexes for better performance (optimized for common queries)
CREATE INDEX IF NOT EXISTS idx_study_plans_user ON study_plans(user_id, created_at DESC) WHERE deleted_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_study_plans_deleted ON study_plans(deleted_at) WHERE deleted_at IS NOT NULL;

CREATE INDEX IF NOT EXISTS idx_audit_user ON audit_log(user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_log(action, created_at DESC);

-- Migration tracking index for fast version checks
CREATE INDEX IF NOT EXISTS idx_migrations_version ON _migrations(version, applied_at DESC);

-- Note: Cleanup jobs run automatically via the background service
`
