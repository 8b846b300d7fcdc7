package config

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"
)

// SetupDatabase initializes the database connection
func SetupDatabase(cfg *Config, logger *zap.Logger) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", cfg.Database.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	if err := createTables(db, logger); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return db, nil
}

// createTables creates the necessary tables in the database
func createTables(db *sqlx.DB, logger *zap.Logger) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id VARCHAR(36) PRIMARY KEY,
			email VARCHAR(255) UNIQUE NOT NULL,
			name VARCHAR(255) NOT NULL,
			password VARCHAR(255) NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS signees (
			id VARCHAR(36) PRIMARY KEY,
			name VARCHAR(250) NOT NULL,
			email VARCHAR(254) UNIQUE NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS documents (
			id VARCHAR(36) PRIMARY KEY,
			name VARCHAR(250) NOT NULL,
			comment VARCHAR(500) NOT NULL DEFAULT '',
			file TEXT NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			uploaded_by VARCHAR(36) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			uploaded_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS signatures (
			id VARCHAR(36) PRIMARY KEY,
			document_id VARCHAR(36) NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			signee_id VARCHAR(36) NOT NULL REFERENCES signees(id) ON DELETE CASCADE,
			position INTEGER NOT NULL CHECK (position > 0),
			signed BOOLEAN NOT NULL DEFAULT FALSE,
			signed_at TIMESTAMP,
			token VARCHAR(64) UNIQUE NOT NULL,
			signed_file TEXT,
			last_invite_sent_at TIMESTAMP,
			UNIQUE (document_id, position)
		)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}

	// Create indexes for better performance
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_signatures_document_signed ON signatures(document_id, signed, position)",
		"CREATE INDEX IF NOT EXISTS idx_documents_uploaded_at ON documents(uploaded_at DESC)",
	}

	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			// indexes are not critical
			logger.Warn("Failed to create index", zap.String("statement", idx), zap.Error(err))
		}
	}

	return nil
}
