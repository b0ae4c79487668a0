package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"pingchat/internal/models"
)

// SessionKey is the fixed key the session record is stored under.
const SessionKey = "pingUser"

type DB struct {
	*sql.DB
	logger zerolog.Logger
}

func NewDB(dbPath string) (*DB, error) {
	// Create the database directory if it doesn't exist
	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0700); err != nil {
		return nil, fmt.Errorf("error creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing schema: %w", err)
	}

	return &DB{
		DB:     db,
		logger: log.With().Str("component", "session").Logger(),
	}, nil
}

func initSchema(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute schema query: %w", err)
		}
	}

	return nil
}

// Restore returns the persisted user, or nil when there is none. A record
// that no longer decodes is removed and reported as absent.
func (db *DB) Restore() (*models.User, error) {
	var raw string
	err := db.QueryRow(`SELECT value FROM kv WHERE key = ?`, SessionKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	var user models.User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		db.logger.Warn().Err(err).Msg("discarding unreadable session")
		if err := db.Clear(); err != nil {
			return nil, err
		}
		return nil, nil
	}

	db.logger.Debug().Int64("user_id", user.ID).Msg("session restored")
	return &user, nil
}

func (db *DB) Save(user *models.User) error {
	if user == nil {
		return errors.New("nil user")
	}
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	_, err = db.Exec(`
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, SessionKey, string(data))
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	db.logger.Debug().Int64("user_id", user.ID).Msg("session saved")
	return nil
}

func (db *DB) Clear() error {
	if _, err := db.Exec(`DELETE FROM kv WHERE key = ?`, SessionKey); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}
