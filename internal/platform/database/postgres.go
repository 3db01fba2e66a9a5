package database

import (
	"time"

	"videojobs/internal/platform/config"
	"videojobs/internal/platform/logger"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	"github.com/jmoiron/sqlx"
)

var DB *sqlx.DB

// Connect opens the configured store backend into DB and exits the process on failure.
func Connect() {
	var err error
	DB, err = Open(config.AppConfig)
	if err != nil {
		logger.Get().Fatalf("Error connecting to database: %v", err)
	}
	logger.Get().WithField("driver", DB.DriverName()).Info("Successfully connected to database")
}

// Open returns a connection for cfg.DBDriver ("pgx" or "sqlite3").
func Open(cfg *config.Config) (*sqlx.DB, error) {
	if cfg.DBDriver == "sqlite3" {
		return OpenSQLite(cfg.SQLitePath)
	}
	return OpenPostgres(cfg.DBConnStr)
}

func OpenPostgres(connStr string) (*sqlx.DB, error) {
	db, err := sqlx.Open("pgx", connStr)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func Close() {
	if DB != nil {
		DB.Close()
		logger.Get().Info("Database connection closed.")
	}
}
