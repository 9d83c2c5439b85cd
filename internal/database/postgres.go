package database

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"
	"github.com/spf13/viper"
)

var db *sql.DB

// DBConfig holds database configuration
type DBConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// GetConfig returns database configuration with defaults
func GetConfig() *DBConfig {
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", "5432")
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "password")
	viper.SetDefault("database.name", "vaultgrails")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", time.Minute*5)

	return &DBConfig{
		Host:            viper.GetString("database.host"),
		Port:            viper.GetString("database.port"),
		User:            viper.GetString("database.user"),
		Password:        viper.GetString("database.password"),
		Name:            viper.GetString("database.name"),
		SSLMode:         viper.GetString("database.ssl_mode"),
		MaxOpenConns:    viper.GetInt("database.max_open_conns"),
		MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
		ConnMaxLifetime: viper.GetDuration("database.conn_max_lifetime"),
	}
}

// InitDB initializes the database connection and schema
func InitDB() (*sql.DB, error) {
	config := GetConfig()

	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.Name, config.SSLMode,
	)

	var err error
	db, err = sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	if err = createTables(db); err != nil {
		return nil, fmt.Errorf("error creating schema: %w", err)
	}

	log.Println("Database connection established")
	return db, nil
}

// createTables creates the schema if it does not exist. The ticket ledger is
// append-only: no UPDATE or DELETE is ever issued against ticket_transactions.
func createTables(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id SERIAL PRIMARY KEY,
			email VARCHAR(255) UNIQUE NOT NULL,
			username VARCHAR(30) NOT NULL,
			password_hash VARCHAR(255) NOT NULL,
			first_name VARCHAR(100) NOT NULL,
			last_name VARCHAR(100) NOT NULL,
			date_of_birth DATE NOT NULL,
			role VARCHAR(10) NOT NULL DEFAULT 'user',
			subscription_status VARCHAR(10) NOT NULL DEFAULT 'free',
			stripe_customer_id VARCHAR(255) NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_login TIMESTAMPTZ
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS users_username_lower_idx ON users (LOWER(username))`,
		`CREATE TABLE IF NOT EXISTS ticket_transactions (
			id SERIAL PRIMARY KEY,
			user_id INTEGER NOT NULL REFERENCES users(id),
			amount BIGINT NOT NULL,
			type VARCHAR(20) NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			stripe_payment_id VARCHAR(255) UNIQUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS ticket_transactions_user_idx ON ticket_transactions (user_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS raffles (
			id SERIAL PRIMARY KEY,
			title VARCHAR(255) NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			category VARCHAR(50) NOT NULL,
			year INTEGER NOT NULL DEFAULT 0,
			grade VARCHAR(20) NOT NULL DEFAULT '',
			value NUMERIC(12, 2) NOT NULL,
			image_url TEXT NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'active',
			draw_date TIMESTAMPTZ NOT NULL,
			min_tickets BIGINT NOT NULL DEFAULT 1,
			max_tickets BIGINT,
			featured BOOLEAN NOT NULL DEFAULT FALSE,
			winner_user_id INTEGER REFERENCES users(id),
			winner_selected_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS raffles_status_idx ON raffles (status, draw_date)`,
		`CREATE TABLE IF NOT EXISTS raffle_entries (
			id SERIAL PRIMARY KEY,
			user_id INTEGER NOT NULL REFERENCES users(id),
			raffle_id INTEGER NOT NULL REFERENCES raffles(id),
			ticket_count BIGINT NOT NULL,
			entered_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS raffle_entries_raffle_idx ON raffle_entries (raffle_id)`,
		`CREATE INDEX IF NOT EXISTS raffle_entries_user_idx ON raffle_entries (user_id, entered_at)`,
		`CREATE TABLE IF NOT EXISTS ad_views (
			id SERIAL PRIMARY KEY,
			user_id INTEGER NOT NULL REFERENCES users(id),
			ad_id VARCHAR(255) NOT NULL DEFAULT '',
			tickets_earned BIGINT NOT NULL DEFAULT 1,
			viewed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS ad_views_user_idx ON ad_views (user_id, viewed_at)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// GetDB returns the database connection
func GetDB() *sql.DB {
	return db
}

// CloseDB closes the database connection
func CloseDB() error {
	if db != nil {
		return db.Close()
	}
	return nil
}

// InitDatabase initializes database with error handling
func InitDatabase() *sql.DB {
	db, err := InitDB()
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	return db
}
