package database

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"

	"shop-service/config"
)

var DB *sql.DB

// InitDB opens the pool and waits for the server to come up. MySQL inside
// compose networks is routinely a few seconds behind the service.
func InitDB(cfg *config.Config) error {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true",
		cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)

	var err error
	for i := 0; i < 10; i++ {
		DB, err = sql.Open("mysql", dsn)
		if err == nil {
			if err = DB.Ping(); err == nil {
				log.Info().Str("db", cfg.DBName).Msg("connected to database")
				return nil
			}
		}
		log.Warn().Err(err).Int("attempt", i+1).Msg("database not ready, retrying")
		time.Sleep(3 * time.Second)
	}
	return fmt.Errorf("connect to %s at %s:%s: %w", cfg.DBName, cfg.DBHost, cfg.DBPort, err)
}

func CloseDB() {
	if DB != nil {
		_ = DB.Close()
	}
}

// InitSchema creates the tables if they do not exist. Idempotent, runs on
// every boot.
func InitSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS products (
			id INT AUTO_INCREMENT PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			description TEXT NULL,
			price DECIMAL(10,2) NOT NULL,
			stock INT NOT NULL DEFAULT 0,
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			created_by INT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			approved_at TIMESTAMP NULL,
			approved_by INT NULL,
			INDEX idx_products_status (status)
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id INT AUTO_INCREMENT PRIMARY KEY,
			user_id INT NOT NULL,
			total DECIMAL(10,2) NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			completed_at TIMESTAMP NULL,
			INDEX idx_orders_user (user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS order_items (
			id INT AUTO_INCREMENT PRIMARY KEY,
			order_id INT NOT NULL,
			product_id INT NOT NULL,
			product_name VARCHAR(255) NOT NULL,
			quantity INT NOT NULL,
			unit_price DECIMAL(10,2) NOT NULL,
			subtotal DECIMAL(10,2) NOT NULL,
			INDEX idx_order_items_order (order_id),
			INDEX idx_order_items_product (product_id),
			CONSTRAINT fk_order_items_order FOREIGN KEY (order_id) REFERENCES orders(id) ON DELETE CASCADE
		)`,
	}

	for _, stmt := range stmts {
		if _, err := DB.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}
