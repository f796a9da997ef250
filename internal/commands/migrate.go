package commands

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/spf13/cobra"

	"github.com/screener-back/pkg/config"
)

var dryRun bool

// migrateCmd represents the migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Database schema management",
	Long: `Create or update the MySQL schema used by the screener.

Examples:
  screener-back migrate up       # Apply the schema
  screener-back migrate status   # Show which tables exist`,
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply the schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		return applySchema()
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show schema status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showSchemaStatus()
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateStatusCmd)

	migrateCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "Print statements without executing them")
}

// schemaTables lists the tables in dependency order. Statements are
// idempotent so `migrate up` can run repeatedly.
var schemaTables = []struct {
	name string
	ddl  string
}{
	{
		name: "users",
		ddl: `CREATE TABLE IF NOT EXISTS users (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	email VARCHAR(255) NOT NULL UNIQUE,
	subscription_plan VARCHAR(32) NOT NULL DEFAULT 'free',
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`,
	},
	{
		name: "auth_tokens",
		ddl: `CREATE TABLE IF NOT EXISTS auth_tokens (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	user_id BIGINT NOT NULL,
	token VARCHAR(128) NOT NULL UNIQUE,
	expires_at TIMESTAMP NULL,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	CONSTRAINT fk_auth_tokens_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
)`,
	},
	{
		name: "alert_rules",
		ddl: `CREATE TABLE IF NOT EXISTS alert_rules (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	user_id BIGINT NOT NULL,
	alert_type VARCHAR(32) NOT NULL,
	symbol VARCHAR(32) NULL,
	threshold DOUBLE NOT NULL DEFAULT 0,
	time_window VARCHAR(8) NOT NULL DEFAULT '5m',
	channel VARCHAR(16) NOT NULL DEFAULT 'email',
	is_active TINYINT(1) NOT NULL DEFAULT 1,
	trigger_count BIGINT NOT NULL DEFAULT 0,
	last_triggered TIMESTAMP NULL,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	CONSTRAINT fk_alert_rules_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
	INDEX idx_alert_rules_active (is_active),
	INDEX idx_alert_rules_symbol (symbol)
)`,
	},
}

func applySchema() error {
	db, err := connectDB()
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, table := range schemaTables {
		if dryRun {
			fmt.Printf("-- %s\n%s;\n\n", table.name, table.ddl)
			continue
		}
		if _, err := db.ExecContext(ctx, table.ddl); err != nil {
			return fmt.Errorf("failed to create %s: %w", table.name, err)
		}
		fmt.Printf("Applied: %s\n", table.name)
	}

	return nil
}

func showSchemaStatus() error {
	db, err := connectDB()
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	fmt.Printf("%-16s %-8s\n", "Table", "Exists")
	fmt.Println("------------------------")

	for _, table := range schemaTables {
		var name string
		err := db.QueryRowContext(ctx,
			"SELECT table_name FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?",
			table.name,
		).Scan(&name)

		exists := "yes"
		if err == sql.ErrNoRows {
			exists = "no"
		} else if err != nil {
			return fmt.Errorf("failed to check %s: %w", table.name, err)
		}

		fmt.Printf("%-16s %-8s\n", table.name, exists)
	}

	return nil
}

func connectDB() (*sql.DB, error) {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Printf("Note: .env file not loaded: %v\n", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	db, err := sql.Open("mysql", cfg.GetMySQLDSN())
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}
