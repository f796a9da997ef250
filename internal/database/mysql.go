package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"

	"github.com/screener-back/pkg/config"
	"github.com/screener-back/pkg/models"
)

// MySQLClient handles MySQL database operations
type MySQLClient struct {
	db     *sql.DB
	logger *logrus.Entry
	cfg    *config.MySQLConfig
}

// NewMySQLClient creates a new MySQL client
func NewMySQLClient(cfg *config.MySQLConfig, logger *logrus.Logger) (*MySQLClient, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Database,
	)

	logger.WithField("dsn", fmt.Sprintf("%s:***@tcp(%s:%d)/%s", cfg.User, cfg.Host, cfg.Port, cfg.Database)).Debug("Connecting to MySQL")

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	return &MySQLClient{
		db:     db,
		logger: logger.WithField("component", "mysql"),
		cfg:    cfg,
	}, nil
}

// Close closes the database connection
func (mc *MySQLClient) Close() error {
	return mc.db.Close()
}

// Health checks database health
func (mc *MySQLClient) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	return mc.db.PingContext(ctx)
}

// Alert rule operations

// GetActiveRules retrieves all active alert rules
func (mc *MySQLClient) GetActiveRules(ctx context.Context) ([]*models.AlertRule, error) {
	query := `
		SELECT id, user_id, alert_type, COALESCE(symbol, ''), threshold,
		       time_window, channel, is_active, trigger_count,
		       last_triggered, created_at
		FROM alert_rules
		WHERE is_active = 1
		ORDER BY id
	`

	rows, err := mc.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query alert rules: %w", err)
	}
	defer rows.Close()

	var rules []*models.AlertRule
	for rows.Next() {
		rule := &models.AlertRule{}
		var lastTriggered sql.NullTime
		err := rows.Scan(
			&rule.ID,
			&rule.UserID,
			&rule.Type,
			&rule.Symbol,
			&rule.Threshold,
			&rule.Window,
			&rule.Channel,
			&rule.Active,
			&rule.TriggerCount,
			&lastTriggered,
			&rule.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert rule: %w", err)
		}
		if lastTriggered.Valid {
			rule.LastTriggered = &lastTriggered.Time
		}
		rules = append(rules, rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rule iteration failed: %w", err)
	}

	return rules, nil
}

// InsertRule persists a new alert rule and returns its ID
func (mc *MySQLClient) InsertRule(ctx context.Context, rule *models.AlertRule) (int64, error) {
	query := `
		INSERT INTO alert_rules
			(user_id, alert_type, symbol, threshold, time_window, channel, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, NOW())
	`

	symbol := sql.NullString{String: rule.Symbol, Valid: rule.Symbol != ""}
	result, err := mc.db.ExecContext(ctx, query,
		rule.UserID, rule.Type, symbol, rule.Threshold,
		rule.Window, rule.Channel, rule.Active,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert alert rule: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get rule id: %w", err)
	}

	return id, nil
}

// RecordTrigger bumps a rule's trigger count and last-triggered timestamp
func (mc *MySQLClient) RecordTrigger(ctx context.Context, ruleID int64, at time.Time) error {
	query := `
		UPDATE alert_rules
		SET trigger_count = trigger_count + 1, last_triggered = ?
		WHERE id = ?
	`

	if _, err := mc.db.ExecContext(ctx, query, at, ruleID); err != nil {
		return fmt.Errorf("failed to record trigger for rule %d: %w", ruleID, err)
	}

	return nil
}

// DeactivateRule soft-deletes a rule
func (mc *MySQLClient) DeactivateRule(ctx context.Context, ruleID int64) error {
	query := `UPDATE alert_rules SET is_active = 0 WHERE id = ?`

	if _, err := mc.db.ExecContext(ctx, query, ruleID); err != nil {
		return fmt.Errorf("failed to deactivate rule %d: %w", ruleID, err)
	}

	return nil
}

// User operations

// GetUserByToken resolves an auth token to a user, nil when the token is
// unknown or expired.
func (mc *MySQLClient) GetUserByToken(ctx context.Context, token string) (*models.User, error) {
	query := `
		SELECT u.id, u.email, u.subscription_plan
		FROM users u
		JOIN auth_tokens t ON t.user_id = u.id
		WHERE t.token = ? AND (t.expires_at IS NULL OR t.expires_at > NOW())
	`

	user := &models.User{}
	var plan string
	err := mc.db.QueryRowContext(ctx, query, token).Scan(&user.ID, &user.Email, &plan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user by token: %w", err)
	}

	user.Plan = models.ParsePlan(plan)
	return user, nil
}

// ExecTx executes a function within a database transaction
func (mc *MySQLClient) ExecTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := mc.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx error: %v, rollback error: %w", err, rbErr)
		}
		return err
	}

	return tx.Commit()
}
