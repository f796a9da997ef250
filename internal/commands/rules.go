package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/screener-back/internal/database"
	"github.com/screener-back/pkg/config"
	"github.com/screener-back/pkg/logger"
	"github.com/screener-back/pkg/models"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage alert rules",
	Long:  "Commands for listing and seeding alert rules",
}

var listRulesCmd = &cobra.Command{
	Use:   "list",
	Short: "List active alert rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		mysqlClient, err := connectMySQL()
		if err != nil {
			return err
		}
		defer mysqlClient.Close()

		rules, err := mysqlClient.GetActiveRules(context.Background())
		if err != nil {
			return fmt.Errorf("failed to load rules: %w", err)
		}

		fmt.Printf("%-6s %-8s %-16s %-12s %-10s %-10s %-8s\n",
			"ID", "User", "Type", "Symbol", "Threshold", "Window", "Fires")
		fmt.Println(strings.Repeat("-", 78))

		for _, rule := range rules {
			symbol := rule.Symbol
			if symbol == "" {
				symbol = "*"
			}
			fmt.Printf("%-6d %-8d %-16s %-12s %-10.2f %-10s %-8d\n",
				rule.ID, rule.UserID, rule.Type, symbol,
				rule.Threshold, rule.Window, rule.TriggerCount)
		}

		fmt.Printf("\nTotal: %d rules\n", len(rules))
		return nil
	},
}

var addRuleCmd = &cobra.Command{
	Use:   "add",
	Short: "Add an alert rule",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetInt64("user")
		ruleType, _ := cmd.Flags().GetString("type")
		symbol, _ := cmd.Flags().GetString("symbol")
		threshold, _ := cmd.Flags().GetFloat64("threshold")
		window, _ := cmd.Flags().GetString("window")
		channel, _ := cmd.Flags().GetString("channel")

		rule := &models.AlertRule{
			UserID:    userID,
			Type:      models.AlertType(ruleType),
			Symbol:    strings.ToUpper(symbol),
			Threshold: threshold,
			Window:    models.AlertWindow(window),
			Channel:   models.NotifyChannel(channel),
			Active:    true,
		}

		if !rule.Type.Valid() {
			return fmt.Errorf("unknown alert type %q", ruleType)
		}
		if rule.Window.Minutes() == 0 {
			return fmt.Errorf("unknown window %q", window)
		}

		mysqlClient, err := connectMySQL()
		if err != nil {
			return err
		}
		defer mysqlClient.Close()

		id, err := mysqlClient.InsertRule(context.Background(), rule)
		if err != nil {
			return fmt.Errorf("failed to insert rule: %w", err)
		}

		fmt.Printf("Created rule %d\n", id)
		return nil
	},
}

func connectMySQL() (*database.MySQLClient, error) {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Printf("Note: .env file not loaded: %v\n", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	mysqlClient, err := database.NewMySQLClient(&cfg.MySQL, log)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MySQL: %w", err)
	}

	return mysqlClient, nil
}

func init() {
	rootCmd.AddCommand(rulesCmd)
	rulesCmd.AddCommand(listRulesCmd)
	rulesCmd.AddCommand(addRuleCmd)

	addRuleCmd.Flags().Int64("user", 0, "Owner user ID")
	addRuleCmd.Flags().String("type", "pump", "Alert type (pump, dump, price_movement, volume_change, rsi_overbought, rsi_oversold)")
	addRuleCmd.Flags().String("symbol", "", "Symbol, empty matches any symbol")
	addRuleCmd.Flags().Float64("threshold", 0, "Threshold value")
	addRuleCmd.Flags().String("window", "5m", "Window (1m, 5m, 15m, 1h, 24h)")
	addRuleCmd.Flags().String("channel", "email", "Notification channel (email, telegram, both)")
}
