// Offline performance report: reads settled trades from the database and
// prints win rates broken down by hour of day and by asset.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"binary-options-bot/config"
	"binary-options-bot/internal/database"
	"binary-options-bot/internal/logging"
)

func main() {
	days := flag.Int("days", 7, "trailing window in days")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if !cfg.DatabaseConfig.Enabled {
		fmt.Println("Database is disabled in configuration; nothing to analyze")
		os.Exit(1)
	}

	logger := logging.New(&logging.Config{Level: "WARN", Output: "stderr", Component: "analyze"})

	db, err := database.NewDB(database.Config{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Database,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
	}, logger)
	if err != nil {
		fmt.Printf("Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	repo := database.NewRepository(db)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	since := time.Now().AddDate(0, 0, -*days)

	fmt.Printf("Performance report, last %d days (since %s)\n\n", *days, since.Format("2006-01-02"))

	hourly, err := repo.HourlyPerformanceSince(ctx, since)
	if err != nil {
		fmt.Printf("Hourly query failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("By hour of day:")
	fmt.Printf("  %-6s %6s %6s %8s %10s\n", "HOUR", "WINS", "LOSSES", "WINRATE", "PNL")
	for _, h := range hourly {
		total := h.Wins + h.Losses
		winRate := 0.0
		if total > 0 {
			winRate = float64(h.Wins) / float64(total) * 100
		}
		fmt.Printf("  %02d:00  %6d %6d %7.1f%% %10.2f\n", h.Hour, h.Wins, h.Losses, winRate, h.TotalPnL)
	}

	assets, err := repo.AssetPerformanceSince(ctx, since)
	if err != nil {
		fmt.Printf("Asset query failed: %v\n", err)
		os.Exit(1)
	}

	// Worst performers first so problem assets are visible at a glance
	sort.Slice(assets, func(i, j int) bool {
		return assets[i].TotalPnL < assets[j].TotalPnL
	})

	fmt.Println("\nBy asset:")
	fmt.Printf("  %-10s %6s %6s %8s %10s\n", "ASSET", "WINS", "LOSSES", "WINRATE", "PNL")
	var totalWins, totalLosses int
	var totalPnL float64
	for _, a := range assets {
		total := a.Wins + a.Losses
		winRate := 0.0
		if total > 0 {
			winRate = float64(a.Wins) / float64(total) * 100
		}
		fmt.Printf("  %-10s %6d %6d %7.1f%% %10.2f\n", a.Asset, a.Wins, a.Losses, winRate, a.TotalPnL)
		totalWins += a.Wins
		totalLosses += a.Losses
		totalPnL += a.TotalPnL
	}

	totalTrades := totalWins + totalLosses
	overall := 0.0
	if totalTrades > 0 {
		overall = float64(totalWins) / float64(totalTrades) * 100
	}
	fmt.Printf("\nTotal: %d trades, %.1f%% win rate, %.2f net P&L\n", totalTrades, overall, totalPnL)
}
