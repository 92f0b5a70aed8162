package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"wisefido-equipment/internal/config"
	"wisefido-equipment/internal/logger"
	"wisefido-equipment/internal/models"
	"wisefido-equipment/internal/report"
	"wisefido-equipment/internal/repository"

	_ "github.com/lib/pq"
)

const exportPageSize = 500

func main() {
	// Parse command line arguments
	var outFile = flag.String("out", "warnings_report.xlsx", "Output file path")
	var deviceID = flag.String("device", "", "Filter by device ID")
	var warningType = flag.String("type", "", "Filter by warning type (e.g., 'voltage_high')")
	var status = flag.String("status", "", "Filter by status (active/acknowledged/resolved/ignored)")
	var severity = flag.String("severity", "", "Filter by severity (minor/moderate/major/critical)")
	var days = flag.Int("days", 0, "Only include warnings created in the last N days (0 = no limit)")
	var telemetryHours = flag.Int("telemetry-hours", 24, "Include telemetry ingested in the last N hours (0 = skip)")
	var telemetryLimit = flag.Int("telemetry-limit", 1000, "Max telemetry rows in the report")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zlog, err := logger.NewLogger("warn", "console", "export-warnings")
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zlog.Sync()

	db, err := sql.Open("postgres", cfg.Database.GetDSN())
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Cannot connect to database: %v", err)
	}

	fmt.Printf("Connected to database: %s\n", cfg.Database.Database)

	warningRepo := repository.NewWarningRepository(db, zlog)
	notifRepo := repository.NewNotificationRepository(db, zlog)
	telemetryRepo := repository.NewTelemetryRepository(db, zlog)

	filter := &repository.WarningFilter{}
	if *deviceID != "" {
		filter.DeviceID = deviceID
	}
	if *warningType != "" {
		filter.WarningType = warningType
	}
	if *status != "" {
		filter.Status = status
	}
	if *severity != "" {
		filter.Severity = severity
	}
	if *days > 0 {
		start := time.Now().AddDate(0, 0, -*days)
		filter.StartTime = &start
	}

	ctx := context.Background()

	// 分页拉取全部匹配告警
	warnings := []*models.Warning{}
	page := 1
	for {
		batch, total, err := warningRepo.ListWarnings(ctx, filter, page, exportPageSize)
		if err != nil {
			log.Fatalf("Failed to list warnings: %v", err)
		}
		warnings = append(warnings, batch...)
		if len(warnings) >= total || len(batch) == 0 {
			break
		}
		page++
	}

	fmt.Printf("Fetched %d warnings\n", len(warnings))

	// 拉取每条告警的升级通知明细
	notifications := make(map[string][]*models.WarningNotification, len(warnings))
	for _, w := range warnings {
		items, err := notifRepo.ListByWarning(ctx, w.ID)
		if err != nil {
			log.Fatalf("Failed to list notifications for warning %s: %v", w.ID, err)
		}
		notifications[w.ID] = items
	}

	// 拉取近期遥测历史
	telemetry := []*models.TelemetryRecord{}
	if *telemetryHours > 0 {
		since := time.Now().Add(-time.Duration(*telemetryHours) * time.Hour)
		telemetry, err = telemetryRepo.ListRecentTelemetry(ctx, since, *telemetryLimit)
		if err != nil {
			log.Fatalf("Failed to list telemetry: %v", err)
		}
		fmt.Printf("Fetched %d telemetry records\n", len(telemetry))
	}

	data, err := report.BuildWarningReport(warnings, notifications, telemetry)
	if err != nil {
		log.Fatalf("Failed to build report: %v", err)
	}

	if err := os.WriteFile(*outFile, data, 0644); err != nil {
		log.Fatalf("Failed to write report file: %v", err)
	}

	fmt.Printf("Report written to %s (%d bytes)\n", *outFile, len(data))
}
