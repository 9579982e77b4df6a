// Copyright 2026 The Auth9 Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// One-shot retention job. Run from cron to expire stale invitations and
// purge login events, resolved alerts and provisioning log entries past
// their retention window.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/auth9/auth9/internal/audit"
	"github.com/auth9/auth9/internal/config"
	"github.com/auth9/auth9/internal/observability/logger"
	"github.com/auth9/auth9/internal/scim"
	"github.com/auth9/auth9/internal/security"
	"github.com/auth9/auth9/internal/store/postgres"
)

func main() {
	eventRetention := flag.Duration("event-retention", 90*24*time.Hour, "login event retention window")
	alertRetention := flag.Duration("alert-retention", 180*24*time.Hour, "resolved alert retention window")
	scimRetention := flag.Duration("scim-retention", 90*24*time.Hour, "provisioning log retention window")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Init(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      "text",
		ServiceName: "auth9-cleanup",
	})

	ctx := context.Background()
	db, err := postgres.New(ctx, cfg.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	auditLogger := audit.NewSlogLogger()
	securityService := security.NewService(
		postgres.NewLoginEventRepository(db),
		postgres.NewAlertRepository(db),
		nil,
		auditLogger,
		security.DefaultPolicy(),
	)
	scimService := scim.NewService(
		postgres.NewUserRepository(db),
		postgres.NewScimGroupRepository(db),
		postgres.NewScimLogRepository(db),
		nil,
		auditLogger,
	)

	stale, err := postgres.NewInvitationRepository(db).ExpireStale(ctx, time.Now())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to expire invitations: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Expired %d stale invitations\n", stale)

	events, err := securityService.PurgeLoginEvents(ctx, *eventRetention)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to purge login events: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Purged %d login events\n", events)

	alerts, err := securityService.PurgeAlerts(ctx, *alertRetention)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to purge alerts: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Purged %d resolved alerts\n", alerts)

	entries, err := scimService.PurgeLog(ctx, *scimRetention)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to purge provisioning log: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Purged %d provisioning log entries\n", entries)
}
