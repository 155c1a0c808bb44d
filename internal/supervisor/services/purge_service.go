// Platebook - Restaurant, Dish and Visit Tracker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/platebook

package services

import (
	"context"
	"time"

	"github.com/tomtom215/platebook/internal/logging"
)

// SafetyPurger is satisfied by *backup.Service.
type SafetyPurger interface {
	PurgeSafetyBackups() int
}

// SafetyPurgeService deletes expired safety backups on a fixed interval.
// Startup recovery already purges once, so the first tick waits a full
// interval. The purger skips a round while an operation is running.
type SafetyPurgeService struct {
	purger   SafetyPurger
	interval time.Duration
	name     string
}

// NewSafetyPurgeService wraps purger. A non-positive interval means 1h.
func NewSafetyPurgeService(purger SafetyPurger, interval time.Duration) *SafetyPurgeService {
	if interval <= 0 {
		interval = time.Hour
	}
	return &SafetyPurgeService{
		purger:   purger,
		interval: interval,
		name:     "safety-purge",
	}
}

// Serve implements suture.Service.
func (s *SafetyPurgeService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logger := logging.WithComponent("safety-purge")
	logger.Debug().Dur("interval", s.interval).Msg("Safety backup purge scheduled")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n := s.purger.PurgeSafetyBackups(); n > 0 {
				logger.Debug().Int("purged", n).Msg("Safety backup purge round finished")
			}
		}
	}
}

func (s *SafetyPurgeService) String() string {
	return s.name
}
