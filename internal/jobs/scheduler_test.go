package jobs

import (
	"testing"

	"github.com/rs/zerolog"

	"dankerchat/backend/internal/config"
)

func TestStartValidatesSchedule(t *testing.T) {
	bad := NewScheduler(nil, config.MaintenanceConfig{SweepSchedule: "every now and then"}, zerolog.Nop())
	if err := bad.Start(); err == nil {
		t.Fatal("expected an error for an invalid schedule")
	}

	good := NewScheduler(nil, config.MaintenanceConfig{SweepSchedule: "0 */15 * * * *"}, zerolog.Nop())
	if err := good.Start(); err != nil {
		t.Fatalf("valid schedule rejected: %v", err)
	}
	if n := len(good.cron.Entries()); n != 1 {
		t.Fatalf("entries = %d", n)
	}
	good.Stop()()
}
