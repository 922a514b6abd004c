package quota

import (
	"context"
	"testing"

	"mercator-hq/relayguard/pkg/storage/kv"
)

func TestScheduler_Start(t *testing.T) {
	tests := []struct {
		name        string
		schedule    string
		wantRunning bool
		wantError   bool
	}{
		{name: "default schedule", schedule: "", wantRunning: true},
		{name: "descriptor", schedule: "@every 10m", wantRunning: true},
		{name: "standard cron", schedule: "*/5 * * * *", wantRunning: true},
		{name: "invalid schedule", schedule: "invalid cron", wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGuard(t, kv.NewMemoryStore(0), 1000)
			scheduler := NewScheduler(g, tt.schedule)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			err := scheduler.Start(ctx)
			if (err != nil) != tt.wantError {
				t.Errorf("Start() error = %v, wantError %v", err, tt.wantError)
			}
			if scheduler.IsRunning() != tt.wantRunning {
				t.Errorf("IsRunning() = %v, want %v", scheduler.IsRunning(), tt.wantRunning)
			}
			if tt.wantRunning && scheduler.NextRun() == nil {
				t.Error("NextRun() returned nil for running scheduler")
			}

			scheduler.Stop()
			if scheduler.IsRunning() {
				t.Error("Expected scheduler to be stopped")
			}
		})
	}
}

func TestScheduler_RunOnce(t *testing.T) {
	store := kv.NewMemoryStore(0)
	g := newTestGuard(t, store, 1000)
	fill(t, store, "tmp:a", 300)
	fill(t, store, "settings", 400)

	NewScheduler(g, "").RunOnce(context.Background())

	if has(t, store, "tmp:a") {
		t.Error("Expected maintenance run to remove temporary key")
	}
	if !has(t, store, "settings") {
		t.Error("Expected settings to survive")
	}
}
