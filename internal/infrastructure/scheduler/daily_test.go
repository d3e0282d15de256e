package scheduler

import (
	"context"
	"testing"
	"time"
)

func TestNextRun(t *testing.T) {
	t.Parallel()

	d, err := NewDailyScheduler("07:00", "Asia/Seoul")
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	seoul, _ := time.LoadLocation("Asia/Seoul")

	cases := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"before trigger", time.Date(2025, 11, 8, 6, 30, 0, 0, seoul), time.Date(2025, 11, 8, 7, 0, 0, 0, seoul)},
		{"at trigger", time.Date(2025, 11, 8, 7, 0, 0, 0, seoul), time.Date(2025, 11, 9, 7, 0, 0, 0, seoul)},
		{"after trigger", time.Date(2025, 11, 8, 21, 0, 0, 0, seoul), time.Date(2025, 11, 9, 7, 0, 0, 0, seoul)},
		{"utc input", time.Date(2025, 11, 7, 23, 0, 0, 0, time.UTC), time.Date(2025, 11, 9, 7, 0, 0, 0, seoul)},
		{"month end", time.Date(2025, 11, 30, 8, 0, 0, 0, seoul), time.Date(2025, 12, 1, 7, 0, 0, 0, seoul)},
	}
	for _, tc := range cases {
		if got := d.NextRun(tc.now); !got.Equal(tc.want) {
			t.Errorf("%s: NextRun = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestNewDailySchedulerRejectsBadInput(t *testing.T) {
	t.Parallel()

	if _, err := NewDailyScheduler("25:00", "UTC"); err == nil {
		t.Fatal("expected clock error")
	}
	if _, err := NewDailyScheduler("07:00", "Mars/Olympus"); err == nil {
		t.Fatal("expected timezone error")
	}
}

func TestStartFiresAndStops(t *testing.T) {
	t.Parallel()

	d, err := NewDailyScheduler("07:00", "UTC")
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	base := time.Date(2025, 11, 8, 6, 59, 59, 980_000_000, time.UTC)
	started := time.Now()
	d.now = func() time.Time { return base.Add(time.Since(started)) }

	fired := make(chan time.Time, 1)
	if err := d.Start(context.Background(), func(t time.Time) {
		select {
		case fired <- t:
		default:
		}
	}); err != nil {
		t.Fatalf("start: %v", err)
	}

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not fire")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := d.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
