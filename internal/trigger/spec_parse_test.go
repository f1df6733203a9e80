package trigger

import (
	"testing"
	"time"
)

func TestParseSchedule(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in       string
		wantKind SpecKind
		wantCron string
		wantDur  time.Duration
		wantSrc  string
	}{
		{in: "*/5 * * * *", wantKind: SpecCron, wantCron: "*/5 * * * *", wantSrc: "cron"},
		{in: "0 30 2 * * *", wantKind: SpecCron, wantCron: "0 30 2 * * *", wantSrc: "cron"},
		{in: "@hourly", wantKind: SpecCron, wantCron: "@hourly", wantSrc: "cron"},
		{in: "cron:@daily", wantKind: SpecCron, wantCron: "@daily", wantSrc: "cron"},
		{in: "55m", wantKind: SpecInterval, wantDur: 55 * time.Minute, wantSrc: "duration"},
		{in: "02:30", wantKind: SpecInterval, wantDur: 2*time.Hour + 30*time.Minute, wantSrc: "hhmm"},
		{in: "every:10s", wantKind: SpecInterval, wantDur: 10 * time.Second, wantSrc: "duration"},
		{in: "interval:00:50", wantKind: SpecInterval, wantDur: 50 * time.Minute, wantSrc: "hhmm"},
		{in: "daily:07:15", wantKind: SpecCron, wantCron: "15 7 * * *", wantSrc: "daily"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseSchedule(tt.in)
			if err != nil {
				t.Fatalf("ParseSchedule(%q) err: %v", tt.in, err)
			}
			if got.Kind != tt.wantKind || got.Source != tt.wantSrc {
				t.Fatalf("ParseSchedule(%q) = %+v", tt.in, got)
			}
			if tt.wantKind == SpecCron && got.Cron != tt.wantCron {
				t.Fatalf("Cron = %q, want %q", got.Cron, tt.wantCron)
			}
			if tt.wantKind == SpecInterval && got.Every != tt.wantDur {
				t.Fatalf("Every = %v, want %v", got.Every, tt.wantDur)
			}
		})
	}
}

func TestParseScheduleErrors(t *testing.T) {
	t.Parallel()
	for _, in := range []string{"", "   ", "soon", "-5m", "0s", "00:00", "01:75", "every:", "cron:", "daily:25:00", "* * *", "61 * * * *"} {
		if _, err := ParseSchedule(in); err == nil {
			t.Fatalf("ParseSchedule(%q) expected error", in)
		}
	}
}

func TestCronSpec(t *testing.T) {
	t.Parallel()
	ps, err := ParseSchedule("90s")
	if err != nil {
		t.Fatal(err)
	}
	if got := ps.CronSpec(); got != "@every 1m30s" {
		t.Fatalf("CronSpec() = %q", got)
	}
}
