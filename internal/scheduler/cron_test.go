package scheduler

import (
	"errors"
	"testing"
	"time"
)

var base = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func TestNextFireTime(t *testing.T) {
	tests := []struct {
		name string
		expr string
		loc  *time.Location
		from time.Time
		want time.Time
	}{
		{
			name: "daily with question mark",
			expr: "0 0 9 * * ?",
			from: base,
			want: time.Date(2026, 10, 20, 9, 0, 0, 0, time.UTC),
		},
		{
			name: "month name and year",
			expr: "30 15 12 19 Oct ? 2026",
			from: base,
			want: time.Date(2026, 10, 19, 12, 15, 30, 0, time.UTC),
		},
		{
			name: "future year only",
			expr: "0 0 0 1 Jan ? 2028",
			from: base,
			want: time.Date(2028, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "year range skips current year",
			expr: "0 0 0 1 * ? 2027-2028",
			from: base,
			want: time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "wildcard year",
			expr: "0 */5 * * * ? *",
			from: base,
			want: time.Date(2026, 10, 19, 12, 5, 0, 0, time.UTC),
		},
		{
			name: "timezone",
			expr: "0 0 9 * * ?",
			loc:  time.FixedZone("MSK", 3*60*60),
			from: base,
			want: time.Date(2026, 10, 20, 6, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextFireTime(tt.expr, tt.loc, tt.from)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestNextFireTime_PastYear(t *testing.T) {
	got, err := NextFireTime("0 0 0 1 Jan ? 2025", time.UTC, base)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.IsZero() {
		t.Errorf("expected no future fire, got %v", got)
	}
}

func TestValidateCronExpr_Invalid(t *testing.T) {
	tests := []string{
		"",
		"* * * * *",     // 5 полей: секунды обязательны
		"0 0 9 * * ? 1", // год вне диапазона
		"0 0 9 * * ? 2030-2028",
		"0 0 9 * * ? abc",
		"61 0 9 * * ?",
		"0 0 9 * Foo ?",
		"1 2 3 4 5 6 7 8",
	}

	for _, expr := range tests {
		t.Run(expr, func(t *testing.T) {
			if err := ValidateCronExpr(expr); !errors.Is(err, ErrInvalidCron) {
				t.Errorf("expected ErrInvalidCron for %q, got %v", expr, err)
			}
		})
	}
}

func TestValidateCronExpr_Valid(t *testing.T) {
	tests := []string{
		"0 0 9 * * ?",
		"0 0 9 ? * MON-FRI",
		"5 4 3 2 Jan ? 2030",
		"0 0 0 1 * ? 2026,2028",
		"@hourly",
	}

	for _, expr := range tests {
		if err := ValidateCronExpr(expr); err != nil {
			t.Errorf("expected %q to be valid, got %v", expr, err)
		}
	}
}
