package scheduler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidCron — cron-выражение не распознано.
var ErrInvalidCron = errors.New("invalid cron expression")

// cronParser — парсер cron-выражений с секундами.
// '?' в днях месяца/недели и имена месяцев (Jan..Dec) поддерживаются парсером.
var cronParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseCron парсит 6- или 7-польное выражение:
// "секунды минуты часы дни месяцы дни_недели [год]".
//
// Поле года robfig/cron не поддерживает, поэтому оно отрезается
// и накладывается поверх расписания отдельным фильтром.
func ParseCron(expr string) (cron.Schedule, error) {
	fields := strings.Fields(expr)

	if len(fields) == 7 {
		years, err := parseYears(fields[6])
		if err != nil {
			return nil, fmt.Errorf("%w %q: %v", ErrInvalidCron, expr, err)
		}

		inner, err := cronParser.Parse(strings.Join(fields[:6], " "))
		if err != nil {
			return nil, fmt.Errorf("%w %q: %v", ErrInvalidCron, expr, err)
		}
		if years == nil {
			return inner, nil
		}
		return &yearSchedule{inner: inner, years: years}, nil
	}

	if len(fields) != 6 && !strings.HasPrefix(expr, "@") {
		return nil, fmt.Errorf("%w %q: expected 6 or 7 fields, got %d", ErrInvalidCron, expr, len(fields))
	}

	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidCron, expr, err)
	}
	return schedule, nil
}

// ValidateCronExpr проверяет валидность cron-выражения.
func ValidateCronExpr(expr string) error {
	_, err := ParseCron(expr)
	return err
}

// NextFireTime вычисляет следующее время срабатывания после from в часовом поясе loc.
// Возвращает нулевое время, если выражение больше никогда не сработает.
func NextFireTime(expr string, loc *time.Location, from time.Time) (time.Time, error) {
	schedule, err := ParseCron(expr)
	if err != nil {
		return time.Time{}, err
	}
	return nextIn(schedule, loc, from), nil
}

func nextIn(schedule cron.Schedule, loc *time.Location, from time.Time) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	next := schedule.Next(from.In(loc))
	if next.IsZero() {
		return next
	}
	return next.UTC()
}

// maxYearSearch — горизонт поиска для поля года.
const maxYearSearch = 100

// yearSchedule ограничивает расписание набором лет.
type yearSchedule struct {
	inner cron.Schedule
	years map[int]bool
}

// Next возвращает ближайшее срабатывание inner, попадающее в разрешённый год.
func (s *yearSchedule) Next(t time.Time) time.Time {
	limit := t.Year() + maxYearSearch

	for t.Year() <= limit {
		if !s.allowed(t.Year()) {
			// Прыгаем в начало следующего разрешённого года
			year, ok := s.nextAllowed(t.Year())
			if !ok {
				return time.Time{}
			}
			t = time.Date(year, time.January, 1, 0, 0, 0, 0, t.Location()).Add(-time.Second)
		}

		next := s.inner.Next(t)
		if next.IsZero() {
			return next
		}
		if s.allowed(next.Year()) {
			return next
		}
		t = next
	}
	return time.Time{}
}

func (s *yearSchedule) allowed(year int) bool {
	return s.years[year]
}

func (s *yearSchedule) nextAllowed(after int) (int, bool) {
	best := 0
	for year := range s.years {
		if year > after && (best == 0 || year < best) {
			best = year
		}
	}
	return best, best != 0
}

// parseYears разбирает поле года: "*", "2026", "2026-2028", "2026,2030".
// nil означает "любой год".
func parseYears(field string) (map[int]bool, error) {
	if field == "*" || field == "?" {
		return nil, nil
	}

	years := make(map[int]bool)
	for _, part := range strings.Split(field, ",") {
		lo, hi, isRange := strings.Cut(part, "-")

		from, err := parseYear(lo)
		if err != nil {
			return nil, err
		}
		to := from
		if isRange {
			if to, err = parseYear(hi); err != nil {
				return nil, err
			}
		}
		if to < from {
			return nil, fmt.Errorf("year range %q is reversed", part)
		}

		for y := from; y <= to; y++ {
			years[y] = true
		}
	}
	return years, nil
}

func parseYear(s string) (int, error) {
	year, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("bad year %q", s)
	}
	if year < 1970 || year > 2199 {
		return 0, fmt.Errorf("year %d out of range", year)
	}
	return year, nil
}
