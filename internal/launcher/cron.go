package launcher

import (
	"fmt"
	"strings"
	"time"
)

// CreateCronFromDelayPeriod возвращает одноразовое cron-выражение,
// срабатывающее через delay от текущего времени (UTC).
//
// Формат: "секунды минуты часы день Мес ? год". Важна только относительная
// задержка: "сейчас" считается локально, расхождение часов между хостами не мешает.
func CreateCronFromDelayPeriod(delay time.Duration) string {
	return cronAt(fireTimeAfter(time.Now(), delay))
}

// fireTimeAfter возвращает now+delay, округлённое вверх до целой секунды:
// у cron-выражения секундная точность, и округление вниз дало бы задержку меньше delay.
func fireTimeAfter(now time.Time, delay time.Duration) time.Time {
	t := now.Add(delay).UTC()
	if rounded := t.Truncate(time.Second); !rounded.Equal(t) {
		return rounded.Add(time.Second)
	}
	return t
}

// cronAt возвращает выражение, срабатывающее ровно в t.
func cronAt(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%d %d %d %d %s ? %d",
		t.Second(), t.Minute(), t.Hour(), t.Day(), t.Month().String()[:3], t.Year())
}

// TruncateSecondsAndMinutes отрезает первые два поля cron-выражения.
func TruncateSecondsAndMinutes(expr string) string {
	fields := strings.Fields(expr)
	if len(fields) <= 2 {
		return ""
	}
	return strings.Join(fields[2:], " ")
}
