package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/shaiso/Arbiter/internal/scheduler"
)

// Максимум срабатываний в /cron/next.
const maxCronPreview = 50

// ListTriggers возвращает триггеры этого инстанса (recurring и reminder).
// GET /api/v1/triggers
func (h *Handler) ListTriggers(w http.ResponseWriter, r *http.Request) {
	if h.triggers == nil {
		ServiceUnavailable(w, "trigger scheduler not configured")
		return
	}

	triggers := h.triggers.Triggers()
	List(w, triggers, len(triggers))
}

// CronNext возвращает ближайшие срабатывания cron-выражения.
// GET /api/v1/cron/next?expr=...&tz=...&count=...
func (h *Handler) CronNext(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	expr := q.Get("expr")
	if expr == "" {
		BadRequest(w, "expr is required")
		return
	}

	tz := q.Get("tz")
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		BadRequest(w, "invalid timezone: "+tz)
		return
	}

	count := 5
	if raw := q.Get("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxCronPreview {
			BadRequest(w, "count must be between 1 and "+strconv.Itoa(maxCronPreview))
			return
		}
		count = n
	}

	resp := CronNextResponse{Expr: expr, Timezone: tz, Next: make([]time.Time, 0, count)}
	from := h.now()
	for range count {
		next, err := scheduler.NextFireTime(expr, loc, from)
		if HandleError(w, h.logger, err, "") {
			return
		}
		if next.IsZero() {
			break
		}
		resp.Next = append(resp.Next, next)
		from = next
	}
	Success(w, resp)
}
