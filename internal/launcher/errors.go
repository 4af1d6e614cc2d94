package launcher

import "errors"

// ErrMalformedReminderPayload — payload триггера нельзя починить:
// в нём нет идентичности flow.
var ErrMalformedReminderPayload = errors.New("malformed reminder payload")
