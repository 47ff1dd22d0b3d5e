package activity

import "permission-explorer/internal/store"

// Nop discards all events. Used when the activity log is disabled.
type Nop struct{}

func (Nop) Record(store.Event) {}
