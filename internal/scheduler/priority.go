package scheduler

import (
	"fmt"
	"strings"
)

// Priority orders queued requests. Lower values are more urgent.
type Priority int

const (
	// PriorityPreparation is whole-project ingestion at project load.
	PriorityPreparation Priority = iota
	// PriorityCurrent is work for the image the user is looking at.
	PriorityCurrent
	// PriorityVisibleOverlay is work for overlays visible on screen.
	PriorityVisibleOverlay
	// PriorityBackground is speculative work.
	PriorityBackground
)

var priorityNames = [...]string{
	PriorityPreparation:    "preparation",
	PriorityCurrent:        "current",
	PriorityVisibleOverlay: "visible-overlay",
	PriorityBackground:     "background",
}

func (p Priority) String() string {
	if p.Valid() {
		return priorityNames[p]
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// Valid reports whether p is one of the defined priorities.
func (p Priority) Valid() bool {
	return p >= PriorityPreparation && p <= PriorityBackground
}

// ParsePriority parses a priority name as printed by String.
// Matching is case-insensitive and accepts "_" in place of "-".
func ParsePriority(s string) (Priority, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-")
	for p, name := range priorityNames {
		if name == norm {
			return Priority(p), nil
		}
	}
	return 0, fmt.Errorf("unknown priority %q", s)
}
