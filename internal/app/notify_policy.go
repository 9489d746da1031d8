package app

import (
	"fmt"
	"strings"
)

// NotifyPolicy decides whether a positive verdict is worth a message.
type NotifyPolicy string

const (
	// NotifyOnEdge notifies only when availability flips from unavailable
	// (or never checked) to available, and re-arms once seats disappear again.
	NotifyOnEdge NotifyPolicy = "edge"
	// NotifyEveryCycle notifies on every positive verdict.
	NotifyEveryCycle NotifyPolicy = "every"
)

// ParseNotifyPolicy accepts "edge" or "every"; empty means edge.
func ParseNotifyPolicy(s string) (NotifyPolicy, error) {
	switch NotifyPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", NotifyOnEdge:
		return NotifyOnEdge, nil
	case NotifyEveryCycle:
		return NotifyEveryCycle, nil
	default:
		return "", fmt.Errorf("unknown notify policy %q (want %q or %q)", s, NotifyOnEdge, NotifyEveryCycle)
	}
}

// ShouldNotify reports whether the current verdict warrants a notification.
// previous is the last successfully observed availability, nil if unknown.
func (p NotifyPolicy) ShouldNotify(previous *bool, available bool) bool {
	if !available {
		return false
	}
	if p == NotifyEveryCycle {
		return true
	}
	return previous == nil || !*previous
}
