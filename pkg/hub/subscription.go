package hub

import (
	"errors"
	"strings"
)

// Subscription is a stream client's filter criteria. Repository is
// required and may be "*" to receive every repository's notifications.
type Subscription struct {
	Repository string   `json:"repository"`
	EventTypes []string `json:"event_types,omitempty"`
}

// maxEventTypes bounds the subscription filter list.
const maxEventTypes = 50

// Validate performs security validation on subscription data.
func (s *Subscription) Validate() error {
	if s.Repository == "" {
		return errors.New("repository is required")
	}
	if s.Repository != "*" {
		if len(s.Repository) > 140 {
			return errors.New("invalid repository name")
		}
		// Expect "owner/name" with GitHub's identifier character set
		slashes := 0
		for _, c := range s.Repository {
			switch {
			case c == '/':
				slashes++
			case (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9'),
				c == '-', c == '_', c == '.':
			default:
				return errors.New("invalid repository name format")
			}
		}
		if slashes != 1 {
			return errors.New("repository must be owner/name")
		}
	}

	if len(s.EventTypes) > maxEventTypes {
		return errors.New("too many event types specified")
	}
	for _, eventType := range s.EventTypes {
		if eventType == "" || len(eventType) > 50 {
			return errors.New("invalid event type")
		}
		// GitHub event types use lowercase with underscores
		for _, c := range eventType {
			if !((c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '_') {
				return errors.New("invalid event type format")
			}
		}
	}

	return nil
}

// matches determines if a notification matches the subscription.
func (s *Subscription) matches(n Notification) bool {
	if s.Repository == "" {
		return false
	}
	if s.Repository != "*" && !strings.EqualFold(s.Repository, n.Repository) {
		return false
	}

	if len(s.EventTypes) == 0 {
		return true
	}
	for _, t := range s.EventTypes {
		if t == n.Type {
			return true
		}
	}
	return false
}
