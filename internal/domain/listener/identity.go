// Package listener provides the listener identity used to scope persisted data.
package listener

import "strings"

// LocalScope is the persistence scope used when nobody is signed in.
const LocalScope = "local"

// Identity represents who is listening.
// An empty UserID means a guest.
type Identity struct {
	UserID      string `json:"user_id,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// Guest returns the anonymous identity.
func Guest() Identity {
	return Identity{}
}

// IsGuest reports whether the identity is anonymous.
func (i Identity) IsGuest() bool {
	return strings.TrimSpace(i.UserID) == ""
}

// Scope returns the persistence scope for this identity.
func (i Identity) Scope() string {
	if i.IsGuest() {
		return LocalScope
	}
	return "user:" + strings.TrimSpace(i.UserID)
}

// Key returns a persistence key namespaced by the identity's scope.
func (i Identity) Key(name string) string {
	return i.Scope() + ":" + name
}
