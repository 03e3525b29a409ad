package listener

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdentity_Scope(t *testing.T) {
	tests := []struct {
		name     string
		identity Identity
		scope    string
		guest    bool
	}{
		{name: "guest", identity: Guest(), scope: LocalScope, guest: true},
		{name: "blank user id is guest", identity: Identity{UserID: "  "}, scope: LocalScope, guest: true},
		{name: "signed in", identity: Identity{UserID: "u-42", DisplayName: "Kei"}, scope: "user:u-42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.scope, tt.identity.Scope())
			assert.Equal(t, tt.guest, tt.identity.IsGuest())
		})
	}
}

func TestIdentity_Key(t *testing.T) {
	assert.Equal(t, "local:likedSongs", Guest().Key("likedSongs"))
	assert.Equal(t, "user:u-1:recentlyPlayed", Identity{UserID: "u-1"}.Key("recentlyPlayed"))
}
