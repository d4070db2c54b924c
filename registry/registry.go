// Package registry holds the authoritative mapping from username to the live
// session that owns it.
package registry

import (
	"sort"

	"github.com/cyberinferno/go-chatroom/safemap"
)

// Member is a registered session as seen by the registry and the router.
// Implementations must be comparable (pointer receivers) and their Send must be
// safe for concurrent use.
type Member interface {
	// Username returns the name the member registered under.
	Username() string

	// Send queues an already-encoded frame for delivery to the member.
	Send(data []byte) error
}

// Registry maps usernames (case-sensitive) to members. At most one member is
// registered per username at any instant. All methods are safe for concurrent
// use; enumerations see whole entries and may or may not include members added
// or removed while they run.
type Registry struct {
	members *safemap.SafeMap[string, Member]
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		members: safemap.NewSafeMap[string, Member](),
	}
}

// InsertIfAbsent registers m under username unless the name is already taken.
// The check and the insert are a single atomic step.
//
// Parameters:
//   - username: The name to claim
//   - m: The member claiming it
//
// Returns:
//   - true if m is now registered, false if the name was already taken
func (r *Registry) InsertIfAbsent(username string, m Member) bool {
	_, loaded := r.members.LoadOrStore(username, m)
	return !loaded
}

// Remove unregisters username if it is still held by m. A member that lost its
// entry (or never had one) cannot evict whoever holds the name now.
//
// Parameters:
//   - username: The name to release
//   - m: The member that registered it
//
// Returns:
//   - true if an entry was removed
func (r *Registry) Remove(username string, m Member) bool {
	return r.members.CompareAndDelete(username, m)
}

// Lookup returns the member registered under username.
func (r *Registry) Lookup(username string) (Member, bool) {
	return r.members.Load(username)
}

// OtherUsernames returns every registered username except excluding, in no
// meaningful order. The result never contains duplicates.
func (r *Registry) OtherUsernames(excluding string) []string {
	names := make([]string, 0)
	r.members.Range(func(name string, _ Member) bool {
		if name != excluding {
			names = append(names, name)
		}
		return true
	})

	return names
}

// Usernames returns every registered username sorted ascending.
func (r *Registry) Usernames() []string {
	names := r.members.Keys()
	sort.Strings(names)
	return names
}

// Members returns a snapshot of every registered member.
func (r *Registry) Members() []Member {
	return r.members.Values()
}

// Len returns the number of registered members.
func (r *Registry) Len() int {
	return r.members.Len()
}
