package zulip

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"sync"
)

// UserLister is the part of Client the directory needs.
type UserLister interface {
	Users(ctx context.Context) ([]User, error)
}

// Directory maps Zulip user ids to display names. It is loaded from /users and
// kept current from realm_user events.
type Directory struct {
	lister UserLister

	mu     sync.RWMutex
	users  map[int64]User
	loaded bool
}

// NewDirectory creates an empty directory backed by lister.
func NewDirectory(lister UserLister) *Directory {
	return &Directory{lister: lister, users: make(map[int64]User)}
}

// Load replaces the directory contents with the current realm membership.
func (d *Directory) Load(ctx context.Context) error {
	members, err := d.lister.Users(ctx)
	if err != nil {
		return err
	}

	users := make(map[int64]User, len(members))
	for _, u := range members {
		users[u.UserID] = u
	}

	d.mu.Lock()
	d.users = users
	d.loaded = true
	d.mu.Unlock()

	slog.Info("zulip directory loaded", "users", len(users))
	return nil
}

// Apply updates the directory from a realm_user event.
func (d *Directory) Apply(ev Event) {
	if ev.Person == nil || ev.Person.UserID == 0 {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	switch ev.Op {
	case "remove":
		delete(d.users, ev.Person.UserID)
	case "add":
		d.users[ev.Person.UserID] = *ev.Person
	case "update":
		u := d.users[ev.Person.UserID]
		u.UserID = ev.Person.UserID
		if ev.Person.FullName != "" {
			u.FullName = ev.Person.FullName
		}
		if ev.Person.Email != "" {
			u.Email = ev.Person.Email
		}
		d.users[u.UserID] = u
	}
}

// NamesFor returns a display name for each ref in order. Refs are Zulip user
// ids in decimal; unknown refs are returned unchanged. The directory is loaded
// on first use if Start has not done so.
func (d *Directory) NamesFor(ctx context.Context, refs []string) ([]string, error) {
	d.mu.RLock()
	loaded := d.loaded
	d.mu.RUnlock()
	if !loaded {
		if err := d.Load(ctx); err != nil {
			return nil, err
		}
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, len(refs))
	for i, ref := range refs {
		names[i] = ref
		id, err := strconv.ParseInt(ref, 10, 64)
		if err != nil {
			continue
		}
		if u, ok := d.users[id]; ok && u.FullName != "" {
			names[i] = u.FullName
		}
	}
	return names, nil
}

// Users returns a snapshot of the directory sorted by name.
func (d *Directory) Users() []User {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]User, 0, len(d.users))
	for _, u := range d.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FullName != out[j].FullName {
			return out[i].FullName < out[j].FullName
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}
