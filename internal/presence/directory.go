// Package presence records which identity is attached to which live connection.
package presence

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// ConnID identifies a live connection. The directory only ever holds these ids,
// never the connection itself.
type ConnID = uuid.UUID

// BindResult describes the entries a Bind call pushed out of the directory.
type BindResult struct {
	// Displaced is the connection that held the identity before, if any.
	Displaced ConnID
	// Released is the identity the binding connection held before, if it was a different one.
	Released string
}

// Observer is told about every directory change after it has been applied.
// Implementations must not block.
type Observer interface {
	OnBind(identity string, conn ConnID)
	OnUnbind(identity string)
}

// Directory maps identities to connection ids. At most one connection per
// identity and at most one identity per connection.
type Directory struct {
	mu     sync.RWMutex
	byName map[string]ConnID
	byConn map[ConnID]string
}

// NewDirectory creates an empty directory
func NewDirectory() *Directory {
	return &Directory{
		byName: make(map[string]ConnID),
		byConn: make(map[ConnID]string),
	}
}

// Bind attaches identity to conn, overwriting whatever either side was bound to.
// The last call wins; the displaced connection is left alone.
func (d *Directory) Bind(identity string, conn ConnID) BindResult {
	d.mu.Lock()
	defer d.mu.Unlock()

	var res BindResult

	if prev, ok := d.byConn[conn]; ok && prev != identity {
		delete(d.byName, prev)
		res.Released = prev
	}

	if holder, ok := d.byName[identity]; ok && holder != conn {
		delete(d.byConn, holder)
		res.Displaced = holder
	}

	d.byName[identity] = conn
	d.byConn[conn] = identity
	return res
}

// Resolve returns the connection currently bound to identity.
// ok is false when the identity is offline or unknown.
func (d *Directory) Resolve(identity string) (ConnID, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	conn, ok := d.byName[identity]
	return conn, ok
}

// IdentityOf returns the identity bound to conn, if any.
func (d *Directory) IdentityOf(conn ConnID) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	identity, ok := d.byConn[conn]
	return identity, ok
}

// UnbindByConnection removes the entry whose value is conn and returns the
// identity it held. It is a no-op for connections that never identified.
func (d *Directory) UnbindByConnection(conn ConnID) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	identity, ok := d.byConn[conn]
	if !ok {
		return "", false
	}
	delete(d.byConn, conn)
	if d.byName[identity] == conn {
		delete(d.byName, identity)
	}
	return identity, true
}

// Len returns the number of bound identities
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byName)
}

// Identities returns the bound identities in sorted order
func (d *Directory) Identities() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.byName))
	for name := range d.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reset drops every entry and returns the identities that were bound.
func (d *Directory) Reset() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	names := make([]string, 0, len(d.byName))
	for name := range d.byName {
		names = append(names, name)
	}
	d.byName = make(map[string]ConnID)
	d.byConn = make(map[ConnID]string)
	return names
}
