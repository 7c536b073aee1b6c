package bot

import (
	"fmt"
	"sort"
	"sync"

	"github.com/meszmate/xmppgate/internal/storage/sqlite"
)

// Directory is the authorization source of truth for one account: the
// contact list and the admin set. Mutations are persisted immediately.
type Directory struct {
	account string
	store   *sqlite.DB

	mu       sync.RWMutex
	contacts map[string]string
	admins   map[string]struct{}
}

// NewDirectory loads the persisted directory for account.
func NewDirectory(account string, store *sqlite.DB) (*Directory, error) {
	d := &Directory{
		account:  account,
		store:    store,
		contacts: make(map[string]string),
		admins:   make(map[string]struct{}),
	}

	contacts, err := store.GetContacts(account)
	if err != nil {
		return nil, fmt.Errorf("failed to load contacts: %w", err)
	}
	for _, c := range contacts {
		d.contacts[c.JID] = c.Name
	}

	admins, err := store.GetAdmins(account)
	if err != nil {
		return nil, fmt.Errorf("failed to load admins: %w", err)
	}
	for _, a := range admins {
		d.admins[a] = struct{}{}
	}

	return d, nil
}

// AddContact upserts a contact by bare JID. Adding an existing JID with a
// different name updates the name.
func (d *Directory) AddContact(jid, name string) error {
	if err := d.store.SaveContact(d.account, jid, name); err != nil {
		return fmt.Errorf("failed to persist contact: %w", err)
	}
	d.mu.Lock()
	d.contacts[jid] = name
	d.mu.Unlock()
	return nil
}

// RemoveContact removes a contact by bare JID.
func (d *Directory) RemoveContact(jid string) error {
	if err := d.store.DeleteContact(d.account, jid); err != nil {
		return fmt.Errorf("failed to remove contact: %w", err)
	}
	d.mu.Lock()
	delete(d.contacts, jid)
	d.mu.Unlock()
	return nil
}

// IsContact reports whether the bare JID is a contact.
func (d *Directory) IsContact(jid string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.contacts[jid]
	return ok
}

// ContactName returns the stored display name for a contact JID.
func (d *Directory) ContactName(jid string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.contacts[jid]
}

// Contacts returns all contacts sorted by JID.
func (d *Directory) Contacts() []sqlite.Contact {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]sqlite.Contact, 0, len(d.contacts))
	for jid, name := range d.contacts {
		out = append(out, sqlite.Contact{JID: jid, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JID < out[j].JID })
	return out
}

// AddAdmin grants admin rights to a bare JID.
func (d *Directory) AddAdmin(jid string) error {
	if err := d.store.SaveAdmin(d.account, jid); err != nil {
		return fmt.Errorf("failed to persist admin: %w", err)
	}
	d.mu.Lock()
	d.admins[jid] = struct{}{}
	d.mu.Unlock()
	return nil
}

// IsAdmin reports whether the bare JID is an admin.
func (d *Directory) IsAdmin(jid string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.admins[jid]
	return ok
}

// Admins returns all admin JIDs sorted.
func (d *Directory) Admins() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]string, 0, len(d.admins))
	for jid := range d.admins {
		out = append(out, jid)
	}
	sort.Strings(out)
	return out
}
