package bot

import (
	"fmt"
	"sync"

	"github.com/meszmate/xmppgate/internal/config"
	"github.com/meszmate/xmppgate/internal/logging"
	"github.com/meszmate/xmppgate/internal/secret"
	"github.com/meszmate/xmppgate/internal/storage/sqlite"
	"github.com/meszmate/xmppgate/pkg/dispatch"
)

// Supervisor owns the set of running account sessions. One session per
// account; starting an account that is already running replaces the old
// session.
type Supervisor struct {
	mu       sync.Mutex
	sessions map[string]*Session

	cfg       *config.Config
	log       *logging.Logger
	store     *sqlite.DB
	deliverer dispatch.Deliverer
}

// NewSupervisor builds an empty supervisor over shared engine state.
func NewSupervisor(cfg *config.Config, log *logging.Logger, store *sqlite.DB, deliverer dispatch.Deliverer) *Supervisor {
	return &Supervisor{
		sessions:  make(map[string]*Session),
		cfg:       cfg,
		log:       log,
		store:     store,
		deliverer: deliverer,
	}
}

// resolvePassword returns the account's plaintext password, decrypting
// it first when the config marks it encrypted. A credential that cannot
// be resolved fails the account before any network I/O happens.
func resolvePassword(acc config.Account) (string, error) {
	if acc.PasswordEncrypted == "" {
		return acc.Password, nil
	}
	if acc.KeyFile == "" {
		return "", fmt.Errorf("account %s: encrypted password but no key file configured", acc.JID)
	}
	pw, err := secret.DecryptFromFile(acc.PasswordEncrypted, acc.KeyFile)
	if err != nil {
		return "", fmt.Errorf("account %s: decrypt password: %w", acc.JID, err)
	}
	return pw, nil
}

// Start launches a session for the account, tearing down any prior
// session running under the same bare JID.
func (sv *Supervisor) Start(acc config.Account) error {
	password, err := resolvePassword(acc)
	if err != nil {
		return err
	}

	sess, err := NewSession(acc, SessionOptions{
		Password:  password,
		Engine:    sv.cfg,
		Logger:    sv.log,
		Store:     sv.store,
		Deliverer: sv.deliverer,
	})
	if err != nil {
		return fmt.Errorf("account %s: %w", acc.JID, err)
	}

	sv.mu.Lock()
	if old, ok := sv.sessions[sess.Account()]; ok {
		sv.log.Info("replacing running session for %s", sess.Account())
		old.Stop()
	}
	sv.sessions[sess.Account()] = sess
	sv.mu.Unlock()

	if err := sess.Start(); err != nil {
		sv.mu.Lock()
		if sv.sessions[sess.Account()] == sess {
			delete(sv.sessions, sess.Account())
		}
		sv.mu.Unlock()
		return fmt.Errorf("account %s: %w", acc.JID, err)
	}
	return nil
}

// StartAll starts every configured account. Accounts that fail to start
// are logged and skipped so one bad credential does not take the rest
// down.
func (sv *Supervisor) StartAll() int {
	started := 0
	for _, acc := range sv.cfg.Accounts {
		if err := sv.Start(acc); err != nil {
			sv.log.Error("failed to start %s: %v", acc.JID, err)
			continue
		}
		started++
	}
	return started
}

// Get returns the running session for the bare account JID, if any.
func (sv *Supervisor) Get(account string) (*Session, bool) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	s, ok := sv.sessions[account]
	return s, ok
}

// Stop tears down the session for the account, if running.
func (sv *Supervisor) Stop(account string) {
	sv.mu.Lock()
	sess, ok := sv.sessions[account]
	if ok {
		delete(sv.sessions, account)
	}
	sv.mu.Unlock()
	if ok {
		sess.Stop()
	}
}

// StopAll tears down every running session.
func (sv *Supervisor) StopAll() {
	sv.mu.Lock()
	sessions := make([]*Session, 0, len(sv.sessions))
	for _, s := range sv.sessions {
		sessions = append(sessions, s)
	}
	sv.sessions = make(map[string]*Session)
	sv.mu.Unlock()

	for _, s := range sessions {
		s.Stop()
	}
}
