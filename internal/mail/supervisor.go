package mail

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailwatch/internal/events"
	"github.com/brandon/mailwatch/internal/metrics"
	"github.com/brandon/mailwatch/pkg/types"
)

// ErrNoSession is returned by operations that require a live session when
// the account is not connected. The caller decides whether to connect first.
var ErrNoSession = errors.New("no active session for account")

// AccountStore is the slice of the persistence layer the supervisor needs.
type AccountStore interface {
	GetAccount(id string) (*types.Account, error)
	SetConnected(id string, connected bool) error
	SetFolders(id string, folders []string) error
}

// Supervisor owns one live session per connected account: it establishes
// sessions, watches for termination, and reconnects after a fixed delay
// unless the account was explicitly disconnected. The session registry is
// the only shared mutable structure; operations on the same account are
// serialized, different accounts never contend.
type Supervisor struct {
	store          AccountStore
	dial           Dialer
	notifier       *events.Notifier
	logger         *logrus.Logger
	reconnectDelay time.Duration

	mu       sync.Mutex
	sessions map[string]Session
	stopped  map[string]bool
	locks    map[string]*sync.Mutex

	// onConnected is invoked after folder discovery with the discovered
	// folder list; the manager wires it to the sync engine.
	onConnected func(accountID string, folders []string)
}

// NewSupervisor creates a supervisor over the given account store and dialer.
func NewSupervisor(store AccountStore, dial Dialer, notifier *events.Notifier, reconnectDelay time.Duration, logger *logrus.Logger) *Supervisor {
	return &Supervisor{
		store:          store,
		dial:           dial,
		notifier:       notifier,
		logger:         logger,
		reconnectDelay: reconnectDelay,
		sessions:       make(map[string]Session),
		stopped:        make(map[string]bool),
		locks:          make(map[string]*sync.Mutex),
	}
}

// Connect opens a session for the account's stored credentials. On success
// it registers the session, marks the account connected, discovers and
// persists folders, publishes a connectivity event and triggers a sync of
// every discovered folder except the synthetic aggregate folder. Connection
// failures are reported to the caller and are never fatal to the process.
func (s *Supervisor) Connect(accountID string) error {
	lock := s.lockFor(accountID)
	lock.Lock()
	defer lock.Unlock()

	return s.connect(accountID)
}

// connect does the work of Connect. The caller must hold lockFor(accountID).
func (s *Supervisor) connect(accountID string) error {
	if _, ok := s.session(accountID); ok {
		return nil
	}

	acc, err := s.store.GetAccount(accountID)
	if err != nil {
		return fmt.Errorf("account %s not found: %w", accountID, err)
	}

	sess, err := s.dial(acc)
	if err != nil {
		s.logger.WithError(err).WithField("account", acc.Email).Error("Failed to connect")
		return fmt.Errorf("failed to connect account %s: %w", accountID, err)
	}

	s.mu.Lock()
	s.sessions[accountID] = sess
	s.stopped[accountID] = false
	s.mu.Unlock()

	metrics.ConnectionsActive.Inc()
	s.logger.WithField("account", acc.Email).Info("Connected to IMAP server")

	if err := s.store.SetConnected(accountID, true); err != nil {
		s.logger.WithError(err).WithField("account", accountID).Warn("Failed to persist connectivity flag")
	}
	s.notifier.PublishAccountStatus(accountID, true)

	go s.watch(accountID, sess)

	folders, err := sess.Mailboxes()
	if err != nil {
		s.logger.WithError(err).WithField("account", acc.Email).Warn("Failed to discover folders")
	} else {
		if err := s.store.SetFolders(accountID, folders); err != nil {
			s.logger.WithError(err).WithField("account", accountID).Warn("Failed to persist folders")
		}
		if s.onConnected != nil {
			s.onConnected(accountID, folders)
		}
	}

	return nil
}

// GetOrOpen returns the live session for the account, connecting first if
// necessary. The display-fetch path deliberately does not use it: fetching
// is a read that fails fast with ErrNoSession when the account is not
// connected, rather than opening a session as a side effect.
func (s *Supervisor) GetOrOpen(accountID string) (Session, error) {
	if sess, ok := s.session(accountID); ok {
		return sess, nil
	}
	if err := s.Connect(accountID); err != nil {
		return nil, err
	}
	sess, ok := s.session(accountID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSession, accountID)
	}
	return sess, nil
}

// TestCredentials opens a short-lived session purely to validate
// reachability and credentials. It never mutates stored state.
func (s *Supervisor) TestCredentials(acc *types.Account) bool {
	sess, err := s.dial(acc)
	if err != nil {
		s.logger.WithError(err).WithField("host", acc.IMAPHost).Debug("Credential test failed")
		return false
	}
	sess.Close() //nolint:errcheck
	return true
}

// Disconnect closes the account's live session, removes it from the
// registry and marks the account disconnected. Idempotent when no session
// exists; the automatic reconnect edge is suppressed.
func (s *Supervisor) Disconnect(accountID string) error {
	lock := s.lockFor(accountID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	s.stopped[accountID] = true
	sess, ok := s.sessions[accountID]
	delete(s.sessions, accountID)
	s.mu.Unlock()

	if ok {
		if err := sess.Close(); err != nil {
			s.logger.WithError(err).WithField("account", accountID).Debug("Error closing session")
		}
		metrics.ConnectionsActive.Dec()
	}

	if err := s.store.SetConnected(accountID, false); err != nil {
		s.logger.WithError(err).WithField("account", accountID).Warn("Failed to persist connectivity flag")
	}
	s.notifier.PublishAccountStatus(accountID, false)
	return nil
}

// Session returns the live session for an account, if one exists.
func (s *Supervisor) Session(accountID string) (Session, bool) {
	return s.session(accountID)
}

// watch waits for the session to terminate. An unexpected end marks the
// account disconnected and schedules a reconnection attempt after the fixed
// delay; reconnection retries indefinitely with no backoff or attempt cap.
func (s *Supervisor) watch(accountID string, sess Session) {
	<-sess.Terminated()

	s.mu.Lock()
	if s.sessions[accountID] != sess {
		// Already replaced or removed by an explicit disconnect; the
		// disconnect path published the status change.
		s.mu.Unlock()
		return
	}
	delete(s.sessions, accountID)
	stopped := s.stopped[accountID]
	s.mu.Unlock()

	metrics.ConnectionsActive.Dec()

	if err := s.store.SetConnected(accountID, false); err != nil {
		s.logger.WithError(err).WithField("account", accountID).Warn("Failed to persist connectivity flag")
	}
	s.notifier.PublishAccountStatus(accountID, false)

	if stopped {
		return
	}

	s.logger.WithFields(logrus.Fields{
		"account": accountID,
		"delay":   s.reconnectDelay,
	}).Warn("Session ended unexpectedly, reconnecting")

	time.Sleep(s.reconnectDelay)

	// An explicit disconnect may have landed during the delay; re-check
	// under the account lock so the decision and the redial are atomic.
	lock := s.lockFor(accountID)
	lock.Lock()
	defer lock.Unlock()
	if s.isStopped(accountID) {
		return
	}

	metrics.ReconnectsTotal.Inc()
	if err := s.connect(accountID); err != nil {
		s.logger.WithError(err).WithField("account", accountID).Error("Reconnection failed")
	}
}

func (s *Supervisor) isStopped(accountID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped[accountID]
}

func (s *Supervisor) session(accountID string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[accountID]
	return sess, ok
}

func (s *Supervisor) lockFor(accountID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[accountID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[accountID] = lock
	}
	return lock
}
