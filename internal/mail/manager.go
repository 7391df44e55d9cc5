package mail

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailwatch/pkg/types"
)

// ExcludedFolder is the synthetic aggregate container some providers use to
// group other folders. It is never synced and never opened.
const ExcludedFolder = "[Gmail]"

// ManagerStore extends the supervisor's store view with the extra
// operations the manager needs.
type ManagerStore interface {
	AccountStore
	MessageStore
	SetLastSync(id string, at time.Time) error
}

// Manager is the public surface the request-routing layer talks to. It
// composes the supervisor and the sync engine and owns the connect-triggers-
// sync control flow.
type Manager struct {
	store  ManagerStore
	sup    *Supervisor
	syncer *Syncer
	logger *logrus.Logger
}

// NewManager wires the supervisor's post-discovery hook to the sync engine.
func NewManager(store ManagerStore, sup *Supervisor, syncer *Syncer, logger *logrus.Logger) *Manager {
	m := &Manager{
		store:  store,
		sup:    sup,
		syncer: syncer,
		logger: logger,
	}
	sup.onConnected = m.syncDiscovered
	return m
}

// Connect opens a persistent session for the account; folder discovery and
// the initial sync pass happen as part of the call.
func (m *Manager) Connect(accountID string) error {
	return m.sup.Connect(accountID)
}

// Disconnect tears down the account's session, if any.
func (m *Manager) Disconnect(accountID string) error {
	return m.sup.Disconnect(accountID)
}

// TestCredentials validates reachability and credentials for a candidate
// account without touching stored state.
func (m *Manager) TestCredentials(acc *types.Account) bool {
	return m.sup.TestCredentials(acc)
}

// SyncAccount syncs every non-excluded folder of the account, connecting
// first if no session is live. The last-sync timestamp is updated when the
// pass completes.
func (m *Manager) SyncAccount(ctx context.Context, accountID string) error {
	if _, ok := m.sup.Session(accountID); !ok {
		// Connect already discovers folders and runs the initial sync pass.
		return m.sup.Connect(accountID)
	}

	acc, err := m.store.GetAccount(accountID)
	if err != nil {
		return err
	}

	for _, folder := range acc.Folders {
		if folder == ExcludedFolder {
			continue
		}
		if err := m.syncer.SyncFolder(ctx, accountID, folder, nil, nil); err != nil {
			m.logger.WithError(err).WithFields(logrus.Fields{
				"account": accountID,
				"folder":  folder,
			}).Error("Failed to sync folder")
		}
	}

	if err := m.store.SetLastSync(accountID, time.Now()); err != nil {
		m.logger.WithError(err).WithField("account", accountID).Warn("Failed to update last sync time")
	}
	return nil
}

// SyncFolder syncs a single folder of an already-connected account.
func (m *Manager) SyncFolder(ctx context.Context, accountID, folder string, onProgress ProgressFunc, onNewMessage func(*types.Message)) error {
	return m.syncer.SyncFolder(ctx, accountID, folder, onProgress, onNewMessage)
}

// FetchMessages returns a folder's messages for display. Requires a live
// session; fails fast otherwise.
func (m *Manager) FetchMessages(ctx context.Context, accountID, folder string) ([]*types.Message, error) {
	return m.syncer.FetchMessages(ctx, accountID, folder)
}

// syncDiscovered is the supervisor's post-discovery hook: it syncs each
// discovered folder except the excluded aggregate and stamps the account's
// last successful sync.
func (m *Manager) syncDiscovered(accountID string, folders []string) {
	for _, folder := range folders {
		if folder == ExcludedFolder {
			continue
		}
		if err := m.syncer.SyncFolder(context.Background(), accountID, folder, nil, nil); err != nil {
			m.logger.WithError(err).WithFields(logrus.Fields{
				"account": accountID,
				"folder":  folder,
			}).Error("Failed to sync folder")
		}
	}
	if err := m.store.SetLastSync(accountID, time.Now()); err != nil {
		m.logger.WithError(err).WithField("account", accountID).Warn("Failed to update last sync time")
	}
}
