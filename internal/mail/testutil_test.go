package mail

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailwatch/internal/events"
	"github.com/brandon/mailwatch/pkg/types"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// fakeSession is an in-memory Session over a fixed message list.
type fakeSession struct {
	mu         sync.Mutex
	folders    []string
	messages   map[string][]RawMessage
	selected   string
	fetches    [][2]uint32
	selects    []string
	closed     bool
	terminated chan struct{}
	endOnce    sync.Once
}

func newFakeSession(folders []string, messages map[string][]RawMessage) *fakeSession {
	return &fakeSession{
		folders:    folders,
		messages:   messages,
		terminated: make(chan struct{}),
	}
}

func (s *fakeSession) Mailboxes() ([]string, error) {
	return append([]string(nil), s.folders...), nil
}

func (s *fakeSession) SelectReadOnly(folder string) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = folder
	s.selects = append(s.selects, folder)
	return uint32(len(s.messages[folder])), nil
}

func (s *fakeSession) FetchRange(from, to uint32) ([]RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches = append(s.fetches, [2]uint32{from, to})
	msgs := s.messages[s.selected]
	if from < 1 || to > uint32(len(msgs)) || from > to {
		return nil, fmt.Errorf("range %d:%d out of bounds", from, to)
	}
	return msgs[from-1 : to], nil
}

func (s *fakeSession) Terminated() <-chan struct{} {
	return s.terminated
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.end()
	return nil
}

// end simulates the server terminating the session.
func (s *fakeSession) end() {
	s.endOnce.Do(func() { close(s.terminated) })
}

func (s *fakeSession) selectedFolders() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.selects...)
}

func (s *fakeSession) fetchRanges() [][2]uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][2]uint32(nil), s.fetches...)
}

// fakeDialer hands out fake sessions and records dial attempts.
type fakeDialer struct {
	mu       sync.Mutex
	sessions []*fakeSession
	err      error
	dials    int
	build    func() *fakeSession
}

func (d *fakeDialer) dial(_ *types.Account) (Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.err != nil {
		return nil, d.err
	}
	sess := d.build()
	d.sessions = append(d.sessions, sess)
	return sess, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) lastSession() *fakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sessions) == 0 {
		return nil
	}
	return d.sessions[len(d.sessions)-1]
}

// memStore implements ManagerStore in memory.
type memStore struct {
	mu       sync.Mutex
	accounts map[string]*types.Account
	messages map[string]*types.Message
	upserts  int
}

func newMemStore(accounts ...*types.Account) *memStore {
	st := &memStore{
		accounts: make(map[string]*types.Account),
		messages: make(map[string]*types.Message),
	}
	for _, acc := range accounts {
		st.accounts[acc.ID] = acc
	}
	return st
}

func (s *memStore) GetAccount(id string) (*types.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %s not found", id)
	}
	copied := *acc
	return &copied, nil
}

func (s *memStore) SetConnected(id string, connected bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acc, ok := s.accounts[id]; ok {
		acc.IsConnected = connected
	}
	return nil
}

func (s *memStore) SetFolders(id string, folders []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acc, ok := s.accounts[id]; ok {
		acc.Folders = folders
	}
	return nil
}

func (s *memStore) SetLastSync(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acc, ok := s.accounts[id]; ok {
		acc.LastSync = at
	}
	return nil
}

func (s *memStore) UpsertMessage(msg *types.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	s.messages[msg.MessageID+"|"+msg.AccountID] = msg
	return nil
}

func (s *memStore) messageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func (s *memStore) connected(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acc, ok := s.accounts[id]; ok {
		return acc.IsConnected
	}
	return false
}

// nopAnalyzer returns fixed analytics without any network traffic.
type nopAnalyzer struct{}

func (nopAnalyzer) IdentifyService(_ context.Context, _ string) string {
	return "Unknown"
}

func (nopAnalyzer) AnalyzeMailServer(_ context.Context, _ map[string][]string) types.MailServerReport {
	return types.MailServerReport{Server: "unknown"}
}

// rawTestMessage builds an RFC822 byte stream for tests.
func rawTestMessage(id, from, subject string, flags ...string) RawMessage {
	raw := ""
	if id != "" {
		raw += "Message-Id: <" + id + ">\r\n"
	}
	raw += "From: " + from + "\r\n" +
		"To: bob@example.com\r\n" +
		"Subject: " + subject + "\r\n" +
		"Date: Mon, 02 Jan 2023 15:04:05 -0700\r\n" +
		"Received: from relay.example.com (relay [192.0.2.1]) by mx.local\r\n" +
		"\r\n" +
		"test body\r\n"
	return RawMessage{Flags: flags, InternalDate: time.Now(), Raw: []byte(raw)}
}

func testNotifier() *events.Notifier {
	return events.NewNotifier(testLogger())
}
