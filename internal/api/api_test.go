package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mailwatch/internal/config"
	"github.com/brandon/mailwatch/internal/events"
	"github.com/brandon/mailwatch/internal/mail"
	"github.com/brandon/mailwatch/internal/store"
	"github.com/brandon/mailwatch/pkg/types"
)

// stubSession serves a fixed INBOX over the mail.Session interface.
type stubSession struct {
	messages   []mail.RawMessage
	terminated chan struct{}
}

func (s *stubSession) Mailboxes() ([]string, error) { return []string{"INBOX"}, nil }

func (s *stubSession) SelectReadOnly(folder string) (uint32, error) {
	if folder != "INBOX" {
		return 0, nil
	}
	return uint32(len(s.messages)), nil
}

func (s *stubSession) FetchRange(from, to uint32) ([]mail.RawMessage, error) {
	return s.messages[from-1 : to], nil
}

func (s *stubSession) Terminated() <-chan struct{} { return s.terminated }

func (s *stubSession) Close() error { return nil }

type stubAnalyzer struct{}

func (stubAnalyzer) IdentifyService(_ context.Context, domain string) string {
	if domain == "gmail.com" {
		return "Gmail"
	}
	return "Unknown"
}

func (stubAnalyzer) AnalyzeMailServer(_ context.Context, _ map[string][]string) types.MailServerReport {
	return types.MailServerReport{Server: "relay.example.com", SupportsTLS: true}
}

type env struct {
	server   *Server
	store    *store.Store
	notifier *events.Notifier
}

func rawInboxMessage(id, subject string) mail.RawMessage {
	raw := "Message-Id: <" + id + ">\r\n" +
		"From: bob@gmail.com\r\n" +
		"To: alice@example.com\r\n" +
		"Subject: " + subject + "\r\n" +
		"Date: Mon, 02 Jan 2023 15:04:05 -0700\r\n" +
		"\r\n" +
		"body text\r\n"
	return mail.RawMessage{InternalDate: time.Now(), Raw: []byte(raw)}
}

// newTestEnv wires the full stack over a stub IMAP dialer. dialErr, when
// non-nil, makes every dial fail.
func newTestEnv(t *testing.T, dialErr error, messages []mail.RawMessage) *env {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	st, err := store.NewStore(filepath.Join(t.TempDir(), "api.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	notifier := events.NewNotifier(logger)
	dialer := mail.Dialer(func(_ *types.Account) (mail.Session, error) {
		if dialErr != nil {
			return nil, dialErr
		}
		return &stubSession{messages: messages, terminated: make(chan struct{})}, nil
	})

	sup := mail.NewSupervisor(st, dialer, notifier, time.Hour, logger)
	syncer := mail.NewSyncer(sup, st, stubAnalyzer{}, notifier, 50, logger)
	manager := mail.NewManager(st, sup, syncer, logger)

	cfg := &config.Config{
		ListenAddr:        ":0",
		SyncBatchSize:     50,
		SearchResultLimit: 100,
	}
	return &env{
		server:   NewServer(cfg, manager, st, notifier, logger),
		store:    st,
		notifier: notifier,
	}
}

func (e *env) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.server.Echo().ServeHTTP(rec, req)
	return rec
}

func createBody(email string) string {
	b, _ := json.Marshal(map[string]interface{}{
		"email":     email,
		"imap_host": "imap.example.com",
		"username":  email,
		"password":  "secret",
	})
	return string(b)
}

func createdAccountID(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Data types.Account `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Data.ID)
	return resp.Data.ID
}

func TestCreateAccountConnectsAndSyncs(t *testing.T) {
	e := newTestEnv(t, nil, []mail.RawMessage{
		rawInboxMessage("m-1@gmail.com", "first"),
		rawInboxMessage("m-2@gmail.com", "second"),
	})

	rec := e.do(t, http.MethodPost, "/api/accounts", createBody("alice@example.com"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := createdAccountID(t, rec)

	acc, err := e.store.GetAccount(id)
	require.NoError(t, err)
	assert.True(t, acc.IsConnected)
	assert.Equal(t, []string{"INBOX"}, acc.Folders)
	assert.False(t, acc.LastSync.IsZero())

	count, err := e.store.CountMessages(id, "INBOX")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestCreateAccountRejectsBadCredentials(t *testing.T) {
	e := newTestEnv(t, errors.New("authentication failed"), nil)

	rec := e.do(t, http.MethodPost, "/api/accounts", createBody("alice@example.com"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	accounts, err := e.store.ListAccounts()
	require.NoError(t, err)
	assert.Empty(t, accounts, "rejected accounts must not be stored")
}

func TestCreateAccountValidation(t *testing.T) {
	e := newTestEnv(t, nil, nil)

	rec := e.do(t, http.MethodPost, "/api/accounts", `{"email":"x@example.com"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateAccountDuplicateEmail(t *testing.T) {
	e := newTestEnv(t, nil, nil)

	rec := e.do(t, http.MethodPost, "/api/accounts", createBody("alice@example.com"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/accounts", createBody("alice@example.com"))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestListAccounts(t *testing.T) {
	e := newTestEnv(t, nil, nil)
	e.do(t, http.MethodPost, "/api/accounts", createBody("alice@example.com"))

	rec := e.do(t, http.MethodGet, "/api/accounts", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data []types.Account `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "alice@example.com", resp.Data[0].Email)
	assert.NotContains(t, rec.Body.String(), "secret", "passwords never leave the API")
}

func TestDeleteAccount(t *testing.T) {
	e := newTestEnv(t, nil, nil)
	rec := e.do(t, http.MethodPost, "/api/accounts", createBody("alice@example.com"))
	id := createdAccountID(t, rec)

	rec = e.do(t, http.MethodDelete, "/api/accounts/"+id, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodDelete, "/api/accounts/"+id, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConnectUnknownAccount(t *testing.T) {
	e := newTestEnv(t, nil, nil)

	rec := e.do(t, http.MethodPost, "/api/accounts/nope/connect", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDisconnectThenFetchFails(t *testing.T) {
	e := newTestEnv(t, nil, []mail.RawMessage{rawInboxMessage("m-1@gmail.com", "hello")})
	rec := e.do(t, http.MethodPost, "/api/accounts", createBody("alice@example.com"))
	id := createdAccountID(t, rec)

	rec = e.do(t, http.MethodPost, "/api/accounts/"+id+"/disconnect", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/accounts/"+id+"/fetch", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "connect first")
}

func TestFetchMessages(t *testing.T) {
	e := newTestEnv(t, nil, []mail.RawMessage{rawInboxMessage("m-1@gmail.com", "hello")})
	rec := e.do(t, http.MethodPost, "/api/accounts", createBody("alice@example.com"))
	id := createdAccountID(t, rec)

	rec = e.do(t, http.MethodGet, "/api/accounts/"+id+"/fetch?folder=INBOX", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data []types.Message `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "hello", resp.Data[0].Subject)
}

func TestSyncUnknownAccount(t *testing.T) {
	e := newTestEnv(t, nil, nil)

	rec := e.do(t, http.MethodPost, "/api/accounts/nope/sync", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListStoredMessages(t *testing.T) {
	e := newTestEnv(t, nil, []mail.RawMessage{rawInboxMessage("m-1@gmail.com", "stored one")})
	rec := e.do(t, http.MethodPost, "/api/accounts", createBody("alice@example.com"))
	id := createdAccountID(t, rec)

	rec = e.do(t, http.MethodGet, "/api/accounts/"+id+"/messages?folder=INBOX", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data []types.Message `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "Gmail", resp.Data[0].Analytics.ESP)
}

func TestSearchEndpoints(t *testing.T) {
	e := newTestEnv(t, nil, []mail.RawMessage{
		rawInboxMessage("m-1@gmail.com", "quarterly report"),
		rawInboxMessage("m-2@gmail.com", "lunch plans"),
	})
	rec := e.do(t, http.MethodPost, "/api/accounts", createBody("alice@example.com"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/search?q=quarterly", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data []types.MessageSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "quarterly report", resp.Data[0].Subject)

	rec = e.do(t, http.MethodGet, "/api/search", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/search/advanced", `{"subject":"lunch"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	resp.Data = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Data, 1)
}

func TestMetricsEndpoint(t *testing.T) {
	e := newTestEnv(t, nil, nil)

	rec := e.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestWebSocketReceivesEvents(t *testing.T) {
	e := newTestEnv(t, nil, nil)

	srv := httptest.NewServer(e.server.Echo())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// Give the handler a moment to register its subscription.
	time.Sleep(50 * time.Millisecond)
	e.notifier.PublishAccountStatus("acc-1", true)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event events.Event
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, events.KindAccountStatus, event.Kind)
}
