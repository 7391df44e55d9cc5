package api

import (
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/brandon/mailwatch/internal/mail"
	"github.com/brandon/mailwatch/internal/store"
	"github.com/brandon/mailwatch/pkg/types"
)

// CreateAccountRequest is the request body for creating an account.
type CreateAccountRequest struct {
	Email      string `json:"email"`
	IMAPHost   string `json:"imap_host"`
	IMAPPort   int    `json:"imap_port"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	AuthMethod string `json:"auth_method"`
}

// CreateAccount handles POST /api/accounts. Credentials are validated with a
// short-lived session before anything is stored; accounts that cannot
// connect are rejected up front. On success the account is connected
// persistently, which discovers folders and runs the initial sync.
func (s *Server) CreateAccount(c echo.Context) error {
	var req CreateAccountRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest(c, "invalid request body")
	}
	if req.Email == "" || req.IMAPHost == "" || req.Username == "" || req.Password == "" {
		return BadRequest(c, "email, imap_host, username and password are required")
	}
	if req.IMAPPort == 0 {
		req.IMAPPort = 993
	}
	if req.AuthMethod == "" {
		req.AuthMethod = types.AuthPlain
	}

	acc := &types.Account{
		ID:         uuid.NewString(),
		Email:      req.Email,
		IMAPHost:   req.IMAPHost,
		IMAPPort:   req.IMAPPort,
		Username:   req.Username,
		Password:   req.Password,
		AuthMethod: req.AuthMethod,
	}

	if !s.manager.TestCredentials(acc) {
		return BadRequest(c, "invalid credentials or server unreachable")
	}

	if err := s.store.CreateAccount(acc); err != nil {
		s.logger.WithError(err).Error("Failed to create account")
		return Conflict(c, "account already exists or could not be stored")
	}

	if err := s.manager.Connect(acc.ID); err != nil {
		s.logger.WithError(err).WithField("account", acc.ID).Warn("Initial connect failed")
	}

	stored, err := s.store.GetAccount(acc.ID)
	if err != nil {
		return InternalError(c, "failed to load created account")
	}
	return Created(c, stored)
}

// ListAccounts handles GET /api/accounts
func (s *Server) ListAccounts(c echo.Context) error {
	accounts, err := s.store.ListAccounts()
	if err != nil {
		s.logger.WithError(err).Error("Failed to list accounts")
		return InternalError(c, "failed to list accounts")
	}
	return Success(c, accounts)
}

// DeleteAccount handles DELETE /api/accounts/:id. Any live session is torn
// down before the record is removed.
func (s *Server) DeleteAccount(c echo.Context) error {
	id := c.Param("id")

	if err := s.manager.Disconnect(id); err != nil {
		s.logger.WithError(err).WithField("account", id).Warn("Disconnect before delete failed")
	}

	if err := s.store.DeleteAccount(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NotFound(c, "account not found")
		}
		return InternalError(c, "failed to delete account")
	}
	return Success(c, map[string]string{"deleted": id})
}

// ConnectAccount handles POST /api/accounts/:id/connect
func (s *Server) ConnectAccount(c echo.Context) error {
	id := c.Param("id")
	if err := s.manager.Connect(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NotFound(c, "account not found")
		}
		return BadRequest(c, err.Error())
	}
	return Success(c, map[string]bool{"connected": true})
}

// DisconnectAccount handles POST /api/accounts/:id/disconnect
func (s *Server) DisconnectAccount(c echo.Context) error {
	id := c.Param("id")
	if err := s.manager.Disconnect(id); err != nil {
		return InternalError(c, "failed to disconnect account")
	}
	return Success(c, map[string]bool{"connected": false})
}

// SyncAccount handles POST /api/accounts/:id/sync
func (s *Server) SyncAccount(c echo.Context) error {
	id := c.Param("id")
	if _, err := s.store.GetAccount(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NotFound(c, "account not found")
		}
		return InternalError(c, "failed to load account")
	}

	if err := s.manager.SyncAccount(c.Request().Context(), id); err != nil {
		return BadRequest(c, err.Error())
	}
	return Success(c, map[string]bool{"synced": true})
}

// FetchMessages handles GET /api/accounts/:id/fetch?folder=INBOX, the raw
// per-folder fetch for display. Fails fast when the account has no live
// session.
func (s *Server) FetchMessages(c echo.Context) error {
	id := c.Param("id")
	folder := c.QueryParam("folder")
	if folder == "" {
		folder = "INBOX"
	}

	messages, err := s.manager.FetchMessages(c.Request().Context(), id, folder)
	if err != nil {
		if errors.Is(err, mail.ErrNoSession) {
			return BadRequest(c, "no active session for account; connect first")
		}
		return InternalError(c, "failed to fetch messages")
	}
	return Success(c, messages)
}

// ListMessages handles GET /api/accounts/:id/messages?folder=&limit=,
// serving stored messages without touching the IMAP session.
func (s *Server) ListMessages(c echo.Context) error {
	id := c.Param("id")
	folder := c.QueryParam("folder")
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	messages, err := s.store.ListMessages(id, folder, limit)
	if err != nil {
		return InternalError(c, "failed to list messages")
	}
	return Success(c, messages)
}

// Search handles GET /api/search?q=&account_id=&limit=&offset=
func (s *Server) Search(c echo.Context) error {
	query := c.QueryParam("q")
	if query == "" {
		return BadRequest(c, "query parameter q is required")
	}

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = s.cfg.SearchResultLimit
	}
	offset, _ := strconv.Atoi(c.QueryParam("offset"))

	results, err := s.store.Search(query, c.QueryParam("account_id"), limit, offset)
	if err != nil {
		s.logger.WithError(err).Error("Search failed")
		return InternalError(c, "search failed")
	}
	return Success(c, results)
}

// AdvancedSearchRequest is the request body for field-level search.
type AdvancedSearchRequest struct {
	AccountID string     `json:"account_id"`
	From      string     `json:"from"`
	To        string     `json:"to"`
	Subject   string     `json:"subject"`
	Body      string     `json:"body"`
	DateFrom  *time.Time `json:"date_from"`
	DateTo    *time.Time `json:"date_to"`
	Limit     int        `json:"limit"`
}

// AdvancedSearch handles POST /api/search/advanced
func (s *Server) AdvancedSearch(c echo.Context) error {
	var req AdvancedSearchRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest(c, "invalid request body")
	}

	results, err := s.store.AdvancedSearch(store.AdvancedSearchOptions{
		AccountID: req.AccountID,
		From:      req.From,
		To:        req.To,
		Subject:   req.Subject,
		Body:      req.Body,
		DateFrom:  req.DateFrom,
		DateTo:    req.DateTo,
		Limit:     req.Limit,
	})
	if err != nil {
		s.logger.WithError(err).Error("Advanced search failed")
		return InternalError(c, "search failed")
	}
	return Success(c, results)
}
