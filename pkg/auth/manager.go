// Package auth owns the AuthSession: the token pair and cached profile kept
// in durable storage and invalidated together on any auth failure.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"meetbot/pkg/api"
	"meetbot/pkg/bus"
	"meetbot/pkg/fault"
	"meetbot/pkg/logger"
)

// VerificationMessage is the signup reply that asks the user to verify their
// email before logging in.
const VerificationMessage = "Verification email sent. Please verify your account."

const (
	msgLoginFailed     = "Login failed. Please check your credentials."
	msgSignupFailed    = "Signup failed. Please try again."
	msgNetwork         = "Network error. Please try again later."
	msgPasswordsDiffer = "Passwords do not match"
	msgInvalidInput    = "Please enter a valid email and password."
	msgSessionExpired  = "Your session has expired. Please log in again."
)

// ErrNoSession is returned when no valid token pair is stored.
var ErrNoSession = fault.New(fault.Auth, "not logged in")

// Remote is the part of the API client the manager needs.
type Remote interface {
	Login(ctx context.Context, req api.LoginRequest) (*api.AuthResponse, error)
	Signup(ctx context.Context, req api.SignupRequest) (*api.AuthResponse, error)
	Profile(ctx context.Context, token string) (*api.User, error)
}

type Session struct {
	Tokens api.Tokens
	User   *api.User
}

// SignupResult is either a new session or a pending email verification.
type SignupResult struct {
	Session              *Session
	VerificationRequired bool
	Message              string
}

type Manager struct {
	store    Store
	remote   Remote
	events   *bus.Bus
	log      *slog.Logger
	validate *validator.Validate
	now      func() time.Time
}

func NewManager(store Store, remote Remote, events *bus.Bus, log *slog.Logger) *Manager {
	return &Manager{
		store:    store,
		remote:   remote,
		events:   events,
		log:      logger.Component(log, "auth"),
		validate: validator.New(),
		now:      time.Now,
	}
}

func (m *Manager) Login(ctx context.Context, email, password string) (*Session, error) {
	req := api.LoginRequest{Email: strings.TrimSpace(email), Password: password}
	if err := m.validate.Struct(req); err != nil {
		return nil, fault.Wrap(fault.Domain, err, msgInvalidInput)
	}

	resp, err := m.remote.Login(ctx, req)
	if err != nil {
		return nil, userFacing(err, msgLoginFailed)
	}

	tokens, ok := resp.Tokens()
	if !ok {
		return nil, fault.New(fault.Domain, msgLoginFailed)
	}

	session := &Session{Tokens: tokens, User: resp.User}
	if err := m.save(ctx, session); err != nil {
		return nil, err
	}

	m.log.Info("Logged in", "email", req.Email)
	m.publish("")
	return session, nil
}

func (m *Manager) Signup(ctx context.Context, fullName, email, password, confirm string) (*SignupResult, error) {
	if password != confirm {
		return nil, fault.New(fault.Domain, msgPasswordsDiffer)
	}

	req := api.SignupRequest{
		Email:    strings.TrimSpace(email),
		Password: password,
		FullName: strings.TrimSpace(fullName),
	}
	if err := m.validate.Struct(req); err != nil {
		return nil, fault.Wrap(fault.Domain, err, "Please fill in your name, a valid email and a password.")
	}

	resp, err := m.remote.Signup(ctx, req)
	if err != nil {
		return nil, userFacing(err, msgSignupFailed)
	}

	if resp.Message == VerificationMessage {
		m.log.Info("Signup pending email verification", "email", req.Email)
		return &SignupResult{VerificationRequired: true, Message: resp.Message}, nil
	}

	tokens, ok := resp.Tokens()
	if !ok {
		return &SignupResult{Message: resp.Message}, nil
	}

	session := &Session{Tokens: tokens, User: resp.User}
	if err := m.save(ctx, session); err != nil {
		return nil, err
	}

	m.log.Info("Signed up", "email", req.Email)
	m.publish("")
	return &SignupResult{Session: session, Message: resp.Message}, nil
}

// Session loads the stored session. A stored access token that has expired
// invalidates the session.
func (m *Manager) Session(ctx context.Context) (*Session, error) {
	raw, err := m.store.Get(ctx, KeyTokens)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}

	var tokens api.Tokens
	if err := json.Unmarshal(raw, &tokens); err != nil || tokens.Access == "" || tokens.Refresh == "" {
		m.log.Warn("Discarding malformed stored session")
		_ = m.store.Delete(ctx, KeyTokens, KeyProfile)
		return nil, ErrNoSession
	}

	if TokenExpired(tokens.Access, m.now()) {
		m.Invalidate(ctx, msgSessionExpired)
		return nil, ErrNoSession
	}

	session := &Session{Tokens: tokens}
	if user, err := m.cachedProfile(ctx); err == nil {
		session.User = user
	}
	return session, nil
}

func (m *Manager) HasSession(ctx context.Context) bool {
	_, err := m.Session(ctx)
	return err == nil
}

func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	session, err := m.Session(ctx)
	if err != nil {
		return "", err
	}
	return session.Tokens.Access, nil
}

// Profile returns the cached profile, fetching it when absent.
func (m *Manager) Profile(ctx context.Context) (*api.User, error) {
	if user, err := m.cachedProfile(ctx); err == nil {
		return user, nil
	}
	return m.FetchProfile(ctx)
}

// FetchProfile asks the server for the profile and caches it. A 401 clears
// the whole session.
func (m *Manager) FetchProfile(ctx context.Context) (*api.User, error) {
	token, err := m.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	user, err := m.remote.Profile(ctx, token)
	if err != nil {
		m.CheckAuthFailure(ctx, err)
		return nil, err
	}

	if raw, err := json.Marshal(user); err == nil {
		if err := m.store.Set(ctx, KeyProfile, raw); err != nil {
			m.log.Warn("Failed to cache profile", "error", err)
		}
	}
	return user, nil
}

// CheckAuthFailure invalidates the session when err is an auth failure and
// reports whether it did.
func (m *Manager) CheckAuthFailure(ctx context.Context, err error) bool {
	if !fault.Is(err, fault.Auth) {
		return false
	}
	m.Invalidate(ctx, msgSessionExpired)
	return true
}

func (m *Manager) Logout(ctx context.Context) error {
	if err := m.store.Delete(ctx, KeyTokens, KeyProfile); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	m.log.Info("Logged out")
	m.publish("")
	return nil
}

// Invalidate drops the token pair and cached profile together.
func (m *Manager) Invalidate(ctx context.Context, reason string) {
	if err := m.store.Delete(ctx, KeyTokens, KeyProfile); err != nil {
		m.log.Error("Failed to clear session", "error", err)
	}
	m.log.Warn("Session invalidated", "reason", reason)
	m.publish(reason)
}

func (m *Manager) cachedProfile(ctx context.Context) (*api.User, error) {
	raw, err := m.store.Get(ctx, KeyProfile)
	if err != nil {
		return nil, err
	}
	var user api.User
	if err := json.Unmarshal(raw, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (m *Manager) save(ctx context.Context, session *Session) error {
	raw, err := json.Marshal(session.Tokens)
	if err != nil {
		return fmt.Errorf("encode tokens: %w", err)
	}
	if err := m.store.Set(ctx, KeyTokens, raw); err != nil {
		return fmt.Errorf("store tokens: %w", err)
	}

	if session.User == nil {
		return m.store.Delete(ctx, KeyProfile)
	}
	raw, err = json.Marshal(session.User)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	if err := m.store.Set(ctx, KeyProfile, raw); err != nil {
		return fmt.Errorf("store profile: %w", err)
	}
	return nil
}

func (m *Manager) publish(reason string) {
	if m.events == nil {
		return
	}
	m.events.Publish(context.Background(), bus.Event{
		Type:   bus.EventAuthChanged,
		Source: bus.SourceAuth,
		Error:  reason,
	})
}

// userFacing keeps the server's message, or substitutes fallback.
func userFacing(err error, fallback string) error {
	if fault.Is(err, fault.Transport) {
		return fault.Wrap(fault.Transport, err, msgNetwork)
	}
	if message := api.ServerMessage(err); message != "" {
		return fault.Wrap(fault.CategoryOf(err), err, message)
	}
	return fault.Wrap(fault.CategoryOf(err), err, fallback)
}
