package b2

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/koustreak/pistas/internal/errs"
	"github.com/koustreak/pistas/internal/filestore"
	"github.com/koustreak/pistas/internal/logger"
)

const authorizePath = "/b2api/v2/b2_authorize_account"

// Session is an authorized B2 account session.
type Session struct {
	BearerToken     string
	APIBaseURL      string
	DownloadBaseURL string
	AccountID       string
	IssuedAt        time.Time
}

// authorizeResponse is the subset of b2_authorize_account we use.
type authorizeResponse struct {
	AccountID          string `json:"accountId"`
	AuthorizationToken string `json:"authorizationToken"`
	APIURL             string `json:"apiUrl"`
	DownloadURL        string `json:"downloadUrl"`
}

// SessionManager owns the account session: it authorizes lazily, reuses the
// session inside the freshness window and collapses concurrent refreshes
// into a single authorization call.
// It is safe for concurrent use by multiple goroutines.
type SessionManager struct {
	client     *http.Client
	authURL    string
	credential string
	ttl        time.Duration
	timeout    time.Duration
	log        *logger.Logger
	now        func() time.Time

	mu      sync.RWMutex
	current *Session
	flight  singleflight.Group
}

// NewSessionManager builds a manager for cfg. The credential is parsed on
// first use, so a missing credential only fails session-dependent calls.
func NewSessionManager(client *http.Client, cfg filestore.Config, log *logger.Logger) *SessionManager {
	cfg = cfg.WithDefaults()
	if log == nil {
		log = logger.Nop()
	}
	return &SessionManager{
		client:     client,
		authURL:    strings.TrimRight(cfg.AuthURL, "/"),
		credential: cfg.Credential,
		ttl:        cfg.SessionTTL,
		timeout:    cfg.RequestTimeout,
		log:        log.Component("session"),
		now:        time.Now,
	}
}

// EnsureSession returns a session that is inside its freshness window,
// authorizing first when there is none.
func (m *SessionManager) EnsureSession(ctx context.Context) (Session, error) {
	if s, ok := m.fresh(); ok {
		return s, nil
	}

	ch := m.flight.DoChan("session", func() (interface{}, error) {
		// Another flight may have finished between fresh() and DoChan.
		if s, ok := m.fresh(); ok {
			return s, nil
		}
		// Detached so one departing caller cannot fail everyone sharing the flight.
		return m.authorize(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Session{}, res.Err
		}
		return res.Val.(Session), nil
	case <-ctx.Done():
		return Session{}, mapError(ctx.Err(), "waiting for authorization")
	}
}

// Session returns the current session without authorizing.
func (m *SessionManager) Session() (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return Session{}, errs.New(errs.ErrKindAuth, "not authenticated")
	}
	return *m.current, nil
}

// AuthToken returns the bearer token of the current session.
func (m *SessionManager) AuthToken() (string, error) {
	s, err := m.Session()
	return s.BearerToken, err
}

// APIURL returns the API base URL of the current session.
func (m *SessionManager) APIURL() (string, error) {
	s, err := m.Session()
	return s.APIBaseURL, err
}

// DownloadURL returns the download base URL of the current session.
func (m *SessionManager) DownloadURL() (string, error) {
	s, err := m.Session()
	return s.DownloadBaseURL, err
}

// Invalidate drops the current session.
func (m *SessionManager) Invalidate() {
	m.mu.Lock()
	m.current = nil
	m.mu.Unlock()
}

// invalidate drops stale only if it is still the current session, so a
// caller holding an old token cannot discard a refresh made by another.
func (m *SessionManager) invalidate(stale Session) {
	m.mu.Lock()
	if m.current != nil && m.current.BearerToken == stale.BearerToken {
		m.current = nil
	}
	m.mu.Unlock()
}

// withSession runs op with a valid session. A 401 from op invalidates the
// session and op is retried exactly once with a fresh one. Failures of the
// retry keep their kind unless they are auth or transport errors.
func (m *SessionManager) withSession(ctx context.Context, opName string, op func(context.Context, Session) error) error {
	s, err := m.EnsureSession(ctx)
	if err != nil {
		return err
	}

	err = op(ctx, s)
	if errs.StatusCode(err) != http.StatusUnauthorized {
		return err
	}

	m.log.WarnWith("session rejected, re-authorizing", err, map[string]interface{}{"op": opName})
	m.invalidate(s)

	s, err = m.EnsureSession(ctx)
	if err != nil {
		return err
	}
	if err = op(ctx, s); err == nil {
		return nil
	}
	switch errs.KindOf(err) {
	case errs.ErrKindAuth, errs.ErrKindUnknown, errs.ErrKindRemoteUnavailable:
		return errs.Wrap(errs.ErrKindRemoteUnavailable, opName+" failed after re-authorization", err)
	}
	return err
}

func (m *SessionManager) fresh() (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil || m.now().Sub(m.current.IssuedAt) >= m.ttl {
		return Session{}, false
	}
	return *m.current, true
}

func (m *SessionManager) authorize(ctx context.Context) (Session, error) {
	keyID, secret, err := filestore.SplitCredential(m.credential)
	if err != nil {
		return Session{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.authURL+authorizePath, nil)
	if err != nil {
		return Session{}, errs.Wrap(errs.ErrKindConfig, "invalid authorization URL", err)
	}
	req.SetBasicAuth(keyID, secret)

	m.log.With().Str("key_id", keyID).Logger().Debug("authorizing account")

	resp, err := m.client.Do(req)
	if err != nil {
		return Session{}, mapError(err, "authorization request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		e := mapStatus(resp, "authorization rejected")
		if e.Kind == errs.ErrKindAuth {
			// A rejected credential is not a stale token; never report 401 upwards.
			e.Status = 0
		}
		return Session{}, e
	}

	var body authorizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Session{}, errs.Wrap(errs.ErrKindRemoteUnavailable, "invalid authorization response", err)
	}
	if body.AuthorizationToken == "" || body.APIURL == "" {
		return Session{}, errs.New(errs.ErrKindAuth, "authorization response has no token")
	}

	s := Session{
		BearerToken:     body.AuthorizationToken,
		APIBaseURL:      strings.TrimRight(body.APIURL, "/"),
		DownloadBaseURL: strings.TrimRight(body.DownloadURL, "/"),
		AccountID:       body.AccountID,
		IssuedAt:        m.now(),
	}

	m.mu.Lock()
	m.current = &s
	m.mu.Unlock()

	m.log.With().Str("api_url", s.APIBaseURL).Logger().Info("account authorized")
	return s, nil
}
