package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BradenHooton/tessera/internal/identity"
	"github.com/BradenHooton/tessera/internal/metrics"
	"github.com/BradenHooton/tessera/internal/models"
	"github.com/BradenHooton/tessera/internal/tokens"
	"github.com/BradenHooton/tessera/pkg/auth"
	pkghttp "github.com/BradenHooton/tessera/pkg/http"
	pkglogger "github.com/BradenHooton/tessera/pkg/logger"
)

// BeginResult tells the handler where to send the browser and what to put
// in the state cookie.
type BeginResult struct {
	RedirectURL string
	StateToken  string
	StateCookie string
}

// CompleteRequest is everything the callback route collected.
type CompleteRequest struct {
	StateToken  string
	StoredState string
	Callback    url.Values
	IPAddress   string
	UserAgent   string
}

// LoginResult is returned for a resolved login.
type LoginResult struct {
	UserID        string
	SessionSecret string
	RememberMe    bool
	Referer       string
	Method        string
	Created       bool
	Linked        bool
}

// LoginServiceConfig wires LoginService.
type LoginServiceConfig struct {
	Users      UserRepository
	Sessions   *SessionService
	Resolvers  *identity.Registry
	StateCodec *tokens.Codec[models.LoginState]
	Email      *identity.EmailResolver
	Mailer     Mailer
	Audit      *pkglogger.AuditLogger
	Metrics    metrics.Recorder
	BaseURL    string
	Logger     *slog.Logger
}

// LoginService drives a login from redirect to session. No server-side state
// is kept between Begin and Complete; everything travels in the state token
// and the state cookie.
type LoginService struct {
	users      UserRepository
	sessions   *SessionService
	resolvers  *identity.Registry
	stateCodec *tokens.Codec[models.LoginState]
	email      *identity.EmailResolver
	mailer     Mailer
	audit      *pkglogger.AuditLogger
	metrics    metrics.Recorder
	baseURL    string
	logger     *slog.Logger
}

// NewLoginService creates a new LoginService
func NewLoginService(cfg LoginServiceConfig) *LoginService {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Nop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Audit == nil {
		cfg.Audit = pkglogger.NewAuditLogger(cfg.Logger)
	}
	return &LoginService{
		users:      cfg.Users,
		sessions:   cfg.Sessions,
		resolvers:  cfg.Resolvers,
		stateCodec: cfg.StateCodec,
		email:      cfg.Email,
		mailer:     cfg.Mailer,
		audit:      cfg.Audit,
		metrics:    cfg.Metrics,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		logger:     cfg.Logger,
	}
}

// Begin starts a login with method. The returned state cookie value must be
// stored by the browser and presented again at the callback.
func (s *LoginService) Begin(ctx context.Context, method string, rememberMe bool, referer string) (*BeginResult, error) {
	resolver, err := s.resolvers.Get(method)
	if err != nil {
		return nil, err
	}

	nonce, err := auth.GenerateNonce()
	if err != nil {
		return nil, err
	}

	token, err := s.stateCodec.Encode(models.LoginState{
		State:      nonce,
		RememberMe: rememberMe,
		Referer:    pkghttp.SafeRedirectPath(referer),
		Method:     method,
	})
	if err != nil {
		return nil, fmt.Errorf("begin login: %w", err)
	}

	s.logger.DebugContext(ctx, "login started",
		slog.String("method", method),
		slog.String("phase", string(models.PhaseAwaitingCallback)))

	return &BeginResult{
		RedirectURL: resolver.AuthURL(token),
		StateToken:  token,
		StateCookie: nonce,
	}, nil
}

// BeginLink starts attaching email to the signed-in user userID: it mails a
// magic link whose state names the user. The returned StateCookie must be
// set in the requesting browser, so the link only completes there.
func (s *LoginService) BeginLink(ctx context.Context, userID, email string) (*BeginResult, error) {
	if s.email == nil || s.mailer == nil {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownMethod, models.MethodEmail)
	}

	nonce, err := auth.GenerateNonce()
	if err != nil {
		return nil, err
	}

	token, err := s.stateCodec.Encode(models.LoginState{
		State:      nonce,
		Referer:    "/account",
		Method:     models.MethodEmail,
		LinkUserID: userID,
	})
	if err != nil {
		return nil, fmt.Errorf("begin link: %w", err)
	}

	if err := s.mailLink(ctx, email, token); err != nil {
		return nil, err
	}

	return &BeginResult{StateToken: token, StateCookie: nonce}, nil
}

// Inspect decodes a pending login state token without completing it.
func (s *LoginService) Inspect(stateToken string) (*models.LoginState, error) {
	state, err := s.stateCodec.Decode(stateToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrInvalidState, err)
	}
	return &state, nil
}

// Complete finishes a login: it checks the state token against the state
// cookie, resolves the identity, finds or creates the user and issues a
// session secret.
func (s *LoginService) Complete(ctx context.Context, req CompleteRequest) (*LoginResult, error) {
	event := pkglogger.LoginEvent{
		Phase:     string(models.PhaseRejected),
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
	}

	result, err := s.complete(ctx, req, &event)
	if err != nil {
		event.FailureReason = failureReason(err)
		s.audit.LogLogin(ctx, event)
		s.metrics.RecordLogin(methodLabel(event.Method), string(models.PhaseRejected))
		return nil, err
	}

	event.Phase = string(models.PhaseResolved)
	event.UserID = result.UserID
	event.NewAccount = result.Created
	s.audit.LogLogin(ctx, event)
	s.metrics.RecordLogin(result.Method, string(models.PhaseResolved))
	return result, nil
}

func (s *LoginService) complete(ctx context.Context, req CompleteRequest, event *pkglogger.LoginEvent) (*LoginResult, error) {
	state, err := s.stateCodec.Decode(req.StateToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrInvalidState, err)
	}
	event.Method = state.Method

	if !auth.EqualSecrets(state.State, req.StoredState) {
		return nil, models.ErrStateMismatch
	}

	resolver, err := s.resolvers.Get(state.Method)
	if err != nil {
		return nil, err
	}

	ident, err := resolver.Verify(ctx, req.Callback)
	if err != nil {
		return nil, err
	}

	var user *models.User
	var created, linked bool
	if state.LinkUserID != "" {
		user, err = s.link(ctx, state.LinkUserID, ident)
		linked = true
	} else {
		user, created, err = s.findOrCreate(ctx, ident)
	}
	if err != nil {
		return nil, err
	}
	event.UserID = user.ID
	if linked {
		s.audit.LogAccountAction(ctx, "identity_linked", user.ID, req.IPAddress,
			map[string]string{"method": ident.MethodName})
	}

	secret, err := s.sessions.Issue(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	return &LoginResult{
		UserID:        user.ID,
		SessionSecret: secret,
		RememberMe:    state.RememberMe,
		Referer:       state.Referer,
		Method:        state.Method,
		Created:       created,
		Linked:        linked,
	}, nil
}

// findOrCreate looks the identity up and creates an account on first login.
// A concurrent first login for the same identity surfaces as ErrConflict
// from Create, in which case the winner's account is used.
func (s *LoginService) findOrCreate(ctx context.Context, ident *models.Identity) (*models.User, bool, error) {
	user, err := s.users.GetByIdentity(ctx, ident.MethodName, ident.MethodValue)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("failed to look up identity", slog.String("method", ident.MethodName), slog.Any("error", err))
		return nil, false, storageError("find user", err)
	}

	newUser := ident.NewUser()
	newUser.ID = uuid.NewString()
	created, err := s.users.Create(ctx, newUser)
	if err == nil {
		s.logger.Info("account created", slog.String("user_id", created.ID), slog.String("method", ident.MethodName))
		return created, true, nil
	}
	if !errors.Is(err, models.ErrConflict) {
		s.logger.Error("failed to create user", slog.String("method", ident.MethodName), slog.Any("error", err))
		return nil, false, storageError("create user", err)
	}

	user, err = s.users.GetByIdentity(ctx, ident.MethodName, ident.MethodValue)
	if err != nil {
		return nil, false, storageError("find user after conflict", err)
	}
	return user, false, nil
}

// link attaches ident to userID. Linking an identity the user already holds
// is a no-op; one held by another account is ErrIdentityInUse.
func (s *LoginService) link(ctx context.Context, userID string, ident *models.Identity) (*models.User, error) {
	owner, err := s.users.GetByIdentity(ctx, ident.MethodName, ident.MethodValue)
	if err == nil {
		return ownedBy(owner, userID)
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, storageError("find identity", err)
	}

	err = s.users.LinkIdentity(ctx, userID, ident)
	switch {
	case err == nil:
	case errors.Is(err, models.ErrConflict):
		owner, err := s.users.GetByIdentity(ctx, ident.MethodName, ident.MethodValue)
		if err != nil {
			return nil, storageError("find identity after conflict", err)
		}
		return ownedBy(owner, userID)
	case errors.Is(err, models.ErrNotFound):
		return nil, fmt.Errorf("%w: account no longer exists", models.ErrInvalidState)
	default:
		s.logger.Error("failed to link identity", slog.String("user_id", userID), slog.Any("error", err))
		return nil, storageError("link identity", err)
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, storageError("load linked user", err)
	}
	s.logger.Info("identity linked", slog.String("user_id", userID), slog.String("method", ident.MethodName))
	return user, nil
}

func ownedBy(owner *models.User, userID string) (*models.User, error) {
	if owner.ID != userID {
		return nil, models.ErrIdentityInUse
	}
	return owner, nil
}

// SendEmailLink mails a magic link for a pending email login. stateToken must
// be a live email login state; the link carries it back to the callback.
func (s *LoginService) SendEmailLink(ctx context.Context, email, stateToken string) error {
	if s.email == nil || s.mailer == nil {
		return fmt.Errorf("%w: %q", models.ErrUnknownMethod, models.MethodEmail)
	}

	state, err := s.stateCodec.Decode(stateToken)
	if err != nil {
		return fmt.Errorf("%w: %w", models.ErrInvalidState, err)
	}
	if state.Method != models.MethodEmail {
		return fmt.Errorf("%w: not an email login", models.ErrInvalidState)
	}

	return s.mailLink(ctx, email, stateToken)
}

// mailLink mails {BaseURL}/auth/callback carrying stateToken and a fresh
// email code for email.
func (s *LoginService) mailLink(ctx context.Context, email, stateToken string) error {
	code, err := s.email.IssueCode(email)
	if err != nil {
		return fmt.Errorf("%w: %w", models.ErrBadRequest, err)
	}

	link := s.baseURL + "/auth/callback?" + url.Values{
		"state": {stateToken},
		"code":  {code},
	}.Encode()

	if err := s.mailer.SendLoginLink(ctx, identity.NormalizeEmail(email), link, s.email.LinkMaxAge()); err != nil {
		if errors.Is(err, models.ErrMailUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %w", models.ErrMailUnavailable, err)
	}

	s.metrics.RecordEmailLinkSent()
	s.logger.InfoContext(ctx, "login link sent",
		slog.String("email", pkglogger.SanitizedEmail(email)),
		slog.Duration("expires_in", s.email.LinkMaxAge().Round(time.Second)))
	return nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, models.ErrInvalidState):
		if errors.Is(err, models.ErrTokenExpired) {
			return "state expired"
		}
		return "invalid state"
	case errors.Is(err, models.ErrStateMismatch):
		return "state mismatch"
	case errors.Is(err, models.ErrLinkExpired):
		return "link expired"
	case errors.Is(err, models.ErrInvalidCallback):
		return "invalid callback"
	case errors.Is(err, models.ErrUnknownMethod):
		return "unknown method"
	case errors.Is(err, models.ErrIdentityInUse):
		return "identity in use"
	case errors.Is(err, models.ErrStorageUnavailable):
		return "storage unavailable"
	default:
		return "internal error"
	}
}

func methodLabel(method string) string {
	if method == "" {
		return "unknown"
	}
	return method
}
