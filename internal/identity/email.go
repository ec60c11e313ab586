package identity

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/BradenHooton/tessera/internal/models"
	"github.com/BradenHooton/tessera/internal/tokens"
)

// DefaultLinkMaxAge is how long a magic link stays usable.
const DefaultLinkMaxAge = 10 * time.Minute

// EmailConfig configures an EmailResolver.
type EmailConfig struct {
	// EntryURL is the page that collects the address, e.g. {BaseURL}/auth/email.
	EntryURL string
	// LinkMaxAge bounds the code timestamp. It is checked after, and
	// independently of, the codec's own max age.
	LinkMaxAge time.Duration
	Clock      func() time.Time
}

// EmailResolver implements magic link login.
type EmailResolver struct {
	codec      *tokens.Codec[models.EmailLoginCode]
	entryURL   string
	linkMaxAge time.Duration
	now        func() time.Time
}

// NewEmailResolver builds the email resolver around a codec for
// tokens.PurposeEmailCode.
func NewEmailResolver(codec *tokens.Codec[models.EmailLoginCode], cfg EmailConfig) *EmailResolver {
	if cfg.LinkMaxAge <= 0 {
		cfg.LinkMaxAge = DefaultLinkMaxAge
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &EmailResolver{
		codec:      codec,
		entryURL:   cfg.EntryURL,
		linkMaxAge: cfg.LinkMaxAge,
		now:        cfg.Clock,
	}
}

func (r *EmailResolver) Method() string { return models.MethodEmail }

// LinkMaxAge reports how long issued codes stay valid.
func (r *EmailResolver) LinkMaxAge() time.Duration { return r.linkMaxAge }

// AuthURL points at the email entry page carrying the state token.
func (r *EmailResolver) AuthURL(stateToken string) string {
	return r.entryURL + "?" + url.Values{"state": {stateToken}}.Encode()
}

// NormalizeEmail trims and lowercases an address so the identity key is stable.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IssueCode mints the code for a magic link sent to email.
func (r *EmailResolver) IssueCode(email string) (string, error) {
	code, err := r.codec.Encode(models.EmailLoginCode{
		Timestamp: r.now().UnixMilli(),
		Email:     NormalizeEmail(email),
	})
	if err != nil {
		return "", fmt.Errorf("issue email code: %w", err)
	}
	return code, nil
}

// Verify decodes the code query parameter and enforces the link lifetime.
func (r *EmailResolver) Verify(_ context.Context, callback url.Values) (*models.Identity, error) {
	raw := callback.Get("code")
	if raw == "" {
		return nil, fmt.Errorf("%w: missing code", models.ErrInvalidCallback)
	}

	code, err := r.codec.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrInvalidCallback, err)
	}

	if r.now().Sub(time.UnixMilli(code.Timestamp)) > r.linkMaxAge {
		return nil, models.ErrLinkExpired
	}

	return &models.Identity{
		MethodName:  models.MethodEmail,
		MethodValue: code.Email,
		Name:        code.Name,
		Email:       code.Email,
		Picture:     code.Picture,
	}, nil
}
