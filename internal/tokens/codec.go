package tokens

import (
	"bytes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BradenHooton/tessera/internal/models"
	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/chacha20poly1305"
)

// Token purposes used by the login flow.
const (
	PurposeLoginState = "login-state"
	PurposeEmailCode  = "email-code"
)

const (
	formatVersion byte = 1
	maxClockSkew       = time.Minute
)

var (
	validate = validator.New()

	// encoding rejects non-zero padding bits so every token has exactly one
	// spelling.
	encoding = base64.RawURLEncoding.Strict()
)

type envelope[T any] struct {
	Payload  T      `json:"p"`
	IssuedAt *int64 `json:"iat"`
}

// Codec encodes and decodes payloads of type T for a single purpose.
type Codec[T any] struct {
	aead    cipher.AEAD
	purpose string
	maxAge  time.Duration
	now     func() time.Time
}

// Option configures a Codec.
type Option func(*options)

type options struct {
	maxAge time.Duration
	now    func() time.Time
}

// WithMaxAge rejects tokens older than d. Zero disables the age check.
func WithMaxAge(d time.Duration) Option {
	return func(o *options) { o.maxAge = d }
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// NewCodec binds a codec to key and purpose.
func NewCodec[T any](key *Key, purpose string, opts ...Option) (*Codec[T], error) {
	if key == nil {
		return nil, errors.New("tokens: nil key")
	}
	if purpose == "" {
		return nil, errors.New("tokens: empty purpose")
	}

	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	sub, err := key.derive(purpose)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(sub)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}

	return &Codec[T]{aead: aead, purpose: purpose, maxAge: o.maxAge, now: o.now}, nil
}

// Encode seals payload together with the current time.
func (c *Codec[T]) Encode(payload T) (string, error) {
	if err := validatePayload(payload); err != nil {
		return "", fmt.Errorf("encode %s token: %w", c.purpose, err)
	}

	iat := c.now().UnixMilli()
	plaintext, err := json.Marshal(envelope[T]{Payload: payload, IssuedAt: &iat})
	if err != nil {
		return "", fmt.Errorf("encode %s token: %w", c.purpose, err)
	}

	nonceSize := c.aead.NonceSize()
	buf := make([]byte, 1+nonceSize, 1+nonceSize+len(plaintext)+c.aead.Overhead())
	buf[0] = formatVersion
	if _, err := rand.Read(buf[1:]); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	buf = c.aead.Seal(buf, buf[1:1+nonceSize], plaintext, []byte(c.purpose))

	return encoding.EncodeToString(buf), nil
}

// Decode opens token and returns its payload. It fails with
// models.ErrInvalidToken for anything that was not produced by Encode on a
// codec with the same key and purpose, and models.ErrTokenExpired when the
// token is older than the configured max age.
func (c *Codec[T]) Decode(token string) (T, error) {
	var zero T

	// The decoder skips CR and LF, which would give a token a second spelling.
	if strings.ContainsAny(token, "\r\n") {
		return zero, fmt.Errorf("%w: malformed encoding", models.ErrInvalidToken)
	}
	raw, err := encoding.DecodeString(token)
	if err != nil {
		return zero, fmt.Errorf("%w: malformed encoding", models.ErrInvalidToken)
	}

	nonceSize := c.aead.NonceSize()
	if len(raw) < 1+nonceSize+c.aead.Overhead() {
		return zero, fmt.Errorf("%w: too short", models.ErrInvalidToken)
	}
	if raw[0] != formatVersion {
		return zero, fmt.Errorf("%w: unsupported version", models.ErrInvalidToken)
	}

	plaintext, err := c.aead.Open(nil, raw[1:1+nonceSize], raw[1+nonceSize:], []byte(c.purpose))
	if err != nil {
		return zero, fmt.Errorf("%w: authentication failed", models.ErrInvalidToken)
	}

	var env envelope[T]
	dec := json.NewDecoder(bytes.NewReader(plaintext))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&env); err != nil {
		return zero, fmt.Errorf("%w: malformed payload", models.ErrInvalidToken)
	}
	if env.IssuedAt == nil {
		return zero, fmt.Errorf("%w: missing issue time", models.ErrInvalidToken)
	}

	issued := time.UnixMilli(*env.IssuedAt)
	now := c.now()
	if issued.Sub(now) > maxClockSkew {
		return zero, fmt.Errorf("%w: issued in the future", models.ErrInvalidToken)
	}
	if c.maxAge > 0 && now.Sub(issued) > c.maxAge {
		return zero, models.ErrTokenExpired
	}

	if err := validatePayload(env.Payload); err != nil {
		return zero, fmt.Errorf("%w: %v", models.ErrInvalidToken, err)
	}

	return env.Payload, nil
}

// validatePayload applies validator struct tags. Non-struct payloads have
// no schema beyond their JSON shape.
func validatePayload(payload any) error {
	err := validate.Struct(payload)
	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		return nil
	}
	return err
}
