package tokens

import (
	"bytes"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/BradenHooton/tessera/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type greeting struct {
	Text  string `json:"text" validate:"required"`
	Count int    `json:"count"`
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestCodec[T any](t *testing.T, purpose string, opts ...Option) *Codec[T] {
	t.Helper()
	key, err := NewKey(testSecret)
	require.NoError(t, err)
	codec, err := NewCodec[T](key, purpose, opts...)
	require.NoError(t, err)
	return codec
}

func TestNewKey_RejectsShortSecret(t *testing.T) {
	_, err := NewKey([]byte("too-short"))
	assert.ErrorIs(t, err, ErrWeakSecret)
}

func TestNewKey_CopiesSecret(t *testing.T) {
	secret := bytes.Clone(testSecret)
	key, err := NewKey(secret)
	require.NoError(t, err)

	codec, err := NewCodec[greeting](key, "greeting")
	require.NoError(t, err)
	token, err := codec.Encode(greeting{Text: "hi"})
	require.NoError(t, err)

	secret[0] ^= 0xff

	got, err := codec.Decode(token)
	require.NoError(t, err)
	assert.Equal(t, "hi", got.Text)
}

func TestCodec_RoundTrip(t *testing.T) {
	codec := newTestCodec[greeting](t, "greeting", WithMaxAge(time.Hour))

	token, err := codec.Encode(greeting{Text: "hello", Count: 3})
	require.NoError(t, err)

	got, err := codec.Decode(token)
	require.NoError(t, err)
	assert.Equal(t, greeting{Text: "hello", Count: 3}, got)
}

func TestCodec_RoundTripLoginState(t *testing.T) {
	codec := newTestCodec[models.LoginState](t, PurposeLoginState)
	in := models.LoginState{
		State:      "abcdefghijklmnopqrstuvwxyz012345",
		RememberMe: true,
		Referer:    "/docs?tab=1",
		Method:     models.MethodGoogle,
	}

	token, err := codec.Encode(in)
	require.NoError(t, err)

	out, err := codec.Decode(token)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestCodec_TokensAreURLSafeAndUnique(t *testing.T) {
	codec := newTestCodec[greeting](t, "greeting")

	a, err := codec.Encode(greeting{Text: "same"})
	require.NoError(t, err)
	b, err := codec.Encode(greeting{Text: "same"})
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.NotContains(t, a, "+")
	assert.NotContains(t, a, "/")
	assert.NotContains(t, a, "=")
	assert.NotContains(t, a, "same")
}

func TestCodec_Expiry(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	codec := newTestCodec[greeting](t, "greeting", WithMaxAge(10*time.Minute), WithClock(clock.Now))

	token, err := codec.Encode(greeting{Text: "hi"})
	require.NoError(t, err)

	clock.Advance(10 * time.Minute)
	_, err = codec.Decode(token)
	assert.NoError(t, err, "a token exactly max age old is still valid")

	clock.Advance(time.Millisecond)
	_, err = codec.Decode(token)
	assert.ErrorIs(t, err, models.ErrTokenExpired)
	assert.NotErrorIs(t, err, models.ErrInvalidToken)
}

func TestCodec_ZeroMaxAgeNeverExpires(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	codec := newTestCodec[greeting](t, "greeting", WithClock(clock.Now))

	token, err := codec.Encode(greeting{Text: "hi"})
	require.NoError(t, err)

	clock.Advance(24 * 365 * time.Hour)
	_, err = codec.Decode(token)
	assert.NoError(t, err)
}

func TestCodec_RejectsFutureIssueTime(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	codec := newTestCodec[greeting](t, "greeting", WithClock(clock.Now))

	token, err := codec.Encode(greeting{Text: "hi"})
	require.NoError(t, err)

	clock.Advance(-30 * time.Second)
	_, err = codec.Decode(token)
	assert.NoError(t, err, "small skew is tolerated")

	clock.Advance(-time.Minute)
	_, err = codec.Decode(token)
	assert.ErrorIs(t, err, models.ErrInvalidToken)
}

func TestCodec_SingleBitTamper(t *testing.T) {
	codec := newTestCodec[greeting](t, "greeting")

	// Text lengths 1..19 cover every remainder of len(raw) % 3, so the last
	// character sometimes carries unused bits.
	for n := 1; n < 20; n++ {
		token, err := codec.Encode(greeting{Text: strings.Repeat("a", n)})
		require.NoError(t, err)

		for i := 0; i < len(token); i++ {
			for bit := 0; bit < 8; bit++ {
				mutated := []byte(token)
				mutated[i] ^= 1 << bit
				_, err := codec.Decode(string(mutated))
				require.ErrorIs(t, err, models.ErrInvalidToken,
					"text len %d: char %d (%q) bit %d", n, i, token[i], bit)
			}
		}
	}
}

func TestCodec_RejectsLineBreaks(t *testing.T) {
	codec := newTestCodec[greeting](t, "greeting")

	token, err := codec.Encode(greeting{Text: "hello"})
	require.NoError(t, err)

	for _, mutated := range []string{token + "\n", token[:10] + "\r\n" + token[10:]} {
		_, err := codec.Decode(mutated)
		assert.ErrorIs(t, err, models.ErrInvalidToken)
	}
}

func TestCodec_RejectsOtherPurpose(t *testing.T) {
	state := newTestCodec[greeting](t, PurposeLoginState)
	email := newTestCodec[greeting](t, PurposeEmailCode)

	token, err := state.Encode(greeting{Text: "hello"})
	require.NoError(t, err)

	_, err = email.Decode(token)
	assert.ErrorIs(t, err, models.ErrInvalidToken)
}

func TestCodec_RejectsOtherKey(t *testing.T) {
	codec := newTestCodec[greeting](t, "greeting")
	otherKey, err := NewKey([]byte("ffffffffffffffffffffffffffffffff"))
	require.NoError(t, err)
	other, err := NewCodec[greeting](otherKey, "greeting")
	require.NoError(t, err)

	token, err := codec.Encode(greeting{Text: "hello"})
	require.NoError(t, err)

	_, err = other.Decode(token)
	assert.ErrorIs(t, err, models.ErrInvalidToken)
}

func TestCodec_RejectsGarbage(t *testing.T) {
	codec := newTestCodec[greeting](t, "greeting")

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"not base64", "!!!not-a-token!!!"},
		{"too short", base64.RawURLEncoding.EncodeToString([]byte{1, 2, 3})},
		{"padded base64", base64.URLEncoding.EncodeToString(bytes.Repeat([]byte{1}, 50))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.Decode(tt.token)
			assert.ErrorIs(t, err, models.ErrInvalidToken)
		})
	}
}

func TestCodec_SchemaMismatch(t *testing.T) {
	type extended struct {
		Text  string `json:"text"`
		Extra string `json:"extra"`
	}
	type longer struct {
		Text  string `json:"text" validate:"min=5"`
		Count int    `json:"count"`
	}

	wide := newTestCodec[extended](t, "greeting")
	narrow := newTestCodec[greeting](t, "greeting")
	strict := newTestCodec[longer](t, "greeting")

	t.Run("unknown field", func(t *testing.T) {
		token, err := wide.Encode(extended{Text: "hi", Extra: "x"})
		require.NoError(t, err)

		_, err = narrow.Decode(token)
		assert.ErrorIs(t, err, models.ErrInvalidToken)
	})

	t.Run("failed validation", func(t *testing.T) {
		token, err := narrow.Encode(greeting{Text: "hi"})
		require.NoError(t, err)

		_, err = strict.Decode(token)
		assert.ErrorIs(t, err, models.ErrInvalidToken)
	})
}

func TestCodec_EncodeValidatesPayload(t *testing.T) {
	codec := newTestCodec[greeting](t, "greeting")

	_, err := codec.Encode(greeting{})
	assert.Error(t, err)
}

func TestCodec_NonStructPayload(t *testing.T) {
	codec := newTestCodec[string](t, "plain")

	token, err := codec.Encode("just a string")
	require.NoError(t, err)

	got, err := codec.Decode(token)
	require.NoError(t, err)
	assert.Equal(t, "just a string", got)
}

func TestNewCodec_RejectsMissingInputs(t *testing.T) {
	key, err := NewKey(testSecret)
	require.NoError(t, err)

	_, err = NewCodec[greeting](nil, "greeting")
	assert.Error(t, err)

	_, err = NewCodec[greeting](key, "")
	assert.Error(t, err)
}
