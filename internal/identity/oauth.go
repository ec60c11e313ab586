package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"

	"github.com/BradenHooton/tessera/internal/models"
)

const (
	defaultGoogleUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"
	defaultGitHubUserInfoURL = "https://api.github.com/user"

	maxUserInfoBytes = 1 << 20
)

// OAuthConfig configures an OAuth 2.0 provider.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// Overridable for tests
	AuthURL     string
	TokenURL    string
	UserInfoURL string
	HTTPClient  *http.Client
}

// OAuthResolver runs the authorization code flow against one provider.
type OAuthResolver struct {
	method      string
	config      oauth2.Config
	userInfoURL string
	client      *http.Client
	parse       func([]byte) (*models.Identity, error)
}

func newOAuthResolver(method string, cfg OAuthConfig, endpoint oauth2.Endpoint, scopes []string, userInfoURL string, parse func([]byte) (*models.Identity, error)) *OAuthResolver {
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	if cfg.UserInfoURL != "" {
		userInfoURL = cfg.UserInfoURL
	}

	return &OAuthResolver{
		method: method,
		config: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       scopes,
		},
		userInfoURL: userInfoURL,
		client:      cfg.HTTPClient,
		parse:       parse,
	}
}

// NewGoogleResolver signs users in with Google.
func NewGoogleResolver(cfg OAuthConfig) *OAuthResolver {
	return newOAuthResolver(models.MethodGoogle, cfg, google.Endpoint,
		[]string{"openid", "email", "profile"}, defaultGoogleUserInfoURL, parseGoogleUser)
}

// NewGitHubResolver signs users in with GitHub.
func NewGitHubResolver(cfg OAuthConfig) *OAuthResolver {
	return newOAuthResolver(models.MethodGitHub, cfg, github.Endpoint,
		[]string{"read:user", "user:email"}, defaultGitHubUserInfoURL, parseGitHubUser)
}

func (r *OAuthResolver) Method() string { return r.method }

// AuthURL returns the provider consent URL with stateToken as the state parameter.
func (r *OAuthResolver) AuthURL(stateToken string) string {
	return r.config.AuthCodeURL(stateToken)
}

// Verify exchanges the authorization code and fetches the user profile.
// Every provider failure is reported as ErrInvalidCallback.
func (r *OAuthResolver) Verify(ctx context.Context, callback url.Values) (*models.Identity, error) {
	if e := callback.Get("error"); e != "" {
		return nil, fmt.Errorf("%w: provider returned %q", models.ErrInvalidCallback, e)
	}
	code := callback.Get("code")
	if code == "" {
		return nil, fmt.Errorf("%w: missing code", models.ErrInvalidCallback)
	}

	if r.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.client)
	}

	token, err := r.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: code exchange: %w", models.ErrInvalidCallback, err)
	}

	body, err := r.fetchUserInfo(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrInvalidCallback, err)
	}

	ident, err := r.parse(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrInvalidCallback, err)
	}
	return ident, nil
}

func (r *OAuthResolver) fetchUserInfo(ctx context.Context, token *oauth2.Token) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create user info request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.config.Client(ctx, token).Do(req)
	if err != nil {
		return nil, fmt.Errorf("user info request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUserInfoBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read user info: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("user info returned status %d", resp.StatusCode)
	}
	return body, nil
}

type googleUser struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

func parseGoogleUser(body []byte) (*models.Identity, error) {
	var u googleUser
	if err := json.Unmarshal(body, &u); err != nil {
		return nil, fmt.Errorf("failed to parse google user: %w", err)
	}
	if u.Sub == "" {
		return nil, fmt.Errorf("google user has no subject")
	}

	ident := &models.Identity{
		MethodName:  models.MethodGoogle,
		MethodValue: u.Sub,
		Name:        u.Name,
		Picture:     u.Picture,
	}
	if u.EmailVerified {
		ident.Email = u.Email
	}
	return ident, nil
}

type githubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

func parseGitHubUser(body []byte) (*models.Identity, error) {
	var u githubUser
	if err := json.Unmarshal(body, &u); err != nil {
		return nil, fmt.Errorf("failed to parse github user: %w", err)
	}
	if u.ID == 0 {
		return nil, fmt.Errorf("github user has no id")
	}

	name := u.Name
	if name == "" {
		name = u.Login
	}
	return &models.Identity{
		MethodName:  models.MethodGitHub,
		MethodValue: strconv.FormatInt(u.ID, 10),
		Name:        name,
		Email:       u.Email,
		Picture:     u.AvatarURL,
	}, nil
}
