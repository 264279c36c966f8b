package altspace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
)

// ErrUserNotFound means the upstream account service has no record for the
// requested username. Lookups are case sensitive on the upstream side.
var ErrUserNotFound = errors.New("altspace: user not found")

// ErrSessionUnavailable means the login exchange itself failed; the session
// cache stays empty so a later request can retry.
var ErrSessionUnavailable = errors.New("altspace: session unavailable")

// Customization is a user's stored avatar description. Only the identifier is
// typed; the raw body is forwarded verbatim to the renderer.
type Customization struct {
	ID  string
	Raw []byte
}

var csrfTokenPattern = regexp.MustCompile(`<meta\s+name="csrf-token"\s+content="([^"]+)"`)

// Client talks to the upstream account service. All authenticated calls share
// one cookie-jar session owned by the embedded session cache.
type Client struct {
	baseURL    string
	email      string
	password   string
	httpClient *http.Client
	sessions   *SessionCache
}

func NewClient(baseURL, email, password string, clock clockwork.Clock) *Client {
	jar, _ := cookiejar.New(nil)
	c := &Client{
		baseURL:  strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		email:    strings.TrimSpace(email),
		password: password,
		httpClient: &http.Client{
			Jar:     jar,
			Timeout: 30 * time.Second,
		},
	}
	c.sessions = NewSessionCache(c.login, clock)
	return c
}

// Sessions exposes the session cache for invalidation and introspection.
func (c *Client) Sessions() *SessionCache {
	return c.sessions
}

// FetchCustomization resolves a username to its stored avatar customization.
// The record is fetched fresh on every call; the upstream copy may have
// changed between requests. A transport failure invalidates the shared
// session so the next request triggers a fresh login; this request fails.
func (c *Client) FetchCustomization(ctx context.Context, username string) (Customization, error) {
	if err := c.sessions.Ensure(ctx); err != nil {
		return Customization{}, err
	}

	id, err := c.lookupUser(ctx, username)
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			c.sessions.Invalidate()
		}
		return Customization{}, err
	}

	raw, err := c.fetchCustomizationByID(ctx, id)
	if err != nil {
		c.sessions.Invalidate()
		return Customization{}, err
	}

	return Customization{ID: id, Raw: raw}, nil
}

func (c *Client) lookupUser(ctx context.Context, username string) (string, error) {
	endpoint := c.baseURL + "/api/users/" + url.PathEscape(username)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("lookup user: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", ErrUserNotFound
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("lookup user: unexpected status %s", resp.Status)
	}

	var parsed struct {
		Users []struct {
			AvatarCustomizationID json.Number `json:"avatar_customization_id"`
		} `json:"users"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode user record: %w", err)
	}
	if len(parsed.Users) == 0 {
		return "", ErrUserNotFound
	}

	id := parsed.Users[0].AvatarCustomizationID.String()
	if id == "" || id == "0" {
		return "", fmt.Errorf("user record missing avatar customization id")
	}
	return id, nil
}

func (c *Client) fetchCustomizationByID(ctx context.Context, id string) ([]byte, error) {
	endpoint := c.baseURL + "/api/avatar_customizations/" + url.PathEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch customization: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch customization: unexpected status %s", resp.Status)
	}

	var parsed struct {
		AvatarCustomizations []json.RawMessage `json:"avatar_customizations"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode customization: %w", err)
	}
	if len(parsed.AvatarCustomizations) == 0 {
		return nil, fmt.Errorf("customization %s has no payload", id)
	}
	return parsed.AvatarCustomizations[0], nil
}

// login runs the full exchange: fetch the sign-in page for its anti-forgery
// token, then submit credentials plus that token. The session cookie lands in
// the shared jar as a side effect.
func (c *Client) login(ctx context.Context) error {
	token, err := c.fetchCSRFToken(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}

	form := url.Values{}
	form.Set("user[email]", c.email)
	form.Set("user[password]", c.password)
	form.Set("authenticity_token", token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/users/sign_in", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: sign-in returned %s", ErrSessionUnavailable, resp.Status)
	}
	return nil
}

func (c *Client) fetchCSRFToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/users/sign_in", nil)
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch sign-in page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("sign-in page returned %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read sign-in page: %w", err)
	}

	match := csrfTokenPattern.FindSubmatch(body)
	if match == nil {
		return "", fmt.Errorf("csrf token not found in sign-in page")
	}
	return string(match[1]), nil
}
