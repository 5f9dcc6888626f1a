package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"quickstart-agent/internal/domain"
)

const (
	defaultAuthority  = "https://login.microsoftonline.com"
	defaultTenant     = "botframework.com"
	defaultScope      = "https://api.botframework.com/.default"
	defaultSecretName = "client_secret"
)

// secretPayload is the expected JSON shape stored in SSM for the client secret.
type secretPayload struct {
	Secret string `json:"secret"`
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures non-2xx connector responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("connector: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client posts activities to a channel's connector service.
type Client struct {
	clientID   string
	tenantID   string
	tokenURL   string
	scopes     []string
	secretName string
	secrets    Getter
	httpClient *http.Client

	tokenMu sync.Mutex
	tokens  oauth2.TokenSource
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTenant scopes token acquisition to a single Entra tenant.
func WithTenant(tenantID string) Option {
	return func(c *Client) {
		c.tenantID = strings.TrimSpace(tenantID)
	}
}

// WithTokenURL overrides the OAuth2 token endpoint.
func WithTokenURL(tokenURL string) Option {
	return func(c *Client) {
		c.tokenURL = strings.TrimSpace(tokenURL)
	}
}

func WithScopes(scopes ...string) Option {
	return func(c *Client) {
		c.scopes = scopes
	}
}

func WithSecretName(name string) Option {
	return func(c *Client) {
		c.secretName = strings.TrimSpace(name)
	}
}

// NewClient creates a connector client. An empty clientID yields an anonymous
// client that sends no Authorization header. Otherwise the client secret is
// read through secrets on the first send.
func NewClient(clientID string, secrets Getter, opts ...Option) (*Client, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID != "" && secrets == nil {
		return nil, errors.New("connector: secret getter must not be nil when a client id is set")
	}
	c := &Client{
		clientID:   clientID,
		secrets:    secrets,
		scopes:     []string{defaultScope},
		secretName: defaultSecretName,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tokenURL == "" {
		tenant := c.tenantID
		if tenant == "" {
			tenant = defaultTenant
		}
		c.tokenURL = defaultAuthority + "/" + tenant + "/oauth2/v2.0/token"
	}
	return c, nil
}

func (c *Client) anonymous() bool {
	return c.clientID == ""
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

// resolveTokenSource builds the client-credentials token source on first use.
// A failed build is retried on the next call.
func (c *Client) resolveTokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	if c.tokens != nil {
		return c.tokens, nil
	}

	secret, err := fetchClientSecret(ctx, c.secrets, c.secretName)
	if err != nil {
		return nil, err
	}
	cfg := clientcredentials.Config{
		ClientID:     c.clientID,
		ClientSecret: secret,
		TokenURL:     c.tokenURL,
		Scopes:       c.scopes,
	}
	// Token refreshes are not bound to the triggering request's context.
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, c.resolvedHTTPClient())
	c.tokens = cfg.TokenSource(tokenCtx)
	return c.tokens, nil
}

func activitiesURL(a domain.Activity) (string, error) {
	base := strings.TrimRight(strings.TrimSpace(a.ServiceURL), "/")
	if base == "" {
		return "", errors.New("connector: activity has no service url")
	}
	if a.Conversation.ID == "" {
		return "", errors.New("connector: activity has no conversation id")
	}
	u := base + "/v3/conversations/" + url.PathEscape(a.Conversation.ID) + "/activities"
	if a.ReplyToID != "" {
		u += "/" + url.PathEscape(a.ReplyToID)
	}
	return u, nil
}

// SendActivity posts the activity to its conversation, as a reply when
// ReplyToID is set.
func (c *Client) SendActivity(ctx context.Context, activity domain.Activity) (domain.ResourceResponse, error) {
	target, err := activitiesURL(activity)
	if err != nil {
		return domain.ResourceResponse{}, err
	}

	body, err := json.Marshal(activity)
	if err != nil {
		return domain.ResourceResponse{}, fmt.Errorf("connector: marshal activity: %w", err)
	}

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if reqErr != nil {
		return domain.ResourceResponse{}, fmt.Errorf("connector: create request: %w", reqErr)
	}
	req.Header.Set("Content-Type", "application/json")

	if !c.anonymous() {
		ts, err := c.resolveTokenSource(ctx)
		if err != nil {
			return domain.ResourceResponse{}, err
		}
		tok, err := ts.Token()
		if err != nil {
			return domain.ResourceResponse{}, fmt.Errorf("connector: acquire token: %w", err)
		}
		tok.SetAuthHeader(req)
	}

	raw, err := c.doJSONRequest(req, target)
	if err != nil {
		return domain.ResourceResponse{}, fmt.Errorf("connector: send activity: %w", err)
	}

	var out domain.ResourceResponse
	if len(bytes.TrimSpace(raw)) == 0 {
		return out, nil
	}
	if decErr := json.Unmarshal(raw, &out); decErr != nil {
		return domain.ResourceResponse{}, fmt.Errorf("connector: decode response: %w", decErr)
	}
	return out, nil
}

func (c *Client) doJSONRequest(req *http.Request, target string) ([]byte, error) {
	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		return nil, doErr
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        target,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}

func fetchClientSecret(ctx context.Context, getter Getter, name string) (string, error) {
	if getter == nil {
		return "", errors.New("connector: secret getter is nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("connector: secret parameter name is empty")
	}

	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("connector: fetch client secret: %w", err)
	}
	var sp secretPayload
	if err := json.Unmarshal([]byte(raw), &sp); err != nil {
		return "", fmt.Errorf("connector: unmarshal client secret as JSON: %w", err)
	}
	if sp.Secret == "" {
		return "", errors.New("connector: client secret is empty")
	}
	return sp.Secret, nil
}
