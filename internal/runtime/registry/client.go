package registry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	errspkg "github.com/drblury/cekafka/internal/runtime/errors"
	jsoncodec "github.com/drblury/cekafka/internal/runtime/jsoncodec"
)

const contentTypeRegistry = "application/vnd.schemaregistry.v1+json"

// Client reads schemas from a Confluent-compatible schema registry over HTTP.
// Lookups are cached; concurrent lookups for the same key share one request.
type Client struct {
	baseURL    string
	httpClient *http.Client
	username   string
	password   string
	latestTTL  time.Duration
	now        func() time.Time

	group singleflight.Group

	mu     sync.RWMutex
	byID   map[int]Schema
	latest map[string]cachedSchema
}

type cachedSchema struct {
	schema    Schema
	fetchedAt time.Time
}

// ClientOption customises a Client.
type ClientOption func(*Client)

// WithBasicAuth sets credentials from a "user:password" user-info string.
func WithBasicAuth(userInfo string) ClientOption {
	return func(c *Client) {
		if userInfo == "" {
			return
		}
		user, pass, _ := strings.Cut(userInfo, ":")
		c.username, c.password = user, pass
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLatestTTL bounds how long a "latest version" lookup is reused.
// Zero caches for the lifetime of the client.
func WithLatestTTL(ttl time.Duration) ClientOption {
	return func(c *Client) {
		c.latestTTL = ttl
	}
}

// NewClient returns a registry client for baseURL.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	parsed, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("cekafka: invalid schema registry url %q", baseURL)
	}
	c := &Client{
		baseURL:    strings.TrimRight(parsed.String(), "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
		byID:       make(map[int]Schema),
		latest:     make(map[string]cachedSchema),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Latest returns the newest registered version of subject.
func (c *Client) Latest(ctx context.Context, subject string) (Schema, error) {
	c.mu.RLock()
	cached, ok := c.latest[subject]
	c.mu.RUnlock()
	if ok && (c.latestTTL <= 0 || c.now().Sub(cached.fetchedAt) < c.latestTTL) {
		return cached.schema, nil
	}

	v, err, _ := c.group.Do("latest:"+subject, func() (any, error) {
		var resp Schema
		path := "/subjects/" + url.PathEscape(subject) + "/versions/latest"
		if err := c.get(ctx, path, &resp); err != nil {
			return Schema{}, err
		}
		if resp.Subject == "" {
			resp.Subject = subject
		}
		c.mu.Lock()
		c.latest[subject] = cachedSchema{schema: resp, fetchedAt: c.now()}
		c.byID[resp.ID] = resp
		c.mu.Unlock()
		return resp, nil
	})
	if err != nil {
		return Schema{}, fmt.Errorf("subject %q: %w", subject, err)
	}
	return v.(Schema), nil
}

// ByID returns the schema registered under id. Schemas are immutable, so
// results are cached for the lifetime of the client.
func (c *Client) ByID(ctx context.Context, id int) (Schema, error) {
	c.mu.RLock()
	cached, ok := c.byID[id]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	v, err, _ := c.group.Do("id:"+strconv.Itoa(id), func() (any, error) {
		var resp Schema
		if err := c.get(ctx, "/schemas/ids/"+strconv.Itoa(id), &resp); err != nil {
			return Schema{}, err
		}
		resp.ID = id
		c.mu.Lock()
		c.byID[id] = resp
		c.mu.Unlock()
		return resp, nil
	})
	if err != nil {
		return Schema{}, fmt.Errorf("schema id %d: %w", id, err)
	}
	return v.(Schema), nil
}

type registryError struct {
	ErrorCode int    `json:"error_code"`
	Message   string `json:"message"`
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", contentTypeRegistry)
	if c.username != "" || c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: schema registry: %w", errspkg.ErrConnection, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("%w: schema registry: %w", errspkg.ErrConnection, err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return ErrSchemaNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var regErr registryError
		if jsoncodec.Unmarshal(body, &regErr) == nil && regErr.Message != "" {
			return fmt.Errorf("schema registry returned %d (code %d): %s", resp.StatusCode, regErr.ErrorCode, regErr.Message)
		}
		return fmt.Errorf("schema registry returned %d", resp.StatusCode)
	}

	if err := jsoncodec.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode schema registry response: %w", err)
	}
	return nil
}
