package parcel

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/meigma/parcel/cache"
	"github.com/meigma/parcel/index"
	"github.com/meigma/parcel/pool"
	"github.com/meigma/parcel/session"
)

// Config describes the application and where its packages live.
//
// Defaults are resolved by the caller; the zero value of an optional field
// selects the library default.
type Config struct {
	// AppName and AppVersion identify the application in request headers.
	AppName    string
	AppVersion string

	// DataPath is the existing directory holding the pool and the cache.
	DataPath string

	// RepositoryURL is the package repository. Only required by operations
	// that talk to the repository.
	RepositoryURL string

	// ObjectEndpoint is the object store URL template used by Upload.
	// See index.DefaultObjectEndpoint.
	ObjectEndpoint string

	// HTTPClient is copied for repository requests. Defaults to http.DefaultClient.
	HTTPClient *http.Client

	// Logger receives operation steps. Defaults to discarding.
	Logger *slog.Logger

	// Progress receives build, download, extraction and upload progress.
	Progress ProgressFunc

	// RetryWait and MaxAttempts bound the index update retry loop.
	RetryWait   time.Duration
	MaxAttempts int
}

// Client runs package operations against one data path.
type Client struct {
	cfg     Config
	logger  *slog.Logger
	session *session.Session
	pool    *pool.Pool
	cache   *cache.Cache
}

// New opens the data path described by cfg.
func New(cfg Config) (*Client, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s, err := session.New(cfg.AppName, cfg.AppVersion, cfg.DataPath,
		session.WithHTTPClient(cfg.HTTPClient),
		session.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	p, err := pool.New(cfg.DataPath, pool.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDataPath, err)
	}
	c, err := cache.New(cfg.DataPath,
		cache.WithLogger(logger),
		cache.WithClient(s),
		cache.WithProgress(cfg.Progress),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDataPath, err)
	}
	return &Client{cfg: cfg, logger: logger, session: s, pool: p, cache: c}, nil
}

// Pool returns the installed packages.
func (c *Client) Pool() *pool.Pool {
	return c.pool
}

// Cache returns the cached repository packages.
func (c *Client) Cache() *cache.Cache {
	return c.cache
}

// Session returns the HTTP session used for repository requests.
func (c *Client) Session() *session.Session {
	return c.session
}

func (c *Client) index() (*index.Index, error) {
	return index.New(c.cfg.RepositoryURL, c.session, c.cache,
		index.WithLogger(c.logger),
		index.WithProgress(c.cfg.Progress),
		index.WithRetryWait(c.cfg.RetryWait),
		index.WithMaxAttempts(c.cfg.MaxAttempts),
	)
}

// Close persists the session cookies.
func (c *Client) Close() error {
	if err := c.session.Close(); err != nil {
		return fmt.Errorf("save cookies: %w", err)
	}
	return nil
}
