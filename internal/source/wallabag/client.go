package wallabag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
	"golang.org/x/oauth2"

	"wallabag_syncer/internal/domain"
)

const (
	SourceID   = "wallabag"
	SourceName = "wallabag"

	timeLayout = "2006-01-02T15:04:05-0700"
)

// Config holds wallabag client configuration.
type Config struct {
	BaseURL        string
	ClientID       string
	ClientSecret   string
	Username       string
	Password       string
	PerPage        int
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Client talks to the wallabag REST API on behalf of a single user.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	perPage        int
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	logger         *slog.Logger
}

// New creates a wallabag client. Tokens are obtained with the OAuth2 password
// grant on first use and requested again once they expire.
func New(cfg Config, logger *slog.Logger) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  baseURL + "/oauth/v2/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Timeout: cfg.Timeout})
	tokens := oauth2.ReuseTokenSource(nil, &passwordTokenSource{
		ctx:      tokenCtx,
		config:   oauthCfg,
		username: cfg.Username,
		password: cfg.Password,
	})

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &oauth2.Transport{
				Source: tokens,
				Base:   http.DefaultTransport,
			},
		},
		baseURL:        baseURL,
		perPage:        cfg.PerPage,
		maxAttempts:    max(cfg.MaxAttempts, 1),
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		logger:         logger.With("source", SourceID),
	}
}

type passwordTokenSource struct {
	ctx      context.Context
	config   *oauth2.Config
	username string
	password string
}

func (s *passwordTokenSource) Token() (*oauth2.Token, error) {
	return s.config.PasswordCredentialsToken(s.ctx, s.username, s.password)
}

// ID returns the source identifier.
func (c *Client) ID() string {
	return SourceID
}

// Name returns human-readable name.
func (c *Client) Name() string {
	return SourceName
}

// ListEntries fetches one page of the user's entries, oldest first so that
// entries created during a sync pass land on the last page.
func (c *Client) ListEntries(ctx context.Context, page int) (*domain.EntryPage, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("perPage", strconv.Itoa(c.perPage))
	query.Set("sort", "created")
	query.Set("order", "asc")

	var resp entriesResponse
	if err := c.do(ctx, http.MethodGet, "/api/entries.json?"+query.Encode(), nil, &resp, true); err != nil {
		return nil, fmt.Errorf("list entries page %d: %w", page, err)
	}

	c.logger.Debug("fetched page",
		"page", page,
		"entries", len(resp.Embedded.Items),
		"pages", resp.Pages,
	)

	items, skipped := c.transform(resp.Embedded.Items)

	return &domain.EntryPage{
		Items:      items,
		Skipped:    skipped,
		Page:       resp.Page,
		TotalPages: resp.Pages,
		Total:      resp.Total,
	}, nil
}

// UpdateEntry pushes the archived and starred flags of an entry.
func (c *Client) UpdateEntry(ctx context.Context, id int64, update domain.EntryUpdate) (*domain.RemoteEntry, error) {
	form := url.Values{}
	form.Set("archive", formFlag(update.Archived))
	form.Set("starred", formFlag(update.Starred))

	var entry apiEntry
	if err := c.do(ctx, http.MethodPatch, entryPath(id), form, &entry, true); err != nil {
		return nil, fmt.Errorf("update entry %d: %w", id, err)
	}

	return c.single(entry)
}

// DeleteEntry removes an entry on the server.
func (c *Client) DeleteEntry(ctx context.Context, id int64) error {
	if err := c.do(ctx, http.MethodDelete, entryPath(id), nil, nil, true); err != nil {
		return fmt.Errorf("delete entry %d: %w", id, err)
	}
	return nil
}

// CreateEntry asks the server to save the page at rawURL. It is not retried.
func (c *Client) CreateEntry(ctx context.Context, rawURL string) (*domain.RemoteEntry, error) {
	form := url.Values{}
	form.Set("url", rawURL)

	var entry apiEntry
	if err := c.do(ctx, http.MethodPost, "/api/entries.json", form, &entry, false); err != nil {
		return nil, fmt.Errorf("create entry: %w", err)
	}

	return c.single(entry)
}

func entryPath(id int64) string {
	return "/api/entries/" + strconv.FormatInt(id, 10) + ".json"
}

func (c *Client) single(entry apiEntry) (*domain.RemoteEntry, error) {
	items, _ := c.transform([]apiEntry{entry})
	if len(items) == 0 {
		return nil, fmt.Errorf("entry %d: invalid updated_at %q", entry.ID, entry.UpdatedAt)
	}
	return &items[0], nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("unexpected status: %d", e.code)
	}
	return fmt.Sprintf("unexpected status: %d: %s", e.code, e.body)
}

func retryable(err error) bool {
	if errors.Is(err, domain.ErrInvalidAuth) || errors.Is(err, domain.ErrNotFound) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500 || se.code == http.StatusTooManyRequests
	}
	return true
}

func (c *Client) do(ctx context.Context, method, path string, form url.Values, out any, retry bool) error {
	attempts := 1
	if retry {
		attempts = c.maxAttempts
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = c.doRequest(ctx, method, path, form, out)
		if err == nil || !retryable(err) {
			return err
		}

		if attempt == attempts {
			break
		}

		backoff := c.calculateBackoff(attempt)
		c.logger.Warn("request failed, retrying",
			"method", method,
			"path", path,
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}

	if attempts > 1 {
		return fmt.Errorf("after %d attempts: %w", attempts, err)
	}
	return err
}

func (c *Client) doRequest(ctx context.Context, method, path string, form url.Values, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "WallabagSyncer/1.0")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && isAuthFailure(retrieveErr) {
			return fmt.Errorf("%w: %s", domain.ErrInvalidAuth, retrieveErr.ErrorCode)
		}
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", domain.ErrInvalidAuth, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return domain.ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return &statusError{code: resp.StatusCode, body: readError(resp.Body)}
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

func isAuthFailure(err *oauth2.RetrieveError) bool {
	if err.Response == nil {
		return false
	}
	code := err.Response.StatusCode
	return code == http.StatusBadRequest || code == http.StatusUnauthorized || code == http.StatusForbidden
}

func readError(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 4096))
	var apiErr apiError
	if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Error != "" {
		return apiErr.Error
	}
	return strings.TrimSpace(string(data))
}

func (c *Client) calculateBackoff(attempt int) time.Duration {
	backoff := c.initialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
	}
	if backoff > c.maxBackoff {
		backoff = c.maxBackoff
	}
	return backoff
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(timeLayout, value)
	if err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, value)
}

// transform converts API items. Items with an unusable updated_at are left
// out and their ids returned separately.
func (c *Client) transform(items []apiEntry) ([]domain.RemoteEntry, []int64) {
	entries := make([]domain.RemoteEntry, 0, len(items))
	var skipped []int64

	for _, item := range items {
		updatedAt, err := parseTime(item.UpdatedAt)
		if err != nil {
			c.logger.Warn("failed to parse date",
				"entry_id", item.ID,
				"updated_at", item.UpdatedAt,
			)
			skipped = append(skipped, item.ID)
			continue
		}

		createdAt, err := parseTime(item.CreatedAt)
		if err != nil {
			createdAt = updatedAt
		}

		entries = append(entries, domain.RemoteEntry{
			ID:             item.ID,
			Title:          item.Title,
			Content:        item.Content,
			DomainName:     item.DomainName,
			URL:            item.URL,
			Mimetype:       item.Mimetype,
			Language:       item.Language,
			PreviewPicture: item.PreviewPicture,
			ReadingTime:    item.ReadingTime,
			IsArchived:     bool(item.IsArchived),
			IsStarred:      bool(item.IsStarred),
			CreatedAt:      createdAt,
			UpdatedAt:      updatedAt,
			Tags: lo.Map(item.Tags, func(t apiTag, _ int) domain.Tag {
				return domain.Tag{ID: t.ID, Label: t.Label, Slug: t.Slug}
			}),
			UserEmail: item.UserEmail,
			UserID:    item.UserID,
			UserName:  item.UserName,
		})
	}

	return entries, skipped
}
