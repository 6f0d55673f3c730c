package wallabag

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"wallabag_syncer/internal/domain"
)

const pageJSON = `{
  "page": 2,
  "limit": 2,
  "pages": 3,
  "total": 5,
  "_embedded": {
    "items": [
      {
        "id": 42,
        "title": "my title",
        "content": "<b>awesome content</b>",
        "domain_name": "wallabag.org",
        "url": "https://wallabag.org/post",
        "mimetype": "text/html",
        "language": "en",
        "preview_picture": "https://wallabag.org/pic.png",
        "reading_time": 2,
        "is_archived": 1,
        "is_starred": 0,
        "created_at": "2017-05-07T10:00:00+0200",
        "updated_at": "2017-05-08T11:30:00+0200",
        "tags": [{"id": 7, "label": "go", "slug": "go"}],
        "user_email": "user@mail.com",
        "user_id": 1,
        "user_name": "wallabag"
      },
      {
        "id": 43,
        "title": "no picture",
        "preview_picture": null,
        "is_archived": false,
        "is_starred": true,
        "created_at": "2017-05-07T10:00:00+0200",
        "updated_at": "2017-05-07T10:00:00+0200",
        "tags": []
      },
      {
        "id": 44,
        "title": "broken date",
        "is_archived": 0,
        "is_starred": 0,
        "updated_at": "yesterday"
      }
    ]
  }
}`

type ClientTestSuite struct {
	suite.Suite

	mux          *http.ServeMux
	server       *httptest.Server
	client       *Client
	tokenCalls   atomic.Int32
	tokenStatus  int
	apiCalls     atomic.Int32
	lastAuthzHdr atomic.Value
}

func (s *ClientTestSuite) SetupTest() {
	s.tokenCalls.Store(0)
	s.apiCalls.Store(0)
	s.tokenStatus = http.StatusOK

	s.mux = http.NewServeMux()
	s.mux.HandleFunc("/oauth/v2/token", func(w http.ResponseWriter, r *http.Request) {
		s.tokenCalls.Add(1)
		s.Require().NoError(r.ParseForm())
		w.Header().Set("Content-Type", "application/json")
		if s.tokenStatus != http.StatusOK {
			w.WriteHeader(s.tokenStatus)
			_, _ = io.WriteString(w, `{"error":"invalid_grant","error_description":"Invalid username and password combination"}`)
			return
		}
		s.Equal("password", r.PostForm.Get("grant_type"))
		s.Equal("alice", r.PostForm.Get("username"))
		s.Equal("client", r.PostForm.Get("client_id"))
		_, _ = io.WriteString(w, `{"access_token":"abc","token_type":"bearer","expires_in":3600,"refresh_token":"def"}`)
	})

	s.server = httptest.NewServer(s.mux)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.client = New(Config{
		BaseURL:        s.server.URL + "/",
		ClientID:       "client",
		ClientSecret:   "secret",
		Username:       "alice",
		Password:       "hunter2",
		PerPage:        2,
		Timeout:        5 * time.Second,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}, logger)
}

func (s *ClientTestSuite) TearDownTest() {
	s.server.Close()
}

func TestClientTestSuite(t *testing.T) {
	suite.Run(t, new(ClientTestSuite))
}

func (s *ClientTestSuite) handle(pattern string, fn http.HandlerFunc) {
	s.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		s.apiCalls.Add(1)
		s.lastAuthzHdr.Store(r.Header.Get("Authorization"))
		fn(w, r)
	})
}

func (s *ClientTestSuite) TestListEntries() {
	s.handle("GET /api/entries.json", func(w http.ResponseWriter, r *http.Request) {
		s.Equal("2", r.URL.Query().Get("page"))
		s.Equal("2", r.URL.Query().Get("perPage"))
		s.Equal("asc", r.URL.Query().Get("order"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, pageJSON)
	})

	page, err := s.client.ListEntries(context.Background(), 2)
	s.Require().NoError(err)

	s.Equal("Bearer abc", s.lastAuthzHdr.Load())
	s.Equal(2, page.Page)
	s.Equal(3, page.TotalPages)
	s.Equal(5, page.Total)
	s.Require().Len(page.Items, 2, "entry with unparseable updated_at is skipped")
	s.Equal([]int64{44}, page.Skipped)

	first := page.Items[0]
	s.Equal(int64(42), first.ID)
	s.Equal("my title", first.Title)
	s.Equal("<b>awesome content</b>", first.Content)
	s.Equal("wallabag.org", first.DomainName)
	s.Equal("text/html", first.Mimetype)
	s.Equal("en", first.Language)
	s.Require().NotNil(first.PreviewPicture)
	s.Equal("https://wallabag.org/pic.png", *first.PreviewPicture)
	s.Equal(2, first.ReadingTime)
	s.True(first.IsArchived)
	s.False(first.IsStarred)
	s.Equal([]domain.Tag{{ID: 7, Label: "go", Slug: "go"}}, first.Tags)
	s.Equal("user@mail.com", first.UserEmail)
	s.Equal(int64(1), first.UserID)
	s.Equal("wallabag", first.UserName)
	s.True(first.UpdatedAt.Equal(time.Date(2017, 5, 8, 9, 30, 0, 0, time.UTC)))

	second := page.Items[1]
	s.Nil(second.PreviewPicture)
	s.False(second.IsArchived)
	s.True(second.IsStarred)
	s.Empty(second.Language)
}

func (s *ClientTestSuite) TestListEntries_ReusesToken() {
	s.handle("GET /api/entries.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"page":1,"pages":1,"total":0,"_embedded":{"items":[]}}`)
	})

	for i := 0; i < 3; i++ {
		_, err := s.client.ListEntries(context.Background(), 1)
		s.Require().NoError(err)
	}

	s.Equal(int32(1), s.tokenCalls.Load())
}

func (s *ClientTestSuite) TestListEntries_Unauthorized() {
	s.handle("GET /api/entries.json", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := s.client.ListEntries(context.Background(), 1)
	s.ErrorIs(err, domain.ErrInvalidAuth)
	s.Equal(int32(1), s.apiCalls.Load(), "auth failures are not retried")
}

func (s *ClientTestSuite) TestListEntries_InvalidGrant() {
	s.tokenStatus = http.StatusBadRequest
	s.handle("GET /api/entries.json", func(w http.ResponseWriter, r *http.Request) {
		s.Fail("api must not be reached without a token")
	})

	_, err := s.client.ListEntries(context.Background(), 1)
	s.ErrorIs(err, domain.ErrInvalidAuth)
}

func (s *ClientTestSuite) TestListEntries_RetriesServerErrors() {
	s.handle("GET /api/entries.json", func(w http.ResponseWriter, r *http.Request) {
		if s.apiCalls.Load() < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, `{"page":1,"pages":1,"total":0,"_embedded":{"items":[]}}`)
	})

	page, err := s.client.ListEntries(context.Background(), 1)
	s.Require().NoError(err)
	s.Equal(1, page.TotalPages)
	s.Equal(int32(3), s.apiCalls.Load())
}

func (s *ClientTestSuite) TestListEntries_GivesUpAfterMaxAttempts() {
	s.handle("GET /api/entries.json", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := s.client.ListEntries(context.Background(), 1)
	s.Require().Error(err)
	s.NotErrorIs(err, domain.ErrInvalidAuth)
	s.Contains(err.Error(), "after 3 attempts")
	s.Equal(int32(3), s.apiCalls.Load())
}

func (s *ClientTestSuite) TestUpdateEntry() {
	s.handle("PATCH /api/entries/42.json", func(w http.ResponseWriter, r *http.Request) {
		s.Require().NoError(r.ParseForm())
		s.Equal("1", r.PostForm.Get("archive"))
		s.Equal("0", r.PostForm.Get("starred"))
		_, _ = io.WriteString(w, `{"id":42,"is_archived":1,"is_starred":0,"updated_at":"2020-01-02T03:04:05+0000","created_at":"2020-01-01T00:00:00+0000"}`)
	})

	entry, err := s.client.UpdateEntry(context.Background(), 42, domain.EntryUpdate{Archived: true})
	s.Require().NoError(err)
	s.Equal(int64(42), entry.ID)
	s.True(entry.IsArchived)
	s.True(entry.UpdatedAt.Equal(time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)))
}

func (s *ClientTestSuite) TestDeleteEntry_NotFound() {
	s.handle("DELETE /api/entries/9.json", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	err := s.client.DeleteEntry(context.Background(), 9)
	s.ErrorIs(err, domain.ErrNotFound)
	s.Equal(int32(1), s.apiCalls.Load())
}

func (s *ClientTestSuite) TestCreateEntry() {
	s.handle("POST /api/entries.json", func(w http.ResponseWriter, r *http.Request) {
		s.Require().NoError(r.ParseForm())
		s.Equal("https://example.com/a", r.PostForm.Get("url"))
		_, _ = io.WriteString(w, `{"id":100,"url":"https://example.com/a","title":"A","is_archived":0,"is_starred":0,"updated_at":"2020-01-02T03:04:05+0000"}`)
	})

	entry, err := s.client.CreateEntry(context.Background(), "https://example.com/a")
	s.Require().NoError(err)
	s.Equal(int64(100), entry.ID)
	s.Equal("A", entry.Title)
	s.Equal(entry.UpdatedAt, entry.CreatedAt, "missing created_at falls back to updated_at")
}

func (s *ClientTestSuite) TestCreateEntry_NotRetried() {
	s.handle("POST /api/entries.json", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":"boom"}`)
	})

	_, err := s.client.CreateEntry(context.Background(), "https://example.com/a")
	s.Require().Error(err)
	s.Contains(err.Error(), "boom")
	s.Equal(int32(1), s.apiCalls.Load())
}

func TestFlag_Unmarshal(t *testing.T) {
	cases := map[string]bool{
		`1`:     true,
		`0`:     false,
		`true`:  true,
		`false`: false,
		`"1"`:   true,
		`null`:  false,
		`2`:     true,
	}

	for input, want := range cases {
		var f flag
		require.NoError(t, json.Unmarshal([]byte(input), &f), input)
		assert.Equal(t, want, bool(f), input)
	}
}

func TestCalculateBackoff(t *testing.T) {
	c := &Client{initialBackoff: time.Second, maxBackoff: 5 * time.Second}

	assert.Equal(t, time.Second, c.calculateBackoff(1))
	assert.Equal(t, 2*time.Second, c.calculateBackoff(2))
	assert.Equal(t, 4*time.Second, c.calculateBackoff(3))
	assert.Equal(t, 5*time.Second, c.calculateBackoff(4))
}
