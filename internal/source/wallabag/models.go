package wallabag

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// entriesResponse represents the paginated /api/entries response.
type entriesResponse struct {
	Page     int      `json:"page"`
	Limit    int      `json:"limit"`
	Pages    int      `json:"pages"`
	Total    int      `json:"total"`
	Embedded embedded `json:"_embedded"`
}

type embedded struct {
	Items []apiEntry `json:"items"`
}

type apiEntry struct {
	ID             int64    `json:"id"`
	Title          string   `json:"title"`
	Content        string   `json:"content"`
	DomainName     string   `json:"domain_name"`
	URL            string   `json:"url"`
	Mimetype       string   `json:"mimetype"`
	Language       string   `json:"language"`
	PreviewPicture *string  `json:"preview_picture"`
	ReadingTime    int      `json:"reading_time"`
	IsArchived     flag     `json:"is_archived"`
	IsStarred      flag     `json:"is_starred"`
	CreatedAt      string   `json:"created_at"`
	UpdatedAt      string   `json:"updated_at"`
	Tags           []apiTag `json:"tags"`
	UserEmail      string   `json:"user_email"`
	UserID         int64    `json:"user_id"`
	UserName       string   `json:"user_name"`
}

type apiTag struct {
	ID    int64  `json:"id"`
	Label string `json:"label"`
	Slug  string `json:"slug"`
}

type apiError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// flag decodes the archived/starred markers, which the server sends as 0/1
// but older instances send as booleans.
type flag bool

func (f *flag) UnmarshalJSON(data []byte) error {
	switch string(bytes.TrimSpace(data)) {
	case "1", "true", `"1"`:
		*f = true
	case "0", "false", `"0"`, "null":
		*f = false
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("decode flag %s: %w", data, err)
		}
		*f = n.String() != "0"
	}
	return nil
}

func formFlag(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
