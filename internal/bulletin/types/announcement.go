package types

type PublishRequest struct {
	Title    string `json:"title"`
	Content  string `json:"content"`
	Priority string `json:"priority,omitempty"`
}

type Announcement struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	Priority string `json:"priority"`
	// Timestamp is RFC 3339 in UTC.
	Timestamp string `json:"timestamp"`
}

type PublishResponse struct {
	Success      bool         `json:"success"`
	Announcement Announcement `json:"announcement"`
}

type ListResponse struct {
	Announcements []Announcement `json:"announcements"`
}
