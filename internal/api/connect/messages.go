package connect

import (
	"time"

	"github.com/osa030/shelfcast/internal/domain/playback"
)

// ReportProgressRequest is a periodic position report from a player.
type ReportProgressRequest struct {
	AudiobookID int64   `json:"audiobookId"`
	Position    float64 `json:"position"`
	State       string  `json:"state,omitempty"`
	Completed   bool    `json:"completed,omitempty"`
	ClientName  string  `json:"clientName,omitempty"`
	Platform    string  `json:"platform,omitempty"`
}

type ReportProgressResponse struct {
	Session *playback.Session `json:"session"`
}

type StopPlaybackRequest struct {
	AudiobookID int64 `json:"audiobookId"`
}

type StopPlaybackResponse struct {
	Stopped bool              `json:"stopped"`
	Session *playback.Session `json:"session,omitempty"`
}

type ListMySessionsRequest struct{}

type ListSessionsResponse struct {
	Sessions []*playback.Session `json:"sessions"`
}

type ListSessionsRequest struct{}

type GetSessionRequest struct {
	SessionID string `json:"sessionId"`
}

type GetSessionResponse struct {
	Session *playback.Session `json:"session"`
}

type ListUserSessionsRequest struct {
	UserID int64 `json:"userId"`
}

type GetStatsRequest struct{}

// GetStatsResponse summarises live server state.
type GetStatsResponse struct {
	Sessions       int       `json:"sessions"`
	ActiveSessions int       `json:"activeSessions"`
	Clients        int       `json:"clients"`
	Time           time.Time `json:"time"`
}

// PublishJobRequest announces a background job status change to clients.
type PublishJobRequest struct {
	Name    string         `json:"name"`
	Status  string         `json:"status"`
	Details map[string]any `json:"details,omitempty"`
}

type PublishJobResponse struct{}

// PublishLibraryEventRequest announces a catalog change. AudiobookID is
// ignored for library.delete.
type PublishLibraryEventRequest struct {
	Type        string `json:"type"`
	AudiobookID int64  `json:"audiobookId"`
}

type PublishLibraryEventResponse struct{}
