package notification

import (
	"time"

	"github.com/osa030/shelfcast/internal/domain/playback"
)

// Event types sent to WebSocket clients.
const (
	EventConnected      = "connected"
	EventSessionUpdate  = "session.update"
	EventSessionPause   = "session.pause"
	EventSessionStop    = "session.stop"
	EventLibraryAdd     = "library.add"
	EventLibraryUpdate  = "library.update"
	EventLibraryDelete  = "library.delete"
	EventProgressUpdate = "progress.update"
	EventJobUpdate      = "job.update"
)

// timestampLayout matches the millisecond ISO-8601 form clients parse.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// ConnectedEvent is the first frame an authenticated client receives.
type ConnectedEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// SessionEvent reports a playback session change.
type SessionEvent struct {
	Type      string         `json:"type"`
	Timestamp string         `json:"timestamp"`
	Session   SessionPayload `json:"session"`
}

// SessionPayload is the session summary carried by SessionEvent.
type SessionPayload struct {
	SessionID string           `json:"sessionId"`
	UserID    int64            `json:"userId"`
	Username  string           `json:"username"`
	Audiobook SessionAudiobook `json:"audiobook"`
	Playback  SessionPlayback  `json:"playback"`
	Client    SessionClient    `json:"client"`
}

type SessionAudiobook struct {
	ID     int64  `json:"id"`
	Title  string `json:"title"`
	Author string `json:"author"`
	Series string `json:"series"`
}

type SessionPlayback struct {
	State           playback.State `json:"state"`
	Position        float64        `json:"position"`
	Duration        float64        `json:"duration"`
	ProgressPercent int            `json:"progressPercent"`
}

type SessionClient struct {
	Name     string `json:"name"`
	Platform string `json:"platform"`
}

// NewSessionEvent builds a SessionEvent from a session snapshot.
func NewSessionEvent(eventType string, s *playback.Session, now time.Time) SessionEvent {
	return SessionEvent{
		Type:      eventType,
		Timestamp: formatTimestamp(now),
		Session: SessionPayload{
			SessionID: s.SessionID,
			UserID:    s.UserID,
			Username:  s.Username,
			Audiobook: SessionAudiobook{
				ID:     s.AudiobookID,
				Title:  s.Title,
				Author: s.Author,
				Series: s.Series,
			},
			Playback: SessionPlayback{
				State:           s.State,
				Position:        s.Position,
				Duration:        s.Duration,
				ProgressPercent: s.ProgressPercent,
			},
			Client: SessionClient{
				Name:     s.ClientName,
				Platform: s.Platform,
			},
		},
	}
}

// LibraryEvent reports a catalog change. Audiobook is null for deletes.
type LibraryEvent struct {
	Type      string            `json:"type"`
	Timestamp string            `json:"timestamp"`
	Audiobook *LibraryAudiobook `json:"audiobook"`
}

type LibraryAudiobook struct {
	ID         int64  `json:"id"`
	Title      string `json:"title"`
	Author     string `json:"author"`
	Series     string `json:"series"`
	CoverImage string `json:"cover_image"`
}

// NewLibraryEvent builds a LibraryEvent. book may be nil.
func NewLibraryEvent(eventType string, book *playback.Audiobook, now time.Time) LibraryEvent {
	ev := LibraryEvent{
		Type:      eventType,
		Timestamp: formatTimestamp(now),
	}
	if book != nil {
		ev.Audiobook = &LibraryAudiobook{
			ID:         book.ID,
			Title:      book.Title,
			Author:     book.Author,
			Series:     book.Series,
			CoverImage: book.CoverImage,
		}
	}
	return ev
}

// Progress is a listening position report.
type Progress struct {
	Position  float64        `json:"position"`
	Completed bool           `json:"completed"`
	State     playback.State `json:"state"`
}

// ProgressEvent reports a saved listening position.
type ProgressEvent struct {
	Type        string   `json:"type"`
	Timestamp   string   `json:"timestamp"`
	UserID      int64    `json:"userId"`
	AudiobookID int64    `json:"audiobookId"`
	Progress    Progress `json:"progress"`
}

// JobEvent reports background job status. Job holds name, status and any
// extra details at the same level.
type JobEvent struct {
	Type      string         `json:"type"`
	Timestamp string         `json:"timestamp"`
	Job       map[string]any `json:"job"`
}

// NewJobEvent builds a JobEvent. Details are applied after name and status
// and may override them.
func NewJobEvent(name, status string, details map[string]any, now time.Time) JobEvent {
	job := map[string]any{
		"name":   name,
		"status": status,
	}
	for k, v := range details {
		job[k] = v
	}
	return JobEvent{
		Type:      EventJobUpdate,
		Timestamp: formatTimestamp(now),
		Job:       job,
	}
}
