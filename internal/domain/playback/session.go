// Package playback provides the playback Session domain entity.
package playback

import (
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// State represents the playback state of a session.
type State string

const (
	StatePlaying State = "playing"
	StatePaused  State = "paused"
	StateStopped State = "stopped"
)

const (
	DefaultClientName = "Web Player"
	DefaultPlatform   = "Web"
	unknownCodec      = "unknown"
)

// ErrInvalidState is returned by ParseState for unknown state names.
var ErrInvalidState = errors.New("invalid playback state")

// ParseState parses a state name. An empty name means playing.
func ParseState(s string) (State, error) {
	switch State(strings.ToLower(s)) {
	case "", StatePlaying:
		return StatePlaying, nil
	case StatePaused:
		return StatePaused, nil
	case StateStopped:
		return StateStopped, nil
	default:
		return "", errors.Wrapf(ErrInvalidState, "%q", s)
	}
}

// Audiobook is the catalog snapshot a client reports progress against.
type Audiobook struct {
	ID             int64   `json:"id"`
	Title          string  `json:"title"`
	Author         string  `json:"author,omitempty"`
	Narrator       string  `json:"narrator,omitempty"`
	Series         string  `json:"series,omitempty"`
	SeriesPosition float64 `json:"series_position,omitempty"`
	Year           int     `json:"year,omitempty"`
	CoverImage     string  `json:"cover_image,omitempty"`
	Duration       float64 `json:"duration,omitempty"` // seconds
	FilePath       string  `json:"file_path,omitempty"`
	FileSize       int64   `json:"file_size,omitempty"` // bytes
}

// ClientInfo describes the reporting client.
type ClientInfo struct {
	Name      string
	Platform  string
	IPAddress *string
}

// Session represents one user's current listening activity for one audiobook.
type Session struct {
	SessionID string `json:"sessionId"`
	UserID    int64  `json:"userId"`
	Username  string `json:"username"`

	AudiobookID    int64   `json:"audiobookId"`
	Title          string  `json:"title"`
	Author         string  `json:"author"`
	Narrator       string  `json:"narrator"`
	Series         string  `json:"series"`
	SeriesPosition float64 `json:"seriesPosition"`
	Year           int     `json:"year"`
	Cover          string  `json:"cover"`
	Duration       float64 `json:"duration"`

	Position        float64   `json:"position"`
	ProgressPercent int       `json:"progressPercent"`
	State           State     `json:"state"`
	LastUpdated     time.Time `json:"lastUpdated"`

	ClientName string  `json:"clientName"`
	Platform   string  `json:"platform"`
	IPAddress  *string `json:"ipAddress"`

	AudioCodec  string `json:"audioCodec"`
	Container   string `json:"container"`
	Bitrate     *int   `json:"bitrate"`
	Transcoding bool   `json:"transcoding"`
}

// NewSession builds a session snapshot from the supplied catalog data.
// Derived fields are computed here and nowhere else.
func NewSession(id string, userID int64, username string, book *Audiobook, position float64, state State, client *ClientInfo, now time.Time) *Session {
	codec, container := CodecForPath(book.FilePath)

	s := &Session{
		SessionID:       id,
		UserID:          userID,
		Username:        username,
		AudiobookID:     book.ID,
		Title:           book.Title,
		Author:          book.Author,
		Narrator:        book.Narrator,
		Series:          book.Series,
		SeriesPosition:  book.SeriesPosition,
		Year:            book.Year,
		Cover:           book.CoverImage,
		Duration:        book.Duration,
		Position:        position,
		ProgressPercent: ProgressPercent(position, book.Duration),
		State:           state,
		LastUpdated:     now,
		ClientName:      DefaultClientName,
		Platform:        DefaultPlatform,
		AudioCodec:      codec,
		Container:       container,
		Bitrate:         Bitrate(book.FileSize, book.Duration),
		Transcoding:     false,
	}

	if client != nil {
		if client.Name != "" {
			s.ClientName = client.Name
		}
		if client.Platform != "" {
			s.Platform = client.Platform
		}
		s.IPAddress = client.IPAddress
	}

	return s
}

// Active returns true if the session is playing or paused.
func (s *Session) Active() bool {
	return s.State == StatePlaying || s.State == StatePaused
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	c := *s
	if s.IPAddress != nil {
		ip := *s.IPAddress
		c.IPAddress = &ip
	}
	if s.Bitrate != nil {
		b := *s.Bitrate
		c.Bitrate = &b
	}
	return &c
}

// ProgressPercent returns position as a rounded percentage of duration.
func ProgressPercent(position, duration float64) int {
	if duration <= 0 {
		return 0
	}
	return int(math.Round(position / duration * 100))
}

var codecs = map[string]string{
	"mp3":  "mp3",
	"m4a":  "aac",
	"m4b":  "aac",
	"aac":  "aac",
	"opus": "opus",
	"ogg":  "vorbis",
	"flac": "flac",
	"wav":  "pcm",
	"wma":  "wma",
}

// CodecForPath maps a file extension to its audio codec and container.
func CodecForPath(path string) (codec, container string) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if ext == "" {
		return unknownCodec, unknownCodec
	}
	if c, ok := codecs[ext]; ok {
		return c, ext
	}
	return unknownCodec, ext
}

// Bitrate returns the average bitrate in kbps, or nil if it cannot be derived.
func Bitrate(fileSize int64, duration float64) *int {
	if fileSize <= 0 || duration <= 0 {
		return nil
	}
	kbps := int(math.Round(float64(fileSize) * 8 / duration / 1000))
	return &kbps
}
