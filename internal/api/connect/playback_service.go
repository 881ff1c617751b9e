package connect

import (
	"context"
	"fmt"
	"net"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/shelfcast/internal/app/auth"
	"github.com/osa030/shelfcast/internal/app/notification"
	"github.com/osa030/shelfcast/internal/app/session"
	"github.com/osa030/shelfcast/internal/domain/playback"
)

// sessionSource prefixes session ids created by progress reports.
const sessionSource = "web"

// Catalog resolves audiobooks by id.
type Catalog interface {
	FindAudiobook(ctx context.Context, id int64) (*playback.Audiobook, error)
}

// Broadcaster publishes events to WebSocket clients.
type Broadcaster interface {
	BroadcastSessionUpdate(s *playback.Session, eventType string)
	BroadcastLibraryUpdate(eventType string, book *playback.Audiobook)
	BroadcastProgressUpdate(userID, audiobookID int64, progress notification.Progress)
	BroadcastJobUpdate(name, status string, details map[string]any)
	ClientCount() int
}

// SessionID returns the registry key for a user's session on a book.
func SessionID(userID, audiobookID int64) string {
	return fmt.Sprintf("%s-%d-%d", sessionSource, userID, audiobookID)
}

// PlaybackService implements the PlaybackService RPC.
type PlaybackService struct {
	registry    *session.Registry
	broadcaster Broadcaster
	catalog     Catalog
}

// NewPlaybackService creates a new PlaybackService.
// Stop events are expected to be published through the registry's OnStop
// hook so that sweep evictions and explicit stops share one path.
func NewPlaybackService(registry *session.Registry, broadcaster Broadcaster, catalog Catalog) *PlaybackService {
	return &PlaybackService{
		registry:    registry,
		broadcaster: broadcaster,
		catalog:     catalog,
	}
}

// ReportProgress records the caller's position and publishes the change.
func (s *PlaybackService) ReportProgress(
	ctx context.Context,
	req *connect.Request[ReportProgressRequest],
) (*connect.Response[ReportProgressResponse], error) {
	caller, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}

	state, err := playback.ParseState(req.Msg.State)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	if req.Msg.Position < 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("position must not be negative"))
	}

	book, err := lookupAudiobook(ctx, s.catalog, req.Msg.AudiobookID)
	if err != nil {
		return nil, err
	}

	client := &playback.ClientInfo{
		Name:     req.Msg.ClientName,
		Platform: req.Msg.Platform,
	}
	if ip := peerIP(req.Peer().Addr); ip != "" {
		client.IPAddress = &ip
	}

	snapshot, err := s.registry.Update(session.UpdateRequest{
		SessionID: SessionID(caller.UserID, book.ID),
		UserID:    caller.UserID,
		Username:  caller.Username,
		Audiobook: book,
		Position:  req.Msg.Position,
		State:     state,
		Client:    client,
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	switch state {
	case playback.StatePaused:
		s.broadcaster.BroadcastSessionUpdate(snapshot, notification.EventSessionPause)
	case playback.StatePlaying:
		s.broadcaster.BroadcastSessionUpdate(snapshot, notification.EventSessionUpdate)
	}

	completed := req.Msg.Completed || (book.Duration > 0 && req.Msg.Position >= book.Duration)
	s.broadcaster.BroadcastProgressUpdate(caller.UserID, book.ID, notification.Progress{
		Position:  req.Msg.Position,
		Completed: completed,
		State:     state,
	})

	zlog.Debug().Str("session_id", snapshot.SessionID).Msgf("progress reported: position=%.1f state=%s", snapshot.Position, snapshot.State)

	return connect.NewResponse(&ReportProgressResponse{Session: snapshot}), nil
}

// StopPlayback stops the caller's session on a book.
func (s *PlaybackService) StopPlayback(
	ctx context.Context,
	req *connect.Request[StopPlaybackRequest],
) (*connect.Response[StopPlaybackResponse], error) {
	caller, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}

	stopped := s.registry.Stop(SessionID(caller.UserID, req.Msg.AudiobookID))
	return connect.NewResponse(&StopPlaybackResponse{
		Stopped: stopped != nil,
		Session: stopped,
	}), nil
}

// ListMySessions lists the caller's playing and paused sessions.
func (s *PlaybackService) ListMySessions(
	ctx context.Context,
	req *connect.Request[ListMySessionsRequest],
) (*connect.Response[ListSessionsResponse], error) {
	caller, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}

	return connect.NewResponse(&ListSessionsResponse{
		Sessions: s.registry.UserSessions(caller.UserID),
	}), nil
}

func lookupAudiobook(ctx context.Context, catalog Catalog, id int64) (*playback.Audiobook, error) {
	if id <= 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("audiobookId is required"))
	}
	book, err := catalog.FindAudiobook(ctx, id)
	if errors.Is(err, auth.ErrNotFound) {
		return nil, connect.NewError(connect.CodeNotFound, errors.Newf("audiobook %d not found", id))
	}
	if err != nil {
		zlog.Error().Msgf("failed to look up audiobook %d: %v", id, err)
		return nil, connect.NewError(connect.CodeInternal, errors.New("failed to look up audiobook"))
	}
	return book, nil
}

func callerFrom(ctx context.Context) (*auth.Identity, error) {
	id, ok := IdentityFromContext(ctx)
	if !ok {
		return nil, connect.NewError(connect.CodeUnauthenticated, errors.New(auth.ReasonAuthRequired))
	}
	return id, nil
}

func peerIP(addr string) string {
	if addr == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
