package connect

import (
	"context"
	"time"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/shelfcast/internal/app/notification"
	"github.com/osa030/shelfcast/internal/app/session"
	"github.com/osa030/shelfcast/internal/domain/playback"
)

// AdminService implements the AdminService RPC.
type AdminService struct {
	registry    *session.Registry
	broadcaster Broadcaster
	catalog     Catalog
	now         func() time.Time
}

// NewAdminService creates a new AdminService.
func NewAdminService(registry *session.Registry, broadcaster Broadcaster, catalog Catalog) *AdminService {
	return &AdminService{
		registry:    registry,
		broadcaster: broadcaster,
		catalog:     catalog,
		now:         time.Now,
	}
}

// ListSessions lists every playing and paused session.
func (s *AdminService) ListSessions(
	ctx context.Context,
	req *connect.Request[ListSessionsRequest],
) (*connect.Response[ListSessionsResponse], error) {
	return connect.NewResponse(&ListSessionsResponse{
		Sessions: s.registry.All(),
	}), nil
}

// GetSession returns one session, including stopped sessions still inside
// their grace period.
func (s *AdminService) GetSession(
	ctx context.Context,
	req *connect.Request[GetSessionRequest],
) (*connect.Response[GetSessionResponse], error) {
	if req.Msg.SessionID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("sessionId is required"))
	}

	sess := s.registry.Get(req.Msg.SessionID)
	if sess == nil {
		return nil, connect.NewError(connect.CodeNotFound, errors.Newf("session %s not found", req.Msg.SessionID))
	}
	return connect.NewResponse(&GetSessionResponse{Session: sess}), nil
}

// ListUserSessions lists a user's sessions that are not stopped.
func (s *AdminService) ListUserSessions(
	ctx context.Context,
	req *connect.Request[ListUserSessionsRequest],
) (*connect.Response[ListSessionsResponse], error) {
	return connect.NewResponse(&ListSessionsResponse{
		Sessions: s.registry.UserSessions(req.Msg.UserID),
	}), nil
}

// GetStats returns registry and hub counters.
func (s *AdminService) GetStats(
	ctx context.Context,
	req *connect.Request[GetStatsRequest],
) (*connect.Response[GetStatsResponse], error) {
	return connect.NewResponse(&GetStatsResponse{
		Sessions:       s.registry.Count(),
		ActiveSessions: len(s.registry.All()),
		Clients:        s.broadcaster.ClientCount(),
		Time:           s.now().UTC(),
	}), nil
}

// PublishJob broadcasts a job status change.
func (s *AdminService) PublishJob(
	ctx context.Context,
	req *connect.Request[PublishJobRequest],
) (*connect.Response[PublishJobResponse], error) {
	if req.Msg.Name == "" || req.Msg.Status == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("name and status are required"))
	}

	s.broadcaster.BroadcastJobUpdate(req.Msg.Name, req.Msg.Status, req.Msg.Details)
	zlog.Info().Msgf("job update published: name=%s status=%s", req.Msg.Name, req.Msg.Status)
	return connect.NewResponse(&PublishJobResponse{}), nil
}

// PublishLibraryEvent broadcasts a catalog change.
func (s *AdminService) PublishLibraryEvent(
	ctx context.Context,
	req *connect.Request[PublishLibraryEventRequest],
) (*connect.Response[PublishLibraryEventResponse], error) {
	var book *playback.Audiobook

	switch req.Msg.Type {
	case notification.EventLibraryDelete:
	case notification.EventLibraryAdd, notification.EventLibraryUpdate:
		b, err := lookupAudiobook(ctx, s.catalog, req.Msg.AudiobookID)
		if err != nil {
			return nil, err
		}
		book = b
	default:
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.Newf("unsupported library event type: %s", req.Msg.Type))
	}

	s.broadcaster.BroadcastLibraryUpdate(req.Msg.Type, book)
	zlog.Info().Msgf("library event published: type=%s audiobook_id=%d", req.Msg.Type, req.Msg.AudiobookID)
	return connect.NewResponse(&PublishLibraryEventResponse{}), nil
}
