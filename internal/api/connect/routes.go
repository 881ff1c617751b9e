package connect

import (
	"net/http"

	"connectrpc.com/connect"
)

const (
	PlaybackServiceName = "shelfcast.v1.PlaybackService"
	AdminServiceName    = "shelfcast.v1.AdminService"
)

// Procedure paths.
const (
	PlaybackServiceReportProgressProcedure = "/" + PlaybackServiceName + "/ReportProgress"
	PlaybackServiceStopPlaybackProcedure   = "/" + PlaybackServiceName + "/StopPlayback"
	PlaybackServiceListMySessionsProcedure = "/" + PlaybackServiceName + "/ListMySessions"

	AdminServiceListSessionsProcedure        = "/" + AdminServiceName + "/ListSessions"
	AdminServiceGetSessionProcedure          = "/" + AdminServiceName + "/GetSession"
	AdminServiceListUserSessionsProcedure    = "/" + AdminServiceName + "/ListUserSessions"
	AdminServiceGetStatsProcedure            = "/" + AdminServiceName + "/GetStats"
	AdminServicePublishJobProcedure          = "/" + AdminServiceName + "/PublishJob"
	AdminServicePublishLibraryEventProcedure = "/" + AdminServiceName + "/PublishLibraryEvent"
)

// NewPlaybackServiceHandler builds an HTTP handler for svc and returns the
// path on which to mount it.
func NewPlaybackServiceHandler(svc *PlaybackService, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)

	mux := http.NewServeMux()
	mux.Handle(PlaybackServiceReportProgressProcedure,
		connect.NewUnaryHandler(PlaybackServiceReportProgressProcedure, svc.ReportProgress, opts...))
	mux.Handle(PlaybackServiceStopPlaybackProcedure,
		connect.NewUnaryHandler(PlaybackServiceStopPlaybackProcedure, svc.StopPlayback, opts...))
	mux.Handle(PlaybackServiceListMySessionsProcedure,
		connect.NewUnaryHandler(PlaybackServiceListMySessionsProcedure, svc.ListMySessions, opts...))

	return "/" + PlaybackServiceName + "/", mux
}

// NewAdminServiceHandler builds an HTTP handler for svc and returns the path
// on which to mount it.
func NewAdminServiceHandler(svc *AdminService, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)

	mux := http.NewServeMux()
	mux.Handle(AdminServiceListSessionsProcedure,
		connect.NewUnaryHandler(AdminServiceListSessionsProcedure, svc.ListSessions, opts...))
	mux.Handle(AdminServiceGetSessionProcedure,
		connect.NewUnaryHandler(AdminServiceGetSessionProcedure, svc.GetSession, opts...))
	mux.Handle(AdminServiceListUserSessionsProcedure,
		connect.NewUnaryHandler(AdminServiceListUserSessionsProcedure, svc.ListUserSessions, opts...))
	mux.Handle(AdminServiceGetStatsProcedure,
		connect.NewUnaryHandler(AdminServiceGetStatsProcedure, svc.GetStats, opts...))
	mux.Handle(AdminServicePublishJobProcedure,
		connect.NewUnaryHandler(AdminServicePublishJobProcedure, svc.PublishJob, opts...))
	mux.Handle(AdminServicePublishLibraryEventProcedure,
		connect.NewUnaryHandler(AdminServicePublishLibraryEventProcedure, svc.PublishLibraryEvent, opts...))

	return "/" + AdminServiceName + "/", mux
}
