package connect

import (
	"context"
	"strings"

	"connectrpc.com/connect"
)

// PlaybackClient calls PlaybackService.
type PlaybackClient struct {
	reportProgress *connect.Client[ReportProgressRequest, ReportProgressResponse]
	stopPlayback   *connect.Client[StopPlaybackRequest, StopPlaybackResponse]
	listMySessions *connect.Client[ListMySessionsRequest, ListSessionsResponse]
}

// NewPlaybackClient creates a PlaybackService client for baseURL.
func NewPlaybackClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *PlaybackClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(jsonCodec{})}, opts...)
	return &PlaybackClient{
		reportProgress: connect.NewClient[ReportProgressRequest, ReportProgressResponse](
			httpClient, baseURL+PlaybackServiceReportProgressProcedure, opts...),
		stopPlayback: connect.NewClient[StopPlaybackRequest, StopPlaybackResponse](
			httpClient, baseURL+PlaybackServiceStopPlaybackProcedure, opts...),
		listMySessions: connect.NewClient[ListMySessionsRequest, ListSessionsResponse](
			httpClient, baseURL+PlaybackServiceListMySessionsProcedure, opts...),
	}
}

func (c *PlaybackClient) ReportProgress(ctx context.Context, req *connect.Request[ReportProgressRequest]) (*connect.Response[ReportProgressResponse], error) {
	return c.reportProgress.CallUnary(ctx, req)
}

func (c *PlaybackClient) StopPlayback(ctx context.Context, req *connect.Request[StopPlaybackRequest]) (*connect.Response[StopPlaybackResponse], error) {
	return c.stopPlayback.CallUnary(ctx, req)
}

func (c *PlaybackClient) ListMySessions(ctx context.Context, req *connect.Request[ListMySessionsRequest]) (*connect.Response[ListSessionsResponse], error) {
	return c.listMySessions.CallUnary(ctx, req)
}

// AdminClient calls AdminService.
type AdminClient struct {
	listSessions        *connect.Client[ListSessionsRequest, ListSessionsResponse]
	getSession          *connect.Client[GetSessionRequest, GetSessionResponse]
	listUserSessions    *connect.Client[ListUserSessionsRequest, ListSessionsResponse]
	getStats            *connect.Client[GetStatsRequest, GetStatsResponse]
	publishJob          *connect.Client[PublishJobRequest, PublishJobResponse]
	publishLibraryEvent *connect.Client[PublishLibraryEventRequest, PublishLibraryEventResponse]
}

// NewAdminClient creates an AdminService client for baseURL.
func NewAdminClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *AdminClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(jsonCodec{})}, opts...)
	return &AdminClient{
		listSessions: connect.NewClient[ListSessionsRequest, ListSessionsResponse](
			httpClient, baseURL+AdminServiceListSessionsProcedure, opts...),
		getSession: connect.NewClient[GetSessionRequest, GetSessionResponse](
			httpClient, baseURL+AdminServiceGetSessionProcedure, opts...),
		listUserSessions: connect.NewClient[ListUserSessionsRequest, ListSessionsResponse](
			httpClient, baseURL+AdminServiceListUserSessionsProcedure, opts...),
		getStats: connect.NewClient[GetStatsRequest, GetStatsResponse](
			httpClient, baseURL+AdminServiceGetStatsProcedure, opts...),
		publishJob: connect.NewClient[PublishJobRequest, PublishJobResponse](
			httpClient, baseURL+AdminServicePublishJobProcedure, opts...),
		publishLibraryEvent: connect.NewClient[PublishLibraryEventRequest, PublishLibraryEventResponse](
			httpClient, baseURL+AdminServicePublishLibraryEventProcedure, opts...),
	}
}

func (c *AdminClient) ListSessions(ctx context.Context, req *connect.Request[ListSessionsRequest]) (*connect.Response[ListSessionsResponse], error) {
	return c.listSessions.CallUnary(ctx, req)
}

func (c *AdminClient) GetSession(ctx context.Context, req *connect.Request[GetSessionRequest]) (*connect.Response[GetSessionResponse], error) {
	return c.getSession.CallUnary(ctx, req)
}

func (c *AdminClient) ListUserSessions(ctx context.Context, req *connect.Request[ListUserSessionsRequest]) (*connect.Response[ListSessionsResponse], error) {
	return c.listUserSessions.CallUnary(ctx, req)
}

func (c *AdminClient) GetStats(ctx context.Context, req *connect.Request[GetStatsRequest]) (*connect.Response[GetStatsResponse], error) {
	return c.getStats.CallUnary(ctx, req)
}

func (c *AdminClient) PublishJob(ctx context.Context, req *connect.Request[PublishJobRequest]) (*connect.Response[PublishJobResponse], error) {
	return c.publishJob.CallUnary(ctx, req)
}

func (c *AdminClient) PublishLibraryEvent(ctx context.Context, req *connect.Request[PublishLibraryEventRequest]) (*connect.Response[PublishLibraryEventResponse], error) {
	return c.publishLibraryEvent.CallUnary(ctx, req)
}
