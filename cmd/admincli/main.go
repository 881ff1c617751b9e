// Package main provides the admin CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"connectrpc.com/connect"
	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"

	apiconnect "github.com/osa030/shelfcast/internal/api/connect"
	"github.com/osa030/shelfcast/internal/app/auth"
	"github.com/osa030/shelfcast/internal/domain/playback"
)

var (
	app    = kingpin.New("shelfcast-admincli", "shelfcast admin client")
	server = app.Flag("server", "Server address").Default("http://localhost:8080").String()
	token  = app.Flag("token", "Admin token (or set ADMIN_TOKEN env)").Envar("ADMIN_TOKEN").String()

	// sessions command
	sessionsCmd = app.Command("sessions", "List active playback sessions").Alias("list")

	// session command
	sessionCmd = app.Command("session", "Show one playback session")
	sessionID  = sessionCmd.Arg("session-id", "Session ID (e.g. web-7-42)").Required().String()

	// user-sessions command
	userSessionsCmd = app.Command("user-sessions", "List a user's playback sessions")
	userSessionsID  = userSessionsCmd.Arg("user-id", "User ID").Required().Int64()

	// stats command
	statsCmd = app.Command("stats", "Show server counters")

	// publish-job command
	publishJobCmd     = app.Command("publish-job", "Broadcast a job status update")
	publishJobName    = publishJobCmd.Arg("name", "Job name").Required().String()
	publishJobStatus  = publishJobCmd.Arg("status", "Job status").Required().String()
	publishJobDetails = publishJobCmd.Flag("details", "Extra job fields as a JSON object").String()

	// publish-library command
	publishLibraryCmd  = app.Command("publish-library", "Broadcast a library change")
	publishLibraryType = publishLibraryCmd.Arg("type", "Event type").Required().Enum("library.add", "library.update", "library.delete")
	publishLibraryBook = publishLibraryCmd.Arg("audiobook-id", "Audiobook ID").Int64()

	// sign-token command
	signTokenCmd      = app.Command("sign-token", "Sign a session credential for development")
	signTokenUserID   = signTokenCmd.Arg("user-id", "User ID").Required().Int64()
	signTokenUsername = signTokenCmd.Arg("username", "Username").Required().String()
	signTokenSecret   = signTokenCmd.Flag("secret", "JWT secret (or set JWT_SECRET env)").Envar("JWT_SECRET").Required().String()
	signTokenIssuer   = signTokenCmd.Flag("issuer", "JWT issuer").String()
	signTokenTTL      = signTokenCmd.Flag("ttl", "Credential lifetime").Default("24h").Duration()
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if command == signTokenCmd.FullCommand() {
		signToken()
		return
	}

	if *token == "" {
		fmt.Println("Error: admin token is required (use --token or ADMIN_TOKEN env)")
		os.Exit(1)
	}

	client := apiconnect.NewAdminClient(http.DefaultClient, *server)
	ctx := context.Background()

	switch command {
	case sessionsCmd.FullCommand():
		listSessions(ctx, client, *token)
	case sessionCmd.FullCommand():
		getSession(ctx, client, *token, *sessionID)
	case userSessionsCmd.FullCommand():
		listUserSessions(ctx, client, *token, *userSessionsID)
	case statsCmd.FullCommand():
		stats(ctx, client, *token)
	case publishJobCmd.FullCommand():
		publishJob(ctx, client, *token)
	case publishLibraryCmd.FullCommand():
		publishLibrary(ctx, client, *token)
	}
}

func withToken[T any](msg *T, token string) *connect.Request[T] {
	req := connect.NewRequest(msg)
	req.Header().Set(apiconnect.AdminTokenHeader, token)
	return req
}

func fail(err error) {
	fmt.Printf("Error: %v\n", err)
	os.Exit(1)
}

func listSessions(ctx context.Context, client *apiconnect.AdminClient, token string) {
	resp, err := client.ListSessions(ctx, withToken(&apiconnect.ListSessionsRequest{}, token))
	if err != nil {
		fail(err)
	}
	printSessions(resp.Msg.Sessions)
}

func getSession(ctx context.Context, client *apiconnect.AdminClient, token, id string) {
	resp, err := client.GetSession(ctx, withToken(&apiconnect.GetSessionRequest{SessionID: id}, token))
	if err != nil {
		fail(err)
	}

	s := resp.Msg.Session
	fmt.Println("\n=== PLAYBACK SESSION ===")
	fmt.Printf("Session ID: %s\n", s.SessionID)
	fmt.Printf("User: %s (%d)\n", s.Username, s.UserID)
	fmt.Printf("Audiobook: %s (%d)\n", s.Title, s.AudiobookID)
	if s.Author != "" {
		fmt.Printf("  Author: %s\n", s.Author)
	}
	if s.Narrator != "" {
		fmt.Printf("  Narrator: %s\n", s.Narrator)
	}
	if s.Series != "" {
		fmt.Printf("  Series: %s #%g\n", s.Series, s.SeriesPosition)
	}
	fmt.Printf("State: %s\n", s.State)
	fmt.Printf("Position: %s / %s (%d%%)\n", formatSeconds(s.Position), formatSeconds(s.Duration), s.ProgressPercent)
	fmt.Printf("Client: %s on %s\n", s.ClientName, s.Platform)
	if s.IPAddress != nil {
		fmt.Printf("  IP Address: %s\n", *s.IPAddress)
	}
	fmt.Printf("Stream: %s in %s", s.AudioCodec, s.Container)
	if s.Bitrate != nil {
		fmt.Printf(", %d kbps", *s.Bitrate)
	}
	fmt.Println()
	fmt.Printf("Last Updated: %s\n", s.LastUpdated.Local().Format(time.DateTime))
}

func listUserSessions(ctx context.Context, client *apiconnect.AdminClient, token string, userID int64) {
	resp, err := client.ListUserSessions(ctx, withToken(&apiconnect.ListUserSessionsRequest{UserID: userID}, token))
	if err != nil {
		fail(err)
	}
	printSessions(resp.Msg.Sessions)
}

func stats(ctx context.Context, client *apiconnect.AdminClient, token string) {
	resp, err := client.GetStats(ctx, withToken(&apiconnect.GetStatsRequest{}, token))
	if err != nil {
		fail(err)
	}

	fmt.Println("\n=== SERVER STATS ===")
	fmt.Printf("Sessions (incl. recently stopped): %d\n", resp.Msg.Sessions)
	fmt.Printf("Active Sessions: %d\n", resp.Msg.ActiveSessions)
	fmt.Printf("WebSocket Clients: %d\n", resp.Msg.Clients)
	fmt.Printf("Server Time: %s\n", resp.Msg.Time.Local().Format(time.DateTime))
}

func publishJob(ctx context.Context, client *apiconnect.AdminClient, token string) {
	var details map[string]any
	if *publishJobDetails != "" {
		if err := json.Unmarshal([]byte(*publishJobDetails), &details); err != nil {
			fail(fmt.Errorf("invalid --details: %w", err))
		}
	}

	_, err := client.PublishJob(ctx, withToken(&apiconnect.PublishJobRequest{
		Name:    *publishJobName,
		Status:  *publishJobStatus,
		Details: details,
	}, token))
	if err != nil {
		fail(err)
	}
	fmt.Println("Job update published")
}

func publishLibrary(ctx context.Context, client *apiconnect.AdminClient, token string) {
	_, err := client.PublishLibraryEvent(ctx, withToken(&apiconnect.PublishLibraryEventRequest{
		Type:        *publishLibraryType,
		AudiobookID: *publishLibraryBook,
	}, token))
	if err != nil {
		fail(err)
	}
	fmt.Println("Library event published")
}

func signToken() {
	signed, err := auth.IssueToken(auth.JWTSettings{
		Secret: *signTokenSecret,
		Issuer: *signTokenIssuer,
	}, *signTokenUserID, *signTokenUsername, *signTokenTTL, time.Now())
	if err != nil {
		fail(err)
	}
	fmt.Println(signed)
}

func printSessions(sessions []*playback.Session) {
	if len(sessions) == 0 {
		fmt.Println("No active sessions")
		return
	}

	fmt.Printf("\n=== SESSIONS (%d) ===\n", len(sessions))
	for _, s := range sessions {
		fmt.Printf("%-20s %-16s %-8s %3d%%  %s\n",
			s.SessionID,
			s.Username,
			s.State,
			s.ProgressPercent,
			s.Title,
		)
	}
}

func formatSeconds(sec float64) string {
	d := time.Duration(sec) * time.Second
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	secs := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, secs)
	}
	return fmt.Sprintf("%d:%02d", m, secs)
}
