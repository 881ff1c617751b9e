// Package main provides the user CLI entry point for testing.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"connectrpc.com/connect"
	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"

	apiconnect "github.com/osa030/shelfcast/internal/api/connect"
	"github.com/osa030/shelfcast/internal/app/notification"
)

var (
	app    = kingpin.New("shelfcast-usercli", "shelfcast listener client for testing")
	server = app.Flag("server", "Server address").Default("http://localhost:8080").String()
	token  = app.Flag("token", "Session credential or API key (or set SHELFCAST_TOKEN env)").Envar("SHELFCAST_TOKEN").String()

	// report command
	reportCmd      = app.Command("report", "Report a playback position")
	reportBook     = reportCmd.Arg("audiobook-id", "Audiobook ID").Required().Int64()
	reportPosition = reportCmd.Arg("position", "Position in seconds").Required().Float64()
	reportState    = reportCmd.Flag("state", "Playback state").Default("playing").Enum("playing", "paused", "stopped")
	reportClient   = reportCmd.Flag("client", "Client name").Default("shelfcast-usercli").String()
	reportPlatform = reportCmd.Flag("platform", "Client platform").Default("CLI").String()

	// stop command
	stopCmd  = app.Command("stop", "Stop playback of an audiobook")
	stopBook = stopCmd.Arg("audiobook-id", "Audiobook ID").Required().Int64()

	// sessions command
	sessionsCmd = app.Command("sessions", "List my playback sessions")

	// watch command
	watchCmd  = app.Command("watch", "Watch real-time events")
	watchPath = watchCmd.Flag("path", "WebSocket path").Default("/ws").String()
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if *token == "" {
		fmt.Println("Error: token is required (use --token or SHELFCAST_TOKEN env)")
		os.Exit(1)
	}

	client := apiconnect.NewPlaybackClient(http.DefaultClient, *server)
	ctx := context.Background()

	switch command {
	case reportCmd.FullCommand():
		report(ctx, client)
	case stopCmd.FullCommand():
		stop(ctx, client)
	case sessionsCmd.FullCommand():
		sessions(ctx, client)
	case watchCmd.FullCommand():
		watch()
	}
}

func authorized[T any](msg *T) *connect.Request[T] {
	req := connect.NewRequest(msg)
	req.Header().Set("Authorization", "Bearer "+*token)
	return req
}

func report(ctx context.Context, client *apiconnect.PlaybackClient) {
	resp, err := client.ReportProgress(ctx, authorized(&apiconnect.ReportProgressRequest{
		AudiobookID: *reportBook,
		Position:    *reportPosition,
		State:       *reportState,
		ClientName:  *reportClient,
		Platform:    *reportPlatform,
	}))
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	s := resp.Msg.Session
	fmt.Printf("Reported: %s %s at %.0fs (%d%%)\n", s.SessionID, s.State, s.Position, s.ProgressPercent)
}

func stop(ctx context.Context, client *apiconnect.PlaybackClient) {
	resp, err := client.StopPlayback(ctx, authorized(&apiconnect.StopPlaybackRequest{AudiobookID: *stopBook}))
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	if resp.Msg.Stopped {
		fmt.Printf("Stopped: %s\n", resp.Msg.Session.SessionID)
	} else {
		fmt.Println("No active session for that audiobook")
	}
}

func sessions(ctx context.Context, client *apiconnect.PlaybackClient) {
	resp, err := client.ListMySessions(ctx, authorized(&apiconnect.ListMySessionsRequest{}))
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	if len(resp.Msg.Sessions) == 0 {
		fmt.Println("No active sessions")
		return
	}
	for _, s := range resp.Msg.Sessions {
		fmt.Printf("%-20s %-8s %3d%%  %s (%s on %s)\n", s.SessionID, s.State, s.ProgressPercent, s.Title, s.ClientName, s.Platform)
	}
}

// websocketURL converts the server address to a ws:// or wss:// URL
// carrying the token query parameter.
func websocketURL(server, path, token string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = url.Values{"token": {token}}.Encode()
	return u.String(), nil
}

func watch() {
	wsURL, err := websocketURL(*server, *watchPath, *token)
	if err != nil {
		fmt.Printf("Error: invalid server address: %v\n", err)
		os.Exit(1)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	fmt.Println("Watching events. Press Ctrl+C to exit.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("\nDisconnecting...")
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = conn.Close()
		os.Exit(0)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				fmt.Printf("Connection closed [%d]: %s\n", closeErr.Code, closeErr.Text)
				return
			}
			fmt.Printf("Read error: %v\n", err)
			return
		}
		printEvent(data)
	}
}

func printEvent(data []byte) {
	var envelope struct {
		Type      string `json:"type"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		fmt.Printf("Unparsable frame: %s\n", data)
		return
	}

	switch envelope.Type {
	case notification.EventConnected:
		fmt.Println("=== CONNECTED ===")
	case notification.EventSessionUpdate, notification.EventSessionPause, notification.EventSessionStop:
		var ev notification.SessionEvent
		if err := json.Unmarshal(data, &ev); err == nil {
			s := ev.Session
			fmt.Printf("[%s] %s: %s %s %q at %.0fs (%d%%) via %s\n",
				ev.Timestamp, ev.Type, s.Username, s.Playback.State, s.Audiobook.Title,
				s.Playback.Position, s.Playback.ProgressPercent, s.Client.Name)
			return
		}
		fmt.Printf("[%s] %s\n", envelope.Timestamp, data)
	default:
		fmt.Printf("[%s] %s: %s\n", envelope.Timestamp, envelope.Type, data)
	}
}
