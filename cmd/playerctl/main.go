// Package main provides the player control CLI.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"

	apiconnect "github.com/osa030/19stream/internal/api/connect"
	"github.com/osa030/19stream/internal/app/session"
	"github.com/osa030/19stream/internal/domain/track"
)

var (
	app    = kingpin.New("19stream-playerctl", "19stream player control client")
	server = app.Flag("server", "Server address").Default("http://localhost:8080").String()
	token  = app.Flag("token", "Control token (or set CONTROL_TOKEN env)").Envar("CONTROL_TOKEN").String()

	stateCmd = app.Command("state", "Show the session state").Default()

	playCmd     = app.Command("play", "Play a catalog track now")
	playTrackID = playCmd.Arg("track-id", "Spotify track ID").Required().String()

	pauseCmd    = app.Command("pause", "Pause playback")
	resumeCmd   = app.Command("resume", "Resume playback")
	toggleCmd   = app.Command("toggle", "Toggle play/pause")
	nextCmd     = app.Command("next", "Skip to the next track")
	previousCmd = app.Command("previous", "Restart or go back").Alias("prev")

	seekCmd     = app.Command("seek", "Seek to a position")
	seekSeconds = seekCmd.Arg("seconds", "Position in seconds").Required().Float64()

	volumeCmd   = app.Command("volume", "Set the volume")
	volumeValue = volumeCmd.Arg("level", "Volume 0-100").Required().Int()

	muteCmd       = app.Command("mute", "Toggle mute")
	volumeUpCmd   = app.Command("volume-up", "Raise the volume")
	volumeDownCmd = app.Command("volume-down", "Lower the volume")
	shuffleCmd    = app.Command("shuffle", "Shuffle the queue")
	repeatCmd     = app.Command("repeat", "Toggle repeat")

	continuousCmd     = app.Command("continuous", "Enable or disable continuous playback")
	continuousEnabled = continuousCmd.Arg("enabled", "on or off").Required().Enum("on", "off")

	offlineCmd     = app.Command("offline", "Enable or disable offline mode")
	offlineEnabled = offlineCmd.Arg("enabled", "on or off").Required().Enum("on", "off")

	enqueueCmd = app.Command("enqueue", "Append tracks to the queue").Alias("add")
	enqueueIDs = enqueueCmd.Arg("track-ids", "Spotify track IDs").Required().Strings()

	removeCmd   = app.Command("remove", "Remove a queued track")
	removeIndex = removeCmd.Arg("index", "Queue index").Required().Int()

	moveCmd  = app.Command("move", "Move a queued track")
	moveFrom = moveCmd.Arg("from", "Source index").Required().Int()
	moveTo   = moveCmd.Arg("to", "Destination index").Required().Int()

	clearCmd = app.Command("clear", "Clear the queue")

	addAlbumCmd = app.Command("add-album", "Append an album to the queue")
	addAlbumID  = addAlbumCmd.Arg("album-id", "Spotify album ID").Required().String()

	addPlaylistCmd = app.Command("add-playlist", "Append a playlist to the queue")
	addPlaylistURL = addPlaylistCmd.Arg("url", "Spotify playlist URL or ID").Required().String()

	likeCmd     = app.Command("like", "Toggle like on a track (default: current)")
	likeTrackID = likeCmd.Arg("track-id", "Spotify track ID").String()

	likesCmd   = app.Command("likes", "List liked tracks")
	historyCmd = app.Command("history", "List play history")

	identityCmd  = app.Command("identity", "Switch the listener identity (no user ID: guest)")
	identityUser = identityCmd.Arg("user-id", "User ID").String()
	identityName = identityCmd.Arg("display-name", "Display name").String()

	watchCmd = app.Command("watch", "Stream state changes")
)

// parameterless maps commands to procedures that take no arguments.
var parameterless = map[string]string{
	pauseCmd.FullCommand():      "Pause",
	resumeCmd.FullCommand():     "Resume",
	toggleCmd.FullCommand():     "TogglePlay",
	nextCmd.FullCommand():       "Next",
	previousCmd.FullCommand():   "Previous",
	muteCmd.FullCommand():       "ToggleMute",
	volumeUpCmd.FullCommand():   "VolumeUp",
	volumeDownCmd.FullCommand(): "VolumeDown",
	shuffleCmd.FullCommand():    "ToggleShuffle",
	repeatCmd.FullCommand():     "ToggleRepeat",
	clearCmd.FullCommand():      "ClearQueue",
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))
	client := apiconnect.NewClient(http.DefaultClient, *server, *token)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := execute(ctx, client, command); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func execute(ctx context.Context, client *apiconnect.Client, command string) error {
	if procedure, ok := parameterless[command]; ok {
		if err := client.Call(ctx, procedure); err != nil {
			return err
		}
		return printState(ctx, client)
	}

	switch command {
	case stateCmd.FullCommand():
		return printState(ctx, client)
	case playCmd.FullCommand():
		if err := client.PlayByID(ctx, *playTrackID); err != nil {
			return err
		}
		return printState(ctx, client)
	case seekCmd.FullCommand():
		return client.Seek(ctx, *seekSeconds)
	case volumeCmd.FullCommand():
		return client.SetVolume(ctx, *volumeValue)
	case continuousCmd.FullCommand():
		return client.SetContinuousPlayback(ctx, *continuousEnabled == "on")
	case offlineCmd.FullCommand():
		return client.SetOfflineMode(ctx, *offlineEnabled == "on")
	case enqueueCmd.FullCommand():
		added, err := client.Enqueue(ctx, *enqueueIDs...)
		if err != nil {
			return err
		}
		fmt.Printf("Enqueued %d track(s)\n", added)
	case removeCmd.FullCommand():
		return client.RemoveAt(ctx, *removeIndex)
	case moveCmd.FullCommand():
		return client.Move(ctx, *moveFrom, *moveTo)
	case addAlbumCmd.FullCommand():
		res, err := client.AddAlbum(ctx, *addAlbumID)
		if err != nil {
			return err
		}
		fmt.Printf("Enqueued %s %q (%d tracks)\n", res.Kind, res.Name, res.Tracks)
	case addPlaylistCmd.FullCommand():
		res, err := client.AddPlaylist(ctx, *addPlaylistURL)
		if err != nil {
			return err
		}
		fmt.Printf("Enqueued %s %q (%d tracks)\n", res.Kind, res.Name, res.Tracks)
	case likeCmd.FullCommand():
		liked, err := client.ToggleLike(ctx, *likeTrackID)
		if err != nil {
			return err
		}
		if liked {
			fmt.Println("Liked")
		} else {
			fmt.Println("Unliked")
		}
	case likesCmd.FullCommand():
		res, err := client.GetLikes(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Liked tracks (%d):\n", len(res.Tracks))
		for _, t := range res.Tracks {
			fmt.Printf("  %s\n", formatTrack(&t))
		}
	case historyCmd.FullCommand():
		res, err := client.GetHistory(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("History (%d):\n", len(res.Entries))
		for _, e := range res.Entries {
			fmt.Printf("  %s  %s\n", e.PlayedAt.Local().Format(time.DateTime), formatTrack(&e.Track))
		}
	case identityCmd.FullCommand():
		return client.SetIdentity(ctx, *identityUser, *identityName)
	case watchCmd.FullCommand():
		return watch(ctx, client)
	}
	return nil
}

func watch(ctx context.Context, client *apiconnect.Client) error {
	fmt.Println("Watching state changes. Press Ctrl+C to exit.")
	err := client.Watch(ctx, func(e *apiconnect.WatchEvent) error {
		fmt.Printf("\n[Sequence: %d] %s\n", e.SequenceNo, strings.ToUpper(e.Reason))
		printSnapshot(&e.State)
		return nil
	})
	if ctx.Err() != nil {
		fmt.Println("\nStopped watching")
		return nil
	}
	return err
}

func printState(ctx context.Context, client *apiconnect.Client) error {
	snap, err := client.GetState(ctx)
	if err != nil {
		return err
	}
	printSnapshot(snap)
	return nil
}

func printSnapshot(s *session.Snapshot) {
	if s.CurrentTrack != nil {
		fmt.Printf("Now: %s\n", formatTrack(s.CurrentTrack))
		fmt.Printf("  %s via %s  %s / %s\n",
			s.PlayState, s.Backing,
			formatSeconds(s.ProgressSeconds), formatSeconds(s.DurationSeconds))
		if s.CurrentVideo != nil {
			fmt.Printf("  Video: %s (%s)\n", s.CurrentVideo.Title, s.CurrentVideo.ID)
		}
		if s.IsLiked(s.CurrentTrack.ID) {
			fmt.Println("  Liked")
		}
	} else {
		fmt.Printf("Now: nothing (%s)\n", s.PlayState)
	}

	fmt.Printf("Volume: %d", s.Volume)
	if s.Muted {
		fmt.Print(" (muted)")
	}
	fmt.Printf("  shuffle=%v repeat=%v continuous=%v offline=%v errors=%d scope=%s\n",
		s.Shuffled, s.Repeated, s.ContinuousPlayback, s.OfflineMode, s.ErrorCount, s.Scope)

	if len(s.Queue) > 0 {
		fmt.Printf("Queue (%d):\n", len(s.Queue))
		for i := range s.Queue {
			fmt.Printf("  %2d. %s\n", i, formatTrack(&s.Queue[i]))
		}
	}
	if len(s.RelatedLookahead) > 0 {
		fmt.Printf("Up next (related, %d):\n", len(s.RelatedLookahead))
		for i := range s.RelatedLookahead {
			fmt.Printf("      %s\n", formatTrack(&s.RelatedLookahead[i]))
		}
	}
}

func formatTrack(t *track.Track) string {
	return fmt.Sprintf("%s - %s [%s]", strings.Join(t.Artists, ", "), t.Name, t.ID)
}

func formatSeconds(sec float64) string {
	d := time.Duration(sec) * time.Second
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}
