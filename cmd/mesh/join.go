package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dkeye/Mesh/internal/adapters/capture"
	"github.com/dkeye/Mesh/internal/adapters/realtime"
	"github.com/dkeye/Mesh/internal/adapters/rtc"
	"github.com/dkeye/Mesh/internal/adapters/term"
	"github.com/dkeye/Mesh/internal/app/call"
	"github.com/dkeye/Mesh/internal/app/media"
	"github.com/dkeye/Mesh/internal/codec"
	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"
)

const helpText = `/video   toggle camera
/audio   toggle microphone
/screen  start or stop screen sharing
/who     show participants
/quit    leave the room
anything else is sent as chat`

var joinCmd = &cobra.Command{
	Use:   "join <room>",
	Short: "Join a room and start a call",
	Long: `Join a room and connect to everyone in it.

Examples:
  mesh join standup
  mesh join standup --name alice --capture devices`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		room, err := domain.ParseRoomID(args[0])
		if err != nil {
			return err
		}
		return runJoin(cmd.Context(), room, os.Stdin, term.NewPrinter(cmd.OutOrStdout()))
	},
}

func newSession(p *term.Printer) (*call.Session, error) {
	c := cfg.Client
	factory, err := rtc.NewFactory(c.ICEServers)
	if err != nil {
		return nil, fmt.Errorf("webrtc: %w", err)
	}
	capturer, err := capture.ByName(c.Capture, c.VideoCodec, c.AudioCodec)
	if err != nil {
		return nil, err
	}
	chat, err := codec.ByName(c.ChatCodec)
	if err != nil {
		return nil, err
	}
	return call.NewSession(call.Options{
		Profile:            call.Profile{Name: c.DisplayName, Avatar: c.Avatar},
		Media:              media.NewManager(capturer),
		Realtime:           realtime.NewDialer(c.ServerURL),
		Peers:              factory,
		Notifier:           p,
		Codec:              chat,
		NegotiationTimeout: c.NegotiationTimeout,
		InboxSize:          c.InboxSize,
	}), nil
}

func runJoin(parent context.Context, room domain.RoomID, in io.Reader, p *term.Printer) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := newSession(p)
	if err != nil {
		return err
	}
	sessCtx, cancel := context.WithCancel(ctx)
	sess.Start(sessCtx)
	defer func() {
		cancel()
		<-sess.Done()
	}()

	if err := sess.Connect(ctx, room); err != nil {
		return err
	}
	p.Println(term.MutedStyle.Render("type /help for commands"))

	go printMessages(sessCtx, sess, p)

	lines := readLines(in)
	for {
		select {
		case <-ctx.Done():
			return leave(sess)
		case <-sess.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return leave(sess)
			}
			quit, err := dispatch(ctx, sess, p, line)
			if err != nil {
				p.Println(term.ErrorStyle.Render("x " + err.Error()))
			}
			if quit {
				return leave(sess)
			}
		}
	}
}

func leave(sess *call.Session) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sess.Disconnect(ctx); err != nil && !errors.Is(err, call.ErrSessionClosed) {
		return err
	}
	return nil
}

// command splits a line into a slash command and its argument. Plain text
// has an empty command.
func command(line string) (string, string) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return "", line
	}
	name, arg, _ := strings.Cut(line[1:], " ")
	return strings.ToLower(name), strings.TrimSpace(arg)
}

// controls is the part of a call session the command loop drives.
type controls interface {
	SendMessage(ctx context.Context, text string) (int, error)
	ToggleVideo(ctx context.Context) error
	ToggleAudio(ctx context.Context) error
	ToggleScreenShare(ctx context.Context) error
	Peers() map[core.SessionID]*call.PeerEntry
	RemoteStreams() map[core.SessionID]*call.RemoteStream
	Participants() []domain.Presence
}

func dispatch(ctx context.Context, sess controls, p *term.Printer, line string) (bool, error) {
	name, arg := command(line)
	switch name {
	case "":
		if arg == "" {
			return false, nil
		}
		n, err := sess.SendMessage(ctx, arg)
		if err != nil {
			return false, err
		}
		if n == 0 {
			p.Println(term.MutedStyle.Render("(nobody received the message)"))
		}
	case "video":
		return false, sess.ToggleVideo(ctx)
	case "audio":
		return false, sess.ToggleAudio(ctx)
	case "screen":
		return false, sess.ToggleScreenShare(ctx)
	case "who":
		p.Println(term.ParticipantsView(participantRows(sess)))
	case "help":
		p.Println(helpText)
	case "quit", "exit":
		return true, nil
	default:
		return false, fmt.Errorf("unknown command /%s", name)
	}
	return false, nil
}

func participantRows(sess controls) []term.ParticipantRow {
	peers := sess.Peers()
	streams := sess.RemoteStreams()
	var rows []term.ParticipantRow
	for _, pr := range sess.Participants() {
		row := term.ParticipantRow{Presence: pr, PeerState: "-"}
		if e, ok := peers[core.SessionID(pr.ID)]; ok {
			row.PeerState = e.State.String()
		}
		if rs, ok := streams[core.SessionID(pr.ID)]; ok {
			row.Video = rs.Track(webrtc.RTPCodecTypeVideo) != nil
			row.Audio = rs.Track(webrtc.RTPCodecTypeAudio) != nil
			row.Packets = rs.Stats(webrtc.RTPCodecTypeVideo).Packets + rs.Stats(webrtc.RTPCodecTypeAudio).Packets
		}
		rows = append(rows, row)
	}
	return rows
}

func printMessages(ctx context.Context, sess *call.Session, p *term.Printer) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-sess.Messages():
			names := make(map[string]string)
			for _, pr := range sess.Participants() {
				names[pr.ID] = pr.Name
			}
			p.Chat(msg, names)
		}
	}
}

func readLines(in io.Reader) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			out <- sc.Text()
		}
	}()
	return out
}
