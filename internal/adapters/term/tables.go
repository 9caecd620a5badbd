package term

import (
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
)

// ParticipantRow is one line of the participants table.
type ParticipantRow struct {
	Presence  domain.Presence
	PeerState string
	Video     bool
	Audio     bool
	Packets   uint64
}

func ParticipantsView(rows []ParticipantRow) string {
	if len(rows) == 0 {
		return MutedStyle.Render("nobody else here")
	}
	data := make([][]string, 0, len(rows))
	for _, r := range rows {
		data = append(data, []string{
			r.Presence.Name,
			shortID(r.Presence.ID),
			onOff(r.Presence.IsVideoEnabled),
			onOff(r.Presence.IsAudioEnabled),
			r.PeerState,
			media(r.Video, r.Audio),
			strconv.FormatUint(r.Packets, 10),
		})
	}
	return render([]string{"Name", "ID", "Cam", "Mic", "Peer", "Receiving", "Packets"}, data)
}

func RoomsView(rooms []core.RoomInfo) string {
	if len(rooms) == 0 {
		return MutedStyle.Render("no active rooms")
	}
	data := make([][]string, 0, len(rooms))
	for _, r := range rooms {
		data = append(data, []string{string(r.ID), strconv.Itoa(r.MemberCount)})
	}
	return render([]string{"Room", "Members"}, data)
}

func render(headers []string, rows [][]string) string {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		}).
		Render()
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func media(video, audio bool) string {
	switch {
	case video && audio:
		return "video+audio"
	case video:
		return "video"
	case audio:
		return "audio"
	}
	return "-"
}
