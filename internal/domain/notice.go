package domain

type NoticeLevel int

const (
	NoticeInfo NoticeLevel = iota
	NoticeWarn
	NoticeError
)

type NoticeKind string

const (
	NoticeConnected          NoticeKind = "connected"
	NoticeConnectFailed      NoticeKind = "connect_failed"
	NoticeDisconnected       NoticeKind = "disconnected"
	NoticeReceiveOnly        NoticeKind = "receive_only"
	NoticeNoDevice           NoticeKind = "no_device"
	NoticeScreenShareFailed  NoticeKind = "screen_share_failed"
	NoticeScreenShareStopped NoticeKind = "screen_share_stopped"
	NoticeChannelLost        NoticeKind = "channel_lost"
)

// Notice is a user-facing notification.
type Notice struct {
	Level   NoticeLevel
	Kind    NoticeKind
	Message string
}
