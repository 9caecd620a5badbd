package domain

// Presence is the record every call participant publishes on the room topic.
// Keyed by the publisher's session id, not its user id.
type Presence struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Avatar         string `json:"avatar,omitempty"`
	IsVideoEnabled bool   `json:"isVideoEnabled"`
	IsAudioEnabled bool   `json:"isAudioEnabled"`
}
