package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/dkeye/Mesh/internal/core"
)

// RoomsURL derives the room listing endpoint from a signal endpoint URL.
func RoomsURL(signalURL string) (string, error) {
	u, err := url.Parse(signalURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	base := strings.TrimSuffix(u.Path, "/ws/signal")
	if base == u.Path {
		base = "/api"
	}
	u.Path = base + "/rooms"
	u.RawQuery = ""
	return u.String(), nil
}

// ListRooms fetches the active rooms of a relay.
func ListRooms(ctx context.Context, client *http.Client, signalURL string) ([]core.RoomInfo, error) {
	endpoint, err := RoomsURL(signalURL)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list rooms: %s", resp.Status)
	}
	var rooms []core.RoomInfo
	if err := json.NewDecoder(resp.Body).Decode(&rooms); err != nil {
		return nil, fmt.Errorf("decode rooms: %w", err)
	}
	return rooms, nil
}
