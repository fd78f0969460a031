package domain

type (
	RoomID   string
	ClientID string
	// ConnID is minted per accepted transport and never reused.
	ConnID string
)

// RoomInfo is the read-only status view of a room.
type RoomInfo struct {
	RoomID         RoomID `json:"room_id"`
	ConnectedUsers int    `json:"connected_users"`
	IsActive       bool   `json:"is_active"`
}
