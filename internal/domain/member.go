package domain

// Member represents a connection's participation meta for a room.
// No transport or lifecycle logic here.
type Member struct {
	ClientID ClientID `json:"client_id"`
	Username string   `json:"username"`
}

// NewMember avoids raw literals in adapters and keeps construction obvious.
func NewMember(clientID ClientID, username string) Member {
	return Member{ClientID: clientID, Username: username}
}
