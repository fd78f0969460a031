package core

import "github.com/dkeye/sigrelay/internal/domain"

// Recipient is a member snapshot taken under the room lock.
type Recipient struct {
	ConnID domain.ConnID
	Member domain.Member
	Conn   SignalConnection
}

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []Recipient
}
