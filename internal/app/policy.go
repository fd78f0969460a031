package app

import (
	"github.com/dkeye/sigrelay/internal/core"
	"github.com/dkeye/sigrelay/internal/domain"
)

type DeliveryAction int

const (
	NoAction DeliveryAction = iota
	KickMember
)

// Policy decides what happens to a member whose send queue rejected a frame.
type Policy interface {
	OnDeliveryFailure(roomID domain.RoomID, member core.Recipient) DeliveryAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnDeliveryFailure(domain.RoomID, core.Recipient) DeliveryAction {
	return KickMember
}
