package app

import "github.com/avelov/meetspace/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickMember
	DropFrame
)

// Policy decides what happens to a member whose signal connection cannot
// keep up with room fan-out.
type Policy interface {
	OnBackPressure(room core.RoomService, sid core.SessionID) BackpressureAction
}

type SimplePolicy struct{}

// A signal connection that stalls long enough to fill its send buffer is
// almost always a dead tab; tear it down instead of accumulating frames.
func (SimplePolicy) OnBackPressure(room core.RoomService, sid core.SessionID) BackpressureAction {
	return KickMember
}
