package app

import "fmt"

// PlayPolicy decides what a play command does while a track is streaming.
type PlayPolicy int

const (
	// PlayPreempt stops the current track and starts the new one.
	PlayPreempt PlayPolicy = iota
	// PlayReject refuses the command with domain.ErrBusy.
	PlayReject
)

// LinkDeathPolicy decides what happens to sessions whose owner link is gone.
type LinkDeathPolicy int

const (
	// LeaveOnLinkDeath tears down every session the link owned.
	LeaveOnLinkDeath LinkDeathPolicy = iota
	// OrphanOnLinkDeath keeps them until an explicit leave or a replacing join.
	OrphanOnLinkDeath
)

type Policy struct {
	Play      PlayPolicy
	LinkDeath LinkDeathPolicy
}

func ParsePolicy(play, linkDeath string) (Policy, error) {
	var p Policy
	switch play {
	case "", "preempt":
		p.Play = PlayPreempt
	case "reject":
		p.Play = PlayReject
	default:
		return p, fmt.Errorf("unknown play policy %q", play)
	}
	switch linkDeath {
	case "", "leave":
		p.LinkDeath = LeaveOnLinkDeath
	case "orphan":
		p.LinkDeath = OrphanOnLinkDeath
	default:
		return p, fmt.Errorf("unknown link death policy %q", linkDeath)
	}
	return p, nil
}
