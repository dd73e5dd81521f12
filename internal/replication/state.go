package replication

import (
	"fmt"
	"strings"
)

// State is the coarse session lifecycle signal.
type State int

const (
	PreLobby State = iota
	Lobby
	ActiveRound
)

func (s State) String() string {
	switch s {
	case PreLobby:
		return "pre_lobby"
	case Lobby:
		return "lobby"
	case ActiveRound:
		return "active_round"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ParseState converts "pre_lobby", "lobby" or "active_round".
func ParseState(s string) (State, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pre_lobby", "prelobby", "menu":
		return PreLobby, nil
	case "lobby":
		return Lobby, nil
	case "active_round", "round":
		return ActiveRound, nil
	default:
		return PreLobby, fmt.Errorf("unknown lifecycle state %q", s)
	}
}
