package client

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"arena-server/internal/network"
)

// ErrQuit is returned when the user asks to leave
var ErrQuit = errors.New("quit")

// Session context needed to build in-match lines
type InputState struct {
	LoggedIn bool
	ConnID   string
	Slot     string // player1 or player2 while in a match
}

// InputHandler turns typed commands into protocol lines
type InputHandler struct{}

func NewInputHandler() *InputHandler {
	return &InputHandler{}
}

// Translate returns the line to send for one typed command. An empty line
// with a nil error means there is nothing to send.
func (ih *InputHandler) Translate(input string, st InputState) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", nil
	}
	if strings.Contains(input, network.Separator) {
		return input, nil
	}

	args := strings.Fields(input)
	cmd := strings.ToLower(args[0])
	args = args[1:]

	if cmd == "quit" || cmd == "exit" {
		return "", ErrQuit
	}

	if !st.LoggedIn {
		switch cmd {
		case "login", "register":
			if len(args) != 2 {
				return "", fmt.Errorf("usage: %s <user> <password>", cmd)
			}
			return network.Join(strings.ToUpper(cmd), args[0], args[1]), nil
		}
		return "", fmt.Errorf("unknown command %q, try help", cmd)
	}

	id := st.ConnID
	switch cmd {
	case "match":
		return string(network.MsgMatchmake), nil
	case "cancel":
		return string(network.MsgCancelMatchmaking), nil
	case "leaderboard", "lb":
		return string(network.MsgLeaderboard), nil
	case "logout":
		return string(network.MsgLogout), nil
	case "forfeit":
		return network.Join(string(network.MsgForfeit), id), nil
	case "wall":
		return network.Join(string(network.MsgWallCollision), id), nil
	case "move":
		if err := wantInts(args, 2); err != nil {
			return "", fmt.Errorf("usage: move <x> <y>: %w", err)
		}
		return network.Join(append([]string{id}, args...)...), nil
	case "shoot":
		if err := wantInts(args, 4); err != nil {
			return "", fmt.Errorf("usage: shoot <x> <y> <tx> <ty>: %w", err)
		}
		return network.Join(append(append([]string{string(network.MsgBullet)}, args...), st.Slot)...), nil
	case "hit":
		if err := wantInts(args, 2); err != nil {
			return "", fmt.Errorf("usage: hit <x> <y>: %w", err)
		}
		return network.Join(string(network.MsgHit), args[0], args[1], st.Slot), nil
	case "pickup":
		if err := wantInts(args, 2); err != nil {
			return "", fmt.Errorf("usage: pickup <x> <y>: %w", err)
		}
		return network.Join(string(network.MsgModifierPickup), args[0], args[1], id), nil
	}
	return "", fmt.Errorf("unknown command %q, try help", cmd)
}

func wantInts(args []string, n int) error {
	if len(args) != n {
		return fmt.Errorf("expected %d numbers, got %d", n, len(args))
	}
	for _, a := range args {
		if _, err := strconv.Atoi(a); err != nil {
			return fmt.Errorf("%q is not a number", a)
		}
	}
	return nil
}
