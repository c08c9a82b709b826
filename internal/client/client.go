package client

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"arena-server/internal/game"
	"arena-server/internal/network"
	"arena-server/pkg/logger"
)

// Client represents the terminal client
type Client struct {
	serverAddr string
	transport  network.Transport
	display    *Display
	input      *InputHandler
	logger     *logger.Logger

	mu    sync.Mutex
	state InputState

	// sent right after connecting when set
	autoLogin string

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient creates a new client instance writing to stdout
func NewClient(serverAddr string) *Client {
	return newClient(serverAddr, os.Stdout)
}

func newClient(serverAddr string, out io.Writer) *Client {
	return &Client{
		serverAddr: serverAddr,
		display:    NewDisplay(out),
		input:      NewInputHandler(),
		logger:     logger.Client,
		done:       make(chan struct{}),
	}
}

// AutoLogin makes Start log in with these credentials as soon as it is
// connected
func (c *Client) AutoLogin(username, password string) {
	c.autoLogin = network.Join(string(network.MsgLogin), username, password)
}

// Start connects, then runs the command loop on stdin until quit or the
// server goes away
func (c *Client) Start() error {
	return c.start(os.Stdin)
}

func (c *Client) start(in io.Reader) error {
	c.display.PrintBanner()

	if err := c.connectToServer(); err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer c.Close()

	go c.messageHandler()

	if c.autoLogin != "" {
		c.logger.Debug("Logging in automatically")
		if err := c.transport.WriteLine(c.autoLogin); err != nil {
			return fmt.Errorf("send login: %w", err)
		}
	} else {
		c.display.PrintHelp(false)
	}
	return c.commandLoop(in)
}

func (c *Client) connectToServer() error {
	c.display.PrintServerStatus(fmt.Sprintf("Connecting to %s...", c.serverAddr))

	conn, err := net.DialTimeout("tcp", c.serverAddr, 10*time.Second)
	if err != nil {
		return err
	}
	c.transport = network.NewTCPTransport(conn)

	c.display.PrintServerStatus("Connected")
	c.logger.Info("Connected to server %s", c.serverAddr)
	return nil
}

func (c *Client) commandLoop(r io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		c.display.PrintPrompt(c.snapshot().LoggedIn)

		var text string
		var ok bool
		select {
		case <-c.done:
			return nil
		case text, ok = <-lines:
			if !ok {
				return nil
			}
		}

		if strings.EqualFold(strings.TrimSpace(text), "help") {
			c.display.PrintHelp(c.snapshot().LoggedIn)
			continue
		}

		line, err := c.input.Translate(text, c.snapshot())
		if errors.Is(err, ErrQuit) {
			c.display.PrintInfo("Goodbye!")
			return nil
		}
		if err != nil {
			c.display.PrintWarning(err.Error())
			continue
		}
		if line == "" {
			continue
		}

		c.logger.Debug("-> %s", line)
		if err := c.transport.WriteLine(line); err != nil {
			return fmt.Errorf("send: %w", err)
		}
	}
}

// messageHandler reads server lines until the connection drops
func (c *Client) messageHandler() {
	defer c.Close()
	for {
		line, err := c.transport.ReadLine()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.display.PrintError("Connection to server lost")
				c.logger.Warn("Read from server failed: %v", err)
			}
			return
		}
		c.logger.Debug("<- %s", line)
		c.HandleServerLine(line)
	}
}

// HandleServerLine updates client state and renders one server line
func (c *Client) HandleServerLine(line string) {
	cmd := network.Parse(line)
	keyword := network.MessageType(cmd.Fields[0])

	switch keyword {
	case network.MsgLoginSuccess:
		level, wins, losses := profile(cmd)
		c.mu.Lock()
		c.state.LoggedIn = true
		c.state.ConnID = cmd.Arg(3)
		c.mu.Unlock()
		c.display.PrintSuccess("Logged in")
		c.display.PrintProfile(level, wins, losses)
		c.display.PrintHelp(true)

	case network.MsgLoginFailed:
		c.display.PrintError("Login failed: " + cmd.Arg(0))

	case network.MsgRegisterSuccess:
		c.display.PrintSuccess("Registered, you can log in now")

	case network.MsgRegisterFailed:
		c.display.PrintError("Registration failed: " + cmd.Arg(0))

	case network.MsgMatchFound:
		x, _ := strconv.Atoi(cmd.Arg(0))
		y, _ := strconv.Atoi(cmd.Arg(1))
		spawn := game.Position{X: x, Y: y}
		slot := game.SlotPlayer2
		if spawn == game.SpawnPoints[0] {
			slot = game.SlotPlayer1
		}
		c.mu.Lock()
		c.state.Slot = slot
		c.mu.Unlock()
		c.display.PrintMatchFound(spawn)

	case network.MsgStart:
		c.display.PrintStart()

	case network.MsgScores:
		s1, _ := strconv.Atoi(cmd.Arg(1))
		s2, _ := strconv.Atoi(cmd.Arg(3))
		c.display.PrintScores(s1, s2, c.snapshot().Slot)

	case network.MsgModifier:
		x, _ := strconv.Atoi(cmd.Arg(0))
		y, _ := strconv.Atoi(cmd.Arg(1))
		kind, ok := game.ParseModifierKind(cmd.Arg(2))
		if !ok {
			c.display.PrintWarning("Unknown modifier " + cmd.Arg(2))
			return
		}
		c.display.PrintModifier(game.Modifier{Position: game.Position{X: x, Y: y}, Kind: kind})

	case network.MsgResetPositions:
		c.display.PrintInfo("Positions reset")

	case network.MsgEnd, network.MsgForfeitConfirm:
		c.endMatch(keyword, cmd)

	case network.MsgLeaderboard:
		c.display.PrintLeaderboard(network.ParseLeaderboard(cmd))

	default:
		c.display.PrintOpponent(cmd.Raw)
	}
}

// endMatch clears the slot. A non-zero win streak in the result means the
// last match was won.
func (c *Client) endMatch(keyword network.MessageType, cmd network.Command) {
	level, wins, losses := profile(cmd)
	c.mu.Lock()
	c.state.Slot = ""
	c.mu.Unlock()

	title := "MATCH OVER"
	if keyword == network.MsgForfeitConfirm {
		title = "FORFEIT"
	}
	c.display.PrintResult(title, wins > 0, level, wins, losses)
}

func profile(cmd network.Command) (level, wins, losses int) {
	level, _ = strconv.Atoi(cmd.Arg(0))
	wins, _ = strconv.Atoi(cmd.Arg(1))
	losses, _ = strconv.Atoi(cmd.Arg(2))
	return level, wins, losses
}

func (c *Client) snapshot() InputState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close closes the connection
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.transport != nil {
			c.transport.Close()
		}
		c.logger.Info("Client closed")
	})
}
