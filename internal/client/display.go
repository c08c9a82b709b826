// Package client handles client-side display and user interface
package client

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"arena-server/internal/game"
)

type Display struct {
	out          io.Writer
	serverColor  *color.Color
	connectColor *color.Color
	gameColor    *color.Color
	scoreColor   *color.Color
	winColor     *color.Color
	loseColor    *color.Color
	warningColor *color.Color
	errorColor   *color.Color
	infoColor    *color.Color
	enemyColor   *color.Color
}

// NewDisplay creates a new display instance with configured colors
func NewDisplay(out io.Writer) *Display {
	return &Display{
		out:          out,
		serverColor:  color.New(color.FgCyan, color.Bold),
		connectColor: color.New(color.FgGreen, color.Bold),
		gameColor:    color.New(color.FgYellow, color.Bold),
		scoreColor:   color.New(color.FgBlue, color.Bold),
		winColor:     color.New(color.FgGreen, color.Bold, color.BgBlack),
		loseColor:    color.New(color.FgRed, color.Bold, color.BgBlack),
		warningColor: color.New(color.FgYellow),
		errorColor:   color.New(color.FgRed, color.Bold),
		infoColor:    color.New(color.FgWhite),
		enemyColor:   color.New(color.FgMagenta),
	}
}

func stamp() string {
	return time.Now().Format("15:04:05")
}

// PrintBanner displays the game banner
func (d *Display) PrintBanner() {
	d.gameColor.Fprintln(d.out, `
╔═══════════════════════════════════════╗
║             ARENA CLIENT              ║
╚═══════════════════════════════════════╝`)
}

// PrintServerStatus displays server connection status
func (d *Display) PrintServerStatus(message string) {
	d.serverColor.Fprintf(d.out, "[%s] [SERVER] %s\n", stamp(), message)
}

func (d *Display) PrintInfo(message string) {
	d.infoColor.Fprintf(d.out, "%s\n", message)
}

func (d *Display) PrintSuccess(message string) {
	d.connectColor.Fprintf(d.out, "[%s] %s\n", stamp(), message)
}

func (d *Display) PrintWarning(message string) {
	d.warningColor.Fprintf(d.out, "[%s] [WARN] %s\n", stamp(), message)
}

func (d *Display) PrintError(message string) {
	d.errorColor.Fprintf(d.out, "[%s] [ERROR] %s\n", stamp(), message)
}

// PrintProfile shows level and streaks as sent by the server
func (d *Display) PrintProfile(level, wins, losses int) {
	d.connectColor.Fprintf(d.out, "[%s] Level %d | win streak %d | loss streak %d\n", stamp(), level, wins, losses)
}

// PrintMatchFound announces the opponent pairing and spawn point
func (d *Display) PrintMatchFound(spawn game.Position) {
	d.gameColor.Fprintf(d.out, "[%s] [MATCH FOUND] spawning at (%d, %d), get ready...\n", stamp(), spawn.X, spawn.Y)
}

func (d *Display) PrintStart() {
	d.gameColor.Fprintf(d.out, "[%s] [START] Fight!\n", stamp())
}

func (d *Display) PrintScores(score1, score2 int, mySlot string) {
	marker := func(slot string) string {
		if slot == mySlot {
			return " (you)"
		}
		return ""
	}
	d.scoreColor.Fprintf(d.out, "[%s] [SCORES] player1%s %d - %d player2%s\n",
		stamp(), marker(game.SlotPlayer1), score1, score2, marker(game.SlotPlayer2))
}

func (d *Display) PrintModifier(m game.Modifier) {
	d.warningColor.Fprintf(d.out, "[%s] [MODIFIER] %s at (%d, %d)\n", stamp(), m.Kind, m.Position.X, m.Position.Y)
}

// PrintResult shows the end of a match with the updated profile
func (d *Display) PrintResult(title string, won bool, level, wins, losses int) {
	c := d.loseColor
	if won {
		c = d.winColor
	}
	c.Fprintf(d.out, "[%s] [%s] Level %d | win streak %d | loss streak %d\n", stamp(), title, level, wins, losses)
}

// PrintOpponent shows a line relayed from the opponent
func (d *Display) PrintOpponent(line string) {
	d.enemyColor.Fprintf(d.out, "[%s] [OPPONENT] %s\n", stamp(), line)
}

func (d *Display) PrintLeaderboard(rows []game.LeaderboardEntry) {
	d.gameColor.Fprintln(d.out, "\n=== LEADERBOARD ===")
	if len(rows) == 0 {
		d.infoColor.Fprintln(d.out, "(no players yet)")
		return
	}
	d.infoColor.Fprintf(d.out, "%-4s %-16s %5s %6s %4s %6s\n", "#", "PLAYER", "LEVEL", "STREAK", "WINS", "LOSSES")
	for i, r := range rows {
		d.infoColor.Fprintf(d.out, "%-4d %-16s %5d %6d %4d %6d\n", i+1, r.Username, r.Level, r.Streak, r.Wins, r.Losses)
	}
	d.infoColor.Fprintln(d.out, strings.Repeat("=", 19))
}

// PrintHelp lists the interactive commands
func (d *Display) PrintHelp(loggedIn bool) {
	if !loggedIn {
		d.infoColor.Fprintln(d.out, `Commands:
  register <user> <password>
  login <user> <password>
  quit`)
		return
	}
	d.infoColor.Fprintln(d.out, `Commands:
  match | cancel | leaderboard | logout | quit
  In a match:
    move <x> <y>              send your position
    shoot <x> <y> <tx> <ty>   fire a bullet
    hit <x> <y>               report that your bullet hit
    pickup <x> <y>            pick up the modifier at x,y
    wall                      report a wall collision
    forfeit
  Any line containing ';' is sent as-is.`)
}

func (d *Display) PrintPrompt(loggedIn bool) {
	if loggedIn {
		fmt.Fprint(d.out, "arena> ")
	} else {
		fmt.Fprint(d.out, "login> ")
	}
}
