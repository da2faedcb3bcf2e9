// Package commands classifies slash-style commands out of inbound events.
package commands

import (
	"strings"

	"github.com/nextlevelbuilder/inlet/internal/bus"
)

// Command is a recognized slash command with its arguments.
type Command struct {
	Kind string   // canonical command name without the leading slash
	Args []string // whitespace-split remainder
}

// Classifier recognizes a closed set of commands. A bot username may be
// configured so "/status@mybot" resolves the same as "/status".
type Classifier struct {
	known       map[string]bool
	botUsername string
}

// DefaultCommands is the command set the gateway ships with.
var DefaultCommands = []string{"start", "help", "reset", "status", "stop", "collect", "agent"}

// NewClassifier creates a classifier for the given command set.
// Empty set means DefaultCommands.
func NewClassifier(known []string, botUsername string) *Classifier {
	if len(known) == 0 {
		known = DefaultCommands
	}
	set := make(map[string]bool, len(known))
	for _, k := range known {
		set[strings.ToLower(strings.TrimPrefix(k, "/"))] = true
	}
	return &Classifier{known: set, botUsername: strings.ToLower(botUsername)}
}

// Classify returns the command carried by the event, if any. Only command
// and text kinds are considered; the command token must be the first token.
func (c *Classifier) Classify(ev bus.InboundEvent) (Command, bool) {
	if ev.Kind != bus.KindCommand && ev.Kind != bus.KindText {
		return Command{}, false
	}
	text := strings.TrimSpace(ev.Text)
	if len(text) == 0 || text[0] != '/' {
		return Command{}, false
	}

	fields := strings.Fields(text)
	head := fields[0][1:] // strip the slash

	// Strip "@botname" suffix; a mention of some other bot is not ours.
	if at := strings.IndexByte(head, '@'); at >= 0 {
		target := strings.ToLower(head[at+1:])
		if c.botUsername != "" && target != c.botUsername {
			return Command{}, false
		}
		head = head[:at]
	}
	head = strings.ToLower(head)

	if !c.known[head] {
		return Command{}, false
	}
	return Command{Kind: head, Args: fields[1:]}, true
}

// ClassifyMessage scans a combined message's events in arrival order and
// returns the first recognized command.
func (c *Classifier) ClassifyMessage(msg *bus.CombinedMessage) (Command, bool) {
	for _, ev := range msg.Events {
		if cmd, ok := c.Classify(ev); ok {
			return cmd, true
		}
	}
	return Command{}, false
}
