// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"text/tabwriter"
	"unicode"

	"github.com/bureau-foundation/socialmux/lib/payload"
	"github.com/bureau-foundation/socialmux/mux"
)

const consoleHelp = `commands:
  clients                          list known clients and their status
  users                            list known user profiles
  sessions                         show the number of transport sessions
  send <client-id> <text>          send text to a client
  sendtag <client-id> <tag> <text> send text with an explicit tag
  forget                           discard the remembered login
  help                             show this list
  quit                             log out and exit
`

var errUsage = errors.New("usage")

// console reads commands from a line-oriented reader and prints inbound
// messages. Output from commands and from message delivery is
// serialized.
type console struct {
	mux *mux.Mux

	mu  sync.Mutex
	out io.Writer
}

func newConsole(m *mux.Mux, out io.Writer) *console {
	return &console{mux: m, out: out}
}

// run executes commands from input until "quit", end of input, or ctx
// cancellation. Command errors are printed, not returned.
func (c *console) run(ctx context.Context, input io.Reader) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(input)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					if err != nil {
						return fmt.Errorf("reading commands: %w", err)
					}
				default:
				}
				return nil
			}
			quit, err := c.execute(ctx, line)
			if err != nil {
				c.printf("error: %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

// execute runs one command line. It reports whether the console should
// stop.
func (c *console) execute(ctx context.Context, line string) (bool, error) {
	command, rest := cutField(line)
	switch command {
	case "":
		return false, nil

	case "quit", "exit":
		return true, nil

	case "help":
		c.printf("%s", consoleHelp)
		return false, nil

	case "clients":
		return false, c.listClients(ctx)

	case "users":
		return false, c.listUsers(ctx)

	case "sessions":
		c.printf("%d active sessions\n", c.mux.Sessions())
		return false, nil

	case "forget":
		return false, c.mux.ClearCachedCredentials(ctx)

	case "send":
		to, text := cutField(rest)
		if to == "" || text == "" {
			return false, fmt.Errorf("%w: send <client-id> <text>", errUsage)
		}
		return false, c.mux.SendMessage(ctx, to, "", text)

	case "sendtag":
		to, rest := cutField(rest)
		tag, text := cutField(rest)
		if to == "" || tag == "" || text == "" {
			return false, fmt.Errorf("%w: sendtag <client-id> <tag> <text>", errUsage)
		}
		return false, c.mux.SendMessage(ctx, to, tag, text)
	}
	return false, fmt.Errorf("unknown command %q (try \"help\")", command)
}

func (c *console) listClients(ctx context.Context) error {
	clients, err := c.mux.GetClients(ctx)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(clients))
	for id := range clients {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	c.mu.Lock()
	defer c.mu.Unlock()
	table := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(table, "CLIENT\tUSER\tSTATUS")
	for _, id := range ids {
		state := clients[id]
		fmt.Fprintf(table, "%s\t%s\t%s\n", state.ClientID, state.UserID, state.Status)
	}
	return table.Flush()
}

func (c *console) listUsers(ctx context.Context) error {
	users, err := c.mux.GetUsers(ctx)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(users))
	for id := range users {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	c.mu.Lock()
	defer c.mu.Unlock()
	table := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(table, "USER\tNAME")
	for _, id := range ids {
		fmt.Fprintf(table, "%s\t%s\n", id, users[id].Name)
	}
	return table.Flush()
}

// printMessage is a mux.Mux message listener.
func (c *console) printMessage(message mux.Message) {
	text, err := payload.ToText(message.Data)
	if err != nil {
		c.printf("<- %s [%s] %d bytes\n", message.From.ClientID, message.Tag, len(message.Data))
		return
	}
	c.printf("<- %s [%s] %s\n", message.From.ClientID, message.Tag, text)
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// cutField splits the first whitespace-delimited field from line and
// returns it with the remainder, both trimmed. Whitespace inside the
// remainder is kept.
func cutField(line string) (string, string) {
	line = strings.TrimSpace(line)
	index := strings.IndexFunc(line, unicode.IsSpace)
	if index < 0 {
		return line, ""
	}
	return line[:index], strings.TrimSpace(line[index:])
}
