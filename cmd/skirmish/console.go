// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/term"

	"github.com/bureau-foundation/skirmish/orchestrator"
)

// console is the terminal front end: it prints notifications and asks
// the player questions on stdin.
type console struct {
	ctx         context.Context
	out         io.Writer
	interactive bool

	startReader sync.Once
	in          io.Reader
	lines       chan string

	// One question at a time.
	askMu sync.Mutex
}

func newConsole(ctx context.Context) *console {
	return &console{
		ctx:         ctx,
		out:         os.Stdout,
		in:          os.Stdin,
		interactive: term.IsTerminal(int(os.Stdin.Fd())),
		lines:       make(chan string),
	}
}

func (c *console) readLines() {
	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		c.lines <- scanner.Text()
	}
	close(c.lines)
}

// ask prints question and returns the trimmed answer. It reports false
// when stdin is closed or ctx ends first.
func (c *console) ask(ctx context.Context, question string) (string, bool) {
	if !c.interactive {
		return "", false
	}
	c.startReader.Do(func() { go c.readLines() })
	c.askMu.Lock()
	defer c.askMu.Unlock()

	fmt.Fprint(c.out, question)
	select {
	case line, ok := <-c.lines:
		return strings.TrimSpace(line), ok
	case <-ctx.Done():
		fmt.Fprintln(c.out)
		return "", false
	}
}

// promptExecutable implements prefs.Prompt.
func (c *console) promptExecutable(ctx context.Context, featuredMod string) (string, bool) {
	path, ok := c.ask(ctx, fmt.Sprintf("Path to the game executable for %s (empty to cancel): ", featuredMod))
	return path, ok && path != ""
}

// Notify implements orchestrator.Notifier. Actions are offered as a
// numbered choice on an interactive terminal; without one, a
// notification with actions is declined straight away.
func (c *console) Notify(notification orchestrator.Notification) {
	line := fmt.Sprintf("[%s] %s", notification.Severity, notification.Key)
	if len(notification.Args) > 0 {
		line += fmt.Sprintf(" %v", notification.Args)
	}
	if notification.Err != nil {
		line += ": " + notification.Err.Error()
	}
	fmt.Fprintln(c.out, line)

	if len(notification.Actions) == 0 {
		return
	}
	if !c.interactive {
		decline(notification)
		return
	}
	go c.offer(notification)
}

func decline(notification orchestrator.Notification) {
	if notification.Declined != nil {
		notification.Declined()
	}
}

func (c *console) offer(notification orchestrator.Notification) {
	ctx := c.ctx
	if notification.Dismiss != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(ctx)
		defer cancel()
		go func() {
			select {
			case <-notification.Dismiss:
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	var question strings.Builder
	for i, action := range notification.Actions {
		fmt.Fprintf(&question, "  %d) %s\n", i+1, action.Label)
	}
	question.WriteString("Choose (empty to skip): ")
	answer, ok := c.ask(ctx, question.String())
	if !ok || answer == "" {
		decline(notification)
		return
	}
	choice, err := strconv.Atoi(answer)
	if err != nil || choice < 1 || choice > len(notification.Actions) {
		fmt.Fprintf(c.out, "no such choice: %s\n", answer)
		decline(notification)
		return
	}
	notification.Actions[choice-1].Run()
}
