// ABOUTME: Interactive chat loop for the parley CLI
// ABOUTME: Readline-style input with slash commands, live rendering of pushed events

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/2389/parley/internal/conversation"
	"github.com/2389/parley/internal/session"
	"github.com/2389/parley/internal/store"
)

func runChat(ctx context.Context, peerID string) error {
	if peerID == "" {
		return fmt.Errorf("usage: parley chat <user-id>")
	}
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.channel.Connect(ctx); err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	go a.coord.Run(ctx)

	if _, err := a.coord.SeedRoster(ctx); err != nil {
		// Fall back to the cached relationship so a flaky roster
		// endpoint does not block an established conversation.
		if !a.coord.WarmRelationship(ctx, peerID) {
			return err
		}
		a.logger.Warn("roster unavailable, using cached relationship", "error", err)
	}

	actions := a.coord.AllowedActions(peerID)
	if !actions.CanSend && !actions.CanAccept {
		if actions.CanSendRequest {
			return fmt.Errorf("not friends with %s yet; try: parley request %s", peerID, peerID)
		}
		return fmt.Errorf("conversation with %s is not available yet", peerID)
	}

	if err := a.coord.Open(ctx, peerID); err != nil {
		if errors.Is(err, session.ErrUnauthorized) {
			return fmt.Errorf("session expired, sign in again")
		}
		return err
	}
	defer a.coord.Close(peerID)

	presence := "offline"
	if a.coord.Online(peerID) {
		presence = "online"
	}
	fmt.Printf("Chatting with %s (%s). /help for commands, Ctrl+C to quit.\n\n", peerID, presence)

	for _, m := range a.coord.Messages(peerID) {
		printMessage(a.sess.UserID(), m)
	}

	// The coordinator applies pushed events to the store; the terminal
	// just re-renders whatever changed.
	go watchConversation(ctx, a, peerID)

	return inputLoop(ctx, a, peerID)
}

func inputLoop(ctx context.Context, a *app, peerID string) error {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		lineCh := make(chan string, 1)
		go func() {
			if scanner.Scan() {
				lineCh <- scanner.Text()
			} else {
				close(lineCh)
			}
		}()

		var line string
		var open bool
		select {
		case <-ctx.Done():
			fmt.Println("\nGoodbye!")
			return nil
		case line, open = <-lineCh:
			if !open {
				return scanner.Err()
			}
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if done := handleCommand(ctx, a, peerID, line); done {
				return nil
			}
			continue
		}

		if _, err := a.coord.Send(ctx, peerID, store.Body{Text: line}); err != nil {
			printSendError(err)
		}
	}
}

// handleCommand runs one slash command. Returns true when the loop
// should exit.
func handleCommand(ctx context.Context, a *app, peerID, line string) bool {
	parts := strings.SplitN(line, " ", 3)
	switch parts[0] {
	case "/quit", "/q":
		fmt.Println("Goodbye!")
		return true

	case "/help":
		fmt.Println("  /edit <id> <text>   Edit one of your messages")
		fmt.Println("  /delete <id>        Delete one of your messages")
		fmt.Println("  /history            Re-render the conversation")
		fmt.Println("  /quit               Exit")

	case "/edit":
		if len(parts) < 3 {
			fmt.Println("usage: /edit <id> <text>")
			return false
		}
		if err := a.coord.Edit(ctx, peerID, parts[1], store.Body{Text: parts[2]}); err != nil {
			printSendError(err)
		}

	case "/delete":
		if len(parts) < 2 {
			fmt.Println("usage: /delete <id>")
			return false
		}
		if err := a.coord.Delete(ctx, peerID, parts[1]); err != nil {
			printSendError(err)
		}

	case "/history":
		fmt.Println()
		for _, m := range a.coord.Messages(peerID) {
			printMessage(a.sess.UserID(), m)
		}

	default:
		fmt.Printf("Unknown command: %s\n", parts[0])
	}
	return false
}

// watchConversation renders messages pushed by the peer as they land in
// the store. Own messages are rendered at send time.
func watchConversation(ctx context.Context, a *app, peerID string) {
	seen := make(map[string]bool)
	for _, m := range a.coord.Messages(peerID) {
		seen[m.Key()] = true
	}

	ticker := time.NewTicker(300 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, m := range a.coord.Messages(peerID) {
				if seen[m.Key()] || m.SenderID == a.sess.UserID() {
					continue
				}
				seen[m.Key()] = true
				printMessage(a.sess.UserID(), m)
			}
		}
	}
}

func printMessage(localID string, m *store.Message) {
	gray := color.New(color.FgHiBlack)
	who := color.New(color.FgCyan)
	if m.SenderID == localID {
		who = color.New(color.FgGreen)
	}

	gray.Printf("%s ", m.CreatedAt.Local().Format("15:04"))
	who.Printf("%s ", m.SenderID)
	if m.Body.Attachment != nil {
		color.New(color.FgMagenta).Print("[image] ")
	}
	fmt.Print(m.Body.Text)
	if m.Edited {
		gray.Print(" (edited)")
	}
	if m.Pending() {
		gray.Print(" …")
	} else {
		gray.Printf("  #%s", m.ID)
	}
	fmt.Println()
}

func printSendError(err error) {
	switch {
	case errors.Is(err, session.ErrUnauthorized):
		fmt.Println(color.RedString("Session expired, sign in again."))
	case errors.Is(err, conversation.ErrSendFailed),
		errors.Is(err, conversation.ErrEditFailed),
		errors.Is(err, conversation.ErrDeleteFailed):
		fmt.Println(color.RedString("That didn't go through: %v", err))
	default:
		fmt.Println(color.RedString("Error: %v", err))
	}
}
