// ABOUTME: Entry point for the parley chat client
// ABOUTME: Subcommands for chatting, managing friends, and searching users

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/parley/internal/api"
	"github.com/2389/parley/internal/cache"
	"github.com/2389/parley/internal/config"
	"github.com/2389/parley/internal/conversation"
	"github.com/2389/parley/internal/friends"
	"github.com/2389/parley/internal/session"
	"github.com/2389/parley/internal/store"
	"github.com/2389/parley/internal/transport"
)

// Version is set by goreleaser at build time.
var version = "dev"

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: parley <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  chat <user-id>      Open a conversation")
		fmt.Println("  friends             List friends and pending requests")
		fmt.Println("  search <query>      Search users by name or unique id")
		fmt.Println("  request <user-id>   Send a friend request")
		fmt.Println("  accept <user-id>    Accept a pending friend request")
		fmt.Println("  reject <user-id>    Reject a pending friend request")
		fmt.Println("  version             Print the version")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "chat":
		err = runChat(ctx, arg(2))
	case "friends":
		err = runFriends(ctx)
	case "search":
		err = runSearch(ctx, arg(2))
	case "request":
		err = runRequest(ctx, arg(2))
	case "accept":
		err = runRespond(ctx, arg(2), true)
	case "reject":
		err = runRespond(ctx, arg(2), false)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func arg(i int) string {
	if len(os.Args) <= i {
		return ""
	}
	return os.Args[i]
}

// app bundles the wired-up client pieces a subcommand needs.
type app struct {
	cfg     *config.Config
	sess    *session.Session
	client  *api.Client
	channel *transport.Channel
	warm    *cache.Cache
	coord   *conversation.Coordinator
	logger  *slog.Logger
}

// setup loads configuration and the session, and wires the coordinator.
// The transport is created but not connected; subcommands that need live
// events call connect.
func setup() (*app, error) {
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	sess, err := session.Load(cfg.Session.TokenPath)
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}

	client := api.New(cfg.API.BaseURL, sess, cfg.API.Timeout, logger)

	channel := transport.New(transport.Config{
		URL:          cfg.Socket.URL,
		BearerToken:  sess.Token(),
		ReconnectMin: cfg.Socket.ReconnectMin,
		ReconnectMax: cfg.Socket.ReconnectMax,
	}, logger)

	var warm *cache.Cache
	if cfg.Cache.Enabled {
		warm, err = cache.Open(cfg.Cache.Path, logger)
		if err != nil {
			logger.Warn("cache unavailable, continuing without", "error", err)
			warm = nil
		}
	}

	a := &app{
		cfg:     cfg,
		sess:    sess,
		client:  client,
		channel: channel,
		warm:    warm,
		logger:  logger,
	}

	// The cache interface is optional; a typed nil must not reach the
	// coordinator.
	var warmIface conversation.WarmCache
	if warm != nil {
		warmIface = warm
	}
	a.coord = conversation.New(sess.UserID(), client, channel,
		store.NewMessageStore(logger),
		friends.NewTracker(sess.UserID(), logger),
		warmIface, logger)
	return a, nil
}

func (a *app) close() {
	a.channel.Close()
	if a.warm != nil {
		if err := a.warm.Close(); err != nil {
			a.logger.Debug("cache close failed", "error", err)
		}
	}
}

func runFriends(ctx context.Context) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()

	roster, err := a.coord.SeedRoster(ctx)
	if err != nil {
		return err
	}
	if len(roster) == 0 {
		fmt.Println("No friends yet. Try: parley search <name>")
		return nil
	}

	for _, f := range roster {
		printFriend(f)
	}
	return nil
}

func runSearch(ctx context.Context, query string) error {
	if query == "" {
		return fmt.Errorf("usage: parley search <query>")
	}
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()

	results, err := a.client.SearchFriends(ctx, query)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Println("No users found.")
		return nil
	}
	for _, f := range results {
		printFriend(f)
	}
	return nil
}

func runRequest(ctx context.Context, peerID string) error {
	if peerID == "" {
		return fmt.Errorf("usage: parley request <user-id>")
	}
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()

	if _, err := a.coord.SeedRoster(ctx); err != nil {
		return err
	}
	if err := a.coord.SendFriendRequest(ctx, peerID); err != nil {
		return err
	}
	fmt.Printf("Friend request sent to %s.\n", peerID)
	return nil
}

func runRespond(ctx context.Context, peerID string, accept bool) error {
	if peerID == "" {
		verb := "reject"
		if accept {
			verb = "accept"
		}
		return fmt.Errorf("usage: parley %s <user-id>", verb)
	}
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()

	if _, err := a.coord.SeedRoster(ctx); err != nil {
		return err
	}
	if err := a.coord.RespondFriendRequest(ctx, peerID, accept); err != nil {
		return err
	}
	if accept {
		fmt.Printf("You are now friends with %s.\n", peerID)
	} else {
		fmt.Printf("Request from %s rejected.\n", peerID)
	}
	return nil
}

func printFriend(f api.Friend) {
	green := color.New(color.FgGreen)
	gray := color.New(color.FgHiBlack)

	if f.Online {
		green.Print("  ● ")
	} else {
		gray.Print("  ○ ")
	}
	fmt.Printf("%s", f.Name)
	gray.Printf("  (%s)", f.ID)
	if f.UniqueID != "" {
		gray.Printf("  @%s", f.UniqueID)
	}
	if f.Status == friends.ConvInitiate {
		color.New(color.FgYellow).Print("  [pending]")
	}
	fmt.Println()
}
