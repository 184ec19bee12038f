// ABOUTME: REST client for the chat backend collaborator
// ABOUTME: Bearer-authenticated resty calls; a 401 anywhere is fatal to the session

package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/2389/parley/internal/friends"
	"github.com/2389/parley/internal/session"
	"github.com/2389/parley/internal/store"
	"github.com/2389/parley/internal/wire"
)

// Friend is one entry of the backend's relationship listing.
type Friend struct {
	ID          string                     `json:"_id"`
	Name        string                     `json:"name"`
	UniqueID    string                     `json:"uniqueId"`
	Online      bool                       `json:"online"`
	Status      friends.ConversationStatus `json:"status"`
	InitiatorID string                     `json:"initiatorId"`
}

// Client talks to the REST backend. It never retries: transient failures
// surface to the caller, and a 401 maps to session.ErrUnauthorized which
// is fatal to the whole session.
type Client struct {
	http   *resty.Client
	logger *slog.Logger
}

// New creates a client against the given base URL using the session's
// bearer token. Pass nil logger for default.
func New(baseURL string, sess *session.Session, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	hc := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(sess.Token()).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return &Client{
		http:   hc,
		logger: logger.With("component", "api"),
	}
}

// History fetches the historical message snapshot for a conversation with
// the given peer.
func (c *Client) History(ctx context.Context, peerID string) ([]*store.Message, error) {
	var out struct {
		Data []wire.Message `json:"data"`
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/chats/" + peerID)
	if err := c.check(resp, err, "fetch history"); err != nil {
		return nil, err
	}

	messages := make([]*store.Message, 0, len(out.Data))
	for i := range out.Data {
		m, err := out.Data[i].ToStore()
		if err != nil {
			c.logger.Warn("skipping malformed history message",
				"peer_id", peerID, "error", err)
			continue
		}
		messages = append(messages, m)
	}
	return messages, nil
}

// StoreMessage issues the authoritative write for a new message and
// returns the server's copy with its assigned id.
func (c *Client) StoreMessage(ctx context.Context, receiverID string, body store.Body) (*store.Message, error) {
	var out struct {
		Data struct {
			Message wire.Message `json:"message"`
		} `json:"data"`
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"receiverId": receiverID,
			"message":    wire.EncodeBody(body),
		}).
		SetResult(&out).
		Post("/chats/store")
	if err := c.check(resp, err, "store message"); err != nil {
		return nil, err
	}

	return out.Data.Message.ToStore()
}

// EditMessage replaces the body of an existing message.
func (c *Client) EditMessage(ctx context.Context, messageID string, body store.Body) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"message": wire.EncodeBody(body)}).
		Put("/chats/edit/" + messageID)
	return c.check(resp, err, "edit message")
}

// DeleteMessage destroys an existing message.
func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		Delete("/chats/destroy/" + messageID)
	return c.check(resp, err, "delete message")
}

// SendFriendRequest initiates a relationship with the given peer.
func (c *Client) SendFriendRequest(ctx context.Context, receiverID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"receiverId": receiverID}).
		Post("/friends/store")
	return c.check(resp, err, "send friend request")
}

// ToggleFriend transitions a pending relationship. The backend accepts
// "accepted" or "deleted".
func (c *Client) ToggleFriend(ctx context.Context, peerID, status string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		Post("/friends/toggle/" + peerID + "/" + status)
	return c.check(resp, err, "toggle friend")
}

// ListFriends returns the relationship listing used to seed the tracker
// and the conversation list.
func (c *Client) ListFriends(ctx context.Context) ([]Friend, error) {
	var out struct {
		Data struct {
			Friends []Friend `json:"friends"`
		} `json:"data"`
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/friends")
	if err := c.check(resp, err, "list friends"); err != nil {
		return nil, err
	}
	return out.Data.Friends, nil
}

// SearchFriends looks up users by name or unique id.
func (c *Client) SearchFriends(ctx context.Context, query string) ([]Friend, error) {
	var out struct {
		Data struct {
			Friends []Friend `json:"friends"`
		} `json:"data"`
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("search", query).
		SetResult(&out).
		Get("/friends/search")
	if err := c.check(resp, err, "search friends"); err != nil {
		return nil, err
	}
	return out.Data.Friends, nil
}

// check maps a resty result to the session error taxonomy. Unauthorized
// always wins over anything else the response carries.
func (c *Client) check(resp *resty.Response, err error, op string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if resp.StatusCode() == http.StatusUnauthorized {
		c.logger.Warn("backend rejected session token", "op", op)
		return session.ErrUnauthorized
	}
	if resp.IsError() {
		return fmt.Errorf("%s: backend returned %s", op, resp.Status())
	}
	return nil
}
