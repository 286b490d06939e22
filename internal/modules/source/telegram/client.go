package telegram

import (
	"context"
	"iter"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	msgdomain "github.com/reshetovitsme/tg-vault-export/internal/modules/message/domain"
	"github.com/reshetovitsme/tg-vault-export/internal/modules/source"
	apperrors "github.com/reshetovitsme/tg-vault-export/internal/shared/errors"
	"github.com/samber/oops"
)

// accessDeniedCodes are the RPC error types that mean the account cannot read
// the requested entity at all; retrying will not help.
var accessDeniedCodes = []string{
	"CHANNEL_PRIVATE",
	"CHANNEL_INVALID",
	"CHAT_ADMIN_REQUIRED",
	"USER_NOT_PARTICIPANT",
	"AUTH_KEY_UNREGISTERED",
}

// Options configures the MTProto client.
type Options struct {
	APIID        int
	APIHash      string
	PhoneNumber  string
	SessionFile  string
	BatchSize    int
	RequestDelay time.Duration
}

// Client is the MTProto implementation of source.Source. History iteration is
// sequential; FetchMedia is safe to call concurrently.
type Client struct {
	opts   Options
	client *telegram.Client
	api    *tg.Client
	dl     *downloader.Downloader
	reg    *locationRegistry
	log    *slog.Logger

	mu    sync.Mutex
	peers map[int64]tg.InputPeerClass
}

var _ source.Source = (*Client)(nil)

func NewClient(opts Options, log *slog.Logger) *Client {
	if opts.BatchSize < 1 {
		opts.BatchSize = 100
	}
	client := telegram.NewClient(opts.APIID, opts.APIHash, telegram.Options{
		SessionStorage: &session.FileStorage{Path: opts.SessionFile},
	})
	return &Client{
		opts:   opts,
		client: client,
		api:    client.API(),
		dl:     downloader.NewDownloader(),
		reg:    newLocationRegistry(),
		log:    log.With(slog.String("item", "TelegramSource")),
		peers:  make(map[int64]tg.InputPeerClass),
	}
}

// Run connects, authorizes if the session file holds no valid session, and
// invokes f while the connection is alive. The connection closes when f
// returns.
func (c *Client) Run(ctx context.Context, f func(ctx context.Context) error) error {
	return c.client.Run(ctx, func(ctx context.Context) error {
		flow := auth.NewFlow(newTerminalAuth(c.opts.PhoneNumber), auth.SendCodeOptions{})
		if err := c.client.Auth().IfNecessary(ctx, flow); err != nil {
			return oops.With("context", "authorization failed").Wrap(err)
		}
		self, err := c.client.Self(ctx)
		if err != nil {
			return oops.With("context", "failed to fetch own account").Wrap(err)
		}
		c.log.Info("Connected to Telegram", slog.Int64("user_id", self.ID))
		return f(ctx)
	})
}

// Resolve maps "me", an @username, a t.me link or a numeric ID to an entity.
// Numeric IDs are looked up in the account's dialog list since bare IDs carry
// no access hash.
func (c *Client) Resolve(ctx context.Context, identifier string) (source.Entity, error) {
	ident := strings.TrimSpace(identifier)
	ident = strings.TrimPrefix(ident, "https://t.me/")
	ident = strings.TrimPrefix(ident, "t.me/")
	ident = strings.TrimPrefix(ident, "@")

	if ident == "me" {
		return c.resolveSelf(ctx)
	}
	if id, err := strconv.ParseInt(ident, 10, 64); err == nil {
		return c.resolveByID(ctx, id)
	}
	return c.resolveUsername(ctx, ident)
}

func (c *Client) resolveSelf(ctx context.Context) (source.Entity, error) {
	self, err := c.client.Self(ctx)
	if err != nil {
		return source.Entity{}, c.mapRPCError(err, "failed to resolve own account")
	}
	c.putPeer(self.ID, &tg.InputPeerSelf{})
	return source.Entity{ID: self.ID, Name: userName(self), Type: "user"}, nil
}

func (c *Client) resolveUsername(ctx context.Context, username string) (source.Entity, error) {
	resolved, err := c.api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{
		Username: username,
	})
	if err != nil {
		if tgerr.Is(err, "USERNAME_NOT_OCCUPIED", "USERNAME_INVALID") {
			return source.Entity{}, oops.With("identifier", username).Wrap(apperrors.ErrUnknownEntity)
		}
		return source.Entity{}, c.mapRPCError(err, "failed to resolve username")
	}

	switch peer := resolved.Peer.(type) {
	case *tg.PeerChannel:
		for _, chat := range resolved.Chats {
			if ch, ok := chat.(*tg.Channel); ok && ch.ID == peer.ChannelID {
				c.putPeer(ch.ID, &tg.InputPeerChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash})
				return source.Entity{ID: ch.ID, Name: ch.Title, Type: "channel"}, nil
			}
		}
	case *tg.PeerUser:
		for _, u := range resolved.Users {
			if user, ok := u.(*tg.User); ok && user.ID == peer.UserID {
				c.putPeer(user.ID, &tg.InputPeerUser{UserID: user.ID, AccessHash: user.AccessHash})
				return source.Entity{ID: user.ID, Name: userName(user), Type: "user"}, nil
			}
		}
	}
	return source.Entity{}, oops.With("identifier", username).Wrap(apperrors.ErrUnknownEntity)
}

func (c *Client) resolveByID(ctx context.Context, id int64) (source.Entity, error) {
	dialogs, err := c.api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
		OffsetPeer: &tg.InputPeerEmpty{},
		Limit:      500,
	})
	if err != nil {
		return source.Entity{}, c.mapRPCError(err, "failed to list dialogs")
	}

	var chats []tg.ChatClass
	var users []tg.UserClass
	switch d := dialogs.(type) {
	case *tg.MessagesDialogs:
		chats, users = d.Chats, d.Users
	case *tg.MessagesDialogsSlice:
		chats, users = d.Chats, d.Users
	}

	for _, chat := range chats {
		switch ch := chat.(type) {
		case *tg.Channel:
			if ch.ID == id {
				c.putPeer(ch.ID, &tg.InputPeerChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash})
				return source.Entity{ID: ch.ID, Name: ch.Title, Type: "channel"}, nil
			}
		case *tg.Chat:
			if ch.ID == id {
				c.putPeer(ch.ID, &tg.InputPeerChat{ChatID: ch.ID})
				return source.Entity{ID: ch.ID, Name: ch.Title, Type: "chat"}, nil
			}
		}
	}
	for _, u := range users {
		if user, ok := u.(*tg.User); ok && user.ID == id {
			c.putPeer(user.ID, &tg.InputPeerUser{UserID: user.ID, AccessHash: user.AccessHash})
			return source.Entity{ID: user.ID, Name: userName(user), Type: "user"}, nil
		}
	}
	return source.Entity{}, oops.With("entity_id", id).Wrap(apperrors.ErrUnknownEntity)
}

// Messages pages the entity's history in ascending ID order starting after
// minID. Service records are dropped and grouped media is merged into one
// logical message per album.
func (c *Client) Messages(ctx context.Context, entity source.Entity, minID int64) iter.Seq2[msgdomain.Message, error] {
	return func(yield func(msgdomain.Message, error) bool) {
		peer, ok := c.getPeer(entity.ID)
		if !ok {
			yield(msgdomain.Message{}, oops.With("entity_id", entity.ID).Wrap(apperrors.ErrUnknownEntity))
			return
		}

		var albums albumAggregator
		cursor := int(minID)
		for {
			batch, err := c.historyPage(ctx, peer, cursor)
			if err != nil {
				yield(msgdomain.Message{}, err)
				return
			}
			if len(batch) == 0 {
				break
			}

			for _, raw := range batch {
				msg, ok := raw.(*tg.Message)
				if !ok {
					continue
				}
				mapped, groupedID := mapMessage(c.reg, msg)
				if flushed, ok := albums.add(mapped, groupedID); ok {
					if !yield(flushed, nil) {
						return
					}
				}
			}
			cursor = batch[len(batch)-1].GetID()

			if c.opts.RequestDelay > 0 {
				select {
				case <-ctx.Done():
					yield(msgdomain.Message{}, ctx.Err())
					return
				case <-time.After(c.opts.RequestDelay):
				}
			}
		}

		if last, ok := albums.flush(); ok {
			yield(last, nil)
		}
	}
}

// historyPage fetches the next ascending page after cursor. The anchor is
// cursor+1 with a negative AddOffset, which asks for the window of messages
// newer than the cursor; anchoring at 0 would pin to the newest message and
// return an empty first page on a fresh export. The server still returns
// pages newest first, so the page is reversed before use.
func (c *Client) historyPage(ctx context.Context, peer tg.InputPeerClass, cursor int) ([]tg.MessageClass, error) {
	limit := c.opts.BatchSize
	res, err := c.api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:      peer,
		OffsetID:  cursor + 1,
		AddOffset: -limit,
		Limit:     limit,
		MinID:     cursor,
	})
	if err != nil {
		return nil, c.mapRPCError(err, "failed to fetch history page")
	}

	var raw []tg.MessageClass
	switch h := res.(type) {
	case *tg.MessagesChannelMessages:
		raw = h.Messages
	case *tg.MessagesMessagesSlice:
		raw = h.Messages
	case *tg.MessagesMessages:
		raw = h.Messages
	default:
		return nil, oops.With("type", res.TypeName()).Errorf("unexpected history response")
	}

	page := make([]tg.MessageClass, len(raw))
	for i, m := range raw {
		page[len(raw)-1-i] = m
	}
	return page, nil
}

// FetchMedia downloads the raw payload of ref into path using the location
// registered while mapping the owning message.
func (c *Client) FetchMedia(ctx context.Context, ref msgdomain.MediaReference, path string) error {
	loc, ok := c.reg.get(ref.ID)
	if !ok {
		return oops.With("media_id", ref.ID, "context", "no download location registered").Wrap(apperrors.ErrDownloadFailed)
	}
	if _, err := c.dl.Download(c.api, loc).ToPath(ctx, path); err != nil {
		return c.mapRPCError(err, "media download failed")
	}
	return nil
}

// mapRPCError folds RPC failures into the shared error taxonomy.
func (c *Client) mapRPCError(err error, msg string) error {
	if wait, ok := tgerr.AsFloodWait(err); ok {
		return oops.With("retry_after", wait, "context", msg).Wrap(apperrors.ErrSourceRateLimited)
	}
	if tgerr.Is(err, accessDeniedCodes...) {
		return oops.With("context", msg).Wrap(apperrors.ErrSourceAccessDenied)
	}
	return oops.With("context", msg).Wrap(err)
}

func (c *Client) putPeer(id int64, peer tg.InputPeerClass) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.peers[id] = peer
}

func (c *Client) getPeer(id int64) (tg.InputPeerClass, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	peer, ok := c.peers[id]
	return peer, ok
}

func userName(u *tg.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.Username
	}
	return name
}
