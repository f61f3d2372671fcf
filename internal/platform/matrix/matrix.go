// ABOUTME: Matrix adapter built on mautrix
// ABOUTME: Maps guilds to spaces, roles to rooms and admins to power levels, and routes sync events to flows

// Package matrix connects policebot to Matrix.
//
// Matrix has no guilds or roles, so the adapter maps them onto rooms:
//   - a room's guild is its space parent, or the room itself outside a space
//   - a role is a room, and granting it invites the member there
//   - an admin is anyone at or above the configured power level in the room
//   - private messages use a direct chat room recorded in m.direct
package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/policebot/internal/commands"
	"github.com/2389/policebot/internal/config"
	"github.com/2389/policebot/internal/gatekeeper"
	"github.com/2389/policebot/internal/notice"
	"github.com/2389/policebot/internal/platform"
)

// networkTimeout is the timeout for Matrix API calls made outside a flow.
const networkTimeout = 10 * time.Second

// shutdownGrace bounds how long Run waits for in-flight commands after cancellation.
const shutdownGrace = 5 * time.Second

const (
	guildCacheTTL = 10 * time.Minute
	seenEventTTL  = 10 * time.Minute
)

// roomRefPattern matches room ids (!id:server) and aliases (#alias:server).
var roomRefPattern = regexp.MustCompile(`[!#][A-Za-z0-9._=+\-]+:[A-Za-z0-9.\-]+(?::\d+)?`)

// ErrForeignRoom is returned when a role room belongs to a different guild.
var ErrForeignRoom = errors.New("room is outside the guild")

// roomGuild is the guild a room belongs to.
type roomGuild struct {
	ID   string
	Name string
}

// Bot is a Matrix chat platform.
type Bot struct {
	cfg     config.MatrixConfig
	dataDir string
	client  *mautrix.Client
	logger  *slog.Logger

	conv    *platform.Conversations
	handler platform.Handler
	crypto  *CryptoManager

	directMu    sync.RWMutex
	directRooms map[id.RoomID]id.UserID // private rooms and who they are with
	dmRooms     map[id.UserID]id.RoomID // room used to message each user
	dmCreate    singleflight.Group

	guilds *cache.Cache // room id -> roomGuild
	seen   *cache.Cache // handled event ids

	// Lookups that hit the homeserver, replaced in tests
	resolveGuild func(ctx context.Context, room id.RoomID) roomGuild
	powerLevel   func(ctx context.Context, room id.RoomID, user id.UserID) (int, error)
	resolveAlias func(ctx context.Context, alias id.RoomAlias) (id.RoomID, error)
	hasChild     func(ctx context.Context, space, room id.RoomID) bool

	startedAt time.Time
	ctx       context.Context
	wg        sync.WaitGroup
}

// New creates a Matrix bot. dataDir holds the encryption store. Call SetHandler before Run.
func New(cfg config.MatrixConfig, dataDir string, logger *slog.Logger) (*Bot, error) {
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}

	b := &Bot{
		cfg:         cfg,
		dataDir:     dataDir,
		client:      client,
		logger:      logger.With("component", "matrix"),
		conv:        platform.NewConversations(),
		directRooms: make(map[id.RoomID]id.UserID),
		dmRooms:     make(map[id.UserID]id.RoomID),
		guilds:      cache.New(guildCacheTTL, guildCacheTTL),
		seen:        cache.New(seenEventTTL, seenEventTTL),
		ctx:         context.Background(),
	}
	b.resolveGuild = b.lookupGuild
	b.powerLevel = b.lookupPowerLevel
	b.hasChild = b.spaceHasChild
	b.resolveAlias = func(ctx context.Context, alias id.RoomAlias) (id.RoomID, error) {
		resp, err := client.ResolveAlias(ctx, alias)
		if err != nil {
			return "", err
		}
		return resp.RoomID, nil
	}
	return b, nil
}

// SetHandler sets where commands are sent.
func (b *Bot) SetHandler(h platform.Handler) {
	b.handler = h
}

// Login authenticates with the homeserver: an access token is checked with
// whoami, otherwise the configured username and password log in.
func (b *Bot) Login(ctx context.Context) error {
	if b.cfg.AccessToken != "" {
		resp, err := b.client.Whoami(ctx)
		if err != nil {
			return fmt.Errorf("checking access token: %w", err)
		}
		b.client.UserID = resp.UserID
		b.client.DeviceID = resp.DeviceID
		b.logger.Info("using access token", "user_id", resp.UserID, "device_id", resp.DeviceID)
		return nil
	}

	resp, err := b.client.Login(ctx, &mautrix.ReqLogin{
		Type: mautrix.AuthTypePassword,
		Identifier: mautrix.UserIdentifier{
			Type: mautrix.IdentifierTypeUser,
			User: b.cfg.Username,
		},
		Password:                 b.cfg.Password,
		InitialDeviceDisplayName: "policebot",
		StoreCredentials:         true,
	})
	if err != nil {
		return fmt.Errorf("password login: %w", err)
	}
	b.logger.Info("logged in", "user_id", resp.UserID, "device_id", resp.DeviceID)
	return nil
}

// Run logs in, sets up encryption when a recovery key is configured, and
// syncs until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	if b.handler == nil {
		return errors.New("matrix: no command handler set")
	}

	b.logger.Info("starting matrix bot", "homeserver", b.cfg.Homeserver)

	if err := b.Login(ctx); err != nil {
		return fmt.Errorf("matrix login: %w", err)
	}

	if b.cfg.RecoveryKey != "" {
		cm, err := SetupCrypto(ctx, b.client, b.cfg.RecoveryKey, b.dataDir, b.logger)
		if err != nil {
			return fmt.Errorf("setting up encryption: %w", err)
		}
		b.crypto = cm
		defer cm.Close()
	} else {
		b.logger.Info("encryption disabled (no recovery key)")
	}

	b.loadDirectRooms(ctx)

	syncer, ok := b.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", b.client.Syncer)
	}
	syncer.OnEventType(event.EventMessage, b.handleMessageEvent)
	syncer.OnEventType(event.StateMember, b.handleMemberEvent)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	b.ctx = runCtx
	b.startedAt = time.Now()

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- b.client.SyncWithContext(runCtx)
	}()

	b.logger.Info("matrix bot running", "user_id", b.client.UserID)

	select {
	case <-ctx.Done():
		b.logger.Info("shutting down matrix bot")
		cancel()
		b.waitForCommands()
		return nil
	case err := <-syncErr:
		cancel()
		b.waitForCommands()
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("matrix sync failed: %w", err)
	}
}

// waitForCommands waits for in-flight commands to notice cancellation.
func (b *Bot) waitForCommands() {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		b.logger.Warn("commands still running at shutdown")
	}
}

// handleMemberEvent joins rooms the bot is invited to.
func (b *Bot) handleMemberEvent(ctx context.Context, evt *event.Event) {
	content, ok := evt.Content.Parsed.(*event.MemberEventContent)
	if !ok || content.Membership != event.MembershipInvite {
		return
	}
	if evt.GetStateKey() != b.client.UserID.String() {
		return
	}

	if !content.IsDirect && !b.isRoomAllowed(evt.RoomID.String()) {
		b.logger.Debug("ignoring invite to non-allowed room", "room", evt.RoomID)
		return
	}

	joinCtx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()
	if _, err := b.client.JoinRoomByID(joinCtx, evt.RoomID); err != nil {
		b.logger.Warn("failed to join room", "room", evt.RoomID, "error", err)
		return
	}
	b.logger.Info("joined room", "room", evt.RoomID, "inviter", evt.Sender, "direct", content.IsDirect)

	if content.IsDirect {
		b.rememberDirect(joinCtx, evt.RoomID, evt.Sender)
	}
}

// handleMessageEvent filters sync noise and routes text messages.
func (b *Bot) handleMessageEvent(ctx context.Context, evt *event.Event) {
	if evt.Sender == b.client.UserID {
		return
	}

	// Initial sync replays history; only messages sent while running count
	if time.UnixMilli(evt.Timestamp).Before(b.startedAt) {
		return
	}

	if err := b.seen.Add(evt.ID.String(), struct{}{}, cache.DefaultExpiration); err != nil {
		b.logger.Debug("skipping duplicate event", "event", evt.ID)
		return
	}

	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || content.MsgType != event.MsgText {
		return
	}

	b.route(b.ctx, evt, content)
}

// route hands a message to a waiting flow or, if it is a command, to the handler.
func (b *Bot) route(ctx context.Context, evt *event.Event, content *event.MessageEventContent) {
	room := evt.RoomID
	private := b.isDirect(room)
	if !private && !b.isRoomAllowed(room.String()) {
		b.logger.Debug("ignoring message from non-allowed room", "room", room)
		return
	}

	msg := &gatekeeper.Message{
		ID:        evt.ID.String(),
		ChannelID: room.String(),
		AuthorID:  evt.Sender.String(),
		Content:   strings.TrimSpace(content.Body),
	}

	if b.conv.Waiting(msg, private) {
		if !private {
			guild := b.resolveGuild(ctx, room)
			rooms := b.inGuild(ctx, guild.ID, b.resolveRooms(ctx, roomRefs(content)))
			msg.RoleMentions = rooms
			msg.ChannelMentions = rooms
		}
		if b.conv.Deliver(msg, private) {
			return
		}
	}

	name, ok := b.handler.Parse(msg.Content)
	if !ok {
		return
	}

	inv := commands.Invocation{
		ChannelID:   room.String(),
		MessageID:   evt.ID.String(),
		UserID:      evt.Sender.String(),
		UserName:    displayName(evt.Sender),
		UserMention: mention(evt.Sender.String()),
		Content:     msg.Content,
	}
	if !private {
		guild := b.resolveGuild(ctx, room)
		inv.GuildID = guild.ID
		inv.GuildName = guild.Name
		if platform.NeedsAdmin(name) {
			inv.IsAdmin = b.isAdmin(ctx, room, evt.Sender)
		}
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.handler.Handle(ctx, inv)
	}()
}

// isRoomAllowed checks if the room is in the allowed list.
func (b *Bot) isRoomAllowed(roomID string) bool {
	if len(b.cfg.AllowedRooms) == 0 {
		return true
	}
	return slices.Contains(b.cfg.AllowedRooms, roomID)
}

// isAdmin reports whether user's power level in room reaches the admin threshold.
func (b *Bot) isAdmin(ctx context.Context, room id.RoomID, user id.UserID) bool {
	level, err := b.powerLevel(ctx, room, user)
	if err != nil {
		b.logger.Warn("failed to read power levels", "room", room, "user", user, "error", err)
		return false
	}
	return level >= b.cfg.AdminPowerLevel
}

func (b *Bot) lookupPowerLevel(ctx context.Context, room id.RoomID, user id.UserID) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()

	var levels event.PowerLevelsEventContent
	if err := b.client.StateEvent(ctx, room, event.StatePowerLevels, "", &levels); err != nil {
		return 0, fmt.Errorf("fetching power levels: %w", err)
	}
	return levels.GetUserLevel(user), nil
}

// lookupGuild resolves a room's space parent and display name, caching the result.
func (b *Bot) lookupGuild(ctx context.Context, room id.RoomID) roomGuild {
	if cached, ok := b.guilds.Get(room.String()); ok {
		return cached.(roomGuild)
	}

	ctx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()

	guildRoom := room
	state, err := b.client.State(ctx, room)
	if err != nil {
		b.logger.Debug("failed to fetch room state", "room", room, "error", err)
	} else if parent := spaceParent(state, func(space id.RoomID) bool {
		return b.hasChild(ctx, space, room)
	}); parent != "" {
		guildRoom = parent
	}

	guild := roomGuild{ID: guildRoom.String(), Name: b.roomName(ctx, guildRoom)}
	b.guilds.SetDefault(room.String(), guild)
	return guild
}

func (b *Bot) roomName(ctx context.Context, room id.RoomID) string {
	var content event.RoomNameEventContent
	if err := b.client.StateEvent(ctx, room, event.StateRoomName, "", &content); err == nil && content.Name != "" {
		return content.Name
	}
	return room.String()
}

// spaceParent picks the room's parent space: a canonical parent if there is
// one, otherwise the lowest room id. Links without "via" servers are removed ones.
// A parent only counts if isChild confirms the space lists the room back.
func spaceParent(state mautrix.RoomStateMap, isChild func(space id.RoomID) bool) id.RoomID {
	var canonical, others []string
	for stateKey, evt := range state[event.StateSpaceParent] {
		if evt == nil {
			continue
		}
		via, _ := evt.Content.Raw["via"].([]interface{})
		if len(via) == 0 {
			continue
		}
		if isCanonical, _ := evt.Content.Raw["canonical"].(bool); isCanonical {
			canonical = append(canonical, stateKey)
		} else {
			others = append(others, stateKey)
		}
	}
	sort.Strings(canonical)
	sort.Strings(others)
	for _, parent := range append(canonical, others...) {
		if isChild(id.RoomID(parent)) {
			return id.RoomID(parent)
		}
	}
	return ""
}

// spaceHasChild reports whether space carries a live m.space.child link to room.
func (b *Bot) spaceHasChild(ctx context.Context, space, room id.RoomID) bool {
	var child event.SpaceChildEventContent
	if err := b.client.StateEvent(ctx, space, event.StateSpaceChild, room.String(), &child); err != nil {
		b.logger.Debug("space does not list room", "space", space, "room", room, "error", err)
		return false
	}
	return len(child.Via) > 0
}

// inGuild keeps the rooms that belong to guildID.
func (b *Bot) inGuild(ctx context.Context, guildID string, rooms []string) []string {
	kept := make([]string, 0, len(rooms))
	for _, r := range rooms {
		if b.resolveGuild(ctx, id.RoomID(r)).ID != guildID {
			b.logger.Debug("dropping room from another guild", "room", r, "guild", guildID)
			continue
		}
		kept = append(kept, r)
	}
	return kept
}

// roomRefs lists the room ids and aliases mentioned in a message, including
// matrix.to links in the formatted body.
func roomRefs(content *event.MessageEventContent) []string {
	text := content.Body
	if content.FormattedBody != "" {
		formatted := content.FormattedBody
		if decoded, err := url.PathUnescape(formatted); err == nil {
			formatted = decoded
		}
		text += " " + formatted
	}
	return roomRefPattern.FindAllString(text, -1)
}

// resolveRooms turns room references into room ids, dropping aliases that do not resolve.
func (b *Bot) resolveRooms(ctx context.Context, refs []string) []string {
	rooms := make([]string, 0, len(refs))
	for _, ref := range refs {
		if strings.HasPrefix(ref, "!") {
			rooms = append(rooms, ref)
			continue
		}
		roomID, err := b.resolveAlias(ctx, id.RoomAlias(ref))
		if err != nil {
			b.logger.Debug("failed to resolve alias", "alias", ref, "error", err)
			continue
		}
		rooms = append(rooms, roomID.String())
	}
	return gatekeeper.UniqueIDs(rooms)
}

// isDirect reports whether room is a private chat with one user.
func (b *Bot) isDirect(room id.RoomID) bool {
	b.directMu.RLock()
	defer b.directMu.RUnlock()
	_, ok := b.directRooms[room]
	return ok
}

// loadDirectRooms reads the account's m.direct mapping.
func (b *Bot) loadDirectRooms(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()

	var direct event.DirectChatsEventContent
	if err := b.client.GetAccountData(ctx, event.AccountDataDirectChats.Type, &direct); err != nil {
		b.logger.Debug("no direct chats loaded", "error", err)
		return
	}

	b.directMu.Lock()
	defer b.directMu.Unlock()
	for user, rooms := range direct {
		for _, room := range rooms {
			b.directRooms[room] = user
		}
		if len(rooms) > 0 {
			b.dmRooms[user] = rooms[len(rooms)-1]
		}
	}
	b.logger.Info("loaded direct chats", "users", len(direct))
}

// rememberDirect records room as the private chat with user and saves m.direct.
func (b *Bot) rememberDirect(ctx context.Context, room id.RoomID, user id.UserID) {
	b.directMu.Lock()
	b.directRooms[room] = user
	b.dmRooms[user] = room
	direct := make(event.DirectChatsEventContent)
	for r, u := range b.directRooms {
		direct[u] = append(direct[u], r)
	}
	b.directMu.Unlock()

	if err := b.client.SetAccountData(ctx, event.AccountDataDirectChats.Type, direct); err != nil {
		b.logger.Warn("failed to save direct chats", "error", err)
	}
}

// privateRoom returns the room used to message user, creating it on first use.
func (b *Bot) privateRoom(ctx context.Context, user id.UserID) (id.RoomID, error) {
	b.directMu.RLock()
	room, ok := b.dmRooms[user]
	b.directMu.RUnlock()
	if ok {
		return room, nil
	}

	v, err, _ := b.dmCreate.Do(user.String(), func() (interface{}, error) {
		req := &mautrix.ReqCreateRoom{
			Preset:   "trusted_private_chat",
			Invite:   []id.UserID{user},
			IsDirect: true,
		}
		if b.client.Crypto != nil {
			req.InitialState = []*event.Event{{
				Type:    event.StateEncryption,
				Content: event.Content{Parsed: &event.EncryptionEventContent{Algorithm: id.AlgorithmMegolmV1}},
			}}
		}
		resp, err := b.client.CreateRoom(ctx, req)
		if err != nil {
			if errors.Is(err, mautrix.MForbidden) {
				return nil, fmt.Errorf("creating private room with %s: %w", user, gatekeeper.ErrUndeliverable)
			}
			return nil, fmt.Errorf("creating private room: %w", err)
		}
		b.rememberDirect(ctx, resp.RoomID, user)
		b.logger.Info("created private room", "room", resp.RoomID, "user", user)
		return resp.RoomID, nil
	})
	if err != nil {
		return "", err
	}
	return v.(id.RoomID), nil
}

// send posts a notice as an m.notice with Markdown body and HTML formatting.
func (b *Bot) send(ctx context.Context, room id.RoomID, n notice.Notice) (id.EventID, error) {
	content := &event.MessageEventContent{
		MsgType: event.MsgNotice,
		Body:    n.Markdown(),
	}
	if html, err := n.HTML(); err == nil {
		content.Format = event.FormatHTML
		content.FormattedBody = html
	}

	resp, err := b.client.SendMessageEvent(ctx, room, event.EventMessage, content)
	if err != nil {
		return "", err
	}
	return resp.EventID, nil
}

// SendPrivate messages a user in their direct chat room.
func (b *Bot) SendPrivate(ctx context.Context, userID string, n notice.Notice) error {
	room, err := b.privateRoom(ctx, id.UserID(userID))
	if err != nil {
		return err
	}
	if _, err := b.send(ctx, room, n); err != nil {
		return fmt.Errorf("sending private message: %w", err)
	}
	return nil
}

// AwaitPrivateReply waits for the user's next message in their direct chat room.
func (b *Bot) AwaitPrivateReply(ctx context.Context, userID string, timeout time.Duration) (*gatekeeper.Message, error) {
	return b.conv.AwaitPrivate(ctx, userID, timeout)
}

// PostChannel posts a notice in a room.
func (b *Bot) PostChannel(ctx context.Context, channelID string, n notice.Notice) (string, error) {
	eventID, err := b.send(ctx, id.RoomID(channelID), n)
	if err != nil {
		return "", fmt.Errorf("posting to room %s: %w", channelID, err)
	}
	return eventID.String(), nil
}

// FetchMessage loads an event from a room.
func (b *Bot) FetchMessage(ctx context.Context, channelID, messageID string) (*gatekeeper.Message, error) {
	evt, err := b.client.GetEvent(ctx, id.RoomID(channelID), id.EventID(messageID))
	if err != nil {
		return nil, fmt.Errorf("fetching event %s: %w", messageID, err)
	}
	return &gatekeeper.Message{
		ID:        evt.ID.String(),
		ChannelID: evt.RoomID.String(),
		AuthorID:  evt.Sender.String(),
	}, nil
}

// DeleteMessage redacts an event.
func (b *Bot) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	if _, err := b.client.RedactEvent(ctx, id.RoomID(channelID), id.EventID(messageID)); err != nil {
		return fmt.Errorf("redacting event %s: %w", messageID, err)
	}
	return nil
}

// GrantRole invites the user to the room standing for roleID.
// Members already joined or invited are left alone. Rooms outside guildID are refused.
func (b *Bot) GrantRole(ctx context.Context, guildID, userID, roleID string) error {
	room := id.RoomID(roleID)
	user := id.UserID(userID)

	if got := b.resolveGuild(ctx, room).ID; got != guildID {
		return fmt.Errorf("inviting to %s: %w (room belongs to %s)", roleID, ErrForeignRoom, got)
	}

	var member event.MemberEventContent
	if err := b.client.StateEvent(ctx, room, event.StateMember, userID, &member); err == nil {
		if member.Membership == event.MembershipJoin || member.Membership == event.MembershipInvite {
			return nil
		}
	}

	if _, err := b.client.InviteUser(ctx, room, &mautrix.ReqInviteUser{UserID: user}); err != nil {
		return fmt.Errorf("inviting to %s: %w", roleID, err)
	}
	return nil
}

// Prompter asks in a room and waits for the user's answer there.
func (b *Bot) Prompter(channelID, userID string) gatekeeper.Prompter {
	return b.conv.Prompter(b, channelID, userID)
}

// MentionChannel links a room.
func (b *Bot) MentionChannel(channelID string) string {
	return mention(channelID)
}

// MentionRole links the room standing for a role.
func (b *Bot) MentionRole(roleID string) string {
	return mention(roleID)
}

// displayName is the user's localpart, or the full id if it does not parse.
func displayName(user id.UserID) string {
	localpart, _, err := user.Parse()
	if err != nil || localpart == "" {
		return user.String()
	}
	return localpart
}

// mention renders a matrix.to link, which clients show as a pill.
func mention(target string) string {
	return fmt.Sprintf("[%s](https://matrix.to/#/%s)", target, target)
}
