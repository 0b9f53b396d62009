package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	config "CordProject/global/config"
	"CordProject/service/model"
	"CordProject/service/transport"
	"CordProject/tools/errs"
	"CordProject/tools/ids"
)

// bulkDeleteMaxAge: messages older than this cannot be bulk deleted.
const bulkDeleteMaxAge = 14 * 24 * time.Hour

// API is the typed REST surface the core needs. Per-endpoint convenience
// wrappers beyond this set are mechanical and live with the caller.
type API struct {
	cfg *config.ClientConfig
	gov *Governor
}

func NewAPI(cfg *config.ClientConfig, gov *Governor) *API {
	return &API{cfg: cfg, gov: gov}
}

func (a *API) Governor() *Governor { return a.gov }

// GatewayBot is the /gateway/bot response: connect URL, recommended shard
// count, and the identify quota window.
type GatewayBot struct {
	URL    string `json:"url"`
	Shards int    `json:"shards"`
	SessionStartLimit struct {
		Total      int `json:"total"`
		Remaining  int `json:"remaining"`
		ResetAfter int `json:"reset_after"`
	} `json:"session_start_limit"`
}

func (a *API) GetGatewayBot(ctx context.Context) (*GatewayBot, error) {
	out := &GatewayBot{}
	if err := a.getJSON(ctx, "/gateway/bot", out); err != nil {
		return nil, err
	}
	return out, nil
}

// ---- channels ----

func (a *API) GetChannel(ctx context.Context, channelID string) (*model.Channel, error) {
	out := &model.Channel{}
	if err := a.getJSON(ctx, "/channels/"+channelID, out); err != nil {
		return nil, err
	}
	return out, nil
}

type ChannelEdit struct {
	Name      *string `json:"name,omitempty"`
	Topic     *string `json:"topic,omitempty"`
	Position  *int    `json:"position,omitempty"`
	NSFW      *bool   `json:"nsfw,omitempty"`
	Bitrate   *int    `json:"bitrate,omitempty"`
	UserLimit *int    `json:"user_limit,omitempty"`
}

func (a *API) EditChannel(ctx context.Context, channelID string, edit *ChannelEdit, reason string) (*model.Channel, error) {
	out := &model.Channel{}
	if err := a.doJSON(ctx, http.MethodPatch, "/channels/"+channelID, edit, reason, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) DeleteChannel(ctx context.Context, channelID, reason string) error {
	return a.doJSON(ctx, http.MethodDelete, "/channels/"+channelID, nil, reason, nil)
}

type ChannelCreate struct {
	Name     string `json:"name"`
	Type     int    `json:"type,omitempty"`
	Topic    string `json:"topic,omitempty"`
	ParentID string `json:"parent_id,omitempty"`
}

func (a *API) CreateGuildChannel(ctx context.Context, guildID string, create *ChannelCreate, reason string) (*model.Channel, error) {
	out := &model.Channel{}
	if err := a.doJSON(ctx, http.MethodPost, "/guilds/"+guildID+"/channels", create, reason, out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateDM opens (or reuses) the DM channel with a user.
func (a *API) CreateDM(ctx context.Context, recipientID string) (*model.Channel, error) {
	out := &model.Channel{}
	body := map[string]string{"recipient_id": recipientID}
	if err := a.doJSON(ctx, http.MethodPost, "/users/@me/channels", body, "", out); err != nil {
		return nil, err
	}
	return out, nil
}

// ---- guilds ----

func (a *API) GetGuild(ctx context.Context, guildID string) (*model.Guild, error) {
	out := &model.Guild{}
	if err := a.getJSON(ctx, "/guilds/"+guildID, out); err != nil {
		return nil, err
	}
	return out, nil
}

type GuildEdit struct {
	Name   *string `json:"name,omitempty"`
	Region *string `json:"region,omitempty"`
}

func (a *API) EditGuild(ctx context.Context, guildID string, edit *GuildEdit, reason string) (*model.Guild, error) {
	out := &model.Guild{}
	if err := a.doJSON(ctx, http.MethodPatch, "/guilds/"+guildID, edit, reason, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) LeaveGuild(ctx context.Context, guildID string) error {
	return a.doJSON(ctx, http.MethodDelete, "/users/@me/guilds/"+guildID, nil, "", nil)
}

// ---- roles ----

type RoleEdit struct {
	Name        *string `json:"name,omitempty"`
	Color       *int    `json:"color,omitempty"`
	Hoist       *bool   `json:"hoist,omitempty"`
	Permissions *int64  `json:"permissions,omitempty,string"`
	Mentionable *bool   `json:"mentionable,omitempty"`
}

func (a *API) CreateRole(ctx context.Context, guildID string, edit *RoleEdit, reason string) (*model.Role, error) {
	out := &model.Role{}
	if err := a.doJSON(ctx, http.MethodPost, "/guilds/"+guildID+"/roles", edit, reason, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) EditRole(ctx context.Context, guildID, roleID string, edit *RoleEdit, reason string) (*model.Role, error) {
	out := &model.Role{}
	if err := a.doJSON(ctx, http.MethodPatch, "/guilds/"+guildID+"/roles/"+roleID, edit, reason, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) DeleteRole(ctx context.Context, guildID, roleID, reason string) error {
	return a.doJSON(ctx, http.MethodDelete, "/guilds/"+guildID+"/roles/"+roleID, nil, reason, nil)
}

// ---- messages ----

type MessageSend struct {
	Content string `json:"content,omitempty"`
	TTS     bool   `json:"tts,omitempty"`
	Nonce   string `json:"nonce,omitempty"`
}

func (a *API) CreateMessage(ctx context.Context, channelID string, send *MessageSend) (*model.Message, error) {
	out := &model.Message{}
	if err := a.doJSON(ctx, http.MethodPost, "/channels/"+channelID+"/messages", send, "", out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateMessageWithFiles sends content plus attachments as multipart.
func (a *API) CreateMessageWithFiles(ctx context.Context, channelID string, send *MessageSend, files []transport.UploadFile) (*model.Message, error) {
	payload, err := json.Marshal(send)
	if err != nil {
		return nil, errs.Wrap(err)
	}
	body, contentType, err := transport.BuildMultipart(payload, files)
	if err != nil {
		return nil, errs.Wrap(err)
	}
	resp, err := a.gov.Do(ctx, &Request{
		Method:      http.MethodPost,
		Path:        "/channels/" + channelID + "/messages",
		ContentType: contentType,
		Body:        body,
	})
	if err != nil {
		return nil, err
	}
	out := &model.Message{}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return nil, errs.ErrProtocol.WrapMsg("decode message", "err", err)
	}
	return out, nil
}

func (a *API) EditMessage(ctx context.Context, channelID, messageID, content string) (*model.Message, error) {
	out := &model.Message{}
	body := map[string]string{"content": content}
	if err := a.doJSON(ctx, http.MethodPatch, "/channels/"+channelID+"/messages/"+messageID, body, "", out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) DeleteMessage(ctx context.Context, channelID, messageID, reason string) error {
	return a.doJSON(ctx, http.MethodDelete, "/channels/"+channelID+"/messages/"+messageID, nil, reason, nil)
}

// BulkDeleteMessages removes up to 100 messages at once. Any id older than
// 14 days fails the whole call before anything goes on the wire.
func (a *API) BulkDeleteMessages(ctx context.Context, channelID string, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	now := a.cfg.Clock()
	for _, mid := range messageIDs {
		id, err := ids.ParseString(mid)
		if err != nil {
			return errs.ErrProtocol.WrapMsg("bad message id", "id", mid)
		}
		if ids.OlderThan(id, bulkDeleteMaxAge, now) {
			return errs.ErrAgeRestricted.WrapMsg("", "id", mid, "created", ids.Timestamp(id).Format(time.RFC3339))
		}
	}
	if len(messageIDs) == 1 {
		return a.DeleteMessage(ctx, channelID, messageIDs[0], "")
	}
	body := map[string][]string{"messages": messageIDs}
	return a.doJSON(ctx, http.MethodPost, "/channels/"+channelID+"/messages/bulk-delete", body, "", nil)
}

// ---- invites ----

func (a *API) CreateInvite(ctx context.Context, channelID string, maxAge, maxUses int, reason string) (*model.Invite, error) {
	out := &model.Invite{}
	body := map[string]int{"max_age": maxAge, "max_uses": maxUses}
	if err := a.doJSON(ctx, http.MethodPost, "/channels/"+channelID+"/invites", body, reason, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) DeleteInvite(ctx context.Context, code, reason string) error {
	return a.doJSON(ctx, http.MethodDelete, "/invites/"+code, nil, reason, nil)
}

// ---- webhooks ----

func (a *API) CreateWebhook(ctx context.Context, channelID, name, reason string) (*model.Webhook, error) {
	out := &model.Webhook{}
	body := map[string]string{"name": name}
	if err := a.doJSON(ctx, http.MethodPost, "/channels/"+channelID+"/webhooks", body, reason, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ExecuteWebhook posts through a webhook; files ride along as multipart.
func (a *API) ExecuteWebhook(ctx context.Context, webhookID, token string, send *MessageSend, files []transport.UploadFile) error {
	path := "/webhooks/" + webhookID + "/" + token
	if len(files) == 0 {
		return a.doJSON(ctx, http.MethodPost, path, send, "", nil)
	}
	payload, err := json.Marshal(send)
	if err != nil {
		return errs.Wrap(err)
	}
	body, contentType, err := transport.BuildMultipart(payload, files)
	if err != nil {
		return errs.Wrap(err)
	}
	_, err = a.gov.Do(ctx, &Request{
		Method:      http.MethodPost,
		Path:        path,
		ContentType: contentType,
		Body:        body,
	})
	return err
}

// ---- plumbing ----

func (a *API) getJSON(ctx context.Context, path string, out any) error {
	return a.doJSON(ctx, http.MethodGet, path, nil, "", out)
}

func (a *API) doJSON(ctx context.Context, method, path string, in any, reason string, out any) error {
	req := &Request{Method: method, Path: path, AuditReason: reason}
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return errs.Wrap(err)
		}
		req.Body = b
		req.ContentType = "application/json"
	}
	resp, err := a.gov.Do(ctx, req)
	if err != nil {
		return err
	}
	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return errs.ErrProtocol.WrapMsg("decode response", "path", path, "err", err)
	}
	return nil
}
