package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"chatbroker/internal/logging"
	"chatbroker/internal/models"
)

// RegisterBuiltinActions registers every canonical action type into reg.
func RegisterBuiltinActions(reg *Registry) {
	reg.RegisterAction("log_action", func() Action { return &logAction{} })
	reg.RegisterAction("discord_message", func() Action { return &discordMessageAction{} })
	reg.RegisterAction("discord_role_add", func() Action { return &discordRoleAction{add: true} })
	reg.RegisterAction("discord_role_remove", func() Action { return &discordRoleAction{add: false} })
	reg.RegisterAction("twitch_message", func() Action { return &twitchMessageAction{} })
	reg.RegisterAction("twitch_timeout", func() Action { return &twitchTimeoutAction{} })
	reg.RegisterAction("osc_trigger", func() Action { return &oscTriggerAction{} })
	reg.RegisterAction("obs_scene_change", func() Action { return &obsSceneChangeAction{} })
	reg.RegisterAction("obs_source_toggle", func() Action { return &obsSourceToggleAction{} })
	reg.RegisterAction("plugin_call", func() Action { return &pluginCallAction{} })
	reg.RegisterAction("ai_respond", func() Action { return &aiRespondAction{} })
}

// renderTemplate does {placeholder} substitution against the triggering
// ChatMessage, e.g. "hello {user}".
func renderTemplate(template string, actx *ActionContext) string {
	user, text, channel := "", "", ""
	if actx.Event.ChatMessage != nil {
		user = actx.Event.ChatMessage.User
		text = actx.Event.ChatMessage.Text
		channel = actx.Event.ChatMessage.Channel
	}
	r := strings.NewReplacer("{user}", user, "{text}", text, "{channel}", channel)
	return r.Replace(template)
}

// --- log_action ---

type logActionConfig struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

type logAction struct {
	cfg logActionConfig
}

func (a *logAction) Configure(raw json.RawMessage) error {
	if err := json.Unmarshal(raw, &a.cfg); err != nil {
		return fmt.Errorf("log_action: %w", err)
	}
	if a.cfg.Level == "" {
		a.cfg.Level = "info"
	}
	return nil
}

func (a *logAction) Execute(ctx context.Context, actx *ActionContext) ActionOutcome {
	if actx.Services == nil || actx.Services.Logger == nil {
		return ActionOutcome{}
	}
	msg := renderTemplate(a.cfg.Message, actx)
	entry := actx.Services.Logger.WithFields(logging.Fields{"execution_id": actx.ExecutionID})
	switch a.cfg.Level {
	case "warn":
		entry.Warn(msg)
	case "error":
		entry.Error(msg)
	default:
		entry.Info(msg)
	}
	return ActionOutcome{Output: map[string]any{"message": msg}}
}

// --- discord_message ---

type discordMessageConfig struct {
	Account  string `json:"account"`
	Channel  string `json:"channel"`
	Template string `json:"template"`
}

type discordMessageAction struct {
	cfg discordMessageConfig
}

func (a *discordMessageAction) Configure(raw json.RawMessage) error {
	if err := json.Unmarshal(raw, &a.cfg); err != nil {
		return fmt.Errorf("discord_message: %w", err)
	}
	return nil
}

func (a *discordMessageAction) Execute(ctx context.Context, actx *ActionContext) ActionOutcome {
	if actx.Services == nil || actx.Services.Platforms == nil {
		return ActionOutcome{Err: fmt.Errorf("discord_message: platform manager unavailable")}
	}
	text := renderTemplate(a.cfg.Template, actx)
	err := actx.Services.Platforms.SendMessage(ctx, models.PlatformDiscord, a.cfg.Account, a.cfg.Channel, text)
	return ActionOutcome{Output: map[string]any{"sent": text}, Err: err}
}

// --- discord_role_add / discord_role_remove ---

type discordRoleConfig struct {
	Account string `json:"account"` // bot credential's account key
	GuildID string `json:"guild_id"`
	RoleID  string `json:"role_id"`
	UserID  string `json:"user_id,omitempty"` // defaults to the triggering ChatMessage user
}

// discordRoleAction implements both discord_role_add and
// discord_role_remove; Discord's guild-member-role endpoints are
// PUT/DELETE on the same URL, differing only in HTTP method.
type discordRoleAction struct {
	add bool
	cfg discordRoleConfig
}

func (a *discordRoleAction) Configure(raw json.RawMessage) error {
	if err := json.Unmarshal(raw, &a.cfg); err != nil {
		return fmt.Errorf("discord_role: %w", err)
	}
	return nil
}

func (a *discordRoleAction) Execute(ctx context.Context, actx *ActionContext) ActionOutcome {
	if actx.Services == nil || actx.Services.Credentials == nil {
		return ActionOutcome{Err: fmt.Errorf("discord_role: credential store unavailable")}
	}
	userID := a.cfg.UserID
	if userID == "" && actx.Event.ChatMessage != nil {
		userID = actx.Event.ChatMessage.User
	}
	if userID == "" {
		return ActionOutcome{Err: fmt.Errorf("discord_role: no target user id")}
	}

	cred, err := actx.Services.Credentials.Get(ctx, models.PlatformDiscord, a.cfg.Account, models.CredentialOAuth2)
	if err != nil {
		return ActionOutcome{Err: fmt.Errorf("discord_role: load bot credential: %w", err)}
	}

	url := fmt.Sprintf("https://discord.com/api/v10/guilds/%s/members/%s/roles/%s", a.cfg.GuildID, userID, a.cfg.RoleID)
	method := http.MethodPut
	if !a.add {
		method = http.MethodDelete
	}
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return ActionOutcome{Err: fmt.Errorf("discord_role: build request: %w", err)}
	}
	req.Header.Set("Authorization", "Bot "+cred.Primary)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return ActionOutcome{Err: fmt.Errorf("discord_role: request failed: %w", err)}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return ActionOutcome{Err: fmt.Errorf("discord_role: status %d", resp.StatusCode)}
	}
	return ActionOutcome{Output: map[string]any{"user_id": userID, "role_id": a.cfg.RoleID}}
}

// --- twitch_message ---

type twitchMessageConfig struct {
	Account  string `json:"account"`
	Channel  string `json:"channel"`
	Template string `json:"template"`
}

type twitchMessageAction struct {
	cfg twitchMessageConfig
}

func (a *twitchMessageAction) Configure(raw json.RawMessage) error {
	if err := json.Unmarshal(raw, &a.cfg); err != nil {
		return fmt.Errorf("twitch_message: %w", err)
	}
	return nil
}

func (a *twitchMessageAction) Execute(ctx context.Context, actx *ActionContext) ActionOutcome {
	if actx.Services == nil || actx.Services.Platforms == nil {
		return ActionOutcome{Err: fmt.Errorf("twitch_message: platform manager unavailable")}
	}
	text := renderTemplate(a.cfg.Template, actx)
	err := actx.Services.Platforms.SendMessage(ctx, models.PlatformTwitchChat, a.cfg.Account, a.cfg.Channel, text)
	return ActionOutcome{Output: map[string]any{"sent": text}, Err: err}
}

// --- twitch_timeout ---

type twitchTimeoutConfig struct {
	Account string `json:"account"`
	Channel string `json:"channel"`
	Seconds int    `json:"seconds"`
	Reason  string `json:"reason"`
}

type twitchTimeoutAction struct {
	cfg twitchTimeoutConfig
}

func (a *twitchTimeoutAction) Configure(raw json.RawMessage) error {
	if err := json.Unmarshal(raw, &a.cfg); err != nil {
		return fmt.Errorf("twitch_timeout: %w", err)
	}
	return nil
}

func (a *twitchTimeoutAction) Execute(ctx context.Context, actx *ActionContext) ActionOutcome {
	if actx.Services == nil || actx.Services.Platforms == nil {
		return ActionOutcome{Err: fmt.Errorf("twitch_timeout: platform manager unavailable")}
	}
	if actx.Event.ChatMessage == nil {
		return ActionOutcome{Err: fmt.Errorf("twitch_timeout: no triggering chat message")}
	}
	cmd := fmt.Sprintf("/timeout %s %d %s", actx.Event.ChatMessage.User, a.cfg.Seconds, a.cfg.Reason)
	err := actx.Services.Platforms.SendMessage(ctx, models.PlatformTwitchChat, a.cfg.Account, a.cfg.Channel, cmd)
	return ActionOutcome{Output: map[string]any{"command": cmd}, Err: err}
}

// --- osc_trigger ---

type oscTriggerConfig struct {
	Account  string `json:"account"`
	Template string `json:"template"`
}

type oscTriggerAction struct {
	cfg oscTriggerConfig
}

func (a *oscTriggerAction) Configure(raw json.RawMessage) error {
	if err := json.Unmarshal(raw, &a.cfg); err != nil {
		return fmt.Errorf("osc_trigger: %w", err)
	}
	return nil
}

func (a *oscTriggerAction) Execute(ctx context.Context, actx *ActionContext) ActionOutcome {
	if actx.Services == nil || actx.Services.Platforms == nil {
		return ActionOutcome{Err: fmt.Errorf("osc_trigger: platform manager unavailable")}
	}
	text := renderTemplate(a.cfg.Template, actx)
	err := actx.Services.Platforms.SendMessage(ctx, models.PlatformVRChat, a.cfg.Account, "", text)
	return ActionOutcome{Output: map[string]any{"sent": text}, Err: err}
}

// --- obs_scene_change ---

type obsSceneChangeConfig struct {
	Account string `json:"account"`
	Scene   string `json:"scene"`
}

type obsSceneChangeAction struct {
	cfg obsSceneChangeConfig
}

func (a *obsSceneChangeAction) Configure(raw json.RawMessage) error {
	if err := json.Unmarshal(raw, &a.cfg); err != nil {
		return fmt.Errorf("obs_scene_change: %w", err)
	}
	return nil
}

func (a *obsSceneChangeAction) Execute(ctx context.Context, actx *ActionContext) ActionOutcome {
	if actx.Services == nil || actx.Services.Platforms == nil {
		return ActionOutcome{Err: fmt.Errorf("obs_scene_change: platform manager unavailable")}
	}
	data, _ := json.Marshal(map[string]string{"sceneName": a.cfg.Scene})
	err := actx.Services.Platforms.SendMessage(ctx, models.PlatformOBS, a.cfg.Account, "SetCurrentProgramScene", string(data))
	return ActionOutcome{Output: map[string]any{"scene": a.cfg.Scene}, Err: err}
}

// --- obs_source_toggle ---

type obsSourceToggleConfig struct {
	Account     string `json:"account"`
	Scene       string `json:"scene"`
	SceneItemID int    `json:"scene_item_id"`
	Enabled     bool   `json:"enabled"`
}

type obsSourceToggleAction struct {
	cfg obsSourceToggleConfig
}

func (a *obsSourceToggleAction) Configure(raw json.RawMessage) error {
	if err := json.Unmarshal(raw, &a.cfg); err != nil {
		return fmt.Errorf("obs_source_toggle: %w", err)
	}
	return nil
}

func (a *obsSourceToggleAction) Execute(ctx context.Context, actx *ActionContext) ActionOutcome {
	if actx.Services == nil || actx.Services.Platforms == nil {
		return ActionOutcome{Err: fmt.Errorf("obs_source_toggle: platform manager unavailable")}
	}
	data, _ := json.Marshal(map[string]any{
		"sceneName":        a.cfg.Scene,
		"sceneItemId":      a.cfg.SceneItemID,
		"sceneItemEnabled": a.cfg.Enabled,
	})
	err := actx.Services.Platforms.SendMessage(ctx, models.PlatformOBS, a.cfg.Account, "SetSceneItemEnabled", string(data))
	return ActionOutcome{Output: map[string]any{"scene_item_id": a.cfg.SceneItemID, "enabled": a.cfg.Enabled}, Err: err}
}

// --- plugin_call ---

type pluginCallConfig struct {
	Plugin  string         `json:"plugin"`
	Method  string         `json:"method"`
	Payload map[string]any `json:"payload"`
}

type pluginCallAction struct {
	cfg pluginCallConfig
}

func (a *pluginCallAction) Configure(raw json.RawMessage) error {
	if err := json.Unmarshal(raw, &a.cfg); err != nil {
		return fmt.Errorf("plugin_call: %w", err)
	}
	return nil
}

func (a *pluginCallAction) Execute(ctx context.Context, actx *ActionContext) ActionOutcome {
	if actx.Services == nil || actx.Services.Plugins == nil {
		return ActionOutcome{Err: fmt.Errorf("plugin_call: plugin host unavailable")}
	}
	out, err := actx.Services.Plugins.Invoke(ctx, a.cfg.Plugin, a.cfg.Method, a.cfg.Payload)
	return ActionOutcome{Output: out, Err: err}
}

// --- ai_respond ---

type aiRespondConfig struct {
	Platform       models.Platform `json:"platform"`
	Account        string          `json:"account"`
	Channel        string          `json:"channel"`
	PromptTemplate string          `json:"prompt_template"`
}

type aiRespondAction struct {
	cfg aiRespondConfig
}

func (a *aiRespondAction) Configure(raw json.RawMessage) error {
	if err := json.Unmarshal(raw, &a.cfg); err != nil {
		return fmt.Errorf("ai_respond: %w", err)
	}
	return nil
}

func (a *aiRespondAction) Execute(ctx context.Context, actx *ActionContext) ActionOutcome {
	if actx.Services == nil || actx.Services.AI == nil || actx.Services.Platforms == nil {
		return ActionOutcome{Err: fmt.Errorf("ai_respond: AI responder or platform manager unavailable")}
	}
	prompt := renderTemplate(a.cfg.PromptTemplate, actx)
	reply, err := actx.Services.AI.Respond(ctx, prompt)
	if err != nil {
		return ActionOutcome{Err: fmt.Errorf("ai_respond: %w", err)}
	}
	if err := actx.Services.Platforms.SendMessage(ctx, a.cfg.Platform, a.cfg.Account, a.cfg.Channel, reply); err != nil {
		return ActionOutcome{Err: fmt.Errorf("ai_respond: send reply: %w", err)}
	}
	return ActionOutcome{Output: map[string]any{"reply": reply}}
}
