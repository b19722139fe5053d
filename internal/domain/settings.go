package domain

import "context"

// Settings keys shared between the HTTP API, startup seeding and the pipeline.
const (
	SettingFFmpegExtraFlags     = "config.cmds.ffmpeg-append"
	SettingStreamlinkExtraFlags = "config.cmds.streamlink-append"
	SettingDiscordWebhookURL    = "config.discord.webhook-uri"
	SettingTwitchClientID       = "config.twitch.client-id"
	SettingTwitchClientSecret   = "config.twitch.client-secret"
)

// UpdateFunc receives the current value (exists is false when the key is
// absent) and returns the value to store. Returning ok=false leaves the key
// unchanged.
type UpdateFunc func(current string, exists bool) (next string, ok bool)

// SettingsStore is a string-keyed configuration store. Every operation is
// linearizable per key.
type SettingsStore interface {
	// Get returns ErrSettingNotFound when the key is absent.
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	// Update atomically applies fn and reports whether a value was written.
	Update(ctx context.Context, key string, fn UpdateFunc) (bool, error)
	List(ctx context.Context) (map[string]string, error)
}
