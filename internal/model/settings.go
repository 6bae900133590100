package model

import "time"

// Settings is the Configuration Snapshot of the external interfaces table,
// deep-copied into TaskRecord.SettingsSnapshot at creation time so that a
// live settings change never mutates a running task.
type Settings struct {
	DefaultDownloadLocation DefaultDownloadLocation `json:"defaultDownloadLocation" mapstructure:"default_download_location"`
	MaxParallel             int                     `json:"maxParallel" mapstructure:"max_parallel"`
	ThreadConnections       int                     `json:"threadConnections" mapstructure:"thread_connections"`
	BufferSize              int                     `json:"bufferSize" mapstructure:"buffer_size"`
	MaxNetworkBps           int64                   `json:"maxNetworkBps" mapstructure:"max_network_bps"`
	HTTPReadTimeoutMs       int64                   `json:"httpReadTimeout" mapstructure:"http_read_timeout_ms"`
	UserAgent               string                  `json:"userAgent" mapstructure:"user_agent"`
	BrowserUserAgent        string                  `json:"browserUserAgent" mapstructure:"browser_user_agent"`
	AutoResume              bool                    `json:"autoResume" mapstructure:"auto_resume"`
	AutoResumeMaxErrors     int                     `json:"autoResumeMaxErrors" mapstructure:"auto_resume_max_errors"`
	AutoRemoveTasks         bool                    `json:"autoRemoveTasks" mapstructure:"auto_remove_tasks"`
	AutoRemoveDays          int                     `json:"autoRemoveDays" mapstructure:"auto_remove_days"`
	WifiOnly                bool                    `json:"wifiOnly" mapstructure:"wifi_only"`
	HideNotification        bool                    `json:"hideNotification" mapstructure:"hide_notification"`
	PlayNotificationSound   bool                    `json:"playNotificationSound" mapstructure:"play_notification_sound"`
	AutoLinkRedirection     bool                    `json:"autoLinkRedirection" mapstructure:"auto_link_redirection"`
}

// HTTPReadTimeout is the duration form of HTTPReadTimeoutMs. Part transfers
// do not apply it: the Manager's HTTP client uses net/http's default
// transport with no overall timeout.
func (s Settings) HTTPReadTimeout() time.Duration {
	return time.Duration(s.HTTPReadTimeoutMs) * time.Millisecond
}

// Clone returns a deep copy suitable for embedding as a task's immutable
// settings snapshot; AdditionalHeaders-like maps don't live here so a plain
// value copy already satisfies "deep enough" but the method name keeps the
// intent explicit at call sites.
func (s Settings) Clone() Settings {
	return s
}

// DefaultSettings mirrors the teacher's RuntimeConfig defaults, extended
// with the full configuration-snapshot key set named in the external
// interfaces table.
func DefaultSettings() Settings {
	return Settings{
		DefaultDownloadLocation: LocationPrivateFolder,
		MaxParallel:             3,
		ThreadConnections:       8,
		BufferSize:              64 * 1024,
		MaxNetworkBps:           0,
		HTTPReadTimeoutMs:       30_000,
		UserAgent:               "aiocore/1.0",
		BrowserUserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
			"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		AutoResume:            true,
		AutoResumeMaxErrors:   5,
		AutoRemoveTasks:       false,
		AutoRemoveDays:        0,
		WifiOnly:              false,
		HideNotification:      false,
		PlayNotificationSound: false,
		AutoLinkRedirection:   false,
	}
}
