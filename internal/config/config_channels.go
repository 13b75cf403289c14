package config

// ZulipConfig configures the Zulip transport.
// APIKey is NEVER read from config.json, only from env RSVPBOT_ZULIP_API_KEY.
type ZulipConfig struct {
	Site           string              `json:"site,omitempty"`  // default "https://recurse.zulipchat.com"
	Email          string              `json:"email,omitempty"` // bot account email
	APIKey         string              `json:"-"`
	Streams        FlexibleStringSlice `json:"streams,omitempty"`          // streams to subscribe to; empty = all
	AllowFrom      FlexibleStringSlice `json:"allow_from,omitempty"`       // sender ids or emails; empty = everyone
	SendsPerSecond float64             `json:"sends_per_second,omitempty"` // outbound message rate (default 5)
	SenderRPM      int                 `json:"sender_rpm,omitempty"`       // inbound messages per sender per minute (default 30, -1 = off)
}
