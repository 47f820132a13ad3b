package domain

import "time"

// Channel is one external publishing destination.
type Channel string

const (
	ChannelYouTube   Channel = "yt"
	ChannelFacebook  Channel = "fb"
	ChannelInstagram Channel = "ig"
	ChannelTikTok    Channel = "tiktok"
	ChannelX         Channel = "x"
)

// AllChannels lists every known channel in canonical order.
var AllChannels = []Channel{ChannelYouTube, ChannelFacebook, ChannelInstagram, ChannelTikTok, ChannelX}

// ParseChannel returns the channel named s, if it is known.
func ParseChannel(s string) (Channel, bool) {
	ch := Channel(s)
	return ch, ch.Valid()
}

// Valid reports whether c is one of the known channels.
func (c Channel) Valid() bool {
	switch c {
	case ChannelYouTube, ChannelFacebook, ChannelInstagram, ChannelTikTok, ChannelX:
		return true
	}
	return false
}

func (c Channel) String() string { return string(c) }

// Job is one admitted publish request. It is immutable once enqueued; its
// outcome lives in the idempotency slot or the dead-letter sink, never here.
type Job struct {
	ID        string         `json:"id"`
	Tenant    string         `json:"tenant"`
	Template  string         `json:"template"`
	Channels  []Channel      `json:"channels"`
	Data      map[string]any `json:"data"`
	CreatedAt time.Time      `json:"createdAt"`
	IdemKey   string         `json:"idemKey"`

	// DeliveryID is the broker handle used to acknowledge the message.
	DeliveryID string `json:"-"`
}

// UniqueChannels returns chs without repeats, keeping first occurrences in order.
func UniqueChannels(chs []Channel) []Channel {
	seen := make(map[Channel]struct{}, len(chs))
	out := make([]Channel, 0, len(chs))
	for _, ch := range chs {
		if _, ok := seen[ch]; ok {
			continue
		}
		seen[ch] = struct{}{}
		out = append(out, ch)
	}
	return out
}
