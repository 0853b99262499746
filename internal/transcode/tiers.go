package transcode

import "fmt"

// Encoder settings shared by every tier.
const (
	Framerate        = 30
	KeyframeInterval = 60
)

// Tier is one rendition of the adaptive ladder.
type Tier struct {
	Name      string
	Width     int
	Height    int
	VideoKbps int
	AudioKbps int
}

func (t Tier) Resolution() string {
	return fmt.Sprintf("%dx%d", t.Width, t.Height)
}

// Tiers is the fixed ladder, highest first.
var Tiers = []Tier{
	{Name: "1080p", Width: 1920, Height: 1080, VideoKbps: 5000, AudioKbps: 192},
	{Name: "720p", Width: 1280, Height: 720, VideoKbps: 2800, AudioKbps: 128},
	{Name: "480p", Width: 854, Height: 480, VideoKbps: 1400, AudioKbps: 128},
	{Name: "360p", Width: 640, Height: 360, VideoKbps: 800, AudioKbps: 96},
}
