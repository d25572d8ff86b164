package domain

import (
	"time"

	"github.com/google/uuid"
)

// QuietHours suppresses noisy channels inside the window unless the
// notification is urgent. The default window runs overnight.
type QuietHours struct {
	Enabled bool      `json:"enabled"`
	Start   TimeOfDay `json:"start"`
	End     TimeOfDay `json:"end"`
}

// DefaultQuietHours is 22:00 through 08:00.
func DefaultQuietHours() QuietHours {
	return QuietHours{Enabled: true, Start: 22 * 60, End: 8 * 60}
}

// Preferences holds a recipient's channel opt-ins, contact details, and
// quiet-hours window.
type Preferences struct {
	UserID     uuid.UUID  `json:"userId"`
	Role       string     `json:"role"`
	Channels   []Channel  `json:"channels"`
	Email      string     `json:"email,omitempty"`
	Phone      string     `json:"phone,omitempty"`
	PushToken  string     `json:"-"`
	QuietHours QuietHours `json:"quietHours"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// AllowedChannels intersects the requested channels with the recipient's
// opt-ins, then applies quiet hours: inside the window, non-urgent
// notifications lose email, sms, and push while in_app always survives.
func (p Preferences) AllowedChannels(requested []Channel, priority Priority, now time.Time) []Channel {
	opted := make(map[Channel]bool, len(p.Channels))
	for _, c := range p.Channels {
		opted[c] = true
	}
	quiet := p.QuietHours.Enabled && InWindow(At(now), p.QuietHours.Start, p.QuietHours.End)
	out := make([]Channel, 0, len(requested))
	for _, c := range requested {
		if !opted[c] {
			continue
		}
		if quiet && priority != PriorityUrgent && IsNoisy(c) {
			continue
		}
		out = append(out, c)
	}
	return out
}
