// Package escalation advances unacknowledged notifications through their
// escalation ladders.
package escalation

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"propertyops_backend/internal/notifications/domain"
	"propertyops_backend/platform/apperr"
)

// Level is one rung of an escalation ladder. Delay is measured from the
// previous escalation (or from notification creation for the first level).
type Level struct {
	DelayMinutes           int                      `json:"delayMinutes" yaml:"delay_minutes"`
	Recipients             domain.RecipientSelector `json:"recipients" yaml:"recipients"`
	Channels               []domain.Channel         `json:"channels" yaml:"channels"`
	Message                string                   `json:"message" yaml:"message"`
	RequiresAcknowledgment bool                     `json:"requiresAcknowledgment" yaml:"requires_acknowledgment"`
}

// Delay converts the configured minutes to a duration.
func (l Level) Delay() time.Duration {
	return time.Duration(l.DelayMinutes) * time.Minute
}

// Ladder is an ordered escalation chain referenced by notification rules.
type Ladder struct {
	ID        uuid.UUID `json:"id" yaml:"-"`
	Name      string    `json:"name" yaml:"name"`
	Levels    []Level   `json:"levels" yaml:"levels"`
	CreatedAt time.Time `json:"createdAt" yaml:"-"`
	UpdatedAt time.Time `json:"updatedAt" yaml:"-"`
}

// AcknowledgmentGated reports whether any level of the ladder expects an
// acknowledgment. A ladder where no level does describes a plain broadcast
// chain with nothing to wait for, so notifications carrying it are never
// put on the escalation schedule.
func (l Ladder) AcknowledgmentGated() bool {
	for _, level := range l.Levels {
		if level.RequiresAcknowledgment {
			return true
		}
	}
	return false
}

// Validate rejects ladders that could never fire correctly.
func (l Ladder) Validate() error {
	if l.Name == "" {
		return apperr.Validation("ladder name is required")
	}
	if len(l.Levels) == 0 {
		return apperr.Validation("ladder needs at least one level")
	}
	for i, level := range l.Levels {
		if level.DelayMinutes <= 0 {
			return apperr.Validation(fmt.Sprintf("level %d delay must be positive", i))
		}
		if len(level.Channels) == 0 {
			return apperr.Validation(fmt.Sprintf("level %d needs at least one channel", i))
		}
	}
	return nil
}

type ladderFile struct {
	Ladders []Ladder `yaml:"ladders"`
}

// LoadLadderFile parses the YAML seed file shipped with the deployment.
func LoadLadderFile(path string) ([]Ladder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ladder file: %w", err)
	}
	var f ladderFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse ladder file: %w", err)
	}
	for _, l := range f.Ladders {
		if err := l.Validate(); err != nil {
			return nil, fmt.Errorf("ladder %q: %w", l.Name, err)
		}
	}
	return f.Ladders, nil
}
