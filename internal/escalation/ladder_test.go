package escalation

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"propertyops_backend/internal/notifications/domain"
)

func TestLadderValidate(t *testing.T) {
	good := Ladder{
		Name: "emergency",
		Levels: []Level{
			{DelayMinutes: 15, Channels: []domain.Channel{domain.ChannelSMS}},
		},
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("valid ladder rejected: %v", err)
	}

	bad := []Ladder{
		{Levels: []Level{{DelayMinutes: 15, Channels: []domain.Channel{domain.ChannelSMS}}}},
		{Name: "empty"},
		{Name: "zero-delay", Levels: []Level{{DelayMinutes: 0, Channels: []domain.Channel{domain.ChannelSMS}}}},
		{Name: "no-channels", Levels: []Level{{DelayMinutes: 15}}},
	}
	for _, l := range bad {
		if err := l.Validate(); err == nil {
			t.Fatalf("expected validation error for ladder %q", l.Name)
		}
	}
}

func TestLevelDelay(t *testing.T) {
	if got := (Level{DelayMinutes: 45}).Delay(); got != 45*time.Minute {
		t.Fatalf("expected 45m, got %v", got)
	}
}

func TestLadderAcknowledgmentGated(t *testing.T) {
	gated := Ladder{Levels: []Level{
		{DelayMinutes: 10},
		{DelayMinutes: 20, RequiresAcknowledgment: true},
	}}
	if !gated.AcknowledgmentGated() {
		t.Fatalf("a ladder with an acknowledgment level is gated")
	}
	broadcast := Ladder{Levels: []Level{{DelayMinutes: 10}, {DelayMinutes: 20}}}
	if broadcast.AcknowledgmentGated() {
		t.Fatalf("a ladder without acknowledgment levels is a plain broadcast chain")
	}
}

func TestLoadLadderFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ladders.yaml")
	content := `ladders:
  - name: emergency
    levels:
      - delay_minutes: 15
        recipients:
          kind: roles
          roles: [property_manager]
        channels: [push, sms]
        message: "still unacknowledged"
        requires_acknowledgment: true
      - delay_minutes: 30
        recipients:
          kind: users
          user_ids: [6cb019c9-6031-44c4-b9c6-5ef53b9a63e8]
        channels: [email]
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	ladders, err := LoadLadderFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(ladders) != 1 || ladders[0].Name != "emergency" {
		t.Fatalf("unexpected ladders: %+v", ladders)
	}
	levels := ladders[0].Levels
	if len(levels) != 2 {
		t.Fatalf("expected 2 levels, got %d", len(levels))
	}
	if levels[0].Recipients.Kind != domain.SelectRoles || len(levels[0].Recipients.Roles) != 1 {
		t.Fatalf("unexpected level 0 recipients: %+v", levels[0].Recipients)
	}
	if !levels[0].RequiresAcknowledgment {
		t.Fatalf("requires_acknowledgment not parsed")
	}
	if levels[1].Recipients.Kind != domain.SelectUsers || len(levels[1].Recipients.UserIDs) != 1 {
		t.Fatalf("unexpected level 1 recipients: %+v", levels[1].Recipients)
	}
}

func TestLoadLadderFile_InvalidLadder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ladders.yaml")
	content := `ladders:
  - name: broken
    levels:
      - delay_minutes: 0
        channels: [email]
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := LoadLadderFile(path); err == nil {
		t.Fatalf("expected validation error from seed file")
	}
}
