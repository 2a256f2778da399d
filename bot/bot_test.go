package bot

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"patrol-beat-tracker/internal/models"
	"patrol-beat-tracker/internal/services"
)

type fakeStatus struct {
	principal *models.Principal
	status    services.DutyStatus
}

func (f *fakeStatus) Status() services.DutyStatus         { return f.status }
func (f *fakeStatus) CurrentPrincipal() *models.Principal { return f.principal }

func TestReply(t *testing.T) {
	status := &fakeStatus{
		principal: &models.Principal{ID: "p-1", Rank: "PCpl", FullName: "Juan Dela Cruz"},
		status: services.DutyStatus{
			State:    models.OnDuty,
			Tracking: true,
			LastSynced: &models.LocationRecord{
				Latitude:  14.5995,
				Longitude: 120.9842,
				Accuracy:  5,
				UpdatedAt: time.Date(2026, 2, 1, 8, 15, 0, 0, time.UTC),
			},
		},
	}
	b := &Bot{dispatchChatID: 42, status: status}

	tests := []struct {
		name    string
		chatID  int64
		command string
		want    []string
	}{
		{
			name:    "Help",
			chatID:  7,
			command: "start",
			want:    []string{"/status", "/getid"},
		},
		{
			name:    "Chat id",
			chatID:  7,
			command: "getid",
			want:    []string{"`7`"},
		},
		{
			name:    "Status from dispatch",
			chatID:  42,
			command: "status",
			want:    []string{"PCpl Juan Dela Cruz", "`on_duty`", "Tracking: on", "14.59950, 120.98420", "08:15:00"},
		},
		{
			name:    "Status from another chat",
			chatID:  7,
			command: "status",
			want:    []string{"not the dispatch chat"},
		},
		{
			name:    "Unknown",
			chatID:  42,
			command: "scanners",
			want:    []string{"Unknown command"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := b.reply(tt.chatID, tt.command)
			for _, w := range tt.want {
				assert.Contains(t, got, w)
			}
		})
	}
}

func TestFormatStatusSignedOut(t *testing.T) {
	assert.Equal(t, "👤 Nobody is signed in", formatStatus(nil, services.DutyStatus{}))

	got := formatStatus(&models.Principal{FullName: "Ana Reyes"}, services.DutyStatus{State: models.OffDuty, ConsecutiveFailures: 3})
	assert.Contains(t, got, "Tracking: off")
	assert.Contains(t, got, "Sync failures: 3")
	assert.False(t, strings.HasSuffix(got, "\n"))
}

type fakeSender struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (f *fakeSender) Send(message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, message)
	return f.err
}

func TestNotifierDeliversInOrder(t *testing.T) {
	sender := &fakeSender{}
	n := NewNotifier(sender)

	n.SendNotification("first")
	n.SendNotification("second")
	n.Close()

	assert.Equal(t, []string{"first", "second"}, sender.sent)

	// closed notifier drops silently
	n.SendNotification("third")
	n.Close()
	assert.Len(t, sender.sent, 2)
}

func TestNotifierSurvivesSendErrors(t *testing.T) {
	sender := &fakeSender{err: errors.New("telegram down")}
	n := NewNotifier(sender)

	n.SendNotification("one")
	n.SendNotification("two")
	n.Close()

	assert.Len(t, sender.sent, 2)
}

func TestNotifierWithoutSender(t *testing.T) {
	n := NewNotifier(nil)
	n.SendNotification("logged only")
	n.Close()
}
