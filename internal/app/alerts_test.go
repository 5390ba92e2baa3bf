package app

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Darknivht/agrisense-ai/internal/weather"
	"github.com/Darknivht/agrisense-ai/pkg/domain"
	"github.com/Darknivht/agrisense-ai/pkg/store"
)

type fakeForecaster struct {
	calls map[string]int
}

func (f *fakeForecaster) Forecast(_ context.Context, location string) (weather.Forecast, error) {
	f.calls[location]++
	if location == "Nowhere" {
		return weather.Forecast{}, weather.ErrUnavailable
	}
	return weather.Forecast{
		Location: location,
		Days: []weather.Day{
			{Date: "2026-03-01", TempMin: 24, TempMax: 33, Humidity: 40, Rainfall: 1},
			{Date: "2026-03-02", TempMin: 26, TempMax: 39, Humidity: 35, Rainfall: 0},
		},
	}, nil
}

type recordingNotifier struct {
	replies []domain.OutboundReply
	err     error
}

func (n *recordingNotifier) Send(_ context.Context, reply domain.OutboundReply) error {
	if n.err != nil {
		return n.err
	}
	n.replies = append(n.replies, reply)
	return nil
}

func seedSubscriber(t *testing.T, st *store.GormStore, id string, ch domain.Channel, recipient, location, freq string, alerts ...domain.AlertType) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	err := st.CreateUser(ctx, domain.User{
		ID:                id,
		Name:              "Farmer " + id,
		Phone:             "+23480300000" + id[len(id)-2:],
		PreferredLanguage: domain.LangEnglish,
		Status:            domain.UserActive,
		LastChannel:       ch,
		LastRecipient:     recipient,
		CreatedAt:         now,
		UpdatedAt:         now,
	})
	if err != nil {
		t.Fatalf("create user %s: %v", id, err)
	}
	err = st.SaveSubscription(ctx, domain.WeatherSubscription{
		ID:         "sub-" + id,
		UserID:     id,
		Location:   location,
		AlertTypes: alerts,
		Frequency:  freq,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		t.Fatalf("save subscription %s: %v", id, err)
	}
}

func TestDispatcherRun(t *testing.T) {
	st, err := store.NewGormStore("sqlite://" + filepath.Join(t.TempDir(), "alerts.db"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	seedSubscriber(t, st, "user-01", domain.ChannelSMS, "+2348030000001", "Kano", domain.FrequencyDaily, domain.AlertHeat, domain.AlertHeavyRain)
	seedSubscriber(t, st, "user-02", domain.ChannelSMS, "+2348030000002", "kano", domain.FrequencyTwiceDaily, domain.AlertHeavyRain)
	seedSubscriber(t, st, "user-03", domain.ChannelTelegram, "777", "Kano", domain.FrequencyDaily, domain.AlertHeat)
	seedSubscriber(t, st, "user-04", domain.ChannelWeb, "user-04", "Kano", domain.FrequencyDaily, domain.AlertHeat)
	seedSubscriber(t, st, "user-05", domain.ChannelSMS, "+2348030000005", "Nowhere", domain.FrequencyDaily, domain.AlertHeat)

	sms := &recordingNotifier{}
	telegram := &recordingNotifier{err: errors.New("bot blocked")}
	forecasts := &fakeForecaster{calls: map[string]int{}}
	d := NewDispatcher(st, forecasts, map[domain.Channel]Notifier{
		domain.ChannelSMS:      sms,
		domain.ChannelTelegram: telegram,
	})
	d.now = func() time.Time { return time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC) }

	report, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Scanned != 5 || report.Sent != 1 || report.Skipped != 1 || report.Failed != 2 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(sms.replies) != 1 {
		t.Fatalf("expected one sms alert, got %d", len(sms.replies))
	}
	got := sms.replies[0]
	if got.Recipient != "+2348030000001" || got.Channel != domain.ChannelSMS || !strings.Contains(got.Text, "Extreme heat") {
		t.Fatalf("unexpected alert: %+v", got)
	}
	if forecasts.calls["Kano"]+forecasts.calls["kano"] != 1 {
		t.Fatalf("expected one forecast per location, got %v", forecasts.calls)
	}

	// Evening runs only serve twice_daily subscriptions.
	sms.replies = nil
	d.now = func() time.Time { return time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC) }
	report, err = d.Run(context.Background())
	if err != nil {
		t.Fatalf("evening run: %v", err)
	}
	if report.Skipped != 4 || report.Sent != 0 || len(sms.replies) != 0 {
		t.Fatalf("unexpected evening report: %+v", report)
	}
}
