package app

import (
	"context"
	"strings"
	"time"

	"github.com/Darknivht/agrisense-ai/internal/util"
	"github.com/Darknivht/agrisense-ai/internal/weather"
	"github.com/Darknivht/agrisense-ai/pkg/domain"
)

// morningCutoff splits the day: daily subscriptions are served by runs that
// start before noon, twice_daily subscriptions by every run.
const morningCutoff = 12

// Notifier delivers one reply on a channel; *channel.Sender implements it.
type Notifier interface {
	Send(ctx context.Context, reply domain.OutboundReply) error
}

// AlertStore is the part of the Conversation Store the dispatcher reads.
type AlertStore interface {
	ListActiveSubscriptions(ctx context.Context) ([]domain.WeatherSubscription, error)
	GetUserByID(ctx context.Context, id string) (domain.User, bool, error)
}

// Forecaster fetches a forecast or reports it unavailable.
type Forecaster interface {
	Forecast(ctx context.Context, location string) (weather.Forecast, error)
}

// Report summarizes one dispatch run.
type Report struct {
	Scanned int
	Sent    int
	Skipped int
	Failed  int
}

// Dispatcher evaluates active weather subscriptions and pushes triggered
// alerts through the channel the subscriber last wrote from.
type Dispatcher struct {
	store     AlertStore
	forecasts Forecaster
	notifiers map[domain.Channel]Notifier
	now       func() time.Time
}

func NewDispatcher(st AlertStore, forecasts Forecaster, notifiers map[domain.Channel]Notifier) *Dispatcher {
	return &Dispatcher{store: st, forecasts: forecasts, notifiers: notifiers, now: time.Now}
}

// Run scans every active subscription once. Forecast and delivery failures
// are logged and counted; only a failure to list subscriptions is returned.
func (d *Dispatcher) Run(ctx context.Context) (Report, error) {
	logger := util.LoggerFromContext(ctx)
	subs, err := d.store.ListActiveSubscriptions(ctx)
	if err != nil {
		return Report{}, err
	}
	morning := d.now().Hour() < morningCutoff
	forecasts := map[string]*weather.Forecast{}
	var report Report
	for _, sub := range subs {
		report.Scanned++
		if sub.Frequency != domain.FrequencyTwiceDaily && !morning {
			report.Skipped++
			continue
		}
		user, ok, err := d.store.GetUserByID(ctx, sub.UserID)
		if err != nil || !ok || !user.Active() {
			report.Skipped++
			continue
		}
		notifier, ok := d.notifiers[user.LastChannel]
		if !ok || user.LastRecipient == "" {
			logger.Info("no delivery channel for alert", "user_id", user.ID, "channel", user.LastChannel)
			report.Skipped++
			continue
		}

		key := strings.ToLower(strings.TrimSpace(sub.Location))
		f, seen := forecasts[key]
		if !seen {
			got, err := d.forecasts.Forecast(ctx, sub.Location)
			if err != nil {
				logger.Warn("alert forecast failed", "provider", "openweather", "location", sub.Location, "err", err)
			} else {
				f = &got
			}
			forecasts[key] = f
		}
		if f == nil {
			report.Failed++
			continue
		}
		alerts := weather.EvaluateAlerts(*f, sub.AlertTypes)
		if len(alerts) == 0 {
			continue
		}
		lines := make([]string, 0, len(alerts))
		for _, a := range alerts {
			lines = append(lines, a.Message)
		}
		reply := domain.OutboundReply{
			Channel:   user.LastChannel,
			Recipient: user.LastRecipient,
			UserID:    user.ID,
			Text:      strings.Join(lines, "\n"),
			Language:  user.PreferredLanguage,
		}
		if err := notifier.Send(ctx, reply); err != nil {
			logger.Warn("alert delivery failed", "provider", user.LastChannel, "user_id", user.ID, "err", err)
			report.Failed++
			continue
		}
		report.Sent++
	}
	logger.Info("weather alerts dispatched", "scanned", report.Scanned, "sent", report.Sent, "skipped", report.Skipped, "failed", report.Failed)
	return report, nil
}
