package weather

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Darknivht/agrisense-ai/pkg/domain"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// Two days of 3-hourly samples in UTC: a wet cool first day and a hot dry second.
func forecastJSON() string {
	base := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC).Unix()
	item := func(offsetH int, temp, hum, wind, rain float64, desc string) string {
		return fmt.Sprintf(`{"dt":%d,"main":{"temp":%g,"temp_min":%g,"temp_max":%g,"humidity":%g},"weather":[{"description":%q}],"wind":{"speed":%g},"rain":{"3h":%g}}`,
			base+int64(offsetH*3600), temp, temp-1, temp+1, hum, desc, wind, rain)
	}
	return `{"cod":"200","city":{"name":"Kano","timezone":0},"list":[` +
		item(0, 24, 90, 4, 12, "moderate rain") + "," +
		item(6, 25, 88, 6, 10, "heavy intensity rain") + "," +
		item(12, 26, 85, 3, 1, "light rain") + "," +
		item(24, 34, 20, 5, 0, "clear sky") + "," +
		item(36, 37, 18, 17, 0, "clear sky") + `]}`
}

func newServer(t *testing.T, hits *atomic.Int64, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/forecast" || r.URL.Query().Get("appid") != "key" || r.URL.Query().Get("units") != "metric" {
			t.Errorf("unexpected request %s", r.URL.String())
		}
		if r.URL.Query().Get("q") != "Kano,NG" {
			t.Errorf("expected Nigeria-pinned query, got %q", r.URL.Query().Get("q"))
		}
		w.WriteHeader(status)
		if status == http.StatusOK {
			_, _ = w.Write([]byte(forecastJSON()))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestForecastShapesDaysAndAdvice(t *testing.T) {
	var hits atomic.Int64
	srv := newServer(t, &hits, http.StatusOK)
	c := NewClient(Config{APIKey: "key", BaseURL: srv.URL})

	f, err := c.Forecast(context.Background(), "Kano")
	if err != nil {
		t.Fatalf("forecast: %v", err)
	}
	if len(f.Days) != 2 {
		t.Fatalf("expected 2 days, got %d", len(f.Days))
	}
	wet, hot := f.Days[0], f.Days[1]
	if wet.Date != "2026-07-01" || wet.Rainfall != 23 {
		t.Fatalf("unexpected first day %+v", wet)
	}
	if wet.Advice != "Heavy rain expected. Skip irrigation and protect crops from waterlogging." {
		t.Fatalf("unexpected wet-day advice %q", wet.Advice)
	}
	if hot.TempMax != 38 || hot.WindMax != 17 {
		t.Fatalf("unexpected second day %+v", hot)
	}
	if f.Advice != wet.Advice || f.Temperature != 24 || f.Description != "moderate rain" || f.Unavailable {
		t.Fatalf("unexpected summary fields %+v", f)
	}
	if f.HarvestAdvice != "Delay harvesting due to rain. Wait for dry conditions" {
		t.Fatalf("unexpected harvest advice %q", f.HarvestAdvice)
	}
}

func TestForecastIsCachedInRedis(t *testing.T) {
	var hits atomic.Int64
	srv := newServer(t, &hits, http.StatusOK)
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = cache.Close() })
	c := NewClient(Config{APIKey: "key", BaseURL: srv.URL, Cache: cache, CacheTTL: time.Minute})

	for i := 0; i < 3; i++ {
		if _, err := c.Forecast(context.Background(), "Kano"); err != nil {
			t.Fatalf("forecast %d: %v", i, err)
		}
	}
	if hits.Load() != 1 {
		t.Fatalf("expected one upstream call, got %d", hits.Load())
	}
	mr.FastForward(2 * time.Minute)
	if _, err := c.Forecast(context.Background(), "Kano"); err != nil {
		t.Fatalf("forecast after expiry: %v", err)
	}
	if hits.Load() != 2 {
		t.Fatalf("expected refetch after ttl, got %d calls", hits.Load())
	}
}

func TestLookupFallsBackWhenProviderFails(t *testing.T) {
	var hits atomic.Int64
	srv := newServer(t, &hits, http.StatusInternalServerError)
	c := NewClient(Config{APIKey: "key", BaseURL: srv.URL})

	if _, err := c.Forecast(context.Background(), "Kano"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	f := c.Lookup(context.Background(), "Kano")
	if !f.Unavailable || f.Temperature != 28 || f.Humidity != 65 {
		t.Fatalf("expected fallback forecast, got %+v", f)
	}
	for _, advice := range []string{f.Advice, f.PlantingAdvice, f.HarvestAdvice} {
		if !strings.Contains(advice, "unavailable") || strings.Contains(advice, "Good conditions") {
			t.Fatalf("fallback advice must not claim favorable conditions: %q", advice)
		}
	}
	if len(EvaluateAlerts(f, domain.AlertTypes)) != 0 {
		t.Fatalf("fallback data must never raise alerts")
	}
}

func TestForecastWithoutKeyIsUnavailable(t *testing.T) {
	c := NewClient(Config{})
	if _, err := c.Forecast(context.Background(), "Kano"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestDailyAdviceThresholds(t *testing.T) {
	cases := []struct {
		day  Day
		want string
	}{
		{Day{Rainfall: 25, TempMax: 40}, "Heavy rain expected. Skip irrigation and protect crops from waterlogging."},
		{Day{Rainfall: 0, TempMax: 36}, "Very hot day ahead. Ensure adequate irrigation and provide shade if possible."},
		{Day{Rainfall: 0, TempMax: 14}, "Cool day. Monitor cold-sensitive crops and consider protection."},
		{Day{Rainfall: 6, TempMax: 30}, "Some rain expected. Reduce irrigation and monitor field conditions."},
		{Day{Rainfall: 1, TempMax: 30}, "Generally favorable conditions for farming activities."},
	}
	for _, tc := range cases {
		if got := DailyAdvice(tc.day); got != tc.want {
			t.Fatalf("DailyAdvice(%+v) = %q, want %q", tc.day, got, tc.want)
		}
	}
}

func TestEvaluateAlerts(t *testing.T) {
	f := Forecast{
		Location: "Kano",
		Days: []Day{
			{Date: "2026-07-01", TempMin: 22, TempMax: 30, Humidity: 25, WindMax: 4, Rainfall: 0.5},
			{Date: "2026-07-02", TempMin: 8, TempMax: 37, Humidity: 20, WindMax: 16, Rainfall: 0},
		},
	}
	alerts := EvaluateAlerts(f, []domain.AlertType{domain.AlertHeavyRain, domain.AlertHeat, domain.AlertCold, domain.AlertHighWind, domain.AlertDrought})
	got := map[domain.AlertType]string{}
	for _, a := range alerts {
		got[a.Type] = a.Date
	}
	if _, ok := got[domain.AlertHeavyRain]; ok {
		t.Fatalf("no heavy rain in forecast")
	}
	for _, want := range []domain.AlertType{domain.AlertHeat, domain.AlertCold, domain.AlertHighWind} {
		if got[want] != "2026-07-02" {
			t.Fatalf("expected %s alert on second day, got %v", want, got)
		}
	}
	if _, ok := got[domain.AlertDrought]; !ok {
		t.Fatalf("expected drought alert for dry low-humidity window")
	}

	if len(EvaluateAlerts(f, []domain.AlertType{domain.AlertHeavyRain})) != 0 {
		t.Fatalf("only subscribed alert types are evaluated")
	}
}

func TestQueryLocation(t *testing.T) {
	cases := map[string]string{
		"Kano":         "Kano,NG",
		"Ibadan,NG":    "Ibadan,NG",
		"Jos, Nigeria": "Jos, Nigeria",
		"Accra,GH":     "Accra,GH",
	}
	for in, want := range cases {
		if got := queryLocation(in); got != want {
			t.Fatalf("queryLocation(%q) = %q, want %q", in, got, want)
		}
	}
}
