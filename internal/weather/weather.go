// Package weather fetches OpenWeather forecasts and turns them into farming
// advice and subscription alerts.
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/Darknivht/agrisense-ai/internal/util"
	"github.com/redis/go-redis/v9"
)

// ErrUnavailable is returned when the provider could not be reached or
// answered with something unusable.
var ErrUnavailable = errors.New("weather unavailable")

const (
	DefaultBaseURL = "https://api.openweathermap.org/data/2.5"
	forecastDays   = 5
)

// Day is one day of the forecast.
type Day struct {
	Date        string  `json:"date"`
	TempMin     float64 `json:"tempMin"`
	TempMax     float64 `json:"tempMax"`
	TempAvg     float64 `json:"tempAvg"`
	Humidity    float64 `json:"humidity"`
	WindMax     float64 `json:"windMax"`
	Rainfall    float64 `json:"rainfall"`
	Description string  `json:"description"`
	Advice      string  `json:"advice"`
}

// Forecast is the shaped provider response.
type Forecast struct {
	Location       string    `json:"location"`
	Temperature    float64   `json:"temperature"`
	Humidity       float64   `json:"humidity"`
	WindSpeed      float64   `json:"windSpeed"`
	Description    string    `json:"description"`
	Advice         string    `json:"advice"`
	PlantingAdvice string    `json:"plantingAdvice"`
	HarvestAdvice  string    `json:"harvestAdvice"`
	Days           []Day     `json:"days"`
	Unavailable    bool      `json:"unavailable,omitempty"`
	FetchedAt      time.Time `json:"fetchedAt"`
}

type Config struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	// Cache is optional; forecasts are cached per location for CacheTTL.
	Cache    redis.UniversalClient
	CacheTTL time.Duration
}

// Client talks to OpenWeather.
type Client struct {
	apiKey   string
	baseURL  string
	http     *http.Client
	cache    redis.UniversalClient
	cacheTTL time.Duration
	now      func() time.Time
}

func NewClient(cfg Config) *Client {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Client{apiKey: cfg.APIKey, baseURL: base, http: hc, cache: cfg.Cache, cacheTTL: ttl, now: time.Now}
}

// Lookup never fails: when the provider is unreachable it returns the
// fallback forecast with Unavailable set.
func (c *Client) Lookup(ctx context.Context, location string) Forecast {
	f, err := c.Forecast(ctx, location)
	if err != nil {
		util.LoggerFromContext(ctx).Warn("weather lookup failed", "provider", "openweather", "location", location, "err", err)
		return Fallback(location, c.now())
	}
	return f
}

// Forecast fetches (or reads from cache) the forecast for location.
func (c *Client) Forecast(ctx context.Context, location string) (Forecast, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return Forecast{}, fmt.Errorf("%w: location required", ErrUnavailable)
	}
	if c.apiKey == "" {
		return Forecast{}, fmt.Errorf("%w: no api key configured", ErrUnavailable)
	}
	if f, ok := c.cached(ctx, location); ok {
		return f, nil
	}

	q := url.Values{}
	q.Set("q", queryLocation(location))
	q.Set("appid", c.apiKey)
	q.Set("units", "metric")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/forecast?"+q.Encode(), nil)
	if err != nil {
		return Forecast{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Forecast{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Forecast{}, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var raw forecastResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return Forecast{}, fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
	}
	f, err := shape(location, raw, c.now())
	if err != nil {
		return Forecast{}, err
	}
	c.store(ctx, location, f)
	return f, nil
}

// queryLocation pins bare place names to Nigeria.
func queryLocation(location string) string {
	lower := strings.ToLower(location)
	if strings.Contains(lower, "nigeria") || strings.Contains(lower, ",") {
		return location
	}
	return location + ",NG"
}

func (c *Client) cacheKey(location string) string {
	return "agrisense:weather:" + strings.ToLower(strings.Join(strings.Fields(location), " "))
}

func (c *Client) cached(ctx context.Context, location string) (Forecast, bool) {
	if c.cache == nil {
		return Forecast{}, false
	}
	data, err := c.cache.Get(ctx, c.cacheKey(location)).Bytes()
	if err != nil {
		return Forecast{}, false
	}
	var f Forecast
	if json.Unmarshal(data, &f) != nil {
		return Forecast{}, false
	}
	return f, true
}

func (c *Client) store(ctx context.Context, location string, f Forecast) {
	if c.cache == nil {
		return
	}
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, c.cacheKey(location), data, c.cacheTTL).Err(); err != nil {
		util.LoggerFromContext(ctx).Warn("weather cache write failed", "err", err)
	}
}

type forecastResponse struct {
	List []struct {
		Dt   int64 `json:"dt"`
		Main struct {
			Temp     float64 `json:"temp"`
			TempMin  float64 `json:"temp_min"`
			TempMax  float64 `json:"temp_max"`
			Humidity float64 `json:"humidity"`
		} `json:"main"`
		Weather []struct {
			Description string `json:"description"`
		} `json:"weather"`
		Wind struct {
			Speed float64 `json:"speed"`
		} `json:"wind"`
		Rain struct {
			ThreeHour float64 `json:"3h"`
		} `json:"rain"`
	} `json:"list"`
	City struct {
		Name     string `json:"name"`
		Timezone int    `json:"timezone"`
	} `json:"city"`
}

func shape(location string, raw forecastResponse, now time.Time) (Forecast, error) {
	if len(raw.List) == 0 {
		return Forecast{}, fmt.Errorf("%w: empty forecast", ErrUnavailable)
	}
	zone := time.FixedZone("local", raw.City.Timezone)
	type acc struct {
		temps, hums []float64
		windMax     float64
		tempMin     float64
		tempMax     float64
		rain        float64
		descs       []string
	}
	byDate := map[string]*acc{}
	var dates []string
	for _, item := range raw.List {
		date := time.Unix(item.Dt, 0).In(zone).Format("2006-01-02")
		a, ok := byDate[date]
		if !ok {
			a = &acc{tempMin: math.Inf(1), tempMax: math.Inf(-1)}
			byDate[date] = a
			dates = append(dates, date)
		}
		a.temps = append(a.temps, item.Main.Temp)
		a.hums = append(a.hums, item.Main.Humidity)
		a.tempMin = math.Min(a.tempMin, item.Main.TempMin)
		a.tempMax = math.Max(a.tempMax, item.Main.TempMax)
		a.windMax = math.Max(a.windMax, item.Wind.Speed)
		a.rain += item.Rain.ThreeHour
		if len(item.Weather) > 0 {
			a.descs = append(a.descs, item.Weather[0].Description)
		}
	}
	sort.Strings(dates)
	if len(dates) > forecastDays {
		dates = dates[:forecastDays]
	}
	days := make([]Day, 0, len(dates))
	for _, date := range dates {
		a := byDate[date]
		d := Day{
			Date:     date,
			TempMin:  round1(a.tempMin),
			TempMax:  round1(a.tempMax),
			TempAvg:  round1(mean(a.temps)),
			Humidity: round1(mean(a.hums)),
			WindMax:  round1(a.windMax),
			Rainfall: round1(a.rain),
		}
		if len(a.descs) > 0 {
			d.Description = a.descs[len(a.descs)/2]
		}
		d.Advice = DailyAdvice(d)
		days = append(days, d)
	}

	first := raw.List[0]
	f := Forecast{
		Location:    location,
		Temperature: round1(first.Main.Temp),
		Humidity:    first.Main.Humidity,
		WindSpeed:   first.Wind.Speed,
		Days:        days,
		FetchedAt:   now.UTC(),
	}
	if len(first.Weather) > 0 {
		f.Description = first.Weather[0].Description
	}
	f.Advice = days[0].Advice
	f.PlantingAdvice = PlantingAdvice(f.Temperature, f.Humidity, days[0].Rainfall)
	f.HarvestAdvice = HarvestAdvice(days[0].Rainfall, f.Humidity, f.WindSpeed)
	return f, nil
}

// Fallback is served when the provider is unavailable.
func Fallback(location string, now time.Time) Forecast {
	return Forecast{
		Location:       location,
		Temperature:    28,
		Humidity:       65,
		Description:    "partly cloudy",
		Advice:         "Weather data unavailable. Use local observations and keep your normal irrigation schedule.",
		PlantingAdvice: "Weather data unavailable. Check soil moisture and local conditions before planting.",
		HarvestAdvice:  "Weather data unavailable. Check local conditions before harvesting.",
		Unavailable:    true,
		FetchedAt:      now.UTC(),
	}
}

// DailyAdvice applies the farming thresholds to one day.
func DailyAdvice(d Day) string {
	switch {
	case d.Rainfall > 20:
		return "Heavy rain expected. Skip irrigation and protect crops from waterlogging."
	case d.TempMax > 35:
		return "Very hot day ahead. Ensure adequate irrigation and provide shade if possible."
	case d.TempMax < 15:
		return "Cool day. Monitor cold-sensitive crops and consider protection."
	case d.Rainfall > 5:
		return "Some rain expected. Reduce irrigation and monitor field conditions."
	default:
		return "Generally favorable conditions for farming activities."
	}
}

func PlantingAdvice(temp, humidity, rainfall float64) string {
	switch {
	case temp < 15:
		return "Wait for warmer weather before planting"
	case temp > 35:
		return "Too hot for planting. Wait for cooler conditions"
	case rainfall > 20:
		return "Soil may be too wet for planting. Wait for drier conditions"
	case humidity > 80:
		return "High humidity may increase disease risk for new plantings"
	default:
		return "Good conditions for planting"
	}
}

func HarvestAdvice(rainfall, humidity, wind float64) string {
	switch {
	case rainfall > 5:
		return "Delay harvesting due to rain. Wait for dry conditions"
	case humidity > 85:
		return "High humidity may affect crop quality during harvest"
	case wind > 15:
		return "Strong winds may make harvesting difficult"
	default:
		return "Good conditions for harvesting"
	}
}

// Summary is a one-paragraph description used as completion context.
func Summary(f Forecast) string {
	if f.Unavailable {
		return fmt.Sprintf("Weather for %s is currently unavailable; advise the farmer to rely on local observations.", f.Location)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Current weather in %s: %.1f°C, %s, humidity %.0f%%, wind %.1f m/s.", f.Location, f.Temperature, f.Description, f.Humidity, f.WindSpeed)
	for _, d := range f.Days {
		fmt.Fprintf(&sb, " %s: %.0f-%.0f°C, rain %.1f mm, %s", d.Date, d.TempMin, d.TempMax, d.Rainfall, d.Description)
		sb.WriteString(".")
	}
	sb.WriteString(" Advice: ")
	sb.WriteString(f.Advice)
	return sb.String()
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
