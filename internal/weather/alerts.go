package weather

import (
	"fmt"

	"github.com/Darknivht/agrisense-ai/pkg/domain"
)

// Alert thresholds.
const (
	heavyRainMM     = 20.0
	heatC           = 35.0
	coldC           = 10.0
	highWindMS      = 15.0
	droughtRainMM   = 2.5
	droughtHumidity = 30.0
)

// Alert is one triggered subscription condition.
type Alert struct {
	Type    domain.AlertType `json:"type"`
	Date    string           `json:"date,omitempty"`
	Message string           `json:"message"`
}

// EvaluateAlerts returns the alerts among wanted that the forecast triggers,
// at most one per type, earliest day first. An unavailable forecast never
// triggers anything.
func EvaluateAlerts(f Forecast, wanted []domain.AlertType) []Alert {
	if f.Unavailable || len(f.Days) == 0 {
		return nil
	}
	var out []Alert
	for _, t := range wanted {
		if a, ok := evaluate(f, t); ok {
			out = append(out, a)
		}
	}
	return out
}

func evaluate(f Forecast, t domain.AlertType) (Alert, bool) {
	switch t {
	case domain.AlertHeavyRain:
		for _, d := range f.Days {
			if d.Rainfall > heavyRainMM {
				return Alert{t, d.Date, fmt.Sprintf("Heavy rain (%.0f mm) expected in %s on %s. Skip irrigation, clear drainage channels and protect crops from waterlogging.", d.Rainfall, f.Location, d.Date)}, true
			}
		}
	case domain.AlertHeat:
		for _, d := range f.Days {
			if d.TempMax > heatC {
				return Alert{t, d.Date, fmt.Sprintf("Extreme heat (%.0f°C) expected in %s on %s. Irrigate early morning and evening and shade sensitive crops.", d.TempMax, f.Location, d.Date)}, true
			}
		}
	case domain.AlertCold:
		for _, d := range f.Days {
			if d.TempMin < coldC {
				return Alert{t, d.Date, fmt.Sprintf("Cold weather (%.0f°C) expected in %s on %s. Cover young plants and delay planting.", d.TempMin, f.Location, d.Date)}, true
			}
		}
	case domain.AlertHighWind:
		for _, d := range f.Days {
			if d.WindMax > highWindMS {
				return Alert{t, d.Date, fmt.Sprintf("Strong winds (%.0f m/s) expected in %s on %s. Secure tall crops and postpone spraying.", d.WindMax, f.Location, d.Date)}, true
			}
		}
	case domain.AlertDrought:
		rain, hum := 0.0, 0.0
		for _, d := range f.Days {
			rain += d.Rainfall
			hum += d.Humidity
		}
		hum /= float64(len(f.Days))
		if rain < droughtRainMM && hum < droughtHumidity {
			return Alert{t, "", fmt.Sprintf("Dry spell ahead in %s: %.1f mm of rain over %d days and %.0f%% humidity. Mulch, irrigate in the evening and conserve water.", f.Location, rain, len(f.Days), hum)}, true
		}
	}
	return Alert{}, false
}
