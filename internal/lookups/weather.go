package lookups

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	geocodingEndpoint = "https://geocoding-api.open-meteo.com/v1/search"
	forecastEndpoint  = "https://api.open-meteo.com/v1/forecast"
)

var weatherCodes = map[int]string{
	0:  "Céu limpo",
	1:  "Principalmente limpo",
	2:  "Parcialmente nublado",
	3:  "Nublado",
	45: "Névoa",
	48: "Névoa com geada",
	51: "Chuvisco leve",
	53: "Chuvisco moderado",
	55: "Chuvisco intenso",
	61: "Chuva leve",
	63: "Chuva moderada",
	65: "Chuva forte",
	71: "Neve leve",
	73: "Neve moderada",
	75: "Neve forte",
	77: "Grãos de neve",
	80: "Pancadas de chuva leves",
	81: "Pancadas de chuva moderadas",
	82: "Pancadas de chuva fortes",
	85: "Pancadas de neve leves",
	86: "Pancadas de neve fortes",
	95: "Tempestade",
	96: "Tempestade com granizo leve",
	99: "Tempestade com granizo forte",
}

// Weather reports current conditions and a three-day forecast from Open-Meteo.
type Weather struct {
	fetcher
}

// Name returns the capability name.
func (Weather) Name() string { return "consulta_clima" }

// Description returns the capability description for the model.
func (Weather) Description() string {
	return "Consulta o clima atual (temperatura, sensação térmica, umidade, vento, condições) e a previsão dos próximos 3 dias para uma cidade."
}

// Schema returns the JSON schema for consulta_clima args.
func (Weather) Schema() map[string]any {
	return stringSchema([]string{"location"}, map[string]string{
		"location": "Nome da cidade ou local, por exemplo São Paulo ou Tokyo",
	})
}

// Invoke geocodes the location and fetches its forecast.
func (w Weather) Invoke(ctx context.Context, args map[string]any) (string, error) {
	location, err := stringArg(args, "location")
	if err != nil {
		return "", err
	}

	var geo struct {
		Results []struct {
			Name      string  `json:"name"`
			Country   string  `json:"country"`
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
		} `json:"results"`
	}
	if err := w.getJSON(ctx, geocodingEndpoint, url.Values{
		"name":     {location},
		"count":    {"1"},
		"language": {"pt"},
		"format":   {"json"},
	}, &geo); err != nil {
		return "", fmt.Errorf("geocodificação de %s: %w", location, err)
	}
	if len(geo.Results) == 0 {
		return "", fmt.Errorf("localização %q não encontrada; tente ser mais específico", location)
	}
	place := geo.Results[0]

	var forecast struct {
		Current struct {
			Time                string  `json:"time"`
			Temperature         float64 `json:"temperature_2m"`
			ApparentTemperature float64 `json:"apparent_temperature"`
			Humidity            float64 `json:"relative_humidity_2m"`
			Precipitation       float64 `json:"precipitation"`
			WeatherCode         int     `json:"weather_code"`
			WindSpeed           float64 `json:"wind_speed_10m"`
		} `json:"current"`
		Daily struct {
			Time          []string  `json:"time"`
			MaxTemp       []float64 `json:"temperature_2m_max"`
			MinTemp       []float64 `json:"temperature_2m_min"`
			Precipitation []float64 `json:"precipitation_sum"`
			WeatherCode   []int     `json:"weather_code"`
		} `json:"daily"`
	}
	if err := w.getJSON(ctx, forecastEndpoint, url.Values{
		"latitude":      {strconv.FormatFloat(place.Latitude, 'f', -1, 64)},
		"longitude":     {strconv.FormatFloat(place.Longitude, 'f', -1, 64)},
		"current":       {"temperature_2m,relative_humidity_2m,apparent_temperature,precipitation,weather_code,wind_speed_10m"},
		"daily":         {"temperature_2m_max,temperature_2m_min,precipitation_sum,weather_code"},
		"timezone":      {"auto"},
		"forecast_days": {"3"},
	}, &forecast); err != nil {
		return "", fmt.Errorf("previsão para %s: %w", place.Name, err)
	}

	c := forecast.Current
	var out strings.Builder
	fmt.Fprintf(&out, "Clima em %s, %s\n", place.Name, place.Country)
	fmt.Fprintf(&out, "Condição: %s\n", weatherDescription(c.WeatherCode))
	fmt.Fprintf(&out, "Temperatura: %.1f°C (sensação %.1f°C)\n", c.Temperature, c.ApparentTemperature)
	fmt.Fprintf(&out, "Umidade: %.0f%%\n", c.Humidity)
	fmt.Fprintf(&out, "Vento: %.1f km/h\n", c.WindSpeed)
	fmt.Fprintf(&out, "Precipitação: %.1f mm\n", c.Precipitation)

	d := forecast.Daily
	if len(d.Time) > 0 {
		out.WriteString("Previsão:\n")
		for i, day := range d.Time {
			if i >= len(d.MaxTemp) || i >= len(d.MinTemp) {
				break
			}
			line := fmt.Sprintf("- %s: %.1f°C / %.1f°C", day, d.MinTemp[i], d.MaxTemp[i])
			if i < len(d.WeatherCode) {
				line += ", " + weatherDescription(d.WeatherCode[i])
			}
			if i < len(d.Precipitation) {
				line += fmt.Sprintf(", %.1f mm", d.Precipitation[i])
			}
			out.WriteString(line + "\n")
		}
	}
	return strings.TrimSpace(out.String()), nil
}

func weatherDescription(code int) string {
	if desc, ok := weatherCodes[code]; ok {
		return desc
	}
	return fmt.Sprintf("Código %d", code)
}
