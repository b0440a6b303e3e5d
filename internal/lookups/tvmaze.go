package lookups

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

const tvmazeEndpoint = "https://api.tvmaze.com/search/shows"

var htmlTag = regexp.MustCompile(`<[^>]*>`)

type tvShow struct {
	ID        int      `json:"id"`
	Name      string   `json:"name"`
	Type      string   `json:"type"`
	Language  string   `json:"language"`
	Genres    []string `json:"genres"`
	Status    string   `json:"status"`
	Premiered string   `json:"premiered"`
	Ended     string   `json:"ended"`
	Summary   string   `json:"summary"`
	Rating    struct {
		Average *float64 `json:"average"`
	} `json:"rating"`
	Network *struct {
		Name    string `json:"name"`
		Country *struct {
			Name string `json:"name"`
		} `json:"country"`
	} `json:"network"`
	WebChannel *struct {
		Name string `json:"name"`
	} `json:"webChannel"`
	Schedule struct {
		Time string   `json:"time"`
		Days []string `json:"days"`
	} `json:"schedule"`
	OfficialSite string `json:"officialSite"`
}

// TVShow searches TV series on TVMaze.
type TVShow struct {
	fetcher
}

// Name returns the capability name.
func (TVShow) Name() string { return "consulta_serie" }

// Description returns the capability description for the model.
func (TVShow) Description() string {
	return "Consulta séries de TV no TVMaze: gêneros, status, estreia, avaliação, emissora ou streaming, horário e sinopse."
}

// Schema returns the JSON schema for consulta_serie args.
func (TVShow) Schema() map[string]any {
	return stringSchema([]string{"query"}, map[string]string{
		"query": "Nome da série, por exemplo Breaking Bad",
	})
}

// Invoke searches TVMaze. An exact title match wins; more than three fuzzy
// matches return a disambiguation list.
func (s TVShow) Invoke(ctx context.Context, args map[string]any) (string, error) {
	query, err := stringArg(args, "query")
	if err != nil {
		return "", err
	}

	var results []struct {
		Show tvShow `json:"show"`
	}
	if err := s.getJSON(ctx, tvmazeEndpoint, url.Values{"q": {query}}, &results); err != nil {
		return "", fmt.Errorf("consulta série %s: %w", query, err)
	}
	if len(results) == 0 {
		return "", fmt.Errorf("série %q não encontrada", query)
	}

	for _, r := range results {
		if strings.EqualFold(r.Show.Name, query) {
			return formatShow(r.Show), nil
		}
	}
	if len(results) > 3 {
		var out strings.Builder
		fmt.Fprintf(&out, "Encontradas %d séries para %q. Seja mais específico. Opções:\n", len(results), query)
		for _, r := range results[:min(5, len(results))] {
			year := "N/A"
			if len(r.Show.Premiered) >= 4 {
				year = r.Show.Premiered[:4]
			}
			fmt.Fprintf(&out, "- %s (%s)\n", r.Show.Name, year)
		}
		return strings.TrimSpace(out.String()), nil
	}
	return formatShow(results[0].Show), nil
}

func formatShow(show tvShow) string {
	var out strings.Builder
	fmt.Fprintf(&out, "Série: %s\n", show.Name)
	writeField(&out, "Tipo", show.Type)
	writeField(&out, "Idioma", show.Language)
	writeField(&out, "Gêneros", strings.Join(show.Genres, ", "))
	writeField(&out, "Status", show.Status)
	writeField(&out, "Estreia", show.Premiered)
	writeField(&out, "Término", show.Ended)
	if show.Rating.Average != nil {
		fmt.Fprintf(&out, "Avaliação: %.1f/10\n", *show.Rating.Average)
	}
	switch {
	case show.Network != nil:
		network := show.Network.Name
		if show.Network.Country != nil && show.Network.Country.Name != "" {
			network += " (" + show.Network.Country.Name + ")"
		}
		writeField(&out, "Emissora", network)
	case show.WebChannel != nil:
		writeField(&out, "Streaming", show.WebChannel.Name)
	}
	if len(show.Schedule.Days) > 0 && show.Schedule.Time != "" {
		writeField(&out, "Horário", strings.Join(show.Schedule.Days, ", ")+" às "+show.Schedule.Time)
	}
	writeField(&out, "Site oficial", show.OfficialSite)
	if summary := strings.TrimSpace(htmlTag.ReplaceAllString(show.Summary, "")); summary != "" {
		if len([]rune(summary)) > 500 {
			summary = string([]rune(summary)[:500]) + "..."
		}
		writeField(&out, "Sinopse", summary)
	}
	return strings.TrimSpace(out.String())
}
