package lookups

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const pokeAPIEndpoint = "https://pokeapi.co/api/v2"

var pokemonStatNames = map[string]string{
	"hp":              "HP",
	"attack":          "Ataque",
	"defense":         "Defesa",
	"special-attack":  "Atq. Especial",
	"special-defense": "Def. Especial",
	"speed":           "Velocidade",
}

// Pokemon looks up a Pokémon by name or Pokédex number on PokéAPI.
type Pokemon struct {
	fetcher
}

// Name returns the capability name.
func (Pokemon) Name() string { return "consulta_pokemon" }

// Description returns the capability description for the model.
func (Pokemon) Description() string {
	return "Consulta um Pokémon pelo nome em inglês ou número da Pokédex: tipos, altura, peso, habilidades e estatísticas base."
}

// Schema returns the JSON schema for consulta_pokemon args.
func (Pokemon) Schema() map[string]any {
	return stringSchema([]string{"identifier"}, map[string]string{
		"identifier": "Nome do Pokémon (em inglês) ou número da Pokédex, por exemplo pikachu ou 25",
	})
}

// Invoke queries PokéAPI and formats the Pokémon summary.
func (p Pokemon) Invoke(ctx context.Context, args map[string]any) (string, error) {
	id, err := stringArg(args, "identifier")
	if err != nil {
		return "", err
	}
	id = strings.ToLower(id)

	var payload struct {
		ID     int    `json:"id"`
		Name   string `json:"name"`
		Height int    `json:"height"`
		Weight int    `json:"weight"`
		Types  []struct {
			Type struct {
				Name string `json:"name"`
			} `json:"type"`
		} `json:"types"`
		Abilities []struct {
			Ability struct {
				Name string `json:"name"`
			} `json:"ability"`
		} `json:"abilities"`
		Stats []struct {
			BaseStat int `json:"base_stat"`
			Stat     struct {
				Name string `json:"name"`
			} `json:"stat"`
		} `json:"stats"`
	}
	err = p.getJSON(ctx, pokeAPIEndpoint+"/pokemon/"+url.PathEscape(id), nil, &payload)
	if errors.Is(err, errNotFound) {
		return "", fmt.Errorf("Pokémon %q não encontrado; verifique o nome ou número", id)
	}
	if err != nil {
		return "", fmt.Errorf("consulta Pokémon %s: %w", id, err)
	}

	types := make([]string, 0, len(payload.Types))
	for _, t := range payload.Types {
		types = append(types, titleCase(t.Type.Name))
	}
	abilities := make([]string, 0, len(payload.Abilities))
	for _, a := range payload.Abilities {
		abilities = append(abilities, titleCase(strings.ReplaceAll(a.Ability.Name, "-", " ")))
	}

	var out strings.Builder
	fmt.Fprintf(&out, "%s (#%03d)\n", titleCase(payload.Name), payload.ID)
	writeField(&out, "Tipo", strings.Join(types, " / "))
	fmt.Fprintf(&out, "Altura: %.1fm\n", float64(payload.Height)/10)
	fmt.Fprintf(&out, "Peso: %.1fkg\n", float64(payload.Weight)/10)
	writeField(&out, "Habilidades", strings.Join(abilities, ", "))
	if len(payload.Stats) > 0 {
		out.WriteString("Estatísticas base:\n")
		for _, s := range payload.Stats {
			label, ok := pokemonStatNames[s.Stat.Name]
			if !ok {
				label = titleCase(s.Stat.Name)
			}
			fmt.Fprintf(&out, "- %s: %d\n", label, s.BaseStat)
		}
	}
	return strings.TrimSpace(out.String()), nil
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
