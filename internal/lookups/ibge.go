package lookups

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const ibgeEndpoint = "https://servicodados.ibge.gov.br/api/v1/localidades"

type ibgeRegion struct {
	ID    int    `json:"id"`
	Sigla string `json:"sigla"`
	Nome  string `json:"nome"`
}

type ibgeState struct {
	ID     int        `json:"id"`
	Sigla  string     `json:"sigla"`
	Nome   string     `json:"nome"`
	Regiao ibgeRegion `json:"regiao"`
}

type ibgeMunicipality struct {
	ID           int    `json:"id"`
	Nome         string `json:"nome"`
	Microrregiao *struct {
		Nome        string `json:"nome"`
		Mesorregiao *struct {
			Nome string     `json:"nome"`
			UF   *ibgeState `json:"UF"`
		} `json:"mesorregiao"`
	} `json:"microrregiao"`
}

func (m ibgeMunicipality) uf() *ibgeState {
	if m.Microrregiao == nil || m.Microrregiao.Mesorregiao == nil {
		return nil
	}
	return m.Microrregiao.Mesorregiao.UF
}

// IBGE looks up Brazilian states and municipalities on the IBGE localities API.
type IBGE struct {
	fetcher
}

// Name returns the capability name.
func (IBGE) Name() string { return "consulta_ibge" }

// Description returns the capability description for the model.
func (IBGE) Description() string {
	return "Consulta dados geográficos do Brasil no IBGE: estados (sigla ou nome completo) com região, ou municípios com código IBGE, microrregião e mesorregião."
}

// Schema returns the JSON schema for consulta_ibge args.
func (IBGE) Schema() map[string]any {
	return stringSchema([]string{"query"}, map[string]string{
		"query": "Sigla ou nome de um estado (SP, São Paulo) ou nome de um município (Campinas)",
	})
}

// Invoke resolves the query as a UF, then a state name, then a municipality.
func (g IBGE) Invoke(ctx context.Context, args map[string]any) (string, error) {
	query, err := stringArg(args, "query")
	if err != nil {
		return "", err
	}

	if len([]rune(query)) == 2 {
		var state ibgeState
		err := g.getJSON(ctx, ibgeEndpoint+"/estados/"+strings.ToUpper(query), nil, &state)
		if errors.Is(err, errNotFound) || (err == nil && state.ID == 0) {
			return "", fmt.Errorf("estado %q não encontrado", query)
		}
		if err != nil {
			return "", fmt.Errorf("consulta IBGE %s: %w", query, err)
		}
		return formatState(state), nil
	}

	var states []ibgeState
	if err := g.getJSON(ctx, ibgeEndpoint+"/estados", nil, &states); err != nil {
		return "", fmt.Errorf("consulta IBGE estados: %w", err)
	}
	for _, s := range states {
		if strings.EqualFold(s.Nome, query) {
			return formatState(s), nil
		}
	}

	var municipalities []ibgeMunicipality
	if err := g.getJSON(ctx, ibgeEndpoint+"/municipios", nil, &municipalities); err != nil {
		return "", fmt.Errorf("consulta IBGE municípios: %w", err)
	}
	needle := strings.ToLower(query)
	var matches []ibgeMunicipality
	for _, m := range municipalities {
		name := strings.ToLower(m.Nome)
		if name == needle {
			return formatMunicipality(m), nil
		}
		if strings.Contains(name, needle) {
			matches = append(matches, m)
		}
	}

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("município %q não encontrado", query)
	case 1:
		return formatMunicipality(matches[0]), nil
	}
	var out strings.Builder
	fmt.Fprintf(&out, "Encontrados %d municípios para %q. Seja mais específico. Opções:\n", len(matches), query)
	for _, m := range matches[:min(5, len(matches))] {
		uf := "?"
		if s := m.uf(); s != nil {
			uf = s.Sigla
		}
		fmt.Fprintf(&out, "- %s (%s)\n", m.Nome, uf)
	}
	return strings.TrimSpace(out.String()), nil
}

func formatState(s ibgeState) string {
	var out strings.Builder
	fmt.Fprintf(&out, "Estado: %s (%s)\n", s.Nome, s.Sigla)
	fmt.Fprintf(&out, "Código IBGE: %d\n", s.ID)
	writeField(&out, "Região", s.Regiao.Nome)
	return strings.TrimSpace(out.String())
}

func formatMunicipality(m ibgeMunicipality) string {
	var out strings.Builder
	fmt.Fprintf(&out, "Município: %s\n", m.Nome)
	fmt.Fprintf(&out, "Código IBGE: %d\n", m.ID)
	if m.Microrregiao != nil {
		writeField(&out, "Microrregião", m.Microrregiao.Nome)
		if m.Microrregiao.Mesorregiao != nil {
			writeField(&out, "Mesorregião", m.Microrregiao.Mesorregiao.Nome)
		}
	}
	if s := m.uf(); s != nil {
		writeField(&out, "Estado", fmt.Sprintf("%s (%s)", s.Nome, s.Sigla))
		writeField(&out, "Região", s.Regiao.Nome)
	}
	return strings.TrimSpace(out.String())
}
