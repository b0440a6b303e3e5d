package lookups

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const viaCEPEndpoint = "https://viacep.com.br/ws"

// CEP looks up a Brazilian postal code on ViaCEP.
type CEP struct {
	fetcher
}

// Name returns the capability name.
func (CEP) Name() string { return "consulta_cep" }

// Description returns the capability description for the model.
func (CEP) Description() string {
	return "Consulta o endereço (logradouro, bairro, cidade, UF e DDD) de um CEP brasileiro de 8 dígitos, com ou sem hífen."
}

// Schema returns the JSON schema for consulta_cep args.
func (CEP) Schema() map[string]any {
	return stringSchema([]string{"cep"}, map[string]string{
		"cep": "CEP brasileiro, por exemplo 01310-100",
	})
}

// Invoke queries ViaCEP and formats the address.
func (c CEP) Invoke(ctx context.Context, args map[string]any) (string, error) {
	raw, err := stringArg(args, "cep")
	if err != nil {
		return "", err
	}
	digits := onlyDigits(raw)
	if len(digits) != 8 {
		return "", fmt.Errorf("CEP inválido %q: deve conter 8 dígitos", raw)
	}

	var payload struct {
		CEP         string `json:"cep"`
		Logradouro  string `json:"logradouro"`
		Complemento string `json:"complemento"`
		Bairro      string `json:"bairro"`
		Localidade  string `json:"localidade"`
		UF          string `json:"uf"`
		DDD         string `json:"ddd"`
		IBGE        string `json:"ibge"`
		// ViaCEP answers unknown codes with 200 and {"erro": true}; older
		// deployments send the string "true".
		Erro any `json:"erro"`
	}
	err = c.getJSON(ctx, fmt.Sprintf("%s/%s/json/", viaCEPEndpoint, digits), nil, &payload)
	if errors.Is(err, errNotFound) || (err == nil && payload.Erro != nil && payload.Erro != false) {
		return "", fmt.Errorf("CEP %s não encontrado", raw)
	}
	if err != nil {
		return "", fmt.Errorf("consulta CEP %s: %w", raw, err)
	}

	var out strings.Builder
	fmt.Fprintf(&out, "CEP %s\n", firstNonEmpty(payload.CEP, raw))
	writeField(&out, "Logradouro", payload.Logradouro)
	writeField(&out, "Complemento", payload.Complemento)
	writeField(&out, "Bairro", payload.Bairro)
	writeField(&out, "Cidade", payload.Localidade)
	writeField(&out, "Estado", payload.UF)
	writeField(&out, "DDD", payload.DDD)
	writeField(&out, "Código IBGE", payload.IBGE)
	return strings.TrimSpace(out.String()), nil
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func writeField(b *strings.Builder, label, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	fmt.Fprintf(b, "%s: %s\n", label, value)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
