package lookups

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

const openLibraryEndpoint = "https://openlibrary.org/search.json"

const openLibraryFields = "key,title,author_name,first_publish_year,isbn,publisher,number_of_pages_median,subject,language,cover_i"

// Filler words users add around a title ("livro sobre o ...") that hurt
// Open Library relevance.
var bookStopWords = map[string]bool{
	"de": true, "do": true, "da": true, "dos": true, "das": true,
	"o": true, "a": true, "os": true, "as": true,
	"em": true, "no": true, "na": true,
	"por": true, "pelo": true, "pela": true,
	"livro": true, "book": true, "by": true, "the": true, "of": true, "about": true, "sobre": true,
}

// Book searches books on Open Library.
type Book struct {
	fetcher
}

// Name returns the capability name.
func (Book) Name() string { return "consulta_livro" }

// Description returns the capability description for the model.
func (Book) Description() string {
	return "Consulta livros na Open Library por título ou autor: autores, ano da primeira publicação, editora, páginas, ISBN, idiomas e assuntos."
}

// Schema returns the JSON schema for consulta_livro args.
func (Book) Schema() map[string]any {
	return stringSchema([]string{"query"}, map[string]string{
		"query": "Título e/ou autor do livro, por exemplo Dom Casmurro Machado de Assis",
	})
}

// Invoke searches Open Library and formats the most relevant result.
func (b Book) Invoke(ctx context.Context, args map[string]any) (string, error) {
	query, err := stringArg(args, "query")
	if err != nil {
		return "", err
	}

	var payload struct {
		Docs []struct {
			Key              string   `json:"key"`
			Title            string   `json:"title"`
			AuthorName       []string `json:"author_name"`
			FirstPublishYear int      `json:"first_publish_year"`
			ISBN             []string `json:"isbn"`
			Publisher        []string `json:"publisher"`
			Pages            int      `json:"number_of_pages_median"`
			Subject          []string `json:"subject"`
			Language         []string `json:"language"`
		} `json:"docs"`
	}
	if err := b.getJSON(ctx, openLibraryEndpoint, url.Values{
		"q":      {cleanBookQuery(query)},
		"limit":  {"10"},
		"fields": {openLibraryFields},
	}, &payload); err != nil {
		return "", fmt.Errorf("consulta livro %s: %w", query, err)
	}
	if len(payload.Docs) == 0 {
		return "", fmt.Errorf("livro %q não encontrado; tente outro título ou autor", query)
	}

	book := payload.Docs[0]
	var out strings.Builder
	fmt.Fprintf(&out, "Livro: %s\n", book.Title)
	writeField(&out, "Autores", strings.Join(book.AuthorName[:min(3, len(book.AuthorName))], ", "))
	if book.FirstPublishYear > 0 {
		fmt.Fprintf(&out, "Primeira publicação: %d\n", book.FirstPublishYear)
	}
	if len(book.Publisher) > 0 {
		writeField(&out, "Editora", book.Publisher[0])
	}
	if book.Pages > 0 {
		fmt.Fprintf(&out, "Páginas: %d\n", book.Pages)
	}
	if len(book.ISBN) > 0 {
		writeField(&out, "ISBN", book.ISBN[0])
	}
	writeField(&out, "Idiomas", strings.Join(book.Language[:min(5, len(book.Language))], ", "))
	writeField(&out, "Assuntos", strings.Join(book.Subject[:min(5, len(book.Subject))], ", "))
	if book.Key != "" {
		writeField(&out, "Link", "https://openlibrary.org"+book.Key)
	}
	return strings.TrimSpace(out.String()), nil
}

func cleanBookQuery(query string) string {
	parts := strings.Fields(query)
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if !bookStopWords[strings.ToLower(p)] {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		return query
	}
	return strings.Join(kept, " ")
}
