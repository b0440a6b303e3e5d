package lookups

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const lyricsEndpoint = "https://api.lyrics.ovh/v1"

// Lyrics fetches song lyrics from lyrics.ovh.
type Lyrics struct {
	fetcher
}

// Name returns the capability name.
func (Lyrics) Name() string { return "consulta_letra_musica" }

// Description returns the capability description for the model.
func (Lyrics) Description() string {
	return "Consulta a letra completa de uma música a partir do nome do artista e da música."
}

// Schema returns the JSON schema for consulta_letra_musica args.
func (Lyrics) Schema() map[string]any {
	return stringSchema([]string{"artist", "song"}, map[string]string{
		"artist": "Nome do artista ou banda, por exemplo Legião Urbana",
		"song":   "Nome da música, por exemplo Faroeste Caboclo",
	})
}

// Invoke fetches the lyrics for artist and song.
func (l Lyrics) Invoke(ctx context.Context, args map[string]any) (string, error) {
	artist, err := stringArg(args, "artist")
	if err != nil {
		return "", err
	}
	song, err := stringArg(args, "song")
	if err != nil {
		return "", err
	}

	var payload struct {
		Lyrics string `json:"lyrics"`
	}
	endpoint := fmt.Sprintf("%s/%s/%s", lyricsEndpoint, url.PathEscape(artist), url.PathEscape(song))
	err = l.getJSON(ctx, endpoint, nil, &payload)
	if errors.Is(err, errNotFound) || (err == nil && strings.TrimSpace(payload.Lyrics) == "") {
		return "", fmt.Errorf("letra de %q de %q não encontrada; verifique a ortografia", song, artist)
	}
	if err != nil {
		return "", fmt.Errorf("consulta letra %s - %s: %w", artist, song, err)
	}
	return fmt.Sprintf("%s - %s\n\n%s", song, artist, strings.TrimSpace(payload.Lyrics)), nil
}
