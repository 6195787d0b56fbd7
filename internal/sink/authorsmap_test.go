package sink

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeAuthorsMapPreservesOrder(t *testing.T) {
	t.Parallel()

	m := map[string]string{
		"Zahra": "Uni Z",
		"Ali":   "Uni A",
		"Mina":  "Uni M",
	}
	names := []string{"Zahra", "Ali", "Mina"}

	got := encodeAuthorsMap(names, m)
	require.Equal(t, `{"Zahra": "Uni Z", "Ali": "Uni A", "Mina": "Uni M"}`, got)

	// Round-trips as valid JSON.
	var decoded map[string]string
	require.NoError(t, json.Unmarshal([]byte(got), &decoded))
	require.Equal(t, m, decoded)
}

func TestEncodeAuthorsMapEmpty(t *testing.T) {
	t.Parallel()

	require.Equal(t, "{}", encodeAuthorsMap(nil, nil))
	require.Equal(t, "{}", encodeAuthorsMap([]string{"Ali"}, map[string]string{}))
}

func TestEncodeAuthorsMapLeftoverKeys(t *testing.T) {
	t.Parallel()

	m := map[string]string{"Ali": "Uni A", "Extra": "Uni E"}
	got := encodeAuthorsMap([]string{"Ali"}, m)

	var decoded map[string]string
	require.NoError(t, json.Unmarshal([]byte(got), &decoded))
	require.Equal(t, m, decoded)
}

func TestEncodeAuthorsMapEscapesQuotes(t *testing.T) {
	t.Parallel()

	m := map[string]string{`A "B"`: `Place, "quoted"`}
	got := encodeAuthorsMap([]string{`A "B"`}, m)

	var decoded map[string]string
	require.NoError(t, json.Unmarshal([]byte(got), &decoded))
	require.Equal(t, m, decoded)
}
