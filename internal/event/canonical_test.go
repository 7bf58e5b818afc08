package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical_SortedKeys(t *testing.T) {
	out, err := MarshalCanonical(map[string]any{
		"zebra": "z",
		"apple": "a",
		"mango": int64(3),
	})
	require.NoError(t, err)
	assert.Equal(t, `{"apple":"a","mango":3,"zebra":"z"}`, string(out))
}

func TestMarshalCanonical_Nested(t *testing.T) {
	out, err := MarshalCanonical(map[string]any{
		"counters": map[string]int64{"total": 3, "labels.good": 2},
		"list":     []any{"b", 1, true},
		"names":    []string{"x"},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"counters":{"labels.good":2,"total":3},"list":["b",1,true],"names":["x"]}`, string(out))
}

func TestMarshalCanonical_NoHTMLEscape(t *testing.T) {
	out, err := MarshalCanonical("<a&b>")
	require.NoError(t, err)
	assert.Equal(t, `"<a&b>"`, string(out))
}

func TestMarshalCanonical_LineSeparators(t *testing.T) {
	out, err := MarshalCanonical("a\u2028b\u2029c")
	require.NoError(t, err)
	assert.Equal(t, "\"a\u2028b\u2029c\"", string(out))

	// A literal backslash followed by u2028 text stays escaped.
	out, err = MarshalCanonical("a\\u2028")
	require.NoError(t, err)
	assert.Equal(t, `"a\\u2028"`, string(out))
}

func TestMarshalCanonical_NFC(t *testing.T) {
	// "e" + combining acute normalizes to the precomposed form.
	out, err := MarshalCanonical("cafe\u0301")
	require.NoError(t, err)
	assert.Equal(t, "\"caf\u00e9\"", string(out))
}

func TestMarshalCanonical_Rejects(t *testing.T) {
	_, err := MarshalCanonical(nil)
	assert.Error(t, err)

	_, err = MarshalCanonical(0.5)
	assert.Error(t, err)

	_, err = MarshalCanonical(map[string]any{"x": struct{}{}})
	assert.Error(t, err)
}
