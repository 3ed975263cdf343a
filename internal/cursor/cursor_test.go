package cursor

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type pivot struct {
	At time.Time `json:"at"`
	ID int       `json:"id"`
}

func TestEncodeDecode(t *testing.T) {
	a := assert.New(t)

	in := pivot{At: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), ID: 42}

	s, err := Encode(in)
	a.NoError(err)
	a.NotContains(s, "=")
	a.NotContains(s, "+")
	a.NotContains(s, "/")

	var out pivot
	a.True(Decode(s, &out))
	a.True(in.At.Equal(out.At))
	a.Equal(in.ID, out.ID)
}

func TestDecodeMalformed(t *testing.T) {
	for _, tc := range []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"whitespace", "   "},
		{"not base64", "!!!not-base64***"},
		{"not json", "bm90IGpzb24"},
		{"wrong shape", "WzEsMiwzXQ"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			a := assert.New(t)

			var out pivot
			a.False(Decode(tc.input, &out))
		})
	}
}

func TestDecodeToleratesPadding(t *testing.T) {
	a := assert.New(t)

	s, err := Encode(map[string]int{"a": 1})
	a.NoError(err)

	var out map[string]int
	a.True(Decode(s+strings.Repeat("=", (4-len(s)%4)%4), &out))
	a.Equal(1, out["a"])
}

func TestTagged(t *testing.T) {
	a := assert.New(t)

	s, err := EncodeTagged("live", pivot{ID: 7})
	a.NoError(err)

	var out pivot
	a.True(DecodeTagged(s, "live", &out))
	a.Equal(7, out.ID)

	var other pivot
	a.False(DecodeTagged(s, "ranked", &other))
	a.Equal(0, other.ID)

	plain, err := Encode(pivot{ID: 9})
	a.NoError(err)
	a.False(DecodeTagged(plain, "live", &other))
}
