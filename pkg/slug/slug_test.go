package slug

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTagID(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Jazz", "jazz"},
		{"Jazz Fusion", "jazz-fusion"},
		{"  JAZZ   fusion ", "jazz-fusion"},
		{"Hip-Hop/Rap", "hip-hop-rap"},
		{"Ｊａｚｚ", "jazz"},
		{"ÉLECTRO", "électro"},
		{"日本 ロック", "日本-ロック"},
		{"80s", "80s"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, TagID(tc.in), tc.in)
	}
}

func TestTagIDBlank(t *testing.T) {
	assert.Equal(t, "", TagID(""))
	assert.Equal(t, "", TagID("   \t"))
}

func TestTagIDPunctuationOnly(t *testing.T) {
	id := TagID("!!!")
	assert.True(t, strings.HasPrefix(id, "t-"), id)
	assert.Len(t, id, 18)
	assert.Equal(t, id, TagID("!!!"))
	assert.NotEqual(t, id, TagID("???"))
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Jazz Fusion", DisplayName("  Jazz \t Fusion "))
}
