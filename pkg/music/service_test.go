package music

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPageNormalize(t *testing.T) {
	assert.Equal(t, Page{Limit: DefaultPageLimit}, Page{}.Normalize())
	assert.Equal(t, Page{Limit: MaxPageLimit, Offset: 10}, Page{Limit: 500, Offset: 10}.Normalize())
	assert.Equal(t, Page{Limit: 5}, Page{Limit: 5, Offset: -3}.Normalize())
}

func TestPageRequestOptions(t *testing.T) {
	assert.Len(t, Page{Limit: 7, Offset: 14}.RequestOptions(), 2)
}
