package id

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerate_Length(t *testing.T) {
	id := Generate()
	assert.Len(t, id, 48)
}

func TestGenerate_ValidCharacters(t *testing.T) {
	valid := regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	id := Generate()
	assert.True(t, valid.MatchString(id), "id contains invalid characters: %q", id)
}

func TestGenerate_Unique(t *testing.T) {
	a := Generate()
	b := Generate()
	assert.NotEqual(t, a, b, "two consecutive calls produced the same ID")
}

func TestGenerateN_Length(t *testing.T) {
	assert.Len(t, GenerateN(6), 6)
	assert.Len(t, GenerateN(0), 0)
}

func TestGenerateN_Unique(t *testing.T) {
	a := GenerateN(8)
	b := GenerateN(8)
	assert.NotEqual(t, a, b)
}
