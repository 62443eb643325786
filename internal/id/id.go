package id

import (
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Generate returns a 48-character nanoid using an alphanumeric alphabet (A-Za-z0-9).
func Generate() string {
	return GenerateN(48)
}

// GenerateN returns an n-character nanoid using the same alphabet as
// Generate. Used for shorter identifiers: thread-id random suffixes
// and the random part of coordinator-notification file names.
func GenerateN(n int) string {
	id, err := gonanoid.Generate(alphabet, n)
	if err != nil {
		panic(fmt.Sprintf("generate nanoid: %v", err))
	}
	return id
}
