// Package roomname generates memorable room identifiers such as
// "happy-otter-ramen-comet".
package roomname

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// Words is the number of words in a generated name.
const Words = 4

// Generate returns Words random words, each from a different pool, joined
// with hyphens.
func Generate() (string, error) {
	order := make([]int, len(lists))
	for i := range order {
		order[i] = i
	}
	// Partial Fisher-Yates: the first Words entries become the chosen pools.
	for i := 0; i < Words; i++ {
		j, err := randomIndex(len(order) - i)
		if err != nil {
			return "", err
		}
		order[i], order[i+j] = order[i+j], order[i]
	}

	words := make([]string, Words)
	for i := range words {
		pool := lists[order[i]]
		n, err := randomIndex(len(pool))
		if err != nil {
			return "", err
		}
		words[i] = pool[n]
	}
	return strings.Join(words, "-"), nil
}

// randomIndex returns a cryptographically secure random index below max.
func randomIndex(max int) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, err
	}
	return int(n.Int64()), nil
}
