// internal/game/words.go
package game

import (
	"crypto/rand"
	"math/big"
)

// WordPool is the fixed pool the crew's secret word is drawn from.
var WordPool = []string{
	"apple",
	"river",
	"castle",
	"forest",
	"banana",
	"mountain",
	"desert",
	"ocean",
	"piano",
	"rocket",
	"garden",
	"island",
}

// cryptoIntn returns a uniform random int in [0, n) from crypto/rand.
func cryptoIntn(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		// crypto/rand only fails if the OS entropy source is broken;
		// nothing sensible to do but crash.
		panic(err)
	}
	return int(v.Int64())
}

// cryptoShuffle is a Fisher-Yates shuffle driven by crypto/rand.
func cryptoShuffle(items []string) {
	for i := len(items) - 1; i > 0; i-- {
		j := cryptoIntn(i + 1)
		items[i], items[j] = items[j], items[i]
	}
}

func pickSecretWord() string {
	return WordPool[cryptoIntn(len(WordPool))]
}

func pickImpostor(conns []string) string {
	return conns[cryptoIntn(len(conns))]
}
