package lifecycle

import (
	"crypto/rand"
	"math/big"
	"strconv"
)

// GeneratePIN returns a 4-digit task PIN drawn uniformly from [1000, 9999].
// Collisions across jobs are fine; verification is scoped per job.
func GeneratePIN() string {
	n, err := rand.Int(rand.Reader, big.NewInt(9000))
	if err != nil {
		// crypto/rand failing means the process is in serious trouble
		panic(err)
	}
	return strconv.FormatInt(n.Int64()+1000, 10)
}
