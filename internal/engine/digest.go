package engine

import (
	"encoding/json"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/lox/yieldwise/internal/features"
)

// CorpusDigest fingerprints a training corpus. Editing any example, such as
// correcting a recorded yield, changes the digest.
func CorpusDigest(examples []features.Example) string {
	h := xxhash.New()
	enc := json.NewEncoder(h)
	for _, ex := range examples {
		enc.Encode(ex)
	}
	return strconv.FormatUint(h.Sum64(), 16)
}
