package crypto

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

const fingerprintContext = "credcore fingerprint v1"

// Fingerprinter produces keyed digests of plaintext secrets. Equal secrets
// get equal fingerprints, so duplicates can be grouped without comparing
// plaintexts pairwise, and the digests are useless without the key.
type Fingerprinter struct {
	key []byte
}

func NewFingerprinter(raw string) (*Fingerprinter, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: empty", ErrKeyMaterial)
	}
	key, err := DeriveSubkey([]byte(raw), fingerprintContext)
	if err != nil {
		return nil, err
	}
	return &Fingerprinter{key: key}, nil
}

// Sum returns the hex fingerprint of plaintext.
func (f *Fingerprinter) Sum(plaintext string) string {
	h, err := blake3.NewKeyed(f.key)
	if err != nil {
		// key is always KeySize bytes
		panic(err)
	}
	_, _ = h.Write([]byte(plaintext))
	return hex.EncodeToString(h.Sum(nil))
}

// Close wipes the fingerprint key.
func (f *Fingerprinter) Close() {
	zeroBytes(f.key)
}
