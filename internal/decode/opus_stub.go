//go:build !opus

package decode

// NewDecoder creates the default decoder when opus support is not compiled
// in: raw bytes are interpreted directly as canonical PCM.
func NewDecoder() Decoder {
	return NewPCMDecoder()
}
