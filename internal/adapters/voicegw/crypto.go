package voicegw

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	modeAES256GCM  = "aead_aes256_gcm_rtpsize"
	modeXChaCha20  = "aead_xchacha20_poly1305_rtpsize"
	modeXSalsa20   = "xsalsa20_poly1305"
	secretKeyBytes = 32
)

// preferredModes is ordered best first.
var preferredModes = []string{modeAES256GCM, modeXChaCha20, modeXSalsa20}

func chooseMode(offered []string) (string, error) {
	set := make(map[string]bool, len(offered))
	for _, m := range offered {
		set[m] = true
	}
	for _, m := range preferredModes {
		if set[m] {
			return m, nil
		}
	}
	return "", fmt.Errorf("no supported encryption mode in %v", offered)
}

// sealer encrypts one opus frame behind its RTP header.
type sealer interface {
	Seal(header, opus []byte) []byte
}

func newSealer(mode string, key []byte) (sealer, error) {
	if len(key) != secretKeyBytes {
		return nil, fmt.Errorf("secret key must be %d bytes, got %d", secretKeyBytes, len(key))
	}
	switch mode {
	case modeAES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, err
		}
		return &rtpSizeSealer{aead: aead}, nil
	case modeXChaCha20:
		aead, err := chacha20poly1305.NewX(key)
		if err != nil {
			return nil, err
		}
		return &rtpSizeSealer{aead: aead}, nil
	case modeXSalsa20:
		s := &secretboxSealer{}
		copy(s.key[:], key)
		return s, nil
	}
	return nil, fmt.Errorf("unsupported encryption mode %q", mode)
}

// rtpSizeSealer implements the *_rtpsize modes: the header is authenticated
// but not encrypted and a 32-bit nonce counter trails the ciphertext.
type rtpSizeSealer struct {
	aead    cipher.AEAD
	counter uint32
}

func (s *rtpSizeSealer) Seal(header, opus []byte) []byte {
	nonce := make([]byte, s.aead.NonceSize())
	binary.BigEndian.PutUint32(nonce, s.counter)
	s.counter++

	out := make([]byte, len(header), len(header)+len(opus)+s.aead.Overhead()+4)
	copy(out, header)
	out = s.aead.Seal(out, nonce, opus, header)
	return append(out, nonce[:4]...)
}

// secretboxSealer uses the RTP header, zero padded, as the nonce.
type secretboxSealer struct {
	key [32]byte
}

func (s *secretboxSealer) Seal(header, opus []byte) []byte {
	var nonce [24]byte
	copy(nonce[:], header)
	out := make([]byte, len(header), len(header)+len(opus)+secretbox.Overhead)
	copy(out, header)
	return secretbox.Seal(out, opus, &nonce, &s.key)
}
