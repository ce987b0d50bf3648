package ncm

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// descramble undoes the single-byte XOR layered on top of a blob. The input
// is left untouched.
func descramble(mask byte, data []byte) []byte {
	out := make([]byte, len(data))
	for i := range data {
		out[i] = data[i] ^ mask
	}
	return out
}

// newBlock creates the AES-128 block cipher for a profile key.
func newBlock(key [16]byte) cipher.Block {
	// aes.NewCipher only fails on a bad key length, which [16]byte rules out.
	block, err := aes.NewCipher(key[:])
	if err != nil {
		panic(err)
	}
	return block
}

// decryptECB decrypts AES-ECB ciphertext and strips PKCS#7 padding.
func decryptECB(block cipher.Block, ciphertext []byte) ([]byte, error) {
	bs := block.BlockSize()
	if len(ciphertext) == 0 || len(ciphertext)%bs != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d is not a multiple of %d", ErrCipher, len(ciphertext), bs)
	}

	plaintext := make([]byte, len(ciphertext))
	for i := 0; i < len(ciphertext); i += bs {
		block.Decrypt(plaintext[i:i+bs], ciphertext[i:i+bs])
	}

	return unpadPKCS7(plaintext, bs)
}

func unpadPKCS7(data []byte, blockSize int) ([]byte, error) {
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, fmt.Errorf("%w: bad padding length %d", ErrCipher, n)
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, fmt.Errorf("%w: inconsistent padding", ErrCipher)
		}
	}
	return data[:len(data)-n], nil
}
