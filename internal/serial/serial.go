package serial

import (
	"crypto/rand"
	"fmt"
	"strings"
)

const (
	alphabet     = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	serialLength = 20
	gtinLength   = 14

	// Largest multiple of len(alphabet) that fits in a byte. Bytes at or
	// above this are rejected so every character is equally likely.
	maxRandByte = 256 - 256%len(alphabet)
)

// New generates a collision-resistant serial code. 20 characters over a
// 62-character alphabet gives ~119 bits of entropy, far beyond what the
// 50k-labels-per-request limit needs.
func New() string {
	out := make([]byte, 0, serialLength)
	buf := make([]byte, serialLength*2)
	for {
		if _, err := rand.Read(buf); err != nil {
			// crypto/rand never fails on supported platforms
			panic(err)
		}
		for _, b := range buf {
			if int(b) >= maxRandByte {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == serialLength {
				return string(out)
			}
		}
	}
}

// DigitalLink renders a GS1 digital link URI for a label. The GTIN is
// left-padded to 14 digits, the serial is embedded as the 21 key qualifier.
func DigitalLink(domain, gtin, serial string) string {
	return fmt.Sprintf("https://%s/01/%s/21/%s", domain, PadGTIN(gtin), serial)
}

// PadGTIN left-pads a GTIN to 14 characters per GS1 standards.
func PadGTIN(gtin string) string {
	if len(gtin) >= gtinLength {
		return gtin
	}
	return strings.Repeat("0", gtinLength-len(gtin)) + gtin
}

// ValidGTIN reports whether gtin is an 8, 12, 13 or 14 digit code.
func ValidGTIN(gtin string) bool {
	switch len(gtin) {
	case 8, 12, 13, 14:
	default:
		return false
	}
	for _, r := range gtin {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
