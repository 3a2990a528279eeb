package model

import "strconv"

const (
	digitWindow     = 256
	digitConfidence = 0.9
)

// DigitToken is the optional number read off an image.
type DigitToken struct {
	Label string
	Score float64
}

// ExtractDigits emits a two-digit token when the byte sum of the first 256
// bytes, mod 100, is below 50. It returns nil otherwise.
func ExtractDigits(data []byte) *DigitToken {
	n := len(data)
	if n > digitWindow {
		n = digitWindow
	}
	sum := 0
	for _, b := range data[:n] {
		sum += int(b)
	}
	if sum%100 >= 50 {
		return nil
	}
	return &DigitToken{
		Label: strconv.Itoa(sum%90 + 10),
		Score: digitConfidence,
	}
}
