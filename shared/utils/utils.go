package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

const (
	idCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	idLength  = 10
)

// GenerateID generates a unique ID with the given prefix
func GenerateID(prefix string) string {
	result := make([]byte, idLength)
	for i := range result {
		num, _ := rand.Int(rand.Reader, big.NewInt(int64(len(idCharset))))
		result[i] = idCharset[num.Int64()]
	}

	return fmt.Sprintf("%s-%s", prefix, string(result))
}

// ValidateTransferReference validates the transfer reference format
func ValidateTransferReference(reference string) bool {
	return strings.HasPrefix(reference, "trf-") && len(reference) == len("trf-")+idLength
}

// ParseAccountID parses a path segment into a positive account ID
func ParseAccountID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
