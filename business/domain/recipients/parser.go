// Package recipients turns raw batch text into an ordered, validated list of
// transfer targets. One `address, amount` pair per line, `#` starts a
// comment, amounts are in human units (no token decimals applied).
package recipients

import (
	"math/big"
	"strings"

	"github.com/battledoge/batch-transfer/entities"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// Normalization tags which step of the address pipeline accepted the input.
type Normalization uint8

const (
	// NormalizedChecksum means the input carried a valid EIP-55 checksum.
	NormalizedChecksum Normalization = iota
	// NormalizedLowercase means checksum validation failed and the
	// lowercased form was accepted instead.
	NormalizedLowercase
)

// Parse reads the raw recipient text and returns the entries in input order.
// Order is significant: it determines the send sequence.
func Parse(raw string) ([]entities.RecipientEntry, error) {
	var out []entities.RecipientEntry
	for idx, line := range strings.Split(raw, "\n") {
		lineNo := idx + 1
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		addrStr, amountStr, found := strings.Cut(line, ",")
		if !found {
			return nil, &entities.MalformedLineError{Line: lineNo, Text: line}
		}

		addr, _, err := NormalizeAddress(strings.TrimSpace(addrStr))
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", lineNo)
		}

		amountStr = strings.TrimSpace(amountStr)
		amount, ok := new(big.Int).SetString(amountStr, 10)
		if !ok || amount.Sign() <= 0 {
			return nil, &entities.InvalidAmountError{Line: lineNo, Amount: amountStr}
		}

		out = append(out, entities.RecipientEntry{Address: addr, AmountHuman: amount})
	}
	return out, nil
}

// NormalizeAddress validates an address in two steps: strict EIP-55 checksum
// first, then a lowercased retry. The tag reports which step accepted it.
func NormalizeAddress(s string) (common.Address, Normalization, error) {
	addr, err := checksummed(s)
	if err == nil {
		return addr, NormalizedChecksum, nil
	}
	addr, lowerErr := checksummed(strings.ToLower(s))
	if lowerErr != nil {
		// report the strict failure, it names the original input
		return common.Address{}, 0, err
	}
	return addr, NormalizedLowercase, nil
}

func checksummed(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, errors.Errorf("invalid address %q", s)
	}
	mixed, err := common.NewMixedcaseAddressFromString(s)
	if err != nil {
		return common.Address{}, errors.Wrapf(err, "parsing address %q", s)
	}
	// an all-lowercase or all-uppercase address carries no checksum
	if hasMixedCase(s) && !mixed.ValidChecksum() {
		return common.Address{}, errors.Errorf("invalid checksum for address %q", s)
	}
	return mixed.Address(), nil
}

func hasMixedCase(s string) bool {
	s = strings.TrimPrefix(s, "0x")
	return s != strings.ToLower(s) && s != strings.ToUpper(s)
}

// ApplySkip trims the first n entries for a resumed run. The caller keeps n
// to offset display and audit numbering.
func ApplySkip(entries []entities.RecipientEntry, n int) []entities.RecipientEntry {
	if n <= 0 {
		return entries
	}
	if n >= len(entries) {
		return nil
	}
	return entries[n:]
}
