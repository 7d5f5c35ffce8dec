package recipients

import (
	"math/big"
	"testing"

	"github.com/battledoge/batch-transfer/entities"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// valid EIP-55 checksummed addresses
const (
	checksumAddrA = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	checksumAddrB = "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359"
)

func TestParse_preservesInputOrder(t *testing.T) {
	raw := checksumAddrA + ", 1000\n" +
		checksumAddrB + ", 2000\n" +
		checksumAddrA + ", 3"

	entries, err := Parse(raw)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, checksumAddrA, entries[0].Address.Hex())
	assert.Equal(t, checksumAddrB, entries[1].Address.Hex())
	assert.Equal(t, checksumAddrA, entries[2].Address.Hex())
	assert.Equal(t, big.NewInt(1000), entries[0].AmountHuman)
	assert.Equal(t, big.NewInt(2000), entries[1].AmountHuman)
	assert.Equal(t, big.NewInt(3), entries[2].AmountHuman)
}

func TestParse_skipsBlankAndCommentLines(t *testing.T) {
	raw := "\n# first batch\n\n" + checksumAddrA + ", 42\n   \n# done\n"

	entries, err := Parse(raw)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, big.NewInt(42), entries[0].AmountHuman)
}

func TestParse_missingComma(t *testing.T) {
	raw := checksumAddrA + ", 1\n" + checksumAddrB + " 2"

	_, err := Parse(raw)
	var malformed *entities.MalformedLineError
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, 2, malformed.Line)
}

func TestParse_invalidAmounts(t *testing.T) {
	for _, amount := range []string{"0", "-5", "1.5", "abc", ""} {
		raw := checksumAddrA + ", " + amount
		_, err := Parse(raw)
		var invalid *entities.InvalidAmountError
		require.ErrorAs(t, err, &invalid, "amount %q", amount)
		assert.Equal(t, 1, invalid.Line)
	}
}

func TestNormalizeAddress_strictChecksum(t *testing.T) {
	addr, norm, err := NormalizeAddress(checksumAddrA)
	require.NoError(t, err)
	assert.Equal(t, NormalizedChecksum, norm)
	assert.Equal(t, checksumAddrA, addr.Hex())
}

func TestNormalizeAddress_lowercaseFallback(t *testing.T) {
	// all-lowercase carries no checksum information
	addr, norm, err := NormalizeAddress("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")
	require.NoError(t, err)
	assert.Equal(t, NormalizedLowercase, norm)
	assert.Equal(t, checksumAddrA, addr.Hex())
}

func TestNormalizeAddress_badChecksumFallsBackToLowercase(t *testing.T) {
	// flip the case of one letter so the checksum no longer matches
	bad := "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAeD"
	addr, norm, err := NormalizeAddress(bad)
	require.NoError(t, err)
	assert.Equal(t, NormalizedLowercase, norm)
	assert.Equal(t, checksumAddrA, addr.Hex())
}

func TestNormalizeAddress_invalidInput(t *testing.T) {
	_, _, err := NormalizeAddress("0x1234")
	require.Error(t, err)

	_, _, err = NormalizeAddress("not-an-address")
	require.Error(t, err)
}

func TestApplySkip(t *testing.T) {
	entries, err := Parse(checksumAddrA + ",1\n" + checksumAddrB + ",2\n" + checksumAddrA + ",3")
	require.NoError(t, err)

	assert.Len(t, ApplySkip(entries, 0), 3)
	assert.Len(t, ApplySkip(entries, -1), 3)

	skipped := ApplySkip(entries, 2)
	require.Len(t, skipped, 1)
	assert.Equal(t, big.NewInt(3), skipped[0].AmountHuman)

	assert.Nil(t, ApplySkip(entries, 3))
	assert.Nil(t, ApplySkip(entries, 10))
}
