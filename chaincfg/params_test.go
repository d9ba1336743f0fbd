package chaincfg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubsidyHalves(t *testing.T) {
	p := &MainNetParams
	assert.Equal(t, int64(50*1e8), p.Subsidy(0), "genesis subsidy")
	assert.Equal(t, int64(25*1e8), p.Subsidy(210000), "subsidy at first halving")
	assert.Zero(t, p.Subsidy(210000*64), "subsidy after 64 halvings should be 0")
}

func TestRegressionActivatesEverythingFromGenesis(t *testing.T) {
	p := &RegressionNetParams
	assert.Zero(t, p.BIP0034Height)
	assert.Zero(t, p.BIP0141Height)
}
