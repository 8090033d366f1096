package api_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veriledger/veriledger/pkg/api"
	"github.com/veriledger/veriledger/pkg/contracts"
)

func TestParseIfMatch_Grammar(t *testing.T) {
	valid := map[string]int64{
		`0`:      0,
		`"0"`:    0,
		`7`:      7,
		`"41"`:   41,
		`W/"3"`:  3,
		`W/5`:    5,
		` "2" `:  2,
		`W/"10"`: 10,
	}
	for header, want := range valid {
		got, err := api.ParseIfMatch(header)
		require.NoError(t, err, header)
		assert.Equal(t, want, got, header)
	}

	invalid := []string{
		``,
		`abc`,
		`"-1"`,
		`-1`,
		`"1.5"`,
		`'7'`,
		`w/"1"`,
		`"`,
		`""`,
		`1 2`,
		`"18446744073709551616"`,
	}
	for _, header := range invalid {
		_, err := api.ParseIfMatch(header)
		require.Error(t, err, header)
		assert.True(t, contracts.IsKind(err, contracts.BadRequest), header)
	}
}
