package api

import (
	"strconv"
	"strings"

	"github.com/veriledger/veriledger/pkg/contracts"
)

// ParseIfMatch extracts the expected aggregate version from an If-Match
// header: an optional W/ prefix, optional surrounding double quotes, and a
// decimal integer. Every other form, including an absent header, is a
// BadRequest — clients must state the version they built on, "0" included.
func ParseIfMatch(header string) (int64, error) {
	raw := strings.TrimSpace(header)
	if raw == "" {
		return 0, contracts.NewFault(contracts.BadRequest,
			`If-Match header is required (use "0" for a first append)`)
	}

	raw = strings.TrimPrefix(raw, "W/")
	if len(raw) >= 2 && strings.HasPrefix(raw, `"`) && strings.HasSuffix(raw, `"`) {
		raw = raw[1 : len(raw)-1]
	}

	version, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || version < 0 {
		return 0, contracts.Faultf(contracts.BadRequest,
			"If-Match header %q is not a version number", header)
	}
	return version, nil
}
