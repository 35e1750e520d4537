package types

import (
	"time"

	ncmberrors "github.com/ncmb/ncmb-go/client/internal/errors"
)

// DateLayout is the wire format of every timestamp: millisecond precision, UTC,
// literal Z suffix.
const DateLayout = "2006-01-02T15:04:05.000Z"

// FormatDate renders t in DateLayout.
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// ParseDate parses a wire timestamp. RFC 3339 input is tolerated for values
// written by older clients.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err == nil {
		return t, nil
	}
	t, err = time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, ncmberrors.Wrap(ncmberrors.CodeInvalidType, err, "invalid date %q", s)
	}
	return t.UTC(), nil
}
