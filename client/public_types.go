package client

import (
	"time"

	"github.com/ncmb/ncmb-go/client/internal/types"
)

// Public type aliases so SDK consumers can import only the client package.
type (
	ACL        = types.ACL
	Permission = types.Permission
	GeoPoint   = types.GeoPoint
	Pointer    = types.Pointer
	Value      = types.Value
	Kind       = types.Kind
)

// PublicSubject is the ACL subject that stands for everyone.
const PublicSubject = types.PublicSubject

// NewACL returns an empty ACL.
func NewACL() *ACL { return types.NewACL() }

// NewGeoPoint validates and returns a coordinate pair.
func NewGeoPoint(latitude, longitude float64) (GeoPoint, error) {
	return types.NewGeoPoint(latitude, longitude)
}

// FormatDate renders t in the wire layout 2006-01-02T15:04:05.000Z.
func FormatDate(t time.Time) string { return types.FormatDate(t) }
