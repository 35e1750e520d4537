package types

import (
	ncmberrors "github.com/ncmb/ncmb-go/client/internal/errors"
)

// GeoPoint is a latitude/longitude pair in degrees.
type GeoPoint struct {
	Latitude  float64
	Longitude float64
}

// NewGeoPoint validates the coordinate ranges.
func NewGeoPoint(latitude, longitude float64) (GeoPoint, error) {
	if latitude < -90 || latitude > 90 {
		return GeoPoint{}, ncmberrors.New(ncmberrors.CodeGeneric, "latitude %v out of range [-90, 90]", latitude)
	}
	if longitude < -180 || longitude > 180 {
		return GeoPoint{}, ncmberrors.New(ncmberrors.CodeGeneric, "longitude %v out of range [-180, 180]", longitude)
	}
	return GeoPoint{Latitude: latitude, Longitude: longitude}, nil
}

// Pointer references another entity by class and objectId.
type Pointer struct {
	ClassName string
	ObjectID  string
}

// PointerTarget is implemented by every entity that can be referenced.
type PointerTarget interface {
	ClassName() string
	ObjectID() string
}

// PointerTo builds a Pointer for target. An entity that was never saved has no
// objectId and cannot be referenced.
func PointerTo(target PointerTarget) (Pointer, error) {
	if target == nil {
		return Pointer{}, ncmberrors.New(ncmberrors.CodeGeneric, "nil pointer target")
	}
	if target.ObjectID() == "" {
		return Pointer{}, ncmberrors.New(ncmberrors.CodeGeneric, "%s has no objectId; save it before referencing", target.ClassName())
	}
	return Pointer{ClassName: target.ClassName(), ObjectID: target.ObjectID()}, nil
}
