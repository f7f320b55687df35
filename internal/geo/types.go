// Package geo resolves a user's position into a country name through a
// reverse-geocoding service.
package geo

import "context"

// Coordinates is a WGS84 position.
type Coordinates struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

// Permission is the outcome of asking the host for location access.
type Permission int

const (
	PermissionDenied Permission = iota
	PermissionGranted
)

// PositionSource is the host platform's location API.
type PositionSource interface {
	RequestPermission(ctx context.Context) (Permission, error)
	CurrentPosition(ctx context.Context) (Coordinates, error)
}

// Status tracks how far the location chain has progressed.
type Status string

const (
	StatusPending   Status = "pending"
	StatusResolving Status = "resolving"
	StatusResolved  Status = "resolved"
	StatusNotFound  Status = "not_found"
	StatusDenied    Status = "denied"
)

// Done reports whether the chain has finished, successfully or not.
func (s Status) Done() bool {
	return s == StatusResolved || s == StatusNotFound || s == StatusDenied
}

// LocationInfo is the outcome of one resolution. Country is nil until a
// lookup returns one.
type LocationInfo struct {
	Status    Status  `json:"status"`
	Latitude  float64 `json:"lat,omitempty"`
	Longitude float64 `json:"lon,omitempty"`
	Country   *string `json:"country,omitempty"`
}

// Pending returns the initial LocationInfo of a launch.
func Pending() LocationInfo {
	return LocationInfo{Status: StatusPending}
}

// CountryName returns the resolved country, if any.
func (l LocationInfo) CountryName() (string, bool) {
	if l.Country == nil {
		return "", false
	}
	return *l.Country, true
}

// SharedPosition is a PositionSource for a position the user has already
// handed over, e.g. a shared chat location. Permission is implied.
type SharedPosition Coordinates

// RequestPermission always grants.
func (p SharedPosition) RequestPermission(context.Context) (Permission, error) {
	return PermissionGranted, nil
}

// CurrentPosition returns the shared coordinates.
func (p SharedPosition) CurrentPosition(context.Context) (Coordinates, error) {
	return Coordinates(p), nil
}

// DeclinedPosition is a PositionSource for a user who refused to share.
type DeclinedPosition struct{}

// RequestPermission always denies.
func (DeclinedPosition) RequestPermission(context.Context) (Permission, error) {
	return PermissionDenied, nil
}

// CurrentPosition fails with ErrPermissionDenied.
func (DeclinedPosition) CurrentPosition(context.Context) (Coordinates, error) {
	return Coordinates{}, ErrPermissionDenied
}
