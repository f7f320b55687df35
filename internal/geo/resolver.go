package geo

import (
	"context"
	"errors"
	"log/slog"
)

// Resolver runs the location chain: permission, position, one reverse
// lookup. It never fails; every problem ends in a terminal LocationInfo.
type Resolver struct {
	geocoder ReverseGeocoder
}

// NewResolver creates a Resolver backed by geocoder.
func NewResolver(geocoder ReverseGeocoder) *Resolver {
	return &Resolver{geocoder: geocoder}
}

// Resolve runs the chain once. There is no retry and nothing is cached.
func (r *Resolver) Resolve(ctx context.Context, src PositionSource) LocationInfo {
	perm, err := src.RequestPermission(ctx)
	if err != nil {
		slog.Warn("location permission request failed", "error", err)
		return LocationInfo{Status: StatusDenied}
	}
	if perm != PermissionGranted {
		slog.Info("location permission denied")
		return LocationInfo{Status: StatusDenied}
	}

	coords, err := src.CurrentPosition(ctx)
	if err != nil {
		slog.Warn("current position unavailable", "error", err)
		return LocationInfo{Status: StatusNotFound}
	}

	info := LocationInfo{
		Status:    StatusNotFound,
		Latitude:  coords.Latitude,
		Longitude: coords.Longitude,
	}

	country, err := r.geocoder.CountryAt(ctx, coords)
	switch {
	case errors.Is(err, ErrNoCountry):
		slog.Info("reverse geocoding found no country")
		return info
	case err != nil:
		slog.Error("reverse geocoding failed", "error", err)
		return info
	}

	info.Status = StatusResolved
	info.Country = &country
	slog.Debug("location resolved", "country", country)
	return info
}
