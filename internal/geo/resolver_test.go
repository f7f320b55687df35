package geo_test

import (
	"context"
	"errors"
	"testing"

	"github.com/p-n-ai/geoquiz-bot/internal/geo"
)

type stubGeocoder struct {
	country string
	err     error
	calls   int
}

func (s *stubGeocoder) CountryAt(_ context.Context, _ geo.Coordinates) (string, error) {
	s.calls++
	return s.country, s.err
}

type failingSource struct {
	permErr error
	posErr  error
}

func (f failingSource) RequestPermission(context.Context) (geo.Permission, error) {
	if f.permErr != nil {
		return geo.PermissionDenied, f.permErr
	}
	return geo.PermissionGranted, nil
}

func (f failingSource) CurrentPosition(context.Context) (geo.Coordinates, error) {
	return geo.Coordinates{}, f.posErr
}

func TestResolver_Resolved(t *testing.T) {
	gc := &stubGeocoder{country: "Japan"}
	r := geo.NewResolver(gc)

	info := r.Resolve(context.Background(), geo.SharedPosition{Latitude: 35.68, Longitude: 139.69})

	if info.Status != geo.StatusResolved {
		t.Errorf("Status = %q, want resolved", info.Status)
	}
	if name, ok := info.CountryName(); !ok || name != "Japan" {
		t.Errorf("CountryName() = (%q, %v), want (Japan, true)", name, ok)
	}
	if info.Latitude != 35.68 || info.Longitude != 139.69 {
		t.Errorf("coordinates = (%v, %v), want (35.68, 139.69)", info.Latitude, info.Longitude)
	}
	if gc.calls != 1 {
		t.Errorf("geocoder calls = %d, want 1", gc.calls)
	}
}

func TestResolver_Terminal(t *testing.T) {
	tests := []struct {
		name       string
		src        geo.PositionSource
		geocodeErr error
		want       geo.Status
		wantCalls  int
	}{
		{"declined", geo.DeclinedPosition{}, nil, geo.StatusDenied, 0},
		{"permission-error", failingSource{permErr: errors.New("no prompt")}, nil, geo.StatusDenied, 0},
		{"position-error", failingSource{posErr: errors.New("no fix")}, nil, geo.StatusNotFound, 0},
		{"no-country", geo.SharedPosition{}, geo.ErrNoCountry, geo.StatusNotFound, 1},
		{"network-error", geo.SharedPosition{}, errors.New("connection refused"), geo.StatusNotFound, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gc := &stubGeocoder{country: "ignored", err: tt.geocodeErr}
			info := geo.NewResolver(gc).Resolve(context.Background(), tt.src)

			if info.Status != tt.want {
				t.Errorf("Status = %q, want %q", info.Status, tt.want)
			}
			if _, ok := info.CountryName(); ok {
				t.Error("CountryName() should be unset")
			}
			if !info.Status.Done() {
				t.Error("Status.Done() should be true")
			}
			if gc.calls != tt.wantCalls {
				t.Errorf("geocoder calls = %d, want %d", gc.calls, tt.wantCalls)
			}
		})
	}
}

func TestStatus_Done(t *testing.T) {
	if geo.StatusPending.Done() || geo.StatusResolving.Done() {
		t.Error("pending and resolving should not be done")
	}
	if info := geo.Pending(); info.Status != geo.StatusPending {
		t.Errorf("Pending().Status = %q, want pending", info.Status)
	}
}
