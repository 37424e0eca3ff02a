// Package location supplies the peer's last known position.
package location

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Location is a latitude/longitude pair in decimal degrees.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Provider returns the last known location, or false when it is unknown.
type Provider interface {
	LastKnown(ctx context.Context) (Location, bool)
}

// Unknown never knows where the peer is.
type Unknown struct{}

func (Unknown) LastKnown(context.Context) (Location, bool) { return Location{}, false }

// Static always reports the same location.
type Static struct {
	loc Location
}

// NewStatic returns a fixed-position provider.
func NewStatic(lat, lon float64) Static {
	return Static{loc: Location{Latitude: lat, Longitude: lon}}
}

func (s Static) LastKnown(context.Context) (Location, bool) { return s.loc, true }

// Parse builds a provider from textual coordinates. Both empty means unknown.
func Parse(lat, lon string) (Provider, error) {
	lat, lon = strings.TrimSpace(lat), strings.TrimSpace(lon)
	if lat == "" && lon == "" {
		return Unknown{}, nil
	}

	la, err := strconv.ParseFloat(lat, 64)
	if err != nil || !validLatitude(la) {
		return nil, fmt.Errorf("invalid latitude %q", lat)
	}
	lo, err := strconv.ParseFloat(lon, 64)
	if err != nil || !validLongitude(lo) {
		return nil, fmt.Errorf("invalid longitude %q", lon)
	}
	return NewStatic(la, lo), nil
}

func validLatitude(v float64) bool  { return v >= -90 && v <= 90 }
func validLongitude(v float64) bool { return v >= -180 && v <= 180 }

// File reads the last fix written by an external locator to a JSON file.
// A missing or unreadable file, or a fix without both coordinates in range,
// means the location is unknown; the fallback, if set, is consulted instead.
type File struct {
	Path     string
	Fallback Provider
}

type fix struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

func (f File) LastKnown(ctx context.Context) (Location, bool) {
	if loc, ok := f.read(); ok {
		return loc, true
	}
	if f.Fallback != nil {
		return f.Fallback.LastKnown(ctx)
	}
	return Location{}, false
}

func (f File) read() (Location, bool) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return Location{}, false
	}
	var fx fix
	if err := json.Unmarshal(data, &fx); err != nil {
		return Location{}, false
	}
	if fx.Latitude == nil || fx.Longitude == nil || !validLatitude(*fx.Latitude) || !validLongitude(*fx.Longitude) {
		return Location{}, false
	}
	return Location{Latitude: *fx.Latitude, Longitude: *fx.Longitude}, true
}
