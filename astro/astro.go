// Package astro answers the two ephemeris questions the control loop needs:
// how far below the horizon the sun is, and how high a target is at the site.
package astro

import (
	"time"

	"github.com/pebbe/novas"
)

// Earth orientation parameters. Degree-level horizon decisions are
// insensitive to these; update from IERS Bulletin A if arcsecond
// accuracy is ever needed.
const (
	leapSecs = 37
	ut1UTC   = 0.0
)

// novas carries the earth orientation parameters as package globals.
func init() {
	novas.Leap_secs = leapSecs
	novas.UT1_UTC = ut1UTC
}

type Site struct {
	place *novas.Place
	sun   *novas.Body
}

func NewSite(latDeg, lonDeg, heightM, tempC, pressureMb float64) *Site {
	return &Site{
		place: novas.NewPlace(latDeg, lonDeg, heightM, tempC, pressureMb),
		sun:   novas.Sun(),
	}
}

// SunAltitude returns the topocentric altitude of the sun in degrees.
func (s *Site) SunAltitude(t time.Time) float64 {
	nt := novas.Time{Time: t.UTC()}
	data := s.sun.Topo(nt, s.place, novas.REFR_NONE)
	return data.Alt
}

// TargetAltitude returns the topocentric altitude in degrees of a fixed
// RA/Dec position (both in degrees, J2000).
func (s *Site) TargetAltitude(raDeg, decDeg float64, t time.Time) float64 {
	// NOVAS catalog entries take RA in hours.
	body := novas.NewStar("target", "OBS", 0, raDeg/15, decDeg, 0, 0, 0, 0)
	nt := novas.Time{Time: t.UTC()}
	data := body.Topo(nt, s.place, novas.REFR_NONE)
	return data.Alt
}

// Night decides whether the sun is low enough to observe. Separate dusk and
// dawn thresholds give hysteresis around twilight.
type Night struct {
	Site    *Site
	DuskAlt float64
	DawnAlt float64
}

// IsNight reports whether observing may start (sun below the dusk threshold).
func (n Night) IsNight(t time.Time) bool {
	return n.Site.SunAltitude(t) < n.DuskAlt
}

// IsDay reports whether the hard dawn cutoff has passed.
func (n Night) IsDay(t time.Time) bool {
	return n.Site.SunAltitude(t) > n.DawnAlt
}
