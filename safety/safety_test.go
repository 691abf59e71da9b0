package safety

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ridgeline-obs/obsd/power"
	"github.com/ridgeline-obs/obsd/weather"
)

type fakeWeather struct {
	sample weather.Sample
	err    error
}

func (f *fakeWeather) Sample(ctx context.Context) (weather.Sample, error) {
	return f.sample, f.err
}

type fakePower struct {
	status power.Status
	ok     bool
}

func (f *fakePower) Latest() (power.Status, bool) { return f.status, f.ok }

type fakeSun struct {
	alt float64
}

func (f *fakeSun) SunAltitude(t time.Time) float64 { return f.alt }

var testLimits = Limits{
	MaxWindMps:     10,
	MaxHumidityPct: 85,
	MinBatteryV:    11.5,
	MinSkyDeltaC:   15,
	DaylightAltDeg: -10,
}

func clearNight() weather.Sample {
	return weather.Sample{WindMps: 3, HumidityPct: 50, AmbientC: 10, SkyC: -20}
}

func TestEvaluate(t *testing.T) {
	for _, test := range []struct {
		name       string
		weather    *fakeWeather
		power      *fakePower
		sunAlt     float64
		wantSafe   bool
		wantReason string
	}{
		{
			name:     "clear night",
			weather:  &fakeWeather{sample: clearNight()},
			power:    &fakePower{status: power.Status{BatteryVolts: 12.6}, ok: true},
			sunAlt:   -30,
			wantSafe: true,
		},
		{
			name:       "daylight",
			weather:    &fakeWeather{sample: clearNight()},
			power:      &fakePower{status: power.Status{BatteryVolts: 12.6}, ok: true},
			sunAlt:     5,
			wantSafe:   false,
			wantReason: "daylight",
		},
		{
			name:       "weather unreadable fails closed",
			weather:    &fakeWeather{err: errors.New("timeout after 5s")},
			power:      &fakePower{status: power.Status{BatteryVolts: 12.6}, ok: true},
			sunAlt:     -30,
			wantSafe:   false,
			wantReason: "weather unreadable",
		},
		{
			name: "rain",
			weather: &fakeWeather{sample: func() weather.Sample {
				s := clearNight()
				s.Raining = true
				return s
			}()},
			power:      &fakePower{status: power.Status{BatteryVolts: 12.6}, ok: true},
			sunAlt:     -30,
			wantSafe:   false,
			wantReason: "rain",
		},
		{
			name: "wind over limit",
			weather: &fakeWeather{sample: func() weather.Sample {
				s := clearNight()
				s.WindMps = 12.5
				return s
			}()},
			power:      &fakePower{status: power.Status{BatteryVolts: 12.6}, ok: true},
			sunAlt:     -30,
			wantSafe:   false,
			wantReason: "wind",
		},
		{
			name: "humidity over limit",
			weather: &fakeWeather{sample: func() weather.Sample {
				s := clearNight()
				s.HumidityPct = 95
				return s
			}()},
			power:      &fakePower{status: power.Status{BatteryVolts: 12.6}, ok: true},
			sunAlt:     -30,
			wantSafe:   false,
			wantReason: "humidity",
		},
		{
			name: "warm sky means cloud",
			weather: &fakeWeather{sample: func() weather.Sample {
				s := clearNight()
				s.SkyC = 5
				return s
			}()},
			power:      &fakePower{status: power.Status{BatteryVolts: 12.6}, ok: true},
			sunAlt:     -30,
			wantSafe:   false,
			wantReason: "cloud",
		},
		{
			name:       "no power telemetry fails closed",
			weather:    &fakeWeather{sample: clearNight()},
			power:      &fakePower{},
			sunAlt:     -30,
			wantSafe:   false,
			wantReason: "power board",
		},
		{
			name:       "battery under floor",
			weather:    &fakeWeather{sample: clearNight()},
			power:      &fakePower{status: power.Status{BatteryVolts: 11.2}, ok: true},
			sunAlt:     -30,
			wantSafe:   false,
			wantReason: "battery",
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			m := New(30*time.Second, test.weather, test.power, &fakeSun{alt: test.sunAlt}, testLimits)
			m.poll(context.Background())
			v := m.Current()
			if v.Safe != test.wantSafe {
				t.Fatalf("verdict: got safe=%t (%q), want safe=%t", v.Safe, v.Reason, test.wantSafe)
			}
			if !strings.Contains(v.Reason, test.wantReason) {
				t.Errorf("reason: got %q, want substring %q", v.Reason, test.wantReason)
			}
		})
	}
}

func TestNoPowerBoard(t *testing.T) {
	// Units without a power board skip the battery checks entirely.
	m := New(30*time.Second, &fakeWeather{sample: clearNight()}, nil, &fakeSun{alt: -30}, testLimits)
	m.poll(context.Background())
	if v := m.Current(); !v.Safe {
		t.Errorf("verdict: got unsafe (%q), want safe", v.Reason)
	}
}

func TestStaleVerdictIsUnsafe(t *testing.T) {
	m := New(30*time.Second, &fakeWeather{sample: clearNight()}, nil, &fakeSun{alt: -30}, testLimits)
	m.poll(context.Background())
	if v := m.Current(); !v.Safe {
		t.Fatalf("verdict: got unsafe (%q), want safe", v.Reason)
	}
	// Jump the clock past twice the poll interval: the old verdict must
	// no longer count as safe.
	m.now = func() time.Time { return time.Now().Add(61 * time.Second) }
	v := m.Current()
	if v.Safe {
		t.Fatal("stale verdict still reported safe")
	}
	if !strings.Contains(v.Reason, "stale") {
		t.Errorf("reason: got %q, want substring %q", v.Reason, "stale")
	}
}

func TestWeatherRedialAfterConsecutiveFailures(t *testing.T) {
	wx := &fakeWeather{err: errors.New("connection closed")}
	m := New(30*time.Second, wx, nil, &fakeSun{alt: -30}, testLimits)
	redials := 0
	m.RedialWeather(func(ctx context.Context) error {
		redials++
		// The station is back after the re-dial.
		wx.err = nil
		wx.sample = clearNight()
		return nil
	})

	m.poll(context.Background())
	m.poll(context.Background())
	if redials != 0 {
		t.Fatalf("redials: got %d after two failures, want 0", redials)
	}
	m.poll(context.Background())
	if redials != 1 {
		t.Fatalf("redials: got %d after three failures, want 1", redials)
	}
	// The poll that re-dialed still reports unsafe; only a successful
	// sample clears the verdict.
	if v := m.Current(); v.Safe {
		t.Fatal("verdict safe before a sample succeeded")
	}
	m.poll(context.Background())
	if v := m.Current(); !v.Safe {
		t.Errorf("verdict: got unsafe (%q) after the station recovered", v.Reason)
	}
}

func TestNeverPolledIsUnsafe(t *testing.T) {
	m := New(30*time.Second, &fakeWeather{sample: clearNight()}, nil, &fakeSun{alt: -30}, testLimits)
	if v := m.Current(); v.Safe {
		t.Fatal("verdict safe before first poll")
	}
}
