package main

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/nicktill/devicepulse/pkg/payload"
)

var apps = []string{"com.android.chrome", "com.google.android.apps.maps", "com.whatsapp", "com.spotify.music", "com.android.settings"}

// device is one simulated phone. Each tick drains or charges the battery,
// wanders the location and sometimes switches foreground app.
type device struct {
	id  string
	rng *rand.Rand

	battery  float64
	charging bool
	signal   float64
	ssid     string
	lat, lon float64
	app      int
}

func newDevice(index int, seed int64) *device {
	rng := rand.New(rand.NewSource(seed + int64(index)))
	return &device{
		id:      fmt.Sprintf("sim-%03d", index+1),
		rng:     rng,
		battery: 40 + rng.Float64()*60,
		signal:  -50 - rng.Float64()*30,
		ssid:    fmt.Sprintf("wifi-%d", index%3),
		lat:     40.44 + rng.Float64()*0.1,
		lon:     -79.99 + rng.Float64()*0.1,
		app:     rng.Intn(len(apps)),
	}
}

// tick advances the simulation and returns the snapshot payload
func (d *device) tick() payload.Object {
	if d.charging {
		d.battery = math.Min(100, d.battery+2)
		if d.battery >= 100 {
			d.charging = false
		}
	} else {
		d.battery = math.Max(0, d.battery-d.rng.Float64())
		if d.battery < 15 {
			d.charging = true
		}
	}

	d.signal = clamp(d.signal+d.rng.NormFloat64()*3, -95, -30)
	d.lat += d.rng.NormFloat64() * 0.0005
	d.lon += d.rng.NormFloat64() * 0.0005
	if d.rng.Float64() < 0.2 {
		d.app = d.rng.Intn(len(apps))
	}

	snap := payload.Object{
		"battery": map[string]any{
			"level":      math.Round(d.battery),
			"isCharging": d.charging,
		},
		"networkInfo": map[string]any{
			"networkType": "WIFI",
			"wifiInfo": map[string]any{
				"signalStrength": math.Round(d.signal),
				"ssid":           d.ssid,
			},
		},
		"location": map[string]any{
			"latitude":  d.lat,
			"longitude": d.lon,
		},
		"foregroundApp": map[string]any{
			"packageName": apps[d.app],
		},
	}

	// Devices occasionally lose their location fix
	if d.rng.Float64() < 0.1 {
		snap["location"] = map[string]any{"latitude": payload.NotAvailable, "longitude": payload.NotAvailable}
	}
	return snap
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
