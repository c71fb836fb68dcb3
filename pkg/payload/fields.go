package payload

// NotAvailable is the placeholder devices report when a collector could not
// read a value.
const NotAvailable = "N/A"

// Well-known payload paths written by the device collectors.
const (
	PathBattery       = "battery"
	PathLocation      = "location"
	PathNetwork       = "networkInfo"
	PathWifi          = "networkInfo.wifiInfo"
	PathForegroundApp = "foregroundApp"
)

// appNameKeys are tried in order inside foregroundApp. packageName is what
// the Android collector writes; the rest cover older app builds.
var appNameKeys = []string{"packageName", "package_name", "appName", "name", "app_name"}

// Battery is one battery reading. IsCharging is echoed as sent.
type Battery struct {
	Level      float64
	IsCharging any
}

// BatteryLevel extracts battery.level. isCharging defaults to false when
// the key is missing.
func BatteryLevel(p Object) (Battery, bool) {
	battery := From(p).Get(PathBattery)
	level, ok := battery.Get("level").Float()
	if !ok {
		return Battery{}, false
	}
	return Battery{
		Level:      level,
		IsCharging: battery.Echo("isCharging", false),
	}, true
}

// WifiReading is one Wi-Fi signal observation. SSID and NetworkType are
// echoed as sent.
type WifiReading struct {
	SignalStrength float64
	SSID           any
	NetworkType    any
}

// WifiSignal extracts networkInfo.wifiInfo.signalStrength together with the
// SSID and network type, each defaulting to NotAvailable when missing.
func WifiSignal(p Object) (WifiReading, bool) {
	network := From(p).Get(PathNetwork)
	wifi := From(p).Path(PathWifi)
	strength, ok := wifi.Get("signalStrength").Float()
	if !ok {
		return WifiReading{}, false
	}
	return WifiReading{
		SignalStrength: strength,
		SSID:           wifi.Echo("ssid", NotAvailable),
		NetworkType:    network.Echo("networkType", NotAvailable),
	}, true
}

// Coordinates is a latitude/longitude pair.
type Coordinates struct {
	Latitude  float64
	Longitude float64
}

// Location extracts location.latitude and location.longitude. Both must be
// numeric.
func Location(p Object) (Coordinates, bool) {
	loc := From(p).Get(PathLocation)
	lat, ok := loc.Get("latitude").Float()
	if !ok {
		return Coordinates{}, false
	}
	lng, ok := loc.Get("longitude").Float()
	if !ok {
		return Coordinates{}, false
	}
	return Coordinates{Latitude: lat, Longitude: lng}, true
}

// ForegroundApp returns the foreground application identifier. The first
// candidate key holding a non-empty string wins; if that value is
// NotAvailable the app is unknown and the result is absent.
func ForegroundApp(p Object) (string, bool) {
	app := From(p).Get(PathForegroundApp)
	if _, ok := app.Object(); !ok {
		return "", false
	}
	for _, key := range appNameKeys {
		name, ok := app.Get(key).String()
		if !ok || name == "" {
			continue
		}
		if name == NotAvailable {
			return "", false
		}
		return name, true
	}
	return "", false
}
