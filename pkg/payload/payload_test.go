package payload

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, raw string) Object {
	t.Helper()
	var obj Object
	require.NoError(t, json.Unmarshal([]byte(raw), &obj))
	return obj
}

func TestNode_Path(t *testing.T) {
	p := decode(t, `{"networkInfo":{"wifiInfo":{"signalStrength":-61,"ssid":"home"}}}`)

	v, ok := From(p).Path("networkInfo.wifiInfo.signalStrength").Float()
	require.True(t, ok)
	assert.Equal(t, -61.0, v)

	assert.False(t, From(p).Path("networkInfo.cellInfo.dbm").Present())
	assert.False(t, From(p).Path("networkInfo.wifiInfo.ssid.length").Present())
}

func TestNode_MalformedShapes(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"location is a string", `{"location":"somewhere"}`},
		{"location is null", `{"location":null}`},
		{"location is an array", `{"location":[1,2]}`},
		{"latitude is a string", `{"location":{"latitude":"39.9","longitude":116.4}}`},
		{"longitude missing", `{"location":{"latitude":39.9}}`},
		{"empty payload", `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := Location(decode(t, tt.raw))
			assert.False(t, ok)
		})
	}
}

func TestNode_NilPayload(t *testing.T) {
	assert.False(t, From(nil).Present())
	assert.False(t, From(nil).Path("battery.level").Present())

	_, ok := BatteryLevel(nil)
	assert.False(t, ok)
	_, ok = ForegroundApp(nil)
	assert.False(t, ok)
}

func TestNode_Float(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  float64
		ok    bool
	}{
		{"float64", 80.5, 80.5, true},
		{"int64", int64(42), 42, true},
		{"uint64", uint64(7), 7, true},
		{"json number", json.Number("12.25"), 12.25, true},
		{"bad json number", json.Number("x"), 0, false},
		{"bool", true, 0, false},
		{"numeric string", "80", 0, false},
		{"nil", nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Of(tt.value).Float()
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBatteryLevel(t *testing.T) {
	b, ok := BatteryLevel(decode(t, `{"battery":{"level":73,"isCharging":true}}`))
	require.True(t, ok)
	assert.Equal(t, 73.0, b.Level)
	assert.Equal(t, true, b.IsCharging)

	b, ok = BatteryLevel(decode(t, `{"battery":{"level":50}}`))
	require.True(t, ok)
	assert.Equal(t, false, b.IsCharging)

	_, ok = BatteryLevel(decode(t, `{"battery":{"level":null}}`))
	assert.False(t, ok)
}

func TestWifiSignal_Defaults(t *testing.T) {
	w, ok := WifiSignal(decode(t, `{"networkInfo":{"wifiInfo":{"signalStrength":80}}}`))
	require.True(t, ok)
	assert.Equal(t, 80.0, w.SignalStrength)
	assert.Equal(t, NotAvailable, w.SSID)
	assert.Equal(t, NotAvailable, w.NetworkType)

	w, ok = WifiSignal(decode(t, `{"networkInfo":{"networkType":"wifi","wifiInfo":{"signalStrength":55,"ssid":"lab"}}}`))
	require.True(t, ok)
	assert.Equal(t, "lab", w.SSID)
	assert.Equal(t, "wifi", w.NetworkType)
}

func TestEchoFieldsPassThrough(t *testing.T) {
	b, ok := BatteryLevel(decode(t, `{"battery":{"level":20,"isCharging":"yes"}}`))
	require.True(t, ok)
	assert.Equal(t, "yes", b.IsCharging)

	b, ok = BatteryLevel(decode(t, `{"battery":{"level":20,"isCharging":null}}`))
	require.True(t, ok)
	assert.Nil(t, b.IsCharging)

	w, ok := WifiSignal(decode(t, `{"networkInfo":{"networkType":5,"wifiInfo":{"signalStrength":-60,"ssid":null}}}`))
	require.True(t, ok)
	assert.Nil(t, w.SSID)
	assert.Equal(t, 5.0, w.NetworkType)
}

func TestNodeEcho(t *testing.T) {
	obj := From(decode(t, `{"a":null,"b":"x"}`))
	assert.Nil(t, obj.Echo("a", "def"))
	assert.Equal(t, "x", obj.Echo("b", "def"))
	assert.Equal(t, "def", obj.Echo("c", "def"))
	assert.Equal(t, "def", obj.Get("b").Echo("c", "def"))
}

func TestForegroundApp(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		want   string
		wantOK bool
	}{
		{
			name:   "packageName takes priority over name",
			raw:    `{"foregroundApp":{"packageName":"com.example.app","name":"Example"}}`,
			want:   "com.example.app",
			wantOK: true,
		},
		{
			name:   "falls back through candidate keys",
			raw:    `{"foregroundApp":{"packageName":"","app_name":"legacy"}}`,
			want:   "legacy",
			wantOK: true,
		},
		{
			name:   "appName before name",
			raw:    `{"foregroundApp":{"name":"second","appName":"first"}}`,
			want:   "first",
			wantOK: true,
		},
		{
			name:   "sentinel packageName is absent",
			raw:    `{"foregroundApp":{"packageName":"N/A","className":"N/A"}}`,
			wantOK: false,
		},
		{
			name:   "non-string candidates are skipped",
			raw:    `{"foregroundApp":{"packageName":12,"name":"named"}}`,
			want:   "named",
			wantOK: true,
		},
		{
			name:   "foregroundApp is not an object",
			raw:    `{"foregroundApp":"com.example.app"}`,
			wantOK: false,
		},
		{
			name:   "no candidate keys",
			raw:    `{"foregroundApp":{"className":"MainActivity"}}`,
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ForegroundApp(decode(t, tt.raw))
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
