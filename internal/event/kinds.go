package event

import "time"

// Inbound kinds.
var (
	DeviceReading = Kind[Reading]{Name: "device.reading"}
	DeviceStatus  = Kind[Status]{Name: "device.status"}
	AlertRaised   = Kind[Alert]{Name: "alert.raised"}
	AlertCleared  = Kind[AlertClear]{Name: "alert.cleared"}
	Notify        = Kind[Notification]{Name: "notification"}
	MeterUsage    = Kind[Usage]{Name: "meter.usage"}
)

// Outbound commands.
var (
	AckAlert      = Kind[AlertAck]{Name: "alert.ack"}
	RefreshDevice = Kind[DeviceRefresh]{Name: "device.refresh"}
)

// Known lists every inbound kind name.
func Known() []string {
	return []string{
		DeviceReading.Name,
		DeviceStatus.Name,
		AlertRaised.Name,
		AlertCleared.Name,
		Notify.Name,
		MeterUsage.Name,
	}
}

// Reading is a telemetry sample from a field device.
type Reading struct {
	DeviceID  string    `json:"deviceId"`
	Metric    string    `json:"metric"` // "voltage", "current", "pressure", ...
	Value     float64   `json:"value"`
	Unit      string    `json:"unit,omitempty"`
	SampledAt time.Time `json:"sampledAt"`
}

// Status reports a device's reachability.
type Status struct {
	DeviceID string `json:"deviceId"`
	Online   bool   `json:"online"`
	Firmware string `json:"firmware,omitempty"`
	Battery  *int   `json:"battery,omitempty"` // percent, nil for mains-powered devices
}

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is raised by the server when a threshold rule trips.
type Alert struct {
	AlertID  string   `json:"alertId"`
	DeviceID string   `json:"deviceId,omitempty"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

type AlertClear struct {
	AlertID string `json:"alertId"`
	Reason  string `json:"reason,omitempty"`
}

// Notification is a user-facing message.
type Notification struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Body  string `json:"body,omitempty"`
}

// Usage is an interval consumption record for a meter.
type Usage struct {
	MeterID string    `json:"meterId"`
	KWh     float64   `json:"kwh"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
}

type AlertAck struct {
	AlertID string `json:"alertId"`
	By      string `json:"by,omitempty"`
}

type DeviceRefresh struct {
	DeviceID string `json:"deviceId"`
}
