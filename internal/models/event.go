package models

import "time"

// EventKind identifies which prediction model an event is routed to.
type EventKind string

const (
	EventKindLogistics EventKind = "logistics"
	EventKindFactory   EventKind = "factory"
	EventKindWarehouse EventKind = "warehouse"
	EventKindDelivery  EventKind = "delivery"
	EventKindUnknown   EventKind = "unknown"
)

// Supported reports whether k maps to a prediction model.
func (k EventKind) Supported() bool {
	switch k {
	case EventKindLogistics, EventKindFactory, EventKindWarehouse, EventKindDelivery:
		return true
	}
	return false
}

// ParseEventKind returns the kind named by s, or EventKindUnknown.
func ParseEventKind(s string) EventKind {
	k := EventKind(s)
	if k.Supported() {
		return k
	}
	return EventKindUnknown
}

// NormalizedEvent is one emission record produced by the upstream
// normalization pipeline. Optional measurements are nil when absent.
//
// Kind is set once when the event enters the orchestrator (see
// ClassifyEvent) and is not re-derived downstream.
type NormalizedEvent struct {
	ID           string    `json:"id"`
	SupplierName string    `json:"supplier_name,omitempty"`
	RouteID      string    `json:"route_id,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	Kind         EventKind `json:"kind"`

	// logistics
	DistanceKm   *float64 `json:"distance_km,omitempty"`
	LoadWeightKg *float64 `json:"load_weight_kg,omitempty"`
	VehicleType  string   `json:"vehicle_type,omitempty"`
	FuelType     string   `json:"fuel_type,omitempty"`
	AvgSpeed     *float64 `json:"avg_speed,omitempty"`
	StopEvents   *float64 `json:"stop_events,omitempty"`

	// factory / warehouse
	EnergyKwh           *float64 `json:"energy_kwh,omitempty"`
	FurnaceUsage        *float64 `json:"furnace_usage,omitempty"`
	CoolingLoad         *float64 `json:"cooling_load,omitempty"`
	ShiftHours          *float64 `json:"shift_hours,omitempty"`
	MachineRuntimeHours *float64 `json:"machine_runtime_hours,omitempty"`
	Temperature         *float64 `json:"temperature,omitempty"`
	RefrigerationLoad   *float64 `json:"refrigeration_load,omitempty"`
	InventoryVolume     *float64 `json:"inventory_volume,omitempty"`

	// delivery
	RouteLength   *float64 `json:"route_length,omitempty"`
	TrafficScore  *float64 `json:"traffic_score,omitempty"`
	DeliveryCount *float64 `json:"delivery_count,omitempty"`
}

// ClassifyEvent derives the prediction kind from the measurements present.
// A measurement counts as present when it is set and non-zero.
func ClassifyEvent(e *NormalizedEvent) EventKind {
	switch {
	case present(e.DistanceKm):
		return EventKindLogistics
	case present(e.EnergyKwh) && present(e.FurnaceUsage):
		return EventKindFactory
	case present(e.EnergyKwh):
		return EventKindWarehouse
	case present(e.RouteLength):
		return EventKindDelivery
	default:
		return EventKindUnknown
	}
}

// Entity returns the entity an event is attributed to and its type.
func (e *NormalizedEvent) Entity() (string, string) {
	if e.SupplierName != "" {
		return e.SupplierName, EntityTypeSupplier
	}
	if e.RouteID != "" {
		return e.RouteID, EntityTypeRoute
	}
	return UnknownEntity, EntityTypeRoute
}

// Features builds the feature map sent to the prediction oracle for the
// event's kind, filling the oracle's documented defaults. It returns nil for
// unsupported kinds.
func (e *NormalizedEvent) Features() map[string]any {
	switch e.Kind {
	case EventKindLogistics:
		return map[string]any{
			"distance_km":  or(e.DistanceKm, 0),
			"load_kg":      or(e.LoadWeightKg, 0),
			"vehicle_type": orString(e.VehicleType, "truck_diesel"),
			"fuel_type":    orString(e.FuelType, "diesel"),
			"avg_speed":    or(e.AvgSpeed, 50),
			"stop_events":  or(e.StopEvents, 0),
		}
	case EventKindFactory:
		return map[string]any{
			"energy_kwh":            or(e.EnergyKwh, 0),
			"furnace_usage":         or(e.FurnaceUsage, 0),
			"cooling_load":          or(e.CoolingLoad, 0),
			"shift_hours":           or(e.ShiftHours, 8),
			"machine_runtime_hours": or(e.MachineRuntimeHours, 0),
		}
	case EventKindWarehouse:
		return map[string]any{
			"temperature":        or(e.Temperature, 20),
			"refrigeration_load": or(e.RefrigerationLoad, 0),
			"inventory_volume":   or(e.InventoryVolume, 0),
			"energy_kwh":         or(e.EnergyKwh, 0),
		}
	case EventKindDelivery:
		return map[string]any{
			"route_length":   or(e.RouteLength, 0),
			"vehicle_type":   orString(e.VehicleType, "truck_diesel"),
			"traffic_score":  or(e.TrafficScore, 3),
			"delivery_count": or(e.DeliveryCount, 1),
		}
	}
	return nil
}

func present(v *float64) bool { return v != nil && *v != 0 }

func or(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func orString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Float returns a pointer to v, for building events in code.
func Float(v float64) *float64 { return &v }
