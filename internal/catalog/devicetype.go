package catalog

// DeviceType is the numeric appliance class reported by the dashboard.
type DeviceType int

const (
	DeviceTypeUnknown       DeviceType = 0
	DeviceTypeRefrigerator  DeviceType = 101
	DeviceTypeKimchiFridge  DeviceType = 102
	DeviceTypeWaterPurifier DeviceType = 103
	DeviceTypeWasher        DeviceType = 201
	DeviceTypeDryer         DeviceType = 202
	DeviceTypeStyler        DeviceType = 203
	DeviceTypeDishwasher    DeviceType = 204
	DeviceTypeTower         DeviceType = 221
	DeviceTypeOven          DeviceType = 301
	DeviceTypeMicrowave     DeviceType = 302
	DeviceTypeCooktop       DeviceType = 303
	DeviceTypeHood          DeviceType = 304
	DeviceTypeAC            DeviceType = 401
	DeviceTypeAirPurifier   DeviceType = 402
	DeviceTypeDehumidifier  DeviceType = 403
	DeviceTypeFan           DeviceType = 405
	DeviceTypeRobotVacuum   DeviceType = 501
)

var deviceTypeNames = map[DeviceType]string{
	DeviceTypeRefrigerator:  "refrigerator",
	DeviceTypeKimchiFridge:  "kimchi_refrigerator",
	DeviceTypeWaterPurifier: "water_purifier",
	DeviceTypeWasher:        "washer",
	DeviceTypeDryer:         "dryer",
	DeviceTypeStyler:        "styler",
	DeviceTypeDishwasher:    "dishwasher",
	DeviceTypeTower:         "washtower",
	DeviceTypeOven:          "oven",
	DeviceTypeMicrowave:     "microwave",
	DeviceTypeCooktop:       "cooktop",
	DeviceTypeHood:          "hood",
	DeviceTypeAC:            "ac",
	DeviceTypeAirPurifier:   "air_purifier",
	DeviceTypeDehumidifier:  "dehumidifier",
	DeviceTypeFan:           "fan",
	DeviceTypeRobotVacuum:   "robot_vacuum",
}

func (t DeviceType) String() string {
	if name, ok := deviceTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// Known reports whether the numeric code maps to a supported appliance class.
func (t DeviceType) Known() bool {
	_, ok := deviceTypeNames[t]
	return ok
}
