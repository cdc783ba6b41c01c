package schema

// Raw taxi-fare dataset column names.
const (
	ColKey              = "key"
	ColFareAmount       = "fare_amount"
	ColPickupDatetime   = "pickup_datetime"
	ColPickupLongitude  = "pickup_longitude"
	ColPickupLatitude   = "pickup_latitude"
	ColDropoffLongitude = "dropoff_longitude"
	ColDropoffLatitude  = "dropoff_latitude"
	ColPassengerCount   = "passenger_count"
)

// TaxiFareLayout is the warehouse layout the raw train/val tables are provisioned with.
func TaxiFareLayout() map[string]string {
	return map[string]string{
		ColKey:              Timestamp.String(),
		ColFareAmount:       Float.String(),
		ColPickupDatetime:   Timestamp.String(),
		ColPickupLongitude:  Float.String(),
		ColPickupLatitude:   Float.String(),
		ColDropoffLongitude: Float.String(),
		ColDropoffLatitude:  Float.String(),
		ColPassengerCount:   Integer.String(),
	}
}

// DTypesRawOptimized is the memory-lean coercion map for raw taxi-fare chunks.
func DTypesRawOptimized() DTypes {
	return DTypes{
		ColKey:              Object,
		ColFareAmount:       Float32,
		ColPickupDatetime:   Object,
		ColPickupLongitude:  Float32,
		ColPickupLatitude:   Float32,
		ColDropoffLongitude: Float32,
		ColDropoffLatitude:  Float32,
		ColPassengerCount:   Int8,
	}
}
