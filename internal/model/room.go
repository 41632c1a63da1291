package model

// Room is a physical room of a property. Rooms are managed elsewhere;
// this service only reads them to lock and validate assignments.
type Room struct {
	ID         uint64 `json:"id"`
	PropertyID uint64 `json:"property_id"`
	RoomTypeID uint64 `json:"room_type_id"`
	Number     string `json:"number"`
}

// RatePlan prices one night of a room type.
type RatePlan struct {
	ID          uint64  `json:"id"`
	RoomTypeID  uint64  `json:"room_type_id"`
	NightlyRate float64 `json:"nightly_rate"`
	Currency    string  `json:"currency"`
}
