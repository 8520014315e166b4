package model

import "time"

// RequestKind tags a pending request with the component that issued it.
type RequestKind string

const (
	RequestRandomness    RequestKind = "randomness"
	RequestOracleFitness RequestKind = "oracle:fitness"
	RequestOracleGPS     RequestKind = "oracle:gps"
	RequestOracleWeather RequestKind = "oracle:weather"
)

// RequestKinds lists every kind of pending request.
var RequestKinds = []RequestKind{
	RequestRandomness,
	RequestOracleFitness,
	RequestOracleGPS,
	RequestOracleWeather,
}

// IsOracle reports whether k was issued by the oracle adapter.
func (k RequestKind) IsOracle() bool {
	switch k {
	case RequestOracleFitness, RequestOracleGPS, RequestOracleWeather:
		return true
	}
	return false
}

// RequestStatus is the lifecycle state of a pending request. Consumed rows
// are kept so an identifier is never accepted twice.
type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestFulfilled RequestStatus = "fulfilled"
	RequestExpired   RequestStatus = "expired"
)

// PendingRequest maps an opaque external request identifier to an item.
type PendingRequest struct {
	RequestID  string        `json:"request_id"`
	Kind       RequestKind   `json:"kind"`
	Collection string        `json:"collection"`
	ItemID     uint64        `json:"item_id"`
	Status     RequestStatus `json:"status"`
	CreatedAt  time.Time     `json:"created_at"`
}
