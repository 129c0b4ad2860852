package domain

// Status reuses HTTP status semantics on the relay wire protocol.
type Status int

const (
	StatusOK              Status = 200
	StatusCreated         Status = 201
	StatusNotModified     Status = 304
	StatusBadPacket       Status = 400
	StatusUnauthenticated Status = 401
	StatusForbidden       Status = 403
	StatusUnknownTarget   Status = 404
	StatusWrongState      Status = 406
	StatusConflict        Status = 409
	StatusTooLarge        Status = 413
	StatusLocked          Status = 423
	StatusRateLimited     Status = 429
	StatusInternal        Status = 500
	StatusUnimplemented   Status = 501
)

// Rejected reports whether the command must not execute. 304 counts: the
// sender already is in the requested state, so the status goes straight
// back in a validate response without touching the registries.
func (s Status) Rejected() bool { return s >= 300 }
