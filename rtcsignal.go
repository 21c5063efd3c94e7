package rtcsignal

type UserID string
type RoomID string

// RoomCapacity is the maximum number of members a room can hold.
const RoomCapacity = 2
