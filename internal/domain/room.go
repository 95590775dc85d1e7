package domain

type RoomID string

// RoomCapacity bounds a single room's membership. The mesh topology keeps
// every participant directly connected to every other one, so the cap stays
// small on purpose.
const RoomCapacity = 5
