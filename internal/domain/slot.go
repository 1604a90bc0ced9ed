package domain

type Availability struct {
	Available bool
	Remaining int
}

type SlotAvailability struct {
	Time              string `json:"time"`
	Start             string `json:"start"`
	End               string `json:"end"`
	Available         bool   `json:"available"`
	RemainingCapacity int    `json:"remaining_capacity"`
	Capacity          int    `json:"capacity"`
}

// SlotKey identifies the capacity bucket for a temple, date and slot.
type SlotKey struct {
	TempleID string
	Date     string
	Start    string
}

func (k SlotKey) String() string {
	return k.TempleID + "|" + k.Date + "|" + k.Start
}
