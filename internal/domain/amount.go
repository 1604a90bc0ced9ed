package domain

import (
	"encoding/json"
	"math"
)

// Amount is money in minor units (paise). JSON renders it in major units.
type Amount int64

func AmountFromMajor(major float64) Amount {
	return Amount(math.Round(major * 100))
}

func (a Amount) Major() float64 {
	return float64(a) / 100
}

// Minor is the processor representation.
func (a Amount) Minor() int64 {
	return int64(a)
}

// Percent returns a share of a rounded down to the nearest minor unit.
func (a Amount) Percent(p int64) Amount {
	return Amount(int64(a) * p / 100)
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.Major())
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	var major float64
	if err := json.Unmarshal(data, &major); err != nil {
		return err
	}
	*a = AmountFromMajor(major)
	return nil
}
