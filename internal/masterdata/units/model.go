package units

// Unit represents a unit of measure. Factor expresses how many of the
// category's reference unit make up one of this unit (Dozen in category
// Unit has Factor 12).
type Unit struct {
	ID       int64   `json:"id"`
	Code     string  `json:"code"`
	Name     string  `json:"name"`
	Category string  `json:"category"`
	Factor   float64 `json:"factor"`
}
