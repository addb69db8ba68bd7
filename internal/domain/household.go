package domain

// House is a household; only its owner may import invoices into it.
type House struct {
	ID      string `json:"id"`
	OwnerID string `json:"ownerId"`
	Name    string `json:"name"`
}

// Card is a credit card belonging to a house.
// ClosingDay and DueDay are meaningful in [1,28]; zero means unset.
type Card struct {
	ID         string `json:"id"`
	HouseID    string `json:"houseId"`
	Name       string `json:"name"`
	ClosingDay int    `json:"closingDay"`
	DueDay     int    `json:"dueDay"`
}
