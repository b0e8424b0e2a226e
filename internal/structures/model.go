package structures

import "time"

type CreateStructureRequest struct {
	Name string `json:"name" binding:"required"`
}

type UpdateStructureRequest struct {
	Name       string `json:"name" binding:"required"`
	IsDisabled bool   `json:"is_disabled"`
}

// Structure は貸し借りの主体となる組織
type Structure struct {
	ID         int64     `db:"structure_id" json:"id"`
	Name       string    `db:"name"         json:"name"`
	IsDisabled bool      `db:"is_disabled"  json:"is_disabled"`
	CreatedAt  time.Time `db:"created_at"   json:"created_at"`
}
