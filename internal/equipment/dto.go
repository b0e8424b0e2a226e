package equipment

import "time"

// Equipment は equipment テーブルの1行
type Equipment struct {
	ID          int64     `db:"equipment_id" json:"id"`
	Name        string    `db:"name"         json:"name"`
	Type        string    `db:"type"         json:"type"`
	TotalQty    int       `db:"total_qty"    json:"total_qty"`
	StructureID int64     `db:"structure_id" json:"structure_id"`
	CreatedAt   time.Time `db:"created_at"   json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"   json:"updated_at"`
}

// Reservation は在庫を占有している貸出明細（pending/accepted かつ未アーカイブ）
type Reservation struct {
	Start    time.Time `db:"start_date"`
	End      time.Time `db:"end_date"`
	Quantity int       `db:"quantity"`
}

type CreateEquipmentRequest struct {
	Name        string `json:"name" binding:"required"`
	Type        string `json:"type" binding:"required"` // "Son" などの別名も可
	TotalQty    int    `json:"total_qty"`
	StructureID int64  `json:"structure_id" binding:"required"`
}

// 所属組織は変更できない
type UpdateEquipmentRequest struct {
	Name     *string `json:"name,omitempty"`
	Type     *string `json:"type,omitempty"`
	TotalQty *int    `json:"total_qty,omitempty"`
}

type EquipmentQuery struct {
	StructureID *int64
	Type        *string
	Name        *string // 部分一致
}

type Page struct {
	Limit  int
	Offset int
	Order  string // "asc" | "desc"
}
