package loans

import "time"

type ItemRequest struct {
	EquipmentID int64 `json:"equipment_id" binding:"required"`
	Quantity    int   `json:"quantity" binding:"required"`
}

// 貸出登録リクエスト
type CreateLoanRequest struct {
	OwnerID    int64         `json:"owner_id" binding:"required"`
	BorrowerID int64         `json:"borrower_id" binding:"required"`
	Items      []ItemRequest `json:"items" binding:"required"`
	// RFC3339 または "2006-01-02"
	StartDate string `json:"start_date" binding:"required"`
	EndDate   string `json:"end_date" binding:"required"`
}

// ステータス変更リクエスト。これ以外のフィールドは受け付けない
type TransitionRequest struct {
	Status       Status  `json:"status"`
	DecisionNote *string `json:"decision_note,omitempty"`
}

type ItemResponse struct {
	EquipmentID int64  `json:"equipment_id"`
	Quantity    int    `json:"quantity"`
	Type        string `json:"type"`
}

// 貸出レスポンス
type LoanResponse struct {
	ID           string         `json:"id"`
	OwnerID      int64          `json:"owner_id"`
	BorrowerID   int64          `json:"borrower_id"`
	RequestedBy  string         `json:"requested_by"`
	ProcessedBy  *string        `json:"processed_by,omitempty"`
	Items        []ItemResponse `json:"items"`
	StartDate    time.Time      `json:"start_date"`
	EndDate      time.Time      `json:"end_date"`
	Status       Status         `json:"status"`
	DecisionNote *string        `json:"decision_note,omitempty"`
	Archived     bool           `json:"archived"`
	ArchivedAt   *time.Time     `json:"archived_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

type DeleteResponse struct {
	Deleted bool `json:"deleted"`
}

func buildLoanResponse(l *Loan) LoanResponse {
	resp := LoanResponse{
		ID:          l.ID,
		OwnerID:     l.OwnerID,
		BorrowerID:  l.BorrowerID,
		RequestedBy: l.RequestedBy,
		Items:       make([]ItemResponse, 0, len(l.Items)),
		StartDate:   l.StartDate,
		EndDate:     l.EndDate,
		Status:      l.Status,
		Archived:    l.Archived,
		CreatedAt:   l.CreatedAt,
		UpdatedAt:   l.UpdatedAt,
	}
	for _, it := range l.Items {
		resp.Items = append(resp.Items, ItemResponse{EquipmentID: it.EquipmentID, Quantity: it.Quantity, Type: string(it.Type)})
	}
	if l.ProcessedBy.Valid {
		val := l.ProcessedBy.String
		resp.ProcessedBy = &val
	}
	if l.DecisionNote.Valid {
		val := l.DecisionNote.String
		resp.DecisionNote = &val
	}
	if l.ArchivedAt.Valid {
		val := l.ArchivedAt.Time
		resp.ArchivedAt = &val
	}
	return resp
}
