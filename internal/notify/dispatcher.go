package notify

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"KURA-backend/internal/loans"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	KindLoanCreated      = "loan.created"
	KindLoanTransitioned = "loan.transitioned"
)

// Event は WebSocket で送るメッセージ
type Event struct {
	ID         string       `json:"id"`
	Kind       string       `json:"kind"`
	LoanID     string       `json:"loan_id"`
	OwnerID    int64        `json:"owner_id"`
	BorrowerID int64        `json:"borrower_id"`
	Status     loans.Status `json:"status"`
	From       loans.Status `json:"from,omitempty"`
	StartDate  time.Time    `json:"start_date"`
	EndDate    time.Time    `json:"end_date"`
	At         time.Time    `json:"at"`
}

// Dispatcher は loans.Notifier の実装。貸出側と借用側の両方に送る
type Dispatcher struct {
	hub *Hub
	now func() time.Time
}

var _ loans.Notifier = (*Dispatcher)(nil)

func NewDispatcher(hub *Hub) *Dispatcher {
	return &Dispatcher{hub: hub, now: time.Now}
}

func (d *Dispatcher) LoanCreated(ctx context.Context, l loans.Loan) {
	d.publish(ctx, d.event(KindLoanCreated, l, ""))
}

func (d *Dispatcher) LoanTransitioned(ctx context.Context, l loans.Loan, from loans.Status) {
	d.publish(ctx, d.event(KindLoanTransitioned, l, from))
}

func (d *Dispatcher) event(kind string, l loans.Loan, from loans.Status) Event {
	return Event{
		ID:         uuid.NewString(),
		Kind:       kind,
		LoanID:     l.ID,
		OwnerID:    l.OwnerID,
		BorrowerID: l.BorrowerID,
		Status:     l.Status,
		From:       from,
		StartDate:  l.StartDate,
		EndDate:    l.EndDate,
		At:         d.now().UTC(),
	}
}

func (d *Dispatcher) publish(ctx context.Context, ev Event) {
	if ctx.Err() != nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[ERROR] notify: marshal %s: %v", ev.Kind, err)
		return
	}
	for _, sid := range []int64{ev.OwnerID, ev.BorrowerID} {
		d.hub.Broadcast(sid, payload)
	}
}
