package loans

import (
	"context"
)

// Reader は可用性計算に必要な読み取り操作
type Reader interface {
	// 存在しなければ (nil, nil)
	GetEquipment(ctx context.Context, id int64) (*Equipment, error)
	// span と重なる、アーカイブされていない active な貸出の合計数量
	ReservedQuantity(ctx context.Context, equipmentID int64, span Span) (int, error)
}

func newAvailability(total, reserved, requested int) *Availability {
	qty := total - reserved
	return &Availability{Available: requested <= qty, AvailableQty: qty}
}

// computeAvailability: 機材が無ければ (nil, nil)。span が nil なら総数で判定する
func computeAvailability(ctx context.Context, r Reader, equipmentID int64, span *Span, requested int) (*Availability, error) {
	eq, err := r.GetEquipment(ctx, equipmentID)
	if err != nil {
		return nil, err
	}
	if eq == nil {
		return nil, nil
	}
	reserved := 0
	if span != nil {
		reserved, err = r.ReservedQuantity(ctx, equipmentID, *span)
		if err != nil {
			return nil, err
		}
	}
	return newAvailability(eq.TotalQty, reserved, requested), nil
}

// checkItems はロック済み機材に対して明細がすべて収まるか確認する。
// 足りなければ CONFLICT を返す。
func checkItems(ctx context.Context, r Reader, locked map[int64]Equipment, items []Item, span Span) error {
	for _, it := range items {
		eq, ok := locked[it.EquipmentID]
		if !ok {
			return ErrNotFound("equipment not found")
		}
		reserved, err := r.ReservedQuantity(ctx, it.EquipmentID, span)
		if err != nil {
			return err
		}
		if !newAvailability(eq.TotalQty, reserved, it.Quantity).Available {
			return ErrConflict(msgQuantityNotAvailable)
		}
	}
	return nil
}
