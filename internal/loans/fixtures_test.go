package loans

import (
	"testing"
	"time"

	"KURA-backend/internal/platform/db"
	"KURA-backend/internal/roles"
)

const (
	theatre  int64 = 1 // 貸出側
	festival int64 = 2 // 借用側
	outside  int64 = 3

	eqMixer   int64 = 10 // Sound, 1台
	eqRiser   int64 = 11 // Stage, 2台
	eqCamera  int64 = 12 // Video, 3台
	eqSpot    int64 = 20 // Light, festival 所有
	eqMissing int64 = 99
)

var (
	soundMgr   = Actor{ID: "sam", Role: "Régisseur son", StructureID: theatre}
	stageMgr   = Actor{ID: "stella", Role: "Stage manager", StructureID: theatre}
	ownerGM    = Actor{ID: "gina", Role: "Régisseur général", StructureID: theatre}
	requester  = Actor{ID: "bob", Role: "Other", StructureID: festival}
	colleague  = Actor{ID: "carl", Role: "Sound manager", StructureID: festival}
	borrowerGM = Actor{ID: "greg", Role: "General manager (interim)", StructureID: festival}
	stranger   = Actor{ID: "olga", Role: "Other", StructureID: outside}
	admin      = Actor{ID: "ada", Role: "Administrateur", StructureID: outside}
)

var (
	jan1 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	jan2 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	jan3 = time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
	feb1 = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	feb5 = time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC)
)

type harness struct {
	store    *fakeStore
	clock    *fakeClock
	notifier *recordingNotifier
	svc      *Service
}

func newHarness(t *testing.T, opts ...db.RetryOption) *harness {
	t.Helper()
	store := newFakeStore()
	store.addStructure(theatre, festival, outside)
	store.addEquipment(eqMixer, "Son", 1, theatre)
	store.addEquipment(eqRiser, "Plateau", 2, theatre)
	store.addEquipment(eqCamera, "Vidéo", 3, theatre)
	store.addEquipment(eqSpot, "Light", 1, festival)

	h := &harness{
		store:    store,
		clock:    &fakeClock{t: time.Date(2023, 12, 1, 9, 0, 0, 0, time.UTC)},
		notifier: &recordingNotifier{},
	}
	h.svc = NewService(store,
		WithClock(h.clock),
		WithIDGen(&seqIDs{}),
		WithNotifier(h.notifier),
		WithRetryOptions(opts...),
	)
	return h
}

func request(start, end time.Time, items ...Item) CreateInput {
	return CreateInput{OwnerID: theatre, BorrowerID: festival, Items: items, StartDate: start, EndDate: end}
}

func item(equipmentID int64, qty int) Item {
	return Item{EquipmentID: equipmentID, Quantity: qty}
}

// storedLoan は初期データ用の貸出
func storedLoan(id string, status Status, start, end time.Time, items ...Item) Loan {
	for i := range items {
		items[i].Type = typeOf(items[i].EquipmentID)
	}
	return Loan{
		ID:          id,
		OwnerID:     theatre,
		BorrowerID:  festival,
		RequestedBy: requester.ID,
		StartDate:   start,
		EndDate:     end,
		Status:      status,
		Items:       items,
	}
}

func typeOf(equipmentID int64) roles.EquipmentType {
	switch equipmentID {
	case eqMixer:
		return roles.TypeSound
	case eqRiser:
		return roles.TypeStage
	case eqCamera:
		return roles.TypeVideo
	case eqSpot:
		return roles.TypeLight
	}
	return roles.TypeOther
}
