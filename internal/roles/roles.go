// Package roles maps free-text role labels to the equipment types a user may act on.
package roles

type EquipmentType string

const (
	TypeSound EquipmentType = "Sound"
	TypeLight EquipmentType = "Light"
	TypeStage EquipmentType = "Stage"
	TypeVideo EquipmentType = "Video"
	TypeOther EquipmentType = "Other"
)

// AllTypes は定義順の全種別
var AllTypes = []EquipmentType{TypeSound, TypeLight, TypeStage, TypeVideo, TypeOther}

var typeAliases = map[string]EquipmentType{
	"sound":   TypeSound,
	"son":     TypeSound,
	"light":   TypeLight,
	"lumiere": TypeLight,
	"stage":   TypeStage,
	"plateau": TypeStage,
	"video":   TypeVideo,
	"other":   TypeOther,
	"autre":   TypeOther,
}

// CancelScope は借り手側でキャンセル・削除できる範囲
type CancelScope int

const (
	// 自分が申請した貸出のみ
	CancelOwnRequests CancelScope = iota
	// 所属組織の貸出すべて
	CancelStructure
)

// Policy はロール1件分の権限
type Policy struct {
	Types  map[EquipmentType]struct{}
	Cancel CancelScope
	Bypass bool // 管理者: 認可チェックをすべて通す
}

func (p Policy) Allows(t EquipmentType) bool {
	_, ok := p.Types[t]
	return ok
}

func typeSet(types ...EquipmentType) map[EquipmentType]struct{} {
	set := make(map[EquipmentType]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return set
}

// 専門ロールは自分の種別に加えて Video / Other を扱える
func specialist(t EquipmentType) Policy {
	return Policy{Types: typeSet(t, TypeVideo, TypeOther), Cancel: CancelOwnRequests}
}

var (
	administrator  = Policy{Types: typeSet(AllTypes...), Cancel: CancelStructure, Bypass: true}
	generalManager = Policy{Types: typeSet(AllTypes...), Cancel: CancelStructure}
	generalist     = Policy{Types: typeSet(AllTypes...), Cancel: CancelOwnRequests}
)

// キーは NormalizeRole 済みの表記
var roleMap = map[string]Policy{
	"administrator":     administrator,
	"administrateur":    administrator,
	"admin":             administrator,
	"general manager":   generalManager,
	"regisseur general": generalManager,
	"other":             generalist,
	"autre":             generalist,
	"sound manager":     specialist(TypeSound),
	"regisseur son":     specialist(TypeSound),
	"light manager":     specialist(TypeLight),
	"regisseur lumiere": specialist(TypeLight),
	"stage manager":     specialist(TypeStage),
	"regisseur plateau": specialist(TypeStage),
}

// Lookup は正規化したロール名でポリシーを引く
func Lookup(role string) (Policy, bool) {
	p, ok := roleMap[NormalizeRole(role)]
	return p, ok
}

func Known(role string) bool {
	_, ok := Lookup(role)
	return ok
}

// CanModify: 未知のロールは false。種別を省略した場合はロールの存在だけを見る
func CanModify(role string, types ...EquipmentType) bool {
	p, ok := Lookup(role)
	if !ok {
		return false
	}
	for _, t := range types {
		if !p.Allows(t) {
			return false
		}
	}
	return true
}

func IsAdmin(role string) bool {
	p, ok := Lookup(role)
	return ok && p.Bypass
}

// CancelsForStructure は所属組織の貸出を代理でキャンセルできるロールか
func CancelsForStructure(role string) bool {
	p, ok := Lookup(role)
	return ok && p.Cancel == CancelStructure
}
