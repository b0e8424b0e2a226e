package roles

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeRole(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Régisseur Son", "regisseur son"},
		{"  Régisseur   Son (intermittent) ", "regisseur son"},
		{"RÉGISSEUR-LUMIÈRE", "regisseur lumiere"},
		{"Régisseur général (CDI)", "regisseur general"},
		{"Administrateur", "administrateur"},
		{"general_manager", "general manager"},
		{"Sound Manager (unclosed", "sound manager"},
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NormalizeRole(tc.in), "input %q", tc.in)
	}
}

func TestNormalizeRole_AccentedAndPlainLabelsMatch(t *testing.T) {
	assert.Equal(t, NormalizeRole("Régisseur Plateau"), NormalizeRole("regisseur plateau (renfort)"))
}

func TestNormalizeType(t *testing.T) {
	cases := []struct {
		in   string
		want EquipmentType
	}{
		{"Sound", TypeSound},
		{"SON", TypeSound},
		{"Lumière", TypeLight},
		{"light", TypeLight},
		{"Plateau", TypeStage},
		{"Vidéo", TypeVideo},
		{" autre ", TypeOther},
	}
	for _, tc := range cases {
		got, ok := NormalizeType(tc.in)
		assert.True(t, ok, "input %q", tc.in)
		assert.Equal(t, tc.want, got, "input %q", tc.in)
	}

	_, ok := NormalizeType("Catering")
	assert.False(t, ok)
}

func TestCanModify(t *testing.T) {
	cases := []struct {
		name  string
		role  string
		types []EquipmentType
		want  bool
	}{
		{"unknown role", "Intern", nil, false},
		{"unknown role with type", "Intern", []EquipmentType{TypeOther}, false},
		{"known role without type", "Régisseur Son", nil, true},
		{"specialist own type", "Régisseur Son", []EquipmentType{TypeSound}, true},
		{"specialist generic types", "Régisseur Son", []EquipmentType{TypeVideo, TypeOther}, true},
		{"specialist foreign type", "Régisseur Son", []EquipmentType{TypeStage}, false},
		{"specialist mixed", "light manager", []EquipmentType{TypeLight, TypeSound}, false},
		{"general manager", "Régisseur général", AllTypes, true},
		{"administrator", "Administrateur", AllTypes, true},
		{"other", "Autre", []EquipmentType{TypeStage, TypeLight}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CanModify(tc.role, tc.types...))
		})
	}
}

func TestPolicyFlags(t *testing.T) {
	assert.True(t, IsAdmin("Administrateur (siège)"))
	assert.False(t, IsAdmin("Régisseur général"))

	assert.True(t, CancelsForStructure("Régisseur général"))
	assert.True(t, CancelsForStructure("administrator"))
	assert.False(t, CancelsForStructure("Régisseur Son"))
	assert.False(t, CancelsForStructure("nobody"))

	assert.True(t, Known("stage-manager"))
	assert.False(t, Known(""))
}
