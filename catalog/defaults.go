package catalog

import (
	"strings"

	"github.com/warp/fee-engine/generic"
)

// =============================================================================
// DEFAULTS - Categories and the system item types the composer emits
// =============================================================================

// KnownCategory reports whether code is one of the fixed category codes.
func KnownCategory(code generic.CategoryCode) bool {
	switch code {
	case generic.CategoryBase, generic.CategoryActividad, generic.CategoryDescuento,
		generic.CategoryRecargo, generic.CategoryBonificacion, generic.CategoryAjuste,
		generic.CategoryOtro:
		return true
	}
	return false
}

// DefaultCategories returns every category in display order.
func DefaultCategories() []generic.ItemCategory {
	return []generic.ItemCategory{
		{ID: "cat-base", Code: generic.CategoryBase, Name: "Cuota base", DisplayOrder: 10, Active: true},
		{ID: "cat-actividad", Code: generic.CategoryActividad, Name: "Actividades", DisplayOrder: 20, Active: true},
		{ID: "cat-recargo", Code: generic.CategoryRecargo, Name: "Recargos", DisplayOrder: 30, Active: true},
		{ID: "cat-descuento", Code: generic.CategoryDescuento, Name: "Descuentos", DisplayOrder: 40, Active: true},
		{ID: "cat-bonificacion", Code: generic.CategoryBonificacion, Name: "Bonificaciones", DisplayOrder: 50, Active: true},
		{ID: "cat-ajuste", Code: generic.CategoryAjuste, Name: "Ajustes", DisplayOrder: 60, Active: true},
		{ID: "cat-otro", Code: generic.CategoryOtro, Name: "Otros", DisplayOrder: 70, Active: true},
	}
}

// SystemTypes returns the item types the composer depends on. They cannot
// be deleted.
func SystemTypes() []generic.ItemType {
	return []generic.ItemType{
		systemType(generic.TypeCuotaBase, "Cuota base", generic.CategoryBase, 10, CategoriaMonto{}),
		systemType(generic.TypeActividad, "Actividad", generic.CategoryActividad, 20, Participacion{}),
		systemType(generic.TypeAjusteRecargo, "Recargo manual", generic.CategoryRecargo, 30, nil),
		systemType(generic.TypeDescuentoRegla, "Descuento por regla", generic.CategoryDescuento, 40, nil),
		systemType(generic.TypeDescuentoExencion, "Exención parcial", generic.CategoryDescuento, 45, nil),
		systemType(generic.TypeAjusteDescuento, "Ajuste manual", generic.CategoryAjuste, 60, nil),
	}
}

func systemType(code, name string, category generic.CategoryCode, order int, formula Formula) generic.ItemType {
	t := generic.ItemType{
		ID:           "tipo-" + strings.ToLower(strings.ReplaceAll(code, "_", "-")),
		Code:         code,
		Name:         name,
		Category:     category,
		DisplayOrder: order,
		Active:       true,
		System:       true,
	}
	if formula != nil {
		t.Calculated = true
		t.Formula = MustEncodeFormula(formula)
	}
	// Manual adjustment items may be hand-edited on the cuota.
	t.Configurable = code == generic.TypeAjusteRecargo || code == generic.TypeAjusteDescuento
	return t
}

// IsSystemType reports whether code is one of SystemTypes.
func IsSystemType(code string) bool {
	for _, t := range SystemTypes() {
		if t.Code == code {
			return true
		}
	}
	return false
}
