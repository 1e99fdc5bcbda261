package catalog

import (
	"context"

	"github.com/google/uuid"

	"github.com/warp/fee-engine/generic"
	"github.com/warp/fee-engine/logger"
)

// =============================================================================
// SERVICE - Catalog administration
// =============================================================================

type Service struct {
	store generic.CatalogStore
	log   *logger.Logger
}

func NewService(store generic.CatalogStore, log *logger.Logger) *Service {
	return &Service{store: store, log: logger.OrNop(log).With("component", "catalog")}
}

// Seed installs the default categories and any missing system type.
// Existing types are left untouched.
func (s *Service) Seed(ctx context.Context) error {
	for _, c := range DefaultCategories() {
		existing, err := s.store.GetItemCategory(ctx, c.Code)
		if err != nil {
			return generic.Internal("seed category", err)
		}
		if existing != nil {
			continue
		}
		if err := s.store.SaveItemCategory(ctx, c); err != nil {
			return generic.Internal("seed category", err)
		}
	}
	for _, t := range SystemTypes() {
		existing, err := s.store.GetItemType(ctx, t.Code)
		if err != nil {
			return generic.Internal("seed item type", err)
		}
		if existing != nil {
			continue
		}
		if err := s.store.InsertItemType(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// Snapshot loads the whole catalog into an immutable view.
func (s *Service) Snapshot(ctx context.Context) (*Snapshot, error) {
	categories, err := s.store.ListItemCategories(ctx)
	if err != nil {
		return nil, generic.Internal("load categories", err)
	}
	types, err := s.store.ListItemTypes(ctx)
	if err != nil {
		return nil, generic.Internal("load item types", err)
	}
	return NewSnapshot(categories, types), nil
}

func (s *Service) ListCategories(ctx context.Context) ([]generic.ItemCategory, error) {
	return s.store.ListItemCategories(ctx)
}

func (s *Service) ListTypes(ctx context.Context) ([]generic.ItemType, error) {
	return s.store.ListItemTypes(ctx)
}

// CreateCategory adds or reactivates one of the fixed category codes.
func (s *Service) CreateCategory(ctx context.Context, c generic.ItemCategory) (*generic.ItemCategory, error) {
	if !KnownCategory(c.Code) {
		return nil, generic.Validationf("unknown category code %q", c.Code)
	}
	if c.Name == "" {
		return nil, generic.Validationf("category name is required")
	}
	existing, err := s.store.GetItemCategory(ctx, c.Code)
	if err != nil {
		return nil, generic.Internal("get category", err)
	}
	if existing != nil {
		c.ID = existing.ID
	} else if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.Active = true
	if err := s.store.SaveItemCategory(ctx, c); err != nil {
		return nil, generic.Internal("save category", err)
	}
	return &c, nil
}

// DeactivateCategory hides a category. Categories are never deleted.
func (s *Service) DeactivateCategory(ctx context.Context, code generic.CategoryCode) error {
	c, err := s.store.GetItemCategory(ctx, code)
	if err != nil {
		return generic.Internal("get category", err)
	}
	if c == nil {
		return generic.NotFound("category", string(code))
	}
	c.Active = false
	return s.store.SaveItemCategory(ctx, *c)
}

// CreateItemType validates and inserts a new type.
func (s *Service) CreateItemType(ctx context.Context, t generic.ItemType) (*generic.ItemType, error) {
	if t.Code == "" || t.Name == "" {
		return nil, generic.Validationf("item type code and name are required")
	}
	category, err := s.store.GetItemCategory(ctx, t.Category)
	if err != nil {
		return nil, generic.Internal("get category", err)
	}
	if category == nil {
		return nil, generic.NotFound("category", string(t.Category))
	}
	if !category.Active {
		return nil, generic.BusinessRulef("category %s is inactive", t.Category)
	}
	if err := checkFormula(t); err != nil {
		return nil, err
	}

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.Active = true
	t.System = false
	if err := s.store.InsertItemType(ctx, t); err != nil {
		return nil, err
	}
	s.log.Info("item type created", "code", t.Code, "category", t.Category)
	return &t, nil
}

// UpdateItemType changes name, order, configurability and formula. The
// category and the calculated flag of an existing type are fixed.
func (s *Service) UpdateItemType(ctx context.Context, t generic.ItemType) (*generic.ItemType, error) {
	existing, err := s.store.GetItemType(ctx, t.Code)
	if err != nil {
		return nil, generic.Internal("get item type", err)
	}
	if existing == nil {
		return nil, generic.NotFound("item type", t.Code)
	}

	updated := *existing
	if t.Name != "" {
		updated.Name = t.Name
	}
	updated.DisplayOrder = t.DisplayOrder
	updated.Configurable = t.Configurable
	if len(t.Formula) > 0 {
		updated.Formula = t.Formula
	}
	if err := checkFormula(updated); err != nil {
		return nil, err
	}
	if err := s.store.UpdateItemType(ctx, updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteItemType removes a type, or deactivates it when items reference it.
// It reports whether the row was physically deleted.
func (s *Service) DeleteItemType(ctx context.Context, code string) (bool, error) {
	existing, err := s.store.GetItemType(ctx, code)
	if err != nil {
		return false, generic.Internal("get item type", err)
	}
	if existing == nil {
		return false, generic.NotFound("item type", code)
	}
	if existing.System || IsSystemType(code) {
		return false, generic.BusinessRulef("item type %s is required by the engine", code)
	}

	n, err := s.store.CountItemsByType(ctx, code)
	if err != nil {
		return false, generic.Internal("count items", err)
	}
	if n > 0 {
		existing.Active = false
		if err := s.store.UpdateItemType(ctx, *existing); err != nil {
			return false, err
		}
		s.log.Info("item type deactivated", "code", code, "items", n)
		return false, nil
	}
	if err := s.store.DeleteItemType(ctx, code); err != nil {
		return false, generic.Internal("delete item type", err)
	}
	s.log.Info("item type deleted", "code", code)
	return true, nil
}

func checkFormula(t generic.ItemType) error {
	if !t.Calculated {
		return nil
	}
	if len(t.Formula) == 0 {
		return generic.BusinessRulef("calculated item type %s needs a formula", t.Code)
	}
	if _, err := ParseFormula(t.Formula); err != nil {
		return generic.BusinessRulef("calculated item type %s has an invalid formula: %v", t.Code, err)
	}
	return nil
}
