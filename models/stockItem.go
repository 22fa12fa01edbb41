package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/ledger_backend/config"
	"bitbucket.org/mmdatafocus/ledger_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// StockItem balances are owned by the posting engine: current_balance,
// current_value and avg_rate change only inside a posting transaction.
type StockItem struct {
	ID             int             `gorm:"primary_key" json:"id"`
	CompanyId      string          `gorm:"index;not null" json:"company_id"`
	Name           string          `gorm:"index;size:100;not null" json:"name" binding:"required"`
	Unit           string          `gorm:"size:20;not null;default:'Nos'" json:"unit"`
	GodownId       int             `gorm:"index" json:"godown_id"`
	CurrentBalance decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"current_balance"`
	CurrentValue   decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"current_value"`
	AvgRate        decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"avg_rate"`
	IsActive       *bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewStockItem struct {
	Name     string `json:"name" binding:"required"`
	Unit     string `json:"unit"`
	GodownId int    `json:"godown_id"`
}

// validate input for both create & update. (id = 0 for create)
func (input *NewStockItem) validate(ctx context.Context, companyId string, id int) error {
	// name
	if err := utils.ValidateUnique[StockItem](ctx, companyId, "name", input.Name, id); err != nil {
		return err
	}
	if input.GodownId > 0 {
		if err := utils.ValidateResourceId[Godown](ctx, companyId, input.GodownId); err != nil {
			return errors.New("godown not found")
		}
	}
	return nil
}

func CreateStockItem(ctx context.Context, input *NewStockItem) (*StockItem, error) {

	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, errors.New("company id is required")
	}

	if err := input.validate(ctx, companyId, 0); err != nil {
		return nil, err
	}

	unit := input.Unit
	if unit == "" {
		unit = "Nos"
	}

	stockItem := StockItem{
		CompanyId: companyId,
		Name:      input.Name,
		Unit:      unit,
		GodownId:  input.GodownId,
		IsActive:  utils.NewTrue(),
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&stockItem).Error; err != nil {
		return nil, err
	}
	return &stockItem, nil
}

func UpdateStockItem(ctx context.Context, id int, input *NewStockItem) (*StockItem, error) {

	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, errors.New("company id is required")
	}

	if err := input.validate(ctx, companyId, id); err != nil {
		return nil, err
	}

	stockItem, err := utils.FetchModel[StockItem](ctx, companyId, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Model(&stockItem).Updates(map[string]interface{}{
		"Name":     input.Name,
		"Unit":     input.Unit,
		"GodownId": input.GodownId,
	}).Error
	if err != nil {
		return nil, err
	}
	return stockItem, nil
}

func GetStockItem(ctx context.Context, id int) (*StockItem, error) {

	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, errors.New("company id is required")
	}

	result, err := utils.FetchModel[StockItem](ctx, companyId, id)
	if err != nil {
		return nil, NewNotFoundError("stock item", id)
	}
	return result, nil
}

// GetStockItems reads straight from the DB. Stock items carry live balances,
// so they are never served from the Redis cache.
func GetStockItems(ctx context.Context) ([]*StockItem, error) {

	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, errors.New("company id is required")
	}
	return utils.FetchAllModels[StockItem](ctx, companyId)
}

// FindOrCreateStockItemByName resolves a stock item in the recipient company
// when mirroring a voucher; items the recipient never stocked before are
// created on the fly inside the mirror posting transaction.
func FindOrCreateStockItemByName(tx *gorm.DB, ctx context.Context, companyId string, name string, unit string) (*StockItem, error) {
	var item StockItem
	err := tx.WithContext(ctx).Where("company_id = ? AND name = ?", companyId, name).First(&item).Error
	if err == nil {
		return &item, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if unit == "" {
		unit = "Nos"
	}
	item = StockItem{
		CompanyId: companyId,
		Name:      name,
		Unit:      unit,
		IsActive:  utils.NewTrue(),
	}
	if err := tx.WithContext(ctx).Create(&item).Error; err != nil {
		return nil, err
	}
	return &item, nil
}
