package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/ledger_backend/config"
	"bitbucket.org/mmdatafocus/ledger_backend/utils"
	"github.com/shopspring/decimal"
)

// GstRate is a company-scoped tax rate configuration. Rate is the combined
// GST percentage; whether it splits into cgst/sgst or posts as igst depends
// on jurisdiction at calculation time, not here.
type GstRate struct {
	ID        int             `gorm:"primary_key" json:"id"`
	CompanyId string          `gorm:"index;not null" json:"company_id" binding:"required"`
	Name      string          `gorm:"size:100;not null" json:"name" binding:"required"`
	Rate      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"rate" binding:"required"`
	CessRate  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"cess_rate"`
	IsActive  *bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewGstRate struct {
	Name     string          `json:"name" binding:"required"`
	Rate     decimal.Decimal `json:"rate" binding:"required"`
	CessRate decimal.Decimal `json:"cess_rate"`
}

/*
caches:
	GstRate:$id
	GstRateList:$companyId
*/

func (t GstRate) GetCompanyId() string {
	return t.CompanyId
}

func (t GstRate) RemoveInstanceRedis() error {
	return utils.RemoveRedisItem[GstRate](t.ID)
}

func (t GstRate) RemoveListRedis() error {
	return utils.RemoveRedisList[GstRate](t.CompanyId)
}

// validate input for both create & update. (id = 0 for create)
func (input *NewGstRate) validate(ctx context.Context, companyId string, id int) error {
	// name
	if err := utils.ValidateUnique[GstRate](ctx, companyId, "name", input.Name, id); err != nil {
		return err
	}
	if input.Rate.IsNegative() || input.CessRate.IsNegative() {
		return errors.New("rate cannot be negative")
	}
	return nil
}

func CreateGstRate(ctx context.Context, input *NewGstRate) (*GstRate, error) {
	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, errors.New("company id is required")
	}

	if err := input.validate(ctx, companyId, 0); err != nil {
		return nil, err
	}

	gstRate := GstRate{
		CompanyId: companyId,
		Name:      input.Name,
		Rate:      input.Rate,
		CessRate:  input.CessRate,
		IsActive:  utils.NewTrue(),
	}

	db := config.GetDB()
	// db action
	err := db.WithContext(ctx).Create(&gstRate).Error
	if err != nil {
		return nil, err
	}
	if err := gstRate.RemoveListRedis(); err != nil {
		return nil, err
	}
	return &gstRate, nil
}

func UpdateGstRate(ctx context.Context, id int, input *NewGstRate) (*GstRate, error) {
	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, errors.New("company id is required")
	}

	gstRate, err := utils.FetchModel[GstRate](ctx, companyId, id)
	if err != nil {
		return nil, err
	}
	if err := input.validate(ctx, companyId, id); err != nil {
		return nil, err
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Model(&gstRate).Updates(map[string]interface{}{
		"Name":     input.Name,
		"Rate":     input.Rate,
		"CessRate": input.CessRate,
	}).Error
	if err != nil {
		return nil, err
	}
	if err := gstRate.RemoveInstanceRedis(); err != nil {
		return nil, err
	}
	if err := gstRate.RemoveListRedis(); err != nil {
		return nil, err
	}
	return gstRate, nil
}

func DeleteGstRate(ctx context.Context, id int) (*GstRate, error) {
	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, errors.New("company id is required")
	}

	gstRate, err := utils.FetchModel[GstRate](ctx, companyId, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	var count int64
	if err := db.WithContext(ctx).Model(&VoucherEntry{}).
		Where("gst_rate_id = ?", id).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, errors.New("this gst rate is referenced by posted entries")
	}

	err = db.WithContext(ctx).Delete(&gstRate).Error
	if err != nil {
		return nil, err
	}
	if err := gstRate.RemoveInstanceRedis(); err != nil {
		return nil, err
	}
	if err := gstRate.RemoveListRedis(); err != nil {
		return nil, err
	}
	return gstRate, nil
}

func GetGstRate(ctx context.Context, id int) (*GstRate, error) {
	result, err := GetResource[GstRate](ctx, id)
	if err != nil {
		return nil, NewNotFoundError("gst rate", id)
	}
	return result, nil
}

func GetGstRates(ctx context.Context) ([]*GstRate, error) {
	return ListAllResource[GstRate](ctx, "name")
}

func ToggleActiveGstRate(ctx context.Context, id int, isActive bool) (*GstRate, error) {
	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, errors.New("company id is required")
	}
	return ToggleActiveModel[GstRate](ctx, companyId, id, isActive)
}
