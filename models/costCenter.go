package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/ledger_backend/config"
	"bitbucket.org/mmdatafocus/ledger_backend/utils"
)

type CostCenter struct {
	ID        int       `gorm:"primary_key" json:"id"`
	CompanyId string    `gorm:"index;not null" json:"company_id"`
	Name      string    `gorm:"size:100;not null" json:"name" binding:"required"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewCostCenter struct {
	Name string `json:"name" binding:"required"`
}

/*
caches:
	CostCenter:$id
	CostCenterList:$companyId
*/

func (c CostCenter) GetCompanyId() string {
	return c.CompanyId
}

func (c CostCenter) RemoveInstanceRedis() error {
	return utils.RemoveRedisItem[CostCenter](c.ID)
}

func (c CostCenter) RemoveListRedis() error {
	return utils.RemoveRedisList[CostCenter](c.CompanyId)
}

// validate input for both create & update. (id = 0 for create)
func (input *NewCostCenter) validate(ctx context.Context, companyId string, id int) error {
	// name
	if err := utils.ValidateUnique[CostCenter](ctx, companyId, "name", input.Name, id); err != nil {
		return err
	}
	return nil
}

func CreateCostCenter(ctx context.Context, input *NewCostCenter) (*CostCenter, error) {

	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, errors.New("company id is required")
	}

	if err := input.validate(ctx, companyId, 0); err != nil {
		return nil, err
	}

	costCenter := CostCenter{
		CompanyId: companyId,
		Name:      input.Name,
		IsActive:  utils.NewTrue(),
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&costCenter).Error; err != nil {
		return nil, err
	}
	if err := costCenter.RemoveListRedis(); err != nil {
		return nil, err
	}
	return &costCenter, nil
}

func UpdateCostCenter(ctx context.Context, id int, input *NewCostCenter) (*CostCenter, error) {

	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, errors.New("company id is required")
	}

	if err := input.validate(ctx, companyId, id); err != nil {
		return nil, err
	}

	costCenter, err := utils.FetchModel[CostCenter](ctx, companyId, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Model(&costCenter).Updates(map[string]interface{}{
		"Name": input.Name,
	}).Error
	if err != nil {
		return nil, err
	}
	if err := costCenter.RemoveInstanceRedis(); err != nil {
		return nil, err
	}
	if err := costCenter.RemoveListRedis(); err != nil {
		return nil, err
	}
	return costCenter, nil
}

func GetCostCenter(ctx context.Context, id int) (*CostCenter, error) {
	result, err := GetResource[CostCenter](ctx, id)
	if err != nil {
		return nil, NewNotFoundError("cost center", id)
	}
	return result, nil
}

func GetCostCenters(ctx context.Context) ([]*CostCenter, error) {
	return ListAllResource[CostCenter](ctx, "name")
}
