package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/ledger_backend/config"
	"bitbucket.org/mmdatafocus/ledger_backend/utils"
)

type Godown struct {
	ID        int       `gorm:"primary_key" json:"id"`
	CompanyId string    `gorm:"index;not null" json:"company_id"`
	Name      string    `gorm:"size:100;not null" json:"name" binding:"required"`
	Address   string    `gorm:"type:text" json:"address"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// caches: "<companyId>Godown:<id>" and "<companyId>Godowns"

func (g Godown) GetCompanyId() string {
	return g.CompanyId
}

func (g Godown) RemoveInstanceRedis() error {
	return utils.RemoveRedisItem[Godown](g.ID)
}

func (g Godown) RemoveListRedis() error {
	return utils.RemoveRedisList[Godown](g.CompanyId)
}

type NewGodown struct {
	Name    string `json:"name" binding:"required"`
	Address string `json:"address"`
}

// validate input for both create & update. (id = 0 for create)
func (input *NewGodown) validate(ctx context.Context, companyId string, id int) error {
	// name
	if err := utils.ValidateUnique[Godown](ctx, companyId, "name", input.Name, id); err != nil {
		return err
	}
	return nil
}

func CreateGodown(ctx context.Context, input *NewGodown) (*Godown, error) {

	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, errors.New("company id is required")
	}

	if err := input.validate(ctx, companyId, 0); err != nil {
		return nil, err
	}

	godown := Godown{
		CompanyId: companyId,
		Name:      input.Name,
		Address:   input.Address,
		IsActive:  utils.NewTrue(),
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&godown).Error; err != nil {
		return nil, err
	}
	if err := godown.RemoveListRedis(); err != nil {
		return nil, err
	}
	return &godown, nil
}

func UpdateGodown(ctx context.Context, id int, input *NewGodown) (*Godown, error) {

	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, errors.New("company id is required")
	}

	if err := input.validate(ctx, companyId, id); err != nil {
		return nil, err
	}

	godown, err := utils.FetchModel[Godown](ctx, companyId, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Model(&godown).Updates(map[string]interface{}{
		"Name":    input.Name,
		"Address": input.Address,
	}).Error
	if err != nil {
		return nil, err
	}
	if err := godown.RemoveInstanceRedis(); err != nil {
		return nil, err
	}
	if err := godown.RemoveListRedis(); err != nil {
		return nil, err
	}
	return godown, nil
}

func GetGodown(ctx context.Context, id int) (*Godown, error) {

	result, err := GetResource[Godown](ctx, id)
	if err != nil {
		return nil, NewNotFoundError("godown", id)
	}
	return result, nil
}

func GetGodowns(ctx context.Context) ([]*Godown, error) {
	return ListAllResource[Godown](ctx, "name")
}
