package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/ledger_backend/config"
	"bitbucket.org/mmdatafocus/ledger_backend/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Ledger struct {
	ID             int             `gorm:"primary_key" json:"id"`
	CompanyId      string          `gorm:"index;not null" json:"company_id"`
	Name           string          `gorm:"index;size:100;not null" json:"name" binding:"required"`
	LedgerType     LedgerType      `gorm:"index;size:50;not null" json:"ledger_type" binding:"required"`
	MainType       LedgerMainType  `gorm:"index;size:10;not null" json:"main_type"`
	NormalBalance  NormalBalance   `gorm:"size:16;not null;default:'DEBIT';index" json:"normal_balance"`
	ParentLedgerId int             `gorm:"index;not null;default:0" json:"parent_ledger_id"`
	OpeningBalance decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"opening_balance"`
	CurrentBalance decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"current_balance"`
	Gstin          string          `gorm:"size:15" json:"gstin"`
	StateCode      string          `gorm:"size:2" json:"state_code"`
	// Email identifies the counterparty on debtor/creditor ledgers; sales
	// postings against a ledger with an email raise a voucher notification.
	Email          string    `gorm:"size:255" json:"email"`
	Description    string    `gorm:"type:text" json:"description"`
	IsActive       *bool     `gorm:"not null;default:true" json:"is_active"`
	IsSystemLedger *bool     `gorm:"not null;default:false" json:"is_system_ledger"`
	SystemCode     string    `gorm:"index;size:3" json:"system_code"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewLedger struct {
	Name           string          `json:"name" binding:"required"`
	LedgerType     LedgerType      `json:"ledger_type" binding:"required"`
	ParentLedgerId int             `json:"parent_ledger_id"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	Gstin          string          `json:"gstin"`
	StateCode      string          `json:"state_code"`
	Email          string          `json:"email"`
	Description    string          `json:"description"`
}

// validate input for both create & update. (id = 0 for create)
func (input *NewLedger) validate(ctx context.Context, companyId string, id int) error {
	if id > 0 {
		if id == input.ParentLedgerId {
			return errors.New("self-parent not allowed")
		}
		if err := utils.ValidateResourceId[Ledger](ctx, companyId, id); err != nil {
			return err
		}
	}
	if !input.LedgerType.Valid() {
		return errors.New("invalid ledgerType")
	}
	// name
	if err := utils.ValidateUnique[Ledger](ctx, companyId, "name", input.Name, id); err != nil {
		return err
	}
	if input.Email != "" && !utils.IsValidEmail(input.Email) {
		return errors.New("invalid email")
	}
	if input.ParentLedgerId > 0 {
		if err := utils.ValidateResourceId[Ledger](ctx, companyId, input.ParentLedgerId); err != nil {
			return errors.New("parent not found")
		}
	}
	return nil
}

func CreateLedger(ctx context.Context, input *NewLedger) (*Ledger, error) {

	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, errors.New("company id is required")
	}

	if err := input.validate(ctx, companyId, 0); err != nil {
		return nil, err
	}

	ledger := Ledger{
		CompanyId:      companyId,
		Name:           input.Name,
		LedgerType:     input.LedgerType,
		MainType:       input.LedgerType.MainType(),
		NormalBalance:  NormalBalanceFor(input.LedgerType),
		ParentLedgerId: input.ParentLedgerId,
		OpeningBalance: input.OpeningBalance,
		CurrentBalance: input.OpeningBalance,
		Gstin:          input.Gstin,
		StateCode:      input.StateCode,
		Email:          input.Email,
		Description:    input.Description,
		IsActive:       utils.NewTrue(),
		IsSystemLedger: utils.NewFalse(),
	}

	db := config.GetDB()
	err := db.WithContext(ctx).Create(&ledger).Error
	if err != nil {
		return nil, err
	}
	return &ledger, nil
}

func UpdateLedger(ctx context.Context, id int, input *NewLedger) (*Ledger, error) {

	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, errors.New("company id is required")
	}

	if err := input.validate(ctx, companyId, id); err != nil {
		return nil, err
	}

	ledger, err := utils.FetchModel[Ledger](ctx, companyId, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()

	updates := map[string]interface{}{
		"Name":        input.Name,
		"Gstin":       input.Gstin,
		"StateCode":   input.StateCode,
		"Email":       input.Email,
		"Description": input.Description,
	}

	// ledger_type is frozen once entries exist; changing it would flip the
	// balance-sign semantics of everything already posted.
	if input.LedgerType != ledger.LedgerType {
		var count int64
		if err := db.WithContext(ctx).Model(&VoucherEntry{}).
			Where("ledger_id = ?", ledger.ID).Count(&count).Error; err != nil {
			return nil, err
		}
		if count > 0 {
			return nil, errors.New("not allowed to change ledger type when posted entries exist")
		}
		updates["LedgerType"] = input.LedgerType
		updates["MainType"] = input.LedgerType.MainType()
		updates["NormalBalance"] = NormalBalanceFor(input.LedgerType)
	}

	if !*ledger.IsSystemLedger {
		if input.ParentLedgerId > 0 {
			updates["ParentLedgerId"] = input.ParentLedgerId
		}
	}

	err = db.WithContext(ctx).Model(&ledger).Updates(updates).Error
	if err != nil {
		return nil, err
	}

	return ledger, nil
}

func DeleteLedger(ctx context.Context, id int) (*Ledger, error) {

	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, errors.New("company id is required")
	}

	db := config.GetDB()

	result, err := utils.FetchModel[Ledger](ctx, companyId, id)
	if err != nil {
		return nil, err
	}

	if result.IsSystemLedger != nil && *result.IsSystemLedger {
		return nil, errors.New("cannot delete system ledger")
	}

	var count int64
	if err := db.WithContext(ctx).Model(&Ledger{}).
		Where("parent_ledger_id = ?", id).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, errors.New("this ledger has child ledger(s)")
	}

	if err := db.WithContext(ctx).Model(&VoucherEntry{}).
		Where("ledger_id = ?", id).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, errors.New("this ledger has posted entries")
	}

	err = db.WithContext(ctx).Delete(&result).Error
	if err != nil {
		return nil, err
	}

	return result, nil
}

func GetLedger(ctx context.Context, id int) (*Ledger, error) {

	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, errors.New("company id is required")
	}

	result, err := utils.FetchModel[Ledger](ctx, companyId, id)
	if err != nil {
		return nil, NewNotFoundError("ledger", id)
	}
	return result, nil
}

func GetLedgers(ctx context.Context, name *string) ([]*Ledger, error) {

	db := config.GetDB()
	var results []*Ledger

	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, errors.New("company id is required")
	}

	dbCtx := db.WithContext(ctx).Where("company_id = ?", companyId)
	if name != nil && len(*name) > 0 {
		dbCtx = dbCtx.Where("name LIKE ?", "%"+*name+"%")
	}
	err := dbCtx.Order("name").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

/*
caches:
	SystemLedgers:$companyId
*/

// GetSystemLedgers returns the system_code -> ledger id map for a company,
// cached in Redis. System ledgers are seeded at company creation and never
// deleted, so the cache has no expiry.
func GetSystemLedgers(companyId string) (map[string]int, error) {
	var ledgers []*Ledger
	var sysLedgers map[string]int

	exists, err := config.GetRedisObject("SystemLedgers:"+companyId, &sysLedgers)
	if err != nil {
		return nil, err
	}
	if !exists {
		db := config.GetDB()
		companyUuid, err := uuid.Parse(companyId)
		if err != nil {
			return nil, err
		}
		if err := db.Select("id", "system_code").Where("company_id = ?", companyUuid).Where("is_system_ledger = ?", true).Find(&ledgers).Error; err != nil {
			return nil, err
		}
		sysLedgers = make(map[string]int)
		for _, l := range ledgers {
			sysLedgers[l.SystemCode] = l.ID
		}
		if err := config.SetRedisObject("SystemLedgers:"+companyId, &sysLedgers, 0); err != nil {
			return nil, err
		}
	}
	return sysLedgers, nil
}

// FindOrCreateCounterpartyLedger resolves the party ledger for a mirrored
// voucher. The counterparty is matched by GSTIN first (the stable trade
// identity), then by name; a first-time counterparty gets a creditor ledger
// created inside the mirror posting transaction.
func FindOrCreateCounterpartyLedger(tx *gorm.DB, ctx context.Context, companyId string, counterparty *Company) (*Ledger, error) {
	var ledger Ledger
	if counterparty.Gstin != "" {
		err := tx.WithContext(ctx).
			Where("company_id = ? AND gstin = ?", companyId, counterparty.Gstin).
			First(&ledger).Error
		if err == nil {
			return &ledger, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	err := tx.WithContext(ctx).
		Where("company_id = ? AND name = ?", companyId, counterparty.Name).
		First(&ledger).Error
	if err == nil {
		return &ledger, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	ledger = Ledger{
		CompanyId:      companyId,
		Name:           counterparty.Name,
		LedgerType:     LedgerTypeSundryCreditors,
		MainType:       LedgerTypeSundryCreditors.MainType(),
		NormalBalance:  NormalBalanceFor(LedgerTypeSundryCreditors),
		Gstin:          counterparty.Gstin,
		StateCode:      counterparty.StateCode,
		Email:          counterparty.Email,
		IsActive:       utils.NewTrue(),
		IsSystemLedger: utils.NewFalse(),
	}
	if err := tx.WithContext(ctx).Create(&ledger).Error; err != nil {
		return nil, err
	}
	return &ledger, nil
}

// FindOrCreateLedgerByName resolves an ordinary ledger by name, creating it
// with the given type on first use. Mirrored vouchers use this for lines that
// are neither the party nor a system ledger.
func FindOrCreateLedgerByName(tx *gorm.DB, ctx context.Context, companyId string, name string, ledgerType LedgerType) (*Ledger, error) {
	var ledger Ledger
	err := tx.WithContext(ctx).
		Where("company_id = ? AND name = ?", companyId, name).
		First(&ledger).Error
	if err == nil {
		return &ledger, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	ledger = Ledger{
		CompanyId:      companyId,
		Name:           name,
		LedgerType:     ledgerType,
		MainType:       ledgerType.MainType(),
		NormalBalance:  NormalBalanceFor(ledgerType),
		IsActive:       utils.NewTrue(),
		IsSystemLedger: utils.NewFalse(),
	}
	if err := tx.WithContext(ctx).Create(&ledger).Error; err != nil {
		return nil, err
	}
	return &ledger, nil
}
