package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/ledger_backend/config"
	"bitbucket.org/mmdatafocus/ledger_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Company struct {
	ID              uuid.UUID  `gorm:"primary_key" json:"id"`
	Name            string     `gorm:"index;size:100;not null" json:"name" binding:"required"`
	ContactName     string     `gorm:"size:100" json:"contact_name"`
	Email           string     `gorm:"size:255" json:"email"`
	Phone           string     `gorm:"size:20" json:"phone"`
	Gstin           string     `gorm:"size:15" json:"gstin"`
	StateCode       string     `gorm:"size:2" json:"state_code"`
	Address         string     `gorm:"type:text" json:"address"`
	Timezone        string     `gorm:"size:50" json:"timezone"`
	PostingLockDate *time.Time `json:"posting_lock_date"`
	IsActive        *bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewCompany struct {
	Name        string `json:"name" binding:"required"`
	ContactName string `json:"contact_name"`
	Email       string `json:"email" binding:"required"`
	Phone       string `json:"phone"`
	Gstin       string `json:"gstin"`
	StateCode   string `json:"state_code"`
	Address     string `json:"address"`
	Timezone    string `json:"timezone"`
}

type NewPostingLock struct {
	PostingLockDate time.Time `json:"posting_lock_date" binding:"required"`
	Reason          string    `json:"reason"`
}

// PostingLockRecord is the audit trail of period closes.
type PostingLockRecord struct {
	ID              int       `gorm:"primary_key" json:"id"`
	CompanyId       string    `gorm:"index;not null" json:"company_id"`
	PostingLockDate time.Time `json:"posting_lock_date"`
	Reason          string    `gorm:"default:null" json:"reason"`
	UserId          int       `gorm:"index;not null" json:"user_id"`
	UserName        string    `gorm:"size:100" json:"user_name"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (company *Company) StoreRedis() error {
	return config.SetRedisObject("Company:"+fmt.Sprint(company.ID), company, 0)
}

func (company *Company) RemoveRedis() error {
	return config.RemoveRedisKey("Company:" + fmt.Sprint(company.ID))
}

func (input *NewCompany) validate(ctx context.Context, id string) error {
	// name
	if err := utils.ValidateUnique[Company](ctx, "", "name", input.Name, id); err != nil {
		return err
	}
	// email
	if err := utils.ValidateUnique[Company](ctx, "", "email", input.Email, id); err != nil {
		return err
	}
	// phone
	if input.Phone != "" {
		if err := utils.ValidatePhoneNumber(input.Phone, utils.CountryCode); err != nil {
			return errors.New("invalid phone number")
		}
		if err := utils.ValidateUnique[Company](ctx, "", "phone", input.Phone, id); err != nil {
			return err
		}
	}
	// gstin identifies the tax registration; two companies cannot share one
	if input.Gstin != "" {
		if err := utils.ValidateUnique[Company](ctx, "", "gstin", input.Gstin, id); err != nil {
			return err
		}
	}
	return nil
}

func CreateCompany(ctx context.Context, input *NewCompany) (*Company, error) {
	// When creating a company,
	// - create the default chart of ledgers (system codes included)
	// - create the 'Owner' user
	if err := input.validate(ctx, ""); err != nil {
		return nil, err
	}
	db := config.GetDB()

	tx := db.Begin()

	CID := uuid.New()
	timezone := "Asia/Kolkata"
	if input.Timezone != "" {
		timezone = input.Timezone
	}

	company := Company{
		ID:          CID,
		Name:        input.Name,
		ContactName: input.ContactName,
		Email:       input.Email,
		Phone:       input.Phone,
		Gstin:       input.Gstin,
		StateCode:   input.StateCode,
		Address:     input.Address,
		Timezone:    timezone,
		IsActive:    utils.NewTrue(),
	}

	// create company
	err := tx.WithContext(ctx).Create(&company).Error
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	// create defaults for the new company
	companyId := company.ID.String()
	ctx = utils.SetCompanyIdInContext(ctx, companyId)

	if err := CreateDefaultLedgers(tx, ctx, companyId); err != nil {
		tx.Rollback()
		return nil, err
	}

	if _, err := CreateDefaultOwner(tx, ctx, companyId, company.Email, company.Name); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err = tx.Commit().Error; err != nil {
		return nil, err
	}

	return &company, nil
}

func GetCompanyById(ctx context.Context, id string) (*Company, error) {

	var result Company

	exists, err := config.GetRedisObject("Company:"+id, &result)
	if err != nil {
		return nil, err
	}

	if !exists {
		db := config.GetDB()
		// db query
		err := db.WithContext(ctx).Where("id = ?", id).First(&result).Error
		if err != nil {
			return nil, NewNotFoundError("company", id)
		}
		// caching
		if err := result.StoreRedis(); err != nil {
			return nil, err
		}
	}
	return &result, nil
}

// GetCompanyById2 is the tx-scoped variant used by workers that already hold
// a transaction.
func GetCompanyById2(tx *gorm.DB, id string) (*Company, error) {

	var result Company

	exists, err := config.GetRedisObject("Company:"+id, &result)
	if err != nil {
		return nil, err
	}

	if !exists {
		// db query
		err := tx.Where("id = ?", id).First(&result).Error
		if err != nil {
			return nil, NewNotFoundError("company", id)
		}
		// caching
		if err := result.StoreRedis(); err != nil {
			return nil, err
		}
	}
	return &result, nil
}

// GetCompanyByUserEmail resolves the counterparty company for notification
// sync: the recipient is the registered user owning that email.
func GetCompanyByUserEmail(ctx context.Context, email string) (*Company, error) {
	db := config.GetDB()

	var user User
	if err := db.WithContext(ctx).Model(&User{}).Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewNotFoundError("user", email)
		}
		return nil, err
	}
	return GetCompanyById(ctx, user.CompanyId)
}

// SetPostingLock closes the books up to the given date and records who did it.
func SetPostingLock(ctx context.Context, companyId string, input *NewPostingLock) (*Company, error) {
	db := config.GetDB()

	var company Company
	if err := db.WithContext(ctx).Where("id = ?", companyId).First(&company).Error; err != nil {
		return nil, NewNotFoundError("company", companyId)
	}

	userId, _ := utils.GetUserIdFromContext(ctx)
	userName, _ := utils.GetUserNameFromContext(ctx)

	tx := db.Begin()
	if err := tx.WithContext(ctx).Model(&company).
		Update("posting_lock_date", input.PostingLockDate).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	record := PostingLockRecord{
		CompanyId:       companyId,
		PostingLockDate: input.PostingLockDate,
		Reason:          input.Reason,
		UserId:          userId,
		UserName:        userName,
	}
	if err := tx.WithContext(ctx).Create(&record).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	if err := company.RemoveRedis(); err != nil {
		return nil, err
	}
	company.PostingLockDate = &input.PostingLockDate
	return &company, nil
}
