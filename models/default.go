package models

import (
	"context"

	"bitbucket.org/mmdatafocus/ledger_backend/utils"
	"gorm.io/gorm"
)

// System ledger codes. Resolved per company via GetSystemLedgers.
const (
	LedgerCodeCash             = "CSH"
	LedgerCodeSales            = "SAL"
	LedgerCodePurchase         = "PUR"
	LedgerCodeRoundOff         = "RND"
	LedgerCodeStockInHand      = "STK"
	LedgerCodeRetainedEarnings = "RET"
	LedgerCodeOutputCgst       = "OCG"
	LedgerCodeOutputSgst       = "OSG"
	LedgerCodeOutputIgst       = "OIG"
	LedgerCodeOutputCess       = "OCS"
	LedgerCodeInputCgst        = "ICG"
	LedgerCodeInputSgst        = "ISG"
	LedgerCodeInputIgst        = "IIG"
	LedgerCodeInputCess        = "ICS"
)

type NewSystemLedger struct {
	LedgerType  LedgerType
	Name        string
	Description string
	SystemCode  string
}

// GetDefaultChartOfLedgers lists the ledgers every company starts with. The
// tax ledgers carry the GST split so posted vouchers always have somewhere to
// put cgst/sgst/igst/cess; the round-off ledger absorbs rounding deltas.
func GetDefaultChartOfLedgers() []NewSystemLedger {
	return []NewSystemLedger{
		{LedgerType: LedgerTypeCashInHand, Name: "Cash", Description: "Default cash ledger", SystemCode: LedgerCodeCash},
		{LedgerType: LedgerTypeSalesAccounts, Name: "Sales", Description: "Default sales ledger", SystemCode: LedgerCodeSales},
		{LedgerType: LedgerTypePurchaseAccounts, Name: "Purchase", Description: "Default purchase ledger", SystemCode: LedgerCodePurchase},
		{LedgerType: LedgerTypeIndirectExpenses, Name: "Round Off", Description: "Rounding differences on voucher totals", SystemCode: LedgerCodeRoundOff},
		{LedgerType: LedgerTypeStockInHand, Name: "Stock In Hand", Description: "Inventory value", SystemCode: LedgerCodeStockInHand},
		{LedgerType: LedgerTypeRetainedEarnings, Name: "Retained Earnings", Description: "Accumulated profit carried forward", SystemCode: LedgerCodeRetainedEarnings},
		{LedgerType: LedgerTypeDutiesAndTaxes, Name: "Output CGST", Description: "CGST collected on outward supplies", SystemCode: LedgerCodeOutputCgst},
		{LedgerType: LedgerTypeDutiesAndTaxes, Name: "Output SGST", Description: "SGST collected on outward supplies", SystemCode: LedgerCodeOutputSgst},
		{LedgerType: LedgerTypeDutiesAndTaxes, Name: "Output IGST", Description: "IGST collected on outward supplies", SystemCode: LedgerCodeOutputIgst},
		{LedgerType: LedgerTypeDutiesAndTaxes, Name: "Output Cess", Description: "Cess collected on outward supplies", SystemCode: LedgerCodeOutputCess},
		{LedgerType: LedgerTypeDutiesAndTaxes, Name: "Input CGST", Description: "CGST credit on inward supplies", SystemCode: LedgerCodeInputCgst},
		{LedgerType: LedgerTypeDutiesAndTaxes, Name: "Input SGST", Description: "SGST credit on inward supplies", SystemCode: LedgerCodeInputSgst},
		{LedgerType: LedgerTypeDutiesAndTaxes, Name: "Input IGST", Description: "IGST credit on inward supplies", SystemCode: LedgerCodeInputIgst},
		{LedgerType: LedgerTypeDutiesAndTaxes, Name: "Input Cess", Description: "Cess credit on inward supplies", SystemCode: LedgerCodeInputCess},
	}
}

func CreateDefaultLedgers(tx *gorm.DB, ctx context.Context, companyId string) error {

	chartOfLedgers := GetDefaultChartOfLedgers()

	for _, data := range chartOfLedgers {
		ledger := Ledger{
			CompanyId:      companyId,
			LedgerType:     data.LedgerType,
			MainType:       data.LedgerType.MainType(),
			NormalBalance:  NormalBalanceFor(data.LedgerType),
			Name:           data.Name,
			Description:    data.Description,
			IsActive:       utils.NewTrue(),
			IsSystemLedger: utils.NewTrue(),
			SystemCode:     data.SystemCode,
		}

		if err := tx.WithContext(ctx).Create(&ledger).Error; err != nil {
			tx.Rollback()
			return err
		}
	}

	return nil
}

func CreateDefaultOwner(tx *gorm.DB, ctx context.Context, companyId string, email string, name string) (*User, error) {

	hashedPassword, err := utils.HashPassword("default123")
	if err != nil {
		return &User{}, err
	}

	owner := User{
		CompanyId: companyId,
		Username:  email,
		Name:      name,
		Email:     &email,
		Password:  string(hashedPassword),
		IsActive:  utils.NewTrue(),
		Role:      UserRoleOwner,
	}
	if err := tx.WithContext(ctx).Create(&owner).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	return &owner, nil
}
