package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"bitbucket.org/mmdatafocus/ledger_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PublishOutboxEvent implements the transactional outbox: it writes the
// message record inside the caller's DB transaction but does NOT publish to
// Pub/Sub. Publishing is performed asynchronously by the outbox dispatcher
// after commit.
func PublishOutboxEvent(ctx context.Context, db *gorm.DB, companyId string, transactionDateTime time.Time, refId int, refType EventReferenceType, obj interface{}, oldObj interface{}, msgAction OutboxMessageAction) error {

	var objInByte []byte
	var oldObjInByte []byte
	var err error

	if msgAction == OutboxMessageActionCreate || msgAction == OutboxMessageActionUpdate {
		objInByte, err = ToJSONWithoutField(obj, "Attachments")
		if err != nil {
			return err
		}
	}
	if msgAction == OutboxMessageActionUpdate || msgAction == OutboxMessageActionDelete {
		oldObjInByte, err = ToJSONWithoutField(oldObj, "Attachments")
		if err != nil {
			return err
		}
	}

	record := OutboxMessageRecord{
		CompanyId:           companyId,
		TransactionDateTime: transactionDateTime,
		ReferenceId:         refId,
		ReferenceType:       refType,
		Action:              msgAction,
		NewObj:              objInByte,
		OldObj:              oldObjInByte,
		IsProcessed:         false,
		PublishStatus:       OutboxPublishStatusPending,
		CorrelationId:       correlationIdFromContextOrNew(ctx),
	}
	err = db.Create(&record).Error
	if err != nil {
		return err
	}
	return nil
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}

// ToJSONWithoutField converts an object to JSON after temporarily removing a specified field
func ToJSONWithoutField(obj interface{}, fieldName string) ([]byte, error) {
	// Get the value of the object
	val := reflect.ValueOf(obj)

	// If the value is an interface, get the concrete value it holds
	if val.Kind() == reflect.Interface {
		val = val.Elem()
	}

	// If the value is not a pointer, create a pointer to it
	if val.Kind() != reflect.Ptr {
		valPtr := reflect.New(val.Type())
		valPtr.Elem().Set(val)
		val = valPtr
	}

	// Dereference the pointer
	val = val.Elem()

	// Ensure the value is a struct
	if val.Kind() != reflect.Struct {
		return nil, fmt.Errorf("expected a struct, got %v", val.Kind())
	}

	// Find the field by name
	field := val.FieldByName(fieldName)
	var err error
	var jsonData []byte
	if field.IsValid() {
		// Check if the field is a slice
		if field.Kind() == reflect.Slice {
			// Iterate over the slice elements
			for i := 0; i < field.Len(); i++ {
				elem := field.Index(i)
				if elem.Kind() == reflect.Struct {
					elemPtr := reflect.New(elem.Type())
					elemPtr.Elem().Set(elem)
					field.Index(i).Set(elemPtr.Elem())
				}
			}
		}

		// Store the original value of the field
		originalValue := reflect.New(field.Type()).Elem()
		originalValue.Set(field)

		// Clear the field value
		field.Set(reflect.Zero(field.Type()))

		// Convert the object to JSON
		jsonData, err = json.Marshal(val.Interface())

		// Restore the original value
		field.Set(originalValue)
	} else {
		// Convert the object to JSON
		jsonData, err = json.Marshal(val.Interface())
	}
	if err != nil {
		return nil, err
	}
	return jsonData, nil
}

// validatePostingLock rejects vouchers dated on or before the company's
// posting lock date (period close). Dates are compared in the company's
// timezone so a lock of 2025-03-31 covers the whole local day.
func validatePostingLock(ctx context.Context, voucherDate time.Time, companyId string) error {
	company, err := GetCompanyById(ctx, companyId)
	if err != nil {
		return err
	}
	if company.PostingLockDate == nil {
		return nil
	}
	vDate, err := utils.ConvertToDate(voucherDate, company.Timezone)
	if err != nil {
		return err
	}
	lDate, err := utils.ConvertToDate(*company.PostingLockDate, company.Timezone)
	if err != nil {
		return err
	}
	if !vDate.After(lDate) {
		return errors.New("posting period has been locked")
	}
	return nil
}

// ValidatePostingLock enforces the posting lock server-side. This is safe to
// call from both API handlers and async workers.
func ValidatePostingLock(ctx context.Context, voucherDate time.Time, companyId string) error {
	return validatePostingLock(ctx, voucherDate, companyId)
}
