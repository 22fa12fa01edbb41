package models

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/ledger_backend/config"
	"bitbucket.org/mmdatafocus/ledger_backend/utils"
	"github.com/disintegration/imaging"
	"gorm.io/gorm"
)

// VoucherAttachment is a supporting document (scanned invoice, delivery
// note) stored in GCS. Attachments are not part of the ledger: they can be
// added after posting and the outbox payload never carries them. The
// counterparty reviews them before accepting a notification.
type VoucherAttachment struct {
	ID           int       `gorm:"primary_key" json:"id"`
	CompanyId    string    `gorm:"size:64;index;not null" json:"company_id"`
	VoucherId    int       `gorm:"index;default:0" json:"voucher_id"`
	DocumentUrl  string    `gorm:"size:500;not null" json:"document_url"`
	ThumbnailUrl string    `gorm:"size:500" json:"thumbnail_url"`
	FileName     string    `gorm:"size:255" json:"file_name"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}

type NewVoucherAttachment struct {
	DocumentUrl  string `json:"document_url" binding:"required"`
	ThumbnailUrl string `json:"thumbnail_url"`
	FileName     string `json:"file_name"`
}

type UploadResponse struct {
	ImageUrl     string `json:"image_url"`
	ThumbnailUrl string `json:"thumbnail_url"`
}

// map newVoucherAttachment rows for db.Create, verifying the objects were
// actually uploaded first.
func mapNewVoucherAttachments(input []*NewVoucherAttachment, companyId string) ([]*VoucherAttachment, error) {
	var attachments []*VoucherAttachment
	for _, i := range input {
		if err := utils.CheckImageExistInGCS(i.DocumentUrl); err != nil {
			return nil, err
		}
		if i.ThumbnailUrl != "" {
			if err := utils.CheckImageExistInGCS(i.ThumbnailUrl); err != nil {
				return nil, err
			}
		}
		attachments = append(attachments, &VoucherAttachment{
			CompanyId:    companyId,
			DocumentUrl:  i.DocumentUrl,
			ThumbnailUrl: i.ThumbnailUrl,
			FileName:     i.FileName,
		})
	}
	return attachments, nil
}

// CreateVoucherAttachments persists the draft's attachments against a newly
// posted voucher inside the posting transaction.
func CreateVoucherAttachments(ctx context.Context, tx *gorm.DB, companyId string, voucherId int, input []*NewVoucherAttachment) ([]*VoucherAttachment, error) {
	if len(input) == 0 {
		return nil, nil
	}
	attachments, err := mapNewVoucherAttachments(input, companyId)
	if err != nil {
		return nil, err
	}
	for _, a := range attachments {
		a.VoucherId = voucherId
	}
	if err := tx.WithContext(ctx).Create(&attachments).Error; err != nil {
		return nil, err
	}
	return attachments, nil
}

// CreateVoucherAttachmentFromURL records an already-uploaded object against a
// voucher. The signed-URL flow writes straight to GCS, so this is the step
// that makes the books aware of the document. voucherId 0 leaves the row
// unbound; a later posting draft can reference the URL.
func CreateVoucherAttachmentFromURL(ctx context.Context, documentUrl string, thumbnailUrl string, voucherId int) (*VoucherAttachment, error) {
	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, errors.New("company id is required")
	}
	if err := utils.CheckImageExistInGCS(documentUrl); err != nil {
		return nil, err
	}
	if thumbnailUrl != "" {
		if err := utils.CheckImageExistInGCS(thumbnailUrl); err != nil {
			return nil, err
		}
	}

	db := config.GetDB()
	if voucherId > 0 {
		var count int64
		if err := db.WithContext(ctx).Model(&Voucher{}).
			Where("company_id = ? AND id = ?", companyId, voucherId).
			Count(&count).Error; err != nil {
			return nil, err
		}
		if count == 0 {
			return nil, NewNotFoundError("voucher", voucherId)
		}
	}

	attachment := &VoucherAttachment{
		CompanyId:    companyId,
		VoucherId:    voucherId,
		DocumentUrl:  documentUrl,
		ThumbnailUrl: thumbnailUrl,
		FileName:     filepath.Base(utils.ExtractObjectKeyFromURL(documentUrl)),
	}
	if err := db.WithContext(ctx).Create(attachment).Error; err != nil {
		return nil, err
	}
	return attachment, nil
}

func (a *VoucherAttachment) Store(tx *gorm.DB, ctx context.Context) error {
	return tx.WithContext(ctx).Create(&a).Error
}

// expected attachment is loaded from db
func (a *VoucherAttachment) Delete(tx *gorm.DB, ctx context.Context) error {
	if err := tx.WithContext(ctx).Delete(&a).Error; err != nil {
		return err
	}
	if err := utils.DeleteImageFromGCS(ctx, utils.ExtractObjectKeyFromURL(a.DocumentUrl)); err != nil {
		return err
	}
	if a.ThumbnailUrl != "" {
		if err := utils.DeleteImageFromGCS(ctx, utils.ExtractObjectKeyFromURL(a.ThumbnailUrl)); err != nil {
			return err
		}
	}
	return nil
}

func GetVoucherAttachment(ctx context.Context, id int) (*VoucherAttachment, error) {

	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, errors.New("company id is required")
	}

	db := config.GetDB()
	var result VoucherAttachment
	if err := db.WithContext(ctx).Where("company_id = ?", companyId).First(&result, id).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &result, nil
}

func DeleteVoucherAttachment(ctx context.Context, id int) (*VoucherAttachment, error) {

	result, err := GetVoucherAttachment(ctx, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	if err := result.Delete(db, ctx); err != nil {
		return nil, err
	}
	return result, nil
}

// UploadVoucherAttachment stores the raw file (plus a thumbnail when it is
// an image) and returns the cloud URLs. The caller references them from a
// posting draft afterwards.
func UploadVoucherAttachment(ctx context.Context, filename string, file io.Reader) (*UploadResponse, error) {

	companyId, _ := utils.GetCompanyIdFromContext(ctx)

	if file == nil {
		return nil, errors.New("nil file provided")
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}

	ext := filepath.Ext(filename)
	if ext == "" {
		return nil, errors.New("file has no extension")
	}
	storagePath := "vouchers/"
	uniqueFilename := companyId + " " + utils.GenerateUniqueFilename() + ext
	originalObjectURL := filepath.Join(storagePath, uniqueFilename)
	thumbnailObjectURL := filepath.Join(storagePath, "thumbnails", uniqueFilename)

	if !isImageExtension(ext) {
		// PDFs and other documents go up as-is, no thumbnail.
		if err := utils.UploadFileToGCS(ctx, originalObjectURL, bytes.NewReader(data)); err != nil {
			return nil, err
		}
		return &UploadResponse{ImageUrl: utils.BuildObjectAccessURL(originalObjectURL)}, nil
	}

	imageData := base64.StdEncoding.EncodeToString(data)
	err = utils.SaveImageToGCS(ctx, originalObjectURL, imageData)
	if err != nil {
		return nil, err
	}

	thumbnailData, err := generateThumbnail(data)
	if err != nil {
		return nil, err
	}
	thumbnailImageData := base64.StdEncoding.EncodeToString(thumbnailData)
	err = utils.SaveImageToGCS(ctx, thumbnailObjectURL, thumbnailImageData)
	if err != nil {
		return nil, err
	}

	return &UploadResponse{
		ImageUrl:     utils.BuildObjectAccessURL(originalObjectURL),
		ThumbnailUrl: utils.BuildObjectAccessURL(thumbnailObjectURL),
	}, nil
}

// remove uploaded file that never got referenced by a voucher
func RemoveAttachmentFile(ctx context.Context, fullUrl string) (*UploadResponse, error) {

	// only remove the object if not used in database
	var count int64
	db := config.GetDB()

	if err := db.Model(&VoucherAttachment{}).WithContext(ctx).Where("document_url = ?", fullUrl).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, errors.New("cannot delete file associated with database")
	}

	objectName := utils.ExtractObjectKeyFromURL(fullUrl)
	if objectName == "" {
		return nil, errors.New("invalid url")
	}
	if ok, err := utils.ObjectExistsInGCS(ctx, objectName); !ok || err != nil {
		return nil, errors.New("object does not exist")
	}

	if err := utils.DeleteImageFromGCS(ctx, objectName); err != nil {
		return nil, err
	}

	response := &UploadResponse{
		ImageUrl: utils.BuildObjectAccessURL(objectName),
	}

	// remove the thumbnail too when one was generated
	parts := strings.SplitN(objectName, "/", 2)
	if len(parts) == 2 && isImageExtension(filepath.Ext(parts[1])) {
		thumbnailObjectName := filepath.Join(parts[0], "thumbnails", parts[1])
		if ok, err := utils.ObjectExistsInGCS(ctx, thumbnailObjectName); ok && err == nil {
			if err := utils.DeleteImageFromGCS(ctx, thumbnailObjectName); err != nil {
				return nil, err
			}
			response.ThumbnailUrl = utils.BuildObjectAccessURL(thumbnailObjectName)
		}
	}

	return response, nil
}

func isImageExtension(ext string) bool {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tif", ".tiff", ".webp":
		return true
	}
	return false
}

func generateThumbnail(originalData []byte) ([]byte, error) {
	// Decode the original image
	img, err := imaging.Decode(bytes.NewReader(originalData))
	if err != nil {
		return nil, err
	}

	// Resize the image to create a thumbnail
	thumbnail := imaging.Resize(img, 200, 0, imaging.Lanczos)

	// Encode the thumbnail to JPEG format
	var thumbnailBuffer bytes.Buffer
	err = imaging.Encode(&thumbnailBuffer, thumbnail, imaging.JPEG)
	if err != nil {
		return nil, err
	}

	return thumbnailBuffer.Bytes(), nil
}
