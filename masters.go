package main

import (
	"net/http"
	"strconv"
	"strings"

	"bitbucket.org/mmdatafocus/ledger_backend/models"
	"bitbucket.org/mmdatafocus/ledger_backend/utils"
	"github.com/gin-gonic/gin"
)

// Master data endpoints. Everything except company bootstrap is scoped to the
// caller's own company through the session context; the tenant guard rejects
// queries that lost their company id.
func registerMasterRoutes(r *gin.Engine) {
	r.POST("/companies", createCompanyHandler())
	r.GET("/companies/:id", getCompanyHandler())
	r.POST("/companies/posting-lock", setPostingLockHandler())

	r.POST("/ledgers", createLedgerHandler())
	r.GET("/ledgers", listLedgersHandler())
	r.GET("/ledgers/:id", getLedgerHandler())
	r.PUT("/ledgers/:id", updateLedgerHandler())
	r.DELETE("/ledgers/:id", deleteLedgerHandler())

	r.POST("/stock-items", createStockItemHandler())
	r.GET("/stock-items", listStockItemsHandler())
	r.GET("/stock-items/:id", getStockItemHandler())
	r.PUT("/stock-items/:id", updateStockItemHandler())

	r.POST("/gst-rates", createGstRateHandler())
	r.GET("/gst-rates", listGstRatesHandler())
	r.PUT("/gst-rates/:id", updateGstRateHandler())
	r.DELETE("/gst-rates/:id", deleteGstRateHandler())

	r.POST("/cost-centers", createCostCenterHandler())
	r.GET("/cost-centers", listCostCentersHandler())
	r.PUT("/cost-centers/:id", updateCostCenterHandler())

	r.POST("/godowns", createGodownHandler())
	r.GET("/godowns", listGodownsHandler())
	r.PUT("/godowns/:id", updateGodownHandler())

	r.POST("/users", createUserHandler())
	r.GET("/users", listUsersHandler())
	r.POST("/users/change-password", changePasswordHandler())

	r.DELETE("/attachments/:id", deleteAttachmentHandler())
}

func pathId(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

// createCompanyHandler bootstraps a tenant: the company row plus its default
// chart of ledgers. Admin only.
func createCompanyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := authorizeAdminOnly(c.Request.Context()); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		var input models.NewCompany
		if !bindJSON(c, &input) {
			return
		}
		company, err := models.CreateCompany(c.Request.Context(), &input)
		if err != nil {
			respondWithEngineError(c, err)
			return
		}
		c.JSON(http.StatusCreated, company)
	}
}

func getCompanyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.Param("id"))
		if err := authorizeInternalCompany(c.Request.Context(), id); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		company, err := models.GetCompanyById(c.Request.Context(), id)
		if err != nil {
			respondWithEngineError(c, err)
			return
		}
		c.JSON(http.StatusOK, company)
	}
}

type postingLockRequest struct {
	CompanyId string `json:"company_id" binding:"required"`
	models.NewPostingLock
}

// setPostingLockHandler closes an accounting period: postings dated on or
// before the lock date are rejected from then on. Each close is recorded with
// the user who asked for it.
func setPostingLockHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := getSessionUser(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		var req postingLockRequest
		if !bindJSON(c, &req) {
			return
		}
		if err := authorizeInternalCompany(c.Request.Context(), req.CompanyId); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		ctx := utils.SetCompanyIdInContext(c.Request.Context(), req.CompanyId)
		ctx = utils.SetUserIdInContext(ctx, user.ID)
		ctx = utils.SetUserNameInContext(ctx, user.Name)
		company, err := models.SetPostingLock(ctx, req.CompanyId, &req.NewPostingLock)
		if err != nil {
			respondWithEngineError(c, err)
			return
		}
		c.JSON(http.StatusOK, company)
	}
}

func createLedgerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := getSessionUser(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		var input models.NewLedger
		if !bindJSON(c, &input) {
			return
		}
		ledger, err := models.CreateLedger(sessionContext(c, user), &input)
		if err != nil {
			respondWithEngineError(c, err)
			return
		}
		c.JSON(http.StatusCreated, ledger)
	}
}

func listLedgersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := getSessionUser(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		var name *string
		if q := strings.TrimSpace(c.Query("name")); q != "" {
			name = &q
		}
		ledgers, err := models.GetLedgers(sessionContext(c, user), name)
		if err != nil {
			respondWithEngineError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ledgers": ledgers})
	}
}

func getLedgerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := getSessionUser(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		id, ok := pathId(c)
		if !ok {
			return
		}
		ledger, err := models.GetLedger(sessionContext(c, user), id)
		if err != nil {
			respondWithEngineError(c, err)
			return
		}
		c.JSON(http.StatusOK, ledger)
	}
}

func updateLedgerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := getSessionUser(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		id, ok := pathId(c)
		if !ok {
			return
		}
		var input models.NewLedger
		if !bindJSON(c, &input) {
			return
		}
		ledger, err := models.UpdateLedger(sessionContext(c, user), id, &input)
		if err != nil {
			respondWithEngineError(c, err)
			return
		}
		c.JSON(http.StatusOK, ledger)
	}
}

func deleteLedgerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := getSessionUser(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		id, ok := pathId(c)
		if !ok {
			return
		}
		ledger, err := models.DeleteLedger(sessionContext(c, user), id)
		if err != nil {
			respondWithEngineError(c, err)
			return
		}
		c.JSON(http.StatusOK, ledger)
	}
}

func createStockItemHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := getSessionUser(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		var input models.NewStockItem
		if !bindJSON(c, &input) {
			return
		}
		item, err := models.CreateStockItem(sessionContext(c, user), &input)
		if err != nil {
			respondWithEngineError(c, err)
			return
		}
		c.JSON(http.StatusCreated, item)
	}
}

func listStockItemsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := getSessionUser(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		items, err := models.GetStockItems(sessionContext(c, user))
		if err != nil {
			respondWithEngineError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"stock_items": items})
	}
}

func getStockItemHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := getSessionUser(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		id, ok := pathId(c)
		if !ok {
			return
		}
		item, err := models.GetStockItem(sessionContext(c, user), id)
		if err != nil {
			respondWithEngineError(c, err)
			return
		}
		c.JSON(http.StatusOK, item)
	}
}

func updateStockItemHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := getSessionUser(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		id, ok := pathId(c)
		if !ok {
			return
		}
		var input models.NewStockItem
		if !bindJSON(c, &input) {
			return
		}
		item, err := models.UpdateStockItem(sessionContext(c, user), id, &input)
		if err != nil {
			respondWithEngineError(c, err)
			return
		}
		c.JSON(http.StatusOK, item)
	}
}

func createGstRateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := getSessionUser(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		var input models.NewGstRate
		if !bindJSON(c, &input) {
			return
		}
		rate, err := models.CreateGstRate(sessionContext(c, user), &input)
		if err != nil {
			respondWithEngineError(c, err)
			return
		}
		c.JSON(http.StatusCreated, rate)
	}
}

func listGstRatesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := getSessionUser(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		rates, err := models.GetGstRates(sessionContext(c, user))
		if err != nil {
			respondWithEngineError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"gst_rates": rates})
	}
}

func updateGstRateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := getSessionUser(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		id, ok := pathId(c)
		if !ok {
			return
		}
		var input models.NewGstRate
		if !bindJSON(c, &input) {
			return
		}
		rate, err := models.UpdateGstRate(sessionContext(c, user), id, &input)
		if err != nil {
			respondWithEngineError(c, err)
			return
		}
		c.JSON(http.StatusOK, rate)
	}
}

func deleteGstRateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := getSessionUser(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		id, ok := pathId(c)
		if !ok {
			return
		}
		rate, err := models.DeleteGstRate(sessionContext(c, user), id)
		if err != nil {
			respondWithEngineError(c, err)
			return
		}
		c.JSON(http.StatusOK, rate)
	}
}

func createCostCenterHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := getSessionUser(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		var input models.NewCostCenter
		if !bindJSON(c, &input) {
			return
		}
		center, err := models.CreateCostCenter(sessionContext(c, user), &input)
		if err != nil {
			respondWithEngineError(c, err)
			return
		}
		c.JSON(http.StatusCreated, center)
	}
}

func listCostCentersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := getSessionUser(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		centers, err := models.GetCostCenters(sessionContext(c, user))
		if err != nil {
			respondWithEngineError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"cost_centers": centers})
	}
}

func updateCostCenterHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := getSessionUser(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		id, ok := pathId(c)
		if !ok {
			return
		}
		var input models.NewCostCenter
		if !bindJSON(c, &input) {
			return
		}
		center, err := models.UpdateCostCenter(sessionContext(c, user), id, &input)
		if err != nil {
			respondWithEngineError(c, err)
			return
		}
		c.JSON(http.StatusOK, center)
	}
}

func createGodownHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := getSessionUser(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		var input models.NewGodown
		if !bindJSON(c, &input) {
			return
		}
		godown, err := models.CreateGodown(sessionContext(c, user), &input)
		if err != nil {
			respondWithEngineError(c, err)
			return
		}
		c.JSON(http.StatusCreated, godown)
	}
}

func listGodownsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := getSessionUser(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		godowns, err := models.GetGodowns(sessionContext(c, user))
		if err != nil {
			respondWithEngineError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"godowns": godowns})
	}
}

func updateGodownHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := getSessionUser(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		id, ok := pathId(c)
		if !ok {
			return
		}
		var input models.NewGodown
		if !bindJSON(c, &input) {
			return
		}
		godown, err := models.UpdateGodown(sessionContext(c, user), id, &input)
		if err != nil {
			respondWithEngineError(c, err)
			return
		}
		c.JSON(http.StatusOK, godown)
	}
}

// createUserHandler lets admins provision users anywhere; everyone else can
// only add colleagues to their own company.
func createUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := getSessionUser(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		var input models.NewUser
		if !bindJSON(c, &input) {
			return
		}
		if input.CompanyId == "" {
			input.CompanyId = user.CompanyId
		}
		if err := authorizeInternalCompany(c.Request.Context(), input.CompanyId); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		created, err := models.CreateUser(sessionContext(c, user), &input)
		if err != nil {
			respondWithEngineError(c, err)
			return
		}
		c.JSON(http.StatusCreated, created)
	}
}

// listUsersHandler is admin only: the query is not company scoped.
func listUsersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := authorizeAdminOnly(c.Request.Context()); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		users, err := models.GetAllUsers(c.Request.Context())
		if err != nil {
			respondWithEngineError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"users": users})
	}
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

func changePasswordHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := getSessionUser(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		var req changePasswordRequest
		if !bindJSON(c, &req) {
			return
		}
		if _, err := models.ChangePassword(sessionContext(c, user), req.OldPassword, req.NewPassword); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func deleteAttachmentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := getSessionUser(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		id, ok := pathId(c)
		if !ok {
			return
		}
		attachment, err := models.DeleteVoucherAttachment(sessionContext(c, user), id)
		if err != nil {
			respondWithEngineError(c, err)
			return
		}
		c.JSON(http.StatusOK, attachment)
	}
}
