package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/ledger_backend/config"
	"bitbucket.org/mmdatafocus/ledger_backend/middlewares"
	"bitbucket.org/mmdatafocus/ledger_backend/models"
	"bitbucket.org/mmdatafocus/ledger_backend/utils"
	"bitbucket.org/mmdatafocus/ledger_backend/workflow"
	"github.com/bsm/redislock"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

const defaultPort = "8080"

var tracer = otel.Tracer("ledger-backend")

// traceMiddleware opens one server span per request; the otelgorm spans from
// the posting path attach underneath it.
func traceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		ctx, span := tracer.Start(c.Request.Context(), route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attribute.String("http.method", c.Request.Method)),
		)
		defer span.End()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
		span.SetAttributes(attribute.Int("http.status_code", c.Writer.Status()))
	}
}

// Define a struct to represent the rate limiter.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

type PubSubMessage struct {
	Message struct {
		Data []byte `json:"data,omitempty"`
		ID   string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func getRedisClient(redisAddress string) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddress,
	})
	return client
}

func ledgerPubSubHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var msg PubSubMessage
		logger := config.GetLogger()

		// Redis lock is a best-effort optimization.
		// Reliability must not depend on Redis: we also serialize posting via MySQL advisory locks in ProcessMessage().
		redisLock := config.GetRedisLock()

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			config.LogError(logger, "server.go", "ledgerPubSubHandler", "io.ReadAll", nil, err)
			// Malformed request body: ack/drop to avoid infinite retries.
			c.Status(http.StatusNoContent)
			return
		}

		// byte slice unmarshalling handles base64 decoding.
		if err := json.Unmarshal(body, &msg); err != nil {
			config.LogError(logger, "server.go", "ledgerPubSubHandler", "Unmarshal body", body, err)
			// Malformed request: ack/drop to avoid infinite retries.
			c.Status(http.StatusNoContent)
			return
		}

		var m config.PubSubMessage
		if err := json.Unmarshal(msg.Message.Data, &m); err != nil {
			config.LogError(logger, "server.go", "ledgerPubSubHandler", "Unmarshal pubsub message", msg.Message.Data, err)
			// Malformed Pub/Sub payload: ack/drop to avoid infinite retries.
			c.Status(http.StatusNoContent)
			return
		}

		// Basic validation to avoid retry loops on poisoned messages.
		if m.CompanyId == "" || m.ReferenceType == "" {
			config.LogError(logger, "server.go", "ledgerPubSubHandler", "Invalid pubsub message (missing required fields)", m, fmt.Errorf("company_id/reference_type required"))
			c.Status(http.StatusNoContent)
			return
		}

		// Correlation ID propagation: prefer payload correlation_id; fall back to Pub/Sub message ID.
		correlationID := m.CorrelationId
		if correlationID == "" {
			correlationID = msg.Message.ID
		}

		// Best-effort: try to obtain a lock for the company to avoid long in-request blocking.
		// If Redis is unavailable / lock cannot be obtained, continue anyway; ProcessMessage() will serialize safely.
		var lock *redislock.Lock
		if redisLock == nil {
			logger.WithFields(logrus.Fields{
				"field":          "ledgerPubSubHandler",
				"company_id":     m.CompanyId,
				"reference_type": m.ReferenceType,
				"reference_id":   m.ReferenceId,
				"message_id":     msg.Message.ID,
			}).Warn("redis lock not ready; proceeding without redis lock")
		} else {
			lock, err = redisLock.Obtain(c.Request.Context(), fmt.Sprintf("lock:%s", m.CompanyId), 30*time.Second, nil)
			if err == redislock.ErrNotObtained {
				logger.WithFields(logrus.Fields{
					"field":          "ledgerPubSubHandler",
					"company_id":     m.CompanyId,
					"reference_type": m.ReferenceType,
					"reference_id":   m.ReferenceId,
					"message_id":     msg.Message.ID,
				}).Warn("could not obtain redis lock; proceeding without redis lock")
				lock = nil
			} else if err != nil {
				logger.WithFields(logrus.Fields{
					"field":          "ledgerPubSubHandler",
					"company_id":     m.CompanyId,
					"reference_type": m.ReferenceType,
					"reference_id":   m.ReferenceId,
					"message_id":     msg.Message.ID,
				}).Warn("error obtaining redis lock; proceeding without redis lock: " + err.Error())
				lock = nil
			}
		}
		defer func() {
			if lock == nil {
				return
			}
			if releaseErr := lock.Release(c.Request.Context()); releaseErr != nil {
				logger.WithFields(logrus.Fields{
					"field":        "ledgerPubSubHandler",
					"company_id":   m.CompanyId,
					"reference_id": m.ReferenceId,
					"message_id":   msg.Message.ID,
				}).Warn("failed to release redis lock: " + releaseErr.Error())
			}
		}()

		// Process the message
		ctx := context.WithValue(c.Request.Context(), utils.ContextKeyCompanyId, m.CompanyId)
		ctx = context.WithValue(ctx, utils.ContextKeyUserId, 0)
		ctx = context.WithValue(ctx, utils.ContextKeyUserName, "System")
		ctx = utils.SetCorrelationIdInContext(ctx, correlationID)
		markOutboxProcessing(ctx, m.ID)
		if err := ProcessMessage(ctx, logger, m); err != nil {
			if dead := markOutboxProcessFailure(ctx, logger, m, err); dead {
				invalidateDerivedCachesOnDead(ctx, logger, m)
				// Terminal: ack so Pub/Sub stops redelivering.
				// Replay goes through /internal/ops/outbox/replay.
				c.Status(http.StatusNoContent)
				return
			}
			logger.WithFields(logrus.Fields{
				"field":          "ledgerPubSubHandler",
				"company_id":     m.CompanyId,
				"reference_type": m.ReferenceType,
				"reference_id":   m.ReferenceId,
				"message_id":     msg.Message.ID,
				"correlation_id": correlationID,
			}).Error("pubsub processing failed: " + err.Error())
			// Non-2xx tells Pub/Sub to retry (and potentially route to DLQ).
			c.Status(http.StatusInternalServerError)
			return
		}
		markOutboxProcessSuccess(ctx, logger, m)

		// Success: ack.
		c.Status(http.StatusNoContent)
	}
}

// authorizeInternalCompany ensures the session user is allowed to act on the provided company_id.
// - Admin users may act on any company.
// - Non-admin users may only act on their own company.
func authorizeInternalCompany(ctx context.Context, companyId string) error {
	if companyId == "" {
		return errors.New("company_id is required")
	}
	user, err := getSessionUser(ctx)
	if err != nil {
		return err
	}
	if user.Role == models.UserRoleAdmin {
		return nil
	}
	if user.CompanyId != companyId {
		return errors.New("unauthorized")
	}
	return nil
}

func authorizeAdminOnly(ctx context.Context) error {
	user, err := getSessionUser(ctx)
	if err != nil {
		return err
	}
	if user.Role != models.UserRoleAdmin {
		return errors.New("unauthorized")
	}
	return nil
}

// bindJSON decodes and validates a JSON body. On a validator failure the
// response carries the whole field->rule map so the caller can fix every
// problem in one round trip.
func bindJSON(c *gin.Context, dest interface{}) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":  "invalid request",
				"fields": utils.ProcessValidationErrors(err),
			})
			return false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return false
	}
	return true
}

// respondWithEngineError maps the typed engine errors onto HTTP statuses.
func respondWithEngineError(c *gin.Context, err error) {
	var verrs *models.ValidationErrors
	if errors.As(err, &verrs) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":  "validation failed",
			"errors": verrs.Errors,
		})
		return
	}
	var conflict *models.ConflictError
	if errors.As(err, &conflict) {
		c.JSON(http.StatusConflict, gin.H{"error": conflict.Error()})
		return
	}
	var notFound *models.NotFoundError
	if errors.As(err, &notFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": notFound.Error()})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// sessionContext stamps the caller's identity onto the request context so the
// engines see the same values the background workers set.
func sessionContext(c *gin.Context, user *models.User) context.Context {
	ctx := utils.SetCompanyIdInContext(c.Request.Context(), user.CompanyId)
	ctx = utils.SetUserIdInContext(ctx, user.ID)
	ctx = utils.SetUserNameInContext(ctx, user.Name)
	return ctx
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func loginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if !bindJSON(c, &req) {
			return
		}
		info, err := models.Login(c.Request.Context(), req.Username, req.Password)
		if err != nil {
			// One indistinct answer for bad user and bad password.
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid username or password"})
			return
		}
		c.JSON(http.StatusOK, info)
	}
}

func logoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := utils.GetUsernameFromContext(c.Request.Context()); !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		if _, err := models.Logout(c.Request.Context()); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func postVoucherHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()
		user, err := getSessionUser(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		var draft models.NewVoucher
		if !bindJSON(c, &draft) {
			return
		}
		ctx := sessionContext(c, user)
		voucher, err := workflow.PostVoucher(ctx, logger, user.CompanyId, &draft)
		if err != nil {
			respondWithEngineError(c, err)
			return
		}
		c.JSON(http.StatusCreated, voucher)
	}
}

type voidVoucherRequest struct {
	VoucherId int    `json:"voucher_id" binding:"required"`
	Reason    string `json:"reason"`
}

func voidVoucherHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()
		user, err := getSessionUser(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		var req voidVoucherRequest
		if !bindJSON(c, &req) {
			return
		}
		ctx := sessionContext(c, user)
		reversal, err := workflow.VoidVoucher(ctx, logger, user.CompanyId, req.VoucherId, req.Reason)
		if err != nil {
			respondWithEngineError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"voided_voucher_id":   req.VoucherId,
			"reversal_voucher":    reversal,
			"reversal_voucher_id": reversal.ID,
		})
	}
}

// reversalReasonsHandler returns the standard void-reason vocabulary so
// clients can offer a picker instead of free text.
func reversalReasonsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := getSessionUser(c.Request.Context()); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"reversal_reasons": workflow.ReversalReasons()})
	}
}

func getVoucherHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := getSessionUser(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid voucher id"})
			return
		}
		ctx := sessionContext(c, user)
		voucher, err := models.GetVoucher(ctx, id)
		if err != nil {
			respondWithEngineError(c, err)
			return
		}
		c.JSON(http.StatusOK, voucher)
	}
}

func getLedgerBalanceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := getSessionUser(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ledger id"})
			return
		}
		ctx := sessionContext(c, user)
		ledger, err := models.GetLedger(ctx, id)
		if err != nil {
			respondWithEngineError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"ledger_id":       ledger.ID,
			"name":            ledger.Name,
			"normal_balance":  ledger.NormalBalance,
			"current_balance": ledger.CurrentBalance,
		})
	}
}

type taxEstimateLine struct {
	BasicAmount decimal.Decimal `json:"basic_amount"`
	GstRate     decimal.Decimal `json:"gst_rate"`
	CessRate    decimal.Decimal `json:"cess_rate"`
}

type taxEstimateRequest struct {
	SupplierStateCode string                 `json:"supplier_state_code" binding:"required"`
	PlaceOfSupply     string                 `json:"place_of_supply" binding:"required"`
	Lines             []taxEstimateLine      `json:"lines" binding:"required"`
	RoundingPolicy    *models.RoundingPolicy `json:"rounding_policy"`
}

// taxEstimateHandler previews the GST split and round-off for a draft without
// touching the books. UIs use it to show the breakup while the user types.
func taxEstimateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := utils.GetUsernameFromContext(c.Request.Context()); !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		var req taxEstimateRequest
		if !bindJSON(c, &req) {
			return
		}
		if len(req.Lines) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "at least one line is required"})
			return
		}

		policy := workflow.CurrentRoundingPolicy()
		if req.RoundingPolicy != nil && req.RoundingPolicy.Valid() {
			policy = *req.RoundingPolicy
		}

		var breakup workflow.TaxBreakup
		gross := decimal.Zero
		for _, line := range req.Lines {
			b := workflow.ComputeTax(line.BasicAmount, line.GstRate, line.CessRate, req.SupplierStateCode, req.PlaceOfSupply)
			breakup = breakup.Add(b)
			gross = gross.Add(line.BasicAmount).Add(b.Total())
		}
		roundOff, total := workflow.ComputeRoundOff(gross, policy)

		c.JSON(http.StatusOK, gin.H{
			"cgst":            breakup.Cgst,
			"sgst":            breakup.Sgst,
			"igst":            breakup.Igst,
			"cess":            breakup.Cess,
			"tax_total":       breakup.Total(),
			"gross":           gross,
			"round_off":       roundOff,
			"total":           total,
			"rounding_policy": policy,
		})
	}
}

func notificationInboxHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := getSessionUser(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		var status *models.NotificationStatus
		if s := strings.TrimSpace(c.Query("status")); s != "" {
			st := models.NotificationStatus(s)
			if !st.Valid() {
				c.JSON(http.StatusBadRequest, gin.H{"error": "unknown notification status: " + s})
				return
			}
			status = &st
		}
		ctx := sessionContext(c, user)
		items, err := models.GetNotificationInbox(ctx, user.CompanyId, status)
		if err != nil {
			respondWithEngineError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"notifications": items})
	}
}

func pendingApprovalCountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := getSessionUser(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		ctx := sessionContext(c, user)
		count, err := models.GetPendingApprovalCount(ctx, user.CompanyId)
		if err != nil {
			respondWithEngineError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"pending": count})
	}
}

type notificationTransitionRequest struct {
	NotificationId int                       `json:"notification_id" binding:"required"`
	Action         models.NotificationAction `json:"action" binding:"required"`
}

func transitionNotificationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()
		user, err := getSessionUser(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		var req notificationTransitionRequest
		if !bindJSON(c, &req) {
			return
		}
		ctx := sessionContext(c, user)
		notification, err := workflow.TransitionNotification(ctx, logger, req.NotificationId, req.Action, user.Username)
		if err != nil {
			respondWithEngineError(c, err)
			return
		}
		c.JSON(http.StatusOK, notification)
	}
}

type notificationRespondRequest struct {
	NotificationId int                       `json:"notification_id" binding:"required"`
	Token          string                    `json:"token" binding:"required"`
	Action         models.NotificationAction `json:"action" binding:"required"`
}

// respondNotificationHandler redeems a one-time approval token. The caller is
// a counterparty following an emailed link, so there is no session here.
func respondNotificationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()
		var req notificationRespondRequest
		if !bindJSON(c, &req) {
			return
		}
		notification, err := workflow.RedeemNotificationToken(c.Request.Context(), logger, req.NotificationId, req.Token, req.Action)
		if err != nil {
			var verrs *models.ValidationErrors
			var conflict *models.ConflictError
			if errors.As(err, &verrs) || errors.As(err, &conflict) {
				respondWithEngineError(c, err)
				return
			}
			// Missing id, wrong token, used token and expired token all get
			// the same answer so the endpoint cannot be used to probe ids.
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired approval token"})
			return
		}
		c.JSON(http.StatusOK, notification)
	}
}

type recomputeBalanceRequest struct {
	CompanyId string `json:"company_id" binding:"required"`
	LedgerId  int    `json:"ledger_id" binding:"required"`
}

// recomputeBalanceHandler replays a ledger's postings from its opening
// balance and reports both figures. It never writes: fixing a mismatch is a
// deliberate follow-up through the rebuild tooling.
func recomputeBalanceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req recomputeBalanceRequest
		if !bindJSON(c, &req) {
			return
		}
		if err := authorizeInternalCompany(c.Request.Context(), req.CompanyId); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		ctx := utils.SetCompanyIdInContext(c.Request.Context(), req.CompanyId)
		computed, err := workflow.RecomputeLedgerBalance(ctx, config.GetDB(), req.CompanyId, req.LedgerId)
		if err != nil {
			respondWithEngineError(c, err)
			return
		}
		ledger, err := models.GetLedger(ctx, req.LedgerId)
		if err != nil {
			respondWithEngineError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"company_id":       req.CompanyId,
			"ledger_id":        req.LedgerId,
			"current_balance":  ledger.CurrentBalance,
			"computed_balance": computed,
			"in_agreement":     ledger.CurrentBalance.Equal(computed),
		})
	}
}

type reconcileRequest struct {
	CompanyId string `json:"company_id" binding:"required"`
}

// reconcileHandler runs the balance and voucher integrity checks for one
// company. Drift is reported, never repaired here; the persisted report rows
// carry the per-ledger detail.
func reconcileHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()
		if err := authorizeAdminOnly(c.Request.Context()); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		var req reconcileRequest
		if !bindJSON(c, &req) {
			return
		}
		ctx := utils.SetCompanyIdInContext(c.Request.Context(), req.CompanyId)
		cid, err := workflow.RunReconciliationChecks(ctx, config.GetDB(), logger, req.CompanyId)
		if err != nil {
			var conflict *models.ConflictError
			if errors.As(err, &conflict) {
				// Drift is a finding, not a failure of the check run.
				c.JSON(http.StatusOK, gin.H{
					"company_id":     req.CompanyId,
					"correlation_id": cid,
					"drift_found":    true,
					"detail":         conflict.Error(),
				})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"company_id":     req.CompanyId,
			"correlation_id": cid,
			"drift_found":    false,
		})
	}
}

func outboxStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		companyId := strings.TrimSpace(c.Query("company_id"))
		referenceType := models.EventReferenceType(strings.TrimSpace(c.Query("reference_type")))
		referenceId, _ := strconv.Atoi(c.Query("reference_id"))
		if companyId == "" || referenceId <= 0 ||
			(referenceType != models.EventReferenceTypeVoucher && referenceType != models.EventReferenceTypeNotification) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "company_id, reference_type (VCH|NTF) and reference_id are required"})
			return
		}
		if err := authorizeInternalCompany(c.Request.Context(), companyId); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		ctx := utils.SetCompanyIdInContext(c.Request.Context(), companyId)
		status, err := models.GetOutboxStatus(ctx, referenceType, referenceId)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "no outbox rows for that reference"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, status)
	}
}

type outboxReplayRequest struct {
	CompanyId     string `json:"company_id" binding:"required"`
	ReferenceType string `json:"reference_type" binding:"required"`
	ReferenceId   int    `json:"reference_id" binding:"required"`
}

// outboxReplayHandler re-queues DEAD/FAILED outbox rows for one reference.
// Safe to repeat: the consumers are idempotent, so the worst case is a no-op
// redelivery.
func outboxReplayHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := authorizeAdminOnly(c.Request.Context()); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		var req outboxReplayRequest
		if !bindJSON(c, &req) {
			return
		}
		referenceType := models.EventReferenceType(req.ReferenceType)
		if referenceType != models.EventReferenceTypeVoucher && referenceType != models.EventReferenceTypeNotification {
			c.JSON(http.StatusBadRequest, gin.H{"error": "reference_type must be VCH or NTF"})
			return
		}
		ctx := utils.SetCompanyIdInContext(c.Request.Context(), req.CompanyId)
		status, err := models.ReprocessOutbox(ctx, referenceType, req.ReferenceId)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "no unprocessed outbox rows for that reference"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		cid, _ := utils.GetCorrelationIdFromContext(ctx)
		c.JSON(http.StatusOK, gin.H{
			"company_id":     req.CompanyId,
			"reference_type": req.ReferenceType,
			"reference_id":   req.ReferenceId,
			"status":         status,
			"correlation_id": cid,
		})
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Shutdown coordination.
	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until DB/Redis are ready, we return 503 for app endpoints.
	r := gin.New()
	// Correlation IDs: generate once per request and attach to context.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(traceMiddleware())
	r.Use(func(c *gin.Context) {
		// Always allow Cloud Run startup probe.
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		// Gate critical endpoints on dependency readiness.
		if config.GetDB() == nil || config.GetRedisDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// Production-safe CORS:
	// - In production, require explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	// - In non-production, allow all (developer convenience).
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			// Safer default: deny all if not configured in production.
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true

	r.Use(cors.New(corsConfig))

	// Optional rate limiting (recommended for production).
	// Env:
	// - RATE_LIMIT_ENABLED=true
	// - RATE_LIMIT_WINDOW_SECONDS=60
	// - RATE_LIMIT_MAX_REQUESTS=600
	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		client := getRedisClient(os.Getenv("REDIS_ADDRESS"))
		limit := int64(600)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_MAX_REQUESTS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				limit = n
			}
		}
		windowSec := int64(60)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_WINDOW_SECONDS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				windowSec = n
			}
		}
		rateLimiter := NewRateLimiter(client, limit, time.Duration(windowSec)*time.Second)
		r.Use(rateLimiter.RateLimitMiddleware)
	}

	// JWT first (service-to-service), then session tokens.
	r.Use(middlewares.AuthMiddleware())
	r.Use(middlewares.SessionMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	r.POST("/login", loginHandler())
	r.POST("/logout", logoutHandler())
	r.POST("/pubsub", ledgerPubSubHandler())

	r.POST("/vouchers", postVoucherHandler())
	r.POST("/vouchers/void", voidVoucherHandler())
	r.GET("/vouchers/:id", getVoucherHandler())
	r.GET("/reversal-reasons", reversalReasonsHandler())
	r.GET("/ledgers/:id/balance", getLedgerBalanceHandler())
	r.POST("/tax/estimate", taxEstimateHandler())

	r.GET("/notifications", notificationInboxHandler())
	r.GET("/notifications/pending-count", pendingApprovalCountHandler())
	r.POST("/notifications/transition", transitionNotificationHandler())
	// Token-redeemed responses arrive from counterparties without a session.
	r.POST("/notifications/respond", respondNotificationHandler())

	registerMasterRoutes(r)

	// Upload flow: signed URL first, streaming fallback for local/dev.
	r.POST("/uploads/sign", signUploadHandler())
	r.POST("/uploads/complete", completeUploadHandler())
	r.GET("/uploads/object/*objectKey", uploadObjectHandler())
	r.POST("/uploads/voucher-attachment", uploadVoucherAttachmentHandler())

	// Ops tooling: balance verification and outbox replay.
	r.POST("/internal/ops/recompute-balance", recomputeBalanceHandler())
	r.POST("/internal/ops/reconcile", reconcileHandler())
	r.GET("/internal/ops/outbox/status", outboxStatusHandler())
	r.POST("/internal/ops/outbox/replay", outboxReplayHandler())

	r.NoRoute(customNotFoundHandler)

	// Start listening immediately (Cloud Run startup probe is TCP based).
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	// Now DB is ready; run migrations.
	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// IMPORTANT: AutoMigrate can run DDL that blocks tables and causes 504/502 timeouts.
	// Allow disabling migrations on startup (run them as a separate job instead).
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Start outbox dispatcher (publishes AFTER commit).
	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	defer cancelDispatcher()
	go workflow.NewOutboxDispatcher(db, logger).Run(dispatcherCtx)

	// Direct processing keeps derived read models moving without Pub/Sub.
	if shouldRunDirectOutboxProcessor() {
		go NewOutboxDirectProcessor(db, logger).Run(dispatcherCtx)
	}

	// Pull worker is opt-in; Cloud Run deployments use the /pubsub push path.
	if strings.TrimSpace(os.Getenv("PUBSUB_SUBSCRIPTION")) != "" {
		if err := RunLedgerEventWorker(); err != nil {
			config.LogError(logger, "server.go", "main", "RunLedgerEventWorker", nil, err)
		}
	}

	// Set the session isolation level to READ COMMITTED
	for attempt := 1; ; attempt++ {
		err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			break
		}
		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		logger.WithFields(logrus.Fields{
			"field":   "database",
			"attempt": attempt,
		}).Warn("failed to set isolation level; retrying in " + sleep.String() + ": " + err.Error())
		time.Sleep(sleep)
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on http://localhost:", port, "/")
	log.Println("Server started successfully")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first so they don't start new work while we're draining.
	cancelDispatcher()

	// Drain HTTP requests.
	shutdownTimeout := 30 * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	// Close Redis (best-effort).
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only log when there are errors
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

// Initialize a new RateLimiter instance.
func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// Middleware function to check rate limits.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	// Get the IP address or user identifier from the request.
	key := c.ClientIP() // Assuming IP-based rate limiting

	// Check if the key exists in Redis.
	exists, err := rl.client.Exists(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	// If the key doesn't exist, create it and set expiry.
	if exists == 0 {
		err := rl.client.Set(c.Request.Context(), key, 1, rl.window).Err()
		if err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
		c.Next()
		return
	}

	// If the key exists, get the current count.
	count, err := rl.client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	// If the count exceeds the limit, return an error response.
	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}

	c.Next()
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
