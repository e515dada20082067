// Package adminapi implements the JWT-authenticated /admin surface: CRUD
// over credentials/mailboxes/groups/admins, dashboard stats, the api-call
// log, and per-credential pool management, grouped the way
// routes/routes.go grouped /auth with its own middleware, generalized to one
// shared session gate in front of every admin route.
package adminapi

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"mailgateway/internal/adminauth"
	"mailgateway/internal/apierr"
	"mailgateway/internal/credential"
	"mailgateway/internal/passwordhash"
	"mailgateway/internal/pool"
	"mailgateway/internal/requestlog"
	"mailgateway/internal/scope"
	"mailgateway/internal/secretbox"
	"mailgateway/internal/store"
	"mailgateway/internal/validate"
)

type Handler struct {
	db        *gorm.DB
	auth      *adminauth.Authenticator
	allocator *pool.Allocator
	box       *secretbox.Box
}

func New(db *gorm.DB, auth *adminauth.Authenticator, allocator *pool.Allocator, box *secretbox.Box) *Handler {
	return &Handler{db: db, auth: auth, allocator: allocator, box: box}
}

func (h *Handler) Register(app *fiber.App) {
	admin := app.Group("/admin")

	authGroup := admin.Group("/auth")
	authGroup.Post("/login", h.Login)
	authGroup.Post("/logout", h.sessionRequired, h.Logout)
	authGroup.Post("/setup-2fa", h.sessionRequired, h.SetupTwoFactor)
	authGroup.Post("/enable-2fa", h.sessionRequired, h.EnableTwoFactor)
	authGroup.Post("/disable-2fa", h.sessionRequired, h.DisableTwoFactor)

	protected := admin.Group("", h.sessionRequired)

	protected.Get("/dashboard/stats", h.DashboardStats)
	protected.Get("/logs", h.ListLogs)

	protected.Post("/credentials", h.CreateCredential)
	protected.Get("/credentials", h.ListCredentials)
	protected.Get("/credentials/:id", h.GetCredential)
	protected.Put("/credentials/:id", h.UpdateCredential)
	protected.Delete("/credentials/:id", h.DeleteCredential)
	protected.Post("/credentials/:id/rotate", h.RotateCredential)
	protected.Get("/credentials/:id/pool", h.GetCredentialPool)
	protected.Put("/credentials/:id/pool", h.ReplaceCredentialPool)

	protected.Post("/mailboxes", h.CreateMailbox)
	protected.Get("/mailboxes", h.ListMailboxes)
	protected.Get("/mailboxes/:id", h.GetMailbox)
	protected.Put("/mailboxes/:id", h.UpdateMailbox)
	protected.Delete("/mailboxes/:id", h.DeleteMailbox)
	protected.Post("/mailboxes/import", h.ImportMailboxes)

	protected.Post("/groups", h.CreateGroup)
	protected.Get("/groups", h.ListGroups)
	protected.Put("/groups/:id", h.UpdateGroup)
	protected.Delete("/groups/:id", h.DeleteGroup)

	superAdmin := protected.Group("/admins", h.requireSuperAdmin)
	superAdmin.Post("", h.CreateAdmin)
	superAdmin.Get("", h.ListAdmins)
	superAdmin.Put("/:id", h.UpdateAdmin)
	superAdmin.Delete("/:id", h.DeleteAdmin)
}

type envelope struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *errorBody  `json:"error,omitempty"`
	RequestID string      `json:"requestId,omitempty"`
}

type errorBody struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func requestID(c *fiber.Ctx) string {
	id := c.Get(requestlog.RequestIDHeader)
	if id == "" {
		id = requestlog.NewRequestID()
	}
	return id
}

func respondOK(c *fiber.Ctx, status int, data interface{}) error {
	return c.Status(status).JSON(envelope{Success: true, Data: data, RequestID: requestID(c)})
}

func respondErr(c *fiber.Ctx, err error) error {
	reqID := requestID(c)
	c.Set(requestlog.RequestIDHeader, reqID)
	apiErr := apierr.As(err)
	return c.Status(apiErr.HTTPStatus).JSON(envelope{
		Success:   false,
		Error:     &errorBody{Code: string(apiErr.Code), Message: apiErr.Message, Details: apiErr.Details},
		RequestID: reqID,
	})
}

const (
	adminLocalsKey = "adminapi_admin"
)

func (h *Handler) sessionRequired(c *fiber.Ctx) error {
	token := adminauth.ExtractSessionToken(c.Get("Authorization"), c.Cookies("token"))
	claims, err := h.auth.VerifySession(token)
	if err != nil {
		return respondErr(c, err)
	}

	var admin store.AdminAccount
	if err := h.db.First(&admin, claims.Subject).Error; err != nil {
		return respondErr(c, apierr.ErrUnauthorized("admin account no longer exists"))
	}
	if admin.Status != store.AdminActive {
		return respondErr(c, apierr.ErrAccountDisabled("admin account is disabled"))
	}

	c.Locals(adminLocalsKey, admin)
	return c.Next()
}

func (h *Handler) requireSuperAdmin(c *fiber.Ctx) error {
	admin := currentAdmin(c)
	if err := adminauth.RequireSuperAdmin(admin); err != nil {
		return respondErr(c, err)
	}
	return c.Next()
}

func currentAdmin(c *fiber.Ctx) store.AdminAccount {
	admin, _ := c.Locals(adminLocalsKey).(store.AdminAccount)
	return admin
}

func pathID(c *fiber.Ctx) (uint, error) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil {
		return 0, apierr.ErrValidation("invalid id in path")
	}
	return uint(id), nil
}

// --- auth ---

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
	OTP      string `json:"otp"`
}

func (h *Handler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return respondErr(c, apierr.ErrValidation("invalid request body"))
	}
	if err := validate.Struct(req); err != nil {
		return respondErr(c, err)
	}

	admin, token, err := h.auth.Login(c.Context(), req.Username, req.Password, req.OTP, c.IP())
	if err != nil {
		return respondErr(c, err)
	}

	return respondOK(c, 200, fiber.Map{
		"token": token,
		"admin": fiber.Map{"id": admin.ID, "username": admin.Username, "role": admin.Role},
	})
}

func (h *Handler) Logout(c *fiber.Ctx) error {
	admin := currentAdmin(c)
	if err := h.auth.Logout(c.Context(), admin.ID); err != nil {
		return respondErr(c, err)
	}
	return respondOK(c, 200, fiber.Map{"message": "logged out"})
}

type setupTwoFactorRequest struct {
	Issuer  string `json:"issuer"`
	Account string `json:"account"`
}

func (h *Handler) SetupTwoFactor(c *fiber.Ctx) error {
	admin := currentAdmin(c)

	var req setupTwoFactorRequest
	_ = c.BodyParser(&req)
	if req.Issuer == "" {
		req.Issuer = "mailgateway"
	}
	if req.Account == "" {
		req.Account = admin.Username
	}

	secret, uri, err := h.auth.SetupTwoFactor(c.Context(), admin.ID, req.Issuer, req.Account)
	if err != nil {
		return respondErr(c, err)
	}
	return respondOK(c, 200, fiber.Map{"secret": secret, "uri": uri})
}

type otpRequest struct {
	OTP string `json:"otp" validate:"required"`
}

func (h *Handler) EnableTwoFactor(c *fiber.Ctx) error {
	admin := currentAdmin(c)

	var req otpRequest
	if err := c.BodyParser(&req); err != nil {
		return respondErr(c, apierr.ErrValidation("invalid request body"))
	}
	if err := validate.Struct(req); err != nil {
		return respondErr(c, err)
	}

	if err := h.auth.EnableTwoFactor(c.Context(), admin.ID, req.OTP); err != nil {
		return respondErr(c, err)
	}
	return respondOK(c, 200, fiber.Map{"message": "two-factor enabled"})
}

type disableTwoFactorRequest struct {
	Password string `json:"password" validate:"required"`
	OTP      string `json:"otp" validate:"required"`
}

func (h *Handler) DisableTwoFactor(c *fiber.Ctx) error {
	admin := currentAdmin(c)

	var req disableTwoFactorRequest
	if err := c.BodyParser(&req); err != nil {
		return respondErr(c, apierr.ErrValidation("invalid request body"))
	}
	if err := validate.Struct(req); err != nil {
		return respondErr(c, err)
	}

	if err := h.auth.DisableTwoFactor(c.Context(), admin.ID, req.Password, req.OTP); err != nil {
		return respondErr(c, err)
	}
	return respondOK(c, 200, fiber.Map{"message": "two-factor disabled"})
}

// --- dashboard & logs ---

func (h *Handler) DashboardStats(c *fiber.Ctx) error {
	var credentialCount, activeMailboxCount int64
	h.db.Model(&store.Credential{}).Count(&credentialCount)
	h.db.Model(&store.Mailbox{}).Where("status = ?", store.MailboxActive).Count(&activeMailboxCount)

	startOfDay := time.Now().Truncate(24 * time.Hour)
	var callsToday int64
	h.db.Model(&store.ApiCallRecord{}).Where("created_at >= ?", startOfDay).Count(&callsToday)

	type topCredential struct {
		ID          uint   `json:"id"`
		DisplayName string `json:"displayName"`
		UsageCount  int64  `json:"usageCount"`
	}
	var top []topCredential
	h.db.Model(&store.Credential{}).
		Select("id, display_name, usage_count").
		Order("usage_count DESC").
		Limit(5).
		Scan(&top)

	return respondOK(c, 200, fiber.Map{
		"credentialCount":    credentialCount,
		"activeMailboxCount": activeMailboxCount,
		"callsToday":         callsToday,
		"topCredentials":     top,
	})
}

type logFilters struct {
	Action       string `query:"action"`
	CredentialID uint   `query:"credentialId"`
	From         string `query:"from"`
	To           string `query:"to"`
	Page         int    `query:"page"`
	PageSize     int    `query:"pageSize"`
}

func (h *Handler) ListLogs(c *fiber.Ctx) error {
	var f logFilters
	if err := c.QueryParser(&f); err != nil {
		return respondErr(c, apierr.ErrValidation("invalid query parameters"))
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.PageSize <= 0 || f.PageSize > 200 {
		f.PageSize = 50
	}

	q := h.db.Model(&store.ApiCallRecord{})
	if f.Action != "" {
		q = q.Where("action = ?", f.Action)
	}
	if f.CredentialID != 0 {
		q = q.Where("credential_id = ?", f.CredentialID)
	}
	if f.From != "" {
		if t, err := time.Parse(time.RFC3339, f.From); err == nil {
			q = q.Where("created_at >= ?", t)
		}
	}
	if f.To != "" {
		if t, err := time.Parse(time.RFC3339, f.To); err == nil {
			q = q.Where("created_at <= ?", t)
		}
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return respondErr(c, err)
	}

	var records []store.ApiCallRecord
	if err := q.Order("created_at DESC").
		Offset((f.Page - 1) * f.PageSize).
		Limit(f.PageSize).
		Find(&records).Error; err != nil {
		return respondErr(c, err)
	}

	return respondOK(c, 200, fiber.Map{"total": total, "page": f.Page, "pageSize": f.PageSize, "records": records})
}

// --- credentials ---

type credentialRequest struct {
	DisplayName     string   `json:"displayName" validate:"required"`
	RatePerMinute   int      `json:"ratePerMinute" validate:"gte=1"`
	PermissionMap   map[string]bool `json:"permissionMap"`
	AllowedGroupIDs []uint   `json:"allowedGroupIds"`
	AllowedEmailIDs []uint   `json:"allowedEmailIds"`
	ExpiresAt       *time.Time `json:"expiresAt"`
}

func (h *Handler) CreateCredential(c *fiber.Ctx) error {
	var req credentialRequest
	if err := c.BodyParser(&req); err != nil {
		return respondErr(c, apierr.ErrValidation("invalid request body"))
	}
	if req.RatePerMinute == 0 {
		req.RatePerMinute = 60
	}
	if err := validate.Struct(req); err != nil {
		return respondErr(c, err)
	}

	rawSecret, err := credential.GenerateSecret()
	if err != nil {
		return respondErr(c, err)
	}

	admin := currentAdmin(c)
	cred := store.Credential{
		DisplayName:     req.DisplayName,
		Prefix:          rawSecret[:7],
		SecretDigest:    credential.Digest(rawSecret),
		RatePerMinute:   req.RatePerMinute,
		LifecycleState:  store.CredentialActive,
		PermissionMap:   store.JSONMap(req.PermissionMap),
		AllowedGroupIDs: store.JSONUint(req.AllowedGroupIDs),
		AllowedEmailIDs: store.JSONUint(req.AllowedEmailIDs),
		ExpiresAt:       req.ExpiresAt,
		CreatedBy:       admin.ID,
	}
	if err := h.db.Create(&cred).Error; err != nil {
		return respondErr(c, err)
	}

	return respondOK(c, 201, fiber.Map{"credential": cred, "secret": rawSecret})
}

func (h *Handler) ListCredentials(c *fiber.Ctx) error {
	var creds []store.Credential
	if err := h.db.Order("id ASC").Find(&creds).Error; err != nil {
		return respondErr(c, err)
	}
	return respondOK(c, 200, fiber.Map{"credentials": creds})
}

func (h *Handler) GetCredential(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return respondErr(c, err)
	}

	var cred store.Credential
	if err := h.db.First(&cred, id).Error; err != nil {
		return respondErr(c, credentialNotFoundOr(err))
	}
	return respondOK(c, 200, fiber.Map{"credential": cred})
}

func (h *Handler) UpdateCredential(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return respondErr(c, err)
	}

	var cred store.Credential
	if err := h.db.First(&cred, id).Error; err != nil {
		return respondErr(c, credentialNotFoundOr(err))
	}

	var req credentialRequest
	if err := c.BodyParser(&req); err != nil {
		return respondErr(c, apierr.ErrValidation("invalid request body"))
	}

	updates := map[string]interface{}{
		"display_name":      req.DisplayName,
		"permission_map":     store.JSONMap(req.PermissionMap),
		"allowed_group_ids": store.JSONUint(req.AllowedGroupIDs),
		"allowed_email_ids": store.JSONUint(req.AllowedEmailIDs),
	}
	if req.RatePerMinute > 0 {
		updates["rate_per_minute"] = req.RatePerMinute
	}
	if req.ExpiresAt != nil {
		updates["expires_at"] = req.ExpiresAt
	}

	if err := h.db.Model(&cred).Updates(updates).Error; err != nil {
		return respondErr(c, err)
	}

	h.db.First(&cred, id)
	return respondOK(c, 200, fiber.Map{"credential": cred})
}

func (h *Handler) DeleteCredential(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return respondErr(c, err)
	}
	if err := h.db.Delete(&store.Credential{}, id).Error; err != nil {
		return respondErr(c, err)
	}
	return respondOK(c, 200, fiber.Map{"message": "credential deleted"})
}

func (h *Handler) RotateCredential(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return respondErr(c, err)
	}

	var cred store.Credential
	if err := h.db.First(&cred, id).Error; err != nil {
		return respondErr(c, credentialNotFoundOr(err))
	}

	rawSecret, err := credential.GenerateSecret()
	if err != nil {
		return respondErr(c, err)
	}

	if err := h.db.Model(&cred).Updates(map[string]interface{}{
		"secret_digest": credential.Digest(rawSecret),
		"prefix":        rawSecret[:7],
	}).Error; err != nil {
		return respondErr(c, err)
	}

	return respondOK(c, 200, fiber.Map{"secret": rawSecret})
}

func credentialNotFoundOr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apierr.ErrNotFound("credential not found")
	}
	return err
}

// --- credential pool ---

type poolIDsRequest struct {
	MailboxIDs []uint `json:"mailboxIds"`
}

func (h *Handler) GetCredentialPool(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return respondErr(c, err)
	}

	var assignments []store.PoolAssignment
	if err := h.db.Where("credential_id = ?", id).Find(&assignments).Error; err != nil {
		return respondErr(c, err)
	}

	ids := make([]uint, 0, len(assignments))
	for _, a := range assignments {
		ids = append(ids, a.MailboxID)
	}
	return respondOK(c, 200, fiber.Map{"mailboxIds": ids})
}

func (h *Handler) ReplaceCredentialPool(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return respondErr(c, err)
	}

	var req poolIDsRequest
	if err := c.BodyParser(&req); err != nil {
		return respondErr(c, apierr.ErrValidation("invalid request body"))
	}

	var cred store.Credential
	if err := h.db.First(&cred, id).Error; err != nil {
		return respondErr(c, credentialNotFoundOr(err))
	}

	sc := scope.New(cred.AllowedGroupIDs, cred.AllowedEmailIDs)
	if err := h.allocator.UpdatePool(c.Context(), id, req.MailboxIDs, sc); err != nil {
		return respondErr(c, err)
	}
	return respondOK(c, 200, fiber.Map{"message": "pool updated"})
}

// --- mailboxes ---

type mailboxRequest struct {
	Address      string `json:"address" validate:"required,email"`
	RefreshToken string `json:"refreshToken"`
	OAuthClientID string `json:"oauthClientId" validate:"required"`
	GroupID      *uint  `json:"groupId"`
}

func (h *Handler) CreateMailbox(c *fiber.Ctx) error {
	var req mailboxRequest
	if err := c.BodyParser(&req); err != nil {
		return respondErr(c, apierr.ErrValidation("invalid request body"))
	}
	if err := validate.Struct(req); err != nil {
		return respondErr(c, err)
	}

	cipher, err := h.box.Encrypt(req.RefreshToken)
	if err != nil {
		return respondErr(c, err)
	}

	mailbox := store.Mailbox{
		Address:            req.Address,
		OAuthClientID:       req.OAuthClientID,
		RefreshTokenCipher: cipher,
		Status:             store.MailboxActive,
		GroupID:            req.GroupID,
	}
	if err := h.db.Create(&mailbox).Error; err != nil {
		return respondErr(c, apierr.ErrDuplicateEmail("mailbox address already exists"))
	}

	return respondOK(c, 201, fiber.Map{"mailbox": mailbox})
}

func (h *Handler) ListMailboxes(c *fiber.Ctx) error {
	var mailboxes []store.Mailbox
	q := h.db.Preload("Group")
	if groupID := c.Query("groupId"); groupID != "" {
		q = q.Where("group_id = ?", groupID)
	}
	if err := q.Order("id ASC").Find(&mailboxes).Error; err != nil {
		return respondErr(c, err)
	}
	return respondOK(c, 200, fiber.Map{"mailboxes": mailboxes})
}

func (h *Handler) GetMailbox(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return respondErr(c, err)
	}

	var mailbox store.Mailbox
	if err := h.db.Preload("Group").First(&mailbox, id).Error; err != nil {
		return respondErr(c, mailboxNotFoundOr(err))
	}
	return respondOK(c, 200, fiber.Map{"mailbox": mailbox})
}

func (h *Handler) UpdateMailbox(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return respondErr(c, err)
	}

	var mailbox store.Mailbox
	if err := h.db.First(&mailbox, id).Error; err != nil {
		return respondErr(c, mailboxNotFoundOr(err))
	}

	var req mailboxRequest
	if err := c.BodyParser(&req); err != nil {
		return respondErr(c, apierr.ErrValidation("invalid request body"))
	}

	updates := map[string]interface{}{"group_id": req.GroupID}
	if req.OAuthClientID != "" {
		updates["o_auth_client_id"] = req.OAuthClientID
	}
	if req.RefreshToken != "" {
		cipher, err := h.box.Encrypt(req.RefreshToken)
		if err != nil {
			return respondErr(c, err)
		}
		updates["refresh_token_cipher"] = cipher
	}

	if err := h.db.Model(&mailbox).Updates(updates).Error; err != nil {
		return respondErr(c, err)
	}

	h.db.First(&mailbox, id)
	return respondOK(c, 200, fiber.Map{"mailbox": mailbox})
}

func (h *Handler) DeleteMailbox(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return respondErr(c, err)
	}
	if err := h.db.Delete(&store.Mailbox{}, id).Error; err != nil {
		return respondErr(c, err)
	}
	return respondOK(c, 200, fiber.Map{"message": "mailbox deleted"})
}

type importRow struct {
	Address      string
	RefreshToken string
	OAuthClientID string
	Group        string
}

type importRowResult struct {
	Address string `json:"address"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ImportMailboxes accepts a newline-delimited batch of
// "address,refresh_token,oauth_client_id[,group]" rows, mirroring the
// validate-encrypt-persist sequence CreateMailbox runs for one row, and
// reports success/failure per row instead of aborting the whole batch.
func (h *Handler) ImportMailboxes(c *fiber.Ctx) error {
	body := strings.TrimSpace(string(c.Body()))
	if body == "" {
		return respondErr(c, apierr.ErrValidation("request body is empty"))
	}

	groupIDByName := make(map[string]uint)
	results := make([]importRowResult, 0)

	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		row, err := parseImportRow(line)
		if err != nil {
			results = append(results, importRowResult{Address: line, Success: false, Error: err.Error()})
			continue
		}

		var groupID *uint
		if row.Group != "" {
			if id, ok := groupIDByName[row.Group]; ok {
				groupID = &id
			} else {
				var group store.MailboxGroup
				if err := h.db.Where("name = ?", row.Group).First(&group).Error; err != nil {
					results = append(results, importRowResult{Address: row.Address, Success: false, Error: "unknown group: " + row.Group})
					continue
				}
				groupIDByName[row.Group] = group.ID
				groupID = &group.ID
			}
		}

		cipher, err := h.box.Encrypt(row.RefreshToken)
		if err != nil {
			results = append(results, importRowResult{Address: row.Address, Success: false, Error: err.Error()})
			continue
		}

		mailbox := store.Mailbox{
			Address:            row.Address,
			OAuthClientID:       row.OAuthClientID,
			RefreshTokenCipher: cipher,
			Status:             store.MailboxActive,
			GroupID:            groupID,
		}
		if err := h.db.Create(&mailbox).Error; err != nil {
			results = append(results, importRowResult{Address: row.Address, Success: false, Error: "already exists or invalid"})
			continue
		}

		results = append(results, importRowResult{Address: row.Address, Success: true})
	}

	return respondOK(c, 200, fiber.Map{"results": results})
}

func parseImportRow(line string) (importRow, error) {
	fields := strings.Split(line, ",")
	if len(fields) < 3 {
		return importRow{}, errors.New("expected address,refresh_token,oauth_client_id[,group]")
	}
	row := importRow{
		Address:      strings.TrimSpace(fields[0]),
		RefreshToken: strings.TrimSpace(fields[1]),
		OAuthClientID: strings.TrimSpace(fields[2]),
	}
	if len(fields) > 3 {
		row.Group = strings.TrimSpace(fields[3])
	}
	if row.Address == "" || row.RefreshToken == "" || row.OAuthClientID == "" {
		return importRow{}, errors.New("address, refresh_token, and oauth_client_id are required")
	}
	return row, nil
}

func mailboxNotFoundOr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apierr.ErrEmailNotFound("mailbox not found")
	}
	return err
}

// --- groups ---

type groupRequest struct {
	Name          string              `json:"name" validate:"required"`
	Description   string              `json:"description"`
	FetchStrategy store.FetchStrategy `json:"fetchStrategy"`
}

func (h *Handler) CreateGroup(c *fiber.Ctx) error {
	var req groupRequest
	if err := c.BodyParser(&req); err != nil {
		return respondErr(c, apierr.ErrValidation("invalid request body"))
	}
	if err := validate.Struct(req); err != nil {
		return respondErr(c, err)
	}
	if req.FetchStrategy == "" {
		req.FetchStrategy = store.StrategyGraphFirst
	}

	group := store.MailboxGroup{Name: req.Name, Description: req.Description, FetchStrategy: req.FetchStrategy}
	if err := h.db.Create(&group).Error; err != nil {
		return respondErr(c, apierr.ErrGroupExists("group name already exists"))
	}
	return respondOK(c, 201, fiber.Map{"group": group})
}

func (h *Handler) ListGroups(c *fiber.Ctx) error {
	var groups []store.MailboxGroup
	if err := h.db.Order("id ASC").Find(&groups).Error; err != nil {
		return respondErr(c, err)
	}
	return respondOK(c, 200, fiber.Map{"groups": groups})
}

func (h *Handler) UpdateGroup(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return respondErr(c, err)
	}

	var group store.MailboxGroup
	if err := h.db.First(&group, id).Error; err != nil {
		return respondErr(c, groupNotFoundOr(err))
	}

	var req groupRequest
	if err := c.BodyParser(&req); err != nil {
		return respondErr(c, apierr.ErrValidation("invalid request body"))
	}

	updates := map[string]interface{}{}
	if req.Name != "" {
		updates["name"] = req.Name
	}
	if req.Description != "" {
		updates["description"] = req.Description
	}
	if req.FetchStrategy != "" {
		updates["fetch_strategy"] = req.FetchStrategy
	}

	if err := h.db.Model(&group).Updates(updates).Error; err != nil {
		return respondErr(c, err)
	}
	h.db.First(&group, id)
	return respondOK(c, 200, fiber.Map{"group": group})
}

func (h *Handler) DeleteGroup(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return respondErr(c, err)
	}
	if err := h.db.Delete(&store.MailboxGroup{}, id).Error; err != nil {
		return respondErr(c, err)
	}
	return respondOK(c, 200, fiber.Map{"message": "group deleted"})
}

func groupNotFoundOr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apierr.ErrGroupNotFound("group not found")
	}
	return err
}

// --- admin accounts (super admin only) ---

type adminRequest struct {
	Username string         `json:"username" validate:"required"`
	Password string         `json:"password"`
	Email    string         `json:"email" validate:"omitempty,email"`
	Role     store.AdminRole `json:"role"`
}

func (h *Handler) CreateAdmin(c *fiber.Ctx) error {
	var req adminRequest
	if err := c.BodyParser(&req); err != nil {
		return respondErr(c, apierr.ErrValidation("invalid request body"))
	}
	if req.Password == "" {
		return respondErr(c, apierr.ErrValidation("password is required"))
	}
	if err := validate.Struct(req); err != nil {
		return respondErr(c, err)
	}
	if req.Role == "" {
		req.Role = store.RoleAdmin
	}

	digest, err := passwordhash.Hash(req.Password)
	if err != nil {
		return respondErr(c, err)
	}

	admin := store.AdminAccount{
		Username:       req.Username,
		PasswordDigest: digest,
		Email:          req.Email,
		Role:           req.Role,
		Status:         store.AdminActive,
	}
	if err := h.db.Create(&admin).Error; err != nil {
		return respondErr(c, apierr.ErrDuplicateUsername("username already exists"))
	}

	return respondOK(c, 201, fiber.Map{"admin": fiber.Map{"id": admin.ID, "username": admin.Username, "role": admin.Role}})
}

func (h *Handler) ListAdmins(c *fiber.Ctx) error {
	var admins []store.AdminAccount
	if err := h.db.Order("id ASC").Find(&admins).Error; err != nil {
		return respondErr(c, err)
	}
	return respondOK(c, 200, fiber.Map{"admins": admins})
}

type updateAdminRequest struct {
	Email  string           `json:"email" validate:"omitempty,email"`
	Role   store.AdminRole  `json:"role"`
	Status store.AdminStatus `json:"status"`
}

func (h *Handler) UpdateAdmin(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return respondErr(c, err)
	}

	var admin store.AdminAccount
	if err := h.db.First(&admin, id).Error; err != nil {
		return respondErr(c, adminNotFoundOr(err))
	}

	var req updateAdminRequest
	if err := c.BodyParser(&req); err != nil {
		return respondErr(c, apierr.ErrValidation("invalid request body"))
	}
	if err := validate.Struct(req); err != nil {
		return respondErr(c, err)
	}

	updates := map[string]interface{}{}
	if req.Email != "" {
		updates["email"] = req.Email
	}
	if req.Role != "" {
		updates["role"] = req.Role
	}
	if req.Status != "" {
		updates["status"] = req.Status
	}

	if err := h.db.Model(&admin).Updates(updates).Error; err != nil {
		return respondErr(c, err)
	}
	h.db.First(&admin, id)
	return respondOK(c, 200, fiber.Map{"admin": fiber.Map{"id": admin.ID, "username": admin.Username, "role": admin.Role, "status": admin.Status}})
}

func (h *Handler) DeleteAdmin(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return respondErr(c, err)
	}
	if err := h.db.Delete(&store.AdminAccount{}, id).Error; err != nil {
		return respondErr(c, err)
	}
	return respondOK(c, 200, fiber.Map{"message": "admin deleted"})
}

func adminNotFoundOr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apierr.ErrNotFound("admin not found")
	}
	return err
}
