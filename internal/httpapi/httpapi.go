// Package httpapi wires the credential-authenticated external API, grouped
// the way routes/routes.go grouped auth/otp/payment routes with per-group
// middleware, but with one shared key-auth+rate-limit+permission gate in
// front of every handler instead of a Protected()-per-group split.
package httpapi

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"mailgateway/internal/apierr"
	"mailgateway/internal/credential"
	"mailgateway/internal/mailorchestrator"
	"mailgateway/internal/permission"
	"mailgateway/internal/pool"
	"mailgateway/internal/proxydial"
	"mailgateway/internal/requestlog"
	"mailgateway/internal/scope"
	"mailgateway/internal/secretbox"
	"mailgateway/internal/store"
	"mailgateway/internal/validate"
)

const (
	defaultNewLimit = 20
	unboundedLimit  = 2000
)

type Handler struct {
	db           *gorm.DB
	credentials  *credential.Resolver
	allocator    *pool.Allocator
	orchestrator *mailorchestrator.Orchestrator
	box          *secretbox.Box
	log          *requestlog.Logger
}

func New(db *gorm.DB, credentials *credential.Resolver, allocator *pool.Allocator, orchestrator *mailorchestrator.Orchestrator, box *secretbox.Box, log *requestlog.Logger) *Handler {
	return &Handler{db: db, credentials: credentials, allocator: allocator, orchestrator: orchestrator, box: box, log: log}
}

// Register mounts every /api route behind the shared credential gate.
func (h *Handler) Register(app *fiber.App) {
	api := app.Group("/api", h.authenticate)
	api.Get("/get-email", h.GetEmail)
	api.Post("/get-email", h.GetEmail)
	api.Get("/mail_new", h.MailNew)
	api.Post("/mail_new", h.MailNew)
	api.Get("/mail_text", h.MailText)
	api.Post("/mail_text", h.MailText)
	api.Get("/mail_all", h.MailAll)
	api.Post("/mail_all", h.MailAll)
	api.Get("/process-mailbox", h.ProcessMailbox)
	api.Post("/process-mailbox", h.ProcessMailbox)
	api.Get("/list-emails", h.ListEmails)
	api.Post("/list-emails", h.ListEmails)
	api.Get("/pool-stats", h.PoolStats)
	api.Post("/pool-stats", h.PoolStats)
	api.Get("/reset-pool", h.ResetPool)
	api.Post("/reset-pool", h.ResetPool)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"success": true, "data": fiber.Map{"status": "ok"}})
	})
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

func respondOK(c *fiber.Ctx, data interface{}) error {
	reqID := requestID(c)
	c.Set(requestlog.RequestIDHeader, reqID)
	return c.JSON(envelope{Success: true, Data: data, RequestID: reqID})
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

// bind reads params from the JSON body on POST, the query string otherwise.
func bind(c *fiber.Ctx, dst interface{}) error {
	if c.Method() == fiber.MethodPost && len(c.Body()) > 0 {
		return c.BodyParser(dst)
	}
	return c.QueryParser(dst)
}

const principalKey = "httpapi_principal"

func (h *Handler) authenticate(c *fiber.Ctx) error {
	rawKey := credential.Extract(c.Get("X-API-Key"), c.Get("Authorization"), c.Query("api_key"))
	principal, err := h.credentials.Resolve(c.Context(), rawKey)
	if err != nil {
		return respondErr(c, err)
	}
	c.Locals(principalKey, principal)
	return c.Next()
}

func currentPrincipal(c *fiber.Ctx) *credential.Principal {
	p, _ := c.Locals(principalKey).(*credential.Principal)
	return p
}

// requirePermission checks the resolved credential's permission map against
// the route's action key, per the C7 decision table.
func requirePermission(principal *credential.Principal, action string) error {
	if !permission.IsAllowed(principal.Credential.PermissionMap, action) {
		return apierr.ErrForbidden("credential is not permitted to call " + action)
	}
	return nil
}

func (h *Handler) logCall(c *fiber.Ctx, action string, started time.Time, status int, principal *credential.Principal, mailboxID *uint) {
	var credID *uint
	if principal != nil {
		id := principal.Credential.ID
		credID = &id
	}
	h.log.Record(context.Background(), requestlog.Entry{
		Action:       action,
		CredentialID: credID,
		MailboxID:    mailboxID,
		ClientIP:     c.IP(),
		HTTPStatus:   status,
		ElapsedMs:    time.Since(started).Milliseconds(),
		RequestID:    requestID(c),
	})
}

type getEmailParams struct {
	Group string `query:"group" json:"group"`
}

func (h *Handler) GetEmail(c *fiber.Ctx) error {
	started := time.Now()
	principal := currentPrincipal(c)
	if err := requirePermission(principal, "get_email"); err != nil {
		return respondErr(c, err)
	}

	var params getEmailParams
	if err := bind(c, &params); err != nil {
		return respondErr(c, apierr.ErrValidation("invalid parameters"))
	}

	alloc, err := h.allocator.AllocateAndMark(c.Context(), principal.Credential.ID, params.Group, principal.Scope)
	if err != nil {
		h.logCall(c, "get_email", started, apierr.As(err).HTTPStatus, principal, nil)
		return respondErr(c, err)
	}

	h.logCall(c, "get_email", started, 200, principal, &alloc.MailboxID)
	return respondOK(c, fiber.Map{"email": alloc.Address, "id": alloc.MailboxID})
}

type mailboxParams struct {
	Email   string `query:"email" json:"email" validate:"required,email"`
	Mailbox string `query:"mailbox" json:"mailbox"`
	Socks5  string `query:"socks5" json:"socks5"`
	HTTP    string `query:"http" json:"http"`
}

func (h *Handler) resolveMailbox(ctx context.Context, principal *credential.Principal, address string) (*store.Mailbox, error) {
	var mailbox store.Mailbox
	if err := h.db.WithContext(ctx).Preload("Group").Where("address = ?", address).First(&mailbox).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apierr.ErrEmailNotFound("mailbox not found")
		}
		return nil, err
	}
	if err := principal.Scope.RequireEmail(mailbox.ID); err != nil {
		return nil, err
	}
	return &mailbox, nil
}

func (h *Handler) fetchMailbox(c *fiber.Ctx, action string, limit int) error {
	started := time.Now()
	principal := currentPrincipal(c)
	if err := requirePermission(principal, action); err != nil {
		return respondErr(c, err)
	}

	var params mailboxParams
	if err := bind(c, &params); err != nil {
		return respondErr(c, apierr.ErrValidation("invalid parameters"))
	}
	if err := validate.Struct(params); err != nil {
		return respondErr(c, err)
	}

	mailbox, err := h.resolveMailbox(c.Context(), principal, params.Email)
	if err != nil {
		h.logCall(c, action, started, apierr.As(err).HTTPStatus, principal, nil)
		return respondErr(c, err)
	}

	refreshToken, err := h.box.Decrypt(mailbox.RefreshTokenCipher)
	if err != nil {
		h.logCall(c, action, started, apierr.As(err).HTTPStatus, principal, &mailbox.ID)
		return respondErr(c, err)
	}

	strategy := store.StrategyGraphFirst
	if mailbox.Group != nil {
		strategy = mailbox.Group.FetchStrategy
	}

	result, err := h.orchestrator.Fetch(c.Context(), mailbox.ID, mailbox.Address, refreshToken, strategy, mailorchestrator.FetchOptions{
		Folder: params.Mailbox,
		Limit:  limit,
		Proxy:  proxydial.Spec{SOCKS5: params.Socks5, HTTP: params.HTTP},
	})
	if err != nil {
		h.logCall(c, action, started, apierr.As(err).HTTPStatus, principal, &mailbox.ID)
		return respondErr(c, err)
	}

	h.logCall(c, action, started, 200, principal, &mailbox.ID)
	return respondOK(c, fiber.Map{
		"email":    mailbox.Address,
		"mailbox":  params.Mailbox,
		"count":    len(result.Messages),
		"messages": result.Messages,
		"method":   result.Method,
	})
}

func (h *Handler) MailNew(c *fiber.Ctx) error {
	return h.fetchMailbox(c, "mail_new", defaultNewLimit)
}

func (h *Handler) MailAll(c *fiber.Ctx) error {
	return h.fetchMailbox(c, "mail_all", unboundedLimit)
}

type mailTextParams struct {
	Email string `query:"email" json:"email" validate:"required,email"`
	Match string `query:"match" json:"match"`
}

func (h *Handler) MailText(c *fiber.Ctx) error {
	started := time.Now()
	principal := currentPrincipal(c)
	c.Set("Content-Type", "text/plain")
	if err := requirePermission(principal, "mail_text"); err != nil {
		return c.Status(apierr.As(err).HTTPStatus).SendString("Error: " + apierr.As(err).Message)
	}

	var params mailTextParams
	if err := bind(c, &params); err != nil {
		return c.Status(400).SendString("Error: invalid parameters")
	}
	if err := validate.Struct(params); err != nil {
		return c.Status(apierr.As(err).HTTPStatus).SendString("Error: " + apierr.As(err).Message)
	}

	mailbox, err := h.resolveMailbox(c.Context(), principal, params.Email)
	if err != nil {
		h.logCall(c, "mail_text", started, apierr.As(err).HTTPStatus, principal, nil)
		return c.Status(apierr.As(err).HTTPStatus).SendString("Error: " + apierr.As(err).Message)
	}

	refreshToken, err := h.box.Decrypt(mailbox.RefreshTokenCipher)
	if err != nil {
		h.logCall(c, "mail_text", started, apierr.As(err).HTTPStatus, principal, &mailbox.ID)
		return c.Status(apierr.As(err).HTTPStatus).SendString("Error: " + apierr.As(err).Message)
	}

	strategy := store.StrategyGraphFirst
	if mailbox.Group != nil {
		strategy = mailbox.Group.FetchStrategy
	}

	result, err := h.orchestrator.Fetch(c.Context(), mailbox.ID, mailbox.Address, refreshToken, strategy, mailorchestrator.FetchOptions{
		Folder: "inbox",
		Limit:  1,
	})
	if err != nil {
		h.logCall(c, "mail_text", started, apierr.As(err).HTTPStatus, principal, &mailbox.ID)
		return c.Status(apierr.As(err).HTTPStatus).SendString("Error: " + apierr.As(err).Message)
	}
	if len(result.Messages) == 0 {
		h.logCall(c, "mail_text", started, 200, principal, &mailbox.ID)
		return c.SendString("")
	}

	text := result.Messages[0].Text
	h.logCall(c, "mail_text", started, 200, principal, &mailbox.ID)

	if params.Match == "" {
		return c.SendString(text)
	}
	re, err := regexp.Compile(params.Match)
	if err != nil {
		return c.Status(400).SendString("Error: invalid match pattern")
	}
	m := re.FindStringSubmatch(text)
	if m == nil {
		return c.SendString(text)
	}
	if len(m) > 1 {
		return c.SendString(m[1])
	}
	return c.SendString(m[0])
}

func (h *Handler) ProcessMailbox(c *fiber.Ctx) error {
	started := time.Now()
	principal := currentPrincipal(c)
	if err := requirePermission(principal, "process_mailbox"); err != nil {
		return respondErr(c, err)
	}

	var params mailboxParams
	if err := bind(c, &params); err != nil {
		return respondErr(c, apierr.ErrValidation("invalid parameters"))
	}
	if err := validate.Struct(params); err != nil {
		return respondErr(c, err)
	}

	mailbox, err := h.resolveMailbox(c.Context(), principal, params.Email)
	if err != nil {
		h.logCall(c, "process_mailbox", started, apierr.As(err).HTTPStatus, principal, nil)
		return respondErr(c, err)
	}

	refreshToken, err := h.box.Decrypt(mailbox.RefreshTokenCipher)
	if err != nil {
		h.logCall(c, "process_mailbox", started, apierr.As(err).HTTPStatus, principal, &mailbox.ID)
		return respondErr(c, err)
	}

	result, err := h.orchestrator.Clear(c.Context(), mailbox.Address, refreshToken, params.Mailbox,
		proxydial.Spec{SOCKS5: params.Socks5, HTTP: params.HTTP})
	if err != nil {
		h.logCall(c, "process_mailbox", started, apierr.As(err).HTTPStatus, principal, &mailbox.ID)
		return respondErr(c, err)
	}

	h.logCall(c, "process_mailbox", started, 200, principal, &mailbox.ID)
	return respondOK(c, fiber.Map{
		"email":        mailbox.Address,
		"mailbox":      params.Mailbox,
		"status":       result.Status,
		"deletedCount": result.DeletedCount,
	})
}

type listEmailsParams struct {
	Group string `query:"group" json:"group"`
}

func (h *Handler) ListEmails(c *fiber.Ctx) error {
	started := time.Now()
	principal := currentPrincipal(c)
	if err := requirePermission(principal, "list_emails"); err != nil {
		return respondErr(c, err)
	}

	var params listEmailsParams
	if err := bind(c, &params); err != nil {
		return respondErr(c, apierr.ErrValidation("invalid parameters"))
	}

	q := h.db.WithContext(c.Context()).Model(&store.Mailbox{}).Preload("Group")
	if params.Group != "" {
		var group store.MailboxGroup
		if err := h.db.WithContext(c.Context()).Where("name = ?", params.Group).First(&group).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return respondErr(c, apierr.ErrGroupNotFound("group not found"))
			}
			return respondErr(c, err)
		}
		if err := principal.Scope.RequireGroup(group.ID); err != nil {
			return respondErr(c, err)
		}
		q = q.Where("group_id = ?", group.ID)
	} else {
		q = principal.Scope.Apply(q)
	}

	var mailboxes []store.Mailbox
	if err := q.Find(&mailboxes).Error; err != nil {
		return respondErr(c, err)
	}

	type emailEntry struct {
		Email  string `json:"email"`
		Status string `json:"status"`
		Group  string `json:"group,omitempty"`
	}
	entries := make([]emailEntry, 0, len(mailboxes))
	for _, m := range mailboxes {
		groupName := ""
		if m.Group != nil {
			groupName = m.Group.Name
		}
		entries = append(entries, emailEntry{Email: m.Address, Status: string(m.Status), Group: groupName})
	}

	h.logCall(c, "list_emails", started, 200, principal, nil)
	return respondOK(c, fiber.Map{"total": len(entries), "emails": entries})
}

type poolParams struct {
	Group string `query:"group" json:"group"`
}

func (h *Handler) PoolStats(c *fiber.Ctx) error {
	started := time.Now()
	principal := currentPrincipal(c)
	if err := requirePermission(principal, "pool_stats"); err != nil {
		return respondErr(c, err)
	}

	var params poolParams
	if err := bind(c, &params); err != nil {
		return respondErr(c, apierr.ErrValidation("invalid parameters"))
	}

	stats, err := h.allocator.Stats(c.Context(), principal.Credential.ID, params.Group, principal.Scope)
	if err != nil {
		h.logCall(c, "pool_stats", started, apierr.As(err).HTTPStatus, principal, nil)
		return respondErr(c, err)
	}

	h.logCall(c, "pool_stats", started, 200, principal, nil)
	return respondOK(c, fiber.Map{"total": stats.Total, "used": stats.Used, "remaining": stats.Remaining})
}

func (h *Handler) ResetPool(c *fiber.Ctx) error {
	started := time.Now()
	principal := currentPrincipal(c)
	if err := requirePermission(principal, "pool_reset"); err != nil {
		return respondErr(c, err)
	}

	var params poolParams
	if err := bind(c, &params); err != nil {
		return respondErr(c, apierr.ErrValidation("invalid parameters"))
	}

	if err := h.allocator.Reset(c.Context(), principal.Credential.ID, params.Group, principal.Scope); err != nil {
		h.logCall(c, "pool_reset", started, apierr.As(err).HTTPStatus, principal, nil)
		return respondErr(c, err)
	}

	h.logCall(c, "pool_reset", started, 200, principal, nil)
	return respondOK(c, fiber.Map{"message": "pool reset"})
}
