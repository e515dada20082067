// Package mailorchestrator implements C13: choosing between Graph and IMAP
// to fetch a mailbox's messages, and the bulk-clear operation that pages
// through a folder and deletes everything in it. It composes C10-C12 and
// C14 the way controllers/unibox_controller.go's FetchEmails composed
// per-sender IMAP fetches, generalized to a token-scope-aware Graph/IMAP
// choice instead of a single hardcoded transport.
package mailorchestrator

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"mailgateway/internal/apierr"
	"mailgateway/internal/bulkdelete"
	"mailgateway/internal/errlog"
	"mailgateway/internal/graphmail"
	"mailgateway/internal/imapmail"
	"mailgateway/internal/oauthbroker"
	"mailgateway/internal/proxydial"
	"mailgateway/internal/store"
)

const (
	clearMaxPages    = 10
	clearPageSize    = 500
	defaultListLimit = 20
)

type Message struct {
	ID      string    `json:"id"`
	From    string    `json:"from"`
	Subject string    `json:"subject"`
	Text    string    `json:"text"`
	HTML    string    `json:"html"`
	Date    time.Time `json:"date"`
}

type FetchResult struct {
	Messages []Message
	Method   string // "graph_api" or "imap"
}

type ClearResult struct {
	DeletedCount int
	Status       string // "success" or "error"
}

type FetchOptions struct {
	Folder string
	Limit  int
	Proxy  proxydial.Spec
}

type Orchestrator struct {
	db     *gorm.DB
	broker *oauthbroker.Broker
	graph  *graphmail.Client
}

func New(db *gorm.DB, broker *oauthbroker.Broker, graph *graphmail.Client) *Orchestrator {
	return &Orchestrator{db: db, broker: broker, graph: graph}
}

// Fetch retrieves messages for mailboxID using the strategy's ordering of
// Graph and IMAP, persisting last_check_at/last_error_message atomically and
// flipping the mailbox to Error on any failure.
func (o *Orchestrator) Fetch(ctx context.Context, mailboxID uint, address, refreshToken string, strategy store.FetchStrategy, opts FetchOptions) (FetchResult, error) {
	if opts.Limit <= 0 {
		opts.Limit = defaultListLimit
	}

	result, err := o.fetchByStrategy(ctx, address, refreshToken, strategy, opts)
	if err != nil {
		o.markError(ctx, mailboxID, err)
		errlog.Error("mail_fetch_failed", err, map[string]interface{}{
			"mailbox_id": mailboxID,
			"address":    address,
			"strategy":   string(strategy),
		})
		return FetchResult{}, err
	}
	o.markChecked(ctx, mailboxID)
	return result, nil
}

func (o *Orchestrator) fetchByStrategy(ctx context.Context, address, refreshToken string, strategy store.FetchStrategy, opts FetchOptions) (FetchResult, error) {
	switch strategy {
	case store.StrategyGraphOnly:
		return o.fetchGraph(ctx, address, refreshToken, opts)
	case store.StrategyImapOnly:
		return o.fetchImap(ctx, address, refreshToken, opts)
	case store.StrategyImapFirst:
		if result, err := o.fetchImap(ctx, address, refreshToken, opts); err == nil {
			return result, nil
		} else {
			errlog.Event("degraded_imap_to_graph", map[string]interface{}{"address": address, "error": err.Error()})
		}
		return o.fetchGraph(ctx, address, refreshToken, opts)
	default: // StrategyGraphFirst and any unset value
		if result, err := o.fetchGraph(ctx, address, refreshToken, opts); err == nil {
			return result, nil
		} else {
			errlog.Event("degraded_graph_to_imap", map[string]interface{}{"address": address, "error": err.Error()})
		}
		return o.fetchImap(ctx, address, refreshToken, opts)
	}
}

func (o *Orchestrator) fetchGraph(ctx context.Context, address, refreshToken string, opts FetchOptions) (FetchResult, error) {
	tok, err := o.broker.ExchangeForGraph(ctx, address, refreshToken, opts.Proxy)
	if err != nil {
		return FetchResult{}, err
	}
	if tok == nil || !tok.HasMailReadScope() {
		return FetchResult{}, apierr.ErrGraphAPIFailed("no graph token with Mail.Read scope available")
	}

	messages, err := o.graph.List(ctx, tok.AccessToken, opts.Folder, opts.Limit, opts.Proxy)
	if err != nil {
		return FetchResult{}, err
	}

	out := make([]Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, Message{ID: m.ID, From: m.From, Subject: m.Subject, Text: m.Text, HTML: m.HTML, Date: m.Date})
	}
	return FetchResult{Messages: out, Method: "graph_api"}, nil
}

func (o *Orchestrator) fetchImap(ctx context.Context, address, refreshToken string, opts FetchOptions) (FetchResult, error) {
	tok, err := o.broker.ExchangeForImap(ctx, address, refreshToken, opts.Proxy)
	if err != nil {
		return FetchResult{}, err
	}
	if tok == nil {
		return FetchResult{}, apierr.ErrImapTokenFailed("could not obtain an imap access token")
	}

	messages, err := imapmail.List(ctx, address, tok.AccessToken, opts.Folder, opts.Limit)
	if err != nil {
		return FetchResult{}, err
	}

	out := make([]Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, Message{ID: m.ID, From: m.From, Subject: m.Subject, Text: m.Text, HTML: m.HTML, Date: m.Date})
	}
	return FetchResult{Messages: out, Method: "imap"}, nil
}

// Clear pages through folder on Graph (up to clearMaxPages of clearPageSize)
// and deletes every message found, clearPageSize at a time, 10 in flight per
// page via bulkdelete.
func (o *Orchestrator) Clear(ctx context.Context, address, refreshToken, folder string, proxy proxydial.Spec) (ClearResult, error) {
	tok, err := o.broker.ExchangeForGraph(ctx, address, refreshToken, proxy)
	if err != nil {
		errlog.Error("mail_clear_token_failed", err, map[string]interface{}{"address": address, "folder": folder})
		return ClearResult{Status: "error"}, err
	}
	if tok == nil || !tok.HasMailReadScope() {
		err := apierr.ErrGraphAPIFailed("no graph token with Mail.Read scope available")
		errlog.Error("mail_clear_token_failed", err, map[string]interface{}{"address": address, "folder": folder})
		return ClearResult{Status: "error"}, err
	}

	deleted := 0
	pageURL := ""
	for page := 0; page < clearMaxPages; page++ {
		ids, next, err := o.graph.ListPage(ctx, tok.AccessToken, folder, clearPageSize, pageURL, proxy)
		if err != nil {
			errlog.Error("mail_clear_list_page_failed", err, map[string]interface{}{"address": address, "folder": folder, "page": page})
			return ClearResult{DeletedCount: deleted, Status: "error"}, err
		}
		if len(ids) == 0 {
			break
		}

		result := bulkdelete.Run(ctx, ids, func(ctx context.Context, id string) error {
			return o.graph.Delete(ctx, tok.AccessToken, id, proxy)
		}, nil)
		deleted += result.DeletedCount

		if next == "" {
			break
		}
		pageURL = next
	}

	return ClearResult{DeletedCount: deleted, Status: "success"}, nil
}

func (o *Orchestrator) markChecked(ctx context.Context, mailboxID uint) {
	now := time.Now()
	o.db.WithContext(ctx).Model(&store.Mailbox{}).Where("id = ?", mailboxID).
		Updates(map[string]interface{}{
			"status":             store.MailboxActive,
			"last_check_at":      now,
			"last_error_message": "",
		})
}

func (o *Orchestrator) markError(ctx context.Context, mailboxID uint, err error) {
	now := time.Now()
	o.db.WithContext(ctx).Model(&store.Mailbox{}).Where("id = ?", mailboxID).
		Updates(map[string]interface{}{
			"status":             store.MailboxError,
			"last_check_at":      now,
			"last_error_message": fmt.Sprintf("%v", err),
		})
}
