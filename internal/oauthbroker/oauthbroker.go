// Package oauthbroker implements C10: exchanging a mailbox's refresh token
// for an access token against Microsoft's consumer token endpoint, with a
// scope-aware cache. Outbound calls use valyala/fasthttp.Client, the
// transport already pulled in by the teacher's fiber dependency, since
// neither the teacher nor the rest of the pack shows a different outbound
// REST client idiom to follow for server-to-server calls.
package oauthbroker

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"mailgateway/internal/proxydial"
	"mailgateway/internal/sharedstore"
)

const (
	tokenEndpoint   = "https://login.microsoftonline.com/consumers/oauth2/v2.0/token"
	graphMailScope  = "https://graph.microsoft.com/Mail.Read"
	requestTimeout  = 30 * time.Second
	cacheTTLMargin  = 60 * time.Second
)

type Token struct {
	AccessToken string
	Scope       string
	ExpiresIn   int
}

// HasMailReadScope reports whether the token's returned scope string
// contains Mail.Read, the gate C13 uses to decide whether Graph is usable.
func (t Token) HasMailReadScope() bool {
	return strings.Contains(t.Scope, graphMailScope)
}

type Broker struct {
	clientID, clientSecret string
	cache                  sharedstore.Store
	endpoint               string
}

type Option func(*Broker)

// WithEndpoint overrides the token endpoint, for pointing at a test double.
func WithEndpoint(endpoint string) Option {
	return func(b *Broker) { b.endpoint = endpoint }
}

func New(clientID, clientSecret string, cache sharedstore.Store, opts ...Option) *Broker {
	b := &Broker{clientID: clientID, clientSecret: clientSecret, cache: cache, endpoint: tokenEndpoint}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ExchangeForGraph requests a token scoped to Mail.Read, caching it under
// graph_token:{address} only if the response scope actually contains
// Mail.Read (spec §4.10's cache-scope-correctness invariant).
func (b *Broker) ExchangeForGraph(ctx context.Context, address, refreshToken string, proxy proxydial.Spec) (*Token, error) {
	if cached, ok, err := b.cacheGet(ctx, graphCacheKey(address)); err != nil {
		return nil, err
	} else if ok {
		return cached, nil
	}

	tok, err := b.exchange(ctx, refreshToken, graphMailScope, proxy)
	if err != nil || tok == nil {
		return tok, err
	}

	if tok.HasMailReadScope() {
		if err := b.cacheSet(ctx, graphCacheKey(address), tok); err != nil {
			return nil, err
		}
	}
	return tok, nil
}

// ExchangeForImap requests a scopeless token (needed for IMAP XOAUTH2),
// caching it under imap_token:{address}.
func (b *Broker) ExchangeForImap(ctx context.Context, address, refreshToken string, proxy proxydial.Spec) (*Token, error) {
	if cached, ok, err := b.cacheGet(ctx, imapCacheKey(address)); err != nil {
		return nil, err
	} else if ok {
		return cached, nil
	}

	tok, err := b.exchange(ctx, refreshToken, "", proxy)
	if err != nil || tok == nil {
		return tok, err
	}

	if err := b.cacheSet(ctx, imapCacheKey(address), tok); err != nil {
		return nil, err
	}
	return tok, nil
}

// exchange performs the form-encoded refresh_token grant. A non-2xx
// response or a body with no access_token returns (nil, nil) so callers
// degrade rather than treat it as a hard transport error.
func (b *Broker) exchange(ctx context.Context, refreshToken, scope string, proxySpec proxydial.Spec) (*Token, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", b.clientID)
	form.Set("client_secret", b.clientSecret)
	form.Set("refresh_token", refreshToken)
	if scope != "" {
		form.Set("scope", scope)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(b.endpoint)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/x-www-form-urlencoded")
	req.SetBodyString(form.Encode())

	client, err := newClient(proxySpec)
	if err != nil {
		return nil, fmt.Errorf("oauthbroker: build client: %w", err)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(requestTimeout)
	}
	if err := client.DoDeadline(req, resp, deadline); err != nil {
		return nil, fmt.Errorf("oauthbroker: request failed: %w", err)
	}

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return nil, nil
	}

	body := resp.Body()
	accessToken, _ := jsonString(body, "access_token")
	if accessToken == "" {
		return nil, nil
	}
	respScope, _ := jsonString(body, "scope")
	expiresIn, _ := jsonInt(body, "expires_in")

	return &Token{AccessToken: accessToken, Scope: respScope, ExpiresIn: expiresIn}, nil
}

func newClient(spec proxydial.Spec) (*fasthttp.Client, error) {
	dial, err := proxydial.Resolve(spec)
	if err != nil {
		return nil, err
	}
	return &fasthttp.Client{
		Dial: func(addr string) (net.Conn, error) {
			return dial(context.Background(), "tcp", addr)
		},
	}, nil
}

func jsonString(body []byte, field string) (string, bool) {
	var m map[string]interface{}
	if err := json.Unmarshal(body, &m); err != nil {
		return "", false
	}
	v, ok := m[field].(string)
	return v, ok
}

func jsonInt(body []byte, field string) (int, bool) {
	var m map[string]interface{}
	if err := json.Unmarshal(body, &m); err != nil {
		return 0, false
	}
	v, ok := m[field].(float64)
	return int(v), ok
}

func (b *Broker) cacheGet(ctx context.Context, key string) (*Token, bool, error) {
	raw, ok, err := b.cache.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	tok := decodeCachedToken(raw)
	if tok == nil {
		return nil, false, nil
	}
	return tok, true, nil
}

func (b *Broker) cacheSet(ctx context.Context, key string, tok *Token) error {
	ttl := time.Duration(tok.ExpiresIn)*time.Second - cacheTTLMargin
	if ttl <= 0 {
		ttl = time.Minute
	}
	return b.cache.Set(ctx, key, encodeCachedToken(tok), ttl)
}

func graphCacheKey(address string) string { return "graph_token:" + address }
func imapCacheKey(address string) string  { return "imap_token:" + address }

func encodeCachedToken(t *Token) string {
	return strings.Join([]string{t.AccessToken, t.Scope, strconv.Itoa(t.ExpiresIn)}, "\x1f")
}

func decodeCachedToken(raw string) *Token {
	parts := strings.Split(raw, "\x1f")
	if len(parts) != 3 {
		return nil
	}
	expiresIn, _ := strconv.Atoi(parts[2])
	return &Token{AccessToken: parts[0], Scope: parts[1], ExpiresIn: expiresIn}
}
