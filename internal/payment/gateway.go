package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type Outcome string

const (
	OutcomeApproved  Outcome = "approved"
	OutcomeChallenge Outcome = "challenge_required"
	OutcomeDeclined  Outcome = "declined"
)

// ErrGatewayUnavailable marks transport-level failures: safe to retry.
var ErrGatewayUnavailable = errors.New("payment: gateway unavailable")

// DeclinedError is terminal; retrying the same authorization will not help.
type DeclinedError struct {
	Code    string
	Message string
}

func (e *DeclinedError) Error() string {
	return fmt.Sprintf("payment: declined (%s): %s", e.Code, e.Message)
}

var ErrEmptyChallenge = errors.New("payment: provider returned challenge without artifact")

// OrderDraft is the authorization input. Amounts are integer cents and only
// become 2-decimal strings at the wire.
type OrderDraft struct {
	OrderID     string
	AmountCents int
	Currency    string
	CallbackURL string
	Card        Card
	Buyer       *Buyer
	Items       []Item
}

type Card struct {
	HolderName  string
	Number      string
	ExpireMonth string
	ExpireYear  string
	CVC         string
}

type Buyer struct {
	ID    string
	Name  string
	Email string
}

type Item struct {
	ProductID  string
	Name       string
	Qty        int
	PriceCents int
}

// Authorization is the normalized provider answer.
type Authorization struct {
	Outcome       Outcome
	ProviderRef   string
	ChallengeHTML string
	DeclineCode   string
	AmountCents   int
}

// ProviderStatus is the reconciliation view from retrieve.
type ProviderStatus struct {
	ProviderRef string
	Status      string // authorized | pending | failed
	AmountCents int
}

// ---- wire schema: field order is fixed by struct order, optional
// sub-objects are omitted rather than sent as null ----

type wireCard struct {
	HolderName  string `json:"holder_name"`
	Number      string `json:"number"`
	ExpireMonth string `json:"expire_month"`
	ExpireYear  string `json:"expire_year"`
	CVC         string `json:"cvc"`
}

type wireBuyer struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

type wireItem struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name,omitempty"`
	Qty       int    `json:"qty"`
	Price     string `json:"price"`
}

type authorizeRequest struct {
	ConversationID string     `json:"conversation_id"`
	Amount         string     `json:"amount"`
	Currency       string     `json:"currency"`
	CallbackURL    string     `json:"callback_url,omitempty"`
	Card           *wireCard  `json:"card,omitempty"`
	Buyer          *wireBuyer `json:"buyer,omitempty"`
	Items          []wireItem `json:"items,omitempty"`
}

type completeRequest struct {
	ProviderRef string          `json:"provider_ref"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

type retrieveRequest struct {
	ProviderRef string `json:"provider_ref"`
}

type gatewayResponse struct {
	Status       string `json:"status"` // approved | challenge | declined | failure
	ProviderRef  string `json:"provider_ref"`
	RedirectHTML string `json:"redirect_html,omitempty"`
	DeclineCode  string `json:"decline_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	Amount       string `json:"amount,omitempty"`
}

const (
	pathAuthorize = "/v1/payments/authorize"
	pathComplete  = "/v1/payments/3ds/complete"
	pathRetrieve  = "/v1/payments/retrieve"

	nonceHeader = "X-Auth-Nonce"
)

// Client talks to the payment provider. Every call serializes a fixed-order
// JSON body, signs it, POSTs it, and normalizes the answer into either an
// Authorization or one of the two error classes.
type Client struct {
	BaseURL string
	Signer  Signer
	HTTP    *http.Client
	Nonce   func() string
}

func NewClient(baseURL string, signer Signer) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Signer:  signer,
		HTTP: &http.Client{
			Timeout: 20 * time.Second,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
			},
		},
		Nonce: NewNonce,
	}
}

func (c *Client) Authorize(ctx context.Context, draft OrderDraft) (Authorization, error) {
	items := make([]wireItem, 0, len(draft.Items))
	for _, it := range draft.Items {
		items = append(items, wireItem{
			ProductID: it.ProductID,
			Name:      it.Name,
			Qty:       it.Qty,
			Price:     FormatCents(it.PriceCents),
		})
	}
	req := authorizeRequest{
		ConversationID: draft.OrderID,
		Amount:         FormatCents(draft.AmountCents),
		Currency:       draft.Currency,
		CallbackURL:    draft.CallbackURL,
		Card: &wireCard{
			HolderName:  draft.Card.HolderName,
			Number:      draft.Card.Number,
			ExpireMonth: draft.Card.ExpireMonth,
			ExpireYear:  draft.Card.ExpireYear,
			CVC:         draft.Card.CVC,
		},
		Items: items,
	}
	if draft.Buyer != nil {
		req.Buyer = &wireBuyer{ID: draft.Buyer.ID, Name: draft.Buyer.Name, Email: draft.Buyer.Email}
	}

	resp, err := c.post(ctx, pathAuthorize, req)
	if err != nil {
		return Authorization{}, err
	}
	return c.normalize(resp)
}

func (c *Client) CompleteChallenge(ctx context.Context, providerRef string, payload json.RawMessage) (Authorization, error) {
	resp, err := c.post(ctx, pathComplete, completeRequest{ProviderRef: providerRef, Payload: payload})
	if err != nil {
		return Authorization{}, err
	}
	return c.normalize(resp)
}

func (c *Client) Retrieve(ctx context.Context, providerRef string) (ProviderStatus, error) {
	resp, err := c.post(ctx, pathRetrieve, retrieveRequest{ProviderRef: providerRef})
	if err != nil {
		return ProviderStatus{}, err
	}
	amount, _ := ParseCents(resp.Amount)
	st := ProviderStatus{ProviderRef: resp.ProviderRef, AmountCents: amount}
	switch resp.Status {
	case "approved":
		st.Status = "authorized"
	case "challenge":
		st.Status = "pending"
	default:
		st.Status = "failed"
	}
	return st, nil
}

func (c *Client) post(ctx context.Context, path string, body any) (*gatewayResponse, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	nonce := c.Nonce()
	authHeader, err := c.Signer.Sign(path, raw, nonce)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", authHeader)
	req.Header.Set(nonceHeader, nonce)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: provider returned %d", ErrGatewayUnavailable, resp.StatusCode)
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	var out gatewayResponse
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("%w: malformed provider response", ErrGatewayUnavailable)
	}
	return &out, nil
}

func (c *Client) normalize(resp *gatewayResponse) (Authorization, error) {
	amount, _ := ParseCents(resp.Amount)
	switch resp.Status {
	case "approved":
		return Authorization{Outcome: OutcomeApproved, ProviderRef: resp.ProviderRef, AmountCents: amount}, nil
	case "challenge":
		if resp.RedirectHTML == "" {
			return Authorization{}, ErrEmptyChallenge
		}
		// the artifact is opaque to us; the caller relays it untouched
		return Authorization{Outcome: OutcomeChallenge, ProviderRef: resp.ProviderRef, ChallengeHTML: resp.RedirectHTML, AmountCents: amount}, nil
	case "declined":
		return Authorization{Outcome: OutcomeDeclined, ProviderRef: resp.ProviderRef, DeclineCode: resp.DeclineCode, AmountCents: amount},
			&DeclinedError{Code: resp.DeclineCode, Message: resp.ErrorMessage}
	default:
		return Authorization{}, fmt.Errorf("%w: provider status %q", ErrGatewayUnavailable, resp.Status)
	}
}

// FormatCents renders integer cents as an exactly-2-decimal string, the only
// money format the provider accepts.
func FormatCents(cents int) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

// ParseCents reads a 2-decimal money string back into cents.
func ParseCents(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	whole, frac, ok := strings.Cut(s, ".")
	if !ok || len(frac) != 2 {
		return 0, fmt.Errorf("payment: malformed amount %q", s)
	}
	w, err := strconv.Atoi(whole)
	if err != nil {
		return 0, fmt.Errorf("payment: malformed amount %q", s)
	}
	f, err := strconv.Atoi(frac)
	if err != nil {
		return 0, fmt.Errorf("payment: malformed amount %q", s)
	}
	cents := w*100 + f
	if neg {
		cents = -cents
	}
	return cents, nil
}
