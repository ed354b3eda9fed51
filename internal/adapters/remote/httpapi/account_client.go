package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/bnema/session-runner/internal/domain"
)

const recipientOverride = "recipient"

type accountClient struct {
	client  *Client
	account domain.Account
	session domain.Session
}

func (a *accountClient) Profile(ctx context.Context) (domain.Profile, error) {
	data, err := a.get(ctx, "profile", a.client.cfg.Endpoints.Profile)
	if err != nil {
		return domain.Profile{}, err
	}
	return decodeProfile(data)
}

func (a *accountClient) Balance(ctx context.Context) (domain.Balance, error) {
	data, err := a.get(ctx, "balance", a.client.cfg.Endpoints.Balances)
	if err != nil {
		return domain.Balance{}, err
	}
	return decodeBalance(data, a.client.cfg.BalanceSymbols)
}

func (a *accountClient) Sync(ctx context.Context) error {
	if a.client.cfg.Endpoints.Sync == "" {
		return nil
	}
	_, err := a.get(ctx, "sync", a.client.cfg.Endpoints.Sync)
	return err
}

func (a *accountClient) SubmitTransaction(ctx context.Context) error {
	endpoint, err := a.client.endpoint(a.client.cfg.Endpoints.Send)
	if err != nil {
		return fmt.Errorf("submit_transaction: %w", err)
	}

	recipient, err := a.recipient()
	if err != nil {
		return err
	}

	tx := a.client.cfg.Tx
	payload, err := json.Marshal(transactionRequest{
		BlockchainID: tx.BlockchainID,
		IsNative:     tx.IsNative,
		TokenAddress: tx.TokenAddress,
		Amount:       tx.Amount,
		Recipient:    recipient,
	})
	if err != nil {
		return fmt.Errorf("encode transaction: %w", err)
	}

	data, err := a.client.do(ctx, "submit_transaction", a.account, a.session, http.MethodPost, endpoint, payload)
	if err != nil {
		return err
	}

	var ack statusResponse
	if err := json.Unmarshal(data, &ack); err != nil || !ack.ok() {
		return fmt.Errorf("submit_transaction: %w: %s", ErrUnexpectedShape, truncate(data))
	}
	return nil
}

func (a *accountClient) get(ctx context.Context, op, path string) ([]byte, error) {
	endpoint, err := a.client.endpoint(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return a.client.do(ctx, op, a.account, a.session, http.MethodGet, endpoint, nil)
}

func (a *accountClient) recipient() (string, error) {
	if value, ok := a.account.Override(recipientOverride); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value), nil
	}

	recipients := a.client.cfg.Tx.Recipients
	if len(recipients) == 0 {
		return "", fmt.Errorf("submit_transaction: no recipient configured")
	}
	return recipients[a.client.pick(len(recipients))], nil
}

type transactionRequest struct {
	BlockchainID int64  `json:"blockchain_id"`
	IsNative     bool   `json:"is_native"`
	TokenAddress string `json:"token_address"`
	Amount       string `json:"amount"`
	Recipient    string `json:"recipient"`
}

type statusResponse struct {
	Status  string          `json:"status"`
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

func (s statusResponse) ok() bool {
	return strings.EqualFold(s.Status, "ok") || s.Success
}

type profileResponse struct {
	statusResponse
	User *struct {
		TotalPoints   number `json:"total_points"`
		WalletAddress string `json:"wallet_address"`
	} `json:"user"`
}

type profileData struct {
	Points      number `json:"points"`
	TotalPoints number `json:"totalPoints"`
	XP          number `json:"xp"`
	User        *struct {
		Points number `json:"points"`
	} `json:"user"`
}

// decodeProfile accepts the current { user: {...} } shape and the older
// envelope with points under data.
func decodeProfile(data []byte) (domain.Profile, error) {
	var resp profileResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return domain.Profile{}, fmt.Errorf("decode profile: %w", err)
	}

	if resp.User != nil {
		return domain.Profile{Points: float64(resp.User.TotalPoints), WalletAddress: resp.User.WalletAddress}, nil
	}

	if !resp.ok() && len(resp.Data) == 0 {
		return domain.Profile{}, fmt.Errorf("decode profile: %w: %s", ErrUnexpectedShape, truncate(data))
	}

	var envelope profileData
	if len(resp.Data) > 0 {
		_ = json.Unmarshal(resp.Data, &envelope)
	}

	points := envelope.Points
	if points == 0 {
		points = envelope.TotalPoints
	}
	if points == 0 {
		points = envelope.XP
	}
	if envelope.User != nil && envelope.User.Points != 0 {
		points = envelope.User.Points
	}

	return domain.Profile{Points: float64(points)}, nil
}

type balanceEntry struct {
	Symbol           string `json:"symbol"`
	FormattedBalance number `json:"formatted_balance"`
}

// decodeBalance picks the first entry whose symbol matches, in the order of
// symbols. A response without a matching entry is a zero balance.
func decodeBalance(data []byte, symbols []string) (domain.Balance, error) {
	var resp statusResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return domain.Balance{}, fmt.Errorf("decode balance: %w", err)
	}
	if !resp.ok() && len(resp.Data) == 0 {
		return domain.Balance{}, fmt.Errorf("decode balance: %w: %s", ErrUnexpectedShape, truncate(data))
	}

	var entries []balanceEntry
	if trimmed := bytes.TrimSpace(resp.Data); len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &entries); err != nil {
			return domain.Balance{}, fmt.Errorf("decode balance entries: %w", err)
		}
	}

	for _, symbol := range symbols {
		for _, entry := range entries {
			if strings.EqualFold(entry.Symbol, symbol) {
				return domain.Balance{Symbol: entry.Symbol, Amount: float64(entry.FormattedBalance)}, nil
			}
		}
	}

	return domain.Balance{Symbol: symbols[0]}, nil
}

// number decodes JSON numbers and numeric strings. Anything else is zero.
type number float64

func (n *number) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if raw == "" || raw == "null" {
		*n = 0
		return nil
	}

	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		*n = 0
		return nil
	}
	*n = number(value)
	return nil
}

func truncate(data []byte) string {
	const limit = 200
	if len(data) > limit {
		return string(data[:limit]) + "..."
	}
	return string(data)
}
