package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"nft-reward-system/models"
	"nft-reward-system/workflow"
)

type TxKind string

const (
	TxTransfer TxKind = "transfer"
	TxBurn     TxKind = "burn"
	TxMint     TxKind = "mint"
)

type ConfirmationStatus string

const (
	TxPending   ConfirmationStatus = "pending"
	TxConfirmed ConfirmationStatus = "confirmed"
	TxFailed    ConfirmationStatus = "failed"
)

// TxIntent is one on-chain operation. IdempotencyKey is
// "<workflow-id>:<step>" so a retried step maps to the same transaction.
type TxIntent struct {
	IdempotencyKey string            `json:"idempotency_key"`
	Kind           TxKind            `json:"kind"`
	ToAddress      string            `json:"to_address,omitempty"`
	TokenIDs       []string          `json:"token_ids"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// LedgerClient is the blockchain collaborator. Every call may fail
// transiently; callers retry.
type LedgerClient interface {
	Submit(ctx context.Context, intent TxIntent) (string, error)
	GetConfirmationStatus(ctx context.Context, txHash string) (ConfirmationStatus, error)
	// FindByIdempotencyKey looks for a transaction already submitted under key.
	FindByIdempotencyKey(ctx context.Context, key string) (string, bool, error)
}

// ErrTxRejected is returned when the ledger refuses an intent outright.
var ErrTxRejected = errors.New("transaction rejected by ledger")

// LedgerHTTPError is a non-2xx response from the ledger gateway.
type LedgerHTTPError struct {
	StatusCode int
	Message    string
}

func (e *LedgerHTTPError) Error() string {
	return fmt.Sprintf("ledger HTTP %d: %s", e.StatusCode, e.Message)
}

// Rejected reports whether the ledger refused the request itself, as
// opposed to failing to process it.
func (e *LedgerHTTPError) Rejected() bool {
	switch e.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// classifyLedgerError turns a ledger failure into a workflow step error:
// explicit rejections are terminal, everything else is retried.
func classifyLedgerError(op string, err error) error {
	var httpErr *LedgerHTTPError
	switch {
	case errors.Is(err, ErrTxRejected):
		return workflow.Terminal(models.FailureLedgerRejected, fmt.Errorf("%s: %w", op, err))
	case errors.As(err, &httpErr) && httpErr.Rejected():
		return workflow.Terminal(models.FailureLedgerRejected, fmt.Errorf("%s: %w", op, err))
	default:
		return workflow.Transient(fmt.Errorf("%s: %w", op, err))
	}
}

func idempotencyKey(workflowID, step string) string {
	return workflowID + ":" + step
}

// submitOnce submits intent unless a transaction already exists under its
// idempotency key, which happens when a previous attempt reached the ledger
// but its checkpoint was never written.
func submitOnce(ctx context.Context, ledger LedgerClient, intent TxIntent) (string, error) {
	hash, found, err := ledger.FindByIdempotencyKey(ctx, intent.IdempotencyKey)
	if err != nil {
		return "", classifyLedgerError("look up transaction", err)
	}
	if found {
		return hash, nil
	}
	hash, err = ledger.Submit(ctx, intent)
	if err != nil {
		return "", classifyLedgerError("submit "+string(intent.Kind), err)
	}
	return hash, nil
}

// awaitConfirmation is the body shared by every confirmation poll-step.
func awaitConfirmation(ctx context.Context, ledger LedgerClient, txHash string) error {
	if txHash == "" {
		return workflow.Terminal(models.FailureInfrastructure, errors.New("no transaction reference checkpointed"))
	}
	status, err := ledger.GetConfirmationStatus(ctx, txHash)
	if err != nil {
		return workflow.Transient(fmt.Errorf("query confirmation of %s: %w", txHash, err))
	}
	switch status {
	case TxConfirmed:
		return nil
	case TxPending:
		return workflow.ErrPending
	case TxFailed:
		return workflow.Terminal(models.FailureLedgerRejected, fmt.Errorf("transaction %s failed on-chain", txHash))
	default:
		return workflow.Transient(fmt.Errorf("unknown confirmation status %q for %s", status, txHash))
	}
}
