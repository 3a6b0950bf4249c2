package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
)

// ErrSandboxUnavailable is the transient failure the sandbox injects.
var ErrSandboxUnavailable = errors.New("sandbox ledger unavailable")

type sandboxTx struct {
	intent TxIntent
	polls  int
}

// SandboxLedger is an in-memory ledger for LEDGER_MODE=sandbox and tests.
// Transactions confirm after ConfirmAfter status queries. Failures can be
// scripted per transaction kind.
//
// Thread-safety: all methods are safe for concurrent use.
type SandboxLedger struct {
	ConfirmAfter int

	mu            sync.Mutex
	txs           map[string]*sandboxTx
	byKey         map[string]string
	failSubmits   map[TxKind]int
	lostResponses map[TxKind]int
	rejectSubmits map[TxKind]bool
	failOnChain   map[TxKind]bool
	failQueries   int
	submissions   map[TxKind]map[string]int
}

func NewSandboxLedger(confirmAfter int) *SandboxLedger {
	return &SandboxLedger{
		ConfirmAfter:  confirmAfter,
		txs:           make(map[string]*sandboxTx),
		byKey:         make(map[string]string),
		failSubmits:   make(map[TxKind]int),
		lostResponses: make(map[TxKind]int),
		rejectSubmits: make(map[TxKind]bool),
		failOnChain:   make(map[TxKind]bool),
		submissions:   make(map[TxKind]map[string]int),
	}
}

// FailNextSubmits makes the next n submissions of kind fail transiently
// without reaching the chain.
func (l *SandboxLedger) FailNextSubmits(kind TxKind, n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failSubmits[kind] = n
}

// LoseNextResponses records the next n submissions of kind but reports a
// transient error to the caller, as if the connection dropped after send.
func (l *SandboxLedger) LoseNextResponses(kind TxKind, n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lostResponses[kind] = n
}

// RejectSubmits makes every submission of kind fail with ErrTxRejected.
func (l *SandboxLedger) RejectSubmits(kind TxKind) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rejectSubmits[kind] = true
}

// FailOnChain makes transactions of kind end up failed instead of confirmed.
func (l *SandboxLedger) FailOnChain(kind TxKind) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failOnChain[kind] = true
}

// FailNextQueries makes the next n confirmation queries fail transiently.
func (l *SandboxLedger) FailNextQueries(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failQueries = n
}

// Submissions returns how many times tokenID was broadcast in a kind
// transaction, counting duplicates under the same key.
func (l *SandboxLedger) Submissions(kind TxKind, tokenID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.submissions[kind][tokenID]
}

// TotalSubmissions counts broadcasts of kind.
func (l *SandboxLedger) TotalSubmissions(kind TxKind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := 0
	for _, n := range l.submissions[kind] {
		total += n
	}
	return total
}

func (l *SandboxLedger) Submit(_ context.Context, intent TxIntent) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.rejectSubmits[intent.Kind] {
		return "", fmt.Errorf("%w: %s not permitted", ErrTxRejected, intent.Kind)
	}
	if l.failSubmits[intent.Kind] > 0 {
		l.failSubmits[intent.Kind]--
		return "", ErrSandboxUnavailable
	}

	if l.submissions[intent.Kind] == nil {
		l.submissions[intent.Kind] = make(map[string]int)
	}
	for _, tok := range intent.TokenIDs {
		l.submissions[intent.Kind][tok]++
	}

	hash, ok := l.byKey[intent.IdempotencyKey]
	if !ok {
		sum := sha256.Sum256([]byte(intent.IdempotencyKey))
		hash = "0x" + hex.EncodeToString(sum[:])
		l.byKey[intent.IdempotencyKey] = hash
		l.txs[hash] = &sandboxTx{intent: intent}
	}

	if l.lostResponses[intent.Kind] > 0 {
		l.lostResponses[intent.Kind]--
		return "", fmt.Errorf("%w: connection reset after send", ErrSandboxUnavailable)
	}
	return hash, nil
}

func (l *SandboxLedger) GetConfirmationStatus(_ context.Context, txHash string) (ConfirmationStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.failQueries > 0 {
		l.failQueries--
		return "", ErrSandboxUnavailable
	}
	tx, ok := l.txs[txHash]
	if !ok {
		return "", fmt.Errorf("unknown transaction %s", txHash)
	}
	tx.polls++
	if tx.polls < l.ConfirmAfter {
		return TxPending, nil
	}
	if l.failOnChain[tx.intent.Kind] {
		return TxFailed, nil
	}
	return TxConfirmed, nil
}

func (l *SandboxLedger) FindByIdempotencyKey(_ context.Context, key string) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	hash, ok := l.byKey[key]
	return hash, ok, nil
}
