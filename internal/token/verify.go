package token

import (
	"fmt"

	"github.com/pacprotocol/pacd/config"
	"github.com/pacprotocol/pacd/internal/utxo"
	"github.com/pacprotocol/pacd/pkg/script"
	"github.com/pacprotocol/pacd/pkg/tx"
	"github.com/pacprotocol/pacd/pkg/types"
)

// TxFetcher resolves a transaction by hash, returning it together with the
// hash of the block that confirmed it (zero for mempool transactions).
type TxFetcher interface {
	GetTransaction(hash types.Hash) (*tx.Transaction, types.Hash, error)
}

// PoolRemover evicts a transaction and its descendants from the mempool.
type PoolRemover interface {
	RemoveRecursive(txHash types.Hash, reason string)
}

// RemoveReasonConflict is passed to PoolRemover when a pooled transaction
// fails token validation during block processing.
const RemoveReasonConflict = "CONFLICT"

// Validator applies the token rules to single transactions. The same
// validator instance serves mempool admission, block connection, and the
// rescan path; only the coin view and the onlyCheck flag differ.
type Validator struct {
	reg     *Registry
	fetcher TxFetcher
	params  *config.Params
	remover PoolRemover // may be nil (rescan before mempool exists)
}

// NewValidator creates a validator over the given registry.
func NewValidator(reg *Registry, fetcher TxFetcher, params *config.Params) *Validator {
	return &Validator{reg: reg, fetcher: fetcher, params: params}
}

// SetPoolRemover wires the mempool eviction hook used when a committing
// check discovers a conflicting pooled transaction.
func (v *Validator) SetPoolRemover(r PoolRemover) {
	v.remover = r
}

// Registry returns the validator's registry.
func (v *Validator) Registry() *Registry {
	return v.reg
}

// Active reports whether token rules apply at the given chain height.
func (v *Validator) Active(height uint64) bool {
	return height >= v.params.TokenActivationHeight
}

// ContextualCheck decodes a token output script and applies the
// context-free rules: current version, valid type, valid name.
func ContextualCheck(spk types.Script) (*script.TokenPayload, error) {
	payload, err := script.DecodeTokenScript(spk)
	if err != nil {
		return nil, err
	}
	if payload.Version != byte(CurrentVersion) {
		return nil, script.ErrVersionUnsupported
	}
	if !Type(payload.Type).Valid() {
		return nil, script.ErrTypeInvalid
	}
	if err := script.CheckTokenName(payload.Name); err != nil {
		return nil, err
	}
	return payload, nil
}

// CheckToken answers whether transaction satisfies the token rules given
// the chain tip height and a coin view. With onlyCheck the call is a pure
// dry run: it never mutates the registry or the mempool. Without it, new
// issuances are committed to the registry and conflicting pooled
// transactions are evicted.
func (v *Validator) CheckToken(transaction *tx.Transaction, tipHeight uint64, view utxo.View, onlyCheck bool) error {
	txHash := transaction.Hash()

	// Every input must be buried at least TokenMinConfs deep. A coin in
	// the tip block has one confirmation.
	for i, in := range transaction.Inputs {
		if in.PrevOut.IsZero() {
			continue
		}
		coin, err := view.AccessCoin(in.PrevOut)
		if err != nil {
			return fmt.Errorf("input %d: %w", i, ErrPrevTxMissing)
		}
		confirmations := tipHeight - coin.Height + 1
		if coin.Height > tipHeight {
			confirmations = 0
		}
		if confirmations < config.TokenMinConfs {
			return fmt.Errorf("input %d: %w: %d < %d", i, ErrInsufficientConfirms, confirmations, config.TokenMinConfs)
		}
	}

	// At most one issuance output per transaction.
	issuances := 0
	for _, out := range transaction.Outputs {
		if !out.IsTokenOutput() {
			continue
		}
		payload, err := script.DecodeTokenScript(out.ScriptPubKey)
		if err == nil && Type(payload.Type) == TypeIssuance {
			issuances++
		}
	}
	if issuances > 1 {
		return ErrMultipleIssuances
	}

	for idx, out := range transaction.Outputs {
		if !out.IsTokenOutput() {
			continue
		}

		payload, err := ContextualCheck(out.ScriptPubKey)
		if err != nil {
			return fmt.Errorf("output %d: %w: %v", idx, ErrTokenInvalid, err)
		}
		claimed := FromPayload(payload, txHash)

		switch claimed.Type() {
		case TypeIssuance:
			if err := v.checkIssuance(claimed, onlyCheck); err != nil {
				if !onlyCheck && v.remover != nil {
					v.remover.RemoveRecursive(txHash, RemoveReasonConflict)
				}
				return fmt.Errorf("output %d: %w", idx, err)
			}
		case TypeTransfer:
			// Linkage is checked against inputs below.
		}

		// Every input must link correctly for this output's claim.
		for n, in := range transaction.Inputs {
			prev, _, err := v.fetcher.GetTransaction(in.PrevOut.TxID)
			if err != nil {
				return fmt.Errorf("input %d: %w", n, ErrPrevTxMissing)
			}
			if int(in.PrevOut.Index) >= len(prev.Outputs) {
				return fmt.Errorf("input %d: %w: prevout index %d", n, ErrPrevTxMissing, in.PrevOut.Index)
			}
			prevOut := prev.Outputs[in.PrevOut.Index]
			prevIsToken := script.IsPayToToken(prevOut.ScriptPubKey)

			switch claimed.Type() {
			case TypeIssuance:
				// An issuance is funded from ordinary coins only.
				if prevIsToken {
					return fmt.Errorf("input %d: %w", n, ErrIssuancePrevoutNotStandard)
				}
			case TypeTransfer:
				if !prevIsToken {
					return fmt.Errorf("input %d: %w", n, ErrTransferPrevoutInvalid)
				}
				prevPayload, err := ContextualCheck(prevOut.ScriptPubKey)
				if err != nil {
					return fmt.Errorf("input %d: %w: %v", n, ErrTransferPrevoutInvalid, err)
				}
				if prevPayload.Name != claimed.Name() || prevPayload.ID != claimed.ID() {
					return fmt.Errorf("input %d: %w: prev (%d, %q), claimed (%d, %q)",
						n, ErrPrevTokenMismatch, prevPayload.ID, prevPayload.Name, claimed.ID(), claimed.Name())
				}
			}
		}
	}

	return nil
}

// checkIssuance applies the registry rules to a candidate issuance and,
// when committing, inserts it. Re-processing the issuance that a registry
// entry came from is not an error: block replay must be idempotent.
func (v *Validator) checkIssuance(candidate *Token, onlyCheck bool) error {
	alreadySeen := false
	for _, existing := range v.reg.Snapshot() {
		if existing.OriginTx() != candidate.OriginTx() {
			if existing.Name() == candidate.Name() {
				return fmt.Errorf("%w: %q", ErrNameExists, candidate.Name())
			}
			if existing.ID() == candidate.ID() {
				return fmt.Errorf("%w: %d", ErrIdExists, candidate.ID())
			}
		} else {
			alreadySeen = true
		}
	}

	// Rate-limit the identifier space as the registry grows.
	maxID := (v.reg.Size() + config.IssuanceIDBegin) * config.TokenIDRange
	if candidate.ID() < config.IssuanceIDBegin || candidate.ID() > maxID {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrIdOutOfRange, candidate.ID(), config.IssuanceIDBegin, maxID)
	}

	if !onlyCheck && !alreadySeen {
		// Insert re-checks uniqueness under the registry lock; a failure
		// here is a race with another writer or a storage fault.
		if err := v.reg.Insert(candidate); err != nil {
			return err
		}
	}
	return nil
}
