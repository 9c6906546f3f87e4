package pool

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/zkpool/zkpool/log"
	"github.com/zkpool/zkpool/types"
)

func (p *Pool) requireGovernance(caller common.Address) error {
	if caller != p.governance {
		return fmt.Errorf("%w: %s is not governance", ErrUnauthorized, caller.Hex())
	}
	return nil
}

// mutateGoverned runs a guarded setter and persists the resulting meta.
func (p *Pool) mutateGoverned(caller common.Address, mutate func()) error {
	if err := p.requireGovernance(caller); err != nil {
		return err
	}
	if p.diverged {
		return ErrStateDiverged
	}
	mutate()
	wtx := p.stg.WriteTx()
	defer wtx.Discard()
	return p.commit(wtx)
}

// ToggleDeposits enables or disables deposits. Governance only.
func (p *Pool) ToggleDeposits(caller common.Address, enabled bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mutateGoverned(caller, func() {
		p.depositsEnabled = enabled
		log.Infow("deposits toggled", "enabled", enabled)
	})
}

// ToggleWithdrawals enables or disables withdrawals. Governance only.
func (p *Pool) ToggleWithdrawals(caller common.Address, enabled bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mutateGoverned(caller, func() {
		p.withdrawalsEnabled = enabled
		log.Infow("withdrawals toggled", "enabled", enabled)
	})
}

// SetEmergencyMode sets the emergency flag, which overrides both operation
// flags to disabled. Governance only.
func (p *Pool) SetEmergencyMode(caller common.Address, on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mutateGoverned(caller, func() {
		p.emergencyMode = on
		log.Warnw("emergency mode changed", "on", on)
	})
}

// SetFeeRate updates the protocol fee rate (numerator over types.FeeBase).
// Governance only.
func (p *Pool) SetFeeRate(caller common.Address, rate uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if rate > types.FeeBase {
		return fmt.Errorf("fee rate %d above base %d", rate, types.FeeBase)
	}
	return p.mutateGoverned(caller, func() {
		p.feeRate = rate
		log.Infow("fee rate updated", "rate", rate)
	})
}

// SetFeeAddress updates the protocol fee sink. Governance only.
func (p *Pool) SetFeeAddress(caller, feeAddress common.Address) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mutateGoverned(caller, func() {
		p.feeAddress = feeAddress
		log.Infow("fee address updated", "feeAddress", feeAddress.Hex())
	})
}

// UpdateOperator grants or revokes the relayer operator role. Governance
// only.
func (p *Pool) UpdateOperator(caller, operator common.Address, enabled bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mutateGoverned(caller, func() {
		if enabled {
			p.operators[operator] = true
		} else {
			delete(p.operators, operator)
		}
		log.Infow("operator updated", "operator", operator.Hex(), "enabled", enabled)
	})
}

// TransferGovernance hands the governance role to a new address.
func (p *Pool) TransferGovernance(caller, newGovernance common.Address) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mutateGoverned(caller, func() {
		p.governance = newGovernance
		log.Warnw("governance transferred", "to", newGovernance.Hex())
	})
}

// EmergencyWithdraw sweeps the residual pool balance to governance. Only
// permitted while emergency mode is set; a last-resort escape hatch, not a
// normal-path operation.
func (p *Pool) EmergencyWithdraw(caller common.Address) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.requireGovernance(caller); err != nil {
		return nil, err
	}
	if p.diverged {
		return nil, ErrStateDiverged
	}
	if !p.emergencyMode {
		return nil, ErrNotInEmergency
	}
	swept := new(big.Int).Set(p.balance)
	if swept.Sign() > 0 {
		if err := p.settler.Settle([]SettlementLeg{{To: p.governance, Amount: swept}}); err != nil {
			return nil, err
		}
		p.balance.SetInt64(0)
	}
	wtx := p.stg.WriteTx()
	defer wtx.Discard()
	if err := p.commit(wtx); err != nil {
		return nil, err
	}
	log.Warnw("emergency withdrawal executed", "amount", swept.String(),
		"governance", p.governance.Hex())
	return swept, nil
}
