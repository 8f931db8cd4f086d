package runner

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"xroute/pkg/allowance"
	"xroute/pkg/ledger"
	"xroute/pkg/types"
	"xroute/pkg/wallet"
)

// swap runs a same-chain swap step: approve the venue, send, confirm
func (rc *routeRun) swap(ctx context.Context, step *types.Step, l *ledger.Ledger, signer wallet.Signer) error {
	r := rc.r
	log := rc.log.WithField("step", step.ID)

	if p := l.Find(types.ProcessSwap); p != nil {
		switch {
		case p.Status == types.ProcessDone:
			l.Complete(step.Estimate.ToAmount)
			return nil
		case p.Status.IsActive() && p.TxHash != "":
			return rc.confirmSwap(ctx, step, l, signer, p, common.HexToHash(p.TxHash))
		}
	}

	from := signer.Address()
	to := from
	if common.IsHexAddress(step.Action.ToAddress) {
		to = common.HexToAddress(step.Action.ToAddress)
	}
	call, err := r.venues.Lookup(step.Tool).SwapCall(ctx, step, from, to)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p := l.FindOrCreate(types.ProcessSwap, types.ProcessPending, types.NewMessage(types.MsgPrepareTransaction))
		return l.Fail(p, types.NewError(types.KindSubmission, err, "failed to build swap"))
	}

	amount, err := types.ParseAmount(step.Action.FromAmount)
	if err != nil {
		return l.Fail(nil, types.NewError(types.KindSubmission, err, "invalid swap amount"))
	}
	err = r.allowances.Ensure(ctx, allowance.Request{
		Signer:        signer,
		ChainID:       step.Action.FromChainID,
		Token:         step.Action.FromToken,
		Amount:        amount,
		Spender:       call.ApproveTo,
		AllowInfinite: r.infinite,
	}, l)
	if err != nil {
		return err
	}

	p := l.FindOrCreate(types.ProcessSwap, types.ProcessActionRequired, types.NewMessage(types.MsgSignTransaction))
	tx, err := signer.SendTransaction(ctx, wallet.TxRequest{To: call.To, Data: call.Data, Value: call.Value})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return l.Fail(p, types.NewError(types.KindSubmission, err, "swap was not sent"))
	}

	hash := tx.Hash()
	l.Mutate(p, func(p *types.Process) {
		p.Status = types.ProcessPending
		p.TxHash = hash.Hex()
		p.TxLink = rc.link(step.Action.FromChainID, hash.Hex())
		p.Message = types.NewMessage(types.MsgWaitTransaction)
	})
	log.WithField("tx", hash.Hex()).Info("swap sent")

	return rc.confirmSwap(ctx, step, l, signer, p, hash)
}

func (rc *routeRun) confirmSwap(ctx context.Context, step *types.Step, l *ledger.Ledger, signer wallet.Signer, p *types.Process, hash common.Hash) error {
	if _, err := signer.WaitForTransaction(ctx, hash); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return l.Fail(p, types.NewError(types.KindConfirmation, err, "swap %s failed", hash.Hex()))
	}
	l.MarkDone(p, types.NewMessage(types.MsgSwapDone, "tx", hash.Hex()))
	l.Complete(step.Estimate.ToAmount)
	rc.log.WithFields(logrus.Fields{"step": step.ID, "tx": hash.Hex()}).Info("swap confirmed")
	return nil
}

func (rc *routeRun) link(chainID int64, hash string) string {
	if rc.r.links == nil {
		return ""
	}
	return rc.r.links.TxLink(chainID, hash)
}
