package checkout

import (
	"context"
	"errors"

	"github.com/imagebot/backend/internal/domain/asset"
	"github.com/imagebot/backend/internal/domain/payment"
	"go.uber.org/zap"
)

// RecoveryReport summarises a startup recovery run
type RecoveryReport struct {
	Scanned    int
	Rewatched  int
	Delivered  int
	Expired    int
	Superseded int
	// Undelivered counts paid invoices whose asset record is gone
	Undelivered int
}

// Recover resumes checkouts that were open when the process stopped. Every
// unresolved invoice either gets its watcher back with the original
// deadline or is settled now.
func (s *Service) Recover(ctx context.Context) (RecoveryReport, error) {
	var report RecoveryReport
	if s.invoices == nil {
		return report, nil
	}

	invoices, err := s.invoices.FindUnresolved(ctx, s.config.RecoveryBatch)
	if err != nil {
		return report, err
	}
	for _, inv := range invoices {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Scanned++
		s.recoverInvoice(ctx, inv, &report)
	}

	s.logger.Info("Checkout recovery finished",
		zap.Int("scanned", report.Scanned),
		zap.Int("rewatched", report.Rewatched),
		zap.Int("delivered", report.Delivered),
		zap.Int("expired", report.Expired),
		zap.Int("superseded", report.Superseded),
		zap.Int("undelivered", report.Undelivered),
	)
	return report, nil
}

func (s *Service) recoverInvoice(ctx context.Context, inv *payment.Invoice, report *RecoveryReport) {
	log := s.logger.With(zap.String("invoice_id", inv.ID), zap.String("asset_key", inv.AssetKey))

	rec, err := s.store.Get(ctx, inv.AssetKey)
	if errors.Is(err, asset.ErrNotFound) {
		// nothing left to deliver; record the final status for the audit trail
		if paid, cerr := s.invoicer.CheckStatus(ctx, inv.ID); cerr == nil && paid {
			log.Warn("Paid invoice has no asset record")
			s.resolveInvoice(ctx, inv.ID, payment.ResolutionPaidUndelivered)
			report.Undelivered++
			return
		}
		s.resolveInvoice(ctx, inv.ID, payment.ResolutionExpired)
		report.Expired++
		return
	}
	if err != nil {
		log.Error("Failed to load asset for recovery", zap.Error(err))
		return
	}
	if rec.InvoiceID != inv.ID {
		s.resolveInvoice(ctx, inv.ID, payment.ResolutionSuperseded)
		report.Superseded++
		return
	}

	switch rec.State {
	case asset.StateInvoiced:
		if s.clock.Now().Before(rec.Deadline(s.config.InvoiceTTL)) {
			s.watch(rec)
			report.Rewatched++
			return
		}
		paid, err := s.invoicer.CheckStatus(ctx, inv.ID)
		if err != nil {
			log.Warn("Final status read failed, expiring", zap.Error(err))
		}
		if paid {
			if confirmed, err := s.confirm(ctx, rec.Key, inv.ID, SourceRecovery); err != nil {
				log.Error("Recovery confirmation failed", zap.Error(err))
			} else if confirmed {
				report.Delivered++
			}
			return
		}
		s.expire(ctx, rec.Key, inv.ID)
		report.Expired++
	case asset.StateConfirmed:
		if delivered, err := s.delivery.DeliverOnce(ctx, rec.Key); err != nil {
			log.Error("Recovery delivery failed", zap.Error(err))
		} else if delivered {
			report.Delivered++
		}
	case asset.StateExpired:
		if _, err := s.delivery.NotifyExpired(ctx, rec.Key); err != nil {
			log.Error("Recovery expiry notice failed", zap.Error(err))
		}
		s.resolveInvoice(ctx, inv.ID, payment.ResolutionExpired)
		report.Expired++
	case asset.StateDelivered:
		s.resolveInvoice(ctx, inv.ID, payment.ResolutionDelivered)
	}
}
