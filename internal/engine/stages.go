package engine

import (
	"context"
	"errors"

	"github.com/roach88/rostersync/internal/actuator"
	"github.com/roach88/rostersync/internal/gateway"
	"github.com/roach88/rostersync/internal/ledger"
	"github.com/roach88/rostersync/internal/record"
)

// submitted moves new requests to pending after the "received"
// notification, or to double when the identity already has a member record.
func (e *Engine) submitted(ctx context.Context, b *batch, recs []record.Record, active map[string]bool) error {
	for _, r := range recs {
		if ctx.Err() != nil {
			return nil
		}
		if err := b.tripped(); err != nil {
			return err
		}
		e.beat()

		if active[r.Key()] {
			e.markDouble(ctx, b, r)
			continue
		}

		ok, _ := e.notifyOnce(ctx, b, r, ledger.ActionNotifiedSubmitted, gateway.KindReceived)
		if ok {
			b.queue(r, record.TriggerReceived)
		}
	}
	return nil
}

// approved runs the add pipeline. Throttling and an unrecoverable group
// reference abort the rest of the batch.
func (e *Engine) approved(ctx context.Context, b *batch, recs []record.Record, active map[string]bool) error {
	for _, r := range recs {
		if ctx.Err() != nil {
			return nil
		}
		if err := b.tripped(); err != nil {
			return err
		}
		e.beat()
		log := b.recordLog(r)
		key := r.Key()
		rctx := ctx

		if active[key] {
			e.markDouble(ctx, b, r)
			continue
		}

		added, err := e.ledger.Has(ctx, ledger.ActionAdded, key)
		if err != nil {
			b.fail(r, "ledger", err)
			continue
		}

		if !added {
			invited, err := e.ledger.Has(ctx, ledger.ActionNotifiedInvite, key)
			if err != nil {
				b.fail(r, "ledger", err)
				continue
			}
			if invited {
				log.Info("invite already sent; re-routing to status write")
				b.queue(r, record.TriggerInvited)
				continue
			}

			user, err := e.members.Resolve(ctx, r.Handle, int64(r.Identity))
			switch {
			case errors.Is(err, actuator.ErrNotFound):
				log.Info("user not resolvable; using invite fallback", "handle", r.Handle)
				e.inviteFallback(ctx, b, r)
				continue
			case errors.Is(err, actuator.ErrNotUser):
				log.Warn("identity does not resolve to a user; skipping")
				continue
			case errors.Is(err, actuator.ErrFlood):
				return newThrottledError(string(b.stage), r.ID, err)
			case err != nil:
				b.fail(r, "resolve", err)
				continue
			}

			res, err := e.members.Add(ctx, user)
			// The mutation happened; finish this record even on shutdown.
			rctx = context.WithoutCancel(ctx)
			if err != nil {
				b.fail(r, "add", err)
				continue
			}
			e.metrics.Actions.WithLabelValues("add", res.Outcome.String()).Inc()

			switch res.Outcome {
			case actuator.Throttled:
				log.Warn("flood control; stopping batch", "reason", res.Reason)
				return newThrottledError(string(b.stage), r.ID, res.Reason)
			case actuator.GroupInvalid:
				return newGroupInvalidError(string(b.stage), r.ID, res.Reason)
			case actuator.Declined:
				log.Info("add declined; using invite fallback", "reason", res.Reason)
				e.inviteFallback(rctx, b, r)
				continue
			}

			log.Info("user added to group", "user_id", user.ID)
			if err := e.ledger.Mark(rctx, ledger.ActionAdded, key); err != nil {
				b.fail(r, "ledger", err)
			}
		} else {
			log.Info("already added; skipping actuator")
		}

		// The user is a member from here on, so later duplicates in this
		// batch are redirected even if the notification below fails.
		active[key] = true

		ok, _ := e.notifyOnce(rctx, b, r, ledger.ActionNotifiedAccepted, gateway.KindAccepted)
		if !ok {
			log.Warn("accepted notification not delivered; record stays approved")
			continue
		}
		b.queue(r, record.TriggerAdded)
	}
	return nil
}

// inviteFallback notifies a human to invite r manually. A server error from
// the endpoint blocks the record; any other failure leaves it for the next
// cycle.
func (e *Engine) inviteFallback(ctx context.Context, b *batch, r record.Record) {
	ok, err := e.notifyOnce(ctx, b, r, ledger.ActionNotifiedInvite, gateway.KindInviteFallback)
	switch {
	case ok:
		b.queue(r, record.TriggerInvited)
	case gateway.IsServerError(err):
		b.recordLog(r).Warn("invite fallback rejected by server; blocking", "error", err)
		b.queue(r, record.TriggerInviteRejected)
	}
}

// refused runs the remove pipeline.
func (e *Engine) refused(ctx context.Context, b *batch, recs []record.Record) error {
	for _, r := range recs {
		if ctx.Err() != nil {
			return nil
		}
		if err := b.tripped(); err != nil {
			return err
		}
		e.beat()
		log := b.recordLog(r)
		key := r.Key()

		removed, err := e.ledger.Has(ctx, ledger.ActionRemoved, key)
		if err != nil {
			b.fail(r, "ledger", err)
			continue
		}

		if !removed {
			user, err := e.members.Resolve(ctx, r.Handle, int64(r.Identity))
			switch {
			case errors.Is(err, actuator.ErrNotFound), errors.Is(err, actuator.ErrNotUser):
				log.Warn("user not resolvable; cannot remove", "error", err)
				continue
			case errors.Is(err, actuator.ErrFlood):
				return newThrottledError(string(b.stage), r.ID, err)
			case err != nil:
				b.fail(r, "resolve", err)
				continue
			}

			err = e.members.Remove(ctx, user, e.cfg.BanPolicy)
			rctx := context.WithoutCancel(ctx)
			switch {
			case errors.Is(err, actuator.ErrFlood):
				e.metrics.Actions.WithLabelValues("remove", "throttled").Inc()
				return newThrottledError(string(b.stage), r.ID, err)
			case errors.Is(err, actuator.ErrGroupInvalid):
				e.metrics.Actions.WithLabelValues("remove", "group_invalid").Inc()
				return newGroupInvalidError(string(b.stage), r.ID, err)
			case err != nil:
				b.fail(r, "remove", err)
				continue
			}
			e.metrics.Actions.WithLabelValues("remove", "removed").Inc()

			log.Info("user removed from group", "user_id", user.ID)
			if err := e.ledger.Mark(rctx, ledger.ActionRemoved, key); err != nil {
				b.fail(r, "ledger", err)
			}
		} else {
			log.Info("already removed; skipping actuator")
		}

		b.queue(r, record.TriggerRemoved)
	}
	return nil
}

// markDouble redirects a duplicate to double and rewrites its identity.
func (e *Engine) markDouble(ctx context.Context, b *batch, r record.Record) {
	to, err := record.Next(r.Status, record.TriggerDuplicate)
	if err != nil {
		b.fail(r, "transition", err)
		return
	}
	marker := record.DoubleMarker(e.cfg.DoublePrefix, r)
	if err := e.src.WriteDoubleMarker(context.WithoutCancel(ctx), r.ID, marker); err != nil {
		e.metrics.SourceErrors.WithLabelValues("write_double_marker").Inc()
		b.fail(r, "double_marker", err)
		return
	}
	b.recordLog(r).Info("duplicate of an active member; marked double", "marker", marker)
	b.applied(r, to)
}

// notifyOnce delivers kind for r unless the ledger shows it already went
// out. ok is true once delivery is confirmed, now or earlier. err is the
// delivery failure, if any; ledger failures are counted on the batch.
func (e *Engine) notifyOnce(ctx context.Context, b *batch, r record.Record, mark ledger.ActionKind, kind gateway.Kind) (ok bool, err error) {
	key := r.Key()
	done, err := e.ledger.Has(ctx, mark, key)
	if err != nil {
		b.fail(r, "ledger", err)
		return false, nil
	}
	if done {
		return true, nil
	}

	p := gateway.Payload{
		ExternalIdentity: int64(r.Identity),
		Handle:           r.Handle,
		DisplayName:      r.DisplayName,
		GroupID:          e.cfg.GroupID,
	}
	op := "notify_" + string(kind)
	if err := e.notify.Notify(ctx, kind, p); err != nil {
		e.metrics.Actions.WithLabelValues(op, "failed").Inc()
		b.recordLog(r).Warn("notification failed", "kind", string(kind), "error", err)
		return false, err
	}
	e.metrics.Actions.WithLabelValues(op, "delivered").Inc()

	if err := e.ledger.Mark(ctx, mark, key); err != nil {
		b.fail(r, "ledger", err)
	}
	return true, nil
}
