package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ckbot/internal/registry"
)

func (d *Dispatcher) resolveSlot(ctx context.Context, req *Request) (registry.SlotKey, bool) {
	day, hour, ok := slotArgs(req.Args)
	if !ok {
		req.Outcome = "usage"
		_ = d.reply(ctx, req, fmt.Sprintf("Usage: /%s <day> <hour>, e.g. /%s sat 15\nSlots: %s", req.Command, req.Command, slotList(d.reg.Slots())))
		return registry.SlotKey{}, false
	}
	key, ok := d.reg.ParseSlot(day, hour)
	if !ok {
		req.Outcome = registry.InvalidSlot.String()
		_ = d.reply(ctx, req, invalidSlotReply(d.reg.Slots()))
		return registry.SlotKey{}, false
	}
	return key, true
}

func (d *Dispatcher) handleJoin(ctx context.Context, req *Request) error {
	key, ok := d.resolveSlot(ctx, req)
	if !ok {
		return nil
	}
	out, count := d.reg.JoinCount(ctx, key, req.From)
	req.Outcome = out.String()
	return d.reply(ctx, req, joinReply(out, req.From, key, count, d.reg.Capacity(), d.reg.Slots()))
}

func (d *Dispatcher) handleCancel(ctx context.Context, req *Request) error {
	key, ok := d.resolveSlot(ctx, req)
	if !ok {
		return nil
	}
	out := d.reg.Cancel(ctx, key, req.From.ID)
	req.Outcome = out.String()
	return d.reply(ctx, req, cancelReply(out, req.From, key, d.reg.Slots()))
}

func (d *Dispatcher) handleStatus(ctx context.Context, req *Request) error {
	var next time.Time
	if d.resets != nil {
		next = d.resets.NextReset()
	}
	req.Outcome = registry.OK.String()
	return d.reply(ctx, req, renderStatus(d.reg.Status(), d.cfg.ResetLabel, next))
}

func (d *Dispatcher) handleRemaining(ctx context.Context, req *Request) error {
	key, ok := d.resolveSlot(ctx, req)
	if !ok {
		return nil
	}
	left, out := d.reg.Remaining(key)
	req.Outcome = out.String()
	if out != registry.OK {
		return d.reply(ctx, req, invalidSlotReply(d.reg.Slots()))
	}
	if left == 0 {
		return d.reply(ctx, req, fmt.Sprintf("%s is full.", key.Label()))
	}
	return d.reply(ctx, req, fmt.Sprintf("%s: %d of %d places left.", key.Label(), left, d.reg.Capacity()))
}

func (d *Dispatcher) handlePropose(ctx context.Context, req *Request) error {
	if len(req.Args) < 2 {
		req.Outcome = registry.InvalidRequest.String()
		return d.reply(ctx, req, "Usage: /propose <date> <time> [note], e.g. /propose 10/24 18:00 raid night")
	}
	ahr := registry.AdHocRequest{
		User: req.From,
		Date: req.Args[0],
		Time: req.Args[1],
		Note: strings.Join(req.Args[2:], " "),
	}
	out := d.reg.ProposeAdHoc(ctx, ahr)
	req.Outcome = out.String()
	return d.reply(ctx, req, proposeReply(out, ahr))
}

func (d *Dispatcher) handleHelp(ctx context.Context, req *Request) error {
	req.Outcome = registry.OK.String()
	return d.reply(ctx, req, helpText(d.reg.Slots(), d.reg.Capacity(), d.cfg.ResetLabel))
}
