package world

import (
	"context"
	"errors"

	"multiblock.ai/internal/sim/multiblock"
)

type structuresReq struct {
	Resp chan structuresResp
}

type structuresResp struct {
	Tick  uint64
	Views []multiblock.ControllerView
}

// RequestStructures returns copies of every live controller from the world
// loop goroutine.
func (w *World) RequestStructures(ctx context.Context) (uint64, []multiblock.ControllerView, error) {
	if w == nil || w.structuresReq == nil {
		return 0, nil, errors.New("structure query not available")
	}
	req := structuresReq{Resp: make(chan structuresResp, 1)}
	select {
	case w.structuresReq <- req:
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
	select {
	case resp := <-req.Resp:
		return resp.Tick, resp.Views, nil
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (w *World) handleStructuresReq(req structuresReq) {
	resp := structuresResp{Tick: w.tick.Load(), Views: w.reg.Snapshot()}
	select {
	case req.Resp <- resp:
	default:
	}
}

type describeReq struct {
	Pos  Vec3i
	Resp chan describeResp
}

type describeResp struct {
	Text  string
	Found bool
}

// RequestDescribe returns the diagnostic text of the structure owning pos.
func (w *World) RequestDescribe(ctx context.Context, pos Vec3i) (string, bool, error) {
	if w == nil || w.describeReq == nil {
		return "", false, errors.New("describe query not available")
	}
	req := describeReq{Pos: pos, Resp: make(chan describeResp, 1)}
	select {
	case w.describeReq <- req:
	case <-ctx.Done():
		return "", false, ctx.Err()
	}
	select {
	case resp := <-req.Resp:
		return resp.Text, resp.Found, nil
	case <-ctx.Done():
		return "", false, ctx.Err()
	}
}

func (w *World) handleDescribeReq(req describeReq) {
	var resp describeResp
	resp.Text, resp.Found = w.reg.DescribeAt(req.Pos)
	select {
	case req.Resp <- resp:
	default:
	}
}

type snapshotReq struct {
	Resp chan snapshotResp
}

type snapshotResp struct {
	Tick uint64
	Err  string
}

// RequestSnapshot asks the loop to export a snapshot to the sink after the
// next tick.
func (w *World) RequestSnapshot(ctx context.Context) (uint64, error) {
	if w == nil || w.snapshotReq == nil {
		return 0, errors.New("snapshot request not available")
	}
	req := snapshotReq{Resp: make(chan snapshotResp, 1)}
	select {
	case w.snapshotReq <- req:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case resp := <-req.Resp:
		if resp.Err != "" {
			return resp.Tick, errors.New(resp.Err)
		}
		return resp.Tick, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (w *World) handleSnapshotRequests(reqs []snapshotReq) {
	if len(reqs) == 0 {
		return
	}
	// The tick counter already points past the tick just stepped.
	tick := w.tick.Load() - 1
	err := w.sendSnapshot(tick)
	for _, req := range reqs {
		resp := snapshotResp{Tick: tick}
		if err != nil {
			resp.Err = err.Error()
		}
		select {
		case req.Resp <- resp:
		default:
		}
	}
}
