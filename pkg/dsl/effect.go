package dsl

import (
	"fmt"

	"github.com/aretw0/tickvm/pkg/domain"
	"github.com/aretw0/tickvm/pkg/wire"
)

// Effect is a host call under construction. Nothing is emitted until
// Commit; an effect created outside Scope and never committed fails Build.
type Effect struct {
	f     *Func
	req   domain.Request
	pose  [10]Value // position, scale, rotation
	done  bool
	where string
}

// Draw starts a draw call for asset with the identity transform.
func (f *Func) Draw(asset string) *Effect {
	e := f.effect(domain.DrawRequest{Asset: asset})
	t := domain.IdentityTransform
	for i, v := range flatten(t) {
		e.pose[i] = constant(v)
	}
	return e
}

// Play starts a sound call.
func (f *Func) Play(asset string) *Effect { return f.effect(domain.PlayRequest{Asset: asset}) }

// Exit starts a shutdown call.
func (f *Func) Exit() *Effect { return f.effect(domain.ExitRequest{}) }

func (f *Func) effect(req domain.Request) *Effect {
	e := &Effect{f: f, req: req, where: fmt.Sprintf("%s #%d", req.Kind(), len(f.pending)+1)}
	f.pending = append(f.pending, e)
	return e
}

// At sets the position.
func (e *Effect) At(x, y, z Value) *Effect { return e.set(0, x, y, z) }

// Scale sets the per-axis scale.
func (e *Effect) Scale(x, y, z Value) *Effect { return e.set(3, x, y, z) }

// Rotate sets the rotation quaternion.
func (e *Effect) Rotate(x, y, z, w Value) *Effect { return e.set(6, x, y, z, w) }

func (e *Effect) set(at int, vs ...Value) *Effect {
	if _, ok := e.req.(domain.DrawRequest); !ok {
		e.f.b.fail(fmt.Errorf("%s: only draw calls have a transform", e.where))
		return e
	}
	copy(e.pose[at:], vs)
	return e
}

// Commit emits the call at the current point of the program. Committing
// twice is a no-op.
func (e *Effect) Commit() {
	if e.done {
		return
	}
	e.done = true
	f := e.f

	draw, ok := e.req.(domain.DrawRequest)
	if !ok {
		f.request(encodeStatic(e.req, f.b))
		return
	}

	var static [10]float32
	var dynamic []int
	for i, v := range e.pose {
		if c, ok := v.(constant); ok {
			static[i] = float32(c)
		} else {
			dynamic = append(dynamic, i)
		}
	}
	draw.Transform = unflatten(static)
	tmpl := encodeStatic(draw, f.b)
	if len(dynamic) == 0 || tmpl.n == 0 {
		f.request(tmpl)
		return
	}

	// copy the template, then patch the dynamic floats in place
	poseAt := tmpl.n - 40
	f.op("push %d", scratchBuf)
	f.op("push %d", tmpl.ptr)
	f.op("push %d", tmpl.n)
	f.op("copy")
	for _, i := range dynamic {
		f.op("push %d", scratchBuf)
		e.pose[i].emit(f)
		f.op("storef32 %d", poseAt+4*i)
	}
	f.request(staticRequest{ptr: scratchBuf, n: tmpl.n})
}

type staticRequest struct {
	ptr, n int
}

func encodeStatic(req domain.Request, b *Builder) staticRequest {
	if d, ok := req.(domain.DrawRequest); ok && len(d.Asset) > MaxAsset {
		b.fail(fmt.Errorf("asset name of %d bytes exceeds %d", len(d.Asset), MaxAsset))
		return staticRequest{}
	}
	if p, ok := req.(domain.PlayRequest); ok && len(p.Asset) > MaxAsset {
		b.fail(fmt.Errorf("asset name of %d bytes exceeds %d", len(p.Asset), MaxAsset))
		return staticRequest{}
	}
	bs, err := wire.EncodeRequest(nil, req)
	if err != nil {
		b.fail(err)
		return staticRequest{}
	}
	if len(bs) > scratchMax {
		b.fail(fmt.Errorf("%s request of %d bytes exceeds %d", req.Kind(), len(bs), scratchMax))
		return staticRequest{}
	}
	return staticRequest{ptr: b.static(bs), n: len(bs)}
}

func flatten(t domain.Transform) [10]float32 {
	var out [10]float32
	copy(out[0:3], t.Position[:])
	copy(out[3:6], t.Scale[:])
	copy(out[6:10], t.Rotation[:])
	return out
}

func unflatten(v [10]float32) domain.Transform {
	var t domain.Transform
	copy(t.Position[:], v[0:3])
	copy(t.Scale[:], v[3:6])
	copy(t.Rotation[:], v[6:10])
	return t
}
