package sandbox

import (
	"bufio"
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/aretw0/tickvm/internal/vm"
	"github.com/aretw0/tickvm/pkg/dispatch"
	"github.com/aretw0/tickvm/pkg/domain"
	"github.com/aretw0/tickvm/pkg/wire"
)

const (
	// SnapshotFormat tags the header line of every snapshot.
	SnapshotFormat = "tickvm-snapshot"
	// SnapshotVersion is the layout revision written by Serialize.
	SnapshotVersion = 1
)

// Header is the first line of a snapshot, readable without decoding the body.
type Header struct {
	Format      string `json:"format"`
	Version     int    `json:"version"`
	Tick        uint64 `json:"tick"`
	MemoryBytes int    `json:"memory_bytes"`
}

type snapshotV1 struct {
	Header  Header
	Program []byte
	Machine vm.State
	Pending []byte
	Inbox   [][]byte
	Effects [][]byte
	Tick    uint64
	Delta   time.Duration
}

// Serialize captures the complete runtime state. Deserialize on the result
// yields a runtime that behaves identically to r for any sequence of ticks,
// and serializing that runtime again yields the same bytes.
//
// The layout is a zstd stream holding one JSON header line followed by a
// gob-encoded body.
func (r *Runtime) Serialize() ([]byte, error) {
	if err := r.boundary(); err != nil {
		return nil, err
	}
	snap := snapshotV1{
		Header: Header{
			Format:      SnapshotFormat,
			Version:     SnapshotVersion,
			Tick:        r.tick,
			MemoryBytes: r.MemorySize(),
		},
		Program: r.program,
		Machine: r.inst.m.State(),
		Pending: r.inst.ch.Pending(),
		Tick:    r.tick,
		Delta:   r.delta,
	}
	for _, resp := range r.inbox {
		b, err := wire.EncodeResponse(nil, resp)
		if err != nil {
			return nil, err
		}
		snap.Inbox = append(snap.Inbox, b)
	}
	for _, req := range r.effects {
		b, err := wire.EncodeRequest(nil, req)
		if err != nil {
			return nil, err
		}
		snap.Effects = append(snap.Effects, b)
	}

	var out bytes.Buffer
	if err := writeSnapshot(&out, &snap); err != nil {
		return nil, fmt.Errorf("serialize: %w", err)
	}
	return out.Bytes(), nil
}

func writeSnapshot(w io.Writer, snap *snapshotV1) error {
	// A single encoder goroutine keeps the output byte-for-byte reproducible.
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault), zstd.WithEncoderConcurrency(1))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, err := json.Marshal(snap.Header)
	if err != nil {
		return err
	}
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return enc.Close()
}

func openSnapshot(b []byte) (*zstd.Decoder, *bufio.Reader, Header, error) {
	var h Header
	dec, err := zstd.NewReader(bytes.NewReader(b), zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, nil, h, err
	}
	br := bufio.NewReaderSize(dec, 256*1024)
	line, err := br.ReadBytes('\n')
	if err != nil {
		dec.Close()
		return nil, nil, h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		dec.Close()
		return nil, nil, h, fmt.Errorf("parse header: %w", err)
	}
	if h.Format != SnapshotFormat || h.Version != SnapshotVersion {
		dec.Close()
		return nil, nil, h, fmt.Errorf("unsupported snapshot %s v%d", h.Format, h.Version)
	}
	return dec, br, h, nil
}

// ReadHeader returns the header of a snapshot without decoding its body.
func ReadHeader(b []byte) (Header, error) {
	dec, _, h, err := openSnapshot(b)
	if err != nil {
		return h, &domain.LoadError{Reason: "snapshot header", Err: err}
	}
	dec.Close()
	return h, nil
}

// Deserialize rebuilds a runtime from Serialize output. Options are not part
// of the snapshot and must be supplied again. Every failure is a
// *domain.LoadError.
func Deserialize(b []byte, opts ...Option) (*Runtime, error) {
	dec, br, _, err := openSnapshot(b)
	if err != nil {
		return nil, &domain.LoadError{Reason: "snapshot", Err: err}
	}
	defer dec.Close()

	var snap snapshotV1
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return nil, &domain.LoadError{Reason: "snapshot body", Err: fmt.Errorf("gob decode: %w", err)}
	}

	mod, err := vm.Decode(snap.Program)
	if err != nil {
		return nil, &domain.LoadError{Reason: "snapshot program", Err: err}
	}
	m, err := vm.Restore(mod, snap.Machine)
	if err != nil {
		return nil, &domain.LoadError{Reason: "snapshot machine state", Err: err}
	}
	ch := &dispatch.Channel{}
	if err := ch.Restore(snap.Pending); err != nil {
		return nil, &domain.LoadError{Reason: "snapshot pending response", Err: err}
	}

	r := newRuntime(snap.Program, &Instance{m: m, ch: ch}, opts)
	r.tick = snap.Tick
	r.delta = snap.Delta
	for _, raw := range snap.Inbox {
		resp, err := wire.DecodeResponse(raw)
		if err != nil {
			return nil, &domain.LoadError{Reason: "snapshot inbox", Err: err}
		}
		r.inbox = append(r.inbox, resp)
	}
	for _, raw := range snap.Effects {
		req, err := wire.DecodeRequest(raw)
		if err != nil {
			return nil, &domain.LoadError{Reason: "snapshot effects", Err: err}
		}
		r.effects = append(r.effects, req)
	}
	return r, nil
}
