package debugevent

import (
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("debugevent: CBOR encoder initialization failed: " + err.Error())
	}
}

type envelope struct {
	Kind  Kind            `cbor:"1,keyasint"`
	Event cbor.RawMessage `cbor:"2,keyasint"`
}

// Recorder is a Source that writes every received notification to w as a
// CBOR sequence before handing it on.
type Recorder struct {
	src Source
	enc *cbor.Encoder
}

func NewRecorder(src Source, w io.Writer) *Recorder {
	return &Recorder{src: src, enc: encMode.NewEncoder(w)}
}

func (r *Recorder) Wait() (Event, error) {
	ev, err := r.src.Wait()
	if err != nil {
		return nil, err
	}
	if err := r.record(ev); err != nil {
		return nil, fmt.Errorf("record %s: %w", ev.Kind(), err)
	}
	return ev, nil
}

func (r *Recorder) Continue(pid, tid uint32, d Disposition) error {
	return r.src.Continue(pid, tid, d)
}

func (r *Recorder) record(ev Event) error {
	raw, err := encMode.Marshal(ev)
	if err != nil {
		return err
	}
	return r.enc.Encode(envelope{Kind: ev.Kind(), Event: raw})
}

// Continuation is a resume request observed by a Replayer.
type Continuation struct {
	PID, TID    uint32
	Disposition Disposition
}

// Replayer is a Source that plays back a stream written by Recorder.
// Handles in replayed events refer to processes that no longer exist.
type Replayer struct {
	dec       *cbor.Decoder
	Continued []Continuation
}

func NewReplayer(r io.Reader) *Replayer {
	return &Replayer{dec: cbor.NewDecoder(r)}
}

// Wait returns io.EOF once the recording is exhausted.
func (r *Replayer) Wait() (Event, error) {
	var env envelope
	if err := r.dec.Decode(&env); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("decode event: %w", err)
	}
	ev, err := newEvent(env.Kind)
	if err != nil {
		return nil, err
	}
	if err := cbor.Unmarshal(env.Event, ev); err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Kind, err)
	}
	return ev, nil
}

func (r *Replayer) Continue(pid, tid uint32, d Disposition) error {
	r.Continued = append(r.Continued, Continuation{PID: pid, TID: tid, Disposition: d})
	return nil
}
