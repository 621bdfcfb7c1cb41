package recording

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/tickwire/tickwire/pkg/protocol"
)

// Player reads a recorded frame stream back in order.
type Player struct {
	store   Store
	session string
	keys    []string
	next    int
	cur     io.ReadCloser
	hello   *protocol.ServerHello
	done    bool
}

// OpenPlayer opens session and reads its header.
func OpenPlayer(ctx context.Context, store Store, session string) (*Player, error) {
	if err := ValidateKey(session); err != nil {
		return nil, err
	}
	infos, err := store.List(ctx, session+"/")
	if err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		return nil, fmt.Errorf("%w: session %s", ErrNotFound, session)
	}

	p := &Player{store: store, session: session}
	for _, info := range infos {
		p.keys = append(p.keys, info.Key)
	}

	frame, err := p.readFrame(ctx)
	if err != nil {
		p.Close()
		if errors.Is(err, ErrIncomplete) {
			return nil, ErrBadHeader
		}
		return nil, err
	}
	if frame.Type != protocol.FrameHandshake {
		p.Close()
		return nil, fmt.Errorf("%w: first frame is %s", ErrBadHeader, frame.Type)
	}
	p.hello, err = protocol.DecodeServerHello(frame.Payload)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("%w: %w", ErrBadHeader, err)
	}
	return p, nil
}

// Hello returns the handshake the stream was recorded with.
func (p *Player) Hello() *protocol.ServerHello {
	return p.hello
}

// Session returns the session name.
func (p *Player) Session() string {
	return p.session
}

// ReadFrame returns the next recorded frame. It returns io.EOF after the
// final frame and ErrIncomplete if the segments run out before it.
func (p *Player) ReadFrame(ctx context.Context) (*protocol.Frame, error) {
	if p.done {
		return nil, io.EOF
	}
	frame, err := p.readFrame(ctx)
	if err != nil {
		return nil, err
	}
	if frame.Flags.Has(protocol.FlagFinal) {
		p.done = true
		p.Close()
		return nil, io.EOF
	}
	return frame, nil
}

func (p *Player) readFrame(ctx context.Context) (*protocol.Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if p.cur == nil {
			if p.next >= len(p.keys) {
				return nil, ErrIncomplete
			}
			rc, err := p.store.Open(ctx, p.keys[p.next])
			if err != nil {
				return nil, err
			}
			p.cur = rc
			p.next++
		}

		frame, err := protocol.ReadFrame(p.cur)
		switch {
		case err == nil:
			return frame, nil
		case errors.Is(err, io.EOF):
			p.cur.Close()
			p.cur = nil
		case errors.Is(err, io.ErrUnexpectedEOF):
			// Frames never straddle segments
			return nil, fmt.Errorf("recording: %s: truncated frame: %w", p.keys[p.next-1], err)
		default:
			return nil, fmt.Errorf("recording: %s: %w", p.keys[p.next-1], err)
		}
	}
}

// Close releases the open segment.
func (p *Player) Close() error {
	if p.cur == nil {
		return nil
	}
	err := p.cur.Close()
	p.cur = nil
	return err
}
