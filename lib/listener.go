package lib

import (
	"context"
	"log"

	"github.com/pkg/errors"
)

// Listener acts on published segments, but only while the connection is in
// its phase. Out of phase segments are ignored without side effects.
type Listener struct {
	Name    string
	Phase   Phase
	trigger func(seg *ReceivedSegment) bool
	action  func(conn *Connection, seg *ReceivedSegment) error
	conn    *Connection
	rx      *WatchReceiver
}

func newListener(name string, phase Phase, conn *Connection, watch *SegmentWatch,
	trigger func(*ReceivedSegment) bool, action func(*Connection, *ReceivedSegment) error) *Listener {
	return &Listener{
		Name:    name,
		Phase:   phase,
		trigger: trigger,
		action:  action,
		conn:    conn,
		rx:      watch.Subscribe(),
	}
}

// Run waits for each new segment and evaluates it until ctx is done or the
// watch is closed.
func (l *Listener) Run(ctx context.Context) {
	defer l.rx.Close()
	for {
		seg, err := l.rx.Changed(ctx)
		if err != nil {
			return
		}
		if _, err := l.Evaluate(seg); err != nil {
			log.Printf(Red+"%s: %v"+Reset, l.Name, err)
		}
	}
}

// Evaluate runs the action if the phase matches and the trigger fires. It
// reports whether the action ran.
func (l *Listener) Evaluate(seg *ReceivedSegment) (bool, error) {
	if seg == nil || l.conn.Phase() != l.Phase {
		return false, nil
	}
	if !l.trigger(seg) {
		return false, nil
	}
	return true, l.action(l.conn, seg)
}

// NewHandshakeListener completes the three-way handshake on SYN+ACK.
func NewHandshakeListener(conn *Connection, watch *SegmentWatch) *Listener {
	return newListener("handshake", PhaseAwaitingSecondHandshake, conn, watch,
		func(seg *ReceivedSegment) bool {
			return seg.TCP.HasFlags(SYNFlag | ACKFlag)
		},
		func(conn *Connection, seg *ReceivedSegment) error {
			p, err := conn.MakePacket()
			if err != nil {
				return err
			}
			if _, err := conn.SendPacket(p.ToHandshakeAck(seg.TCP.Ack, seg.TCP.Seq)); err != nil {
				return errors.Wrap(err, "third handshake")
			}
			conn.SetPhase(PhaseNone)
			log.Printf(Green+"connection to %s established"+Reset, conn.PeerAddr())
			return nil
		})
}

// NewDataListener acknowledges every pushed payload and buffers it.
func NewDataListener(conn *Connection, watch *SegmentWatch) *Listener {
	return newListener("data", PhaseNone, conn, watch,
		func(seg *ReceivedSegment) bool {
			return seg.TCP.HasFlags(PSHFlag|ACKFlag) && len(seg.Payload) > 0
		},
		func(conn *Connection, seg *ReceivedSegment) error {
			p, err := conn.MakePacket()
			if err != nil {
				return err
			}
			if _, err := conn.SendPacket(p.ToDataAck(seg.TCP.Seq, seg.TCP.Ack, len(seg.Payload))); err != nil {
				return errors.Wrap(err, "data ack")
			}
			conn.bufferReceived(seg.Payload)
			return nil
		})
}

// NewTeardownListener answers the peer's FIN+ACK and finishes the connection.
func NewTeardownListener(conn *Connection, watch *SegmentWatch) *Listener {
	return newListener("teardown", PhaseAwaitingTeardownAck, conn, watch,
		func(seg *ReceivedSegment) bool {
			return seg.TCP.HasFlags(FINFlag | ACKFlag)
		},
		func(conn *Connection, seg *ReceivedSegment) error {
			p, err := conn.MakePacket()
			if err != nil {
				return err
			}
			peerFin := seg.TCP.HasFlags(FINFlag)
			if _, err := conn.SendPacket(p.ToTeardownAck(seg.TCP.Ack, seg.TCP.Seq, peerFin)); err != nil {
				return errors.Wrap(err, "final ack")
			}
			conn.SetPhase(PhaseNone)
			log.Printf(Green+"connection to %s closed"+Reset, conn.PeerAddr())
			conn.markDone()
			return nil
		})
}

// NewPacketPrinter logs every segment seen while the connection is idle.
func NewPacketPrinter(conn *Connection, watch *SegmentWatch) *Listener {
	return newListener("printer", PhaseNone, conn, watch,
		func(seg *ReceivedSegment) bool { return true },
		func(conn *Connection, seg *ReceivedSegment) error {
			log.Printf("%s %s", FlagString(seg.TCP.Flags), seg)
			return nil
		})
}
