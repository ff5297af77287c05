package lib

import (
	"bytes"
	"context"
	"log"

	"github.com/pkg/errors"
)

var (
	errNotTCP      = errors.New("not a TCP datagram")
	errOwnSegment  = errors.New("segment sent from the local port")
	errForeign     = errors.New("segment outside the connection")
	errBadChecksum = errors.New("bad TCP checksum")
)

// ReceivePipeline is the only reader of the socket. It filters datagrams down
// to the connection's segments, records their numbers and publishes them.
type ReceivePipeline struct {
	conn           *Connection
	sock           RawSocket
	watch          *SegmentWatch
	buf            []byte
	verifyChecksum bool
	debug          bool
}

func NewReceivePipeline(conn *Connection, watch *SegmentWatch, bufferSize int, verifyChecksum, debug bool) *ReceivePipeline {
	if bufferSize <= 0 {
		bufferSize = DefaultRecvBufferSize
	}
	return &ReceivePipeline{
		conn:           conn,
		sock:           conn.sock,
		watch:          watch,
		buf:            make([]byte, bufferSize),
		verifyChecksum: verifyChecksum,
		debug:          debug,
	}
}

// Run receives until ctx is done or the socket fails. Transient receive errors
// are logged and retried; any other error is returned.
func (r *ReceivePipeline) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := r.sock.Recvfrom(r.buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if IsRetryable(err) {
				if r.debug {
					log.Println("receive pipeline: transient error:", err)
				}
				continue
			}
			return errors.Wrap(err, "receive pipeline")
		}

		seg, err := r.decode(r.buf[:n])
		if err != nil {
			if r.debug {
				log.Println("receive pipeline: dropped datagram:", err)
			}
			continue
		}

		r.conn.observe(seg)
		if r.debug {
			log.Printf("received %s\n%s", seg, DescribeFrame(r.buf[:n]))
		}

		if err := r.watch.Publish(seg); err != nil && r.debug {
			log.Println("receive pipeline: publish:", err)
		}
	}
}

// decode parses frame and applies the connection filter. The returned segment
// does not alias frame.
func (r *ReceivePipeline) decode(frame []byte) (*ReceivedSegment, error) {
	ip, err := ParseIPHeader(frame)
	if err != nil {
		return nil, err
	}
	if ip.Protocol != ProtocolTCP {
		return nil, errors.Wrapf(errNotTCP, "protocol %d", ip.Protocol)
	}

	end := len(frame)
	if tl := int(ip.TotalLength); tl >= ip.HeaderLen() && tl < end {
		end = tl
	}
	segment := frame[ip.HeaderLen():end]

	tcp, err := ParseTCPHeader(segment)
	if err != nil {
		return nil, err
	}

	local, peer := r.conn.localPort, r.conn.peer.Port()
	if tcp.SrcPort == local {
		return nil, errOwnSegment
	}
	if tcp.SrcPort != peer || tcp.DstPort != local {
		return nil, errors.Wrapf(errForeign, "ports %d -> %d", tcp.SrcPort, tcp.DstPort)
	}

	if r.verifyChecksum && !VerifySegmentChecksum(ip, segment) {
		return nil, errBadChecksum
	}

	seg := &ReceivedSegment{IP: ip, TCP: tcp, Size: len(frame)}
	if len(segment) > tcp.HeaderLen() {
		seg.Payload = bytes.Clone(segment[tcp.HeaderLen():])
	}
	return seg, nil
}
