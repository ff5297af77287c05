package lib

import "github.com/google/netstack/tcpip/seqnum"

func SeqIncrement(seq uint32) uint32 {
	return uint32(seqnum.Value(seq).Add(1))
}

func SeqIncrementBy(seq, inc uint32) uint32 {
	return uint32(seqnum.Value(seq).Add(seqnum.Size(inc)))
}

// SEQ compare functions with SEQ wraparound in mind
func isGreater(seq1, seq2 uint32) bool {
	return seqnum.Value(seq2).LessThan(seqnum.Value(seq1))
}

func isLess(seq1, seq2 uint32) bool {
	return seqnum.Value(seq1).LessThan(seqnum.Value(seq2))
}

// segmentLength is the sequence space a segment occupies: its payload plus
// one for each of SYN and FIN.
func segmentLength(flags uint8, payloadLen int) uint32 {
	n := uint32(payloadLen)
	if flags&SYNFlag != 0 {
		n++
	}
	if flags&FINFlag != 0 {
		n++
	}
	return n
}
