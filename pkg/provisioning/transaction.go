package provisioning

// Transaction segmentation and reassembly (Section 5.3.1): one
// provisioning PDU per transaction, split into a start segment and up to
// 63 continuations, protected by the total length and FCS in the start.

// SegmentTransaction splits an encoded provisioning PDU into the generic
// PDUs of one transaction.
func SegmentTransaction(pdu []byte) ([]GenericPDU, error) {
	if len(pdu) == 0 {
		return nil, ErrPDUTooShort
	}
	if len(pdu) > MaxTransactionLen {
		return nil, ErrTransactionTooLarge
	}

	rest := pdu
	first := StartDataLen
	if first > len(rest) {
		first = len(rest)
	}
	segN := uint8((len(pdu) - first + ContinuationDataLen - 1) / ContinuationDataLen)

	out := make([]GenericPDU, 0, segN+1)
	out = append(out, &TransactionStart{
		SegN:        segN,
		TotalLength: uint16(len(pdu)),
		FCS:         FCS(pdu),
		Data:        rest[:first],
	})
	rest = rest[first:]

	for i := uint8(1); len(rest) > 0; i++ {
		n := ContinuationDataLen
		if n > len(rest) {
			n = len(rest)
		}
		out = append(out, &TransactionContinuation{SegmentIndex: i, Data: rest[:n]})
		rest = rest[n:]
	}
	return out, nil
}

// TransactionReassembler rebuilds one transaction from its segments.
// Segments may arrive in any order and repeats are rejected; Complete
// reports when every segment is present and the FCS verifies.
type TransactionReassembler struct {
	started  bool
	segN     uint8
	total    uint16
	fcs      uint8
	segments [][]byte
	received uint64
}

// NewTransactionReassembler creates an empty reassembler. Reuse one per
// transaction number.
func NewTransactionReassembler() *TransactionReassembler {
	return &TransactionReassembler{}
}

// ReceiveStart feeds the transaction start segment.
func (r *TransactionReassembler) ReceiveStart(p *TransactionStart) error {
	if r.started {
		return ErrDuplicateSegment
	}
	if p.SegN > maxSegmentIndex {
		return ErrSegmentOutOfRange
	}
	r.started = true
	r.segN = p.SegN
	r.total = p.TotalLength
	r.fcs = p.FCS
	r.segments = make([][]byte, p.SegN+1)
	r.segments[0] = p.Data
	r.received = 1
	return nil
}

// ReceiveContinuation feeds one continuation segment.
func (r *TransactionReassembler) ReceiveContinuation(p *TransactionContinuation) error {
	if !r.started {
		return ErrNoTransaction
	}
	if p.SegmentIndex == 0 || p.SegmentIndex > r.segN {
		return ErrSegmentOutOfRange
	}
	if r.segments[p.SegmentIndex] != nil {
		return ErrDuplicateSegment
	}
	r.segments[p.SegmentIndex] = p.Data
	r.received |= 1 << p.SegmentIndex
	return nil
}

// Complete reports whether all segments have arrived.
func (r *TransactionReassembler) Complete() bool {
	if !r.started {
		return false
	}
	want := uint64(1)<<(r.segN+1) - 1
	return r.received == want
}

// Assemble validates the length and FCS and returns the provisioning PDU.
func (r *TransactionReassembler) Assemble() ([]byte, error) {
	if !r.Complete() {
		return nil, ErrNoTransaction
	}
	out := make([]byte, 0, r.total)
	for _, seg := range r.segments {
		out = append(out, seg...)
	}
	if len(out) != int(r.total) {
		return nil, ErrLengthMismatch
	}
	if !CheckFCS(out, r.fcs) {
		return nil, ErrFCSMismatch
	}
	return out, nil
}
