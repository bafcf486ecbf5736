package domain

// RawLog is a chain event log stripped of client-specific types. Topics are
// the raw 32-byte topic values in order; topic 0 is the event signature
// hash.
type RawLog struct {
	BlockNumber uint64
	TxHash      string
	Index       uint
	Topics      [][]byte
	Data        []byte
}

// LogDecoder turns a raw chain log into a RawTrade. Decoding is a pure
// function of the log and the resolved block timestamp; the event ABI/shape
// is a configuration concern of the concrete decoder, not of the engine.
// Implementations return an error wrapping ErrDecodeLog for logs that do not
// match their shape.
type LogDecoder interface {
	Decode(log RawLog, blockTimestamp int64) (RawTrade, error)
}
