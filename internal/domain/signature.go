package domain

import (
	"strconv"
	"strings"
)

// TradeSignature is a cheap content fingerprint used purely for duplicate
// detection. Two raw trades with the same signature are considered the same
// underlying trade regardless of which upstream produced them, so it is
// built only from fields every source carries: timestamp, price, size and
// trader address. Source-specific fields (tx hash, log index, field casing)
// must never leak into it.
type TradeSignature string

// Signature computes the dedup fingerprint for a raw trade.
func (r RawTrade) Signature() TradeSignature {
	return SignatureOf(r.Timestamp, r.Price, r.Size, r.TraderAddress)
}

// SignatureOf builds a signature from already-extracted column values. The
// storage layer uses it when bulk-loading the signatures of persisted rows.
func SignatureOf(timestamp int64, price, size float64, trader string) TradeSignature {
	var b strings.Builder
	b.WriteString(strconv.FormatInt(timestamp, 10))
	b.WriteByte('|')
	b.WriteString(strconv.FormatFloat(price, 'g', -1, 64))
	b.WriteByte('|')
	b.WriteString(strconv.FormatFloat(size, 'g', -1, 64))
	b.WriteByte('|')
	b.WriteString(strings.ToLower(strings.TrimSpace(trader)))
	return TradeSignature(b.String())
}
