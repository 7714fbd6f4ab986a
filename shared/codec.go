package shared

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	// KlineSize is the encoded size of a kline: one int64 and five float64 values.
	KlineSize = 6 * 8
	// TradeSize is the encoded size of a trade: two int64 and three float64 values.
	TradeSize = 5 * 8
)

var (
	// ErrRecordSize is returned when a buffer does not match a codec's record size.
	ErrRecordSize = errors.New("unexpected record size")
)

// Codec defines the requirements for fixed size big-endian record encoding.
type Codec[T any] interface {
	// Size returns the encoded size of a record in bytes.
	Size() int
	// Encode writes the provided record into dst, which must be at least Size() bytes.
	Encode(dst []byte, v T)
	// Decode reads a record from the provided buffer of exactly Size() bytes.
	Decode(b []byte) (T, error)
	// Date returns the timestamp of the provided record in unix milliseconds.
	Date(v T) int64
}

// KlineCodec encodes klines as date|open|high|low|close|volume.
type KlineCodec struct{}

// Ensure the kline codec implements the Codec interface.
var _ Codec[Kline] = KlineCodec{}

// Size returns the encoded size of a kline.
func (KlineCodec) Size() int { return KlineSize }

// Date returns the kline's open time.
func (KlineCodec) Date(k Kline) int64 { return k.Date }

// Encode writes the provided kline into dst.
func (KlineCodec) Encode(dst []byte, k Kline) {
	binary.BigEndian.PutUint64(dst[0:8], uint64(k.Date))
	binary.BigEndian.PutUint64(dst[8:16], math.Float64bits(k.Open))
	binary.BigEndian.PutUint64(dst[16:24], math.Float64bits(k.High))
	binary.BigEndian.PutUint64(dst[24:32], math.Float64bits(k.Low))
	binary.BigEndian.PutUint64(dst[32:40], math.Float64bits(k.Close))
	binary.BigEndian.PutUint64(dst[40:48], math.Float64bits(k.Volume))
}

// Decode reads a kline from the provided buffer.
func (KlineCodec) Decode(b []byte) (Kline, error) {
	if len(b) != KlineSize {
		return Kline{}, fmt.Errorf("%w: kline expects %d bytes, got %d", ErrRecordSize, KlineSize, len(b))
	}

	return Kline{
		Date:   int64(binary.BigEndian.Uint64(b[0:8])),
		Open:   math.Float64frombits(binary.BigEndian.Uint64(b[8:16])),
		High:   math.Float64frombits(binary.BigEndian.Uint64(b[16:24])),
		Low:    math.Float64frombits(binary.BigEndian.Uint64(b[24:32])),
		Close:  math.Float64frombits(binary.BigEndian.Uint64(b[32:40])),
		Volume: math.Float64frombits(binary.BigEndian.Uint64(b[40:48])),
	}, nil
}

// TradeCodec encodes trades as id|price|qty|base qty|date.
type TradeCodec struct{}

// Ensure the trade codec implements the Codec interface.
var _ Codec[Trade] = TradeCodec{}

// Size returns the encoded size of a trade.
func (TradeCodec) Size() int { return TradeSize }

// Date returns the trade time.
func (TradeCodec) Date(t Trade) int64 { return t.Date }

// Encode writes the provided trade into dst.
func (TradeCodec) Encode(dst []byte, t Trade) {
	binary.BigEndian.PutUint64(dst[0:8], uint64(t.ID))
	binary.BigEndian.PutUint64(dst[8:16], math.Float64bits(t.Price))
	binary.BigEndian.PutUint64(dst[16:24], math.Float64bits(t.Qty))
	binary.BigEndian.PutUint64(dst[24:32], math.Float64bits(t.BaseQty))
	binary.BigEndian.PutUint64(dst[32:40], uint64(t.Date))
}

// Decode reads a trade from the provided buffer.
func (TradeCodec) Decode(b []byte) (Trade, error) {
	if len(b) != TradeSize {
		return Trade{}, fmt.Errorf("%w: trade expects %d bytes, got %d", ErrRecordSize, TradeSize, len(b))
	}

	return Trade{
		ID:      int64(binary.BigEndian.Uint64(b[0:8])),
		Price:   math.Float64frombits(binary.BigEndian.Uint64(b[8:16])),
		Qty:     math.Float64frombits(binary.BigEndian.Uint64(b[16:24])),
		BaseQty: math.Float64frombits(binary.BigEndian.Uint64(b[24:32])),
		Date:    int64(binary.BigEndian.Uint64(b[32:40])),
	}, nil
}

// EncodeAll encodes the provided records back to back.
func EncodeAll[T any](codec Codec[T], records []T) []byte {
	size := codec.Size()
	buf := make([]byte, len(records)*size)
	for idx := range records {
		codec.Encode(buf[idx*size:(idx+1)*size], records[idx])
	}

	return buf
}
