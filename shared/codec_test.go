package shared

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/peterldowns/testy/assert"
)

func TestKlineCodec(t *testing.T) {
	codec := KlineCodec{}
	assert.Equal(t, codec.Size(), 48)

	klines := []Kline{
		{Date: 1502942460000, Open: 100, High: 110, Low: 90, Close: 100, Volume: 1},
		{Date: math.MaxInt64, Open: 0.1, High: 1e-300, Low: -0, Close: math.MaxFloat64, Volume: 0},
		{Date: 1, Open: 27333.12345678, High: 27599.7, Low: 27000.0000001, Close: 27500.5, Volume: 12.3456789},
	}

	// Ensure encoding then decoding yields the original values exactly.
	for _, k := range klines {
		buf := make([]byte, codec.Size())
		codec.Encode(buf, k)
		decoded, err := codec.Decode(buf)
		assert.NoError(t, err)
		if !cmp.Equal(decoded, k) {
			t.Errorf("mismatching kline, got %v", cmp.Diff(decoded, k))
		}
		assert.Equal(t, codec.Date(decoded), k.Date)
	}

	// Ensure the layout is big-endian with the date first.
	buf := make([]byte, codec.Size())
	codec.Encode(buf, Kline{Date: 1})
	assert.Equal(t, buf[7], byte(1))
	assert.Equal(t, buf[0], byte(0))

	// Ensure buffers of the wrong size are rejected.
	_, err := codec.Decode(buf[:47])
	assert.True(t, errors.Is(err, ErrRecordSize))
}

func TestTradeCodec(t *testing.T) {
	codec := TradeCodec{}
	assert.Equal(t, codec.Size(), 40)

	trade := Trade{ID: 42, Price: 27000.5, Qty: 0.0012, BaseQty: 32.4006, Date: 1682946000123}
	buf := make([]byte, codec.Size())
	codec.Encode(buf, trade)

	decoded, err := codec.Decode(buf)
	assert.NoError(t, err)
	assert.Equal(t, decoded, trade)
	assert.Equal(t, codec.Date(decoded), trade.Date)

	_, err = codec.Decode(append(buf, 0))
	assert.True(t, errors.Is(err, ErrRecordSize))

	// Ensure a trade can be viewed as a flat kline.
	k := trade.Kline()
	assert.Equal(t, k, Kline{Date: trade.Date, Open: 27000.5, High: 27000.5, Low: 27000.5, Close: 27000.5, Volume: 0.0012})
}

func TestEncodeAll(t *testing.T) {
	codec := KlineCodec{}
	klines := []Kline{{Date: 1, Close: 1}, {Date: 2, Close: 2}}

	buf := EncodeAll[Kline](codec, klines)
	assert.Equal(t, len(buf), 2*KlineSize)

	second, err := codec.Decode(buf[KlineSize:])
	assert.NoError(t, err)
	assert.Equal(t, second, klines[1])

	assert.Equal(t, len(EncodeAll[Kline](codec, nil)), 0)
}
