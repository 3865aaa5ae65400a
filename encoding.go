package docrel

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/andreyvit/docrel/catalog"
	"github.com/andreyvit/docrel/docval"
)

func encodeMsgpack(v any) []byte {
	var buf bytes.Buffer
	enc := msgpack.GetEncoder()
	enc.Reset(&buf)
	enc.SetSortMapKeys(true)
	err := enc.Encode(v)
	msgpack.PutEncoder(enc)
	if err != nil {
		panic(fmt.Errorf("failed to encode %T using MsgPack: %w", v, err))
	}
	return buf.Bytes()
}

func decodeMsgpack(data []byte, v any) error {
	var r bytes.Reader
	r.Reset(data)
	dec := msgpack.GetDecoder()
	dec.Reset(&r)
	err := dec.Decode(v)
	msgpack.PutDecoder(dec)
	if err != nil {
		return dataErrf(data, 0, err, "failed to decode msgpack into %T", v)
	}
	return nil
}

// encodeRow produces the stored form of a row: [pid, seq, [pos, value]...].
// Values are written in their natural msgpack form; the column type tells
// the decoder how to read them back.
func encodeRow(row *ResolvedRow) []byte {
	var buf bytes.Buffer
	enc := msgpack.GetEncoder()
	enc.Reset(&buf)
	err := writeRow(enc, row)
	msgpack.PutEncoder(enc)
	if err != nil {
		panic(fmt.Errorf("failed to encode row %d: %w", row.Rid, err))
	}
	return buf.Bytes()
}

func writeRow(enc *msgpack.Encoder, row *ResolvedRow) error {
	if err := enc.EncodeArrayLen(3); err != nil {
		return err
	}
	if err := enc.EncodeInt(row.Pid); err != nil {
		return err
	}
	if err := enc.EncodeInt(int64(row.Seq)); err != nil {
		return err
	}
	if err := enc.EncodeArrayLen(2 * len(row.Values)); err != nil {
		return err
	}
	for i, v := range row.Values {
		if err := enc.EncodeInt(int64(row.Columns[i].Position())); err != nil {
			return err
		}
		if err := writeValue(enc, row.Columns[i].Type(), v); err != nil {
			return err
		}
	}
	return nil
}

func writeValue(enc *msgpack.Encoder, typ catalog.FieldType, v docval.Value) error {
	if catalog.TypeOf(v) != typ && !(typ == catalog.TypeChild && v.Kind() == docval.KindBool) {
		return fmt.Errorf("%v value in %v column", v.Kind(), typ)
	}
	switch v := v.(type) {
	case docval.Null:
		return enc.EncodeNil()
	case docval.Bool:
		return enc.EncodeBool(bool(v))
	case docval.Int:
		return enc.EncodeInt(int64(v))
	case docval.Long:
		return enc.EncodeInt(int64(v))
	case docval.Double:
		return enc.EncodeFloat64(float64(v))
	case docval.String:
		return enc.EncodeString(string(v))
	case docval.Binary:
		return enc.EncodeBytes(v)
	case docval.Time:
		return enc.EncodeTime(v.T())
	default:
		return fmt.Errorf("%v cannot be stored in a column", v.Kind())
	}
}

// decodeRow parses a stored row of dp. Columns are looked up by position.
func decodeRow(data []byte, dp *catalog.DocPart, did, rid int64) (*Row, error) {
	var r bytes.Reader
	r.Reset(data)
	dec := msgpack.GetDecoder()
	dec.Reset(&r)
	row, err := readRow(dec, dp, did, rid)
	msgpack.PutDecoder(dec)
	if err != nil {
		return nil, dataErrf(data, 0, err, "failed to decode row %s#%d", dp.Identifier(), rid)
	}
	return row, nil
}

func readRow(dec *msgpack.Decoder, dp *catalog.DocPart, did, rid int64) (*Row, error) {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, err
	}
	if n != 3 {
		return nil, fmt.Errorf("row has %d elements, wanted 3", n)
	}
	row := &Row{Did: did, Rid: rid}
	if row.Pid, err = dec.DecodeInt64(); err != nil {
		return nil, err
	}
	if row.Seq, err = dec.DecodeInt32(); err != nil {
		return nil, err
	}
	n, err = dec.DecodeArrayLen()
	if err != nil {
		return nil, err
	}
	if n%2 != 0 {
		return nil, fmt.Errorf("odd number of column entries %d", n)
	}
	row.Values = make([]ColumnValue, 0, n/2)
	for range n / 2 {
		pos, err := dec.DecodeInt()
		if err != nil {
			return nil, err
		}
		col := dp.ColumnAt(pos)
		if col == nil {
			return nil, fmt.Errorf("no column at position %d", pos)
		}
		v, err := readValue(dec, col.Type())
		if err != nil {
			return nil, fmt.Errorf("%s: %w", col.Identifier(), err)
		}
		row.Values = append(row.Values, ColumnValue{columnRefOf(col), v})
	}
	return row, nil
}

func readValue(dec *msgpack.Decoder, typ catalog.FieldType) (docval.Value, error) {
	switch typ {
	case catalog.TypeNull:
		if err := dec.DecodeNil(); err != nil {
			return nil, err
		}
		return docval.Null{}, nil
	case catalog.TypeBoolean, catalog.TypeChild:
		v, err := dec.DecodeBool()
		return docval.Bool(v), err
	case catalog.TypeInteger:
		v, err := dec.DecodeInt32()
		return docval.Int(v), err
	case catalog.TypeLong:
		v, err := dec.DecodeInt64()
		return docval.Long(v), err
	case catalog.TypeDouble:
		v, err := dec.DecodeFloat64()
		return docval.Double(v), err
	case catalog.TypeString:
		v, err := dec.DecodeString()
		return docval.String(v), err
	case catalog.TypeBinary:
		v, err := dec.DecodeBytes()
		return docval.Binary(v), err
	case catalog.TypeInstant:
		v, err := dec.DecodeTime()
		return docval.Time(v), err
	default:
		return nil, fmt.Errorf("unknown column type %v", typ)
	}
}
