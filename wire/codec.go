// Package wire implements the host-facing message envelope described in
// spec §6: a small binary codec for request/response payloads plus the HID
// packet framing that carries them. The codec is a reflection-based binary
// encoder/decoder adapted from the teacher's pkg/encoding/rivbin
// (encode.go/decode.go): same recursive-by-Kind structure, generalized to
// round-trip (not just encode) since the dispatcher must decode host
// payloads, not merely serialize outgoing ones.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"reflect"

	"github.com/keepkey/keepkey-firmware-sub001/build"
)

// ErrTruncated is returned when a Decode call runs out of input bytes.
var ErrTruncated = errors.New("wire: truncated message")

// Marshal encodes v using the wire codec.
func Marshal(v interface{}) ([]byte, error) {
	b := new(bytes.Buffer)
	if err := NewEncoder(b).Encode(v); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// Unmarshal decodes b into v, which must be a pointer.
func Unmarshal(b []byte, v interface{}) error {
	return NewDecoder(bytes.NewReader(b)).Decode(v)
}

// Encoder writes wire-encoded values to a stream.
type Encoder struct{ w io.Writer }

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder { return &Encoder{w} }

// Encode writes the wire encoding of v.
func (e *Encoder) Encode(v interface{}) error {
	return e.encode(reflect.Indirect(reflect.ValueOf(v)))
}

func (e *Encoder) write(p []byte) error {
	n, err := e.w.Write(p)
	if err == nil && n != len(p) {
		return io.ErrShortWrite
	}
	return err
}

func (e *Encoder) encode(val reflect.Value) error {
	switch val.Kind() {
	case reflect.Ptr:
		defined := !val.IsNil()
		if err := e.encode(reflect.ValueOf(defined)); err != nil || !defined {
			return err
		}
		return e.encode(val.Elem())

	case reflect.Bool:
		var b [1]byte
		if val.Bool() {
			b[0] = 1
		}
		return e.write(b[:])

	case reflect.Uint8:
		return e.write([]byte{byte(val.Uint())})
	case reflect.Uint16:
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], uint16(val.Uint()))
		return e.write(b[:])
	case reflect.Uint32:
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(val.Uint()))
		return e.write(b[:])
	case reflect.Uint64, reflect.Uint:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], val.Uint())
		return e.write(b[:])
	case reflect.Int8:
		return e.write([]byte{byte(val.Int())})
	case reflect.Int16:
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], uint16(val.Int()))
		return e.write(b[:])
	case reflect.Int32:
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(val.Int()))
		return e.write(b[:])
	case reflect.Int64, reflect.Int:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(val.Int()))
		return e.write(b[:])

	case reflect.String:
		return e.encodeVarBytes([]byte(val.String()))

	case reflect.Slice:
		if val.Type().Elem().Kind() == reflect.Uint8 {
			return e.encodeVarBytes(val.Bytes())
		}
		if err := e.encode(reflect.ValueOf(uint32(val.Len()))); err != nil {
			return err
		}
		for i := 0; i < val.Len(); i++ {
			if err := e.encode(val.Index(i)); err != nil {
				return err
			}
		}
		return nil

	case reflect.Array:
		if val.Type().Elem().Kind() == reflect.Uint8 {
			b := make([]byte, val.Len())
			reflect.Copy(reflect.ValueOf(b), val)
			return e.write(b)
		}
		for i := 0; i < val.Len(); i++ {
			if err := e.encode(val.Index(i)); err != nil {
				return err
			}
		}
		return nil

	case reflect.Struct:
		for i := 0; i < val.NumField(); i++ {
			if val.Type().Field(i).PkgPath != "" {
				continue // unexported
			}
			if err := e.encode(val.Field(i)); err != nil {
				return err
			}
		}
		return nil

	default:
		err := fmt.Errorf("wire: cannot encode kind %s", val.Kind())
		build.Critical(err)
		return err
	}
}

func (e *Encoder) encodeVarBytes(b []byte) error {
	if err := e.encode(reflect.ValueOf(uint32(len(b)))); err != nil {
		return err
	}
	if len(b) == 0 {
		return nil
	}
	return e.write(b)
}

// Decoder reads wire-encoded values from a stream.
type Decoder struct{ r io.Reader }

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder { return &Decoder{r} }

// Decode reads a wire-encoded value into v, a non-nil pointer.
func (d *Decoder) Decode(v interface{}) error {
	pv := reflect.ValueOf(v)
	if pv.Kind() != reflect.Ptr || pv.IsNil() {
		return errors.New("wire: Decode requires a non-nil pointer")
	}
	return d.decode(pv.Elem())
}

func (d *Decoder) readN(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(d.r, b); err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return nil, ErrTruncated
		}
		return nil, err
	}
	return b, nil
}

func (d *Decoder) decode(val reflect.Value) error {
	switch val.Kind() {
	case reflect.Ptr:
		var defined bool
		db := reflect.ValueOf(&defined).Elem()
		if err := d.decode(db); err != nil {
			return err
		}
		if !defined {
			return nil
		}
		val.Set(reflect.New(val.Type().Elem()))
		return d.decode(val.Elem())

	case reflect.Bool:
		b, err := d.readN(1)
		if err != nil {
			return err
		}
		val.SetBool(b[0] != 0)
		return nil

	case reflect.Uint8:
		b, err := d.readN(1)
		if err != nil {
			return err
		}
		val.SetUint(uint64(b[0]))
		return nil
	case reflect.Uint16:
		b, err := d.readN(2)
		if err != nil {
			return err
		}
		val.SetUint(uint64(binary.BigEndian.Uint16(b)))
		return nil
	case reflect.Uint32:
		b, err := d.readN(4)
		if err != nil {
			return err
		}
		val.SetUint(uint64(binary.BigEndian.Uint32(b)))
		return nil
	case reflect.Uint64, reflect.Uint:
		b, err := d.readN(8)
		if err != nil {
			return err
		}
		val.SetUint(binary.BigEndian.Uint64(b))
		return nil
	case reflect.Int8:
		b, err := d.readN(1)
		if err != nil {
			return err
		}
		val.SetInt(int64(int8(b[0])))
		return nil
	case reflect.Int16:
		b, err := d.readN(2)
		if err != nil {
			return err
		}
		val.SetInt(int64(int16(binary.BigEndian.Uint16(b))))
		return nil
	case reflect.Int32:
		b, err := d.readN(4)
		if err != nil {
			return err
		}
		val.SetInt(int64(int32(binary.BigEndian.Uint32(b))))
		return nil
	case reflect.Int64, reflect.Int:
		b, err := d.readN(8)
		if err != nil {
			return err
		}
		val.SetInt(int64(binary.BigEndian.Uint64(b)))
		return nil

	case reflect.String:
		b, err := d.decodeVarBytes()
		if err != nil {
			return err
		}
		val.SetString(string(b))
		return nil

	case reflect.Slice:
		if val.Type().Elem().Kind() == reflect.Uint8 {
			b, err := d.decodeVarBytes()
			if err != nil {
				return err
			}
			val.SetBytes(b)
			return nil
		}
		var length uint32
		if err := d.decode(reflect.ValueOf(&length).Elem()); err != nil {
			return err
		}
		slice := reflect.MakeSlice(val.Type(), int(length), int(length))
		for i := 0; i < int(length); i++ {
			if err := d.decode(slice.Index(i)); err != nil {
				return err
			}
		}
		val.Set(slice)
		return nil

	case reflect.Array:
		if val.Type().Elem().Kind() == reflect.Uint8 {
			b, err := d.readN(val.Len())
			if err != nil {
				return err
			}
			reflect.Copy(val, reflect.ValueOf(b))
			return nil
		}
		for i := 0; i < val.Len(); i++ {
			if err := d.decode(val.Index(i)); err != nil {
				return err
			}
		}
		return nil

	case reflect.Struct:
		for i := 0; i < val.NumField(); i++ {
			if val.Type().Field(i).PkgPath != "" {
				continue
			}
			if err := d.decode(val.Field(i)); err != nil {
				return err
			}
		}
		return nil

	default:
		err := fmt.Errorf("wire: cannot decode kind %s", val.Kind())
		build.Critical(err)
		return err
	}
}

func (d *Decoder) decodeVarBytes() ([]byte, error) {
	var length uint32
	if err := d.decode(reflect.ValueOf(&length).Elem()); err != nil {
		return nil, err
	}
	if length == 0 {
		return nil, nil
	}
	const maxMessageLen = 16 * 1024 * 1024 // matches EthereumSignTx's 16 MiB data cap (§4.8)
	if length > maxMessageLen {
		return nil, fmt.Errorf("wire: declared length %d exceeds maximum", length)
	}
	return d.readN(int(length))
}
