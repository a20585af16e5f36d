package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"
)

const idLogPrefix = "jsonrpc:id"

// IDKind tells which JSON type an ID carries.
type IDKind int

const (
	IDNull IDKind = iota
	IDString
	IDInt
	IDFloat
)

// ID is a JSON-RPC request id: a string, an integer, a double or null.
type ID struct {
	kind IDKind
	str  string
	num  int64
	flt  float64
}

// NullID returns the null id.
func NullID() ID { return ID{} }

// StringID returns a string id.
func StringID(s string) ID { return ID{kind: IDString, str: s} }

// IntID returns an integer id.
func IntID(n int64) ID { return ID{kind: IDInt, num: n} }

// FloatID returns a double id.
func FloatID(f float64) ID { return ID{kind: IDFloat, flt: f} }

// Kind returns the JSON type carried by the id.
func (id ID) Kind() IDKind { return id.kind }

// IsNull reports whether the id is JSON null.
func (id ID) IsNull() bool { return id.kind == IDNull }

// Int returns the integer value and whether the id is an integer.
func (id ID) Int() (int64, bool) { return id.num, id.kind == IDInt }

// Str returns the string value and whether the id is a string.
func (id ID) Str() (string, bool) { return id.str, id.kind == IDString }

// Key is a correlation key: two ids have the same key iff they are equal, including type.
func (id ID) Key() string {
	switch id.kind {
	case IDString:
		return "s:" + id.str
	case IDInt:
		return "i:" + strconv.FormatInt(id.num, 10)
	case IDFloat:
		return "f:" + strconv.FormatFloat(id.flt, 'g', -1, 64)
	default:
		return "null"
	}
}

func (id ID) String() string {
	switch id.kind {
	case IDString:
		return strconv.Quote(id.str)
	case IDInt:
		return strconv.FormatInt(id.num, 10)
	case IDFloat:
		return strconv.FormatFloat(id.flt, 'g', -1, 64)
	default:
		return "null"
	}
}

// MarshalJSON implements json.Marshaler.
func (id ID) MarshalJSON() ([]byte, error) {
	switch id.kind {
	case IDString:
		return json.Marshal(id.str)
	case IDInt:
		return []byte(strconv.FormatInt(id.num, 10)), nil
	case IDFloat:
		return json.Marshal(id.flt)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON implements json.Unmarshaler. Integral numbers decode as integers.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = NullID()
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = StringID(s)
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return err
	}
	n, ok := v.(json.Number)
	if !ok {
		return fmt.Errorf("%s - id must be a string, number or null, got %s", idLogPrefix, string(data))
	}
	if i, err := n.Int64(); err == nil {
		*id = IntID(i)
		return nil
	}
	f, err := n.Float64()
	if err != nil {
		return fmt.Errorf("%s - invalid numeric id %s: %w", idLogPrefix, n, err)
	}
	*id = FloatID(f)
	return nil
}

var (
	idMu   sync.Mutex
	lastID int64
)

// NewID returns a fresh numeric id: milliseconds since the epoch times 1000 plus a random
// offset in [0, 1000). Ids handed out by one process are strictly increasing.
func NewID() ID {
	n := time.Now().UnixMilli()*1000 + rand.Int63n(1000)

	idMu.Lock()
	if n <= lastID {
		n = lastID + 1
	}
	lastID = n
	idMu.Unlock()

	return IntID(n)
}
