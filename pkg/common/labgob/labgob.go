// Package labgob wraps encoding/gob with warnings the raw package omits:
// encoding a struct with unexported fields silently drops them, and decoding
// into a variable whose fields are already non-zero leaves fields missing
// from the wire untouched.
// The wire format is identical to encoding/gob; only the failure mode differs.
package labgob

import (
	"encoding/gob"
	"fmt"
	"io"
	"reflect"
	"sync"
)

type LabEncoder struct {
	gob *gob.Encoder
}

func NewEncoder(w io.Writer) *LabEncoder {
	return &LabEncoder{gob: gob.NewEncoder(w)}
}

func (e *LabEncoder) Encode(v interface{}) error {
	checkValue(v)
	return e.gob.Encode(v)
}

func (e *LabEncoder) EncodeValue(value reflect.Value) error {
	checkValue(value.Interface())
	return e.gob.EncodeValue(value)
}

type LabDecoder struct {
	gob *gob.Decoder
}

func NewDecoder(r io.Reader) *LabDecoder {
	return &LabDecoder{gob: gob.NewDecoder(r)}
}

func (d *LabDecoder) Decode(v interface{}) error {
	checkValue(v)
	checkDefault(v)
	return d.gob.Decode(v)
}

func Register(value interface{}) {
	gob.Register(value)
}

func RegisterName(name string, value interface{}) {
	gob.RegisterName(name, value)
}

var mu sync.Mutex
var errorCount int
var checked map[reflect.Type]bool = make(map[reflect.Type]bool)

func checkValue(value interface{}) {
	checkType(reflect.TypeOf(value))
}

func checkType(t reflect.Type) {
	k := t.Kind()

	mu.Lock()
	if checked == nil {
		checked = make(map[reflect.Type]bool)
	}
	if checked[t] {
		mu.Unlock()
		return
	}
	checked[t] = true
	mu.Unlock()

	switch k {
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if f.Name[0] < 'A' || f.Name[0] > 'Z' {
				fmt.Printf("labgob error: lower-case field %v of %v will break RPCs\n", f.Name, t.Name())
				mu.Lock()
				errorCount++
				mu.Unlock()
			}
			checkType(f.Type)
		}
		return
	case reflect.Slice, reflect.Array, reflect.Ptr:
		checkType(t.Elem())
		return
	case reflect.Map:
		checkType(t.Elem())
		checkType(t.Key())
		return
	default:
		return
	}
}

// checkDefault warns (once) when decoding into a struct whose fields are
// already non-zero, since gob silently leaves unset wire fields untouched.
func checkDefault(value interface{}) {
	if value == nil {
		return
	}
	checkDefault1(reflect.Indirect(reflect.ValueOf(value)), 1, "")
}

func checkDefault1(value reflect.Value, depth int, name string) {
	if depth > 3 {
		return
	}

	t := value.Type()
	k := t.Kind()

	switch k {
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			vv := value.Field(i)
			name1 := t.Field(i).Name
			if name != "" {
				name1 = name + "." + name1
			}
			checkDefault1(vv, depth+1, name1)
		}
		return
	case reflect.Ptr:
		if value.IsNil() {
			return
		}
		checkDefault1(value.Elem(), depth+1, name)
		return
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Uintptr,
		reflect.Float32, reflect.Float64,
		reflect.String:
		if !reflect.DeepEqual(reflect.Zero(t).Interface(), value.Interface()) {
			mu.Lock()
			if errorCount < 1 {
				fmt.Printf("labgob warning: decoding into a non-default variable/field %v may not work\n", name)
			}
			errorCount++
			mu.Unlock()
		}
		return
	default:
		return
	}
}
