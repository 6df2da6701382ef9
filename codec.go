package datasource

import (
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec converts records to and from the byte form stored in the external
// cache. Implementations must round-trip every field losslessly, including
// time-typed and binary identifier fields.
type Codec[T any] interface {
	Marshal(rec *T) ([]byte, error)
	Unmarshal(data []byte) (*T, error)
}

// MsgpackCodec is the default Codec. msgpack keeps time.Time values and
// byte-array identifiers intact across a cache round trip, where JSON
// would flatten them to strings.
type MsgpackCodec[T any] struct{}

func (MsgpackCodec[T]) Marshal(rec *T) ([]byte, error) {
	b, err := msgpack.Marshal(rec)
	return b, errors.WithStack(err)
}

// Unmarshal decodes data into a fresh record instance, so values coming
// out of the cache behave like values loaded from the store.
func (MsgpackCodec[T]) Unmarshal(data []byte) (*T, error) {
	rec := new(T)
	if err := msgpack.Unmarshal(data, rec); err != nil {
		return nil, errors.WithStack(err)
	}
	return rec, nil
}
