package core

import (
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
)

// MUS serializers for records persisted by the badger store. Times are
// stored as Unix microseconds.
var (
	IDMUS       = idMUS{}
	DocumentMUS = documentMUS{}
	ChunkMUS    = chunkMUS{}
	SourceMUS   = sourceMUS{}
	QueryLogMUS = queryLogMUS{}
)

type idMUS struct{}

func (idMUS) Marshal(v ID, bs []byte) (n int) {
	return varint.Uint64.Marshal(uint64(v), bs)
}

func (idMUS) Unmarshal(bs []byte) (v ID, n int, err error) {
	u, n, err := varint.Uint64.Unmarshal(bs)
	return ID(u), n, err
}

func (idMUS) Size(v ID) (size int) {
	return varint.Uint64.Size(uint64(v))
}

type timeMUS struct{}

func (timeMUS) Marshal(v time.Time, bs []byte) (n int) {
	return varint.Int64.Marshal(v.UnixMicro(), bs)
}

func (timeMUS) Unmarshal(bs []byte) (v time.Time, n int, err error) {
	us, n, err := varint.Int64.Unmarshal(bs)
	if err != nil {
		return
	}
	return time.UnixMicro(us).UTC(), n, nil
}

func (timeMUS) Size(v time.Time) (size int) {
	return varint.Int64.Size(v.UnixMicro())
}

// lengthMUS encodes slice lengths. A nil slice is written as -1 so that a
// missing embedding survives a round trip distinct from an empty one.
type lengthMUS struct{}

func (lengthMUS) Marshal(v int, bs []byte) (n int) {
	return varint.Int.Marshal(v, bs)
}

func (lengthMUS) Unmarshal(bs []byte) (v int, n int, err error) {
	v, n, err = varint.Int.Unmarshal(bs)
	if err == nil && v < -1 {
		err = ErrMalformedRecord
	}
	return
}

func (lengthMUS) Size(v int) (size int) {
	return varint.Int.Size(v)
}

type vectorMUS struct{}

func (vectorMUS) Marshal(v []float32, bs []byte) (n int) {
	if v == nil {
		return lengthMUS{}.Marshal(-1, bs)
	}
	n = lengthMUS{}.Marshal(len(v), bs)
	for _, f := range v {
		n += raw.Float32.Marshal(f, bs[n:])
	}
	return
}

func (vectorMUS) Unmarshal(bs []byte) (v []float32, n int, err error) {
	length, n, err := lengthMUS{}.Unmarshal(bs)
	if err != nil || length < 0 {
		return nil, n, err
	}
	if length*4 > len(bs)-n {
		return nil, n, ErrMalformedRecord
	}
	v = make([]float32, length)
	var n1 int
	for i := range v {
		v[i], n1, err = raw.Float32.Unmarshal(bs[n:])
		n += n1
		if err != nil {
			return nil, n, err
		}
	}
	return
}

func (vectorMUS) Size(v []float32) (size int) {
	if v == nil {
		return lengthMUS{}.Size(-1)
	}
	size = lengthMUS{}.Size(len(v))
	for _, f := range v {
		size += raw.Float32.Size(f)
	}
	return
}

type optionalIDMUS struct{}

func (optionalIDMUS) Marshal(v *ID, bs []byte) (n int) {
	n = ord.Bool.Marshal(v != nil, bs)
	if v != nil {
		n += IDMUS.Marshal(*v, bs[n:])
	}
	return
}

func (optionalIDMUS) Unmarshal(bs []byte) (v *ID, n int, err error) {
	present, n, err := ord.Bool.Unmarshal(bs)
	if err != nil || !present {
		return nil, n, err
	}
	id, n1, err := IDMUS.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return nil, n, err
	}
	return &id, n, nil
}

func (optionalIDMUS) Size(v *ID) (size int) {
	size = ord.Bool.Size(v != nil)
	if v != nil {
		size += IDMUS.Size(*v)
	}
	return
}

type optionalFloat64MUS struct{}

func (optionalFloat64MUS) Marshal(v *float64, bs []byte) (n int) {
	n = ord.Bool.Marshal(v != nil, bs)
	if v != nil {
		n += raw.Float64.Marshal(*v, bs[n:])
	}
	return
}

func (optionalFloat64MUS) Unmarshal(bs []byte) (v *float64, n int, err error) {
	present, n, err := ord.Bool.Unmarshal(bs)
	if err != nil || !present {
		return nil, n, err
	}
	f, n1, err := raw.Float64.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return nil, n, err
	}
	return &f, n, nil
}

func (optionalFloat64MUS) Size(v *float64) (size int) {
	size = ord.Bool.Size(v != nil)
	if v != nil {
		size += raw.Float64.Size(*v)
	}
	return
}

type documentMUS struct{}

func (documentMUS) Marshal(v Document, bs []byte) (n int) {
	n = IDMUS.Marshal(v.Id, bs)
	n += ord.String.Marshal(v.Title, bs[n:])
	n += ord.String.Marshal(v.Source, bs[n:])
	n += timeMUS{}.Marshal(v.CreatedAt, bs[n:])
	n += timeMUS{}.Marshal(v.UpdatedAt, bs[n:])
	return
}

func (documentMUS) Unmarshal(bs []byte) (v Document, n int, err error) {
	var n1 int
	if v.Id, n1, err = IDMUS.Unmarshal(bs); err != nil {
		return
	}
	n += n1
	if v.Title, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if v.Source, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if v.CreatedAt, n1, err = (timeMUS{}).Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if v.UpdatedAt, n1, err = (timeMUS{}).Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	return
}

func (documentMUS) Size(v Document) (size int) {
	size = IDMUS.Size(v.Id)
	size += ord.String.Size(v.Title)
	size += ord.String.Size(v.Source)
	size += timeMUS{}.Size(v.CreatedAt)
	return size + timeMUS{}.Size(v.UpdatedAt)
}

type chunkMUS struct{}

func (chunkMUS) Marshal(v Chunk, bs []byte) (n int) {
	n = IDMUS.Marshal(v.DocumentId, bs)
	n += varint.Int.Marshal(v.Index, bs[n:])
	n += ord.String.Marshal(v.Text, bs[n:])
	n += vectorMUS{}.Marshal(v.Embedding, bs[n:])
	return
}

func (chunkMUS) Unmarshal(bs []byte) (v Chunk, n int, err error) {
	var n1 int
	if v.DocumentId, n1, err = IDMUS.Unmarshal(bs); err != nil {
		return
	}
	n += n1
	if v.Index, n1, err = varint.Int.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if v.Text, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if v.Embedding, n1, err = (vectorMUS{}).Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	return
}

func (chunkMUS) Size(v Chunk) (size int) {
	size = IDMUS.Size(v.DocumentId)
	size += varint.Int.Size(v.Index)
	size += ord.String.Size(v.Text)
	return size + vectorMUS{}.Size(v.Embedding)
}

type sourceMUS struct{}

func (sourceMUS) Marshal(v Source, bs []byte) (n int) {
	n = IDMUS.Marshal(v.DocumentId, bs)
	n += varint.Int.Marshal(v.ChunkIndex, bs[n:])
	n += ord.String.Marshal(v.Text, bs[n:])
	n += raw.Float64.Marshal(v.Distance, bs[n:])
	return
}

func (sourceMUS) Unmarshal(bs []byte) (v Source, n int, err error) {
	var n1 int
	if v.DocumentId, n1, err = IDMUS.Unmarshal(bs); err != nil {
		return
	}
	n += n1
	if v.ChunkIndex, n1, err = varint.Int.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if v.Text, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if v.Distance, n1, err = raw.Float64.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	return
}

func (sourceMUS) Size(v Source) (size int) {
	size = IDMUS.Size(v.DocumentId)
	size += varint.Int.Size(v.ChunkIndex)
	size += ord.String.Size(v.Text)
	return size + raw.Float64.Size(v.Distance)
}

type queryLogMUS struct{}

func (queryLogMUS) Marshal(v QueryLog, bs []byte) (n int) {
	n = IDMUS.Marshal(v.Id, bs)
	n += timeMUS{}.Marshal(v.CreatedAt, bs[n:])
	n += timeMUS{}.Marshal(v.UpdatedAt, bs[n:])
	n += ord.String.Marshal(v.Question, bs[n:])
	n += varint.Int.Marshal(v.K, bs[n:])
	n += optionalIDMUS{}.Marshal(v.Scope, bs[n:])
	n += raw.Float64.Marshal(v.MaxDistance, bs[n:])
	n += optionalFloat64MUS{}.Marshal(v.BestDistance, bs[n:])
	n += ord.String.Marshal(v.Answer, bs[n:])
	n += lengthMUS{}.Marshal(len(v.Sources), bs[n:])
	for _, s := range v.Sources {
		n += SourceMUS.Marshal(s, bs[n:])
	}
	n += varint.Int64.Marshal(v.LatencyMs, bs[n:])
	n += ord.String.Marshal(v.Error, bs[n:])
	return
}

func (queryLogMUS) Unmarshal(bs []byte) (v QueryLog, n int, err error) {
	var n1 int
	if v.Id, n1, err = IDMUS.Unmarshal(bs); err != nil {
		return
	}
	n += n1
	if v.CreatedAt, n1, err = (timeMUS{}).Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if v.UpdatedAt, n1, err = (timeMUS{}).Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if v.Question, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if v.K, n1, err = varint.Int.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if v.Scope, n1, err = (optionalIDMUS{}).Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if v.MaxDistance, n1, err = raw.Float64.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if v.BestDistance, n1, err = (optionalFloat64MUS{}).Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if v.Answer, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	var count int
	if count, n1, err = (lengthMUS{}).Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if count > 0 {
		v.Sources = make([]Source, count)
		for i := range v.Sources {
			if v.Sources[i], n1, err = SourceMUS.Unmarshal(bs[n:]); err != nil {
				return
			}
			n += n1
		}
	}
	if v.LatencyMs, n1, err = varint.Int64.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if v.Error, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	return
}

func (queryLogMUS) Size(v QueryLog) (size int) {
	size = IDMUS.Size(v.Id)
	size += timeMUS{}.Size(v.CreatedAt)
	size += timeMUS{}.Size(v.UpdatedAt)
	size += ord.String.Size(v.Question)
	size += varint.Int.Size(v.K)
	size += optionalIDMUS{}.Size(v.Scope)
	size += raw.Float64.Size(v.MaxDistance)
	size += optionalFloat64MUS{}.Size(v.BestDistance)
	size += ord.String.Size(v.Answer)
	size += lengthMUS{}.Size(len(v.Sources))
	for _, s := range v.Sources {
		size += SourceMUS.Size(s)
	}
	size += varint.Int64.Size(v.LatencyMs)
	return size + ord.String.Size(v.Error)
}
