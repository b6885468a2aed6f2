package store

// #region identity
// Identity tags every row written by one session.
type Identity struct {
	Session string
	Subject string
}

// #endregion identity

// #region row
// Row is one record to append to a stream table. Payload is msgpack encoded.
type Row struct {
	Seq     uint64
	TS      float64 // monotonic seconds
	TS2     float64 // wall-clock unix seconds
	Payload any
}

// StoredRow is one row read back from a stream table.
type StoredRow struct {
	Row      int64
	Session  string
	Subject  string
	Seq      uint64
	TS       float64
	TSGlobal float64
	Payload  []byte
}

// #endregion row

// #region array
// Array is a whole-array blob (camera frame batch, ROI mask). Multiple puts
// under the same name are stored as consecutive chunks.
type Array struct {
	Name  string
	Chunk int
	Shape []int
	DType string
	Data  []byte
	TS    float64
	TS2   float64
}

// ArrayInfo summarizes the chunks stored under one name.
type ArrayInfo struct {
	Name   string
	Chunks int
	Bytes  int64
}

// #endregion array
