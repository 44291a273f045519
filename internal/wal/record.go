package wal

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"
)

// Op is the kind of mutation a record carries.
type Op string

const (
	OpCreateTable Op = "create_table"
	OpCreate      Op = "create"
	OpDelete      Op = "delete"
)

// Record is one WAL entry.
type Record struct {
	Offset       uint64          `json:"offset"`
	Op           Op              `json:"op"`
	Table        string          `json:"table"`
	PartitionKey string          `json:"pkey,omitempty"`
	SortKey      string          `json:"skey,omitempty"`
	Value        *structpb.Value `json:"value"` // nil for delete and create_table
}

// Batch is the result of a fetch: records at or past the requested offset,
// plus the leader's last assigned offset at the time of the call.
type Batch struct {
	Records []Record `json:"records"`
	Head    uint64   `json:"head"`
}

// UnmarshalJSON decodes a record. Records written without an op are creates.
func (r *Record) UnmarshalJSON(data []byte) error {
	type plain Record
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if p.Op == "" {
		p.Op = OpCreate
	}
	*r = Record(p)
	return nil
}

// IsNull reports whether v is absent or JSON null. Both encode as null
// and decode back to nil.
func IsNull(v *structpb.Value) bool {
	if v == nil || v.GetKind() == nil {
		return true
	}
	_, null := v.GetKind().(*structpb.Value_NullValue)
	return null
}

// Validate checks the record carries what its op needs.
func (r Record) Validate() error {
	if r.Offset == 0 {
		return fmt.Errorf("record has no offset")
	}
	if r.Table == "" {
		return fmt.Errorf("record %d has no table", r.Offset)
	}
	switch r.Op {
	case OpCreateTable:
	case OpCreate:
		if IsNull(r.Value) {
			return fmt.Errorf("create record %d has no value", r.Offset)
		}
	case OpDelete:
	default:
		return fmt.Errorf("record %d has unknown op %q", r.Offset, r.Op)
	}
	return nil
}

// Encode serializes records as newline-delimited JSON.
func Encode(records ...Record) ([]byte, error) {
	var buf bytes.Buffer
	for _, rec := range records {
		line, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("failed to encode record %d: %w", rec.Offset, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// Decode parses newline-delimited JSON records. Blank lines are skipped.
func Decode(data []byte) ([]Record, error) {
	var records []Record
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), len(data)+1)

	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// LastOffset returns the offset of the last record in data, or 0 when
// data holds no records.
func LastOffset(data []byte) (uint64, error) {
	data = bytes.TrimRight(data, " \t\r\n")
	if len(data) == 0 {
		return 0, nil
	}
	tail := data[bytes.LastIndexByte(data, '\n')+1:]
	var rec Record
	if err := json.Unmarshal(bytes.TrimSpace(tail), &rec); err != nil {
		return 0, fmt.Errorf("last record: %w", err)
	}
	return rec.Offset, nil
}

// From returns the records with offset >= from, keeping their order.
func From(records []Record, from uint64) []Record {
	out := make([]Record, 0, len(records))
	for _, rec := range records {
		if rec.Offset >= from {
			out = append(out, rec)
		}
	}
	return out
}
