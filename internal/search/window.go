package search

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/edgard/chatindex/internal/database"
)

// Wire layout of a cached window: field 1 repeats an embedded row message.
const (
	windowRowField protowire.Number = 1

	rowChatID      protowire.Number = 1
	rowMessageID   protowire.Number = 2
	rowFromUser    protowire.Number = 3
	rowForwardFrom protowire.Number = 4
	rowBody        protowire.Number = 5
	rowEventTime   protowire.Number = 6
	rowDocType     protowire.Number = 7
	rowMediaRef    protowire.Number = 8
)

var errTruncatedWindow = errors.New("truncated cached window")

// EncodeWindow serializes result rows for the cache table.
func EncodeWindow(rows []database.IndexRow) []byte {
	var b []byte
	for i := range rows {
		b = protowire.AppendTag(b, windowRowField, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeRow(&rows[i]))
	}
	return b
}

func appendSint(b []byte, num protowire.Number, v int64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeZigZag(v))
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func encodeRow(r *database.IndexRow) []byte {
	var b []byte
	b = appendSint(b, rowChatID, r.ChatID)
	b = appendSint(b, rowMessageID, r.MessageID)
	b = appendSint(b, rowFromUser, r.FromUser)
	if r.ForwardFrom.Valid {
		b = appendSint(b, rowForwardFrom, r.ForwardFrom.Int64)
	}
	b = appendString(b, rowBody, r.Body)
	b = appendSint(b, rowEventTime, r.EventTime.UnixNano())
	b = appendString(b, rowDocType, r.DocType)
	if r.MediaRef.Valid {
		b = appendString(b, rowMediaRef, r.MediaRef.String)
	}
	return b
}

// DecodeWindow parses a window produced by EncodeWindow. Unknown fields are
// skipped.
func DecodeWindow(b []byte) ([]database.IndexRow, error) {
	var rows []database.IndexRow
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]

		if num != windowRowField || typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
			continue
		}

		raw, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]

		row, err := decodeRow(raw)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", len(rows), err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func decodeRow(b []byte) (database.IndexRow, error) {
	var r database.IndexRow
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return r, protowire.ParseError(n)
		}
		b = b[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return r, protowire.ParseError(n)
			}
			b = b[n:]
			sv := protowire.DecodeZigZag(v)
			switch num {
			case rowChatID:
				r.ChatID = sv
			case rowMessageID:
				r.MessageID = sv
			case rowFromUser:
				r.FromUser = sv
			case rowForwardFrom:
				r.ForwardFrom = sql.NullInt64{Int64: sv, Valid: true}
			case rowEventTime:
				r.EventTime = time.Unix(0, sv).UTC()
			}
		case protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return r, protowire.ParseError(n)
			}
			b = b[n:]
			switch num {
			case rowBody:
				r.Body = v
			case rowDocType:
				r.DocType = v
			case rowMediaRef:
				r.MediaRef = sql.NullString{String: v, Valid: true}
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return r, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	if r.ChatID == 0 && r.MessageID == 0 {
		return r, errTruncatedWindow
	}
	return r, nil
}
