package source

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/format"

	"github.com/tablechat/tablechat/internal/dataset"
)

const parquetBatchSize = 256

func readParquet(raw []byte) (*dataset.Dataset, error) {
	file, err := parquet.OpenFile(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, fmt.Errorf("open parquet: %w", err)
	}
	schema := file.Schema()
	paths := schema.Columns()
	if len(paths) == 0 {
		return nil, fmt.Errorf("parquet file has no columns")
	}

	names := make([]string, len(paths))
	converters := make([]func(parquet.Value) any, len(paths))
	for i, columnPath := range paths {
		if len(columnPath) != 1 {
			return nil, fmt.Errorf("nested parquet column %q is not supported", strings.Join(columnPath, "."))
		}
		leaf, ok := schema.Lookup(columnPath...)
		if !ok {
			return nil, fmt.Errorf("parquet column %q not found in schema", columnPath[0])
		}
		if leaf.MaxRepetitionLevel > 0 {
			return nil, fmt.Errorf("repeated parquet column %q is not supported", columnPath[0])
		}
		names[i] = columnPath[0]
		converters[i] = converterFor(leaf.Node.Type().LogicalType())
	}

	rows := make([][]any, 0, int(file.NumRows()))
	buf := make([]parquet.Row, parquetBatchSize)
	for _, group := range file.RowGroups() {
		groupRows := group.Rows()
		for {
			n, err := groupRows.ReadRows(buf)
			for _, row := range buf[:n] {
				values := make([]any, len(paths))
				for _, value := range row {
					column := value.Column()
					if column < 0 || column >= len(values) {
						continue
					}
					values[column] = converters[column](value)
				}
				rows = append(rows, values)
			}
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				_ = groupRows.Close()
				return nil, fmt.Errorf("read parquet rows: %w", err)
			}
		}
		if err := groupRows.Close(); err != nil {
			return nil, fmt.Errorf("close parquet rows: %w", err)
		}
	}
	return dataset.FromRows(names, rows)
}

func converterFor(logical *format.LogicalType) func(parquet.Value) any {
	if logical != nil && logical.Timestamp != nil {
		unit := logical.Timestamp.Unit
		return func(v parquet.Value) any {
			if v.IsNull() {
				return nil
			}
			raw := v.Int64()
			switch {
			case unit.Millis != nil:
				return time.UnixMilli(raw).UTC()
			case unit.Micros != nil:
				return time.UnixMicro(raw).UTC()
			default:
				return time.Unix(0, raw).UTC()
			}
		}
	}
	if logical != nil && logical.Date != nil {
		return func(v parquet.Value) any {
			if v.IsNull() {
				return nil
			}
			return time.Unix(int64(v.Int32())*86400, 0).UTC()
		}
	}
	return plainValue
}

func plainValue(v parquet.Value) any {
	if v.IsNull() {
		return nil
	}
	switch v.Kind() {
	case parquet.Boolean:
		return v.Boolean()
	case parquet.Int32:
		return int64(v.Int32())
	case parquet.Int64:
		return v.Int64()
	case parquet.Float:
		return float64(v.Float())
	case parquet.Double:
		return v.Double()
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return string(v.ByteArray())
	default:
		return v.String()
	}
}
