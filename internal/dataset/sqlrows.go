package dataset

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

// ScanRows materializes a result set. Text-protocol drivers hand numeric
// columns back as bytes, so those are parsed using the reported database
// type before dtype inference.
func ScanRows(rows *sql.Rows, limit int) (*Dataset, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	dbTypes := make([]string, len(columns))
	if columnTypes, err := rows.ColumnTypes(); err == nil {
		for i, columnType := range columnTypes {
			if i < len(dbTypes) {
				name, _, _ := strings.Cut(columnType.DatabaseTypeName(), "(")
				dbTypes[i] = strings.ToUpper(strings.TrimSpace(name))
			}
		}
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		if limit > 0 && len(resultRows) >= limit {
			break
		}
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		for i, value := range values {
			values[i] = coerceByDatabaseType(normalizeValue(value), dbTypes[i])
		}
		resultRows = append(resultRows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return FromRows(columns, resultRows)
}

func coerceByDatabaseType(value any, dbType string) any {
	text, ok := value.(string)
	if !ok || dbType == "" {
		return value
	}
	text = strings.TrimSpace(text)
	switch {
	case isIntegerType(dbType):
		if v, err := strconv.ParseInt(text, 10, 64); err == nil {
			return v
		}
	case isDecimalType(dbType):
		if v, err := strconv.ParseFloat(text, 64); err == nil {
			return v
		}
	}
	return value
}

func isIntegerType(dbType string) bool {
	switch strings.TrimPrefix(dbType, "UNSIGNED ") {
	case "INT", "INTEGER", "BIGINT", "SMALLINT", "TINYINT", "MEDIUMINT", "INT2", "INT4", "INT8", "HUGEINT":
		return true
	}
	return false
}

func isDecimalType(dbType string) bool {
	switch dbType {
	case "DECIMAL", "NUMERIC", "FLOAT", "DOUBLE", "REAL", "MONEY", "SMALLMONEY", "FLOAT4", "FLOAT8":
		return true
	}
	return false
}
