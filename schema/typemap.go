package schema

import (
	"fmt"

	"github.com/metahubhq/schemacore/snapshot"
)

// ColumnType maps a logical data type to its physical PostgreSQL type.
func ColumnType(dt snapshot.DataType) (string, error) {
	switch dt {
	case snapshot.TypeString:
		return "TEXT", nil
	case snapshot.TypeNumber:
		return "NUMERIC", nil
	case snapshot.TypeBoolean:
		return "BOOLEAN", nil
	case snapshot.TypeJSON:
		return "JSONB", nil
	case snapshot.TypeDate:
		return "DATE", nil
	case snapshot.TypeDateTime:
		return "TIMESTAMPTZ", nil
	case snapshot.TypeReference:
		return "UUID", nil
	}
	return "", fmt.Errorf("no column type mapping for data type %q", dt)
}
