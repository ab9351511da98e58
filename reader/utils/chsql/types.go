package chsql

import "strings"

type JSDataType string

const (
	JSTypeDate    JSDataType = "date"
	JSTypeTuple   JSDataType = "tuple"
	JSTypeMap     JSDataType = "map"
	JSTypeArray   JSDataType = "array"
	JSTypeNumber  JSDataType = "number"
	JSTypeString  JSDataType = "string"
	JSTypeBool    JSDataType = "bool"
	JSTypeJSON    JSDataType = "json"
	JSTypeDynamic JSDataType = "dynamic"
	JSTypeUnknown JSDataType = ""
)

// ConvertCHDataTypeToJSType maps a ClickHouse type string to its coarse value kind.
// Nullable and LowCardinality wrappers are transparent.
func ConvertCHDataTypeToJSType(dataType string) JSDataType {
	dataType = strings.TrimSpace(dataType)
	for _, wrapper := range []string{"LowCardinality(", "Nullable("} {
		if strings.HasPrefix(dataType, wrapper) && strings.HasSuffix(dataType, ")") {
			return ConvertCHDataTypeToJSType(dataType[len(wrapper) : len(dataType)-1])
		}
	}
	switch {
	case strings.HasPrefix(dataType, "Date"):
		return JSTypeDate
	case strings.HasPrefix(dataType, "Tuple"):
		return JSTypeTuple
	case strings.HasPrefix(dataType, "Map"):
		return JSTypeMap
	case strings.HasPrefix(dataType, "Array"):
		return JSTypeArray
	case strings.HasPrefix(dataType, "Int"), strings.HasPrefix(dataType, "UInt"),
		strings.HasPrefix(dataType, "Float"), strings.HasPrefix(dataType, "Decimal"):
		return JSTypeNumber
	case strings.HasPrefix(dataType, "String"), strings.HasPrefix(dataType, "FixedString"),
		strings.HasPrefix(dataType, "Enum"), strings.HasPrefix(dataType, "UUID"),
		strings.HasPrefix(dataType, "IPv4"), strings.HasPrefix(dataType, "IPv6"):
		return JSTypeString
	case dataType == "Bool":
		return JSTypeBool
	case strings.HasPrefix(dataType, "JSON"):
		return JSTypeJSON
	case strings.HasPrefix(dataType, "Dynamic"):
		return JSTypeDynamic
	}
	return JSTypeUnknown
}
