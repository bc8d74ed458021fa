package ingest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"ratesim/internal/normalize"
)

func ParseJSONBytes(data []byte) (*normalize.RequestFields, error) {
	var obj map[string]interface{}
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	return ParseJSONMap(obj), nil
}

func ParseJSONMap(obj map[string]interface{}) *normalize.RequestFields {
	fields := &normalize.RequestFields{Extras: map[string]string{}}
	for key, val := range obj {
		fields.Extras[strings.ToLower(key)] = stringify(val)
	}
	fields.Timestamp = firstNonEmpty(fields.Extras, timestampKeys...)
	fields.ClientID = firstNonEmpty(fields.Extras, clientKeys...)
	fields.Category = firstNonEmpty(fields.Extras, categoryKeys...)
	return fields
}

// stringify keeps large epoch numbers out of exponent notation.
func stringify(val interface{}) string {
	if f, ok := val.(float64); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprint(val)
}
