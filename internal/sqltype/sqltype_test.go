package sqltype

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMap_IntegerTypes(t *testing.T) {
	intTypes := []string{
		"TINYINT", "tinyint",
		"SMALLINT", "smallint",
		"INT", "int",
		"INTEGER", "integer",
		"BIGINT", "bigint",
		"bigint unsigned", "int(11)",
		"YEAR",
	}

	for _, sqlType := range intTypes {
		t.Run(sqlType, func(t *testing.T) {
			assert.Equal(t, KindInt, Map(sqlType))
			assert.True(t, Map(sqlType).IsNumeric())
		})
	}
}

func TestMap_FloatTypes(t *testing.T) {
	for _, sqlType := range []string{"FLOAT", "double", "DECIMAL(10,2)", "numeric", "REAL"} {
		t.Run(sqlType, func(t *testing.T) {
			assert.Equal(t, KindFloat, Map(sqlType))
		})
	}
}

func TestMap_OtherKinds(t *testing.T) {
	tests := []struct {
		sqlType string
		want    Kind
	}{
		{"bool", KindBool},
		{"BOOLEAN", KindBool},
		{"json", KindJSON},
		{"varbinary(16)", KindBytes},
		{"BLOB", KindBytes},
		{"datetime", KindTime},
		{"TIMESTAMP", KindTime},
		{"uuid", KindUUID},
		{"varchar(255)", KindString},
		{"enum('a','b')", KindString},
		{"geometry", KindString},
		{"", KindString},
	}

	for _, tt := range tests {
		t.Run(tt.sqlType, func(t *testing.T) {
			assert.Equal(t, tt.want, Map(tt.sqlType))
		})
	}
}

func TestParse(t *testing.T) {
	for kind, name := range kindNames {
		got, err := Parse(name)
		require.NoError(t, err)
		assert.Equal(t, kind, got)
		assert.Equal(t, name, kind.String())
	}

	_, err := Parse("decimal128")
	assert.Error(t, err)
	assert.Equal(t, "kind(42)", Kind(42).String())
}
