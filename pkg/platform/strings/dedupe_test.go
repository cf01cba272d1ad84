package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrim(t *testing.T) {
	tests := []struct {
		name  string
		input []string
		want  []string
	}{
		{name: "nil stays nil", input: nil, want: nil},
		{name: "empty stays empty", input: []string{}, want: []string{}},
		{name: "trims", input: []string{" kafka-1:9092 ", "kafka-2:9092\t"}, want: []string{"kafka-1:9092", "kafka-2:9092"}},
		{name: "drops repeats keeping first", input: []string{"b", "a", "b", " a"}, want: []string{"b", "a"}},
		{name: "drops blanks", input: []string{"", "  ", "a"}, want: []string{"a"}},
		{name: "case sensitive", input: []string{"A", "a"}, want: []string{"A", "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DedupeAndTrim(tt.input))
		})
	}
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, SplitList("", ","))
	assert.Nil(t, SplitList(" , ,", ","))
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, SplitList("kafka-1:9092, kafka-2:9092,kafka-1:9092", ","))
}
