package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeUUID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "16-bit UUID",
			input:    "2902",
			expected: "2902",
		},
		{
			name:     "16-bit UUID with 0X prefix",
			input:    "0X2902",
			expected: "2902",
		},
		{
			name:     "SIG base UUID collapses to 16-bit form",
			input:    "00002902-0000-1000-8000-00805F9B34FB",
			expected: "2902",
		},
		{
			name:     "PM5 vendor UUID keeps full form",
			input:    "CE060031-43E5-11E4-916C-0800200C9A66",
			expected: "ce06003143e511e4916c0800200c9a66",
		},
		{
			name:     "wrong prefix is not shortened",
			input:    "AA002902-0000-1000-8000-00805f9b34fb",
			expected: "aa00290200001000800000805f9b34fb",
		},
		{
			name:     "surrounding whitespace",
			input:    "  ce060030-43e5-11e4-916c-0800200c9a66 ",
			expected: "ce06003043e511e4916c0800200c9a66",
		},
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeUUID(tt.input))
		})
	}
}

func TestNormalizeUUID_Consistency(t *testing.T) {
	variants := []string{
		"ce060039-43e5-11e4-916c-0800200c9a66",
		"CE060039-43E5-11E4-916C-0800200C9A66",
		"ce06003943e511e4916c0800200c9a66",
		"ce06-0039-43e5-11e4-916c-0800200c9a66",
	}

	for _, uuid := range variants {
		t.Run(uuid, func(t *testing.T) {
			assert.Equal(t, "ce06003943e511e4916c0800200c9a66", NormalizeUUID(uuid),
				"all spellings of the same UUID MUST normalize identically")
		})
	}
}

func TestValidateUUID(t *testing.T) {
	t.Run("accepts well-formed UUIDs", func(t *testing.T) {
		got, err := ValidateUUID("2a19", "ce060010-43e5-11e4-916c-0800200c9a66")
		require.NoError(t, err)
		assert.Equal(t, []string{"2a19", "ce06001043e511e4916c0800200c9a66"}, got)
	})

	t.Run("rejects missing input", func(t *testing.T) {
		_, err := ValidateUUID()
		assert.Error(t, err)
	})

	t.Run("rejects empty entry", func(t *testing.T) {
		_, err := ValidateUUID("2a19", "")
		assert.ErrorContains(t, err, "index 1")
	})

	t.Run("rejects non-hex", func(t *testing.T) {
		_, err := ValidateUUID("zz19")
		assert.ErrorContains(t, err, "invalid UUID format")
	})

	t.Run("rejects odd length", func(t *testing.T) {
		_, err := ValidateUUID("0000290200001000800000805f9b34fb00")
		assert.Error(t, err)
	})
}
