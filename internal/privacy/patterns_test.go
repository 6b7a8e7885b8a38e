package privacy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecognizers(t *testing.T) {
	lib := DefaultLibrary()

	tests := []struct {
		kind   Kind
		accept []string
		reject []string
	}{
		{
			kind:   KindPhone,
			accept: []string{"9876543210", "6000000000"},
			reject: []string{"5876543210", "987654321", "98765432100", "+919876543210", "call 9876543210"},
		},
		{
			kind:   KindAadhar,
			accept: []string{"123456789012"},
			reject: []string{"1234 5678 9012", "12345678901", "1234567890123"},
		},
		{
			kind:   KindPassport,
			accept: []string{"P1234567", "K7654321"},
			reject: []string{"p1234567", "PP123456", "P123456"},
		},
		{
			kind:   KindUPI,
			accept: []string{"ravi@ybl", "ravi_1@okaxis", "x@yesbank"},
			reject: []string{"ravi@gmail", "ravi.k@ybl", "@ybl", "ravi@ybl.com"},
		},
		{
			kind:   KindEmail,
			accept: []string{"ravi.kumar@example.com", "a+b@x.co.in"},
			reject: []string{"ravi@example", "ravi kumar@example.com", "@example.com"},
		},
		{
			kind:   KindFullName,
			accept: []string{"Ravi Kumar", "Asha Rao"},
			reject: []string{"Ravi", "ravi kumar", "Ravi Kumar Singh", "Ravi  Kumar", "R Kumar"},
		},
		{
			kind:   KindAddress,
			accept: []string{"12, MG Road, Pune 411001", "Flat 3, Andheri 400053 Mumbai"},
			reject: []string{"12 MG Road Pune 411001", "MG Road, Pune", "12, Road 4110011"},
		},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			match, ok := lib.Recognizer(tt.kind)
			require.True(t, ok)
			for _, s := range tt.accept {
				assert.True(t, match(s), "expected %q to match", s)
			}
			for _, s := range tt.reject {
				assert.False(t, match(s), "expected %q not to match", s)
			}
		})
	}

	_, ok := lib.Recognizer(KindDevice)
	assert.False(t, ok)
}

func TestNewLibrary(t *testing.T) {
	t.Run("Deduplicates", func(t *testing.T) {
		lib, err := NewLibrary([]string{"ybl", " ybl ", "okaxis"})
		require.NoError(t, err)
		assert.Equal(t, []string{"ybl", "okaxis"}, lib.Handles())
	})

	t.Run("HandlesAreLiteral", func(t *testing.T) {
		lib, err := NewLibrary([]string{"my.bank"})
		require.NoError(t, err)
		assert.True(t, lib.IsUPI("ravi@my.bank"))
		assert.False(t, lib.IsUPI("ravi@myxbank"))
	})

	t.Run("RejectsInvalid", func(t *testing.T) {
		_, err := NewLibrary([]string{"bad|handle"})
		assert.Error(t, err)

		_, err = NewLibrary(nil)
		assert.Error(t, err)
	})

	t.Run("DefaultHandles", func(t *testing.T) {
		assert.Len(t, DefaultLibrary().Handles(), 21)
	})
}
