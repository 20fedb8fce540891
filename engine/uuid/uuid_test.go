package uuid

import (
	"testing"

	"github.com/bmizerany/assert"
)

func TestGenUUID(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		uuid := GenUUID()
		if len(uuid) != UUID_LENGTH {
			t.Fatalf("bad uuid length: %q", uuid)
		}
		assert.T(t, IsUUID(uuid), uuid)
		assert.T(t, !seen[uuid], "duplicate uuid", uuid)
		seen[uuid] = true
	}
}

func TestGenFixedUUID(t *testing.T) {
	a := GenFixedUUID([]byte("crate"))
	assert.Equal(t, a, GenFixedUUID([]byte("crate")))
	assert.NotEqual(t, a, GenFixedUUID([]byte("barrel")))
	assert.Equal(t, UUID_LENGTH, len(GenFixedUUID([]byte("a seed longer than twelve bytes"))))
}

func TestIsUUID(t *testing.T) {
	assert.T(t, !IsUUID(""))
	assert.T(t, !IsUUID("short"))
	assert.T(t, !IsUUID("0123456789abcde!"))
	assert.T(t, IsUUID("0123456789abcdef"))
}

func BenchmarkGenUUID(b *testing.B) {
	for i := 0; i < b.N; i++ {
		GenUUID()
	}
}
