package vm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kristofer/smog/pkg/value"
)

func newStdlibVM(t *testing.T) *Interp {
	t.Helper()
	vm, _ := newTestVM(t)
	vm.RegisterStdlib()
	return vm
}

func TestStdlibHashing(t *testing.T) {
	vm := newStdlibVM(t)

	results, err := vm.sha256Hash([]value.Value{vm.str("smog")})
	require.NoError(t, err)
	require.Len(t, results, 1)
	str, ok := results[0].Object().(*value.OString)
	require.True(t, ok)
	require.Len(t, str.String(), 64)
}

func TestStdlibBase64RoundTrip(t *testing.T) {
	vm := newStdlibVM(t)

	encoded, err := vm.base64Encode([]value.Value{vm.str("round trip")})
	require.NoError(t, err)
	decoded, err := vm.base64Decode(encoded)
	require.NoError(t, err)
	str := decoded[0].Object().(*value.OString)
	require.Equal(t, "round trip", str.String())
}

func TestStdlibAESRoundTrip(t *testing.T) {
	vm := newStdlibVM(t)

	keyResult, err := vm.aesGenerateKey(nil)
	require.NoError(t, err)

	plaintext := vm.str("a secret message")
	encrypted, err := vm.aesEncrypt([]value.Value{plaintext, decodeKey(t, vm, keyResult[0])})
	require.NoError(t, err)
	decrypted, err := vm.aesDecrypt([]value.Value{encrypted[0], decodeKey(t, vm, keyResult[0])})
	require.NoError(t, err)
	require.Equal(t, "a secret message", decrypted[0].Object().(*value.OString).String())
}

// decodeKey re-decodes the base64 key aesGenerateKey returned back into
// the raw 32-byte form aesEncrypt/aesDecrypt expect, matching how a
// script would have to round-trip it through base64Decode itself.
func decodeKey(t *testing.T, vm *Interp, b64Key value.Value) value.Value {
	t.Helper()
	decoded, err := vm.base64Decode([]value.Value{b64Key})
	require.NoError(t, err)
	return decoded[0]
}

func TestStdlibGzipRoundTrip(t *testing.T) {
	vm := newStdlibVM(t)

	compressed, err := vm.gzipCompress([]value.Value{vm.str("compress me")})
	require.NoError(t, err)
	decompressed, err := vm.gzipDecompress(compressed)
	require.NoError(t, err)
	require.Equal(t, "compress me", decompressed[0].Object().(*value.OString).String())
}

func TestStdlibJSONRoundTrip(t *testing.T) {
	vm := newStdlibVM(t)

	generated, err := vm.jsonGenerate([]value.Value{vm.str("plain string")})
	require.NoError(t, err)
	parsed, err := vm.jsonParse(generated)
	require.NoError(t, err)
	require.Equal(t, "plain string", parsed[0].Object().(*value.OString).String())
}

func TestStdlibRegex(t *testing.T) {
	vm := newStdlibVM(t)

	matched, err := vm.regexMatch([]value.Value{vm.str("^sm"), vm.str("smog")})
	require.NoError(t, err)
	require.True(t, matched[0].AsBool())

	replaced, err := vm.regexReplace([]value.Value{vm.str("o+"), vm.str("smoog"), vm.str("0")})
	require.NoError(t, err)
	require.Equal(t, "sm0g", replaced[0].Object().(*value.OString).String())
}

func TestStdlibRandomIntRange(t *testing.T) {
	vm := newStdlibVM(t)

	for i := 0; i < 20; i++ {
		results, err := vm.randomInt([]value.Value{value.Int(5), value.Int(10)})
		require.NoError(t, err)
		n := results[0].AsInt()
		require.GreaterOrEqual(t, n, int64(5))
		require.LessOrEqual(t, n, int64(10))
	}
}

func TestStdlibRegisteredAsGlobal(t *testing.T) {
	vm := newStdlibVM(t)
	fn := vm.G.Globals().Get(vm.str("sha256"))
	require.False(t, fn.IsNil())
}
