package il

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	m := sampleModule(t)

	img, err := Encode(m, nil)
	require.NoError(t, err)

	got, err := Decode(img.Module, img.Symbols)
	require.NoError(t, err)

	assert.Equal(t, m.MVID, got.MVID)
	assert.Equal(t, m.Name, got.Name)
	assert.Equal(t, m.Assembly, got.Assembly)
	assert.Equal(t, m.Architecture, got.Architecture)
	assert.Equal(t, m.Attributes, got.Attributes)
	assert.Equal(t, m.CoreLibrary, got.CoreLibrary)
	require.Len(t, got.CustomAttributes, 1)
	assert.Equal(t, "System.Runtime.Versioning.TargetFrameworkAttribute", got.CustomAttributes[0].TypeName())
	assert.Equal(t, []any{".NETCoreApp,Version=v6.0"}, got.CustomAttributes[0].Args)

	require.Len(t, got.Types, 2)
	calc := got.Type("Sample.Calc")
	require.NotNil(t, calc)
	require.Len(t, calc.Methods, 3)
	assert.Same(t, calc, calc.Methods[0].DeclaringType())

	want := m.Types[0].Methods[0]
	classify := calc.Method("Classify")
	require.NotNil(t, classify)
	assert.Equal(t, texts(want.Body), texts(classify.Body))
	assert.Equal(t, want.Body.Locals, classify.Body.Locals)
	require.Len(t, classify.Body.Regions, 1)
	assert.Equal(t, want.Body.DescribeRegion(want.Body.Regions[0]), classify.Body.DescribeRegion(classify.Body.Regions[0]))

	require.True(t, classify.Debug.HasSequencePoints())
	assert.Equal(t, want.Debug.Visible(), classify.Debug.Visible())
	wantOffs, _ := want.Body.Layout()
	gotOffs, _ := classify.Body.Layout()
	for i, sp := range classify.Debug.SequencePoints {
		orig := want.Debug.SequencePoints[i]
		assert.Equal(t, wantOffs[orig.Instr], gotOffs[sp.Instr])
		assert.Equal(t, orig.StartLine, sp.StartLine)
		assert.Equal(t, orig.Document, sp.Document)
	}

	assert.Nil(t, calc.Method("Greet").Debug)
	assert.False(t, calc.Method("Native").HasBody())
	assert.Empty(t, got.Types[1].Methods)
}

func TestDecodeWithoutSymbols(t *testing.T) {
	img, err := Encode(sampleModule(t), nil)
	require.NoError(t, err)

	got, err := Decode(img.Module, nil)
	require.NoError(t, err)
	assert.Nil(t, got.Types[0].Methods[0].Debug)
}

func TestDecodeSymbolsMismatch(t *testing.T) {
	a := sampleModule(t)
	b := sampleModule(t)
	imgA, err := Encode(a, nil)
	require.NoError(t, err)
	imgB, err := Encode(b, nil)
	require.NoError(t, err)

	_, err = Decode(imgA.Module, imgB.Symbols)
	assert.ErrorIs(t, err, ErrSymbolsMismatch)
}

func TestDecodeDuplicateSequencePoint(t *testing.T) {
	m := sampleModule(t)
	md := m.Types[0].Methods[0]
	require.True(t, md.Debug.HasSequencePoints())
	dup := *md.Debug.SequencePoints[0]
	dup.StartLine += 100
	md.Debug.SequencePoints = append(md.Debug.SequencePoints, &dup)

	img, err := Encode(m, nil)
	require.NoError(t, err)
	_, err = Decode(img.Module, img.Symbols)
	assert.ErrorIs(t, err, ErrSymbolsMismatch)
	assert.ErrorContains(t, err, "two sequence points")
}

func TestDecodeInvalid(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{name: "Empty", data: nil, want: ErrInvalidMagic},
		{name: "BadMagic", data: []byte{'M', 'Z', 0x90, 0x00, 0x00, 0x00, 0x00, 0x00}, want: ErrInvalidMagic},
		{name: "BadVersion", data: []byte{'I', 'L', 'M', 'D', 0x09, 0x00, 0x00, 0x00, 0x00, 0x00}, want: ErrUnsupportedVersion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data, nil)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSignature(t *testing.T) {
	m := sampleModule(t)
	var signed []byte
	img, err := Encode(m, &EncodeOptions{Sign: func(content []byte) ([]byte, error) {
		signed = append([]byte(nil), content...)
		return []byte("signature"), nil
	}})
	require.NoError(t, err)

	content, sig, err := SplitSignature(img.Module)
	require.NoError(t, err)
	assert.Equal(t, signed, content)
	assert.Equal(t, []byte("signature"), sig)

	got, err := Decode(img.Module, img.Symbols)
	require.NoError(t, err)
	assert.Equal(t, []byte("signature"), got.Signature)
	assert.NotZero(t, got.Attributes&StrongNameSigned)

	// re-encoding without a signer drops the strong name flag
	img, err = Encode(got, nil)
	require.NoError(t, err)
	got, err = Decode(img.Module, nil)
	require.NoError(t, err)
	assert.Nil(t, got.Signature)
	assert.Zero(t, got.Attributes&StrongNameSigned)

	_, err = Encode(m, &EncodeOptions{Sign: func([]byte) ([]byte, error) { return nil, errors.New("no key") }})
	assert.ErrorContains(t, err, "no key")
}

func TestEncodeDeterministic(t *testing.T) {
	m := sampleModule(t)
	a, err := Encode(m, nil)
	require.NoError(t, err)
	b, err := Encode(m, nil)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(a.Module, b.Module))
	assert.True(t, bytes.Equal(a.Symbols, b.Symbols))
}

func TestReadMVID(t *testing.T) {
	m := sampleModule(t)
	img, err := Encode(m, nil)
	require.NoError(t, err)

	for _, data := range [][]byte{img.Module, img.Symbols} {
		id, err := ReadMVID(data)
		require.NoError(t, err)
		assert.Equal(t, m.MVID, id)
	}
	_, err = ReadMVID([]byte("short"))
	assert.ErrorIs(t, err, ErrInvalidMagic)
}

func TestOpen(t *testing.T) {
	fs := afero.NewMemMapFs()
	m := sampleModule(t)
	img, err := Encode(m, nil)
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fs, "/app/Sample.dll", img.Module, 0o644))

	got, err := Open(fs, "/app/Sample.dll")
	require.NoError(t, err)
	assert.Nil(t, got.Types[0].Methods[0].Debug)

	require.NoError(t, afero.WriteFile(fs, SymbolsPath("/app/Sample.dll"), img.Symbols, 0o644))
	got, err = Open(fs, "/app/Sample.dll")
	require.NoError(t, err)
	assert.True(t, got.Types[0].Methods[0].Debug.HasSequencePoints())

	_, err = Open(fs, "/app/Missing.dll")
	assert.Error(t, err)
	assert.NotEqual(t, uuid.Nil, got.MVID)
}

func TestSymbolsPath(t *testing.T) {
	assert.Equal(t, "/a/b/App.pdb", SymbolsPath("/a/b/App.dll"))
	assert.Equal(t, "App.Core.pdb", SymbolsPath("App.Core.dll"))
}
